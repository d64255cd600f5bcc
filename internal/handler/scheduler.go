package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/web3-frozen/onchain-alerts/internal/monitor"
)

// Scheduler is the part of *monitor.Scheduler exposed over HTTP.
type Scheduler interface {
	Started() bool
	InFlight() bool
	LastSummary() (monitor.Summary, bool)
	RunOnce(ctx context.Context) (monitor.Summary, error)
}

func SchedulerStatus(s Scheduler) http.HandlerFunc {
	type response struct {
		Running  bool             `json:"running"`
		InFlight bool             `json:"in_flight"`
		Last     *monitor.Summary `json:"last_pass"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		resp := response{Running: s.Started(), InFlight: s.InFlight()}
		if sum, ok := s.LastSummary(); ok {
			resp.Last = &sum
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RunScheduler runs one evaluation pass synchronously and returns its summary.
// The pass outlives the request: a client hanging up does not cut it short.
func RunScheduler(s Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := s.RunOnce(context.WithoutCancel(r.Context()))
		switch {
		case errors.Is(err, monitor.ErrPassInFlight):
			http.Error(w, `{"error":"a pass is already running"}`, http.StatusConflict)
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, sum)
		default:
			writeJSON(w, http.StatusOK, sum)
		}
	}
}
