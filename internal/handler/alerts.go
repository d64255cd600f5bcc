package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/store"
)

// AlertStore is the alert persistence the API needs. *store.Store satisfies it.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *alert.Alert) error
	ListAlerts(ctx context.Context, chatID int64) ([]alert.Alert, error)
	DeleteAlert(ctx context.Context, chatID, id int64) error
	SetAlertEnabled(ctx context.Context, chatID, id int64, enabled bool) error
}

// Forgetter drops the delivery record of an alert. *dedup.Ledger satisfies it.
type Forgetter interface {
	Clear(ctx context.Context, alertID int64)
}

func ListAlerts(s AlertStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		alerts, err := s.ListAlerts(r.Context(), chatID)
		if err != nil {
			http.Error(w, `{"error":"failed to list alerts"}`, http.StatusInternalServerError)
			return
		}
		if alerts == nil {
			alerts = []alert.Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

func CreateAlert(s AlertStore) http.HandlerFunc {
	type request struct {
		ChatID    int64           `json:"chat_id"`
		Kind      alert.Kind      `json:"kind"`
		Condition json.RawMessage `json:"condition"`
		Label     string          `json:"label"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ChatID == 0 || req.Kind == "" || len(req.Condition) == 0 {
			http.Error(w, `{"error":"chat_id, kind and condition required"}`, http.StatusBadRequest)
			return
		}

		cond, err := alert.UnmarshalCondition(req.Kind, req.Condition)
		if err != nil {
			http.Error(w, `{"error":"invalid condition"}`, http.StatusBadRequest)
			return
		}
		a := &alert.Alert{
			ChatID:    req.ChatID,
			Kind:      req.Kind,
			Condition: cond,
			Label:     req.Label,
			Enabled:   true,
		}
		if err := alert.Validate(*a); err != nil {
			http.Error(w, `{"error":"invalid condition"}`, http.StatusBadRequest)
			return
		}

		if err := s.CreateAlert(r.Context(), a); err != nil {
			switch {
			case errors.Is(err, store.ErrNotFound):
				http.Error(w, `{"error":"unknown chat"}`, http.StatusNotFound)
			case errors.Is(err, alert.ErrMalformed):
				http.Error(w, `{"error":"invalid condition"}`, http.StatusBadRequest)
			default:
				http.Error(w, `{"error":"failed to create alert"}`, http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

// DeleteAlert removes an alert owned by chat_id. l may be nil.
func DeleteAlert(s AlertStore, l Forgetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := alertIDParam(w, r)
		if !ok {
			return
		}
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}

		if err := s.DeleteAlert(r.Context(), chatID, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"alert not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to delete alert"}`, http.StatusInternalServerError)
			return
		}
		if l != nil {
			l.Clear(r.Context(), id)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SetAlertEnabled pauses or resumes an alert. Resuming clears its delivery
// record so the next pass may notify again.
func SetAlertEnabled(s AlertStore, l Forgetter) http.HandlerFunc {
	type request struct {
		ChatID  int64 `json:"chat_id"`
		Enabled *bool `json:"enabled"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := alertIDParam(w, r)
		if !ok {
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ChatID == 0 || req.Enabled == nil {
			http.Error(w, `{"error":"chat_id and enabled required"}`, http.StatusBadRequest)
			return
		}

		if err := s.SetAlertEnabled(r.Context(), req.ChatID, id, *req.Enabled); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"alert not found"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to update alert"}`, http.StatusInternalServerError)
			return
		}
		if *req.Enabled && l != nil {
			l.Clear(r.Context(), id)
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": *req.Enabled})
	}
}
