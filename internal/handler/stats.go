package handler

import (
	"context"
	"net/http"

	"github.com/web3-frozen/onchain-alerts/internal/metrics"
)

type Counter interface {
	CountUsers(ctx context.Context) (int, error)
	CountEnabledAlerts(ctx context.Context) (int, error)
}

// Stats reports registered chats and enabled alerts.
func Stats(c Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := c.CountUsers(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to count users"}`, http.StatusInternalServerError)
			return
		}
		enabled, err := c.CountEnabledAlerts(r.Context())
		if err != nil {
			http.Error(w, `{"error":"failed to count alerts"}`, http.StatusInternalServerError)
			return
		}
		metrics.TelegramUsers.Set(float64(users))

		writeJSON(w, http.StatusOK, map[string]int{
			"users":          users,
			"enabled_alerts": enabled,
		})
	}
}
