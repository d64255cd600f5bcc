package monitor

import (
	"context"
	"log/slog"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/metrics"
)

// Notifier renders trigger events and hands them to the chat sink. It never
// propagates a delivery failure; callers only learn whether it succeeded.
type Notifier struct {
	sink   Sink
	logger *slog.Logger
}

func NewNotifier(sink Sink, logger *slog.Logger) *Notifier {
	return &Notifier{sink: sink, logger: logger}
}

// Notify delivers one trigger event to chatID and reports success.
func (n *Notifier) Notify(ctx context.Context, ev alert.TriggerEvent, chatID int64) (ok bool) {
	kind := string(ev.Kind)
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification sink panicked", "alert_id", ev.AlertID, "chat_id", chatID, "panic", r)
			metrics.AlertsFailedTotal.WithLabelValues(kind).Inc()
			ok = false
		}
	}()

	if err := n.sink.Send(ctx, chatID, Render(ev)); err != nil {
		n.logger.Warn("send alert failed", "alert_id", ev.AlertID, "chat_id", chatID, "kind", kind, "error", err)
		metrics.AlertsFailedTotal.WithLabelValues(kind).Inc()
		return false
	}
	metrics.AlertsSentTotal.WithLabelValues(kind).Inc()
	n.logger.Info("alert sent", "alert_id", ev.AlertID, "chat_id", chatID, "kind", kind, "value", ev.Current)
	return true
}
