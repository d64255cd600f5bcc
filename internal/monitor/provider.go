package monitor

import (
	"context"
	"time"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

// Provider answers point queries for the live metric each alert kind watches.
// Implementations enforce their own timeouts; any error is treated as the
// resource being unavailable for this pass.
type Provider interface {
	Price(ctx context.Context, mint string) (float64, error)
	Balance(ctx context.Context, wallet, asset string) (float64, error)
	TVL(ctx context.Context, programID string) (float64, error)
	ActiveUsers(ctx context.Context, programID, timeframe string) (float64, error)
}

// WalletBalances is implemented by providers that can return every balance
// of a wallet in one call. The scheduler uses it to serve a whole balance
// group with a single fetch.
type WalletBalances interface {
	Balances(ctx context.Context, wallet string) (map[string]float64, error)
}

// Repository is the alert store as seen by the scheduler.
type Repository interface {
	FindEnabled(ctx context.Context) ([]alert.Alert, error)
	MarkTriggered(ctx context.Context, alertID int64, at time.Time) error
}

// Sink delivers rendered text to a chat.
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Ledger records deliveries independently of the repository so that a
// failed MarkTriggered write does not lead to a duplicate notification.
type Ledger interface {
	Recent(ctx context.Context, alertID int64) bool
	Record(ctx context.Context, alertID int64, ttl time.Duration)
}
