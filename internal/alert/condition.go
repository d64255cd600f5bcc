package alert

import (
	"time"
)

// Kind identifies what an alert watches.
type Kind string

const (
	KindPrice       Kind = "price"
	KindBalance     Kind = "balance"
	KindTVL         Kind = "tvl"
	KindActiveUsers Kind = "active_users"
)

// Kinds lists every alert kind in evaluation order.
var Kinds = []Kind{KindPrice, KindBalance, KindTVL, KindActiveUsers}

func (k Kind) Valid() bool {
	switch k {
	case KindPrice, KindBalance, KindTVL, KindActiveUsers:
		return true
	}
	return false
}

// Title is the human-readable kind name used in chat messages.
func (k Kind) Title() string {
	switch k {
	case KindPrice:
		return "Price"
	case KindBalance:
		return "Balance"
	case KindTVL:
		return "TVL"
	case KindActiveUsers:
		return "Active users"
	}
	return string(k)
}

// Operator is the comparison applied between the live value and the threshold.
type Operator string

const (
	GreaterThan Operator = "gt"
	LessThan    Operator = "lt"
)

func (o Operator) Valid() bool {
	return o == GreaterThan || o == LessThan
}

// Phrase renders the operator the way notifications read it.
func (o Operator) Phrase() string {
	switch o {
	case GreaterThan:
		return "above"
	case LessThan:
		return "below"
	}
	return string(o)
}

const (
	// NativeAsset is the asset key for the chain's native coin balance.
	NativeAsset = "SOL"

	DefaultTimeframe = "24h"
)

var timeframes = map[string]bool{"1h": true, "24h": true, "7d": true, "30d": true}

// ValidTimeframe reports whether tf is an accepted active-users window.
func ValidTimeframe(tf string) bool { return timeframes[tf] }

// Rule is the trigger rule shared by every condition variant.
type Rule struct {
	Threshold float64  `json:"threshold"`
	Operator  Operator `json:"operator"`
}

// TriggerRule returns the rule itself; it is promoted into every variant.
func (r Rule) TriggerRule() Rule { return r }

// Condition is the closed set of alert payloads. The only implementations
// are the four variants below.
type Condition interface {
	Kind() Kind
	TriggerRule() Rule
	sealed()
}

type PriceCondition struct {
	Rule
	AssetMint string `json:"assetMint"`
	QuoteMint string `json:"quoteMint,omitempty"`
	MarketID  string `json:"marketId,omitempty"`
}

type BalanceCondition struct {
	Rule
	WalletAddress string `json:"walletAddress"`
	// AssetMint may be NativeAsset instead of a mint address.
	AssetMint string `json:"assetMint"`
}

type TVLCondition struct {
	Rule
	ProgramID string `json:"programId"`
}

type ActiveUsersCondition struct {
	Rule
	ProgramID string `json:"programId"`
	Timeframe string `json:"timeframe,omitempty"`
}

func (PriceCondition) Kind() Kind       { return KindPrice }
func (BalanceCondition) Kind() Kind     { return KindBalance }
func (TVLCondition) Kind() Kind         { return KindTVL }
func (ActiveUsersCondition) Kind() Kind { return KindActiveUsers }

func (PriceCondition) sealed()       {}
func (BalanceCondition) sealed()     {}
func (TVLCondition) sealed()         {}
func (ActiveUsersCondition) sealed() {}

// Window returns the configured timeframe or the default.
func (c ActiveUsersCondition) Window() string {
	if c.Timeframe == "" {
		return DefaultTimeframe
	}
	return c.Timeframe
}

// Alert is a persisted alert subscription.
type Alert struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	ChatID          int64      `json:"chat_id"`
	Kind            Kind       `json:"kind"`
	Condition       Condition  `json:"condition"`
	Label           string     `json:"label,omitempty"`
	Enabled         bool       `json:"enabled"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TriggerEvent is handed from evaluation to the notifier and discarded after
// the delivery attempt.
type TriggerEvent struct {
	AlertID   int64
	Kind      Kind
	Current   float64
	Threshold float64
	Operator  Operator
	Condition Condition
	Label     string
	At        time.Time
}

func NewTriggerEvent(a Alert, current float64, at time.Time) TriggerEvent {
	r := a.Condition.TriggerRule()
	return TriggerEvent{
		AlertID:   a.ID,
		Kind:      a.Kind,
		Current:   current,
		Threshold: r.Threshold,
		Operator:  r.Operator,
		Condition: a.Condition,
		Label:     a.Label,
		At:        at,
	}
}
