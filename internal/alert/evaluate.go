package alert

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformed marks an alert whose condition cannot be evaluated.
var ErrMalformed = errors.New("malformed alert")

// Evaluate reports whether current satisfies the condition's rule.
// Both operators are strict: a value equal to the threshold never fires.
func Evaluate(c Condition, current float64) bool {
	if c == nil {
		return false
	}
	r := c.TriggerRule()
	switch r.Operator {
	case GreaterThan:
		return current > r.Threshold
	case LessThan:
		return current < r.Threshold
	}
	return false
}

// ResourceKey returns the external lookup key an alert is batched under.
func ResourceKey(c Condition) (string, error) {
	var key string
	switch v := c.(type) {
	case PriceCondition:
		key = v.AssetMint
	case BalanceCondition:
		if strings.TrimSpace(v.AssetMint) == "" {
			return "", fmt.Errorf("balance condition without asset: %w", ErrMalformed)
		}
		key = v.WalletAddress
	case TVLCondition:
		key = v.ProgramID
	case ActiveUsersCondition:
		key = v.ProgramID
	case nil:
		return "", fmt.Errorf("missing condition: %w", ErrMalformed)
	default:
		return "", fmt.Errorf("unsupported condition %T: %w", c, ErrMalformed)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("empty %s resource key: %w", c.Kind(), ErrMalformed)
	}
	return key, nil
}

// Validate checks that an alert can be evaluated: the condition variant
// matches the kind, the rule is well formed and the resource key is present.
func Validate(a Alert) error {
	if a.Condition == nil {
		return fmt.Errorf("alert %d: missing condition: %w", a.ID, ErrMalformed)
	}
	if a.Condition.Kind() != a.Kind {
		return fmt.Errorf("alert %d: %s condition on %s alert: %w", a.ID, a.Condition.Kind(), a.Kind, ErrMalformed)
	}
	r := a.Condition.TriggerRule()
	if !r.Operator.Valid() {
		return fmt.Errorf("alert %d: unknown operator %q: %w", a.ID, r.Operator, ErrMalformed)
	}
	if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
		return fmt.Errorf("alert %d: threshold not finite: %w", a.ID, ErrMalformed)
	}
	if au, ok := a.Condition.(ActiveUsersCondition); ok && !ValidTimeframe(au.Window()) {
		return fmt.Errorf("alert %d: unknown timeframe %q: %w", a.ID, au.Timeframe, ErrMalformed)
	}
	if _, err := ResourceKey(a.Condition); err != nil {
		return fmt.Errorf("alert %d: %w", a.ID, err)
	}
	return nil
}
