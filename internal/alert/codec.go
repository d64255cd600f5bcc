package alert

import (
	"encoding/json"
	"fmt"
)

// MarshalCondition encodes a condition payload for storage. The kind is
// stored separately and is not part of the payload.
func MarshalCondition(c Condition) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("marshal condition: %w", ErrMalformed)
	}
	return json.Marshal(c)
}

// UnmarshalCondition decodes a stored payload into the variant named by kind.
func UnmarshalCondition(kind Kind, data []byte) (Condition, error) {
	var (
		c   Condition
		err error
	)
	switch kind {
	case KindPrice:
		var v PriceCondition
		err = json.Unmarshal(data, &v)
		c = v
	case KindBalance:
		var v BalanceCondition
		err = json.Unmarshal(data, &v)
		c = v
	case KindTVL:
		var v TVLCondition
		err = json.Unmarshal(data, &v)
		c = v
	case KindActiveUsers:
		var v ActiveUsersCondition
		err = json.Unmarshal(data, &v)
		c = v
	default:
		return nil, fmt.Errorf("unknown kind %q: %w", kind, ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s condition: %w: %v", kind, ErrMalformed, err)
	}
	return c, nil
}
