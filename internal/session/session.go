package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle conversation is kept.
const DefaultTTL = 10 * time.Minute

// ErrNoSession is returned when a chat has no conversation in progress or
// it expired.
var ErrNoSession = errors.New("no session")

// State is the persisted position of one chat in a multi-step dialog plus
// the values collected so far. The dialog logic lives with the chat layer;
// this package only stores it.
type State struct {
	Flow      string  `json:"flow"`
	Step      string  `json:"step"`
	Kind      string  `json:"kind,omitempty"`
	AssetMint string  `json:"asset_mint,omitempty"`
	Wallet    string  `json:"wallet,omitempty"`
	ProgramID string  `json:"program_id,omitempty"`
	Timeframe string  `json:"timeframe,omitempty"`
	Operator  string  `json:"operator,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Label     string  `json:"label,omitempty"`
}

// Store keeps one State per chat in Redis. Every Save refreshes the TTL.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func key(chatID int64) string {
	return fmt.Sprintf("session:%d", chatID)
}

func (s *Store) Get(ctx context.Context, chatID int64) (*State, error) {
	raw, err := s.rdb.Get(ctx, key(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", chatID, err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt entry is as good as none; drop it.
		s.rdb.Del(ctx, key(chatID)) //nolint:errcheck
		return nil, ErrNoSession
	}
	return &st, nil
}

func (s *Store) Save(ctx context.Context, chatID int64, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, key(chatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session %d: %w", chatID, err)
	}
	return nil
}

// Clear ends the conversation for chatID. Clearing an absent session is not
// an error.
func (s *Store) Clear(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("clear session %d: %w", chatID, err)
	}
	return nil
}
