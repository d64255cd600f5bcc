package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

// ErrNotFound is returned when a row addressed by the caller does not exist
// or is not owned by the given chat.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// --- Users ---

type User struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertUser registers a chat on first contact and refreshes its username.
func (s *Store) UpsertUser(ctx context.Context, chatID int64, username string) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (chat_id, username) VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE SET username = EXCLUDED.username, updated_at = now()
		RETURNING id, chat_id, username, created_at`, chatID, username).
		Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", chatID, err)
	}
	return &u, nil
}

func (s *Store) GetUserByChatID(ctx context.Context, chatID int64) (*User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		SELECT id, chat_id, username, created_at FROM users WHERE chat_id = $1`, chatID).
		Scan(&u.ID, &u.ChatID, &u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", chatID, err)
	}
	return &u, nil
}

// CountUsers returns the number of registered chats.
func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// --- Wallets ---

type Wallet struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Address   string    `json:"address"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) ListWallets(ctx context.Context, chatID int64) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT w.id, w.user_id, w.address, w.position, w.created_at
		FROM wallets w
		JOIN users u ON u.id = w.user_id
		WHERE u.chat_id = $1
		ORDER BY w.position, w.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		var w Wallet
		if err := rows.Scan(&w.ID, &w.UserID, &w.Address, &w.Position, &w.CreatedAt); err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// AddWallet appends address to the chat's saved wallets. Adding a wallet
// that is already saved returns the existing row.
func (s *Store) AddWallet(ctx context.Context, chatID int64, address string) (*Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (user_id, address, position)
		SELECT u.id, $2, COALESCE((SELECT MAX(position) + 1 FROM wallets WHERE user_id = u.id), 0)
		FROM users u WHERE u.chat_id = $1
		ON CONFLICT (user_id, address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, user_id, address, position, created_at`, chatID, address).
		Scan(&w.ID, &w.UserID, &w.Address, &w.Position, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("add wallet: %w", err)
	}
	return &w, nil
}

func (s *Store) RemoveWallet(ctx context.Context, chatID int64, address string) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM wallets
		WHERE address = $2 AND user_id = (SELECT id FROM users WHERE chat_id = $1)`, chatID, address)
	if err != nil {
		return fmt.Errorf("remove wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Alerts ---

const alertColumns = `a.id, a.user_id, u.chat_id, a.kind, a.condition, a.label, a.enabled, a.last_triggered_at, a.created_at, a.updated_at`

// scanAlert decodes one alerts row. A condition that cannot be decoded is
// left nil; alert.Validate rejects it downstream.
func scanAlert(row pgx.Row) (alert.Alert, error) {
	var (
		a    alert.Alert
		kind string
		raw  []byte
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.ChatID, &kind, &raw, &a.Label, &a.Enabled, &a.LastTriggeredAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return a, err
	}
	a.Kind = alert.Kind(kind)
	if c, err := alert.UnmarshalCondition(a.Kind, raw); err == nil {
		a.Condition = c
	}
	return a, nil
}

func (s *Store) queryAlerts(ctx context.Context, sql string, args ...any) ([]alert.Alert, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []alert.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// CreateAlert validates and inserts a for the chat in a.ChatID, filling in
// the generated fields.
func (s *Store) CreateAlert(ctx context.Context, a *alert.Alert) error {
	if err := alert.Validate(*a); err != nil {
		return err
	}
	raw, err := alert.MarshalCondition(a.Condition)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO alerts (user_id, kind, condition, label, enabled)
		SELECT u.id, $2, $3, $4, $5 FROM users u WHERE u.chat_id = $1
		RETURNING id, user_id, created_at, updated_at`,
		a.ChatID, string(a.Kind), raw, a.Label, a.Enabled).
		Scan(&a.ID, &a.UserID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, chatID int64) ([]alert.Alert, error) {
	alerts, err := s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a
		JOIN users u ON u.id = a.user_id
		WHERE u.chat_id = $1
		ORDER BY a.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

func (s *Store) GetAlert(ctx context.Context, chatID, id int64) (*alert.Alert, error) {
	a, err := scanAlert(s.pool.QueryRow(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a
		JOIN users u ON u.id = a.user_id
		WHERE u.chat_id = $1 AND a.id = $2`, chatID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert %d: %w", id, err)
	}
	return &a, nil
}

func (s *Store) DeleteAlert(ctx context.Context, chatID, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM alerts
		WHERE id = $2 AND user_id = (SELECT id FROM users WHERE chat_id = $1)`, chatID, id)
	if err != nil {
		return fmt.Errorf("delete alert %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAlertEnabled pauses or resumes an alert owned by chatID.
func (s *Store) SetAlertEnabled(ctx context.Context, chatID, id int64, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE alerts SET enabled = $3, updated_at = now()
		WHERE id = $2 AND user_id = (SELECT id FROM users WHERE chat_id = $1)`, chatID, id, enabled)
	if err != nil {
		return fmt.Errorf("set alert %d enabled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindEnabled returns every enabled alert with its owner's chat id.
func (s *Store) FindEnabled(ctx context.Context) ([]alert.Alert, error) {
	alerts, err := s.queryAlerts(ctx, `
		SELECT `+alertColumns+`
		FROM alerts a
		JOIN users u ON u.id = a.user_id
		WHERE a.enabled
		ORDER BY a.id`)
	if err != nil {
		return nil, fmt.Errorf("find enabled alerts: %w", err)
	}
	return alerts, nil
}

// MarkTriggered records the delivery time of an alert. Writing the same
// timestamp twice leaves the row unchanged.
func (s *Store) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE alerts SET last_triggered_at = $2, updated_at = now() WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark alert %d triggered: %w", id, err)
	}
	return nil
}

func (s *Store) CountEnabledAlerts(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM alerts WHERE enabled`).Scan(&count)
	return count, err
}
