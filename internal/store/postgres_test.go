package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

// testStore connects to TEST_DATABASE_URL and skips when it is unset.
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func uniqueChatID() int64 { return time.Now().UnixNano() }

func TestUserAndWallets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	chatID := uniqueChatID()

	if _, err := s.GetUserByChatID(ctx, chatID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetUserByChatID before upsert: %v, want ErrNotFound", err)
	}
	if _, err := s.AddWallet(ctx, chatID, "W1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("AddWallet for unknown chat: %v, want ErrNotFound", err)
	}

	u, err := s.UpsertUser(ctx, chatID, "alice")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if again, err := s.UpsertUser(ctx, chatID, "alice2"); err != nil || again.ID != u.ID || again.Username != "alice2" {
		t.Fatalf("second UpsertUser = %+v, %v", again, err)
	}

	if _, err := s.AddWallet(ctx, chatID, "W1"); err != nil {
		t.Fatalf("AddWallet W1: %v", err)
	}
	w2, err := s.AddWallet(ctx, chatID, "W2")
	if err != nil {
		t.Fatalf("AddWallet W2: %v", err)
	}
	if w2.Position != 1 {
		t.Errorf("W2 position = %d, want 1", w2.Position)
	}
	if dup, err := s.AddWallet(ctx, chatID, "W1"); err != nil || dup.Position != 0 {
		t.Errorf("duplicate AddWallet = %+v, %v", dup, err)
	}

	wallets, err := s.ListWallets(ctx, chatID)
	if err != nil || len(wallets) != 2 || wallets[0].Address != "W1" {
		t.Fatalf("ListWallets = %+v, %v", wallets, err)
	}
	if err := s.RemoveWallet(ctx, chatID, "W1"); err != nil {
		t.Fatalf("RemoveWallet: %v", err)
	}
	if err := s.RemoveWallet(ctx, chatID, "W1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveWallet: %v, want ErrNotFound", err)
	}
}

func TestAlertLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	chatID := uniqueChatID()
	if _, err := s.UpsertUser(ctx, chatID, "bob"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	a := &alert.Alert{
		ChatID:  chatID,
		Kind:    alert.KindPrice,
		Enabled: true,
		Label:   "bonk",
		Condition: alert.PriceCondition{
			Rule:      alert.Rule{Threshold: 0.5, Operator: alert.GreaterThan},
			AssetMint: "BONK",
		},
	}
	if err := s.CreateAlert(ctx, a); err != nil {
		t.Fatalf("CreateAlert: %v", err)
	}
	if a.ID == 0 || a.UserID == 0 {
		t.Fatalf("CreateAlert did not fill ids: %+v", a)
	}

	bad := &alert.Alert{ChatID: chatID, Kind: alert.KindTVL, Enabled: true, Condition: alert.PriceCondition{AssetMint: "X"}}
	if err := s.CreateAlert(ctx, bad); !errors.Is(err, alert.ErrMalformed) {
		t.Errorf("CreateAlert(mismatched) = %v, want ErrMalformed", err)
	}

	got, err := s.GetAlert(ctx, chatID, a.ID)
	if err != nil {
		t.Fatalf("GetAlert: %v", err)
	}
	pc, ok := got.Condition.(alert.PriceCondition)
	if !ok || pc.AssetMint != "BONK" || pc.Threshold != 0.5 {
		t.Errorf("round-tripped condition = %#v", got.Condition)
	}
	if got.LastTriggeredAt != nil {
		t.Error("new alert should not have a last triggered time")
	}

	at := time.Now().UTC().Truncate(time.Microsecond)
	if err := s.MarkTriggered(ctx, a.ID, at); err != nil {
		t.Fatalf("MarkTriggered: %v", err)
	}
	if err := s.MarkTriggered(ctx, a.ID, at); err != nil {
		t.Fatalf("MarkTriggered again: %v", err)
	}

	enabled, err := s.FindEnabled(ctx)
	if err != nil {
		t.Fatalf("FindEnabled: %v", err)
	}
	var found *alert.Alert
	for i := range enabled {
		if enabled[i].ID == a.ID {
			found = &enabled[i]
		}
	}
	if found == nil {
		t.Fatal("FindEnabled did not return the alert")
	}
	if found.ChatID != chatID || found.LastTriggeredAt == nil || !found.LastTriggeredAt.Equal(at) {
		t.Errorf("found = %+v", found)
	}

	if err := s.SetAlertEnabled(ctx, chatID, a.ID, false); err != nil {
		t.Fatalf("SetAlertEnabled: %v", err)
	}
	if err := s.SetAlertEnabled(ctx, chatID+1, a.ID, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAlertEnabled by another chat = %v, want ErrNotFound", err)
	}
	if err := s.DeleteAlert(ctx, chatID, a.ID); err != nil {
		t.Fatalf("DeleteAlert: %v", err)
	}
	if _, err := s.GetAlert(ctx, chatID, a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetAlert after delete = %v, want ErrNotFound", err)
	}
}

func TestFindEnabledKeepsUndecodableRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	chatID := uniqueChatID()
	u, err := s.UpsertUser(ctx, chatID, "carol")
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO alerts (user_id, kind, condition) VALUES ($1, 'price', '"not an object"') RETURNING id`, u.ID).Scan(&id)
	if err != nil {
		t.Fatalf("insert raw alert: %v", err)
	}
	t.Cleanup(func() { _ = s.DeleteAlert(ctx, chatID, id) })

	alerts, err := s.FindEnabled(ctx)
	if err != nil {
		t.Fatalf("FindEnabled: %v", err)
	}
	for _, a := range alerts {
		if a.ID == id {
			if a.Condition != nil {
				t.Errorf("undecodable condition = %#v, want nil", a.Condition)
			}
			return
		}
	}
	t.Fatal("undecodable alert missing from FindEnabled")
}
