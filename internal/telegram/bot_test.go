package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/analytics"
	"github.com/web3-frozen/onchain-alerts/internal/session"
	"github.com/web3-frozen/onchain-alerts/internal/store"
)

// --- fakes ---

type fakeSender struct {
	mu        sync.Mutex
	sent      []tgbotapi.MessageConfig
	callbacks []string
	err       error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		f.callbacks = append(f.callbacks, cb.CallbackQueryID)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no message sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeStore struct {
	mu      sync.Mutex
	users   map[int64]string
	wallets map[int64][]store.Wallet
	alerts  []alert.Alert
	enabled map[int64]bool
	nextID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[int64]string{}, wallets: map[int64][]store.Wallet{}, enabled: map[int64]bool{}}
}

func (s *fakeStore) UpsertUser(_ context.Context, chatID int64, username string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[chatID] = username
	return &store.User{ID: chatID, ChatID: chatID, Username: username}, nil
}

func (s *fakeStore) ListWallets(_ context.Context, chatID int64) ([]store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[chatID], nil
}

func (s *fakeStore) AddWallet(_ context.Context, chatID int64, address string) (*store.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := store.Wallet{Address: address, Position: len(s.wallets[chatID])}
	s.wallets[chatID] = append(s.wallets[chatID], w)
	return &w, nil
}

func (s *fakeStore) RemoveWallet(_ context.Context, chatID int64, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.wallets[chatID] {
		if w.Address == address {
			s.wallets[chatID] = append(s.wallets[chatID][:i], s.wallets[chatID][i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *fakeStore) CreateAlert(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	s.alerts = append(s.alerts, *a)
	return nil
}

func (s *fakeStore) ListAlerts(_ context.Context, chatID int64) ([]alert.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alert.Alert
	for _, a := range s.alerts {
		if a.ChatID == chatID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeStore) find(chatID, id int64) int {
	for i, a := range s.alerts {
		if a.ID == id && a.ChatID == chatID {
			return i
		}
	}
	return -1
}

func (s *fakeStore) DeleteAlert(_ context.Context, chatID, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(chatID, id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
	return nil
}

func (s *fakeStore) SetAlertEnabled(_ context.Context, chatID, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(chatID, id)
	if i < 0 {
		return store.ErrNotFound
	}
	s.alerts[i].Enabled = enabled
	s.enabled[id] = enabled
	return nil
}

type fakeAnalytics struct {
	price float64
	err   error
}

func (f *fakeAnalytics) TokenInfo(_ context.Context, mint string) (*analytics.TokenInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analytics.TokenInfo{Mint: mint, Symbol: "BONK", Name: "Bonk", Price: f.price, Change24h: -3.5, MarketCap: 1.5e9}, nil
}

func (f *fakeAnalytics) Price(context.Context, string) (float64, error) { return f.price, f.err }

func (f *fakeAnalytics) Balance(context.Context, string, string) (float64, error) { return 12.5, f.err }

func (f *fakeAnalytics) TVL(context.Context, string) (float64, error) { return 2.5e6, f.err }

func (f *fakeAnalytics) ActiveUsers(context.Context, string, string) (float64, error) {
	return 321, f.err
}

type fakeLedger struct{ cleared []int64 }

func (l *fakeLedger) Clear(_ context.Context, id int64) { l.cleared = append(l.cleared, id) }

// --- helpers ---

const chat = int64(42)

type testBot struct {
	*Bot
	api      *fakeSender
	store    *fakeStore
	data     *fakeAnalytics
	sessions *session.Store
	ledger   *fakeLedger
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tb := &testBot{
		api:      &fakeSender{},
		store:    newFakeStore(),
		data:     &fakeAnalytics{price: 0.0000234},
		sessions: session.New(rdb, time.Minute),
		ledger:   &fakeLedger{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tb.Bot = newBot(tb.api, tb.store, tb.data, tb.sessions, logger).WithLedger(tb.ledger)
	return tb
}

func command(text string) tgbotapi.Update {
	cmd := strings.SplitN(text, " ", 2)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chat},
		From:     &tgbotapi.User{UserName: "tester"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}}
}

func text(s string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Text: s, Chat: &tgbotapi.Chat{ID: chat}}}
}

var callbackSeq int

func callback(data string) tgbotapi.Update {
	callbackSeq++
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      fmt.Sprintf("cb%d", callbackSeq),
		Data:    data,
		From:    &tgbotapi.User{UserName: "tester"},
		Message: &tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: chat}},
	}}
}

func (tb *testBot) send(t *testing.T, u tgbotapi.Update) string {
	t.Helper()
	tb.HandleUpdate(context.Background(), u)
	return tb.api.last(t).Text
}

func (tb *testBot) step(t *testing.T) string {
	t.Helper()
	st, err := tb.sessions.Get(context.Background(), chat)
	if errors.Is(err, session.ErrNoSession) {
		return ""
	}
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return st.Step
}

func assertContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply %q does not contain %q", got, want)
	}
}

// --- tests ---

func TestNewPriceAlertDialog(t *testing.T) {
	tb := newTestBot(t)

	tb.send(t, command("/newalert"))
	msg := tb.api.last(t)
	if _, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); !ok {
		t.Fatalf("kind prompt has no inline keyboard: %#v", msg.ReplyMarkup)
	}
	if tb.step(t) != stepKind {
		t.Fatalf("step = %q, want kind", tb.step(t))
	}

	assertContains(t, tb.send(t, callback("kind:price")), "mint address")
	assertContains(t, tb.send(t, text("bonk")), "valid address")
	if tb.step(t) != stepMint {
		t.Errorf("bad input should keep the step, got %q", tb.step(t))
	}
	tb.send(t, text(bonkMint))
	tb.send(t, callback("op:gt"))
	assertContains(t, tb.send(t, text("0.00003")), "label")
	reply := tb.send(t, callback("label:skip"))

	assertContains(t, reply, "Alert created")
	if len(tb.store.alerts) != 1 {
		t.Fatalf("created %d alerts, want 1", len(tb.store.alerts))
	}
	a := tb.store.alerts[0]
	c, ok := a.Condition.(alert.PriceCondition)
	if !ok || c.AssetMint != bonkMint || c.Threshold != 0.00003 || a.ChatID != chat {
		t.Errorf("alert = %#v", a)
	}
	if tb.step(t) != "" {
		t.Error("session should be cleared after creation")
	}
	if len(tb.api.callbacks) != 3 {
		t.Errorf("answered %d callbacks, want 3", len(tb.api.callbacks))
	}
}

func TestBalanceDialogUsesSavedWallet(t *testing.T) {
	tb := newTestBot(t)

	tb.send(t, command("/newalert"))
	assertContains(t, tb.send(t, callback("kind:balance")), "/addwallet")
	if tb.step(t) != "" {
		t.Error("dialog should end when no wallets are saved")
	}

	tb.send(t, command("/addwallet "+wallet1))
	tb.send(t, command("/newalert"))
	assertContains(t, tb.send(t, callback("kind:balance")), "Which wallet")
	tb.send(t, callback("wallet:"+wallet1))
	tb.send(t, callback("asset:SOL"))
	tb.send(t, callback("op:lt"))
	tb.send(t, text("10"))
	tb.send(t, text("rent reserve"))

	if len(tb.store.alerts) != 1 {
		t.Fatalf("created %d alerts, want 1", len(tb.store.alerts))
	}
	a := tb.store.alerts[0]
	c, ok := a.Condition.(alert.BalanceCondition)
	if !ok || c.WalletAddress != wallet1 || c.AssetMint != alert.NativeAsset || a.Label != "rent reserve" {
		t.Errorf("alert = %#v", a)
	}
}

func TestCancelAndExpiredDialog(t *testing.T) {
	tb := newTestBot(t)

	assertContains(t, tb.send(t, command("/cancel")), "Nothing to cancel")
	tb.send(t, command("/newalert"))
	assertContains(t, tb.send(t, callback("cancel")), "Cancelled")
	assertContains(t, tb.send(t, callback("op:gt")), "expired")
	assertContains(t, tb.send(t, text("hello")), "/help")
}

func TestAlertManagementCommands(t *testing.T) {
	tb := newTestBot(t)
	tb.store.alerts = []alert.Alert{{
		ID: 5, ChatID: chat, Kind: alert.KindTVL, Enabled: true,
		Condition: alert.TVLCondition{Rule: alert.Rule{Threshold: 1e6, Operator: alert.LessThan}, ProgramID: jupProg},
	}}

	assertContains(t, tb.send(t, command("/alerts")), "#5 TVL of <code>JUP6…TaV4</code> below $1.00M")
	assertContains(t, tb.send(t, command("/pause 5")), "paused")
	if tb.store.enabled[5] {
		t.Error("alert 5 should be disabled")
	}
	assertContains(t, tb.send(t, command("/resume 5")), "resumed")
	assertContains(t, tb.send(t, command("/pause 99")), "#99 not found")
	assertContains(t, tb.send(t, command("/delete x")), "Usage")
	assertContains(t, tb.send(t, command("/delete 5")), "deleted")

	if len(tb.ledger.cleared) != 2 || tb.ledger.cleared[0] != 5 {
		t.Errorf("ledger cleared = %v, want resume and delete of 5", tb.ledger.cleared)
	}
	assertContains(t, tb.send(t, command("/alerts")), "No alerts yet")
}

func TestQueryCommands(t *testing.T) {
	tb := newTestBot(t)

	assertContains(t, tb.send(t, command("/price "+bonkMint)), "$0.0000234")
	assertContains(t, tb.send(t, command("/token "+bonkMint)), "24h: -3.50%")
	assertContains(t, tb.send(t, command("/balance "+wallet1)), "12.50 SOL")
	assertContains(t, tb.send(t, command("/tvl "+jupProg)), "$2.50M")
	assertContains(t, tb.send(t, command("/users "+jupProg+" 7d")), "(7d): <b>321.00</b>")
	assertContains(t, tb.send(t, command("/price")), "Usage")

	tb.data.err = analytics.ErrUnavailable
	assertContains(t, tb.send(t, command("/tvl "+jupProg)), "unavailable")
}

func TestStartRegistersUser(t *testing.T) {
	tb := newTestBot(t)
	assertContains(t, tb.send(t, command("/start")), "Welcome")
	if tb.store.users[chat] != "tester" {
		t.Errorf("users = %v", tb.store.users)
	}
	assertContains(t, tb.send(t, command("/bogus")), "Unknown command")
}

func TestSinkSendsHTML(t *testing.T) {
	tb := newTestBot(t)
	if err := tb.Send(context.Background(), 7, "<b>hi</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg := tb.api.last(t)
	if msg.ChatID != 7 || msg.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("message = %+v", msg)
	}

	tb.api.err = errors.New("Forbidden: bot was blocked by the user")
	if err := tb.Send(context.Background(), 7, "x"); err == nil {
		t.Error("expected error from blocked chat")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := tb.Send(ctx, 7, "x"); err == nil {
		t.Error("expected error for cancelled context")
	}
}
