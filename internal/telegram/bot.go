package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/analytics"
	"github.com/web3-frozen/onchain-alerts/internal/session"
	"github.com/web3-frozen/onchain-alerts/internal/store"
)

// sender is the part of *tgbotapi.BotAPI the bot writes through.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Store is the persistence the chat commands need.
type Store interface {
	UpsertUser(ctx context.Context, chatID int64, username string) (*store.User, error)
	ListWallets(ctx context.Context, chatID int64) ([]store.Wallet, error)
	AddWallet(ctx context.Context, chatID int64, address string) (*store.Wallet, error)
	RemoveWallet(ctx context.Context, chatID int64, address string) error
	CreateAlert(ctx context.Context, a *alert.Alert) error
	ListAlerts(ctx context.Context, chatID int64) ([]alert.Alert, error)
	DeleteAlert(ctx context.Context, chatID, id int64) error
	SetAlertEnabled(ctx context.Context, chatID, id int64, enabled bool) error
}

// Analytics answers the ad-hoc query commands.
type Analytics interface {
	TokenInfo(ctx context.Context, mint string) (*analytics.TokenInfo, error)
	Price(ctx context.Context, mint string) (float64, error)
	Balance(ctx context.Context, wallet, asset string) (float64, error)
	TVL(ctx context.Context, programID string) (float64, error)
	ActiveUsers(ctx context.Context, programID, timeframe string) (float64, error)
}

// deliveryLedger lets pause/resume and delete forget past deliveries.
type deliveryLedger interface {
	Clear(ctx context.Context, alertID int64)
}

type Bot struct {
	api         sender
	updates     *tgbotapi.BotAPI
	store       Store
	data        Analytics
	sessions    *session.Store
	ledger      deliveryLedger
	logger      *slog.Logger
	pollTimeout int
}

func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect telegram: %w", err)
	}
	return api, nil
}

func NewBot(api *tgbotapi.BotAPI, s Store, data Analytics, sessions *session.Store, logger *slog.Logger) *Bot {
	b := newBot(api, s, data, sessions, logger)
	b.updates = api
	return b
}

func newBot(api sender, s Store, data Analytics, sessions *session.Store, logger *slog.Logger) *Bot {
	return &Bot{
		api:         api,
		store:       s,
		data:        data,
		sessions:    sessions,
		logger:      logger,
		pollTimeout: 30,
	}
}

// WithLedger makes delete and resume clear the alert's delivery record.
func (b *Bot) WithLedger(l deliveryLedger) *Bot {
	b.ledger = l
	return b
}

// Send delivers an HTML message to chatID. It satisfies monitor.Sink.
func (b *Bot) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message to %d: %w", chatID, err)
	}
	return nil
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	config := tgbotapi.NewUpdate(0)
	config.Timeout = b.pollTimeout
	updates := b.updates.GetUpdatesChan(config)
	b.logger.Info("telegram bot started", "username", b.updates.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.updates.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update. Panics are recovered so a bad update
// cannot stop the polling loop.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("telegram update handler panicked", "update_id", update.UpdateID, "panic", r)
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message == nil:
		return
	case update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	default:
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.replyWith(chatID, prompt{text: text})
}

func (b *Bot) replyWith(chatID int64, p prompt) {
	msg := tgbotapi.NewMessage(chatID, p.text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if p.keyboard != nil {
		msg.ReplyMarkup = *p.keyboard
	}
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}
