package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/analytics"
	"github.com/web3-frozen/onchain-alerts/internal/monitor"
	"github.com/web3-frozen/onchain-alerts/internal/session"
	"github.com/web3-frozen/onchain-alerts/internal/store"
)

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	command := m.Command()
	args := m.CommandArguments()
	chatID := m.Chat.ID
	username := ""
	if m.From != nil {
		username = m.From.UserName
	}
	b.logger.Info("telegram command received", "chat_id", chatID, "username", username, "command", command, "args", args)

	if command != "help" {
		if _, err := b.store.UpsertUser(ctx, chatID, username); err != nil {
			b.logger.Error("upsert user failed", "chat_id", chatID, "error", err)
			b.reply(chatID, "❌ Something went wrong. Please try again.")
			return
		}
	}

	switch command {
	case "start":
		b.reply(chatID, "👋 Welcome! I watch Solana tokens, wallets and programs for you.\n\n"+HelpText)
	case "help":
		b.reply(chatID, HelpText)
	case "price":
		b.handlePrice(ctx, chatID, args)
	case "token":
		b.handleToken(ctx, chatID, args)
	case "balance":
		b.handleBalance(ctx, chatID, args)
	case "tvl":
		b.handleTVL(ctx, chatID, args)
	case "users":
		b.handleUsers(ctx, chatID, args)
	case "wallets":
		b.handleWallets(ctx, chatID)
	case "addwallet":
		b.handleAddWallet(ctx, chatID, args)
	case "removewallet":
		b.handleRemoveWallet(ctx, chatID, args)
	case "alerts":
		b.handleAlerts(ctx, chatID)
	case "newalert":
		b.startDialog(ctx, chatID)
	case "delete":
		b.handleDelete(ctx, chatID, args)
	case "pause":
		b.handleSetEnabled(ctx, chatID, args, false)
	case "resume":
		b.handleSetEnabled(ctx, chatID, args, true)
	case "cancel":
		b.cancelDialog(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. Send /help for available commands.")
	}
}

// --- Queries ---

func (b *Bot) handlePrice(ctx context.Context, chatID int64, args string) {
	mint, err := ParseAddress(args)
	if err != nil {
		b.reply(chatID, "Usage: /price &lt;mint&gt;")
		return
	}
	price, err := b.data.Price(ctx, mint)
	if err != nil {
		b.queryFailed(chatID, "price", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("💲 <code>%s</code>: <b>$%s</b>", monitor.ShortAddress(mint), monitor.FormatNum(price)))
}

func (b *Bot) handleToken(ctx context.Context, chatID int64, args string) {
	mint, err := ParseAddress(args)
	if err != nil {
		b.reply(chatID, "Usage: /token &lt;mint&gt;")
		return
	}
	info, err := b.data.TokenInfo(ctx, mint)
	if err != nil {
		b.queryFailed(chatID, "token", err)
		return
	}
	b.reply(chatID, formatTokenInfo(info))
}

func formatTokenInfo(info *analytics.TokenInfo) string {
	var sb strings.Builder
	name := info.Symbol
	if name == "" {
		name = monitor.ShortAddress(info.Mint)
	}
	fmt.Fprintf(&sb, "🪙 <b>%s</b>", html.EscapeString(name))
	if info.Name != "" {
		fmt.Fprintf(&sb, " (%s)", html.EscapeString(info.Name))
	}
	fmt.Fprintf(&sb, "\nMint: <code>%s</code>\n", html.EscapeString(info.Mint))
	fmt.Fprintf(&sb, "Price: <b>$%s</b>\n", monitor.FormatNum(info.Price))
	sign := ""
	if info.Change24h > 0 {
		sign = "+"
	}
	fmt.Fprintf(&sb, "24h: %s%.2f%%\n", sign, info.Change24h)
	if info.MarketCap > 0 {
		fmt.Fprintf(&sb, "Market cap: $%s", monitor.FormatNum(info.MarketCap))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64, args string) {
	wallet, asset, err := ParseBalanceArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /balance &lt;wallet&gt; [mint]")
		return
	}
	v, err := b.data.Balance(ctx, wallet, asset)
	if err != nil {
		b.queryFailed(chatID, "balance", err)
		return
	}
	label := asset
	if asset != alert.NativeAsset {
		label = monitor.ShortAddress(asset)
	}
	b.reply(chatID, fmt.Sprintf("👛 <code>%s</code> holds <b>%s %s</b>", monitor.ShortAddress(wallet), monitor.FormatNum(v), label))
}

func (b *Bot) handleTVL(ctx context.Context, chatID int64, args string) {
	program, err := ParseAddress(args)
	if err != nil {
		b.reply(chatID, "Usage: /tvl &lt;program&gt;")
		return
	}
	v, err := b.data.TVL(ctx, program)
	if err != nil {
		b.queryFailed(chatID, "tvl", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("🏦 TVL of <code>%s</code>: <b>$%s</b>", monitor.ShortAddress(program), monitor.FormatNum(v)))
}

func (b *Bot) handleUsers(ctx context.Context, chatID int64, args string) {
	program, tf, err := ParseUsersArgs(args)
	if err != nil {
		b.reply(chatID, "Usage: /users &lt;program&gt; [1h|24h|7d|30d]")
		return
	}
	v, err := b.data.ActiveUsers(ctx, program, tf)
	if err != nil {
		b.queryFailed(chatID, "active users", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("👥 Active users of <code>%s</code> (%s): <b>%s</b>", monitor.ShortAddress(program), tf, monitor.FormatNum(v)))
}

func (b *Bot) queryFailed(chatID int64, what string, err error) {
	b.logger.Warn("chat query failed", "chat_id", chatID, "query", what, "error", err)
	b.reply(chatID, "⚠️ The analytics service is unavailable right now. Please try again shortly.")
}

// --- Wallets ---

func (b *Bot) handleWallets(ctx context.Context, chatID int64) {
	wallets, err := b.store.ListWallets(ctx, chatID)
	if err != nil {
		b.logger.Error("list wallets failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error fetching wallets.")
		return
	}
	if len(wallets) == 0 {
		b.reply(chatID, "No saved wallets. Add one with /addwallet &lt;address&gt;.")
		return
	}
	var sb strings.Builder
	sb.WriteString("👛 <b>Your wallets</b>\n")
	for i, w := range wallets {
		fmt.Fprintf(&sb, "%d. <code>%s</code>\n", i+1, w.Address)
	}
	b.reply(chatID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleAddWallet(ctx context.Context, chatID int64, args string) {
	addr, err := ParseAddress(args)
	if err != nil {
		b.reply(chatID, "Usage: /addwallet &lt;address&gt;")
		return
	}
	if _, err := b.store.AddWallet(ctx, chatID, addr); err != nil {
		b.logger.Error("add wallet failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error saving wallet.")
		return
	}
	b.reply(chatID, fmt.Sprintf("✅ Saved wallet <code>%s</code>.", addr))
}

func (b *Bot) handleRemoveWallet(ctx context.Context, chatID int64, args string) {
	addr, err := ParseAddress(args)
	if err != nil {
		b.reply(chatID, "Usage: /removewallet &lt;address&gt;")
		return
	}
	err = b.store.RemoveWallet(ctx, chatID, addr)
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.reply(chatID, "That wallet is not saved.")
	case err != nil:
		b.logger.Error("remove wallet failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error removing wallet.")
	default:
		b.reply(chatID, fmt.Sprintf("🗑 Removed wallet <code>%s</code>.", addr))
	}
}

// --- Alerts ---

func (b *Bot) handleAlerts(ctx context.Context, chatID int64) {
	alerts, err := b.store.ListAlerts(ctx, chatID)
	if err != nil {
		b.logger.Error("list alerts failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error fetching alerts.")
		return
	}
	if len(alerts) == 0 {
		b.reply(chatID, "No alerts yet. Create one with /newalert.")
		return
	}
	var sb strings.Builder
	sb.WriteString("🔔 <b>Your alerts</b>\n")
	for _, a := range alerts {
		sb.WriteString(describe(a))
		sb.WriteString("\n")
	}
	b.reply(chatID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleDelete(ctx context.Context, chatID int64, args string) {
	id, err := ParseAlertID(args)
	if err != nil {
		b.reply(chatID, "Usage: /delete &lt;id&gt;")
		return
	}
	if !b.alertWrite(chatID, id, "delete", b.store.DeleteAlert(ctx, chatID, id)) {
		return
	}
	if b.ledger != nil {
		b.ledger.Clear(ctx, id)
	}
	b.reply(chatID, fmt.Sprintf("🗑 Alert #%d deleted.", id))
}

func (b *Bot) handleSetEnabled(ctx context.Context, chatID int64, args string, enabled bool) {
	verb := "pause"
	if enabled {
		verb = "resume"
	}
	id, err := ParseAlertID(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s &lt;id&gt;", verb))
		return
	}
	if !b.alertWrite(chatID, id, verb, b.store.SetAlertEnabled(ctx, chatID, id, enabled)) {
		return
	}
	if enabled {
		if b.ledger != nil {
			b.ledger.Clear(ctx, id)
		}
		b.reply(chatID, fmt.Sprintf("▶️ Alert #%d resumed.", id))
		return
	}
	b.reply(chatID, fmt.Sprintf("⏸ Alert #%d paused.", id))
}

func (b *Bot) alertWrite(chatID, id int64, op string, err error) bool {
	switch {
	case errors.Is(err, store.ErrNotFound):
		b.reply(chatID, fmt.Sprintf("Alert #%d not found.", id))
		return false
	case err != nil:
		b.logger.Error("alert update failed", "chat_id", chatID, "alert_id", id, "op", op, "error", err)
		b.reply(chatID, "❌ Something went wrong. Please try again.")
		return false
	}
	b.logger.Info("alert updated", "chat_id", chatID, "alert_id", id, "op", op)
	return true
}

// --- /newalert dialog ---

func (b *Bot) startDialog(ctx context.Context, chatID int64) {
	if err := b.sessions.Save(ctx, chatID, newAlertState()); err != nil {
		b.logger.Error("save session failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Something went wrong. Please try again.")
		return
	}
	b.replyWith(chatID, kindPrompt())
}

func (b *Bot) cancelDialog(ctx context.Context, chatID int64) {
	if _, err := b.sessions.Get(ctx, chatID); errors.Is(err, session.ErrNoSession) {
		b.reply(chatID, "Nothing to cancel.")
		return
	}
	if err := b.sessions.Clear(ctx, chatID); err != nil {
		b.logger.Warn("clear session failed", "chat_id", chatID, "error", err)
	}
	b.reply(chatID, "Cancelled.")
}

func (b *Bot) handleText(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	st, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			b.logger.Warn("load session failed", "chat_id", chatID, "error", err)
		}
		b.reply(chatID, "Send /help for available commands.")
		return
	}
	b.continueDialog(ctx, chatID, st, input{text: m.Text})
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug("answer callback failed", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if cb.Data == "cancel" {
		b.cancelDialog(ctx, chatID)
		return
	}
	st, err := b.sessions.Get(ctx, chatID)
	if err != nil {
		b.reply(chatID, "This dialog has expired. Send /newalert to start again.")
		return
	}
	b.continueDialog(ctx, chatID, st, input{data: cb.Data})
}

func (b *Bot) continueDialog(ctx context.Context, chatID int64, st *session.State, in input) {
	if st.Flow != flowNewAlert {
		_ = b.sessions.Clear(ctx, chatID)
		b.reply(chatID, "Send /help for available commands.")
		return
	}

	var wallets []string
	if st.Step == stepKind || st.Step == stepWallet {
		saved, err := b.store.ListWallets(ctx, chatID)
		if err != nil {
			b.logger.Error("list wallets failed", "chat_id", chatID, "error", err)
			b.reply(chatID, "❌ Something went wrong. Please try again.")
			return
		}
		for _, w := range saved {
			wallets = append(wallets, w.Address)
		}
	}

	next, err := advance(st, in, wallets)
	if errors.Is(err, errNoWallets) {
		_ = b.sessions.Clear(ctx, chatID)
		b.reply(chatID, "Balance alerts watch a saved wallet. Add one with /addwallet &lt;address&gt; first.")
		return
	}
	if err != nil {
		b.reply(chatID, dialogErrorMessage(err))
		return
	}

	if st.Step == stepDone {
		b.finishDialog(ctx, chatID, st)
		return
	}
	if err := b.sessions.Save(ctx, chatID, st); err != nil {
		b.logger.Error("save session failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Something went wrong. Please try again.")
		return
	}
	b.replyWith(chatID, next)
}

func (b *Bot) finishDialog(ctx context.Context, chatID int64, st *session.State) {
	if err := b.sessions.Clear(ctx, chatID); err != nil {
		b.logger.Warn("clear session failed", "chat_id", chatID, "error", err)
	}
	a, err := buildAlert(st, chatID)
	if err != nil {
		b.logger.Warn("dialog produced invalid alert", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ That alert is not valid. Send /newalert to try again.")
		return
	}
	if err := b.store.CreateAlert(ctx, &a); err != nil {
		b.logger.Error("create alert failed", "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Error saving alert. Please try again.")
		return
	}
	b.logger.Info("alert created", "chat_id", chatID, "alert_id", a.ID, "kind", a.Kind)
	b.reply(chatID, "✅ Alert created\n"+describe(a))
}

func dialogErrorMessage(err error) string {
	switch {
	case errors.Is(err, errUseButtons):
		return "Please choose one of the options above."
	case errors.Is(err, ErrInvalidAddress), errors.Is(err, ErrInvalidArguments):
		return "That doesn't look like a valid address. Send a base58 address."
	case errors.Is(err, ErrInvalidThreshold):
		return "Invalid threshold. Send a positive number like 1.25."
	case errors.Is(err, errLabelLong):
		return fmt.Sprintf("Labels are limited to %d characters.", maxLabelLen)
	}
	return "Something went wrong. Send /cancel and try again."
}
