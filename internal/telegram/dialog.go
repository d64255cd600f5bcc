package telegram

import (
	"errors"
	"fmt"
	"html"
	"slices"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
	"github.com/web3-frozen/onchain-alerts/internal/monitor"
	"github.com/web3-frozen/onchain-alerts/internal/session"
)

// The /newalert dialog is an explicit state machine. Its position and the
// values collected so far live in a session.State persisted per chat, so a
// restart or a second replica picks the conversation up where it was.

const flowNewAlert = "newalert"

const (
	stepKind      = "kind"
	stepMint      = "mint"
	stepWallet    = "wallet"
	stepAsset     = "asset"
	stepProgram   = "program"
	stepTimeframe = "timeframe"
	stepOperator  = "operator"
	stepThreshold = "threshold"
	stepLabel     = "label"
	stepDone      = "done"
)

const maxLabelLen = 64

var (
	errUseButtons = errors.New("use the buttons")
	errNoWallets  = errors.New("no saved wallets")
	errLabelLong  = errors.New("label too long")
)

// input is one user action: typed text or inline keyboard callback data.
type input struct {
	text string
	data string
}

type prompt struct {
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

func newAlertState() *session.State {
	return &session.State{Flow: flowNewAlert, Step: stepKind}
}

func kindPrompt() prompt {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💲 Price", "kind:"+string(alert.KindPrice)),
			tgbotapi.NewInlineKeyboardButtonData("👛 Balance", "kind:"+string(alert.KindBalance)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏦 TVL", "kind:"+string(alert.KindTVL)),
			tgbotapi.NewInlineKeyboardButtonData("👥 Active users", "kind:"+string(alert.KindActiveUsers)),
		),
		cancelRow(),
	)
	return prompt{text: "What should the alert watch?", keyboard: &kb}
}

func cancelRow() []tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", "cancel"))
}

func walletPrompt(wallets []string) prompt {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(wallets)+1)
	for _, w := range wallets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(w, "wallet:"+w)))
	}
	rows = append(rows, cancelRow())
	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return prompt{text: "Which wallet?", keyboard: &kb}
}

func assetPrompt() prompt {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(alert.NativeAsset, "asset:"+alert.NativeAsset)),
		cancelRow(),
	)
	return prompt{text: "Which asset? Tap SOL or send a token mint address.", keyboard: &kb}
}

func timeframePrompt() prompt {
	row := make([]tgbotapi.InlineKeyboardButton, 0, 4)
	for _, tf := range []string{"1h", "24h", "7d", "30d"} {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(tf, "tf:"+tf))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row, cancelRow())
	return prompt{text: "Over which timeframe?", keyboard: &kb}
}

func operatorPrompt() prompt {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📈 Goes above", "op:"+string(alert.GreaterThan)),
			tgbotapi.NewInlineKeyboardButtonData("📉 Goes below", "op:"+string(alert.LessThan)),
		),
		cancelRow(),
	)
	return prompt{text: "Notify when the value…", keyboard: &kb}
}

func labelPrompt() prompt {
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("Skip", "label:skip")),
	)
	return prompt{text: "Send a short label for this alert, or tap Skip.", keyboard: &kb}
}

// advance applies in to st and returns the prompt for the next step. On
// error st is left unchanged. wallets is only consulted when choosing a
// balance wallet.
func advance(st *session.State, in input, wallets []string) (prompt, error) {
	switch st.Step {
	case stepKind:
		k, ok := strings.CutPrefix(in.data, "kind:")
		kind := alert.Kind(k)
		if !ok || !kind.Valid() {
			return prompt{}, errUseButtons
		}
		switch kind {
		case alert.KindPrice:
			st.Kind, st.Step = k, stepMint
			return prompt{text: "Send the token mint address."}, nil
		case alert.KindBalance:
			if len(wallets) == 0 {
				return prompt{}, errNoWallets
			}
			st.Kind, st.Step = k, stepWallet
			return walletPrompt(wallets), nil
		default:
			st.Kind, st.Step = k, stepProgram
			return prompt{text: "Send the program id."}, nil
		}

	case stepMint:
		mint, err := ParseAddress(in.text)
		if err != nil {
			return prompt{}, err
		}
		st.AssetMint, st.Step = mint, stepOperator
		return operatorPrompt(), nil

	case stepWallet:
		w, ok := strings.CutPrefix(in.data, "wallet:")
		if !ok || !slices.Contains(wallets, w) {
			return prompt{}, errUseButtons
		}
		st.Wallet, st.Step = w, stepAsset
		return assetPrompt(), nil

	case stepAsset:
		raw := in.text
		if a, ok := strings.CutPrefix(in.data, "asset:"); ok {
			raw = a
		}
		asset, err := ParseAsset(raw)
		if err != nil {
			return prompt{}, err
		}
		st.AssetMint, st.Step = asset, stepOperator
		return operatorPrompt(), nil

	case stepProgram:
		program, err := ParseAddress(in.text)
		if err != nil {
			return prompt{}, err
		}
		st.ProgramID = program
		if alert.Kind(st.Kind) == alert.KindActiveUsers {
			st.Step = stepTimeframe
			return timeframePrompt(), nil
		}
		st.Step = stepOperator
		return operatorPrompt(), nil

	case stepTimeframe:
		tf, ok := strings.CutPrefix(in.data, "tf:")
		if !ok || !alert.ValidTimeframe(tf) {
			return prompt{}, errUseButtons
		}
		st.Timeframe, st.Step = tf, stepOperator
		return operatorPrompt(), nil

	case stepOperator:
		op, ok := strings.CutPrefix(in.data, "op:")
		if !ok || !alert.Operator(op).Valid() {
			return prompt{}, errUseButtons
		}
		st.Operator, st.Step = op, stepThreshold
		return prompt{text: fmt.Sprintf("Send the threshold %s (e.g. 1.25).", unitHint(alert.Kind(st.Kind)))}, nil

	case stepThreshold:
		v, err := ParseThreshold(in.text)
		if err != nil {
			return prompt{}, err
		}
		st.Threshold, st.Step = v, stepLabel
		return labelPrompt(), nil

	case stepLabel:
		if in.data == "label:skip" {
			st.Label, st.Step = "", stepDone
			return prompt{}, nil
		}
		label := strings.TrimSpace(in.text)
		if label == "" {
			return prompt{}, errUseButtons
		}
		if len([]rune(label)) > maxLabelLen {
			return prompt{}, errLabelLong
		}
		st.Label, st.Step = label, stepDone
		return prompt{}, nil
	}
	return prompt{}, fmt.Errorf("unknown dialog step %q", st.Step)
}

func unitHint(k alert.Kind) string {
	switch k {
	case alert.KindPrice, alert.KindTVL:
		return "in USD"
	case alert.KindBalance:
		return "in token units"
	case alert.KindActiveUsers:
		return "as a user count"
	}
	return ""
}

// buildAlert turns a completed dialog into a new enabled alert for chatID.
func buildAlert(st *session.State, chatID int64) (alert.Alert, error) {
	rule := alert.Rule{Threshold: st.Threshold, Operator: alert.Operator(st.Operator)}
	var c alert.Condition
	switch alert.Kind(st.Kind) {
	case alert.KindPrice:
		c = alert.PriceCondition{Rule: rule, AssetMint: st.AssetMint}
	case alert.KindBalance:
		c = alert.BalanceCondition{Rule: rule, WalletAddress: st.Wallet, AssetMint: st.AssetMint}
	case alert.KindTVL:
		c = alert.TVLCondition{Rule: rule, ProgramID: st.ProgramID}
	case alert.KindActiveUsers:
		c = alert.ActiveUsersCondition{Rule: rule, ProgramID: st.ProgramID, Timeframe: st.Timeframe}
	}
	a := alert.Alert{
		ChatID:    chatID,
		Kind:      alert.Kind(st.Kind),
		Condition: c,
		Label:     st.Label,
		Enabled:   true,
	}
	if err := alert.Validate(a); err != nil {
		return alert.Alert{}, err
	}
	return a, nil
}

// describe renders an alert for lists and confirmations.
func describe(a alert.Alert) string {
	var subject, value string
	var r alert.Rule
	if a.Condition != nil {
		r = a.Condition.TriggerRule()
	}
	switch c := a.Condition.(type) {
	case alert.PriceCondition:
		subject = "Price of <code>" + monitor.ShortAddress(c.AssetMint) + "</code>"
		value = "$" + monitor.FormatNum(r.Threshold)
	case alert.BalanceCondition:
		asset := c.AssetMint
		if asset != alert.NativeAsset {
			asset = monitor.ShortAddress(asset)
		}
		subject = "Balance of <code>" + monitor.ShortAddress(c.WalletAddress) + "</code>"
		value = monitor.FormatNum(r.Threshold) + " " + asset
	case alert.TVLCondition:
		subject = "TVL of <code>" + monitor.ShortAddress(c.ProgramID) + "</code>"
		value = "$" + monitor.FormatNum(r.Threshold)
	case alert.ActiveUsersCondition:
		subject = "Active users (" + c.Window() + ") of <code>" + monitor.ShortAddress(c.ProgramID) + "</code>"
		value = monitor.FormatNum(r.Threshold)
	default:
		return fmt.Sprintf("#%d %s (unreadable)", a.ID, a.Kind)
	}
	out := fmt.Sprintf("#%d %s %s %s", a.ID, subject, r.Operator.Phrase(), value)
	if a.Label != "" {
		out += " · <i>" + html.EscapeString(a.Label) + "</i>"
	}
	if !a.Enabled {
		out += " ⏸"
	}
	return out
}
