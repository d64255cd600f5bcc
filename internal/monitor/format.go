package monitor

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

// Render produces the Telegram HTML message for a trigger event.
func Render(ev alert.TriggerEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>%s ALERT</b>\n", strings.ToUpper(ev.Kind.Title()))
	if ev.Label != "" {
		fmt.Fprintf(&b, "<i>%s</i>\n", html.EscapeString(ev.Label))
	}
	b.WriteString("\n")

	var subject, current, threshold string
	switch c := ev.Condition.(type) {
	case alert.PriceCondition:
		fmt.Fprintf(&b, "Token: <code>%s</code>\n", ShortAddress(c.AssetMint))
		if c.QuoteMint != "" {
			fmt.Fprintf(&b, "Quote: <code>%s</code>\n", ShortAddress(c.QuoteMint))
		}
		subject = "Price"
		current, threshold = "$"+FormatNum(ev.Current), "$"+FormatNum(ev.Threshold)
	case alert.BalanceCondition:
		fmt.Fprintf(&b, "Wallet: <code>%s</code>\n", ShortAddress(c.WalletAddress))
		asset := assetLabel(c.AssetMint)
		fmt.Fprintf(&b, "Asset: <code>%s</code>\n", asset)
		subject = "Balance"
		current, threshold = FormatNum(ev.Current)+" "+asset, FormatNum(ev.Threshold)+" "+asset
	case alert.TVLCondition:
		fmt.Fprintf(&b, "Program: <code>%s</code>\n", ShortAddress(c.ProgramID))
		subject = "TVL"
		current, threshold = "$"+FormatNum(ev.Current), "$"+FormatNum(ev.Threshold)
	case alert.ActiveUsersCondition:
		fmt.Fprintf(&b, "Program: <code>%s</code>\n", ShortAddress(c.ProgramID))
		subject = "Active users (" + c.Window() + ")"
		current, threshold = FormatNum(ev.Current), FormatNum(ev.Threshold)
	default:
		subject = "Value"
		current, threshold = FormatNum(ev.Current), FormatNum(ev.Threshold)
	}

	fmt.Fprintf(&b, "\n%s is now <b>%s</b>, %s your threshold of %s.", subject, current, ev.Operator.Phrase(), threshold)
	return b.String()
}

// FormatNum renders a metric value for chat display.
func FormatNum(v float64) string {
	abs := math.Abs(v)
	switch {
	case abs >= 1_000_000_000:
		return fmt.Sprintf("%.2fB", v/1_000_000_000)
	case abs >= 1_000_000:
		return fmt.Sprintf("%.2fM", v/1_000_000)
	case abs >= 1_000:
		return addCommas(fmt.Sprintf("%.2f", math.Round(v*100)/100))
	case abs >= 1:
		return padDecimals(decimal.NewFromFloat(v).Round(4).String(), 2)
	case v == 0:
		return "0"
	}
	// Keep four significant digits for sub-unit prices.
	places := int32(3 - math.Floor(math.Log10(abs)))
	return decimal.NewFromFloat(v).Round(places).String()
}

func padDecimals(s string, min int) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s + "." + strings.Repeat("0", min)
	}
	if have := len(s) - dot - 1; have < min {
		return s + strings.Repeat("0", min-have)
	}
	return s
}

func addCommas(s string) string {
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	n := len(intPart)
	var result []byte
	for i, c := range intPart {
		if i > 0 && (n-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	out := string(result)
	if len(parts) == 2 {
		out += "." + parts[1]
	}
	if neg {
		out = "-" + out
	}
	return out
}

// ShortAddress truncates a base58 address to its first and last four characters.
func ShortAddress(s string) string {
	if len(s) <= 12 {
		return html.EscapeString(s)
	}
	return html.EscapeString(s[:4] + "…" + s[len(s)-4:])
}

func assetLabel(asset string) string {
	if asset == alert.NativeAsset {
		return alert.NativeAsset
	}
	return ShortAddress(asset)
}
