package telegram

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

const HelpText = `<b>Onchain Alerts</b>

Queries:
/price &lt;mint&gt; - current token price
/token &lt;mint&gt; - token summary
/balance &lt;wallet&gt; [mint] - wallet balance (SOL if no mint)
/tvl &lt;program&gt; - program TVL
/users &lt;program&gt; [1h|24h|7d|30d] - program active users

Wallets:
/wallets - list saved wallets
/addwallet &lt;address&gt;
/removewallet &lt;address&gt;

Alerts:
/newalert - create an alert step by step
/alerts - list your alerts
/pause &lt;id&gt;, /resume &lt;id&gt;, /delete &lt;id&gt;
/cancel - abort the current dialog

Alerts are checked every few minutes and notify at most once an hour.`

var (
	ErrInvalidArguments = errors.New("invalid arguments")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// IsAddress reports whether s looks like a base58-encoded 32-byte account key.
func IsAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}

func ParseAddress(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "", ErrInvalidArguments
	}
	if !IsAddress(fields[0]) {
		return "", ErrInvalidAddress
	}
	return fields[0], nil
}

// ParseAsset accepts a mint address or the native coin symbol in any case.
func ParseAsset(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, alert.NativeAsset) {
		return alert.NativeAsset, nil
	}
	if !IsAddress(s) {
		return "", ErrInvalidAddress
	}
	return s, nil
}

// ParseBalanceArgs parses "<wallet> [mint]". The asset defaults to the
// native coin.
func ParseBalanceArgs(args string) (wallet, asset string, err error) {
	fields := strings.Fields(args)
	if len(fields) < 1 || len(fields) > 2 {
		return "", "", ErrInvalidArguments
	}
	if !IsAddress(fields[0]) {
		return "", "", ErrInvalidAddress
	}
	asset = alert.NativeAsset
	if len(fields) == 2 {
		if asset, err = ParseAsset(fields[1]); err != nil {
			return "", "", err
		}
	}
	return fields[0], asset, nil
}

// ParseUsersArgs parses "<program> [timeframe]".
func ParseUsersArgs(args string) (program, timeframe string, err error) {
	fields := strings.Fields(args)
	if len(fields) < 1 || len(fields) > 2 {
		return "", "", ErrInvalidArguments
	}
	if !IsAddress(fields[0]) {
		return "", "", ErrInvalidAddress
	}
	timeframe = alert.DefaultTimeframe
	if len(fields) == 2 {
		timeframe = strings.ToLower(fields[1])
		if !alert.ValidTimeframe(timeframe) {
			return "", "", ErrInvalidTimeframe
		}
	}
	return fields[0], timeframe, nil
}

func ParseAlertID(args string) (int64, error) {
	idStr := strings.TrimPrefix(strings.TrimSpace(args), "#")
	if idStr == "" {
		return 0, ErrInvalidArguments
	}
	value, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || value <= 0 {
		return 0, ErrInvalidArguments
	}
	return value, nil
}

// ParseThreshold accepts a non-negative decimal, optionally written with a
// leading "$" and thousands separators.
func ParseThreshold(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return 0, ErrInvalidThreshold
	}
	f, _ := d.Float64()
	return f, nil
}
