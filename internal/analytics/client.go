package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/web3-frozen/onchain-alerts/internal/alert"
)

const (
	DefaultBaseURL = "https://api.vybenetwork.xyz"

	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// ErrUnavailable wraps every failure to obtain a value from the analytics API.
var ErrUnavailable = errors.New("analytics provider unavailable")

type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS caps outbound requests per second. Zero disables the cap.
	RPS float64
}

// Client answers point queries against the analytics API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "analytics",
			Timeout: breakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= breakerFailures
			},
		}),
	}
}

// --- Point queries ---

type tokenResp struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Price1d   float64 `json:"price1d"`
	MarketCap float64 `json:"marketCap"`
	Decimals  int     `json:"decimal"`
}

// TokenInfo is the token summary shown by the /token chat command.
type TokenInfo struct {
	Mint      string  `json:"mint"`
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
	MarketCap float64 `json:"market_cap"`
}

func (c *Client) TokenInfo(ctx context.Context, mint string) (*TokenInfo, error) {
	var t tokenResp
	if err := c.getJSON(ctx, "/token/"+url.PathEscape(mint), nil, &t); err != nil {
		return nil, fmt.Errorf("token %s: %w", mint, err)
	}
	info := &TokenInfo{
		Mint:      mint,
		Symbol:    t.Symbol,
		Name:      t.Name,
		Price:     t.Price,
		MarketCap: t.MarketCap,
	}
	if t.Price1d > 0 {
		info.Change24h = (t.Price - t.Price1d) / t.Price1d * 100
	}
	return info, nil
}

// Price returns the current USD price of a token mint.
func (c *Client) Price(ctx context.Context, mint string) (float64, error) {
	var t tokenResp
	if err := c.getJSON(ctx, "/token/"+url.PathEscape(mint), nil, &t); err != nil {
		return 0, fmt.Errorf("price %s: %w", mint, err)
	}
	return t.Price, nil
}

type balanceResp struct {
	NativeBalance json.Number `json:"nativeBalance"`
	Data          []struct {
		MintAddress string      `json:"mintAddress"`
		Symbol      string      `json:"symbol"`
		Amount      json.Number `json:"amount"`
	} `json:"data"`
}

// Balances returns every balance held by wallet keyed by mint address, with
// the native coin under alert.NativeAsset. One request serves all assets.
func (c *Client) Balances(ctx context.Context, wallet string) (map[string]float64, error) {
	var b balanceResp
	if err := c.getJSON(ctx, "/account/token-balance/"+url.PathEscape(wallet), nil, &b); err != nil {
		return nil, fmt.Errorf("balances %s: %w", wallet, err)
	}
	out := make(map[string]float64, len(b.Data)+1)
	if b.NativeBalance != "" {
		v, err := b.NativeBalance.Float64()
		if err != nil {
			return nil, fmt.Errorf("parse native balance: %w: %v", ErrUnavailable, err)
		}
		out[alert.NativeAsset] = v
	}
	for _, d := range b.Data {
		v, err := d.Amount.Float64()
		if err != nil {
			continue
		}
		out[d.MintAddress] = v
	}
	return out, nil
}

// Balance returns the wallet's holding of asset. A wallet without a token
// account for asset holds zero.
func (c *Client) Balance(ctx context.Context, wallet, asset string) (float64, error) {
	all, err := c.Balances(ctx, wallet)
	if err != nil {
		return 0, err
	}
	return all[asset], nil
}

// TVL returns the total value locked in a program, in USD.
func (c *Client) TVL(ctx context.Context, programID string) (float64, error) {
	var r struct {
		TVL float64 `json:"tvl"`
	}
	if err := c.getJSON(ctx, "/program/"+url.PathEscape(programID)+"/tvl", nil, &r); err != nil {
		return 0, fmt.Errorf("tvl %s: %w", programID, err)
	}
	return r.TVL, nil
}

// ActiveUsers returns the number of distinct signers of a program over timeframe.
func (c *Client) ActiveUsers(ctx context.Context, programID, timeframe string) (float64, error) {
	if timeframe == "" {
		timeframe = alert.DefaultTimeframe
	}
	var r struct {
		ActiveUsers float64 `json:"activeUsers"`
	}
	q := url.Values{"range": {timeframe}}
	if err := c.getJSON(ctx, "/program/"+url.PathEscape(programID)+"/active-users", q, &r); err != nil {
		return 0, fmt.Errorf("active users %s: %w", programID, err)
	}
	return r.ActiveUsers, nil
}

// --- HTTP helpers ---

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}
	body, err := c.breaker.Execute(func() (interface{}, error) {
		return c.httpGet(ctx, path, query)
	})
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return err
		}
		// gobreaker.ErrOpenState / ErrTooManyRequests
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(body.([]byte), out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnavailable, path, err)
	}
	return nil
}

func (c *Client) httpGet(ctx context.Context, path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d from %s", ErrUnavailable, resp.StatusCode, path)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	return body, nil
}
