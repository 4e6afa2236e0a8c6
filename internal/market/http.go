package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AuthAttempts bounds how often Authenticate tries to log in.
const AuthAttempts = 3

var ErrAuthFailed = errors.New("authentication failed")

// HTTPSource fetches quotes from a Kite style REST endpoint:
// GET <base>/quote?i=NSE:RELIANCE.
type HTTPSource struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

type quoteResponse struct {
	Status  string                `json:"status"`
	Message string                `json:"message"`
	Data    map[string]quoteEntry `json:"data"`
}

type quoteEntry struct {
	LastPrice       float64 `json:"last_price"`
	Volume          int64   `json:"volume"`
	OHLC            OHLC    `json:"ohlc"`
	NetChange       float64 `json:"net_change"`
	InstrumentToken int64   `json:"instrument_token"`
}

func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPSource) Quote(ctx context.Context, symbol, exchange string) (Quote, error) {
	key := InstrumentKey(symbol, exchange)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/quote?i="+url.QueryEscape(key), nil)
	if err != nil {
		return Quote{}, err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "token "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Quote{}, fmt.Errorf("quote %s: %w", key, ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("quote %s: unexpected status %d", key, resp.StatusCode)
	}

	var body quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Quote{}, fmt.Errorf("decode quote %s: %w", key, err)
	}
	if body.Status != "success" {
		return Quote{}, fmt.Errorf("quote %s: status %q: %s", key, body.Status, body.Message)
	}

	return extractQuote(body.Data, symbol, exchange)
}

// extractQuote picks the entry whose instrument key names symbol.
func extractQuote(data map[string]quoteEntry, symbol, exchange string) (Quote, error) {
	want := InstrumentKey(symbol, exchange)
	entry, ok := data[want]
	if !ok {
		for k, v := range data {
			if strings.Contains(strings.ToUpper(k), strings.ToUpper(symbol)) {
				entry, ok, want = v, true, k
				break
			}
		}
	}
	if !ok {
		return Quote{}, fmt.Errorf("%s: %w", InstrumentKey(symbol, exchange), ErrSymbolMissing)
	}

	ex, sym, _ := strings.Cut(want, ":")
	return Quote{
		Symbol:          sym,
		Exchange:        ex,
		LastPrice:       entry.LastPrice,
		Volume:          entry.Volume,
		OHLC:            entry.OHLC,
		NetChange:       entry.NetChange,
		InstrumentToken: entry.InstrumentToken,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// Authenticate calls login until it succeeds, giving up after AuthAttempts
// attempts with exponential backoff between them.
func Authenticate(ctx context.Context, login func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	return authenticate(ctx, login, b)
}

func authenticate(ctx context.Context, login func(context.Context) error, b backoff.BackOff) error {
	attempt := 0
	op := func() error {
		attempt++
		err := login(ctx)
		if err != nil {
			slog.Warn("market login failed", "attempt", attempt, "of", AuthAttempts, "error", err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, AuthAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("%w after %d attempts: %v", ErrAuthFailed, attempt, err)
	}
	return nil
}
