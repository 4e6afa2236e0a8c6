package market

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestParseSymbol(t *testing.T) {
	tests := []struct {
		query    string
		symbol   string
		exchange string
		ok       bool
	}{
		{"NSE:RELIANCE", "RELIANCE", "NSE", true},
		{"RELIANCE on BSE", "RELIANCE", "BSE", true},
		{"tell me about TCS", "TCS", "NSE", true},
		{"random unrelated text", "", "", false},
		{"quote for bse:infy please", "INFY", "BSE", true},
		{"Do live analysis of RELIANCE stock traded at NSE", "RELIANCE", "NSE", true},
		{"what does MCX GOLDM look like", "GOLDM", "MCX", true},
		{"how is the lt share doing", "LT", "NSE", true},
		{"it is a salty day", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			sym, ex, ok := ParseSymbol(tt.query)
			if ok != tt.ok || sym != tt.symbol || ex != tt.exchange {
				t.Errorf("ParseSymbol(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.query, sym, ex, ok, tt.symbol, tt.exchange, tt.ok)
			}
		})
	}
}

func TestInstrumentKey(t *testing.T) {
	if got := InstrumentKey("reliance", "bse"); got != "BSE:RELIANCE" {
		t.Errorf("unexpected key %s", got)
	}
	if got := InstrumentKey("TCS", ""); got != "NSE:TCS" {
		t.Errorf("expected default exchange, got %s", got)
	}
}

func TestHTTPSourceQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("i") != "NSE:RELIANCE" {
			t.Errorf("unexpected instrument %q", r.URL.Query().Get("i"))
		}
		if r.Header.Get("Authorization") != "token k:t" {
			t.Errorf("missing auth header")
		}
		_, _ = io.WriteString(w, `{"status":"success","data":{"NSE:RELIANCE":{
			"last_price": 2931.5, "volume": 120034, "net_change": 12.5, "instrument_token": 738561,
			"ohlc": {"open": 2910, "high": 2940, "low": 2901, "close": 2919}}}}`)
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL+"/", "k:t")
	q, err := src.Quote(context.Background(), "RELIANCE", "NSE")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.LastPrice != 2931.5 || q.Volume != 120034 || q.OHLC.High != 2940 || q.InstrumentToken != 738561 {
		t.Errorf("unexpected quote: %+v", q)
	}
	if q.Symbol != "RELIANCE" || q.Exchange != "NSE" {
		t.Errorf("unexpected instrument %s:%s", q.Exchange, q.Symbol)
	}
}

func TestHTTPSourceRejectsMissingSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"success","data":{"NSE:TCS":{"last_price":1}}}`)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "").Quote(context.Background(), "RELIANCE", "NSE")
	if !errors.Is(err, ErrSymbolMissing) {
		t.Errorf("expected ErrSymbolMissing, got %v", err)
	}
}

func TestHTTPSourceUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(srv.URL, "").Quote(context.Background(), "TCS", "NSE")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestAuthenticateRetries(t *testing.T) {
	calls := 0
	login := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("login required")
		}
		return nil
	}
	if err := authenticate(context.Background(), login, &backoff.ZeroBackOff{}); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestAuthenticateGivesUp(t *testing.T) {
	calls := 0
	login := func(context.Context) error {
		calls++
		return errors.New("login required")
	}
	err := authenticate(context.Background(), login, &backoff.ZeroBackOff{})
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
	if calls != AuthAttempts {
		t.Errorf("expected %d calls, got %d", AuthAttempts, calls)
	}
}

func TestSimulatedWalk(t *testing.T) {
	s := NewSimulated(42)
	first, err := s.Quote(context.Background(), "reliance", "")
	if err != nil {
		t.Fatal(err)
	}
	if first.Exchange != "NSE" || first.Symbol != "RELIANCE" {
		t.Errorf("unexpected instrument %+v", first)
	}
	for i := 0; i < 50; i++ {
		q, _ := s.Quote(context.Background(), "RELIANCE", "NSE")
		if q.LastPrice <= 0 || q.OHLC.Low > q.LastPrice || q.OHLC.High < q.LastPrice {
			t.Fatalf("inconsistent quote %+v", q)
		}
	}
}

type flakySource struct {
	calls int
	inner Source
}

func (f *flakySource) Quote(ctx context.Context, symbol, exchange string) (Quote, error) {
	f.calls++
	if f.calls == 1 {
		return Quote{}, errors.New("upstream hiccup")
	}
	return f.inner.Quote(ctx, symbol, exchange)
}

func TestPollerStreamsUntilWindow(t *testing.T) {
	src := &flakySource{inner: NewSimulated(1)}
	p := NewPoller(src, 10*time.Millisecond)

	seen := 0
	n, err := p.Stream(context.Background(), "TCS", "NSE", 80*time.Millisecond, func(Quote) { seen++ })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if n == 0 || n != seen {
		t.Errorf("expected received count to match callbacks, got %d and %d", n, seen)
	}
	if src.calls < 2 {
		t.Errorf("expected polling to continue after a failure, got %d calls", src.calls)
	}
	if got := len(p.History("TCS", "NSE")); got != n {
		t.Errorf("expected %d quotes in history, got %d", n, got)
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	p := NewPoller(NewSimulated(1), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Stream(ctx, "TCS", "NSE", time.Minute, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
