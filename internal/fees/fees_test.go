package fees

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"papertrader/internal/errors"
	"papertrader/internal/models"
	"papertrader/internal/resilience"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.1%", 0.001},
		{"0.075 %", 0.00075},
		{"0.015% - 0.098%", 0.00098},
		{"0.098%-0.015%", 0.00098},
		{"-0.01%", -0.0001},
		{"-0.01% - 0.02%", 0.0002},
		{"", DefaultRate},
		{"0.2", 0.002},
		{"0.1% (VIP tiers)", 0.001},
		{"VIP 0: 0.075%", 0.00075},
		{"0.1% (non-VIP)", 0.001},
		{"0.02% - 0.055% (spot)", 0.00055},
	}

	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		if err != nil {
			t.Fatalf("ParseRate(%q): %v", tt.in, err)
		}
		if !approx(got, tt.want) {
			t.Fatalf("ParseRate(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseRateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"free", "n/a%", "abc%", "tiered"} {
		if _, err := ParseRate(in); !errors.Is(err, errors.ErrFeeFormat) {
			t.Fatalf("ParseRate(%q) error = %v, want ErrFeeFormat", in, err)
		}
	}
}

type failingProvider struct{}

func (failingProvider) FetchFeeInfo(context.Context, string, string) (FeeInfo, error) {
	return FeeInfo{}, errors.ErrFeeLookupFailed
}

func TestResolverFallsBackToDefault(t *testing.T) {
	r := NewResolver(failingProvider{}, zerolog.Nop())
	got := r.Resolve(context.Background(), "binance", "BTCUSDT")
	if got != Default() {
		t.Fatalf("got %+v, want default", got)
	}

	if got := NewResolver(nil, zerolog.Nop()).Resolve(context.Background(), "x", "y"); got != Default() {
		t.Fatalf("nil provider: got %+v", got)
	}
}

func TestResolverCustomFallback(t *testing.T) {
	r := NewResolver(failingProvider{}, zerolog.Nop()).WithFallback(models.ExchangeFees{Taker: 0.002})
	got := r.Resolve(context.Background(), "binance", "BTCUSDT")
	if got.Taker != 0.002 || got.Maker != DefaultRate {
		t.Fatalf("got %+v", got)
	}
}

func TestResolverParseFailureUsesDefaultPerField(t *testing.T) {
	p := NewStaticProvider(map[string]FeeInfo{
		"Kraken": {MakerRate: "0.16%", TakerRate: "garbage"},
	})
	got := NewResolver(p, zerolog.Nop()).Resolve(context.Background(), "kraken", "XBTUSD")

	if !approx(got.Maker, 0.0016) || got.Taker != DefaultRate {
		t.Fatalf("got %+v", got)
	}
	if got.Note != "kraken fees" {
		t.Fatalf("unexpected note %q", got.Note)
	}
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fees" || r.URL.Query().Get("exchange") != "bybit" || r.URL.Query().Get("asset") != "ethusdt" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"makerRate":"0.02%","takerRate":"0.055%","note":"VIP 0"}`))
	}))
	defer srv.Close()

	r := NewResolver(NewHTTPProvider(srv.URL, time.Second), zerolog.Nop())
	got := r.Resolve(context.Background(), "bybit", "ETHUSDT")

	if !approx(got.Maker, 0.0002) || !approx(got.Taker, 0.00055) || got.Note != "VIP 0" {
		t.Fatalf("got %+v", got)
	}
}

func TestHTTPProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPProvider(srv.URL, time.Second).FetchFeeInfo(context.Background(), "binance", "btcusdt")
	if !errors.Is(err, errors.ErrFeeLookupFailed) {
		t.Fatalf("expected ErrFeeLookupFailed, got %v", err)
	}
}

func TestChainProvider(t *testing.T) {
	chain := ChainProvider{failingProvider{}, NewStaticProvider(map[string]FeeInfo{"binance": {MakerRate: "0.1%", TakerRate: "0.1%"}})}
	info, err := chain.FetchFeeInfo(context.Background(), "binance", "btcusdt")
	if err != nil || info.TakerRate != "0.1%" {
		t.Fatalf("got %+v, %v", info, err)
	}
}

type countingProvider struct{ calls int }

func (c *countingProvider) FetchFeeInfo(context.Context, string, string) (FeeInfo, error) {
	c.calls++
	return FeeInfo{}, errors.ErrFeeLookupFailed
}

func TestGuardedProviderStopsCallingAfterTrip(t *testing.T) {
	inner := &countingProvider{}
	g := NewGuardedProvider(inner, resilience.NewRegistry(resilience.Config{FailureThreshold: 2, Cooldown: time.Hour}))
	r := NewResolver(g, zerolog.Nop())

	for i := 0; i < 5; i++ {
		if got := r.Resolve(context.Background(), "Binance", "BTCUSDT"); got != Default() {
			t.Fatalf("got %+v", got)
		}
	}
	if inner.calls != 2 {
		t.Fatalf("inner called %d times, want 2", inner.calls)
	}

	_, err := g.FetchFeeInfo(context.Background(), "binance", "btcusdt")
	if !errors.Is(err, errors.ErrFeeLookupFailed) {
		t.Fatalf("open breaker error %v", err)
	}
}

func TestProperty_RangeUsesHigherBound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("range parses to max(lo, hi)/100", prop.ForAll(
		func(a, b int) bool {
			lo := float64(a) / 1000
			hi := float64(b) / 1000
			got, err := ParseRate(formatPct(lo) + " - " + formatPct(hi))
			if err != nil {
				return false
			}
			return math.Abs(got-math.Max(lo, hi)/100) < 1e-12
		},
		gen.IntRange(0, 5000),
		gen.IntRange(0, 5000),
	))

	properties.TestingRun(t)
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
