// Package fees resolves exchange fee schedules into fractional rates.
package fees

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"papertrader/internal/errors"
	"papertrader/internal/metrics"
	"papertrader/internal/models"
)

// DefaultRate is applied whenever a schedule cannot be fetched or parsed.
const DefaultRate = 0.001

// FeeInfo is the raw schedule reported by a fee service. Rates are
// percentage strings such as "0.1%", "0.015% - 0.098%" or "-0.01%".
type FeeInfo struct {
	MakerRate string `json:"makerRate"`
	TakerRate string `json:"takerRate"`
	Note      string `json:"note,omitempty"`
}

// Provider fetches fee schedules.
type Provider interface {
	FetchFeeInfo(ctx context.Context, exchange, asset string) (FeeInfo, error)
}

// Default returns the fallback schedule.
func Default() models.ExchangeFees {
	return models.ExchangeFees{Maker: DefaultRate, Taker: DefaultRate, Note: "Default 0.1% fee"}
}

var hundred = decimal.NewFromInt(100)

// percentToken finds the first signed "n%" inside annotated schedules
// such as "0.1% (VIP 0)".
var percentToken = regexp.MustCompile(`-?(?:\d+(?:\.\d+)?|\.\d+)\s*%`)

// ParseRate converts a percentage string into a fractional rate. Ranges
// resolve to their higher bound. An empty string means the default rate.
func ParseRate(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRate, nil
	}

	// A hyphen after the first character separates a range; a leading one
	// is a sign.
	if idx := strings.Index(s[1:], "-"); idx >= 0 {
		lo, errLo := parsePercent(s[:idx+1])
		hi, errHi := parsePercent(s[idx+2:])
		if errLo == nil && errHi == nil {
			return decimal.Max(lo, hi).Div(hundred).InexactFloat64(), nil
		}
	}

	d, err := parsePercent(s)
	if err != nil {
		return 0, err
	}
	return d.Div(hundred).InexactFloat64(), nil
}

// parsePercent accepts a bare number ("0.2"), a percentage ("0.1 %") or
// text carrying one percentage.
func parsePercent(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%"))); err == nil {
		return d, nil
	}
	if tok := percentToken.FindString(s); tok != "" {
		return decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(tok, "%")))
	}
	return decimal.Zero, fmt.Errorf("%w: %q", errors.ErrFeeFormat, s)
}

// Resolver turns provider output into ExchangeFees, never failing.
type Resolver struct {
	provider Provider
	fallback models.ExchangeFees
	logger   zerolog.Logger
}

// NewResolver creates a resolver. A nil provider always yields the fallback
// schedule, Default() unless changed with WithFallback.
func NewResolver(provider Provider, logger zerolog.Logger) *Resolver {
	return &Resolver{provider: provider, fallback: Default(), logger: logger.With().Str("component", "fees").Logger()}
}

// WithFallback replaces the schedule used when lookups fail. Non-positive
// rates keep the built-in default.
func (r *Resolver) WithFallback(f models.ExchangeFees) *Resolver {
	if f.Maker > 0 {
		r.fallback.Maker = f.Maker
	}
	if f.Taker > 0 {
		r.fallback.Taker = f.Taker
	}
	if f.Note != "" {
		r.fallback.Note = f.Note
	}
	return r
}

// Resolve fetches and parses the schedule for exchange and asset, falling
// back to the fallback schedule on any error.
func (r *Resolver) Resolve(ctx context.Context, exchange, asset string) models.ExchangeFees {
	if r == nil {
		return Default()
	}
	if r.provider == nil {
		return r.fallback
	}

	info, err := r.provider.FetchFeeInfo(ctx, exchange, strings.ToLower(asset))
	if err != nil {
		r.logger.Warn().Err(err).Str("exchange", exchange).Msg("Fee lookup failed, using default")
		metrics.FeeFallbacks.WithLabelValues(exchange).Inc()
		return r.fallback
	}

	fees := models.ExchangeFees{Note: info.Note}
	if fees.Note == "" {
		fees.Note = exchange + " fees"
	}

	var fellBack bool
	if fees.Maker, err = ParseRate(info.MakerRate); err != nil {
		r.logger.Warn().Err(err).Str("exchange", exchange).Msg("Unparseable maker fee, using default")
		fees.Maker, fellBack = r.fallback.Maker, true
	}
	if fees.Taker, err = ParseRate(info.TakerRate); err != nil {
		r.logger.Warn().Err(err).Str("exchange", exchange).Msg("Unparseable taker fee, using default")
		fees.Taker, fellBack = r.fallback.Taker, true
	}
	if fellBack {
		metrics.FeeFallbacks.WithLabelValues(exchange).Inc()
	}

	r.logger.Info().
		Str("exchange", exchange).
		Float64("maker", fees.Maker).
		Float64("taker", fees.Taker).
		Msg("Loaded fees")
	return fees
}
