package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"papertrader/internal/errors"
	"papertrader/internal/resilience"
)

// HTTPProvider queries a fee service over HTTP.
type HTTPProvider struct {
	client *resty.Client
}

// NewHTTPProvider creates a provider rooted at baseURL.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")

	return &HTTPProvider{client: client}
}

// FetchFeeInfo implements Provider.
func (p *HTTPProvider) FetchFeeInfo(ctx context.Context, exchange, asset string) (FeeInfo, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"exchange": exchange,
			"asset":    asset,
		}).
		Get("/fees")
	if err != nil {
		return FeeInfo{}, fmt.Errorf("%w: %v", errors.ErrFeeLookupFailed, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return FeeInfo{}, fmt.Errorf("%w: status %d: %s", errors.ErrFeeLookupFailed, resp.StatusCode(), resp.String())
	}

	var info FeeInfo
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return FeeInfo{}, fmt.Errorf("%w: decoding response: %v", errors.ErrFeeLookupFailed, err)
	}
	return info, nil
}

// StaticProvider serves schedules from configuration, keyed by lower-case
// exchange name.
type StaticProvider struct {
	schedules map[string]FeeInfo
}

// NewStaticProvider creates a provider over schedules.
func NewStaticProvider(schedules map[string]FeeInfo) *StaticProvider {
	normalised := make(map[string]FeeInfo, len(schedules))
	for k, v := range schedules {
		normalised[strings.ToLower(k)] = v
	}
	return &StaticProvider{schedules: normalised}
}

// FetchFeeInfo implements Provider.
func (p *StaticProvider) FetchFeeInfo(_ context.Context, exchange, _ string) (FeeInfo, error) {
	info, ok := p.schedules[strings.ToLower(exchange)]
	if !ok {
		return FeeInfo{}, fmt.Errorf("%w: no schedule for %s", errors.ErrFeeLookupFailed, exchange)
	}
	return info, nil
}

// ChainProvider tries providers in order and returns the first success.
type ChainProvider []Provider

// FetchFeeInfo implements Provider.
func (c ChainProvider) FetchFeeInfo(ctx context.Context, exchange, asset string) (FeeInfo, error) {
	err := fmt.Errorf("%w: no providers", errors.ErrFeeLookupFailed)
	for _, p := range c {
		var info FeeInfo
		if info, err = p.FetchFeeInfo(ctx, exchange, asset); err == nil {
			return info, nil
		}
	}
	return FeeInfo{}, err
}

// GuardedProvider wraps a provider with one circuit breaker per exchange so
// an unreachable fee service is not hammered on every agent start.
type GuardedProvider struct {
	next     Provider
	breakers *resilience.Registry
}

// NewGuardedProvider guards next with breakers from registry.
func NewGuardedProvider(next Provider, registry *resilience.Registry) *GuardedProvider {
	return &GuardedProvider{next: next, breakers: registry}
}

// FetchFeeInfo implements Provider.
func (g *GuardedProvider) FetchFeeInfo(ctx context.Context, exchange, asset string) (FeeInfo, error) {
	b := g.breakers.Get(strings.ToLower(exchange))
	info, err := resilience.Do(ctx, b, func(ctx context.Context) (FeeInfo, error) {
		return g.next.FetchFeeInfo(ctx, exchange, asset)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrOpen) {
			return FeeInfo{}, fmt.Errorf("%w: %v", errors.ErrFeeLookupFailed, err)
		}
		return FeeInfo{}, err
	}
	return info, nil
}
