// Package market pushes price changes to sales channels.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/autoprice/internal/config"
	"github.com/sells-group/autoprice/internal/resilience"
)

// Adapter updates the live price of one listing. A nil error means the
// market accepted the price.
type Adapter interface {
	UpdatePrice(ctx context.Context, accountID, listingRef string, newPrice int64) error
}

// ErrNotSent marks a call that was abandoned before any request reached the
// market, such as a rate limit wait that would outlast the deadline.
var ErrNotSent = eris.New("market: request not sent")

// IsNotSent reports whether err means the market never saw the request.
func IsNotSent(err error) bool {
	return errors.Is(err, ErrNotSent)
}

// APIError is a non-2xx response from the market API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the HTTP adapter.
type Option func(*HTTPAdapter)

// WithHTTPClient sets the HTTP client used for market calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *HTTPAdapter) {
		a.http = hc
	}
}

// WithToken sets the bearer token sent with each request.
func WithToken(token string) Option {
	return func(a *HTTPAdapter) {
		a.token = token
	}
}

// WithRateLimit sets the per-account request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(a *HTTPAdapter) {
		if rps > 0 {
			a.rps = rate.Limit(rps)
		}
		if burst > 0 {
			a.burst = burst
		}
	}
}

// WithBreakers sets the per-account circuit breakers.
func WithBreakers(b *resilience.Breakers) Option {
	return func(a *HTTPAdapter) {
		a.breakers = b
	}
}

// HTTPAdapter is a thin JSON-over-HTTP market client. Each account gets its
// own rate limiter and circuit breaker.
type HTTPAdapter struct {
	baseURL  string
	token    string
	http     *http.Client
	breakers *resilience.Breakers
	rps      rate.Limit
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPAdapter creates an adapter for the market API at baseURL.
func NewHTTPAdapter(baseURL string, opts ...Option) *HTTPAdapter {
	a := &HTTPAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		breakers: resilience.NewBreakers(resilience.BreakerConfig{}),
		rps:      5,
		burst:    1,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// NewFromConfig builds an HTTPAdapter from the market config section.
func NewFromConfig(cfg config.MarketConfig) *HTTPAdapter {
	return NewHTTPAdapter(cfg.BaseURL,
		WithToken(cfg.Token),
		WithRateLimit(cfg.RateLimit, cfg.Burst),
		WithBreakers(resilience.NewBreakers(resilience.FromCircuitConfig(cfg.Circuit))),
	)
}

// Breakers exposes the per-account breakers for health reporting.
func (a *HTTPAdapter) Breakers() *resilience.Breakers {
	return a.breakers
}

type priceRequest struct {
	Price int64 `json:"price"`
}

// UpdatePrice sends PUT {base}/accounts/{account}/listings/{ref}/price.
// Transient failures (429, 5xx, timeouts) count toward the account breaker;
// an open breaker returns an error matching resilience.ErrCircuitOpen and a
// rate limit wait that cannot finish in time returns one matching ErrNotSent.
func (a *HTTPAdapter) UpdatePrice(ctx context.Context, accountID, listingRef string, newPrice int64) error {
	if a.baseURL == "" {
		return eris.New("market: base url not configured")
	}
	if err := a.limiter(accountID).Wait(ctx); err != nil {
		return eris.Wrapf(ErrNotSent, "rate limit wait: %v", err)
	}

	return a.breakers.For(accountID).Do(ctx, func(ctx context.Context) error {
		return a.put(ctx, accountID, listingRef, newPrice)
	})
}

func (a *HTTPAdapter) put(ctx context.Context, accountID, listingRef string, newPrice int64) error {
	buf, err := json.Marshal(priceRequest{Price: newPrice})
	if err != nil {
		return eris.Wrap(err, "market: marshal request")
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/listings/%s/price",
		a.baseURL, url.PathEscape(accountID), url.PathEscape(listingRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "market: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "market: execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.NewTransientError(apiErr, resp.StatusCode)
	}
	return apiErr
}

func (a *HTTPAdapter) limiter(accountID string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[accountID]
	if !ok {
		l = rate.NewLimiter(a.rps, a.burst)
		a.limiters[accountID] = l
	}
	return l
}
