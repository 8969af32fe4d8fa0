package market

import (
	"context"
	"fmt"
	"time"

	"github.com/neuralprobe/D4/internal/models"
	"github.com/neuralprobe/D4/internal/retry"
)

// RetryingProvider wraps another Provider with bounded retries so a
// transient data-API hiccup does not cost a tick its bars. Non-transient
// failures surface immediately.
type RetryingProvider struct {
	inner  Provider
	client *retry.Client
}

var _ Provider = (*RetryingProvider)(nil)

// NewRetryingProvider decorates inner with the retry client's policy.
func NewRetryingProvider(inner Provider, client *retry.Client) *RetryingProvider {
	if inner == nil {
		panic("market.NewRetryingProvider: inner provider must not be nil")
	}
	if client == nil {
		panic("market.NewRetryingProvider: retry client must not be nil")
	}
	return &RetryingProvider{inner: inner, client: client}
}

// GetBars delegates to the inner provider, retrying transient failures.
func (p *RetryingProvider) GetBars(ctx context.Context, symbols []string, tf Timeframe, start, end time.Time) (map[string][]models.Bar, error) {
	label := fmt.Sprintf("%s bars for %d symbols", tf, len(symbols))
	return retry.DoValue(ctx, p.client, label, func() (map[string][]models.Bar, error) {
		return p.inner.GetBars(ctx, symbols, tf, start, end)
	})
}
