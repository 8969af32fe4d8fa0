// Package retry wraps flaky provider calls with bounded retries and
// jittered exponential backoff. Only errors that look transient are
// retried; everything else fails fast.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"math/big"
	"strings"
	"time"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	logger *log.Logger
	config Config
}

func NewClient(logger *log.Logger, config ...Config) *Client {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		logger: logger,
		config: cfg,
	}
}

// Do runs fn until it succeeds, exhausts retries, or the deadline hits.
// label names the operation in logs.
func (c *Client) Do(ctx context.Context, label string, fn func() error) error {
	_, err := DoValue(ctx, c, label, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoValue is Do for operations that return a value alongside the error.
func DoValue[T any](ctx context.Context, c *Client, label string, fn func() (T, error)) (T, error) {
	var zero T

	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-opCtx.Done():
			return zero, fmt.Errorf("%s timed out after %v: %w", label, c.config.Timeout, opCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, ctx.Err())
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				c.logger.Printf("%s succeeded on attempt %d", label, attempt+1)
			}
			return result, nil
		}

		lastErr = err
		c.logger.Printf("%s attempt %d/%d failed: %v", label, attempt+1, c.config.MaxRetries+1, err)

		if IsTransient(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.nextBackoff(backoff)
			case <-opCtx.Done():
				return zero, fmt.Errorf("%s timed out during backoff: %w", label, opCtx.Err())
			case <-ctx.Done():
				return zero, fmt.Errorf("%s canceled during backoff: %w", label, ctx.Err())
			}
		} else {
			break
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			jitter := time.Duration(jitterVal.Int64())
			backoff += jitter
		}
	}

	return backoff
}

// IsTransient reports whether err looks like a retryable provider hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
