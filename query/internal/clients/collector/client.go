// Package collector is the query service's HTTP client for the collector's
// stats and recent-events endpoints. A small circuit breaker keeps a dead
// collector from stalling every aggregation request.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"assettrack/collector/pipeline"
	"assettrack/shared/config"
	"assettrack/shared/events"
	"assettrack/shared/fault"
)

type Client struct {
	rest    *resty.Client
	breaker *circuitBreaker
}

func New(cfg config.Config) (*Client, error) {
	if cfg.CollectorURL == "" {
		return nil, errors.New("COLLECTOR_URL is required")
	}
	rest := resty.New().
		SetBaseURL(cfg.CollectorURL).
		SetTimeout(time.Duration(cfg.CollectorTimeoutMS) * time.Millisecond).
		SetRetryCount(1).
		SetHeader("Accept", "application/json")
	return &Client{
		rest:    rest,
		breaker: newCircuitBreaker(5, 30*time.Second),
	}, nil
}

func (c *Client) Stats(ctx context.Context) (pipeline.Snapshot, error) {
	var out pipeline.Snapshot
	if err := c.get(ctx, "/stats", &out); err != nil {
		return pipeline.Snapshot{}, err
	}
	return out, nil
}

type recentResponse struct {
	Events []events.Envelope `json:"events"`
	Count  int               `json:"count"`
}

func (c *Client) RecentEvents(ctx context.Context, limit int) ([]events.Envelope, error) {
	var out recentResponse
	path := fmt.Sprintf("/events?limit=%d", limit)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.rest.R().SetContext(ctx).Get("/healthz")
	return err == nil && resp.IsSuccess()
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.breaker.Open() {
		return fmt.Errorf("%w: collector circuit open", fault.ErrQueueUnavailable)
	}
	resp, err := c.rest.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		c.breaker.Fail()
		return fmt.Errorf("%w: collector unreachable: %v", fault.ErrQueueUnavailable, err)
	}
	if resp.IsError() {
		c.breaker.Fail()
		return fmt.Errorf("%w: collector returned %d", fault.ErrQueueUnavailable, resp.StatusCode())
	}
	c.breaker.Success()
	return nil
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if time.Now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = time.Now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
