// internal/emergency/geo/provider.go
package geo

import (
	"context"
	"sync"
	"time"

	"maternalhub-agent/internal/models"
)

// Provider yields a best-effort location fix. Any error means "no location";
// the dispatcher never blocks an alert on it.
type Provider interface {
	Locate(ctx context.Context) (*models.Location, error)
}

// ProviderFunc adapts an ordinary function to a Provider.
type ProviderFunc func(ctx context.Context) (*models.Location, error)

func (f ProviderFunc) Locate(ctx context.Context) (*models.Location, error) {
	return f(ctx)
}

// Static always reports a fixed coordinate, for deployments that configure
// home coordinates instead of a live fix source.
type Static struct {
	Lat float64
	Lng float64
}

func (s Static) Locate(ctx context.Context) (*models.Location, error) {
	return &models.Location{Lat: s.Lat, Lng: s.Lng}, nil
}

// Cached wraps a Provider with a bounded wait and acceptance of a recent
// cached fix, mirroring the getCurrentPosition timeout/maximumAge options.
type Cached struct {
	inner   Provider
	timeout time.Duration
	maxAge  time.Duration

	mu      sync.Mutex
	lastFix *models.Location
	lastAt  time.Time
}

func NewCached(inner Provider, timeout, maxAge time.Duration) *Cached {
	return &Cached{
		inner:   inner,
		timeout: timeout,
		maxAge:  maxAge,
	}
}

// Locate returns the cached fix when fresh enough, otherwise asks the inner
// provider with the configured timeout. On success the cache is refreshed;
// on failure any error is returned as-is for the caller to degrade on.
func (c *Cached) Locate(ctx context.Context) (*models.Location, error) {
	c.mu.Lock()
	if c.lastFix != nil && time.Since(c.lastAt) <= c.maxAge {
		fix := *c.lastFix
		c.mu.Unlock()
		return &fix, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fix, err := c.inner.Locate(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastFix = fix
	c.lastAt = time.Now()
	c.mu.Unlock()

	out := *fix
	return &out, nil
}
