package gis

import (
	"context"

	"github.com/twpayne/go-geom"

	"github.com/Samweli/GEEST/internal/geometry"
	"github.com/Samweli/GEEST/internal/model"
	"github.com/Samweli/GEEST/internal/resilience"
)

// Guarded decorates a Capability with a circuit breaker so a failing
// geospatial backend fails fast instead of stalling every worker.
// Missing source data and cancellations never trip the breaker.
type Guarded struct {
	inner Capability
	cb    *resilience.CircuitBreaker
}

// NewGuarded wraps inner with the given breaker. A nil breaker gets a
// default configuration that ignores data-unavailable and cancelled
// errors.
func NewGuarded(inner Capability, cb *resilience.CircuitBreaker) *Guarded {
	if cb == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.ShouldTrip = shouldTrip
		cb = resilience.NewCircuitBreaker(cfg)
	}
	return &Guarded{inner: inner, cb: cb}
}

// NewGuardedFromConfig builds the breaker from cfg, keeping the
// data-unavailable and cancellation exemptions regardless of what the
// config carries.
func NewGuardedFromConfig(inner Capability, cfg resilience.CircuitBreakerConfig) *Guarded {
	cfg.ShouldTrip = shouldTrip
	return &Guarded{inner: inner, cb: resilience.NewCircuitBreaker(cfg)}
}

func shouldTrip(err error) bool {
	switch model.KindOf(err) {
	case model.KindDataUnavailable, model.KindCancelled:
		return false
	}
	return err != nil
}

// Breaker exposes the underlying breaker for observability.
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.cb }

func (g *Guarded) SampleRaster(ctx context.Context, bbox geometry.BBox, source string) (*Grid, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (*Grid, error) {
		return g.inner.SampleRaster(ctx, bbox, source)
	})
}

func (g *Guarded) Reproject(ctx context.Context, gm geom.T, targetCRS string) (geom.T, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (geom.T, error) {
		return g.inner.Reproject(ctx, gm, targetCRS)
	})
}

func (g *Guarded) Rasterize(ctx context.Context, gm geom.T, cellSize float64) (*Grid, error) {
	return resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (*Grid, error) {
		return g.inner.Rasterize(ctx, gm, cellSize)
	})
}
