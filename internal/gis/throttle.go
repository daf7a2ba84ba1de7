package gis

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"golang.org/x/time/rate"

	"github.com/Samweli/GEEST/internal/geometry"
)

// Throttled decorates a Capability with a shared rate limiter so
// concurrent evaluation workers cannot overwhelm a slow or metered
// backend.
type Throttled struct {
	inner   Capability
	limiter *rate.Limiter
}

// NewThrottled wraps inner with an ops-per-second limit. A
// non-positive limit returns inner unwrapped.
func NewThrottled(inner Capability, opsPerSecond float64) Capability {
	if opsPerSecond <= 0 {
		return inner
	}
	return &Throttled{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), 1),
	}
}

func (t *Throttled) SampleRaster(ctx context.Context, bbox geometry.BBox, source string) (*Grid, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gis: rate limit wait")
	}
	return t.inner.SampleRaster(ctx, bbox, source)
}

func (t *Throttled) Reproject(ctx context.Context, g geom.T, targetCRS string) (geom.T, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gis: rate limit wait")
	}
	return t.inner.Reproject(ctx, g, targetCRS)
}

func (t *Throttled) Rasterize(ctx context.Context, g geom.T, cellSize float64) (*Grid, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gis: rate limit wait")
	}
	return t.inner.Rasterize(ctx, g, cellSize)
}
