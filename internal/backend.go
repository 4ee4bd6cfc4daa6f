package internal

import (
	"context"
	"time"
)

// Topology is the current shape of the scale set, as reported by the compute
// backend plus the configured bounds. Backends may narrow MinInstances and
// MaxInstances to the limits the provider enforces; the engine clamps the
// recommended capacity against whatever range is reported here.
type Topology struct {
	Identity        string
	CurrentCapacity uint32
	MinInstances    uint32
	MaxInstances    uint32
	VMSize          string
}

// ComputeBackend abstracts the provider-specific scale set operations. One
// implementation exists per provider; the decision engine never knows which
// one it is talking to.
//
// SetCapacity must be safe to retry: providers treat setting the capacity to
// its current value as a no-op.
type ComputeBackend interface {
	GetTopology(ctx context.Context) (*Topology, error)
	SetCapacity(ctx context.Context, target uint32) error
}

// MetricsSource fetches the raw metric series for the scale set. A partially
// populated or empty map means "no data yet" and is not an error; only
// transport failures are.
type MetricsSource interface {
	FetchMetrics(ctx context.Context, lookback, interval time.Duration) (map[Dimension]MetricSeries, error)
}

// TemplateSource reads a user-supplied prompt template. Injected so that the
// prompt builder stays testable without touching the filesystem.
type TemplateSource interface {
	Read(path string) (string, error)
}
