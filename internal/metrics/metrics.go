// Package metrics exports cycle outcomes as Prometheus counters. The engine
// only knows about the Hooks interface; wiring this implementation in (or
// not) is an entrypoint decision.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scalemind/autoscalr/internal"
)

type Hooks struct {
	cycles    *prometheus.CounterVec
	scalings  *prometheus.CounterVec
	fallbacks prometheus.Counter
}

// NewHooks creates the counters and registers them with the given registerer.
func NewHooks(reg prometheus.Registerer) *Hooks {
	h := &Hooks{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscalr_cycles_total",
			Help: "Decision cycles by terminal outcome.",
		}, []string{"status", "skip_reason"}),
		scalings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "autoscalr_scalings_total",
			Help: "Executed scaling actions by direction.",
		}, []string{"direction"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoscalr_recommender_fallbacks_total",
			Help: "Cycles in which the fallback model produced the recommendation.",
		}),
	}

	reg.MustRegister(h.cycles, h.scalings, h.fallbacks)

	return h
}

func (h *Hooks) CycleFinished(outcome internal.CycleOutcome) {
	h.cycles.WithLabelValues(string(outcome.Status), string(outcome.SkipReason)).Inc()

	if outcome.UsedFallback {
		h.fallbacks.Inc()
	}
}

func (h *Hooks) ScalingExecuted(from, to uint32) {
	direction := "up"
	if to < from {
		direction = "down"
	}

	h.scalings.WithLabelValues(direction).Inc()
}
