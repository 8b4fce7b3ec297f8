// Package pollmetrics instruments a poll.Poll's tick stream for Prometheus,
// mirroring this codebase's convention of package-level *Vec metrics
// registered once in init and updated from an observer callback rather than
// threaded through call sites.
package pollmetrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmax-ai/pollwatch/pkg/poll"
)

var (
	// IntervalMillis is the interval installed by the most recently
	// observed tick, per poll name.
	IntervalMillis = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pollwatch_interval_ms",
			Help: "Interval in milliseconds installed by the most recent tick",
		},
		[]string{"name"},
	)

	// PhaseTotal counts ticks by the phase they installed.
	PhaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pollwatch_phase_total",
			Help: "Total number of ticks installed, by phase",
		},
		[]string{"name", "phase"},
	)

	// TickDurationSeconds measures wall time from tick installation to
	// factory settlement. Skipped ticks (standby, refresh) are not
	// meaningfully timed and are excluded.
	TickDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pollwatch_tick_duration_seconds",
			Help:    "Wall time from tick installation to the next tick's installation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(IntervalMillis)
	prometheus.MustRegister(PhaseTotal)
	prometheus.MustRegister(TickDurationSeconds)
}

// Watch subscribes to a poll's ticked broadcast and updates the package
// metrics for every installed tick, until the subscription closes (the poll
// is disposed) or ctx is canceled.
func Watch[T any](ctx context.Context, name string, p *poll.Poll[T]) {
	sub, unsub := p.Ticked()
	defer unsub()

	var lastAt time.Time
	for {
		select {
		case tick, ok := <-sub:
			if !ok {
				return
			}
			IntervalMillis.WithLabelValues(name).Set(float64(tick.Interval.Milliseconds()))
			PhaseTotal.WithLabelValues(name, string(tick.Phase)).Inc()
			if !lastAt.IsZero() && tick.Phase != poll.PhaseStandby && tick.Phase != poll.PhaseRefresh {
				TickDurationSeconds.WithLabelValues(name).Observe(tick.At.Sub(lastAt).Seconds())
			}
			lastAt = tick.At
		case <-ctx.Done():
			return
		}
	}
}
