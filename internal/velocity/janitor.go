package velocity

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbd888/riskflow/internal/metrics"
)

// Janitor periodically decays every tracked counter by a fixed factor,
// approximating a 24h window without per-increment timestamps. It replaces
// the windowing a stream framework would provide; disabled unless an
// interval is configured.
type Janitor struct {
	store    *Store
	interval time.Duration
	factor   float64
	logger   *slog.Logger
	stop     chan struct{}
}

// NewJanitor creates a decay task for store. factor is the multiplier
// applied to every counter each interval (e.g. 0.9 hourly).
func NewJanitor(store *Store, interval time.Duration, factor float64, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		factor:   factor,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start runs the decay loop until ctx is cancelled or Stop is called.
// Call in a goroutine.
func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("velocity janitor started", "interval", j.interval, "factor", j.factor)
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

// Stop terminates the decay loop.
func (j *Janitor) Stop() {
	close(j.stop)
}

func (j *Janitor) sweep() {
	keys := j.store.Keys()
	for _, k := range keys {
		j.store.Decay(k, j.factor)
	}
	metrics.VelocityKeyCount.Set(float64(len(keys)))
	j.logger.Debug("velocity decay sweep complete", "keys", len(keys))
}
