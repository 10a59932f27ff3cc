package session

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often the sweeper looks for expired sessions.
const DefaultSweepInterval = 5 * time.Second

// StartSweeper launches a background goroutine that calls Sweep every
// interval. Call StopSweeper to shut it down.
func (r *Registry) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	r.sweepStop = make(chan struct{})
	r.sweepDone = make(chan struct{})

	go r.sweepLoop(interval)
	r.logger.Info("session sweeper started", "interval", interval)
}

// StopSweeper shuts down the sweeper goroutine.
func (r *Registry) StopSweeper() {
	if r.sweepStop != nil {
		close(r.sweepStop)
		<-r.sweepDone
		r.sweepStop = nil
		r.sweepDone = nil
	}
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.sweepStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := r.Sweep(ctx)
			cancel()
			if err != nil {
				r.logger.Error("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.Info("expired sessions closed", "count", n)
			}
		}
	}
}
