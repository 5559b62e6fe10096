package workerproc

import (
	"context"
	"time"

	"github.com/Joshi004/moments-pipeline/internal/log"
	"github.com/Joshi004/moments-pipeline/internal/queue"
)

// Sweeper periodically reclaims stream entries idle longer than the
// configured threshold, covering worker crashes mid-run. Grounded on the
// teacher's Sweeper.Run ticker-driven background loop.
type Sweeper struct {
	Queue    *queue.Dispatcher
	Group    string
	Consumer string
	Interval time.Duration
	MinIdle  time.Duration
}

// Run ticks until ctx is cancelled, reclaiming idle entries on each tick.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("sweeper")
	logger.Info().Dur("interval", interval).Msg("reclaim sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Queue.ReclaimIdle(ctx, s.Group, s.Consumer, s.MinIdle, 50); err != nil {
				logger.Warn().Err(err).Msg("reclaim sweep failed")
			}
		}
	}
}
