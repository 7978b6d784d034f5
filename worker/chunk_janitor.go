package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"notekeeper/metrics"
	"notekeeper/utils"
)

const DefaultSweepInterval = time.Hour

// Sweeper removes chunk sessions idle for longer than ttl
type Sweeper interface {
	SweepStale(ttl time.Duration) (int, error)
}

// ChunkJanitor periodically deletes abandoned chunked-upload sessions
type ChunkJanitor struct {
	Sweeper  Sweeper
	TTL      time.Duration
	Interval time.Duration
	Logger   *logrus.Logger
}

func NewChunkJanitor(sweeper Sweeper, ttl time.Duration, logger *logrus.Logger) *ChunkJanitor {
	return &ChunkJanitor{
		Sweeper:  sweeper,
		TTL:      ttl,
		Interval: DefaultSweepInterval,
		Logger:   logger,
	}
}

// Start blocks until ctx is cancelled. A zero TTL disables the janitor.
func (cj *ChunkJanitor) Start(ctx context.Context) {
	if cj.TTL <= 0 || cj.Interval <= 0 {
		cj.Logger.Info("Chunk janitor disabled")
		return
	}

	cj.Logger.WithFields(logrus.Fields{
		"ttl":      utils.FormatDuration(cj.TTL),
		"interval": utils.FormatDuration(cj.Interval),
	}).Info("Chunk janitor started")

	ticker := time.NewTicker(cj.Interval)
	defer ticker.Stop()

	cj.sweep()
	for {
		select {
		case <-ctx.Done():
			cj.Logger.Info("Chunk janitor shutting down...")
			return
		case <-ticker.C:
			cj.sweep()
		}
	}
}

func (cj *ChunkJanitor) sweep() {
	removed, err := cj.Sweeper.SweepStale(cj.TTL)
	if err != nil {
		cj.Logger.WithError(err).Error("Error sweeping upload sessions")
		return
	}
	if removed > 0 {
		metrics.StaleSessionsRemoved.Add(float64(removed))
		cj.Logger.WithField("removed", removed).Info("Removed abandoned upload sessions")
	}
}
