// Package jobs contains the scheduled maintenance jobs of the progression
// engine.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// REBUILD LEADERBOARD JOB
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRebuilder replaces the cached rankings with a fresh copy of
// the database. redis.LeaderboardCache implements it.
type LeaderboardRebuilder interface {
	Rebuild(ctx context.Context) (int, error)
}

// RebuildLeaderboardJob refreshes the leaderboard cache ahead of its TTL so
// readers rarely hit a cold cache.
type RebuildLeaderboardJob struct {
	rebuilder LeaderboardRebuilder
	logger    *slog.Logger
	config    RebuildLeaderboardConfig

	lastStats atomic.Pointer[RebuildStats]
}

// RebuildLeaderboardConfig contains configuration for the rebuild job.
type RebuildLeaderboardConfig struct {
	// Timeout is the maximum duration for one rebuild.
	Timeout time.Duration
}

// DefaultRebuildLeaderboardConfig returns sensible defaults.
func DefaultRebuildLeaderboardConfig() RebuildLeaderboardConfig {
	return RebuildLeaderboardConfig{Timeout: time.Minute}
}

// RebuildStats contains statistics from a rebuild run.
type RebuildStats struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Members   int           `json:"members"`
}

// NewRebuildLeaderboardJob creates a new rebuild leaderboard job.
func NewRebuildLeaderboardJob(rebuilder LeaderboardRebuilder, logger *slog.Logger, config RebuildLeaderboardConfig) *RebuildLeaderboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultRebuildLeaderboardConfig().Timeout
	}
	return &RebuildLeaderboardJob{
		rebuilder: rebuilder,
		logger:    logger.With("job", "rebuild_leaderboard"),
		config:    config,
	}
}

// Name returns the job name.
func (j *RebuildLeaderboardJob) Name() string {
	return "rebuild_leaderboard"
}

// Description returns a human-readable description.
func (j *RebuildLeaderboardJob) Description() string {
	return "Rebuilds the Redis leaderboard cache from the database"
}

// Run executes the rebuild.
func (j *RebuildLeaderboardJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	startedAt := time.Now()
	members, err := j.rebuilder.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}

	stats := &RebuildStats{
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
		Members:   members,
	}
	j.lastStats.Store(stats)

	j.logger.Debug("leaderboard cache refreshed", "members", members, "duration", stats.Duration.String())
	return nil
}

// LastStats returns the stats of the last successful run, or nil.
func (j *RebuildLeaderboardJob) LastStats() *RebuildStats {
	return j.lastStats.Load()
}
