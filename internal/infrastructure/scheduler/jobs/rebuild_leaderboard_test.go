package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRebuilder struct {
	members  int
	err      error
	deadline bool
}

func (s *stubRebuilder) Rebuild(ctx context.Context) (int, error) {
	_, s.deadline = ctx.Deadline()
	return s.members, s.err
}

func TestRebuildLeaderboardJob_Run(t *testing.T) {
	stub := &stubRebuilder{members: 42}
	job := NewRebuildLeaderboardJob(stub, nil, RebuildLeaderboardConfig{})

	assert.Equal(t, "rebuild_leaderboard", job.Name())
	assert.Nil(t, job.LastStats())

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, stub.deadline, "each run is bounded by the timeout")

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 42, stats.Members)
	assert.WithinDuration(t, time.Now(), stats.StartedAt, time.Second)
}

func TestRebuildLeaderboardJob_RunError(t *testing.T) {
	down := errors.New("redis down")
	job := NewRebuildLeaderboardJob(&stubRebuilder{err: down}, nil, DefaultRebuildLeaderboardConfig())

	err := job.Run(context.Background())
	assert.ErrorIs(t, err, down)
	assert.Nil(t, job.LastStats())
}
