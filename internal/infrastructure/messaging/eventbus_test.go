package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codequest/progression/internal/domain/shared"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_DeliversInOrder(t *testing.T) {
	bus := NewEventBus(EventBusConfig{Logger: quietLogger(), EnableMetrics: true})
	user := uuid.New()

	var got []string
	require.NoError(t, bus.Subscribe(shared.EventLevelUp, func(e shared.Event) error {
		got = append(got, "level:"+string(e.EventType()))
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got = append(got, "all:"+string(e.EventType()))
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewXPAwardedEvent(user, 10, 10, "")))
	require.NoError(t, bus.Publish(shared.NewLevelUpEvent(user, 1, 2, "Apprentice")))

	assert.Equal(t, []string{
		"all:progress.xp_awarded",
		"level:progress.level_up",
		"all:progress.level_up",
	}, got)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.TotalHandlerExecs)
	assert.Equal(t, 1.0, snap.HandlerSuccessRate)
}

func TestEventBus_HandlerErrorDoesNotStopOthers(t *testing.T) {
	bus := NewEventBus(EventBusConfig{Logger: quietLogger(), EnableMetrics: true})
	boom := errors.New("boom")

	calls := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return boom }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls++; return nil }))

	err := bus.Publish(shared.NewStreakUpdatedEvent(uuid.New(), 1, 1))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), bus.Metrics().Snapshot().HandlerFailures)
}

func TestEventBus_RecoveryMiddleware(t *testing.T) {
	bus := NewEventBus(EventBusConfig{Logger: quietLogger()})
	bus.Use(RecoveryMiddleware(quietLogger()), LoggingMiddleware(quietLogger()))

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))

	err := bus.Publish(shared.NewStreakBrokenEvent(uuid.New(), 5, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")
	assert.Nil(t, bus.Metrics())
}

func TestEventBus_Closed(t *testing.T) {
	bus := NewEventBus(DefaultEventBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewStreakUpdatedEvent(uuid.New(), 1, 1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(LogHandler(quietLogger())), ErrEventBusClosed)
	assert.ErrorIs(t, NewEventBus(DefaultEventBusConfig()).Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
}

type recordingPublisher struct {
	channels []string
	messages []interface{}
	err      error
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message)
	return p.err
}

func TestForwardHandler(t *testing.T) {
	pub := &recordingPublisher{}
	user := uuid.New()
	handler := ForwardHandler(pub, func(t shared.EventType) string { return "progression:" + string(t) }, time.Second)

	require.NoError(t, handler(shared.NewAchievementUnlockedEvent(user, "first-step", "COMMON", 10)))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, []string{"progression:achievement.unlocked"}, pub.channels)
	env, ok := pub.messages[0].(Envelope)
	require.True(t, ok)
	assert.Equal(t, user.String(), env.AggregateID)
	assert.Equal(t, "first-step", env.Payload["slug"])

	pub.err = errors.New("redis down")
	assert.Error(t, handler(shared.NewAchievementUnlockedEvent(user, "x", "RARE", 1)))
}
