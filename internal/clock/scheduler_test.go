package clock_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/clock"
	"github.com/quantfabric/twapd/internal/schema"
)

func TestTopicForKnownIntervals(t *testing.T) {
	cases := []struct {
		interval clock.Interval
		topic    schema.Topic
		every    uint64
	}{
		{clock.IntervalEveryTick, "TICK.1", 1},
		{clock.IntervalEvery10, "TICK.10", 10},
		{clock.IntervalEvery100, "TICK.100", 100},
		{clock.IntervalEvery1000, "TICK.1000", 1_000},
		{clock.IntervalEvery10000, "TICK.10000", 10_000},
	}
	for _, tc := range cases {
		topic, err := clock.TopicFor(tc.interval)
		require.NoError(t, err)
		require.Equal(t, tc.topic, topic)
		require.Equal(t, tc.every, tc.interval.Every())
	}
}

func TestTopicForOutOfRangeSelector(t *testing.T) {
	_, err := clock.TopicFor(clock.Interval(-1))
	require.True(t, errs.Is(err, errs.CodeInvalidInterval))

	_, err = clock.TopicFor(clock.Interval(5))
	require.True(t, errs.Is(err, errs.CodeInvalidInterval))
	require.Equal(t, uint64(0), clock.Interval(9).Every())
}

func TestTickFansOutToMatchingTopics(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 32})
	t.Cleanup(bus.Close)
	scheduler := clock.NewScheduler(bus)

	ctx := context.Background()
	_, every1, err := bus.Subscribe(ctx, "TICK.1")
	require.NoError(t, err)
	_, every10, err := bus.Subscribe(ctx, "TICK.10")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, scheduler.Tick(ctx))
	}
	require.Equal(t, uint64(10), scheduler.Sequence())

	require.Len(t, every1, 10)
	require.Len(t, every10, 1)

	evt := <-every10
	require.Equal(t, schema.EventTypeTick, evt.Type)
	payload, ok := evt.Payload.(schema.TickPayload)
	require.True(t, ok)
	require.Equal(t, uint64(10), payload.Sequence)
}

func TestRunRejectsInvalidPeriod(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{})
	t.Cleanup(bus.Close)
	scheduler := clock.NewScheduler(bus)
	err := scheduler.Run(context.Background(), 0)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}
