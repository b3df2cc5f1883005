package trigger_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/clock"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/trigger"
)

// captureSender records trigger requests in place of the real relay.
type captureSender struct {
	mu       sync.Mutex
	requests []uint64
	fail     error
}

func (c *captureSender) Send(_ context.Context, orderID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.requests = append(c.requests, orderID)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func newAgent(t *testing.T, sender trigger.Sender) *trigger.Agent {
	t.Helper()
	agent, err := trigger.NewAgent(trigger.Config{
		OrderID:       1,
		MaxExecutions: 5,
		Interval:      clock.IntervalEveryTick,
		Relay:         sender,
	})
	require.NoError(t, err)
	return agent
}

func executed(orderID uint64, count uint32) *schema.Event {
	return &schema.Event{
		Type:    schema.EventTypeTrancheExecuted,
		Topic:   schema.EventTypeTrancheExecuted.Topic(),
		OrderID: orderID,
		Payload: schema.TrancheExecutedPayload{AmountIn: 20, AmountOut: 10, ExecutionCount: count},
	}
}

func terminal(typ schema.EventType, orderID uint64) *schema.Event {
	return &schema.Event{Type: typ, Topic: typ.Topic(), OrderID: orderID}
}

func TestNewAgentRejectsInvalidInterval(t *testing.T) {
	_, err := trigger.NewAgent(trigger.Config{
		OrderID:       1,
		MaxExecutions: 5,
		Interval:      clock.Interval(42),
		Relay:         &captureSender{},
	})
	require.True(t, errs.Is(err, errs.CodeInvalidInterval))
}

func TestNewAgentBindsTickTopic(t *testing.T) {
	agent, err := trigger.NewAgent(trigger.Config{
		OrderID:       1,
		MaxExecutions: 5,
		Interval:      clock.IntervalEvery100,
		Relay:         &captureSender{},
	})
	require.NoError(t, err)
	require.Equal(t, schema.Topic("TICK.100"), agent.TickTopic())
}

func TestTickSendsRequestWithoutAdvancingCounter(t *testing.T) {
	sender := &captureSender{}
	agent := newAgent(t, sender)
	ctx := context.Background()

	require.NoError(t, agent.OnTick(ctx))
	require.NoError(t, agent.OnTick(ctx))
	require.Equal(t, 2, sender.count())

	// Requests were sent but nothing is confirmed yet.
	require.Equal(t, uint32(0), agent.Status().CurrentExecution)
	require.Equal(t, trigger.StateActive, agent.State())
}

func TestConfirmationAdvancesCounterAndFinishesAtMax(t *testing.T) {
	sender := &captureSender{}
	agent := newAgent(t, sender)
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		agent.OnEvent(ctx, executed(1, i))
		require.Equal(t, i, agent.Status().CurrentExecution)
	}
	require.Equal(t, trigger.StateFinished, agent.State())

	// No further ticks trigger once finished.
	require.NoError(t, agent.OnTick(ctx))
	require.Equal(t, 0, sender.count())
}

func TestDuplicateConfirmationDoesNotDoubleAdvance(t *testing.T) {
	agent := newAgent(t, &captureSender{})
	ctx := context.Background()

	agent.OnEvent(ctx, executed(1, 2))
	agent.OnEvent(ctx, executed(1, 2))
	agent.OnEvent(ctx, executed(1, 1)) // stale reordering
	require.Equal(t, uint32(2), agent.Status().CurrentExecution)
}

func TestEventsForOtherOrdersAreIgnored(t *testing.T) {
	agent := newAgent(t, &captureSender{})
	ctx := context.Background()

	agent.OnEvent(ctx, executed(99, 1))
	agent.OnEvent(ctx, terminal(schema.EventTypeOrderFailed, 99))
	require.Equal(t, uint32(0), agent.Status().CurrentExecution)
	require.Equal(t, trigger.StateActive, agent.State())
}

func TestTerminalEventOverridesLocalCount(t *testing.T) {
	sender := &captureSender{}
	agent := newAgent(t, sender)
	ctx := context.Background()

	agent.OnEvent(ctx, executed(1, 2))
	agent.OnEvent(ctx, terminal(schema.EventTypeOrderFailed, 1))

	status := agent.Status()
	require.False(t, status.Active)
	require.Equal(t, uint32(2), status.CurrentExecution)
	require.Equal(t, trigger.StateFinished, agent.State())

	require.NoError(t, agent.OnTick(ctx))
	require.Equal(t, 0, sender.count())
}

func TestOrderCompletedTerminatesAgent(t *testing.T) {
	agent := newAgent(t, &captureSender{})
	agent.OnEvent(context.Background(), terminal(schema.EventTypeOrderCompleted, 1))
	require.Equal(t, trigger.StateFinished, agent.State())
}

func TestPauseSuppressesTicksButNotConfirmations(t *testing.T) {
	sender := &captureSender{}
	agent := newAgent(t, sender)
	ctx := context.Background()

	agent.Pause()
	require.Equal(t, trigger.StatePaused, agent.State())

	require.NoError(t, agent.OnTick(ctx))
	require.Equal(t, 0, sender.count())

	// A confirmation received while paused still advances the counter.
	agent.OnEvent(ctx, executed(1, 1))
	require.Equal(t, uint32(1), agent.Status().CurrentExecution)

	agent.Resume()
	require.NoError(t, agent.OnTick(ctx))
	require.Equal(t, 1, sender.count())
}

func TestDroppedSendIsNotAnError(t *testing.T) {
	sender := &captureSender{fail: errs.New("relay/send", errs.CodeUnavailable)}
	agent := newAgent(t, sender)

	require.NoError(t, agent.OnTick(context.Background()))
	require.Equal(t, uint32(0), agent.Status().CurrentExecution)
	require.Equal(t, trigger.StateActive, agent.State())
}

func TestFinishedDiagnosticEmittedOnce(t *testing.T) {
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: 8})
	t.Cleanup(bus.Close)

	agent, err := trigger.NewAgent(trigger.Config{
		OrderID:       1,
		MaxExecutions: 2,
		Interval:      clock.IntervalEveryTick,
		Relay:         &captureSender{},
		Bus:           bus,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, finished, err := bus.Subscribe(ctx, schema.EventTypeOrderFinished.Topic())
	require.NoError(t, err)

	agent.OnEvent(ctx, executed(1, 2))
	agent.OnEvent(ctx, terminal(schema.EventTypeOrderCompleted, 1)) // duplicate terminal signal

	require.Len(t, finished, 1)
	evt := <-finished
	payload, ok := evt.Payload.(schema.OrderFinishedPayload)
	require.True(t, ok)
	require.Equal(t, uint32(2), payload.FinalExecution)
}
