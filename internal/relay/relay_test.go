package relay_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/relay"
	"github.com/quantfabric/twapd/internal/schema"
)

type captureExecutor struct {
	mu      sync.Mutex
	callers []schema.Identity
	orders  []uint64
	block   chan struct{}
}

func (c *captureExecutor) ExecuteTranche(_ context.Context, caller schema.Identity, orderID uint64) (schema.TrancheOutcome, error) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callers = append(c.callers, caller)
	c.orders = append(c.orders, orderID)
	return schema.OutcomeExecuted, nil
}

func (c *captureExecutor) snapshot() ([]schema.Identity, []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.Identity(nil), c.callers...), append([]uint64(nil), c.orders...)
}

func TestSendDeliversUnderRelayIdentity(t *testing.T) {
	exec := &captureExecutor{}
	r, err := relay.New("trigger-relay", exec, relay.Config{QueueDepth: 8})
	require.NoError(t, err)

	require.NoError(t, r.Send(context.Background(), 7))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	callers, orders := exec.snapshot()
	require.Equal(t, []schema.Identity{"trigger-relay"}, callers)
	require.Equal(t, []uint64{7}, orders)
}

func TestSendPreservesOrder(t *testing.T) {
	exec := &captureExecutor{}
	r, err := relay.New("trigger-relay", exec, relay.Config{QueueDepth: 16})
	require.NoError(t, err)

	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, r.Send(context.Background(), id))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	_, orders := exec.snapshot()
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, orders)
}

func TestSaturatedQueueRejectsSend(t *testing.T) {
	exec := &captureExecutor{block: make(chan struct{})}
	r, err := relay.New("trigger-relay", exec, relay.Config{QueueDepth: 1})
	require.NoError(t, err)
	t.Cleanup(r.Close)

	ctx := context.Background()
	require.NoError(t, r.Send(ctx, 1)) // picked up by the worker, blocks
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Send(ctx, 2)) // sits in the queue

	err = r.Send(ctx, 3)
	require.True(t, errs.Is(err, errs.CodeUnavailable))
	close(exec.block)
}

func TestNewValidation(t *testing.T) {
	_, err := relay.New("", &captureExecutor{}, relay.Config{})
	require.True(t, errs.Is(err, errs.CodeInvalid))

	_, err = relay.New("trigger-relay", nil, relay.Config{})
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestClosedRelayRejectsSend(t *testing.T) {
	r, err := relay.New("trigger-relay", &captureExecutor{}, relay.Config{})
	require.NoError(t, err)
	r.Close()

	err = r.Send(context.Background(), 1)
	require.True(t, errs.Is(err, errs.CodeUnavailable))
}
