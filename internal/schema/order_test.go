package schema_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantfabric/twapd/internal/schema"
)

func TestAmountPerExecution(t *testing.T) {
	order := schema.Order{TotalAmount: 100, MaxExecutions: 5}
	require.Equal(t, uint64(20), order.AmountPerExecution())

	var zero schema.Order
	require.Equal(t, uint64(0), zero.AmountPerExecution())
}

func TestRemainingTracksExecutedAmount(t *testing.T) {
	order := schema.Order{TotalAmount: 100, MaxExecutions: 5, ExecutedAmount: 40}
	require.Equal(t, uint64(60), order.Remaining())
}

func TestEventCloneIsIndependent(t *testing.T) {
	evt := &schema.Event{
		EventID: "a",
		Type:    schema.EventTypeTrancheExecuted,
		Topic:   schema.EventTypeTrancheExecuted.Topic(),
		OrderID: 7,
		Payload: schema.TrancheExecutedPayload{AmountIn: 20, AmountOut: 10, ExecutionCount: 1},
	}
	dup := evt.Clone()
	require.Equal(t, evt, dup)

	dup.OrderID = 8
	require.Equal(t, uint64(7), evt.OrderID)

	var nilEvt *schema.Event
	require.Nil(t, nilEvt.Clone())
}
