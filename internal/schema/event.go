// Package schema defines the canonical records exchanged between the trigger
// and order-execution domains: events, orders, and the identities that own them.
package schema

import (
	"time"
)

// Identity names an account on the token ledger. Identities authorize
// cancellation, receive swap proceeds, and gate the tranche-execution callback.
type Identity string

// Asset identifies a fungible token.
type Asset string

// Topic names a delivery stream on the event fabric. Domain events use their
// event type as topic; tick streams use the interval topics in the static table.
type Topic string

// EventType enumerates the event kinds the engine emits.
type EventType string

const (
	// EventTypeOrderCreated marks the insertion of a new order record.
	EventTypeOrderCreated EventType = "OrderCreated"
	// EventTypeTrancheExecuted confirms one tranche swap settled.
	EventTypeTrancheExecuted EventType = "TrancheExecuted"
	// EventTypeOrderCompleted marks terminal success or cancellation on the ledger side.
	EventTypeOrderCompleted EventType = "OrderCompleted"
	// EventTypeOrderFailed marks the terminal failure transition after a swap error.
	EventTypeOrderFailed EventType = "OrderFailed"
	// EventTypeTrancheSkipped is the diagnostic for an ignored stale or duplicate trigger.
	EventTypeTrancheSkipped EventType = "TrancheSkipped"
	// EventTypeSwapCompleted is emitted by the venue after an atomic swap.
	EventTypeSwapCompleted EventType = "SwapCompleted"
	// EventTypeExecutionTriggered is the agent diagnostic for an outbound trigger request.
	EventTypeExecutionTriggered EventType = "ExecutionTriggered"
	// EventTypeOrderFinished marks the agent's local terminal transition.
	EventTypeOrderFinished EventType = "OrderFinished"
	// EventTypeTick is the periodic timer notification carried on tick topics.
	EventTypeTick EventType = "Tick"
)

// Topic returns the default delivery topic for the event type.
func (et EventType) Topic() Topic { return Topic(et) }

// Event is the opaque log record delivered by the event fabric. OrderID and
// Owner are the indexed fields subscribers filter on; Payload carries the
// type-specific body.
type Event struct {
	EventID string    `json:"event_id"`
	Type    EventType `json:"type"`
	Topic   Topic     `json:"topic"`
	OrderID uint64    `json:"order_id"`
	Owner   Identity  `json:"owner,omitempty"`
	Seq     uint64    `json:"seq"`
	EmitTS  time.Time `json:"emit_ts"`
	Payload any       `json:"payload,omitempty"`
}

// Clone returns a copy of the event safe to hand to another subscriber.
// Payload bodies are value structs, so a shallow copy is sufficient.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	dup := *e
	return &dup
}

// CompletionReason distinguishes natural completion from cancellation in the
// OrderCompleted payload. Both paths share one event type on purpose: the
// trigger side treats them identically, the reason exists for audit consumers.
type CompletionReason string

const (
	// ReasonCompleted marks the final tranche executing successfully.
	ReasonCompleted CompletionReason = "completed"
	// ReasonCancelled marks an owner-initiated cancellation.
	ReasonCancelled CompletionReason = "cancelled"
)

// OrderCreatedPayload describes a freshly inserted order.
type OrderCreatedPayload struct {
	AssetIn       Asset  `json:"asset_in"`
	AssetOut      Asset  `json:"asset_out"`
	TotalAmount   uint64 `json:"total_amount"`
	MaxExecutions uint32 `json:"max_executions"`
}

// TrancheExecutedPayload confirms a single tranche swap. ExecutionCount is the
// ledger's count after the increment; agents reconcile against it so duplicate
// delivery never double-advances.
type TrancheExecutedPayload struct {
	AmountIn       uint64 `json:"amount_in"`
	AmountOut      uint64 `json:"amount_out"`
	ExecutionCount uint32 `json:"execution_count"`
}

// OrderCompletedPayload carries the terminal-success record.
type OrderCompletedPayload struct {
	Reason         CompletionReason `json:"reason"`
	ExecutionCount uint32           `json:"execution_count"`
	RefundedAmount uint64           `json:"refunded_amount,omitempty"`
}

// OrderFailedPayload carries the terminal-failure record.
type OrderFailedPayload struct {
	Reason         string `json:"reason"`
	ExecutionCount uint32 `json:"execution_count"`
	RefundedAmount uint64 `json:"refunded_amount"`
}

// TrancheSkippedPayload explains why a trigger request was ignored.
type TrancheSkippedPayload struct {
	Reason string `json:"reason"`
}

// SwapCompletedPayload records an atomic venue swap.
type SwapCompletedPayload struct {
	Trader    Identity `json:"trader"`
	AssetIn   Asset    `json:"asset_in"`
	AssetOut  Asset    `json:"asset_out"`
	AmountIn  uint64   `json:"amount_in"`
	AmountOut uint64   `json:"amount_out"`
}

// ExecutionTriggeredPayload is the agent diagnostic accompanying an outbound
// trigger request. Attempt counts from 1 and names the tranche the agent
// expects to execute; the agent does not advance until confirmation arrives.
type ExecutionTriggeredPayload struct {
	Attempt uint32 `json:"attempt"`
}

// OrderFinishedPayload records the agent's local terminal state.
type OrderFinishedPayload struct {
	FinalExecution uint32 `json:"final_execution"`
}

// TickPayload carries the logical clock sequence for a timer notification.
type TickPayload struct {
	Sequence uint64 `json:"sequence"`
}
