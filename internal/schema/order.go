package schema

import "time"

// Order is the canonical TWAP order record, owned exclusively by the order
// ledger. Records are never deleted; Active=false marks logical end-of-life.
type Order struct {
	ID            uint64
	Owner         Identity
	AssetIn       Asset
	AssetOut      Asset
	TotalAmount   uint64
	MaxExecutions uint32

	ExecutedAmount uint64
	ExecutionCount uint32
	Active         bool

	CreatedAt time.Time
}

// AmountPerExecution returns the fixed tranche size. Creation validates that
// TotalAmount divides evenly, so no remainder is ever tracked.
func (o Order) AmountPerExecution() uint64 {
	if o.MaxExecutions == 0 {
		return 0
	}
	return o.TotalAmount / uint64(o.MaxExecutions)
}

// Remaining returns the unexecuted input amount still in custody.
func (o Order) Remaining() uint64 {
	return o.TotalAmount - o.ExecutedAmount
}

// TrancheOutcome is the explicit result of one tranche-execution attempt.
// Stale and duplicate triggers resolve to OutcomeIgnored rather than an error
// because the caller is an asynchronous relay with no retry contract.
type TrancheOutcome string

const (
	// OutcomeExecuted means the tranche settled and the order stays active.
	OutcomeExecuted TrancheOutcome = "executed"
	// OutcomeCompleted means the final tranche settled and the order closed.
	OutcomeCompleted TrancheOutcome = "completed"
	// OutcomeIgnored means an idempotency guard suppressed the request.
	OutcomeIgnored TrancheOutcome = "ignored"
	// OutcomeFailed means the swap failed and the order terminated with a refund.
	OutcomeFailed TrancheOutcome = "failed"
)
