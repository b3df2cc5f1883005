// Package trigger implements the per-order trigger agent: a state machine in
// the trigger domain that turns timer ticks into fire-and-forget tranche
// execution requests and reconciles its local progress from ledger events.
// The agent never calls the order ledger directly; the relay and the event
// fabric are its only links to the execution side.
package trigger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/clock"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
)

// Sender is the one-way callback channel into the order-execution domain.
// Delivery is asynchronous and unacknowledged; correctness relies on the
// ledger-side idempotency guard, not on the send result.
type Sender interface {
	Send(ctx context.Context, orderID uint64) error
}

// State describes the agent's lifecycle position.
type State string

const (
	// StateActive means the agent reacts to ticks and ledger events.
	StateActive State = "active"
	// StatePaused means tick handling is suspended but ledger events still apply.
	StatePaused State = "paused"
	// StateFinished is terminal: the linked order reached end-of-life.
	StateFinished State = "finished"
)

// Config binds an agent to one order. OrderID, MaxExecutions, and Interval
// are immutable for the agent's lifetime.
type Config struct {
	OrderID       uint64
	MaxExecutions uint32
	Interval      clock.Interval
	Relay         Sender
	// Bus receives the agent's ExecutionTriggered and OrderFinished
	// diagnostics; nil disables them.
	Bus eventbus.Bus
}

// Status is a read-only snapshot of the agent.
type Status struct {
	OrderID          uint64
	CurrentExecution uint32
	MaxExecutions    uint32
	Active           bool
	Paused           bool
}

// Agent is the per-order trigger state machine.
type Agent struct {
	orderID       uint64
	maxExecutions uint32
	tickTopic     schema.Topic
	relay         Sender
	bus           eventbus.Bus

	mu               sync.Mutex
	currentExecution uint32
	active           bool
	paused           bool

	seq uint64
}

// NewAgent constructs an agent bound to one order. An out-of-range interval
// selector fails construction.
func NewAgent(cfg Config) (*Agent, error) {
	if cfg.OrderID == 0 {
		return nil, errs.New("trigger/new", errs.CodeInvalid, errs.WithMessage("order id required"))
	}
	if cfg.MaxExecutions == 0 {
		return nil, errs.New("trigger/new", errs.CodeInvalid, errs.WithMessage("max executions must be positive"))
	}
	if cfg.Relay == nil {
		return nil, errs.New("trigger/new", errs.CodeInvalid, errs.WithMessage("relay sender required"))
	}
	topic, err := clock.TopicFor(cfg.Interval)
	if err != nil {
		return nil, err
	}

	a := new(Agent)
	a.orderID = cfg.OrderID
	a.maxExecutions = cfg.MaxExecutions
	a.tickTopic = topic
	a.relay = cfg.Relay
	a.bus = cfg.Bus
	a.active = true
	return a, nil
}

// OrderID returns the linked order id.
func (a *Agent) OrderID() uint64 { return a.orderID }

// TickTopic returns the timer stream the agent listens to.
func (a *Agent) TickTopic() schema.Topic { return a.tickTopic }

// OnTick handles one notification from the agent's tick stream. Spurious or
// catch-up ticks after logical completion are ignored without side effects.
// The agent does not advance its own counter here: confirmation arrives as a
// TrancheExecuted event or not at all.
func (a *Agent) OnTick(ctx context.Context) error {
	a.mu.Lock()
	if a.paused || !a.active || a.currentExecution >= a.maxExecutions {
		a.mu.Unlock()
		return nil
	}
	attempt := a.currentExecution + 1
	a.mu.Unlock()

	if err := a.relay.Send(ctx, a.orderID); err != nil {
		// Fire-and-forget: a dropped request just stalls until the next tick.
		observability.Count(observability.MetricTriggersDropped, nil)
		observability.Log().Debug("trigger request dropped",
			observability.F("order_id", a.orderID),
			observability.F("error", err))
		return nil
	}

	a.emit(ctx, schema.EventTypeExecutionTriggered, schema.ExecutionTriggeredPayload{Attempt: attempt})
	observability.Count(observability.MetricTriggersSent, nil)
	observability.Log().Debug("execution triggered",
		observability.F("order_id", a.orderID),
		observability.F("attempt", attempt))
	return nil
}

// OnEvent reconciles agent state from a ledger-domain event. Events for other
// orders are ignored: the agent listens on a broadcast stream and filters by
// id. TrancheExecuted advances the confirmed counter; OrderCompleted and
// OrderFailed terminate the agent regardless of its local count.
func (a *Agent) OnEvent(ctx context.Context, evt *schema.Event) {
	if evt == nil || evt.OrderID != a.orderID {
		return
	}

	switch evt.Type {
	case schema.EventTypeTrancheExecuted:
		payload, ok := evt.Payload.(schema.TrancheExecutedPayload)
		if !ok {
			return
		}
		a.confirm(ctx, payload.ExecutionCount)
	case schema.EventTypeOrderCompleted, schema.EventTypeOrderFailed:
		a.finish(ctx)
	default:
	}
}

// confirm folds the ledger's execution count into local state. The count is
// authoritative, so duplicated or reordered confirmations can never advance
// the agent past the ledger or advance it twice for one tranche.
func (a *Agent) confirm(ctx context.Context, ledgerCount uint32) {
	a.mu.Lock()
	if ledgerCount <= a.currentExecution {
		a.mu.Unlock()
		return
	}
	a.currentExecution = ledgerCount
	done := a.active && a.currentExecution >= a.maxExecutions
	if done {
		a.active = false
	}
	final := a.currentExecution
	a.mu.Unlock()

	observability.Log().Debug("tranche confirmed",
		observability.F("order_id", a.orderID),
		observability.F("count", final))
	if done {
		a.emit(ctx, schema.EventTypeOrderFinished, schema.OrderFinishedPayload{FinalExecution: final})
	}
}

// finish applies the authoritative termination signal from the ledger side.
func (a *Agent) finish(ctx context.Context) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	final := a.currentExecution
	a.mu.Unlock()

	observability.Log().Info("agent finished",
		observability.F("order_id", a.orderID),
		observability.F("count", final))
	a.emit(ctx, schema.EventTypeOrderFinished, schema.OrderFinishedPayload{FinalExecution: final})
}

// Pause suspends tick handling without touching progress state. Ledger events
// still apply, so a paused agent learns about completion or failure.
func (a *Agent) Pause() {
	a.mu.Lock()
	a.paused = true
	a.mu.Unlock()
}

// Resume lifts a pause.
func (a *Agent) Resume() {
	a.mu.Lock()
	a.paused = false
	a.mu.Unlock()
}

// Status returns a read-only snapshot.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		OrderID:          a.orderID,
		CurrentExecution: a.currentExecution,
		MaxExecutions:    a.maxExecutions,
		Active:           a.active,
		Paused:           a.paused,
	}
}

// State derives the lifecycle state from the agent's flags.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case !a.active:
		return StateFinished
	case a.paused:
		return StatePaused
	default:
		return StateActive
	}
}

func (a *Agent) emit(ctx context.Context, typ schema.EventType, payload any) {
	if a.bus == nil {
		return
	}
	evt := &schema.Event{
		EventID: uuid.NewString(),
		Type:    typ,
		Topic:   typ.Topic(),
		OrderID: a.orderID,
		Seq:     atomic.AddUint64(&a.seq, 1),
		EmitTS:  time.Now().UTC(),
		Payload: payload,
	}
	if err := a.bus.Publish(ctx, evt); err != nil {
		observability.Log().Debug("agent diagnostic dropped",
			observability.F("order_id", a.orderID),
			observability.F("type", typ),
			observability.F("error", err))
	}
}
