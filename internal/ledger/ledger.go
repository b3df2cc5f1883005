// Package ledger owns the canonical TWAP order records and the per-tranche
// swap-execution state machine. All mutation happens through three entry
// points: creation, idempotent tranche execution, and cancellation. Outcomes
// surface as events on the ledger-domain bus; the asynchronous trigger relay
// never receives a hard failure from tranche execution.
package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/token"
)

// Swapper is the venue contract the ledger executes tranches against.
type Swapper interface {
	Swap(ctx context.Context, trader schema.Identity, assetIn, assetOut schema.Asset, amountIn uint64) (uint64, error)
}

// Config wires a Ledger's collaborators.
type Config struct {
	// Identity is the ledger's custody account on the token ledger.
	Identity schema.Identity
	// Relay is the only identity authorized to call ExecuteTranche.
	Relay  schema.Identity
	Tokens *token.Ledger
	Venue  Swapper
	Bus    eventbus.Bus
}

// Ledger is the destination-domain order store and execution engine.
type Ledger struct {
	identity schema.Identity
	relay    schema.Identity
	tokens   *token.Ledger
	venue    Swapper
	bus      eventbus.Bus

	mu     sync.Mutex
	orders map[uint64]*schema.Order
	nextID uint64
	seq    uint64

	now func() time.Time
}

// New constructs an order ledger from the given configuration.
func New(cfg Config) (*Ledger, error) {
	if cfg.Identity == "" || cfg.Relay == "" {
		return nil, errs.New("ledger/new", errs.CodeInvalid, errs.WithMessage("ledger and relay identities required"))
	}
	if cfg.Tokens == nil || cfg.Venue == nil {
		return nil, errs.New("ledger/new", errs.CodeInvalid, errs.WithMessage("token ledger and venue required"))
	}
	l := new(Ledger)
	l.identity = cfg.Identity
	l.relay = cfg.Relay
	l.tokens = cfg.Tokens
	l.venue = cfg.Venue
	l.bus = cfg.Bus
	l.orders = make(map[uint64]*schema.Order)
	l.now = time.Now
	return l, nil
}

// Identity returns the ledger's custody account.
func (l *Ledger) Identity() schema.Identity { return l.identity }

// CreateOrder validates the request, takes custody of the total input amount,
// and inserts a new active order under a fresh, strictly increasing id.
// Validation failures reject the whole call before any funds move.
func (l *Ledger) CreateOrder(ctx context.Context, owner schema.Identity, assetIn, assetOut schema.Asset, totalAmount uint64, maxExecutions uint32) (uint64, error) {
	if owner == "" {
		return 0, errs.New("ledger/create", errs.CodeInvalid, errs.WithMessage("owner required"))
	}
	if assetIn == "" || assetOut == "" {
		return 0, errs.New("ledger/create", errs.CodeInvalid, errs.WithMessage("asset pair required"))
	}
	if totalAmount == 0 {
		return 0, errs.New("ledger/create", errs.CodeInvalid, errs.WithMessage("total amount must be positive"))
	}
	if maxExecutions == 0 {
		return 0, errs.New("ledger/create", errs.CodeInvalid, errs.WithMessage("max executions must be positive"))
	}
	if totalAmount%uint64(maxExecutions) != 0 {
		return 0, errs.New("ledger/create", errs.CodeInvalid,
			errs.WithMessage("total amount must divide evenly across executions"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.tokens.TransferFrom(l.identity, owner, l.identity, assetIn, totalAmount); err != nil {
		return 0, err
	}

	l.nextID++
	order := &schema.Order{
		ID:            l.nextID,
		Owner:         owner,
		AssetIn:       assetIn,
		AssetOut:      assetOut,
		TotalAmount:   totalAmount,
		MaxExecutions: maxExecutions,
		Active:        true,
		CreatedAt:     l.now().UTC(),
	}
	l.orders[order.ID] = order

	l.emit(ctx, schema.EventTypeOrderCreated, order, schema.OrderCreatedPayload{
		AssetIn:       assetIn,
		AssetOut:      assetOut,
		TotalAmount:   totalAmount,
		MaxExecutions: maxExecutions,
	})
	observability.Count(observability.MetricOrdersCreated, nil)
	observability.Log().Info("order created",
		observability.F("order_id", order.ID),
		observability.F("owner", owner),
		observability.F("total", totalAmount),
		observability.F("executions", maxExecutions))
	return order.ID, nil
}

// ExecuteTranche runs one tranche of the order. Only the registered relay
// identity may call it; every other failure mode resolves inside the call:
// stale or duplicate triggers become OutcomeIgnored with a TrancheSkipped
// diagnostic, and a swap failure becomes the terminal OrderFailed transition
// with a refund. The relay never needs to react to the result.
func (l *Ledger) ExecuteTranche(ctx context.Context, caller schema.Identity, orderID uint64) (schema.TrancheOutcome, error) {
	if caller != l.relay {
		return "", errs.New("ledger/execute", errs.CodeUnauthorized,
			errs.WithMessage("tranche execution restricted to the trigger relay"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		l.skip(ctx, orderID, string(errs.CodeNotFound))
		return schema.OutcomeIgnored, nil
	}
	if order.ExecutionCount >= order.MaxExecutions {
		l.skip(ctx, orderID, string(errs.CodeAlreadyCompleted))
		return schema.OutcomeIgnored, nil
	}
	if !order.Active {
		l.skip(ctx, orderID, string(errs.CodeOrderNotActive))
		return schema.OutcomeIgnored, nil
	}

	amountIn := order.AmountPerExecution()
	amountOut, err := l.venue.Swap(ctx, l.identity, order.AssetIn, order.AssetOut, amountIn)
	if err == nil {
		// Proceeds land on the custody account; forward them to the owner.
		err = l.tokens.Transfer(l.identity, order.Owner, order.AssetOut, amountOut)
	}
	if err != nil {
		return l.fail(ctx, order, err), nil
	}

	order.ExecutionCount++
	order.ExecutedAmount += amountIn

	l.emit(ctx, schema.EventTypeTrancheExecuted, order, schema.TrancheExecutedPayload{
		AmountIn:       amountIn,
		AmountOut:      amountOut,
		ExecutionCount: order.ExecutionCount,
	})
	observability.Count(observability.MetricTranchesExecuted, nil)
	observability.Log().Info("tranche executed",
		observability.F("order_id", order.ID),
		observability.F("count", order.ExecutionCount),
		observability.F("amount_in", amountIn),
		observability.F("amount_out", amountOut))

	if order.ExecutionCount == order.MaxExecutions {
		order.Active = false
		l.emit(ctx, schema.EventTypeOrderCompleted, order, schema.OrderCompletedPayload{
			Reason:         schema.ReasonCompleted,
			ExecutionCount: order.ExecutionCount,
		})
		observability.Count(observability.MetricOrdersCompleted, nil)
		return schema.OutcomeCompleted, nil
	}
	return schema.OutcomeExecuted, nil
}

// CancelOrder terminates an active order and refunds the unexecuted amount to
// its owner. Cancellation shares the OrderCompleted terminal event with
// natural completion; the trigger side does not distinguish the two.
func (l *Ledger) CancelOrder(ctx context.Context, caller schema.Identity, orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return errs.New("ledger/cancel", errs.CodeNotFound, errs.WithMessage("unknown order"))
	}
	if caller != order.Owner {
		return errs.New("ledger/cancel", errs.CodeUnauthorized, errs.WithMessage("only the owner may cancel"))
	}
	if !order.Active {
		return errs.New("ledger/cancel", errs.CodeOrderNotActive, errs.WithMessage("order already terminal"))
	}

	refund := order.Remaining()
	if refund > 0 {
		// Custody always covers the unexecuted remainder; a failure here
		// rejects the whole cancellation with no state change.
		if err := l.tokens.Transfer(l.identity, order.Owner, order.AssetIn, refund); err != nil {
			return err
		}
	}
	order.Active = false

	l.emit(ctx, schema.EventTypeOrderCompleted, order, schema.OrderCompletedPayload{
		Reason:         schema.ReasonCancelled,
		ExecutionCount: order.ExecutionCount,
		RefundedAmount: refund,
	})
	observability.Count(observability.MetricOrdersCancelled, nil)
	observability.Log().Info("order cancelled",
		observability.F("order_id", order.ID),
		observability.F("refund", refund))
	return nil
}

// GetOrder returns a snapshot of the order record.
func (l *Ledger) GetOrder(orderID uint64) (schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	order, ok := l.orders[orderID]
	if !ok {
		return schema.Order{}, errs.New("ledger/get", errs.CodeNotFound, errs.WithMessage("unknown order"))
	}
	return *order, nil
}

// fail runs the terminal failure transition: deactivate, refund the
// unexecuted remainder, emit OrderFailed.
func (l *Ledger) fail(ctx context.Context, order *schema.Order, cause error) schema.TrancheOutcome {
	order.Active = false
	refund := order.Remaining()
	if refund > 0 {
		if err := l.tokens.Transfer(l.identity, order.Owner, order.AssetIn, refund); err != nil {
			observability.Log().Error("failure refund failed",
				observability.F("order_id", order.ID),
				observability.F("error", err))
		}
	}

	l.emit(ctx, schema.EventTypeOrderFailed, order, schema.OrderFailedPayload{
		Reason:         cause.Error(),
		ExecutionCount: order.ExecutionCount,
		RefundedAmount: refund,
	})
	observability.Count(observability.MetricOrdersFailed, nil)
	observability.Log().Error("order failed",
		observability.F("order_id", order.ID),
		observability.F("refund", refund),
		observability.F("error", cause))
	return schema.OutcomeFailed
}

// skip records an ignored trigger request as a diagnostic event.
func (l *Ledger) skip(ctx context.Context, orderID uint64, reason string) {
	l.publish(ctx, &schema.Event{
		EventID: uuid.NewString(),
		Type:    schema.EventTypeTrancheSkipped,
		Topic:   schema.EventTypeTrancheSkipped.Topic(),
		OrderID: orderID,
		Seq:     atomic.AddUint64(&l.seq, 1),
		EmitTS:  l.now().UTC(),
		Payload: schema.TrancheSkippedPayload{Reason: reason},
	})
	observability.Count(observability.MetricTranchesSkipped, nil)
	observability.Log().Debug("tranche skipped",
		observability.F("order_id", orderID),
		observability.F("reason", reason))
}

func (l *Ledger) emit(ctx context.Context, typ schema.EventType, order *schema.Order, payload any) {
	l.publish(ctx, &schema.Event{
		EventID: uuid.NewString(),
		Type:    typ,
		Topic:   typ.Topic(),
		OrderID: order.ID,
		Owner:   order.Owner,
		Seq:     atomic.AddUint64(&l.seq, 1),
		EmitTS:  l.now().UTC(),
		Payload: payload,
	})
}

func (l *Ledger) publish(ctx context.Context, evt *schema.Event) {
	if l.bus == nil {
		return
	}
	// State already transitioned; a saturated subscriber cannot roll it back.
	if err := l.bus.Publish(ctx, evt); err != nil {
		observability.Log().Error("event publish failed",
			observability.F("type", evt.Type),
			observability.F("order_id", evt.OrderID),
			observability.F("error", err))
	}
}
