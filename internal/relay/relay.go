// Package relay carries tranche-execution requests from the trigger domain
// into the order-execution domain. The channel is strictly one-way: senders
// get no acknowledgement and no response, so receiver-side idempotency is the
// only defense against duplicated or stale requests.
package relay

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/lib/async"
)

// Executor is the ledger-side entry point the relay invokes.
type Executor interface {
	ExecuteTranche(ctx context.Context, caller schema.Identity, orderID uint64) (schema.TrancheOutcome, error)
}

// Config sizes the relay queue and throttle.
type Config struct {
	// QueueDepth bounds the number of undelivered requests.
	QueueDepth int
	// MaxPerSecond throttles deliveries into the ledger; <=0 disables it.
	MaxPerSecond float64
}

func (c Config) normalize() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = 128
	}
	return c
}

// Relay is the fire-and-forget callback channel. A single worker drains the
// queue so requests reach the ledger in submission order.
type Relay struct {
	identity schema.Identity
	exec     Executor
	pool     *async.Pool
	limiter  *rate.Limiter
}

// New constructs a relay delivering under the given identity. The ledger must
// be configured to recognize that identity as its trigger relay.
func New(identity schema.Identity, exec Executor, cfg Config) (*Relay, error) {
	if identity == "" {
		return nil, errs.New("relay/new", errs.CodeInvalid, errs.WithMessage("relay identity required"))
	}
	if exec == nil {
		return nil, errs.New("relay/new", errs.CodeInvalid, errs.WithMessage("executor required"))
	}
	cfg = cfg.normalize()

	pool, err := async.NewPool(1, cfg.QueueDepth)
	if err != nil {
		return nil, err
	}
	r := new(Relay)
	r.identity = identity
	r.exec = exec
	r.pool = pool
	if cfg.MaxPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), 1)
	}
	return r, nil
}

// Identity returns the identity requests are delivered under.
func (r *Relay) Identity() schema.Identity { return r.identity }

// Send enqueues one tranche-execution request. It fails only when the queue
// is saturated or the relay is closed; a delivered request reports nothing
// back to the sender.
func (r *Relay) Send(ctx context.Context, orderID uint64) error {
	return r.pool.Submit(ctx, func(taskCtx context.Context) error {
		return r.deliver(taskCtx, orderID)
	})
}

func (r *Relay) deliver(ctx context.Context, orderID uint64) error {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	outcome, err := r.exec.ExecuteTranche(ctx, r.identity, orderID)
	if err != nil {
		// The sender is gone; the error terminates here.
		observability.Log().Error("tranche delivery failed",
			observability.F("order_id", orderID),
			observability.F("error", err))
		return err
	}
	observability.Log().Debug("tranche delivered",
		observability.F("order_id", orderID),
		observability.F("outcome", outcome))
	return nil
}

// Shutdown drains in-flight deliveries until the context expires.
func (r *Relay) Shutdown(ctx context.Context) error {
	return r.pool.Shutdown(ctx)
}

// Close stops the relay without waiting for queued requests.
func (r *Relay) Close() {
	r.pool.Close()
}
