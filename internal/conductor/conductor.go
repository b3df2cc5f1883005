// Package conductor wires the trigger domain to the event fabric. It bridges
// ledger-domain broadcast topics onto the trigger-side bus and pumps tick and
// ledger events into each registered agent. Delivery between the two domains
// is asynchronous and at-least-once; agents and the ledger carry their own
// idempotency guards, so the conductor never deduplicates.
package conductor

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/quantfabric/twapd/errs"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/trigger"
)

// bridgedTypes are the ledger-domain events the trigger side consumes.
var bridgedTypes = []schema.EventType{
	schema.EventTypeTrancheExecuted,
	schema.EventTypeOrderCompleted,
	schema.EventTypeOrderFailed,
}

// Config binds the conductor to the two domain buses. LedgerBus carries the
// execution domain's events; TriggerBus carries ticks and bridged copies.
type Config struct {
	LedgerBus  eventbus.Bus
	TriggerBus eventbus.Bus
}

type registration struct {
	agent *trigger.Agent
	subs  []eventbus.SubscriptionID
}

// Conductor owns the bridge goroutines and the per-agent pump loops.
type Conductor struct {
	ledgerBus  eventbus.Bus
	triggerBus eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu         sync.Mutex
	agents     map[uint64]*registration
	bridgeSubs []eventbus.SubscriptionID
	started    bool
	closed     bool

	closeOnce sync.Once
}

// New constructs a conductor. Both buses are required.
func New(cfg Config) (*Conductor, error) {
	if cfg.LedgerBus == nil {
		return nil, errs.New("conductor/new", errs.CodeInvalid, errs.WithMessage("ledger bus required"))
	}
	if cfg.TriggerBus == nil {
		return nil, errs.New("conductor/new", errs.CodeInvalid, errs.WithMessage("trigger bus required"))
	}
	c := new(Conductor)
	c.ledgerBus = cfg.LedgerBus
	c.triggerBus = cfg.TriggerBus
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.agents = make(map[uint64]*registration)
	return c, nil
}

// Start launches the bridge loops that copy ledger-domain events onto the
// trigger bus. Calling Start twice is an error.
func (c *Conductor) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New("conductor/start", errs.CodeUnavailable, errs.WithMessage("conductor closed"))
	}
	if c.started {
		return errs.New("conductor/start", errs.CodeInvalid, errs.WithMessage("conductor already started"))
	}

	for _, typ := range bridgedTypes {
		id, events, err := c.ledgerBus.Subscribe(c.ctx, typ.Topic())
		if err != nil {
			for _, existing := range c.bridgeSubs {
				c.ledgerBus.Unsubscribe(existing)
			}
			c.bridgeSubs = nil
			return err
		}
		c.bridgeSubs = append(c.bridgeSubs, id)
		c.wg.Go(func() { c.bridge(events) })
	}
	c.started = true
	return nil
}

// bridge copies one ledger topic stream onto the trigger bus until shutdown.
func (c *Conductor) bridge(events <-chan *schema.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt == nil {
				continue
			}
			if err := c.triggerBus.Publish(c.ctx, evt); err != nil {
				observability.Log().Error("bridge publish failed",
					observability.F("type", evt.Type),
					observability.F("order_id", evt.OrderID),
					observability.F("error", err))
			}
		}
	}
}

// RegisterAgent subscribes the agent to its tick stream and to the bridged
// ledger topics, then starts its pump loops. One agent per order.
func (c *Conductor) RegisterAgent(agent *trigger.Agent) error {
	if agent == nil {
		return errs.New("conductor/register", errs.CodeInvalid, errs.WithMessage("agent required"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errs.New("conductor/register", errs.CodeUnavailable, errs.WithMessage("conductor closed"))
	}
	if _, exists := c.agents[agent.OrderID()]; exists {
		return errs.New("conductor/register", errs.CodeInvalid, errs.WithMessage("agent already registered for order"))
	}

	reg := &registration{agent: agent}

	tickID, ticks, err := c.triggerBus.Subscribe(c.ctx, agent.TickTopic())
	if err != nil {
		return err
	}
	reg.subs = append(reg.subs, tickID)

	eventStreams := make([]<-chan *schema.Event, 0, len(bridgedTypes))
	for _, typ := range bridgedTypes {
		id, events, err := c.triggerBus.Subscribe(c.ctx, typ.Topic())
		if err != nil {
			for _, existing := range reg.subs {
				c.triggerBus.Unsubscribe(existing)
			}
			return err
		}
		reg.subs = append(reg.subs, id)
		eventStreams = append(eventStreams, events)
	}

	c.agents[agent.OrderID()] = reg

	c.wg.Go(func() { c.pumpTicks(agent, ticks) })
	for _, events := range eventStreams {
		c.wg.Go(func() { c.pumpEvents(agent, events) })
	}
	return nil
}

func (c *Conductor) pumpTicks(agent *trigger.Agent, ticks <-chan *schema.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-ticks:
			if !ok {
				return
			}
			if evt == nil {
				continue
			}
			if err := agent.OnTick(c.ctx); err != nil {
				observability.Log().Error("tick handling failed",
					observability.F("order_id", agent.OrderID()),
					observability.F("error", err))
			}
		}
	}
}

func (c *Conductor) pumpEvents(agent *trigger.Agent, events <-chan *schema.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			agent.OnEvent(c.ctx, evt)
		}
	}
}

// Agent returns the registered agent for an order, if any.
func (c *Conductor) Agent(orderID uint64) (*trigger.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	reg, ok := c.agents[orderID]
	if !ok {
		return nil, false
	}
	return reg.agent, true
}

// DeregisterAgent detaches the agent's subscriptions. The pump loops drain and
// exit once their channels close.
func (c *Conductor) DeregisterAgent(orderID uint64) {
	c.mu.Lock()
	reg, ok := c.agents[orderID]
	if ok {
		delete(c.agents, orderID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	for _, id := range reg.subs {
		c.triggerBus.Unsubscribe(id)
	}
}

// Close detaches every subscription and waits for the loops to exit. The
// buses themselves stay open; the caller owns their lifecycle.
func (c *Conductor) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		bridgeSubs := c.bridgeSubs
		c.bridgeSubs = nil
		regs := make([]*registration, 0, len(c.agents))
		for id, reg := range c.agents {
			regs = append(regs, reg)
			delete(c.agents, id)
		}
		c.mu.Unlock()

		for _, id := range bridgeSubs {
			c.ledgerBus.Unsubscribe(id)
		}
		for _, reg := range regs {
			for _, id := range reg.subs {
				c.triggerBus.Unsubscribe(id)
			}
		}
		c.cancel()
		c.wg.Wait()
	})
}
