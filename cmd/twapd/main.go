// Command twapd launches the TWAP execution engine: token ledger, venue,
// order ledger, trigger relay, scheduler, and the conductor bridging the two
// domain buses.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/quantfabric/twapd/config"
	"github.com/quantfabric/twapd/internal/bus/eventbus"
	"github.com/quantfabric/twapd/internal/clock"
	"github.com/quantfabric/twapd/internal/conductor"
	"github.com/quantfabric/twapd/internal/journal"
	journalpg "github.com/quantfabric/twapd/internal/journal/postgres"
	"github.com/quantfabric/twapd/internal/ledger"
	"github.com/quantfabric/twapd/internal/observability"
	"github.com/quantfabric/twapd/internal/relay"
	"github.com/quantfabric/twapd/internal/schema"
	"github.com/quantfabric/twapd/internal/token"
	"github.com/quantfabric/twapd/internal/trigger"
	"github.com/quantfabric/twapd/internal/venue"
	"github.com/quantfabric/twapd/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	loggerPrefix             = "twapd "
	shutdownTimeout          = 30 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	relayShutdownTimeout     = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second

	custodyIdentity = schema.Identity("order-ledger")
	relayIdentity   = schema.Identity("trigger-relay")
	venueIdentity   = schema.Identity("venue")
)

func main() {
	cfgPath := parseFlags()
	debug := os.Getenv("TWAPD_DEBUG") != ""

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.NewWriterLogger(os.Stdout, debug))

	cfg, err := config.Load(resolveConfigPath(cfgPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s", cfg.Environment)

	telemetryProvider, err := initTelemetry(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	ledgerBus, pool, err := buildLedgerBus(ctx, logger, cfg)
	if err != nil {
		logger.Fatalf("initialise ledger bus: %v", err)
	}
	triggerBus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: cfg.Engine.Eventbus.BufferSize})

	tokens := token.NewLedger()
	vn := venue.New(venueIdentity, tokens, ledgerBus)

	orderLedger, err := ledger.New(ledger.Config{
		Identity: custodyIdentity,
		Relay:    relayIdentity,
		Tokens:   tokens,
		Venue:    vn,
		Bus:      ledgerBus,
	})
	if err != nil {
		logger.Fatalf("initialise order ledger: %v", err)
	}

	triggerRelay, err := relay.New(relayIdentity, orderLedger, relay.Config{
		QueueDepth:   cfg.Engine.Relay.QueueDepth,
		MaxPerSecond: cfg.Engine.Relay.MaxPerSecond,
	})
	if err != nil {
		logger.Fatalf("initialise trigger relay: %v", err)
	}

	cond, err := conductor.New(conductor.Config{LedgerBus: ledgerBus, TriggerBus: triggerBus})
	if err != nil {
		logger.Fatalf("initialise conductor: %v", err)
	}
	if err := cond.Start(); err != nil {
		logger.Fatalf("start conductor: %v", err)
	}

	if err := bootstrap(ctx, logger, cfg.Bootstrap, tokens, vn, orderLedger, triggerRelay, triggerBus, cond); err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}

	scheduler := clock.NewScheduler(triggerBus)
	var lifecycle conc.WaitGroup
	lifecycle.Go(func() {
		if err := scheduler.Run(ctx, cfg.Engine.TickPeriod); err != nil && ctx.Err() == nil {
			logger.Printf("scheduler stopped: %v", err)
		}
	})

	logger.Print("twapd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		lifecycle:  &lifecycle,
		conductor:  cond,
		relay:      triggerRelay,
		ledgerBus:  ledgerBus,
		triggerBus: triggerBus,
		pgPool:     pool,
		telemetry:  telemetryProvider,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	return *cfgPath
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.AppConfig) (*telemetry.Provider, error) {
	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.EnableMetrics,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  string(cfg.Environment),
	})
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if cfg.Telemetry.EnableMetrics && cfg.Telemetry.OTLPEndpoint != "" {
		observability.SetMetrics(telemetry.NewMetricsAdapter(provider.Meter(cfg.Telemetry.ServiceName)))
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

// buildLedgerBus wraps the in-memory ledger bus with the durable journal when
// a Postgres DSN is configured.
func buildLedgerBus(ctx context.Context, logger *log.Logger, cfg config.AppConfig) (eventbus.Bus, *pgxpool.Pool, error) {
	inner := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: cfg.Engine.Eventbus.BufferSize})
	if cfg.Journal.PostgresDSN == "" {
		logger.Print("journal disabled; events are not persisted")
		return inner, nil, nil
	}

	if err := journalpg.Migrate(ctx, cfg.Journal.PostgresDSN, cfg.Journal.MigrationsPath, logger); err != nil {
		return nil, nil, fmt.Errorf("apply journal migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, cfg.Journal.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect journal pool: %w", err)
	}

	store := journalpg.NewStore(pool)
	bus := journal.NewJournaledBus(inner, store,
		journal.WithReplayInterval(cfg.Journal.ReplayInterval),
		journal.WithReplayBatchSize(cfg.Journal.ReplayBatchSize),
	)
	logger.Printf("journal enabled: replay every %v, batch %d", cfg.Journal.ReplayInterval, cfg.Journal.ReplayBatchSize)
	return bus, pool, nil
}

// bootstrap seeds the token ledger, venue, and orders declared in config and
// registers a trigger agent per seeded order.
func bootstrap(ctx context.Context, logger *log.Logger, cfg config.BootstrapConfig, tokens *token.Ledger, vn *venue.Venue, orderLedger *ledger.Ledger, triggerRelay *relay.Relay, triggerBus eventbus.Bus, cond *conductor.Conductor) error {
	for _, mint := range cfg.Mints {
		tokens.Mint(schema.Identity(mint.Account), schema.Asset(mint.Asset), mint.Amount)
	}
	for _, rate := range cfg.Rates {
		vn.SetRate(schema.Asset(rate.AssetIn), schema.Asset(rate.AssetOut), rate.Rate)
	}
	for _, liq := range cfg.Liquidity {
		if err := vn.AddLiquidity(schema.Identity(liq.Provider), schema.Asset(liq.Asset), liq.Amount); err != nil {
			return fmt.Errorf("seed liquidity %s/%s: %w", liq.Provider, liq.Asset, err)
		}
	}

	for i, order := range cfg.Orders {
		owner := schema.Identity(order.Owner)
		tokens.Approve(owner, orderLedger.Identity(), schema.Asset(order.AssetIn), order.TotalAmount)
		orderID, err := orderLedger.CreateOrder(ctx, owner, schema.Asset(order.AssetIn), schema.Asset(order.AssetOut), order.TotalAmount, order.MaxExecutions)
		if err != nil {
			return fmt.Errorf("seed order %d: %w", i, err)
		}

		agent, err := trigger.NewAgent(trigger.Config{
			OrderID:       orderID,
			MaxExecutions: order.MaxExecutions,
			Interval:      clock.Interval(order.Interval),
			Relay:         triggerRelay,
			Bus:           triggerBus,
		})
		if err != nil {
			return fmt.Errorf("seed agent for order %d: %w", orderID, err)
		}
		if err := cond.RegisterAgent(agent); err != nil {
			return fmt.Errorf("register agent for order %d: %w", orderID, err)
		}
		logger.Printf("seeded order %d: %s %d %s -> %s over %d executions",
			orderID, order.Owner, order.TotalAmount, order.AssetIn, order.AssetOut, order.MaxExecutions)
	}
	return nil
}

type gracefulShutdownConfig struct {
	lifecycle  *conc.WaitGroup
	conductor  *conductor.Conductor
	relay      *relay.Relay
	ledgerBus  eventbus.Bus
	triggerBus eventbus.Bus
	pgPool     *pgxpool.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.relay != nil {
		shutdownStep("draining trigger relay", relayShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.relay.Shutdown(stepCtx)
		})
	}

	if cfg.conductor != nil {
		shutdownStep("stopping conductor", lifecycleShutdownTimeout, func(context.Context) error {
			cfg.conductor.Close()
			return nil
		})
	}

	if cfg.triggerBus != nil {
		cfg.triggerBus.Close()
	}
	if cfg.ledgerBus != nil {
		cfg.ledgerBus.Close()
	}
	if cfg.pgPool != nil {
		cfg.pgPool.Close()
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}
