package postgres_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/quantfabric/twapd/internal/journal"
	pgjournal "github.com/quantfabric/twapd/internal/journal/postgres"
	"github.com/quantfabric/twapd/internal/schema"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "twapd"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
	} else {
		pgContainer = container
		setupErr = initialiseDatabase(ctx)
	}

	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres journal tests skipped: %v\n", setupErr)
	}
	exitCode = m.Run()

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/twapd?sslmode=disable", host, port.Port())

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return fmt.Errorf("runtime caller lookup failed")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(file), "..", "..", ".."))
	migrationsDir := filepath.Join(root, "db", "migrations")

	if err := pgjournal.Migrate(ctx, dsn, migrationsDir, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func TestJournalStoreLifecycle(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres journal setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgjournal.NewStore(testPool)

	payload, err := json.Marshal(schema.TrancheExecutedPayload{AmountIn: 10, AmountOut: 20, ExecutionCount: 1})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}

	rec, err := store.Append(ctx, journal.Entry{
		EventID:   uuid.NewString(),
		EventType: schema.EventTypeTrancheExecuted,
		Topic:     schema.EventTypeTrancheExecuted.Topic(),
		OrderID:   42,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected row id to be assigned")
	}
	if rec.Delivered {
		t.Fatal("fresh row must be pending")
	}

	pending, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) == 0 {
		t.Fatal("expected the appended row to be pending")
	}

	if err := store.MarkFailed(ctx, rec.ID, "subscriber buffer full"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	deferred, err := store.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("list pending after failure: %v", err)
	}
	for _, row := range deferred {
		if row.ID == rec.ID {
			t.Fatal("failed row must be deferred past NOW()")
		}
	}

	if err := store.MarkDelivered(ctx, rec.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
}

func TestAppendIsIdempotentPerEventID(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres journal setup unavailable: %v", setupErr)
	}
	ctx := context.Background()
	store := pgjournal.NewStore(testPool)

	eventID := uuid.NewString()
	entry := journal.Entry{
		EventID:   eventID,
		EventType: schema.EventTypeOrderCreated,
		Topic:     schema.EventTypeOrderCreated.Topic(),
		OrderID:   7,
		Payload:   json.RawMessage(`{}`),
	}

	first, err := store.Append(ctx, entry)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	second, err := store.Append(ctx, entry)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate append must return the same row: %d vs %d", first.ID, second.ID)
	}
}
