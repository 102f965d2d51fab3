package river

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riversqlite"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/neomorfeo/propgate/internal/domain"
)

// migrate runs River's own migrations (creates river_job, river_leader,
// etc.). These are separate from the app's goose migrations.
func migrate(ctx context.Context, driver *riversqlite.Driver) error {
	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("running river migrations: %w", err)
	}
	return nil
}

// NewInsertOnly creates a client that can enqueue jobs but runs no workers.
// The orchestrator's outbox uses it, which breaks the construction cycle
// between the orchestrator and the workers that call into it.
func NewInsertOnly(ctx context.Context, db *sql.DB) (*Client, error) {
	driver := riversqlite.New(db)
	if err := migrate(ctx, driver); err != nil {
		return nil, err
	}

	client, err := river.NewClient(driver, &river.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating insert-only river client: %w", err)
	}
	return client, nil
}

// Setup creates a River client with the ingestion and delivery workers
// registered and runs River's internal migrations. The caller must call
// client.Start() to begin processing jobs and client.Stop() for graceful
// shutdown.
func Setup(ctx context.Context, db *sql.DB, starter Starter, store ContractUpserter, letters domain.DeadLetters, deliverer Deliverer) (*Client, error) {
	driver := riversqlite.New(db)
	if err := migrate(ctx, driver); err != nil {
		return nil, err
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewApprovalRequestedWorker(starter, letters))
	river.AddWorker(workers, NewContractStatusChangedWorker(store, letters))
	river.AddWorker(workers, NewEvaluationCompletedWorker(deliverer))

	client, err := river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}

	return client, nil
}
