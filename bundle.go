package tideflow

import (
	"database/sql"

	"github.com/okarvi/tideflow/internal/workqueue"
	workerpkg "github.com/okarvi/tideflow/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable work queue, and a Worker
// that consumes nudges from that queue.
type WorkerBundle struct {
	Engine *Engine
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue workqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Workflow blobs and queued nudges are persisted
// in the provided *sql.DB. The queue is wrapped with nudge validation so
// malformed messages are dropped instead of looping.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:tideflow.db?_journal=WAL")
//	bundle, err := tideflow.NewSQLiteBundle(db, nil, worker.Config{})
//	// register flows on bundle.Engine.Deciders()
//	// register activities on bundle.Worker.Activities()
func NewSQLiteBundle(db *sql.DB, activities *workerpkg.ActivityRegistry, cfg workerpkg.Config) (*WorkerBundle, error) {
	eng, err := NewSQLiteEngine(db)
	if err != nil {
		return nil, err
	}

	q, err := workqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	validated := workqueue.NewValidatingQueue(q)

	w := workerpkg.NewWithConfig(eng, validated, activities, cfg)

	return &WorkerBundle{
		Engine: eng,
		Worker: w,
		queue:  validated,
	}, nil
}
