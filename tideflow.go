package tideflow

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarvi/tideflow/internal/blobstore"
	"github.com/okarvi/tideflow/internal/engine"
	"github.com/okarvi/tideflow/pkg/api"
	"github.com/okarvi/tideflow/pkg/flow"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	State                = api.State
	Task                 = api.Task
	Lease                = api.Lease
	Event                = api.Event
	Signal               = api.Signal
	Command              = api.Command
	Decider              = api.Decider
	ErrorInfo            = api.ErrorInfo
	Status               = api.Status
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver

	Engine         = engine.Engine
	Registry       = engine.Registry
	TickResult     = engine.TickResult
	CompleteResult = engine.CompleteResult
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusRunning   = api.StatusRunning
	StatusCompleted = api.StatusCompleted
	StatusFailed    = api.StatusFailed
	StatusCancelled = api.StatusCancelled
)

// Engine constructors
// These wrap the internal packages so external callers never need to import
// them. Each engine owns a fresh decider registry, reachable via
// Engine.Deciders().

// NewInMemoryEngine returns an Engine backed entirely by an in-memory store.
func NewInMemoryEngine() *Engine {
	return engine.New(blobstore.NewMemoryStore(), engine.NewRegistry())
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) *Engine {
	return engine.New(blobstore.NewMemoryStore(), engine.NewRegistry(), engine.WithObserver(obs))
}

// NewSQLiteEngine returns an Engine that persists workflow blobs in a SQLite
// database.
func NewSQLiteEngine(db *sql.DB) (*Engine, error) {
	store, err := blobstore.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(store, engine.NewRegistry()), nil
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (*Engine, error) {
	store, err := blobstore.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	return engine.New(store, engine.NewRegistry(), engine.WithObserver(obs)), nil
}

// NewRedisEngine returns an Engine that persists workflow blobs in Redis.
func NewRedisEngine(client *redis.Client) *Engine {
	return engine.New(blobstore.NewRedisStore(client), engine.NewRegistry())
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client *redis.Client, obs Observer) *Engine {
	return engine.New(blobstore.NewRedisStore(client), engine.NewRegistry(), engine.WithObserver(obs))
}

// NewFlow compiles a workflow body into a named definition. Register the
// result on an engine's decider registry before creating workflows with it.
func NewFlow(name string, body flow.BodyFunc, opts ...flow.Option) *flow.Definition {
	return flow.New(name, body, opts...)
}

// Convenience helpers that just forward to the underlying Engine.

// Create initializes a new workflow under the given decider name.
func Create(ctx context.Context, eng *Engine, wfID, decider string, initialCtx map[string]any) (*State, error) {
	return eng.Create(ctx, wfID, decider, initialCtx, time.Now())
}

// Get fetches a workflow's current state.
func Get(ctx context.Context, eng *Engine, wfID string) (*State, error) {
	return eng.Get(ctx, wfID)
}

// Tick advances a workflow by one atomic step at the current time.
func Tick(ctx context.Context, eng *Engine, wfID string) (TickResult, error) {
	return eng.Tick(ctx, wfID, time.Now())
}

// Deliver records a signal on a workflow at the current time.
func Deliver(ctx context.Context, eng *Engine, wfID, name string, payload any) error {
	return eng.Signal(ctx, wfID, name, payload, time.Now())
}
