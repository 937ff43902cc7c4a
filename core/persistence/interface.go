package persistence

import (
	"context"

	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// SyncEventType defines the event types emitted during a synchronization run.
type SyncEventType string

const (
	SyncStart              SyncEventType = "sync:start"
	SyncSnapshot           SyncEventType = "sync:snapshot"
	SyncPlanned            SyncEventType = "sync:planned"
	SyncOperation          SyncEventType = "sync:operation"
	SyncCommitted          SyncEventType = "sync:committed"
	SyncRolledBack         SyncEventType = "sync:rolledback"
	SyncFailed             SyncEventType = "sync:failed"
	SubscriptionRegister   SyncEventType = "subscription:register"
	SubscriptionUnregister SyncEventType = "subscription:unregister"
)

// RunState is the position of a run in its state machine:
// idle, snapshot-loaded, diffed, planned, executing, then committed or rolled-back.
type RunState string

const (
	StateIdle           RunState = "idle"
	StateSnapshotLoaded RunState = "snapshot-loaded"
	StateDiffed         RunState = "diffed"
	StatePlanned        RunState = "planned"
	StateExecuting      RunState = "executing"
	StateCommitted      RunState = "committed"
	StateRolledBack     RunState = "rolled-back"
	StateFailed         RunState = "failed" // failed without a transaction to roll back
)

// SyncEvent is emitted on the synchronizer's event bus.
type SyncEvent struct {
	Type      SyncEventType   `json:"type"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	RunID     string          `json:"runId,omitempty"`
	State     RunState        `json:"state,omitempty"`
	DryRun    bool            `json:"dryRun,omitempty"`
	Phase     diff.Phase      `json:"phase,omitempty"`
	Operation *diff.Operation `json:"operation,omitempty"`
	Count     *int            `json:"count,omitempty"` // operations planned or completed
	Error     *string         `json:"error,omitempty"`
	Duration  *int64          `json:"duration,omitempty"` // milliseconds since the run started
	Context   map[string]any  `json:"context,omitempty"`
}

type EventCallbackFunction func(ctx context.Context, event SyncEvent) error

// RegisterSubscriptionOptions configures a new event subscription.
type RegisterSubscriptionOptions struct {
	Event       SyncEventType
	Label       *string
	Description *string
	Callback    EventCallbackFunction
}

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	Id          *string       `json:"id,omitempty"`
	Event       SyncEventType `json:"event"`
	Label       *string       `json:"label,omitempty"`
	Description *string       `json:"description,omitempty"`
	Unsubscribe func()        `json:"-"`
}

// QueryRunner is a single database session owned by one run at a time.
//
// DDL methods receive the table as it exists immediately before the call.
// While SQL memory is enabled a runner records the statements it would issue
// instead of executing them; catalog reads still run.
type QueryRunner interface {
	// LoadTables returns the live specs of the given table paths. Paths that
	// do not exist are omitted. Returned tables carry the schema and database
	// parts of the requested path so that their Path matches it.
	LoadTables(ctx context.Context, paths []string) ([]*schema.TableSpec, error)
	// LoadViews returns the views recorded in the metadata table. It returns
	// no views when the metadata table does not exist.
	LoadViews(ctx context.Context) ([]*schema.ViewSpec, error)

	CreateTable(ctx context.Context, table *schema.TableSpec, ifNotExists, withForeignKeys bool) error

	DropColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error
	AddColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error
	ChangeColumns(ctx context.Context, table *schema.TableSpec, changes []diff.ColumnChange) error
	RenameColumn(ctx context.Context, table *schema.TableSpec, from, to *schema.ColumnSpec) error
	UpdatePrimaryKeys(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error

	CreateIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error
	DropIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error
	CreateForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error
	DropForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error
	CreateChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error
	DropChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error
	CreateUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error
	DropUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error
	CreateExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error
	DropExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error

	// CreateView creates the view and records its definition in the metadata table.
	CreateView(ctx context.Context, view *schema.ViewSpec) error
	// DropView drops the view and removes its metadata record.
	DropView(ctx context.Context, view *schema.ViewSpec) error
	// EnsureMetadataTable creates the view metadata table if it is missing.
	EnsureMetadataTable(ctx context.Context) error

	StartTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error

	EnableSQLMemory()
	GetMemorySQL() []string
	DisableSQLMemory()

	// Release returns the session to its pool.
	Release() error
}

// QueryRunnerProvider hands out query runners for one target database.
type QueryRunnerProvider interface {
	Dialect() dialect.Dialect
	QueryRunner(ctx context.Context) (QueryRunner, error)
}
