// Package persistence executes schema synchronization runs. A Synchronizer
// loads the live snapshot through a QueryRunner, diffs it against the desired
// model and applies the resulting plan phase by phase, inside a transaction
// when the backend allows it.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/metadata"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// SynchronizerOptions configures a Synchronizer.
type SynchronizerOptions struct {
	// Concurrency bounds how many tables are altered at the same time within
	// one phase. Dry runs ignore it and run sequentially.
	Concurrency int
}

// DefaultSynchronizerOptions returns the default configuration.
func DefaultSynchronizerOptions() *SynchronizerOptions {
	return &SynchronizerOptions{Concurrency: 1}
}

// Result describes a finished synchronization run.
type Result struct {
	RunID    string        `json:"runId"`
	State    RunState      `json:"state"`
	DryRun   bool          `json:"dryRun,omitempty"`
	Plan     *diff.Plan    `json:"plan,omitempty"`
	Executed int           `json:"executed"`
	Duration time.Duration `json:"duration"`
}

// SQLPreview is the output of a dry run. Statements follow the plan's phase
// order. Setup holds what the run needs before the plan starts, such as the
// view metadata table.
type SQLPreview struct {
	RunID      string     `json:"runId"`
	Plan       *diff.Plan `json:"plan"`
	Setup      []string   `json:"setup,omitempty"`
	Statements []string   `json:"statements"`
}

// SQL joins the setup and plan statements into a script. It is empty when
// the plan has nothing to run.
func (p *SQLPreview) SQL() string {
	if len(p.Statements) == 0 {
		return ""
	}
	return strings.Join(append(slices.Clone(p.Setup), p.Statements...), ";\n") + ";"
}

// Synchronizer reconciles one database with a desired model. Runs are
// serialized; a Synchronizer is safe for concurrent use.
type Synchronizer struct {
	provider      QueryRunnerProvider
	dialect       dialect.Dialect
	model         *schema.Model
	logger        *zap.Logger
	options       *SynchronizerOptions
	bus           *events.TypedEventBus[SyncEvent]
	subscriptions map[string]*SubscriptionInfo
	subMu         sync.RWMutex
	runMu         sync.Mutex
}

// NewSynchronizer validates the model against the dialect and prepares the
// event bus. A nil dialect means the provider's dialect.
func NewSynchronizer(
	provider QueryRunnerProvider,
	d dialect.Dialect,
	model *schema.Model,
	logger *zap.Logger,
	options *SynchronizerOptions,
) (*Synchronizer, error) {
	if provider == nil {
		return nil, errors.New("a query runner provider is required")
	}
	if model == nil {
		return nil, errors.New("a desired model is required")
	}
	if d == nil {
		d = provider.Dialect()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultSynchronizerOptions()
	}
	if options.Concurrency < 1 {
		options.Concurrency = 1
	}

	if err := metadata.Validate(model, d); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}

	bus, err := events.NewTypedEventBus[SyncEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	return &Synchronizer{
		provider:      provider,
		dialect:       d,
		model:         model,
		logger:        logger,
		options:       options,
		bus:           bus,
		subscriptions: make(map[string]*SubscriptionInfo),
	}, nil
}

// Synchronize brings the database in line with the model. On backends with
// transactional DDL the whole plan is applied in one transaction and rolled
// back on failure; elsewhere a failure is reported as *PartialMigrationError.
func (s *Synchronizer) Synchronize(ctx context.Context) (*Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	r := s.newRun(false)
	s.transition(r, StateIdle, SyncStart, nil, nil)
	s.logger.Info("Starting schema synchronization", zap.String("runId", r.id), zap.String("dialect", s.dialect.Name()))

	runner, err := s.provider.QueryRunner(ctx)
	if err != nil {
		return s.fail(r, fmt.Errorf("failed to acquire query runner: %w", err))
	}
	defer s.release(runner)

	plan, err := s.plan(ctx, runner, r)
	if err != nil {
		return s.fail(r, err)
	}
	if plan.IsEmpty() {
		s.logger.Info("Schema is up to date", zap.String("runId", r.id))
		s.transition(r, StateCommitted, SyncCommitted, nil, nil)
		return s.finish(r), nil
	}

	if s.dialect.Capabilities().TransactionalDDL {
		return s.executeInTransaction(ctx, runner, r, plan)
	}
	return s.executeWithoutTransaction(ctx, runner, r, plan)
}

// Log computes the plan and returns the SQL it would run without executing
// any DDL and without opening a transaction.
func (s *Synchronizer) Log(ctx context.Context) (*SQLPreview, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	r := s.newRun(true)
	s.transition(r, StateIdle, SyncStart, nil, nil)

	runner, err := s.provider.QueryRunner(ctx)
	if err != nil {
		_, err = s.fail(r, fmt.Errorf("failed to acquire query runner: %w", err))
		return nil, err
	}
	defer s.release(runner)

	runner.EnableSQLMemory()
	defer runner.DisableSQLMemory()

	plan, err := s.plan(ctx, runner, r)
	if err != nil {
		_, err = s.fail(r, err)
		return nil, err
	}
	setup := runner.GetMemorySQL()
	runner.EnableSQLMemory()

	r.result.State = StateExecuting
	if _, err := s.execute(ctx, runner, r, plan, 1); err != nil {
		_, err = s.fail(r, err)
		return nil, err
	}
	statements := runner.GetMemorySQL()
	r.result.State = StatePlanned

	s.logger.Info("Dry run finished", zap.String("runId", r.id), zap.Int("statements", len(statements)))
	return &SQLPreview{RunID: r.id, Plan: plan, Setup: setup, Statements: statements}, nil
}

// Snapshot returns the live state of the tables and views the model manages
// without computing a plan.
func (s *Synchronizer) Snapshot(ctx context.Context) (*schema.Model, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	runner, err := s.provider.QueryRunner(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire query runner: %w", err)
	}
	defer s.release(runner)
	return s.loadSnapshot(ctx, runner)
}

func (s *Synchronizer) plan(ctx context.Context, runner QueryRunner, r *run) (*diff.Plan, error) {
	if len(s.model.Views) > 0 {
		if err := runner.EnsureMetadataTable(ctx); err != nil {
			return nil, fmt.Errorf("failed to create metadata table: %w", err)
		}
	}

	live, err := s.loadSnapshot(ctx, runner)
	if err != nil {
		return nil, err
	}
	s.transition(r, StateSnapshotLoaded, SyncSnapshot, nil, func(e *SyncEvent) {
		e.Count = intPtr(len(live.Tables))
	})

	plan, err := diff.Compute(s.model, live, s.dialect, &diff.Options{Logger: s.logger})
	if err != nil {
		return nil, fmt.Errorf("failed to compute schema diff: %w", err)
	}
	r.result.State = StateDiffed
	r.result.Plan = plan

	s.logger.Info("Computed synchronization plan", zap.String("runId", r.id), zap.Int("operations", len(plan.Operations)))
	s.transition(r, StatePlanned, SyncPlanned, nil, func(e *SyncEvent) {
		e.Count = intPtr(len(plan.Operations))
	})
	return plan, nil
}

// loadSnapshot reads the live state of every table the model manages. The
// snapshot is read once per run.
func (s *Synchronizer) loadSnapshot(ctx context.Context, runner QueryRunner) (*schema.Model, error) {
	var paths []string
	for _, t := range s.model.Tables {
		if !t.IsSynchronized() || t.Kind == schema.TableKindView || t.Kind == schema.TableKindEntityChild {
			continue
		}
		paths = append(paths, t.Path())
	}

	tables, err := runner.LoadTables(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load live tables: %w", err)
	}
	views, err := runner.LoadViews(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load live views: %w", err)
	}
	s.logger.Debug("Loaded live snapshot", zap.Int("tables", len(tables)), zap.Int("views", len(views)))
	return &schema.Model{Tables: tables, Views: views}, nil
}

func (s *Synchronizer) executeInTransaction(ctx context.Context, runner QueryRunner, r *run, plan *diff.Plan) (*Result, error) {
	if err := runner.StartTransaction(ctx); err != nil {
		return s.fail(r, fmt.Errorf("failed to start transaction: %w", err))
	}
	r.result.State = StateExecuting

	executed, err := s.execute(ctx, runner, r, plan, s.options.Concurrency)
	r.result.Executed = executed
	if err == nil {
		if err = runner.CommitTransaction(ctx); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}
	if err != nil {
		// The original error is returned even if the rollback fails too.
		if rbErr := runner.RollbackTransaction(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.String("runId", r.id), zap.Error(rbErr))
		}
		s.logger.Error("Schema synchronization failed, changes rolled back", zap.String("runId", r.id), zap.Error(err))
		s.transition(r, StateRolledBack, SyncRolledBack, err, nil)
		return s.finish(r), err
	}

	s.logger.Info("Schema synchronization committed", zap.String("runId", r.id), zap.Int("operations", executed))
	s.transition(r, StateCommitted, SyncCommitted, nil, func(e *SyncEvent) { e.Count = intPtr(executed) })
	return s.finish(r), nil
}

func (s *Synchronizer) executeWithoutTransaction(ctx context.Context, runner QueryRunner, r *run, plan *diff.Plan) (*Result, error) {
	r.result.State = StateExecuting

	executed, err := s.execute(ctx, runner, r, plan, s.options.Concurrency)
	r.result.Executed = executed
	if err != nil {
		partial := &PartialMigrationError{Completed: executed, Total: len(plan.Operations), Err: err}
		return s.fail(r, partial)
	}

	s.logger.Info("Schema synchronization finished", zap.String("runId", r.id), zap.Int("operations", executed))
	s.transition(r, StateCommitted, SyncCommitted, nil, func(e *SyncEvent) { e.Count = intPtr(executed) })
	return s.finish(r), nil
}

func (s *Synchronizer) fail(r *run, err error) (*Result, error) {
	s.logger.Error("Schema synchronization failed", zap.String("runId", r.id), zap.Bool("dryRun", r.dryRun), zap.Error(err))
	s.transition(r, StateFailed, SyncFailed, err, nil)
	return s.finish(r), err
}

func (s *Synchronizer) finish(r *run) *Result {
	r.result.Duration = time.Since(r.start)
	return r.result
}

func (s *Synchronizer) release(runner QueryRunner) {
	if err := runner.Release(); err != nil {
		s.logger.Warn("Failed to release query runner", zap.Error(err))
	}
}
