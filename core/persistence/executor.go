package persistence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asaidimu/go-anansi-sync/core/diff"
)

// execute applies the plan phase by phase. Within a phase the operations of
// different tables run concurrently, bounded by limit; the operations of one
// table run in order. No phase starts before the previous one finished.
// It returns how many operations completed.
func (s *Synchronizer) execute(ctx context.Context, runner QueryRunner, r *run, plan *diff.Plan, limit int) (int, error) {
	var completed atomic.Int64

	for _, step := range plan.Steps() {
		s.logger.Info("Executing phase",
			zap.String("runId", r.id),
			zap.Int("phase", int(step.Phase)),
			zap.Stringer("name", step.Phase),
			zap.Int("operations", len(step.Operations)))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, ops := range groupByTarget(step.Operations) {
			g.Go(func() error {
				for _, op := range ops {
					started := time.Now()
					if err := s.apply(gctx, runner, op); err != nil {
						return &ExecutionError{Phase: op.Phase, Operation: op, Err: err}
					}
					completed.Add(1)
					s.logger.Debug("Operation applied", zap.Stringer("operation", op), zap.Duration("took", time.Since(started)))
					event := createEvent(SyncOperation, r.id, StateExecuting, nil, r.start)
					event.DryRun = r.dryRun
					event.Phase = op.Phase
					event.Operation = op
					s.emitEvent(event)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return int(completed.Load()), err
		}
	}
	return int(completed.Load()), nil
}

// groupByTarget splits a phase into per-table batches, keeping plan order.
func groupByTarget(ops []*diff.Operation) [][]*diff.Operation {
	index := make(map[string]int)
	var groups [][]*diff.Operation
	for _, op := range ops {
		target := op.Target()
		i, ok := index[target]
		if !ok {
			i = len(groups)
			index[target] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

func (s *Synchronizer) apply(ctx context.Context, runner QueryRunner, op *diff.Operation) error {
	switch op.Kind {
	case diff.KindCreateTable:
		return runner.CreateTable(ctx, op.Table, true, false)
	case diff.KindDropColumns:
		return runner.DropColumns(ctx, op.Table, op.Columns)
	case diff.KindAddColumns:
		return runner.AddColumns(ctx, op.Table, op.Columns)
	case diff.KindChangeColumns:
		return runner.ChangeColumns(ctx, op.Table, op.Changes)
	case diff.KindRenameColumn:
		return runner.RenameColumn(ctx, op.Table, op.Rename.From, op.Rename.To)
	case diff.KindUpdatePrimaryKey:
		return runner.UpdatePrimaryKeys(ctx, op.Table, op.PrimaryColumns)
	case diff.KindCreateIndices:
		return runner.CreateIndices(ctx, op.Table, op.Indices)
	case diff.KindDropIndices:
		return runner.DropIndices(ctx, op.Table, op.Indices)
	case diff.KindCreateForeignKeys:
		return runner.CreateForeignKeys(ctx, op.Table, op.ForeignKeys)
	case diff.KindDropForeignKeys:
		return runner.DropForeignKeys(ctx, op.Table, op.ForeignKeys)
	case diff.KindCreateChecks:
		return runner.CreateChecks(ctx, op.Table, op.Checks)
	case diff.KindDropChecks:
		return runner.DropChecks(ctx, op.Table, op.Checks)
	case diff.KindCreateUniques:
		return runner.CreateUniques(ctx, op.Table, op.Uniques)
	case diff.KindDropUniques:
		return runner.DropUniques(ctx, op.Table, op.Uniques)
	case diff.KindCreateExclusions:
		return runner.CreateExclusions(ctx, op.Table, op.Exclusions)
	case diff.KindDropExclusions:
		return runner.DropExclusions(ctx, op.Table, op.Exclusions)
	case diff.KindCreateView:
		return runner.CreateView(ctx, op.View)
	case diff.KindDropView:
		return runner.DropView(ctx, op.View)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}
