package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/metadata"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

func testDialect(transactional bool) dialect.Dialect {
	return &dialect.Base{
		DialectName:  "test",
		Caps:         dialect.Capabilities{CheckConstraints: true, UniqueConstraints: true, TransactionalDDL: transactional},
		TrueLiteral:  "true",
		FalseLiteral: "false",
		Mapped: dialect.MappedDataTypes{
			MetadataType:       "varchar",
			MetadataName:       "varchar",
			MetadataValue:      "text",
			MetadataNameLength: "255",
		},
	}
}

func tableT() *schema.TableSpec {
	return &schema.TableSpec{Name: "t", Columns: []*schema.ColumnSpec{
		{Name: "id", Type: "integer", Primary: true, Generation: schema.GenerationIncrement},
	}}
}

func desiredModel() *schema.Model {
	t := tableT()
	t.Columns = append(t.Columns, &schema.ColumnSpec{Name: "name", Type: "varchar", Length: "50", Nullable: true})
	return &schema.Model{Tables: []*schema.TableSpec{t}}
}

func newSynchronizer(t *testing.T, p *fakeProvider, model *schema.Model, options *SynchronizerOptions) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(p, nil, model, nil, options)
	require.NoError(t, err)
	return s
}

func TestSynchronizer_AddsMissingColumn(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	s := newSynchronizer(t, p, desiredModel(), nil)

	result, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, result.State)
	assert.Equal(t, 1, result.Executed)
	require.Len(t, result.Plan.Operations, 1)
	assert.Equal(t, diff.KindAddColumns, result.Plan.Operations[0].Kind)

	live := p.db.table("t")
	require.Len(t, live.Columns, 2)
	assert.Equal(t, "name", live.Columns[1].Name)
	assert.True(t, live.Columns[1].Nullable)
	assert.Equal(t, "50", live.Columns[1].Length)

	runner := p.runners[0]
	assert.True(t, runner.txStarted)
	assert.True(t, runner.committed)
	assert.True(t, runner.released)

	// A second run finds nothing to do.
	result, err = s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Plan.IsEmpty())
	assert.Zero(t, result.Executed)
	assert.False(t, p.runners[1].txStarted)
}

func TestSynchronizer_DryRun(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	model := desiredModel()
	model.Views = []*schema.ViewSpec{{Name: "names", Expression: "SELECT name FROM t"}}
	s := newSynchronizer(t, p, model, nil)
	before := p.db.snapshot()

	preview, err := s.Log(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE METADATA TABLE"}, preview.Setup)
	assert.Equal(t, []string{
		"AddColumns t (name)",
		"CreateView names",
	}, preview.Statements)
	assert.Equal(t, "CREATE METADATA TABLE;\nAddColumns t (name);\nCreateView names;", preview.SQL())
	assert.Equal(t, 2, len(preview.Plan.Operations))

	runner := p.runners[0]
	assert.False(t, runner.txStarted)
	assert.Empty(t, runner.Calls())
	assert.True(t, runner.released)
	assert.Empty(t, runner.GetMemorySQL())
	assert.Equal(t, before, p.db.snapshot())
	assert.False(t, p.db.metadata)
}

func TestSQLPreview_SQL(t *testing.T) {
	tests := []struct {
		name    string
		preview SQLPreview
		want    string
	}{
		{"nothing to run", SQLPreview{Setup: []string{"CREATE METADATA TABLE"}}, ""},
		{"plan only", SQLPreview{Statements: []string{"A", "B"}}, "A;\nB;"},
		{"setup comes first", SQLPreview{Setup: []string{"S"}, Statements: []string{"A"}}, "S;\nA;"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.preview.SQL())
		})
	}
}

func TestSynchronizer_Snapshot(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	s := newSynchronizer(t, p, desiredModel(), nil)

	live, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, live.Tables, 1)
	assert.Len(t, live.Tables[0].Columns, 1)
	assert.Empty(t, p.runners[0].Calls())
	assert.True(t, p.runners[0].released)
}

func TestSynchronizer_RollbackOnFailure(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	p.failOn = diff.KindAddColumns
	model := desiredModel()
	model.Tables = append(model.Tables, &schema.TableSpec{Name: "other", Columns: []*schema.ColumnSpec{
		{Name: "id", Type: "integer", Primary: true},
	}})
	s := newSynchronizer(t, p, model, nil)
	before := p.db.snapshot()

	result, err := s.Synchronize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, diff.PhaseAddColumns, execErr.Phase)
	assert.Equal(t, diff.KindAddColumns, execErr.Operation.Kind)

	assert.Equal(t, StateRolledBack, result.State)
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, []string{"CreateTable other", "AddColumns t (name)"}, p.runners[0].Calls())
	assert.True(t, p.runners[0].rolledBack)
	assert.True(t, p.runners[0].released)
	assert.Equal(t, before, p.db.snapshot())
}

func TestSynchronizer_RollbackErrorKeepsOriginal(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	p.failOn = diff.KindAddColumns
	p.failRollback = true
	s := newSynchronizer(t, p, desiredModel(), nil)

	_, err := s.Synchronize(context.Background())
	assert.ErrorIs(t, err, errInjected)
	assert.NotContains(t, err.Error(), "rollback failed")
}

func TestSynchronizer_PartialMigration(t *testing.T) {
	p := newFakeProvider(testDialect(false), tableT())
	p.failOn = diff.KindAddColumns
	model := desiredModel()
	model.Tables = append(model.Tables, &schema.TableSpec{Name: "other", Columns: []*schema.ColumnSpec{
		{Name: "id", Type: "integer", Primary: true},
	}})
	s := newSynchronizer(t, p, model, nil)

	result, err := s.Synchronize(context.Background())
	var partial *PartialMigrationError
	require.True(t, errors.As(err, &partial))
	assert.Equal(t, 1, partial.Completed)
	assert.Equal(t, 2, partial.Total)
	assert.ErrorIs(t, err, errInjected)

	assert.Equal(t, StateFailed, result.State)
	assert.False(t, p.runners[0].txStarted)
	assert.True(t, p.runners[0].released)
	assert.NotNil(t, p.db.table("other"))
}

func TestSynchronizer_AcquireFailure(t *testing.T) {
	p := newFakeProvider(testDialect(true))
	p.acquireErr = errors.New("pool exhausted")
	s := newSynchronizer(t, p, desiredModel(), nil)

	result, err := s.Synchronize(context.Background())
	assert.ErrorContains(t, err, "pool exhausted")
	assert.Equal(t, StateFailed, result.State)

	_, err = s.Log(context.Background())
	assert.Error(t, err)
}

func TestSynchronizer_MetadataTableOnlyWithViews(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	s := newSynchronizer(t, p, desiredModel(), nil)
	_, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.False(t, p.runners[0].ensuredMetadata)

	model := desiredModel()
	model.Views = []*schema.ViewSpec{{Name: "v", Expression: "SELECT id FROM t"}}
	s = newSynchronizer(t, p, model, nil)
	_, err = s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.True(t, p.runners[1].ensuredMetadata)
	assert.True(t, p.db.metadata)
	assert.Equal(t, []string{"CreateView v"}, p.runners[1].Calls())
}

func TestSynchronizer_ConcurrentTables(t *testing.T) {
	model := &schema.Model{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		model.Tables = append(model.Tables, &schema.TableSpec{Name: name, Columns: []*schema.ColumnSpec{
			{Name: "id", Type: "integer", Primary: true},
		}, Indices: []*schema.IndexSpec{{Name: "IDX_" + name, Columns: []string{"id"}}}})
	}
	p := newFakeProvider(testDialect(true))
	s := newSynchronizer(t, p, model, &SynchronizerOptions{Concurrency: 4})

	result, err := s.Synchronize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, result.Executed)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		live := p.db.table(name)
		require.NotNil(t, live, name)
		assert.Len(t, live.Indices, 1)
	}
}

func TestSynchronizer_InvalidModel(t *testing.T) {
	p := newFakeProvider(testDialect(true))
	model := &schema.Model{Tables: []*schema.TableSpec{{Name: "nokey", Columns: []*schema.ColumnSpec{{Name: "x", Type: "integer"}}}}}

	_, err := NewSynchronizer(p, nil, model, nil, nil)
	var resolution *metadata.ResolutionError
	assert.True(t, errors.As(err, &resolution))

	_, err = NewSynchronizer(nil, nil, model, nil, nil)
	assert.Error(t, err)
	_, err = NewSynchronizer(p, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestSynchronizer_Events(t *testing.T) {
	p := newFakeProvider(testDialect(true), tableT())
	s := newSynchronizer(t, p, desiredModel(), nil)

	var operations, committed atomic.Int32
	var planned atomic.Int32
	opID := s.RegisterSubscription(RegisterSubscriptionOptions{
		Event: SyncOperation,
		Callback: func(ctx context.Context, e SyncEvent) error {
			if e.Operation != nil && e.Operation.Kind == diff.KindAddColumns {
				operations.Add(1)
			}
			return nil
		},
	})
	s.RegisterSubscription(RegisterSubscriptionOptions{
		Event: SyncCommitted,
		Callback: func(ctx context.Context, e SyncEvent) error {
			if e.State == StateCommitted && e.RunID != "" {
				committed.Add(1)
			}
			return nil
		},
	})
	s.RegisterSubscription(RegisterSubscriptionOptions{
		Event: SyncPlanned,
		Callback: func(ctx context.Context, e SyncEvent) error {
			if e.Count != nil {
				planned.Store(int32(*e.Count))
			}
			return nil
		},
	})

	subs, err := s.Subscriptions()
	require.NoError(t, err)
	assert.Len(t, subs, 3)

	_, err = s.Synchronize(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return operations.Load() == 1 && committed.Load() == 1 && planned.Load() == 1
	}, time.Second, 10*time.Millisecond)

	s.UnregisterSubscription(opID)
	subs, err = s.Subscriptions()
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestGroupByTarget(t *testing.T) {
	ops := []*diff.Operation{
		{Kind: diff.KindCreateIndices, Table: &schema.TableSpec{Name: "a"}},
		{Kind: diff.KindCreateIndices, Table: &schema.TableSpec{Name: "b"}},
		{Kind: diff.KindCreateIndices, Table: &schema.TableSpec{Name: "a"}},
	}
	groups := groupByTarget(ops)
	require.Len(t, groups, 2)
	assert.Equal(t, []*diff.Operation{ops[0], ops[2]}, groups[0])
	assert.Equal(t, []*diff.Operation{ops[1]}, groups[1])
}

func TestStatementRecorder(t *testing.T) {
	var r StatementRecorder
	assert.False(t, r.Capture("SELECT 1"))

	r.EnableSQLMemory()
	assert.True(t, r.Capture("CREATE TABLE a"))
	assert.True(t, r.Capture("CREATE TABLE b"))
	assert.Equal(t, []string{"CREATE TABLE a", "CREATE TABLE b"}, r.GetMemorySQL())

	r.EnableSQLMemory()
	assert.Empty(t, r.GetMemorySQL())

	r.DisableSQLMemory()
	assert.False(t, r.Capture("CREATE TABLE c"))
	assert.Empty(t, r.GetMemorySQL())
}

func TestMetadataTable(t *testing.T) {
	table, err := MetadataTable(testDialect(true), "app", "")
	require.NoError(t, err)
	assert.Equal(t, METADATA_TABLE_NAME, table.Name)
	assert.Equal(t, "app.anansi_metadata", table.Path())
	assert.Equal(t, []string{"type", "schema", "name"}, table.PrimaryColumnNames())
	assert.Equal(t, "text", table.FindColumn("value").Type)
	assert.Equal(t, "255", table.FindColumn("name").Length)
	assert.Equal(t, "", table.FindColumn("schema").Default)
}

func TestMetadataRecord(t *testing.T) {
	record := ViewRecord(&schema.ViewSpec{Name: "v", Schema: "app", Expression: "SELECT 1"})
	columns, values, err := record.Columns()
	require.NoError(t, err)
	assert.Equal(t, []string{"database", "name", "schema", "table", "type", "value"}, columns)
	assert.Equal(t, []any{"", "v", "app", "", MetadataTypeView, "SELECT 1"}, values)

	back, err := MetadataRecordFromRow(map[string]any{
		"type": []byte("VIEW"), "schema": "app", "name": "v", "database": nil, "table": nil, "value": "SELECT 1",
	})
	require.NoError(t, err)
	assert.Equal(t, record, back)
	assert.Equal(t, "SELECT 1", back.View().Expression)
}
