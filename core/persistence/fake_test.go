package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

var errInjected = errors.New("injected failure")

// fakeDB is an in-memory database shared by the runners of one provider.
type fakeDB struct {
	mu       sync.Mutex
	model    *schema.Model
	metadata bool
}

func (db *fakeDB) snapshot() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.model.String()
}

func (db *fakeDB) table(path string) *schema.TableSpec {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.model.FindTable(path).Clone()
}

type fakeProvider struct {
	db      *fakeDB
	dialect dialect.Dialect
	failOn  diff.Kind
	// failRollback makes RollbackTransaction return an error.
	failRollback bool
	acquireErr   error
	runners      []*fakeRunner
}

func newFakeProvider(d dialect.Dialect, tables ...*schema.TableSpec) *fakeProvider {
	return &fakeProvider{db: &fakeDB{model: &schema.Model{Tables: tables}}, dialect: d}
}

func (p *fakeProvider) Dialect() dialect.Dialect { return p.dialect }

func (p *fakeProvider) QueryRunner(ctx context.Context) (QueryRunner, error) {
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	r := &fakeRunner{db: p.db, failOn: p.failOn, failRollback: p.failRollback}
	p.runners = append(p.runners, r)
	return r, nil
}

// fakeRunner applies operations to the shared fakeDB and logs a pseudo
// statement per call.
type fakeRunner struct {
	StatementRecorder
	db           *fakeDB
	failOn       diff.Kind
	failRollback bool

	mu              sync.Mutex
	calls           []string
	backup          *schema.Model
	txStarted       bool
	committed       bool
	rolledBack      bool
	released        bool
	ensuredMetadata bool
}

func (r *fakeRunner) exec(kind diff.Kind, target string, names []string, mutate func(m *schema.Model)) error {
	stmt := fmt.Sprintf("%s %s", kind, target)
	if len(names) > 0 {
		stmt += " (" + strings.Join(names, ", ") + ")"
	}
	if r.Capture(stmt) {
		return nil
	}

	r.mu.Lock()
	r.calls = append(r.calls, stmt)
	r.mu.Unlock()

	if kind == r.failOn {
		return errInjected
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	mutate(r.db.model)
	return nil
}

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func columnNames(cols []*schema.ColumnSpec) []string {
	return lo.Map(cols, func(c *schema.ColumnSpec, _ int) string { return c.Name })
}

func (r *fakeRunner) LoadTables(ctx context.Context, paths []string) ([]*schema.TableSpec, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []*schema.TableSpec
	for _, p := range paths {
		if t := r.db.model.FindTable(p); t != nil {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (r *fakeRunner) LoadViews(ctx context.Context) ([]*schema.ViewSpec, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return lo.Map(r.db.model.Views, func(v *schema.ViewSpec, _ int) *schema.ViewSpec { return v.Clone() }), nil
}

func (r *fakeRunner) CreateTable(ctx context.Context, table *schema.TableSpec, ifNotExists, withForeignKeys bool) error {
	return r.exec(diff.KindCreateTable, table.Path(), nil, func(m *schema.Model) {
		t := table.Clone()
		if !withForeignKeys {
			t.ForeignKeys = nil
		}
		m.Tables = append(m.Tables, t)
	})
}

func (r *fakeRunner) alter(kind diff.Kind, table *schema.TableSpec, names []string, fn func(t *schema.TableSpec)) error {
	return r.exec(kind, table.Path(), names, func(m *schema.Model) {
		fn(m.FindTable(table.Path()))
	})
}

func (r *fakeRunner) DropColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	return r.alter(diff.KindDropColumns, table, columnNames(columns), func(t *schema.TableSpec) {
		for _, c := range columns {
			t.RemoveColumn(c.Name)
		}
	})
}

func (r *fakeRunner) AddColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	return r.alter(diff.KindAddColumns, table, columnNames(columns), func(t *schema.TableSpec) {
		for _, c := range columns {
			t.Columns = append(t.Columns, c.Clone())
		}
	})
}

func (r *fakeRunner) ChangeColumns(ctx context.Context, table *schema.TableSpec, changes []diff.ColumnChange) error {
	names := lo.Map(changes, func(c diff.ColumnChange, _ int) string { return c.To.Name })
	return r.alter(diff.KindChangeColumns, table, names, func(t *schema.TableSpec) {
		for _, ch := range changes {
			for i, c := range t.Columns {
				if c.Name == ch.From.Name {
					t.Columns[i] = ch.To.Clone()
				}
			}
		}
	})
}

func (r *fakeRunner) RenameColumn(ctx context.Context, table *schema.TableSpec, from, to *schema.ColumnSpec) error {
	return r.alter(diff.KindRenameColumn, table, []string{from.Name, to.Name}, func(t *schema.TableSpec) {
		t.FindColumn(from.Name).Name = to.Name
	})
}

func (r *fakeRunner) UpdatePrimaryKeys(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	names := columnNames(columns)
	return r.alter(diff.KindUpdatePrimaryKey, table, names, func(t *schema.TableSpec) {
		for _, c := range t.Columns {
			c.Primary = lo.Contains(names, c.Name)
		}
	})
}

func (r *fakeRunner) CreateIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error {
	names := lo.Map(indices, func(i *schema.IndexSpec, _ int) string { return i.Name })
	return r.alter(diff.KindCreateIndices, table, names, func(t *schema.TableSpec) {
		for _, i := range indices {
			t.Indices = append(t.Indices, i.Clone())
		}
	})
}

func (r *fakeRunner) DropIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error {
	names := lo.Map(indices, func(i *schema.IndexSpec, _ int) string { return i.Name })
	return r.alter(diff.KindDropIndices, table, names, func(t *schema.TableSpec) {
		t.Indices = lo.Reject(t.Indices, func(i *schema.IndexSpec, _ int) bool { return lo.Contains(names, i.Name) })
	})
}

func (r *fakeRunner) CreateForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	names := lo.Map(fks, func(fk *schema.ForeignKeySpec, _ int) string { return fk.Name })
	return r.alter(diff.KindCreateForeignKeys, table, names, func(t *schema.TableSpec) {
		for _, fk := range fks {
			t.ForeignKeys = append(t.ForeignKeys, fk.Clone())
		}
	})
}

func (r *fakeRunner) DropForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	names := lo.Map(fks, func(fk *schema.ForeignKeySpec, _ int) string { return fk.Name })
	return r.alter(diff.KindDropForeignKeys, table, names, func(t *schema.TableSpec) {
		t.ForeignKeys = lo.Reject(t.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool { return lo.Contains(names, fk.Name) })
	})
}

func (r *fakeRunner) CreateChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	return r.alter(diff.KindCreateChecks, table, nil, func(t *schema.TableSpec) { t.Checks = append(t.Checks, checks...) })
}

func (r *fakeRunner) DropChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	return r.alter(diff.KindDropChecks, table, nil, func(t *schema.TableSpec) { t.Checks = nil })
}

func (r *fakeRunner) CreateUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	return r.alter(diff.KindCreateUniques, table, nil, func(t *schema.TableSpec) { t.Uniques = append(t.Uniques, uniques...) })
}

func (r *fakeRunner) DropUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	return r.alter(diff.KindDropUniques, table, nil, func(t *schema.TableSpec) { t.Uniques = nil })
}

func (r *fakeRunner) CreateExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return r.alter(diff.KindCreateExclusions, table, nil, func(t *schema.TableSpec) { t.Exclusions = append(t.Exclusions, exclusions...) })
}

func (r *fakeRunner) DropExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return r.alter(diff.KindDropExclusions, table, nil, func(t *schema.TableSpec) { t.Exclusions = nil })
}

func (r *fakeRunner) CreateView(ctx context.Context, view *schema.ViewSpec) error {
	return r.exec(diff.KindCreateView, view.Path(), nil, func(m *schema.Model) {
		m.Views = append(m.Views, view.Clone())
	})
}

func (r *fakeRunner) DropView(ctx context.Context, view *schema.ViewSpec) error {
	return r.exec(diff.KindDropView, view.Path(), nil, func(m *schema.Model) {
		m.Views = lo.Reject(m.Views, func(v *schema.ViewSpec, _ int) bool { return v.Name == view.Name })
	})
}

func (r *fakeRunner) EnsureMetadataTable(ctx context.Context) error {
	r.mu.Lock()
	r.ensuredMetadata = true
	r.mu.Unlock()
	if r.Capture("CREATE METADATA TABLE") {
		return nil
	}
	r.db.mu.Lock()
	r.db.metadata = true
	r.db.mu.Unlock()
	return nil
}

func (r *fakeRunner) StartTransaction(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.txStarted = true
	r.backup = r.db.model.Clone()
	return nil
}

func (r *fakeRunner) CommitTransaction(ctx context.Context) error {
	r.committed = true
	r.backup = nil
	return nil
}

func (r *fakeRunner) RollbackTransaction(ctx context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.rolledBack = true
	r.db.model = r.backup
	if r.failRollback {
		return errors.New("rollback failed")
	}
	return nil
}

func (r *fakeRunner) Release() error {
	r.released = true
	return nil
}
