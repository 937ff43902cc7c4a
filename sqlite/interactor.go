// Package sqlite implements the synchronizer's query runner for SQLite. Changes
// that SQLite cannot express with ALTER TABLE are applied by recreating the
// table.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

const metadataTable = persistence.METADATA_TABLE_NAME

// dbRunner abstracts the methods shared by *sql.Conn and *sql.Tx, so the same
// code runs inside and outside a transaction.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider hands out query runners backed by connections of one *sql.DB.
type Provider struct {
	db      *sql.DB
	dialect *Dialect
	logger  *zap.Logger
}

var _ persistence.QueryRunnerProvider = (*Provider)(nil)

// NewProvider wraps an open SQLite database.
func NewProvider(db *sql.DB, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{db: db, dialect: NewDialect(), logger: logger}
}

// Open opens the database at dsn with the go-sqlite3 driver.
func Open(dsn string, logger *zap.Logger) (*Provider, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewProvider(db, logger), nil
}

func (p *Provider) Dialect() dialect.Dialect { return p.dialect }

// DB returns the underlying database handle.
func (p *Provider) DB() *sql.DB { return p.db }

func (p *Provider) Close() error { return p.db.Close() }

// QueryRunner reserves a connection of the pool. Foreign key enforcement and
// schema-wide rename checks are switched off on it until it is released:
// table recreation drops tables that other tables and views still name.
func (p *Provider) QueryRunner(ctx context.Context) (persistence.QueryRunner, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire sqlite connection: %w", err)
	}
	r := &QueryRunner{conn: conn, dialect: p.dialect, logger: p.logger}
	if err := r.prepare(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare sqlite connection: %w", err)
	}
	return r, nil
}

// QueryRunner runs catalog reads and DDL on one reserved connection.
type QueryRunner struct {
	persistence.StatementRecorder

	conn    *sql.Conn
	tx      *sql.Tx
	dialect *Dialect
	logger  *zap.Logger

	// mu serializes statements; a connection runs one at a time.
	mu sync.Mutex

	// connection settings to restore on release
	foreignKeys, legacyAlterTable int
}

// sessionSettings are switched for the lifetime of a runner.
var sessionSettings = []struct {
	pragma string
	value  int
}{
	{"foreign_keys", 0},
	{"legacy_alter_table", 1},
}

func (r *QueryRunner) prepare(ctx context.Context) error {
	saved := []*int{&r.foreignKeys, &r.legacyAlterTable}
	for i, s := range sessionSettings {
		if err := r.conn.QueryRowContext(ctx, "PRAGMA "+s.pragma).Scan(saved[i]); err != nil {
			return err
		}
		if _, err := r.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %d", s.pragma, s.value)); err != nil {
			return err
		}
	}
	return nil
}

var _ persistence.QueryRunner = (*QueryRunner)(nil)

func (r *QueryRunner) runner() dbRunner {
	if r.tx != nil {
		return r.tx
	}
	return r.conn
}

// exec runs a statement, or records it while SQL memory is enabled.
func (r *QueryRunner) exec(ctx context.Context, query string, args ...any) error {
	if r.Capture(query) {
		r.logger.Debug("Recording SQL", zap.String("sql", query))
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger.Debug("Executing SQL", zap.String("sql", query), zap.Any("params", args))
	if _, err := r.runner().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute SQL statement '%s': %w", query, err)
	}
	return nil
}

func (r *QueryRunner) execAll(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if err := r.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// recreate rebuilds current into the shape of next.
func (r *QueryRunner) recreate(ctx context.Context, current, next *schema.TableSpec, sources map[string]string) error {
	r.logger.Debug("Recreating table", zap.String("table", current.Path()))
	return r.execAll(ctx, r.dialect.RecreateTableSQL(current, next, sources))
}

func (r *QueryRunner) CreateTable(ctx context.Context, table *schema.TableSpec, ifNotExists, withForeignKeys bool) error {
	if err := r.exec(ctx, r.dialect.CreateTableSQL(table, ifNotExists, withForeignKeys)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Path(), err)
	}
	return r.CreateIndices(ctx, table, table.Indices)
}

func (r *QueryRunner) DropColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	names := lo.Map(columns, func(c *schema.ColumnSpec, _ int) string { return c.Name })
	covers := func(cols []string) bool { return lo.Some(cols, names) }

	next := table.Clone()
	for _, name := range names {
		next.RemoveColumn(name)
	}
	next.Indices = lo.Reject(next.Indices, func(i *schema.IndexSpec, _ int) bool { return covers(i.Columns) })
	next.Uniques = lo.Reject(next.Uniques, func(u *schema.UniqueSpec, _ int) bool { return covers(u.Columns) })
	next.ForeignKeys = lo.Reject(next.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool { return covers(fk.Columns) })
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) AddColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	if lo.EveryBy(columns, r.dialect.alterable) {
		for _, col := range columns {
			if err := r.exec(ctx, r.dialect.AddColumnSQL(table, col)); err != nil {
				return fmt.Errorf("failed to add column %s: %w", col.Name, err)
			}
		}
		return nil
	}
	next := table.Clone()
	for _, col := range columns {
		next.Columns = append(next.Columns, col.Clone())
	}
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) ChangeColumns(ctx context.Context, table *schema.TableSpec, changes []diff.ColumnChange) error {
	next := table.Clone()
	sources := make(map[string]string, len(changes))
	for _, ch := range changes {
		for i, c := range next.Columns {
			if c.Name == ch.From.Name {
				next.Columns[i] = ch.To.Clone()
			}
		}
		sources[ch.To.Name] = ch.From.Name
	}
	return r.recreate(ctx, table, next, sources)
}

func (r *QueryRunner) RenameColumn(ctx context.Context, table *schema.TableSpec, from, to *schema.ColumnSpec) error {
	return r.exec(ctx, r.dialect.RenameColumnSQL(table, from.Name, to.Name))
}

func (r *QueryRunner) UpdatePrimaryKeys(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	names := lo.Map(columns, func(c *schema.ColumnSpec, _ int) string { return c.Name })
	next := table.Clone()
	for _, c := range next.Columns {
		c.Primary = lo.Contains(names, c.Name)
	}
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) CreateIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error {
	for _, idx := range indices {
		if err := r.exec(ctx, r.dialect.CreateIndexSQL(table, idx)); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) DropIndices(ctx context.Context, table *schema.TableSpec, indices []*schema.IndexSpec) error {
	for _, idx := range indices {
		if err := r.exec(ctx, r.dialect.DropIndexSQL(table, idx)); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) CreateForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	next := table.Clone()
	for _, fk := range fks {
		next.ForeignKeys = append(next.ForeignKeys, fk.Clone())
	}
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) DropForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	names := lo.Map(fks, func(fk *schema.ForeignKeySpec, _ int) string { return fk.Name })
	next := table.Clone()
	next.ForeignKeys = lo.Reject(next.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool { return lo.Contains(names, fk.Name) })
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) CreateChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	next := table.Clone()
	for _, chk := range checks {
		c := *chk
		next.Checks = append(next.Checks, &c)
	}
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) DropChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	names := lo.Map(checks, func(c *schema.CheckSpec, _ int) string { return c.Name })
	next := table.Clone()
	next.Checks = lo.Reject(next.Checks, func(c *schema.CheckSpec, _ int) bool { return lo.Contains(names, c.Name) })
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) CreateUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	next := table.Clone()
	for _, u := range uniques {
		next.Uniques = append(next.Uniques, u.Clone())
	}
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) DropUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	names := lo.Map(uniques, func(u *schema.UniqueSpec, _ int) string { return u.Name })
	next := table.Clone()
	next.Uniques = lo.Reject(next.Uniques, func(u *schema.UniqueSpec, _ int) bool { return lo.Contains(names, u.Name) })
	return r.recreate(ctx, table, next, nil)
}

func (r *QueryRunner) CreateExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return &dialect.CapabilityError{Dialect: r.dialect.Name(), Feature: "exclusion constraints", Table: table.Path()}
}

func (r *QueryRunner) DropExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return &dialect.CapabilityError{Dialect: r.dialect.Name(), Feature: "exclusion constraints", Table: table.Path()}
}

func (r *QueryRunner) CreateView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.CreateViewSQL(view)); err != nil {
		return fmt.Errorf("failed to create view %s: %w", view.Name, err)
	}
	columns, values, err := persistence.ViewRecord(view).Columns()
	if err != nil {
		return err
	}
	upsert := r.dialect.UpsertStatement(metadataTable, columns, persistence.MetadataConflictColumns)
	if err := r.exec(ctx, upsert, values...); err != nil {
		return fmt.Errorf("failed to record view %s: %w", view.Name, err)
	}
	return nil
}

func (r *QueryRunner) DropView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.DropViewSQL(view)); err != nil {
		return fmt.Errorf("failed to drop view %s: %w", view.Name, err)
	}
	remove := fmt.Sprintf("DELETE FROM %s WHERE %s = ? AND %s = ? AND %s = ?",
		r.dialect.Quote(metadataTable), r.dialect.Quote("type"), r.dialect.Quote("schema"), r.dialect.Quote("name"))
	if err := r.exec(ctx, remove, persistence.MetadataTypeView, view.Schema, view.Name); err != nil {
		return fmt.Errorf("failed to remove view record %s: %w", view.Name, err)
	}
	return nil
}

func (r *QueryRunner) EnsureMetadataTable(ctx context.Context) error {
	table, err := persistence.MetadataTable(r.dialect, "", "")
	if err != nil {
		return err
	}
	return r.exec(ctx, r.dialect.CreateTableSQL(table, true, false))
}

// LoadViews returns the recorded views that still exist in the database.
func (r *QueryRunner) LoadViews(ctx context.Context) ([]*schema.ViewSpec, error) {
	exists, err := r.metadataExists(ctx)
	if err != nil || !exists {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT m."type", m."database", m."schema", m."table", m."name", m."value" FROM %s m `+
		`INNER JOIN sqlite_master s ON s.name = m."name" AND s.type = 'view' WHERE m."type" = ?`, r.dialect.Quote(metadataTable))

	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().QueryContext(ctx, query, persistence.MetadataTypeView)
	if err != nil {
		return nil, fmt.Errorf("failed to read view metadata: %w", err)
	}
	defer rows.Close()

	records, err := readRows(rows)
	if err != nil {
		return nil, err
	}
	var views []*schema.ViewSpec
	for _, row := range records {
		record, err := persistence.MetadataRecordFromRow(row)
		if err != nil {
			return nil, err
		}
		views = append(views, record.View())
	}
	return views, nil
}

// readRows scans every row into a column-name keyed map.
func readRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func (r *QueryRunner) StartTransaction(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("cannot start a new transaction: a transaction is already active")
	}
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	r.logger.Debug("Transaction initiated")
	r.tx = tx
	return nil
}

func (r *QueryRunner) CommitTransaction(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	r.logger.Debug("Committing transaction")
	tx := r.tx
	r.tx = nil
	return tx.Commit()
}

func (r *QueryRunner) RollbackTransaction(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	r.logger.Debug("Rolling back transaction")
	tx := r.tx
	r.tx = nil
	return tx.Rollback()
}

// Release restores the connection settings and returns it to the pool.
func (r *QueryRunner) Release() error {
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	saved := []int{r.foreignKeys, r.legacyAlterTable}
	for i, s := range sessionSettings {
		stmt := fmt.Sprintf("PRAGMA %s = %d", s.pragma, saved[i])
		if _, err := r.conn.ExecContext(context.Background(), stmt); err != nil {
			r.logger.Warn("Failed to restore connection setting", zap.String("sql", stmt), zap.Error(err))
		}
	}
	return r.conn.Close()
}
