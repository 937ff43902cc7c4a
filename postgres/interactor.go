// Package postgres implements the synchronizer's query runner for PostgreSQL
// on top of a pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// pgxRunner abstracts the methods shared by *pgxpool.Conn and pgx.Tx.
type pgxRunner interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	// Schema unqualified tables live in. Defaults to public.
	Schema string
}

// Provider hands out query runners backed by connections of a pgx pool.
type Provider struct {
	pool    *pgxpool.Pool
	dialect *Dialect
	logger  *zap.Logger
	schema  string
}

var _ persistence.QueryRunnerProvider = (*Provider)(nil)

func NewProvider(pool *pgxpool.Pool, logger *zap.Logger, options *ProviderOptions) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := NewDialect()
	schemaName := d.DefaultSchema
	if options != nil && options.Schema != "" {
		schemaName = options.Schema
	}
	return &Provider{pool: pool, dialect: d, logger: logger, schema: schemaName}
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, logger *zap.Logger, options *ProviderOptions) (*Provider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	return NewProvider(pool, logger, options), nil
}

func (p *Provider) Dialect() dialect.Dialect { return p.dialect }

// Pool returns the underlying pool.
func (p *Provider) Pool() *pgxpool.Pool { return p.pool }

func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

func (p *Provider) QueryRunner(ctx context.Context) (persistence.QueryRunner, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire postgres connection: %w", err)
	}
	return &QueryRunner{conn: conn, dialect: p.dialect, logger: p.logger, schema: p.schema}, nil
}

// QueryRunner runs catalog reads and DDL on one acquired connection.
type QueryRunner struct {
	persistence.StatementRecorder

	conn    *pgxpool.Conn
	tx      pgx.Tx
	dialect *Dialect
	logger  *zap.Logger
	schema  string

	mu sync.Mutex
}

var _ persistence.QueryRunner = (*QueryRunner)(nil)

func (r *QueryRunner) runner() pgxRunner {
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
	if _, err := r.runner().Exec(ctx, query, args...); err != nil {
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

func (r *QueryRunner) CreateTable(ctx context.Context, table *schema.TableSpec, ifNotExists, withForeignKeys bool) error {
	if err := r.execAll(ctx, r.dialect.CreateTableSQL(table, ifNotExists, withForeignKeys)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Path(), err)
	}
	return r.CreateIndices(ctx, table, table.Indices)
}

func (r *QueryRunner) DropColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	for _, col := range columns {
		if err := r.exec(ctx, r.dialect.DropColumnSQL(table, col)); err != nil {
			return fmt.Errorf("failed to drop column %s: %w", col.Name, err)
		}
		if len(col.Enum) > 0 || col.EnumName != "" {
			if err := r.exec(ctx, r.dialect.DropEnumSQL(table, enumTypeName(table.Name, col))); err != nil {
				return fmt.Errorf("failed to drop enum type of %s: %w", col.Name, err)
			}
		}
	}
	return nil
}

func (r *QueryRunner) AddColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	for _, col := range columns {
		if err := r.execAll(ctx, r.dialect.AddColumnSQL(table, col)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.Name, err)
		}
	}
	return nil
}

// ChangeColumns alters columns in place. Primary key membership changes drop
// the key before the columns change and add it back afterwards.
func (r *QueryRunner) ChangeColumns(ctx context.Context, table *schema.TableSpec, changes []diff.ColumnChange) error {
	attributes := make([][]string, len(changes))
	primaryChanged := false
	for i, ch := range changes {
		attributes[i] = dialect.ChangedAttributes(r.dialect, ch.To, ch.From)
		primaryChanged = primaryChanged || lo.Contains(attributes[i], dialect.PredicatePrimary)
	}

	if primaryChanged && len(table.PrimaryColumns()) > 0 {
		if err := r.exec(ctx, r.dialect.DropPrimaryKeySQL(table)); err != nil {
			return fmt.Errorf("failed to drop primary key of %s: %w", table.Path(), err)
		}
	}

	for i, ch := range changes {
		if err := r.execAll(ctx, r.dialect.ChangeColumnSQL(table, ch.From, ch.To, attributes[i])); err != nil {
			return fmt.Errorf("failed to change column %s: %w", ch.From.Name, err)
		}
		if !lo.Contains(attributes[i], dialect.PredicateUnique) {
			continue
		}
		if err := r.changeUnique(ctx, table, ch); err != nil {
			return err
		}
	}

	if primaryChanged {
		next := table.Clone()
		for _, ch := range changes {
			if col := next.FindColumn(ch.From.Name); col != nil {
				col.Primary = ch.To.Primary
			}
		}
		if names := next.PrimaryColumnNames(); len(names) > 0 {
			if err := r.exec(ctx, r.dialect.AddPrimaryKeySQL(table, names)); err != nil {
				return fmt.Errorf("failed to add primary key of %s: %w", table.Path(), err)
			}
		}
	}
	return nil
}

func (r *QueryRunner) changeUnique(ctx context.Context, table *schema.TableSpec, ch diff.ColumnChange) error {
	if r.dialect.NormalizeIsUnique(ch.To) {
		u := &schema.UniqueSpec{Name: UniqueName(table, ch.To.Name), Columns: []string{ch.To.Name}}
		if err := r.exec(ctx, r.dialect.AddUniqueSQL(table, u)); err != nil {
			return fmt.Errorf("failed to add unique constraint on %s: %w", ch.To.Name, err)
		}
		return nil
	}

	// The live constraint may carry any name.
	names, err := r.uniqueConstraintsOn(ctx, table, ch.From.Name)
	if err != nil {
		return err
	}
	if len(names) == 0 && r.Recording() {
		names = []string{UniqueName(table, ch.From.Name)}
	}
	for _, name := range names {
		if err := r.exec(ctx, r.dialect.DropConstraintSQL(table, name)); err != nil {
			return fmt.Errorf("failed to drop unique constraint %s: %w", name, err)
		}
	}
	return nil
}

func (r *QueryRunner) RenameColumn(ctx context.Context, table *schema.TableSpec, from, to *schema.ColumnSpec) error {
	return r.exec(ctx, r.dialect.RenameColumnSQL(table, from.Name, to.Name))
}

func (r *QueryRunner) UpdatePrimaryKeys(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	if len(table.PrimaryColumns()) > 0 {
		if err := r.exec(ctx, r.dialect.DropPrimaryKeySQL(table)); err != nil {
			return fmt.Errorf("failed to drop primary key of %s: %w", table.Path(), err)
		}
	}
	if len(columns) == 0 {
		return nil
	}
	names := lo.Map(columns, func(c *schema.ColumnSpec, _ int) string { return c.Name })
	if err := r.exec(ctx, r.dialect.AddPrimaryKeySQL(table, names)); err != nil {
		return fmt.Errorf("failed to add primary key of %s: %w", table.Path(), err)
	}
	return nil
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
	for _, fk := range fks {
		if err := r.exec(ctx, r.dialect.AddForeignKeySQL(table, fk)); err != nil {
			return fmt.Errorf("failed to create foreign key %s: %w", fk.Name, err)
		}
	}
	return nil
}

// dropConstraints drops named table constraints.
func (r *QueryRunner) dropConstraints(ctx context.Context, table *schema.TableSpec, names []string) error {
	for _, name := range names {
		if err := r.exec(ctx, r.dialect.DropConstraintSQL(table, name)); err != nil {
			return fmt.Errorf("failed to drop constraint %s: %w", name, err)
		}
	}
	return nil
}

func (r *QueryRunner) DropForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	return r.dropConstraints(ctx, table, lo.Map(fks, func(fk *schema.ForeignKeySpec, _ int) string { return fk.Name }))
}

func (r *QueryRunner) CreateChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	for _, chk := range checks {
		if err := r.exec(ctx, r.dialect.AddCheckSQL(table, chk)); err != nil {
			return fmt.Errorf("failed to create check %s: %w", chk.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) DropChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	return r.dropConstraints(ctx, table, lo.Map(checks, func(c *schema.CheckSpec, _ int) string { return c.Name }))
}

func (r *QueryRunner) CreateUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	for _, u := range uniques {
		if err := r.exec(ctx, r.dialect.AddUniqueSQL(table, u)); err != nil {
			return fmt.Errorf("failed to create unique constraint %s: %w", u.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) DropUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	return r.dropConstraints(ctx, table, lo.Map(uniques, func(u *schema.UniqueSpec, _ int) string { return u.Name }))
}

func (r *QueryRunner) CreateExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	for _, x := range exclusions {
		if err := r.exec(ctx, r.dialect.AddExclusionSQL(table, x)); err != nil {
			return fmt.Errorf("failed to create exclusion %s: %w", x.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) DropExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return r.dropConstraints(ctx, table, lo.Map(exclusions, func(x *schema.ExclusionSpec, _ int) string { return x.Name }))
}

// metadataSchema is the schema part of the metadata table name.
func (r *QueryRunner) metadataSchema() string {
	if r.schema == r.dialect.DefaultSchema {
		return ""
	}
	return r.schema
}

func (r *QueryRunner) metadataName() string {
	return r.dialect.QuotePath(r.dialect.BuildTableName(persistence.METADATA_TABLE_NAME, r.metadataSchema(), ""))
}

func (r *QueryRunner) CreateView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.CreateViewSQL(view)); err != nil {
		return fmt.Errorf("failed to create view %s: %w", view.Name, err)
	}
	columns, values, err := persistence.ViewRecord(view).Columns()
	if err != nil {
		return err
	}
	table := r.dialect.BuildTableName(persistence.METADATA_TABLE_NAME, r.metadataSchema(), "")
	upsert := r.dialect.UpsertStatement(table, columns, persistence.MetadataConflictColumns)
	if err := r.exec(ctx, upsert, values...); err != nil {
		return fmt.Errorf("failed to record view %s: %w", view.Name, err)
	}
	return nil
}

func (r *QueryRunner) DropView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.DropViewSQL(view)); err != nil {
		return fmt.Errorf("failed to drop view %s: %w", view.Name, err)
	}
	remove := fmt.Sprintf(`DELETE FROM %s WHERE "type" = $1 AND "schema" = $2 AND "name" = $3`, r.metadataName())
	if err := r.exec(ctx, remove, persistence.MetadataTypeView, view.Schema, view.Name); err != nil {
		return fmt.Errorf("failed to remove view record %s: %w", view.Name, err)
	}
	return nil
}

func (r *QueryRunner) EnsureMetadataTable(ctx context.Context) error {
	table, err := persistence.MetadataTable(r.dialect, r.metadataSchema(), "")
	if err != nil {
		return err
	}
	return r.execAll(ctx, r.dialect.CreateTableSQL(table, true, false))
}

// LoadViews returns the recorded views that still exist in the database.
func (r *QueryRunner) LoadViews(ctx context.Context) ([]*schema.ViewSpec, error) {
	var exists bool
	r.mu.Lock()
	err := r.runner().QueryRow(ctx, tableExistsQuery, r.schema, persistence.METADATA_TABLE_NAME).Scan(&exists)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to look up metadata table: %w", err)
	}
	if !exists {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT m."type", m."database", m."schema", m."table", m."name", m."value" FROM %s m `+
		`INNER JOIN pg_views v ON v.viewname = m."name" AND v.schemaname = COALESCE(NULLIF(m."schema", ''), $2) `+
		`WHERE m."type" = $1`, r.metadataName())

	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().Query(ctx, query, persistence.MetadataTypeView, r.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to read view metadata: %w", err)
	}
	records, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("failed to scan view metadata: %w", err)
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

func (r *QueryRunner) StartTransaction(ctx context.Context) error {
	if r.tx != nil {
		return fmt.Errorf("cannot start a new transaction: a transaction is already active")
	}
	tx, err := r.conn.Begin(ctx)
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
	return tx.Commit(ctx)
}

func (r *QueryRunner) RollbackTransaction(ctx context.Context) error {
	if r.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	r.logger.Debug("Rolling back transaction")
	tx := r.tx
	r.tx = nil
	return tx.Rollback(ctx)
}

// Release rolls back a dangling transaction and returns the connection.
func (r *QueryRunner) Release() error {
	if r.tx != nil {
		if err := r.tx.Rollback(context.Background()); err != nil {
			r.logger.Warn("Failed to roll back dangling transaction", zap.Error(err))
		}
		r.tx = nil
	}
	r.conn.Release()
	return nil
}
