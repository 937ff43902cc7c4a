// Package mysql implements the synchronizer's query runner for MySQL 8.
// MySQL commits DDL implicitly, so runs against it are not transactional.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/diff"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// dbRunner abstracts the methods shared by *sql.Conn and *sql.Tx.
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

func NewProvider(db *sql.DB, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{db: db, dialect: NewDialect(), logger: logger}
}

// Open connects to the database named by dsn. The DSN must select a database:
// unqualified tables live in it.
func Open(dsn string, logger *zap.Logger) (*Provider, error) {
	cfg, err := mysqldriver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("mysql dsn must name a database")
	}
	cfg.ParseTime = true
	connector, err := mysqldriver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mysql connector: %w", err)
	}
	return NewProvider(sql.OpenDB(connector), logger), nil
}

func (p *Provider) Dialect() dialect.Dialect { return p.dialect }

// DB returns the underlying database handle.
func (p *Provider) DB() *sql.DB { return p.db }

func (p *Provider) Close() error { return p.db.Close() }

func (p *Provider) QueryRunner(ctx context.Context) (persistence.QueryRunner, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire mysql connection: %w", err)
	}
	var database sql.NullString
	if err := conn.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&database); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read current database: %w", err)
	}
	if !database.Valid {
		conn.Close()
		return nil, fmt.Errorf("mysql connection has no current database")
	}
	return &QueryRunner{conn: conn, dialect: p.dialect, logger: p.logger, database: database.String}, nil
}

// QueryRunner runs catalog reads and DDL on one reserved connection.
type QueryRunner struct {
	persistence.StatementRecorder

	conn     *sql.Conn
	tx       *sql.Tx
	dialect  *Dialect
	logger   *zap.Logger
	database string

	mu sync.Mutex
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

func (r *QueryRunner) CreateTable(ctx context.Context, table *schema.TableSpec, ifNotExists, withForeignKeys bool) error {
	if err := r.exec(ctx, r.dialect.CreateTableSQL(table, ifNotExists, withForeignKeys)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table.Path(), err)
	}
	return nil
}

func (r *QueryRunner) DropColumns(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	for _, col := range columns {
		if err := r.exec(ctx, r.dialect.DropColumnSQL(table, col)); err != nil {
			return fmt.Errorf("failed to drop column %s: %w", col.Name, err)
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

// ChangeColumns rewrites each changed column with CHANGE. Unique flags are
// separate indices and primary key membership is a table-level key.
func (r *QueryRunner) ChangeColumns(ctx context.Context, table *schema.TableSpec, changes []diff.ColumnChange) error {
	attributes := make([][]string, len(changes))
	primaryChanged := false
	for i, ch := range changes {
		attributes[i] = dialect.ChangedAttributes(r.dialect, ch.To, ch.From)
		primaryChanged = primaryChanged || lo.Contains(attributes[i], dialect.PredicatePrimary)
	}

	if primaryChanged {
		if err := r.dropPrimaryKey(ctx, table); err != nil {
			return err
		}
	}

	// Without a key, auto increment is restored once the key is back.
	for i, ch := range changes {
		if err := r.exec(ctx, r.dialect.changeColumn(table, ch.From, ch.To, !primaryChanged)); err != nil {
			return fmt.Errorf("failed to change column %s: %w", ch.From.Name, err)
		}
		if !lo.Contains(attributes[i], dialect.PredicateUnique) {
			continue
		}
		stmt := r.dialect.AddUniqueIndexSQL(table, ch.To.Name)
		if !r.dialect.NormalizeIsUnique(ch.To) {
			stmt = r.dialect.DropIndexSQL(table, UniqueName(table, ch.From.Name))
		}
		if err := r.exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to change uniqueness of %s: %w", ch.To.Name, err)
		}
	}

	if primaryChanged {
		next := table.Clone()
		for i, c := range next.Columns {
			for _, ch := range changes {
				if c.Name == ch.From.Name {
					next.Columns[i] = ch.To.Clone()
				}
			}
		}
		if err := r.restorePrimaryKey(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// restorePrimaryKey adds the key of next and turns auto increment back on
// for its generated key columns.
func (r *QueryRunner) restorePrimaryKey(ctx context.Context, next *schema.TableSpec) error {
	primary := next.PrimaryColumns()
	if len(primary) == 0 {
		return nil
	}
	if err := r.exec(ctx, r.dialect.AddPrimaryKeySQL(next, next.PrimaryColumnNames())); err != nil {
		return fmt.Errorf("failed to add primary key of %s: %w", next.Path(), err)
	}
	for _, col := range primary {
		if col.Generation != schema.GenerationIncrement {
			continue
		}
		if err := r.exec(ctx, r.dialect.ChangeColumnSQL(next, col, col)); err != nil {
			return fmt.Errorf("failed to restore auto increment of %s: %w", col.Name, err)
		}
	}
	return nil
}

// dropPrimaryKey drops the key after removing AUTO_INCREMENT from its
// columns; MySQL refuses to drop a key an auto-increment column relies on.
func (r *QueryRunner) dropPrimaryKey(ctx context.Context, table *schema.TableSpec) error {
	primary := table.PrimaryColumns()
	if len(primary) == 0 {
		return nil
	}
	for _, col := range primary {
		if col.Generation != schema.GenerationIncrement {
			continue
		}
		if err := r.exec(ctx, r.dialect.ModifyWithoutIncrementSQL(table, col)); err != nil {
			return fmt.Errorf("failed to drop auto increment of %s: %w", col.Name, err)
		}
	}
	if err := r.exec(ctx, r.dialect.DropPrimaryKeySQL(table)); err != nil {
		return fmt.Errorf("failed to drop primary key of %s: %w", table.Path(), err)
	}
	return nil
}

func (r *QueryRunner) RenameColumn(ctx context.Context, table *schema.TableSpec, from, to *schema.ColumnSpec) error {
	return r.exec(ctx, r.dialect.RenameColumnSQL(table, from.Name, to.Name))
}

func (r *QueryRunner) UpdatePrimaryKeys(ctx context.Context, table *schema.TableSpec, columns []*schema.ColumnSpec) error {
	if err := r.dropPrimaryKey(ctx, table); err != nil {
		return err
	}
	names := lo.Map(columns, func(c *schema.ColumnSpec, _ int) string { return c.Name })
	next := table.Clone()
	for _, col := range next.Columns {
		col.Primary = lo.Contains(names, col.Name)
	}
	return r.restorePrimaryKey(ctx, next)
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
		if err := r.exec(ctx, r.dialect.DropIndexSQL(table, idx.Name)); err != nil {
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

func (r *QueryRunner) DropForeignKeys(ctx context.Context, table *schema.TableSpec, fks []*schema.ForeignKeySpec) error {
	for _, fk := range fks {
		if err := r.exec(ctx, r.dialect.DropForeignKeySQL(table, fk)); err != nil {
			return fmt.Errorf("failed to drop foreign key %s: %w", fk.Name, err)
		}
	}
	return nil
}

func (r *QueryRunner) unsupported(table *schema.TableSpec, feature string) error {
	return &dialect.CapabilityError{Dialect: r.dialect.Name(), Feature: feature, Table: table.Path()}
}

func (r *QueryRunner) CreateChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	return r.unsupported(table, "check constraints")
}

func (r *QueryRunner) DropChecks(ctx context.Context, table *schema.TableSpec, checks []*schema.CheckSpec) error {
	return r.unsupported(table, "check constraints")
}

func (r *QueryRunner) CreateUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	return r.unsupported(table, "unique constraints")
}

func (r *QueryRunner) DropUniques(ctx context.Context, table *schema.TableSpec, uniques []*schema.UniqueSpec) error {
	return r.unsupported(table, "unique constraints")
}

func (r *QueryRunner) CreateExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return r.unsupported(table, "exclusion constraints")
}

func (r *QueryRunner) DropExclusions(ctx context.Context, table *schema.TableSpec, exclusions []*schema.ExclusionSpec) error {
	return r.unsupported(table, "exclusion constraints")
}

func (r *QueryRunner) CreateView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.CreateViewSQL(view)); err != nil {
		return fmt.Errorf("failed to create view %s: %w", view.Name, err)
	}
	columns, values, err := persistence.ViewRecord(view).Columns()
	if err != nil {
		return err
	}
	upsert := r.dialect.UpsertStatement(persistence.METADATA_TABLE_NAME, columns, persistence.MetadataConflictColumns)
	if err := r.exec(ctx, upsert, values...); err != nil {
		return fmt.Errorf("failed to record view %s: %w", view.Name, err)
	}
	return nil
}

func (r *QueryRunner) DropView(ctx context.Context, view *schema.ViewSpec) error {
	if err := r.exec(ctx, r.dialect.DropViewSQL(view)); err != nil {
		return fmt.Errorf("failed to drop view %s: %w", view.Name, err)
	}
	remove := fmt.Sprintf("DELETE FROM %s WHERE `type` = ? AND `schema` = ? AND `name` = ?",
		r.dialect.Quote(persistence.METADATA_TABLE_NAME))
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
	var count int
	r.mu.Lock()
	err := r.runner().QueryRowContext(ctx, tableExistsQuery, r.database, persistence.METADATA_TABLE_NAME).Scan(&count)
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to look up metadata table: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT m.`type`, m.`database`, m.`schema`, m.`table`, m.`name`, m.`value` FROM %s m "+
		"INNER JOIN information_schema.VIEWS v ON v.TABLE_NAME = m.`name` "+
		"AND v.TABLE_SCHEMA = COALESCE(NULLIF(m.`database`, ''), NULLIF(m.`schema`, ''), ?) WHERE m.`type` = ?",
		r.dialect.Quote(persistence.METADATA_TABLE_NAME))

	var views []*schema.ViewSpec
	err = r.query(ctx, query, func(rows *sql.Rows) error {
		var typ, name string
		var database, schemaName, table, value sql.NullString
		if err := rows.Scan(&typ, &database, &schemaName, &table, &name, &value); err != nil {
			return err
		}
		record, err := persistence.MetadataRecordFromRow(map[string]any{
			"type": typ, "database": database.String, "schema": schemaName.String,
			"table": table.String, "name": name, "value": value.String,
		})
		if err != nil {
			return err
		}
		views = append(views, record.View())
		return nil
	}, r.database, persistence.MetadataTypeView)
	if err != nil {
		return nil, fmt.Errorf("failed to read view metadata: %w", err)
	}
	return views, nil
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

// Release returns the connection to the pool.
func (r *QueryRunner) Release() error {
	if r.tx != nil {
		r.tx.Rollback()
		r.tx = nil
	}
	return r.conn.Close()
}
