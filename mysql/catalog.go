package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

const tableExistsQuery = "SELECT COUNT(*) FROM information_schema.TABLES " +
	"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'"

const columnsQuery = "SELECT COLUMN_NAME, DATA_TYPE, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA, " +
	"CHARACTER_MAXIMUM_LENGTH, NUMERIC_PRECISION, NUMERIC_SCALE, DATETIME_PRECISION, COLUMN_COMMENT, SRS_ID " +
	"FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"

const indicesQuery = "SELECT INDEX_NAME, NON_UNIQUE, COLUMN_NAME, INDEX_TYPE " +
	"FROM information_schema.STATISTICS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? " +
	"ORDER BY INDEX_NAME, SEQ_IN_INDEX"

const foreignKeysQuery = "SELECT kcu.CONSTRAINT_NAME, kcu.COLUMN_NAME, kcu.REFERENCED_TABLE_SCHEMA, " +
	"kcu.REFERENCED_TABLE_NAME, kcu.REFERENCED_COLUMN_NAME, rc.DELETE_RULE, rc.UPDATE_RULE " +
	"FROM information_schema.KEY_COLUMN_USAGE kcu " +
	"INNER JOIN information_schema.REFERENTIAL_CONSTRAINTS rc " +
	"ON rc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA AND rc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME " +
	"WHERE kcu.TABLE_SCHEMA = ? AND kcu.TABLE_NAME = ? AND kcu.REFERENCED_TABLE_NAME IS NOT NULL " +
	"ORDER BY kcu.CONSTRAINT_NAME, kcu.ORDINAL_POSITION"

// Types whose CHARACTER_MAXIMUM_LENGTH is a declared length rather than a
// storage limit.
var lengthTypes = map[string]bool{"varchar": true, "char": true, "binary": true, "varbinary": true}

var timeTypes = map[string]bool{"datetime": true, "timestamp": true, "time": true}

var enumValuesPattern = regexp.MustCompile(`'((?:[^']|'')*)'`)

// enumValues parses the labels of an enum(...) column type.
func enumValues(columnType string) []string {
	var values []string
	for _, m := range enumValuesPattern.FindAllStringSubmatch(columnType, -1) {
		values = append(values, strings.ReplaceAll(m[1], "''", "'"))
	}
	return values
}

type columnRow struct {
	name, dataType, columnType, nullable, extra, comment string
	def                                                  sql.NullString
	length, precision, scale, timePrecision, srid        sql.NullInt64
}

// column converts an information_schema row. String defaults are reported
// without quotes and are quoted back so they compare with declared literals.
func (row columnRow) column() *schema.ColumnSpec {
	col := &schema.ColumnSpec{
		Name:     row.name,
		Type:     strings.ToLower(row.dataType),
		Nullable: row.nullable == "YES",
		Comment:  row.comment,
	}
	switch {
	case col.Type == "enum":
		col.Enum = enumValues(row.columnType)
	case lengthTypes[col.Type] && row.length.Valid:
		col.Length = strconv.FormatInt(row.length.Int64, 10)
	case col.Type == "decimal":
		if row.precision.Valid {
			col.Precision = intPtr(row.precision.Int64)
		}
		if row.scale.Valid {
			col.Scale = intPtr(row.scale.Int64)
		}
	case timeTypes[col.Type] && row.timePrecision.Valid && row.timePrecision.Int64 > 0:
		col.Precision = intPtr(row.timePrecision.Int64)
	}
	if row.srid.Valid {
		col.SRID = intPtr(row.srid.Int64)
	}

	extra := strings.ToLower(row.extra)
	switch {
	case strings.Contains(extra, "auto_increment"):
		col.Generation = schema.GenerationIncrement
	case !row.def.Valid:
	case strings.Contains(extra, "default_generated"):
		if strings.EqualFold(dialect.StripParens(row.def.String), "uuid()") {
			col.Generation = schema.GenerationUUID
		} else {
			col.Default = row.def.String
		}
	case lengthTypes[col.Type] || col.Type == "enum" || strings.HasSuffix(col.Type, "text"):
		col.Default = dialect.QuoteLiteral(row.def.String)
	default:
		col.Default = row.def.String
	}
	return col
}

func intPtr(v int64) *int {
	i := int(v)
	return &i
}

// resolve returns the database a table path lives in and the qualifier part
// of the path. Unqualified paths live in the connection's database.
func (r *QueryRunner) resolve(path string) (actual, qualifier, name string) {
	parts := strings.Split(path, ".")
	name = parts[len(parts)-1]
	if len(parts) > 1 {
		qualifier = parts[0]
	}
	actual = qualifier
	if actual == "" {
		actual = r.database
	}
	return actual, qualifier, name
}

// LoadTables reads the live shape of the given tables from information_schema.
func (r *QueryRunner) LoadTables(ctx context.Context, paths []string) ([]*schema.TableSpec, error) {
	var tables []*schema.TableSpec
	for _, path := range paths {
		actual, qualifier, name := r.resolve(path)

		var count int
		r.mu.Lock()
		err := r.runner().QueryRowContext(ctx, tableExistsQuery, actual, name).Scan(&count)
		r.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to look up table %s: %w", path, err)
		}
		if count == 0 {
			r.logger.Debug("Table not found in catalog", zap.String("table", path))
			continue
		}

		t := &schema.TableSpec{Name: name, Database: qualifier, Kind: schema.TableKindRegular}
		if err := r.loadTable(ctx, t, actual); err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", path, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// query runs a catalog query and hands every row to scan.
func (r *QueryRunner) query(ctx context.Context, query string, scan func(*sql.Rows) error, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
	}
	return rows.Err()
}

func (r *QueryRunner) loadTable(ctx context.Context, t *schema.TableSpec, actual string) error {
	err := r.query(ctx, columnsQuery, func(rows *sql.Rows) error {
		var row columnRow
		if err := rows.Scan(&row.name, &row.dataType, &row.columnType, &row.nullable, &row.def, &row.extra,
			&row.length, &row.precision, &row.scale, &row.timePrecision, &row.comment, &row.srid); err != nil {
			return err
		}
		t.Columns = append(t.Columns, row.column())
		return nil
	}, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}

	if err := r.loadForeignKeys(ctx, t, actual); err != nil {
		return err
	}
	return r.loadIndices(ctx, t, actual)
}

func (r *QueryRunner) loadForeignKeys(ctx context.Context, t *schema.TableSpec, actual string) error {
	byName := make(map[string]*schema.ForeignKeySpec)
	err := r.query(ctx, foreignKeysQuery, func(rows *sql.Rows) error {
		var name, column, refSchema, refTable, refColumn, onDelete, onUpdate string
		if err := rows.Scan(&name, &column, &refSchema, &refTable, &refColumn, &onDelete, &onUpdate); err != nil {
			return err
		}
		fk, ok := byName[name]
		if !ok {
			ref := &schema.TableSpec{Name: refTable, Database: refSchema}
			if refSchema == actual {
				ref.Database = t.Database
			}
			fk = &schema.ForeignKeySpec{
				Name:            name,
				ReferencedTable: ref.Path(),
				OnDelete:        schema.ReferentialAction(onDelete).Normalize(),
				OnUpdate:        schema.ReferentialAction(onUpdate).Normalize(),
			}
			byName[name] = fk
			t.ForeignKeys = append(t.ForeignKeys, fk)
		}
		fk.Columns = append(fk.Columns, column)
		fk.ReferencedColumns = append(fk.ReferencedColumns, refColumn)
		return nil
	}, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read foreign keys: %w", err)
	}
	return nil
}

// loadIndices reads indices. The primary key marks its columns, the index
// backing a unique flag marks its column, and indices MySQL created for
// foreign keys are skipped.
func (r *QueryRunner) loadIndices(ctx context.Context, t *schema.TableSpec, actual string) error {
	byName := make(map[string]*schema.IndexSpec)
	var order []string
	err := r.query(ctx, indicesQuery, func(rows *sql.Rows) error {
		var name, column, indexType string
		var nonUnique int
		if err := rows.Scan(&name, &nonUnique, &column, &indexType); err != nil {
			return err
		}
		if name == "PRIMARY" {
			if col := t.FindColumn(column); col != nil {
				col.Primary = true
				col.Nullable = false
			}
			return nil
		}
		idx, ok := byName[name]
		if !ok {
			idx = &schema.IndexSpec{
				Name:     name,
				Unique:   nonUnique == 0,
				Fulltext: indexType == "FULLTEXT",
				Spatial:  indexType == "SPATIAL",
			}
			byName[name] = idx
			order = append(order, name)
		}
		idx.Columns = append(idx.Columns, column)
		return nil
	}, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read indices: %w", err)
	}

	for _, name := range order {
		idx := byName[name]
		if lo.ContainsBy(t.ForeignKeys, func(fk *schema.ForeignKeySpec) bool { return fk.Name == name }) {
			continue
		}
		if idx.Unique && len(idx.Columns) == 1 && name == UniqueName(t, idx.Columns[0]) {
			if col := t.FindColumn(idx.Columns[0]); col != nil {
				col.Unique = true
				continue
			}
		}
		t.Indices = append(t.Indices, idx)
	}
	return nil
}
