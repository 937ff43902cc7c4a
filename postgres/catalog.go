package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

const tableExistsQuery = `
SELECT EXISTS (
  SELECT 1 FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
  WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
)`

const columnsQuery = `
SELECT a.attname AS name,
       format_type(a.atttypid, a.atttypmod) AS formatted,
       NOT a.attnotnull AS nullable,
       pg_get_expr(d.adbin, d.adrelid) AS column_default,
       col_description(a.attrelid, a.attnum) AS comment,
       t.typcategory = 'A' AS is_array,
       et.typname::text AS enum_name,
       ARRAY(SELECT e.enumlabel::text FROM pg_enum e WHERE e.enumtypid = et.oid ORDER BY e.enumsortorder) AS enum_values
FROM pg_attribute a
JOIN pg_class c ON c.oid = a.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_type t ON t.oid = a.atttypid
LEFT JOIN pg_type et ON et.oid = CASE WHEN t.typcategory = 'A' THEN t.typelem ELSE t.oid END AND et.typtype = 'e'
LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

const constraintsQuery = `
SELECT con.conname::text AS name,
       con.contype::text AS kind,
       pg_get_constraintdef(con.oid) AS definition,
       ARRAY(SELECT a.attname::text FROM unnest(con.conkey) WITH ORDINALITY k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum ORDER BY k.ord) AS columns,
       rn.nspname::text AS ref_schema,
       rc.relname::text AS ref_table,
       ARRAY(SELECT a.attname::text FROM unnest(con.confkey) WITH ORDINALITY k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum ORDER BY k.ord) AS ref_columns,
       con.confdeltype::text AS on_delete,
       con.confupdtype::text AS on_update
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
LEFT JOIN pg_class rc ON rc.oid = con.confrelid
LEFT JOIN pg_namespace rn ON rn.oid = rc.relnamespace
WHERE n.nspname = $1 AND c.relname = $2 AND con.contype IN ('p', 'u', 'c', 'x', 'f')
ORDER BY con.conname`

// Indices backing constraints are reported as those constraints.
const indicesQuery = `
SELECT i.relname::text AS name,
       ix.indisunique AS is_unique,
       pg_get_expr(ix.indpred, ix.indrelid) AS predicate,
       ARRAY(SELECT a.attname::text FROM unnest(ix.indkey::int2[]) WITH ORDINALITY k(attnum, ord)
             JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum ORDER BY k.ord) AS columns
FROM pg_index ix
JOIN pg_class c ON c.oid = ix.indrelid
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = $1 AND c.relname = $2
  AND NOT EXISTS (
    SELECT 1 FROM pg_constraint con
    WHERE con.conindid = ix.indexrelid AND con.contype IN ('p', 'u', 'x')
  )
ORDER BY i.relname`

const uniqueOnColumnQuery = `
SELECT con.conname::text
FROM pg_constraint con
JOIN pg_class c ON c.oid = con.conrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attname = $3
WHERE n.nspname = $1 AND c.relname = $2 AND con.contype = 'u' AND con.conkey = ARRAY[a.attnum]`

type columnRow struct {
	Name       string   `db:"name"`
	Formatted  string   `db:"formatted"`
	Nullable   bool     `db:"nullable"`
	Default    *string  `db:"column_default"`
	Comment    *string  `db:"comment"`
	IsArray    bool     `db:"is_array"`
	EnumName   *string  `db:"enum_name"`
	EnumValues []string `db:"enum_values"`
}

type constraintRow struct {
	Name       string   `db:"name"`
	Kind       string   `db:"kind"`
	Definition string   `db:"definition"`
	Columns    []string `db:"columns"`
	RefSchema  *string  `db:"ref_schema"`
	RefTable   *string  `db:"ref_table"`
	RefColumns []string `db:"ref_columns"`
	OnDelete   string   `db:"on_delete"`
	OnUpdate   string   `db:"on_update"`
}

type indexRow struct {
	Name      string   `db:"name"`
	IsUnique  bool     `db:"is_unique"`
	Predicate *string  `db:"predicate"`
	Columns   []string `db:"columns"`
}

var referentialActions = map[string]schema.ReferentialAction{
	"a": schema.ActionNoAction,
	"r": schema.ActionRestrict,
	"c": schema.ActionCascade,
	"n": schema.ActionSetNull,
	"d": schema.ActionSetDefault,
}

var formattedType = regexp.MustCompile(`^([^(]+)(?:\(([^)]*)\))?(.*)$`)

// parseFormattedType fills type, length, precision and scale from the output
// of format_type, for example "character varying(50)", "numeric(10,2)" or
// "timestamp(3) without time zone".
func parseFormattedType(formatted string, col *schema.ColumnSpec) {
	formatted = strings.TrimSuffix(strings.TrimSpace(formatted), "[]")
	m := formattedType.FindStringSubmatch(formatted)
	if m == nil {
		col.Type = formatted
		return
	}
	col.Type = strings.TrimSpace(strings.TrimSpace(m[1]) + " " + strings.TrimSpace(m[3]))
	if m[2] == "" {
		return
	}
	switch col.Type {
	case "character varying", "character", "bit", "bit varying":
		col.Length = m[2]
	default:
		parts := strings.Split(m[2], ",")
		if p, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
			col.Precision = &p
		}
		if len(parts) > 1 {
			if s, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				col.Scale = &s
			}
		}
	}
}

// liveDefault classifies a stored default. Sequence and uuid generator calls
// become generation strategies.
func liveDefault(raw string, col *schema.ColumnSpec) {
	switch {
	case strings.HasPrefix(raw, "nextval("):
		col.Generation = schema.GenerationIncrement
	case raw == "gen_random_uuid()" || raw == "uuid_generate_v4()":
		col.Generation = schema.GenerationUUID
	default:
		col.Default = StripCasts(raw)
	}
}

// constraintBody strips the keyword and the wrapping parentheses from a
// constraint definition.
func constraintBody(definition, keyword string) string {
	body := strings.TrimSpace(strings.TrimPrefix(definition, keyword))
	return strings.TrimSpace(strings.TrimSuffix(body, " NOT VALID"))
}

// resolve returns the schema a table path lives in and the table's own
// schema field. Unqualified paths live in the runner's schema.
func (r *QueryRunner) resolve(path string) (actual string, declared string, name string) {
	parts := strings.Split(path, ".")
	name = parts[len(parts)-1]
	if len(parts) > 1 {
		declared = parts[len(parts)-2]
	}
	actual = declared
	if actual == "" {
		actual = r.schema
	}
	return actual, declared, name
}

// LoadTables reads the live shape of the given tables from pg_catalog.
func (r *QueryRunner) LoadTables(ctx context.Context, paths []string) ([]*schema.TableSpec, error) {
	var tables []*schema.TableSpec
	for _, path := range paths {
		actual, declared, name := r.resolve(path)

		var exists bool
		r.mu.Lock()
		err := r.runner().QueryRow(ctx, tableExistsQuery, actual, name).Scan(&exists)
		r.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("failed to look up table %s: %w", path, err)
		}
		if !exists {
			r.logger.Debug("Table not found in catalog", zap.String("table", path))
			continue
		}

		t := &schema.TableSpec{Name: name, Schema: declared, Kind: schema.TableKindRegular}
		if len(strings.Split(path, ".")) > 2 {
			t.Database = strings.Split(path, ".")[0]
		}
		if err := r.loadTable(ctx, t, actual); err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", path, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func collect[T any](ctx context.Context, r *QueryRunner, query string, args ...any) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

func (r *QueryRunner) loadTable(ctx context.Context, t *schema.TableSpec, actual string) error {
	columns, err := collect[columnRow](ctx, r, columnsQuery, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	for _, row := range columns {
		col := &schema.ColumnSpec{Name: row.Name, Nullable: row.Nullable, Array: row.IsArray}
		parseFormattedType(row.Formatted, col)
		if row.EnumName != nil {
			col.Type = "enum"
			col.EnumName = *row.EnumName
			col.Enum = row.EnumValues
		}
		if row.Default != nil {
			liveDefault(*row.Default, col)
		}
		col.Comment = lo.FromPtr(row.Comment)
		t.Columns = append(t.Columns, col)
	}

	constraints, err := collect[constraintRow](ctx, r, constraintsQuery, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read constraints: %w", err)
	}
	for _, con := range constraints {
		switch con.Kind {
		case "p":
			t.PrimaryKey = con.Name
			for _, name := range con.Columns {
				if col := t.FindColumn(name); col != nil {
					col.Primary = true
				}
			}
		case "u":
			if len(con.Columns) == 1 {
				if col := t.FindColumn(con.Columns[0]); col != nil {
					col.Unique = true
				}
				continue
			}
			t.Uniques = append(t.Uniques, &schema.UniqueSpec{Name: con.Name, Columns: con.Columns})
		case "c":
			t.Checks = append(t.Checks, &schema.CheckSpec{Name: con.Name, Expression: dialect.StripParens(constraintBody(con.Definition, "CHECK"))})
		case "x":
			t.Exclusions = append(t.Exclusions, &schema.ExclusionSpec{Name: con.Name, Expression: constraintBody(con.Definition, "EXCLUDE")})
		case "f":
			ref := &schema.TableSpec{Name: lo.FromPtr(con.RefTable), Schema: lo.FromPtr(con.RefSchema)}
			if ref.Schema == actual {
				ref.Schema = t.Schema
			}
			t.ForeignKeys = append(t.ForeignKeys, &schema.ForeignKeySpec{
				Name:              con.Name,
				Columns:           con.Columns,
				ReferencedTable:   ref.Path(),
				ReferencedColumns: con.RefColumns,
				OnDelete:          referentialActions[con.OnDelete],
				OnUpdate:          referentialActions[con.OnUpdate],
			})
		}
	}

	indices, err := collect[indexRow](ctx, r, indicesQuery, actual, t.Name)
	if err != nil {
		return fmt.Errorf("failed to read indices: %w", err)
	}
	for _, row := range indices {
		t.Indices = append(t.Indices, &schema.IndexSpec{
			Name:    row.Name,
			Columns: row.Columns,
			Unique:  row.IsUnique,
			Where:   StripCasts(lo.FromPtr(row.Predicate)),
		})
	}
	return nil
}

// uniqueConstraintsOn lists the single-column unique constraints of a column.
func (r *QueryRunner) uniqueConstraintsOn(ctx context.Context, t *schema.TableSpec, column string) ([]string, error) {
	actual, _, _ := r.resolve(t.Path())
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().Query(ctx, uniqueOnColumnQuery, actual, t.Name, column)
	if err != nil {
		return nil, fmt.Errorf("failed to look up unique constraints of %s: %w", column, err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
