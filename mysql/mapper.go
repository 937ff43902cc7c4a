package mysql

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

func (d *Dialect) tableName(t *schema.TableSpec) string {
	return d.QuotePath(dialect.TableName(d, t))
}

func (d *Dialect) quoteList(names []string) string {
	return strings.Join(lo.Map(names, func(n string, _ int) string { return d.Quote(n) }), ", ")
}

// UniqueName is the name of the unique index backing a column's unique flag.
func UniqueName(t *schema.TableSpec, column string) string {
	return schema.DerivedName("UQ", t.Path(), column)
}

// ColumnType renders the type of a column with its parameters.
func (d *Dialect) ColumnType(col *schema.ColumnSpec) string {
	base := d.NormalizeType(col)
	switch {
	case base == "enum" || len(col.Enum) > 0:
		values := lo.Map(col.Enum, func(v string, _ int) string { return dialect.QuoteLiteral(v) })
		return fmt.Sprintf("enum(%s)", strings.Join(values, ","))
	case d.ColumnLength(col) != "":
		return fmt.Sprintf("%s(%s)", base, d.ColumnLength(col))
	case col.Precision != nil && col.Scale != nil:
		return fmt.Sprintf("%s(%d,%d)", base, *col.Precision, *col.Scale)
	case col.Precision != nil:
		return fmt.Sprintf("%s(%d)", base, *col.Precision)
	default:
		return base
	}
}

// ColumnDefinition builds the DDL of a column. Primary keys and unique flags
// are table-level definitions.
func (d *Dialect) ColumnDefinition(col *schema.ColumnSpec) string {
	return d.columnDefinition(col, true)
}

func (d *Dialect) columnDefinition(col *schema.ColumnSpec, increment bool) string {
	parts := []string{d.Quote(col.Name), d.ColumnType(col)}
	if col.SRID != nil {
		parts = append(parts, fmt.Sprintf("SRID %d", *col.SRID))
	}
	if col.Nullable {
		parts = append(parts, "NULL")
	} else {
		parts = append(parts, "NOT NULL")
	}
	switch {
	case col.Generation == schema.GenerationIncrement && increment:
		parts = append(parts, "AUTO_INCREMENT")
	case col.Generation == schema.GenerationUUID:
		parts = append(parts, "DEFAULT (uuid())")
	case !col.IsGenerated():
		if def := d.NormalizeDefault(col); def != "" {
			parts = append(parts, "DEFAULT "+def)
		}
	}
	if col.Comment != "" {
		parts = append(parts, "COMMENT "+dialect.QuoteLiteral(col.Comment))
	}
	return strings.Join(parts, " ")
}

func indexKind(idx *schema.IndexSpec) string {
	switch {
	case idx.Unique:
		return "UNIQUE INDEX"
	case idx.Fulltext:
		return "FULLTEXT INDEX"
	case idx.Spatial:
		return "SPATIAL INDEX"
	default:
		return "INDEX"
	}
}

func (d *Dialect) indexDefinition(idx *schema.IndexSpec) string {
	return fmt.Sprintf("%s %s (%s)", indexKind(idx), d.Quote(idx.Name), d.quoteList(idx.Columns))
}

func (d *Dialect) foreignKeyDefinition(t *schema.TableSpec, fk *schema.ForeignKeySpec) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		d.Quote(fk.Name), d.quoteList(fk.Columns), d.QuotePath(referencedName(d, t, fk.ReferencedTable)),
		d.quoteList(fk.ReferencedColumns), fk.OnDelete.Normalize(), fk.OnUpdate.Normalize())
}

// referencedName resolves a referenced table path; unqualified references
// live in the database of the referencing table.
func referencedName(d *Dialect, t *schema.TableSpec, path string) string {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return d.BuildTableName(parts[0], t.Schema, t.Database)
	}
	return d.BuildTableName(parts[len(parts)-1], "", parts[0])
}

// CreateTableSQL builds a CREATE TABLE statement. Unique flags and unique
// indices are created inline.
func (d *Dialect) CreateTableSQL(t *schema.TableSpec, ifNotExists, withForeignKeys bool) string {
	defs := lo.Map(t.Columns, func(c *schema.ColumnSpec, _ int) string { return d.ColumnDefinition(c) })
	for _, col := range t.Columns {
		if d.NormalizeIsUnique(col) {
			defs = append(defs, fmt.Sprintf("UNIQUE INDEX %s (%s)", d.Quote(UniqueName(t, col.Name)), d.Quote(col.Name)))
		}
	}
	for _, idx := range t.Indices {
		defs = append(defs, d.indexDefinition(idx))
	}
	if primary := t.PrimaryColumnNames(); len(primary) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", d.quoteList(primary)))
	}
	if withForeignKeys {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, d.foreignKeyDefinition(t, fk))
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	fmt.Fprintf(&sb, "%s (%s)", d.tableName(t), strings.Join(defs, ", "))
	if t.Engine != "" {
		sb.WriteString(" ENGINE=" + t.Engine)
	}
	return sb.String()
}

func (d *Dialect) alterTable(t *schema.TableSpec, clause string, args ...any) string {
	return fmt.Sprintf("ALTER TABLE %s ", d.tableName(t)) + fmt.Sprintf(clause, args...)
}

// AddColumnSQL returns the statements that add a column and its unique index.
// A new auto-increment column is added as the primary key.
func (d *Dialect) AddColumnSQL(t *schema.TableSpec, col *schema.ColumnSpec) []string {
	clause := "ADD " + d.ColumnDefinition(col)
	if col.Generation == schema.GenerationIncrement && col.Primary {
		clause += " PRIMARY KEY"
	}
	statements := []string{d.alterTable(t, "%s", clause)}
	if d.NormalizeIsUnique(col) {
		statements = append(statements, d.AddUniqueIndexSQL(t, col.Name))
	}
	return statements
}

func (d *Dialect) DropColumnSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	return d.alterTable(t, "DROP COLUMN %s", d.Quote(col.Name))
}

func (d *Dialect) RenameColumnSQL(t *schema.TableSpec, from, to string) string {
	return d.alterTable(t, "RENAME COLUMN %s TO %s", d.Quote(from), d.Quote(to))
}

// ChangeColumnSQL rewrites a column definition in place.
func (d *Dialect) ChangeColumnSQL(t *schema.TableSpec, from, to *schema.ColumnSpec) string {
	return d.changeColumn(t, from, to, true)
}

func (d *Dialect) changeColumn(t *schema.TableSpec, from, to *schema.ColumnSpec, increment bool) string {
	return d.alterTable(t, "CHANGE %s %s", d.Quote(from.Name), d.columnDefinition(to, increment))
}

// ModifyWithoutIncrementSQL drops AUTO_INCREMENT from a column, which MySQL
// requires before the key it depends on can be dropped.
func (d *Dialect) ModifyWithoutIncrementSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	return d.alterTable(t, "MODIFY %s", d.columnDefinition(col, false))
}

func (d *Dialect) DropPrimaryKeySQL(t *schema.TableSpec) string {
	return d.alterTable(t, "DROP PRIMARY KEY")
}

func (d *Dialect) AddPrimaryKeySQL(t *schema.TableSpec, columns []string) string {
	return d.alterTable(t, "ADD PRIMARY KEY (%s)", d.quoteList(columns))
}

func (d *Dialect) AddUniqueIndexSQL(t *schema.TableSpec, column string) string {
	return d.alterTable(t, "ADD UNIQUE INDEX %s (%s)", d.Quote(UniqueName(t, column)), d.Quote(column))
}

func (d *Dialect) CreateIndexSQL(t *schema.TableSpec, idx *schema.IndexSpec) string {
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", indexKind(idx), d.Quote(idx.Name), d.tableName(t), d.quoteList(idx.Columns))
}

func (d *Dialect) DropIndexSQL(t *schema.TableSpec, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.Quote(name), d.tableName(t))
}

func (d *Dialect) AddForeignKeySQL(t *schema.TableSpec, fk *schema.ForeignKeySpec) string {
	return d.alterTable(t, "ADD %s", d.foreignKeyDefinition(t, fk))
}

func (d *Dialect) DropForeignKeySQL(t *schema.TableSpec, fk *schema.ForeignKeySpec) string {
	return d.alterTable(t, "DROP FOREIGN KEY %s", d.Quote(fk.Name))
}

func (d *Dialect) CreateViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)), v.Expression)
}

func (d *Dialect) DropViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("DROP VIEW %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)))
}
