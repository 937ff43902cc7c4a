package postgres

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

var serialTypes = map[string]string{
	"integer":  "SERIAL",
	"bigint":   "BIGSERIAL",
	"smallint": "SMALLSERIAL",
}

func (d *Dialect) tableName(t *schema.TableSpec) string {
	return d.QuotePath(dialect.TableName(d, t))
}

// typeName quotes a type that lives in the table's schema.
func (d *Dialect) typeName(t *schema.TableSpec, name string) string {
	return d.QuotePath(d.BuildTableName(name, t.Schema, ""))
}

func (d *Dialect) quoteList(names []string) string {
	return strings.Join(lo.Map(names, func(n string, _ int) string { return d.Quote(n) }), ", ")
}

// ColumnType renders the type of a column, including serial pseudo-types,
// enum types, parameters and array brackets.
func (d *Dialect) ColumnType(t *schema.TableSpec, col *schema.ColumnSpec) string {
	base := d.NormalizeType(col)
	if col.Generation == schema.GenerationIncrement {
		if serial, ok := serialTypes[base]; ok {
			return serial
		}
	}

	var out string
	switch {
	case len(col.Enum) > 0 || base == "enum":
		out = d.typeName(t, enumTypeName(t.Name, col))
	case d.ColumnLength(col) != "":
		out = fmt.Sprintf("%s(%s)", base, d.ColumnLength(col))
	case col.Precision != nil && col.Scale != nil:
		out = fmt.Sprintf("%s(%d,%d)", base, *col.Precision, *col.Scale)
	case col.Precision != nil:
		out = fmt.Sprintf("%s(%d)", base, *col.Precision)
	default:
		out = base
	}
	if col.Array {
		out += " array"
	}
	return out
}

// ColumnDefinition builds the DDL of a column. Uniqueness and primary keys
// are table constraints and are not part of it.
func (d *Dialect) ColumnDefinition(t *schema.TableSpec, col *schema.ColumnSpec) string {
	parts := []string{d.Quote(col.Name), d.ColumnType(t, col)}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	switch {
	case col.Generation == schema.GenerationUUID:
		parts = append(parts, "DEFAULT gen_random_uuid()")
	case !col.IsGenerated():
		if def := d.NormalizeDefault(col); def != "" {
			parts = append(parts, "DEFAULT "+def)
		}
	}
	return strings.Join(parts, " ")
}

// UniqueName is the constraint name of a single-column unique flag.
func UniqueName(t *schema.TableSpec, column string) string {
	return schema.DerivedName("UQ", t.Path(), column)
}

// PrimaryKeyName returns the declared or PostgreSQL's default name of a
// table's primary key.
func PrimaryKeyName(t *schema.TableSpec) string {
	if t.PrimaryKey != "" {
		return t.PrimaryKey
	}
	return t.Name + "_pkey"
}

func (d *Dialect) foreignKeyDefinition(t *schema.TableSpec, fk *schema.ForeignKeySpec) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		d.Quote(fk.Name), d.quoteList(fk.Columns), d.QuotePath(referencedName(d, t, fk.ReferencedTable)),
		d.quoteList(fk.ReferencedColumns), fk.OnDelete.Normalize(), fk.OnUpdate.Normalize())
}

// referencedName resolves a referenced table path to a dialect table name.
func referencedName(d *Dialect, t *schema.TableSpec, path string) string {
	parts := strings.Split(path, ".")
	switch len(parts) {
	case 1:
		return d.BuildTableName(parts[0], t.Schema, "")
	case 2:
		return d.BuildTableName(parts[1], parts[0], "")
	default:
		return d.BuildTableName(parts[len(parts)-1], parts[len(parts)-2], "")
	}
}

// CreateEnumSQL creates the type of an enum column.
func (d *Dialect) CreateEnumSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	values := lo.Map(col.Enum, func(v string, _ int) string { return dialect.QuoteLiteral(v) })
	return fmt.Sprintf("CREATE TYPE %s AS ENUM(%s)", d.typeName(t, enumTypeName(t.Name, col)), strings.Join(values, ", "))
}

func (d *Dialect) DropEnumSQL(t *schema.TableSpec, name string) string {
	return fmt.Sprintf("DROP TYPE IF EXISTS %s", d.typeName(t, name))
}

func (d *Dialect) CommentSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	comment := "NULL"
	if col.Comment != "" {
		comment = dialect.QuoteLiteral(col.Comment)
	}
	return fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", d.tableName(t), d.Quote(col.Name), comment)
}

// CreateTableSQL returns the statements that create a table: enum types, the
// table with its constraints, then comments.
func (d *Dialect) CreateTableSQL(t *schema.TableSpec, ifNotExists, withForeignKeys bool) []string {
	var statements []string
	for _, col := range t.Columns {
		if len(col.Enum) > 0 {
			statements = append(statements, d.CreateEnumSQL(t, col))
		}
	}

	defs := lo.Map(t.Columns, func(c *schema.ColumnSpec, _ int) string { return d.ColumnDefinition(t, c) })
	for _, col := range t.Columns {
		if d.NormalizeIsUnique(col) {
			defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(UniqueName(t, col.Name)), d.Quote(col.Name)))
		}
	}
	for _, u := range t.Uniques {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(u.Name), d.quoteList(u.Columns)))
	}
	for _, chk := range t.Checks {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", d.Quote(chk.Name), chk.Expression))
	}
	for _, x := range t.Exclusions {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s EXCLUDE %s", d.Quote(x.Name), x.Expression))
	}
	if primary := t.PrimaryColumnNames(); len(primary) > 0 {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s PRIMARY KEY (%s)", d.Quote(PrimaryKeyName(t)), d.quoteList(primary)))
	}
	if withForeignKeys {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, d.foreignKeyDefinition(t, fk))
		}
	}

	create := "CREATE TABLE "
	if ifNotExists {
		create += "IF NOT EXISTS "
	}
	statements = append(statements, create+d.tableName(t)+" ("+strings.Join(defs, ", ")+")")

	for _, col := range t.Columns {
		if col.Comment != "" {
			statements = append(statements, d.CommentSQL(t, col))
		}
	}
	return statements
}

func (d *Dialect) alterTable(t *schema.TableSpec, clause string, args ...any) string {
	return fmt.Sprintf("ALTER TABLE %s ", d.tableName(t)) + fmt.Sprintf(clause, args...)
}

// AddColumnSQL returns the statements that add a column with its enum type,
// unique constraint and comment.
func (d *Dialect) AddColumnSQL(t *schema.TableSpec, col *schema.ColumnSpec) []string {
	var statements []string
	if len(col.Enum) > 0 {
		statements = append(statements, d.CreateEnumSQL(t, col))
	}
	statements = append(statements, d.alterTable(t, "ADD %s", d.ColumnDefinition(t, col)))
	if d.NormalizeIsUnique(col) {
		statements = append(statements, d.AddUniqueSQL(t, &schema.UniqueSpec{Name: UniqueName(t, col.Name), Columns: []string{col.Name}}))
	}
	if col.Comment != "" {
		statements = append(statements, d.CommentSQL(t, col))
	}
	return statements
}

func (d *Dialect) DropColumnSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	return d.alterTable(t, "DROP COLUMN %s", d.Quote(col.Name))
}

func (d *Dialect) RenameColumnSQL(t *schema.TableSpec, from, to string) string {
	return d.alterTable(t, "RENAME COLUMN %s TO %s", d.Quote(from), d.Quote(to))
}

// DropPrimaryKeySQL tolerates a missing key: dropping one of its columns
// earlier in the run removes the whole constraint.
func (d *Dialect) DropPrimaryKeySQL(t *schema.TableSpec) string {
	return d.alterTable(t, "DROP CONSTRAINT IF EXISTS %s", d.Quote(PrimaryKeyName(t)))
}

func (d *Dialect) AddPrimaryKeySQL(t *schema.TableSpec, columns []string) string {
	return d.alterTable(t, "ADD CONSTRAINT %s PRIMARY KEY (%s)", d.Quote(PrimaryKeyName(t)), d.quoteList(columns))
}

func (d *Dialect) DropConstraintSQL(t *schema.TableSpec, name string) string {
	return d.alterTable(t, "DROP CONSTRAINT %s", d.Quote(name))
}

func (d *Dialect) AddUniqueSQL(t *schema.TableSpec, u *schema.UniqueSpec) string {
	return d.alterTable(t, "ADD CONSTRAINT %s UNIQUE (%s)", d.Quote(u.Name), d.quoteList(u.Columns))
}

func (d *Dialect) AddCheckSQL(t *schema.TableSpec, chk *schema.CheckSpec) string {
	return d.alterTable(t, "ADD CONSTRAINT %s CHECK (%s)", d.Quote(chk.Name), chk.Expression)
}

func (d *Dialect) AddExclusionSQL(t *schema.TableSpec, x *schema.ExclusionSpec) string {
	return d.alterTable(t, "ADD CONSTRAINT %s EXCLUDE %s", d.Quote(x.Name), x.Expression)
}

func (d *Dialect) AddForeignKeySQL(t *schema.TableSpec, fk *schema.ForeignKeySpec) string {
	return d.alterTable(t, "ADD %s", d.foreignKeyDefinition(t, fk))
}

func (d *Dialect) CreateIndexSQL(t *schema.TableSpec, idx *schema.IndexSpec) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&sb, "INDEX %s ON %s (%s)", d.Quote(idx.Name), d.tableName(t), d.quoteList(idx.Columns))
	if idx.Where != "" {
		sb.WriteString(" WHERE " + idx.Where)
	}
	return sb.String()
}

func (d *Dialect) DropIndexSQL(t *schema.TableSpec, idx *schema.IndexSpec) string {
	return fmt.Sprintf("DROP INDEX %s", d.QuotePath(d.BuildTableName(idx.Name, t.Schema, "")))
}

// ChangeColumnSQL returns the statements that turn column from into to.
// Attributes are the names of the predicates that fired.
func (d *Dialect) ChangeColumnSQL(t *schema.TableSpec, from, to *schema.ColumnSpec, attributes []string) []string {
	changed := func(names ...string) bool {
		return lo.SomeBy(names, func(n string) bool { return lo.Contains(attributes, n) })
	}
	column := d.Quote(to.Name)
	var statements []string

	switch {
	case len(to.Enum) > 0 && changed(dialect.PredicateEnum, dialect.PredicateType, dialect.PredicateArray):
		// Enum values cannot be removed in place: swap in a new type.
		current := enumTypeName(t.Name, from)
		old := current + "_old"
		if len(from.Enum) > 0 || from.EnumName != "" {
			statements = append(statements, fmt.Sprintf("ALTER TYPE %s RENAME TO %s", d.typeName(t, current), d.Quote(old)))
		}
		statements = append(statements, d.CreateEnumSQL(t, to))
		if def := dialect.LiveDefault(from); def != "" {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s DROP DEFAULT", column))
		}
		statements = append(statements, d.alterTable(t, "ALTER COLUMN %s TYPE %s USING %s::text::%s",
			column, d.ColumnType(t, to), column, d.ColumnType(t, to)))
		if len(from.Enum) > 0 || from.EnumName != "" {
			statements = append(statements, fmt.Sprintf("DROP TYPE %s", d.typeName(t, old)))
		}
		if def := d.NormalizeDefault(to); def != "" {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s SET DEFAULT %s", column, def))
		}
	case changed(dialect.PredicateType, dialect.PredicateLength, dialect.PredicateArray, dialect.PredicatePrecision, dialect.PredicateScale):
		typ := d.ColumnType(t, to)
		if to.Generation == schema.GenerationIncrement {
			// serial is not a real type; the sequence default stays in place
			typ = d.NormalizeType(to)
		}
		statements = append(statements, d.alterTable(t, "ALTER COLUMN %s TYPE %s USING %s::%s", column, typ, column, typ))
	}

	if changed(dialect.PredicateNullable) {
		if to.Nullable {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s DROP NOT NULL", column))
		} else {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s SET NOT NULL", column))
		}
	}
	if changed(dialect.PredicateDefault) && len(to.Enum) == 0 {
		if def := d.NormalizeDefault(to); def != "" {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s SET DEFAULT %s", column, def))
		} else {
			statements = append(statements, d.alterTable(t, "ALTER COLUMN %s DROP DEFAULT", column))
		}
	}
	if changed(dialect.PredicateComment) {
		statements = append(statements, d.CommentSQL(t, to))
	}
	return statements
}

func (d *Dialect) CreateViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)), v.Expression)
}

func (d *Dialect) DropViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("DROP VIEW %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)))
}
