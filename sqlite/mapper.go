package sqlite

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// temporaryPrefix names the copy built while a table is recreated.
const temporaryPrefix = "temporary_"

// tableName returns the quoted name of a table.
func (d *Dialect) tableName(t *schema.TableSpec) string {
	return d.QuotePath(dialect.TableName(d, t))
}

// qualifier returns the quoted schema prefix that index names need when the
// table lives in an attached database.
func (d *Dialect) qualifier(t *schema.TableSpec) string {
	if t.Schema == "" || t.Schema == d.DefaultSchema {
		return ""
	}
	return d.Quote(t.Schema) + "."
}

func (d *Dialect) quoteList(names []string) string {
	return strings.Join(lo.Map(names, func(n string, _ int) string { return d.Quote(n) }), ", ")
}

// ColumnType renders the declared type of a column with its length or
// precision.
func (d *Dialect) ColumnType(col *schema.ColumnSpec) string {
	t := d.NormalizeType(col)
	switch {
	case d.ColumnLength(col) != "":
		return fmt.Sprintf("%s(%s)", t, d.ColumnLength(col))
	case col.Precision != nil && col.Scale != nil:
		return fmt.Sprintf("%s(%d,%d)", t, *col.Precision, *col.Scale)
	case col.Precision != nil:
		return fmt.Sprintf("%s(%d)", t, *col.Precision)
	}
	return t
}

// autoIncrement reports whether the column is the rowid alias of its table.
func autoIncrement(t *schema.TableSpec, col *schema.ColumnSpec) bool {
	return col.Primary && col.Generation == schema.GenerationIncrement && len(t.PrimaryColumns()) == 1
}

// ColumnDefinition builds the DDL of a single column. Defaults are wrapped in
// parentheses unless bare is set, which ALTER TABLE ADD COLUMN requires.
func (d *Dialect) ColumnDefinition(t *schema.TableSpec, col *schema.ColumnSpec, bare bool) string {
	parts := []string{d.Quote(col.Name), d.ColumnType(col)}

	if len(col.Enum) > 0 {
		values := lo.Map(col.Enum, func(v string, _ int) string { return dialect.QuoteLiteral(v) })
		parts = append(parts, fmt.Sprintf("CHECK( %s IN (%s) )", d.Quote(col.Name), strings.Join(values, ",")))
	}
	if autoIncrement(t, col) {
		parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
	}
	if d.NormalizeIsUnique(col) {
		parts = append(parts, "UNIQUE")
	}
	if !col.Nullable {
		parts = append(parts, "NOT NULL")
	}
	if def := d.NormalizeDefault(col); def != "" && !col.IsGenerated() {
		if bare {
			parts = append(parts, "DEFAULT "+def)
		} else {
			parts = append(parts, "DEFAULT ("+def+")")
		}
	}
	return strings.Join(parts, " ")
}

// referencedName strips qualifiers; SQLite foreign keys name tables of the
// same database only.
func referencedName(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}

func (d *Dialect) foreignKeyDefinition(fk *schema.ForeignKeySpec) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		d.Quote(fk.Name), d.quoteList(fk.Columns),
		d.Quote(referencedName(fk.ReferencedTable)), d.quoteList(fk.ReferencedColumns),
		fk.OnDelete.Normalize(), fk.OnUpdate.Normalize())
}

// CreateTableSQL generates the CREATE TABLE statement of a table, with its
// primary key, uniques and checks inline. Indices are separate statements.
func (d *Dialect) CreateTableSQL(t *schema.TableSpec, ifNotExists, withForeignKeys bool) string {
	return d.createTableAs(t, d.tableName(t), ifNotExists, withForeignKeys)
}

func (d *Dialect) createTableAs(t *schema.TableSpec, name string, ifNotExists, withForeignKeys bool) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(name + " (")

	defs := lo.Map(t.Columns, func(c *schema.ColumnSpec, _ int) string { return d.ColumnDefinition(t, c, false) })

	primary := t.PrimaryColumns()
	if len(primary) > 0 && !(len(primary) == 1 && autoIncrement(t, primary[0])) {
		pk := "PRIMARY KEY (" + d.quoteList(t.PrimaryColumnNames()) + ")"
		if t.PrimaryKey != "" {
			pk = "CONSTRAINT " + d.Quote(t.PrimaryKey) + " " + pk
		}
		defs = append(defs, pk)
	}
	for _, u := range t.Uniques {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s UNIQUE (%s)", d.Quote(u.Name), d.quoteList(u.Columns)))
	}
	for _, chk := range t.Checks {
		defs = append(defs, fmt.Sprintf("CONSTRAINT %s CHECK (%s)", d.Quote(chk.Name), chk.Expression))
	}
	if withForeignKeys {
		for _, fk := range t.ForeignKeys {
			defs = append(defs, d.foreignKeyDefinition(fk))
		}
	}

	sb.WriteString(strings.Join(defs, ", "))
	sb.WriteString(")")
	if t.WithoutRowid {
		sb.WriteString(" WITHOUT ROWID")
	}
	return sb.String()
}

// CreateIndexSQL generates the CREATE INDEX statement of an index.
func (d *Dialect) CreateIndexSQL(t *schema.TableSpec, idx *schema.IndexSpec) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&sb, "INDEX %s%s ON %s (%s)", d.qualifier(t), d.Quote(idx.Name), d.Quote(t.Name), d.quoteList(idx.Columns))
	if idx.Where != "" {
		sb.WriteString(" WHERE " + idx.Where)
	}
	return sb.String()
}

func (d *Dialect) DropIndexSQL(t *schema.TableSpec, idx *schema.IndexSpec) string {
	return fmt.Sprintf("DROP INDEX %s%s", d.qualifier(t), d.Quote(idx.Name))
}

func (d *Dialect) AddColumnSQL(t *schema.TableSpec, col *schema.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.tableName(t), d.ColumnDefinition(t, col, true))
}

func (d *Dialect) RenameColumnSQL(t *schema.TableSpec, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.tableName(t), d.Quote(from), d.Quote(to))
}

// alterable reports whether ALTER TABLE ADD COLUMN can add the column. SQLite
// refuses key columns, NOT NULL without a default and expression defaults.
func (d *Dialect) alterable(col *schema.ColumnSpec) bool {
	if col.Primary || d.NormalizeIsUnique(col) || col.IsGenerated() {
		return false
	}
	def := d.NormalizeDefault(col)
	if !col.Nullable && def == "" {
		return false
	}
	if strings.Contains(def, "(") || strings.HasPrefix(strings.ToUpper(def), "CURRENT_") {
		return false
	}
	return true
}

// RecreateTableSQL rebuilds a table in the shape of next: it creates a copy,
// moves the rows across, drops the original and renames the copy into place.
// sources maps a column of next to the column of current its values come
// from; columns without a source take their default.
func (d *Dialect) RecreateTableSQL(current, next *schema.TableSpec, sources map[string]string) []string {
	temp := next.Clone()
	temp.Name = temporaryPrefix + next.Name
	tempName := d.tableName(temp)

	statements := []string{d.createTableAs(next, tempName, false, true)}

	var into, from []string
	for _, c := range next.Columns {
		src, ok := sources[c.Name]
		if !ok && current.FindColumn(c.Name) != nil {
			src, ok = c.Name, true
		}
		if ok && current.FindColumn(src) != nil {
			into = append(into, d.Quote(c.Name))
			from = append(from, d.Quote(src))
		}
	}
	if len(into) > 0 {
		statements = append(statements, fmt.Sprintf("INSERT INTO %s(%s) SELECT %s FROM %s",
			tempName, strings.Join(into, ", "), strings.Join(from, ", "), d.tableName(current)))
	}

	statements = append(statements,
		fmt.Sprintf("DROP TABLE %s", d.tableName(current)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", tempName, d.Quote(next.Name)))

	for _, idx := range next.Indices {
		statements = append(statements, d.CreateIndexSQL(next, idx))
	}
	return statements
}

func (d *Dialect) CreateViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("CREATE VIEW %s AS %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)), v.Expression)
}

func (d *Dialect) DropViewSQL(v *schema.ViewSpec) string {
	return fmt.Sprintf("DROP VIEW %s", d.QuotePath(d.BuildTableName(v.Name, v.Schema, v.Database)))
}
