package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

func idColumn() *schema.ColumnSpec {
	return &schema.ColumnSpec{Name: "id", Type: "integer", Primary: true, Generation: schema.GenerationIncrement}
}

func TestColumnDefinition(t *testing.T) {
	d := NewDialect()
	table := &schema.TableSpec{Name: "t", Columns: []*schema.ColumnSpec{idColumn()}}

	tests := []struct {
		name   string
		column *schema.ColumnSpec
		bare   bool
		want   string
	}{
		{
			name:   "auto increment primary key",
			column: table.Columns[0],
			want:   `"id" integer PRIMARY KEY AUTOINCREMENT NOT NULL`,
		},
		{
			name:   "nullable with length",
			column: &schema.ColumnSpec{Name: "name", Type: "varchar", Length: "50", Nullable: true},
			want:   `"name" varchar(50)`,
		},
		{
			name:   "precision and scale",
			column: &schema.ColumnSpec{Name: "price", Type: "decimal", Precision: schema.Int(10), Scale: schema.Int(2)},
			want:   `"price" decimal(10,2) NOT NULL`,
		},
		{
			name:   "enum becomes a check",
			column: &schema.ColumnSpec{Name: "status", Type: "enum", Enum: []string{"a", "b"}, Default: "a"},
			want:   `"status" varchar CHECK( "status" IN ('a','b') ) NOT NULL DEFAULT ('a')`,
		},
		{
			name:   "boolean default",
			column: &schema.ColumnSpec{Name: "active", Type: "bool", Default: true},
			want:   `"active" boolean NOT NULL DEFAULT (1)`,
		},
		{
			name:   "bare default",
			column: &schema.ColumnSpec{Name: "n", Type: "int", Default: 0},
			bare:   true,
			want:   `"n" integer NOT NULL DEFAULT 0`,
		},
		{
			name:   "catalog default is kept verbatim",
			column: &schema.ColumnSpec{Name: "note", Type: "varchar", Nullable: true, Default: schema.Expression("'x'")},
			want:   `"note" varchar DEFAULT ('x')`,
		},
		{
			name:   "unique",
			column: &schema.ColumnSpec{Name: "email", Type: "varchar", Unique: true},
			want:   `"email" varchar UNIQUE NOT NULL`,
		},
		{
			name:   "uuid is stored as varchar",
			column: &schema.ColumnSpec{Name: "ref", Type: "uuid", Generation: schema.GenerationUUID, Nullable: true},
			want:   `"ref" varchar`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.ColumnDefinition(table, tt.column, tt.bare))
		})
	}
}

func membersTable() *schema.TableSpec {
	return &schema.TableSpec{
		Name:       "members",
		PrimaryKey: "PK_members",
		Columns: []*schema.ColumnSpec{
			{Name: "org_id", Type: "integer", Primary: true},
			{Name: "user_id", Type: "integer", Primary: true},
			{Name: "role", Type: "varchar", Nullable: true},
		},
		Uniques: []*schema.UniqueSpec{{Name: "UQ_members", Columns: []string{"role", "user_id"}}},
		Checks:  []*schema.CheckSpec{{Name: "CHK_role", Expression: "role <> ''"}},
		ForeignKeys: []*schema.ForeignKeySpec{{
			Name: "FK_org", Columns: []string{"org_id"}, ReferencedTable: "orgs", ReferencedColumns: []string{"id"},
			OnDelete: schema.ActionCascade,
		}},
	}
}

func TestCreateTableSQL(t *testing.T) {
	d := NewDialect()

	withFKs := d.CreateTableSQL(membersTable(), true, true)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "members" (`+
		`"org_id" integer NOT NULL, "user_id" integer NOT NULL, "role" varchar, `+
		`CONSTRAINT "PK_members" PRIMARY KEY ("org_id", "user_id"), `+
		`CONSTRAINT "UQ_members" UNIQUE ("role", "user_id"), `+
		`CONSTRAINT "CHK_role" CHECK (role <> ''), `+
		`CONSTRAINT "FK_org" FOREIGN KEY ("org_id") REFERENCES "orgs" ("id") ON DELETE CASCADE ON UPDATE NO ACTION)`, withFKs)

	withoutFKs := d.CreateTableSQL(membersTable(), false, false)
	assert.NotContains(t, withoutFKs, "FOREIGN KEY")
	assert.NotContains(t, withoutFKs, "IF NOT EXISTS")

	rowid := &schema.TableSpec{Name: "kv", WithoutRowid: true, Columns: []*schema.ColumnSpec{
		{Name: "k", Type: "text", Primary: true},
	}}
	assert.Equal(t, `CREATE TABLE "kv" ("k" text NOT NULL, PRIMARY KEY ("k")) WITHOUT ROWID`, d.CreateTableSQL(rowid, false, false))
}

func TestIndexSQL(t *testing.T) {
	d := NewDialect()
	table := &schema.TableSpec{Name: "t"}
	idx := &schema.IndexSpec{Name: "IDX_a", Columns: []string{"a", "b"}, Unique: true, Where: "a IS NOT NULL"}

	assert.Equal(t, `CREATE UNIQUE INDEX "IDX_a" ON "t" ("a", "b") WHERE a IS NOT NULL`, d.CreateIndexSQL(table, idx))
	assert.Equal(t, `DROP INDEX "IDX_a"`, d.DropIndexSQL(table, idx))

	attached := &schema.TableSpec{Name: "t", Schema: "aux"}
	plain := &schema.IndexSpec{Name: "IDX_b", Columns: []string{"b"}}
	assert.Equal(t, `CREATE INDEX "aux"."IDX_b" ON "t" ("b")`, d.CreateIndexSQL(attached, plain))
}

func TestAlterStatements(t *testing.T) {
	d := NewDialect()
	table := &schema.TableSpec{Name: "t", Schema: "main"}

	assert.Equal(t, `ALTER TABLE "t" ADD COLUMN "name" varchar(50)`,
		d.AddColumnSQL(table, &schema.ColumnSpec{Name: "name", Type: "varchar", Length: "50", Nullable: true}))
	assert.Equal(t, `ALTER TABLE "t" RENAME COLUMN "title" TO "name"`, d.RenameColumnSQL(table, "title", "name"))
	assert.Equal(t, `CREATE VIEW "v" AS SELECT 1`, d.CreateViewSQL(&schema.ViewSpec{Name: "v", Expression: "SELECT 1"}))
	assert.Equal(t, `DROP VIEW "v"`, d.DropViewSQL(&schema.ViewSpec{Name: "v"}))
}

func TestAlterable(t *testing.T) {
	d := NewDialect()
	tests := []struct {
		name   string
		column *schema.ColumnSpec
		want   bool
	}{
		{"nullable", &schema.ColumnSpec{Name: "a", Type: "text", Nullable: true}, true},
		{"not null with literal default", &schema.ColumnSpec{Name: "a", Type: "integer", Default: 1}, true},
		{"not null without default", &schema.ColumnSpec{Name: "a", Type: "integer"}, false},
		{"primary", &schema.ColumnSpec{Name: "a", Type: "integer", Primary: true, Nullable: true}, false},
		{"unique", &schema.ColumnSpec{Name: "a", Type: "text", Unique: true, Nullable: true}, false},
		{"expression default", &schema.ColumnSpec{Name: "a", Type: "datetime", Default: schema.DefaultFunc(func() string { return "CURRENT_TIMESTAMP" })}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.alterable(tt.column))
		})
	}
}

func TestRecreateTableSQL(t *testing.T) {
	d := NewDialect()
	current := &schema.TableSpec{
		Name: "t",
		Columns: []*schema.ColumnSpec{
			idColumn(),
			{Name: "a", Type: "varchar", Nullable: true},
			{Name: "b", Type: "varchar", Nullable: true},
		},
		Indices: []*schema.IndexSpec{{Name: "IDX_a", Columns: []string{"a"}}},
	}
	next := current.Clone()
	next.RemoveColumn("b")

	assert.Equal(t, []string{
		`CREATE TABLE "temporary_t" ("id" integer PRIMARY KEY AUTOINCREMENT NOT NULL, "a" varchar)`,
		`INSERT INTO "temporary_t"("id", "a") SELECT "id", "a" FROM "t"`,
		`DROP TABLE "t"`,
		`ALTER TABLE "temporary_t" RENAME TO "t"`,
		`CREATE INDEX "IDX_a" ON "t" ("a")`,
	}, d.RecreateTableSQL(current, next, nil))

	renamed := current.Clone()
	renamed.Columns[2].Name = "c"
	renamed.Indices = nil
	statements := d.RecreateTableSQL(current, renamed, map[string]string{"c": "b"})
	require.Len(t, statements, 4)
	assert.Equal(t, `INSERT INTO "temporary_t"("id", "a", "c") SELECT "id", "a", "b" FROM "t"`, statements[1])
}

func TestParseType(t *testing.T) {
	tests := []struct {
		declared  string
		wantType  string
		length    string
		precision *int
		scale     *int
	}{
		{"INTEGER", "integer", "", nil, nil},
		{"varchar(255)", "varchar", "255", nil, nil},
		{"DECIMAL(10, 2)", "decimal", "", schema.Int(10), schema.Int(2)},
		{"numeric(8)", "numeric", "", schema.Int(8), nil},
		{"", "", "", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.declared, func(t *testing.T) {
			var col schema.ColumnSpec
			parseType(tt.declared, &col)
			assert.Equal(t, tt.wantType, col.Type)
			assert.Equal(t, tt.length, col.Length)
			assert.Equal(t, tt.precision, col.Precision)
			assert.Equal(t, tt.scale, col.Scale)
		})
	}
}

func TestCatalogHelpers(t *testing.T) {
	assert.Equal(t, `a "b"`, unquote(`"a ""b"""`))
	assert.Equal(t, []string{"a", "b"}, identifierList(`"a", "b"`))
	assert.Equal(t, []string{"it's", "b"}, literalList(`'it''s','b'`))
	assert.Equal(t, "a > (1 + 2) AND b <> ')'", parenthesized("CHECK (a > (1 + 2) AND b <> ')'), x", len("CHECK (")))
	assert.Equal(t, "deleted_at IS NULL", whereClause(`CREATE INDEX "i" ON "t" ("a") WHERE deleted_at IS NULL`))
	assert.Empty(t, whereClause(`CREATE INDEX "i" ON "t" ("a")`))

	database, schemaName, name := splitPath("aux.t")
	assert.Equal(t, []string{"", "aux", "t"}, []string{database, schemaName, name})
}
