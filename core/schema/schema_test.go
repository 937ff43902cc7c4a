package schema

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *TableSpec {
	return &TableSpec{
		Name: "post",
		Columns: []*ColumnSpec{
			{Name: "id", Type: "integer", Primary: true, Generation: GenerationIncrement},
			{Name: "title", Type: "varchar", Length: "255"},
			{Name: "author_id", Type: "integer", Nullable: true, Precision: Int(10)},
		},
		Indices:     []*IndexSpec{{Name: "IDX_title", Columns: []string{"title"}}},
		ForeignKeys: []*ForeignKeySpec{{Name: "FK_author", Columns: []string{"author_id"}, ReferencedTable: "user", ReferencedColumns: []string{"id"}}},
		Uniques:     []*UniqueSpec{{Name: "UQ_title_author", Columns: []string{"title", "author_id"}}},
		Checks:      []*CheckSpec{{Name: "CHK_title", Expression: "length(title) > 0"}},
	}
}

func TestTableSpec_Path(t *testing.T) {
	tests := []struct {
		table    TableSpec
		expected string
	}{
		{TableSpec{Name: "user"}, "user"},
		{TableSpec{Name: "user", Schema: "public"}, "public.user"},
		{TableSpec{Name: "user", Database: "app"}, "app.user"},
		{TableSpec{Name: "user", Schema: "s", Database: "app"}, "app.s.user"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.table.Path())
		})
	}
}

func TestIsSynchronized(t *testing.T) {
	assert.True(t, (&TableSpec{}).IsSynchronized())
	assert.True(t, (&TableSpec{Synchronize: Bool(true)}).IsSynchronized())
	assert.False(t, (&TableSpec{Synchronize: Bool(false)}).IsSynchronized())
	assert.True(t, (&IndexSpec{}).IsSynchronized())
	assert.False(t, (&IndexSpec{Synchronize: Bool(false)}).IsSynchronized())
	assert.False(t, (&ViewSpec{Synchronize: Bool(false)}).IsSynchronized())
}

func TestDerivedName(t *testing.T) {
	a := DerivedName("UQ", "user", "email", "tenant")
	b := DerivedName("UQ", "user", "tenant", "email")
	c := DerivedName("UQ", "account", "email", "tenant")

	assert.Equal(t, a, b, "column order should not matter")
	assert.NotEqual(t, a, c)
	assert.Regexp(t, regexp.MustCompile(`^UQ_[0-9a-f]{16}$`), a)
}

func TestTableSpec_Clone(t *testing.T) {
	original := sampleTable()
	clone := original.Clone()

	require.Equal(t, original, clone)

	clone.Columns[0].Name = "changed"
	*clone.Columns[2].Precision = 99
	clone.Indices[0].Columns[0] = "other"
	clone.ForeignKeys[0].ReferencedColumns[0] = "uuid"
	clone.Checks[0].Expression = "1 = 1"

	assert.Equal(t, "id", original.Columns[0].Name)
	assert.Equal(t, 10, *original.Columns[2].Precision)
	assert.Equal(t, "title", original.Indices[0].Columns[0])
	assert.Equal(t, "id", original.ForeignKeys[0].ReferencedColumns[0])
	assert.Equal(t, "length(title) > 0", original.Checks[0].Expression)
}

func TestTableSpec_Lookups(t *testing.T) {
	table := sampleTable()

	assert.NotNil(t, table.FindColumn("title"))
	assert.Nil(t, table.FindColumn("missing"))
	assert.NotNil(t, table.FindIndex("IDX_title"))
	assert.NotNil(t, table.FindUnique("UQ_title_author"))
	assert.NotNil(t, table.FindCheck("CHK_title"))
	assert.NotNil(t, table.FindForeignKey("FK_author", "user"))
	assert.Nil(t, table.FindForeignKey("FK_author", "account"))
	assert.Equal(t, []string{"id"}, table.PrimaryColumnNames())

	assert.True(t, table.RemoveColumn("title"))
	assert.False(t, table.RemoveColumn("title"))
	assert.Len(t, table.Columns, 2)
}

func TestReferentialAction_Normalize(t *testing.T) {
	assert.Equal(t, ActionNoAction, ReferentialAction("").Normalize())
	assert.Equal(t, ActionCascade, ReferentialAction("cascade").Normalize())
	assert.Equal(t, ActionSetNull, ReferentialAction(" set null ").Normalize())
}

func TestDefaultFunc_MarshalJSON(t *testing.T) {
	col := ColumnSpec{Name: "created_at", Type: "timestamp", Default: DefaultFunc(func() string { return "now()" })}
	data, err := json.Marshal(col)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"default":"now()"`)
}

func TestValidator(t *testing.T) {
	t.Run("valid model", func(t *testing.T) {
		ok, issues := NewValidator(&Model{Tables: []*TableSpec{sampleTable()}}).Validate()
		assert.True(t, ok)
		assert.Empty(t, issues)
	})

	t.Run("missing primary column", func(t *testing.T) {
		model := &Model{Tables: []*TableSpec{
			{Name: "log", Columns: []*ColumnSpec{{Name: "message", Type: "text"}}},
			{Name: "link", Kind: TableKindJunction, Columns: []*ColumnSpec{{Name: "a", Type: "integer"}}},
		}}
		ok, issues := NewValidator(model).Validate()
		assert.False(t, ok)
		require.Len(t, issues, 1)
		assert.Equal(t, IssueMissingPrimaryColumn, issues[0].Code)
		assert.Equal(t, "log", issues[0].Path)
	})

	t.Run("unknown columns and duplicates", func(t *testing.T) {
		table := sampleTable()
		table.Indices = append(table.Indices, &IndexSpec{Name: "IDX_title", Columns: []string{"nope"}})
		table.Columns = append(table.Columns, &ColumnSpec{Name: "title", Type: "text"})
		_, issues := NewValidator(&Model{Tables: []*TableSpec{table, sampleTable()}}).Validate()

		codes := make([]string, 0, len(issues))
		for _, issue := range issues {
			codes = append(codes, issue.Code)
		}
		assert.ElementsMatch(t, []string{IssueDuplicateColumn, IssueDuplicateConstraint, IssueUnknownColumn, IssueDuplicateTable}, codes)
	})

	t.Run("view dependencies", func(t *testing.T) {
		model := &Model{Views: []*ViewSpec{{Name: "v", Expression: "SELECT 1", DependsOn: []string{"w"}}}}
		_, issues := NewValidator(model).Validate()
		require.Len(t, issues, 1)
		assert.Equal(t, IssueUnknownView, issues[0].Code)
	})
}
