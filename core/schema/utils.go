package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"
)

// Bool returns a pointer to b, for the optional flags on specs.
func Bool(b bool) *bool {
	return &b
}

// Int returns a pointer to i.
func Int(i int) *int {
	return &i
}

// Expression returns a default that renders expr verbatim. Catalog loaders use
// it for defaults read back from the database, which are already SQL.
func Expression(expr string) DefaultFunc {
	return func() string { return expr }
}

// DerivedName produces a deterministic constraint name of the form
// PREFIX_<16 hex digits> from the table name and the given parts.
// Column parts are sorted so that the name does not depend on declaration order.
func DerivedName(prefix, table string, parts ...string) string {
	sorted := slices.Clone(parts)
	slices.Sort(sorted)
	key := strings.TrimPrefix(table, ".") + "_" + strings.Join(sorted, "_")
	return fmt.Sprintf("%s_%016x", prefix, xxh3.HashString(key))
}

func (t *TableSpec) FindColumn(name string) *ColumnSpec {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (t *TableSpec) FindIndex(name string) *IndexSpec {
	for _, i := range t.Indices {
		if i.Name == name {
			return i
		}
	}
	return nil
}

func (t *TableSpec) FindUnique(name string) *UniqueSpec {
	for _, u := range t.Uniques {
		if u.Name == name {
			return u
		}
	}
	return nil
}

func (t *TableSpec) FindCheck(name string) *CheckSpec {
	for _, c := range t.Checks {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (t *TableSpec) FindExclusion(name string) *ExclusionSpec {
	for _, e := range t.Exclusions {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// FindForeignKey matches a foreign key by name and referenced table.
func (t *TableSpec) FindForeignKey(name, referencedTable string) *ForeignKeySpec {
	for _, fk := range t.ForeignKeys {
		if fk.Name == name && fk.ReferencedTable == referencedTable {
			return fk
		}
	}
	return nil
}

// PrimaryColumns returns the columns flagged as primary, in column order.
func (t *TableSpec) PrimaryColumns() []*ColumnSpec {
	var out []*ColumnSpec
	for _, c := range t.Columns {
		if c.Primary {
			out = append(out, c)
		}
	}
	return out
}

// PrimaryColumnNames returns the names of the primary columns.
func (t *TableSpec) PrimaryColumnNames() []string {
	var out []string
	for _, c := range t.PrimaryColumns() {
		out = append(out, c.Name)
	}
	return out
}

// Clone returns a deep copy of the column. Default values are shared.
func (c *ColumnSpec) Clone() *ColumnSpec {
	if c == nil {
		return nil
	}
	out := *c
	out.Enum = slices.Clone(c.Enum)
	if c.Precision != nil {
		out.Precision = Int(*c.Precision)
	}
	if c.Scale != nil {
		out.Scale = Int(*c.Scale)
	}
	if c.SRID != nil {
		out.SRID = Int(*c.SRID)
	}
	return &out
}

func (i *IndexSpec) Clone() *IndexSpec {
	out := *i
	out.Columns = slices.Clone(i.Columns)
	if i.Synchronize != nil {
		out.Synchronize = Bool(*i.Synchronize)
	}
	return &out
}

func (u *UniqueSpec) Clone() *UniqueSpec {
	out := *u
	out.Columns = slices.Clone(u.Columns)
	return &out
}

func (fk *ForeignKeySpec) Clone() *ForeignKeySpec {
	out := *fk
	out.Columns = slices.Clone(fk.Columns)
	out.ReferencedColumns = slices.Clone(fk.ReferencedColumns)
	return &out
}

// Clone returns a deep copy of the table.
func (t *TableSpec) Clone() *TableSpec {
	if t == nil {
		return nil
	}
	out := *t
	if t.Synchronize != nil {
		out.Synchronize = Bool(*t.Synchronize)
	}
	out.Columns = make([]*ColumnSpec, 0, len(t.Columns))
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, c.Clone())
	}
	out.Indices = nil
	for _, i := range t.Indices {
		out.Indices = append(out.Indices, i.Clone())
	}
	out.ForeignKeys = nil
	for _, fk := range t.ForeignKeys {
		out.ForeignKeys = append(out.ForeignKeys, fk.Clone())
	}
	out.Uniques = nil
	for _, u := range t.Uniques {
		out.Uniques = append(out.Uniques, u.Clone())
	}
	out.Checks = nil
	for _, c := range t.Checks {
		cc := *c
		out.Checks = append(out.Checks, &cc)
	}
	out.Exclusions = nil
	for _, e := range t.Exclusions {
		ee := *e
		out.Exclusions = append(out.Exclusions, &ee)
	}
	return &out
}

func (v *ViewSpec) Clone() *ViewSpec {
	out := *v
	out.DependsOn = slices.Clone(v.DependsOn)
	if v.Synchronize != nil {
		out.Synchronize = Bool(*v.Synchronize)
	}
	return &out
}

// Clone returns a deep copy of the model.
func (m *Model) Clone() *Model {
	if m == nil {
		return &Model{}
	}
	out := &Model{}
	for _, t := range m.Tables {
		out.Tables = append(out.Tables, t.Clone())
	}
	for _, v := range m.Views {
		out.Views = append(out.Views, v.Clone())
	}
	return out
}

// RemoveColumn drops the named column and returns whether it existed.
func (t *TableSpec) RemoveColumn(name string) bool {
	before := len(t.Columns)
	t.Columns = slices.DeleteFunc(t.Columns, func(c *ColumnSpec) bool { return c.Name == name })
	return len(t.Columns) != before
}
