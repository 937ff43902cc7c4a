package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TableKind classifies how a table came into being.
type TableKind string

const (
	TableKindRegular         TableKind = "regular"          // Declared entity table
	TableKindJunction        TableKind = "junction"         // Many-to-many link table
	TableKindClosureJunction TableKind = "closure-junction" // Ancestor/descendant pairs of a tree
	TableKindView            TableKind = "view"             // Backed by a view, never altered
	TableKindEntityChild     TableKind = "entity-child"     // Single-table inheritance child, stored in its parent
)

// Generation represents the strategy used to produce a column value.
type Generation string

const (
	GenerationNone      Generation = ""          // Value supplied by the caller
	GenerationIncrement Generation = "increment" // Auto-increment / serial
	GenerationUUID      Generation = "uuid"      // Database generated UUID
	GenerationRowID     Generation = "rowid"     // Row identifier (CockroachDB-style unique_rowid)
)

// ReferentialAction is the action taken on referencing rows when a referenced
// row is deleted or updated.
type ReferentialAction string

const (
	ActionNoAction   ReferentialAction = "NO ACTION"
	ActionRestrict   ReferentialAction = "RESTRICT"
	ActionCascade    ReferentialAction = "CASCADE"
	ActionSetNull    ReferentialAction = "SET NULL"
	ActionSetDefault ReferentialAction = "SET DEFAULT"
)

// Normalize returns the upper-cased action, mapping the empty action to NO ACTION.
func (a ReferentialAction) Normalize() ReferentialAction {
	s := strings.ToUpper(strings.TrimSpace(string(a)))
	if s == "" {
		return ActionNoAction
	}
	return ReferentialAction(s)
}

// DefaultFunc is a deferred default generator. It returns the raw SQL
// expression (for example `now()` or `CURRENT_TIMESTAMP`) emitted verbatim.
type DefaultFunc func() string

// MarshalJSON renders the generated expression so snapshots stay printable.
func (f DefaultFunc) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("null"), nil
	}
	return json.Marshal(f())
}

// ColumnSpec describes a single column in either the desired or the live schema.
type ColumnSpec struct {
	Name               string     `json:"name"`
	Type               string     `json:"type"`
	Length             string     `json:"length,omitempty"`
	Precision          *int       `json:"precision,omitempty"`
	Scale              *int       `json:"scale,omitempty"`
	Nullable           bool       `json:"nullable,omitempty"`
	Unique             bool       `json:"unique,omitempty"`
	Default            any        `json:"default,omitempty"`
	Generation         Generation `json:"generation,omitempty"`
	Primary            bool       `json:"primary,omitempty"`
	Array              bool       `json:"array,omitempty"`
	Enum               []string   `json:"enum,omitempty"`
	EnumName           string     `json:"enumName,omitempty"`
	SpatialFeatureType string     `json:"spatialFeatureType,omitempty"`
	SRID               *int       `json:"srid,omitempty"`
	Comment            string     `json:"comment,omitempty"`
}

// IsGenerated reports whether the column value is produced by the database.
func (c *ColumnSpec) IsGenerated() bool {
	return c.Generation != GenerationNone
}

// IndexSpec describes an index. Column order is significant.
type IndexSpec struct {
	Name        string   `json:"name"`
	Columns     []string `json:"columns"`
	Unique      bool     `json:"unique,omitempty"`
	Spatial     bool     `json:"spatial,omitempty"`
	Fulltext    bool     `json:"fulltext,omitempty"`
	Where       string   `json:"where,omitempty"`
	Synchronize *bool    `json:"synchronize,omitempty"`
}

// IsSynchronized reports whether the index takes part in synchronization.
func (i *IndexSpec) IsSynchronized() bool {
	return i.Synchronize == nil || *i.Synchronize
}

// UniqueSpec describes a (usually composite) unique constraint.
type UniqueSpec struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// CheckSpec describes a check constraint. Expression is opaque.
type CheckSpec struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// ExclusionSpec describes an exclusion constraint. Expression is opaque.
type ExclusionSpec struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
}

// ForeignKeySpec describes a foreign key owned by a table.
type ForeignKeySpec struct {
	Name              string            `json:"name"`
	Columns           []string          `json:"columns"`
	ReferencedTable   string            `json:"referencedTable"`
	ReferencedColumns []string          `json:"referencedColumns"`
	OnDelete          ReferentialAction `json:"onDelete,omitempty"`
	OnUpdate          ReferentialAction `json:"onUpdate,omitempty"`
}

// TableSpec is the shared shape of desired and live tables.
type TableSpec struct {
	Name         string            `json:"name"`
	Schema       string            `json:"schema,omitempty"`
	Database     string            `json:"database,omitempty"`
	Kind         TableKind         `json:"kind,omitempty"`
	Synchronize  *bool             `json:"synchronize,omitempty"`
	Engine       string            `json:"engine,omitempty"`
	WithoutRowid bool              `json:"withoutRowid,omitempty"`
	PrimaryKey   string            `json:"primaryKey,omitempty"` // constraint name, not compared
	Columns      []*ColumnSpec     `json:"columns"`
	Indices      []*IndexSpec      `json:"indices,omitempty"`
	ForeignKeys  []*ForeignKeySpec `json:"foreignKeys,omitempty"`
	Uniques      []*UniqueSpec     `json:"uniques,omitempty"`
	Checks       []*CheckSpec      `json:"checks,omitempty"`
	Exclusions   []*ExclusionSpec  `json:"exclusions,omitempty"`
}

// IsSynchronized reports whether the table takes part in synchronization.
func (t *TableSpec) IsSynchronized() bool {
	return t.Synchronize == nil || *t.Synchronize
}

// Path returns the qualified identity database.schema.name, omitting empty parts.
func (t *TableSpec) Path() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// ViewSpec describes a view. Views are compared by name and normalized expression.
type ViewSpec struct {
	Name        string   `json:"name"`
	Schema      string   `json:"schema,omitempty"`
	Database    string   `json:"database,omitempty"`
	Expression  string   `json:"expression"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	Synchronize *bool    `json:"synchronize,omitempty"`
}

// IsSynchronized reports whether the view takes part in synchronization.
func (v *ViewSpec) IsSynchronized() bool {
	return v.Synchronize == nil || *v.Synchronize
}

// Path returns the qualified identity of the view.
func (v *ViewSpec) Path() string {
	return (&TableSpec{Name: v.Name, Schema: v.Schema, Database: v.Database}).Path()
}

// Model is a complete schema: the desired metadata model or a live snapshot.
type Model struct {
	Tables []*TableSpec `json:"tables"`
	Views  []*ViewSpec  `json:"views,omitempty"`
}

// FindTable returns the storage table with the given path or nil.
// Single-table inheritance children share their parent's path and are skipped.
func (m *Model) FindTable(path string) *TableSpec {
	for _, t := range m.Tables {
		if t.Kind != TableKindEntityChild && t.Path() == path {
			return t
		}
	}
	return nil
}

// FindView returns the view with the given path or nil.
func (m *Model) FindView(path string) *ViewSpec {
	for _, v := range m.Views {
		if v.Path() == path {
			return v
		}
	}
	return nil
}

// TablePaths lists the paths of all tables in declaration order.
func (m *Model) TablePaths() []string {
	paths := make([]string, 0, len(m.Tables))
	for _, t := range m.Tables {
		paths = append(paths, t.Path())
	}
	return paths
}

// String renders the model as indented JSON.
func (m *Model) String() string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf("<invalid model: %v>", err)
	}
	return string(data)
}
