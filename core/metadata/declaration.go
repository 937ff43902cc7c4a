package metadata

import (
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// InheritanceStrategy selects how an entity hierarchy maps onto tables.
type InheritanceStrategy string

const (
	InheritanceSingleTable   InheritanceStrategy = "single-table"    // Children are stored in the root table
	InheritanceTablePerClass InheritanceStrategy = "table-per-class" // Every concrete entity gets its own table
)

// RelationKind represents the cardinality of a relation.
type RelationKind string

const (
	RelationManyToOne  RelationKind = "many-to-one"
	RelationOneToOne   RelationKind = "one-to-one"
	RelationOneToMany  RelationKind = "one-to-many" // Inverse side, produces no columns
	RelationManyToMany RelationKind = "many-to-many"
)

// TreeType represents the storage used for tree entities.
type TreeType string

const (
	TreeClosureTable TreeType = "closure-table"
)

// ColumnDeclaration describes a declared property and the column it maps to.
type ColumnDeclaration struct {
	Property           string            `json:"property"`
	Name               string            `json:"name,omitempty"` // explicit column name
	Type               string            `json:"type,omitempty"`
	Length             string            `json:"length,omitempty"`
	Precision          *int              `json:"precision,omitempty"`
	Scale              *int              `json:"scale,omitempty"`
	Nullable           bool              `json:"nullable,omitempty"`
	Unique             bool              `json:"unique,omitempty"`
	Primary            bool              `json:"primary,omitempty"`
	Array              bool              `json:"array,omitempty"`
	Default            any               `json:"default,omitempty"`
	DefaultExpression  string            `json:"defaultExpression,omitempty"` // raw SQL, e.g. now()
	Generation         schema.Generation `json:"generation,omitempty"`
	Enum               []string          `json:"enum,omitempty"`
	EnumName           string            `json:"enumName,omitempty"`
	SpatialFeatureType string            `json:"spatialFeatureType,omitempty"`
	SRID               *int              `json:"srid,omitempty"`
	Comment            string            `json:"comment,omitempty"`
}

// IndexDeclaration lists properties (or column names) in index order.
type IndexDeclaration struct {
	Name        string   `json:"name,omitempty"`
	Columns     []string `json:"columns"`
	Unique      bool     `json:"unique,omitempty"`
	Spatial     bool     `json:"spatial,omitempty"`
	Fulltext    bool     `json:"fulltext,omitempty"`
	Where       string   `json:"where,omitempty"`
	Synchronize *bool    `json:"synchronize,omitempty"`
}

type UniqueDeclaration struct {
	Name    string   `json:"name,omitempty"`
	Columns []string `json:"columns"`
}

// ExpressionDeclaration is a check or exclusion constraint.
type ExpressionDeclaration struct {
	Name       string `json:"name,omitempty"`
	Expression string `json:"expression"`
}

// JoinColumnDeclaration pairs a local column with the column it references.
type JoinColumnDeclaration struct {
	Name             string `json:"name,omitempty"`
	ReferencedColumn string `json:"referencedColumn,omitempty"`
}

type JoinTableDeclaration struct {
	Name               string                  `json:"name,omitempty"`
	JoinColumns        []JoinColumnDeclaration `json:"joinColumns,omitempty"`
	InverseJoinColumns []JoinColumnDeclaration `json:"inverseJoinColumns,omitempty"`
}

// RelationDeclaration describes a relation from the declaring entity to Target.
// Many-to-one relations always own their join columns; one-to-one and
// many-to-many relations own them when Owner is set or a join
// column/table is given.
type RelationDeclaration struct {
	Property    string                   `json:"property"`
	Kind        RelationKind             `json:"kind"`
	Target      string                   `json:"target"`
	Inverse     string                   `json:"inverse,omitempty"`
	Owner       bool                     `json:"owner,omitempty"`
	Primary     bool                     `json:"primary,omitempty"`
	Nullable    *bool                    `json:"nullable,omitempty"`
	JoinColumns []JoinColumnDeclaration  `json:"joinColumns,omitempty"`
	JoinTable   *JoinTableDeclaration    `json:"joinTable,omitempty"`
	OnDelete    schema.ReferentialAction `json:"onDelete,omitempty"`
	OnUpdate    schema.ReferentialAction `json:"onUpdate,omitempty"`
}

func (r *RelationDeclaration) owning() bool {
	switch r.Kind {
	case RelationManyToOne:
		return true
	case RelationOneToOne:
		return r.Owner || len(r.JoinColumns) > 0
	case RelationManyToMany:
		return r.Owner || r.JoinTable != nil
	}
	return false
}

type TreeDeclaration struct {
	Type        TreeType `json:"type"`
	LevelColumn string   `json:"levelColumn,omitempty"`
}

// EntityDeclaration is the raw description of one entity as produced by the
// metadata collector. View entities set View to their defining expression.
type EntityDeclaration struct {
	Name                string                  `json:"name"`
	Table               string                  `json:"table,omitempty"`
	Schema              string                  `json:"schema,omitempty"`
	Database            string                  `json:"database,omitempty"`
	Engine              string                  `json:"engine,omitempty"`
	WithoutRowid        bool                    `json:"withoutRowid,omitempty"`
	Synchronize         *bool                   `json:"synchronize,omitempty"`
	Abstract            bool                    `json:"abstract,omitempty"`
	Extends             string                  `json:"extends,omitempty"`
	Inheritance         InheritanceStrategy     `json:"inheritance,omitempty"`
	DiscriminatorColumn string                  `json:"discriminatorColumn,omitempty"`
	Columns             []ColumnDeclaration     `json:"columns,omitempty"`
	Indices             []IndexDeclaration      `json:"indices,omitempty"`
	Uniques             []UniqueDeclaration     `json:"uniques,omitempty"`
	Checks              []ExpressionDeclaration `json:"checks,omitempty"`
	Exclusions          []ExpressionDeclaration `json:"exclusions,omitempty"`
	Relations           []RelationDeclaration   `json:"relations,omitempty"`
	Tree                *TreeDeclaration        `json:"tree,omitempty"`
	View                string                  `json:"view,omitempty"`
	DependsOn           []string                `json:"dependsOn,omitempty"`
}
