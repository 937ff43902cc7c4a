// Package dialect describes what a database backend can do and how it spells
// types and defaults. The differ and the executor branch on these capabilities
// and normalization functions only, never on which backend they talk to.
package dialect

import (
	"fmt"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Capabilities are the feature flags of a backend.
type Capabilities struct {
	Returning            bool `json:"returning"`
	UUIDGeneration       bool `json:"uuidGeneration"`
	FulltextColumns      bool `json:"fulltextColumns"`
	SpatialColumns       bool `json:"spatialColumns"`
	ArrayColumns         bool `json:"arrayColumns"`
	Enums                bool `json:"enums"` // named enum types
	Comments             bool `json:"comments"`
	CheckConstraints     bool `json:"checkConstraints"`
	ExclusionConstraints bool `json:"exclusionConstraints"`
	UniqueConstraints    bool `json:"uniqueConstraints"`
	TransactionalDDL     bool `json:"transactionalDDL"`
	MaxIdentifierLength  int  `json:"maxIdentifierLength"` // 0 means unlimited
}

// MappedDataTypes are the canonical types used for columns the library itself needs.
type MappedDataTypes struct {
	CreateDate         string
	UpdateDate         string
	Version            string
	MigrationID        string
	MigrationName      string
	MetadataType       string
	MetadataName       string
	MetadataValue      string
	MetadataNameLength string
}

// Dialect is the capability descriptor of a database backend.
type Dialect interface {
	Name() string
	Capabilities() Capabilities

	// NormalizeType returns the canonical type name of a column.
	NormalizeType(col *schema.ColumnSpec) string
	// NormalizeDefault returns the canonical default literal, "" when there is none.
	NormalizeDefault(col *schema.ColumnSpec) string
	// NormalizeIsUnique reports whether the column carries single-column uniqueness.
	NormalizeIsUnique(col *schema.ColumnSpec) bool
	// ColumnLength applies default length rules to a column.
	ColumnLength(col *schema.ColumnSpec) string

	BuildTableName(name, schema, database string) string
	MappedDataTypes() MappedDataTypes

	// ColumnPredicates are evaluated in order to decide whether a column changed.
	ColumnPredicates() []ColumnPredicate
}

// TableName builds the dialect name of a table spec.
func TableName(d Dialect, t *schema.TableSpec) string {
	return d.BuildTableName(t.Name, t.Schema, t.Database)
}

// CapabilityError reports a declared feature the target dialect cannot provide.
type CapabilityError struct {
	Dialect string
	Feature string
	Table   string
	Object  string
}

func (e *CapabilityError) Error() string {
	if e.Object == "" {
		return fmt.Sprintf("dialect %s does not support %s (table %s)", e.Dialect, e.Feature, e.Table)
	}
	return fmt.Sprintf("dialect %s does not support %s (table %s, %s)", e.Dialect, e.Feature, e.Table, e.Object)
}
