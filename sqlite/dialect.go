package sqlite

import (
	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Dialect describes SQLite. SQLite keeps declared type names verbatim, so
// normalization only folds the common aliases.
type Dialect struct {
	dialect.Base
}

var _ dialect.Dialect = (*Dialect)(nil)

// NewDialect returns the SQLite dialect.
func NewDialect() *Dialect {
	return &Dialect{Base: dialect.Base{
		DialectName: "sqlite",
		Caps: dialect.Capabilities{
			Returning:         true,
			CheckConstraints:  true,
			UniqueConstraints: true,
			TransactionalDDL:  true,
		},
		Aliases: map[string]string{
			"int":               "integer",
			"int4":              "integer",
			"bool":              "boolean",
			"string":            "varchar",
			"character varying": "varchar",
			"double precision":  "double",
			"uuid":              "varchar",
			"timestamp":         "datetime",
			"enum":              "varchar",
			"simple-enum":       "varchar",
		},
		DefaultLengths: map[string]string{},
		TrueLiteral:    "1",
		FalseLiteral:   "0",
		QuoteChar:      '"',
		DefaultSchema:  "main",
		Mapped: dialect.MappedDataTypes{
			CreateDate:         "datetime",
			UpdateDate:         "datetime",
			Version:            "integer",
			MigrationID:        "integer",
			MigrationName:      "varchar",
			MetadataType:       "varchar",
			MetadataName:       "varchar",
			MetadataValue:      "text",
			MetadataNameLength: "255",
		},
		Upsert:     dialect.UpsertOnConflict,
		Predicates: dialect.PredicatesWithout(dialect.PredicateComment),
	}}
}

// NormalizeType maps uuid-generated columns to the varchar they are stored as.
func (d *Dialect) NormalizeType(col *schema.ColumnSpec) string {
	if col.Generation == schema.GenerationUUID {
		return "varchar"
	}
	return d.Base.NormalizeType(col)
}
