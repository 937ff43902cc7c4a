package mysql

import (
	"strings"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Dialect describes MySQL 8. MySQL has no schemas below a database, so a
// table is qualified by its database, or by its schema when no database is
// given.
type Dialect struct {
	dialect.Base
}

var _ dialect.Dialect = (*Dialect)(nil)

// NewDialect returns the MySQL dialect.
func NewDialect() *Dialect {
	return &Dialect{Base: dialect.Base{
		DialectName: "mysql",
		Caps: dialect.Capabilities{
			UUIDGeneration:      true,
			FulltextColumns:     true,
			SpatialColumns:      true,
			Comments:            true,
			MaxIdentifierLength: 64,
		},
		Aliases: map[string]string{
			"integer":           "int",
			"int4":              "int",
			"int8":              "bigint",
			"int2":              "smallint",
			"bool":              "tinyint",
			"boolean":           "tinyint",
			"string":            "varchar",
			"character varying": "varchar",
			"character":         "char",
			"numeric":           "decimal",
			"double precision":  "double",
			"float8":            "double",
			"float4":            "float",
			"uuid":              "varchar",
			"simple-enum":       "enum",
		},
		DefaultLengths: map[string]string{
			"varchar":   "255",
			"char":      "1",
			"binary":    "1",
			"varbinary": "255",
		},
		TrueLiteral:  "1",
		FalseLiteral: "0",
		QuoteChar:    '`',
		Mapped: dialect.MappedDataTypes{
			CreateDate:         "datetime",
			UpdateDate:         "datetime",
			Version:            "int",
			MigrationID:        "int",
			MigrationName:      "varchar",
			MetadataType:       "varchar",
			MetadataName:       "varchar",
			MetadataValue:      "text",
			MetadataNameLength: "255",
		},
		Upsert:     dialect.UpsertOnDuplicateKey,
		Predicates: dialect.PredicatesWithout(dialect.PredicateArray),
	}}
}

// NormalizeType maps uuid-generated columns to the varchar they are stored as.
func (d *Dialect) NormalizeType(col *schema.ColumnSpec) string {
	if col.Generation == schema.GenerationUUID {
		return "varchar"
	}
	return d.Base.NormalizeType(col)
}

// ColumnLength gives uuid columns the length of their text form.
func (d *Dialect) ColumnLength(col *schema.ColumnSpec) string {
	if col.Generation == schema.GenerationUUID || strings.EqualFold(strings.TrimSpace(col.Type), "uuid") {
		if col.Length == "" {
			return "36"
		}
	}
	if col.Length != "" {
		return col.Length
	}
	return d.DefaultLengths[d.NormalizeType(col)]
}

// NormalizeDefault leaves generated columns without a literal default and
// writes decimal defaults with the column's scale, the way MySQL reports them.
func (d *Dialect) NormalizeDefault(col *schema.ColumnSpec) string {
	if col.IsGenerated() {
		return ""
	}
	def := d.Base.NormalizeDefault(col)
	if col.Scale != nil && d.NormalizeType(col) == "decimal" {
		return decimalLiteral(def, *col.Scale)
	}
	return def
}

// decimalLiteral pads a plain numeric literal to scale fractional digits.
// Anything else is returned as is.
func decimalLiteral(lit string, scale int) string {
	digits := strings.TrimLeft(lit, "+-")
	if scale <= 0 || digits == "" || strings.Trim(digits, "0123456789.") != "" || strings.Count(digits, ".") > 1 {
		return lit
	}
	whole, frac, _ := strings.Cut(lit, ".")
	if len(frac) >= scale {
		return lit
	}
	switch whole {
	case "", "+", "-":
		whole += "0"
	}
	return whole + "." + frac + strings.Repeat("0", scale-len(frac))
}

// BuildTableName qualifies the name with the database, falling back to the
// schema.
func (d *Dialect) BuildTableName(name, schemaName, database string) string {
	if database == "" {
		database = schemaName
	}
	if database == "" {
		return name
	}
	return database + "." + name
}
