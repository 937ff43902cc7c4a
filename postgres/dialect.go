package postgres

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Dialect describes PostgreSQL.
type Dialect struct {
	dialect.Base
}

var _ dialect.Dialect = (*Dialect)(nil)

// NewDialect returns the PostgreSQL dialect.
func NewDialect() *Dialect {
	return &Dialect{Base: dialect.Base{
		DialectName: "postgres",
		Caps: dialect.Capabilities{
			Returning:            true,
			UUIDGeneration:       true,
			ArrayColumns:         true,
			Enums:                true,
			Comments:             true,
			CheckConstraints:     true,
			ExclusionConstraints: true,
			UniqueConstraints:    true,
			TransactionalDDL:     true,
			MaxIdentifierLength:  63,
		},
		Aliases: map[string]string{
			"int":         "integer",
			"int4":        "integer",
			"int8":        "bigint",
			"int2":        "smallint",
			"serial":      "integer",
			"bigserial":   "bigint",
			"smallserial": "smallint",
			"bool":        "boolean",
			"varchar":     "character varying",
			"string":      "character varying",
			"char":        "character",
			"decimal":     "numeric",
			"float8":      "double precision",
			"float":       "double precision",
			"double":      "double precision",
			"float4":      "real",
			"timestamp":   "timestamp without time zone",
			"timestamptz": "timestamp with time zone",
			"time":        "time without time zone",
			"timetz":      "time with time zone",
			"datetime":    "timestamp without time zone",
			"simple-enum": "enum",
		},
		DefaultLengths: map[string]string{},
		TrueLiteral:    "true",
		FalseLiteral:   "false",
		QuoteChar:      '"',
		DefaultSchema:  "public",
		Mapped: dialect.MappedDataTypes{
			CreateDate:    "timestamp",
			UpdateDate:    "timestamp",
			Version:       "integer",
			MigrationID:   "integer",
			MigrationName: "varchar",
			MetadataType:  "varchar",
			MetadataName:  "varchar",
			MetadataValue: "text",
		},
		Upsert:      dialect.UpsertOnConflict,
		Placeholder: func(i int) string { return "$" + strconv.Itoa(i) },
	}}
}

// NormalizeDefault leaves generated columns without a default; their
// sequence or generator call is implied by the column type.
func (d *Dialect) NormalizeDefault(col *schema.ColumnSpec) string {
	if col.IsGenerated() {
		return ""
	}
	return d.Base.NormalizeDefault(col)
}

var castPattern = regexp.MustCompile(`::[a-zA-Z_][\w ."]*(\[\])?`)

// StripCasts removes the type casts PostgreSQL adds to stored defaults,
// leaving quoted literals untouched.
func StripCasts(expr string) string {
	var out strings.Builder
	inQuote := false
	start := 0
	for i := 0; i < len(expr); i++ {
		if expr[i] != '\'' {
			continue
		}
		if !inQuote {
			out.WriteString(castPattern.ReplaceAllString(expr[start:i], ""))
			start = i
		} else {
			out.WriteString(expr[start : i+1])
			start = i + 1
		}
		inQuote = !inQuote
	}
	if inQuote {
		out.WriteString(expr[start:])
	} else {
		out.WriteString(castPattern.ReplaceAllString(expr[start:], ""))
	}
	return strings.TrimSpace(out.String())
}

// enumTypeName returns the type backing an enum column.
func enumTypeName(table string, col *schema.ColumnSpec) string {
	if col.EnumName != "" {
		return col.EnumName
	}
	return table + "_" + col.Name + "_enum"
}
