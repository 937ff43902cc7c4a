package metadata

import (
	"fmt"
	"slices"

	"github.com/iancoleman/strcase"
	"github.com/zeebo/xxh3"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// NamingStrategy derives every database identifier the builder does not get
// explicitly from a declaration.
type NamingStrategy interface {
	TableName(entity, explicit string) string
	ColumnName(property, explicit string) string
	JoinColumnName(relationProperty, referencedColumn string) string
	JoinTableName(ownerTable, property, inverseTable string) string
	JoinTableColumnName(table, column string) string
	ClosureTableName(table string) string
	ClosureColumnName(column, side string) string

	PrimaryKeyName(table string, columns []string) string
	IndexName(table string, columns []string, where string) string
	UniqueName(table string, columns []string) string
	RelationConstraintName(table string, columns []string) string
	ForeignKeyName(table string, columns []string, referencedTable string, referencedColumns []string) string
	CheckName(table, expression string) string
	ExclusionName(table, expression string) string
}

// DefaultNamingStrategy uses snake_case names and hashed constraint names.
type DefaultNamingStrategy struct{}

var _ NamingStrategy = DefaultNamingStrategy{}

func (DefaultNamingStrategy) TableName(entity, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strcase.ToSnake(entity)
}

func (DefaultNamingStrategy) ColumnName(property, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return strcase.ToSnake(property)
}

func (DefaultNamingStrategy) JoinColumnName(relationProperty, referencedColumn string) string {
	return strcase.ToSnake(relationProperty) + "_" + referencedColumn
}

func (DefaultNamingStrategy) JoinTableName(ownerTable, property, inverseTable string) string {
	return ownerTable + "_" + strcase.ToSnake(property) + "_" + inverseTable
}

func (DefaultNamingStrategy) JoinTableColumnName(table, column string) string {
	return table + "_" + column
}

func (DefaultNamingStrategy) ClosureTableName(table string) string {
	return table + "_closure"
}

func (DefaultNamingStrategy) ClosureColumnName(column, side string) string {
	return column + "_" + side
}

func (DefaultNamingStrategy) PrimaryKeyName(table string, columns []string) string {
	return schema.DerivedName("PK", table, columns...)
}

func (DefaultNamingStrategy) IndexName(table string, columns []string, where string) string {
	if where != "" {
		return schema.DerivedName("IDX", table, append(slices.Clone(columns), "where:"+where)...)
	}
	return schema.DerivedName("IDX", table, columns...)
}

func (DefaultNamingStrategy) UniqueName(table string, columns []string) string {
	return schema.DerivedName("UQ", table, columns...)
}

func (DefaultNamingStrategy) RelationConstraintName(table string, columns []string) string {
	return schema.DerivedName("REL", table, columns...)
}

func (DefaultNamingStrategy) ForeignKeyName(table string, columns []string, referencedTable string, referencedColumns []string) string {
	parts := append(slices.Clone(columns), "ref:"+referencedTable)
	parts = append(parts, referencedColumns...)
	return schema.DerivedName("FK", table, parts...)
}

func (DefaultNamingStrategy) CheckName(table, expression string) string {
	return schema.DerivedName("CHK", table, expression)
}

func (DefaultNamingStrategy) ExclusionName(table, expression string) string {
	return schema.DerivedName("XCL", table, expression)
}

// TruncateIdentifier shortens name to max characters by keeping a prefix and
// appending a hash of the full name. A max of zero disables truncation.
func TruncateIdentifier(name string, max int) string {
	const suffix = 17 // "_" + 16 hex digits
	if max <= 0 || len(name) <= max || max <= suffix {
		return name
	}
	return fmt.Sprintf("%s_%016x", name[:max-suffix], xxh3.HashString(name))
}
