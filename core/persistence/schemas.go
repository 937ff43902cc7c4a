package persistence

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
	"github.com/asaidimu/go-anansi-sync/utils"
)

// METADATA_TABLE_NAME is the side table holding view definitions. Catalogs
// rewrite view SQL, so the declared expression is kept here for comparison.
const METADATA_TABLE_NAME = "anansi_metadata"

// MetadataTypeView tags view definition rows.
const MetadataTypeView = "VIEW"

// MetadataRecord is a row of the metadata table.
type MetadataRecord struct {
	Type     string `json:"type"`
	Database string `json:"database"`
	Schema   string `json:"schema"`
	Table    string `json:"table"`
	Name     string `json:"name"`
	Value    string `json:"value"`
}

// metadataTableDefinition is the metadata table. Column types come from the
// dialect's mapped data types.
var metadataTableDefinition = []byte(`
{
  "name": "anansi_metadata",
  "kind": "regular",
  "primaryKey": "PK_anansi_metadata",
  "columns": [
    {"name": "type", "primary": true},
    {"name": "schema", "primary": true, "default": ""},
    {"name": "name", "primary": true},
    {"name": "database", "nullable": true},
    {"name": "table", "nullable": true},
    {"name": "value", "nullable": true}
  ]
}`)

// MetadataTable returns the metadata table spec for a dialect, placed in the
// given schema and database (either may be empty).
func MetadataTable(d dialect.Dialect, schemaName, database string) (*schema.TableSpec, error) {
	var t schema.TableSpec
	if err := json.Unmarshal(metadataTableDefinition, &t); err != nil {
		return nil, fmt.Errorf("error unmarshaling metadata table definition: %w", err)
	}
	mapped := d.MappedDataTypes()
	for _, c := range t.Columns {
		switch c.Name {
		case "type":
			c.Type = mapped.MetadataType
		case "value":
			c.Type = mapped.MetadataValue
		default:
			c.Type = mapped.MetadataName
			c.Length = mapped.MetadataNameLength
		}
	}
	t.Schema = schemaName
	t.Database = database
	return &t, nil
}

// MetadataConflictColumns is the key of the metadata table.
var MetadataConflictColumns = []string{"type", "schema", "name"}

// ViewRecord returns the metadata row describing a view.
func ViewRecord(v *schema.ViewSpec) MetadataRecord {
	return MetadataRecord{
		Type:     MetadataTypeView,
		Database: v.Database,
		Schema:   v.Schema,
		Name:     v.Name,
		Value:    v.Expression,
	}
}

// Columns returns the column names of the record in a stable order together
// with the matching values, ready for an insert statement.
func (r MetadataRecord) Columns() ([]string, []any, error) {
	data, err := utils.StructToMap(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to convert metadata record: %w", err)
	}
	columns := lo.Keys(data)
	slices.Sort(columns)
	values := lo.Map(columns, func(c string, _ int) any { return data[c] })
	return columns, values, nil
}

// MetadataRecordFromRow converts a scanned row into a record. NULL columns
// are treated as empty strings.
func MetadataRecordFromRow(row map[string]any) (MetadataRecord, error) {
	clean := lo.MapValues(row, func(v any, _ string) any {
		switch b := v.(type) {
		case nil:
			return ""
		case []byte:
			return string(b)
		}
		return v
	})
	record, err := utils.MapToStruct[MetadataRecord](clean)
	if err != nil {
		return MetadataRecord{}, fmt.Errorf("failed to convert metadata row: %w", err)
	}
	return record, nil
}

// View converts a view record back into a view spec.
func (r MetadataRecord) View() *schema.ViewSpec {
	return &schema.ViewSpec{Name: r.Name, Schema: r.Schema, Database: r.Database, Expression: r.Value}
}
