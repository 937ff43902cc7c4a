package dialect

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// UpsertStyle selects the conflict clause a backend uses for upserts.
type UpsertStyle int

const (
	UpsertOnConflict     UpsertStyle = iota // INSERT ... ON CONFLICT (...) DO UPDATE SET
	UpsertOnDuplicateKey                    // INSERT ... ON DUPLICATE KEY UPDATE
)

// Base holds the table-driven parts shared by every backend. Backends embed it
// and override the methods whose behaviour differs.
type Base struct {
	DialectName    string
	Caps           Capabilities
	Aliases        map[string]string // lower-case type name -> canonical name
	DefaultLengths map[string]string // canonical type -> default length
	TrueLiteral    string
	FalseLiteral   string
	QuoteChar      byte
	DefaultSchema  string // omitted by BuildTableName
	Mapped         MappedDataTypes
	Upsert         UpsertStyle
	Placeholder    func(i int) string // 1-based parameter marker
	Predicates     []ColumnPredicate
}

func (b *Base) Name() string { return b.DialectName }

func (b *Base) Capabilities() Capabilities { return b.Caps }

func (b *Base) MappedDataTypes() MappedDataTypes { return b.Mapped }

// NormalizeType lower-cases the declared type, drops any parameter list and
// resolves aliases. Unknown types pass through.
func (b *Base) NormalizeType(col *schema.ColumnSpec) string {
	t := strings.ToLower(strings.TrimSpace(col.Type))
	if i := strings.IndexByte(t, '('); i > 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSuffix(t, "[]")
	if alias, ok := b.Aliases[t]; ok {
		return alias
	}
	return t
}

// NormalizeDefault renders the declared default as a SQL literal.
func (b *Base) NormalizeDefault(col *schema.ColumnSpec) string {
	switch v := col.Default.(type) {
	case nil:
		return ""
	case schema.DefaultFunc:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(v())
	case func() string:
		return strings.TrimSpace(v())
	case bool:
		if v {
			return b.TrueLiteral
		}
		return b.FalseLiteral
	case string:
		return QuoteLiteral(v)
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case []string:
		if col.Array && b.Caps.ArrayColumns {
			return QuoteLiteral("{" + strings.Join(v, ",") + "}")
		}
		return b.jsonLiteral(v)
	case []any:
		if col.Array && b.Caps.ArrayColumns && len(col.Enum) > 0 {
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			return QuoteLiteral("{" + strings.Join(parts, ",") + "}")
		}
		return b.jsonLiteral(v)
	default:
		return b.jsonLiteral(v)
	}
}

func (b *Base) jsonLiteral(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return QuoteLiteral(fmt.Sprint(v))
	}
	return QuoteLiteral(string(data))
}

// NormalizeIsUnique reports single-column uniqueness. Primary columns are
// unique by construction and never carry a separate constraint.
func (b *Base) NormalizeIsUnique(col *schema.ColumnSpec) bool {
	return col.Unique && !col.Primary
}

// ColumnLength returns the declared length or the default for the type.
func (b *Base) ColumnLength(col *schema.ColumnSpec) string {
	if col.Length != "" {
		return col.Length
	}
	return b.DefaultLengths[b.NormalizeType(col)]
}

// BuildTableName joins the non-empty qualifiers, omitting the default schema.
func (b *Base) BuildTableName(name, schemaName, database string) string {
	parts := make([]string, 0, 3)
	if database != "" {
		parts = append(parts, database)
	}
	if schemaName != "" && schemaName != b.DefaultSchema {
		parts = append(parts, schemaName)
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

func (b *Base) ColumnPredicates() []ColumnPredicate {
	if b.Predicates != nil {
		return b.Predicates
	}
	return StandardPredicates()
}

// Quote quotes an identifier, doubling embedded quote characters.
func (b *Base) Quote(ident string) string {
	q := string(b.QuoteChar)
	if q == "\x00" {
		q = `"`
	}
	return q + strings.ReplaceAll(ident, q, q+q) + q
}

// QuotePath quotes every part of a dotted table name.
func (b *Base) QuotePath(path string) string {
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = b.Quote(p)
	}
	return strings.Join(parts, ".")
}

// UpsertStatement builds an insert that updates the non-conflict columns when
// a row with the same conflict key exists.
func (b *Base) UpsertStatement(table string, columns, conflict []string) string {
	placeholder := b.Placeholder
	if placeholder == nil {
		placeholder = func(int) string { return "?" }
	}

	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = b.Quote(c)
		params[i] = placeholder(i + 1)
	}
	isConflict := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		isConflict[c] = true
	}

	var updates []string
	var sql strings.Builder
	fmt.Fprintf(&sql, "INSERT INTO %s (%s) VALUES (%s)", b.QuotePath(table), strings.Join(quoted, ", "), strings.Join(params, ", "))

	switch b.Upsert {
	case UpsertOnDuplicateKey:
		for _, c := range columns {
			if !isConflict[c] {
				updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", b.Quote(c), b.Quote(c)))
			}
		}
		if len(updates) == 0 {
			updates = append(updates, fmt.Sprintf("%s = %s", b.Quote(columns[0]), b.Quote(columns[0])))
		}
		fmt.Fprintf(&sql, " ON DUPLICATE KEY UPDATE %s", strings.Join(updates, ", "))
	default:
		quotedConflict := make([]string, len(conflict))
		for i, c := range conflict {
			quotedConflict[i] = b.Quote(c)
		}
		for _, c := range columns {
			if !isConflict[c] {
				updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", b.Quote(c), b.Quote(c)))
			}
		}
		if len(updates) == 0 {
			fmt.Fprintf(&sql, " ON CONFLICT (%s) DO NOTHING", strings.Join(quotedConflict, ", "))
		} else {
			fmt.Fprintf(&sql, " ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(quotedConflict, ", "), strings.Join(updates, ", "))
		}
	}
	return sql.String()
}
