package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// PRAGMA results do not carry constraint names, so they are recovered from
// the CREATE TABLE text stored in sqlite_master.
var (
	primaryKeyPattern = regexp.MustCompile(`CONSTRAINT "((?:[^"]|"")+)" PRIMARY KEY`)
	uniquePattern     = regexp.MustCompile(`CONSTRAINT "((?:[^"]|"")+)" UNIQUE \(([^)]*)\)`)
	checkPattern      = regexp.MustCompile(`CONSTRAINT "((?:[^"]|"")+)" CHECK \(`)
	foreignKeyPattern = regexp.MustCompile(`CONSTRAINT "((?:[^"]|"")+)" FOREIGN KEY \(([^)]*)\) REFERENCES "((?:[^"]|"")+)" \(([^)]*)\)`)
	enumPattern       = regexp.MustCompile(`CHECK\(\s*"((?:[^"]|"")+)" IN \(([^)]*)\)\s*\)`)
	autoIncrementExpr = regexp.MustCompile(`(?i)\bAUTOINCREMENT\b`)
	typePattern       = regexp.MustCompile(`^([^(]+?)\s*(?:\(\s*([^)]*)\s*\))?$`)
)

// precisionTypes take (precision, scale) parameters rather than a length.
var precisionTypes = []string{"decimal", "numeric", "real", "double", "float"}

// unquote removes identifier quotes, undoing doubled quote characters.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '`') && s[len(s)-1] == s[0] {
		q := string(s[0])
		return strings.ReplaceAll(s[1:len(s)-1], q+q, q)
	}
	return s
}

// undouble reverts the quote doubling inside a captured identifier.
func undouble(s string) string {
	return strings.ReplaceAll(s, `""`, `"`)
}

func identifierList(s string) []string {
	return lo.Map(strings.Split(s, ","), func(p string, _ int) string { return unquote(p) })
}

// literalList parses a list of single-quoted literals.
func literalList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if len(p) >= 2 && p[0] == '\'' && p[len(p)-1] == '\'' {
			p = strings.ReplaceAll(p[1:len(p)-1], "''", "'")
		}
		out = append(out, p)
	}
	return out
}

// parenthesized returns the text between the parenthesis opening at s[start-1]
// and its matching close.
func parenthesized(s string, start int) string {
	depth := 1
	inQuote := false
	for i := start; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\'':
			inQuote = !inQuote
		case inQuote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return s[start:i]
			}
		}
	}
	return s[start:]
}

// parseType splits a declared type such as varchar(50) or decimal(10,2).
func parseType(declared string, col *schema.ColumnSpec) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	m := typePattern.FindStringSubmatch(declared)
	if m == nil {
		col.Type = declared
		return
	}
	col.Type = strings.TrimSpace(m[1])
	if m[2] == "" {
		return
	}
	if !lo.Contains(precisionTypes, col.Type) {
		col.Length = m[2]
		return
	}
	parts := strings.Split(m[2], ",")
	if p, err := strconv.Atoi(strings.TrimSpace(parts[0])); err == nil {
		col.Precision = &p
	}
	if len(parts) > 1 {
		if s, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
			col.Scale = &s
		}
	}
}

// splitPath splits a table path into database, schema and name.
func splitPath(path string) (database, schemaName, name string) {
	parts := strings.Split(path, ".")
	switch len(parts) {
	case 1:
		return "", "", parts[0]
	case 2:
		return "", parts[0], parts[1]
	default:
		return parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
	}
}

func (r *QueryRunner) pragma(schemaName, fn, arg string) string {
	if schemaName == "" {
		return fmt.Sprintf("PRAGMA %s(%s)", fn, r.dialect.Quote(arg))
	}
	return fmt.Sprintf("PRAGMA %s.%s(%s)", r.dialect.Quote(schemaName), fn, r.dialect.Quote(arg))
}

func (r *QueryRunner) master(schemaName string) string {
	if schemaName == "" {
		return "sqlite_master"
	}
	return r.dialect.Quote(schemaName) + ".sqlite_master"
}

// objectSQL returns the stored CREATE statement of a table or index. It
// returns false when the object does not exist.
func (r *QueryRunner) objectSQL(ctx context.Context, schemaName, kind, name string) (string, bool, error) {
	query := fmt.Sprintf("SELECT sql FROM %s WHERE type = ? AND name = ?", r.master(schemaName))
	var text sql.NullString
	r.mu.Lock()
	err := r.runner().QueryRowContext(ctx, query, kind, name).Scan(&text)
	r.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s %s from catalog: %w", kind, name, err)
	}
	return text.String, true, nil
}

// LoadTables reads the live shape of the given tables.
func (r *QueryRunner) LoadTables(ctx context.Context, paths []string) ([]*schema.TableSpec, error) {
	var tables []*schema.TableSpec
	for _, path := range paths {
		database, schemaName, name := splitPath(path)
		ddl, ok, err := r.objectSQL(ctx, schemaName, "table", name)
		if err != nil {
			return nil, err
		}
		if !ok {
			r.logger.Debug("Table not found in catalog", zap.String("table", path))
			continue
		}
		t := &schema.TableSpec{Name: name, Schema: schemaName, Database: database, Kind: schema.TableKindRegular}
		if err := r.loadTable(ctx, t, ddl); err != nil {
			return nil, fmt.Errorf("failed to load table %s: %w", path, err)
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func (r *QueryRunner) loadTable(ctx context.Context, t *schema.TableSpec, ddl string) error {
	if m := primaryKeyPattern.FindStringSubmatch(ddl); m != nil {
		t.PrimaryKey = undouble(m[1])
	}
	t.WithoutRowid = strings.HasSuffix(strings.ToUpper(strings.TrimSpace(ddl)), "WITHOUT ROWID")

	if err := r.loadColumns(ctx, t, ddl); err != nil {
		return err
	}
	if err := r.loadIndices(ctx, t, ddl); err != nil {
		return err
	}
	if err := r.loadForeignKeys(ctx, t, ddl); err != nil {
		return err
	}
	for _, loc := range checkPattern.FindAllStringSubmatchIndex(ddl, -1) {
		t.Checks = append(t.Checks, &schema.CheckSpec{
			Name:       undouble(ddl[loc[2]:loc[3]]),
			Expression: strings.TrimSpace(parenthesized(ddl, loc[1])),
		})
	}
	return nil
}

func (r *QueryRunner) loadColumns(ctx context.Context, t *schema.TableSpec, ddl string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.runner().QueryContext(ctx, r.pragma(t.Schema, "table_info", t.Name))
	if err != nil {
		return fmt.Errorf("failed to read columns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid, notNull, pk int
			name, declared   string
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &name, &declared, &notNull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan column: %w", err)
		}
		col := &schema.ColumnSpec{Name: name, Nullable: notNull == 0 && pk == 0, Primary: pk > 0}
		parseType(declared, col)
		if dflt.Valid {
			col.Default = schema.Expression(dflt.String)
		}
		t.Columns = append(t.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after scanning columns: %w", err)
	}

	if primary := t.PrimaryColumns(); len(primary) == 1 && autoIncrementExpr.MatchString(ddl) {
		primary[0].Generation = schema.GenerationIncrement
	}
	for _, m := range enumPattern.FindAllStringSubmatch(ddl, -1) {
		if col := t.FindColumn(undouble(m[1])); col != nil {
			col.Enum = literalList(m[2])
		}
	}
	return nil
}

type indexEntry struct {
	name    string
	unique  bool
	origin  string
	partial bool
}

func (r *QueryRunner) indexColumns(ctx context.Context, schemaName, index string) ([]string, error) {
	rows, err := r.runner().QueryContext(ctx, r.pragma(schemaName, "index_info", index))
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var name sql.NullString
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to scan index column: %w", err)
		}
		columns = append(columns, name.String)
	}
	return columns, rows.Err()
}

func (r *QueryRunner) loadIndices(ctx context.Context, t *schema.TableSpec, ddl string) error {
	r.mu.Lock()
	rows, err := r.runner().QueryContext(ctx, r.pragma(t.Schema, "index_list", t.Name))
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to list indices: %w", err)
	}
	var entries []indexEntry
	for rows.Next() {
		var seq, unique, partial int
		var e indexEntry
		if err := rows.Scan(&seq, &e.name, &unique, &e.origin, &partial); err != nil {
			rows.Close()
			r.mu.Unlock()
			return fmt.Errorf("failed to scan index: %w", err)
		}
		e.unique, e.partial = unique == 1, partial == 1
		entries = append(entries, e)
	}
	rows.Close()
	r.mu.Unlock()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after listing indices: %w", err)
	}

	uniqueNames := make(map[string]string)
	for _, m := range uniquePattern.FindAllStringSubmatch(ddl, -1) {
		uniqueNames[columnKey(identifierList(m[2]))] = undouble(m[1])
	}

	// index_list reports the newest index first.
	slices.Reverse(entries)
	for _, e := range entries {
		r.mu.Lock()
		columns, err := r.indexColumns(ctx, t.Schema, e.name)
		r.mu.Unlock()
		if err != nil {
			return err
		}

		switch e.origin {
		case "u":
			if len(columns) == 1 {
				if col := t.FindColumn(columns[0]); col != nil {
					col.Unique = true
				}
				continue
			}
			name, ok := uniqueNames[columnKey(columns)]
			if !ok {
				name = e.name
			}
			t.Uniques = append(t.Uniques, &schema.UniqueSpec{Name: name, Columns: columns})
		case "c":
			idx := &schema.IndexSpec{Name: e.name, Columns: columns, Unique: e.unique}
			if e.partial {
				text, _, err := r.objectSQL(ctx, t.Schema, "index", e.name)
				if err != nil {
					return err
				}
				idx.Where = whereClause(text)
			}
			t.Indices = append(t.Indices, idx)
		}
	}
	return nil
}

// whereClause extracts the predicate of a partial index definition.
func whereClause(ddl string) string {
	upper := strings.ToUpper(ddl)
	i := strings.LastIndex(upper, " WHERE ")
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(ddl[i+len(" WHERE "):])
}

func columnKey(columns []string) string {
	return strings.Join(columns, "\x00")
}

func (r *QueryRunner) loadForeignKeys(ctx context.Context, t *schema.TableSpec, ddl string) error {
	r.mu.Lock()
	rows, err := r.runner().QueryContext(ctx, r.pragma(t.Schema, "foreign_key_list", t.Name))
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to list foreign keys: %w", err)
	}

	var order []int
	byID := make(map[int]*schema.ForeignKeySpec)
	for rows.Next() {
		var id, seq int
		var table, from, onUpdate, onDelete, match string
		var to sql.NullString
		if err := rows.Scan(&id, &seq, &table, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			rows.Close()
			r.mu.Unlock()
			return fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fk, ok := byID[id]
		if !ok {
			ref := &schema.TableSpec{Name: table, Schema: t.Schema, Database: t.Database}
			fk = &schema.ForeignKeySpec{
				ReferencedTable: ref.Path(),
				OnDelete:        schema.ReferentialAction(onDelete).Normalize(),
				OnUpdate:        schema.ReferentialAction(onUpdate).Normalize(),
			}
			byID[id] = fk
			order = append(order, id)
		}
		fk.Columns = append(fk.Columns, from)
		fk.ReferencedColumns = append(fk.ReferencedColumns, to.String)
	}
	rows.Close()
	r.mu.Unlock()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error after listing foreign keys: %w", err)
	}

	names := make(map[string]string)
	for _, m := range foreignKeyPattern.FindAllStringSubmatch(ddl, -1) {
		key := columnKey(identifierList(m[2])) + "|" + undouble(m[3]) + "|" + columnKey(identifierList(m[4]))
		names[key] = undouble(m[1])
	}

	// foreign_key_list reports the last declared key first.
	slices.Reverse(order)
	for _, id := range order {
		fk := byID[id]
		key := columnKey(fk.Columns) + "|" + referencedName(fk.ReferencedTable) + "|" + columnKey(fk.ReferencedColumns)
		fk.Name = names[key]
		if fk.Name == "" {
			fk.Name = schema.DerivedName("FK", t.Name, fk.Columns...)
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
	}
	return nil
}

// metadataExists reports whether the view metadata table has been created.
func (r *QueryRunner) metadataExists(ctx context.Context) (bool, error) {
	_, ok, err := r.objectSQL(ctx, "", "table", metadataTable)
	return ok, err
}
