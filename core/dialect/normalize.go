package dialect

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// QuoteLiteral renders s as a single-quoted SQL string literal.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// LowerDefault lower-cases a default expression outside of quoted literals,
// so function-call defaults compare case-insensitively while string values
// keep their case. Surrounding whitespace and one level of wrapping
// parentheses are removed.
func LowerDefault(expr string) string {
	expr = StripParens(expr)

	var out strings.Builder
	inQuote := false
	for _, r := range expr {
		if r == '\'' {
			inQuote = !inQuote
			out.WriteRune(r)
			continue
		}
		if inQuote {
			out.WriteRune(r)
		} else {
			out.WriteString(strings.ToLower(string(r)))
		}
	}
	return out.String()
}

// StripParens removes surrounding whitespace and every level of parentheses
// that wraps the whole expression.
func StripParens(expr string) string {
	expr = strings.TrimSpace(expr)
	for len(expr) > 1 && expr[0] == '(' && expr[len(expr)-1] == ')' && balanced(expr[1:len(expr)-1]) {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}
	return expr
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '\'':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			depth++
		case r == ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// LiveDefault returns the default expression of a column loaded from a
// catalog. Loaders store raw SQL text; other values are formatted.
func LiveDefault(col *schema.ColumnSpec) string {
	switch v := col.Default.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case schema.DefaultFunc:
		return strings.TrimSpace(v())
	default:
		return fmt.Sprint(v)
	}
}

// NormalizeViewExpression collapses whitespace and strips a trailing
// semicolon so view definitions compare by content.
func NormalizeViewExpression(expr string) string {
	expr = strings.Join(strings.Fields(expr), " ")
	expr = strings.TrimSpace(strings.TrimSuffix(expr, ";"))
	return expr
}

// NormalizeIndexPredicate canonicalizes a partial index condition. Whitespace,
// outer parentheses and the case of unquoted text do not count.
func NormalizeIndexPredicate(expr string) string {
	return LowerDefault(NormalizeViewExpression(expr))
}
