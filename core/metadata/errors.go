package metadata

import "fmt"

// ResolutionError is returned when the declared model cannot be turned into
// a table graph: a referenced entity or column does not exist, or a table
// that needs a primary key has none.
type ResolutionError struct {
	Entity string
	Table  string
	Column string
	Reason string
}

func (e *ResolutionError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("cannot resolve column %q of %s: %s", e.Column, e.subject(), e.Reason)
	default:
		return fmt.Sprintf("cannot resolve %s: %s", e.subject(), e.Reason)
	}
}

func (e *ResolutionError) subject() string {
	if e.Table != "" {
		return fmt.Sprintf("table %q", e.Table)
	}
	return fmt.Sprintf("entity %q", e.Entity)
}
