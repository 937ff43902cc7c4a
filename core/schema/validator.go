// Package schema holds the structural model shared by the desired metadata
// model and live database snapshots, together with a Validator that checks a
// model for structural consistency before it is synchronized.
package schema

import (
	"fmt"
)

// Issue is a single structural problem found in a model.
type Issue struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Path     string `json:"path,omitempty"`
	Severity string `json:"severity,omitempty"` // e.g., "error", "warning"
}

func (i Issue) Error() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
	return fmt.Sprintf("%s at %s: %s", i.Code, i.Path, i.Message)
}

// Issue codes reported by the Validator.
const (
	IssueDuplicateTable       = "DUPLICATE_TABLE"
	IssueDuplicateColumn      = "DUPLICATE_COLUMN"
	IssueMissingPrimaryColumn = "MISSING_PRIMARY_COLUMN"
	IssueUnknownColumn        = "UNKNOWN_COLUMN"
	IssueEmptyColumnList      = "EMPTY_COLUMN_LIST"
	IssueColumnCountMismatch  = "COLUMN_COUNT_MISMATCH"
	IssueDuplicateConstraint  = "DUPLICATE_CONSTRAINT"
	IssueUnknownView          = "UNKNOWN_VIEW_DEPENDENCY"
	IssueEmptyExpression      = "EMPTY_EXPRESSION"
)

// Validator checks a Model for structural consistency. It is reusable; each
// call to Validate starts from an empty issue list.
type Validator struct {
	model  *Model
	issues []Issue
}

// NewValidator creates a Validator for the given model.
func NewValidator(model *Model) *Validator {
	return &Validator{model: model, issues: make([]Issue, 0)}
}

// Validate walks every table and view. It returns whether the model is valid
// and the issues that were found.
func (v *Validator) Validate() (bool, []Issue) {
	v.issues = make([]Issue, 0)

	seenTables := make(map[string]bool)
	for _, t := range v.model.Tables {
		if t.Kind == TableKindEntityChild {
			continue
		}
		path := t.Path()
		if seenTables[path] {
			v.addIssue(IssueDuplicateTable, fmt.Sprintf("Table '%s' is declared more than once", path), path)
			continue
		}
		seenTables[path] = true
		v.validateTable(t)
	}

	seenViews := make(map[string]bool)
	for _, view := range v.model.Views {
		seenViews[view.Name] = true
	}
	for _, view := range v.model.Views {
		path := v.buildPath("views", view.Name)
		if view.Expression == "" {
			v.addIssue(IssueEmptyExpression, "View has no defining expression", path)
		}
		for _, dep := range view.DependsOn {
			if !seenViews[dep] {
				v.addIssue(IssueUnknownView, fmt.Sprintf("View depends on undeclared view '%s'", dep), path)
			}
		}
	}

	return len(v.issues) == 0, v.issues
}

func (v *Validator) validateTable(t *TableSpec) {
	path := t.Path()
	columns := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if columns[c.Name] {
			v.addIssue(IssueDuplicateColumn, fmt.Sprintf("Column '%s' is declared more than once", c.Name), v.buildPath(path, c.Name))
		}
		columns[c.Name] = true
	}

	switch t.Kind {
	case TableKindJunction, TableKindClosureJunction, TableKindView, TableKindEntityChild:
	default:
		if len(t.PrimaryColumns()) == 0 {
			v.addIssue(IssueMissingPrimaryColumn, "Table has no primary column", path)
		}
	}

	names := make(map[string]bool)
	claim := func(name, kind string) {
		if name == "" {
			return
		}
		if names[name] {
			v.addIssue(IssueDuplicateConstraint, fmt.Sprintf("Constraint name '%s' is reused by %s", name, kind), v.buildPath(path, name))
		}
		names[name] = true
	}
	checkColumns := func(name string, cols []string) {
		if len(cols) == 0 {
			v.addIssue(IssueEmptyColumnList, "Constraint covers no columns", v.buildPath(path, name))
		}
		for _, c := range cols {
			if !columns[c] {
				v.addIssue(IssueUnknownColumn, fmt.Sprintf("Column '%s' does not exist", c), v.buildPath(path, name))
			}
		}
	}

	for _, i := range t.Indices {
		claim(i.Name, "an index")
		checkColumns(i.Name, i.Columns)
	}
	for _, u := range t.Uniques {
		claim(u.Name, "a unique constraint")
		checkColumns(u.Name, u.Columns)
	}
	for _, fk := range t.ForeignKeys {
		claim(fk.Name, "a foreign key")
		checkColumns(fk.Name, fk.Columns)
		if len(fk.Columns) != len(fk.ReferencedColumns) {
			v.addIssue(IssueColumnCountMismatch,
				fmt.Sprintf("Foreign key has %d columns but references %d", len(fk.Columns), len(fk.ReferencedColumns)),
				v.buildPath(path, fk.Name))
		}
	}
	for _, c := range t.Checks {
		claim(c.Name, "a check constraint")
		if c.Expression == "" {
			v.addIssue(IssueEmptyExpression, "Check constraint has no expression", v.buildPath(path, c.Name))
		}
	}
	for _, e := range t.Exclusions {
		claim(e.Name, "an exclusion constraint")
		if e.Expression == "" {
			v.addIssue(IssueEmptyExpression, "Exclusion constraint has no expression", v.buildPath(path, e.Name))
		}
	}
}

func (v *Validator) buildPath(basePath, name string) string {
	if basePath == "" {
		return name
	}
	return basePath + "." + name
}

// addIssue adds a new issue to the validator's list of issues.
func (v *Validator) addIssue(code, message, path string) {
	v.issues = append(v.issues, Issue{
		Code:     code,
		Message:  message,
		Path:     path,
		Severity: "error",
	})
}
