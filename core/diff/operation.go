// Package diff compares the desired model with a live snapshot and produces
// the ordered list of DDL operations that reconciles them.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Phase is the position of an operation in the global execution order.
// Every operation of a phase runs before any operation of the next phase.
type Phase int

const (
	PhaseDropViews Phase = iota + 1
	PhaseDropForeignKeys
	PhaseDropIndices
	PhaseDropChecks // check and exclusion constraints
	PhaseDropUniques
	PhaseRenameColumns
	PhaseCreateTables
	PhaseDropColumns
	PhaseAddColumns
	PhaseUpdatePrimaryKeys
	PhaseChangeColumns
	PhaseCreateIndices
	PhaseCreateChecks
	PhaseCreateUniques
	PhaseCreateExclusions
	PhaseCreateForeignKeys
	PhaseCreateViews
)

var phaseNames = map[Phase]string{
	PhaseDropViews:         "drop views",
	PhaseDropForeignKeys:   "drop foreign keys",
	PhaseDropIndices:       "drop indices",
	PhaseDropChecks:        "drop checks",
	PhaseDropUniques:       "drop uniques",
	PhaseRenameColumns:     "rename columns",
	PhaseCreateTables:      "create tables",
	PhaseDropColumns:       "drop columns",
	PhaseAddColumns:        "add columns",
	PhaseUpdatePrimaryKeys: "update primary keys",
	PhaseChangeColumns:     "change columns",
	PhaseCreateIndices:     "create indices",
	PhaseCreateChecks:      "create checks",
	PhaseCreateUniques:     "create uniques",
	PhaseCreateExclusions:  "create exclusions",
	PhaseCreateForeignKeys: "create foreign keys",
	PhaseCreateViews:       "create views",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase %d", int(p))
}

// Kind tags the variant of an Operation.
type Kind string

const (
	KindCreateTable       Kind = "CreateTable"
	KindDropColumns       Kind = "DropColumns"
	KindAddColumns        Kind = "AddColumns"
	KindChangeColumns     Kind = "ChangeColumns"
	KindUpdatePrimaryKey  Kind = "UpdatePrimaryKey"
	KindCreateIndices     Kind = "CreateIndices"
	KindDropIndices       Kind = "DropIndices"
	KindCreateForeignKeys Kind = "CreateForeignKeys"
	KindDropForeignKeys   Kind = "DropForeignKeys"
	KindCreateChecks      Kind = "CreateChecks"
	KindDropChecks        Kind = "DropChecks"
	KindCreateUniques     Kind = "CreateUniques"
	KindDropUniques       Kind = "DropUniques"
	KindCreateExclusions  Kind = "CreateExclusions"
	KindDropExclusions    Kind = "DropExclusions"
	KindCreateView        Kind = "CreateView"
	KindDropView          Kind = "DropView"
	KindRenameColumn      Kind = "RenameColumn"
)

// ColumnChange pairs the current and the target state of a column.
type ColumnChange struct {
	From *schema.ColumnSpec `json:"from"`
	To   *schema.ColumnSpec `json:"to"`
}

// Operation is a single DDL step. Only the fields relevant to Kind are set.
// Table is the state of the table immediately before the operation runs
// (the target table for CreateTable); it is a copy and may be used freely.
type Operation struct {
	Kind           Kind                     `json:"kind"`
	Phase          Phase                    `json:"phase"`
	Table          *schema.TableSpec        `json:"table,omitempty"`
	Columns        []*schema.ColumnSpec     `json:"columns,omitempty"`
	Changes        []ColumnChange           `json:"changes,omitempty"`
	Rename         *ColumnChange            `json:"rename,omitempty"`
	PrimaryColumns []*schema.ColumnSpec     `json:"primaryColumns,omitempty"`
	Indices        []*schema.IndexSpec      `json:"indices,omitempty"`
	ForeignKeys    []*schema.ForeignKeySpec `json:"foreignKeys,omitempty"`
	Uniques        []*schema.UniqueSpec     `json:"uniques,omitempty"`
	Checks         []*schema.CheckSpec      `json:"checks,omitempty"`
	Exclusions     []*schema.ExclusionSpec  `json:"exclusions,omitempty"`
	View           *schema.ViewSpec         `json:"view,omitempty"`
}

// Target returns the path of the table or view the operation acts on.
func (o *Operation) Target() string {
	switch {
	case o.View != nil:
		return o.View.Path()
	case o.Table != nil:
		return o.Table.Path()
	}
	return ""
}

func (o *Operation) String() string {
	var names []string
	switch o.Kind {
	case KindDropColumns, KindAddColumns:
		for _, c := range o.Columns {
			names = append(names, c.Name)
		}
	case KindChangeColumns:
		for _, c := range o.Changes {
			names = append(names, c.To.Name)
		}
	case KindRenameColumn:
		names = append(names, o.Rename.From.Name+" -> "+o.Rename.To.Name)
	case KindUpdatePrimaryKey:
		for _, c := range o.PrimaryColumns {
			names = append(names, c.Name)
		}
	case KindCreateIndices, KindDropIndices:
		for _, i := range o.Indices {
			names = append(names, i.Name)
		}
	case KindCreateForeignKeys, KindDropForeignKeys:
		for _, fk := range o.ForeignKeys {
			names = append(names, fk.Name)
		}
	case KindCreateChecks, KindDropChecks:
		for _, c := range o.Checks {
			names = append(names, c.Name)
		}
	case KindCreateUniques, KindDropUniques:
		for _, u := range o.Uniques {
			names = append(names, u.Name)
		}
	case KindCreateExclusions, KindDropExclusions:
		for _, x := range o.Exclusions {
			names = append(names, x.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("%s %s", o.Kind, o.Target())
	}
	return fmt.Sprintf("%s %s(%s)", o.Kind, o.Target(), strings.Join(names, ", "))
}

// Plan is the ordered result of a diff.
type Plan struct {
	Operations []*Operation `json:"operations"`
}

// IsEmpty reports whether the live schema already matches.
func (p *Plan) IsEmpty() bool {
	return len(p.Operations) == 0
}

// Count returns how many operations of the given kind the plan holds.
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Step groups the operations of one phase.
type Step struct {
	Phase      Phase
	Operations []*Operation
}

// Steps groups the operations by phase, in execution order.
func (p *Plan) Steps() []Step {
	var steps []Step
	for _, op := range p.Operations {
		if len(steps) == 0 || steps[len(steps)-1].Phase != op.Phase {
			steps = append(steps, Step{Phase: op.Phase})
		}
		last := &steps[len(steps)-1]
		last.Operations = append(last.Operations, op)
	}
	return steps
}

func (p *Plan) String() string {
	lines := make([]string, 0, len(p.Operations))
	for _, op := range p.Operations {
		lines = append(lines, fmt.Sprintf("%2d %s", op.Phase, op))
	}
	return strings.Join(lines, "\n")
}

func (p *Plan) sort() {
	sort.SliceStable(p.Operations, func(i, j int) bool {
		return p.Operations[i].Phase < p.Operations[j].Phase
	})
}
