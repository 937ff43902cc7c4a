package dialect

import (
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// ColumnPredicate reports whether one attribute of a column differs between
// the desired spec and the live spec.
type ColumnPredicate struct {
	Name    string
	Changed func(d Dialect, desired, live *schema.ColumnSpec) bool
}

// Predicate names, in evaluation order.
const (
	PredicateType        = "type"
	PredicateLength      = "length"
	PredicateArray       = "array"
	PredicatePrecision   = "precision"
	PredicateScale       = "scale"
	PredicateComment     = "comment"
	PredicateDefault     = "default"
	PredicatePrimary     = "primary"
	PredicateNullable    = "nullable"
	PredicateUnique      = "unique"
	PredicateEnum        = "enum"
	PredicateSpatialType = "spatialFeatureType"
	PredicateSRID        = "srid"
)

var standardPredicates = []ColumnPredicate{
	{PredicateType, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return d.NormalizeType(desired) != d.NormalizeType(live)
	}},
	{PredicateLength, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return d.ColumnLength(desired) != d.ColumnLength(live)
	}},
	{PredicateArray, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Array != live.Array
	}},
	{PredicatePrecision, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Precision != nil && !intEqual(desired.Precision, live.Precision)
	}},
	{PredicateScale, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Scale != nil && !intEqual(desired.Scale, live.Scale)
	}},
	{PredicateComment, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Comment != live.Comment
	}},
	{PredicateDefault, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		if desired.IsGenerated() {
			return false
		}
		return LowerDefault(d.NormalizeDefault(desired)) != LowerDefault(LiveDefault(live))
	}},
	{PredicatePrimary, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Primary != live.Primary
	}},
	{PredicateNullable, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return desired.Nullable != live.Nullable
	}},
	{PredicateUnique, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return d.NormalizeIsUnique(desired) != d.NormalizeIsUnique(live)
	}},
	{PredicateEnum, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		if desired.EnumName != "" && desired.EnumName != live.EnumName {
			return true
		}
		missing, extra := lo.Difference(desired.Enum, live.Enum)
		return len(missing) > 0 || len(extra) > 0
	}},
	{PredicateSpatialType, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return !strings.EqualFold(desired.SpatialFeatureType, live.SpatialFeatureType)
	}},
	{PredicateSRID, func(d Dialect, desired, live *schema.ColumnSpec) bool {
		return lo.FromPtr(desired.SRID) != lo.FromPtr(live.SRID)
	}},
}

// StandardPredicates returns a copy of the full predicate list.
func StandardPredicates() []ColumnPredicate {
	return slices.Clone(standardPredicates)
}

// PredicatesWithout returns the standard predicates minus the named ones.
func PredicatesWithout(names ...string) []ColumnPredicate {
	return lo.Reject(standardPredicates, func(p ColumnPredicate, _ int) bool {
		return lo.Contains(names, p.Name)
	})
}

// ChangedAttributes evaluates every predicate of d and returns the names of
// those that fired.
func ChangedAttributes(d Dialect, desired, live *schema.ColumnSpec) []string {
	var changed []string
	for _, p := range d.ColumnPredicates() {
		if p.Changed(d, desired, live) {
			changed = append(changed, p.Name)
		}
	}
	return changed
}

// ColumnChanged reports whether any predicate of d fires.
func ColumnChanged(d Dialect, desired, live *schema.ColumnSpec) bool {
	for _, p := range d.ColumnPredicates() {
		if p.Changed(d, desired, live) {
			return true
		}
	}
	return false
}

func intEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
