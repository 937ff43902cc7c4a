package diff

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// Options configures Compute.
type Options struct {
	Logger *zap.Logger
}

// DefaultOptions returns the default diff configuration.
func DefaultOptions() *Options {
	return &Options{Logger: zap.NewNop()}
}

// tablePlan is the per-table analysis done before any phase is planned.
type tablePlan struct {
	path       string
	desired    *schema.TableSpec
	created    bool
	renameFrom string
	renameTo   string
	// affected holds the live names of columns that are dropped or changed.
	affected map[string]bool
}

func (tp *tablePlan) toDesired(name string) string {
	if tp != nil && tp.renameFrom != "" && name == tp.renameFrom {
		return tp.renameTo
	}
	return name
}

func (tp *tablePlan) mapToDesired(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = tp.toDesired(n)
	}
	return out
}

func (tp *tablePlan) touches(names []string) bool {
	if tp == nil {
		return false
	}
	return lo.SomeBy(names, func(n string) bool { return tp.affected[n] })
}

type computer struct {
	d       dialect.Dialect
	caps    dialect.Capabilities
	desired *schema.Model
	working *schema.Model
	plans   []*tablePlan
	byPath  map[string]*tablePlan
	ops     []*Operation
	logger  *zap.Logger
}

// Compute returns the operations that turn the live snapshot into the
// desired model. Neither argument is modified: the snapshot is copied into
// a working model that records the effect of every planned operation, so
// later phases see the state left by earlier ones.
//
// Tables present only in the snapshot are never dropped. Tables that opt out
// of synchronization, views stored as tables and single-table inheritance
// children are left alone.
func Compute(desired, live *schema.Model, d dialect.Dialect, opts *Options) (*Plan, error) {
	if desired == nil {
		return nil, errors.New("diff: desired model is required")
	}
	if d == nil {
		return nil, errors.New("diff: dialect is required")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &computer{
		d:       d,
		caps:    d.Capabilities(),
		desired: desired,
		working: live.Clone(),
		byPath:  make(map[string]*tablePlan),
		logger:  logger,
	}
	c.analyze()

	if err := c.dropViews(); err != nil {
		return nil, err
	}
	c.dropForeignKeys()
	c.dropIndices()
	c.dropChecks()
	c.dropUniques()
	c.renameColumns()
	c.createTables()
	c.dropColumns()
	c.addColumns()
	c.updatePrimaryKeys()
	c.changeColumns()
	c.createIndices()
	c.createChecks()
	c.createUniques()
	c.createExclusions()
	c.createForeignKeys()
	if err := c.createViews(); err != nil {
		return nil, err
	}

	plan := &Plan{Operations: c.ops}
	plan.sort()
	logger.Debug("Computed schema diff", zap.Int("operations", len(plan.Operations)))
	return plan, nil
}

func (c *computer) emit(op *Operation) {
	c.logger.Debug("Planned operation", zap.Int("phase", int(op.Phase)), zap.Stringer("operation", op))
	c.ops = append(c.ops, op)
}

func (c *computer) live(tp *tablePlan) *schema.TableSpec {
	return c.working.FindTable(tp.path)
}

func (c *computer) analyze() {
	for _, t := range c.desired.Tables {
		if !t.IsSynchronized() || t.Kind == schema.TableKindView || t.Kind == schema.TableKindEntityChild {
			continue
		}
		tp := &tablePlan{path: t.Path(), desired: t, affected: make(map[string]bool)}
		c.plans = append(c.plans, tp)
		c.byPath[tp.path] = tp
	}
	slices.SortStableFunc(c.plans, func(a, b *tablePlan) int {
		switch {
		case a.path < b.path:
			return -1
		case a.path > b.path:
			return 1
		}
		return 0
	})

	for _, tp := range c.plans {
		live := c.live(tp)
		if live == nil {
			continue
		}
		tp.renameFrom, tp.renameTo = c.detectRename(tp.desired, live)
		for _, lc := range live.Columns {
			dc := tp.desired.FindColumn(tp.toDesired(lc.Name))
			if dc == nil || dialect.ColumnChanged(c.d, dc, lc) {
				tp.affected[lc.Name] = true
			}
		}
	}
}

// detectRename applies the single-column rename heuristic. It only fires
// when the column count is unchanged and exactly one column on each side has
// no structural match (name, type, nullability, uniqueness) on the other.
// The heuristic is best-effort: simultaneous rename and retype of several
// columns is planned as drops and adds.
func (c *computer) detectRename(desired, live *schema.TableSpec) (string, string) {
	if len(desired.Columns) != len(live.Columns) {
		return "", ""
	}
	match := func(a, b *schema.ColumnSpec) bool {
		return a.Name == b.Name &&
			c.d.NormalizeType(a) == c.d.NormalizeType(b) &&
			a.Nullable == b.Nullable &&
			c.d.NormalizeIsUnique(a) == c.d.NormalizeIsUnique(b)
	}
	unmatchedDesired := lo.Filter(desired.Columns, func(dc *schema.ColumnSpec, _ int) bool {
		return !lo.ContainsBy(live.Columns, func(lc *schema.ColumnSpec) bool { return match(dc, lc) })
	})
	unmatchedLive := lo.Filter(live.Columns, func(lc *schema.ColumnSpec, _ int) bool {
		return !lo.ContainsBy(desired.Columns, func(dc *schema.ColumnSpec) bool { return match(dc, lc) })
	})
	if len(unmatchedDesired) != 1 || len(unmatchedLive) != 1 {
		return "", ""
	}
	from, to := unmatchedLive[0].Name, unmatchedDesired[0].Name
	if from == to || live.FindColumn(to) != nil || desired.FindColumn(from) != nil {
		return "", ""
	}
	return from, to
}

func (c *computer) desiredView(name string) *schema.ViewSpec {
	for _, v := range c.desired.Views {
		if v.Name == name {
			return v
		}
	}
	return nil
}

func (c *computer) viewDependencies(v *schema.ViewSpec) []string {
	deps := slices.Clone(v.DependsOn)
	if dv := c.desiredView(v.Name); dv != nil {
		deps = append(deps, dv.DependsOn...)
	}
	return lo.Uniq(deps)
}

// Phase 1.
func (c *computer) dropViews() error {
	drop := make(map[string]bool)
	for _, lv := range c.working.Views {
		dv := c.desiredView(lv.Name)
		if dv != nil && !dv.IsSynchronized() {
			continue
		}
		if dv == nil || dialect.NormalizeViewExpression(dv.Expression) != dialect.NormalizeViewExpression(lv.Expression) {
			drop[lv.Name] = true
		}
	}
	for changed := true; changed; {
		changed = false
		for _, lv := range c.working.Views {
			if drop[lv.Name] {
				continue
			}
			if lo.SomeBy(c.viewDependencies(lv), func(dep string) bool { return drop[dep] }) {
				drop[lv.Name] = true
				changed = true
			}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	doomed := lo.Filter(c.working.Views, func(v *schema.ViewSpec, _ int) bool { return drop[v.Name] })
	ordered, err := orderViews(doomed, c.viewDependencies)
	if err != nil {
		return err
	}
	for i := len(ordered) - 1; i >= 0; i-- {
		c.emit(&Operation{Kind: KindDropView, Phase: PhaseDropViews, View: ordered[i].Clone()})
	}
	c.working.Views = lo.Reject(c.working.Views, func(v *schema.ViewSpec, _ int) bool { return drop[v.Name] })
	return nil
}

// Phase 2.
func (c *computer) dropForeignKeys() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if live == nil {
			continue
		}
		drops := lo.Filter(live.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool {
			return c.foreignKeyObsolete(tp, fk)
		})
		if len(drops) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindDropForeignKeys, Phase: PhaseDropForeignKeys, Table: live.Clone(), ForeignKeys: cloneForeignKeys(drops)})
		live.ForeignKeys = lo.Without(live.ForeignKeys, drops...)
	}
}

func (c *computer) foreignKeyObsolete(tp *tablePlan, fk *schema.ForeignKeySpec) bool {
	desired := tp.desired.FindForeignKey(fk.Name, fk.ReferencedTable)
	if desired == nil {
		return true
	}
	if desired.OnDelete.Normalize() != fk.OnDelete.Normalize() || desired.OnUpdate.Normalize() != fk.OnUpdate.Normalize() {
		return true
	}
	if !slices.Equal(desired.Columns, tp.mapToDesired(fk.Columns)) {
		return true
	}
	ref := c.byPath[fk.ReferencedTable]
	if !slices.Equal(desired.ReferencedColumns, ref.mapToDesired(fk.ReferencedColumns)) {
		return true
	}
	return tp.touches(fk.Columns) || ref.touches(fk.ReferencedColumns)
}

// Phase 3.
func (c *computer) dropIndices() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if live == nil {
			continue
		}
		drops := lo.Filter(live.Indices, func(idx *schema.IndexSpec, _ int) bool {
			di := tp.desired.FindIndex(idx.Name)
			if di != nil && !di.IsSynchronized() {
				return false
			}
			return di == nil || c.indexChanged(tp, di, idx) || tp.touches(idx.Columns)
		})
		if len(drops) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindDropIndices, Phase: PhaseDropIndices, Table: live.Clone(), Indices: cloneIndices(drops)})
		live.Indices = lo.Without(live.Indices, drops...)
	}
}

func (c *computer) indexChanged(tp *tablePlan, desired, live *schema.IndexSpec) bool {
	if desired.Unique != live.Unique || desired.Spatial != live.Spatial {
		return true
	}
	if c.caps.FulltextColumns && desired.Fulltext != live.Fulltext {
		return true
	}
	if dialect.NormalizeIndexPredicate(desired.Where) != dialect.NormalizeIndexPredicate(live.Where) {
		return true
	}
	return !slices.Equal(desired.Columns, tp.mapToDesired(live.Columns))
}

// Phase 4.
func (c *computer) dropChecks() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if live == nil {
			continue
		}
		if c.caps.CheckConstraints {
			drops := lo.Filter(live.Checks, func(chk *schema.CheckSpec, _ int) bool {
				return tp.desired.FindCheck(chk.Name) == nil
			})
			if len(drops) > 0 {
				c.emit(&Operation{Kind: KindDropChecks, Phase: PhaseDropChecks, Table: live.Clone(), Checks: cloneChecks(drops)})
				live.Checks = lo.Without(live.Checks, drops...)
			}
		}
		if c.caps.ExclusionConstraints {
			drops := lo.Filter(live.Exclusions, func(x *schema.ExclusionSpec, _ int) bool {
				return tp.desired.FindExclusion(x.Name) == nil
			})
			if len(drops) > 0 {
				c.emit(&Operation{Kind: KindDropExclusions, Phase: PhaseDropChecks, Table: live.Clone(), Exclusions: cloneExclusions(drops)})
				live.Exclusions = lo.Without(live.Exclusions, drops...)
			}
		}
	}
}

// Phase 5.
func (c *computer) dropUniques() {
	if !c.caps.UniqueConstraints {
		return
	}
	for _, tp := range c.plans {
		live := c.live(tp)
		if live == nil {
			continue
		}
		drops := lo.Filter(live.Uniques, func(u *schema.UniqueSpec, _ int) bool {
			du := tp.desired.FindUnique(u.Name)
			return du == nil || !slices.Equal(du.Columns, tp.mapToDesired(u.Columns)) || tp.touches(u.Columns)
		})
		if len(drops) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindDropUniques, Phase: PhaseDropUniques, Table: live.Clone(), Uniques: cloneUniques(drops)})
		live.Uniques = lo.Without(live.Uniques, drops...)
	}
}

// Phase 6.
func (c *computer) renameColumns() {
	for _, tp := range c.plans {
		if tp.renameFrom == "" {
			continue
		}
		live := c.live(tp)
		from := live.FindColumn(tp.renameFrom)
		to := from.Clone()
		to.Name = tp.renameTo
		c.emit(&Operation{Kind: KindRenameColumn, Phase: PhaseRenameColumns, Table: live.Clone(), Rename: &ColumnChange{From: from.Clone(), To: to}})
		c.applyRename(tp.path, live, tp.renameFrom, tp.renameTo)
	}
}

func (c *computer) applyRename(path string, live *schema.TableSpec, from, to string) {
	replace := func(names []string) {
		for i, n := range names {
			if n == from {
				names[i] = to
			}
		}
	}
	live.FindColumn(from).Name = to
	for _, idx := range live.Indices {
		replace(idx.Columns)
	}
	for _, u := range live.Uniques {
		replace(u.Columns)
	}
	for _, fk := range live.ForeignKeys {
		replace(fk.Columns)
	}
	for _, t := range c.working.Tables {
		for _, fk := range t.ForeignKeys {
			if fk.ReferencedTable == path {
				replace(fk.ReferencedColumns)
			}
		}
	}
	if tp := c.byPath[path]; tp != nil && tp.affected[from] {
		delete(tp.affected, from)
		tp.affected[to] = true
	}
}

// Phase 7. New tables are created with their indices and constraints, but
// without foreign keys, which are added once every table exists.
func (c *computer) createTables() {
	for _, tp := range c.plans {
		if c.live(tp) != nil {
			continue
		}
		t := tp.desired.Clone()
		t.ForeignKeys = nil
		t.Indices = lo.Filter(t.Indices, func(i *schema.IndexSpec, _ int) bool { return i.IsSynchronized() })
		if !c.caps.CheckConstraints {
			t.Checks = nil
		}
		if !c.caps.ExclusionConstraints {
			t.Exclusions = nil
		}
		if !c.caps.UniqueConstraints {
			t.Uniques = nil
		}
		c.emit(&Operation{Kind: KindCreateTable, Phase: PhaseCreateTables, Table: t})
		c.working.Tables = append(c.working.Tables, t.Clone())
		tp.created = true
	}
}

// Phase 8.
func (c *computer) dropColumns() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if tp.created || live == nil {
			continue
		}
		drops := lo.Filter(live.Columns, func(col *schema.ColumnSpec, _ int) bool {
			return tp.desired.FindColumn(col.Name) == nil
		})
		if len(drops) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindDropColumns, Phase: PhaseDropColumns, Table: live.Clone(), Columns: cloneColumns(drops)})

		names := lo.Map(drops, func(col *schema.ColumnSpec, _ int) string { return col.Name })
		covers := func(cols []string) bool { return lo.Some(cols, names) }
		live.Columns = lo.Without(live.Columns, drops...)
		live.Indices = lo.Reject(live.Indices, func(i *schema.IndexSpec, _ int) bool { return covers(i.Columns) })
		live.Uniques = lo.Reject(live.Uniques, func(u *schema.UniqueSpec, _ int) bool { return covers(u.Columns) })
		live.ForeignKeys = lo.Reject(live.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool { return covers(fk.Columns) })
	}
}

// Phase 9. A new primary column of a table that already has a primary key
// is added as a plain column; the key is rebuilt in phase 10.
func (c *computer) addColumns() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if tp.created || live == nil {
			continue
		}
		hasPrimary := len(live.PrimaryColumns()) > 0
		var adds []*schema.ColumnSpec
		for _, dc := range tp.desired.Columns {
			if live.FindColumn(dc.Name) != nil {
				continue
			}
			col := dc.Clone()
			if hasPrimary {
				col.Primary = false
			}
			adds = append(adds, col)
		}
		if len(adds) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindAddColumns, Phase: PhaseAddColumns, Table: live.Clone(), Columns: cloneColumns(adds)})
		live.Columns = append(live.Columns, adds...)
	}
}

// Phase 10. Only composite keys whose column count changed are rebuilt here;
// single-column key changes go through the column change path.
func (c *computer) updatePrimaryKeys() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if tp.created || live == nil {
			continue
		}
		desiredPK := tp.desired.PrimaryColumnNames()
		livePK := live.PrimaryColumnNames()
		if len(desiredPK) == len(livePK) || len(desiredPK) <= 1 {
			continue
		}
		c.emit(&Operation{
			Kind:           KindUpdatePrimaryKey,
			Phase:          PhaseUpdatePrimaryKeys,
			Table:          live.Clone(),
			PrimaryColumns: cloneColumns(tp.desired.PrimaryColumns()),
		})
		for _, col := range live.Columns {
			col.Primary = slices.Contains(desiredPK, col.Name)
		}
		live.PrimaryKey = tp.desired.PrimaryKey
	}
}

// Phase 11.
func (c *computer) changeColumns() {
	for _, tp := range c.plans {
		live := c.live(tp)
		if tp.created || live == nil {
			continue
		}
		var changes []ColumnChange
		for _, dc := range tp.desired.Columns {
			lc := live.FindColumn(dc.Name)
			if lc == nil {
				continue
			}
			attrs := dialect.ChangedAttributes(c.d, dc, lc)
			if len(attrs) == 0 {
				continue
			}
			c.logger.Debug("Column changed",
				zap.String("table", tp.path),
				zap.String("column", dc.Name),
				zap.Strings("attributes", attrs))
			changes = append(changes, ColumnChange{From: lc.Clone(), To: dc.Clone()})
		}
		if len(changes) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindChangeColumns, Phase: PhaseChangeColumns, Table: live.Clone(), Changes: changes})
		for _, ch := range changes {
			i := slices.IndexFunc(live.Columns, func(col *schema.ColumnSpec) bool { return col.Name == ch.To.Name })
			live.Columns[i] = ch.To.Clone()
		}
	}
}

// Phase 12.
func (c *computer) createIndices() {
	for _, tp := range c.plans {
		live := c.live(tp)
		creates := lo.Filter(tp.desired.Indices, func(i *schema.IndexSpec, _ int) bool {
			return i.IsSynchronized() && live.FindIndex(i.Name) == nil
		})
		if len(creates) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindCreateIndices, Phase: PhaseCreateIndices, Table: live.Clone(), Indices: cloneIndices(creates)})
		live.Indices = append(live.Indices, cloneIndices(creates)...)
	}
}

// Phase 13.
func (c *computer) createChecks() {
	if !c.caps.CheckConstraints {
		return
	}
	for _, tp := range c.plans {
		live := c.live(tp)
		creates := lo.Filter(tp.desired.Checks, func(chk *schema.CheckSpec, _ int) bool { return live.FindCheck(chk.Name) == nil })
		if len(creates) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindCreateChecks, Phase: PhaseCreateChecks, Table: live.Clone(), Checks: cloneChecks(creates)})
		live.Checks = append(live.Checks, cloneChecks(creates)...)
	}
}

// Phase 14.
func (c *computer) createUniques() {
	if !c.caps.UniqueConstraints {
		return
	}
	for _, tp := range c.plans {
		live := c.live(tp)
		creates := lo.Filter(tp.desired.Uniques, func(u *schema.UniqueSpec, _ int) bool { return live.FindUnique(u.Name) == nil })
		if len(creates) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindCreateUniques, Phase: PhaseCreateUniques, Table: live.Clone(), Uniques: cloneUniques(creates)})
		live.Uniques = append(live.Uniques, cloneUniques(creates)...)
	}
}

// Phase 15.
func (c *computer) createExclusions() {
	if !c.caps.ExclusionConstraints {
		return
	}
	for _, tp := range c.plans {
		live := c.live(tp)
		creates := lo.Filter(tp.desired.Exclusions, func(x *schema.ExclusionSpec, _ int) bool { return live.FindExclusion(x.Name) == nil })
		if len(creates) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindCreateExclusions, Phase: PhaseCreateExclusions, Table: live.Clone(), Exclusions: cloneExclusions(creates)})
		live.Exclusions = append(live.Exclusions, cloneExclusions(creates)...)
	}
}

// Phase 16.
func (c *computer) createForeignKeys() {
	for _, tp := range c.plans {
		live := c.live(tp)
		creates := lo.Filter(tp.desired.ForeignKeys, func(fk *schema.ForeignKeySpec, _ int) bool {
			return live.FindForeignKey(fk.Name, fk.ReferencedTable) == nil
		})
		if len(creates) == 0 {
			continue
		}
		c.emit(&Operation{Kind: KindCreateForeignKeys, Phase: PhaseCreateForeignKeys, Table: live.Clone(), ForeignKeys: cloneForeignKeys(creates)})
		live.ForeignKeys = append(live.ForeignKeys, cloneForeignKeys(creates)...)
	}
}

// Phase 17.
func (c *computer) createViews() error {
	creates := lo.Filter(c.desired.Views, func(v *schema.ViewSpec, _ int) bool {
		return v.IsSynchronized() && !lo.ContainsBy(c.working.Views, func(lv *schema.ViewSpec) bool { return lv.Name == v.Name })
	})
	ordered, err := orderViews(creates, func(v *schema.ViewSpec) []string { return v.DependsOn })
	if err != nil {
		return err
	}
	for _, v := range ordered {
		c.emit(&Operation{Kind: KindCreateView, Phase: PhaseCreateViews, View: v.Clone()})
		c.working.Views = append(c.working.Views, v.Clone())
	}
	return nil
}

// orderViews sorts views so that every view follows the views it depends on.
// Ties are broken by name.
func orderViews(views []*schema.ViewSpec, deps func(*schema.ViewSpec) []string) ([]*schema.ViewSpec, error) {
	byName := lo.KeyBy(views, func(v *schema.ViewSpec) string { return v.Name })
	names := lo.Keys(byName)
	slices.Sort(names)

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(names))
	ordered := make([]*schema.ViewSpec, 0, len(views))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("diff: view dependency cycle through %q", name)
		case done:
			return nil
		}
		state[name] = visiting
		ds := slices.Clone(deps(byName[name]))
		slices.Sort(ds)
		for _, dep := range ds {
			if _, ok := byName[dep]; ok {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[name] = done
		ordered = append(ordered, byName[name])
		return nil
	}
	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func cloneColumns(cols []*schema.ColumnSpec) []*schema.ColumnSpec {
	return lo.Map(cols, func(c *schema.ColumnSpec, _ int) *schema.ColumnSpec { return c.Clone() })
}

func cloneIndices(idx []*schema.IndexSpec) []*schema.IndexSpec {
	return lo.Map(idx, func(i *schema.IndexSpec, _ int) *schema.IndexSpec { return i.Clone() })
}

func cloneUniques(us []*schema.UniqueSpec) []*schema.UniqueSpec {
	return lo.Map(us, func(u *schema.UniqueSpec, _ int) *schema.UniqueSpec { return u.Clone() })
}

func cloneForeignKeys(fks []*schema.ForeignKeySpec) []*schema.ForeignKeySpec {
	return lo.Map(fks, func(fk *schema.ForeignKeySpec, _ int) *schema.ForeignKeySpec { return fk.Clone() })
}

func cloneChecks(cs []*schema.CheckSpec) []*schema.CheckSpec {
	return lo.Map(cs, func(c *schema.CheckSpec, _ int) *schema.CheckSpec { cc := *c; return &cc })
}

func cloneExclusions(xs []*schema.ExclusionSpec) []*schema.ExclusionSpec {
	return lo.Map(xs, func(x *schema.ExclusionSpec, _ int) *schema.ExclusionSpec { xx := *x; return &xx })
}
