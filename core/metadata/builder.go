// Package metadata turns raw entity declarations into the desired schema
// model. Declarations are collected first and resolved in one deterministic
// pass; the resulting model is never mutated afterwards.
package metadata

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	// TablePrefix is prepended to every table, junction and closure table name.
	TablePrefix string
	// Naming derives identifiers not given explicitly. Defaults to DefaultNamingStrategy.
	Naming NamingStrategy
	// DefaultDiscriminator is the discriminator column of single-table hierarchies.
	DefaultDiscriminator string
}

// DefaultBuilderOptions returns the default builder configuration.
func DefaultBuilderOptions() *BuilderOptions {
	return &BuilderOptions{
		Naming:               DefaultNamingStrategy{},
		DefaultDiscriminator: "type",
	}
}

// Builder collects entity declarations and builds the desired model.
type Builder struct {
	dialect dialect.Dialect
	options *BuilderOptions
	logger  *zap.Logger
	decls   []EntityDeclaration
}

// NewBuilder creates a builder for the target dialect.
func NewBuilder(d dialect.Dialect, logger *zap.Logger, options *BuilderOptions) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultBuilderOptions()
	if options == nil {
		options = defaults
	}
	opts := *options
	if opts.Naming == nil {
		opts.Naming = defaults.Naming
	}
	if opts.DefaultDiscriminator == "" {
		opts.DefaultDiscriminator = defaults.DefaultDiscriminator
	}
	return &Builder{dialect: d, options: &opts, logger: logger}
}

// Add collects declarations. Nothing is resolved until Build.
func (b *Builder) Add(decls ...EntityDeclaration) *Builder {
	b.decls = append(b.decls, decls...)
	return b
}

// entity is the build state of one storage table.
type entity struct {
	decl     *EntityDeclaration
	members  []*EntityDeclaration
	children map[*EntityDeclaration]bool
	table    *schema.TableSpec
	baseName string
	props    map[string]string
}

type buildContext struct {
	b        *Builder
	naming   NamingStrategy
	decls    map[string]*EntityDeclaration
	entities map[string]*entity
	order    []*entity
	extra    []*schema.TableSpec
	children []*EntityDeclaration
}

// Build resolves every declaration and returns the validated model.
func (b *Builder) Build() (*schema.Model, error) {
	c := &buildContext{
		b:        b,
		naming:   b.options.Naming,
		decls:    make(map[string]*EntityDeclaration, len(b.decls)),
		entities: make(map[string]*entity),
	}

	for i := range b.decls {
		d := &b.decls[i]
		if d.Name == "" {
			return nil, &ResolutionError{Reason: "entity declaration has no name"}
		}
		if _, dup := c.decls[d.Name]; dup {
			return nil, &ResolutionError{Entity: d.Name, Reason: "entity is declared more than once"}
		}
		c.decls[d.Name] = d
	}
	names := lo.Keys(c.decls)
	slices.Sort(names)

	model := &schema.Model{}

	for _, name := range names {
		d := c.decls[name]
		if d.View != "" || d.Abstract {
			continue
		}
		chain, err := c.ancestry(d)
		if err != nil {
			return nil, err
		}
		if root := singleTableRoot(chain, d); root != nil && root != d {
			continue
		}
		c.entityTable(d, chain)
	}

	if err := c.mergeChildren(names); err != nil {
		return nil, err
	}

	var junctions []func() error
	for _, e := range c.order {
		for _, m := range e.members {
			for i := range m.Relations {
				rel := &m.Relations[i]
				if !rel.owning() {
					continue
				}
				switch rel.Kind {
				case RelationManyToOne, RelationOneToOne:
					if err := c.joinColumns(e, rel, e.children[m]); err != nil {
						return nil, err
					}
				case RelationManyToMany:
					owner := e
					junctions = append(junctions, func() error { return c.junction(owner, rel) })
				}
			}
		}
	}
	for _, fn := range junctions {
		if err := fn(); err != nil {
			return nil, err
		}
	}

	for _, e := range c.order {
		for _, m := range e.members {
			if m.Tree != nil && m.Tree.Type == TreeClosureTable {
				if err := c.closure(e, m.Tree); err != nil {
					return nil, err
				}
			}
		}
		if err := c.constraints(e); err != nil {
			return nil, err
		}
	}

	for _, e := range c.order {
		model.Tables = append(model.Tables, e.table)
	}
	model.Tables = append(model.Tables, c.extra...)
	for _, t := range model.Tables {
		c.finalize(t)
		b.logger.Debug("Built table",
			zap.String("table", t.Path()),
			zap.String("kind", string(t.Kind)),
			zap.Int("columns", len(t.Columns)))
	}

	for _, d := range c.children {
		child := c.entities[d.Name].table.Clone()
		child.Kind = schema.TableKindEntityChild
		model.Tables = append(model.Tables, child)
	}

	for _, name := range names {
		if d := c.decls[name]; d.View != "" {
			model.Views = append(model.Views, c.view(d))
		}
	}

	if err := Validate(model, b.dialect); err != nil {
		return nil, fmt.Errorf("invalid metadata model: %w", err)
	}

	b.logger.Info("Built metadata model",
		zap.Int("tables", len(model.Tables)),
		zap.Int("views", len(model.Views)))
	return model, nil
}

// ancestry returns the Extends chain of d, root first.
func (c *buildContext) ancestry(d *EntityDeclaration) ([]*EntityDeclaration, error) {
	var chain []*EntityDeclaration
	seen := map[string]bool{d.Name: true}
	for cur := d; cur.Extends != ""; {
		parent, ok := c.decls[cur.Extends]
		if !ok {
			return nil, &ResolutionError{Entity: cur.Name, Reason: fmt.Sprintf("extends unknown entity %q", cur.Extends)}
		}
		if seen[parent.Name] {
			return nil, &ResolutionError{Entity: d.Name, Reason: "inheritance cycle"}
		}
		seen[parent.Name] = true
		chain = append([]*EntityDeclaration{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// singleTableRoot returns the entity whose table stores d, if d belongs to a
// single-table hierarchy.
func singleTableRoot(chain []*EntityDeclaration, d *EntityDeclaration) *EntityDeclaration {
	for _, candidate := range append(slices.Clone(chain), d) {
		if !candidate.Abstract && candidate.Inheritance == InheritanceSingleTable {
			return candidate
		}
	}
	return nil
}

func (c *buildContext) tableName(raw string) string {
	return c.ident(c.b.options.TablePrefix + raw)
}

func (c *buildContext) ident(name string) string {
	return TruncateIdentifier(name, c.b.dialect.Capabilities().MaxIdentifierLength)
}

func (c *buildContext) entityTable(d *EntityDeclaration, chain []*EntityDeclaration) {
	base := c.naming.TableName(d.Name, d.Table)
	e := &entity{
		decl:     d,
		children: make(map[*EntityDeclaration]bool),
		baseName: base,
		props:    make(map[string]string),
		table: &schema.TableSpec{
			Name:         c.tableName(base),
			Schema:       d.Schema,
			Database:     d.Database,
			Kind:         schema.TableKindRegular,
			Engine:       d.Engine,
			WithoutRowid: d.WithoutRowid,
		},
	}
	if d.Synchronize != nil {
		e.table.Synchronize = schema.Bool(*d.Synchronize)
	}

	for _, m := range append(slices.Clone(chain), d) {
		c.addMember(e, m, false)
	}

	if d.Inheritance == InheritanceSingleTable {
		discriminator := c.ident(c.naming.ColumnName(nameOr(d.DiscriminatorColumn, c.b.options.DefaultDiscriminator), ""))
		if e.table.FindColumn(discriminator) == nil {
			e.table.Columns = append(e.table.Columns, &schema.ColumnSpec{Name: discriminator, Type: "varchar", Length: "255"})
		}
		e.props[discriminator] = discriminator
	}

	c.entities[d.Name] = e
	c.order = append(c.order, e)
}

// mergeChildren folds single-table children into the table of their root.
func (c *buildContext) mergeChildren(names []string) error {
	for _, name := range names {
		d := c.decls[name]
		if d.View != "" || d.Abstract {
			continue
		}
		chain, err := c.ancestry(d)
		if err != nil {
			return err
		}
		root := singleTableRoot(chain, d)
		if root == nil || root == d {
			continue
		}
		e := c.entities[root.Name]
		rootSeen := false
		for _, m := range chain {
			if m == root {
				rootSeen = true
				continue
			}
			if rootSeen && m.Abstract && !slices.Contains(e.members, m) {
				c.addMember(e, m, true)
				e.children[m] = true
			}
		}
		c.addMember(e, d, true)
		e.children[d] = true
		c.entities[d.Name] = e
		c.children = append(c.children, d)
	}
	return nil
}

func (c *buildContext) addMember(e *entity, m *EntityDeclaration, forceNullable bool) {
	e.members = append(e.members, m)
	for _, cd := range m.Columns {
		col := c.column(e.table.Name, cd, forceNullable)
		if existing := slices.IndexFunc(e.table.Columns, func(x *schema.ColumnSpec) bool { return x.Name == col.Name }); existing >= 0 {
			e.table.Columns[existing] = col
		} else {
			e.table.Columns = append(e.table.Columns, col)
		}
		e.props[cd.Property] = col.Name
		e.props[col.Name] = col.Name
	}
}

func (c *buildContext) column(table string, cd ColumnDeclaration, forceNullable bool) *schema.ColumnSpec {
	col := &schema.ColumnSpec{
		Name:               c.ident(c.naming.ColumnName(cd.Property, cd.Name)),
		Type:               cd.Type,
		Length:             cd.Length,
		Precision:          cloneInt(cd.Precision),
		Scale:              cloneInt(cd.Scale),
		Nullable:           cd.Nullable || (forceNullable && !cd.Primary),
		Unique:             cd.Unique,
		Primary:            cd.Primary,
		Array:              cd.Array,
		Default:            cd.Default,
		Generation:         cd.Generation,
		Enum:               slices.Clone(cd.Enum),
		EnumName:           cd.EnumName,
		SpatialFeatureType: cd.SpatialFeatureType,
		SRID:               cloneInt(cd.SRID),
		Comment:            cd.Comment,
	}
	if cd.DefaultExpression != "" {
		col.Default = schema.Expression(cd.DefaultExpression)
	}
	if col.Type == "" {
		switch {
		case col.Generation == schema.GenerationUUID:
			col.Type = "uuid"
		case col.Generation == schema.GenerationIncrement, col.Generation == schema.GenerationRowID:
			col.Type = "integer"
		case len(col.Enum) > 0:
			col.Type = "enum"
		default:
			col.Type = "varchar"
		}
	}
	if len(col.Enum) > 0 && col.EnumName == "" && c.b.dialect.Capabilities().Enums {
		col.EnumName = c.ident(table + "_" + col.Name + "_enum")
	}
	return col
}

func (c *buildContext) target(e *entity, rel *RelationDeclaration) (*entity, error) {
	target, ok := c.entities[rel.Target]
	if !ok {
		return nil, &ResolutionError{
			Entity: e.decl.Name,
			Reason: fmt.Sprintf("relation %q targets unknown entity %q", rel.Property, rel.Target),
		}
	}
	return target, nil
}

// references resolves the referenced columns of a join declaration, falling
// back to the primary columns of the referenced table.
func (c *buildContext) references(owner, target *entity, joins []JoinColumnDeclaration) ([]JoinColumnDeclaration, []*schema.ColumnSpec, error) {
	if len(joins) == 0 {
		for _, pk := range target.table.PrimaryColumns() {
			joins = append(joins, JoinColumnDeclaration{ReferencedColumn: pk.Name})
		}
	}
	if len(joins) == 0 {
		return nil, nil, &ResolutionError{Entity: owner.decl.Name, Table: target.table.Name, Reason: "referenced table has no primary column"}
	}

	refs := make([]*schema.ColumnSpec, 0, len(joins))
	for i, jc := range joins {
		refName := jc.ReferencedColumn
		if refName == "" {
			pks := target.table.PrimaryColumns()
			if len(pks) != 1 {
				return nil, nil, &ResolutionError{Entity: owner.decl.Name, Table: target.table.Name, Column: jc.Name, Reason: "join column must name its referenced column"}
			}
			refName = pks[0].Name
		}
		resolved, ok := target.props[refName]
		if !ok {
			return nil, nil, &ResolutionError{Entity: owner.decl.Name, Table: target.table.Name, Column: refName, Reason: "referenced column does not exist"}
		}
		ref := target.table.FindColumn(resolved)
		if ref == nil {
			return nil, nil, &ResolutionError{Entity: owner.decl.Name, Table: target.table.Name, Column: refName, Reason: "referenced column does not exist"}
		}
		joins[i].ReferencedColumn = ref.Name
		refs = append(refs, ref)
	}
	return joins, refs, nil
}

// referencingColumn copies the storage attributes of ref for a column that
// points at it.
func referencingColumn(name string, ref *schema.ColumnSpec, nullable, primary bool) *schema.ColumnSpec {
	return &schema.ColumnSpec{
		Name:      name,
		Type:      ref.Type,
		Length:    ref.Length,
		Precision: cloneInt(ref.Precision),
		Scale:     cloneInt(ref.Scale),
		Enum:      slices.Clone(ref.Enum),
		EnumName:  ref.EnumName,
		Nullable:  nullable && !primary,
		Primary:   primary,
	}
}

func (c *buildContext) joinColumns(e *entity, rel *RelationDeclaration, forceNullable bool) error {
	target, err := c.target(e, rel)
	if err != nil {
		return err
	}
	joins, refs, err := c.references(e, target, slices.Clone(rel.JoinColumns))
	if err != nil {
		return err
	}

	nullable := true
	if rel.Nullable != nil {
		nullable = *rel.Nullable
	}
	nullable = nullable || forceNullable

	columns := make([]string, 0, len(joins))
	referenced := make([]string, 0, len(joins))
	for i, jc := range joins {
		ref := refs[i]
		name := c.ident(nameOr(jc.Name, c.naming.JoinColumnName(rel.Property, ref.Name)))
		if existing := e.table.FindColumn(name); existing != nil {
			existing.Primary = existing.Primary || rel.Primary
		} else {
			e.table.Columns = append(e.table.Columns, referencingColumn(name, ref, nullable, rel.Primary))
		}
		e.props[name] = name
		columns = append(columns, name)
		referenced = append(referenced, ref.Name)
	}
	if len(columns) == 1 {
		e.props[rel.Property] = columns[0]
	}

	e.table.ForeignKeys = append(e.table.ForeignKeys, &schema.ForeignKeySpec{
		Name:              c.ident(c.naming.ForeignKeyName(e.table.Name, columns, target.table.Path(), referenced)),
		Columns:           columns,
		ReferencedTable:   target.table.Path(),
		ReferencedColumns: referenced,
		OnDelete:          rel.OnDelete.Normalize(),
		OnUpdate:          rel.OnUpdate.Normalize(),
	})
	if rel.Kind == RelationOneToOne {
		e.table.Uniques = append(e.table.Uniques, &schema.UniqueSpec{
			Name:    c.ident(c.naming.RelationConstraintName(e.table.Name, columns)),
			Columns: slices.Clone(columns),
		})
	}
	return nil
}

func actionOr(a schema.ReferentialAction, fallback schema.ReferentialAction) schema.ReferentialAction {
	if a == "" {
		return fallback
	}
	return a.Normalize()
}

func (c *buildContext) junction(owner *entity, rel *RelationDeclaration) error {
	target, err := c.target(owner, rel)
	if err != nil {
		return err
	}
	jt := rel.JoinTable
	if jt == nil {
		jt = &JoinTableDeclaration{}
	}
	ownerJoins, ownerRefs, err := c.references(owner, owner, slices.Clone(jt.JoinColumns))
	if err != nil {
		return err
	}
	inverseJoins, inverseRefs, err := c.references(owner, target, slices.Clone(jt.InverseJoinColumns))
	if err != nil {
		return err
	}

	ownerNames := make([]string, len(ownerJoins))
	for i, jc := range ownerJoins {
		ownerNames[i] = nameOr(jc.Name, c.naming.JoinTableColumnName(owner.baseName, ownerRefs[i].Name))
	}
	inverseNames := make([]string, len(inverseJoins))
	for i, jc := range inverseJoins {
		inverseNames[i] = nameOr(jc.Name, c.naming.JoinTableColumnName(target.baseName, inverseRefs[i].Name))
	}
	for i, name := range ownerNames {
		if j := slices.Index(inverseNames, name); j >= 0 {
			ownerNames[i] = name + "_1"
			inverseNames[j] = name + "_2"
		}
	}

	table := &schema.TableSpec{
		Name:     c.tableName(nameOr(jt.Name, c.naming.JoinTableName(owner.baseName, rel.Property, target.baseName))),
		Schema:   owner.table.Schema,
		Database: owner.table.Database,
		Kind:     schema.TableKindJunction,
	}
	for i := range ownerNames {
		ownerNames[i] = c.ident(ownerNames[i])
		table.Columns = append(table.Columns, referencingColumn(ownerNames[i], ownerRefs[i], false, true))
	}
	for i := range inverseNames {
		inverseNames[i] = c.ident(inverseNames[i])
		table.Columns = append(table.Columns, referencingColumn(inverseNames[i], inverseRefs[i], false, true))
	}

	c.link(table, ownerNames, owner.table, lo.Map(ownerRefs, columnName), actionOr(rel.OnDelete, schema.ActionCascade), actionOr(rel.OnUpdate, schema.ActionCascade))
	c.link(table, inverseNames, target.table, lo.Map(inverseRefs, columnName), schema.ActionCascade, schema.ActionCascade)
	c.extra = append(c.extra, table)
	return nil
}

// link adds a foreign key and a covering index from table to referenced.
func (c *buildContext) link(table *schema.TableSpec, columns []string, referenced *schema.TableSpec, refColumns []string, onDelete, onUpdate schema.ReferentialAction) {
	table.ForeignKeys = append(table.ForeignKeys, &schema.ForeignKeySpec{
		Name:              c.ident(c.naming.ForeignKeyName(table.Name, columns, referenced.Path(), refColumns)),
		Columns:           slices.Clone(columns),
		ReferencedTable:   referenced.Path(),
		ReferencedColumns: refColumns,
		OnDelete:          onDelete,
		OnUpdate:          onUpdate,
	})
	table.Indices = append(table.Indices, &schema.IndexSpec{
		Name:    c.ident(c.naming.IndexName(table.Name, columns, "")),
		Columns: slices.Clone(columns),
	})
}

func columnName(col *schema.ColumnSpec, _ int) string {
	return col.Name
}

func (c *buildContext) closure(e *entity, tree *TreeDeclaration) error {
	pks := e.table.PrimaryColumns()
	if len(pks) == 0 {
		return &ResolutionError{Entity: e.decl.Name, Table: e.table.Name, Reason: "closure table requires a primary column"}
	}

	table := &schema.TableSpec{
		Name:     c.tableName(c.naming.ClosureTableName(e.baseName)),
		Schema:   e.table.Schema,
		Database: e.table.Database,
		Kind:     schema.TableKindClosureJunction,
	}
	referenced := lo.Map(pks, columnName)
	var ancestors, descendants []string
	for _, pk := range pks {
		name := c.ident(c.naming.ClosureColumnName(pk.Name, "ancestor"))
		ancestors = append(ancestors, name)
		table.Columns = append(table.Columns, referencingColumn(name, pk, false, true))
	}
	for _, pk := range pks {
		name := c.ident(c.naming.ClosureColumnName(pk.Name, "descendant"))
		descendants = append(descendants, name)
		table.Columns = append(table.Columns, referencingColumn(name, pk, false, true))
	}
	if tree.LevelColumn != "" {
		table.Columns = append(table.Columns, &schema.ColumnSpec{Name: c.ident(tree.LevelColumn), Type: "integer", Default: 1})
	}

	c.link(table, ancestors, e.table, referenced, schema.ActionCascade, schema.ActionNoAction)
	c.link(table, descendants, e.table, referenced, schema.ActionCascade, schema.ActionNoAction)
	c.extra = append(c.extra, table)
	return nil
}

func (c *buildContext) resolveColumns(e *entity, props []string) ([]string, error) {
	out := make([]string, 0, len(props))
	for _, p := range props {
		name, ok := e.props[p]
		if !ok {
			return nil, &ResolutionError{Entity: e.decl.Name, Table: e.table.Name, Column: p, Reason: "column does not exist"}
		}
		out = append(out, name)
	}
	return out, nil
}

// constraints resolves the declared indices and constraints of an entity.
func (c *buildContext) constraints(e *entity) error {
	t := e.table
	for _, m := range e.members {
		for _, idx := range m.Indices {
			cols, err := c.resolveColumns(e, idx.Columns)
			if err != nil {
				return err
			}
			spec := &schema.IndexSpec{
				Name:     c.ident(nameOr(idx.Name, c.naming.IndexName(t.Name, cols, idx.Where))),
				Columns:  cols,
				Unique:   idx.Unique,
				Spatial:  idx.Spatial,
				Fulltext: idx.Fulltext,
				Where:    idx.Where,
			}
			if idx.Synchronize != nil {
				spec.Synchronize = schema.Bool(*idx.Synchronize)
			}
			t.Indices = append(t.Indices, spec)
		}
		for _, uq := range m.Uniques {
			cols, err := c.resolveColumns(e, uq.Columns)
			if err != nil {
				return err
			}
			t.Uniques = append(t.Uniques, &schema.UniqueSpec{
				Name:    c.ident(nameOr(uq.Name, c.naming.UniqueName(t.Name, cols))),
				Columns: cols,
			})
		}
		for _, chk := range m.Checks {
			t.Checks = append(t.Checks, &schema.CheckSpec{
				Name:       c.ident(nameOr(chk.Name, c.naming.CheckName(t.Name, chk.Expression))),
				Expression: chk.Expression,
			})
		}
		for _, xcl := range m.Exclusions {
			t.Exclusions = append(t.Exclusions, &schema.ExclusionSpec{
				Name:       c.ident(nameOr(xcl.Name, c.naming.ExclusionName(t.Name, xcl.Expression))),
				Expression: xcl.Expression,
			})
		}
	}
	return nil
}

// finalize moves single-column uniques onto their column, maps composite
// uniques to unique indices where the dialect has no unique constraints and
// names the primary key.
func (c *buildContext) finalize(t *schema.TableSpec) {
	var composite []*schema.UniqueSpec
	for _, u := range t.Uniques {
		if len(u.Columns) == 1 {
			if col := t.FindColumn(u.Columns[0]); col != nil {
				col.Unique = true
				continue
			}
		}
		composite = append(composite, u)
	}
	t.Uniques = composite

	if !c.b.dialect.Capabilities().UniqueConstraints {
		for _, u := range t.Uniques {
			t.Indices = append(t.Indices, &schema.IndexSpec{Name: u.Name, Columns: u.Columns, Unique: true})
		}
		t.Uniques = nil
	}

	if pks := t.PrimaryColumnNames(); len(pks) > 0 {
		t.PrimaryKey = c.ident(c.naming.PrimaryKeyName(t.Name, pks))
	}
}

func (c *buildContext) view(d *EntityDeclaration) *schema.ViewSpec {
	v := &schema.ViewSpec{
		Name:       c.tableName(c.naming.TableName(d.Name, d.Table)),
		Schema:     d.Schema,
		Database:   d.Database,
		Expression: d.View,
	}
	for _, dep := range d.DependsOn {
		if other, ok := c.decls[dep]; ok && other.View != "" {
			dep = c.tableName(c.naming.TableName(other.Name, other.Table))
		}
		v.DependsOn = append(v.DependsOn, dep)
	}
	if d.Synchronize != nil {
		v.Synchronize = schema.Bool(*d.Synchronize)
	}
	return v
}

// nameOr returns the explicit name when one was declared.
func nameOr(explicit, derived string) string {
	if explicit != "" {
		return explicit
	}
	return derived
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	return schema.Int(*p)
}
