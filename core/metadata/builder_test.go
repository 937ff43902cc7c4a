package metadata

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-anansi-sync/core/dialect"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

func testDialect(mod func(*dialect.Capabilities)) dialect.Dialect {
	caps := dialect.Capabilities{CheckConstraints: true, UniqueConstraints: true, MaxIdentifierLength: 63}
	if mod != nil {
		mod(&caps)
	}
	return &dialect.Base{DialectName: "test", Caps: caps, TrueLiteral: "true", FalseLiteral: "false"}
}

func idColumn() ColumnDeclaration {
	return ColumnDeclaration{Property: "id", Primary: true, Generation: schema.GenerationIncrement}
}

func userEntity() EntityDeclaration {
	return EntityDeclaration{
		Name: "User",
		Columns: []ColumnDeclaration{
			idColumn(),
			{Property: "emailAddress", Type: "varchar", Length: "100", Unique: true},
		},
	}
}

func build(t *testing.T, d dialect.Dialect, opts *BuilderOptions, decls ...EntityDeclaration) *schema.Model {
	t.Helper()
	model, err := NewBuilder(d, nil, opts).Add(decls...).Build()
	require.NoError(t, err)
	return model
}

func TestBuilder_Naming(t *testing.T) {
	model := build(t, testDialect(nil), nil, EntityDeclaration{
		Name:    "UserProfile",
		Columns: []ColumnDeclaration{idColumn(), {Property: "firstName", Type: "varchar"}, {Property: "nick", Name: "nickname"}},
	})

	table := model.FindTable("user_profile")
	require.NotNil(t, table)
	assert.Equal(t, schema.TableKindRegular, table.Kind)
	assert.Equal(t, []string{"id", "first_name", "nickname"}, []string{table.Columns[0].Name, table.Columns[1].Name, table.Columns[2].Name})
	assert.Equal(t, "integer", table.Columns[0].Type, "increment columns default to integer")
	assert.Equal(t, "varchar", table.Columns[2].Type)
	assert.Regexp(t, `^PK_[0-9a-f]{16}$`, table.PrimaryKey)
}

func TestBuilder_TablePrefix(t *testing.T) {
	model := build(t, testDialect(nil), &BuilderOptions{TablePrefix: "app_"}, userEntity(), EntityDeclaration{
		Name:      "Post",
		Columns:   []ColumnDeclaration{idColumn()},
		Relations: []RelationDeclaration{{Property: "author", Kind: RelationManyToOne, Target: "User"}},
	})

	post := model.FindTable("app_post")
	require.NotNil(t, post)
	require.Len(t, post.ForeignKeys, 1)
	assert.Equal(t, "app_user", post.ForeignKeys[0].ReferencedTable)
}

func TestBuilder_ManyToOne(t *testing.T) {
	model := build(t, testDialect(nil), nil, userEntity(), EntityDeclaration{
		Name:    "Post",
		Columns: []ColumnDeclaration{idColumn()},
		Relations: []RelationDeclaration{
			{Property: "author", Kind: RelationManyToOne, Target: "User", OnDelete: "cascade"},
		},
	})

	post := model.FindTable("post")
	require.NotNil(t, post)
	col := post.FindColumn("author_id")
	require.NotNil(t, col)
	assert.Equal(t, "integer", col.Type)
	assert.True(t, col.Nullable)
	assert.False(t, col.IsGenerated(), "generation is not copied to join columns")

	require.Len(t, post.ForeignKeys, 1)
	fk := post.ForeignKeys[0]
	assert.Equal(t, []string{"author_id"}, fk.Columns)
	assert.Equal(t, "user", fk.ReferencedTable)
	assert.Equal(t, []string{"id"}, fk.ReferencedColumns)
	assert.Equal(t, schema.ActionCascade, fk.OnDelete)
	assert.Equal(t, schema.ActionNoAction, fk.OnUpdate)
	assert.Regexp(t, `^FK_[0-9a-f]{16}$`, fk.Name)
}

func TestBuilder_OneToOne(t *testing.T) {
	model := build(t, testDialect(nil), nil, userEntity(), EntityDeclaration{
		Name:    "Profile",
		Columns: []ColumnDeclaration{idColumn()},
		Relations: []RelationDeclaration{
			{Property: "user", Kind: RelationOneToOne, Target: "User", Owner: true, Nullable: schema.Bool(false)},
		},
	})

	profile := model.FindTable("profile")
	col := profile.FindColumn("user_id")
	require.NotNil(t, col)
	assert.True(t, col.Unique, "single-column relation uniqueness lives on the column")
	assert.False(t, col.Nullable)
	assert.Empty(t, profile.Uniques)
}

func TestBuilder_ManyToMany(t *testing.T) {
	model := build(t, testDialect(nil), nil,
		EntityDeclaration{Name: "Category", Columns: []ColumnDeclaration{idColumn()}},
		EntityDeclaration{
			Name:      "Post",
			Columns:   []ColumnDeclaration{idColumn()},
			Relations: []RelationDeclaration{{Property: "categories", Kind: RelationManyToMany, Target: "Category", Owner: true}},
		},
	)

	junction := model.FindTable("post_categories_category")
	require.NotNil(t, junction)
	assert.Equal(t, schema.TableKindJunction, junction.Kind)
	assert.Equal(t, []string{"post_id", "category_id"}, junction.PrimaryColumnNames())
	require.Len(t, junction.ForeignKeys, 2)
	assert.Equal(t, "post", junction.ForeignKeys[0].ReferencedTable)
	assert.Equal(t, "category", junction.ForeignKeys[1].ReferencedTable)
	for _, fk := range junction.ForeignKeys {
		assert.Equal(t, schema.ActionCascade, fk.OnDelete)
	}
	require.Len(t, junction.Indices, 2)
	assert.Equal(t, []string{"post_id"}, junction.Indices[0].Columns)
	assert.Equal(t, []string{"category_id"}, junction.Indices[1].Columns)
}

func TestBuilder_SelfReferencingManyToMany(t *testing.T) {
	user := userEntity()
	user.Relations = []RelationDeclaration{{Property: "friends", Kind: RelationManyToMany, Target: "User", Owner: true}}
	model := build(t, testDialect(nil), nil, user)

	junction := model.FindTable("user_friends_user")
	require.NotNil(t, junction)
	assert.Equal(t, []string{"user_id_1", "user_id_2"}, junction.PrimaryColumnNames())
}

func TestBuilder_ClosureTable(t *testing.T) {
	model := build(t, testDialect(nil), nil, EntityDeclaration{
		Name:    "Category",
		Columns: []ColumnDeclaration{idColumn(), {Property: "name"}},
		Tree:    &TreeDeclaration{Type: TreeClosureTable, LevelColumn: "level"},
	})

	closure := model.FindTable("category_closure")
	require.NotNil(t, closure)
	assert.Equal(t, schema.TableKindClosureJunction, closure.Kind)
	assert.Equal(t, []string{"id_ancestor", "id_descendant"}, closure.PrimaryColumnNames())
	assert.NotNil(t, closure.FindColumn("level"))
	require.Len(t, closure.ForeignKeys, 2)
	assert.Equal(t, schema.ActionCascade, closure.ForeignKeys[0].OnDelete)
	assert.Len(t, closure.Indices, 2)
}

func TestBuilder_SingleTableInheritance(t *testing.T) {
	model := build(t, testDialect(nil), nil,
		EntityDeclaration{
			Name:        "Content",
			Inheritance: InheritanceSingleTable,
			Columns:     []ColumnDeclaration{idColumn(), {Property: "title"}},
		},
		EntityDeclaration{
			Name:    "Photo",
			Extends: "Content",
			Columns: []ColumnDeclaration{{Property: "size", Type: "integer"}},
			Indices: []IndexDeclaration{{Columns: []string{"size"}}},
		},
	)

	root := model.FindTable("content")
	require.NotNil(t, root)
	assert.Equal(t, schema.TableKindRegular, root.Kind)
	discriminator := root.FindColumn("type")
	require.NotNil(t, discriminator)
	assert.False(t, discriminator.Nullable)
	size := root.FindColumn("size")
	require.NotNil(t, size)
	assert.True(t, size.Nullable, "child columns are nullable in the shared table")
	assert.Len(t, root.Indices, 1)
	assert.Nil(t, model.FindTable("photo"))

	var children []*schema.TableSpec
	for _, tbl := range model.Tables {
		if tbl.Kind == schema.TableKindEntityChild {
			children = append(children, tbl)
		}
	}
	require.Len(t, children, 1)
	assert.Equal(t, "content", children[0].Name)
}

func TestBuilder_TablePerClass(t *testing.T) {
	model := build(t, testDialect(nil), nil,
		EntityDeclaration{
			Name:     "Base",
			Abstract: true,
			Columns:  []ColumnDeclaration{idColumn(), {Property: "createdAt", Type: "timestamp", DefaultExpression: "now()"}},
		},
		EntityDeclaration{Name: "Person", Extends: "Base", Columns: []ColumnDeclaration{{Property: "name"}}},
	)

	assert.Nil(t, model.FindTable("base"))
	person := model.FindTable("person")
	require.NotNil(t, person)
	assert.Equal(t, []string{"id"}, person.PrimaryColumnNames())
	created := person.FindColumn("created_at")
	require.NotNil(t, created)
	fn, ok := created.Default.(schema.DefaultFunc)
	require.True(t, ok)
	assert.Equal(t, "now()", fn())
	assert.NotNil(t, person.FindColumn("name"))
}

func TestBuilder_Constraints(t *testing.T) {
	decl := EntityDeclaration{
		Name:    "Account",
		Columns: []ColumnDeclaration{idColumn(), {Property: "tenant"}, {Property: "email"}, {Property: "balance", Type: "integer"}},
		Indices: []IndexDeclaration{{Columns: []string{"tenant", "email"}}},
		Uniques: []UniqueDeclaration{{Columns: []string{"tenant", "email"}}, {Columns: []string{"email"}}},
		Checks:  []ExpressionDeclaration{{Expression: "balance >= 0"}},
	}

	t.Run("unique constraints", func(t *testing.T) {
		account := build(t, testDialect(nil), nil, decl).FindTable("account")
		require.Len(t, account.Uniques, 1)
		assert.Equal(t, []string{"tenant", "email"}, account.Uniques[0].Columns)
		assert.True(t, account.FindColumn("email").Unique)
		require.Len(t, account.Indices, 1)
		require.Len(t, account.Checks, 1)
		assert.Regexp(t, `^CHK_`, account.Checks[0].Name)
	})

	t.Run("composite uniques become unique indices", func(t *testing.T) {
		d := testDialect(func(c *dialect.Capabilities) { c.UniqueConstraints = false })
		account := build(t, d, nil, decl).FindTable("account")
		assert.Empty(t, account.Uniques)
		require.Len(t, account.Indices, 2)
		assert.True(t, account.Indices[1].Unique)
	})

	t.Run("checks unsupported", func(t *testing.T) {
		d := testDialect(func(c *dialect.Capabilities) { c.CheckConstraints = false })
		_, err := NewBuilder(d, nil, nil).Add(decl).Build()
		require.Error(t, err)
		var capErr *dialect.CapabilityError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, "check constraints", capErr.Feature)
	})
}

func TestBuilder_EnumNames(t *testing.T) {
	decl := EntityDeclaration{
		Name:    "Ticket",
		Columns: []ColumnDeclaration{idColumn(), {Property: "status", Enum: []string{"open", "closed"}}},
	}

	withEnums := build(t, testDialect(func(c *dialect.Capabilities) { c.Enums = true }), nil, decl)
	status := withEnums.FindTable("ticket").FindColumn("status")
	assert.Equal(t, "enum", status.Type)
	assert.Equal(t, "ticket_status_enum", status.EnumName)

	without := build(t, testDialect(nil), nil, decl)
	assert.Empty(t, without.FindTable("ticket").FindColumn("status").EnumName)
}

func TestBuilder_Views(t *testing.T) {
	model := build(t, testDialect(nil), nil, userEntity(),
		EntityDeclaration{Name: "ActiveUser", View: "SELECT * FROM user"},
		EntityDeclaration{Name: "ActiveUserCount", View: "SELECT count(*) FROM active_user", DependsOn: []string{"ActiveUser"}},
	)

	require.Len(t, model.Views, 2)
	assert.Equal(t, "active_user", model.Views[0].Name)
	assert.Equal(t, []string{"active_user"}, model.Views[1].DependsOn)
	assert.Len(t, model.Tables, 1)
}

func TestBuilder_Truncation(t *testing.T) {
	d := testDialect(func(c *dialect.Capabilities) { c.MaxIdentifierLength = 30 })
	model := build(t, d, nil,
		EntityDeclaration{Name: "OrganizationMembershipInvitation", Columns: []ColumnDeclaration{idColumn()}},
	)

	require.Len(t, model.Tables, 1)
	name := model.Tables[0].Name
	assert.Len(t, name, 30)
	assert.True(t, strings.HasPrefix(name, "organization_"))
	assert.Equal(t, name, TruncateIdentifier("organization_membership_invitation", 30))
}

func TestTruncateIdentifier(t *testing.T) {
	assert.Equal(t, "short", TruncateIdentifier("short", 10))
	assert.Equal(t, "anything_long", TruncateIdentifier("anything_long", 0))
	long := strings.Repeat("x", 80)
	truncated := TruncateIdentifier(long, 63)
	assert.Len(t, truncated, 63)
	assert.NotEqual(t, truncated, TruncateIdentifier(strings.Repeat("x", 81), 63))
}

func TestBuilder_ResolutionErrors(t *testing.T) {
	tests := []struct {
		name  string
		decls []EntityDeclaration
	}{
		{
			name:  "missing primary column",
			decls: []EntityDeclaration{{Name: "Log", Columns: []ColumnDeclaration{{Property: "message"}}}},
		},
		{
			name: "unknown referenced column",
			decls: []EntityDeclaration{userEntity(), {
				Name:    "Post",
				Columns: []ColumnDeclaration{idColumn()},
				Relations: []RelationDeclaration{{
					Property: "author", Kind: RelationManyToOne, Target: "User",
					JoinColumns: []JoinColumnDeclaration{{Name: "author_uuid", ReferencedColumn: "uuid"}},
				}},
			}},
		},
		{
			name: "unknown target",
			decls: []EntityDeclaration{{
				Name:      "Post",
				Columns:   []ColumnDeclaration{idColumn()},
				Relations: []RelationDeclaration{{Property: "author", Kind: RelationManyToOne, Target: "Ghost"}},
			}},
		},
		{
			name:  "unknown index column",
			decls: []EntityDeclaration{{Name: "Tag", Columns: []ColumnDeclaration{idColumn()}, Indices: []IndexDeclaration{{Columns: []string{"label"}}}}},
		},
		{
			name: "duplicate entity",
			decls: []EntityDeclaration{userEntity(), userEntity()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(testDialect(nil), nil, nil).Add(tt.decls...).Build()
			require.Error(t, err)
			var resErr *ResolutionError
			assert.True(t, errors.As(err, &resErr), "expected a resolution error, got %v", err)
		})
	}
}

func TestBuilder_Deterministic(t *testing.T) {
	decls := []EntityDeclaration{
		userEntity(),
		{Name: "Post", Columns: []ColumnDeclaration{idColumn()}, Relations: []RelationDeclaration{{Property: "author", Kind: RelationManyToOne, Target: "User"}}},
	}
	a := build(t, testDialect(nil), nil, decls...)
	b := build(t, testDialect(nil), nil, decls[1], decls[0])
	assert.Equal(t, a.String(), b.String())
}
