package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/asaidimu/go-anansi-sync/core/config"
	"github.com/asaidimu/go-anansi-sync/core/persistence"
	"github.com/asaidimu/go-anansi-sync/core/schema"
)

const usersJSON = `[
	{
		"name": "User",
		"table": "users",
		"columns": [
			{"property": "id", "type": "integer", "primary": true, "generation": "increment"},
			{"property": "email", "type": "varchar", "length": "120", "unique": true},
			{"property": "nickname", "type": "varchar", "length": "40", "nullable": true}
		]
	}
]`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "app.db")
	out := &bytes.Buffer{}
	return &app{cfg: cfg, logger: zaptest.NewLogger(t), out: out}, out
}

func TestReadDeclarations(t *testing.T) {
	decls, err := readDeclarations(writeFile(t, "entities.json", usersJSON))
	require.NoError(t, err)
	require.Len(t, decls, 1)
	assert.Equal(t, "users", decls[0].Table)
	assert.Len(t, decls[0].Columns, 3)
	assert.Equal(t, schema.GenerationIncrement, decls[0].Columns[0].Generation)

	_, err = readDeclarations(writeFile(t, "broken.json", `{"name":`))
	assert.ErrorContains(t, err, "failed to parse declarations")

	_, err = readDeclarations(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestOpenProvider_UnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Driver = "oracle"
	_, err := openProvider(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "mysql, postgres, sqlite")
}

func TestCommands_SQLite(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)
	entities := writeFile(t, "entities.json", usersJSON)
	decls := Declarations{Entities: entities}

	require.NoError(t, (&LogCmd{Declarations: decls}).Run(ctx, a))
	assert.Contains(t, out.String(), "CREATE TABLE")
	assert.Contains(t, out.String(), `"users"`)
	out.Reset()

	require.NoError(t, (&SyncCmd{Declarations: decls}).Run(ctx, a))
	var result persistence.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, persistence.StateCommitted, result.State)
	assert.Positive(t, result.Executed)
	out.Reset()

	require.NoError(t, (&LogCmd{Declarations: decls}).Run(ctx, a))
	assert.Equal(t, "-- schema is up to date\n", out.String())
	out.Reset()

	require.NoError(t, (&SchemaCmd{Declarations: decls}).Run(ctx, a))
	var live schema.Model
	require.NoError(t, json.Unmarshal(out.Bytes(), &live))
	require.Len(t, live.Tables, 1)
	users := live.Tables[0]
	assert.Equal(t, "users", users.Name)
	require.NotNil(t, users.FindColumn("email"))
	assert.True(t, users.FindColumn("email").Unique)
	assert.True(t, users.FindColumn("nickname").Nullable)
}

func TestVersionCmd(t *testing.T) {
	a, out := newTestApp(t)
	require.NoError(t, (&VersionCmd{}).Run(a))
	assert.Contains(t, out.String(), "anansi-sync v"+version)
}
