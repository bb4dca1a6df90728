package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-at-pretension-io/cforge/internal/corpus"
)

func record(kind, name string, tokens int) corpus.Record {
	return corpus.Record{Kind: kind, Name: name, Tokens: tokens, SrcFile: "a.c", Line: 1}
}

func TestDefaultPolicyMinTokens(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, Config{MinTokens: 10})
	require.NoError(t, err)

	small, err := e.Evaluate(ctx, record("function", "tiny", 4))
	require.NoError(t, err)
	assert.False(t, small.Admitted())
	assert.Equal(t, []string{"function tiny has 4 body tokens, fewer than 10"}, small.Reasons)

	big, err := e.Evaluate(ctx, record("function", "big", 40))
	require.NoError(t, err)
	assert.True(t, big.Admitted())

	global, err := e.Evaluate(ctx, record("global", "g", 4))
	require.NoError(t, err)
	assert.True(t, global.Admitted(), "the token floor only applies to functions")
}

func TestDeniedNames(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, Config{DeniedNames: []string{"main"}})
	require.NoError(t, err)

	admitted, denied, err := e.Admit(ctx, []corpus.Record{
		record("function", "main", 50),
		record("function", "helper", 50),
	})
	require.NoError(t, err)
	require.Len(t, admitted, 1)
	assert.Equal(t, "helper", admitted[0].Name)
	require.Len(t, denied, 1)
	assert.Contains(t, denied[0].Reasons[0], "denied name list")
}

func TestLoadCustomPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	custom := `package cforge.corpus

deny[msg] {
	input.record.kind == "global"
	msg := "no globals"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "custom.rego"), []byte(custom), 0o644))

	e, err := Load(ctx, Config{}, []string{dir})
	require.NoError(t, err)

	d, err := e.Evaluate(ctx, record("global", "g", 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"no globals"}, d.Reasons)

	d, err = e.Evaluate(ctx, record("function", "f", 0))
	require.NoError(t, err)
	assert.True(t, d.Admitted())
}

func TestLoadWithoutPolicyFiles(t *testing.T) {
	_, err := Load(context.Background(), Config{}, []string{t.TempDir()})
	assert.Error(t, err)
}
