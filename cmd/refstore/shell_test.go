package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/refstore/pkg/refstore"
)

func TestShell(t *testing.T) {
	host := refstore.NewHost(1)
	defer host.CloseAll() //nolint:errcheck

	var out bytes.Buffer
	sh := newShell(host, &out, refstore.DefaultConfig())
	ctx := context.Background()

	steps := []struct {
		line string
		want string
	}{
		{"GET a", "Error: no database in use, run OPEN first\n"},
		{"OPEN", "database 1\n"},
		{"PUT a 1", "ok\n"},
		{"PUT b 2", "ok\n"},
		{"GET a", "1\n"},
		{"GET zz", "(not found)\n"},
		{"ITER", "iterator 2\n"},
		{"MOVE 2 first", "a: 1\n"},
		{"PREFETCH 2", ""},
		{"MOVE 2 next", "b: 2\n"},
		{"MOVE 2 next", "(end)\n"},
		{"MOVE 2 seek b", "b: 2\n"},
		{"MOVE 2 sideways", "Error: unknown action \"sideways\"\n"},
		{"ITER KEYSONLY", "iterator 3\n"},
		{"MOVE 3 last", "b\n"},
		{"DELETE a", "ok\n"},
		{"CLOSE 1", "ok\n"},
		{"MOVE 2 first", "Error: handle: resource closed\n"},
		{"CLOSE 2", "ok\n"},
		{"CLOSE 3", "ok\n"},
		{"PUT a 1", "Error: no database in use, run OPEN first\n"},
		{"USE 1", ""},
		{"PUT a 1", "Error: registry: resource not found: id 1\n"},
		{"FROB", "Unknown command: FROB\n"},
	}

	for _, step := range steps {
		out.Reset()
		require.False(t, sh.exec(ctx, step.line), step.line)
		assert.Equal(t, step.want, out.String(), step.line)
	}

	out.Reset()
	require.False(t, sh.exec(ctx, ".stats"))
	assert.Contains(t, out.String(), "refstore_handles_open{kind=database} 0")

	assert.True(t, sh.exec(ctx, ".exit"))
	assert.Zero(t, host.Len())
}
