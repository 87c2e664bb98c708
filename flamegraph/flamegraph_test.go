package flamegraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"honnef.co/go/tracedeck/engine/enginetest"
)

func TestAddSampleMergesPaths(t *testing.T) {
	var fg FlameGraph
	fg.AddSample([]string{"main", "run", "read"}, 5)
	fg.AddSample([]string{"main", "run", "write"}, 10)
	fg.AddSample([]string{"main", "run"}, 2)
	fg.AddSample([]string{"gc"}, 3)
	fg.AddSample(nil, 100)
	fg.Compute()

	require.Len(t, fg.Roots, 2)
	main := fg.Roots[0]
	assert.Equal(t, "main", main.Name)
	assert.Equal(t, int64(17), main.Total)
	assert.Equal(t, int64(0), main.Self)
	assert.Equal(t, int64(20), fg.Total())

	run := main.Children[0]
	assert.Equal(t, int64(2), run.Self)
	assert.Same(t, main, run.Parent)
	require.Len(t, run.Children, 2)
	assert.Equal(t, "write", run.Children[0].Name, "heaviest child first")
	assert.Equal(t, "read", run.Children[1].Name)

	var visited []string
	fg.Walk(func(f *Frame, depth int) {
		visited = append(visited, f.Name)
	})
	assert.Equal(t, []string{"main", "run", "write", "read", "gc"}, visited)
}

func TestBuild(t *testing.T) {
	eng := enginetest.Open(t)
	enginetest.MustExec(t, eng, `
CREATE TABLE fg(id INTEGER, parent_id INTEGER, name TEXT, self INTEGER);
INSERT INTO fg VALUES (1, NULL, 'frame', 4), (2, 1, 'draw', 6), (3, 1, 'draw', 1), (4, 99, 'orphan', 7), (5, 2, 'text', 2)
`)
	fg, err := Build(context.Background(), eng, "fg")
	require.NoError(t, err)

	require.Len(t, fg.Roots, 2)
	frame := fg.Roots[0]
	assert.Equal(t, "frame", frame.Name)
	assert.Equal(t, int64(13), frame.Total)
	assert.Equal(t, int64(4), frame.Self)
	require.Len(t, frame.Children, 1)
	draw := frame.Children[0]
	assert.Equal(t, int64(7), draw.Self)
	assert.Equal(t, int64(9), draw.Total)
	assert.Equal(t, "text", draw.Children[0].Name)

	assert.Equal(t, "orphan", fg.Roots[1].Name)
	assert.Equal(t, int64(7), fg.Roots[1].Total)
}

func TestBuildCycle(t *testing.T) {
	eng := enginetest.Open(t)
	enginetest.MustExec(t, eng, `
CREATE TABLE fg(id INTEGER, parent_id INTEGER, name TEXT, self INTEGER);
INSERT INTO fg VALUES (1, 2, 'a', 1), (2, 1, 'b', 1)
`)
	_, err := Build(context.Background(), eng, "fg")
	assert.Error(t, err)

	_, err = Build(context.Background(), eng, "fg; DROP TABLE slice")
	assert.Error(t, err)
}
