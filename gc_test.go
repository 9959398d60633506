package memgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGcKeepsVersionsForLongRunningTransaction(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("n")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(0))

	longRunning := db.Access()

	for i := 1; i <= 1000; i++ {
		writer := db.Access()
		vertex, ok := writer.FindVertex(gid, true)
		require.True(t, ok)
		require.NoError(t, vertex.PropsSet(prop, IntValue(int64(i))))
		require.NoError(t, writer.Commit())
	}

	list := db.vertices.Find(gid)
	require.NotNil(t, list)
	require.Equal(t, 1001, chainLength(list))

	// Nothing may be reclaimed while the long running transaction could still look.
	require.Zero(t, db.CollectGarbage())
	require.Equal(t, 1001, chainLength(list))

	vertex, ok := longRunning.FindVertex(gid, true)
	require.True(t, ok)
	require.True(t, vertex.PropsAt(prop).Equal(IntValue(0)))
	require.NoError(t, longRunning.Commit())

	// With the transaction gone the chain collapses to a single tip.
	require.Equal(t, 1000, db.CollectGarbage())
	require.Equal(t, 1, chainLength(list))

	reader := db.Access()
	latest, ok := reader.FindVertex(gid, true)
	require.True(t, ok)
	require.True(t, latest.PropsAt(prop).Equal(IntValue(1000)))
	require.NoError(t, reader.Commit())
}

func TestGcDropsDeletedRecordsFromIndex(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("p")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(1))
	require.Equal(t, 1, db.VertexCount())

	remover := db.Access()
	vertex, ok := remover.FindVertex(gid, true)
	require.True(t, ok)
	require.NoError(t, remover.RemoveVertex(vertex))
	require.NoError(t, remover.Commit())

	require.Positive(t, db.CollectGarbage())
	require.Zero(t, db.VertexCount())
	require.Nil(t, db.vertices.Find(gid))

	// The gid is gone for good; fresh vertices mint higher gids.
	ga = db.Access()
	fresh, err := ga.CreateVertex()
	require.NoError(t, err)
	require.Greater(t, fresh.Gid(), gid)
	require.NoError(t, ga.Commit())
}

func TestGcReclaimsAbortedDebris(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("p")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(1))
	list := db.vertices.Find(gid)
	require.NotNil(t, list)

	aborted := db.Access()
	vertex, ok := aborted.FindVertex(gid, true)
	require.True(t, ok)
	require.NoError(t, vertex.PropsSet(prop, IntValue(2)))
	require.NoError(t, aborted.Abort())
	require.Equal(t, 2, chainLength(list))

	require.Positive(t, db.CollectGarbage())
	require.Equal(t, 1, chainLength(list))

	reader := db.Access()
	found, ok := reader.FindVertex(gid, true)
	require.True(t, ok)
	require.True(t, found.PropsAt(prop).Equal(IntValue(1)))
	require.NoError(t, reader.Commit())
}

func TestGcWholeGraph(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	typ, err := ga.EdgeType("REL")
	require.NoError(t, err)
	from, err := ga.CreateVertex()
	require.NoError(t, err)
	to, err := ga.CreateVertex()
	require.NoError(t, err)
	_, err = ga.CreateEdge(from, to, typ)
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	remover := db.Access()
	vertex, ok := remover.FindVertex(from.Gid(), true)
	require.True(t, ok)
	require.NoError(t, remover.DetachRemoveVertex(vertex))
	other, ok := remover.FindVertex(to.Gid(), true)
	require.True(t, ok)
	require.NoError(t, remover.RemoveVertex(other))
	require.NoError(t, remover.Commit())

	require.Positive(t, db.CollectGarbage())
	require.Zero(t, db.VertexCount())
	require.Zero(t, db.EdgeCount())
}
