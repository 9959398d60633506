package memgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbajic/memgraph/pb"
)

func TestAccessorSwitchOldNew(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("p")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(1))

	txn := db.Access()
	vertex, ok := txn.FindVertex(gid, true)
	require.True(t, ok)

	require.NoError(t, vertex.PropsSet(prop, IntValue(2)))

	// Writes switch the accessor to the new version.
	require.True(t, vertex.PropsAt(prop).Equal(IntValue(2)))

	vertex.SwitchOld()
	require.True(t, vertex.PropsAt(prop).Equal(IntValue(1)))

	vertex.SwitchNew()
	require.True(t, vertex.PropsAt(prop).Equal(IntValue(2)))

	require.NoError(t, txn.Commit())
}

func TestAccessorSwitchNewFindsForeignUpdate(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("p")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(1))

	txn := db.Access()

	// Two accessors for the same record within one transaction: an update through the first is
	// picked up by the second on SwitchNew.
	first, ok := txn.FindVertex(gid, true)
	require.True(t, ok)
	second, ok := txn.FindVertex(gid, true)
	require.True(t, ok)

	require.NoError(t, first.PropsSet(prop, IntValue(9)))
	require.True(t, second.PropsAt(prop).Equal(IntValue(1)))

	second.SwitchNew()
	require.True(t, second.PropsAt(prop).Equal(IntValue(9)))

	require.NoError(t, txn.Commit())
}

func TestAccessorReconstructAfterAdvance(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	prop, err := ga.Property("p")
	require.NoError(t, err)
	require.NoError(t, ga.Commit())

	gid := createVertexWith(t, db, prop, IntValue(1))

	txn := db.Access()
	vertex, ok := txn.FindVertex(gid, true)
	require.True(t, ok)
	require.NoError(t, vertex.PropsSet(prop, IntValue(5)))
	require.NoError(t, txn.Advance())

	require.True(t, vertex.Reconstruct())
	require.True(t, vertex.PropsAt(prop).Equal(IntValue(5)))
	require.NoError(t, txn.Commit())
}

func TestAccessorLabels(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	person, err := ga.Label("Person")
	require.NoError(t, err)
	admin, err := ga.Label("Admin")
	require.NoError(t, err)

	vertex, err := ga.CreateVertex()
	require.NoError(t, err)

	require.NoError(t, vertex.AddLabel(person))
	require.NoError(t, vertex.AddLabel(admin))
	require.NoError(t, vertex.AddLabel(person)) // duplicate is a no-op
	require.ElementsMatch(t, []LabelID{person, admin}, vertex.Labels())
	require.True(t, vertex.HasLabel(person))

	require.NoError(t, vertex.RemoveLabel(person))
	require.False(t, vertex.HasLabel(person))
	require.ElementsMatch(t, []LabelID{admin}, vertex.Labels())

	require.NoError(t, ga.Commit())

	// Names round-trip through the mapper.
	reader := db.Access()
	name, err := reader.LabelName(admin)
	require.NoError(t, err)
	require.Equal(t, "Admin", name)
	_, err = reader.LabelName(LabelID(99))
	require.ErrorIs(t, err, ErrUnknownID)
	require.NoError(t, reader.Commit())
}

func TestAccessorPropertiesSnapshot(t *testing.T) {
	db := testDB(t)

	ga := db.Access()
	a, err := ga.Property("a")
	require.NoError(t, err)
	b, err := ga.Property("b")
	require.NoError(t, err)

	vertex, err := ga.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, vertex.PropsSet(a, IntValue(1)))
	require.NoError(t, vertex.PropsSet(b, StringValue("x")))

	properties := vertex.Properties()
	require.Len(t, properties, 2)

	// The returned map is a copy; mutating it does not touch the record.
	properties[a] = IntValue(100)
	require.True(t, vertex.PropsAt(a).Equal(IntValue(1)))

	// An unset property reads as null.
	require.True(t, vertex.PropsAt(PropertyID(12345)).IsNull())

	require.NoError(t, ga.Commit())
}

func TestAccessorGlobalAddress(t *testing.T) {
	opts := testDBOptions()
	opts.WorkerID = 4

	db, err := Open(opts)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	ga := db.Access()
	vertex, err := ga.CreateVertex()
	require.NoError(t, err)

	global := vertex.GlobalAddress()
	require.False(t, global.IsLocal())
	require.Equal(t, WorkerID(4), global.Worker())
	require.Equal(t, vertex.Gid(), global.Gid())
	require.Equal(t, int64(vertex.Gid()), vertex.CypherID())

	wire := global.Wire(pb.RecordVertex)
	require.Equal(t, uint64(vertex.Gid()), wire.Gid)
	require.Equal(t, uint16(4), wire.Worker)

	require.NoError(t, ga.Commit())
}
