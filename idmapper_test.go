package memgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbajic/memgraph/comm"
)

func TestSingleNodeIdMapperAssignsPerKind(t *testing.T) {
	mapper := NewSingleNodeIdMapper()

	labelID, err := mapper.ValueToID(IdKindLabel, "Person")
	require.NoError(t, err)
	edgeTypeID, err := mapper.ValueToID(IdKindEdgeType, "Person")
	require.NoError(t, err)

	// Each kind numbers its names independently, so the first name of each kind gets id 0.
	require.Equal(t, labelID, edgeTypeID)

	again, err := mapper.ValueToID(IdKindLabel, "Person")
	require.NoError(t, err)
	require.Equal(t, labelID, again)

	other, err := mapper.ValueToID(IdKindLabel, "Animal")
	require.NoError(t, err)
	require.NotEqual(t, labelID, other)

	name, err := mapper.IDToValue(IdKindLabel, labelID)
	require.NoError(t, err)
	require.Equal(t, "Person", name)

	_, err = mapper.IDToValue(IdKindLabel, 999)
	require.ErrorIs(t, err, ErrUnknownID)

	_, err = mapper.ValueToID(IdKind(9), "x")
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestMasterWorkerIdMapper(t *testing.T) {
	system := comm.NewSystem()
	defer system.Shutdown()

	master, err := NewMasterIdMapper(system)
	require.NoError(t, err)
	master.Start()
	defer master.Shutdown()

	worker, err := NewWorkerIdMapper(system, "worker-1")
	require.NoError(t, err)
	defer worker.Close()

	// The worker defers assignment to the master.
	id, err := worker.ValueToID(IdKindProperty, "age")
	require.NoError(t, err)

	masterID, err := master.ValueToID(IdKindProperty, "age")
	require.NoError(t, err)
	require.Equal(t, masterID, id)

	// Repeated lookups keep returning the same id, cached or not.
	for i := 0; i < 10; i++ {
		again, err := worker.ValueToID(IdKindProperty, "age")
		require.NoError(t, err)
		require.Equal(t, id, again)
	}

	name, err := worker.IDToValue(IdKindProperty, id)
	require.NoError(t, err)
	require.Equal(t, "age", name)

	// Errors cross the wire as errors.
	_, err = worker.IDToValue(IdKindProperty, 12345)
	require.Error(t, err)
}
