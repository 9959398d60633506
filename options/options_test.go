package options

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions("")
	require.True(t, opts.InMemory)
	require.NoError(t, opts.Validate())

	opts = DefaultOptions("/data/graph")
	require.False(t, opts.InMemory)
	require.Equal(t, "/data/graph", opts.Directory)
	require.NoError(t, opts.Validate())
}

func TestValidateRejectsContradictions(t *testing.T) {
	require.Error(t, Options{InMemory: true, Directory: "/data"}.Validate())
	require.Error(t, Options{}.Validate())
	require.Error(t, Options{InMemory: true, ReadOnly: true}.Validate())
}

func TestFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memgraph.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
directory = "/data/graph"
worker_id = 3
gc_interval = "250ms"
sync_writes = true
event_logging = true
`), 0600))

	opts, err := FromTOML(path)
	require.NoError(t, err)
	require.Equal(t, "/data/graph", opts.Directory)
	require.Equal(t, uint16(3), opts.WorkerID)
	require.Equal(t, 250*time.Millisecond, opts.GarbageCollectionInterval)
	require.True(t, opts.SyncWrites)
	require.True(t, opts.EventLogging)
	require.False(t, opts.InMemory)
}

func TestFromTOMLRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memgraph.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
directory = "/data/graph"
gc_interval = "soon"
`), 0600))

	_, err := FromTOML(path)
	require.Error(t, err)
}
