// Package options carries the tunables for opening a graph storage instance, and knows how to
// load them from a TOML file.
package options

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jbajic/memgraph/pb"
)

type (
	// DeltaSink receives one record of every logical state mutation performed through a record
	// accessor. A single sink sees deltas in per-transaction program order; the storage core
	// imposes no ordering across sinks.
	DeltaSink interface {
		Emit(delta pb.Delta) error
	}

	// Options are the tunables for a storage instance.
	Options struct {
		// Directory is where the delta log and the lock file live. Ignored when InMemory is set.
		Directory string

		// InMemory disables everything that would touch a disk.
		InMemory bool

		// ReadOnly opens the directory without taking an exclusive lock and refuses writes to
		// the delta log.
		ReadOnly bool

		// WorkerID identifies this node in a distributed deployment. Addresses minted by this
		// instance carry it.
		WorkerID uint16

		// GarbageCollectionInterval is how often the background sweep reclaims obsolete record
		// versions. Zero or negative disables the sweeper.
		GarbageCollectionInterval time.Duration

		// SyncWrites makes every delta log append wait for the disk.
		SyncWrites bool

		// EventLogging enables golang.org/x/net/trace event logs on the internal watermarks and
		// the garbage collector.
		EventLogging bool

		// DeltaSink overrides where accessors ship their deltas. When nil, an instance with a
		// directory writes them to the delta log and an in-memory instance discards them.
		DeltaSink DeltaSink

		// MetricsRegisterer receives this instance's Prometheus collectors. When nil a private
		// registry is used, which keeps side-by-side instances from colliding.
		MetricsRegisterer prometheus.Registerer
	}

	// fileOptions is the TOML shape of Options. Durations are strings so config files can say
	// "500ms" rather than nanosecond counts.
	fileOptions struct {
		Directory                 string `toml:"directory"`
		InMemory                  bool   `toml:"in_memory"`
		ReadOnly                  bool   `toml:"read_only"`
		WorkerID                  uint16 `toml:"worker_id"`
		GarbageCollectionInterval string `toml:"gc_interval"`
		SyncWrites                bool   `toml:"sync_writes"`
		EventLogging              bool   `toml:"event_logging"`
	}
)

// DefaultOptions returns the options every instance starts from.
func DefaultOptions(directory string) Options {
	return Options{
		Directory:                 directory,
		InMemory:                  directory == "",
		GarbageCollectionInterval: time.Second,
		SyncWrites:                true,
	}
}

// FromTOML loads options from a TOML file on top of the defaults.
func FromTOML(path string) (Options, error) {
	file := fileOptions{SyncWrites: DefaultOptions("").SyncWrites}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return Options{}, errors.Wrapf(err, "failed to load options from %q", path)
	}

	opts := DefaultOptions(file.Directory)
	opts.InMemory = file.InMemory || file.Directory == ""
	opts.ReadOnly = file.ReadOnly
	opts.WorkerID = file.WorkerID
	opts.SyncWrites = file.SyncWrites
	opts.EventLogging = file.EventLogging

	if file.GarbageCollectionInterval != "" {
		interval, err := time.ParseDuration(file.GarbageCollectionInterval)
		if err != nil {
			return Options{}, errors.Wrapf(err, "invalid gc_interval %q", file.GarbageCollectionInterval)
		}
		opts.GarbageCollectionInterval = interval
	}

	return opts, opts.Validate()
}

// Validate rejects option combinations the storage instance cannot honor.
func (o Options) Validate() error {
	if o.InMemory && o.Directory != "" {
		return errors.New("cannot combine an in-memory instance with a directory")
	}
	if !o.InMemory && o.Directory == "" {
		return errors.New("a durable instance requires a directory")
	}
	if o.ReadOnly && o.InMemory {
		return errors.New("an in-memory instance cannot be read-only")
	}
	return nil
}
