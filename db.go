package memgraph

import (
	"context"
	"sync"
	"time"

	"github.com/elliotcourant/timber"
	"golang.org/x/net/trace"

	"github.com/jbajic/memgraph/options"
	"github.com/jbajic/memgraph/pb"
	"github.com/jbajic/memgraph/z"
)

const (
	// closeTransactionGrace is how long Close waits for in-flight transactions before giving up
	// on them.
	closeTransactionGrace = 5 * time.Second
)

type (
	// DB is one graph storage instance: the transaction engine, the vertex and edge indexes,
	// the delta sink and the background garbage collector.
	DB struct {
		opts options.Options

		engine *Engine

		vertices *VertexIndex
		edges    *EdgeIndex

		vertexGenerator gidGenerator
		edgeGenerator   gidGenerator

		counters Counters
		mapper   IdMapper

		sink     DeltaSink
		deltaLog *DeltaLog

		directoryLockGuard *directoryLockGuard

		gcCloser   *z.Closer
		gcEventLog trace.EventLog

		metrics  *Metrics
		workerID WorkerID

		// closeOnce is used to make sure that the instance can only be closed once.
		closeOnce sync.Once
	}
)

// Open creates or reopens a storage instance described by the options.
func Open(opts options.Options) (*DB, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	db := &DB{
		opts:     opts,
		vertices: newVertexIndex(),
		edges:    newEdgeIndex(),
		counters: NewSingleNodeCounters(),
		mapper:   NewSingleNodeIdMapper(),
		metrics:  newMetrics(opts.MetricsRegisterer),
		workerID: WorkerID(opts.WorkerID),
	}
	db.engine = newEngine(opts, db.metrics)

	if opts.EventLogging {
		db.gcEventLog = trace.NewEventLog("GarbageCollector", "memgraph")
	} else {
		db.gcEventLog = z.NoEventLog
	}

	if !opts.InMemory {
		if err := createDirs(opts.Directory); err != nil {
			return nil, err
		}

		guard, err := acquireDirectoryLock(opts.Directory, lockFileName, opts.ReadOnly)
		if err != nil {
			return nil, err
		}
		db.directoryLockGuard = guard

		deltaLog, replayed, err := OpenDeltaLog(opts)
		if err != nil {
			_ = guard.release()
			return nil, err
		}
		db.deltaLog = deltaLog
		db.seedGenerators(replayed)

		timber.Infof("opened delta log with %d replayed deltas", len(replayed))
	}

	switch {
	case opts.DeltaSink != nil:
		db.sink = opts.DeltaSink
	case db.deltaLog != nil:
		db.sink = db.deltaLog
	default:
		db.sink = discardSink{}
	}

	if opts.GarbageCollectionInterval > 0 {
		db.gcCloser = z.NewCloser(1)
		go db.runGarbageCollector(db.gcCloser)
	}

	return db, nil
}

// seedGenerators fast-forwards the gid generators past every id seen in the replayed delta
// stream, keeping the promise that stable ids persist across restarts.
func (db *DB) seedGenerators(replayed []pb.Delta) {
	for i := range replayed {
		delta := &replayed[i]
		switch delta.RecordKind {
		case pb.RecordVertex:
			db.vertexGenerator.SetHighest(Gid(delta.Gid))
		case pb.RecordEdge:
			db.edgeGenerator.SetHighest(Gid(delta.Gid))
		}
		if delta.EdgeGid != 0 {
			db.edgeGenerator.SetHighest(Gid(delta.EdgeGid))
		}
	}
}

// Close shuts the instance down: the garbage collector is stopped, in-flight transactions get a
// grace period to finish, and the delta log and directory lock are released.
func (db *DB) Close() error {
	var closeError error
	db.closeOnce.Do(func() {
		if db.gcCloser != nil {
			db.gcCloser.SignalAndWait()
		}

		ctx, cancel := context.WithTimeout(context.Background(), closeTransactionGrace)
		defer cancel()
		if err := db.engine.WaitForFinished(ctx, db.engine.LastAssigned()); err != nil {
			timber.Warningf("closing with transactions still in flight: %v", err)
		}
		db.engine.stop()

		if db.deltaLog != nil {
			closeError = db.deltaLog.close()
		}
		if db.directoryLockGuard != nil {
			if err := db.directoryLockGuard.release(); closeError == nil {
				closeError = err
			}
		}
	})
	return closeError
}

// Engine exposes the transaction engine.
func (db *DB) Engine() *Engine {
	return db.engine
}

// Counters exposes the instance's counter service.
func (db *DB) Counters() Counters {
	return db.counters
}

// IdMapper exposes the instance's name interning service.
func (db *DB) IdMapper() IdMapper {
	return db.mapper
}

// Metrics exposes the instance's collectors.
func (db *DB) Metrics() *Metrics {
	return db.metrics
}

// WorkerID returns this instance's worker identity.
func (db *DB) WorkerID() WorkerID {
	return db.workerID
}

// VertexCount returns the number of vertex entries currently in the primary index, including
// entries whose versions are invisible to new transactions until the next sweep.
func (db *DB) VertexCount() int {
	return db.vertices.Len()
}

// EdgeCount returns the number of edge entries currently in the primary index.
func (db *DB) EdgeCount() int {
	return db.edges.Len()
}
