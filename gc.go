package memgraph

import (
	"time"

	"github.com/elliotcourant/timber"

	"github.com/jbajic/memgraph/z"
)

// runGarbageCollector sweeps the indexes on the configured interval until the instance closes.
func (db *DB) runGarbageCollector(closer *z.Closer) {
	defer closer.Done()

	ticker := time.NewTicker(db.opts.GarbageCollectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closer.HasBeenClosed():
			return
		case <-ticker.C:
			db.CollectGarbage()
		}
	}
}

// CollectGarbage runs one sweep over both indexes, reclaiming every record version no active
// transaction can observe anymore and dropping dead lists from the indexes. It returns the
// number of versions cut loose.
func (db *DB) CollectGarbage() int {
	started := time.Now()

	// Everything strictly below this id is finished and outside every active snapshot.
	low := db.engine.GcLow()

	var vertexCollected, edgeCollected int

	// The two indexes are independent; sweep them in parallel.
	throttle := z.NewThrottle(2)

	z.Check(throttle.Do())
	go func() {
		vertexCollected = sweepIndex(db.vertices, low, db.engine)
		throttle.Done(nil)
	}()

	z.Check(throttle.Do())
	go func() {
		edgeCollected = sweepIndex(db.edges, low, db.engine)
		throttle.Done(nil)
	}()

	z.Check(throttle.Finish())

	collected := vertexCollected + edgeCollected

	db.metrics.GcRuns.Inc()
	db.metrics.GcCollectedVersions.Add(float64(collected))
	db.metrics.VertexCount.Set(float64(db.vertices.Len()))
	db.metrics.EdgeCount.Set(float64(db.edges.Len()))

	db.gcEventLog.Printf("sweep below %d reclaimed %d versions in %s", low, collected, time.Since(started))
	if collected > 0 {
		timber.Debugf("gc: reclaimed %d record versions below transaction %d", collected, low)
	}

	return collected
}

// sweepIndex walks one index, sweeps each version list and erases the lists that died.
func sweepIndex[T any, R recordPointer[T]](
	index *SkipList[T, R],
	low TransactionID,
	engine *Engine,
) int {
	collected := 0

	var dead []Gid
	index.Iterate(func(gid Gid, list *VersionList[T, R]) bool {
		versions, listDead := list.gcSweep(low, engine)
		collected += versions
		if listDead {
			dead = append(dead, gid)
		}
		return true
	})

	for _, gid := range dead {
		index.Erase(gid)
	}

	return collected
}
