package z

import (
	"container/heap"
	"context"
	"sync/atomic"

	"golang.org/x/net/trace"
)

type (
	// WaterMark keeps track of indices that have begun and finished processing, and publishes
	// the highest index below which every index is finished. Transactions use one to answer
	// "have all transactions up to X completed?" without holding any engine lock.
	WaterMark struct {
		doneUntil   uint64
		lastIndex   uint64
		Name        string
		markChannel chan mark
		eventLog    trace.EventLog
	}

	// mark contains one or more indices, along with a done boolean to indicate the status of the
	// index: begin or done. It also contains waiters, who could be waiting for the watermark to
	// reach >= a certain index.
	mark struct {
		// Either this is an (index, waiter) pair or (index, done) or (indices, done).
		index   uint64
		waiter  chan struct{}
		indices []uint64

		// Done will be true once the last index is finished.
		done bool
	}

	// indexHeap is a min-heap over pending indices so the process loop can advance doneUntil in
	// order.
	indexHeap []uint64
)

func (h indexHeap) Len() int            { return len(h) }
func (h indexHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *indexHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Init must be called before any marks are published. It spawns the process goroutine which
// owns all of the watermark's bookkeeping.
func (w *WaterMark) Init(closer *Closer, eventLogging bool) {
	w.markChannel = make(chan mark, 100)
	if eventLogging {
		w.eventLog = trace.NewEventLog("WaterMark", w.Name)
	} else {
		w.eventLog = NoEventLog
	}
	go w.process(closer)
}

// Begin marks the index as started.
func (w *WaterMark) Begin(index uint64) {
	atomic.StoreUint64(&w.lastIndex, index)
	w.markChannel <- mark{index: index, done: false}
}

// BeginMany marks a batch of indices as started.
func (w *WaterMark) BeginMany(indices []uint64) {
	atomic.StoreUint64(&w.lastIndex, indices[len(indices)-1])
	w.markChannel <- mark{indices: indices, done: false}
}

// Done marks the index as finished.
func (w *WaterMark) Done(index uint64) {
	w.markChannel <- mark{index: index, done: true}
}

// DoneMany marks a batch of indices as finished.
func (w *WaterMark) DoneMany(indices []uint64) {
	w.markChannel <- mark{indices: indices, done: true}
}

// DoneUntil returns the highest index below which every index has finished.
func (w *WaterMark) DoneUntil() uint64 {
	return atomic.LoadUint64(&w.doneUntil)
}

// SetDoneUntil force-publishes the done watermark. Only safe before any marks are in flight.
func (w *WaterMark) SetDoneUntil(index uint64) {
	atomic.StoreUint64(&w.doneUntil, index)
}

// LastIndex returns the last index for which Begin has been called.
func (w *WaterMark) LastIndex() uint64 {
	return atomic.LoadUint64(&w.lastIndex)
}

// WaitForMark blocks until DoneUntil reaches at least index, or until the context is cancelled.
func (w *WaterMark) WaitForMark(ctx context.Context, index uint64) error {
	if w.DoneUntil() >= index {
		return nil
	}
	waitChannel := make(chan struct{})
	w.markChannel <- mark{index: index, waiter: waitChannel}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitChannel:
		return nil
	}
}

// process is the single owner of the watermark state. It tracks pending counts per index in a
// min-heap and notifies waiters as the done watermark advances.
func (w *WaterMark) process(closer *Closer) {
	defer closer.Done()

	var indices indexHeap

	// pending maps an index to the number of Begins that have not yet seen a matching Done.
	pending := make(map[uint64]int)
	waiters := make(map[uint64][]chan struct{})

	heap.Init(&indices)

	processOne := func(index uint64, done bool) {
		previous, present := pending[index]
		if !present {
			heap.Push(&indices, index)
		}

		delta := 1
		if done {
			delta = -1
		}
		pending[index] = previous + delta

		// Update mark by going through all indices in order; and checking if they have been done.
		// Stop at the first index, which isn't done.
		doneUntil := w.DoneUntil()
		AssertTrue(doneUntil <= index)

		until := doneUntil
		for len(indices) > 0 {
			min := indices[0]
			if count := pending[min]; count > 0 {
				break // len(indices) will be > 0.
			}

			// An index is present in pending with a zero count, meaning it has been fully
			// processed and the watermark may move past it.
			heap.Pop(&indices)
			delete(pending, min)
			until = min
		}

		if until != doneUntil {
			AssertTrue(atomic.CompareAndSwapUint64(&w.doneUntil, doneUntil, until))
			w.eventLog.Printf("%s: done until %d", w.Name, until)
		}

		// Wake everyone waiting on an index we have now moved past.
		if until-doneUntil <= uint64(len(waiters)) {
			for idx := doneUntil + 1; idx <= until; idx++ {
				notifyAndRemove(waiters, idx)
			}
			return
		}

		for idx := range waiters {
			if idx <= until {
				notifyAndRemove(waiters, idx)
			}
		}
	}

	for {
		select {
		case <-closer.HasBeenClosed():
			return
		case received := <-w.markChannel:
			if received.waiter != nil {
				doneUntil := atomic.LoadUint64(&w.doneUntil)
				if doneUntil >= received.index {
					close(received.waiter)
				} else {
					waiters[received.index] = append(waiters[received.index], received.waiter)
				}
				continue
			}

			if received.index > 0 {
				processOne(received.index, received.done)
			}
			for _, index := range received.indices {
				processOne(index, received.done)
			}
		}
	}
}

func notifyAndRemove(waiters map[uint64][]chan struct{}, index uint64) {
	for _, channel := range waiters[index] {
		close(channel)
	}
	delete(waiters, index)
}
