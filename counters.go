package memgraph

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotcourant/timber"
	"github.com/pkg/errors"

	"github.com/jbajic/memgraph/comm"
)

const (
	// countersReactorName is the reactor the master's counter service listens on.
	countersReactorName = "counters"

	countersRpcTimeout = 300 * time.Millisecond
)

const (
	// TagCountersGet and TagCountersSet are the counter service's message tags.
	TagCountersGet comm.Tag = iota + 1
	TagCountersSet
)

type (
	// Counters are named 64-bit counters shared by every client of one deployment. Get is an
	// atomic fetch-and-add: the first Get of a name observes 0 and leaves 1 behind.
	Counters interface {
		Get(name string) int64
		Set(name string, value int64)
	}

	// SingleNodeCounters is the in-process, authoritative implementation.
	SingleNodeCounters struct {
		lock     sync.Mutex
		counters map[string]*atomic.Int64
	}

	// MasterCounters is SingleNodeCounters exposed to workers over messaging.
	MasterCounters struct {
		SingleNodeCounters
		server *comm.Server
	}

	// WorkerCounters proxies every operation to the master.
	WorkerCounters struct {
		client *comm.Client
	}
)

// NewSingleNodeCounters creates an empty counter set.
func NewSingleNodeCounters() *SingleNodeCounters {
	return &SingleNodeCounters{
		counters: map[string]*atomic.Int64{},
	}
}

func (c *SingleNodeCounters) counter(name string) *atomic.Int64 {
	c.lock.Lock()
	defer c.lock.Unlock()

	counter, ok := c.counters[name]
	if !ok {
		counter = &atomic.Int64{}
		c.counters[name] = counter
	}
	return counter
}

// Get returns the counter's current value and increments it, initializing to 0 on first touch.
func (c *SingleNodeCounters) Get(name string) int64 {
	return c.counter(name).Add(1) - 1
}

// Set forces the counter to the given value.
func (c *SingleNodeCounters) Set(name string, value int64) {
	c.counter(name).Store(value)
}

// NewMasterCounters creates the authoritative counter service and registers it with the
// system's messaging.
func NewMasterCounters(system *comm.System) (*MasterCounters, error) {
	server, err := comm.NewServer(system, countersReactorName)
	if err != nil {
		return nil, err
	}

	master := &MasterCounters{
		SingleNodeCounters: SingleNodeCounters{counters: map[string]*atomic.Int64{}},
		server:             server,
	}

	server.Register(TagCountersGet, func(request []byte) ([]byte, error) {
		value := master.Get(string(request))
		var response [8]byte
		binary.BigEndian.PutUint64(response[:], uint64(value))
		return response[:], nil
	})
	server.Register(TagCountersSet, func(request []byte) ([]byte, error) {
		if len(request) < 8 {
			return nil, errors.New("counter set request is missing its value")
		}
		value := int64(binary.BigEndian.Uint64(request[:8]))
		master.Set(string(request[8:]), value)
		return nil, nil
	})

	return master, nil
}

// Start begins serving worker requests.
func (m *MasterCounters) Start() {
	m.server.Start()
}

// Shutdown stops serving worker requests.
func (m *MasterCounters) Shutdown() {
	m.server.Shutdown()
}

// NewWorkerCounters creates a counter proxy that defers everything to the master.
func NewWorkerCounters(system *comm.System, clientName string) (*WorkerCounters, error) {
	client, err := comm.NewClient(system, clientName, countersReactorName)
	if err != nil {
		return nil, err
	}
	return &WorkerCounters{client: client}, nil
}

// Get fetches and increments the counter on the master.
func (w *WorkerCounters) Get(name string) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), countersRpcTimeout)
	defer cancel()

	response, err := w.client.Call(ctx, TagCountersGet, []byte(name))
	if err != nil {
		timber.Fatalf("counters: failed to get %q from master: %v", name, err)
	}
	return int64(binary.BigEndian.Uint64(response))
}

// Set forces the counter's value on the master.
func (w *WorkerCounters) Set(name string, value int64) {
	request := make([]byte, 8+len(name))
	binary.BigEndian.PutUint64(request[:8], uint64(value))
	copy(request[8:], name)

	ctx, cancel := context.WithTimeout(context.Background(), countersRpcTimeout)
	defer cancel()

	if _, err := w.client.Call(ctx, TagCountersSet, request); err != nil {
		timber.Fatalf("counters: failed to set %q on master: %v", name, err)
	}
}

// Close shuts the worker's messaging client down.
func (w *WorkerCounters) Close() {
	w.client.Close()
}
