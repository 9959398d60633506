package memgraph

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"

	"github.com/jbajic/memgraph/comm"
)

const (
	// mapperReactorName is the reactor the master's id mapping service listens on.
	mapperReactorName = "idmapper"

	mapperRpcTimeout = 300 * time.Millisecond
)

const (
	// TagMapperValueToID and TagMapperIDToValue are the id mapper service's message tags.
	TagMapperValueToID comm.Tag = iota + 16
	TagMapperIDToValue
)

type (
	// IdKind separates the three name domains the storage core interns. Ids are only meaningful
	// within their kind.
	IdKind uint8

	// IdMapper translates externally supplied names (labels, edge types, property names) to
	// internal small integer ids and back. In a distributed deployment the master holds the
	// authoritative mapping; workers cache lookups and defer new assignments to the master.
	IdMapper interface {
		ValueToID(kind IdKind, name string) (uint32, error)
		IDToValue(kind IdKind, id uint32) (string, error)
	}

	// SingleNodeIdMapper is the in-process, authoritative mapping.
	SingleNodeIdMapper struct {
		lock   sync.RWMutex
		byName [idKindCount]map[string]uint32
		byID   [idKindCount]map[uint32]string
		nextID [idKindCount]uint32
	}

	// MasterIdMapper is SingleNodeIdMapper exposed to workers over messaging.
	MasterIdMapper struct {
		SingleNodeIdMapper
		server *comm.Server
	}

	// WorkerIdMapper caches resolved mappings and defers misses, and every new-name
	// assignment, to the master.
	WorkerIdMapper struct {
		client *comm.Client
		cache  *ristretto.Cache
	}
)

const (
	IdKindLabel IdKind = iota
	IdKindEdgeType
	IdKindProperty

	idKindCount = 3
)

var (
	// ErrUnknownID is returned when resolving an id that was never assigned.
	ErrUnknownID = errors.New("id was never assigned")
)

// NewSingleNodeIdMapper creates an empty mapping.
func NewSingleNodeIdMapper() *SingleNodeIdMapper {
	mapper := &SingleNodeIdMapper{}
	for kind := 0; kind < idKindCount; kind++ {
		mapper.byName[kind] = map[string]uint32{}
		mapper.byID[kind] = map[uint32]string{}
	}
	return mapper
}

// ValueToID returns the id for the name, assigning the next free one on first use.
func (m *SingleNodeIdMapper) ValueToID(kind IdKind, name string) (uint32, error) {
	if kind >= idKindCount {
		return 0, errors.Wrapf(ErrTypeMismatch, "unknown id kind %d", kind)
	}

	m.lock.RLock()
	id, ok := m.byName[kind][name]
	m.lock.RUnlock()
	if ok {
		return id, nil
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if id, ok := m.byName[kind][name]; ok {
		return id, nil
	}
	id = m.nextID[kind]
	m.nextID[kind]++
	m.byName[kind][name] = id
	m.byID[kind][id] = name
	return id, nil
}

// IDToValue returns the name behind an id.
func (m *SingleNodeIdMapper) IDToValue(kind IdKind, id uint32) (string, error) {
	if kind >= idKindCount {
		return "", errors.Wrapf(ErrTypeMismatch, "unknown id kind %d", kind)
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	name, ok := m.byID[kind][id]
	if !ok {
		return "", errors.Wrapf(ErrUnknownID, "kind %d id %d", kind, id)
	}
	return name, nil
}

// NewMasterIdMapper creates the authoritative mapping service and registers it with the
// system's messaging.
func NewMasterIdMapper(system *comm.System) (*MasterIdMapper, error) {
	server, err := comm.NewServer(system, mapperReactorName)
	if err != nil {
		return nil, err
	}

	master := &MasterIdMapper{server: server}
	for kind := 0; kind < idKindCount; kind++ {
		master.byName[kind] = map[string]uint32{}
		master.byID[kind] = map[uint32]string{}
	}

	server.Register(TagMapperValueToID, func(request []byte) ([]byte, error) {
		if len(request) < 1 {
			return nil, errors.New("mapper request is missing its kind")
		}
		id, err := master.ValueToID(IdKind(request[0]), string(request[1:]))
		if err != nil {
			return nil, err
		}
		var response [4]byte
		binary.BigEndian.PutUint32(response[:], id)
		return response[:], nil
	})
	server.Register(TagMapperIDToValue, func(request []byte) ([]byte, error) {
		if len(request) < 5 {
			return nil, errors.New("mapper request is missing its id")
		}
		name, err := master.IDToValue(IdKind(request[0]), binary.BigEndian.Uint32(request[1:5]))
		if err != nil {
			return nil, err
		}
		return []byte(name), nil
	})

	return master, nil
}

// Start begins serving worker requests.
func (m *MasterIdMapper) Start() {
	m.server.Start()
}

// Shutdown stops serving worker requests.
func (m *MasterIdMapper) Shutdown() {
	m.server.Shutdown()
}

// NewWorkerIdMapper creates a caching mapper proxy that defers to the master.
func NewWorkerIdMapper(system *comm.System, clientName string) (*WorkerIdMapper, error) {
	client, err := comm.NewClient(system, clientName, mapperReactorName)
	if err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 16,
		MaxCost:     1 << 22,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &WorkerIdMapper{client: client, cache: cache}, nil
}

// ValueToID resolves a name, consulting the cache before the master. Assignments of new names
// always happen on the master.
func (w *WorkerIdMapper) ValueToID(kind IdKind, name string) (uint32, error) {
	cacheKey := fmt.Sprintf("n:%d:%s", kind, name)
	if cached, ok := w.cache.Get(cacheKey); ok {
		return cached.(uint32), nil
	}

	request := make([]byte, 1+len(name))
	request[0] = uint8(kind)
	copy(request[1:], name)

	ctx, cancel := context.WithTimeout(context.Background(), mapperRpcTimeout)
	defer cancel()

	response, err := w.client.Call(ctx, TagMapperValueToID, request)
	if err != nil {
		return 0, err
	}
	id := binary.BigEndian.Uint32(response)

	w.cache.Set(cacheKey, id, int64(len(cacheKey)+4))
	w.cache.Set(fmt.Sprintf("i:%d:%d", kind, id), name, int64(len(name)+16))
	return id, nil
}

// IDToValue resolves an id, consulting the cache before the master. Ids are never reassigned,
// so cached entries cannot go stale.
func (w *WorkerIdMapper) IDToValue(kind IdKind, id uint32) (string, error) {
	cacheKey := fmt.Sprintf("i:%d:%d", kind, id)
	if cached, ok := w.cache.Get(cacheKey); ok {
		return cached.(string), nil
	}

	request := make([]byte, 5)
	request[0] = uint8(kind)
	binary.BigEndian.PutUint32(request[1:5], id)

	ctx, cancel := context.WithTimeout(context.Background(), mapperRpcTimeout)
	defer cancel()

	response, err := w.client.Call(ctx, TagMapperIDToValue, request)
	if err != nil {
		return "", err
	}
	name := string(response)

	w.cache.Set(cacheKey, name, int64(len(name)+16))
	return name, nil
}

// Close shuts the worker's messaging client and cache down.
func (w *WorkerIdMapper) Close() {
	w.client.Close()
	w.cache.Close()
}
