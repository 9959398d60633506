// Package comm is the messaging layer between the storage core's distributed collaborators:
// systems of reactors exchanging tagged messages over named connectors. A reactor is the single
// owner of its event streams; writers hold non-owning channel handles that check a closed flag
// and an epoch counter before every push, so closing propagates without shared ownership.
package comm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/elliotcourant/timber"
	"github.com/pkg/errors"
)

var (
	// ErrCancelled is returned when a blocking receive or send is abandoned because its context
	// was cancelled.
	ErrCancelled = errors.New("cancelled while blocked in messaging")

	// ErrTimeout is returned when a blocking call's context deadline passes.
	ErrTimeout = errors.New("timed out while blocked in messaging")

	// ErrChannelClosed is returned when sending to a connector whose owner closed it.
	ErrChannelClosed = errors.New("connector has been closed")

	// ErrStaleChannel is returned when a channel's cached epoch no longer matches its
	// connector, meaning the connector was closed and reopened since the handle was resolved.
	ErrStaleChannel = errors.New("channel refers to a stale connector epoch")

	// ErrUnknownReactor is returned when resolving a channel to a reactor or connector that
	// does not exist.
	ErrUnknownReactor = errors.New("no such reactor or connector")

	// ErrDuplicateName is returned when spawning a reactor or opening a connector under a name
	// already taken.
	ErrDuplicateName = errors.New("name is already taken")
)

type (
	// Tag identifies one message kind out of the closed message set. Callbacks are registered
	// by tag; there is no runtime type inspection anywhere in the dispatch path.
	Tag uint16

	// Message is the unit of exchange: a tag, an optional request correlation pair for RPC, and
	// an opaque payload encoded by the single wire codec of the system.
	Message struct {
		Tag       Tag
		RequestID uint64

		// ReplyReactor and ReplyConnector name where responses to this message should go.
		ReplyReactor   string
		ReplyConnector string

		Payload []byte
	}

	// System owns all reactors of one process.
	System struct {
		lock     sync.Mutex
		reactors map[string]*Reactor
	}

	// Reactor is the single owner of a set of named connectors. Everything a reactor owns is
	// closed when the reactor closes.
	Reactor struct {
		system *System
		name   string

		lock       sync.Mutex
		connectors map[string]*connector
	}

	// connector is one named in-box of a reactor.
	connector struct {
		reactorName string
		name        string

		queue chan Message
		done  chan struct{}

		closed atomic.Bool

		// epoch counts the connector's generations; channel handles cache the epoch they were
		// resolved against and refuse to push into a newer generation.
		epoch atomic.Uint64

		callbackLock sync.Mutex
		callbacks    map[Tag]func(Message)
	}

	// Channel is the non-owning write end of a connector.
	Channel struct {
		connector *connector
		epoch     uint64
	}

	// EventStream is the read end of a connector, owned by the connector's reactor.
	EventStream struct {
		connector *connector
	}
)

const connectorQueueDepth = 1024

// NewSystem creates an empty messaging system.
func NewSystem() *System {
	return &System{
		reactors: map[string]*Reactor{},
	}
}

// Spawn creates a reactor under the given name.
func (s *System) Spawn(name string) (*Reactor, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, taken := s.reactors[name]; taken {
		return nil, errors.Wrapf(ErrDuplicateName, "reactor %q", name)
	}

	reactor := &Reactor{
		system:     s,
		name:       name,
		connectors: map[string]*connector{},
	}
	s.reactors[name] = reactor
	return reactor, nil
}

// Resolve returns a write handle for the named connector of the named reactor.
func (s *System) Resolve(reactorName, connectorName string) (*Channel, error) {
	s.lock.Lock()
	reactor, ok := s.reactors[reactorName]
	s.lock.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownReactor, "reactor %q", reactorName)
	}

	reactor.lock.Lock()
	conn, ok := reactor.connectors[connectorName]
	reactor.lock.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownReactor, "connector %q/%q", reactorName, connectorName)
	}

	return &Channel{connector: conn, epoch: conn.epoch.Load()}, nil
}

// Shutdown closes every reactor in the system.
func (s *System) Shutdown() {
	s.lock.Lock()
	reactors := make([]*Reactor, 0, len(s.reactors))
	for _, reactor := range s.reactors {
		reactors = append(reactors, reactor)
	}
	s.reactors = map[string]*Reactor{}
	s.lock.Unlock()

	for _, reactor := range reactors {
		reactor.Close()
	}
}

// Name returns the reactor's name.
func (r *Reactor) Name() string {
	return r.name
}

// Open creates a connector under the given name and returns its two ends. The stream belongs to
// this reactor; the channel may be handed to anyone.
func (r *Reactor) Open(connectorName string) (*EventStream, *Channel, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, taken := r.connectors[connectorName]; taken {
		return nil, nil, errors.Wrapf(ErrDuplicateName, "connector %q/%q", r.name, connectorName)
	}

	conn := &connector{
		reactorName: r.name,
		name:        connectorName,
		queue:       make(chan Message, connectorQueueDepth),
		done:        make(chan struct{}),
		callbacks:   map[Tag]func(Message){},
	}
	conn.epoch.Store(1)
	r.connectors[connectorName] = conn

	return &EventStream{connector: conn}, &Channel{connector: conn, epoch: 1}, nil
}

// CloseConnector closes one connector, invalidating every outstanding channel handle.
func (r *Reactor) CloseConnector(connectorName string) {
	r.lock.Lock()
	conn, ok := r.connectors[connectorName]
	if ok {
		delete(r.connectors, connectorName)
	}
	r.lock.Unlock()

	if ok {
		conn.close()
	}
}

// Close closes the reactor and every connector it owns.
func (r *Reactor) Close() {
	r.lock.Lock()
	connectors := make([]*connector, 0, len(r.connectors))
	for _, conn := range r.connectors {
		connectors = append(connectors, conn)
	}
	r.connectors = map[string]*connector{}
	r.lock.Unlock()

	for _, conn := range connectors {
		conn.close()
	}
}

func (c *connector) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.epoch.Add(1)
		close(c.done)
	}
}

// Send pushes a message into the connector. It fails immediately when the connector is closed
// or the handle's epoch is stale, and never blocks the owner's receive loop.
func (c *Channel) Send(message Message) error {
	return c.SendContext(context.Background(), message)
}

// SendContext is Send with a cancellation context for the case where the queue is full.
func (c *Channel) SendContext(ctx context.Context, message Message) error {
	if c.connector.closed.Load() {
		return errors.Wrapf(ErrChannelClosed, "%s/%s", c.connector.reactorName, c.connector.name)
	}
	if c.connector.epoch.Load() != c.epoch {
		return errors.Wrapf(ErrStaleChannel, "%s/%s", c.connector.reactorName, c.connector.name)
	}

	select {
	case c.connector.queue <- message:
		return nil
	case <-c.connector.done:
		return errors.Wrapf(ErrChannelClosed, "%s/%s", c.connector.reactorName, c.connector.name)
	case <-ctx.Done():
		return wrapContextError(ctx.Err())
	}
}

// ReactorName returns the name of the reactor owning the connector behind this channel.
func (c *Channel) ReactorName() string {
	return c.connector.reactorName
}

// Name returns the name of the connector behind this channel.
func (c *Channel) Name() string {
	return c.connector.name
}

// AwaitEvent blocks until a message arrives, the connector closes, or the context is cancelled.
// A transaction aborted while waiting here surfaces ErrCancelled.
func (s *EventStream) AwaitEvent(ctx context.Context) (Message, error) {
	select {
	case message := <-s.connector.queue:
		return message, nil
	default:
	}

	select {
	case message := <-s.connector.queue:
		return message, nil
	case <-s.connector.done:
		// Drain what was enqueued before the close.
		select {
		case message := <-s.connector.queue:
			return message, nil
		default:
			return Message{}, errors.Wrapf(
				ErrChannelClosed, "%s/%s", s.connector.reactorName, s.connector.name,
			)
		}
	case <-ctx.Done():
		return Message{}, wrapContextError(ctx.Err())
	}
}

// PopEvent returns a pending message without blocking.
func (s *EventStream) PopEvent() (Message, bool) {
	select {
	case message := <-s.connector.queue:
		return message, true
	default:
		return Message{}, false
	}
}

// ConnectorName returns the name of the connector this stream reads from.
func (s *EventStream) ConnectorName() string {
	return s.connector.name
}

// OnEvent registers the callback invoked by RunEventLoop for messages carrying the tag.
func (s *EventStream) OnEvent(tag Tag, callback func(Message)) {
	s.connector.callbackLock.Lock()
	defer s.connector.callbackLock.Unlock()
	s.connector.callbacks[tag] = callback
}

// RunEventLoop dispatches incoming messages to the registered callbacks until the stream closes
// or the context is cancelled.
func (s *EventStream) RunEventLoop(ctx context.Context) {
	for {
		message, err := s.AwaitEvent(ctx)
		if err != nil {
			return
		}

		s.connector.callbackLock.Lock()
		callback := s.connector.callbacks[message.Tag]
		s.connector.callbackLock.Unlock()

		if callback == nil {
			timber.Warningf(
				"dropping message with unhandled tag %d on %s/%s",
				message.Tag, s.connector.reactorName, s.connector.name,
			)
			continue
		}
		callback(message)
	}
}

func wrapContextError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.Is(err, context.Canceled):
		return ErrCancelled
	default:
		return err
	}
}
