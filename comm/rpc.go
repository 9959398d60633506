package comm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/elliotcourant/timber"
	"github.com/pkg/errors"
)

const (
	// rpcConnectorName is the connector every Server listens on.
	rpcConnectorName = "rpc"

	// responseConnectorName is the connector a Client receives responses on.
	responseConnectorName = "responses"

	// tagErrorFlag marks a response message as carrying an error string instead of a payload.
	tagErrorFlag Tag = 0x8000
)

type (
	// Handler serves one request kind, returning the response payload.
	Handler func(request []byte) ([]byte, error)

	// Server owns a reactor and serves registered handlers keyed by message tag. This is the
	// shape masters use to expose counters and the id mapper to workers.
	Server struct {
		system  *System
		reactor *Reactor
		stream  *EventStream

		lock     sync.Mutex
		handlers map[Tag]Handler

		cancel context.CancelFunc
		doneWg sync.WaitGroup
	}

	// Client issues request-response calls against a Server. Calls are serialized; the client
	// owns a single response stream.
	Client struct {
		system *System

		serverReactor string

		reactor *Reactor
		stream  *EventStream

		lock          sync.Mutex
		nextRequestID atomic.Uint64
	}
)

// NewServer spawns a server reactor under the given name.
func NewServer(system *System, name string) (*Server, error) {
	reactor, err := system.Spawn(name)
	if err != nil {
		return nil, err
	}
	stream, _, err := reactor.Open(rpcConnectorName)
	if err != nil {
		return nil, err
	}
	return &Server{
		system:   system,
		reactor:  reactor,
		stream:   stream,
		handlers: map[Tag]Handler{},
	}, nil
}

// Register installs the handler for one request tag. Must be called before Start.
func (s *Server) Register(tag Tag, handler Handler) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.handlers[tag] = handler
}

// Start serves requests on a background goroutine until Shutdown.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.doneWg.Add(1)
	go func() {
		defer s.doneWg.Done()
		for {
			message, err := s.stream.AwaitEvent(ctx)
			if err != nil {
				return
			}
			s.serve(message)
		}
	}()
}

// Shutdown stops serving and closes the server's reactor.
func (s *Server) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.reactor.Close()
	s.doneWg.Wait()
}

func (s *Server) serve(request Message) {
	s.lock.Lock()
	handler := s.handlers[request.Tag]
	s.lock.Unlock()

	response := Message{
		Tag:       request.Tag,
		RequestID: request.RequestID,
	}
	if handler == nil {
		response.Tag |= tagErrorFlag
		response.Payload = []byte(errors.Wrapf(ErrUnknownReactor, "no handler for tag %d", request.Tag).Error())
	} else if payload, err := handler(request.Payload); err != nil {
		response.Tag |= tagErrorFlag
		response.Payload = []byte(err.Error())
	} else {
		response.Payload = payload
	}

	replyTo, err := s.system.Resolve(request.ReplyReactor, request.ReplyConnector)
	if err != nil {
		timber.Warningf("dropping response, caller is gone: %v", err)
		return
	}
	if err := replyTo.Send(response); err != nil {
		timber.Warningf("dropping response, caller stopped receiving: %v", err)
	}
}

// NewClient spawns a client reactor under clientName that will call the server named
// serverReactor.
func NewClient(system *System, clientName, serverReactor string) (*Client, error) {
	reactor, err := system.Spawn(clientName)
	if err != nil {
		return nil, err
	}
	stream, _, err := reactor.Open(responseConnectorName)
	if err != nil {
		return nil, err
	}
	return &Client{
		system:        system,
		serverReactor: serverReactor,
		reactor:       reactor,
		stream:        stream,
	}, nil
}

// Call sends one request and blocks for its response. Cancellation of the context while blocked
// surfaces ErrCancelled; a passed deadline surfaces ErrTimeout.
func (c *Client) Call(ctx context.Context, tag Tag, request []byte) ([]byte, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	requestID := c.nextRequestID.Add(1)

	server, err := c.system.Resolve(c.serverReactor, rpcConnectorName)
	if err != nil {
		return nil, err
	}
	err = server.SendContext(ctx, Message{
		Tag:            tag,
		RequestID:      requestID,
		ReplyReactor:   c.reactor.name,
		ReplyConnector: responseConnectorName,
		Payload:        request,
	})
	if err != nil {
		return nil, err
	}

	for {
		response, err := c.stream.AwaitEvent(ctx)
		if err != nil {
			return nil, err
		}
		if response.RequestID != requestID {
			// A response to an abandoned earlier call; drop it and keep waiting.
			continue
		}
		if response.Tag&tagErrorFlag != 0 {
			return nil, errors.New(string(response.Payload))
		}
		return response.Payload, nil
	}
}

// Close shuts the client's reactor down.
func (c *Client) Close() {
	c.reactor.Close()
}
