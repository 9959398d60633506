package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendAndAwait(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	stream, _, err := reactor.Open("requests")
	require.NoError(t, err)

	channel, err := system.Resolve("storage", "requests")
	require.NoError(t, err)
	require.Equal(t, "storage", channel.ReactorName())
	require.Equal(t, "requests", channel.Name())

	require.NoError(t, channel.Send(Message{Tag: 1, Payload: []byte("hello")}))

	message, err := stream.AwaitEvent(context.Background())
	require.NoError(t, err)
	require.Equal(t, Tag(1), message.Tag)
	require.Equal(t, []byte("hello"), message.Payload)
}

func TestPopEvent(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	stream, channel, err := reactor.Open("requests")
	require.NoError(t, err)

	_, ok := stream.PopEvent()
	require.False(t, ok)

	require.NoError(t, channel.Send(Message{Tag: 2}))
	message, ok := stream.PopEvent()
	require.True(t, ok)
	require.Equal(t, Tag(2), message.Tag)
}

func TestDuplicateNamesAreRejected(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	_, err = system.Spawn("storage")
	require.ErrorIs(t, err, ErrDuplicateName)

	_, _, err = reactor.Open("requests")
	require.NoError(t, err)
	_, _, err = reactor.Open("requests")
	require.ErrorIs(t, err, ErrDuplicateName)
}

func TestResolveUnknown(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	_, err := system.Resolve("ghost", "requests")
	require.ErrorIs(t, err, ErrUnknownReactor)

	_, err = system.Spawn("storage")
	require.NoError(t, err)
	_, err = system.Resolve("storage", "ghost")
	require.ErrorIs(t, err, ErrUnknownReactor)
}

func TestClosePropagatesToSenders(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	stream, _, err := reactor.Open("requests")
	require.NoError(t, err)

	channel, err := system.Resolve("storage", "requests")
	require.NoError(t, err)

	reactor.CloseConnector("requests")

	// Every outstanding write handle observes the close on its next send.
	require.ErrorIs(t, channel.Send(Message{Tag: 1}), ErrChannelClosed)

	// The owner's read end drains and then reports the close.
	_, err = stream.AwaitEvent(context.Background())
	require.ErrorIs(t, err, ErrChannelClosed)
}

func TestStaleEpochIsRejected(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	_, channel, err := reactor.Open("requests")
	require.NoError(t, err)

	// Age the handle's view of the connector without closing it.
	channel.connector.epoch.Add(1)

	require.ErrorIs(t, channel.Send(Message{Tag: 1}), ErrStaleChannel)
}

func TestAwaitEventCancellation(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	stream, _, err := reactor.Open("requests")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.AwaitEvent(ctx)
	require.ErrorIs(t, err, ErrCancelled)

	deadlineCtx, cancelDeadline := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancelDeadline()
	_, err = stream.AwaitEvent(deadlineCtx)
	require.ErrorIs(t, err, ErrTimeout)
}

func TestEventLoopDispatchByTag(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	reactor, err := system.Spawn("storage")
	require.NoError(t, err)
	stream, channel, err := reactor.Open("requests")
	require.NoError(t, err)

	received := make(chan Message, 2)
	stream.OnEvent(7, func(message Message) {
		received <- message
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		stream.RunEventLoop(ctx)
		close(done)
	}()

	require.NoError(t, channel.Send(Message{Tag: 9})) // unhandled, dropped with a warning
	require.NoError(t, channel.Send(Message{Tag: 7, Payload: []byte("dispatch")}))

	message := <-received
	require.Equal(t, []byte("dispatch"), message.Payload)

	cancel()
	<-done
}

func TestRequestResponse(t *testing.T) {
	system := NewSystem()
	defer system.Shutdown()

	server, err := NewServer(system, "master")
	require.NoError(t, err)
	server.Register(1, func(request []byte) ([]byte, error) {
		return append([]byte("echo:"), request...), nil
	})
	server.Start()
	defer server.Shutdown()

	client, err := NewClient(system, "worker", "master")
	require.NoError(t, err)
	defer client.Close()

	response, err := client.Call(context.Background(), 1, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, []byte("echo:ping"), response)

	// A tag nobody registered surfaces as an error on the caller's side.
	_, err = client.Call(context.Background(), 2, nil)
	require.Error(t, err)
}
