package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
)

type inboundConnection struct {
	connection   server.Connection
	router       *router.Router
	disconnected chan struct{}
}

func startTestServer(t *testing.T) (string, chan *inboundConnection) {
	s := NewRelayServer(nil).(*relayServer)
	inbound := make(chan *inboundConnection, 1)
	s.SetOnConnectedHandler(func(connection server.Connection) error {
		accepted := &inboundConnection{
			connection:   connection,
			router:       router.NewRouter(connection.RemoteNodeID().String()),
			disconnected: make(chan struct{}),
		}
		connection.SetOnDisconnectedHandler(func() { close(accepted.disconnected) })
		connection.Start(accepted.router)
		inbound <- accepted
		return nil
	})
	require.NoError(t, s.Start())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.serve(listener)
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return "grpc://" + listener.Addr().String(), inbound
}

func TestExchangeFrames(t *testing.T) {
	address, inbound := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	connection, err := NewDialer().Dial(ctx, address, "relay-2", "relay-1")
	require.NoError(t, err)
	require.True(t, connection.IsOutbound())

	clientDisconnected := make(chan struct{})
	connection.SetOnDisconnectedHandler(func() { close(clientDisconnected) })
	clientRouter := router.NewRouter("client")
	connection.Start(clientRouter)

	// The stream reaches the server with the first frame.
	textFrame := wireformat.Frame{Data: []byte(`[2,"id","Heartbeat",{}]`)}
	binaryFrame := wireformat.Frame{Data: []byte{0x00, 0x66, 0x01}, Binary: true}
	require.NoError(t, clientRouter.OutgoingRoute().Enqueue(textFrame))
	require.NoError(t, clientRouter.OutgoingRoute().Enqueue(binaryFrame))

	var accepted *inboundConnection
	select {
	case accepted = <-inbound:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestExchangeFrames: the server did not accept the stream")
	}
	require.Equal(t, appmessage.NodeID("relay-2"), accepted.connection.RemoteNodeID())
	require.False(t, accepted.connection.IsOutbound())

	received, err := accepted.router.IncomingRoute().DequeueWithTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, textFrame, received)
	received, err = accepted.router.IncomingRoute().DequeueWithTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, binaryFrame, received)

	require.NoError(t, accepted.router.OutgoingRoute().Enqueue(binaryFrame))
	received, err = clientRouter.IncomingRoute().DequeueWithTimeout(5 * time.Second)
	require.NoError(t, err)
	require.Equal(t, binaryFrame, received)

	connection.Disconnect()
	select {
	case <-clientDisconnected:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestExchangeFrames: the client disconnected handler was not called")
	}
	select {
	case <-accepted.disconnected:
	case <-time.After(5 * time.Second):
		t.Fatalf("TestExchangeFrames: the server did not notice the disconnection")
	}
}

func TestDialWithoutServer(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = NewDialer().Dial(ctx, address, "relay-2", "relay-1")
	require.Error(t, err)
}
