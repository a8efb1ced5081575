package protocol

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/voltgrid/relayd/app/actions"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/correlation"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/node"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/config"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

const (
	relayID   = appmessage.NodeID("relay-1")
	stationID = appmessage.NodeID("cs-1")
)

func freeAddress(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	return address
}

type testRelay struct {
	address    string
	node       *node.Node
	netAdapter *netadapter.NetAdapter
	manager    *Manager
}

func startRelay(t *testing.T) *testRelay {
	engine, err := forwarding.NewEngine(relayID, forwarding.ResultForward)
	require.NoError(t, err)
	_, err = actions.RegisterAll(engine)
	require.NoError(t, err)
	relayNode := node.New(engine)

	address := freeAddress(t)
	cfg := config.DefaultConfig()
	cfg.NodeID = relayID.String()
	cfg.Listeners = []string{address}
	netAdapter, err := netadapter.NewNetAdapter(cfg)
	require.NoError(t, err)
	manager := NewManager(relayNode, netAdapter)
	require.NoError(t, netAdapter.Start())

	return &testRelay{address: address, node: relayNode, netAdapter: netAdapter, manager: manager}
}

func (r *testRelay) stop(t *testing.T) {
	require.NoError(t, r.netAdapter.Stop())
	r.manager.Close()
}

// connectStation dials the relay as a charging station and returns the
// station side of the connection.
func connectStation(t *testing.T, relay *testRelay) (*netadapter.NetAdapter, *netadapter.NetConnection) {
	cfg := config.DefaultConfig()
	cfg.NodeID = stationID.String()
	station, err := netadapter.NewNetAdapter(cfg)
	require.NoError(t, err)
	station.SetRouterInitializer(func(*router.Router, *netadapter.NetConnection) error { return nil })
	require.NoError(t, station.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	connection, err := station.Connect(ctx, config.TransportWebsocket, "ws://"+relay.address, relayID)
	require.NoError(t, err)
	return station, connection
}

func heartbeatFrame(t *testing.T, format appmessage.SerializationFormat) (*appmessage.RequestEnvelope, wireformat.Frame) {
	request := actions.NewHeartbeatRequest(relayID)
	request.SerializationFormat = format
	request.NetworkPath = appmessage.NewNetworkPath(stationID)
	envelope, err := correlation.NewRequestEnvelope(actions.HeartbeatCodec, request)
	require.NoError(t, err)
	frame, err := wireformat.EncodeRequest(envelope)
	require.NoError(t, err)
	return envelope, frame
}

func TestHeartbeatOverWebsocket(t *testing.T) {
	relay := startRelay(t)
	defer relay.stop(t)
	station, connection := connectStation(t, relay)
	defer station.Stop()

	require.Eventually(t, func() bool {
		_, ok := relay.node.Routes().Get(stationID)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	for _, format := range []appmessage.SerializationFormat{appmessage.FormatJSON, appmessage.FormatBinaryCompact} {
		envelope, frame := heartbeatFrame(t, format)
		require.NoError(t, connection.SendFrame(context.Background(), frame))

		replyFrame, err := connection.IncomingRoute().DequeueWithTimeout(5 * time.Second)
		require.NoError(t, err)
		reply, err := wireformat.Decode(replyFrame)
		require.NoError(t, err)
		require.NotNil(t, reply.Response)
		require.Equal(t, envelope.RequestID, reply.Response.RequestID)
		require.False(t, reply.Response.IsError(), "%s", reply.Response)
	}
}

func TestInvalidFramesAreSkipped(t *testing.T) {
	relay := startRelay(t)
	defer relay.stop(t)
	station, connection := connectStation(t, relay)
	defer station.Stop()

	require.NoError(t, connection.SendFrame(context.Background(), wireformat.Frame{Data: []byte("[9,")}))
	_, frame := heartbeatFrame(t, appmessage.FormatJSON)
	require.NoError(t, connection.SendFrame(context.Background(), frame))

	replyFrame, err := connection.IncomingRoute().DequeueWithTimeout(5 * time.Second)
	require.NoError(t, err)
	reply, err := wireformat.Decode(replyFrame)
	require.NoError(t, err)
	require.NotNil(t, reply.Response)
}

func TestDisconnectRemovesRoute(t *testing.T) {
	relay := startRelay(t)
	defer relay.stop(t)
	station, _ := connectStation(t, relay)

	require.Eventually(t, func() bool {
		return relay.node.Routes().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, station.Stop())
	require.Eventually(t, func() bool {
		return relay.node.Routes().Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCloseTwicePanics(t *testing.T) {
	relay := startRelay(t)
	relay.stop(t)
	require.Panics(t, relay.manager.Close)
}

func TestConnectionsAfterCloseAreRefused(t *testing.T) {
	relay := startRelay(t)
	relay.manager.Close()
	defer func() {
		require.NoError(t, relay.netAdapter.Stop())
	}()

	err := relay.manager.routerInitializer(nil, nil)
	require.Error(t, err)
	require.Equal(t, 0, relay.node.Routes().Len())
}

func TestCloseStopsFrameLoops(t *testing.T) {
	relay := startRelay(t)
	station, _ := connectStation(t, relay)
	defer station.Stop()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		relay.manager.Close()
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatalf("Close did not return")
	}
	require.NoError(t, relay.netAdapter.Stop())

	err := relay.manager.routerInitializer(nil, nil)
	require.Error(t, err)
}
