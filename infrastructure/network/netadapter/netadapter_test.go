package netadapter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/config"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

func freeAddress(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %s", err)
	}
	address := listener.Addr().String()
	err = listener.Close()
	if err != nil {
		t.Fatalf("Close failed: %s", err)
	}
	return address
}

func configForTest(t *testing.T, nodeID string, listeners []string, grpcListeners []string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.NodeID = nodeID
	cfg.Listeners = listeners
	cfg.GRPCListeners = grpcListeners
	return cfg
}

func withUplink(t *testing.T, cfg *config.Config, uplink string, uplinkNodeID string) *config.Config {
	cfg.Uplink = uplink
	cfg.UplinkNodeID = uplinkNodeID
	err := cfg.ResolveNode(nil)
	if err != nil {
		t.Fatalf("ResolveNode failed: %+v", err)
	}
	return cfg
}

func connectionsChannel(adapter *NetAdapter) chan *NetConnection {
	connections := make(chan *NetConnection, 10)
	adapter.SetRouterInitializer(func(_ *router.Router, connection *NetConnection) error {
		connections <- connection
		return nil
	})
	return connections
}

func receiveConnection(t *testing.T, testName string, connections chan *NetConnection) *NetConnection {
	select {
	case connection := <-connections:
		return connection
	case <-time.After(10 * time.Second):
		t.Fatalf("%s: timed out waiting for a connection", testName)
	}
	return nil
}

func testUplink(t *testing.T, testName string, transport string) {
	uplinkRetryInterval = 50 * time.Millisecond

	address := freeAddress(t)
	var cfgA *config.Config
	var uplink string
	if transport == config.TransportGRPC {
		cfgA = configForTest(t, "relay-a", nil, []string{address})
		uplink = "grpc://" + address
	} else {
		cfgA = configForTest(t, "relay-a", []string{address}, nil)
		uplink = "ws://" + address
	}
	cfgB := withUplink(t, configForTest(t, "relay-b", nil, nil), uplink, "relay-a")

	adapterA, err := NewNetAdapter(cfgA)
	if err != nil {
		t.Fatalf("%s: NewNetAdapter A: %+v", testName, err)
	}
	connectionsA := connectionsChannel(adapterA)
	err = adapterA.Start()
	if err != nil {
		t.Fatalf("%s: Start A: %+v", testName, err)
	}
	defer adapterA.Stop()

	adapterB, err := NewNetAdapter(cfgB)
	if err != nil {
		t.Fatalf("%s: NewNetAdapter B: %+v", testName, err)
	}
	connectionsB := connectionsChannel(adapterB)
	err = adapterB.Start()
	if err != nil {
		t.Fatalf("%s: Start B: %+v", testName, err)
	}

	connectionB := receiveConnection(t, testName, connectionsB)
	if !connectionB.RemoteNodeID().Equal("relay-a") || !connectionB.IsOutbound() {
		t.Fatalf("%s: unexpected uplink connection %s", testName, connectionB)
	}

	// The stream reaches the gRPC server with the first frame.
	frame := wireformat.Frame{Data: []byte(`[2,"1","Heartbeat",{}]`)}
	err = connectionB.SendFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("%s: SendFrame: %+v", testName, err)
	}

	connectionA := receiveConnection(t, testName, connectionsA)
	if !connectionA.RemoteNodeID().Equal("relay-b") || connectionA.IsOutbound() {
		t.Fatalf("%s: unexpected inbound connection %s", testName, connectionA)
	}
	received, err := connectionA.IncomingRoute().DequeueWithTimeout(10 * time.Second)
	if err != nil {
		t.Fatalf("%s: DequeueWithTimeout on A: %+v", testName, err)
	}
	if string(received.Data) != string(frame.Data) {
		t.Fatalf("%s: A received %q instead of %q", testName, received.Data, frame.Data)
	}

	response := wireformat.Frame{Data: []byte{0x00, 0x66, 0x03}, Binary: true}
	err = connectionA.SendFrame(context.Background(), response)
	if err != nil {
		t.Fatalf("%s: SendFrame on A: %+v", testName, err)
	}
	received, err = connectionB.IncomingRoute().DequeueWithTimeout(10 * time.Second)
	if err != nil {
		t.Fatalf("%s: DequeueWithTimeout on B: %+v", testName, err)
	}
	if !received.Binary || string(received.Data) != string(response.Data) {
		t.Fatalf("%s: B received %v instead of %v", testName, received, response)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = connectionB.SendFrame(ctx, frame)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("%s: expected context.Canceled but got %v", testName, err)
	}

	// The uplink is dialed again after it is lost.
	connectionA.Disconnect()
	select {
	case <-connectionB.Disconnected():
	case <-time.After(10 * time.Second):
		t.Fatalf("%s: B did not notice the disconnection", testName)
	}
	reconnected := receiveConnection(t, testName, connectionsB)
	if reconnected == connectionB {
		t.Fatalf("%s: the uplink was not dialed again", testName)
	}

	err = adapterB.Stop()
	if err != nil {
		t.Fatalf("%s: Stop B: %+v", testName, err)
	}
	err = adapterB.Stop()
	if err == nil {
		t.Fatalf("%s: stopping twice unexpectedly succeeded", testName)
	}
	select {
	case <-reconnected.Disconnected():
	case <-time.After(10 * time.Second):
		t.Fatalf("%s: Stop did not close the uplink", testName)
	}
}

func TestWebsocketUplink(t *testing.T) {
	testUplink(t, "TestWebsocketUplink", config.TransportWebsocket)
}

func TestGRPCUplink(t *testing.T) {
	testUplink(t, "TestGRPCUplink", config.TransportGRPC)
}

func TestRefusedConnection(t *testing.T) {
	address := freeAddress(t)
	adapter, err := NewNetAdapter(configForTest(t, "relay-a", []string{address}, nil))
	if err != nil {
		t.Fatalf("TestRefusedConnection: NewNetAdapter: %+v", err)
	}
	adapter.SetRouterInitializer(func(_ *router.Router, connection *NetConnection) error {
		return errors.Errorf("%s is not welcome", connection.RemoteNodeID())
	})
	err = adapter.Start()
	if err != nil {
		t.Fatalf("TestRefusedConnection: Start: %+v", err)
	}
	defer adapter.Stop()

	dialer, err := NewNetAdapter(configForTest(t, "relay-b", nil, nil))
	if err != nil {
		t.Fatalf("TestRefusedConnection: NewNetAdapter: %+v", err)
	}
	connections := connectionsChannel(dialer)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = dialer.Connect(ctx, config.TransportWebsocket, "ws://"+address, appmessage.NodeID("relay-a"))
	if err != nil {
		t.Fatalf("TestRefusedConnection: Connect: %+v", err)
	}
	connection := receiveConnection(t, "TestRefusedConnection", connections)
	select {
	case <-connection.Disconnected():
	case <-time.After(10 * time.Second):
		t.Fatalf("TestRefusedConnection: the refused connection stayed open")
	}
	if adapter.ConnectionCount() != 0 {
		t.Fatalf("TestRefusedConnection: the refused connection was registered")
	}

	_, err = dialer.Connect(ctx, "carrier-pigeon", address, appmessage.NodeID("relay-a"))
	if err == nil {
		t.Fatalf("TestRefusedConnection: Connect over an unknown transport unexpectedly succeeded")
	}
}
