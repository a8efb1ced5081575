package netadapter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/config"
	routerpkg "github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server/grpcserver"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server/wsserver"
)

// uplinkRetryInterval is how long the adapter waits before dialing the
// uplink again after a failed attempt or a disconnection.
var uplinkRetryInterval = 5 * time.Second

// RouterInitializer is a function that initializes a new router to be
// used with a new connection. Returning an error refuses the connection.
type RouterInitializer func(*routerpkg.Router, *NetConnection) error

// NetAdapter is an abstraction layer over networking.
// This type expects a RouteInitializer function. This
// function weaves together the connections and the node
// without exposing anything related to networking internals.
type NetAdapter struct {
	cfg               *config.Config
	nodeID            appmessage.NodeID
	servers           []server.Server
	dialers           map[string]server.Dialer
	routerInitializer RouterInitializer
	stop              uint32
	stopChan          chan struct{}

	connections     map[*NetConnection]struct{}
	connectionsLock sync.RWMutex
}

// NewNetAdapter creates a new NetAdapter listening on the configured
// websocket and gRPC listeners.
func NewNetAdapter(cfg *config.Config) (*NetAdapter, error) {
	nodeID, err := appmessage.ParseNodeID(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	adapter := &NetAdapter{
		cfg:    cfg,
		nodeID: nodeID,
		dialers: map[string]server.Dialer{
			config.TransportWebsocket: wsserver.NewDialer(cfg.Dial),
			config.TransportGRPC:      grpcserver.NewDialer(),
		},
		stopChan:    make(chan struct{}),
		connections: make(map[*NetConnection]struct{}),
	}
	if len(cfg.Listeners) > 0 {
		adapter.servers = append(adapter.servers, wsserver.NewServer(cfg.Listeners))
	}
	if len(cfg.GRPCListeners) > 0 {
		adapter.servers = append(adapter.servers, grpcserver.NewRelayServer(cfg.GRPCListeners))
	}
	for _, s := range adapter.servers {
		s.SetOnConnectedHandler(adapter.onConnectedHandler)
	}
	return adapter, nil
}

// Start begins the operation of the NetAdapter
func (na *NetAdapter) Start() error {
	if na.routerInitializer == nil {
		return errors.New("routerInitializer was not set")
	}

	for _, s := range na.servers {
		err := s.Start()
		if err != nil {
			return err
		}
	}

	if na.cfg.UplinkTransport() != config.TransportNone {
		spawn("NetAdapter.maintainUplink", na.maintainUplink)
	}
	return nil
}

// Stop safely closes the NetAdapter
func (na *NetAdapter) Stop() error {
	if atomic.AddUint32(&na.stop, 1) != 1 {
		return errors.New("net adapter stopped more than once")
	}
	close(na.stopChan)

	for _, s := range na.servers {
		err := s.Stop()
		if err != nil {
			return err
		}
	}
	for _, connection := range na.Connections() {
		connection.Disconnect()
	}
	return nil
}

func (na *NetAdapter) isStopped() bool {
	return atomic.LoadUint32(&na.stop) != 0
}

// Connect dials the node remoteNodeID at address over transport and
// registers the connection.
func (na *NetAdapter) Connect(ctx context.Context, transport string, address string,
	remoteNodeID appmessage.NodeID) (*NetConnection, error) {

	dialer, ok := na.dialers[transport]
	if !ok {
		return nil, errors.Errorf("unknown transport %q", transport)
	}
	connection, err := dialer.Dial(ctx, address, na.nodeID, remoteNodeID)
	if err != nil {
		return nil, err
	}
	netConnection, err := na.addConnection(connection)
	if err != nil {
		return nil, err
	}
	log.Infof("Connected to %s", netConnection)
	return netConnection, nil
}

// maintainUplink keeps the uplink connected until the adapter stops.
func (na *NetAdapter) maintainUplink() {
	uplinkNodeID := appmessage.NodeID(na.cfg.UplinkNodeID)
	for !na.isStopped() {
		ctx, cancel := context.WithTimeout(context.Background(), config.DefaultConnectTimeout)
		connection, err := na.Connect(ctx, na.cfg.UplinkTransport(), na.cfg.UplinkURL().String(), uplinkNodeID)
		cancel()
		if err != nil {
			log.Warnf("Could not connect to the uplink %s: %s", uplinkNodeID, err)
		} else {
			select {
			case <-connection.Disconnected():
				log.Warnf("Lost the uplink %s", uplinkNodeID)
			case <-na.stopChan:
				return
			}
		}

		select {
		case <-time.After(uplinkRetryInterval):
		case <-na.stopChan:
			return
		}
	}
}

// Connections returns a list of connections currently connected and active
func (na *NetAdapter) Connections() []*NetConnection {
	na.connectionsLock.RLock()
	defer na.connectionsLock.RUnlock()

	netConnections := make([]*NetConnection, 0, len(na.connections))
	for netConnection := range na.connections {
		netConnections = append(netConnections, netConnection)
	}
	return netConnections
}

// ConnectionCount returns the count of the connected connections
func (na *NetAdapter) ConnectionCount() int {
	na.connectionsLock.RLock()
	defer na.connectionsLock.RUnlock()

	return len(na.connections)
}

func (na *NetAdapter) onConnectedHandler(connection server.Connection) error {
	_, err := na.addConnection(connection)
	return err
}

func (na *NetAdapter) addConnection(connection server.Connection) (*NetConnection, error) {
	if na.isStopped() {
		connection.Disconnect()
		return nil, errors.New("the net adapter is stopped")
	}
	netConnection := newNetConnection(connection)

	err := na.routerInitializer(netConnection.router, netConnection)
	if err != nil {
		connection.Disconnect()
		return nil, err
	}

	na.connectionsLock.Lock()
	na.connections[netConnection] = struct{}{}
	na.connectionsLock.Unlock()
	spawn("NetAdapter.addConnection-untrack", func() {
		<-netConnection.Disconnected()
		na.connectionsLock.Lock()
		defer na.connectionsLock.Unlock()
		delete(na.connections, netConnection)
	})

	netConnection.start()
	return netConnection, nil
}

// SetRouterInitializer sets the routerInitializer function
// for the net adapter
func (na *NetAdapter) SetRouterInitializer(routerInitializer RouterInitializer) {
	na.routerInitializer = routerInitializer
}

// NodeID returns the id this adapter announces to other nodes.
func (na *NetAdapter) NodeID() appmessage.NodeID {
	return na.nodeID
}
