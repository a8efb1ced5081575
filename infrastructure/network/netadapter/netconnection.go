package netadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	routerpkg "github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
)

// NetConnection is a connection to a neighbouring node together with the
// router its frames pass through.
type NetConnection struct {
	connection   server.Connection
	router       *routerpkg.Router
	disconnected chan struct{}

	onDisconnectedHandlerLock sync.Mutex
	onDisconnectedHandler     server.OnDisconnectedHandler
}

func newNetConnection(connection server.Connection) *NetConnection {
	netConnection := &NetConnection{
		connection:   connection,
		router:       routerpkg.NewRouter(connection.String()),
		disconnected: make(chan struct{}),
	}

	connection.SetOnDisconnectedHandler(func() {
		netConnection.router.Close()
		close(netConnection.disconnected)

		netConnection.onDisconnectedHandlerLock.Lock()
		onDisconnectedHandler := netConnection.onDisconnectedHandler
		netConnection.onDisconnectedHandlerLock.Unlock()
		if onDisconnectedHandler != nil {
			onDisconnectedHandler()
		}
	})
	connection.SetOnInvalidFrameHandler(func(err error) {
		log.Warnf("Invalid frame from %s: %s", netConnection, err)
	})

	return netConnection
}

func (c *NetConnection) start() {
	c.connection.Start(c.router)
}

func (c *NetConnection) String() string {
	return fmt.Sprintf("<%s>", c.connection)
}

// RemoteNodeID returns the node id of the neighbour.
func (c *NetConnection) RemoteNodeID() appmessage.NodeID {
	return c.connection.RemoteNodeID()
}

// IsOutbound reports whether this node dialed the connection.
func (c *NetConnection) IsOutbound() bool {
	return c.connection.IsOutbound()
}

// SendFrame queues frame for sending. It fails without blocking when the
// connection is closed or its outgoing queue is full.
func (c *NetConnection) SendFrame(ctx context.Context, frame wireformat.Frame) error {
	err := ctx.Err()
	if err != nil {
		return errors.Wrapf(err, "sending to %s", c)
	}
	return c.router.OutgoingRoute().Enqueue(frame)
}

// IncomingRoute returns the route of frames received from the neighbour.
// It is closed when the connection is.
func (c *NetConnection) IncomingRoute() *routerpkg.Route {
	return c.router.IncomingRoute()
}

// SetOnDisconnectedHandler sets the function called once the connection
// closed.
func (c *NetConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandlerLock.Lock()
	defer c.onDisconnectedHandlerLock.Unlock()
	c.onDisconnectedHandler = onDisconnectedHandler
}

// Disconnected returns a channel closed once the connection closed.
func (c *NetConnection) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Disconnect disconnects the given connection
func (c *NetConnection) Disconnect() {
	c.connection.Disconnect()
}
