package server

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

// OnConnectedHandler is a function that is to be called
// once a new Connection is successfully established.
type OnConnectedHandler func(connection Connection) error

// OnDisconnectedHandler is a function that is to be
// called once a Connection has been disconnected.
type OnDisconnectedHandler func()

// OnInvalidFrameHandler is a function that is to be called when
// an invalid frame (cannot be read or queued) was received from a
// connection.
type OnInvalidFrameHandler func(err error)

// Server accepts connections from other nodes.
type Server interface {
	Start() error
	Stop() error
	SetOnConnectedHandler(onConnectedHandler OnConnectedHandler)
}

// Dialer opens connections to other nodes.
type Dialer interface {
	// Dial connects to address and announces localNodeID. The remote side
	// is known as remoteNodeID.
	Dial(ctx context.Context, address string, localNodeID, remoteNodeID appmessage.NodeID) (Connection, error)
}

// Connection is a connection to a neighbouring node.
type Connection interface {
	fmt.Stringer
	RemoteNodeID() appmessage.NodeID
	Start(router *router.Router)
	Disconnect()
	IsConnected() bool
	IsOutbound() bool
	SetOnDisconnectedHandler(onDisconnectedHandler OnDisconnectedHandler)
	SetOnInvalidFrameHandler(onInvalidFrameHandler OnInvalidFrameHandler)
}

// ErrNetwork is an error related to the internals of the connection, and not an error that
// came from outside (e.g. from OnDisconnectedHandler).
var ErrNetwork = errors.New("network error")
