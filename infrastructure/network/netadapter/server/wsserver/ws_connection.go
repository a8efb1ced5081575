package wsserver

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
)

type wsConnection struct {
	remoteNodeID appmessage.NodeID
	address      string
	conn         *websocket.Conn
	router       *router.Router
	outbound     bool

	// ctx is canceled on Disconnect and unblocks pending reads and writes.
	ctx    context.Context
	cancel context.CancelFunc

	stopChan              chan struct{}
	onDisconnectedHandler server.OnDisconnectedHandler
	onInvalidFrameHandler server.OnInvalidFrameHandler

	isConnected uint32
}

func newConnection(conn *websocket.Conn, remoteNodeID appmessage.NodeID, address string, outbound bool) *wsConnection {
	ctx, cancel := context.WithCancel(context.Background())
	return &wsConnection{
		remoteNodeID: remoteNodeID,
		address:      address,
		conn:         conn,
		outbound:     outbound,
		ctx:          ctx,
		cancel:       cancel,
		stopChan:     make(chan struct{}),
		isConnected:  1,
	}
}

func (c *wsConnection) Start(router *router.Router) {
	if c.onDisconnectedHandler == nil {
		panic(errors.New("onDisconnectedHandler is nil"))
	}

	c.router = router

	spawn("wsConnection.Start-connectionLoops", func() {
		err := c.connectionLoops()
		if err != nil {
			log.Warnf("Error from connectionLoops for %s: %s", c, err)
		}
	})
}

func (c *wsConnection) String() string {
	return fmt.Sprintf("%s@%s", c.remoteNodeID, c.address)
}

func (c *wsConnection) RemoteNodeID() appmessage.NodeID {
	return c.remoteNodeID
}

func (c *wsConnection) IsConnected() bool {
	return atomic.LoadUint32(&c.isConnected) != 0
}

func (c *wsConnection) IsOutbound() bool {
	return c.outbound
}

func (c *wsConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}

func (c *wsConnection) SetOnInvalidFrameHandler(onInvalidFrameHandler server.OnInvalidFrameHandler) {
	c.onInvalidFrameHandler = onInvalidFrameHandler
}

// Disconnect disconnects the connection
// Calling this function a second time doesn't do anything
//
// This is part of the Connection interface
func (c *wsConnection) Disconnect() {
	if !atomic.CompareAndSwapUint32(&c.isConnected, 1, 0) {
		return
	}

	close(c.stopChan)
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")

	log.Infof("Disconnected from %s", c)
	if c.onDisconnectedHandler != nil {
		c.onDisconnectedHandler()
	}
}
