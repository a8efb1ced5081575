package grpcserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"google.golang.org/grpc"
)

type gRPCConnection struct {
	server                   *gRPCServer
	remoteNodeID             appmessage.NodeID
	address                  string
	stream                   grpcStream
	router                   *router.Router
	lowLevelClientConnection *grpc.ClientConn
	cancelStream             context.CancelFunc

	// streamLock protects concurrent access to stream.
	// Note that it's an RWMutex. Despite what the name
	// implies, we use it to RLock() send() and receive() because
	// they can work perfectly fine in parallel, and Lock()
	// closeSend() because it must run alone.
	streamLock sync.RWMutex

	stopChan              chan struct{}
	onDisconnectedHandler server.OnDisconnectedHandler
	onInvalidFrameHandler server.OnInvalidFrameHandler

	isConnected uint32
}

func newConnection(server *gRPCServer, remoteNodeID appmessage.NodeID, address string, stream grpcStream,
	lowLevelClientConnection *grpc.ClientConn, cancelStream context.CancelFunc) *gRPCConnection {

	return &gRPCConnection{
		server:                   server,
		remoteNodeID:             remoteNodeID,
		address:                  address,
		stream:                   stream,
		stopChan:                 make(chan struct{}),
		isConnected:              1,
		lowLevelClientConnection: lowLevelClientConnection,
		cancelStream:             cancelStream,
	}
}

func (c *gRPCConnection) Start(router *router.Router) {
	if c.onDisconnectedHandler == nil {
		panic(errors.New("onDisconnectedHandler is nil"))
	}

	c.router = router

	spawn("gRPCConnection.Start-connectionLoops", func() {
		err := c.connectionLoops()
		if err != nil {
			log.Warnf("Error from connectionLoops for %s: %s", c, err)
		}
	})
}

func (c *gRPCConnection) String() string {
	return fmt.Sprintf("%s@%s", c.remoteNodeID, c.address)
}

func (c *gRPCConnection) RemoteNodeID() appmessage.NodeID {
	return c.remoteNodeID
}

func (c *gRPCConnection) IsConnected() bool {
	return atomic.LoadUint32(&c.isConnected) != 0
}

func (c *gRPCConnection) SetOnDisconnectedHandler(onDisconnectedHandler server.OnDisconnectedHandler) {
	c.onDisconnectedHandler = onDisconnectedHandler
}

func (c *gRPCConnection) SetOnInvalidFrameHandler(onInvalidFrameHandler server.OnInvalidFrameHandler) {
	c.onInvalidFrameHandler = onInvalidFrameHandler
}

func (c *gRPCConnection) IsOutbound() bool {
	return c.lowLevelClientConnection != nil
}

// Disconnect disconnects the connection
// Calling this function a second time doesn't do anything
//
// This is part of the Connection interface
func (c *gRPCConnection) Disconnect() {
	if !atomic.CompareAndSwapUint32(&c.isConnected, 1, 0) {
		return
	}

	close(c.stopChan)

	if c.IsOutbound() {
		c.closeSend()
		log.Debugf("Closed the stream to %s", c)
	}

	log.Infof("Disconnected from %s", c)
	if c.onDisconnectedHandler != nil {
		c.onDisconnectedHandler()
	}
}

func (c *gRPCConnection) receive() ([]byte, error) {
	// We use RLock here and in send() because they can work
	// in parallel. closeSend(), however, must not have either
	// receive() nor send() running while it's running.
	c.streamLock.RLock()
	defer c.streamLock.RUnlock()

	return receiveFrameData(c.stream)
}

func (c *gRPCConnection) send(data []byte) error {
	// We use RLock here and in receive() because they can work
	// in parallel. closeSend(), however, must not have either
	// receive() nor send() running while it's running.
	c.streamLock.RLock()
	defer c.streamLock.RUnlock()

	return sendFrameData(c.stream, data)
}

func (c *gRPCConnection) closeSend() {
	// Canceling the stream unblocks a pending receive() so the lock below
	// can be taken.
	c.cancelStream()

	c.streamLock.Lock()
	defer c.streamLock.Unlock()

	clientStream := c.stream.(grpc.ClientStream)

	// ignore error because we don't really know what's the status of the connection
	_ = clientStream.CloseSend()
	_ = c.lowLevelClientConnection.Close()
}
