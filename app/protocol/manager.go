package protocol

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/node"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter"
	routerpkg "github.com/voltgrid/relayd/infrastructure/network/netadapter/router"
)

// Manager connects the connections of the net adapter to the node: every
// connection becomes a route of the node and its frames are handed to the
// node in the order they arrive.
type Manager struct {
	node             *node.Node
	ctx              context.Context
	cancel           context.CancelFunc
	routersWaitGroup sync.WaitGroup

	// closeLock orders new frame loops before Close starts waiting for them.
	closeLock sync.Mutex
	isClosed  bool
}

// NewManager creates a new instance of the protocol manager
func NewManager(relayNode *node.Node, netAdapter *netadapter.NetAdapter) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	manager := &Manager{
		node:   relayNode,
		ctx:    ctx,
		cancel: cancel,
	}
	netAdapter.SetRouterInitializer(manager.routerInitializer)
	return manager
}

// Close closes the protocol manager, cancels requests in flight and waits
// until all frame loops finish.
func (m *Manager) Close() {
	m.closeLock.Lock()
	if m.isClosed {
		m.closeLock.Unlock()
		panic(errors.New("The protocol manager was already closed"))
	}
	m.isClosed = true
	m.closeLock.Unlock()

	m.cancel()
	m.routersWaitGroup.Wait()
	m.node.Wait()
}

func (m *Manager) routerInitializer(_ *routerpkg.Router, connection *netadapter.NetConnection) error {
	m.closeLock.Lock()
	defer m.closeLock.Unlock()

	if m.isClosed {
		return errors.New("the protocol manager is closed")
	}
	err := m.node.Connect(connection)
	if err != nil {
		return err
	}
	connection.SetOnDisconnectedHandler(func() {
		m.node.Disconnect(connection)
	})

	m.routersWaitGroup.Add(1)
	spawn("Manager.routerInitializer-handleFrames", func() {
		defer m.routersWaitGroup.Done()
		m.handleFrames(connection)
	})
	return nil
}

func (m *Manager) handleFrames(connection *netadapter.NetConnection) {
	for {
		frame, err := connection.IncomingRoute().DequeueWithContext(m.ctx)
		if err != nil {
			if !errors.Is(err, routerpkg.ErrRouteClosed) && !errors.Is(err, context.Canceled) {
				log.Warnf("Stopped reading frames from %s: %s", connection, err)
			}
			return
		}
		err = m.node.HandleFrame(m.ctx, connection.RemoteNodeID(), frame)
		if err != nil {
			if protocolerrors.Is(err, protocolerrors.ParseError) {
				log.Warnf("Dropped an invalid frame from %s: %s", connection, err)
				continue
			}
			log.Errorf("Error handling a frame from %s: %+v", connection, err)
		}
	}
}
