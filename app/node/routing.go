package node

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
)

// Connection is a live link to a neighbouring node.
type Connection interface {
	RemoteNodeID() appmessage.NodeID
	SendFrame(ctx context.Context, frame wireformat.Frame) error
}

// RoutingTable maps neighbour node ids to their connections. Destinations
// without a connection of their own are sent to the default uplink.
type RoutingTable struct {
	lock          sync.RWMutex
	connections   map[string]Connection
	defaultUplink appmessage.NodeID
}

// NewRoutingTable returns an empty routing table
func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		connections: make(map[string]Connection),
	}
}

// Add registers connection under its remote node id.
func (t *RoutingTable) Add(connection Connection) error {
	nodeID := connection.RemoteNodeID()
	if nodeID.IsZero() {
		return errors.Errorf("cannot route to node id %q", nodeID)
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if _, exists := t.connections[nodeID.Key()]; exists {
		return errors.Errorf("node %s is already connected", nodeID)
	}
	t.connections[nodeID.Key()] = connection
	return nil
}

// Remove unregisters connection. It reports false if another connection
// took its place in the meantime.
func (t *RoutingTable) Remove(connection Connection) bool {
	key := connection.RemoteNodeID().Key()

	t.lock.Lock()
	defer t.lock.Unlock()

	if t.connections[key] != connection {
		return false
	}
	delete(t.connections, key)
	return true
}

// Get returns the connection to the given neighbour.
func (t *RoutingTable) Get(nodeID appmessage.NodeID) (Connection, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	connection, ok := t.connections[nodeID.Key()]
	return connection, ok
}

// SetDefaultUplink sets the neighbour that receives everything without a
// route of its own.
func (t *RoutingTable) SetDefaultUplink(nodeID appmessage.NodeID) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.defaultUplink = nodeID
}

// DefaultUplink returns the default uplink's node id.
func (t *RoutingTable) DefaultUplink() appmessage.NodeID {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.defaultUplink
}

// Lookup returns the connection destination is reached through.
func (t *RoutingTable) Lookup(destination appmessage.NodeID) (Connection, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if connection, ok := t.connections[destination.Key()]; ok {
		return connection, true
	}
	if t.defaultUplink.IsZero() {
		return nil, false
	}
	connection, ok := t.connections[t.defaultUplink.Key()]
	return connection, ok
}

// NodeIDs returns the ids of all connected neighbours in order.
func (t *RoutingTable) NodeIDs() []appmessage.NodeID {
	t.lock.RLock()
	defer t.lock.RUnlock()

	nodeIDs := make([]appmessage.NodeID, 0, len(t.connections))
	for _, connection := range t.connections {
		nodeIDs = append(nodeIDs, connection.RemoteNodeID())
	}
	sort.Slice(nodeIDs, func(i, j int) bool {
		return nodeIDs[i].Compare(nodeIDs[j]) < 0
	})
	return nodeIDs
}

// Len returns the number of connected neighbours.
func (t *RoutingTable) Len() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.connections)
}
