package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Uplink transports.
const (
	TransportNone      = ""
	TransportWebsocket = "websocket"
	TransportGRPC      = "grpc"
)

// NodeFlags holds the identity of this node and where it connects to.
type NodeFlags struct {
	NodeID       string `short:"n" long:"nodeid" description:"The node id this node is known by in the network"`
	Uplink       string `long:"uplink" description:"Address of the node requests without a route are forwarded to (ws://, wss:// or grpc://host:port)"`
	UplinkNodeID string `long:"uplinknodeid" description:"The node id of the uplink"`

	uplinkURL *url.URL
}

// ResolveNode validates the node identity and parses the uplink address.
func (nodeFlags *NodeFlags) ResolveNode(parser *flags.Parser) error {
	nodeFlags.NodeID = strings.TrimSpace(nodeFlags.NodeID)
	if nodeFlags.NodeID == "" || nodeFlags.NodeID == "-" {
		err := errors.Errorf("A node id is required. Please specify one with --nodeid")
		fmt.Fprintln(os.Stderr, err)
		parser.WriteHelp(os.Stderr)
		return err
	}

	nodeFlags.uplinkURL = nil
	if nodeFlags.Uplink == "" {
		return nil
	}
	uplinkURL, err := url.Parse(nodeFlags.Uplink)
	if err != nil {
		return errors.Wrapf(err, "invalid uplink address %q", nodeFlags.Uplink)
	}
	switch uplinkURL.Scheme {
	case "ws", "wss", "grpc":
	default:
		return errors.Errorf("unsupported uplink scheme %q, use ws, wss or grpc", uplinkURL.Scheme)
	}
	if uplinkURL.Host == "" {
		return errors.Errorf("the uplink address %q has no host", nodeFlags.Uplink)
	}

	nodeFlags.UplinkNodeID = strings.TrimSpace(nodeFlags.UplinkNodeID)
	if nodeFlags.UplinkNodeID == "" || nodeFlags.UplinkNodeID == "-" {
		return errors.Errorf("--uplink requires --uplinknodeid")
	}
	if strings.EqualFold(nodeFlags.UplinkNodeID, nodeFlags.NodeID) {
		return errors.Errorf("the uplink cannot have the node id of this node")
	}
	nodeFlags.uplinkURL = uplinkURL
	return nil
}

// UplinkTransport returns the transport the uplink is reached through.
func (nodeFlags *NodeFlags) UplinkTransport() string {
	if nodeFlags.uplinkURL == nil {
		return TransportNone
	}
	if nodeFlags.uplinkURL.Scheme == "grpc" {
		return TransportGRPC
	}
	return TransportWebsocket
}

// UplinkURL returns the parsed uplink address, or nil without an uplink.
func (nodeFlags *NodeFlags) UplinkURL() *url.URL {
	return nodeFlags.uplinkURL
}
