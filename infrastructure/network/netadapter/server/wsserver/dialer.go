package wsserver

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/version"
)

const defaultDialTimeout = 30 * time.Second

// DialFunc opens a network connection, possibly through a proxy.
type DialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

type dialer struct {
	dial DialFunc
}

// NewDialer returns a Dialer opening websockets over connections made by
// dial.
func NewDialer(dial DialFunc) server.Dialer {
	if dial == nil {
		dial = net.DialTimeout
	}
	return &dialer{dial: dial}
}

// Dial opens a websocket on address extended by /localNodeID.
func (d *dialer) Dial(ctx context.Context, address string, localNodeID, remoteNodeID appmessage.NodeID) (
	server.Connection, error) {

	endpoint, err := url.Parse(address)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid websocket address %q", address)
	}
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + "/" + localNodeID.String()
	endpoint.RawPath = ""

	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
				timeout := defaultDialTimeout
				if deadline, ok := ctx.Deadline(); ok {
					timeout = time.Until(deadline)
				}
				return d.dial(network, address, timeout)
			},
		},
	}
	conn, _, err := websocket.Dial(ctx, endpoint.String(), &websocket.DialOptions{
		HTTPClient:   httpClient,
		HTTPHeader:   http.Header{"User-Agent": []string{version.Agent()}},
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", endpoint.Redacted())
	}
	conn.SetReadLimit(wireformat.MaxFrameSize)

	log.Debugf("Connected to %s at %s", remoteNodeID, endpoint.Host)
	return newConnection(conn, remoteNodeID, endpoint.Host, true), nil
}
