package grpcserver

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/version"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type dialer struct{}

// NewDialer returns a Dialer opening frame streams to gRPC relay servers.
// Addresses are host:port or grpc://host:port.
func NewDialer() server.Dialer {
	return dialer{}
}

func (dialer) Dial(ctx context.Context, address string, localNodeID, remoteNodeID appmessage.NodeID) (
	server.Connection, error) {

	target := address
	if parsed, err := url.Parse(address); err == nil && parsed.Scheme == "grpc" {
		target = parsed.Host
	}

	gRPCConnection, err := grpc.DialContext(ctx, target, grpc.WithInsecure(), grpc.WithBlock(),
		grpc.WithUserAgent(version.Agent()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)))
	if err != nil {
		return nil, errors.Wrapf(err, "error connecting to %s", target)
	}

	streamContext, cancelStream := context.WithCancel(context.Background())
	streamContext = metadata.AppendToOutgoingContext(streamContext, nodeIDMetadataKey, localNodeID.String())
	stream, err := gRPCConnection.NewStream(streamContext, &relayServiceDesc.Streams[0], frameStreamMethod)
	if err != nil {
		cancelStream()
		_ = gRPCConnection.Close()
		return nil, errors.Wrapf(err, "error getting client stream for %s", target)
	}

	log.Debugf("Connected to %s at %s", remoteNodeID, target)
	return newConnection(nil, remoteNodeID, target, stream, gRPCConnection, cancelStream), nil
}
