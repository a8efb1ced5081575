package grpcserver

import (
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/util/panics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// relayServer accepts the frame streams of other nodes.
type relayServer struct {
	*gRPCServer
}

// maxMessageSize leaves room for the protobuf framing around a frame.
const maxMessageSize = wireformat.MaxFrameSize + 1024

// NewRelayServer creates a gRPC server accepting frame streams on
// listeningAddresses.
func NewRelayServer(listeningAddresses []string) server.Server {
	gRPCServer := newGRPCServer(listeningAddresses, maxMessageSize, "Relay")
	relayServer := &relayServer{gRPCServer: gRPCServer}
	gRPCServer.server.RegisterService(&relayServiceDesc, relayServer)
	return relayServer
}

func (r *relayServer) FrameStream(stream grpc.ServerStream) error {
	defer panics.HandlePanic(log, "relayServer.FrameStream", nil)

	remoteNodeID, err := nodeIDFromMetadata(stream)
	if err != nil {
		return err
	}
	peerInfo, ok := peer.FromContext(stream.Context())
	if !ok {
		return errors.Errorf("Error getting stream peer info from context")
	}
	return r.handleInboundConnection(remoteNodeID, peerInfo.Addr.String(), stream)
}

func nodeIDFromMetadata(stream grpc.ServerStream) (appmessage.NodeID, error) {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return "", errors.New("the stream carries no metadata")
	}
	values := md.Get(nodeIDMetadataKey)
	if len(values) != 1 {
		return "", errors.Errorf("the stream must carry exactly one %s", nodeIDMetadataKey)
	}
	nodeID, ok := appmessage.TryParseNodeID(values[0])
	if !ok || nodeID.IsZero() {
		return "", errors.Errorf("invalid node id %q", values[0])
	}
	return nodeID, nil
}
