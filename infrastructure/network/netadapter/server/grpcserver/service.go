package grpcserver

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Each message of the stream is a google.protobuf.BytesValue holding one
// frame. The node id of the dialing node travels in the stream metadata.
const (
	serviceName       = "relayd.Relay"
	frameStreamName   = "FrameStream"
	frameStreamMethod = "/" + serviceName + "/" + frameStreamName
	nodeIDMetadataKey = "relayd-node-id"
)

type frameStreamServer interface {
	FrameStream(stream grpc.ServerStream) error
}

func frameStreamHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(frameStreamServer).FrameStream(stream)
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*frameStreamServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    frameStreamName,
			Handler:       frameStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay.proto",
}

type grpcStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

func sendFrameData(stream grpcStream, data []byte) error {
	return stream.SendMsg(wrapperspb.Bytes(data))
}

func receiveFrameData(stream grpcStream) ([]byte, error) {
	message := &wrapperspb.BytesValue{}
	err := stream.RecvMsg(message)
	if err != nil {
		return nil, err
	}
	return message.GetValue(), nil
}
