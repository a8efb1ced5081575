package grpcserver

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/util/panics"
	"google.golang.org/grpc"
)

type gRPCServer struct {
	onConnectedHandler server.OnConnectedHandler
	listeningAddresses []string
	server             *grpc.Server
	name               string

	connectionsLock sync.Mutex
	connections     map[*gRPCConnection]struct{}
}

// newGRPCServer creates a gRPC server
func newGRPCServer(listeningAddresses []string, maxMessageSize int, name string) *gRPCServer {
	log.Debugf("Created new %s GRPC server with maxMessageSize %d", name, maxMessageSize)
	return &gRPCServer{
		server:             grpc.NewServer(grpc.MaxRecvMsgSize(maxMessageSize), grpc.MaxSendMsgSize(maxMessageSize)),
		listeningAddresses: listeningAddresses,
		name:               name,
		connections:        make(map[*gRPCConnection]struct{}),
	}
}

func (s *gRPCServer) Start() error {
	if s.onConnectedHandler == nil {
		return errors.New("onConnectedHandler is nil")
	}

	for _, listenAddress := range s.listeningAddresses {
		err := s.listenOn(listenAddress)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *gRPCServer) listenOn(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrapf(err, "%s error listening on %s", s.name, listenAddr)
	}
	s.serve(listener)
	return nil
}

func (s *gRPCServer) serve(listener net.Listener) {
	spawn(fmt.Sprintf("%s.gRPCServer.serve", s.name), func() {
		err := s.server.Serve(listener)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			panics.Exit(log, fmt.Sprintf("error serving %s on %s: %+v", s.name, listener.Addr(), err))
		}
	})

	log.Infof("%s Server listening on %s", s.name, listener.Addr())
}

func (s *gRPCServer) Stop() error {
	const stopTimeout = 2 * time.Second

	s.connectionsLock.Lock()
	connections := make([]*gRPCConnection, 0, len(s.connections))
	for connection := range s.connections {
		connections = append(connections, connection)
	}
	s.connectionsLock.Unlock()
	for _, connection := range connections {
		connection.Disconnect()
	}

	stopChan := make(chan interface{})
	spawn("gRPCServer.Stop", func() {
		s.server.GracefulStop()
		close(stopChan)
	})

	select {
	case <-stopChan:
	case <-time.After(stopTimeout):
		log.Warnf("Could not gracefully stop %s: timed out after %s", s.name, stopTimeout)
		s.server.Stop()
	}
	return nil
}

// SetOnConnectedHandler sets the peer connected handler
// function for the server
func (s *gRPCServer) SetOnConnectedHandler(onConnectedHandler server.OnConnectedHandler) {
	s.onConnectedHandler = onConnectedHandler
}

func (s *gRPCServer) handleInboundConnection(remoteNodeID appmessage.NodeID, address string, stream grpcStream) error {
	connection := newConnection(s, remoteNodeID, address, stream, nil, nil)

	s.connectionsLock.Lock()
	s.connections[connection] = struct{}{}
	s.connectionsLock.Unlock()
	defer func() {
		s.connectionsLock.Lock()
		defer s.connectionsLock.Unlock()
		delete(s.connections, connection)
	}()

	err := s.onConnectedHandler(connection)
	if err != nil {
		return err
	}

	log.Infof("%s Incoming connection from %s", s.name, connection)

	<-connection.stopChan

	return nil
}
