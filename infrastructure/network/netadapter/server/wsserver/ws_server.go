package wsserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/network/netadapter/server"
	"github.com/voltgrid/relayd/util/panics"
)

// Subprotocol is the websocket subprotocol nodes negotiate.
const Subprotocol = "relayd.v1"

const readHeaderTimeout = 10 * time.Second

type wsServer struct {
	onConnectedHandler server.OnConnectedHandler
	listeningAddresses []string
	httpServers        []*http.Server

	connectionsLock sync.Mutex
	connections     map[*wsConnection]struct{}
}

// NewServer creates a websocket server. A node connects by opening a
// websocket on /{nodeID}, announcing the id it is known by.
func NewServer(listeningAddresses []string) server.Server {
	return &wsServer{
		listeningAddresses: listeningAddresses,
		connections:        make(map[*wsConnection]struct{}),
	}
}

func (s *wsServer) Start() error {
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

func (s *wsServer) listenOn(listenAddr string) error {
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrapf(err, "error listening on %s", listenAddr)
	}

	httpServer := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.httpServers = append(s.httpServers, httpServer)

	spawn("wsServer.listenOn-Serve", func() {
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panics.Exit(log, fmt.Sprintf("error serving websockets on %s: %+v", listenAddr, err))
		}
	})

	log.Infof("Websocket server listening on %s", listener.Addr())
	return nil
}

func (s *wsServer) handler() http.Handler {
	router := chi.NewRouter()
	router.Get("/{nodeID}", s.handleInboundConnection)
	return router
}

func (s *wsServer) Stop() error {
	const stopTimeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	for _, httpServer := range s.httpServers {
		err := httpServer.Shutdown(ctx)
		if err != nil {
			log.Warnf("Could not gracefully stop the websocket server: %s", err)
			_ = httpServer.Close()
		}
	}

	// Hijacked connections outlive Shutdown.
	s.connectionsLock.Lock()
	connections := make([]*wsConnection, 0, len(s.connections))
	for connection := range s.connections {
		connections = append(connections, connection)
	}
	s.connectionsLock.Unlock()
	for _, connection := range connections {
		connection.Disconnect()
	}
	return nil
}

// SetOnConnectedHandler sets the peer connected handler
// function for the server
func (s *wsServer) SetOnConnectedHandler(onConnectedHandler server.OnConnectedHandler) {
	s.onConnectedHandler = onConnectedHandler
}

func (s *wsServer) handleInboundConnection(w http.ResponseWriter, r *http.Request) {
	defer panics.HandlePanic(log, "wsServer.handleInboundConnection", nil)

	remoteNodeID, ok := appmessage.TryParseNodeID(chi.URLParam(r, "nodeID"))
	if !ok || remoteNodeID.IsZero() {
		http.Error(w, "a node id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		log.Warnf("Could not accept a websocket from %s: %s", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(wireformat.MaxFrameSize)
	log.Debugf("Accepted a websocket from %s (%s) at %s", remoteNodeID, r.UserAgent(), r.RemoteAddr)

	connection := newConnection(conn, remoteNodeID, r.RemoteAddr, false)
	s.track(connection)
	defer s.untrack(connection)

	err = s.onConnectedHandler(connection)
	if err != nil {
		log.Warnf("Refused connection from %s: %s", connection, err)
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	log.Infof("Incoming connection from %s", connection)

	<-connection.stopChan
}

func (s *wsServer) track(connection *wsConnection) {
	s.connectionsLock.Lock()
	defer s.connectionsLock.Unlock()
	s.connections[connection] = struct{}{}
}

func (s *wsServer) untrack(connection *wsConnection) {
	s.connectionsLock.Lock()
	defer s.connectionsLock.Unlock()
	delete(s.connections, connection)
}
