package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/actions"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/correlation"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/wireformat"
)

// NoLocalHandlerMessage describes requests for this node that it cannot
// answer.
const NoLocalHandlerMessage = "No local handler for the action!"

// Node executes the decisions of the forwarding engine: it forwards
// requests towards their destination, relays responses back along the
// connection the request came from and answers requests addressed to
// itself.
type Node struct {
	nodeID appmessage.NodeID
	engine *forwarding.Engine
	client *correlation.Client
	routes *RoutingTable
	now    func() time.Time

	requestTimeout int64

	localHandlersLock sync.RWMutex
	localHandlers     map[appmessage.Action]LocalHandler

	inFlight sync.WaitGroup
}

// New creates a node around engine. Heartbeats addressed to the node are
// answered locally.
func New(engine *forwarding.Engine) *Node {
	n := &Node{
		nodeID:         engine.NodeID(),
		engine:         engine,
		routes:         NewRoutingTable(),
		now:            time.Now,
		requestTimeout: int64(appmessage.DefaultRequestTimeout),
		localHandlers:  make(map[appmessage.Action]LocalHandler),
	}
	n.client = correlation.NewClient(n)
	n.HandleLocally(actions.ActionHeartbeat, TypedLocalHandler(engine, actions.HeartbeatCodec, n.answerHeartbeat))
	return n
}

// NodeID returns the id of this node.
func (n *Node) NodeID() appmessage.NodeID {
	return n.nodeID
}

// Engine returns the forwarding engine of this node.
func (n *Node) Engine() *forwarding.Engine {
	return n.engine
}

// Client returns the correlation client requests leave this node through.
func (n *Node) Client() *correlation.Client {
	return n.client
}

// Routes returns the routing table of this node.
func (n *Node) Routes() *RoutingTable {
	return n.routes
}

// SetRequestTimeout sets the timeout of received requests. The wire forms
// carry no deadline, so it runs from the moment a request is received.
func (n *Node) SetRequestTimeout(timeout time.Duration) {
	atomic.StoreInt64(&n.requestTimeout, int64(timeout))
}

// RequestTimeout returns the timeout of received requests.
func (n *Node) RequestTimeout() time.Duration {
	return time.Duration(atomic.LoadInt64(&n.requestTimeout))
}

// HandleLocally sets the handler of requests of action addressed to this
// node, replacing any previous one.
func (n *Node) HandleLocally(action appmessage.Action, handler LocalHandler) {
	n.localHandlersLock.Lock()
	defer n.localHandlersLock.Unlock()
	n.localHandlers[action] = handler
}

func (n *Node) localHandler(action appmessage.Action) (LocalHandler, bool) {
	n.localHandlersLock.RLock()
	defer n.localHandlersLock.RUnlock()
	handler, ok := n.localHandlers[action]
	return handler, ok
}

// isLocal reports whether destination means this node.
func (n *Node) isLocal(destination appmessage.NodeID) bool {
	return destination.IsZero() || destination.Equal(n.nodeID)
}

// Connect adds connection to the routing table.
func (n *Node) Connect(connection Connection) error {
	err := n.routes.Add(connection)
	if err != nil {
		return err
	}
	log.Infof("Connected to %s", connection.RemoteNodeID())
	return nil
}

// Disconnect removes connection from the routing table.
func (n *Node) Disconnect(connection Connection) {
	if n.routes.Remove(connection) {
		log.Infof("Disconnected from %s", connection.RemoteNodeID())
	}
}

// Send implements correlation.Transport over the routing table.
func (n *Node) Send(ctx context.Context, destination appmessage.NodeID,
	frame wireformat.Frame) appmessage.SentMessageResult {

	connection, ok := n.routes.Lookup(destination)
	if !ok {
		return appmessage.NewSentFailure(appmessage.SentUnknownClient, destination,
			errors.Errorf("no route to %s", destination))
	}
	err := connection.SendFrame(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return appmessage.NewSentFailure(appmessage.SentCanceled, destination, err)
		}
		return appmessage.NewSentFailure(appmessage.SentTransmissionFailed, destination, err)
	}
	return appmessage.NewSentSuccess(destination)
}

// HandleFrame processes a frame received from the neighbour from. Responses
// are handed to the waiting request or relayed on; requests go through the
// forwarding engine. Forwarded requests are awaited in the background.
func (n *Node) HandleFrame(ctx context.Context, from appmessage.NodeID, frame wireformat.Frame) error {
	message, err := wireformat.Decode(frame)
	if err != nil {
		return protocolerrors.Wrapf(protocolerrors.ParseError, err, "invalid frame from %s", from)
	}
	if message.Response != nil {
		n.handleResponse(ctx, message.Response)
		return nil
	}
	n.handleRequest(ctx, from, message.Request, message.Plain)
	return nil
}

// Wait blocks until every forwarded request got its response relayed.
func (n *Node) Wait() {
	n.inFlight.Wait()
}

func (n *Node) handleResponse(ctx context.Context, response *appmessage.ResponseEnvelope) {
	if n.client.HandleResponse(response) {
		return
	}
	if n.isLocal(response.Destination) {
		log.Warnf("Dropping unsolicited %s", response)
		return
	}
	response.NetworkPath = response.NetworkPath.Append(n.nodeID)
	n.reply(ctx, "", response, false)
}

// adoptPlainRequest fills in the routing a plain-form request left out: the
// neighbour it came from starts its network path and, without a destination,
// it goes to the default uplink.
func (n *Node) adoptPlainRequest(from appmessage.NodeID, envelope *appmessage.RequestEnvelope) {
	if envelope.NetworkPath.IsEmpty() && !from.IsZero() {
		envelope.NetworkPath = appmessage.NewNetworkPath(from)
	}
	if envelope.Destination.IsZero() {
		uplink := n.routes.DefaultUplink()
		if !uplink.IsZero() && !uplink.Equal(from) {
			envelope.Destination = uplink
		}
	}
}

func (n *Node) handleRequest(ctx context.Context, from appmessage.NodeID, envelope *appmessage.RequestEnvelope,
	plain bool) {

	if plain {
		n.adoptPlainRequest(from, envelope)
	}
	if envelope.RequestTimestamp.IsZero() {
		envelope.RequestTimestamp = time.Now()
	}
	if envelope.RequestTimeout <= 0 {
		envelope.RequestTimeout = n.RequestTimeout()
	}
	if envelope.EventTrackingID == "" {
		envelope.EventTrackingID = appmessage.NewEventTrackingID()
	}

	decision := n.engine.ProcessRequest(ctx, envelope)

	switch decision.Result {
	case forwarding.ResultForward, forwarding.ResultReplace:
		outgoing := decision.Envelope.Clone()
		if n.isLocal(outgoing.Destination) {
			decision.ReportSent(appmessage.NewSentSuccess(n.nodeID))
			n.answerLocally(ctx, from, outgoing, decision.Request, plain)
			return
		}
		outgoing.NetworkPath = outgoing.NetworkPath.Append(n.nodeID)
		n.inFlight.Add(1)
		spawn("Node.forward", func() {
			defer n.inFlight.Done()
			n.forward(ctx, from, outgoing, decision, plain)
		})

	case forwarding.ResultReject:
		if decision.ResponseEnvelope == nil {
			log.Errorf("Rejected %s without a response", envelope)
			return
		}
		if plain {
			n.reply(ctx, from, decision.ResponseEnvelope, true)
			return
		}
		n.sendFrame(ctx, from, decision.ResponseEnvelope.Destination, decision.SerializedResponse)

	case forwarding.ResultDrop:
		log.Infof("Dropped %s: %s", envelope, decision.RejectMessage)

	default:
		log.Errorf("Unexpected decision %s for %s", decision, envelope)
	}
}

func (n *Node) forward(ctx context.Context, from appmessage.NodeID, outgoing *appmessage.RequestEnvelope,
	decision *forwarding.Decision, plain bool) {

	response := n.client.SendRequest(ctx, outgoing, correlation.WithSentCallback(decision.ReportSent))
	response.NetworkPath = response.NetworkPath.Append(n.nodeID)
	if response.Destination.IsZero() {
		response.Destination = outgoing.Origin()
	}
	n.reply(ctx, from, response, plain)
}

func (n *Node) answerLocally(ctx context.Context, from appmessage.NodeID, envelope *appmessage.RequestEnvelope,
	request appmessage.Request, plain bool) {

	var response *appmessage.ResponseEnvelope
	handler, ok := n.localHandler(envelope.Action)
	if !ok {
		response = appmessage.NewErrorResponseEnvelope(envelope,
			appmessage.NewResult(appmessage.ResultCodeNotImplemented, NoLocalHandlerMessage).
				WithDetails(string(envelope.Action)))
	} else {
		var err error
		response, err = handler(ctx, envelope, request)
		if err != nil {
			log.Debugf("Local handler of %s failed: %s", envelope, err)
			response = appmessage.NewErrorResponseEnvelope(envelope, localResultFor(err))
		}
	}
	response.NetworkPath = appmessage.NewNetworkPath(n.nodeID)
	n.reply(ctx, from, response, plain)
}

// reply encodes response and sends it to from, or along the route to its
// destination when from is not a neighbour. Requests received in the plain
// form are answered in the plain form.
func (n *Node) reply(ctx context.Context, from appmessage.NodeID, response *appmessage.ResponseEnvelope, plain bool) {
	encode := wireformat.EncodeResponse
	if plain {
		encode = wireformat.EncodePlainResponse
	}
	frame, err := encode(response)
	if err != nil {
		log.Errorf("Could not encode %s: %+v", response, err)
		return
	}
	n.sendFrame(ctx, from, response.Destination, frame)
}

func (n *Node) sendFrame(ctx context.Context, from appmessage.NodeID, destination appmessage.NodeID,
	frame wireformat.Frame) {

	connection, ok := n.routes.Get(from)
	if !ok {
		connection, ok = n.routes.Lookup(destination)
	}
	if !ok {
		log.Warnf("No route back to %s", destination)
		return
	}
	err := connection.SendFrame(ctx, frame)
	if err != nil {
		log.Warnf("Could not send to %s: %s", connection.RemoteNodeID(), err)
	}
}
