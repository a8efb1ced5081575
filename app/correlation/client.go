package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
)

// Transport delivers an encoded frame to the connection leading to
// destination.
type Transport interface {
	Send(ctx context.Context, destination appmessage.NodeID, frame wireformat.Frame) appmessage.SentMessageResult
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, destination appmessage.NodeID, frame wireformat.Frame) appmessage.SentMessageResult

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, destination appmessage.NodeID,
	frame wireformat.Frame) appmessage.SentMessageResult {

	return f(ctx, destination, frame)
}

// Descriptions of synthesized responses.
const (
	FormatErrorDescription   = "Format"
	TimeoutDescription       = "Timeout"
	NetworkErrorDescription  = "Network error"
	DuplicateIDDescription   = "Duplicate request id"
	ParseFailureDescription  = "The response could not be parsed!"
	MissingRequestIDDetails  = "the request has no request id"
	canceledSendFailureValue = "the send was canceled"
)

type pendingRequest struct {
	request   *appmessage.RequestEnvelope
	responses chan *appmessage.ResponseEnvelope
}

// Client sends requests and matches the responses that arrive through
// HandleResponse to them.
type Client struct {
	transport Transport

	lock    sync.Mutex
	pending map[appmessage.RequestID]*pendingRequest

	now func() time.Time
}

// NewClient creates a client sending through transport.
func NewClient(transport Transport) *Client {
	return &Client{
		transport: transport,
		pending:   make(map[appmessage.RequestID]*pendingRequest),
		now:       time.Now,
	}
}

type sendOptions struct {
	sentCallback func(result appmessage.SentMessageResult)
}

// SendOption configures a single Send.
type SendOption func(options *sendOptions)

// WithSentCallback makes Send report the outcome of the delivery attempt to
// callback before waiting for the response.
func WithSentCallback(callback func(result appmessage.SentMessageResult)) SendOption {
	return func(options *sendOptions) {
		options.sentCallback = callback
	}
}

// Send sends request and waits at most timeout for its response. It always
// returns a response: failures to encode, send or receive in time are turned
// into error responses carrying the matching Result.
func (c *Client) Send(ctx context.Context, request *appmessage.RequestEnvelope, timeout time.Duration,
	options ...SendOption) *appmessage.ResponseEnvelope {

	sendOptions := &sendOptions{}
	for _, option := range options {
		option(sendOptions)
	}

	if request.RequestID == "" {
		return synthesize(request, appmessage.ResultCodeFormationViolation, FormatErrorDescription,
			errors.New(MissingRequestIDDetails))
	}
	if timeout <= 0 {
		return synthesize(request, appmessage.ResultCodeTimeout, TimeoutDescription,
			errors.Errorf("the deadline of %s passed before it was sent", request.RequestID))
	}
	frame, err := wireformat.EncodeRequest(request)
	if err != nil {
		return synthesize(request, appmessage.ResultCodeFormationViolation, FormatErrorDescription, err)
	}

	pending := &pendingRequest{
		request:   request,
		responses: make(chan *appmessage.ResponseEnvelope, 1),
	}
	if !c.addPending(request.RequestID, pending) {
		return synthesize(request, appmessage.ResultCodeGenericError, DuplicateIDDescription,
			errors.Errorf("request %s is already in flight", request.RequestID))
	}
	defer c.removePending(request.RequestID, pending)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sendResult := c.transport.Send(ctx, request.Destination, frame)
	if sendOptions.sentCallback != nil {
		sendOptions.sentCallback(sendResult)
	}
	if !sendResult.IsSuccess() {
		log.Debugf("Sending %s failed: %s", request, sendResult)
		if sendResult.Code == appmessage.SentCanceled {
			return synthesize(request, appmessage.ResultCodeTimeout, TimeoutDescription, sendFailure(sendResult))
		}
		return synthesize(request, appmessage.ResultCodeNetworkError, NetworkErrorDescription, sendFailure(sendResult))
	}

	select {
	case response := <-pending.responses:
		return classify(response)
	case <-timer.C:
		log.Debugf("No response to %s within %s", request, timeout)
		return synthesize(request, appmessage.ResultCodeTimeout, TimeoutDescription,
			errors.Errorf("no response within %s", timeout))
	case <-ctx.Done():
		return synthesize(request, appmessage.ResultCodeTimeout, TimeoutDescription, ctx.Err())
	}
}

// SendRequest sends request with the part of its RequestTimeout that is left.
func (c *Client) SendRequest(ctx context.Context, request *appmessage.RequestEnvelope,
	options ...SendOption) *appmessage.ResponseEnvelope {

	return c.Send(ctx, request, request.RemainingTimeout(c.now()), options...)
}

// HandleResponse hands response to the Send waiting for it. It reports false
// when no request with the response's RequestID is in flight.
func (c *Client) HandleResponse(response *appmessage.ResponseEnvelope) bool {
	c.lock.Lock()
	pending, ok := c.pending[response.RequestID]
	if ok {
		delete(c.pending, response.RequestID)
	}
	c.lock.Unlock()

	if !ok {
		log.Debugf("Got %s but no request %s is in flight", response, response.RequestID)
		return false
	}
	pending.responses <- response
	return true
}

// PendingCount returns the number of requests in flight.
func (c *Client) PendingCount() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.pending)
}

func (c *Client) addPending(requestID appmessage.RequestID, pending *pendingRequest) bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if _, exists := c.pending[requestID]; exists {
		return false
	}
	c.pending[requestID] = pending
	return true
}

func (c *Client) removePending(requestID appmessage.RequestID, pending *pendingRequest) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pending[requestID] == pending {
		delete(c.pending, requestID)
	}
}

// classify attaches the Result of a received response.
func classify(response *appmessage.ResponseEnvelope) *appmessage.ResponseEnvelope {
	if response.Result != nil {
		return response
	}
	if response.IsError() {
		response.Result = appmessage.NewResult(appmessage.ResultCodeFromErrorCode(response.ErrorCode),
			response.ErrorDescription).WithDetails(string(response.ErrorDetails))
		return response
	}
	response.Result = appmessage.OKResult()
	return response
}

func synthesize(request *appmessage.RequestEnvelope, code appmessage.ResultCode, description string,
	cause error) *appmessage.ResponseEnvelope {

	result := appmessage.NewResult(code, description)
	if cause != nil {
		result = result.WithDetails(cause.Error())
	}
	return appmessage.NewErrorResponseEnvelope(request, result)
}

func sendFailure(result appmessage.SentMessageResult) error {
	if result.Error != nil {
		return errors.Wrapf(result.Error, "%s", result.Code)
	}
	if result.Code == appmessage.SentCanceled {
		return errors.New(canceledSendFailureValue)
	}
	return errors.Errorf("%s", result)
}
