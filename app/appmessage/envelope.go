package appmessage

import (
	"fmt"
	"time"
)

// RequestEnvelope is a request as it travels between nodes: correlation and
// routing metadata around a payload that has not been parsed yet.
type RequestEnvelope struct {
	RequestID           RequestID
	Action              Action
	Payload             []byte
	Destination         NodeID
	NetworkPath         NetworkPath
	RequestTimestamp    time.Time
	RequestTimeout      time.Duration
	EventTrackingID     EventTrackingID
	SerializationFormat SerializationFormat
}

// Origin returns the first hop of the network path.
func (e *RequestEnvelope) Origin() NodeID {
	return e.NetworkPath.Source()
}

// Deadline is RequestTimestamp plus RequestTimeout.
func (e *RequestEnvelope) Deadline() time.Time {
	return deadline(e.RequestTimestamp, e.RequestTimeout)
}

// RemainingTimeout is the part of RequestTimeout not yet consumed at now.
// Forwarding with the remaining timeout keeps the original deadline.
func (e *RequestEnvelope) RemainingTimeout(now time.Time) time.Duration {
	remaining := e.Deadline().Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Clone returns a copy of e. The payload is shared; envelopes never modify
// it.
func (e *RequestEnvelope) Clone() *RequestEnvelope {
	clone := *e
	return &clone
}

func (e *RequestEnvelope) String() string {
	return fmt.Sprintf("%s request %s for %s via [%s] (%s)",
		e.Action, e.RequestID, e.Destination, e.NetworkPath, e.SerializationFormat)
}

// ResponseEnvelope is a response or error response as it travels between
// nodes. Result is the local classification; it is not part of the wire form.
type ResponseEnvelope struct {
	RequestID           RequestID
	Destination         NodeID
	NetworkPath         NetworkPath
	Payload             []byte
	ErrorCode           ErrorCode
	ErrorDescription    string
	ErrorDetails        []byte
	ResponseTimestamp   time.Time
	EventTrackingID     EventTrackingID
	SerializationFormat SerializationFormat
	Result              *Result
}

// IsError reports whether e is an error response.
func (e *ResponseEnvelope) IsError() bool {
	return e.ErrorCode != ""
}

// NewErrorResponseEnvelope creates an error response for the given request.
func NewErrorResponseEnvelope(request *RequestEnvelope, result *Result) *ResponseEnvelope {
	return &ResponseEnvelope{
		RequestID:           request.RequestID,
		Destination:         request.Origin(),
		NetworkPath:         EmptyNetworkPath,
		ErrorCode:           ErrorCodeFromResultCode(result.Code),
		ErrorDescription:    result.Description,
		ErrorDetails:        detailsJSON(result.Details),
		ResponseTimestamp:   time.Now(),
		EventTrackingID:     request.EventTrackingID,
		SerializationFormat: request.SerializationFormat,
		Result:              result,
	}
}

func (e *ResponseEnvelope) String() string {
	if e.IsError() {
		return fmt.Sprintf("error response %s for %s: %s %s", e.RequestID, e.Destination, e.ErrorCode, e.ErrorDescription)
	}
	return fmt.Sprintf("response %s for %s (%s)", e.RequestID, e.Destination, e.Result)
}
