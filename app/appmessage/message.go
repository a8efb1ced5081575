package appmessage

import (
	"time"
)

// DefaultRequestTimeout is used when a request carries no timeout of its own.
const DefaultRequestTimeout = 30 * time.Second

// Signable is implemented by every message that can carry signatures.
type Signable interface {
	Signatures() *SignatureSet
}

// Request is a typed protocol request. Implementations embed RequestHeader.
type Request interface {
	Signable
	Action() Action
	Header() *RequestHeader
}

// Response is a typed protocol response. Implementations embed
// ResponseHeader.
type Response interface {
	Signable
	Header() *ResponseHeader
}

// RequestHeader carries the routing and correlation metadata of a request.
// Only SignatureSet is part of the JSON payload.
type RequestHeader struct {
	RequestID           RequestID           `json:"-"`
	Destination         NodeID              `json:"-"`
	NetworkPath         NetworkPath         `json:"-"`
	RequestTimestamp    time.Time           `json:"-"`
	RequestTimeout      time.Duration       `json:"-"`
	EventTrackingID     EventTrackingID     `json:"-"`
	SerializationFormat SerializationFormat `json:"-"`

	SignatureSet *SignatureSet `json:"signatures,omitempty"`
}

// NewRequestHeader fills a header from an envelope.
func NewRequestHeader(envelope *RequestEnvelope) RequestHeader {
	return RequestHeader{
		RequestID:           envelope.RequestID,
		Destination:         envelope.Destination,
		NetworkPath:         envelope.NetworkPath,
		RequestTimestamp:    envelope.RequestTimestamp,
		RequestTimeout:      envelope.RequestTimeout,
		EventTrackingID:     envelope.EventTrackingID,
		SerializationFormat: envelope.SerializationFormat,
	}
}

// Header returns h itself, letting embedding types satisfy Request.
func (h *RequestHeader) Header() *RequestHeader {
	return h
}

// Signatures returns the signature set, creating it on first use.
func (h *RequestHeader) Signatures() *SignatureSet {
	if h.SignatureSet == nil {
		h.SignatureSet = NewSignatureSet()
	}
	return h.SignatureSet
}

// Origin returns the first hop of the network path.
func (h *RequestHeader) Origin() NodeID {
	return h.NetworkPath.Source()
}

// Deadline is RequestTimestamp plus RequestTimeout.
func (h *RequestHeader) Deadline() time.Time {
	return deadline(h.RequestTimestamp, h.RequestTimeout)
}

// ResponseHeader carries the correlation metadata and local outcome of a
// response. Only SignatureSet is part of the JSON payload.
type ResponseHeader struct {
	RequestID           RequestID           `json:"-"`
	Destination         NodeID              `json:"-"`
	NetworkPath         NetworkPath         `json:"-"`
	ResponseTimestamp   time.Time           `json:"-"`
	EventTrackingID     EventTrackingID     `json:"-"`
	SerializationFormat SerializationFormat `json:"-"`
	Result              *Result             `json:"-"`

	SignatureSet *SignatureSet `json:"signatures,omitempty"`
}

// NewResponseHeaderFor creates the header of a response to the given request.
// The response travels back to the request's origin.
func NewResponseHeaderFor(request *RequestHeader, result *Result) ResponseHeader {
	return ResponseHeader{
		RequestID:           request.RequestID,
		Destination:         request.Origin(),
		NetworkPath:         EmptyNetworkPath,
		ResponseTimestamp:   time.Now(),
		EventTrackingID:     request.EventTrackingID,
		SerializationFormat: request.SerializationFormat,
		Result:              result,
	}
}

// NewResponseHeaderFromEnvelope fills a header from a received envelope.
func NewResponseHeaderFromEnvelope(envelope *ResponseEnvelope) ResponseHeader {
	return ResponseHeader{
		RequestID:           envelope.RequestID,
		Destination:         envelope.Destination,
		NetworkPath:         envelope.NetworkPath,
		ResponseTimestamp:   envelope.ResponseTimestamp,
		EventTrackingID:     envelope.EventTrackingID,
		SerializationFormat: envelope.SerializationFormat,
		Result:              envelope.Result,
	}
}

// Header returns h itself, letting embedding types satisfy Response.
func (h *ResponseHeader) Header() *ResponseHeader {
	return h
}

// Signatures returns the signature set, creating it on first use.
func (h *ResponseHeader) Signatures() *SignatureSet {
	if h.SignatureSet == nil {
		h.SignatureSet = NewSignatureSet()
	}
	return h.SignatureSet
}

func deadline(timestamp time.Time, timeout time.Duration) time.Time {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return timestamp.Add(timeout)
}
