package appmessage

import "fmt"

// SentMessageResultCode is the outcome of a delivery attempt.
type SentMessageResultCode int

// Delivery outcomes.
const (
	SentSuccess SentMessageResultCode = iota
	SentUnknownClient
	SentTransmissionFailed
	SentCanceled
)

var sentMessageResultCodeToString = map[SentMessageResultCode]string{
	SentSuccess:            "Success",
	SentUnknownClient:      "UnknownClient",
	SentTransmissionFailed: "TransmissionFailed",
	SentCanceled:           "Canceled",
}

func (c SentMessageResultCode) String() string {
	text, ok := sentMessageResultCodeToString[c]
	if !ok {
		return fmt.Sprintf("SentMessageResultCode(%d)", int(c))
	}
	return text
}

// SentMessageResult is what a transport reports after attempting to deliver
// a frame.
type SentMessageResult struct {
	Code        SentMessageResultCode
	Destination NodeID
	Error       error
}

// NewSentSuccess reports a successful delivery.
func NewSentSuccess(destination NodeID) SentMessageResult {
	return SentMessageResult{Code: SentSuccess, Destination: destination}
}

// NewSentFailure reports a failed delivery.
func NewSentFailure(code SentMessageResultCode, destination NodeID, err error) SentMessageResult {
	return SentMessageResult{Code: code, Destination: destination, Error: err}
}

// IsSuccess reports whether the frame was handed to the connection.
func (r SentMessageResult) IsSuccess() bool {
	return r.Code == SentSuccess
}

func (r SentMessageResult) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s to %s: %s", r.Code, r.Destination, r.Error)
	}
	return fmt.Sprintf("%s to %s", r.Code, r.Destination)
}
