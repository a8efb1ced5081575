package appmessage

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Action names the type of a protocol message, e.g. "BootNotification".
type Action string

func (a Action) String() string {
	return string(a)
}

// RequestID correlates a response with its request. It must be unique for
// the lifetime of an in-flight request.
type RequestID string

// NewRequestID returns a fresh random RequestID.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// ParseRequestID trims the given text and rejects empty ids.
func ParseRequestID(text string) (RequestID, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.New("invalid request id: must not be empty")
	}
	return RequestID(trimmed), nil
}

func (id RequestID) String() string {
	return string(id)
}

// EventTrackingID ties together every log line and journal record caused by
// one inbound event.
type EventTrackingID string

// NewEventTrackingID returns a fresh random EventTrackingID.
func NewEventTrackingID() EventTrackingID {
	return EventTrackingID(uuid.NewString())
}

func (id EventTrackingID) String() string {
	return string(id)
}
