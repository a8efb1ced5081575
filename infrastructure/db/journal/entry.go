package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
)

// Entry kinds.
const (
	KindDecision = "decision"
	KindSent     = "sent"
)

// Entry is one journal record: either the decision taken on a request or
// the outcome of delivering a forwarded request.
type Entry struct {
	Kind            string    `json:"kind"`
	Time            time.Time `json:"time"`
	RequestID       string    `json:"requestId,omitempty"`
	EventTrackingID string    `json:"eventTrackingId,omitempty"`
	Action          string    `json:"action"`
	Result          string    `json:"result"`
	Destination     string    `json:"destination,omitempty"`
	NetworkPath     []string  `json:"networkPath,omitempty"`
	Message         string    `json:"message,omitempty"`
	Details         string    `json:"details,omitempty"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s %s %s of %s", e.Kind, e.Result, e.Action, e.RequestID)
}

func entryForDecision(kind string, decision *forwarding.Decision) *Entry {
	entry := &Entry{
		Kind:    kind,
		Action:  string(decision.Action),
		Result:  decision.Result.String(),
		Message: decision.RejectMessage,
		Details: decision.RejectDetails,
	}
	switch {
	case decision.Envelope != nil:
		entry.RequestID = decision.Envelope.RequestID.String()
		entry.EventTrackingID = decision.Envelope.EventTrackingID.String()
		entry.Destination = decision.Envelope.Destination.String()
		entry.NetworkPath = hopStrings(decision.Envelope.NetworkPath)
	case decision.Request != nil:
		header := decision.Request.Header()
		entry.RequestID = header.RequestID.String()
		entry.EventTrackingID = header.EventTrackingID.String()
		entry.Destination = header.Destination.String()
		entry.NetworkPath = hopStrings(header.NetworkPath)
	case decision.ResponseEnvelope != nil:
		entry.RequestID = decision.ResponseEnvelope.RequestID.String()
		entry.EventTrackingID = decision.ResponseEnvelope.EventTrackingID.String()
	}
	return entry
}

func hopStrings(path appmessage.NetworkPath) []string {
	hops := path.Hops()
	if len(hops) == 0 {
		return nil
	}
	texts := make([]string, len(hops))
	for i, hop := range hops {
		texts[i] = hop.String()
	}
	return texts
}

// OnFiltered records decision. It has the signature of a
// forwarding.FilteredObserver.
func (j *Journal) OnFiltered(_ context.Context, decision *forwarding.Decision) error {
	return j.Record(entryForDecision(KindDecision, decision))
}

// OnSent records the delivery outcome of a forwarded request. It has the
// signature of a forwarding.SentObserver.
func (j *Journal) OnSent(decision *forwarding.Decision, result appmessage.SentMessageResult) error {
	entry := entryForDecision(KindSent, decision)
	entry.Result = result.Code.String()
	entry.Destination = result.Destination.String()
	if result.Error != nil {
		entry.Details = result.Error.Error()
	}
	return j.Record(entry)
}

// Attach registers the journal as filtered and sent observer of engine.
func (j *Journal) Attach(engine *forwarding.Engine) {
	engine.OnFiltered(j.OnFiltered)
	engine.OnSent(j.OnSent)
}
