package forwarding

import (
	"fmt"
	"sync"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
)

// Decision is the outcome of processing one inbound request. It is not
// modified after it is returned, except for the sent callback.
type Decision struct {
	Action appmessage.Action

	// Request is the parsed request, or its replacement. Nil when parsing
	// failed.
	Request appmessage.Request

	// Envelope is what leaves the node for FORWARD and REPLACE.
	Envelope *appmessage.RequestEnvelope

	Result Result

	// Response is set for REJECT and DROP.
	Response           appmessage.Response
	ResponseEnvelope   *appmessage.ResponseEnvelope
	SerializedResponse wireformat.Frame

	RejectMessage string
	RejectDetails string

	sentLock     sync.Mutex
	sentCallback func(result appmessage.SentMessageResult)
	sentReported bool
}

// SetSentCallback sets the function ReportSent invokes.
func (d *Decision) SetSentCallback(callback func(result appmessage.SentMessageResult)) {
	d.sentLock.Lock()
	defer d.sentLock.Unlock()
	d.sentCallback = callback
}

// HasSentCallback reports whether a sent callback is attached.
func (d *Decision) HasSentCallback() bool {
	d.sentLock.Lock()
	defer d.sentLock.Unlock()
	return d.sentCallback != nil
}

// ReportSent is called by the transport once it attempted to deliver the
// forwarded envelope. Only the first report reaches the callback.
func (d *Decision) ReportSent(result appmessage.SentMessageResult) {
	d.sentLock.Lock()
	callback := d.sentCallback
	if d.sentReported {
		callback = nil
	}
	d.sentReported = true
	d.sentLock.Unlock()

	if callback != nil {
		callback(result)
	}
}

func (d *Decision) String() string {
	if d.RejectMessage == "" {
		return fmt.Sprintf("%s %s", d.Result, d.Action)
	}
	return fmt.Sprintf("%s %s: %s", d.Result, d.Action, d.RejectMessage)
}
