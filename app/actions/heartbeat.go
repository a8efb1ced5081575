package actions

import (
	"time"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/wireformat"
)

// ActionHeartbeat lets a charging station signal that it is alive.
const ActionHeartbeat appmessage.Action = "Heartbeat"

// HeartbeatRequest is the request of ActionHeartbeat.
type HeartbeatRequest struct {
	appmessage.RequestHeader
}

// NewHeartbeatRequest creates a request for destination.
func NewHeartbeatRequest(destination appmessage.NodeID) *HeartbeatRequest {
	request := &HeartbeatRequest{}
	request.Destination = destination
	return request
}

// Action returns the protocol action of the message
func (r *HeartbeatRequest) Action() appmessage.Action {
	return ActionHeartbeat
}

func (r *HeartbeatRequest) validate() error {
	return nil
}

func (r *HeartbeatRequest) tlvFields() []wireformat.TLVField {
	return nil
}

func (r *HeartbeatRequest) parseTLV(fields wireformat.TLVFields) error {
	return nil
}

// HeartbeatResponse is the response of ActionHeartbeat.
type HeartbeatResponse struct {
	appmessage.ResponseHeader
	CurrentTime time.Time `json:"currentTime"`
}

// NewHeartbeatResponse answers request with the given time.
func NewHeartbeatResponse(request *HeartbeatRequest, currentTime time.Time) *HeartbeatResponse {
	return &HeartbeatResponse{
		ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), appmessage.OKResult()),
		CurrentTime:    currentTime.UTC(),
	}
}

func (r *HeartbeatResponse) validate() error {
	return nil
}

const heartbeatResponseFieldCurrentTime uint16 = 1

func (r *HeartbeatResponse) tlvFields() []wireformat.TLVField {
	return []wireformat.TLVField{
		wireformat.TLVUint64(heartbeatResponseFieldCurrentTime, uint64(r.CurrentTime.UnixMilli())),
	}
}

func (r *HeartbeatResponse) parseTLV(fields wireformat.TLVFields) error {
	currentTime, err := fields.Uint64(heartbeatResponseFieldCurrentTime)
	if err != nil {
		return err
	}
	r.CurrentTime = time.UnixMilli(int64(currentTime)).UTC()
	return nil
}

// HeartbeatCodec parses and serializes Heartbeat messages.
var HeartbeatCodec forwarding.ActionCodec[*HeartbeatRequest, *HeartbeatResponse] = &codec[*HeartbeatRequest, *HeartbeatResponse]{
	action: ActionHeartbeat,
	newRequest: func(header appmessage.RequestHeader) *HeartbeatRequest {
		return &HeartbeatRequest{RequestHeader: header}
	},
	newResponse: func(header appmessage.ResponseHeader) *HeartbeatResponse {
		return &HeartbeatResponse{ResponseHeader: header}
	},
	filtered: func(request *HeartbeatRequest, result *appmessage.Result) *HeartbeatResponse {
		return &HeartbeatResponse{
			ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), result),
			CurrentTime:    time.Now().UTC(),
		}
	},
}
