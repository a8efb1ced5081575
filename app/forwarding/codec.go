package forwarding

import (
	"github.com/voltgrid/relayd/app/appmessage"
)

// ActionCodec parses and serializes the typed messages of one action.
// Payloads are JSON for formats in the JSON group and binary otherwise.
type ActionCodec[Req appmessage.Request, Res appmessage.Response] interface {
	Action() appmessage.Action

	ParseRequest(envelope *appmessage.RequestEnvelope) (Req, error)
	SerializeRequest(request Req, format appmessage.SerializationFormat) ([]byte, error)

	ParseResponse(envelope *appmessage.ResponseEnvelope) (Res, error)
	SerializeResponse(response Res, format appmessage.SerializationFormat) ([]byte, error)

	// Filtered builds the response sent back for a rejected or dropped
	// request.
	Filtered(request Req, result *appmessage.Result) Res
}
