package correlation

import (
	"context"
	"time"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
)

// NewRequestEnvelope serializes request with codec. Missing ids, timestamp
// and timeout are filled in on the request's header.
func NewRequestEnvelope[Req appmessage.Request, Res appmessage.Response](
	codec forwarding.ActionCodec[Req, Res], request Req) (*appmessage.RequestEnvelope, error) {

	header := request.Header()
	if header.RequestID == "" {
		header.RequestID = appmessage.NewRequestID()
	}
	if header.EventTrackingID == "" {
		header.EventTrackingID = appmessage.NewEventTrackingID()
	}
	if header.RequestTimestamp.IsZero() {
		header.RequestTimestamp = time.Now()
	}
	if header.RequestTimeout <= 0 {
		header.RequestTimeout = appmessage.DefaultRequestTimeout
	}
	if header.Destination == "" {
		header.Destination = appmessage.CSMSNodeID
	}

	payload, err := codec.SerializeRequest(request, header.SerializationFormat)
	if err != nil {
		return nil, err
	}
	return &appmessage.RequestEnvelope{
		RequestID:           header.RequestID,
		Action:              codec.Action(),
		Payload:             payload,
		Destination:         header.Destination,
		NetworkPath:         header.NetworkPath,
		RequestTimestamp:    header.RequestTimestamp,
		RequestTimeout:      header.RequestTimeout,
		EventTrackingID:     header.EventTrackingID,
		SerializationFormat: header.SerializationFormat,
	}, nil
}

// SendTyped sends a typed request and parses the response with codec. It
// always returns a response: failures are reported through the Result of
// the codec's filtered response.
func SendTyped[Req appmessage.Request, Res appmessage.Response](ctx context.Context, client *Client,
	codec forwarding.ActionCodec[Req, Res], request Req, options ...SendOption) Res {

	envelope, err := NewRequestEnvelope(codec, request)
	if err != nil {
		return codec.Filtered(request,
			appmessage.NewResult(appmessage.ResultCodeFormationViolation, FormatErrorDescription).WithDetails(err.Error()))
	}

	response := client.SendRequest(ctx, envelope, options...)
	if response.IsError() {
		return failed(codec, request, response, response.Result)
	}
	typed, err := codec.ParseResponse(response)
	if err != nil {
		return failed(codec, request, response,
			appmessage.NewResult(appmessage.ResultCodeFormationViolation, ParseFailureDescription).WithDetails(err.Error()))
	}
	if typed.Header().Result == nil {
		typed.Header().Result = appmessage.OKResult()
	}
	return typed
}

func failed[Req appmessage.Request, Res appmessage.Response](codec forwarding.ActionCodec[Req, Res], request Req,
	response *appmessage.ResponseEnvelope, result *appmessage.Result) Res {

	typed := codec.Filtered(request, result)
	header := typed.Header()
	header.Result = result
	header.RequestID = response.RequestID
	header.NetworkPath = response.NetworkPath
	header.EventTrackingID = response.EventTrackingID
	header.SerializationFormat = response.SerializationFormat
	if !response.ResponseTimestamp.IsZero() {
		header.ResponseTimestamp = response.ResponseTimestamp
	}
	return typed
}
