package node

import (
	"context"
	"time"

	"github.com/voltgrid/relayd/app/actions"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/protocolerrors"
)

// LocalHandler answers a request addressed to this node. request is the
// request the forwarding engine parsed, or its replacement.
type LocalHandler func(ctx context.Context, envelope *appmessage.RequestEnvelope,
	request appmessage.Request) (*appmessage.ResponseEnvelope, error)

// TypedLocalHandler adapts a handler of one action's typed messages to a
// LocalHandler. Responses are signed with the signing policy of engine.
func TypedLocalHandler[Req appmessage.Request, Res appmessage.Response](engine *forwarding.Engine,
	codec forwarding.ActionCodec[Req, Res], handle func(ctx context.Context, request Req) (Res, error)) LocalHandler {

	return func(ctx context.Context, envelope *appmessage.RequestEnvelope,
		request appmessage.Request) (*appmessage.ResponseEnvelope, error) {

		typed, ok := request.(Req)
		if !ok {
			var err error
			typed, err = codec.ParseRequest(envelope)
			if err != nil {
				return nil, protocolerrors.Wrapf(protocolerrors.ParseError, err, "could not parse %s", envelope)
			}
		}

		response, err := handle(ctx, typed)
		if err != nil {
			return nil, err
		}
		engine.SignResponse(codec.Action(), response)
		payload, err := codec.SerializeResponse(response, envelope.SerializationFormat)
		if err != nil {
			return nil, protocolerrors.Wrapf(protocolerrors.FormatError, err,
				"could not serialize the %s response", codec.Action())
		}

		header := response.Header()
		result := header.Result
		if result == nil {
			result = appmessage.OKResult()
		}
		timestamp := header.ResponseTimestamp
		if timestamp.IsZero() {
			timestamp = time.Now()
		}
		return &appmessage.ResponseEnvelope{
			RequestID:           envelope.RequestID,
			Destination:         envelope.Origin(),
			NetworkPath:         appmessage.EmptyNetworkPath,
			Payload:             payload,
			ResponseTimestamp:   timestamp,
			EventTrackingID:     envelope.EventTrackingID,
			SerializationFormat: envelope.SerializationFormat,
			Result:              result,
		}, nil
	}
}

func (n *Node) answerHeartbeat(_ context.Context, request *actions.HeartbeatRequest) (*actions.HeartbeatResponse, error) {
	return actions.NewHeartbeatResponse(request, n.now()), nil
}

// localResultFor maps a local handler failure to the result of the error
// response sent back.
func localResultFor(err error) *appmessage.Result {
	kind, ok := protocolerrors.KindOf(err)
	if !ok {
		return appmessage.NewResult(appmessage.ResultCodeGenericError, "Local handler failed").WithDetails(err.Error())
	}
	switch kind {
	case protocolerrors.ParseError, protocolerrors.FormatError:
		return appmessage.NewResult(appmessage.ResultCodeFormationViolation, forwarding.ParseFailureMessage).
			WithDetails(err.Error())
	case protocolerrors.PolicyRejection, protocolerrors.SignatureInvalid, protocolerrors.NoSignatures:
		return appmessage.NewResult(appmessage.ResultCodeRejected, "Rejected by the local handler").
			WithDetails(err.Error())
	case protocolerrors.UnsupportedOperation:
		return appmessage.NewResult(appmessage.ResultCodeNotImplemented, "Unsupported operation").
			WithDetails(err.Error())
	default:
		return appmessage.NewResult(appmessage.ResultCodeGenericError, "Local handler failed").WithDetails(err.Error())
	}
}
