package forwarding

import (
	"context"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/wireformat"
	"github.com/voltgrid/relayd/infrastructure/logger"
)

// Messages of synthesized rejections.
const (
	ParseFailureMessage   = "The given message could not be parsed!"
	DefaultHandlerMessage = "Default handler"
	CanceledMessage       = "Request processing was canceled!"
	ReplaceFailureMessage = "The replacement request could not be serialized!"
)

// Pipeline decides about the requests of one action.
type Pipeline[Req appmessage.Request, Res appmessage.Response] struct {
	engine *Engine
	codec  ActionCodec[Req, Res]

	lock    sync.RWMutex
	filters []Filter
}

// Register creates the pipeline of codec's action on engine.
func Register[Req appmessage.Request, Res appmessage.Response](engine *Engine,
	codec ActionCodec[Req, Res]) (*Pipeline[Req, Res], error) {

	pipeline := &Pipeline[Req, Res]{
		engine: engine,
		codec:  codec,
	}
	err := engine.register(codec.Action(), pipeline)
	if err != nil {
		return nil, err
	}
	return pipeline, nil
}

// Codec returns the codec of the pipeline's action.
func (p *Pipeline[Req, Res]) Codec() ActionCodec[Req, Res] {
	return p.codec
}

// AddFilter adds a filter that only sees requests of this action.
func (p *Pipeline[Req, Res]) AddFilter(filter func(ctx context.Context, request Req) (*Verdict, error)) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.filters = append(p.filters, func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		typed, ok := request.(Req)
		if !ok {
			return nil, errors.Errorf("filter of %s got a %T", p.codec.Action(), request)
		}
		return filter(ctx, typed)
	})
}

// Process runs the pipeline for envelope.
func (p *Pipeline[Req, Res]) Process(ctx context.Context, envelope *appmessage.RequestEnvelope) *Decision {
	return p.process(ctx, envelope)
}

func (p *Pipeline[Req, Res]) process(ctx context.Context, envelope *appmessage.RequestEnvelope) *Decision {
	engine := p.engine
	if err := ctx.Err(); err != nil {
		return engine.errorDecision(envelope,
			appmessage.NewResult(appmessage.ResultCodeRejected, CanceledMessage).WithDetails(err.Error()))
	}

	request, err := p.codec.ParseRequest(envelope)
	if err != nil {
		log.Debugf("Could not parse %s: %s", envelope, err)
		return engine.errorDecision(envelope,
			appmessage.NewResult(appmessage.ResultCodeFormationViolation, ParseFailureMessage).WithDetails(err.Error()))
	}

	engine.notifyReceived(ctx, envelope, request)

	p.lock.RLock()
	actionFilters := p.filters
	p.lock.RUnlock()
	verdict, completed := engine.runFilters(ctx, p.codec.Action(), request, actionFilters)
	if !completed || ctx.Err() != nil {
		detail := "context done"
		if ctx.Err() != nil {
			detail = ctx.Err().Error()
		}
		return p.filteredDecision(envelope, request, ResultReject, nil, CanceledMessage, detail)
	}
	if verdict == nil {
		verdict = &Verdict{Result: engine.DefaultPolicy(), RejectMessage: DefaultHandlerMessage}
	}
	log.Tracef("Verdict for %s: %s", envelope, logger.NewLogClosure(func() string {
		return spew.Sdump(verdict)
	}))

	var decision *Decision
	switch verdict.Result {
	case ResultForward:
		decision = &Decision{
			Action:   p.codec.Action(),
			Request:  request,
			Envelope: envelope,
			Result:   ResultForward,
		}
	case ResultReplace:
		decision, err = p.replaceDecision(envelope, verdict.Replacement)
		if err != nil {
			engine.reportError(err)
			decision = p.filteredDecision(envelope, request, ResultReject, nil, ReplaceFailureMessage, err.Error())
		}
	default:
		decision = p.filteredDecision(envelope, request, verdict.Result, verdict.Response,
			verdict.RejectMessage, verdict.RejectDetails)
	}

	engine.notifyFiltered(ctx, decision)

	if decision.Result.IsForwarded() {
		decision.SetSentCallback(func(result appmessage.SentMessageResult) {
			engine.notifySent(decision, result)
		})
	}
	log.Debugf("%s: %s", envelope, decision)
	return decision
}

// filteredDecision builds a REJECT or DROP decision. Without a response of
// its own the action's filtered response is synthesized.
func (p *Pipeline[Req, Res]) filteredDecision(envelope *appmessage.RequestEnvelope, request Req, result Result,
	response appmessage.Response, message, details string) *Decision {

	if message == "" {
		message = DefaultHandlerMessage
	}

	var typed Res
	if response != nil {
		var ok bool
		typed, ok = response.(Res)
		if !ok {
			p.engine.reportError(errors.Errorf("a %s request cannot be answered by %T", p.codec.Action(), response))
			response = nil
		}
	}
	if response == nil {
		typed = p.codec.Filtered(request, appmessage.FilteredResult(message).WithDetails(details))
	}

	header := typed.Header()
	if header.Result == nil {
		header.Result = appmessage.FilteredResult(message).WithDetails(details)
	}
	header.RequestID = envelope.RequestID
	header.Destination = envelope.Origin()
	header.NetworkPath = appmessage.NewNetworkPath(p.engine.nodeID)
	header.EventTrackingID = envelope.EventTrackingID
	header.SerializationFormat = envelope.SerializationFormat
	if header.ResponseTimestamp.IsZero() {
		header.ResponseTimestamp = time.Now()
	}
	p.engine.SignResponse(p.codec.Action(), typed)

	responseEnvelope, frame, err := p.encodeResponse(typed)
	if err != nil {
		p.engine.reportError(err)
		fallback := p.engine.errorDecision(envelope,
			appmessage.NewResult(appmessage.ResultCodeGenericError, message).WithDetails(err.Error()))
		fallback.Request = request
		fallback.Result = result
		return fallback
	}

	return &Decision{
		Action:             p.codec.Action(),
		Request:            request,
		Result:             result,
		Response:           typed,
		ResponseEnvelope:   responseEnvelope,
		SerializedResponse: frame,
		RejectMessage:      message,
		RejectDetails:      details,
	}
}

func (p *Pipeline[Req, Res]) encodeResponse(response Res) (*appmessage.ResponseEnvelope, wireformat.Frame, error) {
	header := response.Header()
	payload, err := p.codec.SerializeResponse(response, header.SerializationFormat)
	if err != nil {
		return nil, wireformat.Frame{}, protocolerrors.Wrapf(protocolerrors.FormatError, err,
			"failed serializing the %s response %s", p.codec.Action(), header.RequestID)
	}
	responseEnvelope := &appmessage.ResponseEnvelope{
		RequestID:           header.RequestID,
		Destination:         header.Destination,
		NetworkPath:         header.NetworkPath,
		Payload:             payload,
		ResponseTimestamp:   header.ResponseTimestamp,
		EventTrackingID:     header.EventTrackingID,
		SerializationFormat: header.SerializationFormat,
		Result:              header.Result,
	}
	frame, err := wireformat.EncodeResponse(responseEnvelope)
	if err != nil {
		return nil, wireformat.Frame{}, err
	}
	return responseEnvelope, frame, nil
}

// replaceDecision serializes replacement in its own format. Replacements
// must stay within the format group of the original envelope.
func (p *Pipeline[Req, Res]) replaceDecision(envelope *appmessage.RequestEnvelope,
	replacement appmessage.Request) (*Decision, error) {

	typed, ok := replacement.(Req)
	if !ok {
		return nil, protocolerrors.Errorf(protocolerrors.UnsupportedOperation,
			"a %s request cannot be replaced by %T", p.codec.Action(), replacement)
	}
	header := typed.Header()
	format := header.SerializationFormat
	if format.Group() != envelope.SerializationFormat.Group() {
		return nil, protocolerrors.Errorf(protocolerrors.UnsupportedOperation,
			"replacing a %s request with a %s one is not supported", envelope.SerializationFormat, format)
	}

	p.engine.SignRequest(typed)
	payload, err := p.codec.SerializeRequest(typed, format)
	if err != nil {
		return nil, protocolerrors.Wrapf(protocolerrors.FormatError, err,
			"failed serializing the replacement of %s", envelope)
	}
	outgoing := envelope.Clone()
	outgoing.Payload = payload
	outgoing.SerializationFormat = format
	if !header.Destination.IsZero() {
		outgoing.Destination = header.Destination
	}
	return &Decision{
		Action:   p.codec.Action(),
		Request:  typed,
		Envelope: outgoing,
		Result:   ResultReplace,
	}, nil
}
