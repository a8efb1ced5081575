package forwarding

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/signing"
	"github.com/voltgrid/relayd/app/wireformat"
)

// Filter inspects a parsed request and votes on what happens to it.
// Returning an error counts as NEXT; the error is reported.
type Filter func(ctx context.Context, request appmessage.Request) (*Verdict, error)

// ReceivedObserver is notified of every request that was parsed.
type ReceivedObserver func(ctx context.Context, envelope *appmessage.RequestEnvelope, request appmessage.Request) error

// FilteredObserver is notified of every decision before it is returned.
type FilteredObserver func(ctx context.Context, decision *Decision) error

// SentObserver is notified once the transport attempted to deliver a
// forwarded request.
type SentObserver func(decision *Decision, result appmessage.SentMessageResult) error

// ErrorHandler receives the errors of filters and observers. It must not
// panic.
type ErrorHandler func(err error)

type actionPipeline interface {
	process(ctx context.Context, envelope *appmessage.RequestEnvelope) *Decision
}

// Engine dispatches inbound requests to the pipeline of their action.
type Engine struct {
	nodeID appmessage.NodeID

	lock              sync.RWMutex
	defaultPolicy     Result
	pipelines         map[appmessage.Action]actionPipeline
	filters           []Filter
	receivedObservers []ReceivedObserver
	filteredObservers []FilteredObserver
	sentObservers     []SentObserver
	errorHandler      ErrorHandler
	signingPolicy     *signing.Policy
}

// NewEngine creates an engine for the node nodeID. defaultPolicy applies
// when no filter decides and must be FORWARD, REJECT or DROP.
func NewEngine(nodeID appmessage.NodeID, defaultPolicy Result) (*Engine, error) {
	engine := &Engine{
		nodeID:    nodeID,
		pipelines: make(map[appmessage.Action]actionPipeline),
		errorHandler: func(err error) {
			log.Errorf("%s", err)
		},
	}
	err := engine.SetDefaultPolicy(defaultPolicy)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// NodeID returns the id of the node the engine decides for.
func (e *Engine) NodeID() appmessage.NodeID {
	return e.nodeID
}

// SetDefaultPolicy changes the default policy.
func (e *Engine) SetDefaultPolicy(policy Result) error {
	if policy != ResultForward && policy != ResultReject && policy != ResultDrop {
		return errors.Errorf("the default policy must be FORWARD, REJECT or DROP, not %s", policy)
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	e.defaultPolicy = policy
	return nil
}

// DefaultPolicy returns the default policy.
func (e *Engine) DefaultPolicy() Result {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.defaultPolicy
}

// SetErrorHandler replaces the handler that by default logs errors.
func (e *Engine) SetErrorHandler(handler ErrorHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.errorHandler = handler
}

// SetSigningPolicy makes the engine sign the requests and responses it
// creates with the signing rules of policy. A nil policy disables signing.
func (e *Engine) SetSigningPolicy(policy *signing.Policy) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.signingPolicy = policy
}

// SigningPolicy returns the signing policy, or nil.
func (e *Engine) SigningPolicy() *signing.Policy {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.signingPolicy
}

// SignRequest adds the signatures of the signing rules matching the request
// context of request's action.
func (e *Engine) SignRequest(request appmessage.Request) {
	e.sign(request, signing.RequestContext(request.Action()))
}

// SignResponse adds the signatures of the signing rules matching the
// response context of action.
func (e *Engine) SignResponse(action appmessage.Action, response appmessage.Response) {
	e.sign(response, signing.ResponseContext(action))
}

func (e *Engine) sign(message appmessage.Signable, signingContext string) {
	policy := e.SigningPolicy()
	if policy == nil || !policy.HasSigningRules(signingContext) {
		return
	}
	signatures, err := policy.Sign(message, signingContext)
	if err != nil {
		e.reportError(errors.Wrapf(err, "failed signing under %s", signingContext))
		return
	}
	log.Tracef("Added %d signatures under %s", len(signatures), signingContext)
}

// AddFilter adds a filter that runs for every action, before the filters
// of the action itself.
func (e *Engine) AddFilter(filter Filter) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.filters = append(e.filters, filter)
}

// OnReceived adds a received observer.
func (e *Engine) OnReceived(observer ReceivedObserver) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.receivedObservers = append(e.receivedObservers, observer)
}

// OnFiltered adds a filtered observer.
func (e *Engine) OnFiltered(observer FilteredObserver) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.filteredObservers = append(e.filteredObservers, observer)
}

// OnSent adds a sent observer.
func (e *Engine) OnSent(observer SentObserver) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.sentObservers = append(e.sentObservers, observer)
}

// Actions returns the registered actions in sorted order.
func (e *Engine) Actions() []appmessage.Action {
	e.lock.RLock()
	defer e.lock.RUnlock()
	actions := make([]appmessage.Action, 0, len(e.pipelines))
	for action := range e.pipelines {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

func (e *Engine) register(action appmessage.Action, pipeline actionPipeline) error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if _, exists := e.pipelines[action]; exists {
		return errors.Errorf("action %s is already registered", action)
	}
	e.pipelines[action] = pipeline
	return nil
}

// ProcessRequest runs the pipeline of the envelope's action. It always
// returns a decision; requests of unknown actions are rejected.
func (e *Engine) ProcessRequest(ctx context.Context, envelope *appmessage.RequestEnvelope) *Decision {
	e.lock.RLock()
	pipeline, ok := e.pipelines[envelope.Action]
	e.lock.RUnlock()
	if !ok {
		log.Debugf("Rejecting %s: unknown action", envelope)
		return e.errorDecision(envelope,
			appmessage.NewResult(appmessage.ResultCodeNotImplemented, "Unknown or unsupported action!").
				WithDetails(string(envelope.Action)))
	}
	return pipeline.process(ctx, envelope)
}

// errorDecision rejects a request no typed response can be built for.
func (e *Engine) errorDecision(envelope *appmessage.RequestEnvelope, result *appmessage.Result) *Decision {
	response := appmessage.NewErrorResponse(envelope, result)
	response.NetworkPath = appmessage.NewNetworkPath(e.nodeID)
	responseEnvelope := response.Envelope()
	frame, err := wireformat.EncodeResponse(responseEnvelope)
	if err != nil {
		e.reportError(errors.Wrapf(err, "failed encoding the error response to %s", envelope))
		responseEnvelope.SerializationFormat = appmessage.FormatJSON
		frame, err = wireformat.EncodeResponse(responseEnvelope)
		if err != nil {
			e.reportError(errors.Wrapf(err, "failed encoding the error response to %s as JSON", envelope))
		}
	}
	return &Decision{
		Action:             envelope.Action,
		Result:             ResultReject,
		Response:           response,
		ResponseEnvelope:   responseEnvelope,
		SerializedResponse: frame,
		RejectMessage:      result.Description,
		RejectDetails:      result.Details,
	}
}

func (e *Engine) reportError(err error) {
	e.lock.RLock()
	handler := e.errorHandler
	e.lock.RUnlock()
	if handler == nil {
		return
	}
	_ = callIsolated(func() error {
		handler(err)
		return nil
	})
}

func (e *Engine) reportCallbackErrors(kind string, action appmessage.Action, errs []error) {
	for i, err := range errs {
		if err != nil {
			e.reportError(protocolerrors.Wrapf(protocolerrors.ObserverFailure, err,
				"%s %d failed for %s", kind, i, action))
		}
	}
}

func (e *Engine) notifyReceived(ctx context.Context, envelope *appmessage.RequestEnvelope, request appmessage.Request) {
	e.lock.RLock()
	observers := e.receivedObservers
	e.lock.RUnlock()

	errs, _ := fanOut(ctx, len(observers), func(i int) error {
		return observers[i](ctx, envelope, request)
	})
	e.reportCallbackErrors("received observer", envelope.Action, errs)
}

func (e *Engine) notifyFiltered(ctx context.Context, decision *Decision) {
	e.lock.RLock()
	observers := e.filteredObservers
	e.lock.RUnlock()

	errs, _ := fanOut(ctx, len(observers), func(i int) error {
		return observers[i](ctx, decision)
	})
	e.reportCallbackErrors("filtered observer", decision.Action, errs)
}

func (e *Engine) notifySent(decision *Decision, result appmessage.SentMessageResult) {
	e.lock.RLock()
	observers := e.sentObservers
	e.lock.RUnlock()

	errs, _ := fanOut(context.Background(), len(observers), func(i int) error {
		return observers[i](decision, result)
	})
	e.reportCallbackErrors("sent observer", decision.Action, errs)
}

// runFilters runs the engine filters and actionFilters concurrently and
// combines their verdicts. REJECT and DROP win over REPLACE, which wins over
// FORWARD. Among verdicts of equal precedence the earliest registered filter
// wins. It returns nil when no filter decided, and false when ctx ended
// before all filters returned.
func (e *Engine) runFilters(ctx context.Context, action appmessage.Action, request appmessage.Request,
	actionFilters []Filter) (*Verdict, bool) {

	e.lock.RLock()
	filters := make([]Filter, 0, len(e.filters)+len(actionFilters))
	filters = append(filters, e.filters...)
	e.lock.RUnlock()
	filters = append(filters, actionFilters...)

	verdicts := make([]*Verdict, len(filters))
	errs, completed := fanOut(ctx, len(filters), func(i int) error {
		verdict, err := filters[i](ctx, request)
		verdicts[i] = verdict
		return err
	})
	if !completed {
		return nil, false
	}

	var chosen *Verdict
	for i, verdict := range verdicts {
		if errs[i] != nil {
			e.reportError(protocolerrors.Wrapf(protocolerrors.ObserverFailure, errs[i],
				"filter %d failed for %s", i, action))
			continue
		}
		if verdict == nil || verdict.Result == ResultNext {
			continue
		}
		if verdict.Result.precedence() == 0 {
			e.reportError(errors.Errorf("filter %d returned the unknown result %s for %s", i, verdict.Result, action))
			continue
		}
		if verdict.Result == ResultReplace && verdict.Replacement == nil {
			e.reportError(errors.Errorf("filter %d returned REPLACE without a replacement for %s", i, action))
			continue
		}
		if chosen == nil || verdict.Result.precedence() > chosen.Result.precedence() {
			chosen = verdict
		}
	}
	return chosen, true
}
