package forwarding

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/protocolerrors"
	"github.com/voltgrid/relayd/app/signing"
	"github.com/voltgrid/relayd/app/wireformat"
)

const pingAction appmessage.Action = "Ping"

type pingRequest struct {
	appmessage.RequestHeader
	Message string `json:"message"`
}

func (r *pingRequest) Action() appmessage.Action {
	return pingAction
}

type pingResponse struct {
	appmessage.ResponseHeader
	Status string `json:"status"`
}

type pingCodec struct{}

func (pingCodec) Action() appmessage.Action {
	return pingAction
}

func (pingCodec) ParseRequest(envelope *appmessage.RequestEnvelope) (*pingRequest, error) {
	request := &pingRequest{RequestHeader: appmessage.NewRequestHeader(envelope)}
	if envelope.SerializationFormat.Group() == appmessage.GroupBinary {
		request.Message = string(envelope.Payload)
		return request, nil
	}
	err := json.Unmarshal(envelope.Payload, request)
	if err != nil {
		return nil, err
	}
	if request.Message == "" {
		return nil, errors.New("missing message")
	}
	return request, nil
}

func (pingCodec) SerializeRequest(request *pingRequest, format appmessage.SerializationFormat) ([]byte, error) {
	if format.Group() == appmessage.GroupBinary {
		return []byte(request.Message), nil
	}
	return json.Marshal(request)
}

func (pingCodec) ParseResponse(envelope *appmessage.ResponseEnvelope) (*pingResponse, error) {
	response := &pingResponse{ResponseHeader: appmessage.NewResponseHeaderFromEnvelope(envelope)}
	return response, json.Unmarshal(envelope.Payload, response)
}

func (pingCodec) SerializeResponse(response *pingResponse, format appmessage.SerializationFormat) ([]byte, error) {
	if format.Group() == appmessage.GroupBinary {
		return []byte(response.Status), nil
	}
	return json.Marshal(response)
}

func (pingCodec) Filtered(request *pingRequest, result *appmessage.Result) *pingResponse {
	return &pingResponse{
		ResponseHeader: appmessage.NewResponseHeaderFor(request.Header(), result),
		Status:         "Rejected",
	}
}

type errorCollector struct {
	lock sync.Mutex
	errs []error
}

func (c *errorCollector) handle(err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.errs = append(c.errs, err)
}

func (c *errorCollector) collected() []error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]error(nil), c.errs...)
}

func newTestEngine(t *testing.T, defaultPolicy Result) (*Engine, *Pipeline[*pingRequest, *pingResponse], *errorCollector) {
	engine, err := NewEngine("relay-1", defaultPolicy)
	if err != nil {
		t.Fatalf("NewEngine: %+v", err)
	}
	collector := &errorCollector{}
	engine.SetErrorHandler(collector.handle)
	pipeline, err := Register[*pingRequest, *pingResponse](engine, pingCodec{})
	if err != nil {
		t.Fatalf("Register: %+v", err)
	}
	return engine, pipeline, collector
}

func pingEnvelope(payload string) *appmessage.RequestEnvelope {
	return &appmessage.RequestEnvelope{
		RequestID:           appmessage.NewRequestID(),
		Action:              pingAction,
		Payload:             []byte(payload),
		Destination:         appmessage.CSMSNodeID,
		NetworkPath:         appmessage.NewNetworkPath("cs-1"),
		RequestTimestamp:    time.Now(),
		RequestTimeout:      time.Minute,
		SerializationFormat: appmessage.FormatJSON,
	}
}

func TestMalformedPayloadIsRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	for _, payload := range []string{`{"message":`, `{}`, `[1,2]`} {
		decision := engine.ProcessRequest(context.Background(), pingEnvelope(payload))
		if decision.Result != ResultReject {
			t.Fatalf("TestMalformedPayloadIsRejected: %s: expected REJECT but got %s", payload, decision.Result)
		}
		if decision.RejectMessage != ParseFailureMessage || decision.RejectDetails == "" {
			t.Fatalf("TestMalformedPayloadIsRejected: %s: unexpected reason %q / %q",
				payload, decision.RejectMessage, decision.RejectDetails)
		}
		if decision.Response == nil || decision.Request != nil {
			t.Fatalf("TestMalformedPayloadIsRejected: %s: expected a response and no request", payload)
		}
		message, err := wireformat.Decode(decision.SerializedResponse)
		if err != nil {
			t.Fatalf("TestMalformedPayloadIsRejected: %s: Decode: %+v", payload, err)
		}
		if message.Response == nil || message.Response.ErrorCode != appmessage.ErrorCodeFormatViolation {
			t.Fatalf("TestMalformedPayloadIsRejected: %s: expected a FormatViolation error response", payload)
		}
	}
}

func TestDefaultForwardKeepsRequest(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	var received appmessage.Request
	engine.OnReceived(func(ctx context.Context, envelope *appmessage.RequestEnvelope, request appmessage.Request) error {
		received = request
		return nil
	})

	envelope := pingEnvelope(`{"message":"hello"}`)
	decision := engine.ProcessRequest(context.Background(), envelope)
	if decision.Result != ResultForward {
		t.Fatalf("TestDefaultForwardKeepsRequest: expected FORWARD but got %s", decision)
	}
	if decision.Request != received {
		t.Fatalf("TestDefaultForwardKeepsRequest: the forwarded request is not the parsed request")
	}
	if decision.Envelope != envelope || string(envelope.Payload) != `{"message":"hello"}` {
		t.Fatalf("TestDefaultForwardKeepsRequest: the envelope was replaced or modified")
	}
	if decision.Response != nil {
		t.Fatalf("TestDefaultForwardKeepsRequest: forwarded requests carry no response")
	}
	if !decision.HasSentCallback() {
		t.Fatalf("TestDefaultForwardKeepsRequest: expected a sent callback")
	}
}

func TestDefaultRejectAndDrop(t *testing.T) {
	for _, policy := range []Result{ResultReject, ResultDrop} {
		engine, _, _ := newTestEngine(t, policy)
		envelope := pingEnvelope(`{"message":"hello"}`)
		decision := engine.ProcessRequest(context.Background(), envelope)
		if decision.Result != policy {
			t.Fatalf("TestDefaultRejectAndDrop: expected %s but got %s", policy, decision.Result)
		}
		if decision.Response == nil {
			t.Fatalf("TestDefaultRejectAndDrop: %s: no response was synthesized", policy)
		}
		result := decision.Response.Header().Result
		if result == nil || result.Code != appmessage.ResultCodeFiltered {
			t.Fatalf("TestDefaultRejectAndDrop: %s: expected a Filtered result but got %s", policy, result)
		}
		if decision.RejectMessage != DefaultHandlerMessage {
			t.Fatalf("TestDefaultRejectAndDrop: %s: unexpected message %q", policy, decision.RejectMessage)
		}
		if !decision.ResponseEnvelope.Destination.Equal("cs-1") {
			t.Fatalf("TestDefaultRejectAndDrop: %s: the response must travel back to the origin", policy)
		}
		if decision.HasSentCallback() {
			t.Fatalf("TestDefaultRejectAndDrop: %s: filtered requests get no sent callback", policy)
		}
		message, err := wireformat.Decode(decision.SerializedResponse)
		if err != nil {
			t.Fatalf("TestDefaultRejectAndDrop: %s: Decode: %+v", policy, err)
		}
		if message.Response == nil || message.Response.RequestID != envelope.RequestID ||
			!strings.Contains(string(message.Response.Payload), "Rejected") {
			t.Fatalf("TestDefaultRejectAndDrop: %s: unexpected serialized response", policy)
		}
	}
}

func verdictFilter(verdict *Verdict) Filter {
	return func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		return verdict, nil
	}
}

func TestFilterCombination(t *testing.T) {
	failing := func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		return Reject("ignored", ""), errors.New("filter failed")
	}
	panicking := func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		panic("filter panicked")
	}
	delayed := func(verdict *Verdict) Filter {
		return func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
			time.Sleep(20 * time.Millisecond)
			return verdict, nil
		}
	}

	tests := []struct {
		name           string
		filters        []Filter
		expectedResult Result
		expectedReason string
		expectedErrors int
	}{
		{
			name:           "no filters",
			expectedResult: ResultForward,
		},
		{
			name:           "only next and nil",
			filters:        []Filter{verdictFilter(Next()), verdictFilter(nil)},
			expectedResult: ResultForward,
		},
		{
			name:           "reject outranks forward",
			filters:        []Filter{verdictFilter(Forward()), verdictFilter(Reject("no", ""))},
			expectedResult: ResultReject,
			expectedReason: "no",
		},
		{
			name:           "earliest of equal precedence wins",
			filters:        []Filter{delayed(Drop("first")), verdictFilter(Reject("second", ""))},
			expectedResult: ResultDrop,
			expectedReason: "first",
		},
		{
			name:           "errors and panics count as next",
			filters:        []Filter{failing, panicking, verdictFilter(Forward())},
			expectedResult: ResultForward,
			expectedErrors: 2,
		},
		{
			name:           "replace without replacement is ignored",
			filters:        []Filter{verdictFilter(&Verdict{Result: ResultReplace})},
			expectedResult: ResultForward,
			expectedErrors: 1,
		},
	}

	for _, test := range tests {
		engine, _, collector := newTestEngine(t, ResultForward)
		for _, filter := range test.filters {
			engine.AddFilter(filter)
		}
		decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
		if decision.Result != test.expectedResult {
			t.Fatalf("TestFilterCombination: %s: expected %s but got %s", test.name, test.expectedResult, decision)
		}
		if test.expectedReason != "" && decision.RejectMessage != test.expectedReason {
			t.Fatalf("TestFilterCombination: %s: expected reason %q but got %q",
				test.name, test.expectedReason, decision.RejectMessage)
		}
		errs := collector.collected()
		if len(errs) != test.expectedErrors {
			t.Fatalf("TestFilterCombination: %s: expected %d reported errors but got %v",
				test.name, test.expectedErrors, errs)
		}
	}
}

func TestActionFiltersRunAfterEngineFilters(t *testing.T) {
	engine, pipeline, _ := newTestEngine(t, ResultForward)
	engine.AddFilter(verdictFilter(Reject("engine", "")))
	pipeline.AddFilter(func(ctx context.Context, request *pingRequest) (*Verdict, error) {
		if request.Message != "hello" {
			return nil, errors.Errorf("unexpected message %s", request.Message)
		}
		return Reject("action", ""), nil
	})

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.RejectMessage != "engine" {
		t.Fatalf("TestActionFiltersRunAfterEngineFilters: expected the engine filter to win, got %s", decision)
	}
}

func TestReplace(t *testing.T) {
	engine, pipeline, _ := newTestEngine(t, ResultForward)
	pipeline.AddFilter(func(ctx context.Context, request *pingRequest) (*Verdict, error) {
		replacement := &pingRequest{RequestHeader: request.RequestHeader, Message: "replaced"}
		replacement.Destination = "csms-2"
		return Replace(replacement), nil
	})

	envelope := pingEnvelope(`{"message":"hello"}`)
	decision := engine.ProcessRequest(context.Background(), envelope)
	if decision.Result != ResultReplace {
		t.Fatalf("TestReplace: expected REPLACE but got %s", decision)
	}
	if decision.Envelope == envelope || string(envelope.Payload) != `{"message":"hello"}` {
		t.Fatalf("TestReplace: the original envelope must not be modified")
	}
	if !strings.Contains(string(decision.Envelope.Payload), "replaced") {
		t.Fatalf("TestReplace: the replacement was not serialized: %s", decision.Envelope.Payload)
	}
	if decision.Envelope.Destination != "csms-2" || decision.Envelope.RequestID != envelope.RequestID {
		t.Fatalf("TestReplace: unexpected outgoing envelope %s", decision.Envelope)
	}
	if !decision.HasSentCallback() {
		t.Fatalf("TestReplace: expected a sent callback")
	}
}

func TestCrossFormatReplaceFails(t *testing.T) {
	engine, pipeline, collector := newTestEngine(t, ResultForward)
	pipeline.AddFilter(func(ctx context.Context, request *pingRequest) (*Verdict, error) {
		replacement := &pingRequest{RequestHeader: request.RequestHeader, Message: "replaced"}
		replacement.SerializationFormat = appmessage.FormatBinaryTLV
		return Replace(replacement), nil
	})

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultReject || decision.RejectMessage != ReplaceFailureMessage {
		t.Fatalf("TestCrossFormatReplaceFails: expected REJECT but got %s", decision)
	}
	if decision.Response == nil {
		t.Fatalf("TestCrossFormatReplaceFails: expected a response")
	}
	errs := collector.collected()
	if len(errs) != 1 || !protocolerrors.Is(errs[0], protocolerrors.UnsupportedOperation) {
		t.Fatalf("TestCrossFormatReplaceFails: expected one UnsupportedOperation error but got %v", errs)
	}
}

func TestObserversAreIsolated(t *testing.T) {
	engine, _, collector := newTestEngine(t, ResultForward)
	engine.OnReceived(func(ctx context.Context, envelope *appmessage.RequestEnvelope, request appmessage.Request) error {
		panic("received observer panicked")
	})
	engine.OnFiltered(func(ctx context.Context, decision *Decision) error {
		return errors.New("filtered observer failed")
	})

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultForward {
		t.Fatalf("TestObserversAreIsolated: observers changed the outcome to %s", decision)
	}
	errs := collector.collected()
	if len(errs) != 2 {
		t.Fatalf("TestObserversAreIsolated: expected 2 reported errors but got %v", errs)
	}
	for _, err := range errs {
		if !protocolerrors.Is(err, protocolerrors.ObserverFailure) {
			t.Fatalf("TestObserversAreIsolated: expected an ObserverFailure but got %+v", err)
		}
	}
}

func TestSentCallback(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	results := make(chan appmessage.SentMessageResult, 2)
	engine.OnSent(func(decision *Decision, result appmessage.SentMessageResult) error {
		results <- result
		return nil
	})

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	decision.ReportSent(appmessage.NewSentSuccess(appmessage.CSMSNodeID))
	decision.ReportSent(appmessage.NewSentSuccess(appmessage.CSMSNodeID))

	select {
	case result := <-results:
		if !result.IsSuccess() {
			t.Fatalf("TestSentCallback: unexpected result %s", result)
		}
	case <-time.After(time.Second):
		t.Fatalf("TestSentCallback: the sent observer was not notified")
	}
	select {
	case result := <-results:
		t.Fatalf("TestSentCallback: notified twice, second time with %s", result)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnknownAction(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	envelope := pingEnvelope(`{}`)
	envelope.Action = "Unknown"
	decision := engine.ProcessRequest(context.Background(), envelope)
	if decision.Result != ResultReject || decision.Response == nil {
		t.Fatalf("TestUnknownAction: expected REJECT with a response but got %s", decision)
	}
	result := decision.Response.Header().Result
	if result.Code != appmessage.ResultCodeNotImplemented {
		t.Fatalf("TestUnknownAction: expected NotImplemented but got %s", result)
	}
}

func TestCancellation(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	decision := engine.ProcessRequest(canceled, pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultReject || decision.Response == nil || decision.RejectMessage != CanceledMessage {
		t.Fatalf("TestCancellation: expected a canceled REJECT but got %s", decision)
	}

	engine.AddFilter(func(ctx context.Context, request appmessage.Request) (*Verdict, error) {
		<-ctx.Done()
		return Forward(), nil
	})
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelTimeout()
	start := time.Now()
	decision = engine.ProcessRequest(ctx, pingEnvelope(`{"message":"hello"}`))
	if time.Since(start) > time.Second {
		t.Fatalf("TestCancellation: processing did not stop at the deadline")
	}
	if decision.Result != ResultReject || decision.Response == nil {
		t.Fatalf("TestCancellation: expected REJECT with a response but got %s", decision)
	}
}

func TestLoopDetectionFilter(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	engine.AddFilter(LoopDetectionFilter(engine.NodeID()))

	envelope := pingEnvelope(`{"message":"hello"}`)
	envelope.NetworkPath = appmessage.NewNetworkPath("cs-1", "RELAY-1", "relay-2")
	decision := engine.ProcessRequest(context.Background(), envelope)
	if decision.Result != ResultReject {
		t.Fatalf("TestLoopDetectionFilter: expected REJECT but got %s", decision)
	}

	decision = engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultForward {
		t.Fatalf("TestLoopDetectionFilter: expected FORWARD but got %s", decision)
	}
}

func TestSignatureFilter(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	engine.AddFilter(SignatureFilter(signing.NewPolicy(signing.VerifyAll)))

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultReject || !strings.Contains(decision.RejectDetails, "no signatures present") {
		t.Fatalf("TestSignatureFilter: expected an unsigned request to be rejected, got %s", decision)
	}

	keyPair, err := signing.GenerateKeyPair(signing.Secp256r1)
	if err != nil {
		t.Fatalf("TestSignatureFilter: GenerateKeyPair: %+v", err)
	}
	request := &pingRequest{Message: "hello"}
	_, err = signing.Sign(request, signing.RequestContext(pingAction), keyPair, nil)
	if err != nil {
		t.Fatalf("TestSignatureFilter: Sign: %+v", err)
	}
	payload, err := json.Marshal(request)
	if err != nil {
		t.Fatalf("TestSignatureFilter: Marshal: %+v", err)
	}
	decision = engine.ProcessRequest(context.Background(), pingEnvelope(string(payload)))
	if decision.Result != ResultForward {
		t.Fatalf("TestSignatureFilter: expected a signed request to be forwarded, got %s", decision)
	}

	tampered := strings.Replace(string(payload), `"message":"hello"`, `"message":"hullo"`, 1)
	decision = engine.ProcessRequest(context.Background(), pingEnvelope(tampered))
	if decision.Result != ResultReject {
		t.Fatalf("TestSignatureFilter: expected a tampered request to be rejected, got %s", decision)
	}
}

func TestSigningPolicy(t *testing.T) {
	engine, pipeline, collector := newTestEngine(t, ResultReject)
	keyPair, err := signing.GenerateKeyPair(signing.Secp256r1)
	if err != nil {
		t.Fatalf("TestSigningPolicy: GenerateKeyPair: %+v", err)
	}
	policy := signing.NewPolicy(signing.AcceptUnverified)
	err = policy.AddSigningRule(signing.SigningRule{Context: signing.ContextPrefix + "*", KeyPair: keyPair, Name: "relay-1"})
	if err != nil {
		t.Fatalf("TestSigningPolicy: AddSigningRule: %+v", err)
	}
	engine.SetSigningPolicy(policy)

	decision := engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultReject || decision.Response.Signatures().Len() != 1 {
		t.Fatalf("TestSigningPolicy: expected a signed rejection, got %s", decision)
	}
	response, err := pingCodec{}.ParseResponse(decision.ResponseEnvelope)
	if err != nil {
		t.Fatalf("TestSigningPolicy: ParseResponse: %+v", err)
	}
	ok, err := signing.Verify(response, signing.ResponseContext(pingAction), signing.VerifyAll)
	if !ok {
		t.Fatalf("TestSigningPolicy: the serialized rejection does not verify: %+v", err)
	}

	pipeline.AddFilter(func(ctx context.Context, request *pingRequest) (*Verdict, error) {
		return Replace(&pingRequest{RequestHeader: request.RequestHeader, Message: "replaced"}), nil
	})
	decision = engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Result != ResultReplace {
		t.Fatalf("TestSigningPolicy: expected REPLACE but got %s", decision)
	}
	replacement, err := pingCodec{}.ParseRequest(decision.Envelope)
	if err != nil {
		t.Fatalf("TestSigningPolicy: ParseRequest: %+v", err)
	}
	ok, err = signing.Verify(replacement, signing.RequestContext(pingAction), signing.VerifyAll)
	if !ok {
		t.Fatalf("TestSigningPolicy: the replacement does not verify: %+v", err)
	}

	engine.SetSigningPolicy(nil)
	decision = engine.ProcessRequest(context.Background(), pingEnvelope(`{"message":"hello"}`))
	if decision.Request.Signatures().Len() != 0 {
		t.Fatalf("TestSigningPolicy: nothing must be signed without a policy")
	}
	if errs := collector.collected(); len(errs) != 0 {
		t.Fatalf("TestSigningPolicy: unexpected errors %v", errs)
	}
}

func TestRegistration(t *testing.T) {
	engine, _, _ := newTestEngine(t, ResultForward)
	if _, err := Register[*pingRequest, *pingResponse](engine, pingCodec{}); err == nil {
		t.Fatalf("TestRegistration: registering an action twice must fail")
	}
	if actions := engine.Actions(); len(actions) != 1 || actions[0] != pingAction {
		t.Fatalf("TestRegistration: unexpected actions %v", actions)
	}
	if _, err := NewEngine("relay-1", ResultNext); err == nil {
		t.Fatalf("TestRegistration: NEXT is not a valid default policy")
	}
	if _, err := ParseResult("replace"); err != nil {
		t.Fatalf("TestRegistration: ParseResult: %+v", err)
	}
}
