package actions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/correlation"
	"github.com/voltgrid/relayd/app/forwarding"
	"github.com/voltgrid/relayd/app/signing"
	"github.com/voltgrid/relayd/app/wireformat"
)

var testFormats = []appmessage.SerializationFormat{
	appmessage.FormatJSON,
	appmessage.FormatJSONUTF8Binary,
	appmessage.FormatBinaryCompact,
	appmessage.FormatBinaryTextIDs,
	appmessage.FormatBinaryTLV,
}

func testStation() ChargingStation {
	return ChargingStation{
		Model:           "VG-22",
		VendorName:      "VoltGrid",
		SerialNumber:    "SN-0001",
		FirmwareVersion: "1.4.2",
	}
}

// transmit encodes envelope into a frame and decodes it back, the way it
// crosses a connection.
func transmit(t *testing.T, envelope *appmessage.RequestEnvelope) *appmessage.RequestEnvelope {
	frame, err := wireformat.EncodeRequest(envelope)
	require.NoError(t, err)
	message, err := wireformat.Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, message.Request)
	return message.Request
}

func TestBootNotificationRoundTrip(t *testing.T) {
	for _, format := range testFormats {
		t.Run(format.String(), func(t *testing.T) {
			request := NewBootNotificationRequest(appmessage.CSMSNodeID, testStation(), BootReasonPowerUp)
			request.SerializationFormat = format
			request.NetworkPath = appmessage.NewNetworkPath("cs-1")

			envelope, err := correlation.NewRequestEnvelope(BootNotificationCodec, request)
			require.NoError(t, err)
			parsed, err := BootNotificationCodec.ParseRequest(transmit(t, envelope))
			require.NoError(t, err)
			assert.Equal(t, request.ChargingStation, parsed.ChargingStation)
			assert.Equal(t, request.Reason, parsed.Reason)
			assert.Equal(t, request.RequestID, parsed.RequestID)
			assert.Nil(t, parsed.SignatureSet)

			response := NewBootNotificationResponse(parsed, RegistrationAccepted, 5*time.Minute)
			payload, err := BootNotificationCodec.SerializeResponse(response, format)
			require.NoError(t, err)
			parsedResponse, err := BootNotificationCodec.ParseResponse(&appmessage.ResponseEnvelope{
				RequestID:           response.RequestID,
				Payload:             payload,
				SerializationFormat: format,
			})
			require.NoError(t, err)
			assert.Equal(t, RegistrationAccepted, parsedResponse.Status)
			assert.Equal(t, uint32(300), parsedResponse.Interval)
			assert.Equal(t, response.CurrentTime.UnixMilli(), parsedResponse.CurrentTime.UnixMilli())
		})
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	for _, format := range testFormats {
		request := NewHeartbeatRequest("relay-1")
		request.SerializationFormat = format
		envelope, err := correlation.NewRequestEnvelope(HeartbeatCodec, request)
		if err != nil {
			t.Fatalf("TestHeartbeatRoundTrip: %s: NewRequestEnvelope: %+v", format, err)
		}
		parsed, err := HeartbeatCodec.ParseRequest(transmit(t, envelope))
		if err != nil {
			t.Fatalf("TestHeartbeatRoundTrip: %s: ParseRequest: %+v", format, err)
		}
		if !parsed.Destination.Equal("relay-1") {
			t.Fatalf("TestHeartbeatRoundTrip: %s: unexpected destination %s", format, parsed.Destination)
		}

		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		payload, err := HeartbeatCodec.SerializeResponse(NewHeartbeatResponse(parsed, now), format)
		if err != nil {
			t.Fatalf("TestHeartbeatRoundTrip: %s: SerializeResponse: %+v", format, err)
		}
		response, err := HeartbeatCodec.ParseResponse(&appmessage.ResponseEnvelope{
			Payload:             payload,
			SerializationFormat: format,
		})
		if err != nil {
			t.Fatalf("TestHeartbeatRoundTrip: %s: ParseResponse: %+v", format, err)
		}
		if !response.CurrentTime.Equal(now) {
			t.Fatalf("TestHeartbeatRoundTrip: %s: expected %s but got %s", format, now, response.CurrentTime)
		}
	}
}

func TestDataTransferRoundTrip(t *testing.T) {
	data := json.RawMessage(`{"meter":"m-1","values":[1,2,3]}`)
	for _, format := range testFormats {
		t.Run(format.String(), func(t *testing.T) {
			request := NewDataTransferRequest(appmessage.CSMSNodeID, "io.voltgrid", "meterDump", data)
			request.SerializationFormat = format
			envelope, err := correlation.NewRequestEnvelope(DataTransferCodec, request)
			require.NoError(t, err)
			parsed, err := DataTransferCodec.ParseRequest(transmit(t, envelope))
			require.NoError(t, err)
			assert.Equal(t, "io.voltgrid", parsed.VendorID)
			assert.Equal(t, "meterDump", parsed.MessageID)
			assert.JSONEq(t, string(data), string(parsed.Data))

			payload, err := DataTransferCodec.SerializeResponse(
				NewDataTransferResponse(parsed, DataTransferUnknownMessageID, nil), format)
			require.NoError(t, err)
			response, err := DataTransferCodec.ParseResponse(&appmessage.ResponseEnvelope{
				Payload:             payload,
				SerializationFormat: format,
			})
			require.NoError(t, err)
			assert.Equal(t, DataTransferUnknownMessageID, response.Status)
			assert.Empty(t, response.Data)
		})
	}
}

func TestInvalidMessages(t *testing.T) {
	_, err := BootNotificationCodec.SerializeRequest(
		NewBootNotificationRequest("", ChargingStation{Model: "VG-22"}, BootReasonPowerUp), appmessage.FormatJSON)
	assert.Error(t, err)

	_, err = BootNotificationCodec.SerializeRequest(
		NewBootNotificationRequest("", testStation(), "Exploded"), appmessage.FormatBinaryTLV)
	assert.Error(t, err)

	_, err = DataTransferCodec.SerializeRequest(
		NewDataTransferRequest("", "", "", nil), appmessage.FormatJSON)
	assert.Error(t, err)

	_, err = DataTransferCodec.SerializeRequest(
		NewDataTransferRequest("", "io.voltgrid", "", json.RawMessage(`{"broken"`)), appmessage.FormatBinaryTLV)
	assert.Error(t, err)

	tests := []struct {
		name     string
		format   appmessage.SerializationFormat
		payload  []byte
		contains string
	}{
		{"not json", appmessage.FormatJSON, []byte(`{`), "invalid BootNotification request"},
		{"missing reason", appmessage.FormatJSON,
			[]byte(`{"chargingStation":{"model":"VG-22","vendorName":"VoltGrid"}}`), "unknown boot reason"},
		{"missing tlv field", appmessage.FormatBinaryTLV,
			wireformat.EncodeTLVFields([]wireformat.TLVField{wireformat.TLVString(bootFieldModel, "VG-22")}), "missing field"},
		{"wrong tlv type", appmessage.FormatBinaryTLV,
			wireformat.EncodeTLVFields([]wireformat.TLVField{
				wireformat.TLVString(bootFieldModel, "VG-22"),
				wireformat.TLVUint32(bootFieldVendorName, 7),
			}), "invalid BootNotification request"},
	}
	for _, test := range tests {
		_, err := BootNotificationCodec.ParseRequest(&appmessage.RequestEnvelope{
			Action:              ActionBootNotification,
			Payload:             test.payload,
			SerializationFormat: test.format,
		})
		if err == nil {
			t.Fatalf("TestInvalidMessages: %s: expected an error", test.name)
		}
		assert.Contains(t, err.Error(), test.contains, test.name)
	}
}

func TestSignaturesSurviveBinaryPayloads(t *testing.T) {
	keyPair, err := signing.GenerateKeyPair(signing.Secp256r1)
	require.NoError(t, err)
	signingContext := signing.RequestContext(ActionBootNotification)

	for _, format := range []appmessage.SerializationFormat{appmessage.FormatBinaryTLV, appmessage.FormatJSON} {
		request := NewBootNotificationRequest(appmessage.CSMSNodeID, testStation(), BootReasonWatchdog)
		request.SerializationFormat = format
		_, err = signing.Sign(request, signingContext, keyPair, &signing.SignatureInfo{Name: "cs-1"})
		require.NoError(t, err)

		envelope, err := correlation.NewRequestEnvelope(BootNotificationCodec, request)
		require.NoError(t, err)
		parsed, err := BootNotificationCodec.ParseRequest(transmit(t, envelope))
		require.NoError(t, err)
		require.Equal(t, 1, parsed.Signatures().Len(), format.String())

		ok, err := signing.Verify(parsed, signingContext, signing.VerifyAll)
		require.NoError(t, err, format.String())
		assert.True(t, ok)

		parsed.ChargingStation.SerialNumber = "SN-9999"
		ok, _ = signing.Verify(parsed, signingContext, signing.VerifyAll)
		assert.False(t, ok, format.String())
	}
}

func TestRegisterAll(t *testing.T) {
	engine, err := forwarding.NewEngine("relay-1", forwarding.ResultReject)
	require.NoError(t, err)
	pipelines, err := RegisterAll(engine)
	require.NoError(t, err)
	assert.NotNil(t, pipelines.Heartbeat)
	assert.Equal(t, []appmessage.Action{ActionBootNotification, ActionDataTransfer, ActionHeartbeat}, engine.Actions())

	_, err = RegisterAll(engine)
	assert.Error(t, err)
}

func TestFilteredResponses(t *testing.T) {
	engine, err := forwarding.NewEngine("relay-1", forwarding.ResultReject)
	require.NoError(t, err)
	pipelines, err := RegisterAll(engine)
	require.NoError(t, err)
	pipelines.DataTransfer.AddFilter(func(ctx context.Context, request *DataTransferRequest) (*forwarding.Verdict, error) {
		if request.VendorID == "io.voltgrid" {
			return forwarding.Forward(), nil
		}
		return forwarding.Next(), nil
	})

	for _, format := range []appmessage.SerializationFormat{appmessage.FormatJSON, appmessage.FormatBinaryTLV} {
		request := NewBootNotificationRequest(appmessage.CSMSNodeID, testStation(), BootReasonPowerUp)
		request.SerializationFormat = format
		request.NetworkPath = appmessage.NewNetworkPath("cs-1")
		envelope, err := correlation.NewRequestEnvelope(BootNotificationCodec, request)
		require.NoError(t, err)

		decision := engine.ProcessRequest(context.Background(), transmit(t, envelope))
		require.Equal(t, forwarding.ResultReject, decision.Result)
		response, ok := decision.Response.(*BootNotificationResponse)
		require.True(t, ok, "unexpected response type %T", decision.Response)
		assert.Equal(t, RegistrationRejected, response.Status)
		assert.Equal(t, appmessage.ResultCodeFiltered, response.Result.Code)

		message, err := wireformat.Decode(decision.SerializedResponse)
		require.NoError(t, err)
		require.NotNil(t, message.Response)
		assert.True(t, message.Response.Destination.Equal("cs-1"))
		parsed, err := BootNotificationCodec.ParseResponse(message.Response)
		require.NoError(t, err)
		assert.Equal(t, RegistrationRejected, parsed.Status)
	}

	accepted := NewDataTransferRequest(appmessage.CSMSNodeID, "io.voltgrid", "", nil)
	envelope, err := correlation.NewRequestEnvelope(DataTransferCodec, accepted)
	require.NoError(t, err)
	decision := engine.ProcessRequest(context.Background(), envelope)
	assert.Equal(t, forwarding.ResultForward, decision.Result)

	foreign := NewDataTransferRequest(appmessage.CSMSNodeID, "com.example", "", nil)
	envelope, err = correlation.NewRequestEnvelope(DataTransferCodec, foreign)
	require.NoError(t, err)
	decision = engine.ProcessRequest(context.Background(), envelope)
	require.Equal(t, forwarding.ResultReject, decision.Result)
	assert.Equal(t, DataTransferRejected, decision.Response.(*DataTransferResponse).Status)
}

func TestMalformedPayloadsAreRejected(t *testing.T) {
	engine, err := forwarding.NewEngine("relay-1", forwarding.ResultForward)
	require.NoError(t, err)
	_, err = RegisterAll(engine)
	require.NoError(t, err)

	payloads := []struct {
		name string
		data []byte
	}{
		{"truncated object", []byte("{")},
		{"null", []byte("null")},
		{"garbage", []byte("\xff\x01")},
		{"empty", nil},
	}
	formats := []appmessage.SerializationFormat{appmessage.FormatJSON, appmessage.FormatBinaryTLV}

	for _, action := range engine.Actions() {
		for _, format := range formats {
			for _, payload := range payloads {
				// Binary bodies without fields are valid for actions without
				// required fields.
				if format == appmessage.FormatBinaryTLV && len(payload.data) == 0 && action == ActionHeartbeat {
					continue
				}
				envelope := &appmessage.RequestEnvelope{
					RequestID:           "malformed-1",
					Action:              action,
					Payload:             payload.data,
					Destination:         appmessage.CSMSNodeID,
					NetworkPath:         appmessage.NewNetworkPath("cs-1"),
					SerializationFormat: format,
				}
				decision := engine.ProcessRequest(context.Background(), envelope)
				if decision.Result != forwarding.ResultReject {
					t.Fatalf("TestMalformedPayloadsAreRejected: %s %s %s: expected %s but got %s",
						action, format, payload.name, forwarding.ResultReject, decision.Result)
				}
				if decision.RejectMessage != forwarding.ParseFailureMessage {
					t.Fatalf("TestMalformedPayloadsAreRejected: %s %s %s: unexpected reject message %q",
						action, format, payload.name, decision.RejectMessage)
				}
			}
		}
	}
}

func TestHeartbeatPayloadMustBeAnObject(t *testing.T) {
	for _, data := range []string{`null`, `[]`, `"beat"`, ` null`} {
		_, err := HeartbeatCodec.ParseRequest(&appmessage.RequestEnvelope{
			Action:              ActionHeartbeat,
			Payload:             []byte(data),
			SerializationFormat: appmessage.FormatJSON,
		})
		if err == nil {
			t.Fatalf("TestHeartbeatPayloadMustBeAnObject: %s: expected an error", data)
		}
	}

	for _, format := range []appmessage.SerializationFormat{appmessage.FormatBinaryCompact, appmessage.FormatBinaryTLV} {
		_, err := HeartbeatCodec.ParseRequest(&appmessage.RequestEnvelope{
			Action:              ActionHeartbeat,
			SerializationFormat: format,
		})
		if err != nil {
			t.Fatalf("TestHeartbeatPayloadMustBeAnObject: %s: an empty binary body is a valid heartbeat: %+v", format, err)
		}
	}
	_, err := HeartbeatCodec.ParseRequest(&appmessage.RequestEnvelope{
		Action:              ActionHeartbeat,
		Payload:             []byte(` {}`),
		SerializationFormat: appmessage.FormatJSON,
	})
	if err != nil {
		t.Fatalf("TestHeartbeatPayloadMustBeAnObject: %+v", err)
	}
}
