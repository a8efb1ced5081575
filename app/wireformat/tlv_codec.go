package wireformat

import (
	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
)

// Field ids of the TLV envelope. A network path is encoded as one
// tlvFieldPathHop field per hop, in order.
const (
	tlvFieldMessageType      uint16 = 1
	tlvFieldRequestID        uint16 = 2
	tlvFieldAction           uint16 = 3
	tlvFieldDestination      uint16 = 4
	tlvFieldPathHop          uint16 = 5
	tlvFieldPayload          uint16 = 6
	tlvFieldErrorCode        uint16 = 7
	tlvFieldErrorDescription uint16 = 8
	tlvFieldErrorDetails     uint16 = 9
)

type tlvCodec struct{}

func tlvRoutingFields(messageType MessageType, requestID appmessage.RequestID,
	destination appmessage.NodeID, path appmessage.NetworkPath) []TLVField {

	fields := []TLVField{
		TLVUint8(tlvFieldMessageType, uint8(messageType)),
		TLVString(tlvFieldRequestID, string(requestID)),
		TLVString(tlvFieldDestination, string(destination)),
	}
	for _, hop := range path.Hops() {
		fields = append(fields, TLVString(tlvFieldPathHop, string(hop)))
	}
	return fields
}

func (tlvCodec) encodeRequest(envelope *appmessage.RequestEnvelope) ([]byte, error) {
	fields := tlvRoutingFields(MessageTypeCall, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
	fields = append(fields,
		TLVString(tlvFieldAction, string(envelope.Action)),
		TLVBytes(tlvFieldPayload, envelope.Payload))
	return EncodeTLVFields(fields), nil
}

func (tlvCodec) encodeResponse(envelope *appmessage.ResponseEnvelope) ([]byte, error) {
	if envelope.IsError() {
		fields := tlvRoutingFields(MessageTypeCallError, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
		fields = append(fields,
			TLVString(tlvFieldErrorCode, string(envelope.ErrorCode)),
			TLVString(tlvFieldErrorDescription, envelope.ErrorDescription),
			TLVBytes(tlvFieldErrorDetails, envelope.ErrorDetails))
		return EncodeTLVFields(fields), nil
	}
	fields := tlvRoutingFields(MessageTypeCallResult, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
	fields = append(fields, TLVBytes(tlvFieldPayload, envelope.Payload))
	return EncodeTLVFields(fields), nil
}

func (tlvCodec) decode(body []byte) (*Message, error) {
	decoded, err := DecodeTLVFields(body)
	if err != nil {
		return nil, err
	}
	fields := TLVFields(decoded)

	messageType, err := fields.Uint8(tlvFieldMessageType)
	if err != nil {
		return nil, err
	}
	requestIDText, err := fields.Text(tlvFieldRequestID, true)
	if err != nil {
		return nil, err
	}
	requestID, err := appmessage.ParseRequestID(requestIDText)
	if err != nil {
		return nil, err
	}
	destinationText, err := fields.Text(tlvFieldDestination, false)
	if err != nil {
		return nil, err
	}
	destination := appmessage.ZeroNodeID
	if destinationText != "" {
		destination = appmessage.NodeID(destinationText)
	}
	var hops []appmessage.NodeID
	for _, hopField := range fields.All(tlvFieldPathHop) {
		if err := hopField.mustType(tlvTypeString); err != nil {
			return nil, err
		}
		hop, err := appmessage.ParseNodeID(string(hopField.Value))
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}
	path := appmessage.NewNetworkPath(hops...)

	switch MessageType(messageType) {
	case MessageTypeCall:
		action, err := fields.Text(tlvFieldAction, true)
		if err != nil {
			return nil, err
		}
		if action == "" {
			return nil, errors.New("empty action")
		}
		payload, err := fields.Bytes(tlvFieldPayload, false)
		if err != nil {
			return nil, err
		}
		return &Message{Request: &appmessage.RequestEnvelope{
			RequestID:   requestID,
			Action:      appmessage.Action(action),
			Payload:     payload,
			Destination: destination,
			NetworkPath: path,
		}}, nil

	case MessageTypeCallResult:
		payload, err := fields.Bytes(tlvFieldPayload, false)
		if err != nil {
			return nil, err
		}
		return &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:   requestID,
			Destination: destination,
			NetworkPath: path,
			Payload:     payload,
		}}, nil

	case MessageTypeCallError:
		errorCode, err := fields.Text(tlvFieldErrorCode, true)
		if err != nil {
			return nil, err
		}
		if errorCode == "" {
			return nil, errors.New("empty error code")
		}
		errorDescription, err := fields.Text(tlvFieldErrorDescription, false)
		if err != nil {
			return nil, err
		}
		errorDetails, err := fields.Bytes(tlvFieldErrorDetails, false)
		if err != nil {
			return nil, err
		}
		return &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:        requestID,
			Destination:      destination,
			NetworkPath:      path,
			ErrorCode:        appmessage.ErrorCode(errorCode),
			ErrorDescription: errorDescription,
			ErrorDetails:     errorDetails,
		}}, nil
	}
	return nil, errors.Errorf("unexpected message type %d", messageType)
}
