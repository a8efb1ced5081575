package wireformat

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
)

// jsonCodec encodes the array forms
//
//	[2, destination, [path], requestId, action, payload]
//	[3, destination, [path], requestId, payload]
//	[4, destination, [path], requestId, errorCode, errorDescription, errorDetails]
//
// and also decodes the plain forms without destination and path sent by
// devices that are not aware of networking nodes.
type jsonCodec struct{}

const (
	plainCallLength            = 4
	plainCallResultLength      = 3
	plainCallErrorLength       = 5
	networkingCallLength       = 6
	networkingCallResultLength = 5
	networkingCallErrorLength  = 7
)

func (jsonCodec) encodeRequest(envelope *appmessage.RequestEnvelope) ([]byte, error) {
	payload, err := jsonPayload(envelope.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{
		MessageTypeCall,
		envelope.Destination,
		envelope.NetworkPath,
		envelope.RequestID,
		envelope.Action,
		payload,
	})
}

func (jsonCodec) encodeResponse(envelope *appmessage.ResponseEnvelope) ([]byte, error) {
	if envelope.IsError() {
		details, err := jsonPayload(envelope.ErrorDetails)
		if err != nil {
			return nil, errors.Wrap(err, "error details")
		}
		return json.Marshal([]interface{}{
			MessageTypeCallError,
			envelope.Destination,
			envelope.NetworkPath,
			envelope.RequestID,
			envelope.ErrorCode,
			envelope.ErrorDescription,
			details,
		})
	}
	payload, err := jsonPayload(envelope.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{
		MessageTypeCallResult,
		envelope.Destination,
		envelope.NetworkPath,
		envelope.RequestID,
		payload,
	})
}

func (jsonCodec) encodePlainResponse(envelope *appmessage.ResponseEnvelope) ([]byte, error) {
	if envelope.IsError() {
		details, err := jsonPayload(envelope.ErrorDetails)
		if err != nil {
			return nil, errors.Wrap(err, "error details")
		}
		return json.Marshal([]interface{}{
			MessageTypeCallError,
			envelope.RequestID,
			envelope.ErrorCode,
			envelope.ErrorDescription,
			details,
		})
	}
	payload, err := jsonPayload(envelope.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal([]interface{}{
		MessageTypeCallResult,
		envelope.RequestID,
		payload,
	})
}

func jsonPayload(payload []byte) (json.RawMessage, error) {
	if len(payload) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(payload) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(payload), nil
}

func (jsonCodec) decode(body []byte) (*Message, error) {
	var elements []json.RawMessage
	err := json.Unmarshal(body, &elements)
	if err != nil {
		return nil, errors.Wrap(err, "message must be a JSON array")
	}
	if len(elements) == 0 {
		return nil, errors.New("message must not be an empty array")
	}
	var messageType MessageType
	err = json.Unmarshal(elements[0], &messageType)
	if err != nil {
		return nil, errors.Wrap(err, "invalid message type")
	}

	destination := appmessage.ZeroNodeID
	path := appmessage.EmptyNetworkPath
	rest := elements[1:]
	plain := isPlainForm(messageType, len(elements))
	if isNetworkingForm(messageType, len(elements)) {
		destination, err = decodeNodeID(rest[0])
		if err != nil {
			return nil, errors.Wrap(err, "invalid destination")
		}
		err = json.Unmarshal(rest[1], &path)
		if err != nil {
			return nil, err
		}
		rest = rest[2:]
	} else if !plain {
		return nil, errors.Errorf("unexpected message type %d with %d elements", messageType, len(elements))
	}

	var requestID string
	err = json.Unmarshal(rest[0], &requestID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid request id")
	}
	parsedRequestID, err := appmessage.ParseRequestID(requestID)
	if err != nil {
		return nil, err
	}

	switch messageType {
	case MessageTypeCall:
		var action string
		err = json.Unmarshal(rest[1], &action)
		if err != nil || action == "" {
			return nil, errors.Errorf("invalid action %s", rest[1])
		}
		return &Message{Request: &appmessage.RequestEnvelope{
			RequestID:   parsedRequestID,
			Action:      appmessage.Action(action),
			Payload:     []byte(rest[2]),
			Destination: destination,
			NetworkPath: path,
		}, Plain: plain}, nil

	case MessageTypeCallResult:
		return &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:   parsedRequestID,
			Destination: destination,
			NetworkPath: path,
			Payload:     []byte(rest[1]),
		}, Plain: plain}, nil

	default:
		var errorCode, errorDescription string
		err = json.Unmarshal(rest[1], &errorCode)
		if err != nil || errorCode == "" {
			return nil, errors.Errorf("invalid error code %s", rest[1])
		}
		err = json.Unmarshal(rest[2], &errorDescription)
		if err != nil {
			return nil, errors.Wrap(err, "invalid error description")
		}
		return &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:        parsedRequestID,
			Destination:      destination,
			NetworkPath:      path,
			ErrorCode:        appmessage.ErrorCode(errorCode),
			ErrorDescription: errorDescription,
			ErrorDetails:     []byte(rest[3]),
		}, Plain: plain}, nil
	}
}

func isNetworkingForm(messageType MessageType, length int) bool {
	switch messageType {
	case MessageTypeCall:
		return length == networkingCallLength
	case MessageTypeCallResult:
		return length == networkingCallResultLength
	case MessageTypeCallError:
		return length == networkingCallErrorLength
	}
	return false
}

func isPlainForm(messageType MessageType, length int) bool {
	switch messageType {
	case MessageTypeCall:
		return length == plainCallLength
	case MessageTypeCallResult:
		return length == plainCallResultLength
	case MessageTypeCallError:
		return length == plainCallErrorLength
	}
	return false
}

func decodeNodeID(raw json.RawMessage) (appmessage.NodeID, error) {
	var text string
	err := json.Unmarshal(raw, &text)
	if err != nil {
		return "", err
	}
	return appmessage.ParseNodeID(text)
}
