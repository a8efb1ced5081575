package wireformat

import (
	"bytes"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/util/binaryserializer"
)

// compactCodec writes envelopes positionally:
//
//	u8 message type | var string request id | var string destination |
//	u8 hop count, var string per hop | body
//
// where the body of a request is the action followed by the var bytes
// payload. BinaryCompact encodes the action as a registered u16 id,
// BinaryTextIds as a var string.
type compactCodec struct {
	textActionIDs bool
}

const maxCompactHops = math.MaxUint8

var (
	actionIDs     = make(map[appmessage.Action]uint16)
	idActions     = make(map[uint16]appmessage.Action)
	actionIDsLock sync.RWMutex
)

// RegisterActionID assigns the numeric id BinaryCompact uses for action.
// Both the action and the id must be unused.
func RegisterActionID(action appmessage.Action, id uint16) error {
	actionIDsLock.Lock()
	defer actionIDsLock.Unlock()

	if existing, ok := actionIDs[action]; ok {
		if existing == id {
			return nil
		}
		return errors.Errorf("action %s already has compact id %d", action, existing)
	}
	if existing, ok := idActions[id]; ok {
		return errors.Errorf("compact id %d is already used by %s", id, existing)
	}
	actionIDs[action] = id
	idActions[id] = action
	return nil
}

func actionID(action appmessage.Action) (uint16, bool) {
	actionIDsLock.RLock()
	defer actionIDsLock.RUnlock()

	id, ok := actionIDs[action]
	return id, ok
}

func actionForID(id uint16) (appmessage.Action, bool) {
	actionIDsLock.RLock()
	defer actionIDsLock.RUnlock()

	action, ok := idActions[id]
	return action, ok
}

func writeCompactRouting(w io.Writer, messageType MessageType, requestID appmessage.RequestID,
	destination appmessage.NodeID, path appmessage.NetworkPath) error {

	if path.Len() > maxCompactHops {
		return errors.Errorf("network path of %d hops is too long", path.Len())
	}
	err := binaryserializer.PutUint8(w, uint8(messageType))
	if err != nil {
		return err
	}
	err = binaryserializer.PutVarString(w, string(requestID))
	if err != nil {
		return err
	}
	err = binaryserializer.PutVarString(w, string(destination))
	if err != nil {
		return err
	}
	err = binaryserializer.PutUint8(w, uint8(path.Len()))
	if err != nil {
		return err
	}
	for _, hop := range path.Hops() {
		err = binaryserializer.PutVarString(w, string(hop))
		if err != nil {
			return err
		}
	}
	return nil
}

func (c compactCodec) encodeRequest(envelope *appmessage.RequestEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	err := writeCompactRouting(&buf, MessageTypeCall, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
	if err != nil {
		return nil, err
	}
	if c.textActionIDs {
		err = binaryserializer.PutVarString(&buf, string(envelope.Action))
	} else {
		id, ok := actionID(envelope.Action)
		if !ok {
			return nil, errors.Errorf("action %s has no compact id", envelope.Action)
		}
		err = binaryserializer.PutUint16(&buf, id)
	}
	if err != nil {
		return nil, err
	}
	err = binaryserializer.PutVarBytes(&buf, envelope.Payload)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c compactCodec) encodeResponse(envelope *appmessage.ResponseEnvelope) ([]byte, error) {
	var buf bytes.Buffer
	if envelope.IsError() {
		err := writeCompactRouting(&buf, MessageTypeCallError, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
		if err != nil {
			return nil, err
		}
		err = binaryserializer.PutVarString(&buf, string(envelope.ErrorCode))
		if err != nil {
			return nil, err
		}
		err = binaryserializer.PutVarString(&buf, envelope.ErrorDescription)
		if err != nil {
			return nil, err
		}
		err = binaryserializer.PutVarBytes(&buf, envelope.ErrorDetails)
		if err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	err := writeCompactRouting(&buf, MessageTypeCallResult, envelope.RequestID, envelope.Destination, envelope.NetworkPath)
	if err != nil {
		return nil, err
	}
	err = binaryserializer.PutVarBytes(&buf, envelope.Payload)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c compactCodec) decode(body []byte) (*Message, error) {
	r := bytes.NewReader(body)

	messageType, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}
	requestIDText, err := binaryserializer.VarString(r)
	if err != nil {
		return nil, err
	}
	requestID, err := appmessage.ParseRequestID(requestIDText)
	if err != nil {
		return nil, err
	}
	destinationText, err := binaryserializer.VarString(r)
	if err != nil {
		return nil, err
	}
	destination := appmessage.ZeroNodeID
	if destinationText != "" {
		destination = appmessage.NodeID(destinationText)
	}
	hopCount, err := binaryserializer.Uint8(r)
	if err != nil {
		return nil, err
	}
	hops := make([]appmessage.NodeID, 0, hopCount)
	for i := uint8(0); i < hopCount; i++ {
		hopText, err := binaryserializer.VarString(r)
		if err != nil {
			return nil, err
		}
		hop, err := appmessage.ParseNodeID(hopText)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}
	path := appmessage.NewNetworkPath(hops...)

	var message *Message
	switch MessageType(messageType) {
	case MessageTypeCall:
		action, err := c.readAction(r)
		if err != nil {
			return nil, err
		}
		payload, err := binaryserializer.VarBytes(r, MaxFrameSize)
		if err != nil {
			return nil, err
		}
		message = &Message{Request: &appmessage.RequestEnvelope{
			RequestID:   requestID,
			Action:      action,
			Payload:     payload,
			Destination: destination,
			NetworkPath: path,
		}}

	case MessageTypeCallResult:
		payload, err := binaryserializer.VarBytes(r, MaxFrameSize)
		if err != nil {
			return nil, err
		}
		message = &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:   requestID,
			Destination: destination,
			NetworkPath: path,
			Payload:     payload,
		}}

	case MessageTypeCallError:
		errorCode, err := binaryserializer.VarString(r)
		if err != nil {
			return nil, err
		}
		if errorCode == "" {
			return nil, errors.New("empty error code")
		}
		errorDescription, err := binaryserializer.VarString(r)
		if err != nil {
			return nil, err
		}
		errorDetails, err := binaryserializer.VarBytes(r, MaxFrameSize)
		if err != nil {
			return nil, err
		}
		message = &Message{Response: &appmessage.ResponseEnvelope{
			RequestID:        requestID,
			Destination:      destination,
			NetworkPath:      path,
			ErrorCode:        appmessage.ErrorCode(errorCode),
			ErrorDescription: errorDescription,
			ErrorDetails:     errorDetails,
		}}

	default:
		return nil, errors.Errorf("unexpected message type %d", messageType)
	}

	if r.Len() != 0 {
		return nil, errors.Errorf("%d trailing bytes after message", r.Len())
	}
	return message, nil
}

func (c compactCodec) readAction(r io.Reader) (appmessage.Action, error) {
	if c.textActionIDs {
		action, err := binaryserializer.VarString(r)
		if err != nil {
			return "", err
		}
		if action == "" {
			return "", errors.New("empty action")
		}
		return appmessage.Action(action), nil
	}
	id, err := binaryserializer.Uint16(r)
	if err != nil {
		return "", err
	}
	action, ok := actionForID(id)
	if !ok {
		return "", errors.Errorf("unknown compact action id %d", id)
	}
	return action, nil
}
