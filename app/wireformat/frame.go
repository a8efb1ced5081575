package wireformat

import (
	"bytes"

	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/protocolerrors"
)

// MaxFrameSize bounds the size of a single frame on any transport.
const MaxFrameSize = 4 * 1024 * 1024

// MessageType is the leading discriminator of every encoded message.
type MessageType uint8

// Message types.
const (
	MessageTypeCall       MessageType = 2
	MessageTypeCallResult MessageType = 3
	MessageTypeCallError  MessageType = 4
)

// Frame is one message as handed to or received from a transport. Text
// frames always hold JSON. Binary frames start with the 2-byte big-endian
// SerializationFormat code.
type Frame struct {
	Data   []byte
	Binary bool
}

// Message is a decoded frame: exactly one of Request and Response is set.
// Plain is set when the frame used the plain form without destination and
// network path.
type Message struct {
	Request  *appmessage.RequestEnvelope
	Response *appmessage.ResponseEnvelope
	Plain    bool
}

// RequestID returns the request id of whichever envelope is set.
func (m *Message) RequestID() appmessage.RequestID {
	if m.Request != nil {
		return m.Request.RequestID
	}
	return m.Response.RequestID
}

type codec interface {
	encodeRequest(envelope *appmessage.RequestEnvelope) ([]byte, error)
	encodeResponse(envelope *appmessage.ResponseEnvelope) ([]byte, error)
	decode(body []byte) (*Message, error)
}

var codecs = map[appmessage.SerializationFormat]codec{
	appmessage.FormatDefault:        jsonCodec{},
	appmessage.FormatJSON:           jsonCodec{},
	appmessage.FormatJSONUTF8Binary: jsonCodec{},
	appmessage.FormatBinaryCompact:  compactCodec{textActionIDs: false},
	appmessage.FormatBinaryTextIDs:  compactCodec{textActionIDs: true},
	appmessage.FormatBinaryTLV:      tlvCodec{},
}

// IsBinaryFrame reports whether envelopes of the given format travel in
// binary frames. Only Default and JSON use text frames.
func IsBinaryFrame(format appmessage.SerializationFormat) bool {
	return format != appmessage.FormatDefault && format != appmessage.FormatJSON
}

func codecFor(format appmessage.SerializationFormat) (codec, error) {
	c, ok := codecs[format]
	if !ok {
		return nil, protocolerrors.Errorf(protocolerrors.FormatError,
			"no codec for serialization format %s (%d)", format, format.Number())
	}
	return c, nil
}

// EncodeRequest encodes envelope in its SerializationFormat.
func EncodeRequest(envelope *appmessage.RequestEnvelope) (Frame, error) {
	c, err := codecFor(envelope.SerializationFormat)
	if err != nil {
		return Frame{}, err
	}
	body, err := c.encodeRequest(envelope)
	if err != nil {
		return Frame{}, protocolerrors.Wrapf(protocolerrors.FormatError, err,
			"encoding %s request %s", envelope.Action, envelope.RequestID)
	}
	return frameFor(envelope.SerializationFormat, body)
}

// EncodeResponse encodes envelope in its SerializationFormat.
func EncodeResponse(envelope *appmessage.ResponseEnvelope) (Frame, error) {
	c, err := codecFor(envelope.SerializationFormat)
	if err != nil {
		return Frame{}, err
	}
	body, err := c.encodeResponse(envelope)
	if err != nil {
		return Frame{}, protocolerrors.Wrapf(protocolerrors.FormatError, err,
			"encoding response %s", envelope.RequestID)
	}
	return frameFor(envelope.SerializationFormat, body)
}

// EncodePlainResponse encodes envelope in the plain JSON form without
// destination and network path, for peers that sent their request that way.
func EncodePlainResponse(envelope *appmessage.ResponseEnvelope) (Frame, error) {
	body, err := jsonCodec{}.encodePlainResponse(envelope)
	if err != nil {
		return Frame{}, protocolerrors.Wrapf(protocolerrors.FormatError, err,
			"encoding plain response %s", envelope.RequestID)
	}
	return Frame{Data: body}, nil
}

func frameFor(format appmessage.SerializationFormat, body []byte) (Frame, error) {
	if !IsBinaryFrame(format) {
		return Frame{Data: body}, nil
	}
	data := make([]byte, 0, appmessage.SerializationFormatSize+len(body))
	data = append(data, format.Bytes()...)
	data = append(data, body...)
	if len(data) > MaxFrameSize {
		return Frame{}, protocolerrors.Errorf(protocolerrors.FormatError,
			"frame of %d bytes exceeds the maximum of %d", len(data), MaxFrameSize)
	}
	return Frame{Data: data, Binary: true}, nil
}

// Decode decodes a frame into a request or response envelope. The envelope's
// SerializationFormat is set from the frame.
func Decode(frame Frame) (*Message, error) {
	if len(frame.Data) > MaxFrameSize {
		return nil, protocolerrors.Errorf(protocolerrors.ParseError,
			"frame of %d bytes exceeds the maximum of %d", len(frame.Data), MaxFrameSize)
	}

	format := appmessage.FormatJSON
	body := frame.Data
	if frame.Binary {
		var ok bool
		format, ok = appmessage.TryParseSerializationFormatBytes(frame.Data)
		if !ok || format == appmessage.FormatUnknown {
			return nil, protocolerrors.Errorf(protocolerrors.ParseError,
				"binary frame has an unknown serialization format prefix")
		}
		body = frame.Data[appmessage.SerializationFormatSize:]
	}

	c, err := codecFor(format)
	if err != nil {
		return nil, err
	}
	message, err := c.decode(body)
	if err != nil {
		return nil, protocolerrors.Wrapf(protocolerrors.ParseError, err, "decoding %s frame", format)
	}
	if message.Request != nil {
		message.Request.SerializationFormat = format
	} else {
		message.Response.SerializationFormat = format
	}
	log.Tracef("Decoded %s frame of %d bytes for request %s", format, len(frame.Data), message.RequestID())
	return message, nil
}

// FrameFromBytes classifies raw bytes from a transport that does not
// distinguish text from binary messages. JSON messages always start with
// '[' while binary frames start with a format code whose first byte is 0x00
// or 0xFF.
func FrameFromBytes(data []byte) Frame {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return Frame{Data: data}
	}
	return Frame{Data: data, Binary: true}
}
