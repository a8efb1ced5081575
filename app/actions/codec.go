package actions

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/voltgrid/relayd/app/appmessage"
	"github.com/voltgrid/relayd/app/wireformat"
)

// signaturesFieldID carries the JSON encoded signature set in binary
// payloads.
const signaturesFieldID uint16 = 0xFFFF

type payload interface {
	validate() error
	tlvFields() []wireformat.TLVField
	parseTLV(fields wireformat.TLVFields) error
}

type request interface {
	appmessage.Request
	payload
}

type response interface {
	appmessage.Response
	payload
}

// codec implements forwarding.ActionCodec for the messages of this package.
// JSON group formats use the JSON form of the messages and binary formats
// their TLV form.
type codec[Req request, Res response] struct {
	action      appmessage.Action
	newRequest  func(header appmessage.RequestHeader) Req
	newResponse func(header appmessage.ResponseHeader) Res
	filtered    func(request Req, result *appmessage.Result) Res
}

func (c *codec[Req, Res]) Action() appmessage.Action {
	return c.action
}

func (c *codec[Req, Res]) ParseRequest(envelope *appmessage.RequestEnvelope) (Req, error) {
	request := c.newRequest(appmessage.NewRequestHeader(envelope))
	err := parsePayload(envelope.SerializationFormat, envelope.Payload, request)
	if err != nil {
		var zero Req
		return zero, errors.Wrapf(err, "invalid %s request", c.action)
	}
	return request, nil
}

func (c *codec[Req, Res]) SerializeRequest(request Req, format appmessage.SerializationFormat) ([]byte, error) {
	return serializePayload(format, request, request.Header().SignatureSet)
}

func (c *codec[Req, Res]) ParseResponse(envelope *appmessage.ResponseEnvelope) (Res, error) {
	response := c.newResponse(appmessage.NewResponseHeaderFromEnvelope(envelope))
	err := parsePayload(envelope.SerializationFormat, envelope.Payload, response)
	if err != nil {
		var zero Res
		return zero, errors.Wrapf(err, "invalid %s response", c.action)
	}
	return response, nil
}

func (c *codec[Req, Res]) SerializeResponse(response Res, format appmessage.SerializationFormat) ([]byte, error) {
	return serializePayload(format, response, response.Header().SignatureSet)
}

func (c *codec[Req, Res]) Filtered(request Req, result *appmessage.Result) Res {
	return c.filtered(request, result)
}

type signablePayload interface {
	payload
	appmessage.Signable
}

func parsePayload(format appmessage.SerializationFormat, data []byte, message signablePayload) error {
	if format.Group() == appmessage.GroupJSON {
		trimmed := bytes.TrimLeft(data, " \t\r\n")
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return errors.New("payload must be a JSON object")
		}
		err := json.Unmarshal(data, message)
		if err != nil {
			return err
		}
		return message.validate()
	}

	fields, err := wireformat.DecodeTLVFields(data)
	if err != nil {
		return err
	}
	tlvFields := wireformat.TLVFields(fields)
	err = message.parseTLV(tlvFields)
	if err != nil {
		return err
	}
	encodedSignatures, err := tlvFields.Bytes(signaturesFieldID, false)
	if err != nil {
		return err
	}
	if encodedSignatures != nil {
		err = json.Unmarshal(encodedSignatures, message.Signatures())
		if err != nil {
			return errors.Wrap(err, "invalid signatures")
		}
	}
	return message.validate()
}

func serializePayload(format appmessage.SerializationFormat, message payload,
	signatures *appmessage.SignatureSet) ([]byte, error) {

	err := message.validate()
	if err != nil {
		return nil, err
	}
	if format.Group() == appmessage.GroupJSON {
		return json.Marshal(message)
	}

	fields := message.tlvFields()
	if signatures != nil && signatures.Len() > 0 {
		encodedSignatures, err := json.Marshal(signatures)
		if err != nil {
			return nil, err
		}
		fields = append(fields, wireformat.TLVBytes(signaturesFieldID, encodedSignatures))
	}
	return wireformat.EncodeTLVFields(fields), nil
}
