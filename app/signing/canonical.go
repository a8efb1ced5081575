package signing

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

const (
	contextField    = "@context"
	signaturesField = "signatures"
)

// Canonicalize returns the bytes that signatures are computed over: the
// message's JSON form with the signatures removed, "@context" set to context
// and placed first, and every object's keys in sorted order. Numbers keep
// their textual form.
func Canonicalize(message interface{}, context string) ([]byte, error) {
	raw, ok := message.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(message)
		if err != nil {
			return nil, errors.Wrap(err, "failed serializing the message")
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var object map[string]interface{}
	err := decoder.Decode(&object)
	if err != nil {
		return nil, errors.Wrap(err, "signable messages must be JSON objects")
	}
	delete(object, signaturesField)
	delete(object, contextField)

	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	buffer := &bytes.Buffer{}
	buffer.WriteByte('{')
	err = writeMember(buffer, contextField, context)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		buffer.WriteByte(',')
		err = writeMember(buffer, key, object[key])
		if err != nil {
			return nil, err
		}
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

func writeMember(buffer *bytes.Buffer, key string, value interface{}) error {
	encodedKey, err := marshalNoEscape(key)
	if err != nil {
		return err
	}
	encodedValue, err := marshalNoEscape(value)
	if err != nil {
		return errors.Wrapf(err, "failed serializing field %s", key)
	}
	buffer.Write(encodedKey)
	buffer.WriteByte(':')
	buffer.Write(encodedValue)
	return nil
}

// marshalNoEscape marshals without HTML escaping. Nested maps come out with
// sorted keys.
func marshalNoEscape(value interface{}) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(value)
	if err != nil {
		return nil, err
	}
	return bytes.TrimRight(buffer.Bytes(), "\n"), nil
}
