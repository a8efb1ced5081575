package appmessage

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// SerializationFormat tags how an envelope was encoded on the wire.
type SerializationFormat uint16

// The defined serialization formats. The numeric codes are part of the wire
// protocol and must never change.
const (
	FormatDefault        SerializationFormat = 0
	FormatJSON           SerializationFormat = 1
	FormatJSONUTF8Binary SerializationFormat = 2
	FormatBinaryCompact  SerializationFormat = 100
	FormatBinaryTextIDs  SerializationFormat = 101
	FormatBinaryTLV      SerializationFormat = 102
	FormatUnknown        SerializationFormat = 0xFFFF
)

// SerializationFormatSize is the length of the big-endian wire encoding.
const SerializationFormatSize = 2

// firstBinaryFormatCode divides the two format groups.
const firstBinaryFormatCode = 100

// SerializationGroup partitions the formats into JSON and binary ones.
type SerializationGroup uint8

// The two serialization groups.
const (
	GroupJSON SerializationGroup = iota
	GroupBinary
)

func (g SerializationGroup) String() string {
	if g == GroupJSON {
		return "JSON"
	}
	return "Binary"
}

var serializationFormatToString = map[SerializationFormat]string{
	FormatDefault:        "Default",
	FormatJSON:           "JSON",
	FormatJSONUTF8Binary: "JSON_UTF8_Binary",
	FormatBinaryCompact:  "Compact",
	FormatBinaryTextIDs:  "TextIds",
	FormatBinaryTLV:      "TLV",
	FormatUnknown:        "Unknown",
}

var stringToSerializationFormat = func() map[string]SerializationFormat {
	m := make(map[string]SerializationFormat, len(serializationFormatToString))
	for format, text := range serializationFormatToString {
		m[strings.ToLower(text)] = format
	}
	return m
}()

// SerializationFormats returns every defined format except FormatUnknown.
func SerializationFormats() []SerializationFormat {
	return []SerializationFormat{
		FormatDefault,
		FormatJSON,
		FormatJSONUTF8Binary,
		FormatBinaryCompact,
		FormatBinaryTextIDs,
		FormatBinaryTLV,
	}
}

// IsDefined reports whether f is one of the defined formats, FormatUnknown
// included.
func (f SerializationFormat) IsDefined() bool {
	_, ok := serializationFormatToString[f]
	return ok
}

// String returns the text form, e.g. "Compact" for FormatBinaryCompact.
func (f SerializationFormat) String() string {
	text, ok := serializationFormatToString[f]
	if !ok {
		return serializationFormatToString[FormatUnknown]
	}
	return text
}

// Number returns the 16-bit wire code.
func (f SerializationFormat) Number() uint16 {
	return uint16(f)
}

// Bytes returns the 2-byte big-endian wire encoding.
func (f SerializationFormat) Bytes() []byte {
	encoded := make([]byte, SerializationFormatSize)
	binary.BigEndian.PutUint16(encoded, uint16(f))
	return encoded
}

// Group returns GroupJSON for codes below 100 and GroupBinary otherwise.
func (f SerializationFormat) Group() SerializationGroup {
	if f < firstBinaryFormatCode {
		return GroupJSON
	}
	return GroupBinary
}

// TryParseSerializationFormatText parses the text form case-insensitively.
func TryParseSerializationFormatText(text string) (SerializationFormat, bool) {
	format, ok := stringToSerializationFormat[strings.ToLower(strings.TrimSpace(text))]
	if !ok {
		return FormatUnknown, false
	}
	return format, true
}

// ParseSerializationFormatText is TryParseSerializationFormatText returning
// FormatUnknown for unrecognized input.
func ParseSerializationFormatText(text string) SerializationFormat {
	format, _ := TryParseSerializationFormatText(text)
	return format
}

// TryParseSerializationFormatNumber maps a wire code to its format.
func TryParseSerializationFormatNumber(number uint16) (SerializationFormat, bool) {
	format := SerializationFormat(number)
	if !format.IsDefined() {
		return FormatUnknown, false
	}
	return format, true
}

// ParseSerializationFormatNumber returns FormatUnknown for undefined codes.
func ParseSerializationFormatNumber(number uint16) SerializationFormat {
	format, _ := TryParseSerializationFormatNumber(number)
	return format
}

// TryParseSerializationFormatBytes decodes the leading 2-byte big-endian
// code of data. Shorter input is not recognized.
func TryParseSerializationFormatBytes(data []byte) (SerializationFormat, bool) {
	if len(data) < SerializationFormatSize {
		return FormatUnknown, false
	}
	return TryParseSerializationFormatNumber(binary.BigEndian.Uint16(data))
}

// ParseSerializationFormatBytes returns FormatUnknown for unrecognized input.
func ParseSerializationFormatBytes(data []byte) SerializationFormat {
	format, _ := TryParseSerializationFormatBytes(data)
	return format
}

// MarshalText encodes the text form.
func (f SerializationFormat) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes the text form. Unrecognized text is an error here,
// since configuration files should not silently select FormatUnknown.
func (f *SerializationFormat) UnmarshalText(text []byte) error {
	format, ok := TryParseSerializationFormatText(string(text))
	if !ok {
		return errors.Errorf("unknown serialization format %q", text)
	}
	*f = format
	return nil
}
