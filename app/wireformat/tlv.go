package wireformat

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// tlvHeaderLength is id (u16) + type (u8) + length (u32).
const tlvHeaderLength = 7

var (
	errShortFieldHeader = errors.New("tlv: short field header")
	errShortFieldValue  = errors.New("tlv: short field value")
)

// TLV value types.
const (
	tlvTypeU8     uint8 = 1
	tlvTypeU16    uint8 = 2
	tlvTypeU32    uint8 = 3
	tlvTypeU64    uint8 = 4
	tlvTypeString uint8 = 6
	tlvTypeBytes  uint8 = 7
)

// TLVField is one type-length-value field.
type TLVField struct {
	ID    uint16
	Type  uint8
	Value []byte
}

// TLVString creates a string field.
func TLVString(id uint16, value string) TLVField {
	return TLVField{ID: id, Type: tlvTypeString, Value: []byte(value)}
}

// TLVBytes creates a bytes field.
func TLVBytes(id uint16, value []byte) TLVField {
	return TLVField{ID: id, Type: tlvTypeBytes, Value: value}
}

// TLVUint8 creates a u8 field.
func TLVUint8(id uint16, value uint8) TLVField {
	return TLVField{ID: id, Type: tlvTypeU8, Value: []byte{value}}
}

// TLVUint32 creates a big-endian u32 field.
func TLVUint32(id uint16, value uint32) TLVField {
	encoded := make([]byte, 4)
	binary.BigEndian.PutUint32(encoded, value)
	return TLVField{ID: id, Type: tlvTypeU32, Value: encoded}
}

// TLVUint64 creates a big-endian u64 field.
func TLVUint64(id uint16, value uint64) TLVField {
	encoded := make([]byte, 8)
	binary.BigEndian.PutUint64(encoded, value)
	return TLVField{ID: id, Type: tlvTypeU64, Value: encoded}
}

// EncodeTLVFields concatenates the encoded fields.
func EncodeTLVFields(fields []TLVField) []byte {
	size := 0
	for _, field := range fields {
		size += tlvHeaderLength + len(field.Value)
	}
	out := make([]byte, 0, size)
	for _, field := range fields {
		var header [tlvHeaderLength]byte
		binary.BigEndian.PutUint16(header[0:2], field.ID)
		header[2] = field.Type
		binary.BigEndian.PutUint32(header[3:7], uint32(len(field.Value)))
		out = append(out, header[:]...)
		out = append(out, field.Value...)
	}
	return out
}

// DecodeTLVFields splits payload into fields. Values are copied.
func DecodeTLVFields(payload []byte) ([]TLVField, error) {
	fields := make([]TLVField, 0)
	i := 0
	for i < len(payload) {
		if len(payload)-i < tlvHeaderLength {
			return nil, errShortFieldHeader
		}
		id := binary.BigEndian.Uint16(payload[i : i+2])
		typeID := payload[i+2]
		length := binary.BigEndian.Uint32(payload[i+3 : i+7])
		i += tlvHeaderLength
		if uint32(len(payload)-i) < length {
			return nil, errShortFieldValue
		}
		value := make([]byte, length)
		copy(value, payload[i:i+int(length)])
		i += int(length)
		fields = append(fields, TLVField{ID: id, Type: typeID, Value: value})
	}
	return fields, nil
}

// TLVFields is a decoded field list with typed accessors.
type TLVFields []TLVField

// Get returns the first field with the given id.
func (fields TLVFields) Get(id uint16) (TLVField, bool) {
	for _, field := range fields {
		if field.ID == id {
			return field, true
		}
	}
	return TLVField{}, false
}

// All returns every field with the given id, in order.
func (fields TLVFields) All(id uint16) []TLVField {
	var matching []TLVField
	for _, field := range fields {
		if field.ID == id {
			matching = append(matching, field)
		}
	}
	return matching
}

// Text returns the string field with the given id. Missing optional fields
// yield "".
func (fields TLVFields) Text(id uint16, required bool) (string, error) {
	field, ok := fields.Get(id)
	if !ok {
		if required {
			return "", errors.Errorf("tlv: missing field %d", id)
		}
		return "", nil
	}
	if err := field.mustType(tlvTypeString); err != nil {
		return "", err
	}
	return string(field.Value), nil
}

// Bytes returns the bytes field with the given id.
func (fields TLVFields) Bytes(id uint16, required bool) ([]byte, error) {
	field, ok := fields.Get(id)
	if !ok {
		if required {
			return nil, errors.Errorf("tlv: missing field %d", id)
		}
		return nil, nil
	}
	if err := field.mustType(tlvTypeBytes); err != nil {
		return nil, err
	}
	return field.Value, nil
}

// Uint8 returns the u8 field with the given id.
func (fields TLVFields) Uint8(id uint16) (uint8, error) {
	field, ok := fields.Get(id)
	if !ok {
		return 0, errors.Errorf("tlv: missing field %d", id)
	}
	if err := field.mustType(tlvTypeU8); err != nil {
		return 0, err
	}
	if len(field.Value) != 1 {
		return 0, errors.Errorf("tlv: invalid u8 length: %d", len(field.Value))
	}
	return field.Value[0], nil
}

// Uint32 returns the u32 field with the given id.
func (fields TLVFields) Uint32(id uint16) (uint32, error) {
	field, ok := fields.Get(id)
	if !ok {
		return 0, errors.Errorf("tlv: missing field %d", id)
	}
	if err := field.mustType(tlvTypeU32); err != nil {
		return 0, err
	}
	if len(field.Value) != 4 {
		return 0, errors.Errorf("tlv: invalid u32 length: %d", len(field.Value))
	}
	return binary.BigEndian.Uint32(field.Value), nil
}

// Uint64 returns the u64 field with the given id.
func (fields TLVFields) Uint64(id uint16) (uint64, error) {
	field, ok := fields.Get(id)
	if !ok {
		return 0, errors.Errorf("tlv: missing field %d", id)
	}
	if err := field.mustType(tlvTypeU64); err != nil {
		return 0, err
	}
	if len(field.Value) != 8 {
		return 0, errors.Errorf("tlv: invalid u64 length: %d", len(field.Value))
	}
	return binary.BigEndian.Uint64(field.Value), nil
}

func (field TLVField) mustType(expected uint8) error {
	if field.Type != expected {
		return errors.Errorf("tlv: field %d type mismatch: got %d want %d", field.ID, field.Type, expected)
	}
	return nil
}
