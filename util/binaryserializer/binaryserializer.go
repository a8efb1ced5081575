package binaryserializer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// maxItems is the number of buffers kept in the free list.
const maxItems = 1024

// MaxVarBytesLength bounds every length-prefixed field read by VarBytes.
const MaxVarBytesLength = 16 * 1024 * 1024

// ErrFieldTooLong is returned when a length prefix exceeds the allowed maximum.
var ErrFieldTooLong = errors.New("length-prefixed field exceeds the maximum length")

// Borrow returns a byte slice from the free list with a length of 8. A new
// buffer is allocated if there are not any available on the free list.
func Borrow() []byte {
	var buf []byte
	select {
	case buf = <-binaryFreeList:
	default:
		buf = make([]byte, 8)
	}
	return buf[:8]
}

// Return puts the provided byte slice back on the free list. The buffer MUST
// have been obtained via the Borrow function and therefore have a cap of 8.
func Return(buf []byte) {
	select {
	case binaryFreeList <- buf:
	default:
	}
}

// Uint8 reads a single byte.
func Uint8(r io.Reader) (uint8, error) {
	buf := Borrow()[:1]
	defer Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.WithStack(err)
	}
	return buf[0], nil
}

// Uint16 reads a big-endian uint16.
func Uint16(r io.Reader) (uint16, error) {
	buf := Borrow()[:2]
	defer Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.BigEndian.Uint16(buf), nil
}

// Uint32 reads a big-endian uint32.
func Uint32(r io.Reader) (uint32, error) {
	buf := Borrow()[:4]
	defer Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.BigEndian.Uint32(buf), nil
}

// Uint64 reads a big-endian uint64.
func Uint64(r io.Reader) (uint64, error) {
	buf := Borrow()[:8]
	defer Return(buf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.BigEndian.Uint64(buf), nil
}

// PutUint8 writes a single byte.
func PutUint8(w io.Writer, val uint8) error {
	buf := Borrow()[:1]
	defer Return(buf)
	buf[0] = val
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

// PutUint16 writes val big-endian.
func PutUint16(w io.Writer, val uint16) error {
	buf := Borrow()[:2]
	defer Return(buf)
	binary.BigEndian.PutUint16(buf, val)
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

// PutUint32 writes val big-endian.
func PutUint32(w io.Writer, val uint32) error {
	buf := Borrow()[:4]
	defer Return(buf)
	binary.BigEndian.PutUint32(buf, val)
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

// PutUint64 writes val big-endian.
func PutUint64(w io.Writer, val uint64) error {
	buf := Borrow()[:8]
	defer Return(buf)
	binary.BigEndian.PutUint64(buf, val)
	_, err := w.Write(buf)
	return errors.WithStack(err)
}

// VarBytes reads a uint32 length prefix followed by that many bytes. Lengths
// above maxLength are rejected before anything is allocated.
func VarBytes(r io.Reader, maxLength uint32) ([]byte, error) {
	length, err := Uint32(r)
	if err != nil {
		return nil, err
	}
	if length > maxLength {
		return nil, errors.Wrapf(ErrFieldTooLong, "got %d bytes, maximum is %d", length, maxLength)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, errors.WithStack(err)
	}
	return data, nil
}

// PutVarBytes writes data with a uint32 length prefix.
func PutVarBytes(w io.Writer, data []byte) error {
	err := PutUint32(w, uint32(len(data)))
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return errors.WithStack(err)
}

// VarString reads a uint16 length prefix followed by that many bytes of text.
func VarString(r io.Reader) (string, error) {
	length, err := Uint16(r)
	if err != nil {
		return "", err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", errors.WithStack(err)
	}
	return string(data), nil
}

// PutVarString writes s with a uint16 length prefix.
func PutVarString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return errors.Wrapf(ErrFieldTooLong, "string of %d bytes", len(s))
	}
	err := PutUint16(w, uint16(len(s)))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return errors.WithStack(err)
}

// binaryFreeList is a concurrency safe free list of 8 byte buffers used to
// read and write primitive integers without allocating.
var binaryFreeList = make(chan []byte, maxItems)
