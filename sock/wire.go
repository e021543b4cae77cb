package sock

import (
	"encoding/binary"
	"io"
)

// Multi-byte control channel fields are big endian.
var be = binary.BigEndian

func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func ReadUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return be.Uint16(b[:]), nil
}

func WriteUint16(w io.Writer, v uint16) error {
	var b [2]byte
	be.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func ReadInt16(r io.Reader) (int16, error) {
	v, err := ReadUint16(r)
	return int16(v), err
}

func WriteInt16(w io.Writer, v int16) error {
	return WriteUint16(w, uint16(v))
}

// ReadBytes reads exactly n bytes.
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ReadString8 reads a string prefixed by its length as a single byte.
func ReadString8(r io.Reader) (string, error) {
	n, err := ReadUint8(r)
	if err != nil {
		return "", err
	}
	b, err := ReadBytes(r, int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteString8 writes s prefixed by its length as a single byte.
// s is truncated to 255 bytes.
func WriteString8(w io.Writer, s string) error {
	if len(s) > 0xff {
		s = s[:0xff]
	}
	if err := WriteUint8(w, uint8(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}
