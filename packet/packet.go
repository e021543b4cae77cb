/*
Package packet implements the framed buffer exchanged once per tick.

The wire layout is, big endian:

	size     uint16 // payload length
	checksum uint16 // Sum(payload)
	tick     uint8
	payload  [size]byte
*/
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// MaxSize is the largest packet, prefix included.
	MaxSize = 1024

	// PrefixSize is the length of the size, checksum and tick fields.
	PrefixSize = 5

	// MaxPayload is the most payload a Packet holds.
	MaxPayload = MaxSize - PrefixSize
)

var be = binary.BigEndian

var (
	ErrIncomplete = errors.New("incomplete packet")
	ErrChecksum   = errors.New("bad checksum")
)

// A Packet is an array-backed value: assigning one copies it.
// The zero value is an empty packet for tick 0.
type Packet struct {
	data [MaxSize]byte
}

// Reset empties the payload. Tick and checksum are left alone.
func (p *Packet) Reset() { be.PutUint16(p.data[0:2], 0) }

// Size returns the payload length.
func (p *Packet) Size() int { return int(be.Uint16(p.data[0:2])) }

// Len returns the wire length, prefix and payload.
func (p *Packet) Len() int { return PrefixSize + p.Size() }

// Add appends b to the payload. Overflowing MaxPayload is a bug in the
// caller and panics.
func (p *Packet) Add(b []byte) {
	n := p.Size()
	if n+len(b) > MaxPayload {
		panic(fmt.Sprintf("packet overflow: %d + %d bytes exceeds %d", n, len(b), MaxPayload))
	}

	copy(p.data[PrefixSize+n:], b)
	be.PutUint16(p.data[0:2], uint16(n+len(b)))
}

func (p *Packet) WriteUint8(v uint8) { p.Add([]byte{v}) }

func (p *Packet) WriteUint16(v uint16) {
	var b [2]byte
	be.PutUint16(b[:], v)
	p.Add(b[:])
}

func (p *Packet) Tick() uint8      { return p.data[4] }
func (p *Packet) SetTick(t uint8)  { p.data[4] = t }
func (p *Packet) Checksum() uint16 { return be.Uint16(p.data[2:4]) }

// Payload returns the payload. It aliases the packet.
func (p *Packet) Payload() []byte { return p.data[PrefixSize : PrefixSize+p.Size()] }

// Bytes returns the wire form. It aliases the packet.
func (p *Packet) Bytes() []byte { return p.data[:p.Len()] }

// Buffer returns the whole backing array for reading a datagram into.
func (p *Packet) Buffer() []byte { return p.data[:] }

// CalcChecksum stores and returns the checksum of the payload.
func (p *Packet) CalcChecksum() uint16 {
	c := Sum(p.Payload())
	be.PutUint16(p.data[2:4], c)
	return c
}

// Valid reports whether the stored checksum matches the payload.
func (p *Packet) Valid() bool { return p.Checksum() == Sum(p.Payload()) }

// Unmarshal replaces p with the packet in b, which must be exactly one
// packet with a valid checksum. On error p is unchanged.
func (p *Packet) Unmarshal(b []byte) error {
	if len(b) < PrefixSize || len(b) > MaxSize {
		return fmt.Errorf("%w: read %d bytes", ErrIncomplete, len(b))
	}

	var tmp Packet
	copy(tmp.data[:], b)
	if len(b) != tmp.Len() {
		return fmt.Errorf("%w: read %d bytes, should be %d", ErrIncomplete, len(b), tmp.Len())
	}
	if !tmp.Valid() {
		return ErrChecksum
	}

	*p = tmp
	return nil
}

// Sum is the packet checksum: two running sums modulo 256, the second
// in the high byte.
func Sum(b []byte) uint16 {
	var c1, c2 uint8
	for _, v := range b {
		c1 += v
		c2 += c1
	}
	return uint16(c1) | uint16(c2)<<8
}
