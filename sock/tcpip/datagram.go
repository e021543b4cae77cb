package tcpip

import (
	"net"
	"time"

	"github.com/sounddrill31/abusenet/sock"
)

// MaxDatagram is the largest datagram a Fast socket receives intact.
const MaxDatagram = 2048

// datagramSocket is a UDP socket, either bound to a port or connected
// to a single remote address.
type datagramSocket struct {
	*sock.Handle
	proto     *Protocol
	conn      *net.UDPConn
	connected bool

	pending     []byte
	pendingFrom *net.UDPAddr
	hasPending  bool

	buf    [MaxDatagram]byte
	closed bool
}

func (p *Protocol) newDatagram(c *net.UDPConn, connected bool) *datagramSocket {
	s := &datagramSocket{proto: p, conn: c, connected: connected}
	s.Handle = p.set.Add(s)
	return s
}

func (s *datagramSocket) Probe(wait time.Duration) sock.Readiness {
	if s.closed {
		return sock.Readiness{Err: true}
	}
	if s.hasPending {
		return sock.Readiness{Read: true}
	}

	s.conn.SetReadDeadline(time.Now().Add(wait))
	n, from, err := s.conn.ReadFromUDP(s.buf[:])
	s.conn.SetReadDeadline(time.Time{})

	switch {
	case err == nil:
		s.pending = append(s.pending[:0], s.buf[:n]...)
		s.pendingFrom = from
		s.hasPending = true
		return sock.Readiness{Read: true}
	case isTimeout(err):
		return sock.Readiness{}
	}

	// Connected UDP sockets see ICMP unreachables as read errors.
	return sock.Readiness{Err: true}
}

func (s *datagramSocket) Writable() bool { return !s.closed }

// ReadFrom returns the pending datagram, truncated to len(p). Without one
// it waits for the next datagram up to the read timeout.
func (s *datagramSocket) ReadFrom(p []byte) (int, sock.Address, error) {
	if s.closed {
		return 0, nil, sock.ErrClosed
	}

	if !s.hasPending {
		s.conn.SetReadDeadline(time.Now().Add(s.proto.timeouts.Read))
		n, from, err := s.conn.ReadFromUDP(s.buf[:])
		s.conn.SetReadDeadline(time.Time{})
		if isTimeout(err) {
			return 0, nil, sock.ErrTimeout
		}
		if err != nil {
			return 0, nil, err
		}
		s.pending = append(s.pending[:0], s.buf[:n]...)
		s.pendingFrom = from
	}

	n := copy(p, s.pending)
	from := s.pendingFrom
	s.hasPending = false
	s.pendingFrom = nil
	s.ClearRead()

	s.proto.Trace("udp read:", p[:n])

	var addr sock.Address
	if from != nil {
		addr = FromNet(from)
	}
	return n, addr, nil
}

func (s *datagramSocket) Read(p []byte) (int, error) {
	n, _, err := s.ReadFrom(p)
	return n, err
}

func (s *datagramSocket) WriteTo(p []byte, addr sock.Address) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}

	s.proto.Trace("udp write:", p)

	if s.connected || addr == nil {
		return s.conn.Write(p)
	}

	a, err := toAddr(addr)
	if err != nil {
		return 0, err
	}
	return s.conn.WriteToUDP(p, a.UDPAddr())
}

func (s *datagramSocket) Write(p []byte) (int, error) { return s.WriteTo(p, nil) }

func (s *datagramSocket) Accept() (sock.Socket, sock.Address, error) {
	return nil, nil, sock.ErrNotListening
}

func (s *datagramSocket) Listening() bool         { return false }
func (s *datagramSocket) Kind() sock.Kind         { return sock.Fast }
func (s *datagramSocket) LocalAddr() sock.Address { return FromNet(s.conn.LocalAddr()) }
func (s *datagramSocket) ReadyToWrite() bool      { return !s.closed }

func (s *datagramSocket) Close() error {
	if s.closed {
		return sock.ErrClosed
	}
	s.Remove()
	s.closed = true
	return s.conn.Close()
}
