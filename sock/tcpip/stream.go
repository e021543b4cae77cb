package tcpip

import (
	"bufio"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"time"

	"github.com/sounddrill31/abusenet/sock"
)

// streamSocket is a connected TCP socket.
type streamSocket struct {
	*sock.Handle
	proto *Protocol
	conn  *net.TCPConn
	r     *bufio.Reader

	// err is the read error a probe ran into. It is reported once the
	// buffered input is used up.
	err    error
	closed bool
}

func (p *Protocol) newStream(c *net.TCPConn) *streamSocket {
	c.SetKeepAlive(true)
	c.SetNoDelay(true)

	s := &streamSocket{proto: p, conn: c, r: bufio.NewReader(c)}
	s.Handle = p.set.Add(s)
	return s
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *streamSocket) Probe(wait time.Duration) sock.Readiness {
	if s.closed {
		return sock.Readiness{Err: true}
	}
	if s.r.Buffered() > 0 || s.err != nil {
		return sock.Readiness{Read: true, Err: s.err != nil && !errors.Is(s.err, io.EOF)}
	}

	s.conn.SetReadDeadline(time.Now().Add(wait))
	_, err := s.r.Peek(1)
	s.conn.SetReadDeadline(time.Time{})

	switch {
	case err == nil:
		return sock.Readiness{Read: true}
	case isTimeout(err):
		return sock.Readiness{}
	}

	// A closed peer shows up as readable, the read then fails.
	s.err = err
	return sock.Readiness{Read: true, Err: !errors.Is(err, io.EOF)}
}

func (s *streamSocket) Writable() bool { return !s.closed }

func (s *streamSocket) Read(p []byte) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}
	if s.err != nil && s.r.Buffered() < len(p) {
		n, _ := io.ReadFull(s.r, p[:s.r.Buffered()])
		return n, s.err
	}

	s.conn.SetReadDeadline(time.Now().Add(s.proto.timeouts.Read))
	n, err := io.ReadFull(s.r, p)
	s.conn.SetReadDeadline(time.Time{})

	s.proto.Trace("tcp read:", p[:n])
	if isTimeout(err) {
		return n, sock.ErrTimeout
	}
	if err != nil {
		s.err = err
	}
	return n, err
}

func (s *streamSocket) ReadFrom(p []byte) (int, sock.Address, error) {
	n, err := s.Read(p)
	return n, nil, err
}

func (s *streamSocket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}

	s.proto.Trace("tcp write:", p)
	return s.conn.Write(p)
}

func (s *streamSocket) WriteTo(p []byte, addr sock.Address) (int, error) {
	if addr != nil && s.proto.debug >= sock.DebugImportantEvent {
		log.Print("can't change the address of a stream socket, ignoring ", addr)
	}
	return s.Write(p)
}

func (s *streamSocket) Accept() (sock.Socket, sock.Address, error) {
	return nil, nil, sock.ErrNotListening
}

func (s *streamSocket) Listening() bool { return false }
func (s *streamSocket) Kind() sock.Kind { return sock.Secure }

func (s *streamSocket) LocalAddr() sock.Address { return FromNet(s.conn.LocalAddr()) }

// RemoteAddr returns the address of the peer.
func (s *streamSocket) RemoteAddr() sock.Address { return FromNet(s.conn.RemoteAddr()) }

func (s *streamSocket) ReadyToWrite() bool { return !s.closed }

func (s *streamSocket) Close() error {
	if s.closed {
		return sock.ErrClosed
	}
	s.Remove()
	s.closed = true
	return s.conn.Close()
}

// listenSocket is a TCP socket in listening mode.
type listenSocket struct {
	*sock.Handle
	proto   *Protocol
	l       *net.TCPListener
	pending *net.TCPConn
	closed  bool
}

func (p *Protocol) newListener(l *net.TCPListener) *listenSocket {
	s := &listenSocket{proto: p, l: l}
	s.Handle = p.set.Add(s)
	return s
}

func (s *listenSocket) Probe(wait time.Duration) sock.Readiness {
	if s.closed {
		return sock.Readiness{Err: true}
	}
	if s.pending != nil {
		return sock.Readiness{Read: true}
	}

	s.l.SetDeadline(time.Now().Add(wait))
	c, err := s.l.AcceptTCP()
	s.l.SetDeadline(time.Time{})

	switch {
	case err == nil:
		s.pending = c
		return sock.Readiness{Read: true}
	case isTimeout(err):
		return sock.Readiness{}
	}
	return sock.Readiness{Err: true}
}

func (s *listenSocket) Writable() bool { return false }

func (s *listenSocket) Accept() (sock.Socket, sock.Address, error) {
	if s.closed {
		return nil, nil, sock.ErrClosed
	}

	c := s.pending
	s.pending = nil
	s.ClearRead()

	if c == nil {
		s.l.SetDeadline(time.Now().Add(s.proto.timeouts.Read))
		var err error
		c, err = s.l.AcceptTCP()
		s.l.SetDeadline(time.Time{})
		if isTimeout(err) {
			return nil, nil, sock.ErrTimeout
		}
		if err != nil {
			return nil, nil, err
		}
	}

	ns := s.proto.newStream(c)
	return ns, FromNet(c.RemoteAddr()), nil
}

func (s *listenSocket) Read([]byte) (int, error) { return 0, sock.ErrListening }

func (s *listenSocket) ReadFrom([]byte) (int, sock.Address, error) {
	return 0, nil, sock.ErrListening
}

func (s *listenSocket) Write([]byte) (int, error) { return 0, sock.ErrListening }

func (s *listenSocket) WriteTo([]byte, sock.Address) (int, error) {
	return 0, sock.ErrListening
}

func (s *listenSocket) Listening() bool         { return true }
func (s *listenSocket) Kind() sock.Kind         { return sock.Secure }
func (s *listenSocket) LocalAddr() sock.Address { return FromNet(s.l.Addr()) }
func (s *listenSocket) ReadyToWrite() bool      { return false }

func (s *listenSocket) Close() error {
	if s.closed {
		return sock.ErrClosed
	}
	s.Remove()
	s.closed = true
	if s.pending != nil {
		s.pending.Close()
	}
	return s.l.Close()
}
