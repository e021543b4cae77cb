package mtnet

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/anon55555/mt/rudp"
	"github.com/sounddrill31/abusenet/sock"
	"github.com/sounddrill31/abusenet/sock/tcpip"
)

const (
	// inQueue is how many packets a peer buffers before its receiver blocks.
	inQueue = 64

	// acceptQueue is how many connecting peers get acked before Accept.
	acceptQueue = 32
)

// peerSocket is a connected rudp peer read as a byte stream.
type peerSocket struct {
	*sock.Handle
	proto *Protocol
	rp    *rudp.Peer

	in   chan []byte
	dead chan struct{}
	done chan struct{}
	err  error

	buf    []byte
	closed bool

	// ownConn is set for dialed peers, which have a socket of their own.
	ownConn bool
}

func (p *Protocol) newPeer(rp *rudp.Peer) *peerSocket {
	s := &peerSocket{
		proto: p,
		rp:    rp,
		in:    make(chan []byte, inQueue),
		dead:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.Handle = p.Set().Add(s)

	go s.recv()
	return s
}

func (s *peerSocket) recv() {
	defer close(s.dead)

	for {
		pkt, err := s.rp.Recv()
		if err != nil {
			s.err = err
			return
		}
		if len(pkt.Data) == 0 {
			continue
		}

		select {
		case s.in <- pkt.Data:
		case <-s.done:
			s.err = sock.ErrClosed
			return
		}
	}
}

// fill moves the next queued packet into buf, waiting at most wait. It
// reports false if nothing arrived.
func (s *peerSocket) fill(wait time.Duration) bool {
	select {
	case data := <-s.in:
		s.buf = append(s.buf, data...)
		return true
	default:
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case data := <-s.in:
		s.buf = append(s.buf, data...)
		return true
	case <-s.dead:
		// Packets queued before the peer went away come first.
		select {
		case data := <-s.in:
			s.buf = append(s.buf, data...)
			return true
		default:
		}
	case <-t.C:
	}
	return false
}

func (s *peerSocket) isDead() bool {
	select {
	case <-s.dead:
		return len(s.in) == 0
	default:
		return false
	}
}

func (s *peerSocket) Probe(wait time.Duration) sock.Readiness {
	if s.closed {
		return sock.Readiness{Err: true}
	}
	if len(s.buf) > 0 || s.fill(wait) {
		return sock.Readiness{Read: true}
	}

	// A disconnected peer shows up as readable, the read then fails.
	return sock.Readiness{Read: s.isDead()}
}

func (s *peerSocket) Writable() bool { return !s.closed }

func (s *peerSocket) Read(p []byte) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}

	deadline := time.Now().Add(s.proto.Timeouts().Read)
	for len(s.buf) < len(p) {
		if s.isDead() {
			return s.take(p), s.err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return s.take(p), sock.ErrTimeout
		}
		s.fill(wait)
	}

	n := s.take(p)
	s.proto.Trace("rudp read:", p[:n])
	return n, nil
}

func (s *peerSocket) take(p []byte) int {
	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	if len(s.buf) == 0 {
		s.buf = nil
		s.ClearRead()
	}
	return n
}

func (s *peerSocket) ReadFrom(p []byte) (int, sock.Address, error) {
	n, err := s.Read(p)
	return n, nil, err
}

func (s *peerSocket) Write(p []byte) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}

	s.proto.Trace("rudp write:", p)

	data := make([]byte, len(p))
	copy(data, p)
	if _, err := s.rp.Send(rudp.Pkt{Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *peerSocket) WriteTo(p []byte, addr sock.Address) (int, error) {
	return s.Write(p)
}

func (s *peerSocket) Accept() (sock.Socket, sock.Address, error) {
	return nil, nil, sock.ErrNotListening
}

func (s *peerSocket) Listening() bool { return false }
func (s *peerSocket) Kind() sock.Kind { return sock.Secure }

func (s *peerSocket) LocalAddr() sock.Address { return tcpip.FromNet(s.rp.Conn().LocalAddr()) }

// RemoteAddr returns the address of the peer.
func (s *peerSocket) RemoteAddr() sock.Address { return tcpip.FromNet(s.rp.Addr()) }

func (s *peerSocket) ReadyToWrite() bool { return !s.closed }

func (s *peerSocket) Close() error {
	if s.closed {
		return sock.ErrClosed
	}
	s.Remove()
	s.closed = true
	close(s.done)

	if _, err := s.rp.SendDisco(0, true); err != nil && s.proto.DebugLevel() >= sock.DebugMinorEvent {
		log.Print("disconnect to ", s.rp.Addr(), " failed: ", err)
	}

	err := s.rp.Close()
	if s.ownConn {
		s.rp.Conn().Close()
	}
	return err
}

// listenSocket accepts rudp peers on a bound UDP port.
type listenSocket struct {
	*sock.Handle
	proto *Protocol
	pc    net.PacketConn
	l     *rudp.Listener

	peers   chan *rudp.Peer
	quit    chan struct{}
	pending *rudp.Peer
	closed  bool
}

func (p *Protocol) newListener(pc net.PacketConn) *listenSocket {
	s := &listenSocket{
		proto: p,
		pc:    pc,
		l:     rudp.Listen(pc),
		peers: make(chan *rudp.Peer, acceptQueue),
		quit:  make(chan struct{}),
	}
	s.Handle = p.Set().Add(s)

	go s.accept()
	return s
}

func (s *listenSocket) accept() {
	defer close(s.peers)

	for {
		rp, err := s.l.Accept()
		if err != nil {
			// Malformed packets from one address don't stop the listener.
			if s.isClosed(err) {
				return
			}
			if s.proto.DebugLevel() >= sock.DebugMajorEvent {
				log.Print(err)
			}
			continue
		}

		s.peers <- rp
	}
}

func (s *listenSocket) isClosed(err error) bool {
	select {
	case <-s.quit:
		return true
	default:
	}
	return errors.Is(err, net.ErrClosed)
}

func (s *listenSocket) Probe(wait time.Duration) sock.Readiness {
	if s.closed {
		return sock.Readiness{Err: true}
	}
	if s.pending != nil {
		return sock.Readiness{Read: true}
	}

	t := time.NewTimer(wait)
	defer t.Stop()

	select {
	case rp, ok := <-s.peers:
		if !ok {
			return sock.Readiness{Err: true}
		}
		s.pending = rp
		return sock.Readiness{Read: true}
	case <-t.C:
	}
	return sock.Readiness{}
}

func (s *listenSocket) Writable() bool { return false }

func (s *listenSocket) Accept() (sock.Socket, sock.Address, error) {
	if s.closed {
		return nil, nil, sock.ErrClosed
	}

	rp := s.pending
	s.pending = nil
	s.ClearRead()

	if rp == nil {
		var ok bool
		select {
		case rp, ok = <-s.peers:
			if !ok {
				return nil, nil, sock.ErrClosed
			}
		case <-time.After(s.proto.Timeouts().Read):
			return nil, nil, sock.ErrTimeout
		}
	}

	ps := s.proto.newPeer(rp)
	return ps, tcpip.FromNet(rp.Addr()), nil
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
func (s *listenSocket) LocalAddr() sock.Address { return tcpip.FromNet(s.pc.LocalAddr()) }
func (s *listenSocket) ReadyToWrite() bool      { return false }

func (s *listenSocket) Close() error {
	if s.closed {
		return sock.ErrClosed
	}
	s.Remove()
	s.closed = true
	close(s.quit)

	err := s.pc.Close()
	go func() {
		// Drain so the accept pump sees the closed listener and exits.
		for rp := range s.peers {
			rp.Close()
		}
	}()
	if s.pending != nil {
		s.pending.Close()
	}
	return err
}
