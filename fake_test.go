package abusenet

import (
	"bytes"
	"io"
	"net"
	"strconv"

	"github.com/sounddrill31/abusenet/packet"
	"github.com/sounddrill31/abusenet/sock"
)

type fakeAddr struct {
	host string
	port int
}

func (a *fakeAddr) Protocol() string { return "fake" }

func (a *fakeAddr) Equal(b sock.Address) bool {
	o, ok := b.(*fakeAddr)
	return ok && o.host == a.host && o.port == a.port
}

func (a *fakeAddr) Copy() sock.Address { c := *a; return &c }
func (a *fakeAddr) Port() int          { return a.port }
func (a *fakeAddr) SetPort(port int)   { a.port = port }
func (a *fakeAddr) String() string     { return net.JoinHostPort(a.host, strconv.Itoa(a.port)) }

type datagram struct {
	b    []byte
	addr sock.Address
}

type accepted struct {
	s    sock.Socket
	from sock.Address
}

// fakeSocket is readable once marked selectable and fed through in,
// dgrams or accepts. Everything written to it lands in out or sent.
type fakeSocket struct {
	kind      sock.Kind
	listening bool

	in, out bytes.Buffer
	dgrams  []datagram
	sent    []datagram
	accepts []accepted

	readSel bool
	broken  bool
	closed  bool

	// stalls is the number of stream reads that time out first.
	stalls int
	// writeErr fails every stream write.
	writeErr error
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	n, _, err := s.ReadFrom(p)
	return n, err
}

func (s *fakeSocket) ReadFrom(p []byte) (int, sock.Address, error) {
	if s.closed {
		return 0, nil, sock.ErrClosed
	}

	if s.kind == sock.Fast {
		if len(s.dgrams) == 0 {
			return 0, nil, sock.ErrTimeout
		}
		d := s.dgrams[0]
		s.dgrams = s.dgrams[1:]
		return copy(p, d.b), d.addr, nil
	}

	if s.stalls > 0 {
		s.stalls--
		return 0, nil, sock.ErrTimeout
	}

	n, err := io.ReadFull(&s.in, p)
	return n, nil, err
}

func (s *fakeSocket) Write(p []byte) (int, error) { return s.WriteTo(p, nil) }

func (s *fakeSocket) WriteTo(p []byte, addr sock.Address) (int, error) {
	if s.closed {
		return 0, sock.ErrClosed
	}

	if s.kind == sock.Fast {
		d := datagram{b: append([]byte(nil), p...)}
		if addr != nil {
			d.addr = addr.Copy()
		}
		s.sent = append(s.sent, d)
		return len(p), nil
	}

	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.out.Write(p)
}

func (s *fakeSocket) Accept() (sock.Socket, sock.Address, error) {
	if !s.listening {
		return nil, nil, sock.ErrNotListening
	}
	if len(s.accepts) == 0 {
		return nil, nil, sock.ErrTimeout
	}

	a := s.accepts[0]
	s.accepts = s.accepts[1:]
	return a.s, a.from, nil
}

func (s *fakeSocket) Listening() bool         { return s.listening }
func (s *fakeSocket) Kind() sock.Kind         { return s.kind }
func (s *fakeSocket) LocalAddr() sock.Address { return &fakeAddr{"127.0.0.1", 0} }

func (s *fakeSocket) ReadyToRead() bool {
	return s.readSel && !s.closed && (s.in.Len() > 0 || len(s.dgrams) > 0 || len(s.accepts) > 0)
}

func (s *fakeSocket) ReadyToWrite() bool { return !s.closed }
func (s *fakeSocket) Error() bool        { return s.broken }

func (s *fakeSocket) ReadSelectable()    { s.readSel = true }
func (s *fakeSocket) ReadUnselectable()  { s.readSel = false }
func (s *fakeSocket) WriteSelectable()   {}
func (s *fakeSocket) WriteUnselectable() {}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSocket) push(b []byte, from sock.Address) {
	s.dgrams = append(s.dgrams, datagram{b: b, addr: from})
}

// fakeProto hands out fakeSockets. Methods the tests never reach are
// left to the nil embedded interface.
type fakeProto struct {
	sock.Protocol

	name      string
	missing   bool
	debug     sock.DebugLevel
	timeouts  sock.Timeouts
	listens   map[int]*fakeSocket
	connects  []*fakeSocket
	connected []sock.Address
	notify    []byte
	selects   int
	cleaned   bool

	// onSelect runs on every Select.
	onSelect func()
}

func (p *fakeProto) Name() string {
	if p.name == "" {
		return "fake"
	}
	return p.name
}

func (p *fakeProto) Installed() bool                 { return !p.missing }
func (p *fakeProto) SetDebugLevel(l sock.DebugLevel) { p.debug = l }
func (p *fakeProto) DebugLevel() sock.DebugLevel     { return p.debug }
func (p *fakeProto) SetTimeouts(t sock.Timeouts)     { p.timeouts = t }
func (p *fakeProto) EndNotify()                      { p.notify = nil }
func (p *fakeProto) Cleanup()                        { p.cleaned = true }

func (p *fakeProto) Select(block bool) int {
	p.selects++
	if p.onSelect != nil {
		p.onSelect()
	}
	return 1
}

func (p *fakeProto) NodeAddress(spec string, defPort int, forcePort bool) (sock.Address, error) {
	host, port, err := net.SplitHostPort(spec)
	if err != nil {
		return &fakeAddr{spec, defPort}, nil
	}

	n, err := strconv.Atoi(port)
	if err != nil {
		return nil, sock.ErrResolve
	}
	if forcePort {
		n = defPort
	}
	return &fakeAddr{host, n}, nil
}

func (p *fakeProto) CreateListenSocket(port int, kind sock.Kind) (sock.Socket, error) {
	if p.listens == nil {
		p.listens = make(map[int]*fakeSocket)
	}
	if _, ok := p.listens[port]; ok {
		return nil, sock.ErrBind
	}

	s := &fakeSocket{kind: kind, listening: kind == sock.Secure}
	p.listens[port] = s
	return s, nil
}

func (p *fakeProto) ConnectToServer(addr sock.Address, kind sock.Kind) (sock.Socket, error) {
	p.connected = append(p.connected, addr.Copy())
	if len(p.connects) == 0 {
		return nil, sock.ErrConnect
	}

	s := p.connects[0]
	p.connects = p.connects[1:]
	return s, nil
}

func (p *fakeProto) StartNotify(port int, data []byte) (sock.Socket, error) {
	p.notify = append([]byte(nil), data...)
	return &fakeSocket{kind: sock.Fast}, nil
}

type fakeGame struct {
	tick     int
	saved    []string
	loaded   []string
	removed  []string
	added    []Join
	failLoad int
	keymaps  int
	single   bool
}

func (g *fakeGame) Tick() int { return g.tick }

func (g *fakeGame) SaveLevel(name string) error {
	g.saved = append(g.saved, name)
	return nil
}

func (g *fakeGame) LoadLevel(name string) error {
	g.loaded = append(g.loaded, name)
	if g.failLoad > 0 {
		g.failLoad--
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (g *fakeGame) RemoveLevel(name string) error {
	g.removed = append(g.removed, name)
	return nil
}

func (g *fakeGame) AddPlayers(joins []Join) { g.added = append(g.added, joins...) }
func (g *fakeGame) ResetKeymap()            { g.keymaps++ }
func (g *fakeGame) RestartSingle()          { g.single = true }

type fakeUI struct {
	status    []string
	open      bool
	cancelled bool
}

func (u *fakeUI) Status(msg string) {
	u.status = append(u.status, msg)
	u.open = true
}

func (u *fakeUI) CloseStatus()    { u.open = false }
func (u *fakeUI) Cancelled() bool { return u.cancelled }

type fakeFiles struct {
	nfs []sock.Socket
	crc []string
	fs  sock.Address
}

func (f *fakeFiles) AddNFSClient(s sock.Socket) { f.nfs = append(f.nfs, s) }

func (f *fakeFiles) WriteCRCFile(name string) error {
	f.crc = append(f.crc, name)
	return nil
}

func (f *fakeFiles) ProcessNet()                 {}
func (f *fakeFiles) SetDefaultFS(a sock.Address) { f.fs = a }

type fakeBans map[string]string

func (b fakeBans) IsBanned(addr string) (bool, string, error) {
	name, ok := b[addr]
	return ok, name, nil
}

// tickPacket returns the wire form of a packet for tick.
func tickPacket(tick uint8, payload ...byte) []byte {
	var p packet.Packet
	p.SetTick(tick)
	p.Add(payload)
	p.CalcChecksum()

	return append([]byte(nil), p.Bytes()...)
}

func decodePacket(b []byte) (packet.Packet, error) {
	var p packet.Packet
	err := p.Unmarshal(b)
	return p, err
}
