package abusenet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/sounddrill31/abusenet/sock"
)

func streamOf(b []byte) *fakeSocket {
	s := &fakeSocket{}
	s.in.Write(b)
	return s
}

// abuseConn is an accepted connection of a player about to join.
func abuseConn(name string, port uint16) *fakeSocket {
	c := &fakeSocket{}
	c.in.WriteByte(ClientAbuse)
	sock.WriteString8(&c.in, name+"\x00")
	sock.WriteUint16(&c.in, port)
	return c
}

func joinReply(port uint16, kills int16, id uint16) []byte {
	var b bytes.Buffer
	b.WriteByte(RegOK)
	sock.WriteUint16(&b, port)
	sock.WriteInt16(&b, kills)
	sock.WriteUint16(&b, id)
	return b.Bytes()
}

func newTestSession(t *testing.T, cfg *Config) (*Session, *fakeProto, *fakeGame, *fakeUI) {
	t.Helper()

	p := &fakeProto{}
	g := &fakeGame{}
	u := &fakeUI{}
	s, err := New(cfg, g, u, p)
	if err != nil {
		t.Fatal(err)
	}
	return s, p, g, u
}

func hostedSession(t *testing.T, cfg *Config) (*Session, *fakeProto, *fakeGame, *fakeUI) {
	t.Helper()

	s, p, g, u := newTestSession(t, cfg)
	if err := s.BecomeServer("test game"); err != nil {
		t.Fatal(err)
	}
	return s, p, g, u
}

func clientConfig() *Config {
	cfg := DefaultConfig()
	cfg.Role = RoleClient
	cfg.Server = "10.0.0.1"
	cfg.Name = "bob"
	cfg.ResendStall = 0
	cfg.ReloadWait = 0
	return cfg
}

func joinedSession(t *testing.T) (*Session, *fakeProto, *fakeSocket, *fakeGame) {
	t.Helper()

	s, p, g, _ := newTestSession(t, clientConfig())
	conn := streamOf(joinReply(DefaultPort+1, 10, 3))
	p.connects = []*fakeSocket{conn}

	if _, err := s.RequestServerEntry(); err != nil {
		t.Fatal(err)
	}
	conn.out.Reset()

	return s, p, conn, g
}

func TestNewNoProtocol(t *testing.T) {
	_, err := New(nil, nil, nil, &fakeProto{missing: true})
	if !errors.Is(err, sock.ErrNoProtocol) {
		t.Fatalf("got %v, want %v", err, sock.ErrNoProtocol)
	}
}

func TestNewPicksProtocol(t *testing.T) {
	a := &fakeProto{name: "A"}
	b := &fakeProto{name: "B"}

	cfg := DefaultConfig()
	cfg.Protocol = "b"
	cfg.Debug = sock.DebugImportantEvent
	s, err := New(cfg, nil, nil, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if s.Protocol() != b {
		t.Fatalf("picked %s, want B", s.Protocol().Name())
	}
	if b.debug != sock.DebugImportantEvent || b.timeouts != cfg.Timeouts {
		t.Error("protocol not configured")
	}

	cfg.Protocol = "C"
	if s, _ := New(cfg, nil, nil, a, b); s.Protocol() != a {
		t.Errorf("picked %s for an unknown name, want A", s.Protocol().Name())
	}

	b.missing = true
	cfg.Protocol = "B"
	if s, _ := New(cfg, nil, nil, a, b); s.Protocol() != a {
		t.Errorf("picked %s, which isn't installed", s.Protocol().Name())
	}
}

func TestNewResolvesServer(t *testing.T) {
	cfg := clientConfig()
	cfg.Server = "10.0.0.7:3000"
	s, _, _, _ := newTestSession(t, cfg)

	if !s.IsClient() {
		t.Error("IsClient = false")
	}
	if !s.server.Equal(&fakeAddr{"10.0.0.7", 3000}) {
		t.Errorf("server at %s", s.server)
	}
}

func TestBecomeServer(t *testing.T) {
	s, p, _, _ := hostedSession(t, nil)
	port := s.cfg.Port

	comm, data := p.listens[port], p.listens[port+1]
	if comm == nil || comm.Kind() != sock.Secure || !comm.readSel {
		t.Errorf("control listener %+v", comm)
	}
	if data == nil || data.Kind() != sock.Fast || !data.readSel {
		t.Errorf("data socket %+v", data)
	}
	if string(p.notify) != "test game" {
		t.Errorf("announcing %q", p.notify)
	}
	if _, ok := s.Handler().(*Server); !ok {
		t.Errorf("handler %T", s.Handler())
	}
	if s.ClientNumber() != 0 {
		t.Errorf("server has client number %d", s.ClientNumber())
	}
}

func TestBecomeServerBindFails(t *testing.T) {
	s, p, _, _ := newTestSession(t, nil)
	p.listens = map[int]*fakeSocket{s.cfg.Port: {}}

	if err := s.BecomeServer("x"); !errors.Is(err, sock.ErrBind) {
		t.Fatalf("got %v, want %v", err, sock.ErrBind)
	}
	if s.Protocol() != nil {
		t.Error("networking still active")
	}
	if !p.cleaned {
		t.Error("protocol not cleaned up")
	}
}

func TestBecomeServerDataBindFails(t *testing.T) {
	s, p, _, _ := newTestSession(t, nil)
	p.listens = map[int]*fakeSocket{s.cfg.Port + 1: {}}

	if err := s.BecomeServer("x"); !errors.Is(err, sock.ErrBind) {
		t.Fatalf("got %v, want %v", err, sock.ErrBind)
	}
	if !p.cleaned {
		t.Error("discovery left running")
	}
	if !p.listens[s.cfg.Port].closed {
		t.Error("control listener left open")
	}
}

func TestServiceClassifiesConnections(t *testing.T) {
	s, p, _, _ := hostedSession(t, nil)
	f := &fakeFiles{}
	s.SetFiles(f)
	s.SetLSF("levels/demo.lsp")

	nfs := streamOf([]byte{ClientNFS})
	crc := streamOf([]byte{ClientCRCWaiter})
	lsf := streamOf([]byte{ClientLSFWaiter})
	odd := streamOf([]byte{99})
	mute := streamOf(nil)

	l := p.listens[s.cfg.Port]
	for _, c := range []*fakeSocket{nfs, crc, lsf, odd, mute} {
		l.accepts = append(l.accepts, accepted{c, &fakeAddr{"10.0.0.2", 40000}})
	}
	for i := 0; i < 5; i++ {
		s.Service()
	}

	if len(f.nfs) != 1 || f.nfs[0] != nfs || nfs.closed {
		t.Errorf("NFS connection not handed over: %v", f.nfs)
	}

	if len(f.crc) != 1 || f.crc[0] != CRCFile {
		t.Errorf("crc files written: %v", f.crc)
	}
	if !bytes.Equal(crc.out.Bytes(), []byte{1}) || !crc.closed {
		t.Errorf("crc waiter got % x, closed %v", crc.out.Bytes(), crc.closed)
	}

	var want bytes.Buffer
	sock.WriteString8(&want, "levels/demo.lsp")
	if !bytes.Equal(lsf.out.Bytes(), want.Bytes()) || !lsf.closed {
		t.Errorf("lsf waiter got % x, closed %v", lsf.out.Bytes(), lsf.closed)
	}

	if !odd.closed || !mute.closed {
		t.Error("unusable connections left open")
	}
	if s.Handler().TotalPlayers() != 1 {
		t.Error("non-player connection counted as player")
	}
}

func TestWaitMinPlayers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPlayers = 2
	s, p, _, u := hostedSession(t, cfg)

	l := p.listens[cfg.Port]
	l.accepts = append(l.accepts, accepted{abuseConn("amy", 5000), &fakeAddr{"10.0.0.5", 41000}})

	s.WaitMinPlayers()

	if n := s.Handler().TotalPlayers(); n != 2 {
		t.Fatalf("TotalPlayers = %d, want 2", n)
	}
	if len(u.status) != 1 || u.open {
		t.Errorf("status messages %q, open %v", u.status, u.open)
	}
	if js := s.Joins(); len(js) != 1 || js[0].Name != "amy" {
		t.Errorf("joins %v", js)
	}
}

func TestWaitMinPlayersCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinPlayers = 3
	s, _, _, u := hostedSession(t, cfg)
	u.cancelled = true

	s.WaitMinPlayers()
	if s.Handler().TotalPlayers() != 1 {
		t.Error("players appeared from nowhere")
	}
}

func TestRequestServerEntry(t *testing.T) {
	s, p, conn, _ := joinedSession(t)

	if s.ClientNumber() != 3 {
		t.Errorf("client number %d, want 3", s.ClientNumber())
	}
	if s.cfg.Kills != 10 {
		t.Errorf("kills %d, want 10", s.cfg.Kills)
	}
	if len(p.connected) != 1 || !p.connected[0].Equal(&fakeAddr{"10.0.0.1", DefaultPort}) {
		t.Errorf("connected to %v", p.connected)
	}

	data := p.listens[s.cfg.Port+2]
	if data == nil || data.Kind() != sock.Fast || !data.readSel {
		t.Fatalf("data socket %+v", data)
	}

	c, ok := s.Handler().(*Client)
	if !ok {
		t.Fatalf("handler %T", s.Handler())
	}
	if c.server.Port() != DefaultPort+1 {
		t.Errorf("sending tick data to port %d", c.server.Port())
	}
	if !conn.readSel {
		t.Error("control channel not selectable")
	}
}

func TestJoinRequestBytes(t *testing.T) {
	s, p, _, _ := newTestSession(t, clientConfig())
	conn := streamOf(joinReply(DefaultPort+1, 10, 3))
	p.connects = []*fakeSocket{conn}

	if _, err := s.RequestServerEntry(); err != nil {
		t.Fatal(err)
	}

	var want bytes.Buffer
	want.WriteByte(ClientAbuse)
	want.Write([]byte{4, 'b', 'o', 'b', 0})
	sock.WriteUint16(&want, DefaultPort+2)
	if !bytes.Equal(conn.out.Bytes(), want.Bytes()) {
		t.Errorf("sent % x, want % x", conn.out.Bytes(), want.Bytes())
	}
}

func TestRequestServerEntryFails(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reply []byte
		err   error
	}{
		{"full", []byte{RegFull}, ErrServerFull},
		{"not registered", []byte{RegNotRegistered}, ErrNotRegistered},
		{"id 0", joinReply(DefaultPort+1, 0, 0), ErrJoin},
		{"hung up", nil, ErrJoin},
		{"short reply", []byte{RegOK, 0x4e}, ErrJoin},
		{"unknown reply", []byte{7}, ErrJoin},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s, p, _, _ := newTestSession(t, clientConfig())
			conn := streamOf(tc.reply)
			p.connects = []*fakeSocket{conn}

			if _, err := s.RequestServerEntry(); !errors.Is(err, tc.err) {
				t.Fatalf("got %v, want %v", err, tc.err)
			}
			if !conn.closed {
				t.Error("connection left open")
			}
			if _, ok := s.Handler().(standalone); !ok {
				t.Errorf("handler %T", s.Handler())
			}
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		s, _, _, _ := newTestSession(t, clientConfig())
		if _, err := s.RequestServerEntry(); !errors.Is(err, sock.ErrConnect) {
			t.Fatalf("got %v, want %v", err, sock.ErrConnect)
		}
	})

	t.Run("no server", func(t *testing.T) {
		s, _, _, _ := newTestSession(t, nil)
		if _, err := s.RequestServerEntry(); !errors.Is(err, ErrNoServer) {
			t.Fatalf("got %v, want %v", err, ErrNoServer)
		}
	})
}

func TestClientFallsBackToSingle(t *testing.T) {
	s, _, conn, g := joinedSession(t)
	s.SetLSF("other.lsp")

	conn.broken = true
	s.Service()

	if _, ok := s.Handler().(standalone); !ok {
		t.Fatalf("handler %T", s.Handler())
	}
	if !g.single || s.cfg.Role != RoleRestartSingle || s.LSF() != DefaultLSF {
		t.Error("game not restarted single player")
	}
	if !conn.closed {
		t.Error("control channel left open")
	}
}

func TestGetInputsStandalone(t *testing.T) {
	s, _, g, _ := newTestSession(t, nil)
	g.tick = 300

	s.AddInput([]byte{1, 2})
	s.SendLocalRequest()
	got := s.GetInputs()

	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("inputs % x", got)
	}
	if s.State().Packet.Size() != 0 {
		t.Error("packet not reset")
	}
	if !bytes.Equal(s.State().LastPacket.Payload(), []byte{1, 2}) {
		t.Error("last packet not kept")
	}
	if s.State().CurrentTick != uint8(300%256) {
		t.Errorf("tick %d", s.State().CurrentTick)
	}
}

func TestGetInputsServerAlone(t *testing.T) {
	s, _, g, _ := hostedSession(t, nil)
	g.tick = 9

	s.AddInput([]byte{5})
	s.SendLocalRequest()
	if got := s.GetInputs(); !bytes.Equal(got, []byte{5}) {
		t.Errorf("inputs % x", got)
	}
	if s.State().LastPacket.Tick() != 9 {
		t.Errorf("last tick %d", s.State().LastPacket.Tick())
	}
}

func TestGetInputsRequestsResend(t *testing.T) {
	s, p, conn, g := joinedSession(t)
	data := p.listens[s.cfg.Port+2]
	g.tick = 4

	delivered := false
	p.onSelect = func() {
		if !delivered && bytes.Equal(conn.out.Bytes(), []byte{CmdRequestResend, 4}) {
			data.push(tickPacket(4, 1, 2), &fakeAddr{"10.0.0.1", DefaultPort + 1})
			delivered = true
		}
	}

	s.AddInput([]byte{9})
	s.SendLocalRequest()
	if len(data.sent) != 1 {
		t.Fatalf("sent %d packets", len(data.sent))
	}

	got := s.GetInputs()
	if !bytes.Equal(got, []byte{1, 2}) {
		t.Errorf("inputs % x", got)
	}
	if s.Missed() != 1 {
		t.Errorf("missed %d, want 1", s.Missed())
	}
}

func TestKillSlackersEndsClient(t *testing.T) {
	s, p, _, _ := joinedSession(t)

	s.KillSlackers()
	if s.Protocol() != nil || !p.cleaned {
		t.Error("networking still active")
	}
}

func TestServerReload(t *testing.T) {
	s, p, g, u := hostedSession(t, nil)

	amy := abuseConn("amy", 5000)
	l := p.listens[s.cfg.Port]
	l.accepts = append(l.accepts, accepted{amy, &fakeAddr{"10.0.0.5", 41000}})
	s.Service()
	amy.out.Reset()

	amy.in.WriteByte(CmdReloadStart)
	s.Service()
	if !bytes.Equal(amy.out.Bytes(), []byte{CmdReloadStart}) {
		t.Fatalf("reload request answered with % x", amy.out.Bytes())
	}
	amy.out.Reset()

	ended := false
	p.onSelect = func() {
		if !ended && bytes.Equal(amy.out.Bytes(), []byte{CmdReloadStart}) {
			amy.in.WriteByte(CmdReloadEnd)
			ended = true
		}
	}

	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}

	if len(g.added) != 1 || g.added[0] != (Join{ID: 1, Name: "amy"}) {
		t.Errorf("spawned %v", g.added)
	}
	if len(s.Joins()) != 0 {
		t.Errorf("joins left %v", s.Joins())
	}
	if len(g.saved) != 1 || g.saved[0] != StartFile || len(g.removed) != 1 || g.removed[0] != StartFile {
		t.Errorf("saved %v, removed %v", g.saved, g.removed)
	}
	if s.State().Input != Collecting || u.open || g.keymaps != 1 {
		t.Errorf("input %s, status open %v, keymap resets %d", s.State().Input, u.open, g.keymaps)
	}
	if !s.Handler().(*Server).player(1).joined {
		t.Error("client not joined after reload")
	}
}

func TestServerReloadCancelled(t *testing.T) {
	s, p, _, u := hostedSession(t, nil)

	l := p.listens[s.cfg.Port]
	l.accepts = append(l.accepts, accepted{abuseConn("slow", 5000), &fakeAddr{"10.0.0.5", 41000}})
	s.Service()

	u.cancelled = true
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}

	s.SendLocalRequest()
	if s.Handler().TotalPlayers() != 1 {
		t.Error("client still loading was kept")
	}
	if s.State().Input != Processing {
		t.Error("tick not completed without the dropped client")
	}
}

func TestClientReload(t *testing.T) {
	s, _, conn, g := joinedSession(t)
	g.failLoad = 2
	g.tick = 17

	conn.in.WriteByte(CmdReloadStart)
	if err := s.Reload(); err != nil {
		t.Fatal(err)
	}

	if len(g.loaded) != 3 {
		t.Errorf("loaded %d times, want 3", len(g.loaded))
	}
	if s.State().CurrentTick != 17 {
		t.Errorf("tick %d after reload", s.State().CurrentTick)
	}
	if !bytes.Equal(conn.out.Bytes(), []byte{CmdReloadStart, CmdReloadEnd}) {
		t.Errorf("sent % x", conn.out.Bytes())
	}
}

func TestClientReloadGivesUp(t *testing.T) {
	s, _, conn, g := joinedSession(t)
	s.cfg.ReloadRetries = 2
	g.failLoad = 100

	conn.in.WriteByte(CmdReloadStart)
	if err := s.Reload(); !errors.Is(err, ErrReload) {
		t.Fatalf("got %v, want %v", err, ErrReload)
	}
	if len(g.loaded) != 3 {
		t.Errorf("loaded %d times, want 3", len(g.loaded))
	}
}

func TestRemoteLSF(t *testing.T) {
	s, p, _, _ := newTestSession(t, nil)

	var reply bytes.Buffer
	sock.WriteString8(&reply, "levels/l1.lsp")
	conn := streamOf(reply.Bytes())
	p.connects = []*fakeSocket{conn, streamOf([]byte{0})}

	addr := &fakeAddr{"10.0.0.1", DefaultPort}
	name, err := s.RemoteLSF(addr)
	if err != nil || name != "levels/l1.lsp" {
		t.Fatalf("got %q, %v", name, err)
	}
	if !bytes.Equal(conn.out.Bytes(), []byte{ClientLSFWaiter}) || !conn.closed {
		t.Errorf("sent % x, closed %v", conn.out.Bytes(), conn.closed)
	}

	if _, err := s.RemoteLSF(addr); err == nil {
		t.Error("empty name accepted")
	}
}

func TestSetFileServer(t *testing.T) {
	s, p, _, _ := newTestSession(t, nil)
	f := &fakeFiles{}
	s.SetFiles(f)

	conn := streamOf([]byte{1})
	p.connects = []*fakeSocket{conn}

	addr := &fakeAddr{"10.0.0.1", DefaultPort}
	ok, err := s.SetFileServer(addr)
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}
	if f.fs != addr {
		t.Error("default file server not set")
	}
	if !bytes.Equal(conn.out.Bytes(), []byte{ClientCRCWaiter}) {
		t.Errorf("sent % x", conn.out.Bytes())
	}
}

func TestCloseEndsNetworking(t *testing.T) {
	s, p, _, _ := hostedSession(t, nil)
	comm, data := p.listens[s.cfg.Port], p.listens[s.cfg.Port+1]

	s.Close()

	if s.Protocol() != nil || !p.cleaned {
		t.Fatal("protocol not cleaned up")
	}
	if !comm.closed || !data.closed {
		t.Error("sockets left open")
	}
	if _, ok := s.Handler().(standalone); !ok {
		t.Errorf("handler %T", s.Handler())
	}

	if !s.Quit() {
		t.Error("Quit failed after Close")
	}
	s.Service()
	s.AddInput([]byte{3})
	s.SendLocalRequest()
	if got := s.GetInputs(); !bytes.Equal(got, []byte{3}) {
		t.Errorf("inputs % x after Close", got)
	}
	if err := s.BecomeServer("again"); !errors.Is(err, ErrNoNet) {
		t.Errorf("BecomeServer after Close: %v", err)
	}
}

func TestUptime(t *testing.T) {
	s, _, _, _ := newTestSession(t, nil)
	s.started = time.Now().Add(-3 * time.Second)

	if up := s.Uptime(); up != 3 {
		t.Errorf("uptime %v, want 3", up)
	}
}
