package abusenet

import (
	"log"
	"net"
	"strings"

	"github.com/sounddrill31/abusenet/packet"
	"github.com/sounddrill31/abusenet/sock"
)

// Banlist is consulted before a client is registered.
type Banlist interface {
	IsBanned(addr string) (bool, string, error)
}

// Recorder takes note of session events.
type Recorder interface {
	Record(event string, client int, detail string)
}

type nopRecorder struct{}

func (nopRecorder) Record(string, int, string) {}

// player is one client connected to a Server.
type player struct {
	id   int
	name string
	comm sock.Socket
	data sock.Address

	joined        bool
	waitInput     bool
	waitReload    bool
	deleteMe      bool
	needReloadAck bool
}

// Server collects the input of every client for a tick, merges it with
// its own and sends the result back to all of them.
type Server struct {
	st   *State
	cfg  *Config
	prot sock.Protocol
	data sock.Socket

	// players is ordered newest first.
	players []*player

	waitingServer bool
	reloading     bool

	bans    Banlist
	journal Recorder
}

// NewServer returns a Server exchanging tick data on data. bans and
// journal may be nil.
func NewServer(st *State, cfg *Config, prot sock.Protocol, data sock.Socket, bans Banlist, journal Recorder) *Server {
	if journal == nil {
		journal = nopRecorder{}
	}

	return &Server{
		st:            st,
		cfg:           cfg,
		prot:          prot,
		data:          data,
		waitingServer: true,
		bans:          bans,
		journal:       journal,
	}
}

// TotalPlayers counts the clients and the server itself.
func (s *Server) TotalPlayers() int { return 1 + len(s.players) }

// IsClient reports whether id belongs to the server or a live client.
func (s *Server) IsClient(id int) bool {
	if id == 0 {
		return true
	}
	return s.player(id) != nil
}

func (s *Server) player(id int) *player {
	for _, p := range s.players {
		if p.id == id {
			return p
		}
	}
	return nil
}

// checkComplete sends the merged packet once the server and every joined
// client have contributed to it. Clients flagged for deletion are removed
// first.
func (s *Server) checkComplete() {
	if s.waitingServer {
		return
	}

	gotAll := true
	deletes := false
	for _, p := range s.players {
		if p.deleteMe {
			deletes = true
		} else if p.joined && p.waitInput {
			gotAll = false
		}
	}

	if deletes {
		s.sweep()
	}

	if !gotAll {
		return
	}

	s.st.Packet.CalcChecksum()
	for _, p := range s.players {
		if !p.joined {
			continue
		}

		p.waitInput = true
		if _, err := s.data.WriteTo(s.st.Packet.Bytes(), p.data); err != nil {
			debugf(s.prot, sock.DebugMajorEvent, "can't send tick %d to client %d: %v", s.st.Packet.Tick(), p.id, err)
		}
	}

	s.st.LastPacket = s.st.Packet
	s.st.Input = Processing
	s.data.ReadUnselectable()
	s.waitingServer = true
}

func (s *Server) sweep() {
	kept := s.players[:0]
	var reloadCheck bool

	for _, p := range s.players {
		if !p.deleteMe {
			kept = append(kept, p)
			continue
		}

		if s.st.Packet.Size()+2 <= packet.MaxPayload {
			s.st.Packet.WriteUint8(SCmdDeleteClient)
			s.st.Packet.WriteUint8(uint8(p.id))
		}

		if p.waitReload {
			p.waitReload = false
			reloadCheck = true
		}

		log.Printf("client %d (%s) left", p.id, p.name)
		s.journal.Record("delete", p.id, p.name)

		s.st.dropJoin(p.id)
		p.comm.Close()
	}

	for i := len(kept); i < len(s.players); i++ {
		s.players[i] = nil
	}
	s.players = kept

	if reloadCheck {
		s.checkReloadWait()
	}
}

func (s *Server) checkReloadWait() {
	for _, p := range s.players {
		if p.waitReload {
			return
		}
	}
	s.st.WaitReload = false
}

// AddEngineInput records the server's own input for the current tick.
func (s *Server) AddEngineInput() {
	s.waitingServer = false
	s.st.Input = Collecting
	s.st.Packet.SetTick(s.st.CurrentTick)
	s.data.ReadSelectable()
	s.checkComplete()
}

func (s *Server) addClientInput(b []byte, p *player) {
	if !p.waitInput {
		debugf(s.prot, sock.DebugMinorEvent, "ignored duplicate input from client %d", p.id)
		return
	}

	if s.st.Packet.Size()+len(b) > packet.MaxPayload {
		log.Printf("input of client %d doesn't fit into tick %d", p.id, s.st.CurrentTick)
		p.deleteMe = true
		s.checkComplete()
		return
	}

	s.st.Packet.Add(b)
	p.waitInput = false
	s.checkComplete()
}

// ProcessNet reads tick data and control commands. It never fails: a
// broken client is dropped and the session goes on.
func (s *Server) ProcessNet() bool {
	if (s.st.Input == Collecting || s.st.Input == Reload) && s.data.ReadyToRead() {
		s.readData()
	}

	for _, p := range append([]*player(nil), s.players...) {
		if p.deleteMe {
			continue
		}

		if p.comm.Error() || (p.comm.ReadyToRead() && !s.command(p)) {
			debugf(s.prot, sock.DebugImportantEvent, "lost control channel of client %d", p.id)
			p.deleteMe = true
			s.checkComplete()
		}
	}

	return true
}

func (s *Server) readData() {
	var buf [packet.MaxSize]byte
	n, from, err := s.data.ReadFrom(buf[:])
	if err != nil || from == nil || n == 0 {
		debugf(s.prot, sock.DebugMinorEvent, "bad datagram from %v: %d bytes, %v", from, n, err)
		return
	}

	var pk packet.Packet
	if err := pk.Unmarshal(buf[:n]); err != nil {
		debugf(s.prot, sock.DebugImportantEvent, "dropped datagram from %s: %v", from, err)
		return
	}

	var p *player
	for _, c := range s.players {
		if c.joined && from.Equal(c.data) {
			p = c
			break
		}
	}
	if p == nil {
		debugf(s.prot, sock.DebugImportantEvent, "datagram from unknown client %s", from)
		return
	}

	switch pk.Tick() {
	case s.st.CurrentTick:
		if s.st.Input != Reload {
			s.addClientInput(pk.Payload(), p)
		}
	case s.st.LastPacket.Tick():
		debugf(s.prot, sock.DebugImportantEvent, "client %d missed tick %d, resending", p.id, pk.Tick())
		s.resend(p)
	default:
		debugf(s.prot, sock.DebugImportantEvent, "out of sequence data from client %d: got tick %d, expected %d",
			p.id, pk.Tick(), s.st.CurrentTick)
	}
}

func (s *Server) resend(p *player) {
	if _, err := s.data.WriteTo(s.st.LastPacket.Bytes(), p.data); err != nil {
		debugf(s.prot, sock.DebugMajorEvent, "can't resend tick %d to client %d: %v", s.st.LastPacket.Tick(), p.id, err)
	}
}

// command handles one control command of p. It returns false if the
// command couldn't be read or is unknown.
func (s *Server) command(p *player) bool {
	cmd, err := sock.ReadUint8(p.comm)
	if err != nil {
		return false
	}

	switch cmd {
	case CmdRequestResend:
		tick, err := sock.ReadUint8(p.comm)
		if err != nil {
			return false
		}

		debugf(s.prot, sock.DebugImportantEvent, "client %d requested resend of tick %d", p.id, tick)
		if tick == s.st.LastPacket.Tick() {
			s.resend(p)
		}
		return true
	case CmdReloadStart:
		if err := sock.WriteUint8(p.comm, CmdReloadStart); err != nil {
			debugf(s.prot, sock.DebugMinorEvent, "can't acknowledge reload to client %d: %v", p.id, err)
			p.deleteMe = true
			return false
		}

		// Clients asking before the server reloads get a second OK
		// once it does.
		if !s.reloading {
			p.needReloadAck = true
		}
		return true
	case CmdReloadEnd:
		p.waitReload = false
		s.checkReloadWait()
		return true
	case CmdUnjoin:
		if err := sock.WriteUint8(p.comm, CmdUnjoin); err != nil {
			debugf(s.prot, sock.DebugMinorEvent, "can't acknowledge unjoin of client %d: %v", p.id, err)
		}
		p.deleteMe = true
		if s.st.Input == Collecting {
			s.checkComplete()
		}
		return true
	}

	log.Printf("unknown command %d from client %d", cmd, p.id)
	return false
}

// InputMissing has nothing to ask for: the server is the one sending.
func (s *Server) InputMissing() bool { return true }

func (s *Server) poll() {
	if s.prot != nil {
		s.prot.Select(false)
	}
}

// StartReload tells every client waiting on it that the reload has begun.
func (s *Server) StartReload() bool {
	s.reloading = true
	s.st.WaitReload = true
	s.poll()

	for _, p := range s.players {
		if !p.deleteMe && p.needReloadAck {
			if err := sock.WriteUint8(p.comm, CmdReloadStart); err != nil {
				p.deleteMe = true
			}
			p.needReloadAck = false
		}
		p.waitReload = true
	}

	return true
}

// EndReload reports whether every client has finished loading. With
// disconnect set, clients still loading are dropped instead.
func (s *Server) EndReload(disconnect bool) bool {
	s.poll()

	for _, p := range s.players {
		if p.deleteMe || !p.waitReload {
			continue
		}

		if !disconnect {
			return false
		}

		log.Printf("dropping client %d, still reloading", p.id)
		p.deleteMe = true
	}

	for _, p := range s.players {
		p.joined = true
		if !p.deleteMe {
			p.waitInput = true
		}
	}
	s.reloading = false
	s.st.WaitReload = false

	return true
}

// AddClient runs the join handshake for a ClientAbuse connection.
func (s *Server) AddClient(kind byte, c sock.Socket, from sock.Address) bool {
	if kind != ClientAbuse {
		log.Printf("rejecting client of type %d from %s", kind, from)
		return false
	}

	if s.banned(from) {
		sock.WriteUint8(c, RegNotRegistered)
		return false
	}

	if s.TotalPlayers() >= s.cfg.MaxPlayers {
		log.Print("rejecting ", from, ": server full")
		sock.WriteUint8(c, RegFull)
		return false
	}

	if err := sock.WriteUint8(c, RegOK); err != nil {
		return false
	}

	name, cport, err := s.readJoin(c)
	if err != nil {
		log.Print("join of ", from, " failed: ", err)
		return false
	}

	id := s.freeID()
	if id < 0 {
		log.Print("rejecting ", from, ": out of client ids")
		return false
	}

	addr := from.Copy()
	addr.SetPort(int(cport))

	if err := sock.WriteUint16(c, uint16(id)); err != nil {
		return false
	}

	s.st.Joins = append([]Join{{ID: id, Name: name}}, s.st.Joins...)
	s.players = append([]*player{{id: id, name: name, comm: c, data: addr}}, s.players...)
	c.ReadSelectable()

	log.Printf("client %d (%s) joined from %s", id, name, addr)
	s.journal.Record("join", id, name)

	return true
}

func (s *Server) readJoin(c sock.Socket) (string, uint16, error) {
	n, err := sock.ReadUint8(c)
	if err != nil {
		return "", 0, err
	}
	b, err := sock.ReadBytes(c, int(n))
	if err != nil {
		return "", 0, err
	}
	cport, err := sock.ReadUint16(c)
	if err != nil {
		return "", 0, err
	}

	if err := sock.WriteUint16(c, uint16(s.cfg.Port+1)); err != nil {
		return "", 0, err
	}
	if err := sock.WriteInt16(c, int16(s.cfg.Kills)); err != nil {
		return "", 0, err
	}

	return strings.TrimRight(string(b), "\x00"), cport, nil
}

// freeID returns the lowest id neither live nor pending, or -1.
func (s *Server) freeID() int {
	for i := 1; i < MaxJoiners; i++ {
		if !s.IsClient(i) && !s.st.hasJoin(i) {
			return i
		}
	}
	return -1
}

func (s *Server) banned(from sock.Address) bool {
	if s.bans == nil || from == nil {
		return false
	}

	host := from.String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	banned, name, err := s.bans.IsBanned(host)
	if err != nil {
		log.Print("can't check ban list: ", err)
		return false
	}
	if banned {
		log.Printf("rejecting %s: banned (%s)", host, name)
	}
	return banned
}

// KillSlackers drops every joined client that hasn't sent input for the
// current tick.
func (s *Server) KillSlackers() bool {
	for _, p := range s.players {
		if p.waitInput {
			log.Printf("client %d is slacking, dropping it", p.id)
			p.deleteMe = true
		}
	}

	s.checkComplete()
	return true
}

// Quit closes every client connection.
func (s *Server) Quit() bool {
	for _, p := range s.players {
		p.comm.Close()
	}
	s.players = nil

	return true
}

func (s *Server) Close() { s.Quit() }
