/*
Package abusenet implements the lockstep core of a networked game: one
server merges the input of every peer for a tick and sends the result
back, clients block until it arrives.

A Session is driven from a single goroutine, once per frame.
*/
package abusenet

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sounddrill31/abusenet/sock"
)

var (
	ErrNoNet         = errors.New("networking is not active")
	ErrNoServer      = errors.New("no server to join")
	ErrServerFull    = errors.New("server is full")
	ErrNotRegistered = errors.New("server refused registration")
	ErrJoin          = errors.New("join failed")
	ErrReload        = errors.New("reload failed")
)

// Session is one networked game, as server, client or standalone.
type Session struct {
	cfg   *Config
	game  Game
	ui    UI
	files Files

	prot   sock.Protocol
	st     *State
	face   Handler
	comm   sock.Socket
	data   sock.Socket
	server sock.Address

	clientNumber int
	lsf          string
	missed       int

	store   *DB
	journal Recorder

	started time.Time
}

// New selects the first installed protocol, preferring the one named by
// cfg.Protocol, and resolves cfg.Server for clients. Nil collaborators
// are replaced by ones doing nothing.
func New(cfg *Config, game Game, ui UI, protos ...sock.Protocol) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if game == nil {
		game = &nopGame{}
	}
	if ui == nil {
		ui = nopUI{}
	}

	for _, p := range protos {
		if p != nil {
			log.Printf("protocol %s: installed %v", p.Name(), p.Installed())
		}
	}

	prot, err := pickProtocol(cfg.Protocol, protos)
	if err != nil {
		return nil, err
	}
	prot.SetDebugLevel(cfg.Debug)
	if t, ok := prot.(interface{ SetTimeouts(sock.Timeouts) }); ok {
		t.SetTimeouts(cfg.Timeouts)
	}

	s := &Session{
		cfg:     cfg,
		game:    game,
		ui:      ui,
		files:   nopFiles{},
		prot:    prot,
		st:      NewState(),
		lsf:     DefaultLSF,
		journal: nopRecorder{},
		started: time.Now(),
	}
	s.face = standalone{st: s.st}

	if cfg.Role == RoleClient {
		log.Printf("locating server %s", cfg.Server)
		addr, err := prot.NodeAddress(cfg.Server, DefaultPort, false)
		if err != nil {
			prot.Cleanup()
			return nil, fmt.Errorf("unable to locate server: %w", err)
		}
		s.server = addr
		log.Print("server located at ", addr)
	}

	return s, nil
}

func pickProtocol(name string, protos []sock.Protocol) (sock.Protocol, error) {
	if name != "" {
		for _, p := range protos {
			if p != nil && strings.EqualFold(p.Name(), name) && p.Installed() {
				return p, nil
			}
		}
		log.Printf("protocol %q not available, using the first installed one", name)
	}

	return sock.FirstInstalled(protos...)
}

// SetFiles installs the file service answering ClientNFS connections.
func (s *Session) SetFiles(f Files) {
	if f == nil {
		f = nopFiles{}
	}
	s.files = f
}

// SetStore makes the session check db's ban list and write a journal.
func (s *Session) SetStore(db *DB) {
	s.store = db
	if db == nil {
		s.journal = nopRecorder{}
	}
}

func (s *Session) startJournal(role string) {
	if s.store != nil {
		s.journal = s.store.NewJournal(role)
	}
}

// State returns the state shared with the active role.
func (s *Session) State() *State { return s.st }

// Handler returns the active role.
func (s *Session) Handler() Handler { return s.face }

// Protocol returns the transport in use, nil once networking has ended.
func (s *Session) Protocol() sock.Protocol { return s.prot }

// IsClient reports whether the session was configured to join a server.
func (s *Session) IsClient() bool { return s.cfg.Role == RoleClient }

// ClientNumber is 0 on the server and the assigned id on a client.
func (s *Session) ClientNumber() int { return s.clientNumber }

// Missed returns the number of resends asked for while waiting on the
// merged packet last time.
func (s *Session) Missed() int { return s.missed }

// LSF returns the level start file.
func (s *Session) LSF() string { return s.lsf }

// SetLSF sets the level start file handed to ClientLSFWaiter peers.
func (s *Session) SetLSF(name string) { s.lsf = name }

// Joins returns the clients waiting to be spawned at the next reload.
func (s *Session) Joins() []Join { return append([]Join(nil), s.st.Joins...) }

func (s *Session) replaceHandler(h Handler) {
	if s.face != nil {
		s.face.Close()
	}
	s.face = h
}

// BecomeServer opens the control and data ports and starts answering
// discovery requests with name.
func (s *Session) BecomeServer(name string) error {
	if s.prot == nil {
		return ErrNoNet
	}

	s.replaceHandler(standalone{st: s.st})

	if s.comm != nil {
		s.comm.Close()
	}
	comm, err := s.prot.CreateListenSocket(s.cfg.Port, sock.Secure)
	if err != nil {
		s.dropProtocol()
		return err
	}
	comm.ReadSelectable()
	s.comm = comm

	if _, err := s.prot.StartNotify(NotifyPort, []byte(name)); err != nil {
		log.Print("not answering discovery requests: ", err)
	}

	if s.data != nil {
		s.data.Close()
	}
	data, err := s.prot.CreateListenSocket(s.cfg.Port+1, sock.Fast)
	if err != nil {
		s.comm.Close()
		s.comm = nil
		s.dropProtocol()
		return err
	}
	data.ReadSelectable()
	s.data = data

	s.startJournal("server")

	var bans Banlist
	if s.store != nil {
		bans = s.store
	}
	s.face = NewServer(s.st, s.cfg, s.prot, s.data, bans, s.journal)
	s.clientNumber = 0

	log.Printf("serving %q on port %d", name, s.cfg.Port)
	s.journal.Record("host", 0, name)
	return nil
}

// RequestServerEntry joins the configured server and returns the client
// id it assigned.
func (s *Session) RequestServerEntry() (int, error) {
	if s.prot == nil {
		return 0, ErrNoNet
	}
	if s.server == nil {
		return 0, ErrNoServer
	}

	log.Print("joining game in progress")

	if s.data != nil {
		s.data.Close()
	}
	data, err := s.prot.CreateListenSocket(s.cfg.Port+2, sock.Fast)
	if err != nil {
		if s.comm != nil {
			s.comm.Close()
		}
		s.comm = nil
		s.dropProtocol()
		return 0, err
	}
	data.ReadSelectable()
	s.data = data

	c, err := s.prot.ConnectToServer(s.server, sock.Secure)
	if err != nil {
		return 0, fmt.Errorf("unable to connect to server: %w", err)
	}

	port, id, err := s.join(c)
	if err != nil {
		c.Close()
		return 0, err
	}

	addr := s.server.Copy()
	addr.SetPort(int(port))

	cl := NewClient(s.st, s.prot, c, s.data, addr)
	cl.OnFatal(s.restartSingle)
	s.replaceHandler(cl)
	s.clientNumber = id

	s.startJournal("client")
	s.journal.Record("join", id, s.server.String())

	log.Printf("joined %s as client %d", s.server, id)
	return id, nil
}

// join runs the client side of the join handshake on c.
func (s *Session) join(c sock.Socket) (uint16, int, error) {
	if err := sock.WriteUint8(c, ClientAbuse); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	reg, err := sock.ReadUint8(c)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}

	switch reg {
	case RegOK:
	case RegFull:
		return 0, 0, ErrServerFull
	case RegNotRegistered:
		return 0, 0, ErrNotRegistered
	default:
		return 0, 0, fmt.Errorf("%w: unexpected registration reply %d", ErrJoin, reg)
	}

	name := s.cfg.Name
	if name == "" {
		name = "unknown"
	}
	if len(name) > 254 {
		name = name[:254]
	}

	if err := sock.WriteString8(c, name+"\x00"); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	if err := sock.WriteUint16(c, uint16(s.cfg.Port+2)); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}

	port, err := sock.ReadUint16(c)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	kills, err := sock.ReadInt16(c)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	id, err := sock.ReadUint16(c)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrJoin, err)
	}
	if id == 0 {
		return 0, 0, fmt.Errorf("%w: server assigned id 0", ErrJoin)
	}

	s.cfg.Kills = int(kills)
	return port, int(id), nil
}

func (s *Session) restartSingle() {
	s.cfg.Role = RoleRestartSingle
	s.lsf = DefaultLSF
	s.game.RestartSingle()
}

// Service polls the protocol once and handles everything that is ready.
func (s *Session) Service() {
	if s.prot == nil {
		return
	}

	if s.prot.Select(false) <= 0 {
		return
	}

	if s.comm != nil && s.comm.ReadyToRead() {
		s.accept()
	}

	if !s.face.ProcessNet() {
		s.replaceHandler(standalone{st: s.st})
	}
	s.files.ProcessNet()
}

func (s *Session) accept() {
	c, from, err := s.comm.Accept()
	if err != nil {
		debugf(s.prot, sock.DebugMajorEvent, "accept failed: %v", err)
		return
	}

	kind, err := sock.ReadUint8(c)
	if err != nil {
		c.Close()
		return
	}

	switch kind {
	case ClientNFS:
		s.files.AddNFSClient(c)
	case ClientCRCWaiter:
		if err := s.files.WriteCRCFile(CRCFile); err != nil {
			log.Print("can't write crc file: ", err)
		}
		sock.WriteUint8(c, 1)
		c.Close()
	case ClientLSFWaiter:
		sock.WriteString8(c, s.lsf)
		c.Close()
	default:
		if !s.face.AddClient(kind, c, from) {
			c.Close()
		}
	}
}

// AddInput appends local input to the packet of the current tick.
func (s *Session) AddInput(b []byte) { s.st.Packet.Add(b) }

// SendLocalRequest submits the local input for the current game tick.
func (s *Session) SendLocalRequest() {
	if s.prot == nil {
		s.st.Input = Processing
		return
	}

	s.st.CurrentTick = uint8(s.game.Tick())
	s.face.AddEngineInput()
}

// GetInputs waits for the merged packet of the current tick and returns
// its payload. The wait asks for a resend every MissedDeadline; after
// DeadRetries of them the user may give up on the slackers.
func (s *Session) GetInputs() []byte {
	if s.prot != nil && s.st.Input != Processing {
		start := time.Now()
		s.missed = 0
		aborting := false

		for s.st.Input != Processing {
			if s.prot == nil {
				s.st.Input = Processing
				break
			}
			s.Service()

			if time.Since(start) > MissedDeadline {
				debugf(s.prot, sock.DebugImportantEvent, "(missed packet)")

				if s.face.InputMissing() && s.cfg.ResendStall > 0 {
					time.Sleep(s.cfg.ResendStall)
				}
				start = time.Now()

				s.missed++
				if s.missed == DeadRetries {
					s.ui.Status("waiting for the other players, the connection appears dead")
					aborting = true
				}
			}

			if aborting && s.ui.Cancelled() {
				s.KillSlackers()
				s.st.Input = Processing
			}
		}

		if aborting {
			s.ui.CloseStatus()
			s.game.ResetKeymap()
		}
	}

	s.st.LastPacket = s.st.Packet
	b := append([]byte(nil), s.st.Packet.Payload()...)
	s.st.Packet.Reset()

	return b
}

// WaitMinPlayers blocks a server until cfg.MinPlayers are connected or
// the user cancels.
func (s *Session) WaitMinPlayers() {
	if _, ok := s.face.(*Server); !ok {
		return
	}

	last := 0
	shown := false
	for s.face.TotalPlayers() < s.cfg.MinPlayers {
		if n := s.face.TotalPlayers(); n != last {
			s.ui.Status(fmt.Sprintf("waiting for %d more players", s.cfg.MinPlayers-n))
			shown = true
			last = n
		}

		if s.ui.Cancelled() {
			log.Print("wait for players cancelled")
			break
		}

		s.Service()
		if _, ok := s.face.(*Server); !ok {
			break
		}
	}

	if shown {
		s.ui.CloseStatus()
	}
}

// StartReload and EndReload pass through to the active role.
func (s *Session) StartReload() bool {
	if s.prot == nil {
		return false
	}
	return s.face.StartReload()
}

func (s *Session) EndReload(disconnect bool) bool {
	if s.prot == nil {
		return false
	}
	return s.face.EndReload(disconnect)
}

// Reload resyncs the level. A server spawns pending joiners, saves the
// level to StartFile and waits until every client has loaded it. A
// client loads StartFile and continues from its tick.
func (s *Session) Reload() error {
	if s.prot == nil {
		return nil
	}

	if s.server != nil {
		return s.reloadClient()
	}
	return s.reloadServer()
}

func (s *Session) reloadClient() error {
	if !s.StartReload() {
		return ErrReload
	}

	var err error
	for i := 0; i <= s.cfg.ReloadRetries; i++ {
		if err = s.game.LoadLevel(StartFile); err == nil {
			break
		}
		time.Sleep(s.cfg.ReloadWait)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReload, err)
	}

	s.st.CurrentTick = uint8(s.game.Tick())
	s.journal.Record("reload", s.clientNumber, StartFile)

	if !s.EndReload(false) {
		return ErrReload
	}
	return nil
}

func (s *Session) reloadServer() error {
	if len(s.st.Joins) > 0 {
		s.game.AddPlayers(s.Joins())
	}
	s.st.Joins = nil

	if err := s.game.SaveLevel(StartFile); err != nil {
		return fmt.Errorf("%w: %v", ErrReload, err)
	}

	s.ui.Status("resyncing, hold on")
	defer s.ui.CloseStatus()

	if !s.StartReload() {
		return ErrReload
	}
	s.st.Input = Reload
	s.journal.Record("reload", 0, StartFile)

	for {
		s.Service()
		if s.prot == nil {
			break
		}

		if s.ui.Cancelled() {
			s.face.EndReload(true)
			s.st.Input = Processing
		}
		if s.EndReload(false) {
			break
		}
	}

	if err := s.game.RemoveLevel(StartFile); err != nil {
		log.Print("can't remove ", StartFile, ": ", err)
	}
	s.game.ResetKeymap()
	s.st.Input = Collecting

	return nil
}

// KillSlackers drops peers that stopped sending input. A client gives up
// on the server and networking ends.
func (s *Session) KillSlackers() {
	if s.prot == nil {
		return
	}

	if !s.face.KillSlackers() {
		s.Close()
	}
}

// SetFileServer points the file service at addr and waits until the
// server there has written its checksum file.
func (s *Session) SetFileServer(addr sock.Address) (bool, error) {
	if s.prot == nil {
		return false, ErrNoNet
	}
	s.files.SetDefaultFS(addr)

	c, err := s.prot.ConnectToServer(addr, sock.Secure)
	if err != nil {
		return false, err
	}
	defer c.Close()

	if err := sock.WriteUint8(c, ClientCRCWaiter); err != nil {
		return false, err
	}
	ok, err := sock.ReadUint8(c)
	if err != nil {
		return false, err
	}

	return ok != 0, nil
}

// RemoteLSF asks the server at addr for its level start file.
func (s *Session) RemoteLSF(addr sock.Address) (string, error) {
	if s.prot == nil {
		return "", ErrNoNet
	}

	c, err := s.prot.ConnectToServer(addr, sock.Secure)
	if err != nil {
		return "", err
	}
	defer c.Close()

	if err := sock.WriteUint8(c, ClientLSFWaiter); err != nil {
		return "", err
	}
	name, err := sock.ReadString8(c)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%s has no level start file", addr)
	}

	return name, nil
}

// Resolve parses a peer specification with the session protocol.
func (s *Session) Resolve(spec string) (sock.Address, error) {
	if s.prot == nil {
		return nil, ErrNoNet
	}
	return s.prot.NodeAddress(spec, DefaultPort, false)
}

// Quit leaves the game. A client waits for the server to acknowledge it.
func (s *Session) Quit() bool {
	if s.prot == nil {
		return true
	}
	return s.face.Quit()
}

// Close ends networking and releases every socket. The session stays
// usable as a standalone one.
func (s *Session) Close() {
	if s.prot == nil {
		return
	}

	s.journal.Record("shutdown", s.clientNumber, fmt.Sprintf("up %.0fs", s.Uptime()))

	s.replaceHandler(standalone{st: s.st})

	if s.data != nil {
		s.data.Close()
		s.data = nil
	}
	if s.comm != nil {
		s.comm.Close()
		s.comm = nil
	}

	s.server = nil
	s.dropProtocol()
}

// dropProtocol releases everything the protocol still holds, discovery
// sockets included, and leaves the session without networking.
func (s *Session) dropProtocol() {
	s.prot.Cleanup()
	s.prot = nil
}
