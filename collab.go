package abusenet

import "github.com/sounddrill31/abusenet/sock"

// Game is the simulation a session synchronizes.
type Game interface {
	// Tick returns the simulation tick counter.
	Tick() int

	SaveLevel(name string) error
	LoadLevel(name string) error
	RemoveLevel(name string) error

	// AddPlayers spawns views for clients that joined since the last
	// reload.
	AddPlayers(joins []Join)

	ResetKeymap()

	// RestartSingle is called when a client session fails and the game
	// has to continue without a server.
	RestartSingle()
}

// UI shows modal status messages while a session waits on peers.
type UI interface {
	Status(msg string)
	CloseStatus()

	// Cancelled reports whether the user pressed the button of the
	// current status message.
	Cancelled() bool
}

// Files serves level data to remote peers.
type Files interface {
	AddNFSClient(s sock.Socket)
	WriteCRCFile(name string) error
	ProcessNet()
	SetDefaultFS(addr sock.Address)
}

type nopGame struct{ tick int }

func (g *nopGame) Tick() int                { return g.tick }
func (g *nopGame) SaveLevel(string) error   { return nil }
func (g *nopGame) LoadLevel(string) error   { return nil }
func (g *nopGame) RemoveLevel(string) error { return nil }
func (g *nopGame) AddPlayers([]Join)        {}
func (g *nopGame) ResetKeymap()             {}
func (g *nopGame) RestartSingle()           {}

type nopUI struct{}

func (nopUI) Status(string)   {}
func (nopUI) CloseStatus()    {}
func (nopUI) Cancelled() bool { return false }

type nopFiles struct{}

func (nopFiles) AddNFSClient(s sock.Socket) { s.Close() }
func (nopFiles) WriteCRCFile(string) error  { return nil }
func (nopFiles) ProcessNet()                {}
func (nopFiles) SetDefaultFS(sock.Address)  {}
