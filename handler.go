package abusenet

import (
	"log"

	"github.com/sounddrill31/abusenet/sock"
)

// A Handler is the role a session plays. Methods report failure with
// false; a session replaces a Handler whose ProcessNet fails.
type Handler interface {
	// ProcessNet handles whatever the last Select found.
	ProcessNet() bool

	// AddEngineInput submits the local input for the current tick.
	AddEngineInput()

	// InputMissing is called when the merged packet is late.
	InputMissing() bool

	// AddClient takes over a connection classified as kind. It returns
	// false if the caller should close s.
	AddClient(kind byte, s sock.Socket, from sock.Address) bool

	StartReload() bool
	EndReload(disconnect bool) bool

	KillSlackers() bool
	Quit() bool

	TotalPlayers() int

	// Close releases the sockets owned by the role.
	Close()
}

// standalone is the role of a session without peers.
type standalone struct {
	st *State
}

func (h standalone) ProcessNet() bool   { return true }
func (h standalone) AddEngineInput()    { h.st.Input = Processing }
func (h standalone) InputMissing() bool { return true }

func (h standalone) AddClient(kind byte, s sock.Socket, from sock.Address) bool {
	return false
}

func (h standalone) StartReload() bool              { return true }
func (h standalone) EndReload(disconnect bool) bool { return true }
func (h standalone) KillSlackers() bool             { return true }
func (h standalone) Quit() bool                     { return true }
func (h standalone) TotalPlayers() int              { return 1 }
func (h standalone) Close()                         {}

func debugf(prot sock.Protocol, l sock.DebugLevel, format string, v ...interface{}) {
	if prot != nil && prot.DebugLevel() >= l {
		log.Printf(format, v...)
	}
}
