package abusenet

import "github.com/sounddrill31/abusenet/packet"

// InputState tracks where the current tick is in the input exchange.
type InputState uint8

const (
	// Collecting means input for the current tick is still coming in.
	Collecting InputState = iota

	// Processing means the merged packet is complete and the game may
	// advance.
	Processing

	// Reload means the session is paused to resync the level.
	Reload
)

func (s InputState) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Processing:
		return "processing"
	case Reload:
		return "reload"
	}
	return "unknown"
}

// A Join is a client that has been accepted but not yet spawned into the
// level.
type Join struct {
	ID   int
	Name string
}

// State is shared by the session and its active role object. Only one
// role object touches it at a time.
type State struct {
	CurrentTick uint8
	Input       InputState

	// Joins lists pending joiners, newest first.
	Joins []Join

	Packet     packet.Packet
	LastPacket packet.Packet

	WaitReload bool
}

// NewState returns the state of a session that hasn't exchanged anything.
func NewState() *State {
	return &State{Input: Collecting}
}

func (st *State) hasJoin(id int) bool {
	for _, j := range st.Joins {
		if j.ID == id {
			return true
		}
	}
	return false
}

func (st *State) dropJoin(id int) {
	for i, j := range st.Joins {
		if j.ID == id {
			st.Joins = append(st.Joins[:i], st.Joins[i+1:]...)
			return
		}
	}
}
