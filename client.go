package abusenet

import (
	"errors"
	"log"

	"github.com/sounddrill31/abusenet/packet"
	"github.com/sounddrill31/abusenet/sock"
)

// Client sends the local input for each tick to the server and waits for
// the merged packet.
type Client struct {
	st     *State
	prot   sock.Protocol
	comm   sock.Socket
	data   sock.Socket
	server sock.Address

	waitLocal bool
	sent      packet.Packet

	// fatal is called when the control channel breaks.
	fatal func()
}

// NewClient returns a Client talking to the server over comm and sending
// tick data from data to server.
func NewClient(st *State, prot sock.Protocol, comm, data sock.Socket, server sock.Address) *Client {
	comm.ReadSelectable()

	return &Client{
		st:        st,
		prot:      prot,
		comm:      comm,
		data:      data,
		server:    server.Copy(),
		waitLocal: true,
	}
}

// OnFatal sets the function called when the session with the server has
// to be abandoned.
func (c *Client) OnFatal(f func()) { c.fatal = f }

func (c *Client) TotalPlayers() int { return 1 }

// AddEngineInput sends the current packet to the server.
func (c *Client) AddEngineInput() {
	c.st.Input = Collecting
	c.waitLocal = false

	c.st.Packet.SetTick(c.st.CurrentTick)
	c.st.Packet.CalcChecksum()
	c.sent = c.st.Packet

	if _, err := c.data.WriteTo(c.st.Packet.Bytes(), c.server); err != nil {
		debugf(c.prot, sock.DebugMajorEvent, "can't send tick %d: %v", c.st.CurrentTick, err)
	}
}

// ProcessNet takes the merged packet for the current tick and answers
// server commands. It fails if the control channel breaks.
func (c *Client) ProcessNet() bool {
	if c.comm.Error() {
		log.Print("lost connection to server")
		c.fail()
		return false
	}

	if c.data.ReadyToRead() {
		c.readData()
	}

	if c.comm.ReadyToRead() && !c.command() {
		log.Print("bad command from server, continuing without it")
		c.fail()
		return false
	}

	return true
}

func (c *Client) fail() {
	c.waitLocal = true
	c.st.Input = Processing
	if c.fatal != nil {
		c.fatal()
	}
}

func (c *Client) readData() {
	var buf [packet.MaxSize]byte
	n, _, err := c.data.ReadFrom(buf[:])
	if err != nil {
		debugf(c.prot, sock.DebugMinorEvent, "bad datagram: %v", err)
		return
	}

	var pk packet.Packet
	if err := pk.Unmarshal(buf[:n]); err != nil {
		log.Print("dropped datagram from server: ", err)
		return
	}

	if pk.Tick() != c.st.CurrentTick {
		debugf(c.prot, sock.DebugImportantEvent, "stale packet: got tick %d, expected %d", pk.Tick(), c.st.CurrentTick)
		return
	}

	c.st.Packet = pk
	c.waitLocal = true
	c.st.Input = Processing
}

func (c *Client) command() bool {
	cmd, err := sock.ReadUint8(c.comm)
	if err != nil {
		return false
	}

	switch cmd {
	case CmdRequestResend:
	case CmdReloadStart:
		debugf(c.prot, sock.DebugMinorEvent, "server started reloading")
		return true
	default:
		log.Printf("unknown command %d from server", cmd)
		return false
	}

	tick, err := sock.ReadUint8(c.comm)
	if err != nil {
		return false
	}

	debugf(c.prot, sock.DebugImportantEvent, "server requested resend of tick %d (current %d, sent %d)",
		tick, c.st.CurrentTick, c.sent.Tick())

	if tick == c.sent.Tick() && !c.waitLocal {
		if _, err := c.data.WriteTo(c.sent.Bytes(), c.server); err != nil {
			debugf(c.prot, sock.DebugMajorEvent, "can't resend tick %d: %v", tick, err)
		}
	}
	return true
}

// InputMissing asks the server to resend the packet for the tick sent
// last.
func (c *Client) InputMissing() bool {
	tick := c.sent.Tick()
	debugf(c.prot, sock.DebugImportantEvent, "(resending %d)", tick)

	if err := sock.WriteUint8(c.comm, CmdRequestResend); err != nil {
		return false
	}
	return sock.WriteUint8(c.comm, tick) == nil
}

func (c *Client) AddClient(kind byte, s sock.Socket, from sock.Address) bool {
	return false
}

// ReloadAckTries is how many read timeouts StartReload sits out before
// giving up on the server.
const ReloadAckTries = 3

// StartReload asks the server to reload and waits for its
// acknowledgement.
func (c *Client) StartReload() bool {
	if err := sock.WriteUint8(c.comm, CmdReloadStart); err != nil {
		return false
	}

	for i := 0; i < ReloadAckTries; i++ {
		_, err := sock.ReadUint8(c.comm)
		if err == nil {
			return true
		}
		if !errors.Is(err, sock.ErrTimeout) {
			log.Print("no reload acknowledgement from server: ", err)
			return false
		}

		debugf(c.prot, sock.DebugMajorEvent, "waiting for the server to acknowledge the reload")
	}

	log.Print("server didn't acknowledge the reload")
	return false
}

// EndReload tells the server the level is loaded.
func (c *Client) EndReload(disconnect bool) bool {
	return sock.WriteUint8(c.comm, CmdReloadEnd) == nil
}

// KillSlackers gives up on the server. The session ends.
func (c *Client) KillSlackers() bool {
	if c.st.Input == Collecting {
		c.st.Input = Processing
	}
	return false
}

// Quit leaves the game and waits for the server to acknowledge it.
func (c *Client) Quit() bool {
	if err := sock.WriteUint8(c.comm, CmdUnjoin); err != nil {
		return false
	}

	_, err := sock.ReadUint8(c.comm)
	return err == nil
}

func (c *Client) Close() { c.comm.Close() }
