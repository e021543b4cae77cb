/*
Package sock defines the transport layer a lockstep session runs on:
addresses, sockets, protocols and the readiness Set that stands in for
select(2).

Nothing in this package is safe for concurrent use. A session drives its
protocol and every socket belonging to it from a single goroutine.
*/
package sock

import (
	"errors"
	"time"
)

// Kind selects between the two socket flavours a protocol can create.
type Kind uint8

const (
	// Secure sockets are reliable byte streams.
	Secure Kind = iota

	// Fast sockets carry unreliable datagrams.
	Fast
)

func (k Kind) String() string {
	switch k {
	case Secure:
		return "secure"
	case Fast:
		return "fast"
	}
	return "unknown"
}

// DebugLevel controls how chatty a protocol is.
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugMajorEvent
	DebugImportantEvent
	DebugMinorEvent
)

var (
	ErrBind          = errors.New("can't bind socket")
	ErrConnect       = errors.New("can't connect")
	ErrResolve       = errors.New("can't resolve address")
	ErrNoServers     = errors.New("no servers found")
	ErrNotListening  = errors.New("socket is not listening")
	ErrListening     = errors.New("socket is listening")
	ErrWrongProtocol = errors.New("address belongs to another protocol")
	ErrNoProtocol    = errors.New("no network protocols installed")
	ErrClosed        = errors.New("use of closed socket")
	ErrTimeout       = errors.New("socket operation timed out")
)

// An Address identifies an endpoint. Addresses have value semantics: a
// holder that outlives the code it got an Address from must keep a Copy.
type Address interface {
	// Protocol names the address family, e.g. "IP".
	Protocol() string

	// Equal reports whether both addresses name the same endpoint.
	Equal(Address) bool

	Copy() Address
	Port() int
	SetPort(port int)

	// String renders the address as host:port.
	String() string
}

// A Socket is either a reliable stream, a listener accepting streams, or a
// datagram socket. Readiness flags reflect the last Select of the owning
// protocol and only cover sockets marked selectable.
type Socket interface {
	// Read fills p completely from a stream or returns the next datagram.
	Read(p []byte) (int, error)

	// ReadFrom is Read that also reports the sender of a datagram.
	// Streams report a nil Address.
	ReadFrom(p []byte) (int, Address, error)

	Write(p []byte) (int, error)

	// WriteTo sends p to addr. Streams and connected datagram sockets
	// ignore addr.
	WriteTo(p []byte, addr Address) (int, error)

	// Accept returns the next pending connection of a listening socket.
	Accept() (Socket, Address, error)

	Listening() bool
	Kind() Kind
	LocalAddr() Address

	ReadyToRead() bool
	ReadyToWrite() bool
	Error() bool

	ReadSelectable()
	ReadUnselectable()
	WriteSelectable()
	WriteUnselectable()

	// Close removes the socket from its Set and releases it.
	Close() error
}

// A Protocol is one transport implementation. A session constructs one,
// uses it for its whole lifetime and calls Cleanup at the end.
type Protocol interface {
	Name() string
	Installed() bool

	LocalAddress() (Address, error)

	// NodeAddress resolves a dotted quad or host name with an optional
	// :port suffix. The suffix is ignored if forcePort is set.
	NodeAddress(spec string, defPort int, forcePort bool) (Address, error)

	ConnectToServer(addr Address, kind Kind) (Socket, error)
	CreateListenSocket(port int, kind Kind) (Socket, error)

	// Select polls every selectable socket once and services the
	// discovery sockets. It returns the number of sockets with
	// application readiness. If block is set it keeps polling until that
	// number is positive.
	Select(block bool) int

	// StartNotify answers discovery requests on port with data.
	StartNotify(port int, data []byte) (Socket, error)
	EndNotify()

	// FindAddress returns the next discovered server not returned before.
	FindAddress(port int) (Address, string, error)
	ResetFindList()

	Cleanup()

	SetDebugLevel(DebugLevel)
	DebugLevel() DebugLevel
}

// Tunables shared by protocol implementations.
type Timeouts struct {
	// Read bounds a blocking read on a socket already known to have
	// data coming.
	Read time.Duration

	// Connect bounds ConnectToServer.
	Connect time.Duration

	// Poll is how long Select waits on the first selectable socket.
	Poll time.Duration
}

// DefaultTimeouts are used by protocols that aren't configured otherwise.
var DefaultTimeouts = Timeouts{
	Read:    5 * time.Second,
	Connect: 8 * time.Second,
	Poll:    time.Millisecond,
}

// FirstInstalled returns the first protocol reporting itself installed.
func FirstInstalled(protos ...Protocol) (Protocol, error) {
	for _, p := range protos {
		if p != nil && p.Installed() {
			return p, nil
		}
	}

	return nil, ErrNoProtocol
}
