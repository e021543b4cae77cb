/*
Package tcpip implements sock.Protocol over TCP for Secure sockets and UDP
for Fast sockets, including LAN server discovery.
*/
package tcpip

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sounddrill31/abusenet/sock"
)

// Protocol is the TCP/IP transport. The zero value is not usable, use New.
type Protocol struct {
	set      *sock.Set
	debug    sock.DebugLevel
	timeouts sock.Timeouts

	// Discovery candidates: found but not handed out yet, and handed out.
	servers  []request
	returned []request

	notifier   sock.Socket
	notifyData []byte

	responder sock.Socket
	bcast     *Addr
}

type request struct {
	addr *Addr
	name string
}

// New returns a TCP/IP protocol using sock.DefaultTimeouts.
func New() *Protocol {
	return &Protocol{
		set:      sock.NewSet(),
		timeouts: sock.DefaultTimeouts,
	}
}

// Set returns the poll scope shared by all sockets of p.
func (p *Protocol) Set() *sock.Set { return p.set }

// SetTimeouts replaces the read, connect and poll timeouts.
func (p *Protocol) SetTimeouts(t sock.Timeouts) { p.timeouts = t }

// Timeouts returns the timeouts in use.
func (p *Protocol) Timeouts() sock.Timeouts { return p.timeouts }

func (p *Protocol) Name() string    { return "TCP/IP" }
func (p *Protocol) Installed() bool { return true }

func (p *Protocol) SetDebugLevel(l sock.DebugLevel) { p.debug = l }
func (p *Protocol) DebugLevel() sock.DebugLevel     { return p.debug }

// LocalAddress returns the first non-loopback IPv4 interface address.
func (p *Protocol) LocalAddress() (sock.Address, error) {
	a, err := p.localAddr()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (p *Protocol) localAddr() (*Addr, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sock.ErrResolve, err)
	}

	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() || ipn.IP.To4() == nil {
			continue
		}

		if p.debug >= sock.DebugMajorEvent {
			log.Print("local IP address: ", ipn.IP)
		}
		return NewAddr(ipn.IP, 0), nil
	}

	return nil, fmt.Errorf("%w: no non-loopback IPv4 interface", sock.ErrResolve)
}

// NodeAddress parses "a.b.c.d[:port]" or "host[:port][/rest]".
func (p *Protocol) NodeAddress(spec string, defPort int, forcePort bool) (sock.Address, error) {
	if i := strings.IndexByte(spec, '/'); i >= 0 {
		spec = spec[:i]
	}

	host, port := spec, defPort
	if i := strings.LastIndexByte(spec, ':'); i >= 0 {
		host = spec[:i]
		if !forcePort {
			n, err := strconv.Atoi(spec[i+1:])
			if err != nil {
				return nil, fmt.Errorf("%w: bad port in %q", sock.ErrResolve, spec)
			}
			port = n
		}
	}

	if ip := net.ParseIP(host).To4(); ip != nil {
		return NewAddr(ip, port), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("%w: unable to locate server named %q: %v", sock.ErrResolve, host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return NewAddr(v4, port), nil
		}
	}

	return nil, fmt.Errorf("%w: %q has no IPv4 address", sock.ErrResolve, host)
}

// ConnectToServer dials addr synchronously.
func (p *Protocol) ConnectToServer(addr sock.Address, kind sock.Kind) (sock.Socket, error) {
	a, err := toAddr(addr)
	if err != nil {
		return nil, err
	}

	switch kind {
	case sock.Secure:
		c, err := net.DialTimeout("tcp4", a.TCPAddr().String(), p.timeouts.Connect)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sock.ErrConnect, err)
		}
		return p.newStream(c.(*net.TCPConn)), nil
	case sock.Fast:
		c, err := net.DialUDP("udp4", nil, a.UDPAddr())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", sock.ErrConnect, err)
		}
		return p.newDatagram(c, true), nil
	}

	return nil, fmt.Errorf("%w: unknown socket kind %d", sock.ErrConnect, kind)
}

// CreateListenSocket binds port on all interfaces. Secure sockets are
// put into listening mode.
func (p *Protocol) CreateListenSocket(port int, kind sock.Kind) (sock.Socket, error) {
	switch kind {
	case sock.Secure:
		l, err := net.ListenTCP("tcp4", &net.TCPAddr{Port: port})
		if err != nil {
			return nil, fmt.Errorf("%w: port %d: %v", sock.ErrBind, port, err)
		}
		return p.newListener(l), nil
	case sock.Fast:
		c, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			return nil, fmt.Errorf("%w: port %d: %v", sock.ErrBind, port, err)
		}
		return p.newDatagram(c, false), nil
	}

	return nil, fmt.Errorf("%w: unknown socket kind %d", sock.ErrBind, kind)
}

// Select polls once, or until something is ready if block is set. Each
// discovery socket serviced here is taken off the returned count.
func (p *Protocol) Select(block bool) int {
	for {
		n := p.set.Select(p.timeouts.Poll)
		if p.handleNotification() {
			n--
		}
		if p.handleResponder() {
			n--
		}

		if !block || n > 0 {
			return n
		}
		time.Sleep(p.timeouts.Poll)
	}
}

// Cleanup releases the discovery sockets and forgets found servers.
func (p *Protocol) Cleanup() {
	if p.notifier != nil {
		p.EndNotify()
	}

	p.ResetFindList()
	p.dropResponder()
}
