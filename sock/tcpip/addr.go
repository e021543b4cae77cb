package tcpip

import (
	"fmt"
	"net"

	"github.com/sounddrill31/abusenet/sock"
)

// Family is the protocol tag of every Addr.
const Family = "IP"

// Addr is an IPv4 endpoint.
type Addr struct {
	IP   [4]byte
	port int
}

// NewAddr returns the Addr for ip:port. Non-IPv4 addresses yield the zero IP.
func NewAddr(ip net.IP, port int) *Addr {
	a := &Addr{port: port}
	if v4 := ip.To4(); v4 != nil {
		copy(a.IP[:], v4)
	}
	return a
}

// FromNet converts a *net.UDPAddr or *net.TCPAddr. Other types yield nil.
func FromNet(addr net.Addr) *Addr {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return NewAddr(a.IP, a.Port)
	case *net.TCPAddr:
		return NewAddr(a.IP, a.Port)
	}
	return nil
}

func (a *Addr) Protocol() string { return Family }

func (a *Addr) Equal(other sock.Address) bool {
	o, ok := other.(*Addr)
	if !ok || o == nil {
		return false
	}
	return a.IP == o.IP && a.port == o.port
}

func (a *Addr) Copy() sock.Address {
	c := *a
	return &c
}

func (a *Addr) Port() int        { return a.port }
func (a *Addr) SetPort(port int) { a.port = port }

func (a *Addr) String() string {
	return fmt.Sprintf("%d.%d.%d.%d:%d", a.IP[0], a.IP[1], a.IP[2], a.IP[3], a.port)
}

// UDPAddr returns the address in the form package net dials.
func (a *Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: a.port}
}

// TCPAddr returns the address in the form package net dials.
func (a *Addr) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IPv4(a.IP[0], a.IP[1], a.IP[2], a.IP[3]), Port: a.port}
}

func toAddr(addr sock.Address) (*Addr, error) {
	a, ok := addr.(*Addr)
	if !ok || a == nil {
		return nil, sock.ErrWrongProtocol
	}
	return a, nil
}
