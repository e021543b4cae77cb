/*
Package mtnet carries Secure sockets over the Minetest reliable UDP
protocol instead of TCP. Fast sockets, addressing and discovery are those
of package tcpip.
*/
package mtnet

import (
	"fmt"
	"log"
	"net"
	"time"

	"github.com/anon55555/mt/rudp"
	"github.com/sounddrill31/abusenet/sock"
	"github.com/sounddrill31/abusenet/sock/tcpip"
)

// Protocol is a tcpip.Protocol whose Secure sockets are rudp peers.
type Protocol struct {
	*tcpip.Protocol
}

// New returns an mtnet protocol using sock.DefaultTimeouts.
func New() *Protocol {
	return &Protocol{Protocol: tcpip.New()}
}

func (p *Protocol) Name() string { return "Minetest RUDP" }

// ConnectToServer connects a Secure socket by sending an empty packet
// and waiting for its ack.
func (p *Protocol) ConnectToServer(addr sock.Address, kind sock.Kind) (sock.Socket, error) {
	if kind != sock.Secure {
		return p.Protocol.ConnectToServer(addr, kind)
	}

	a, ok := addr.(*tcpip.Addr)
	if !ok || a == nil {
		return nil, sock.ErrWrongProtocol
	}

	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sock.ErrConnect, err)
	}

	rp := rudp.Connect(pc, a.UDPAddr())

	ack, err := rp.Send(rudp.Pkt{Data: []byte{}})
	if err != nil {
		rp.Close()
		pc.Close()
		return nil, fmt.Errorf("%w: %v", sock.ErrConnect, err)
	}

	select {
	case <-ack:
	case <-rp.Disco():
		pc.Close()
		return nil, fmt.Errorf("%w: %s disconnected", sock.ErrConnect, a)
	case <-time.After(p.Timeouts().Connect):
		rp.Close()
		pc.Close()
		return nil, fmt.Errorf("%w: server at %s is unreachable", sock.ErrConnect, a)
	}

	if p.DebugLevel() >= sock.DebugImportantEvent {
		log.Print("connected to ", a)
	}

	s := p.newPeer(rp)
	s.ownConn = true
	return s, nil
}

// CreateListenSocket binds port. Secure sockets accept rudp peers.
func (p *Protocol) CreateListenSocket(port int, kind sock.Kind) (sock.Socket, error) {
	if kind != sock.Secure {
		return p.Protocol.CreateListenSocket(port, kind)
	}

	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("%w: port %d: %v", sock.ErrBind, port, err)
	}

	return p.newListener(pc), nil
}
