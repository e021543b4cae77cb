package tcpip

import (
	"log"

	"github.com/sounddrill31/abusenet/sock"
)

const (
	// NotifySignature is broadcast by clients looking for servers.
	NotifySignature = "I wanna play ABUSE!"

	// NotifyResponse starts every answer to NotifySignature. The server
	// name follows after a '.'.
	NotifyResponse = "Yes!"

	// MaxNameLen bounds server names taken from discovery answers.
	MaxNameLen = 255

	discoveryRounds = 5
	discoveryBuf    = 512
)

// StartNotify makes p answer discovery requests arriving on port with
// NotifyResponse + "." + data. A previous notifier is ended first.
func (p *Protocol) StartNotify(port int, data []byte) (sock.Socket, error) {
	p.dropResponder()
	p.EndNotify()

	p.notifyData = append(append([]byte(NotifyResponse), '.'), data...)

	s, err := p.CreateListenSocket(port, sock.Fast)
	if err != nil {
		log.Print("couldn't start notifier: ", err)
		return nil, err
	}
	s.ReadSelectable()
	s.WriteUnselectable()

	p.notifier = s
	return s, nil
}

// EndNotify stops answering discovery requests.
func (p *Protocol) EndNotify() {
	if p.notifier != nil {
		p.notifier.Close()
	}
	p.notifier = nil
	p.notifyData = nil
}

func (p *Protocol) dropResponder() {
	if p.responder != nil {
		p.responder.Close()
	}
	p.responder = nil
	p.bcast = nil
}

func (p *Protocol) handleNotification() bool {
	if p.notifier == nil {
		return false
	}

	if p.notifier.ReadyToRead() {
		buf := make([]byte, discoveryBuf)
		n, from, err := p.notifier.ReadFrom(buf)
		if err == nil && from != nil && string(buf[:n]) == NotifySignature {
			if _, err := p.notifier.WriteTo(p.notifyData, from); err != nil {
				log.Print("can't answer discovery request from ", from, ": ", err)
			}
		}
		return true
	}

	if p.notifier.Error() {
		log.Print("error on notification socket")
		return true
	}

	return false
}

func (p *Protocol) handleResponder() bool {
	if p.responder == nil {
		return false
	}

	if p.responder.ReadyToRead() {
		buf := make([]byte, discoveryBuf)
		n, from, err := p.responder.ReadFrom(buf)
		if err == nil && from != nil && n >= len(NotifyResponse) &&
			string(buf[:len(NotifyResponse)]) == NotifyResponse {
			a := from.(*Addr)
			if !p.known(a) {
				var name string
				if n > len(NotifyResponse)+1 {
					name = string(buf[len(NotifyResponse)+1 : n])
				}
				if len(name) > MaxNameLen {
					name = name[:MaxNameLen]
				}

				p.servers = append(p.servers, request{addr: a, name: name})
				if p.debug >= sock.DebugImportantEvent {
					log.Printf("found server %q at %s", name, a)
				}
			}
		}
		return true
	}

	if p.responder.Error() {
		log.Print("error on responder socket")
		return true
	}

	return false
}

// known reports whether a has been found already, handed out or not.
func (p *Protocol) known(a *Addr) bool {
	for _, r := range p.servers {
		if r.addr.Equal(a) {
			return true
		}
	}
	for _, r := range p.returned {
		if r.addr.Equal(a) {
			return true
		}
	}
	return false
}

// FindAddress sweeps the local subnet for servers answering on port and
// returns the next one not returned before, along with its name.
func (p *Protocol) FindAddress(port int) (sock.Address, string, error) {
	return p.find(port, port)
}

// find listens for answers on listenPort and sends requests to
// targetPort.
func (p *Protocol) find(listenPort, targetPort int) (sock.Address, string, error) {
	p.EndNotify()

	if p.responder == nil {
		s, err := p.CreateListenSocket(listenPort, sock.Fast)
		if err != nil {
			log.Print("couldn't start responder: ", err)
		} else {
			s.ReadSelectable()
			s.WriteUnselectable()
			p.responder = s
		}
	}

	if p.responder != nil && p.bcast == nil {
		if local, err := p.localAddr(); err == nil {
			local.SetPort(targetPort)
			local.IP[3] = 0
			p.bcast = local
		} else {
			log.Print("can't compute broadcast address: ", err)
		}
	}

	if p.responder != nil && p.bcast != nil {
		for i := 0; i < discoveryRounds; i++ {
			if !p.known(p.bcast) {
				if _, err := p.responder.WriteTo([]byte(NotifySignature), p.bcast); err != nil && p.debug >= sock.DebugMinorEvent {
					log.Print("discovery request to ", p.bcast, " failed: ", err)
				}
				p.Select(false)
			}

			p.bcast.IP[3]++
			p.Select(false)

			if len(p.servers) > 0 {
				break
			}
		}
	}

	if len(p.servers) == 0 {
		return nil, "", sock.ErrNoServers
	}

	r := p.servers[0]
	p.servers = p.servers[1:]
	p.returned = append(p.returned, r)

	return r.addr.Copy(), r.name, nil
}

// ResetFindList forgets every discovered server.
func (p *Protocol) ResetFindList() {
	p.servers = nil
	p.returned = nil
}
