package tcpip

// SetSweepBase makes the next discovery sweep start at a instead of the
// local subnet.
func (p *Protocol) SetSweepBase(a *Addr) { p.bcast = a }

// Find runs a discovery sweep listening for answers on listenPort.
func (p *Protocol) Find(listenPort, targetPort int) (*Addr, string, error) {
	a, name, err := p.find(listenPort, targetPort)
	if err != nil {
		return nil, "", err
	}
	return a.(*Addr), name, nil
}
