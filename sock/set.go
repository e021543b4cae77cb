package sock

import "time"

// MinProbe is the wait given to every probe after the first one in a
// Select, small enough to only pick up what the OS already has.
const MinProbe = time.Microsecond

// Readiness is what a single probe found on a socket.
type Readiness struct {
	Read  bool
	Write bool
	Err   bool
}

// Any reports whether anything is ready.
func (r Readiness) Any() bool { return r.Read || r.Write || r.Err }

// A Prober checks its socket for pending input, waiting at most wait.
// Anything it receives must be kept and handed out by the next read.
type Prober interface {
	Probe(wait time.Duration) Readiness
	Writable() bool
}

// Set is the poll scope of one protocol.
type Set struct {
	handles []*Handle
}

// NewSet returns an empty Set.
func NewSet() *Set { return &Set{} }

// A Handle is the membership of one socket in a Set. Socket
// implementations embed it to get the selectable and readiness methods.
type Handle struct {
	set   *Set
	p     Prober
	read  bool
	write bool
	ready Readiness
}

// Add registers p. The new Handle is neither read- nor write-selectable.
func (s *Set) Add(p Prober) *Handle {
	h := &Handle{set: s, p: p}
	s.handles = append(s.handles, h)
	return h
}

// Len returns the number of registered sockets.
func (s *Set) Len() int { return len(s.handles) }

// Selectable returns the number of sockets the next Select will look at.
func (s *Set) Selectable() int {
	n := 0
	for _, h := range s.handles {
		if h.read || h.write {
			n++
		}
	}
	return n
}

// Select probes every selectable socket and returns how many of them
// are ready in any way.
func (s *Set) Select(wait time.Duration) int {
	n := 0
	first := true
	for _, h := range s.handles {
		h.ready = Readiness{}
		if h.read {
			w := MinProbe
			if first && wait > MinProbe {
				w = wait
			}
			first = false

			r := h.p.Probe(w)
			h.ready.Read = r.Read
			h.ready.Err = r.Err
		}
		if h.write {
			h.ready.Write = h.p.Writable()
		}

		if h.ready.Any() {
			n++
		}
	}

	return n
}

func (s *Set) remove(h *Handle) {
	for i, v := range s.handles {
		if v == h {
			s.handles = append(s.handles[:i], s.handles[i+1:]...)
			return
		}
	}
}

func (h *Handle) ReadSelectable()   { h.read = true }
func (h *Handle) ReadUnselectable() { h.read = false; h.ready.Read = false; h.ready.Err = false }
func (h *Handle) WriteSelectable()  { h.write = true }
func (h *Handle) WriteUnselectable() {
	h.write = false
	h.ready.Write = false
}

// IsReadSelectable reports whether the next Select will probe for input.
func (h *Handle) IsReadSelectable() bool { return h.read }

// ReadyToRead reports whether the last Select found input.
func (h *Handle) ReadyToRead() bool { return h.ready.Read }

// Error reports whether the last Select found the socket broken.
func (h *Handle) Error() bool { return h.ready.Err }

// ClearRead forgets the read readiness once the pending input has been
// consumed.
func (h *Handle) ClearRead() { h.ready.Read = false }

// Remove takes the socket out of its Set. It is safe to call twice.
func (h *Handle) Remove() {
	if h.set == nil {
		return
	}
	h.set.remove(h)
	h.set = nil
	h.read, h.write = false, false
	h.ready = Readiness{}
}
