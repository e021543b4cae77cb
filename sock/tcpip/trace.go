package tcpip

import (
	"log"
	"strings"

	"github.com/sounddrill31/abusenet/sock"
)

// Trace logs traffic at the most verbose debug level: the printable
// rendering of b followed by its hex dump.
func (p *Protocol) Trace(op string, b []byte) {
	if p.debug < sock.DebugMinorEvent || len(b) == 0 {
		return
	}

	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c < 0x7f {
			sb.WriteByte(c)
		} else {
			sb.WriteByte('~')
		}
	}

	log.Printf("%s%d - %s : % x", op, len(b), sb.String(), b)
}
