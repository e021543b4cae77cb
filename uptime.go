package abusenet

import (
	"math"
	"time"
)

// Uptime reports how long the session has been running, in whole seconds.
func (s *Session) Uptime() float64 {
	return math.Floor(time.Since(s.started).Seconds())
}
