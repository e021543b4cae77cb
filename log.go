package abusenet

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// LogDir holds the log files of servers and clients.
const LogDir = "log"

var sep = []byte(`
+-----------+
| Separator |
+-----------+

`)

// Logger writes every line to stdout and to a log file.
type Logger struct {
	mu sync.Mutex
	f  *os.File
}

// NewLogger opens LogDir/name.log after moving the previous one to
// LogDir/last-name.log.
func NewLogger(name string) (*Logger, error) {
	os.Mkdir(LogDir, 0777)

	path := filepath.Join(LogDir, name+".log")
	os.Rename(path, filepath.Join(LogDir, "last-"+name+".log"))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, err
	}

	return &Logger{f: f}, nil
}

func (l *Logger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Print(string(p))

	if l.f != nil {
		l.f.Write(p)
	}

	return len(p), nil
}

// Close ends the log file with a separator.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}

	l.f.Write(sep)
	err := l.f.Close()
	l.f = nil
	return err
}

// SetupLog directs the standard logger to a Logger for role, either
// "abuseserver" or "abuseclient".
func SetupLog(role string) (*Logger, error) {
	l, err := NewLogger(role)
	if err != nil {
		return nil, err
	}

	log.SetOutput(l)
	return l, nil
}
