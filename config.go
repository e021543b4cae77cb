package abusenet

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sounddrill31/abusenet/sock"
)

// ConfigFile is read by LoadConfig if no other path is given.
const ConfigFile = "config/abusenet.yml"

var ErrBadConfig = errors.New("bad configuration")

// Role is what a session starts as.
type Role uint8

const (
	RoleSingle Role = iota
	RoleServer
	RoleClient

	// RoleRestartSingle is set when a client session broke down and the
	// game should go on without networking.
	RoleRestartSingle
)

// StorageConfig selects the database for the ban list and the journal.
// An empty Driver disables storage.
type StorageConfig struct {
	Driver   string
	Name     string
	Host     string
	Port     uint16
	User     string
	Password string
}

// Config holds the session settings.
type Config struct {
	Role Role

	Port       int
	MinPlayers int
	MaxPlayers int

	// Name is the login of the local player, also announced as the
	// server name.
	Name string

	// Server is the host a client joins.
	Server string

	Kills int

	// Protocol names the preferred transport.
	Protocol string
	Debug    sock.DebugLevel
	Timeouts sock.Timeouts

	// ResendStall is slept after asking the server for a resend.
	ResendStall time.Duration

	// ReloadRetries bounds the attempts to load the start file on a
	// client.
	ReloadRetries int
	ReloadWait    time.Duration

	Storage StorageConfig
}

// DefaultConfig returns the settings used without a configuration file.
func DefaultConfig() *Config {
	return &Config{
		Role:          RoleSingle,
		Port:          DefaultPort,
		MinPlayers:    1,
		MaxPlayers:    8,
		Kills:         25,
		Timeouts:      sock.DefaultTimeouts,
		ResendStall:   3 * time.Millisecond,
		ReloadRetries: 500,
		ReloadWait:    10 * time.Millisecond,
	}
}

// ConfMap is a parsed YAML document.
type ConfMap map[interface{}]interface{}

// ConfKey returns the value at a colon separated path like "storage:driver".
func (c ConfMap) ConfKey(key string) interface{} {
	keys := strings.Split(key, ":")
	m := c
	for i := 0; i < len(keys)-1; i++ {
		switch next := m[keys[i]].(type) {
		case ConfMap:
			m = next
		case map[interface{}]interface{}:
			m = ConfMap(next)
		default:
			return nil
		}
	}

	return m[keys[len(keys)-1]]
}

// LoadConfig reads the YAML file at path over DefaultConfig. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	m := make(ConfMap)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadConfig, path, err)
	}

	if err := cfg.apply(m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) apply(m ConfMap) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"port", &cfg.Port},
		{"min_players", &cfg.MinPlayers},
		{"max_players", &cfg.MaxPlayers},
		{"kills", &cfg.Kills},
		{"reload_retries", &cfg.ReloadRetries},
	}
	for _, v := range ints {
		if err := confInt(m, v.key, v.dst); err != nil {
			return err
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"name", &cfg.Name},
		{"server", &cfg.Server},
		{"protocol", &cfg.Protocol},
		{"storage:driver", &cfg.Storage.Driver},
		{"storage:name", &cfg.Storage.Name},
		{"storage:host", &cfg.Storage.Host},
		{"storage:user", &cfg.Storage.User},
		{"storage:password", &cfg.Storage.Password},
	}
	for _, v := range strs {
		if err := confString(m, v.key, v.dst); err != nil {
			return err
		}
	}

	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"timeouts:read", &cfg.Timeouts.Read},
		{"timeouts:connect", &cfg.Timeouts.Connect},
		{"timeouts:poll", &cfg.Timeouts.Poll},
		{"resend_stall", &cfg.ResendStall},
		{"reload_wait", &cfg.ReloadWait},
	}
	for _, v := range durs {
		if err := confDuration(m, v.key, v.dst); err != nil {
			return err
		}
	}

	var debug, port int
	if err := confInt(m, "debug", &debug); err != nil {
		return err
	}
	if debug < int(sock.DebugNone) || debug > int(sock.DebugMinorEvent) {
		return fmt.Errorf("%w: debug must be 0..3", ErrBadConfig)
	}
	cfg.Debug = sock.DebugLevel(debug)

	port = int(cfg.Storage.Port)
	if err := confInt(m, "storage:port", &port); err != nil {
		return err
	}
	cfg.Storage.Port = uint16(port)

	switch v := m.ConfKey("role"); v {
	case nil:
	case "single":
		cfg.Role = RoleSingle
	case "server":
		cfg.Role = RoleServer
	case "client":
		cfg.Role = RoleClient
	default:
		return fmt.Errorf("%w: unknown role %v", ErrBadConfig, v)
	}

	return cfg.Validate()
}

// Validate checks the ranges of the numeric settings.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Port < 1 || cfg.Port > 0x7fff:
		return fmt.Errorf("%w: port %d out of 1..32767", ErrBadConfig, cfg.Port)
	case cfg.MinPlayers < 1 || cfg.MinPlayers > 8:
		return fmt.Errorf("%w: min_players %d out of 1..8", ErrBadConfig, cfg.MinPlayers)
	case cfg.MaxPlayers < cfg.MinPlayers || cfg.MaxPlayers > MaxJoiners:
		return fmt.Errorf("%w: max_players %d out of %d..%d", ErrBadConfig, cfg.MaxPlayers, cfg.MinPlayers, MaxJoiners)
	}
	return nil
}

func confInt(m ConfMap, key string, dst *int) error {
	switch v := m.ConfKey(key).(type) {
	case nil:
	case int:
		*dst = v
	default:
		return fmt.Errorf("%w: %s is not an integer", ErrBadConfig, key)
	}
	return nil
}

func confString(m ConfMap, key string, dst *string) error {
	switch v := m.ConfKey(key).(type) {
	case nil:
	case string:
		*dst = v
	default:
		return fmt.Errorf("%w: %s is not a string", ErrBadConfig, key)
	}
	return nil
}

// confDuration accepts "50ms" style strings and plain milliseconds.
func confDuration(m ConfMap, key string, dst *time.Duration) error {
	switch v := m.ConfKey(key).(type) {
	case nil:
	case int:
		*dst = time.Duration(v) * time.Millisecond
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBadConfig, key, err)
		}
		*dst = d
	default:
		return fmt.Errorf("%w: %s is not a duration", ErrBadConfig, key)
	}
	return nil
}
