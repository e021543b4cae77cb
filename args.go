package abusenet

import (
	"fmt"
	"log"
	"strconv"

	"github.com/sounddrill31/abusenet/sock"
)

// ParseArgs applies the networking flags among args to cfg. Arguments it
// doesn't know belong to the game and are skipped. It returns false if
// networking is disabled.
func ParseArgs(args []string, cfg *Config) (bool, error) {
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-nonet":
			log.Print("networking disabled (-nonet)")
			return false, nil
		case "-port":
			x, err := argInt(args, i)
			if err != nil || x < 1 || x > 0x7fff {
				return false, fmt.Errorf("%w: bad value following -port, use 1..32767", ErrBadConfig)
			}
			cfg.Port = x
			i++
		case "-net":
			if i == len(args)-1 {
				continue
			}
			i++
			cfg.Server = args[i]
			cfg.Role = RoleClient
		case "-ndb":
			x, err := argInt(args, i)
			if err != nil || x < 1 || x > 3 {
				return false, fmt.Errorf("%w: bad value following -ndb, use 1..3", ErrBadConfig)
			}
			cfg.Debug = sock.DebugLevel(x)
			i++
		case "-server":
			cfg.Role = RoleServer
		case "-min_players":
			x, err := argInt(args, i)
			i++
			if err != nil || x < 1 || x > 8 {
				log.Print("bad value for -min_players, use 1..8")
				continue
			}
			cfg.MinPlayers = x
			if cfg.MaxPlayers < x {
				cfg.MaxPlayers = x
			}
		}
	}

	return true, nil
}

func argInt(args []string, i int) (int, error) {
	if i == len(args)-1 {
		return 0, fmt.Errorf("missing value after %s", args[i])
	}
	return strconv.Atoi(args[i+1])
}
