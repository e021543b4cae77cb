/*
Abusenet is a demo of the lockstep core: peers on a LAN add numbers to a
shared counter in sync.

	abusenet -server -min_players 2
	abusenet -net 192.168.0.10
*/
package main

import (
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/sounddrill31/abusenet"
	"github.com/sounddrill31/abusenet/sock/mtnet"
	"github.com/sounddrill31/abusenet/sock/tcpip"
)

const frame = 65 * time.Millisecond

func main() {
	cfg, err := abusenet.LoadConfig(abusenet.ConfigFile)
	if err != nil {
		log.Fatal(err)
	}

	netOn, err := abusenet.ParseArgs(os.Args[1:], cfg)
	if err != nil {
		log.Fatal(err)
	}

	logName := "abuseserver"
	if cfg.Role == abusenet.RoleClient {
		logName = "abuseclient"
	}
	l, err := abusenet.SetupLog(logName)
	if err != nil {
		log.Fatal(err)
	}
	defer l.Close()

	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}

	ui := &consoleUI{}
	ui.catchSignals()

	game := newCounterGame(0, cfg.Name)
	if !netOn {
		cfg.Role = abusenet.RoleSingle
	}

	s, err := abusenet.New(cfg, game, ui, tcpip.New(), mtnet.New())
	if err != nil {
		log.Fatal(err)
	}

	db, err := abusenet.OpenStore(cfg.Storage)
	if err != nil {
		log.Print("storage disabled: ", err)
	}
	if db != nil {
		defer db.Close()
		s.SetStore(db)
	}

	switch cfg.Role {
	case abusenet.RoleServer:
		if err := s.BecomeServer(cfg.Name); err != nil {
			log.Fatal(err)
		}
		s.WaitMinPlayers()
	case abusenet.RoleClient:
		id, err := s.RequestServerEntry()
		if err != nil {
			log.Fatal(err)
		}
		game.self = id

		if err := s.Reload(); err != nil {
			log.Fatal(err)
		}
		log.Print("entered ", game)
	}

	run(s, game, ui)

	s.Quit()
	s.Close()

	log.Printf("%s after %.0f seconds", game, s.Uptime())
}

func run(s *abusenet.Session, game *counterGame, ui *consoleUI) {
	for !ui.Cancelled() {
		next := time.Now().Add(frame)

		s.AddInput(game.input(uint8(rand.Intn(10))))
		if isServer(s) && len(s.Joins()) > 0 {
			s.AddInput([]byte{opReload})
		}
		s.SendLocalRequest()

		reload, err := game.apply(s.GetInputs())
		if err != nil {
			log.Print(err)
		}
		if reload {
			if err := s.Reload(); err != nil {
				log.Print(err)
			}
		}
		if game.Tick()%50 == 0 {
			log.Print(game)
		}

		for time.Now().Before(next) {
			s.Service()
			time.Sleep(time.Millisecond)
		}
	}
}

func isServer(s *abusenet.Session) bool {
	_, ok := s.Handler().(*abusenet.Server)
	return ok
}
