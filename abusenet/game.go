package main

import (
	"errors"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"sort"

	"gopkg.in/yaml.v2"

	"github.com/sounddrill31/abusenet"
)

// Opcodes of the merged tick payload. opDelete is written by the server
// when a client leaves.
const (
	opDelete = abusenet.SCmdDeleteClient
	opAdd    = 1
	opReload = 2
)

var errBadInput = errors.New("malformed tick input")

// level is what a counter game saves for joining clients.
type level struct {
	Tick    int            `yaml:"tick"`
	Total   int            `yaml:"total"`
	Players map[int]string `yaml:"players"`
}

// counterGame is the simulation the demo synchronizes: every peer adds a
// number to a shared total each tick.
type counterGame struct {
	level
	self int
}

func newCounterGame(self int, name string) *counterGame {
	return &counterGame{
		level: level{Players: map[int]string{self: name}},
		self:  self,
	}
}

func (g *counterGame) Tick() int { return g.level.Tick }

func (g *counterGame) SaveLevel(name string) error {
	data, err := yaml.Marshal(&g.level)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(name, data, 0666)
}

func (g *counterGame) LoadLevel(name string) error {
	data, err := ioutil.ReadFile(name)
	if err != nil {
		return err
	}

	var l level
	if err := yaml.Unmarshal(data, &l); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if l.Players == nil {
		l.Players = make(map[int]string)
	}

	g.level = l
	return nil
}

func (g *counterGame) RemoveLevel(name string) error { return os.Remove(name) }

func (g *counterGame) AddPlayers(joins []abusenet.Join) {
	for _, j := range joins {
		log.Printf("spawning %s as player %d", j.Name, j.ID)
		g.Players[j.ID] = j.Name
	}
}

func (g *counterGame) ResetKeymap() {}

func (g *counterGame) RestartSingle() {
	log.Print("server lost, continuing alone")
	g.Players = map[int]string{0: g.Players[g.self]}
	g.self = 0
}

// input encodes the local move for a tick.
func (g *counterGame) input(v uint8) []byte {
	return []byte{opAdd, uint8(g.self), v}
}

// apply advances the simulation by one merged tick. It reports whether
// the tick asks every peer to reload.
func (g *counterGame) apply(b []byte) (bool, error) {
	reload := false
	for len(b) > 0 {
		switch b[0] {
		case opDelete:
			if len(b) < 2 {
				return reload, errBadInput
			}
			log.Printf("%s left", g.Players[int(b[1])])
			delete(g.Players, int(b[1]))
			b = b[2:]
		case opAdd:
			if len(b) < 3 {
				return reload, errBadInput
			}
			g.Total += int(b[2])
			b = b[3:]
		case opReload:
			reload = true
			b = b[1:]
		default:
			return reload, fmt.Errorf("%w: opcode %d", errBadInput, b[0])
		}
	}

	g.level.Tick++
	return reload, nil
}

func (g *counterGame) String() string {
	ids := make([]int, 0, len(g.Players))
	for id := range g.Players {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	return fmt.Sprintf("tick %d total %d players %v", g.level.Tick, g.Total, ids)
}
