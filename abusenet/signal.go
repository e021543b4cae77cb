package main

import (
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// consoleUI shows status messages in the log. An interrupt cancels the
// current wait and ends the game.
type consoleUI struct {
	stop int32
}

func (u *consoleUI) Status(msg string) { log.Print(msg) }
func (u *consoleUI) CloseStatus()      {}
func (u *consoleUI) Cancelled() bool   { return atomic.LoadInt32(&u.stop) != 0 }

func (u *consoleUI) catchSignals() {
	go func() {
		signalChan := make(chan os.Signal, 1)
		signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
		<-signalChan

		log.Print("Caught SIGINT or SIGTERM, shutting down")
		atomic.StoreInt32(&u.stop, 1)
	}()
}
