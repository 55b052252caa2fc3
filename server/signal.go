package server

import (
	"os"
	"os/signal"
	"syscall"
)

// handleSignals ends the process on SIGINT or SIGTERM. A session has nothing
// to flush, so the status is a normal exit.
func (s *Server) handleSignals() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		s.logger.Infof("Received %s, exiting", sig)
		os.Exit(NormalExit)
	}()
}
