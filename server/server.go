package server

import (
	"fmt"
	"io"
	"os"

	"github.com/nats-io/nuid"
	"github.com/pkg/errors"

	"github.com/kuar-io/kuar/server/encryption"
	"github.com/kuar-io/kuar/server/logger"
	"github.com/kuar-io/kuar/server/protocol"
	"github.com/kuar-io/kuar/server/store"
)

// Server runs a single kuar session over a byte stream, typically the
// stdin/stdout pair an inetd-style launcher hands to the process.
type Server struct {
	config *Config
	logger logger.Logger
}

// New creates a Server with the given settings.
func New(config *Config) *Server {
	l := logger.NewLogger(config.LogLevel)
	if config.LogSilent {
		l.Silent(true)
	}
	return &Server{config: config, logger: l}
}

// Serve runs a session over stdin and stdout and returns the process exit
// status. SIGINT and SIGTERM end the process.
func (s *Server) Serve() int {
	s.handleSignals()
	return s.Run(os.Stdin, os.Stdout)
}

// Run performs the handshake on in, serves the menus until the session ends
// and returns the exit status.
func (s *Server) Run(in io.Reader, out io.Writer) int {
	s.logger.Prefix(fmt.Sprintf("[session %s] ", nuid.Next()))
	s.logger.Debugf("Starting kuar session, version %s", Version)
	s.logger.Debugf("Settings: %s", s.config)

	st, err := s.openStore()
	if err != nil {
		s.logger.Errorf("Failed to open user store: %v", err)
		return InternalError
	}

	transport, err := protocol.New(in, out, s.config.Protocol.Transport(), protocol.WithLogger(s.logger))
	if err != nil {
		return StatusFromError(err)
	}
	defer func() {
		transport.Close()
		s.logger.Infof("Session ended %s", transport.Stats())
	}()

	err = newUserManager(transport, st, s.logger).MainMenu()
	status := StatusFromError(err)
	if status == InternalError {
		s.logger.Errorf("Session failed: %v", err)
	} else if err != nil {
		s.logger.Debugf("Session ended: %v", err)
	}
	return status
}

func (s *Server) openStore() (*store.Store, error) {
	config := store.Config{
		Dir:       s.config.DataDir,
		CacheSize: s.config.Store.CacheSize,
	}
	if s.config.Store.Encryption {
		handler, err := encryption.NewLocalEncryptionHandler()
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize at-rest encryption")
		}
		config.Sealer = handler
	}
	return store.Open(config)
}
