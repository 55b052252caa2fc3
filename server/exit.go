package server

import (
	"github.com/pkg/errors"

	"github.com/kuar-io/kuar/server/protocol"
)

// Process exit statuses.
const (
	NormalExit        = 0
	KeyInitError      = 0x0e01
	KeyInitSizeError  = 0x0e02
	RecvError         = 0x0e03
	SendError         = 0x0e04
	InvalidMainOption = 0x0e05
	// InternalError covers failures outside the session protocol, such as an
	// unreadable config or user store.
	InternalError = 0x0e06
)

// ErrInvalidOption ends a session whose peer picked an option the main menu
// does not offer.
var ErrInvalidOption = errors.New("invalid main menu option")

// StatusFromError returns the exit status for an error that ended a
// session. A nil error is a normal exit.
func StatusFromError(err error) int {
	if err == nil {
		return NormalExit
	}
	switch protocol.KindOf(err) {
	case protocol.KindHandshake:
		return KeyInitError
	case protocol.KindHandshakeSize:
		return KeyInitSizeError
	case protocol.KindRead, protocol.KindCiphertext:
		return RecvError
	case protocol.KindWrite:
		return SendError
	case protocol.KindPadding:
		// The peer has been told; the session ends quietly.
		return NormalExit
	}
	if errors.Is(err, ErrInvalidOption) {
		return InvalidMainOption
	}
	if errors.Is(err, protocol.ErrClosed) {
		return RecvError
	}
	return InternalError
}
