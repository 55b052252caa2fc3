package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned by every Transport call after the session has ended.
var ErrClosed = errors.New("protocol: transport closed")

// Kind classifies a fatal transport failure.
type Kind int

const (
	// KindHandshake means the handshake read returned no bytes.
	KindHandshake Kind = iota + 1
	// KindHandshakeSize means the handshake read returned a length other
	// than SeedSize.
	KindHandshakeSize
	// KindRead is a failed or empty read from the input stream.
	KindRead
	// KindWrite is a failed or empty write to the output stream.
	KindWrite
	// KindCiphertext is a received packet whose length is not a positive
	// multiple of BlockSize.
	KindCiphertext
	// KindPadding is a received packet whose padding failed validation.
	KindPadding
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindHandshakeSize:
		return "handshake size"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindCiphertext:
		return "ciphertext"
	case KindPadding:
		return "padding"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a fatal transport failure. Once a Transport returns one it is
// closed and accepts no further traffic; the caller decides whether to end
// the process.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s failed: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of a transport error, or 0 when err is not one.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return 0
}
