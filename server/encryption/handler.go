package encryption

import "github.com/pkg/errors"

// ErrMalformed is returned by Read when the sealed data is too short to hold
// its wrapped key or nonce.
var ErrMalformed = errors.New("encryption: malformed sealed data")

// Handler seals user store files at rest and reads them back.
type Handler interface {
	// Seal encrypts data and returns it prefixed with its wrapped data key.
	Seal(data []byte) ([]byte, error)
	// Read reverses Seal.
	Read(sealed []byte) ([]byte, error)
}
