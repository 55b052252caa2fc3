// Package keyexchange is the key-agreement helper offered alongside the
// session protocol: X25519 key pairs, a shared session key and AES-256-ECB
// message encryption with PKCS#7 padding. All values cross the boundary as
// opaque byte slices.
package keyexchange

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/kuar-io/kuar/server/protocol"
)

const (
	// PairSize is the length of an encoded key pair: the private scalar
	// followed by the public point.
	PairSize = 2 * curve25519.ScalarSize

	// PublicKeySize is the length of a public key.
	PublicKeySize = curve25519.PointSize
)

var (
	// ErrInvalidPair is returned for a key pair that is not PairSize bytes.
	ErrInvalidPair = errors.New("keyexchange: invalid key pair")

	// ErrInvalidPublicKey is returned for a peer public key that is not
	// PublicKeySize bytes or is a low-order point.
	ErrInvalidPublicKey = errors.New("keyexchange: invalid public key")

	// ErrInvalidKey is returned for a session key that is not
	// protocol.KeySize bytes.
	ErrInvalidKey = errors.New("keyexchange: invalid session key")

	// ErrDecrypt is returned when a ciphertext is malformed or its padding
	// does not verify.
	ErrDecrypt = errors.New("keyexchange: decryption failed")
)

var hkdfInfo = []byte("kuar-keyexchange")

// Exchanger generates key pairs, agrees on session keys and encrypts
// messages under them.
type Exchanger interface {
	GenerateKeyPair() ([]byte, error)
	SharedSecret(pair, peerPublicKey []byte) ([]byte, error)
	Encrypt(key, message []byte) ([]byte, error)
	Decrypt(key, ciphertext []byte) ([]byte, error)
}

// Local is an in-process Exchanger.
type Local struct {
	rand io.Reader
}

var _ Exchanger = (*Local)(nil)

// NewLocal returns a Local reading randomness from crypto/rand.
func NewLocal() *Local {
	return &Local{rand: rand.Reader}
}

// GenerateKeyPair returns a new encoded X25519 key pair.
func (l *Local) GenerateKeyPair() ([]byte, error) {
	pair := make([]byte, PairSize)
	priv := pair[:curve25519.ScalarSize]
	if _, err := io.ReadFull(l.rand, priv); err != nil {
		return nil, errors.Wrap(err, "failed to generate private key")
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compute public key")
	}
	copy(pair[curve25519.ScalarSize:], pub)
	return pair, nil
}

// PublicKey returns the public half of an encoded key pair.
func PublicKey(pair []byte) ([]byte, error) {
	if len(pair) != PairSize {
		return nil, ErrInvalidPair
	}
	return append([]byte(nil), pair[curve25519.ScalarSize:]...), nil
}

// SharedSecret combines the private half of pair with the peer's public key
// and derives a protocol.KeySize session key from the result with
// HKDF-SHA256. Both sides of an exchange derive the same key.
func (l *Local) SharedSecret(pair, peerPublicKey []byte) ([]byte, error) {
	if len(pair) != PairSize {
		return nil, ErrInvalidPair
	}
	if len(peerPublicKey) != PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	shared, err := curve25519.X25519(pair[:curve25519.ScalarSize], peerPublicKey)
	if err != nil {
		// X25519 rejects low-order points, which yield an all-zero secret.
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}

	key := make([]byte, protocol.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, hkdfInfo), key); err != nil {
		return nil, errors.Wrap(err, "failed to derive session key")
	}
	return key, nil
}

// Encrypt pads message and encrypts it under key with AES-256-ECB.
func (l *Local) Encrypt(key, message []byte) ([]byte, error) {
	c, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	return c.Seal(message), nil
}

// Decrypt reverses Encrypt. Every padding byte is verified.
func (l *Local) Decrypt(key, ciphertext []byte) ([]byte, error) {
	c, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	message, err := c.Open(ciphertext, true)
	if err != nil {
		return nil, errors.Wrap(ErrDecrypt, err.Error())
	}
	return message, nil
}

func newCipher(key []byte) (*protocol.Cipher, error) {
	if len(key) != protocol.KeySize {
		return nil, ErrInvalidKey
	}
	return protocol.NewCipher(key)
}
