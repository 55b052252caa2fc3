package protocol

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// ErrBlockSize is returned when a buffer handed to the cipher is empty or
// not a multiple of BlockSize.
var ErrBlockSize = errors.New("protocol: data is not a positive multiple of the block size")

// Cipher is AES-256 in ECB mode: every block is transformed on its own with
// no IV or chaining, so equal plaintext blocks give equal ciphertext blocks.
// It holds no state besides the key schedule.
type Cipher struct {
	block cipher.Block
}

// NewCipher returns a Cipher bound to a KeySize key.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, errors.Errorf("protocol: key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "protocol: failed to create block cipher")
	}
	return &Cipher{block: block}, nil
}

// Encrypt encrypts src block by block into a new buffer.
func (c *Cipher) Encrypt(src []byte) ([]byte, error) {
	if err := checkBlocks(src); err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += BlockSize {
		c.block.Encrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return dst, nil
}

// Decrypt decrypts src block by block into a new buffer. The result still
// carries its padding.
func (c *Cipher) Decrypt(src []byte) ([]byte, error) {
	if err := checkBlocks(src); err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	for i := 0; i < len(src); i += BlockSize {
		c.block.Decrypt(dst[i:i+BlockSize], src[i:i+BlockSize])
	}
	return dst, nil
}

// Seal pads and encrypts a plaintext.
func (c *Cipher) Seal(plaintext []byte) []byte {
	// Pad output is always block aligned, so Encrypt cannot fail here.
	ciphertext, _ := c.Encrypt(Pad(plaintext))
	return ciphertext
}

// Open decrypts a ciphertext and removes its padding.
func (c *Cipher) Open(ciphertext []byte, strict bool) ([]byte, error) {
	padded, err := c.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	return Unpad(padded, strict)
}

func checkBlocks(p []byte) error {
	if len(p) == 0 || len(p)%BlockSize != 0 {
		return ErrBlockSize
	}
	return nil
}
