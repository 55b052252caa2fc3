package protocol

import (
	"bytes"
	"crypto/aes"

	"github.com/pkg/errors"
)

// BlockSize is the cipher block size. Every ciphertext on the wire is a
// positive multiple of it.
const BlockSize = aes.BlockSize

// ErrBadPadding is returned when a decrypted packet does not end in valid
// padding.
var ErrBadPadding = errors.New("protocol: incorrect padding")

// Pad appends 1 to BlockSize bytes, each holding the pad length. A plaintext
// that is already block aligned gets a full extra block.
func Pad(p []byte) []byte {
	n := BlockSize - len(p)%BlockSize
	out := bytes.Repeat([]byte{byte(n)}, len(p)+n)
	copy(out, p)
	return out
}

// Unpad strips the padding added by Pad. The pad length is range checked
// before it is used.
//
// With strict set every padding byte is verified. Without it the scan runs
// from the last byte down to but not including the first padding byte, so
// that byte is never inspected. Deployed peers depend on the lax scan.
func Unpad(p []byte, strict bool) ([]byte, error) {
	if len(p) == 0 {
		return nil, ErrBadPadding
	}
	n := int(p[len(p)-1])
	if n < 1 || n > BlockSize || n > len(p) {
		return nil, ErrBadPadding
	}
	end := len(p) - n
	lower := end
	if !strict {
		lower++
	}
	for i := len(p) - 1; i >= lower; i-- {
		if p[i] != byte(n) {
			return nil, ErrBadPadding
		}
	}
	return p[:end], nil
}
