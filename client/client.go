// Package client implements the peer side of the kuar session protocol.
package client

import (
	"crypto/rand"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/kuar-io/kuar/server/protocol"
)

// DefaultMaxPacket is the read size used by Receive when max is not positive.
const DefaultMaxPacket = 64 * 1024

// Option configures a Client.
type Option func(*Client)

// WithSendDelay sets the pause after every write, which keeps consecutive
// packets apart on streams that may coalesce them.
func WithSendDelay(d time.Duration) Option {
	return func(c *Client) {
		c.sendDelay = d
	}
}

// Client is one session with a kuar server. It is not safe for concurrent
// use.
type Client struct {
	rw        io.ReadWriter
	key       []byte
	cipher    *protocol.Cipher
	sendDelay time.Duration
}

// Dial starts a session over rw by sending seed as the handshake. A nil seed
// is replaced by a random one.
func Dial(rw io.ReadWriter, seed []byte, opts ...Option) (*Client, error) {
	if seed == nil {
		seed = make([]byte, protocol.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, errors.Wrap(err, "failed to generate seed")
		}
	}
	key, err := protocol.DeriveKey(seed)
	if err != nil {
		return nil, err
	}
	c, err := protocol.NewCipher(key)
	if err != nil {
		return nil, err
	}
	cl := &Client{rw: rw, key: key, cipher: c}
	for _, opt := range opts {
		opt(cl)
	}
	if err := cl.write(seed); err != nil {
		return nil, errors.Wrap(err, "failed to send seed")
	}
	return cl, nil
}

// Key returns the session key.
func (c *Client) Key() []byte {
	return c.key
}

// Send encrypts p and writes it as one packet.
func (c *Client) Send(p []byte) error {
	return c.write(c.cipher.Seal(p))
}

// SendString is Send for text.
func (c *Client) SendString(s string) error {
	return c.Send([]byte(s))
}

// SendRaw writes ciphertext as is.
func (c *Client) SendRaw(ciphertext []byte) error {
	return c.write(ciphertext)
}

func (c *Client) write(p []byte) error {
	if _, err := c.rw.Write(p); err != nil {
		return err
	}
	if c.sendDelay > 0 {
		time.Sleep(c.sendDelay)
	}
	return nil
}

// Receive reads one packet of at most max bytes and decrypts it. When the
// padding does not verify the decrypted packet is returned whole.
func (c *Client) Receive(max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxPacket
	}
	buf := make([]byte, max)
	n, err := c.rw.Read(buf)
	if n <= 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return nil, err
	}
	plaintext, err := c.cipher.Decrypt(buf[:n])
	if err != nil {
		return nil, err
	}
	if unpadded, err := protocol.Unpad(plaintext, false); err == nil {
		return unpadded, nil
	}
	return plaintext, nil
}

// ReceiveString is Receive for text.
func (c *Client) ReceiveString(max int) (string, error) {
	p, err := c.Receive(max)
	return string(p), err
}
