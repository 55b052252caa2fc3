package protocol

import (
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kuar-io/kuar/server/logger"
)

const (
	// DefaultSendDelay is the pause after every write. It keeps consecutive
	// packets from coalescing into one read on the peer, which has no other
	// way to find packet boundaries.
	DefaultSendDelay = 10 * time.Millisecond

	paddingDiagnostic = "[-] Incorrect padding!"
)

// State is the lifecycle state of a Transport.
type State int

const (
	// StateUninitialized is a Transport that has not completed its handshake.
	StateUninitialized State = iota
	// StateKeyed is a Transport with a bound session key.
	StateKeyed
	// StateClosed is a Transport that has ended. It never leaves this state.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateKeyed:
		return "keyed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config controls Transport behavior.
type Config struct {
	// StrictPadding verifies every padding byte. When false the first
	// padding byte is left unchecked.
	StrictPadding bool

	// SendDelay is slept after every write.
	SendDelay time.Duration
}

// DefaultConfig returns lax padding and DefaultSendDelay.
func DefaultConfig() Config {
	return Config{SendDelay: DefaultSendDelay}
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger stream errors are reported to.
func WithLogger(l logger.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithSleep replaces the function used for the post-write delay.
func WithSleep(sleep func(time.Duration)) Option {
	return func(t *Transport) {
		t.sleep = sleep
	}
}

// Transport owns the session byte stream. It performs the handshake on
// construction and then exchanges encrypted packets. Every read and write is
// a single raw call on the underlying stream: there is no framing, so the
// size of a packet is whatever one read returns.
//
// A Transport is not safe for concurrent use. Any failure is fatal: the
// Transport moves to StateClosed and returns an *Error.
type Transport struct {
	r      io.Reader
	w      io.Writer
	config Config
	cipher *Cipher
	state  State
	stats  *Stats
	logger logger.Logger
	sleep  func(time.Duration)
}

// New reads the handshake seed from r, derives the session key and returns a
// keyed Transport. The seed must arrive alone in one read of exactly SeedSize
// bytes.
func New(r io.Reader, w io.Writer, config Config, opts ...Option) (*Transport, error) {
	t := &Transport{
		r:      r,
		w:      w,
		config: config,
		state:  StateUninitialized,
		stats:  newStats(),
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.NewLogger(uint32(log.InfoLevel))
	}
	if err := t.handshake(); err != nil {
		return nil, t.fail(err)
	}
	return t, nil
}

func (t *Transport) handshake() error {
	// One spare byte so an oversized seed is detected instead of split.
	buf := make([]byte, SeedSize+1)
	n, err := t.r.Read(buf)
	if n <= 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return &Error{Kind: KindHandshake, Err: errors.Wrap(err, "failed to read handshake seed")}
	}
	if n != SeedSize {
		return &Error{Kind: KindHandshakeSize, Err: errors.Errorf("got %d seed bytes, want %d", n, SeedSize)}
	}
	seed := buf[:n]
	key, err := DeriveKey(seed)
	zero(buf)
	if err != nil {
		return &Error{Kind: KindHandshakeSize, Err: err}
	}
	c, err := NewCipher(key)
	zero(key)
	if err != nil {
		return &Error{Kind: KindHandshake, Err: err}
	}
	t.cipher = c
	t.state = StateKeyed
	return nil
}

// State returns the current lifecycle state.
func (t *Transport) State() State {
	return t.state
}

// Stats returns the traffic counters of the session.
func (t *Transport) Stats() *Stats {
	return t.stats
}

// Receive reads one packet of at most len(buf) ciphertext bytes, decrypts it
// and copies the plaintext into buf. It returns the plaintext length.
func (t *Transport) Receive(buf []byte) (int, error) {
	plaintext, err := t.ReceivePacket(len(buf))
	if err != nil {
		return 0, err
	}
	return copy(buf, plaintext), nil
}

// ReceivePacket reads one packet of at most max ciphertext bytes and returns
// its plaintext.
//
// A padding failure is reported to the peer before the session ends.
func (t *Transport) ReceivePacket(max int) ([]byte, error) {
	if t.state != StateKeyed {
		return nil, ErrClosed
	}
	if max < 0 {
		max = 0
	}
	// Deliberately not io.ReadFull: one read is one packet.
	raw := make([]byte, max)
	n, err := t.r.Read(raw)
	if n <= 0 || (err != nil && err != io.EOF) {
		if err == nil {
			err = errors.New("empty read")
		}
		return nil, t.fail(&Error{Kind: KindRead, Err: err})
	}
	t.stats.received(n)

	plaintext, err := t.cipher.Open(raw[:n], t.config.StrictPadding)
	switch {
	case err == nil:
		return plaintext, nil
	case errors.Is(err, ErrBadPadding):
		if _, serr := t.Send([]byte(paddingDiagnostic)); serr != nil {
			t.logger.Debugf("Failed to report bad padding to peer: %v", serr)
		}
		return nil, t.fail(&Error{Kind: KindPadding, Err: err})
	default:
		return nil, t.fail(&Error{Kind: KindCiphertext, Err: errors.Wrapf(err, "received %d bytes", n)})
	}
}

// Send pads and encrypts p and writes the ciphertext in a single write,
// then sleeps for the configured send delay. It returns the number of
// ciphertext bytes written. Sending an empty plaintext does nothing and
// returns 0.
func (t *Transport) Send(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if t.state != StateKeyed {
		return 0, ErrClosed
	}
	ciphertext := t.cipher.Seal(p)

	start := time.Now()
	n, err := t.w.Write(ciphertext)
	took := time.Since(start)
	t.sleep(t.config.SendDelay)

	if n <= 0 || err != nil {
		if err == nil {
			err = io.ErrShortWrite
		}
		return 0, t.fail(&Error{Kind: KindWrite, Err: err})
	}
	t.stats.sent(n, took)
	return n, nil
}

// Close ends the session. It does not close the underlying stream, which the
// Transport never opened.
func (t *Transport) Close() error {
	t.state = StateClosed
	return nil
}

// fail closes the transport. Stream errors are logged at error level,
// protocol violations at warn level.
func (t *Transport) fail(err error) error {
	t.state = StateClosed
	switch KindOf(err) {
	case KindRead, KindWrite, KindHandshake:
		t.logger.Errorf("%v", err)
	default:
		t.logger.Warnf("%v", err)
	}
	return err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
