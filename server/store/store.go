// Package store keeps user accounts on disk, one directory per user:
//
//	<dir>/users/<name>/shadow.dat   password
//	<dir>/users/<name>/profile.dat  profile, one field per line
//	<dir>/users/<name>/qrcode.dat   rendered QR code
package store

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	atomic_file "github.com/natefinch/atomic"
	"github.com/pkg/errors"
)

const (
	// MaxNameSize is the longest accepted user name.
	MaxNameSize = 32

	usersDir     = "users"
	passwordFile = "shadow.dat"
	profileFile  = "profile.dat"
	qrCodeFile   = "qrcode.dat"
)

var (
	// ErrNotFound is returned when a user or one of its files does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrUserExists is returned by Create for a name that is taken.
	ErrUserExists = errors.New("store: user exists")

	// ErrInvalidName is returned for names that are empty, too long or not
	// alphanumeric.
	ErrInvalidName = errors.New("store: invalid user name")
)

// Sealer encrypts file contents at rest.
type Sealer interface {
	Seal(data []byte) ([]byte, error)
	Read(sealed []byte) ([]byte, error)
}

// Config contains settings for opening a Store.
type Config struct {
	// Dir is the directory holding the users tree.
	Dir string
	// CacheSize is the number of profiles kept in memory. Zero disables the
	// cache.
	CacheSize int
	// Sealer, when set, encrypts every file written.
	Sealer Sealer
}

// Store is a directory-backed user store. It is used by a single session and
// is not safe for concurrent use.
type Store struct {
	root     string
	profiles *lru.Cache
	sealer   Sealer
}

// Open creates the users tree if needed and returns a Store over it.
func Open(config Config) (*Store, error) {
	root := filepath.Join(config.Dir, usersDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create users directory")
	}
	s := &Store{root: root, sealer: config.Sealer}
	if config.CacheSize > 0 {
		cache, err := lru.New(config.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create profile cache")
		}
		s.profiles = cache
	}
	return s, nil
}

// ValidName reports whether name can be used as a user name.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > MaxNameSize {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isAlnum(name[i]) {
			return false
		}
	}
	return true
}

// TrimName cuts raw at its first byte that is not an ASCII letter or digit.
func TrimName(raw []byte) string {
	for i, c := range raw {
		if !isAlnum(c) {
			return string(raw[:i])
		}
	}
	return string(raw)
}

func isAlnum(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func (s *Store) userDir(name string) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}
	return filepath.Join(s.root, name), nil
}

// Exists reports whether a directory exists for name.
func (s *Store) Exists(name string) bool {
	dir, err := s.userDir(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(dir)
	return err == nil
}

// Create makes the directory for a new user. The password is stored
// separately with SetPassword.
func (s *Store) Create(name string) error {
	dir, err := s.userDir(name)
	if err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return ErrUserExists
		}
		return errors.Wrapf(err, "failed to create user %s", name)
	}
	return nil
}

// SetPassword stores the password of name as given.
func (s *Store) SetPassword(name string, password []byte) error {
	return s.write(name, passwordFile, password)
}

// Password returns the stored password of name. It returns ErrNotFound when
// the user has no password file.
func (s *Store) Password(name string) ([]byte, error) {
	return s.read(name, passwordFile)
}

// Profile returns the stored profile lines of name.
func (s *Store) Profile(name string) ([]string, error) {
	if s.profiles != nil {
		if lines, ok := s.profiles.Get(name); ok {
			return lines.([]string), nil
		}
	}
	data, err := s.read(name, profileFile)
	if err != nil {
		return nil, err
	}
	lines := splitLines(data)
	if s.profiles != nil {
		s.profiles.Add(name, lines)
	}
	return lines, nil
}

// SetProfile stores fields as the profile of name, one per line.
func (s *Store) SetProfile(name string, fields []string) error {
	var buf bytes.Buffer
	for _, field := range fields {
		buf.WriteString(field)
		buf.WriteByte('\n')
	}
	if err := s.write(name, profileFile, buf.Bytes()); err != nil {
		return err
	}
	if s.profiles != nil {
		s.profiles.Add(name, splitLines(buf.Bytes()))
	}
	return nil
}

// QRCode returns the cached QR code of name.
func (s *Store) QRCode(name string) ([]byte, error) {
	return s.read(name, qrCodeFile)
}

// SetQRCode caches a rendered QR code for name.
func (s *Store) SetQRCode(name string, code []byte) error {
	return s.write(name, qrCodeFile, code)
}

func (s *Store) read(name, file string) ([]byte, error) {
	dir, err := s.userDir(name)
	if err != nil {
		return nil, err
	}
	data, err := ioutil.ReadFile(filepath.Join(dir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "failed to read %s of user %s", file, name)
	}
	if s.sealer != nil {
		data, err = s.sealer.Read(data)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to unseal %s of user %s", file, name)
		}
	}
	return data, nil
}

func (s *Store) write(name, file string, data []byte) error {
	dir, err := s.userDir(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "failed to stat user %s", name)
	}
	if s.sealer != nil {
		data, err = s.sealer.Seal(data)
		if err != nil {
			return errors.Wrapf(err, "failed to seal %s of user %s", file, name)
		}
	}
	if err := atomic_file.WriteFile(filepath.Join(dir, file), bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "failed to write %s of user %s", file, name)
	}
	return nil
}

// splitLines splits data into lines. A final newline does not start an
// extra empty line.
func splitLines(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.Split(text, "\n")
}
