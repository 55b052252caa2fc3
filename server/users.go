package server

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/kuar-io/kuar/server/logger"
	"github.com/kuar-io/kuar/server/qr"
	"github.com/kuar-io/kuar/server/store"
)

const (
	usernameMaxSize   = 32
	passwordMaxSize   = 32
	optionPacketSize  = 16
	profilePacketSize = 512

	profileFields = 6
)

const (
	mainMenu           = "1. Login\n2. Register\n3. Exit\n> "
	userMenu           = "1. View Profile\n2. Update Profile\n3. Get QR-code\n4. Exit\n> "
	usernamePrompt     = "[?] Username: "
	passwordPrompt     = "[?] Password: "
	noSuchUserMsg      = "[-] No such user!"
	wrongPasswordMsg   = "[-] Incorrect password!"
	userExistsMsg      = "[-] User exist!"
	invalidUsernameMsg = "[-] Invalid username!"
	updateProfileMsg   = "[?] Send new profile info in format <Name-Surname>|<Birth-date>|<City>|<Vaccination-date>|<Vaccine-name>|<Additional-info>\n"
	formatErrorMsg     = "[-] Format error!\n"
	noProfileMsg       = "[-] Profile not exist!\n"
	profileFormatMsg   = "[-] Profile format error!\n[!] Please update profile!\n"
	qrErrorMsg         = "[-] QR-code error!\n"
	viewProfileFormat  = "Name: %s\nBirth-date: %s\nCity: %s\nVaccination-date: %s\nVaccine-name: %s\nInfo: %s\n"
)

// Conn is the encrypted packet stream a session talks over.
type Conn interface {
	Send(p []byte) (int, error)
	Receive(buf []byte) (int, error)
}

// userManager drives the menus of one session. It remembers the user that
// last logged in or registered.
type userManager struct {
	conn     Conn
	store    *store.Store
	logger   logger.Logger
	username string
}

func newUserManager(conn Conn, st *store.Store, l logger.Logger) *userManager {
	return &userManager{conn: conn, store: st, logger: l}
}

func (m *userManager) send(msg string) error {
	return m.sendBytes([]byte(msg))
}

func (m *userManager) sendBytes(p []byte) error {
	_, err := m.conn.Send(p)
	return err
}

// receive reads one packet of at most max ciphertext bytes.
func (m *userManager) receive(max int) ([]byte, error) {
	buf := make([]byte, max)
	n, err := m.conn.Receive(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func option(packet []byte) byte {
	if len(packet) == 0 {
		return 0
	}
	return packet[0]
}

// MainMenu serves the main menu until the peer exits. It returns nil on a
// normal exit, ErrInvalidOption for an unknown option and any fatal error
// otherwise.
func (m *userManager) MainMenu() error {
	for {
		if err := m.send(mainMenu); err != nil {
			return err
		}
		packet, err := m.receive(optionPacketSize)
		if err != nil {
			return err
		}

		var loggedIn bool
		switch option(packet) {
		case '1':
			loggedIn, err = m.Login()
		case '2':
			loggedIn, err = m.Register()
		case '3':
			return nil
		default:
			return errors.Wrapf(ErrInvalidOption, "option %q", packet)
		}
		if err != nil {
			return err
		}
		if loggedIn {
			if err := m.UserMenu(); err != nil {
				return err
			}
		}
	}
}

// Login asks for credentials and reports whether they match a stored user.
func (m *userManager) Login() (bool, error) {
	if err := m.send(usernamePrompt); err != nil {
		return false, err
	}
	raw, err := m.receive(usernameMaxSize)
	if err != nil {
		return false, err
	}
	name := store.TrimName(raw)

	stored, err := m.store.Password(name)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidName) {
		return false, m.send(noSuchUserMsg)
	}
	if err != nil {
		return false, err
	}

	if err := m.send(passwordPrompt); err != nil {
		return false, err
	}
	password, err := m.receive(passwordMaxSize)
	if err != nil {
		return false, err
	}
	if subtle.ConstantTimeCompare(stored, password) != 1 {
		m.logger.Debugf("Failed login for %s", name)
		return false, m.send(wrongPasswordMsg)
	}

	m.username = name
	m.logger.Infof("User %s logged in", name)
	return true, nil
}

// Register creates a user from the name and password the peer sends and
// logs it in.
func (m *userManager) Register() (bool, error) {
	if err := m.send(usernamePrompt); err != nil {
		return false, err
	}
	raw, err := m.receive(usernameMaxSize)
	if err != nil {
		return false, err
	}
	name := store.TrimName(raw)
	if !store.ValidName(name) {
		return false, m.send(invalidUsernameMsg)
	}

	if err := m.store.Create(name); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return false, m.send(userExistsMsg)
		}
		return false, err
	}

	if err := m.send(passwordPrompt); err != nil {
		return false, err
	}
	password, err := m.receive(passwordMaxSize)
	if err != nil {
		return false, err
	}
	if err := m.store.SetPassword(name, password); err != nil {
		return false, err
	}

	m.username = name
	m.logger.Infof("Registered user %s", name)
	return true, nil
}

// UserMenu serves the menu of a logged in user until the peer leaves it.
func (m *userManager) UserMenu() error {
	for {
		if err := m.send(userMenu); err != nil {
			return err
		}
		packet, err := m.receive(optionPacketSize)
		if err != nil {
			return err
		}

		switch option(packet) {
		case '1':
			err = m.ViewProfile()
		case '2':
			err = m.UpdateProfile()
		case '3':
			err = m.GetQRCode()
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// readProfile returns the profile lines of the current user. A missing
// profile is reported to the peer and yields no lines.
func (m *userManager) readProfile() ([]string, error) {
	lines, err := m.store.Profile(m.username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, m.send(noProfileMsg)
	}
	return lines, err
}

// ViewProfile sends the formatted profile of the current user.
func (m *userManager) ViewProfile() error {
	lines, err := m.readProfile()
	if err != nil || len(lines) == 0 {
		return err
	}
	if len(lines) < profileFields {
		return m.send(profileFormatMsg)
	}
	return m.send(fmt.Sprintf(viewProfileFormat,
		lines[0], lines[1], lines[2], lines[3], lines[4], lines[5]))
}

// UpdateProfile replaces the profile of the current user with six
// '|'-separated fields sent by the peer. The cached QR code is kept.
func (m *userManager) UpdateProfile() error {
	if err := m.send(updateProfileMsg); err != nil {
		return err
	}
	packet, err := m.receive(profilePacketSize)
	if err != nil {
		return err
	}
	if bytes.Count(packet, []byte{'|'}) != profileFields-1 {
		return m.send(formatErrorMsg)
	}
	fields := strings.SplitN(string(packet), "|", profileFields)
	if err := m.store.SetProfile(m.username, fields); err != nil {
		return err
	}
	m.logger.Debugf("Updated profile of %s", m.username)
	return nil
}

// GetQRCode sends the QR code of the current user's profile, rendering and
// caching it on first use.
func (m *userManager) GetQRCode() error {
	code, err := m.store.QRCode(m.username)
	if err == nil {
		return m.sendBytes(code)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	lines, err := m.readProfile()
	if err != nil || len(lines) == 0 {
		return err
	}
	var text strings.Builder
	for _, line := range lines {
		text.WriteString(line)
		text.WriteByte('|')
	}

	rendered, err := qr.Render(text.String())
	if err != nil {
		m.logger.Warnf("Failed to render QR code for %s: %v", m.username, err)
		return m.send(qrErrorMsg)
	}
	if err := m.send(rendered); err != nil {
		return err
	}
	return m.store.SetQRCode(m.username, []byte(rendered))
}
