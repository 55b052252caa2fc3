package server

import (
	"bytes"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuar-io/kuar/client"
	"github.com/kuar-io/kuar/server/encryption"
	"github.com/kuar-io/kuar/server/protocol"
	"github.com/kuar-io/kuar/server/qr"
)

const profileLine = "Alice Smith|1990-01-01|Paris|2021-05-01|Sputnik V|none"

func getTestConfig(t *testing.T) *Config {
	dir, err := ioutil.TempDir("", "kuar-server-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	config := NewDefaultConfig()
	config.DataDir = dir
	config.LogSilent = true
	config.Protocol.SendDelay = 0
	return config
}

type pipeConn struct {
	io.Reader
	io.Writer
}

// testSession is a server session running in a goroutine with a client
// attached over in-memory pipes.
type testSession struct {
	t      *testing.T
	client *client.Client
	in     *io.PipeWriter
	done   chan int
}

func startSession(t *testing.T, config *Config) *testSession {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan int, 1)

	s := New(config)
	go func() {
		status := s.Run(inR, outW)
		outW.Close()
		inR.Close()
		done <- status
	}()

	c, err := client.Dial(pipeConn{Reader: outR, Writer: inW}, nil)
	require.NoError(t, err)
	return &testSession{t: t, client: c, in: inW, done: done}
}

func (s *testSession) expect(want string) {
	got, err := s.client.ReceiveString(0)
	require.NoError(s.t, err)
	require.Equal(s.t, want, got)
}

func (s *testSession) receive() string {
	got, err := s.client.ReceiveString(0)
	require.NoError(s.t, err)
	return got
}

func (s *testSession) send(msg string) {
	require.NoError(s.t, s.client.SendString(msg))
}

func (s *testSession) status() int {
	select {
	case status := <-s.done:
		return status
	case <-time.After(5 * time.Second):
		s.t.Fatal("session did not end")
		return -1
	}
}

// register creates a user and leaves the session at the user menu.
func (s *testSession) register(name, password string) {
	s.expect(mainMenu)
	s.send("2")
	s.expect(usernamePrompt)
	s.send(name)
	s.expect(passwordPrompt)
	s.send(password)
	s.expect(userMenu)
}

func (s *testSession) exit() {
	s.send("4")
	s.expect(mainMenu)
	s.send("3")
	require.Equal(s.t, NormalExit, s.status())
}

func TestRunExit(t *testing.T) {
	s := startSession(t, getTestConfig(t))
	s.expect(mainMenu)
	s.send("3")
	require.Equal(t, NormalExit, s.status())
}

// Ensure an unknown main menu option ends the session with its own status.
func TestRunInvalidMainOption(t *testing.T) {
	for _, opt := range []string{"9", "4", "x"} {
		s := startSession(t, getTestConfig(t))
		s.expect(mainMenu)
		s.send(opt)
		require.Equal(t, InvalidMainOption, s.status(), opt)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config)
	s.register("alice\n", "s3cret")

	// Back to the main menu and log in again.
	s.send("4")
	s.expect(mainMenu)
	s.send("1")
	s.expect(usernamePrompt)
	s.send("alice")
	s.expect(passwordPrompt)
	s.send("s3cret")
	s.expect(userMenu)
	s.exit()

	data, err := ioutil.ReadFile(filepath.Join(config.DataDir, "users", "alice", "shadow.dat"))
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), data)
}

func TestLoginFailures(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config)
	s.register("bob", "pw")
	s.send("4")
	s.expect(mainMenu)

	s.send("1")
	s.expect(usernamePrompt)
	s.send("carol")
	s.expect(noSuchUserMsg)
	s.expect(mainMenu)

	s.send("1")
	s.expect(usernamePrompt)
	s.send("bob")
	s.expect(passwordPrompt)
	s.send("pw\n")
	s.expect(wrongPasswordMsg)
	s.expect(mainMenu)

	s.send("1")
	s.expect(usernamePrompt)
	s.send("!!")
	s.expect(noSuchUserMsg)
	s.expect(mainMenu)

	s.send("3")
	require.Equal(t, NormalExit, s.status())
}

func TestRegisterFailures(t *testing.T) {
	s := startSession(t, getTestConfig(t))
	s.register("dave", "pw")
	s.send("4")
	s.expect(mainMenu)

	s.send("2")
	s.expect(usernamePrompt)
	s.send("dave!")
	s.expect(userExistsMsg)
	s.expect(mainMenu)

	s.send("2")
	s.expect(usernamePrompt)
	s.send("../etc")
	s.expect(invalidUsernameMsg)
	s.expect(mainMenu)

	s.send("3")
	require.Equal(t, NormalExit, s.status())
}

func TestProfile(t *testing.T) {
	s := startSession(t, getTestConfig(t))
	s.register("alice", "pw")

	s.send("1")
	s.expect(noProfileMsg)
	s.expect(userMenu)

	s.send("2")
	s.expect(updateProfileMsg)
	s.send("a|b|c")
	s.expect(formatErrorMsg)
	s.expect(userMenu)

	s.send("2")
	s.expect(updateProfileMsg)
	s.send(profileLine)
	s.expect(userMenu)

	s.send("1")
	s.expect("Name: Alice Smith\nBirth-date: 1990-01-01\nCity: Paris\n" +
		"Vaccination-date: 2021-05-01\nVaccine-name: Sputnik V\nInfo: none\n")
	s.expect(userMenu)
	s.exit()
}

func TestViewProfileFormatError(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config)
	s.register("alice", "pw")

	path := filepath.Join(config.DataDir, "users", "alice", "profile.dat")
	require.NoError(t, ioutil.WriteFile(path, []byte("one\ntwo\n"), 0644))

	s.send("1")
	s.expect(profileFormatMsg)
	s.expect(userMenu)
	s.exit()
}

// Ensure the QR code is rendered from the profile once and then served from
// the cache, even after the profile changes.
func TestGetQRCode(t *testing.T) {
	config := getTestConfig(t)
	s := startSession(t, config)
	s.register("alice", "pw")

	s.send("3")
	s.expect(noProfileMsg)
	s.expect(userMenu)

	s.send("2")
	s.expect(updateProfileMsg)
	s.send(profileLine)
	s.expect(userMenu)

	want, err := qr.Render(profileLine + "|")
	require.NoError(t, err)

	s.send("3")
	s.expect(want)
	s.expect(userMenu)

	cached, err := ioutil.ReadFile(filepath.Join(config.DataDir, "users", "alice", "qrcode.dat"))
	require.NoError(t, err)
	require.Equal(t, want, string(cached))

	s.send("2")
	s.expect(updateProfileMsg)
	s.send("Bob|2000-02-02|Oslo|2021-06-01|Pfizer|x")
	s.expect(userMenu)

	s.send("3")
	s.expect(want)
	s.expect(userMenu)
	s.exit()
}

// Ensure a packet with bad padding is answered with a diagnostic and ends
// the session normally.
func TestRunBadPadding(t *testing.T) {
	s := startSession(t, getTestConfig(t))
	s.expect(mainMenu)

	c, err := protocol.NewCipher(s.client.Key())
	require.NoError(t, err)
	bad, err := c.Encrypt(append([]byte("123456789012345"), 0x00))
	require.NoError(t, err)
	require.NoError(t, s.client.SendRaw(bad))

	s.expect("[-] Incorrect padding!")
	require.Equal(t, NormalExit, s.status())
}

// Ensure the peer going away mid-session is a receive error.
func TestRunPeerDisconnect(t *testing.T) {
	s := startSession(t, getTestConfig(t))
	s.expect(mainMenu)
	require.NoError(t, s.in.Close())
	require.Equal(t, RecvError, s.status())
}

func TestRunHandshakeErrors(t *testing.T) {
	tests := []struct {
		name   string
		seed   []byte
		status int
	}{
		{"empty", nil, KeyInitError},
		{"short", make([]byte, 63), KeyInitSizeError},
		{"long", make([]byte, 65), KeyInitSizeError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(getTestConfig(t))
			out := new(bytes.Buffer)
			require.Equal(t, tc.status, s.Run(bytes.NewReader(tc.seed), out))
			require.Zero(t, out.Len())
		})
	}
}

// Ensure the main menu cannot be written to a broken stream.
func TestRunSendError(t *testing.T) {
	s := New(getTestConfig(t))
	outR, outW := io.Pipe()
	outR.Close()
	require.Equal(t, SendError, s.Run(bytes.NewReader(make([]byte, protocol.SeedSize)), outW))
}

func TestRunStoreError(t *testing.T) {
	config := getTestConfig(t)
	file := filepath.Join(config.DataDir, "file")
	require.NoError(t, ioutil.WriteFile(file, nil, 0644))
	config.DataDir = file

	s := New(config)
	require.Equal(t, InternalError, s.Run(bytes.NewReader(make([]byte, protocol.SeedSize)), ioutil.Discard))

	config = getTestConfig(t)
	config.Store.Encryption = true
	os.Unsetenv(encryption.MasterKeyVarName)
	s = New(config)
	require.Equal(t, InternalError, s.Run(bytes.NewReader(make([]byte, protocol.SeedSize)), ioutil.Discard))
}

// Ensure user files are sealed on disk when at-rest encryption is on.
func TestRunEncryptedStore(t *testing.T) {
	os.Setenv(encryption.MasterKeyVarName, "t7w!z%C*F-JaNcRf")
	defer os.Unsetenv(encryption.MasterKeyVarName)

	config := getTestConfig(t)
	config.Store.Encryption = true

	s := startSession(t, config)
	s.register("alice", "plaintextpassword")
	s.send("4")
	s.expect(mainMenu)
	s.send("1")
	s.expect(usernamePrompt)
	s.send("alice")
	s.expect(passwordPrompt)
	s.send("plaintextpassword")
	s.expect(userMenu)
	s.exit()

	data, err := ioutil.ReadFile(filepath.Join(config.DataDir, "users", "alice", "shadow.dat"))
	require.NoError(t, err)
	require.NotContains(t, string(data), "plaintextpassword")
}

// Ensure a strict padding session accepts well-formed traffic.
func TestRunStrictPadding(t *testing.T) {
	config := getTestConfig(t)
	config.Protocol.StrictPadding = true
	s := startSession(t, config)
	s.register("erin", "pw")
	s.exit()
}
