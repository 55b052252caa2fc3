package encryption

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, masterKey string) *LocalEncryptionHandler {
	os.Setenv(MasterKeyVarName, masterKey)
	defer os.Unsetenv(MasterKeyVarName)

	keyHandler, err := NewLocalEncryptionHandler()
	require.NoError(t, err)
	return keyHandler
}

// Ensure the handler refuses to start without a usable master key.
func TestNewLocalEncryptionHandlerMasterKey(t *testing.T) {
	os.Unsetenv(MasterKeyVarName)
	_, err := NewLocalEncryptionHandler()
	require.Error(t, err)

	os.Setenv(MasterKeyVarName, "too short")
	defer os.Unsetenv(MasterKeyVarName)
	_, err = NewLocalEncryptionHandler()
	require.Error(t, err)
}

// Ensure that the data key can be wrapped and unwrapped with the master key.
func TestWrapUnwrapDataKey(t *testing.T) {
	keyHandler := newTestHandler(t, "t7w!z%C*F-JaNcRf")

	dek, err := keyHandler.generateDEK()
	require.NoError(t, err)
	require.Len(t, dek, DataKeyLength)

	wrappedDEK, err := keyHandler.wrapDEK(dek)
	require.NoError(t, err)
	require.NotEqual(t, dek, wrappedDEK)

	key, err := keyHandler.unwrapDEK(wrappedDEK)
	require.NoError(t, err)
	require.Equal(t, dek, key)
}

// Ensure that the decryption retrieves the same text after encryption.
func TestEncryptDecryptData(t *testing.T) {
	keyHandler := newTestHandler(t, "t7w!z%C*F-JaNcRf")
	plaintext := []byte("Name: Alice\nCity: Paris\n")

	dek, err := keyHandler.generateDEK()
	require.NoError(t, err)

	ciphertext, err := keyHandler.encryptData(dek, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	decrypted, err := keyHandler.decryptData(dek, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

// Ensure Seal prefixes the wrapped key and Read reverses it.
func TestSealRead(t *testing.T) {
	keyHandler := newTestHandler(t, "/A?D(G+KbPdSgVkYp3s6v9y$B&E)H@Mc")
	plaintext := []byte("hunter2")

	data, err := keyHandler.Seal(plaintext)
	require.NoError(t, err)
	require.NotNil(t, keyHandler.defaultDEK)

	keyEnd := int(data[0]) + 1
	require.NotEqual(t, keyHandler.defaultDEK, data[1:keyEnd])
	require.NotContains(t, string(data), string(plaintext))

	decrypted, err := keyHandler.Read(data)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

// Ensure a second handler with the same master key reads earlier files.
func TestReadAcrossHandlers(t *testing.T) {
	const masterKey = "+KbPeShVmYq3t6w9"
	data, err := newTestHandler(t, masterKey).Seal([]byte("profile"))
	require.NoError(t, err)

	decrypted, err := newTestHandler(t, masterKey).Read(data)
	require.NoError(t, err)
	require.Equal(t, []byte("profile"), decrypted)

	_, err = newTestHandler(t, "t7w!z%C*F-JaNcRf").Read(data)
	require.Error(t, err)
}

// Ensure truncated or tampered data is rejected.
func TestReadMalformed(t *testing.T) {
	keyHandler := newTestHandler(t, "t7w!z%C*F-JaNcRf")

	_, err := keyHandler.Read(nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = keyHandler.Read([]byte{40, 1, 2})
	require.ErrorIs(t, err, ErrMalformed)

	data, err := keyHandler.Seal([]byte("profile"))
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	_, err = keyHandler.Read(data)
	require.Error(t, err)
}
