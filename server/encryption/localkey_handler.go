package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"os"

	"github.com/google/tink/go/kwp/subtle"
	"github.com/pkg/errors"
)

const (
	// DataKeyLength is the length of the data encryption key in bytes,
	// selecting AES-256-GCM for file contents.
	DataKeyLength int = 32

	// MasterKeyVarName is the environment variable holding the master key.
	// It must be 16 or 32 bytes long.
	MasterKeyVarName = "KUAR_ENCRYPTION_KEY"
)

// LocalEncryptionHandler wraps a per-process data key with a master key
// loaded from the environment.
type LocalEncryptionHandler struct {
	defaultDEK []byte
	keyWrapper *subtle.KWP
}

var _ Handler = (*LocalEncryptionHandler)(nil)

// NewLocalEncryptionHandler creates a LocalEncryptionHandler using the master
// key in KUAR_ENCRYPTION_KEY.
func NewLocalEncryptionHandler() (*LocalEncryptionHandler, error) {
	masterKey := []byte(os.Getenv(MasterKeyVarName))
	if len(masterKey) == 0 {
		return nil, errors.Errorf("%s is not set", MasterKeyVarName)
	}
	kwp, err := subtle.NewKWP(masterKey)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", MasterKeyVarName)
	}
	return &LocalEncryptionHandler{keyWrapper: kwp}, nil
}

func (handler *LocalEncryptionHandler) generateDEK() ([]byte, error) {
	key := make([]byte, DataKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// wrapDEK wraps the data key with tink's KWP.
func (handler *LocalEncryptionHandler) wrapDEK(dek []byte) ([]byte, error) {
	return handler.keyWrapper.Wrap(dek)
}

func (handler *LocalEncryptionHandler) unwrapDEK(wrappedDEK []byte) ([]byte, error) {
	return handler.keyWrapper.Unwrap(wrappedDEK)
}

func newGCM(dek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// encryptData returns the nonce followed by the GCM ciphertext.
func (handler *LocalEncryptionHandler) encryptData(dek []byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (handler *LocalEncryptionHandler) decryptData(dek []byte, encryptedData []byte) ([]byte, error) {
	gcm, err := newGCM(dek)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, ErrMalformed
	}
	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// Seal encrypts data under the handler's data key, generating it on first
// use, and prefixes the wrapped key:
//
// |  byte 0  |   byte 1   |    ...   | byte n       |  byte n+1 ... |
// |----------|------------|----------|--------------|---------------|
// | key size | key byte 0 |      ... | key byte n-1 | nonce + data  |
func (handler *LocalEncryptionHandler) Seal(data []byte) ([]byte, error) {
	if handler.defaultDEK == nil {
		dek, err := handler.generateDEK()
		if err != nil {
			return nil, errors.Wrap(err, "failed to generate data key")
		}
		handler.defaultDEK = dek
	}

	ciphertext, err := handler.encryptData(handler.defaultDEK, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encrypt data")
	}

	wrappedKey, err := handler.wrapDEK(handler.defaultDEK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to wrap data key")
	}

	sealed := make([]byte, 0, 1+len(wrappedKey)+len(ciphertext))
	sealed = append(sealed, byte(len(wrappedKey)))
	sealed = append(sealed, wrappedKey...)
	sealed = append(sealed, ciphertext...)
	return sealed, nil
}

// Read decrypts data produced by Seal. The data key is unwrapped from the
// prefix, so files sealed by an earlier process with the same master key
// remain readable.
func (handler *LocalEncryptionHandler) Read(sealed []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, ErrMalformed
	}
	keyEnd := int(sealed[0]) + 1
	if len(sealed) < keyEnd {
		return nil, ErrMalformed
	}

	dek, err := handler.unwrapDEK(sealed[1:keyEnd])
	if err != nil {
		return nil, errors.Wrap(err, "failed to unwrap data key")
	}

	plaintext, err := handler.decryptData(dek, sealed[keyEnd:])
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt data")
	}
	return plaintext, nil
}
