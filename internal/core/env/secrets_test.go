package env

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticStore(t *testing.T) {
	store := StaticStore{"API_KEY": "abc123"}

	value, err := store.Get("API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "abc123", value)

	_, err = store.Get("MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	secrets := map[string]string{
		"DB_PASSWORD": "hunter2",
		"API_TOKEN":   "tok_51GXq",
	}

	require.NoError(t, WriteFileStore(path, "correct horse battery staple", secrets))

	store, err := OpenFileStore(path, "correct horse battery staple")
	require.NoError(t, err)

	value, err := store.Get("DB_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value)

	value, err = store.Get("API_TOKEN")
	require.NoError(t, err)
	assert.Equal(t, "tok_51GXq", value)

	assert.Equal(t, []string{"API_TOKEN", "DB_PASSWORD"}, store.Keys())
}

func TestFileStore_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, WriteFileStore(path, "right", map[string]string{"K": "v"}))

	_, err := OpenFileStore(path, "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestFileStore_MissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	require.NoError(t, WriteFileStore(path, "pw", map[string]string{"K": "v"}))

	store, err := OpenFileStore(path, "pw")
	require.NoError(t, err)

	_, err = store.Get("MISSING")
	assert.ErrorIs(t, err, ErrSecretNotFound)
}

func TestFileStore_FileNotFound(t *testing.T) {
	_, err := OpenFileStore("/nonexistent/secrets.yaml", "pw")
	assert.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := deriveKey("passphrase", []byte("0123456789abcdef"))

	ciphertext, err := encrypt([]byte("plaintext value"), key)
	require.NoError(t, err)
	assert.NotContains(t, string(ciphertext), "plaintext value")

	plaintext, err := decrypt(ciphertext, key)
	require.NoError(t, err)
	assert.Equal(t, "plaintext value", string(plaintext))
}

func TestDecrypt_TooShort(t *testing.T) {
	key := deriveKey("passphrase", []byte("0123456789abcdef"))

	_, err := decrypt([]byte("tiny"), key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
