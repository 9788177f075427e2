package env

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/crypto/pbkdf2"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Secret Store
// =============================================================================

// SecretStore provides sensitive configuration values. Implementations must
// never log the values they return.
type SecretStore interface {
	Get(key string) (string, error)
}

// ErrSecretNotFound is returned when a store has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

// =============================================================================
// Static Store
// =============================================================================

// StaticStore serves secrets from an in-memory map. Used by automated
// pipelines that inject secrets through their own channel, and by tests.
type StaticStore map[string]string

func (s StaticStore) Get(key string) (string, error) {
	if value, ok := s[key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// =============================================================================
// Encrypted File Store
// =============================================================================

// Secrets are kept at rest as a YAML map of key -> base64(nonce || ciphertext),
// sealed with AES-256-GCM. The key derives from a passphrase via PBKDF2.

const (
	pbkdf2Iterations = 210_000
	keySize          = 32
)

var (
	// ErrInvalidCiphertext is returned when a stored value is too short to decrypt.
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")

	// ErrDecryptionFailed is returned when decryption fails (wrong passphrase or corrupted data).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
)

// FileStore reads secrets from an encrypted YAML file.
type FileStore struct {
	values map[string]string
}

type secretsFile struct {
	Salt    string            `yaml:"salt"`
	Secrets map[string]string `yaml:"secrets"`
}

// OpenFileStore loads and decrypts a secrets file with the given passphrase.
// The whole file is decrypted once at open; Get is a map lookup.
func OpenFileStore(path, passphrase string) (*FileStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}

	var file secretsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(file.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	key := deriveKey(passphrase, salt)

	values := make(map[string]string, len(file.Secrets))
	for name, encoded := range file.Secrets {
		plaintext, err := decryptFromBase64(encoded, key)
		if err != nil {
			return nil, fmt.Errorf("decrypt secret %s: %w", name, err)
		}
		values[name] = string(plaintext)
	}

	return &FileStore{values: values}, nil
}

func (s *FileStore) Get(key string) (string, error) {
	if value, ok := s.values[key]; ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// Keys returns the stored secret names, sorted. Values are never exposed in bulk.
func (s *FileStore) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteFileStore encrypts the given secrets with the passphrase and writes
// them to path with owner-only permissions.
func WriteFileStore(path, passphrase string, secrets map[string]string) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(passphrase, salt)

	file := secretsFile{
		Salt:    base64.StdEncoding.EncodeToString(salt),
		Secrets: make(map[string]string, len(secrets)),
	}
	for name, value := range secrets {
		encoded, err := encryptToBase64([]byte(value), key)
		if err != nil {
			return fmt.Errorf("encrypt secret %s: %w", name, err)
		}
		file.Secrets[name] = encoded
	}

	raw, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

// =============================================================================
// AES-256-GCM
// =============================================================================

// deriveKey derives a 32-byte AES-256 key from a passphrase using PBKDF2.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// encrypt seals plaintext as nonce || ciphertext || auth tag.
func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens ciphertext produced by encrypt.
func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func encryptToBase64(plaintext, key []byte) (string, error) {
	ciphertext, err := encrypt(plaintext, key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func decryptFromBase64(encoded string, key []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return decrypt(ciphertext, key)
}
