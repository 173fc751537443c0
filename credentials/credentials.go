// Package credentials provides secure secret storage for the mailsift CLI.
// Secrets (AI provider API keys) are kept in ~/.mailsift/credentials.yaml,
// encrypted at rest with AES-GCM.
//
// Encryption Key Storage:
// The encryption key is stored securely using the system keyring:
// - macOS: Keychain
// - Windows: Credential Manager
// - Linux: Secret Service (libsecret)
//
// For CI/testing environments, set MAILSIFT_ENCRYPTION_KEY to a 64-character
// hex string (32 bytes).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Secret storage constants.
const (
	DefaultCredentialsDir  = ".mailsift"
	DefaultCredentialsFile = "credentials.yaml"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no secrets are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrSecretNotFound is returned when a named secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// secretsFile is the on-disk shape of the credentials file. Values are
// AES-GCM encrypted and base64 encoded.
type secretsFile struct {
	Secrets     map[string]string `yaml:"secrets"`
	LastUpdated time.Time         `yaml:"last_updated"`
}

// Store manages encrypted secret storage.
type Store struct {
	// credentialsDir is the directory containing the credentials file.
	credentialsDir string
	// encryptionKey is the key used for encrypting/decrypting secrets.
	encryptionKey []byte
	// keyProvider is the source of the encryption key.
	keyProvider KeyProvider
}

// NewStore creates a secret store with default settings. It uses the system
// keyring (macOS Keychain, Windows Credential Manager, or Linux Secret
// Service) to store the encryption key securely.
func NewStore() (*Store, error) {
	keyProvider, err := GetDefaultKeyProvider()
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}
	return NewStoreWithKeyProvider(keyProvider)
}

// NewStoreWithKeyProvider creates a secret store with a custom key provider.
// This is primarily used for testing.
func NewStoreWithKeyProvider(keyProvider KeyProvider) (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// CredentialsDir returns the credentials directory path.
// Uses $MAILSIFT_CONFIG_DIR if set, otherwise ~/.mailsift
func CredentialsDir() (string, error) {
	if dir := os.Getenv("MAILSIFT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// CredentialsPath returns the full path to the credentials file.
func CredentialsPath() (string, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultCredentialsFile), nil
}

// Get returns the decrypted value of a named secret.
func (s *Store) Get(name string) (string, error) {
	file, err := s.load()
	if err != nil {
		return "", err
	}

	encrypted, ok := file.Secrets[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	value, err := s.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypting secret %s: %w", name, err)
	}
	return value, nil
}

// Set stores a named secret, encrypting it at rest.
func (s *Store) Set(name, value string) error {
	file, err := s.load()
	if err != nil {
		if !errors.Is(err, ErrNoCredentials) {
			return err
		}
		file = &secretsFile{Secrets: map[string]string{}}
	}

	encrypted, err := s.encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting secret %s: %w", name, err)
	}
	file.Secrets[name] = encrypted

	return s.save(file)
}

// Delete removes a named secret. Deleting a missing secret is a no-op.
func (s *Store) Delete(name string) error {
	file, err := s.load()
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return nil
		}
		return err
	}

	if _, ok := file.Secrets[name]; !ok {
		return nil
	}
	delete(file.Secrets, name)

	return s.save(file)
}

// List returns the names of all stored secrets, sorted.
func (s *Store) List() ([]string, error) {
	file, err := s.load()
	if err != nil {
		if errors.Is(err, ErrNoCredentials) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(file.Secrets))
	for name := range file.Secrets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Exists checks if the credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(filepath.Join(s.credentialsDir, DefaultCredentialsFile))
	return err == nil
}

// load reads and parses the credentials file. Values stay encrypted.
func (s *Store) load() (*secretsFile, error) {
	data, err := os.ReadFile(filepath.Join(s.credentialsDir, DefaultCredentialsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var file secretsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credentials: %w", err)
	}
	if file.Secrets == nil {
		file.Secrets = map[string]string{}
	}
	return &file, nil
}

// save writes the credentials file with restrictive permissions.
func (s *Store) save(file *secretsFile) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	file.LastUpdated = time.Now()

	data, err := yaml.Marshal(file)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	path := filepath.Join(s.credentialsDir, DefaultCredentialsFile)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}
	return nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskSecret returns a masked version of a secret for display.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:4] + strings.Repeat("*", len(secret)-8) + secret[len(secret)-4:]
}
