package infra

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	secretKeyName = "secrets.key"
	secretKeyLen  = 32 // raw SQLCipher key, passed as x'hex'
)

// ErrSecretKeyMissing means secrets.db exists but its key file does not.
// A fresh key could never open that database.
var ErrSecretKeyMissing = errors.New("secret store key is missing")

// SecretKeyFile returns where the secret store key lives.
func (p *Paths) SecretKeyFile() string {
	return filepath.Join(p.DataDir, secretKeyName)
}

// SecretStoreFile returns where the encrypted database lives.
func (p *Paths) SecretStoreFile() string {
	return filepath.Join(p.DataDir, secretsDBName)
}

// loadOrCreateSecretKey returns the key in the data directory. A key is
// created only when neither the key nor the database exists yet. The
// daemon and a "secrets set" run may race here; both end up with the key
// that was linked into place first.
func loadOrCreateSecretKey(paths *Paths) ([]byte, error) {
	keyPath := paths.SecretKeyFile()
	key, err := readSecretKey(keyPath)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return key, err
	}

	if _, err := os.Stat(paths.SecretStoreFile()); err == nil {
		return nil, fmt.Errorf("%w: %s has no %s; remove the database to start over",
			ErrSecretKeyMissing, paths.SecretStoreFile(), secretKeyName)
	}

	if err := os.MkdirAll(paths.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	key, err = createSecretKey(keyPath)
	if errors.Is(err, os.ErrExist) {
		return readSecretKey(keyPath)
	}
	return key, err
}

// readSecretKey reads a hex key, refusing files other users can read.
func readSecretKey(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		return nil, fmt.Errorf("key file %s has mode %04o, expected 0600", path, perm)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key file %s is not hex encoded: %w", path, err)
	}
	if len(key) != secretKeyLen {
		return nil, fmt.Errorf("key file %s holds %d bytes, expected %d", path, len(key), secretKeyLen)
	}
	return key, nil
}

// createSecretKey writes a new key to a 0600 temp file and links it to path.
// The link fails with os.ErrExist if another process got there first, so
// a reader never sees a partly written key.
func createSecretKey(path string) ([]byte, error) {
	key, err := newSecretKey()
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), secretKeyName+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create key file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write key file: %w", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to install key file: %w", err)
	}
	return key, nil
}

func newSecretKey() ([]byte, error) {
	key := make([]byte, secretKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}
