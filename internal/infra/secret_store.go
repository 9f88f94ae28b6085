package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Ensure sqlcipher driver is registered.
	_ "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/errwatch/internal/domain"
)

const (
	secretsDBName = "secrets.db"
	schemaVersion = "1"
)

// EncryptedSecretStore implements domain.SecretStore using a SQLCipher
// encrypted SQLite database. It holds the bot credentials and the command
// cursor so they survive restarts without living in plain text.
type EncryptedSecretStore struct {
	db     *sql.DB
	dbPath string
}

// NewEncryptedSecretStore opens (or creates) the encrypted database in dataDir.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedSecretStore(dataDir string, key []byte) (*EncryptedSecretStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, secretsDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only shows up on first access.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedSecretStore{db: db, dbPath: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// OpenSecretStore opens the store in paths.DataDir. The key file next to
// it is created on first use.
func OpenSecretStore(paths *Paths) (*EncryptedSecretStore, error) {
	key, err := loadOrCreateSecretKey(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret store key: %w", err)
	}
	return NewEncryptedSecretStore(paths.DataDir, key)
}

func (s *EncryptedSecretStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', ?)`, schemaVersion)
	return err
}

// Path returns the database file path.
func (s *EncryptedSecretStore) Path() string {
	return s.dbPath
}

// GetSecret retrieves a secret by key. Returns domain.ErrNotFound if unset.
func (s *EncryptedSecretStore) GetSecret(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: secret %q", domain.ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read secret %q: %w", key, err)
	}
	return value, nil
}

// SetSecret stores or replaces a secret.
func (s *EncryptedSecretStore) SetSecret(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO secrets (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store secret %q: %w", key, err)
	}
	return nil
}

// DeleteSecret removes a secret. Returns domain.ErrNotFound if unset.
func (s *EncryptedSecretStore) DeleteSecret(key string) error {
	result, err := s.db.Exec(`DELETE FROM secrets WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete secret %q: %w", key, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("%w: secret %q", domain.ErrNotFound, key)
	}
	return nil
}

// GetAllSecrets returns all stored secrets.
func (s *EncryptedSecretStore) GetAllSecrets() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM secrets`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	secrets := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		secrets[k] = v
	}
	return secrets, rows.Err()
}

// Close releases the database connection.
func (s *EncryptedSecretStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ensure EncryptedSecretStore implements domain.SecretStore.
var _ domain.SecretStore = (*EncryptedSecretStore)(nil)
