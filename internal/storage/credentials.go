package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrUndecryptable is returned (wrapped) when a stored token cannot be decrypted with the current key.
var ErrUndecryptable = errors.New("stored credential cannot be decrypted")

// EncryptedTokenStore is a TokenStore that keeps tokens AES-256-GCM encrypted in the credentials table.
type EncryptedTokenStore struct {
	db   *sql.DB
	aead cipher.AEAD
}

// NewTokenStore returns a token store sharing s's database. The secret may be any
// non-empty string; it is stretched to a 256-bit key.
func NewTokenStore(s *SQLiteStorage, secret string) (*EncryptedTokenStore, error) {
	if secret == "" {
		return nil, errors.New("credential encryption key is empty")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &EncryptedTokenStore{db: s.db, aead: aead}, nil
}

// LoadOrCreateKey reads a hex key from path, creating it with 32 random bytes on first use.
func LoadOrCreateKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %s is empty", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	key := hex.EncodeToString(buf)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(key+"\n"), 0600); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the decrypted token for identity, or "" when none is stored.
func (t *EncryptedTokenStore) Get(ctx context.Context, identity string) (string, error) {
	var sealed []byte
	err := t.db.QueryRowContext(ctx,
		`SELECT ciphertext FROM credentials WHERE identity = ?`, identity,
	).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	n := t.aead.NonceSize()
	if len(sealed) < n {
		return "", fmt.Errorf("identity %s: %w", identity, ErrUndecryptable)
	}
	plain, err := t.aead.Open(nil, sealed[:n], sealed[n:], []byte(identity))
	if err != nil {
		return "", fmt.Errorf("identity %s: %w", identity, ErrUndecryptable)
	}
	return string(plain), nil
}

// Set encrypts and stores token for identity, replacing any previous token.
func (t *EncryptedTokenStore) Set(ctx context.Context, identity, token string) (string, error) {
	if identity == "" {
		return "", errors.New("identity is required")
	}
	nonce := make([]byte, t.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := t.aead.Seal(nonce, nonce, []byte(token), []byte(identity))
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO credentials (identity, ciphertext, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(identity) DO UPDATE SET ciphertext = excluded.ciphertext, updated_at = excluded.updated_at`,
		identity, sealed, time.Now(),
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Clear removes the token for identity.
func (t *EncryptedTokenStore) Clear(ctx context.Context, identity string) (bool, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM credentials WHERE identity = ?`, identity)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
