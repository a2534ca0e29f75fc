// Package auth stores the backend session token, preferring the OS keyring
// and falling back to a private file.
// file: internal/auth/storage.go
package auth

import (
	"time"

	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/logging"
)

// TokenData is what gets persisted for a session.
type TokenData struct {
	Token     string    `json:"token"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Storage saves and loads the session token.
type Storage interface {
	// SaveToken stores token with its owner, replacing any previous token.
	SaveToken(token, userID, email string) error
	// LoadToken returns the stored token, or "" when there is none.
	LoadToken() (string, error)
	// DeleteToken removes the stored token. Deleting nothing is not an error.
	DeleteToken() error
	// GetTokenData returns the full record, or nil when there is none.
	GetTokenData() (*TokenData, error)
	// Describe names the backing store for status output.
	Describe() string
}

// NewStorage returns keyring storage when the keyring is usable, otherwise
// file storage at cfg.TokenPath.
func NewStorage(cfg config.AuthConfig, logger logging.Logger) (Storage, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	secure := NewKeyringStorage(cfg.KeyringService, cfg.KeyringUser, logger)
	if secure.IsAvailable() {
		logger.Info("Using secure token storage (OS keyring).")
		return secure, nil
	}
	logger.Info("Secure token storage not available, falling back to file-based storage.", "path", cfg.TokenPath)
	path, err := config.ExpandPath(cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	return NewFileStorage(path, logger)
}

func newTokenData(token, userID, email string, createdAt time.Time) TokenData {
	now := time.Now().UTC()
	if createdAt.IsZero() {
		createdAt = now
	}
	return TokenData{
		Token:     token,
		UserID:    userID,
		Email:     email,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
}

func createdAt(existing *TokenData) time.Time {
	if existing == nil {
		return time.Time{}
	}
	return existing.CreatedAt
}
