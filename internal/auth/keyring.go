// file: internal/auth/keyring.go
package auth

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/zalando/go-keyring"
)

// Default keyring entry names.
const (
	DefaultKeyringService = "norbert"
	DefaultKeyringUser    = "backend-session"
)

// KeyringStorage keeps the token in the OS keychain.
type KeyringStorage struct {
	service string
	user    string
	logger  logging.Logger
}

var _ Storage = (*KeyringStorage)(nil)

// NewKeyringStorage creates keyring storage for the given entry. Empty
// names fall back to the defaults.
func NewKeyringStorage(service, user string, logger logging.Logger) *KeyringStorage {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if service == "" {
		service = DefaultKeyringService
	}
	if user == "" {
		user = DefaultKeyringUser
	}
	return &KeyringStorage{
		service: service,
		user:    user,
		logger:  logger.WithField("component", "keyring_token_storage"),
	}
}

// IsAvailable reports whether the keyring can be read. A missing entry
// still counts as available.
func (s *KeyringStorage) IsAvailable() bool {
	_, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			s.logger.Debug("Keyring service is accessible (no token stored yet).")
			return true
		}
		s.logger.Warn("Keyring service is inaccessible or permissions are insufficient.", "error", err)
		return false
	}
	s.logger.Debug("Keyring service is accessible and holds a token.")
	return true
}

// Describe implements Storage.
func (s *KeyringStorage) Describe() string {
	return fmt.Sprintf("OS keyring (service %q, account %q)", s.service, s.user)
}

// LoadToken implements Storage.
func (s *KeyringStorage) LoadToken() (string, error) {
	data, err := s.GetTokenData()
	if err != nil || data == nil {
		return "", err
	}
	return data.Token, nil
}

// GetTokenData implements Storage. A corrupted entry is deleted.
func (s *KeyringStorage) GetTokenData() (*TokenData, error) {
	raw, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			s.logger.Debug("No session token in keyring.")
			return nil, nil
		}
		s.logger.Error("keyring.Get operation failed.", "error", fmt.Sprintf("%+v", err))
		return nil, errors.Wrap(err, "failed to load token from system keyring")
	}

	var data TokenData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		s.logger.Error("Token data in keyring is corrupted, deleting it.", "error", err)
		_ = s.DeleteToken()
		return nil, errors.Wrap(err, "failed to parse token data from keyring")
	}
	return &data, nil
}

// SaveToken implements Storage. The original creation time is kept when a
// token is replaced.
func (s *KeyringStorage) SaveToken(token, userID, email string) error {
	if token == "" {
		return errors.New("cannot save empty token to keyring")
	}

	existing, err := s.GetTokenData()
	if err != nil {
		s.logger.Debug("Ignoring unreadable keyring entry on save.", "error", err)
		existing = nil
	}
	payload, err := json.Marshal(newTokenData(token, userID, email, createdAt(existing)))
	if err != nil {
		return errors.Wrap(err, "failed to encode token data for keyring")
	}

	if err := keyring.Set(s.service, s.user, string(payload)); err != nil {
		s.logger.Error("keyring.Set operation failed.", "error", fmt.Sprintf("%+v", err))
		if errors.Is(err, keyring.ErrSetDataTooBig) {
			return errors.WithHint(errors.Wrap(err, "failed to save token to system keyring"),
				"The session token is too large for this keychain; set auth.token_path and use file storage.")
		}
		return errors.WithHint(errors.Wrap(err, "failed to save token to system keyring"),
			"Check that the login keychain is unlocked and accessible.")
	}
	s.logger.Info("Session token saved to system keyring.")
	return nil
}

// DeleteToken implements Storage.
func (s *KeyringStorage) DeleteToken() error {
	err := keyring.Delete(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			s.logger.Debug("No token to delete from keyring.")
			return nil
		}
		s.logger.Error("Failed to delete token from keyring.", "error", err)
		return errors.Wrap(err, "failed to delete token from system keyring")
	}
	s.logger.Info("Session token deleted from system keyring.")
	return nil
}
