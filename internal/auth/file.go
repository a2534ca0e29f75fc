// file: internal/auth/file.go
package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
)

// FileStorage keeps the token in a JSON file readable only by the owner.
// It is the fallback when no keyring is available.
type FileStorage struct {
	path   string
	logger logging.Logger
	mutex  sync.RWMutex
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage creates file storage at path, creating its directory.
func NewFileStorage(path string, logger logging.Logger) (*FileStorage, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	if path == "" {
		return nil, errors.New("token path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create token directory")
	}
	return &FileStorage{
		path:   path,
		logger: logger.WithField("component", "file_token_storage"),
	}, nil
}

// Describe implements Storage.
func (s *FileStorage) Describe() string {
	return "file " + s.path
}

// Path returns the token file location.
func (s *FileStorage) Path() string {
	return s.path
}

// SaveToken implements Storage.
func (s *FileStorage) SaveToken(token, userID, email string) error {
	if token == "" {
		return errors.New("cannot save empty token")
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existing, err := s.readLocked()
	if err != nil {
		s.logger.Debug("Overwriting unreadable token file.", "error", err)
		existing = nil
	}
	data := newTokenData(token, userID, email, createdAt(existing))

	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal token data")
	}
	if err := os.WriteFile(s.path, payload, 0600); err != nil {
		return errors.Wrap(err, "failed to write token file")
	}
	s.logger.Debug("Saved session token to file.", "path", s.path)
	return nil
}

// LoadToken implements Storage.
func (s *FileStorage) LoadToken() (string, error) {
	data, err := s.GetTokenData()
	if err != nil || data == nil {
		return "", err
	}
	return data.Token, nil
}

// GetTokenData implements Storage.
func (s *FileStorage) GetTokenData() (*TokenData, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.readLocked()
}

// DeleteToken implements Storage.
func (s *FileStorage) DeleteToken() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.path); err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("Token file does not exist, nothing to delete.")
			return nil
		}
		return errors.Wrap(err, "failed to delete token file")
	}
	return nil
}

func (s *FileStorage) readLocked() (*TokenData, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read token file")
	}
	var data TokenData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "failed to parse token data")
	}
	return &data, nil
}
