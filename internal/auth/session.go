// file: internal/auth/session.go
package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/logging"
	"github.com/dkoosis/norbert/internal/norberterror"
)

// Session serves the stored token to the backend client and caches it in
// memory after the first load.
type Session struct {
	storage Storage
	logger  logging.Logger

	mu     sync.Mutex
	token  string
	loaded bool
}

// NewSession wraps storage.
func NewSession(storage Storage, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Session{
		storage: storage,
		logger:  logger.WithField("component", "session"),
	}
}

// Token implements backend.TokenSource. Without a stored token it returns an
// error matching norberterror.ErrNotAuthenticated.
func (s *Session) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		token, err := s.storage.LoadToken()
		if err != nil {
			return "", errors.Wrap(err, "load session token")
		}
		s.token = token
		s.loaded = true
	}
	if s.token == "" {
		return "", notAuthenticated()
	}
	return s.token, nil
}

// Login stores a new session token.
func (s *Session) Login(token, userID, email string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("session token is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.SaveToken(token, userID, email); err != nil {
		return err
	}
	s.token = token
	s.loaded = true
	s.logger.Info("Logged in.", "storage", s.storage.Describe(), "email", email)
	return nil
}

// Logout deletes the stored token.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.storage.DeleteToken(); err != nil {
		return err
	}
	s.token = ""
	s.loaded = true
	s.logger.Info("Logged out.", "storage", s.storage.Describe())
	return nil
}

// Status returns the stored record, or nil when logged out.
func (s *Session) Status() (*TokenData, error) {
	return s.storage.GetTokenData()
}

func notAuthenticated() error {
	err := &norberterror.Error{
		Category: norberterror.CategoryAuth,
		Class:    norberterror.ClassCredentials,
		Err:      norberterror.ErrNotAuthenticated,
	}
	return errors.WithHint(err, "Run `norbert login` with a backend session token first.")
}
