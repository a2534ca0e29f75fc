// file: internal/auth/storage_test.go
package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/norbert/internal/config"
	"github.com/dkoosis/norbert/internal/norberterror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestFileStorage_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dirs", "session_token.json")
	s, err := NewFileStorage(path, nil)
	require.NoError(t, err)

	token, err := s.LoadToken()
	require.NoError(t, err)
	assert.Empty(t, token, "no token before save")

	require.NoError(t, s.SaveToken("tok-1", "user-1", "a@example.com"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	first, err := s.GetTokenData()
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "tok-1", first.Token)
	assert.Equal(t, "a@example.com", first.Email)

	require.NoError(t, s.SaveToken("tok-2", "user-1", "a@example.com"))
	second, err := s.GetTokenData()
	require.NoError(t, err)
	assert.Equal(t, "tok-2", second.Token)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt), "creation time survives replacement")

	require.NoError(t, s.DeleteToken())
	require.NoError(t, s.DeleteToken())
	token, err = s.LoadToken()
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.True(t, strings.HasPrefix(s.Describe(), "file "))
}

func TestFileStorage_RejectsBadInput(t *testing.T) {
	_, err := NewFileStorage("", nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "token.json")
	s, err := NewFileStorage(path, nil)
	require.NoError(t, err)
	assert.Error(t, s.SaveToken("", "", ""))

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err = s.LoadToken()
	assert.Error(t, err)
}

func TestKeyringStorage_RoundTrip(t *testing.T) {
	keyring.MockInit()
	s := NewKeyringStorage("", "", nil)
	assert.True(t, s.IsAvailable())

	token, err := s.LoadToken()
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, s.SaveToken("secret", "u", "e@example.com"))
	token, err = s.LoadToken()
	require.NoError(t, err)
	assert.Equal(t, "secret", token)

	raw, err := keyring.Get(DefaultKeyringService, DefaultKeyringUser)
	require.NoError(t, err)
	assert.Contains(t, raw, `"token":"secret"`)

	require.NoError(t, s.DeleteToken())
	require.NoError(t, s.DeleteToken(), "deleting a missing entry is fine")
	assert.Contains(t, s.Describe(), DefaultKeyringService)
}

func TestKeyringStorage_CorruptEntryIsDeleted(t *testing.T) {
	keyring.MockInit()
	require.NoError(t, keyring.Set("svc", "usr", "garbage"))
	s := NewKeyringStorage("svc", "usr", nil)

	_, err := s.LoadToken()
	require.Error(t, err)
	_, err = keyring.Get("svc", "usr")
	assert.True(t, errors.Is(err, keyring.ErrNotFound))
}

func TestKeyringStorage_Unavailable(t *testing.T) {
	keyring.MockInitWithError(errors.New("dbus unavailable"))
	s := NewKeyringStorage("svc", "usr", nil)
	assert.False(t, s.IsAvailable())

	err := s.SaveToken("tok", "", "")
	require.Error(t, err)
	assert.Contains(t, errors.FlattenHints(err), "keychain")
}

func TestNewStorage_FallsBackToFile(t *testing.T) {
	keyring.MockInitWithError(errors.New("no keyring"))
	path := filepath.Join(t.TempDir(), "token.json")

	s, err := NewStorage(config.AuthConfig{TokenPath: path, KeyringService: "svc", KeyringUser: "usr"}, nil)
	require.NoError(t, err)
	fs, ok := s.(*FileStorage)
	require.True(t, ok)
	assert.Equal(t, path, fs.Path())

	keyring.MockInit()
	s, err = NewStorage(config.AuthConfig{TokenPath: path, KeyringService: "svc", KeyringUser: "usr"}, nil)
	require.NoError(t, err)
	_, ok = s.(*KeyringStorage)
	assert.True(t, ok)
}

func TestSession_TokenLifecycle(t *testing.T) {
	s, err := NewFileStorage(filepath.Join(t.TempDir(), "token.json"), nil)
	require.NoError(t, err)
	session := NewSession(s, nil)
	ctx := context.Background()

	_, err = session.Token(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, norberterror.ErrNotAuthenticated))
	assert.Equal(t, norberterror.CategoryAuth, norberterror.GetCategory(err))
	assert.Contains(t, norberterror.UserFacingMessage(err), "norbert login")

	require.Error(t, session.Login("  ", "", ""))
	require.NoError(t, session.Login(" jwt-abc ", "user-1", "me@example.com"))
	token, err := session.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt-abc", token)

	status, err := session.Status()
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "me@example.com", status.Email)

	require.NoError(t, session.Logout())
	_, err = session.Token(ctx)
	assert.True(t, errors.Is(err, norberterror.ErrNotAuthenticated))
}

func TestSession_CachesToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	s, err := NewFileStorage(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveToken("cached", "", ""))

	session := NewSession(s, nil)
	token, err := session.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)

	require.NoError(t, os.Remove(path))
	token, err = session.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
}

func TestSession_RespectsCancelledContext(t *testing.T) {
	s, err := NewFileStorage(filepath.Join(t.TempDir(), "token.json"), nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSession(s, nil).Token(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiagnoseKeyring(t *testing.T) {
	keyring.MockInit()
	results := DiagnoseKeyring("")
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success, r.Name)
		assert.Contains(t, FormatDiagnosticResult(r), "PASS")
	}

	keyring.MockInitWithError(errors.New("locked keychain that reports a very long error message"))
	results = DiagnoseKeyring("svc")
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	line := FormatDiagnosticResult(results[0])
	assert.Contains(t, line, "FAIL")
	assert.Contains(t, line, "...")
}
