package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptPrompter answers prompts from pre-loaded queues.
type scriptPrompter struct {
	answers []string
	secrets []string
	yesNos  []bool
}

func (s *scriptPrompter) Ask(prompt string) (string, error) {
	answer := s.answers[0]
	s.answers = s.answers[1:]
	return answer, nil
}

func (s *scriptPrompter) AskSecret(prompt string) (string, error) {
	secret := s.secrets[0]
	s.secrets = s.secrets[1:]
	return secret, nil
}

func (s *scriptPrompter) AskYesNo(prompt string) (bool, error) {
	answer := s.yesNos[0]
	s.yesNos = s.yesNos[1:]
	return answer, nil
}

func TestLoad_MissingFileYieldsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveAndLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	download := true
	cfg := &Config{
		Host:                      "chat.example.com",
		Port:                      8065,
		LoginMode:                 LoginModeToken,
		Token:                     "mmauthtoken",
		DownloadFiles:             &download,
		ExcludedExtensions:        []string{".mp4"},
		EnableIncrementalDownload: true,
		After:                     "2024-01-01",
	}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSave_PasswordNeverPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{Host: "chat.example.com", Password: "super-secret"}
	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded.Password)
}

func TestSave_RestrictivePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, Save(&Config{Host: "h"}, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestComplete_PasswordLogin(t *testing.T) {
	p := &scriptPrompter{
		answers: []string{"https://chat.example.com/", "", "password", "alice"},
		secrets: []string{"hunter2"},
		yesNos:  []bool{true},
	}
	cfg := &Config{}

	changed, err := Complete(cfg, p)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, "chat.example.com", cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, LoginModePassword, cfg.LoginMode)
	assert.Equal(t, "alice", cfg.Username)
	assert.Equal(t, "hunter2", cfg.Password)
	require.NotNil(t, cfg.DownloadFiles)
	assert.True(t, *cfg.DownloadFiles)
}

func TestComplete_TokenLogin(t *testing.T) {
	p := &scriptPrompter{
		answers: []string{"chat.example.com", "8065", "token", "mmauthtoken"},
		yesNos:  []bool{false},
	}
	cfg := &Config{}

	changed, err := Complete(cfg, p)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, 8065, cfg.Port)
	assert.Equal(t, "mmauthtoken", cfg.Token)
	assert.False(t, cfg.ShouldDownloadFiles())
}

func TestComplete_RepromptsInvalidLoginMode(t *testing.T) {
	p := &scriptPrompter{
		answers: []string{"chat.example.com", "", "oauth", "token", "tok"},
		yesNos:  []bool{true},
	}
	cfg := &Config{}

	_, err := Complete(cfg, p)
	require.NoError(t, err)
	assert.Equal(t, LoginModeToken, cfg.LoginMode)
}

func TestComplete_FullConfigOnlyAsksPassword(t *testing.T) {
	download := true
	cfg := &Config{
		Host:          "chat.example.com",
		Port:          443,
		LoginMode:     LoginModePassword,
		Username:      "alice",
		DownloadFiles: &download,
	}
	p := &scriptPrompter{secrets: []string{"hunter2"}}

	changed, err := Complete(cfg, p)
	require.NoError(t, err)
	// The password is re-entered every run but is not a persistable change.
	assert.False(t, changed)
	assert.Equal(t, "hunter2", cfg.Password)
}

func TestDateWindow(t *testing.T) {
	cfg := &Config{After: "2024-03-01", Before: "2024-03-31"}
	after, before, err := cfg.DateWindow()
	require.NoError(t, err)
	require.NotNil(t, after)
	require.NotNil(t, before)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *after)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), *before)

	_, _, err = (&Config{After: "01-03-2024"}).DateWindow()
	assert.Error(t, err)

	after, before, err = (&Config{}).DateWindow()
	require.NoError(t, err)
	assert.Nil(t, after)
	assert.Nil(t, before)
}

func TestStripScheme(t *testing.T) {
	tests := map[string]string{
		"https://chat.example.com":  "chat.example.com",
		"http://chat.example.com":   "chat.example.com",
		"https://chat.example.com/": "chat.example.com",
		"chat.example.com":          "chat.example.com",
		"  chat.example.com  ":      "chat.example.com",
	}
	for input, want := range tests {
		assert.Equal(t, want, StripScheme(input), "input %q", input)
	}
}
