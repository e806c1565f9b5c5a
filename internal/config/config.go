// Package config manages the exporter's persisted configuration and
// the interactive completion of missing values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Login modes accepted in the config file.
const (
	LoginModePassword = "password"
	LoginModeToken    = "token"
)

// DefaultPort is the HTTPS port assumed when none is configured.
const DefaultPort = 443

// Config mirrors config.json. The password is never written to disk;
// it lives only in memory for the duration of a run.
type Config struct {
	Host                      string   `json:"host,omitempty"`
	Port                      int      `json:"port,omitempty"`
	LoginMode                 string   `json:"login_mode,omitempty"`
	Username                  string   `json:"username,omitempty"`
	Token                     string   `json:"token,omitempty"`
	DownloadFiles             *bool    `json:"download_files,omitempty"`
	ExcludedExtensions        []string `json:"excluded_extensions,omitempty"`
	EnableIncrementalDownload bool     `json:"enable_incremental_download,omitempty"`
	After                     string   `json:"after,omitempty"`
	Before                    string   `json:"before,omitempty"`

	Password string `json:"-"`
}

// ShouldDownloadFiles reports the download_files setting, defaulting to
// false when the option was never answered.
func (c *Config) ShouldDownloadFiles() bool {
	return c.DownloadFiles != nil && *c.DownloadFiles
}

// DateWindow parses the optional after/before date strings
// (YYYY-MM-DD, interpreted as UTC midnight). Nil means no bound.
func (c *Config) DateWindow() (after, before *time.Time, err error) {
	if c.After != "" {
		t, err := time.ParseInLocation("2006-01-02", c.After, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid after date %q: %w", c.After, err)
		}
		after = &t
	}
	if c.Before != "" {
		t, err := time.ParseInLocation("2006-01-02", c.Before, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid before date %q: %w", c.Before, err)
		}
		before = &t
	}
	return after, before, nil
}

// Load reads the config file. A missing file is not an error; it simply
// yields an empty config to be completed interactively.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to path. The password field is excluded by its
// json tag; credentials entered interactively never reach disk.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Prompter collects answers for missing config values. The terminal
// implementation lives in this package; tests script their own.
type Prompter interface {
	Ask(prompt string) (string, error)
	AskSecret(prompt string) (string, error)
	AskYesNo(prompt string) (bool, error)
}

// Complete fills missing config values via the prompter, following the
// same order the tool has always asked in. Returns whether any
// persistable value changed.
func Complete(cfg *Config, p Prompter) (changed bool, err error) {
	if cfg.Host == "" {
		host, err := p.Ask("Please input host/server address: ")
		if err != nil {
			return changed, err
		}
		cfg.Host = StripScheme(host)
		changed = true
	}

	if cfg.Port == 0 {
		answer, err := p.Ask(fmt.Sprintf("Please input port (default %d): ", DefaultPort))
		if err != nil {
			return changed, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			cfg.Port = DefaultPort
		} else {
			port, err := strconv.Atoi(answer)
			if err != nil {
				return changed, fmt.Errorf("invalid port %q: %w", answer, err)
			}
			cfg.Port = port
		}
		changed = true
	}

	for cfg.LoginMode != LoginModePassword && cfg.LoginMode != LoginModeToken {
		mode, err := p.Ask("Please input login_mode 'password' or 'token': ")
		if err != nil {
			return changed, err
		}
		cfg.LoginMode = strings.TrimSpace(mode)
		changed = true
	}

	if cfg.LoginMode == LoginModePassword {
		if cfg.Username == "" {
			username, err := p.Ask("Please input your username: ")
			if err != nil {
				return changed, err
			}
			cfg.Username = strings.TrimSpace(username)
			changed = true
		}
		password, err := p.AskSecret("Enter your password (hidden): ")
		if err != nil {
			return changed, err
		}
		cfg.Password = password
	} else if cfg.Token == "" {
		token, err := p.Ask("Please input your login token (MMAUTHTOKEN): ")
		if err != nil {
			return changed, err
		}
		cfg.Token = strings.TrimSpace(token)
		changed = true
	}

	if cfg.DownloadFiles == nil {
		download, err := p.AskYesNo("Should files be downloaded? y/n: ")
		if err != nil {
			return changed, err
		}
		cfg.DownloadFiles = &download
		changed = true
	}

	return changed, nil
}

// StripScheme removes a leading http:// or https:// from a host input.
func StripScheme(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	return strings.TrimSuffix(host, "/")
}
