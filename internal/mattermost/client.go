package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Config holds connection settings for the Mattermost client.
type Config struct {
	Host  string // server host, no scheme
	Port  int    // HTTPS port, usually 443
	Token string // session token; empty when using password login
}

// Client wraps the raw API with logging, retries and a user-id→name
// cache shared by all export operations.
type Client struct {
	api    API
	logger *zap.Logger

	userNames map[string]string
	teamNames map[string]string
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("mattermost host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 443
	}
	return newClientWithAPI(newHTTPAPI(cfg.Host, port, cfg.Token), logger), nil
}

// newClientWithAPI creates a client with a given API (for testing).
func newClientWithAPI(api API, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:       api,
		logger:    logger,
		userNames: make(map[string]string),
		teamNames: make(map[string]string),
	}
}

// Login authenticates with username and password. Token-configured
// clients are already authenticated and must not call this.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var user *User
	err := withRetry(ctx, c.logger, func() error {
		var e error
		user, e = c.api.Login(ctx, username, password)
		return e
	})
	return user, WrapError(c.logger, "login", err)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user *User
	err := withRetry(ctx, c.logger, func() error {
		var e error
		user, e = c.api.GetMe(ctx)
		return e
	})
	if err != nil {
		return nil, WrapError(c.logger, "get current user", err)
	}
	c.userNames[user.ID] = user.Username
	return user, nil
}

// LoadAllUsers pages through the full user directory and primes the
// username cache. Returns the number of users seen.
func (c *Client) LoadAllUsers(ctx context.Context) (int, error) {
	page := 0
	for {
		var users []User
		err := withRetry(ctx, c.logger, func() error {
			var e error
			users, e = c.api.GetUsersPage(ctx, page, 200)
			return e
		})
		if err != nil {
			return len(c.userNames), WrapError(c.logger, "list users", err)
		}
		if len(users) == 0 {
			return len(c.userNames), nil
		}
		for _, u := range users {
			c.userNames[u.ID] = u.Username
		}
		page++
	}
}

// ResolveUsername maps a user id to a username. Cache misses query the
// server; a not-found result falls back to the raw id. Both outcomes
// are cached so repeat lookups stay local.
func (c *Client) ResolveUsername(ctx context.Context, userID string) string {
	if name, ok := c.userNames[userID]; ok {
		return name
	}

	var user *User
	err := withRetry(ctx, c.logger, func() error {
		var e error
		user, e = c.api.GetUser(ctx, userID)
		return e
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("User lookup failed, using id as name",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		c.userNames[userID] = userID
		return userID
	}

	c.userNames[userID] = user.Username
	return user.Username
}

// KnownUsername reports the cached name for a user id without touching
// the network.
func (c *Client) KnownUsername(userID string) (string, bool) {
	name, ok := c.userNames[userID]
	return name, ok
}

// TeamsForUser lists the teams the user belongs to.
func (c *Client) TeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var teams []Team
	err := withRetry(ctx, c.logger, func() error {
		var e error
		teams, e = c.api.GetTeamsForUser(ctx, userID)
		return e
	})
	return teams, WrapError(c.logger, "list teams", err)
}

// TeamName resolves a team id to its name, cached per run.
func (c *Client) TeamName(ctx context.Context, teamID string) (string, error) {
	if name, ok := c.teamNames[teamID]; ok {
		return name, nil
	}
	var team *Team
	err := withRetry(ctx, c.logger, func() error {
		var e error
		team, e = c.api.GetTeam(ctx, teamID)
		return e
	})
	if err != nil {
		return "", WrapError(c.logger, "get team", err)
	}
	c.teamNames[teamID] = team.Name
	return team.Name, nil
}

// ChannelsForUser lists the channels the user belongs to on a team.
func (c *Client) ChannelsForUser(ctx context.Context, userID, teamID string) ([]Channel, error) {
	var channels []Channel
	err := withRetry(ctx, c.logger, func() error {
		var e error
		channels, e = c.api.GetChannelsForUser(ctx, userID, teamID)
		return e
	})
	return channels, WrapError(c.logger, "list channels", err)
}

// PostsPage fetches one page of a channel's history, newest first.
func (c *Client) PostsPage(ctx context.Context, channelID string, page, perPage int) (*PostList, error) {
	var list *PostList
	err := withRetry(ctx, c.logger, func() error {
		var e error
		list, e = c.api.GetPostsForChannelPage(ctx, channelID, page, perPage)
		return e
	})
	return list, WrapError(c.logger, "get channel posts", err)
}

// FetchFile retrieves one attachment's content in a single attempt; the
// attachment fetcher owns the retry budget.
//
// The server driver hands JSON attachments back pre-decoded, so those
// are re-serialized to compact JSON text instead of the original bytes.
// Downstream tooling reads that shape; keep it.
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	data, contentType, err := c.api.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if isJSONContentType(contentType) {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err == nil {
			var buf bytes.Buffer
			enc := json.NewEncoder(&buf)
			enc.SetEscapeHTML(false)
			if err := enc.Encode(decoded); err == nil {
				return bytes.TrimRight(buf.Bytes(), "\n"), nil
			}
		}
		// Not actually JSON despite the content type; keep raw bytes.
	}
	return data, nil
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(ct)
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}
