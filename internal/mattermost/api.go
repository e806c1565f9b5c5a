package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// User is a Mattermost account. Only the fields the exporter needs.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Team is a Mattermost team.
type Team struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Channel types as reported by the Mattermost API.
const (
	ChannelTypeOpen    = "O"
	ChannelTypePrivate = "P"
	ChannelTypeDirect  = "D"
	ChannelTypeGroup   = "G"
)

// Channel is a conversation stream. TeamID is attached by the caller
// after the channel list is fetched, since the API reports channels
// without team context for direct messages.
type Channel struct {
	ID          string `json:"id"`
	TeamID      string `json:"team_id"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Header      string `json:"header"`
}

// FileInfo describes an attachment as declared by the server.
type FileInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// PostMetadata carries the attachment descriptors of a post.
type PostMetadata struct {
	Files []FileInfo `json:"files"`
}

// Post is one raw message record as returned by the server.
type Post struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	ChannelID string       `json:"channel_id"`
	CreateAt  int64        `json:"create_at"` // epoch milliseconds
	Message   string       `json:"message"`
	RootID    string       `json:"root_id"`
	Metadata  PostMetadata `json:"metadata"`
}

// PostList is one page of channel history. Order holds post IDs in the
// server's reverse-chronological order; Posts maps ID to record.
type PostList struct {
	Order []string         `json:"order"`
	Posts map[string]*Post `json:"posts"`
}

// API defines the Mattermost API methods used by the client.
type API interface {
	Login(ctx context.Context, loginID, password string) (*User, error)
	GetMe(ctx context.Context) (*User, error)
	GetUser(ctx context.Context, userID string) (*User, error)
	GetUsersPage(ctx context.Context, page, perPage int) ([]User, error)
	GetTeamsForUser(ctx context.Context, userID string) ([]Team, error)
	GetTeam(ctx context.Context, teamID string) (*Team, error)
	GetChannelsForUser(ctx context.Context, userID, teamID string) ([]Channel, error)
	GetPostsForChannelPage(ctx context.Context, channelID string, page, perPage int) (*PostList, error)
	GetFile(ctx context.Context, fileID string) (data []byte, contentType string, err error)
}

// httpAPI implements API against a Mattermost REST v4 endpoint.
type httpAPI struct {
	baseURL string // e.g. https://chat.example.com:443/api/v4
	client  *http.Client
	auth    *tokenTransport
}

func newHTTPAPI(host string, port int, token string) *httpAPI {
	auth := newTokenTransport(token)
	return &httpAPI{
		baseURL: fmt.Sprintf("https://%s:%d/api/v4", host, port),
		client:  &http.Client{Transport: auth},
		auth:    auth,
	}
}

// Login authenticates with login id + password and captures the session
// token from the Token response header for subsequent requests.
func (a *httpAPI) Login(ctx context.Context, loginID, password string) (*User, error) {
	body, err := json.Marshal(map[string]string{
		"login_id": loginID,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/users/login", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readAPIError(resp)
	}

	token := resp.Header.Get("Token")
	if token == "" {
		return nil, fmt.Errorf("login response carried no session token")
	}
	a.auth.SetToken(token)

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	return &user, nil
}

func (a *httpAPI) GetMe(ctx context.Context) (*User, error) {
	var user User
	if err := a.getJSON(ctx, "/users/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *httpAPI) GetUser(ctx context.Context, userID string) (*User, error) {
	var user User
	if err := a.getJSON(ctx, "/users/"+url.PathEscape(userID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (a *httpAPI) GetUsersPage(ctx context.Context, page, perPage int) ([]User, error) {
	var users []User
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if err := a.getJSON(ctx, "/users", q, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (a *httpAPI) GetTeamsForUser(ctx context.Context, userID string) ([]Team, error) {
	var teams []Team
	if err := a.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/teams", nil, &teams); err != nil {
		return nil, err
	}
	return teams, nil
}

func (a *httpAPI) GetTeam(ctx context.Context, teamID string) (*Team, error) {
	var team Team
	if err := a.getJSON(ctx, "/teams/"+url.PathEscape(teamID), nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

func (a *httpAPI) GetChannelsForUser(ctx context.Context, userID, teamID string) ([]Channel, error) {
	var channels []Channel
	path := "/users/" + url.PathEscape(userID) + "/teams/" + url.PathEscape(teamID) + "/channels"
	if err := a.getJSON(ctx, path, nil, &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

func (a *httpAPI) GetPostsForChannelPage(ctx context.Context, channelID string, page, perPage int) (*PostList, error) {
	var list PostList
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	if err := a.getJSON(ctx, "/channels/"+url.PathEscape(channelID)+"/posts", q, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (a *httpAPI) GetFile(ctx context.Context, fileID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", readAPIError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// getJSON performs an authenticated GET and decodes the JSON response.
func (a *httpAPI) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return readAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response for %s: %w", path, err)
	}
	return nil
}
