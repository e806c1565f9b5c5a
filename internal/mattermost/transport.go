package mattermost

import "net/http"

// tokenTransport wraps an http.RoundTripper to add the bearer token
// header. The token may be set after construction: password logins only
// learn the session token from the login response.
type tokenTransport struct {
	transport http.RoundTripper
	token     string
}

func newTokenTransport(token string) *tokenTransport {
	return &tokenTransport{
		transport: http.DefaultTransport,
		token:     token,
	}
}

// SetToken installs the session token used for subsequent requests.
// The exporter is single-threaded, so no locking is needed here.
func (t *tokenTransport) SetToken(token string) {
	t.token = token
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}
	return t.transport.RoundTrip(req)
}
