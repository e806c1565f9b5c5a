package mattermost

import (
	"net/http"
	"net/http/httptest"
)

// mockMattermostServer creates a test HTTP server that mocks the
// Mattermost REST v4 API.
type mockMattermostServer struct {
	server   *httptest.Server
	handlers map[string]http.HandlerFunc
}

func newMockMattermostServer() *mockMattermostServer {
	m := &mockMattermostServer{
		handlers: make(map[string]http.HandlerFunc),
	}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		http.Error(w, "mock not found: "+r.URL.Path, http.StatusNotFound)
	}))

	return m
}

func (m *mockMattermostServer) close() {
	m.server.Close()
}

func (m *mockMattermostServer) addHandler(path string, handler http.HandlerFunc) {
	m.handlers[path] = handler
}

// api returns an httpAPI pointed at the mock server.
func (m *mockMattermostServer) api(token string) *httpAPI {
	auth := newTokenTransport(token)
	return &httpAPI{
		baseURL: m.server.URL + "/api/v4",
		client:  &http.Client{Transport: auth},
		auth:    auth,
	}
}
