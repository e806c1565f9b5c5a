package viewer

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// sessionClaims is the JWT payload of the session cookie. The cookie
// only proves possession of a server-issued session id; liveness is
// tracked server-side so idle timeouts cannot be forged away.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// signSession wraps a session id in a signed token for the cookie.
func signSession(sessionID string, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		SessionID: sessionID,
	})
	return token.SignedString(secret)
}

// parseSession verifies the cookie token and extracts the session id.
func parseSession(tokenString string, secret []byte) (string, error) {
	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.SessionID == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.SessionID, nil
}

// sessionStore tracks live sessions and their last activity time.
type sessionStore struct {
	mu      sync.Mutex
	last    map[string]time.Time
	timeout time.Duration
	now     func() time.Time
}

func newSessionStore(timeout time.Duration) *sessionStore {
	return &sessionStore{
		last:    make(map[string]time.Time),
		timeout: timeout,
		now:     time.Now,
	}
}

// Create registers a new session and returns its id.
func (s *sessionStore) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[id] = s.now()
	return id
}

// Touch validates a session and refreshes its idle deadline. Expired
// sessions are removed and reported invalid.
func (s *sessionStore) Touch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, ok := s.last[id]
	if !ok {
		return false
	}
	if s.now().Sub(seen) > s.timeout {
		delete(s.last, id)
		return false
	}
	s.last[id] = s.now()
	return true
}

// Delete removes a session (logout).
func (s *sessionStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, id)
}
