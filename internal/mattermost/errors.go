package mattermost

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound marks a lookup for a resource the server does not know.
// The normalizer treats this as "fall back to the raw id", not a failure.
var ErrNotFound = errors.New("resource not found")

// AppError is the error envelope returned by the Mattermost API.
type AppError struct {
	ID         string `json:"id"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

func (e *AppError) Error() string {
	return fmt.Sprintf("mattermost: %s (id: %s, status: %d)", e.Message, e.ID, e.StatusCode)
}

// RateLimitedError is returned for HTTP 429 responses and carries the
// server's requested wait time.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("mattermost: rate limited, retry after %s", e.RetryAfter)
}

// authErrorIDs are API error ids that indicate authentication problems.
var authErrorIDs = map[string]string{
	"api.context.session_expired.app_error":    "The session has expired. Please log in again.",
	"api.context.invalid_token.error":          "The session token is invalid. Please obtain a fresh MMAUTHTOKEN.",
	"api.user.login.invalid_credentials_email_username": "Invalid username or password.",
	"api.user.check_user_password.invalid.app_error":    "Invalid username or password.",
	"api.context.permissions.app_error":        "The account lacks permission for this resource.",
}

// AuthError represents an authentication failure with guidance for
// resolution.
type AuthError struct {
	ID      string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("MATTERMOST AUTHENTICATION ERROR: %s (id: %s)", e.Message, e.ID)
}

// matchAuthError checks whether err carries a known auth error id.
// Returns nil if no auth error is found.
func matchAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if msg, ok := authErrorIDs[appErr.ID]; ok {
			return &AuthError{ID: appErr.ID, Message: msg}
		}
		if appErr.StatusCode == http.StatusUnauthorized {
			return &AuthError{ID: appErr.ID, Message: "Authentication was rejected. Check your credentials."}
		}
	}
	return nil
}

// WrapError checks for auth errors and returns an enhanced error with
// logging. Called at operation boundaries so the operator sees clear
// guidance instead of a bare status code.
func WrapError(logger *zap.Logger, operation string, err error) error {
	if err == nil {
		return nil
	}

	if authErr := matchAuthError(err); authErr != nil {
		logger.Error("Mattermost authentication failed",
			zap.String("operation", operation),
			zap.String("guidance", authErr.Message),
			zap.Error(err))
		return authErr
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// readAPIError consumes an error response body and maps it to a typed
// error. 404 maps to ErrNotFound, 429 to RateLimitedError.
func readAPIError(resp *http.Response) error {
	if resp.StatusCode == http.StatusTooManyRequests {
		wait := time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitedError{RetryAfter: wait}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	appErr := &AppError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, appErr); err != nil || appErr.Message == "" {
		appErr.Message = strings.TrimSpace(string(body))
		if appErr.Message == "" {
			appErr.Message = resp.Status
		}
	}
	appErr.StatusCode = resp.StatusCode

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, appErr.Message)
	}
	return appErr
}
