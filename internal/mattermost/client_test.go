package mattermost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestLogin_CapturesSessionToken(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	var seenAuth string
	mock.addHandler("/api/v4/users/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode login body: %v", err)
		}
		if body["login_id"] != "alice" || body["password"] != "hunter2" {
			t.Errorf("unexpected credentials: %v", body)
		}
		w.Header().Set("Token", "session-token-123")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(User{ID: "u1", Username: "alice"})
	})
	mock.addHandler("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(User{ID: "u1", Username: "alice"})
	})

	logger := newTestLogger()
	client := newClientWithAPI(mock.api(""), logger.Logger)

	user, err := client.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Username != "alice" {
		t.Errorf("got username %q, want %q", user.Username, "alice")
	}

	// Subsequent requests carry the captured token.
	if _, err := client.Me(context.Background()); err != nil {
		t.Fatalf("me: %v", err)
	}
	if seenAuth != "Bearer session-token-123" {
		t.Errorf("got Authorization %q, want bearer with captured token", seenAuth)
	}
}

func TestLogin_MissingTokenHeader(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	mock.addHandler("/api/v4/users/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(User{ID: "u1", Username: "alice"})
	})

	client := newClientWithAPI(mock.api(""), newTestLogger().Logger)
	if _, err := client.Login(context.Background(), "alice", "hunter2"); err == nil {
		t.Fatal("expected error for login response without Token header")
	}
}

func TestResolveUsername_CachesAndFallsBack(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	lookups := 0
	mock.addHandler("/api/v4/users/u-known", func(w http.ResponseWriter, r *http.Request) {
		lookups++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(User{ID: "u-known", Username: "bob"})
	})
	mock.addHandler("/api/v4/users/u-gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(AppError{ID: "store.sql_user.missing_account.const", Message: "user not found"})
	})

	client := newClientWithAPI(mock.api("tok"), newTestLogger().Logger)
	ctx := context.Background()

	if got := client.ResolveUsername(ctx, "u-known"); got != "bob" {
		t.Errorf("got %q, want %q", got, "bob")
	}
	if got := client.ResolveUsername(ctx, "u-known"); got != "bob" {
		t.Errorf("cached lookup: got %q, want %q", got, "bob")
	}
	if lookups != 1 {
		t.Errorf("server saw %d lookups, want 1 (second should hit cache)", lookups)
	}

	// Unknown user falls back to the raw id, and that is cached too.
	if got := client.ResolveUsername(ctx, "u-gone"); got != "u-gone" {
		t.Errorf("got %q, want raw id fallback", got)
	}
	name, ok := client.KnownUsername("u-gone")
	if !ok || name != "u-gone" {
		t.Errorf("fallback not cached: got %q, %v", name, ok)
	}
}

func TestLoadAllUsers_Pages(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	mock.addHandler("/api/v4/users", func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		switch page {
		case "0":
			users := make([]User, 0, 200)
			for i := 0; i < 200; i++ {
				users = append(users, User{ID: fmt.Sprintf("u%03d", i), Username: fmt.Sprintf("user%03d", i)})
			}
			json.NewEncoder(w).Encode(users)
		case "1":
			json.NewEncoder(w).Encode([]User{{ID: "u200", Username: "user200"}})
		default:
			json.NewEncoder(w).Encode([]User{})
		}
	})

	client := newClientWithAPI(mock.api("tok"), newTestLogger().Logger)
	n, err := client.LoadAllUsers(context.Background())
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	if n != 201 {
		t.Errorf("got %d users, want 201", n)
	}
	if name, ok := client.KnownUsername("u200"); !ok || name != "user200" {
		t.Errorf("cache miss for last page user: %q, %v", name, ok)
	}
}

func TestFetchFile_ReserializesJSON(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	mock.addHandler("/api/v4/files/f-json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte("{\n  \"url\": \"https://a?b=1&c=2\",\n  \"n\": 1\n}\n"))
	})
	mock.addHandler("/api/v4/files/f-bin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte{0x00, 0x01, 0x02})
	})

	client := newClientWithAPI(mock.api("tok"), newTestLogger().Logger)
	ctx := context.Background()

	data, err := client.FetchFile(ctx, "f-json")
	if err != nil {
		t.Fatalf("fetch json file: %v", err)
	}
	got := string(data)
	if got != `{"n":1,"url":"https://a?b=1&c=2"}` {
		t.Errorf("json attachment not compacted: %q", got)
	}

	raw, err := client.FetchFile(ctx, "f-bin")
	if err != nil {
		t.Fatalf("fetch binary file: %v", err)
	}
	if len(raw) != 3 || raw[0] != 0x00 {
		t.Errorf("binary attachment altered: %v", raw)
	}
}

func TestPostsPage_RateLimitedThenSucceeds(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	calls := 0
	mock.addHandler("/api/v4/channels/c1/posts", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(PostList{
			Order: []string{"p1"},
			Posts: map[string]*Post{"p1": {ID: "p1", Message: "hi"}},
		})
	})

	logger := newTestLogger()
	client := newClientWithAPI(mock.api("tok"), logger.Logger)

	list, err := client.PostsPage(context.Background(), "c1", 0, 200)
	if err != nil {
		t.Fatalf("posts page: %v", err)
	}
	if len(list.Order) != 1 || list.Posts["p1"].Message != "hi" {
		t.Errorf("unexpected page: %+v", list)
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
	if !logger.HasMessage("Rate limited by server, waiting") {
		t.Error("rate limit wait was not logged")
	}
}

func TestTeamName_FailsFastOnForbidden(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	calls := 0
	mock.addHandler("/api/v4/teams/t1", func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(AppError{ID: "api.team.no_access", Message: "no access"})
	})

	client := newClientWithAPI(mock.api("tok"), newTestLogger().Logger)
	if _, err := client.TeamName(context.Background(), "t1"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("4xx was retried: %d calls", calls)
	}
}

func TestMe_AuthErrorGuidance(t *testing.T) {
	mock := newMockMattermostServer()
	defer mock.close()

	mock.addHandler("/api/v4/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(AppError{
			ID:      "api.context.session_expired.app_error",
			Message: "session expired",
		})
	})

	logger := newTestLogger()
	client := newClientWithAPI(mock.api("stale"), logger.Logger)

	_, err := client.Me(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("got %v, want AuthError", err)
	}
	if authErr.ID != "api.context.session_expired.app_error" {
		t.Errorf("got id %q", authErr.ID)
	}
	if !logger.HasMessage("Mattermost authentication failed") {
		t.Error("auth failure was not logged")
	}
}
