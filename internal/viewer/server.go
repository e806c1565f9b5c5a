// Package viewer serves a downloaded results tree as a small read-only
// web UI behind a password gate.
package viewer

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const sessionCookie = "mmdl_session"

// Config holds the viewer's runtime settings.
type Config struct {
	ResultsDir    string
	Password      string
	SessionSecret []byte
	IdleTimeout   time.Duration
}

// Server is the viewer HTTP handler.
type Server struct {
	cfg      Config
	router   chi.Router
	sessions *sessionStore
	logger   *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}

	s := &Server{
		cfg:      cfg,
		sessions: newSessionStore(cfg.IdleTimeout),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/api/dates", s.handleDates)
		r.Get("/api/channels/{date}", s.handleChannels)
		r.Get("/api/channel/{date}/{channel}/{file}", s.handleChannelData)
		r.Get("/files/{date}/{channel}/{file}", s.handleFile)
	})

	s.router = r
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireSession rejects requests without a live session. Every valid
// request refreshes the idle deadline.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		sessionID, err := parseSession(cookie.Value, s.cfg.SessionSecret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		if !s.sessions.Touch(sessionID) {
			writeError(w, http.StatusUnauthorized, "session expired")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if subtle.ConstantTimeCompare([]byte(body.Password), []byte(s.cfg.Password)) != 1 {
		s.logger.Warn("Rejected login attempt", zap.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "wrong password")
		return
	}

	sessionID := s.sessions.Create()
	token, err := signSession(sessionID, s.cfg.SessionSecret)
	if err != nil {
		s.logger.Error("Failed to sign session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		if sessionID, err := parseSession(cookie.Value, s.cfg.SessionSecret); err == nil {
			s.sessions.Delete(sessionID)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:   sessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDates lists the dated export directories, newest first.
func (s *Server) handleDates(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.cfg.ResultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []string{})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read results directory")
		return
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() && isDateDir(e.Name()) {
			dates = append(dates, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

// channelEntry is one channel folder in a date directory.
type channelEntry struct {
	Name     string `json:"name"`
	JSONFile string `json:"json_file"`
}

// handleChannels lists channel folders that contain an export JSON.
func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if !isDateDir(date) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}

	entries, err := os.ReadDir(filepath.Join(s.cfg.ResultsDir, date))
	if err != nil {
		writeError(w, http.StatusNotFound, "date not found")
		return
	}

	channels := []channelEntry{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		jsonFile, ok := firstJSONFile(filepath.Join(s.cfg.ResultsDir, date, e.Name()))
		if !ok {
			continue
		}
		channels = append(channels, channelEntry{Name: e.Name(), JSONFile: jsonFile})
	}
	sort.Slice(channels, func(i, j int) bool {
		return strings.ToLower(channels[i].Name) < strings.ToLower(channels[j].Name)
	})
	writeJSON(w, http.StatusOK, channels)
}

// handleChannelData returns the export JSON document for a channel,
// with each post's declared attachment names resolved against the
// files actually on disk. Collision handling can rename a stored
// file, so the declared name and the stored name may differ.
func (s *Server) handleChannelData(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolvePath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "channel data not found")
		return
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		writeError(w, http.StatusInternalServerError, "channel data unreadable")
		return
	}
	resolveAttachments(doc, filepath.Dir(path))
	writeJSON(w, http.StatusOK, doc)
}

// attachmentFile reports where a post's declared attachment ended up
// on disk, if it is present at all.
type attachmentFile struct {
	OriginalName string `json:"original_name"`
	ActualName   string `json:"actual_name"`
	Exists       bool   `json:"exists"`
}

// resolveAttachments adds an existing_files entry to every post that
// declares attachments. A declared name matches the stored file that
// carries the post's index prefix and contains the name; the first
// match wins. Unmatched names are reported with exists false so the
// UI can show them without a dead link.
func resolveAttachments(doc map[string]any, dir string) {
	posts, ok := doc["posts"].([]any)
	if !ok {
		return
	}

	var names []string
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}

	for _, p := range posts {
		post, ok := p.(map[string]any)
		if !ok {
			continue
		}
		files, ok := post["files"].([]any)
		if !ok || len(files) == 0 {
			continue
		}
		idx, _ := post["idx"].(float64)
		prefix := fmt.Sprintf("%03d_", int(idx))

		resolved := make([]attachmentFile, 0, len(files))
		for _, f := range files {
			declared, ok := f.(string)
			if !ok {
				continue
			}
			entry := attachmentFile{OriginalName: declared, ActualName: declared}
			for _, name := range names {
				if strings.HasPrefix(name, prefix) && strings.Contains(name[len(prefix):], declared) {
					entry.ActualName = name
					entry.Exists = true
					break
				}
			}
			resolved = append(resolved, entry)
		}
		post["existing_files"] = resolved
	}
}

// handleFile serves raw attachment bytes.
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	path, ok := s.resolvePath(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(indexHTML))
}

// resolvePath validates the date/channel/file URL segments and builds
// the on-disk path. Each segment must be a plain name; anything that
// could escape the results tree is rejected.
func (s *Server) resolvePath(r *http.Request) (string, bool) {
	date := chi.URLParam(r, "date")
	channel := chi.URLParam(r, "channel")
	file := chi.URLParam(r, "file")

	if !isDateDir(date) || !safeSegment(channel) || !safeSegment(file) {
		return "", false
	}
	return filepath.Join(s.cfg.ResultsDir, date, channel, file), true
}

// firstJSONFile returns the name of the first JSON document in a
// channel directory. Directories without one hold only attachments and
// are not listed as channels.
func firstJSONFile(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			return e.Name(), true
		}
	}
	return "", false
}

// safeSegment reports whether a URL segment is a plain file name.
func safeSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// isDateDir reports whether name looks like an 8-digit date directory.
func isDateDir(name string) bool {
	if len(name) != 8 {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
