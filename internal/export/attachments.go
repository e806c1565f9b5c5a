package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/poligogo/MattermostDll/internal/mattermost"
)

const downloadAttempts = 3

// Skip reasons reported in the run summary.
const (
	SkipAlreadyDownloaded = "already_downloaded"
	skipExtensionPrefix   = "excluded_extension_"
)

// FetchStatus is the outcome of one attachment fetch.
type FetchStatus int

const (
	FetchDownloaded FetchStatus = iota
	FetchSkipped
	FetchFailed
)

// FetchResult reports what happened to one attachment.
type FetchResult struct {
	Status FetchStatus
	Reason string // set for FetchSkipped
	Path   string // set for FetchDownloaded
}

// SkipPolicy decides whether a download should not be attempted based
// on the declared filename. Extensions are matched case-insensitively
// against the configured dot-prefixed exclusion set.
type SkipPolicy struct {
	ExcludedExtensions []string
}

// Evaluate returns a skip reason and true when the name is excluded.
func (p SkipPolicy) Evaluate(name string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return "", false
	}
	for _, excluded := range p.ExcludedExtensions {
		if ext == strings.ToLower(excluded) {
			return skipExtensionPrefix + ext, true
		}
	}
	return "", false
}

// FileSource retrieves one attachment's content in a single attempt.
type FileSource interface {
	FetchFile(ctx context.Context, fileID string) ([]byte, error)
}

// Fetcher downloads attachments with bounded retries, collision-safe
// naming and optional incremental skip via the sync store.
type Fetcher struct {
	Files  FileSource
	Policy SkipPolicy
	State  *SyncStore // nil when incremental mode is off
	Logger *zap.Logger
}

// Fetch downloads one attachment into dir under <idx>_<name>. Download
// failures past the retry budget are reported in the result, never
// raised; the caller keeps processing the remaining attachments. A sync
// state persistence failure is the one hard error: losing that record
// means a silent duplicate download on resume.
func (f *Fetcher) Fetch(ctx context.Context, file mattermost.FileInfo, idx int, dir string) (FetchResult, error) {
	if f.State != nil && f.State.IsAttachmentDownloaded(file.ID) {
		f.Logger.Info("Attachment already downloaded, skipping",
			zap.String("file_id", file.ID),
			zap.String("name", file.Name))
		return FetchResult{Status: FetchSkipped, Reason: SkipAlreadyDownloaded}, nil
	}

	if reason, skip := f.Policy.Evaluate(file.Name); skip {
		f.Logger.Info("Attachment excluded by extension",
			zap.String("name", file.Name),
			zap.String("reason", reason))
		return FetchResult{Status: FetchSkipped, Reason: reason}, nil
	}

	f.Logger.Info("Downloading attachment", zap.String("name", file.Name))

	var data []byte
	var err error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		data, err = f.Files.FetchFile(ctx, file.ID)
		if err == nil {
			break
		}
		f.Logger.Warn("Downloading file failed",
			zap.String("name", file.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", downloadAttempts),
			zap.Error(err))
	}
	if err != nil {
		f.Logger.Error("Failed to download attachment after all attempts, skipping",
			zap.String("name", file.Name),
			zap.Int("attempts", downloadAttempts))
		return FetchResult{Status: FetchFailed}, nil
	}

	name := ResolveCollision(dir, fmt.Sprintf("%03d_%s", idx, file.Name))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		f.Logger.Error("Failed to save attachment",
			zap.String("path", path),
			zap.Error(err))
		return FetchResult{Status: FetchFailed}, nil
	}

	if f.State != nil {
		if err := f.State.MarkAttachmentDownloaded(file.ID, path, data); err != nil {
			f.Logger.Error("Failed to persist sync state for attachment",
				zap.String("file_id", file.ID),
				zap.Error(err))
			return FetchResult{Status: FetchFailed}, fmt.Errorf("failed to persist sync state for attachment %s: %w", file.ID, err)
		}
	}

	f.Logger.Info("Successfully downloaded attachment", zap.String("file", name))
	return FetchResult{Status: FetchDownloaded, Path: path}, nil
}

// Stats aggregates attachment outcomes across channels.
type Stats struct {
	Downloaded int
	Failed     int
	Skipped    map[string]int
}

func NewStats() *Stats {
	return &Stats{Skipped: make(map[string]int)}
}

// Add records one fetch result.
func (s *Stats) Add(r FetchResult) {
	switch r.Status {
	case FetchDownloaded:
		s.Downloaded++
	case FetchFailed:
		s.Failed++
	case FetchSkipped:
		s.Skipped[r.Reason]++
	}
}

// Merge folds another stats block into this one.
func (s *Stats) Merge(other *Stats) {
	if other == nil {
		return
	}
	s.Downloaded += other.Downloaded
	s.Failed += other.Failed
	for reason, n := range other.Skipped {
		s.Skipped[reason] += n
	}
}
