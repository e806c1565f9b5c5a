package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/poligogo/MattermostDll/internal/mattermost"
)

// DateRange filters posts by creation time. Bounds are inclusive and
// compared on whole seconds, matching the on-disk timestamp precision.
type DateRange struct {
	After  *time.Time
	Before *time.Time
}

// Excludes reports whether a post created at the given epoch
// millisecond instant falls outside the range.
func (r DateRange) Excludes(createAtMillis int64) bool {
	created := createAtMillis / 1000
	if r.Before != nil && created > r.Before.Unix() {
		return true
	}
	if r.After != nil && created < r.After.Unix() {
		return true
	}
	return false
}

// ExportedPost is the normalized record written to the channel JSON.
type ExportedPost struct {
	Idx      int      `json:"idx"`
	ID       string   `json:"id"`
	Created  string   `json:"created"`
	Username string   `json:"username"`
	Message  string   `json:"message"`
	RootID   string   `json:"root_id,omitempty"`
	Files    []string `json:"files,omitempty"`
}

// UsernameResolver maps a user id to a display name. Lookups that fail
// on the remote fall back to the raw id inside the resolver.
type UsernameResolver func(ctx context.Context, userID string) string

// Normalizer converts raw posts into exported records. OutputDir is the
// channel directory; extracted code blocks are written there as a side
// effect of normalization.
type Normalizer struct {
	Resolve   UsernameResolver
	Range     DateRange
	OutputDir string
	Logger    *zap.Logger
}

// Normalize converts one raw post. The boolean is false when the post
// is excluded by the date range; that is a filter outcome, not an error.
func (n *Normalizer) Normalize(ctx context.Context, post *mattermost.Post, idx int) (*ExportedPost, bool) {
	if n.Range.Excludes(post.CreateAt) {
		return nil, false
	}

	created := time.UnixMilli(post.CreateAt).UTC().Format("2006-01-02T15:04:05Z")
	out := &ExportedPost{
		Idx:      idx,
		ID:       post.ID,
		Created:  created,
		Username: n.Resolve(ctx, post.UserID),
		Message:  post.Message,
		RootID:   post.RootID,
	}

	n.extractCodeBlock(post.Message, idx)

	for _, f := range post.Metadata.Files {
		out.Files = append(out.Files, f.Name)
	}

	return out, true
}

// extractCodeBlock dumps the text between the first and last triple
// backtick fence to <idx>_code.txt when the message holds at least two
// fences and the cut is non-empty.
func (n *Normalizer) extractCodeBlock(message string, idx int) {
	if strings.Count(message, "```") < 2 {
		return
	}

	start := strings.Index(message, "```") + 3
	end := strings.LastIndex(message, "```")
	cut := message[start:end]
	if len(cut) == 0 {
		n.Logger.Debug("Code fence is empty, nothing to dump", zap.Int("idx", idx))
		return
	}

	name := ResolveCollision(n.OutputDir, fmt.Sprintf("%03d_code.txt", idx))
	path := filepath.Join(n.OutputDir, name)
	if err := os.WriteFile(path, []byte(cut), 0o644); err != nil {
		n.Logger.Error("Failed to write code block",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	n.Logger.Info("Extracted code block", zap.String("file", name))
}
