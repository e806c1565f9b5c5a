package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/poligogo/MattermostDll/internal/mattermost"
)

const defaultPageSize = 200

// jsonNameStrip are the filesystem-hostile characters removed from the
// channel name before it becomes the output JSON filename.
const jsonNameStrip = `?!/\.;:*"<>|`

// PostSource fetches one page of channel history, newest first. An
// empty page signals the end of the history.
type PostSource interface {
	PostsPage(ctx context.Context, channelID string, page, perPage int) (*mattermost.PostList, error)
}

// TeamNamer resolves a team id to the team name for the file header.
type TeamNamer interface {
	TeamName(ctx context.Context, teamID string) (string, error)
}

// channelHeader is the metadata object leading the export file.
type channelHeader struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Header      string `json:"header"`
	ID          string `json:"id"`
	Team        string `json:"team"`
	TeamID      string `json:"team_id"`
	ExportedAt  string `json:"exported_at"`
}

// Result summarizes one channel export.
type Result struct {
	OutputPath   string
	PostsEmitted int // posts written to the JSON file
	PostsSeen    int // raw positions, including date-filtered posts
	Stats        *Stats
}

// ChannelExporter drives the paginate → normalize → emit pipeline for
// one channel at a time, streaming posts to disk so memory stays
// bounded to one page regardless of channel size.
type ChannelExporter struct {
	Posts         PostSource
	Teams         TeamNamer
	Resolve       UsernameResolver
	Fetcher       *Fetcher
	Range         DateRange
	State         *SyncStore // nil unless incremental mode is active
	DownloadFiles bool
	PerPage       int
	Logger        *zap.Logger
}

// Export writes one channel's history under outputRoot. A pre-existing
// export is never overwritten; the new file gets the next numbered name.
func (e *ChannelExporter) Export(ctx context.Context, ch mattermost.Channel, outputRoot string) (Result, error) {
	stats := NewStats()
	res := Result{Stats: stats}

	// Path separators would splinter the directory layout.
	channelName := strings.NewReplacer(`\`, "", "/", "").Replace(ch.DisplayName)
	e.Logger.Info("Exporting channel", zap.String("channel", channelName))

	dir := filepath.Join(outputRoot, channelName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, fmt.Errorf("failed to create channel directory: %w", err)
	}

	teamName, err := e.Teams.TeamName(ctx, ch.TeamID)
	if err != nil {
		return res, err
	}

	filtered := stripRunes(channelName, jsonNameStrip)
	filename := ResolveCollision(dir, filtered+".json")
	outPath := filepath.Join(dir, filename)

	file, err := os.Create(outPath)
	if err != nil {
		return res, fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()
	res.OutputPath = outPath

	w := bufio.NewWriter(file)
	header := channelHeader{
		Name:        ch.Name,
		DisplayName: ch.DisplayName,
		Header:      ch.Header,
		ID:          ch.ID,
		Team:        teamName,
		TeamID:      ch.TeamID,
		ExportedAt:  time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	if err := writeExportHeader(w, header); err != nil {
		return res, err
	}

	norm := &Normalizer{
		Resolve:   e.Resolve,
		Range:     e.Range,
		OutputDir: dir,
		Logger:    e.Logger,
	}

	var cursor ChannelCursor
	var haveCursor bool
	if e.State != nil {
		cursor, haveCursor = e.State.ChannelCursor(ch.ID)
	}

	perPage := e.PerPage
	if perPage <= 0 {
		perPage = defaultPageSize
	}

	var (
		lastAt    int64
		lastID    string
		firstPost = true
	)

	for page := 0; ; page++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		e.Logger.Info("Requesting channel page",
			zap.String("channel", channelName),
			zap.Int("page", page))

		list, err := e.Posts.PostsPage(ctx, ch.ID, page, perPage)
		if err != nil {
			return res, err
		}
		if len(list.Posts) == 0 {
			break
		}

		// Pages arrive newest first; reverse so emission within the
		// page is chronological.
		for i := len(list.Order) - 1; i >= 0; i-- {
			post, ok := list.Posts[list.Order[i]]
			if !ok {
				continue
			}
			res.PostsSeen++

			if haveCursor && post.CreateAt <= cursor.LastPostAt {
				continue
			}

			exported, accepted := norm.Normalize(ctx, post, res.PostsEmitted)
			if !accepted {
				continue
			}

			if err := writeExportPost(w, exported, firstPost); err != nil {
				return res, err
			}
			firstPost = false
			res.PostsEmitted++

			if post.CreateAt > lastAt {
				lastAt, lastID = post.CreateAt, post.ID
			}

			if e.DownloadFiles && e.Fetcher != nil {
				for _, f := range post.Metadata.Files {
					fetched, err := e.Fetcher.Fetch(ctx, f, exported.Idx, dir)
					stats.Add(fetched)
					if err != nil {
						return res, err
					}
				}
			}
		}

		// Flush after every page so an interrupt leaves at most a
		// truncated but parse-recoverable file behind.
		if err := w.Flush(); err != nil {
			return res, fmt.Errorf("failed to flush output: %w", err)
		}

		e.Logger.Info("Processed posts so far",
			zap.String("channel", channelName),
			zap.Int("posts", res.PostsSeen))
	}

	if err := closeExportFile(w); err != nil {
		return res, err
	}

	if e.State != nil && res.PostsEmitted > 0 {
		if err := e.State.UpdateChannelCursor(ch.ID, ch.DisplayName, lastAt, lastID, res.PostsEmitted); err != nil {
			return res, fmt.Errorf("failed to persist sync cursor: %w", err)
		}
	}

	e.Logger.Info("Exported channel data",
		zap.String("channel", channelName),
		zap.String("file", filename),
		zap.Int("posts", res.PostsEmitted))
	return res, nil
}

// writeExportHeader opens the JSON document and writes the channel
// metadata followed by the posts array opener.
func writeExportHeader(w *bufio.Writer, header channelHeader) error {
	b, err := json.MarshalIndent(header, "  ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal channel header: %w", err)
	}
	if _, err := fmt.Fprintf(w, "{\n  \"channel\": %s,\n  \"posts\": [", b); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return w.Flush()
}

// writeExportPost appends one post to the open posts array and flushes
// it to disk immediately.
func writeExportPost(w *bufio.Writer, post *ExportedPost, first bool) error {
	b, err := json.MarshalIndent(post, "    ", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal post: %w", err)
	}
	sep := ","
	if first {
		sep = ""
	}
	if _, err := fmt.Fprintf(w, "%s\n    %s", sep, b); err != nil {
		return fmt.Errorf("failed to write post: %w", err)
	}
	return w.Flush()
}

// closeExportFile terminates the posts array and the document.
func closeExportFile(w *bufio.Writer) error {
	if _, err := w.WriteString("\n  ]\n}\n"); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}
	return w.Flush()
}

// stripRunes removes every rune in cutset from s.
func stripRunes(s, cutset string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(cutset, r) {
			return -1
		}
		return r
	}, s)
}
