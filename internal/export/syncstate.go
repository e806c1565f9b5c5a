package export

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

const syncSchemaVersion = 1

// ChannelCursor records where an incremental export last stopped for
// one channel.
type ChannelCursor struct {
	Name       string    `json:"name"`
	LastPostAt int64     `json:"last_post_at"`
	LastPostID string    `json:"last_post_id"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// AttachmentRecord marks an attachment as downloaded, with its stored
// location.
type AttachmentRecord struct {
	Path         string    `json:"path"`
	Hash         string    `json:"hash,omitempty"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// SyncEvent is one entry in the sync history log.
type SyncEvent struct {
	Time    time.Time `json:"time"`
	Channel string    `json:"channel"`
	Posts   int       `json:"posts"`
}

// syncStateFile is the on-disk envelope. The explicit schema version
// lets future formats migrate old files instead of resetting them.
type syncStateFile struct {
	SchemaVersion int                         `json:"schema_version"`
	CreatedAt     time.Time                   `json:"created_at"`
	LastFullSync  time.Time                   `json:"last_full_sync,omitempty"`
	Channels      map[string]ChannelCursor    `json:"channels"`
	Attachments   map[string]AttachmentRecord `json:"attachments"`
	History       []SyncEvent                 `json:"history,omitempty"`
}

func emptySyncState() syncStateFile {
	return syncStateFile{
		SchemaVersion: syncSchemaVersion,
		CreatedAt:     time.Now().UTC(),
		Channels:      make(map[string]ChannelCursor),
		Attachments:   make(map[string]AttachmentRecord),
	}
}

// SyncStore persists incremental sync state. Every mutation is written
// through to disk before the caller proceeds; losing this state means
// duplicate downloads on the next run, so save failures are hard errors.
type SyncStore struct {
	path   string
	logger *zap.Logger
	state  syncStateFile
}

// LoadSyncStore reads the state at path. A missing or unparseable file
// yields a fresh empty state; corruption is recovered, not fatal.
func LoadSyncStore(path string, logger *zap.Logger) *SyncStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SyncStore{path: path, logger: logger, state: emptySyncState()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read sync state, starting fresh", zap.Error(err))
		}
		return s
	}

	var loaded syncStateFile
	if err := json.Unmarshal(data, &loaded); err != nil {
		logger.Warn("Sync state is corrupt, starting fresh",
			zap.String("path", path),
			zap.Error(err))
		return s
	}
	if loaded.Channels == nil {
		loaded.Channels = make(map[string]ChannelCursor)
	}
	if loaded.Attachments == nil {
		loaded.Attachments = make(map[string]AttachmentRecord)
	}
	s.state = loaded
	return s
}

// save writes the full state atomically: temp file in the same
// directory, then rename over the old file.
func (s *SyncStore) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create sync state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sync_state-*.json")
	if err != nil {
		return fmt.Errorf("failed to create sync state temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close sync state temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace sync state: %w", err)
	}
	return nil
}

// ChannelCursor returns the last exported post cursor, if any.
func (s *SyncStore) ChannelCursor(channelID string) (ChannelCursor, bool) {
	c, ok := s.state.Channels[channelID]
	return c, ok
}

// UpdateChannelCursor records the last exported post for a channel and
// appends a history entry. The state is persisted before returning.
func (s *SyncStore) UpdateChannelCursor(channelID, channelName string, lastPostAt int64, lastPostID string, posts int) error {
	now := time.Now().UTC()
	s.state.Channels[channelID] = ChannelCursor{
		Name:       channelName,
		LastPostAt: lastPostAt,
		LastPostID: lastPostID,
		LastSyncAt: now,
	}
	s.state.History = append(s.state.History, SyncEvent{
		Time:    now,
		Channel: channelName,
		Posts:   posts,
	})
	return s.save()
}

// IsAttachmentDownloaded reports whether the attachment id was marked
// downloaded by a previous run.
func (s *SyncStore) IsAttachmentDownloaded(id string) bool {
	_, ok := s.state.Attachments[id]
	return ok
}

// MarkAttachmentDownloaded records a completed download. The state is
// persisted before returning; a failed save rolls the record back so
// memory never claims more than the disk holds.
func (s *SyncStore) MarkAttachmentDownloaded(id, path string, content []byte) error {
	sum := sha256.Sum256(content)
	s.state.Attachments[id] = AttachmentRecord{
		Path:         path,
		Hash:         hex.EncodeToString(sum[:]),
		DownloadedAt: time.Now().UTC(),
	}
	if err := s.save(); err != nil {
		delete(s.state.Attachments, id)
		return err
	}
	return nil
}

// MarkFullSync stamps a completed full export run.
func (s *SyncStore) MarkFullSync() error {
	s.state.LastFullSync = time.Now().UTC()
	return s.save()
}

// Clear resets the state to empty and persists the reset. Used for a
// forced full resync.
func (s *SyncStore) Clear() error {
	s.state = emptySyncState()
	return s.save()
}
