package export

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSyncStore_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	s := LoadSyncStore(path, nil)

	if _, ok := s.ChannelCursor("c1"); ok {
		t.Error("fresh state should not know any channels")
	}
	if s.IsAttachmentDownloaded("f1") {
		t.Error("fresh state should not know any attachments")
	}
}

func TestLoadSyncStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := LoadSyncStore(path, nil)
	if _, ok := s.ChannelCursor("c1"); ok {
		t.Error("corrupt state must become a fresh empty state")
	}

	// A fresh state over a corrupt file must still be persistable.
	if err := s.MarkFullSync(); err != nil {
		t.Fatalf("save over corrupt file: %v", err)
	}
}

func TestSyncStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	s := LoadSyncStore(path, nil)

	if err := s.UpdateChannelCursor("c1", "town-square", 1700000000123, "p99", 42); err != nil {
		t.Fatalf("update cursor: %v", err)
	}
	if err := s.MarkAttachmentDownloaded("f1", "results/x/000_a.png", []byte("png")); err != nil {
		t.Fatalf("mark attachment: %v", err)
	}

	reloaded := LoadSyncStore(path, nil)

	cursor, ok := reloaded.ChannelCursor("c1")
	if !ok {
		t.Fatal("cursor lost on reload")
	}
	if cursor.Name != "town-square" || cursor.LastPostAt != 1700000000123 || cursor.LastPostID != "p99" {
		t.Errorf("unexpected cursor: %+v", cursor)
	}
	if !reloaded.IsAttachmentDownloaded("f1") {
		t.Error("attachment record lost on reload")
	}
	if reloaded.IsAttachmentDownloaded("f2") {
		t.Error("unknown attachment reported as downloaded")
	}
}

func TestSyncStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync_state.json")
	s := LoadSyncStore(path, nil)

	if err := s.UpdateChannelCursor("c1", "town-square", 1, "p1", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if _, ok := s.ChannelCursor("c1"); ok {
		t.Error("cursor survived clear")
	}
	if _, ok := LoadSyncStore(path, nil).ChannelCursor("c1"); ok {
		t.Error("cursor survived clear on disk")
	}
}

func TestSyncStore_SaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sync_state.json")
	s := LoadSyncStore(path, nil)
	if err := s.MarkFullSync(); err != nil {
		t.Fatal(err)
	}

	// No temp files may linger after a successful save.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "sync_state.json" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("unexpected directory contents: %v", names)
	}
}

func TestSyncStore_SaveFailureIsHardError(t *testing.T) {
	// Pointing the state at a path whose parent is a file makes every
	// save fail.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := LoadSyncStore(filepath.Join(blocker, "sync_state.json"), nil)
	if err := s.UpdateChannelCursor("c1", "town-square", 1, "p1", 1); err == nil {
		t.Error("expected persistence failure to surface as an error")
	}
}
