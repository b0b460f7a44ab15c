package fswatcher_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tracerbio/tracer/internal/fswatcher"
)

type fakeUploader struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{files: make(map[string][]byte)}
}

func (f *fakeUploader) UploadFile(_ context.Context, name string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = data
	return nil
}

func (f *fakeUploader) uploaded(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.files[name]
	return b, ok
}

func newWatcher(t *testing.T, root string, rules []fswatcher.Rule, staleAfter time.Duration, up fswatcher.Uploader, now *time.Time) *fswatcher.Watcher {
	t.Helper()
	cacheDir := filepath.Join(t.TempDir(), "cache")
	w, err := fswatcher.New(root, cacheDir, rules, staleAfter, up, func() time.Time { return *now })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestPoll_UploadsStableUnchangedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.log")
	if err := os.WriteFile(path, []byte("hello world"), 0o600); err != nil {
		t.Fatal(err)
	}

	rules := []fswatcher.Rule{{Kind: fswatcher.PatternFullPathRegex, Pattern: `\.log$`, Action: fswatcher.ActionUpload}}
	up := newFakeUploader()
	now := time.Now()
	w := newWatcher(t, root, rules, 100*time.Millisecond, up, &now)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll: %v", err)
	}
	if _, ok := up.uploaded("out.log"); ok {
		t.Fatal("should not upload on first poll (no prior record yet)")
	}

	now = now.Add(200 * time.Millisecond) // past staleAfter, mtime unchanged
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}

	data, ok := up.uploaded("out.log")
	if !ok {
		t.Fatal("expected upload once the file has been stable past file_size_not_changing_period_ms")
	}
	if !bytes.Equal(data, []byte("hello world")) {
		t.Errorf("uploaded data = %q, want %q", data, "hello world")
	}
}

func TestPoll_UploadsCachedOldOnTruncation(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.log")
	if err := os.WriteFile(path, []byte("0123456789"), 0o600); err != nil { // 10 bytes
		t.Fatal(err)
	}

	rules := []fswatcher.Rule{{Kind: fswatcher.PatternFullPathRegex, Pattern: `\.log$`, Action: fswatcher.ActionUpload}}
	up := newFakeUploader()
	now := time.Now()
	w := newWatcher(t, root, rules, time.Hour, up, &now)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Grow the file so mtime advances, forcing a cache snapshot of the 20-byte content.
	now = now.Add(time.Second)
	if err := os.WriteFile(path, []byte("0123456789abcdefghij"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
	if err := w.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Truncate below the cached size.
	now = now.Add(time.Second)
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, now, now); err != nil {
		t.Fatal(err)
	}
	if err := w.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, ok := up.uploaded("out.log")
	if !ok {
		t.Fatal("expected an upload of the cached pre-truncation content")
	}
	if !bytes.Equal(data, []byte("0123456789abcdefghij")) {
		t.Errorf("uploaded data = %q, want the cached 20-byte snapshot", data)
	}
}

func TestPoll_UploadsCachedOldWhenFileVanishes(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.log")
	if err := os.WriteFile(path, []byte("gone soon"), 0o600); err != nil {
		t.Fatal(err)
	}

	rules := []fswatcher.Rule{{Kind: fswatcher.PatternFullPathRegex, Pattern: `\.log$`, Action: fswatcher.ActionUpload}}
	up := newFakeUploader()
	now := time.Now()
	w := newWatcher(t, root, rules, time.Hour, up, &now)

	if err := w.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := w.Poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	data, ok := up.uploaded("out.log")
	if !ok {
		t.Fatal("expected upload of cached content once the file vanished")
	}
	if !bytes.Equal(data, []byte("gone soon")) {
		t.Errorf("uploaded data = %q, want %q", data, "gone soon")
	}
}

func TestPoll_NonMatchingFileNeverUploaded(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("irrelevant"), 0o600); err != nil {
		t.Fatal(err)
	}

	rules := []fswatcher.Rule{{Kind: fswatcher.PatternFullPathRegex, Pattern: `\.log$`, Action: fswatcher.ActionUpload}}
	up := newFakeUploader()
	now := time.Now()
	w := newWatcher(t, root, rules, time.Millisecond, up, &now)

	for i := 0; i < 3; i++ {
		now = now.Add(time.Second)
		if err := w.Poll(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok := up.uploaded("notes.txt"); ok {
		t.Error("a non-matching file should never be uploaded")
	}
}
