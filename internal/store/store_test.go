package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStoreWriteAndRead(t *testing.T) {
	s := newTestStore(t)
	locator := Locator{Scope: "themes/default/public", Path: "/css/site.css"}

	modTime := time.Now().Add(-time.Hour).UTC()
	payload := []byte("body{color:red}")
	if _, err := s.Write(context.Background(), locator, payload, WriteOptions{ModTime: modTime}); err != nil {
		t.Fatalf("write error: %v", err)
	}

	data, entry, err := s.Read(context.Background(), locator)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload mismatch: %s", data)
	}
	if entry.SizeBytes != int64(len(payload)) {
		t.Fatalf("size mismatch: %d", entry.SizeBytes)
	}
	if !entry.ModTime.Equal(modTime) {
		t.Fatalf("modtime mismatch: expected %v got %v", modTime, entry.ModTime)
	}

	expected := filepath.Join(s.Root(), "themes", "default", "public", "css", "site.css")
	if entry.FilePath != expected {
		t.Fatalf("unexpected file path %s", entry.FilePath)
	}
	info, err := os.Stat(expected)
	if err != nil {
		t.Fatalf("stat error: %v", err)
	}
	if info.Mode().Perm()&0o044 == 0 {
		t.Fatalf("written file should be world readable, got %v", info.Mode().Perm())
	}
}

func TestStoreMissingEntries(t *testing.T) {
	s := newTestStore(t)
	locator := Locator{Scope: "i18n", Path: "/missing.yaml"}
	if _, _, err := s.Read(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Stat(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Stat, got %v", err)
	}

	if err := os.MkdirAll(filepath.Join(s.Root(), "themes", "default"), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if _, err := s.Stat(context.Background(), Locator{Scope: "themes", Path: "default"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("directories are not entries, got %v", err)
	}
}

func TestStoreListFiltersByExtension(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"fr.yaml", "en.yaml", "notes.txt"} {
		if _, err := s.Write(context.Background(), Locator{Path: name}, []byte("x: y"), WriteOptions{}); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(s.Root(), ".calipso-leftover.yaml"), []byte("tmp"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	entries, err := s.List(context.Background(), "", ".yaml")
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(entries) != 2 || entries[0].Locator.Path != "en.yaml" || entries[1].Locator.Path != "fr.yaml" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	missing, err := s.List(context.Background(), "absent", ".yaml")
	if err != nil || len(missing) != 0 {
		t.Fatalf("missing scope should list nothing, got %v %v", missing, err)
	}
}

func TestStoreKeepsEntriesInsideScope(t *testing.T) {
	s := newTestStore(t)
	fs := s.(*fileStore)

	filePath, err := fs.entryPath(Locator{Scope: "i18n", Path: "../../etc/passwd"})
	if err != nil {
		t.Fatalf("path error: %v", err)
	}
	if filePath != filepath.Join(s.Root(), "i18n", "etc", "passwd") {
		t.Fatalf("traversal should be clamped to the scope, got %s", filePath)
	}
	if _, err := fs.entryPath(Locator{Scope: "i18n", Path: "/"}); err == nil {
		t.Fatalf("empty entry path should be rejected")
	}
}

func TestStoreWriteHonoursCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	locator := Locator{Scope: "i18n", Path: "en.yaml"}
	if _, err := s.Write(ctx, locator, []byte("data"), WriteOptions{}); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
	if _, err := s.Stat(context.Background(), locator); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed write must not leave a file behind, got %v", err)
	}
}

func TestStoreConcurrentWritesStayWhole(t *testing.T) {
	s := newTestStore(t)
	locator := Locator{Scope: "themes/default/public", Path: "site.css"}
	bodies := []string{"a{color:red}", "b{color:blue}"}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			if _, err := s.Write(context.Background(), locator, []byte(body), WriteOptions{}); err != nil {
				t.Errorf("write error: %v", err)
			}
		}(bodies[i%2])
	}
	wg.Wait()

	data, _, err := s.Read(context.Background(), locator)
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(data) != bodies[0] && string(data) != bodies[1] {
		t.Fatalf("torn write: %s", data)
	}
}

func TestEntryNewer(t *testing.T) {
	now := time.Now()
	src := &Entry{ModTime: now}
	if !src.Newer(nil) {
		t.Fatalf("missing output should count as older")
	}
	if src.Newer(&Entry{ModTime: now}) {
		t.Fatalf("equal timestamps are not newer")
	}
	if !src.Newer(&Entry{ModTime: now.Add(-time.Second)}) {
		t.Fatalf("expected newer")
	}
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s
}
