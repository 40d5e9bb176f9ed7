// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := openStore(path)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_HistoryRoundTrip(t *testing.T) {
	s := openTestStore(t)

	ok, err := s.HasHistory("example.com", "https://example.com/a")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if ok {
		t.Fatal("expected no history before recording")
	}

	rec := HistoryRecord{
		Domain: "example.com", URL: "https://example.com/a",
		DownloadPath: "/tmp/a", DownloadFilename: "a", FileSize: 100,
		CompletedAt: time.Now(),
	}
	if err := s.RecordHistory(rec); err != nil {
		t.Fatalf("RecordHistory: %v", err)
	}

	ok, err = s.HasHistory("example.com", "https://example.com/a")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if !ok {
		t.Fatal("expected history after recording")
	}

	// Recording again (re-download) should update, not conflict.
	rec.FileSize = 200
	if err := s.RecordHistory(rec); err != nil {
		t.Fatalf("RecordHistory (update): %v", err)
	}
}

func TestStore_MarkIncomplete_DoesNotCountAsHistory(t *testing.T) {
	s := openTestStore(t)

	if err := s.MarkIncomplete("example.com", "https://example.com/a"); err != nil {
		t.Fatalf("MarkIncomplete: %v", err)
	}
	ok, err := s.HasHistory("example.com", "https://example.com/a")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if ok {
		t.Fatal("expected an incomplete-marked row to not count as history")
	}

	rec := HistoryRecord{Domain: "example.com", URL: "https://example.com/a", FileSize: 1}
	if err := s.RecordHistory(rec); err != nil {
		t.Fatalf("RecordHistory: %v", err)
	}
	ok, err = s.HasHistory("example.com", "https://example.com/a")
	if err != nil {
		t.Fatalf("HasHistory: %v", err)
	}
	if !ok {
		t.Fatal("expected history after RecordHistory promotes the row to completed")
	}
}

func TestStore_HashRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, ok, err := s.GetFileHash("/downloads/a/file.jpg", "xxh128")
	if err != nil {
		t.Fatalf("GetFileHash: %v", err)
	}
	if ok {
		t.Fatal("expected no hash before upsert")
	}

	rec := HashRecord{
		Hash: "deadbeef", HashType: "xxh128",
		Folder: "/downloads/a", Filename: "file.jpg", FileSize: 1234,
	}
	if err := s.UpsertHash(rec); err != nil {
		t.Fatalf("UpsertHash: %v", err)
	}

	hash, ok, err := s.GetFileHash("/downloads/a/file.jpg", "xxh128")
	if err != nil {
		t.Fatalf("GetFileHash: %v", err)
	}
	if !ok || hash != "deadbeef" {
		t.Errorf("GetFileHash = (%q, %v), want (deadbeef, true)", hash, ok)
	}
}

func TestStore_HashGroups_GroupsByHashAndSize(t *testing.T) {
	s := openTestStore(t)

	records := []HashRecord{
		{Hash: "h1", HashType: "xxh128", Folder: "/a", Filename: "one.jpg", FileSize: 10},
		{Hash: "h1", HashType: "xxh128", Folder: "/a", Filename: "two.jpg", FileSize: 10},
		{Hash: "h2", HashType: "xxh128", Folder: "/a", Filename: "three.jpg", FileSize: 20},
	}
	for _, r := range records {
		if err := s.UpsertHash(r); err != nil {
			t.Fatalf("UpsertHash: %v", err)
		}
		time.Sleep(5 * time.Millisecond) // distinct created_at for deterministic ordering
	}

	groups, err := s.HashGroups("xxh128")
	if err != nil {
		t.Fatalf("HashGroups: %v", err)
	}

	dupeGroup, ok := groups["h1:10"]
	if !ok {
		t.Fatalf("expected a group for h1:10, got %v", groups)
	}
	if len(dupeGroup) != 2 {
		t.Fatalf("expected 2 paths in the h1:10 group, got %v", dupeGroup)
	}
	if dupeGroup[0] != filepath.Join("/a", "one.jpg") {
		t.Errorf("expected first-inserted path first, got %q", dupeGroup[0])
	}

	singleton, ok := groups["h2:20"]
	if !ok || len(singleton) != 1 {
		t.Errorf("expected a singleton group for h2:20, got %v", singleton)
	}
}
