// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// store is the durable SQLite-backed history/hash index, using the pure-Go
// modernc.org/sqlite driver (chosen over mattn/go-sqlite3 to avoid cgo).
type store struct {
	db *sql.DB
}

func openStore(path string) (*store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *store) Close() error { return s.db.Close() }

func (s *store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS history (
	domain            TEXT NOT NULL,
	url               TEXT NOT NULL,
	referer           TEXT,
	download_path     TEXT,
	download_filename TEXT,
	original_filename TEXT,
	file_size         INTEGER,
	duration          REAL,
	completed         INTEGER NOT NULL DEFAULT 0,
	completed_at      TEXT NOT NULL,
	PRIMARY KEY (domain, url)
);

CREATE TABLE IF NOT EXISTS hash (
	hash              TEXT NOT NULL,
	hash_type         TEXT NOT NULL,
	folder            TEXT NOT NULL,
	filename          TEXT NOT NULL,
	file_size         INTEGER,
	original_filename TEXT,
	referer           TEXT,
	created_at        TEXT NOT NULL,
	PRIMARY KEY (hash, hash_type, folder, filename)
);

CREATE INDEX IF NOT EXISTS idx_hash_lookup ON hash (hash_type, file_size, hash);
`)
	return err
}

// HasHistory reports whether (domain, url) has a completed-download record.
// A row marked incomplete (written by MarkIncomplete before any network
// traffic, and never promoted to completed) does not count.
func (s *store) HasHistory(domain, url string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM history WHERE domain = ? AND url = ? AND completed = 1`, domain, url).Scan(&n)
	return n > 0, err
}

// MarkIncomplete writes a placeholder history row for (domain, url) before
// any network traffic is made, so a run interrupted mid-download is
// correctly treated as not-yet-completed on the next run rather than
// silently absent from history. A no-op if a row already exists.
func (s *store) MarkIncomplete(domain, url string) error {
	_, err := s.db.Exec(`
INSERT INTO history (domain, url, completed, completed_at)
VALUES (?, ?, 0, ?)
ON CONFLICT(domain, url) DO NOTHING`,
		domain, url, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecordHistory inserts or replaces a completed-download record, marking it
// completed=1.
func (s *store) RecordHistory(rec HistoryRecord) error {
	completed := rec.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	_, err := s.db.Exec(`
INSERT INTO history (domain, url, referer, download_path, download_filename, original_filename, file_size, duration, completed, completed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
ON CONFLICT(domain, url) DO UPDATE SET
	download_path=excluded.download_path,
	download_filename=excluded.download_filename,
	file_size=excluded.file_size,
	duration=excluded.duration,
	completed=1,
	completed_at=excluded.completed_at`,
		rec.Domain, rec.URL, rec.Referer, rec.DownloadPath, rec.DownloadFilename,
		rec.OriginalFilename, rec.FileSize, rec.Duration.Seconds(), completed.Format(time.RFC3339))
	return err
}

// GetFileHash looks up a previously-computed hash for (path, hashType),
// split into folder/filename the way the hash table is keyed.
func (s *store) GetFileHash(path, hashType string) (string, bool, error) {
	folder, filename := filepath.Dir(path), filepath.Base(path)
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM hash WHERE hash_type = ? AND folder = ? AND filename = ?`,
		hashType, folder, filename).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return hash, true, nil
}

// UpsertHash inserts or refreshes a hash record.
func (s *store) UpsertHash(rec HashRecord) error {
	_, err := s.db.Exec(`
INSERT INTO hash (hash, hash_type, folder, filename, file_size, original_filename, referer, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash, hash_type, folder, filename) DO UPDATE SET
	file_size=excluded.file_size,
	original_filename=excluded.original_filename,
	referer=excluded.referer`,
		rec.Hash, rec.HashType, rec.Folder, rec.Filename, rec.FileSize,
		rec.OriginalFilename, rec.Referer, time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z"))
	return err
}

// HashGroups returns, for hashType, the file paths grouped by their
// (hash, file_size) pair, including groups with a single path. Each group is
// ordered by first insertion (created_at ASC, then rowid) so the first-seen
// file is always index 0 — the deterministic tie-break CleanupDupes relies on
// to decide which copy survives.
func (s *store) HashGroups(hashType string) (map[string][]string, error) {
	rows, err := s.db.Query(`
SELECT hash, file_size, folder, filename
FROM hash
WHERE hash_type = ?
ORDER BY hash, file_size, created_at ASC, rowid ASC`, hashType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := map[string][]string{}
	for rows.Next() {
		var hash, folder, filename string
		var size int64
		if err := rows.Scan(&hash, &size, &folder, &filename); err != nil {
			return nil, err
		}
		key := fmt.Sprintf("%s:%d", hash, size)
		groups[key] = append(groups[key], filepath.Join(folder, filename))
	}
	return groups, rows.Err()
}
