// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

func writeTempCookieFile(t *testing.T, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp cookie file: %v", err)
	}
	return path
}

func TestLoadCookieFiles(t *testing.T) {
	t.Run("loads a valid Netscape cookie line into the jar", func(t *testing.T) {
		path := writeTempCookieFile(t,
			"# Netscape HTTP Cookie File",
			".example.com\tTRUE\t/\tTRUE\t0\tsession\tabc123",
		)
		jar, err := cookiejar.New(nil)
		if err != nil {
			t.Fatalf("cookiejar.New: %v", err)
		}
		if err := loadCookieFiles(jar, []string{path}, nil); err != nil {
			t.Fatalf("loadCookieFiles: %v", err)
		}
		u := &url.URL{Scheme: "https", Host: "example.com", Path: "/"}
		cookies := jar.Cookies(u)
		if len(cookies) != 1 {
			t.Fatalf("expected 1 cookie for example.com, got %d", len(cookies))
		}
		if cookies[0].Name != "session" || cookies[0].Value != "abc123" {
			t.Errorf("cookie = %+v, want session=abc123", cookies[0])
		}
	})

	t.Run("skips malformed lines without failing the whole file", func(t *testing.T) {
		path := writeTempCookieFile(t,
			"not-enough-fields\tTRUE",
			".example.com\tTRUE\t/\tFALSE\t0\tfoo\tbar",
		)
		jar, err := cookiejar.New(nil)
		if err != nil {
			t.Fatalf("cookiejar.New: %v", err)
		}
		if err := loadCookieFiles(jar, []string{path}, nil); err != nil {
			t.Fatalf("loadCookieFiles: %v", err)
		}
		u := &url.URL{Scheme: "http", Host: "example.com", Path: "/"}
		if len(jar.Cookies(u)) != 1 {
			t.Fatalf("expected the one well-formed cookie to load")
		}
	})

	t.Run("missing file does not abort the whole call", func(t *testing.T) {
		jar, err := cookiejar.New(nil)
		if err != nil {
			t.Fatalf("cookiejar.New: %v", err)
		}
		if err := loadCookieFiles(jar, []string{filepath.Join(t.TempDir(), "missing.txt")}, nil); err != nil {
			t.Fatalf("expected loadCookieFiles to tolerate a missing file, got %v", err)
		}
	})
}

func TestValidateCookiePath(t *testing.T) {
	t.Run("existing file is valid", func(t *testing.T) {
		path := writeTempCookieFile(t, ".example.com\tTRUE\t/\tTRUE\t0\ta\tb")
		if err := validateCookiePath(path); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("missing file is invalid", func(t *testing.T) {
		if err := validateCookiePath(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
			t.Error("expected error for missing cookie file")
		}
	})
}
