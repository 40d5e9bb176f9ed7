// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// loadCookieFiles imports one or more Netscape-format cookie files into jar,
// warning (but not failing the run) when two files both set a cookie for the
// same domain.
//
// Netscape cookie file parsing has no third-party library in the retrieved
// corpus; the format is seven tab-separated fields per line and stdlib
// bufio/strings are sufficient.
func loadCookieFiles(jar *cookiejar.Jar, paths []string, logger *log.Logger) error {
	domainsSeen := map[string]bool{}
	for _, path := range paths {
		seenInFile := map[string]bool{}
		if err := loadOneCookieFile(jar, path, domainsSeen, seenInFile, logger); err != nil {
			if logger != nil {
				logger.Printf("cookies: unable to load %q: %v", path, err)
			}
			continue
		}
	}
	return nil
}

func loadOneCookieFile(jar *cookiejar.Jar, path string, domainsSeen, seenInFile map[string]bool, logger *log.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		domain := strings.TrimPrefix(fields[0], ".")
		// fields: domain, includeSubdomains, path, secure, expires, name, value
		secure, _ := strconv.ParseBool(fields[3])
		name, value := fields[5], fields[6]

		if !seenInFile[domain] {
			if logger != nil {
				logger.Printf("cookies: found cookies for %s in %s", domain, path)
			}
			seenInFile[domain] = true
			if domainsSeen[domain] && logger != nil {
				logger.Printf("cookies: previous cookies for domain %s detected; they will be overwritten", domain)
			}
		}
		domainsSeen[domain] = true

		scheme := "http"
		if secure {
			scheme = "https"
		}
		u := &url.URL{Scheme: scheme, Host: domain, Path: "/"}
		jar.SetCookies(u, []*http.Cookie{{Name: name, Value: value, Domain: domain, Path: fields[2]}})
	}
	return sc.Err()
}

func validateCookiePath(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cookie file not found: %w", err)
	}
	return nil
}
