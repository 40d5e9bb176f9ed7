// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"net/url"
	"strings"
)

// Extractor is the capability interface implemented by one concrete
// site-scraping strategy. The engine favors composition over inheritance
// here (per the Design Notes): an Extractor is handed everything it needs
// (the HTTP client, the item) and returns either child ScrapeItems to keep
// walking, or MediaItems ready for the Downloader Engine.
type Extractor interface {
	// Domains returns the hostnames this Extractor handles, matched
	// case-insensitively against a ScrapeItem's URL host.
	Domains() []string

	// Extract processes one ScrapeItem and reports what it found.
	Extract(ctx context.Context, client *httpClient, item *ScrapeItem) (ExtractResult, error)
}

// ExtractResult is the outcome of running one Extractor over one ScrapeItem.
type ExtractResult struct {
	Children []*ScrapeItem
	Media    []*MediaItem
}

// ExtractorRegistry maps a domain to its Extractor, falling back to
// noCrawlerExtractor for any URL that isn't a known host (the "no_crawler"
// path: treat the URL as a direct file link).
type ExtractorRegistry struct {
	byDomain map[string]Extractor
}

func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{byDomain: map[string]Extractor{}}
}

// Register adds ex under all of its declared domains.
func (r *ExtractorRegistry) Register(ex Extractor) {
	for _, d := range ex.Domains() {
		r.byDomain[strings.ToLower(d)] = ex
	}
}

// Lookup returns the Extractor registered for item's Domain or, failing that,
// for the host of item's URL (without a leading "www."), or the no_crawler
// fallback if no site-specific Extractor is registered for either.
func (r *ExtractorRegistry) Lookup(item *ScrapeItem) Extractor {
	if ex, ok := r.byDomain[strings.ToLower(item.Domain)]; ok {
		return ex
	}
	if u, err := url.Parse(item.URL); err == nil {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if ex, ok := r.byDomain[host]; ok {
			return ex
		}
	}
	return noCrawlerExtractor{}
}

// noCrawlerExtractor is the single illustrative extractor shipped with the
// core engine: it treats the ScrapeItem's URL as a direct downloadable file,
// with no further page discovery. This is the fallback that makes the engine
// useful for direct links out of the box, before any site-specific
// Extractor is registered.
type noCrawlerExtractor struct{}

func (noCrawlerExtractor) Domains() []string { return nil }

func (noCrawlerExtractor) Extract(_ context.Context, _ *httpClient, item *ScrapeItem) (ExtractResult, error) {
	u, err := url.Parse(item.URL)
	if err != nil {
		return ExtractResult{}, &ScrapeError{URL: item.URL, Err: err}
	}
	filename := u.Path
	if i := strings.LastIndex(filename, "/"); i >= 0 {
		filename = filename[i+1:]
	}
	if filename == "" {
		filename = "download"
	}
	mi := &MediaItem{
		URL:              item.URL,
		Referer:          item.Referer,
		Domain:           item.Domain,
		Album:            item.Album,
		OriginalFilename: filename,
		Filename:         filename,
	}
	return ExtractResult{Media: []*MediaItem{mi}}, nil
}

// domainOf returns the registered-domain-ish host for rawURL, used both to
// select an Extractor and to key the Rate-Limit Fabric.
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "other"
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return host
}
