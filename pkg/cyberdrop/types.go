// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package cyberdrop implements a concurrent fetch-and-download engine: a
// per-domain rate-limited scraper/downloader pipeline with resume, anti-bot
// bypass, content-hash deduplication, and a storage/free-space safety loop.
package cyberdrop

import (
	"time"

	"github.com/google/uuid"
)

// ScrapeItem is a unit of work discovered either from the user's initial URL
// list or produced by an Extractor while walking a page/API response.
//
// A ScrapeItem may itself fan out into child ScrapeItems (e.g. an album page
// producing one item per media file) or resolve directly into a MediaItem.
type ScrapeItem struct {
	ID       uuid.UUID
	URL      string
	Referer  string
	Domain   string
	Parent   *ScrapeItem
	Children int // children_limit: max fan-out allowed across this item's whole subtree
	Album    string

	childCount *int64 // shared across the whole subtree rooted at the seed item
}

// NewScrapeItem builds a root ScrapeItem for a user-supplied seed URL.
// maxChildren caps the total number of children any item in this seed's
// subtree may emit before further fan-out is rejected with
// MaxChildrenError; zero or negative means unlimited.
func NewScrapeItem(rawURL, domain string, maxChildren int) *ScrapeItem {
	return &ScrapeItem{ID: uuid.New(), URL: rawURL, Domain: domain, Children: maxChildren, childCount: new(int64)}
}

// Child returns a new ScrapeItem linked to its parent for task-group
// accounting and referer propagation.
func (s *ScrapeItem) Child(rawURL string) *ScrapeItem {
	return &ScrapeItem{ID: uuid.New(), URL: rawURL, Referer: s.URL, Domain: s.Domain, Parent: s, Album: s.Album,
		Children: s.Children, childCount: s.childCount}
}

// MediaItem is a single file resolved from a ScrapeItem, ready for the
// Downloader Engine.
type MediaItem struct {
	ID               uuid.UUID
	URL              string
	Referer          string
	Domain           string
	Album            string
	OriginalFilename string
	Filename         string // final on-disk filename, after collision resolution
	Ext              string
	DownloadFolder   string
	CompleteFile     string // absolute final path
	PartialFile      string // absolute .part path
	ExpectedSize     int64
	Hash              string
	IsHLS            bool
	HLSSegmentURLs   []string
	PublishedAt      time.Time     // when known, applied to the final file's mtime/atime
	Duration         time.Duration // media duration, when an extractor can report it; zero means unknown
}

// HashRecord is a persisted (hash, hash-type) -> file mapping, keyed on
// content, used to detect duplicate downloads across runs.
type HashRecord struct {
	Hash             string
	HashType         string // "xxh128", "md5", "sha256"
	Folder           string
	Filename         string
	FileSize         int64
	OriginalFilename string
	Referer          string
	CreatedAt        time.Time
}

// HistoryRecord is a persisted download outcome, keyed by domain+URL, used
// to skip already-completed downloads on subsequent runs.
type HistoryRecord struct {
	Domain       string
	URL          string
	Referer      string
	DownloadPath string
	DownloadFilename string
	OriginalFilename string
	CompletedAt  time.Time
	FileSize     int64
	Duration     time.Duration
}

// RunPhase describes the coarse lifecycle state of an Engine run.
type RunPhase string

const (
	PhaseRunning RunPhase = "running"
	PhasePaused  RunPhase = "paused" // storage monitor tripped a pause
	PhaseDone    RunPhase = "done"
	PhaseFailed  RunPhase = "failed"
)

// RunState is the mutable, queryable snapshot of an in-progress run. Fields
// are read under the Engine's own lock; callers should use Engine.Snapshot
// rather than reading this struct directly.
type RunState struct {
	Phase            RunPhase
	ScrapeQueued     int
	ScrapeDone       int
	DownloadsQueued  int
	DownloadsDone    int
	DownloadsSkipped int
	DownloadsFailed  int
	BytesDownloaded  int64
	DupesRemoved     int
	StartedAt        time.Time
}

// ProgressEvent reports a single state transition to the caller, covering
// both the scrape phase and the download phase across multiple concurrent
// domains.
type ProgressEvent struct {
	Time     time.Time `json:"time"`
	Level    string    `json:"level,omitempty"`
	Event    string    `json:"event"` // scrape_item|file_start|file_progress|file_done|retry|paused|resumed|error|done
	Domain   string    `json:"domain,omitempty"`
	URL      string    `json:"url,omitempty"`
	Path     string    `json:"path,omitempty"`
	Bytes    int64     `json:"bytes,omitempty"`
	Total    int64     `json:"total,omitempty"`
	Attempt  int       `json:"attempt,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ProgressFunc receives ProgressEvents. It is invoked from multiple
// goroutines concurrently and must be safe for concurrent use.
type ProgressFunc func(ProgressEvent)

// DomainLimit configures the Rate-Limit Fabric for one known domain.
type DomainLimit struct {
	Rate              float64       // requests per Window
	Window            time.Duration
	MaxSimultaneous   int           // not read by the Rate-Limit Fabric; per-domain requests are paced by Rate only
	DownloadSlots     int           // concurrent downloads
	DownloadSpacing   time.Duration // minimum delay between successive downloads
}

// Settings configures an Engine run. All fields have sensible defaults via
// DefaultSettings; only OutputDir typically needs to be set explicitly.
type Settings struct {
	OutputDir string

	// Concurrency knobs
	MaxSimultaneousDownloads int // global download semaphore size
	MaxSimultaneousScrapes   int // global scrape semaphore size
	GlobalRateLimit          float64
	GlobalRateWindow         time.Duration
	DefaultDomainLimit       DomainLimit
	DomainLimits             map[string]DomainLimit
	MaxChildrenPerItem       int // children_limit: fan-out cap per seed subtree; <=0 means unlimited

	// File-type allow/deny + duration gate (checked before any network
	// traffic for a resolved MediaItem)
	SkipImages  bool
	SkipVideos  bool
	SkipAudio   bool
	SkipOther   bool
	MinDuration time.Duration
	MaxDuration time.Duration

	// Retry
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Dedup / hashing
	HashMode        string // "off", "post", "in_place"
	AutoDedupe      bool
	SendDeletedToTrash bool
	AddMD5          bool
	AddSHA256       bool

	// Storage monitor
	MinFreeBytes     int64
	StoragePollEvery time.Duration

	// Flaresolverr
	FlaresolverrURL     string
	FlaresolverrEnabled bool

	// Misc
	UserAgent    string
	CookieFiles  []string
	DBPath       string
	IgnoreHistory bool
}

// DefaultSettings returns Settings with production-sane defaults filled in.
func DefaultSettings() Settings {
	return Settings{
		OutputDir:                "Downloads",
		MaxSimultaneousDownloads: 15,
		MaxSimultaneousScrapes:   10,
		GlobalRateLimit:          10,
		GlobalRateWindow:         time.Second,
		DefaultDomainLimit: DomainLimit{
			Rate: 4, Window: time.Second, MaxSimultaneous: 4,
			DownloadSlots: 3, DownloadSpacing: 500 * time.Millisecond,
		},
		DomainLimits:     map[string]DomainLimit{},
		MaxChildrenPerItem: 10000,
		MaxRetries:       3,
		BackoffInitial:   400 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		HashMode:         "post",
		AutoDedupe:       false,
		AddMD5:           false,
		AddSHA256:        false,
		MinFreeBytes:     512 * 1024 * 1024,
		StoragePollEvery: 2 * time.Second,
		UserAgent:        "cyberdrop-dl-go/1.0",
		DBPath:           "cyberdrop.db",
	}
}
