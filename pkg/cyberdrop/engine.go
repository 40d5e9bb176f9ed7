// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Engine wires the Rate-Limit Fabric, HTTP Client Layer, Scraper Engine,
// Downloader Engine, Hash & Dedup Engine, and Storage Monitor into one run:
// validate inputs, scrape every seed URL to a fixed point, fan out bounded
// concurrent downloads, and aggregate the result.
type Engine struct {
	cfg      Settings
	registry *ExtractorRegistry
	log      *log.Logger

	fabric  *limiterFabric
	client  *httpClient
	solver  *flaresolverrClient
	store   *store
	hashes  *hashEngine
	storageMon *storageMonitor

	mu    sync.Mutex
	state RunState
}

// NewEngine constructs an Engine ready to Run. Callers may register
// site-specific Extractors on the returned Engine's Registry before
// calling Run.
func NewEngine(cfg Settings, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	var solver *flaresolverrClient
	if cfg.FlaresolverrEnabled && cfg.FlaresolverrURL != "" {
		solver = newFlaresolverrClient(cfg.FlaresolverrURL, cfg.UserAgent)
	}

	fabric := newLimiterFabric(cfg)
	client, err := newHTTPClient(cfg, fabric, solver, logger)
	if err != nil {
		return nil, err
	}

	if len(cfg.CookieFiles) > 0 {
		if err := loadCookieFiles(client.jar, cfg.CookieFiles, logger); err != nil {
			return nil, err
		}
	}

	var st *store
	if cfg.DBPath != "" {
		st, err = openStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	return &Engine{
		cfg:        cfg,
		registry:   NewExtractorRegistry(),
		log:        logger,
		fabric:     fabric,
		client:     client,
		solver:     solver,
		store:      st,
		hashes:     newHashEngine(st, cfg, logger),
		storageMon: newStorageMonitor(cfg, logger, nil),
		state:      RunState{Phase: PhaseRunning},
	}, nil
}

// Registry exposes the Extractor registry for site-specific registration.
func (e *Engine) Registry() *ExtractorRegistry { return e.registry }

// Close releases the Engine's external resources (solver session, database
// handle). Safe to call once after Run returns.
func (e *Engine) Close(ctx context.Context) error {
	var firstErr error
	if e.solver != nil {
		if err := e.solver.Destroy(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns a copy of the current RunState.
func (e *Engine) Snapshot() RunState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run scrapes every seed URL to a fixed point and downloads every resolved
// MediaItem, fixing up filenames for on-disk collisions, emitting progress
// via onEvent, and returning once every discovered item has been attempted
// or ctx is canceled.
func (e *Engine) Run(ctx context.Context, seedURLs []string, onEvent ProgressFunc) error {
	if len(seedURLs) == 0 {
		return ErrNoURLs
	}

	e.setPhase(PhaseRunning)
	emit := e.wrapEvent(onEvent)

	storageCtx, cancelStorage := context.WithCancel(ctx)
	defer cancelStorage()
	go e.storageMon.Run(storageCtx)
	e.storageMon.onEvent = emit

	downloader := newDownloaderEngine(e.client, e.fabric, e.store, e.hashes, e.cfg, emit)

	var downloadWG sync.WaitGroup
	downloadErrs := make(chan error, 64)
	var downloadSem = make(chan struct{}, maxInt(e.cfg.MaxSimultaneousDownloads, 1))
	var filenameMu sync.Mutex
	seenFilenames := map[string]int{}

	var completedMu sync.Mutex
	var completed []*MediaItem

	onMedia := func(mi *MediaItem) {
		if err := e.prepareMediaItem(mi, &filenameMu, seenFilenames); err != nil {
			downloadErrs <- err
			return
		}
		e.incr(func(s *RunState) { s.DownloadsQueued++ })
		downloadWG.Add(1)
		downloadSem <- struct{}{}
		go func() {
			defer downloadWG.Done()
			defer func() { <-downloadSem }()

			if err := e.storageMon.CheckFreeSpace(ctx, mi.DownloadFolder); err != nil {
				e.setPhase(PhasePaused)
				downloadErrs <- err
				return
			}
			e.setPhase(PhaseRunning)

			err := downloader.Run(ctx, mi)
			var restricted *RestrictedFiletypeError
			var durationErr *DurationError
			switch {
			case err == nil:
				e.incr(func(s *RunState) { s.DownloadsDone++; s.BytesDownloaded += mi.ExpectedSize })
				emit(ProgressEvent{Event: "file_done", Domain: mi.Domain, URL: mi.URL, Path: mi.CompleteFile})
				completedMu.Lock()
				completed = append(completed, mi)
				completedMu.Unlock()
			case errors.Is(err, ErrSkippedHistory), errors.Is(err, ErrSkippedDupe),
				errors.As(err, &restricted), errors.As(err, &durationErr):
				e.incr(func(s *RunState) { s.DownloadsSkipped++ })
			default:
				e.incr(func(s *RunState) { s.DownloadsFailed++ })
				downloadErrs <- err
				emit(ProgressEvent{Event: "error", Domain: mi.Domain, URL: mi.URL, Message: err.Error()})
			}
		}()
	}

	seeds := make([]*ScrapeItem, 0, len(seedURLs))
	for _, u := range seedURLs {
		seeds = append(seeds, NewScrapeItem(u, domainOf(u), e.cfg.MaxChildrenPerItem))
	}

	scraper := newScraperEngine(e.registry, e.client, onMedia, emit, e.log)
	scrapeErr := scraper.Run(ctx, seeds, maxInt(e.cfg.MaxSimultaneousScrapes, 1))

	downloadWG.Wait()
	close(downloadErrs)

	if e.cfg.HashMode == "post" {
		for _, mi := range completed {
			if err := e.hashes.HashItem(mi); err != nil {
				emit(ProgressEvent{Event: "error", Domain: mi.Domain, URL: mi.URL, Message: err.Error()})
			}
		}
	}

	removed, _ := e.hashes.CleanupDupes()
	e.incr(func(s *RunState) { s.DupesRemoved += removed })

	var firstErr error
	for err := range downloadErrs {
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		firstErr = scrapeErr
	}

	if firstErr != nil {
		e.setPhase(PhaseFailed)
	} else {
		e.setPhase(PhaseDone)
	}
	emit(ProgressEvent{Event: "done", Message: e.summaryLine()})
	return firstErr
}

// prepareMediaItem resolves the final on-disk filename (appending a numeric
// suffix on collision, deterministically, so re-runs are stable) and fills
// in the derived path fields.
func (e *Engine) prepareMediaItem(mi *MediaItem, mu *sync.Mutex, seen map[string]int) error {
	if mi.DownloadFolder == "" {
		folder := e.cfg.OutputDir
		if mi.Album != "" {
			folder = filepath.Join(folder, mi.Domain, sanitizeFilename(mi.Album))
		} else {
			folder = filepath.Join(folder, mi.Domain)
		}
		mi.DownloadFolder = folder
	}
	if mi.Filename == "" {
		mi.Filename = mi.OriginalFilename
	}
	mi.Filename = sanitizeFilename(mi.Filename)

	mu.Lock()
	base := mi.Filename
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	n := seen[filepath.Join(mi.DownloadFolder, base)]
	seen[filepath.Join(mi.DownloadFolder, base)] = n + 1
	if n > 0 {
		mi.Filename = fmt.Sprintf("%s (%d)%s", stem, n, ext)
	}
	mu.Unlock()

	mi.CompleteFile = filepath.Join(mi.DownloadFolder, mi.Filename)
	mi.PartialFile = mi.CompleteFile + ".part"
	return nil
}

func sanitizeFilename(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "download"
	}
	return string(out)
}

func (e *Engine) setPhase(p RunPhase) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Phase = p
}

func (e *Engine) incr(f func(*RunState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f(&e.state)
}

func (e *Engine) summaryLine() string {
	s := e.Snapshot()
	return fmt.Sprintf("done: %d downloaded, %d skipped, %d failed, %d dupes removed",
		s.DownloadsDone, s.DownloadsSkipped, s.DownloadsFailed, s.DupesRemoved)
}

func (e *Engine) wrapEvent(onEvent ProgressFunc) ProgressFunc {
	return func(ev ProgressEvent) {
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
