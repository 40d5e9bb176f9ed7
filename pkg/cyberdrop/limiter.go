// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// limiterFabric implements the three-tier Rate-Limit Fabric: a global
// concurrency semaphore, a global request-rate token bucket, and a
// per-domain rate limiter, plus two per-domain download gates (a download
// semaphore and a minimum inter-download spacer). The global cap on
// simultaneous downloads is held by Engine.Run, not by this fabric.
//
// The request-pacing lookup is keyed off requestLimiters, not
// downloadSpacers — a distinct map used only for inter-download spacing.
type limiterFabric struct {
	globalSem *semaphore.Weighted
	globalBucket *rate.Limiter

	mu               sync.Mutex
	requestLimiters  map[string]*ratelimit.Bucket // per domain, request pacing
	downloadSems     map[string]*semaphore.Weighted
	downloadSpacers  map[string]*spacer
	defaultLimit     DomainLimit
	domainLimits     map[string]DomainLimit
}

// spacer enforces a minimum delay between successive downloads for a domain.
type spacer struct {
	mu       sync.Mutex
	min      time.Duration
	lastSent time.Time
}

func (s *spacer) wait(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.min <= 0 {
		return nil
	}
	elapsed := time.Since(s.lastSent)
	if elapsed < s.min {
		t := time.NewTimer(s.min - elapsed)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	s.lastSent = time.Now()
	return nil
}

func newLimiterFabric(cfg Settings) *limiterFabric {
	global := cfg.GlobalRateLimit
	if global <= 0 {
		global = 10
	}
	window := cfg.GlobalRateWindow
	if window <= 0 {
		window = time.Second
	}
	maxGlobal := cfg.MaxSimultaneousScrapes
	if maxGlobal <= 0 {
		maxGlobal = 10
	}
	return &limiterFabric{
		globalSem:       semaphore.NewWeighted(int64(maxGlobal)),
		globalBucket:    rate.NewLimiter(rate.Limit(global/window.Seconds()), int(global)),
		requestLimiters: map[string]*ratelimit.Bucket{},
		downloadSems:    map[string]*semaphore.Weighted{},
		downloadSpacers: map[string]*spacer{},
		defaultLimit:    cfg.DefaultDomainLimit,
		domainLimits:    cfg.DomainLimits,
	}
}

func (f *limiterFabric) limitFor(domain string) DomainLimit {
	if l, ok := f.domainLimits[domain]; ok {
		return l
	}
	return f.defaultLimit
}

// getRequestLimiter returns the per-domain request-pacing bucket, creating
// it on first use. It is backed by requestLimiters, never downloadSpacers.
func (f *limiterFabric) getRequestLimiter(domain string) *ratelimit.Bucket {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.requestLimiters[domain]; ok {
		return b
	}
	l := f.limitFor(domain)
	rate := l.Rate
	if rate <= 0 {
		rate = 1
	}
	perSecond := rate
	if l.Window > 0 {
		perSecond = rate / l.Window.Seconds()
	}
	b := ratelimit.NewBucketWithRate(perSecond, int64(rate))
	f.requestLimiters[domain] = b
	return b
}

func (f *limiterFabric) getDownloadSemaphore(domain string) *semaphore.Weighted {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.downloadSems[domain]; ok {
		return s
	}
	l := f.limitFor(domain)
	n := l.DownloadSlots
	if n <= 0 {
		n = 1
	}
	s := semaphore.NewWeighted(int64(n))
	f.downloadSems[domain] = s
	return s
}

func (f *limiterFabric) getDownloadSpacer(domain string) *spacer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.downloadSpacers[domain]; ok {
		return s
	}
	l := f.limitFor(domain)
	s := &spacer{min: l.DownloadSpacing}
	f.downloadSpacers[domain] = s
	return s
}

// acquireRequest blocks until a request to domain is permitted by all three
// layers: global concurrency, global rate, and per-domain rate.
func (f *limiterFabric) acquireRequest(ctx context.Context, domain string) (release func(), err error) {
	if err := f.globalSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := f.globalBucket.Wait(ctx); err != nil {
		f.globalSem.Release(1)
		return nil, err
	}
	f.getRequestLimiter(domain).Wait(1)
	return func() { f.globalSem.Release(1) }, nil
}

// acquireDownload blocks until a download slot for domain is free and the
// inter-download spacing requirement is satisfied.
func (f *limiterFabric) acquireDownload(ctx context.Context, domain string) (release func(), err error) {
	sem := f.getDownloadSemaphore(domain)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	if err := f.getDownloadSpacer(domain).wait(ctx); err != nil {
		sem.Release(1)
		return nil, err
	}
	return func() { sem.Release(1) }, nil
}
