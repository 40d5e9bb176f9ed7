// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// scraperEngine walks ScrapeItems to a fixed-point, fanning items out through
// a bounded worker pool, and forwards every resolved MediaItem to onMedia.
// Recurses until every reachable ScrapeItem has either resolved to a
// MediaItem or produced no further children.
type scraperEngine struct {
	registry *ExtractorRegistry
	client   *httpClient
	onMedia  func(*MediaItem)
	onEvent  ProgressFunc
	log      *log.Logger

	scraped   atomic.Int64
	scrapeErr atomic.Int64
}

func newScraperEngine(registry *ExtractorRegistry, client *httpClient, onMedia func(*MediaItem), onEvent ProgressFunc, logger *log.Logger) *scraperEngine {
	return &scraperEngine{registry: registry, client: client, onMedia: onMedia, onEvent: onEvent, log: logger}
}

// scrapeQueue is an unbounded work queue of pending ScrapeItems plus a count
// of items enqueued but not yet fully processed (including any children they
// go on to emit). Workers pop from it independently of how many items a
// single extractor fans out to, which is what lets child scheduling stay
// decoupled from the bounded worker pool below: a worker processing a
// wide-fanout item only ever pushes work, it never recurses into another
// blocking acquire while holding its own slot.
type scrapeQueue struct {
	mu          sync.Mutex
	cond        *sync.Cond
	items       []*ScrapeItem
	outstanding int
}

func newScrapeQueue() *scrapeQueue {
	q := &scrapeQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *scrapeQueue) push(item *ScrapeItem) {
	q.mu.Lock()
	q.outstanding++
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// pop blocks until an item is available, or returns ok=false once the queue
// is permanently drained (no items queued and nothing outstanding that could
// still produce more) or ctx is canceled.
func (q *scrapeQueue) pop(ctx context.Context) (*ScrapeItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.outstanding == 0 || ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// done marks one previously-popped item (and everything it was going to
// enqueue) as fully processed.
func (q *scrapeQueue) done() {
	q.mu.Lock()
	q.outstanding--
	drained := q.outstanding == 0
	q.mu.Unlock()
	if drained {
		q.cond.Broadcast()
	}
}

// Run walks the full tree rooted at seeds, blocking until every item (and
// every item's children, recursively) has been processed or ctx is
// canceled. maxConcurrent workers drain a shared queue; an item that fans
// out to many children just pushes them onto the queue and returns, so a
// single wide extractor can never starve the pool the way a recursive
// bounded errgroup.Go call would.
func (s *scraperEngine) Run(ctx context.Context, seeds []*ScrapeItem, maxConcurrent int) error {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	q := newScrapeQueue()
	for _, seed := range seeds {
		q.push(seed)
	}

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.pop(ctx)
				if !ok {
					return
				}
				s.process(ctx, item, q)
			}
		}()
	}

	// Unblock any worker still waiting in pop() once the context is
	// canceled, since no further pushes will happen.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-stop:
		}
	}()

	wg.Wait()
	close(stop)
	return ctx.Err()
}

func (s *scraperEngine) process(ctx context.Context, item *ScrapeItem, q *scrapeQueue) {
	defer q.done()

	if err := ctx.Err(); err != nil {
		return
	}

	result, err := s.processOne(ctx, item)
	if err != nil {
		s.scrapeErr.Add(1)
		if s.onEvent != nil {
			s.onEvent(ProgressEvent{Event: "error", Domain: item.Domain, URL: item.URL, Message: err.Error()})
		}
		return
	}
	for _, mi := range result.Media {
		s.onMedia(mi)
	}

	for _, child := range result.Children {
		if item.Children > 0 {
			n := atomic.AddInt64(item.childCount, 1)
			if n > int64(item.Children) {
				if s.onEvent != nil {
					mce := &MaxChildrenError{URL: item.URL, Limit: item.Children}
					s.onEvent(ProgressEvent{Event: "error", Domain: item.Domain, URL: item.URL, Message: mce.Error()})
				}
				break
			}
		}
		q.push(child)
	}
}

func (s *scraperEngine) processOne(ctx context.Context, item *ScrapeItem) (ExtractResult, error) {
	if s.onEvent != nil {
		s.onEvent(ProgressEvent{Event: "scrape_item", Domain: item.Domain, URL: item.URL})
	}
	ex := s.registry.Lookup(item)
	result, err := ex.Extract(ctx, s.client, item)
	s.scraped.Add(1)
	if err != nil {
		return ExtractResult{}, &ScrapeError{URL: item.URL, Err: err}
	}
	return result, nil
}
