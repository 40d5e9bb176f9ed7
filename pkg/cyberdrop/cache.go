// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedResponse is the subset of an HTTP response worth caching across
// scrape passes within a single run: the body and the classification needed
// to avoid re-parsing a challenge page we've already solved.
type cachedResponse struct {
	status  int
	body    []byte
	headers map[string]string
}

// responseCache is a small LRU in front of the HTTP Client Layer, keyed by
// request URL, so repeated scrapes of the same listing page (e.g. paginated
// albums revisited by multiple child items) don't re-fetch over the wire.
type responseCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cachedResponse]
	log *log.Logger
}

func newResponseCache(size int, logger *log.Logger) *responseCache {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, cachedResponse](size)
	if err != nil {
		// size is always > 0 here, so lru.New cannot fail in practice.
		panic(err)
	}
	return &responseCache{lru: c, log: logger}
}

func (c *responseCache) get(url string) (cachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(url)
}

func (c *responseCache) put(url string, resp cachedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted := c.lru.Add(url, resp); evicted && c.log != nil {
		c.log.Printf("cache: evicted entry to make room for %s", url)
	}
}
