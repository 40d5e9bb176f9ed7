// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fanOutExtractor makes the root ScrapeItem of a tree emit `fanout` leaf
// children in one call; each leaf resolves directly to a MediaItem.
type fanOutExtractor struct{ fanout int }

func (fanOutExtractor) Domains() []string { return []string{"tree"} }

func (e fanOutExtractor) Extract(_ context.Context, _ *httpClient, item *ScrapeItem) (ExtractResult, error) {
	if item.Parent == nil {
		children := make([]*ScrapeItem, 0, e.fanout)
		for i := 0; i < e.fanout; i++ {
			children = append(children, item.Child(fmt.Sprintf("leaf/%d", i)))
		}
		return ExtractResult{Children: children}, nil
	}
	mi := &MediaItem{URL: item.URL, Domain: item.Domain, OriginalFilename: "leaf.bin", Filename: "leaf.bin"}
	return ExtractResult{Media: []*MediaItem{mi}}, nil
}

func TestScraperEngine_WideFanoutDoesNotDeadlockBoundedPool(t *testing.T) {
	registry := NewExtractorRegistry()
	registry.Register(fanOutExtractor{fanout: 20})

	var mu sync.Mutex
	var media []*MediaItem
	onMedia := func(mi *MediaItem) {
		mu.Lock()
		defer mu.Unlock()
		media = append(media, mi)
	}

	engine := newScraperEngine(registry, nil, onMedia, nil, nil)
	seed := NewScrapeItem("root", "tree", 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Only 2 workers for a root that fans out to 20 children: a recursive
	// bounded-pool implementation would deadlock here (all slots held by
	// parents blocked trying to schedule their own children).
	if err := engine.Run(ctx, []*ScrapeItem{seed}, 2); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(media) != 20 {
		t.Fatalf("expected 20 resolved media items, got %d", len(media))
	}
}

func TestScraperEngine_ChildrenLimitCapsFanout(t *testing.T) {
	registry := NewExtractorRegistry()
	registry.Register(fanOutExtractor{fanout: 10})

	var mu sync.Mutex
	var media []*MediaItem
	var events []ProgressEvent
	onMedia := func(mi *MediaItem) {
		mu.Lock()
		defer mu.Unlock()
		media = append(media, mi)
	}
	onEvent := func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	engine := newScraperEngine(registry, nil, onMedia, onEvent, nil)
	seed := NewScrapeItem("root", "tree", 3) // children_limit: 3

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := engine.Run(ctx, []*ScrapeItem{seed}, 4); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(media) != 3 {
		t.Fatalf("expected children_limit to cap resolved media at 3, got %d", len(media))
	}

	sawLimitErr := false
	for _, ev := range events {
		if ev.Event == "error" && ev.Domain == "tree" {
			sawLimitErr = true
		}
	}
	if !sawLimitErr {
		t.Errorf("expected a MaxChildrenError progress event, got %+v", events)
	}
}
