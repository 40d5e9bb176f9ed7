// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"testing"
	"time"
)

func TestStorageMonitor_CheckFreeSpace_Sufficient(t *testing.T) {
	cfg := DefaultSettings()
	cfg.MinFreeBytes = 0 // any nonzero free space on the test machine satisfies this
	m := newStorageMonitor(cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := m.CheckFreeSpace(ctx, t.TempDir()); err != nil {
		t.Fatalf("expected no error with a permissive threshold, got: %v", err)
	}
}

func TestStorageMonitor_CheckFreeSpace_PausesThenFailsIfStillShort(t *testing.T) {
	cfg := DefaultSettings()
	cfg.MinFreeBytes = 1 << 62 // practically unsatisfiable on any real disk
	var events []ProgressEvent
	m := newStorageMonitor(cfg, nil, func(ev ProgressEvent) { events = append(events, ev) })

	folder := t.TempDir()

	// Resume shortly after the monitor pauses so CheckFreeSpace's single
	// re-check runs (and, since the threshold is unsatisfiable, fails).
	go func() {
		time.Sleep(50 * time.Millisecond)
		m.Resume()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.CheckFreeSpace(ctx, folder)
	if err != ErrStoragePaused {
		t.Fatalf("expected ErrStoragePaused, got: %v", err)
	}

	sawPaused, sawResumed := false, false
	for _, ev := range events {
		if ev.Event == "paused" {
			sawPaused = true
		}
		if ev.Event == "resumed" {
			sawResumed = true
		}
	}
	if !sawPaused || !sawResumed {
		t.Errorf("expected both paused and resumed events, got %+v", events)
	}
}

func TestStorageMonitor_CheckFreeSpace_ContextCanceledWhilePaused(t *testing.T) {
	cfg := DefaultSettings()
	cfg.MinFreeBytes = 1 << 62
	m := newStorageMonitor(cfg, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := m.CheckFreeSpace(ctx, t.TempDir())
	if err == nil {
		t.Fatal("expected context deadline error while permanently paused")
	}
}

func TestStorageMonitor_Refresh_ResumesOnceSpaceRecovers(t *testing.T) {
	cfg := DefaultSettings()
	cfg.MinFreeBytes = 1 << 62 // unsatisfiable, so the first refresh pauses
	var events []ProgressEvent
	m := newStorageMonitor(cfg, nil, func(ev ProgressEvent) { events = append(events, ev) })

	folder := t.TempDir()
	m.hasSufficientSpace(folder) // registers folder's mount and populates freeSpace
	m.pause(mountPointOf(folder))

	if m.running {
		t.Fatal("expected monitor to be paused before lowering the threshold")
	}

	// A transient low-space condition recovering: lower the threshold below
	// the real free space so the next refresh sees the mount has recovered.
	m.mu.Lock()
	m.minFree = 0
	m.mu.Unlock()

	m.refresh()

	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		t.Fatal("expected refresh() to auto-resume once free space climbed back above the threshold")
	}

	sawResumed := false
	for _, ev := range events {
		if ev.Event == "resumed" {
			sawResumed = true
		}
	}
	if !sawResumed {
		t.Errorf("expected a resumed progress event, got %+v", events)
	}
}

func TestMountPointOf(t *testing.T) {
	if got := mountPointOf("/some/folder"); got != "/some/folder" {
		t.Errorf("mountPointOf = %q, want folder returned unchanged", got)
	}
}
