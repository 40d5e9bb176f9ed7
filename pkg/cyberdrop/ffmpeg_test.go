// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"reflect"
	"testing"
)

func TestValidSegmentLines(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  []string
	}{
		{
			name:  "drops blank and comment lines",
			lines: []string{"#EXTM3U", "", "  ", "#EXTINF:5.0,", "seg000.ts", "#EXT-X-ENDLIST", "seg001.ts"},
			want:  []string{"seg000.ts", "seg001.ts"},
		},
		{
			name:  "trims surrounding whitespace",
			lines: []string{"  seg000.ts  ", "#comment"},
			want:  []string{"seg000.ts"},
		},
		{
			name:  "empty input yields empty, not nil-vs-populated mismatch",
			lines: nil,
			want:  []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := validSegmentLines(tc.lines)
			if !reflect.DeepEqual(got, tc.want) {
				t.Errorf("validSegmentLines(%v) = %v, want %v", tc.lines, got, tc.want)
			}
		})
	}
}

func TestFfmpegAvailable(t *testing.T) {
	// Only asserts the probe doesn't panic and returns a bool; whether
	// ffmpeg is actually on PATH depends on the host running the test.
	_ = ffmpegAvailable()
}
