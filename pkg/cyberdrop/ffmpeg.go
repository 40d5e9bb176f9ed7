// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ffmpegAvailable reports whether an ffmpeg binary is on PATH. HLS assembly
// is skipped with a descriptive DownloadError when it is not.
func ffmpegAvailable() bool {
	_, err := exec.LookPath("ffmpeg")
	return err == nil
}

// concatSegments joins the downloaded HLS segment files (in order) into a
// single output file via ffmpeg's concat demuxer, shelling out via os/exec
// since ffmpeg is an external binary, not a Go library.
func concatSegments(ctx context.Context, segmentPaths []string, outputPath string) error {
	if !ffmpegAvailable() {
		return &DownloadError{Err: fmt.Errorf("ffmpeg is required for HLS downloads but is not available")}
	}

	listFile, err := os.CreateTemp(filepath.Dir(outputPath), "cdl-concat-*.txt")
	if err != nil {
		return err
	}
	defer os.Remove(listFile.Name())

	for _, p := range segmentPaths {
		if _, err := fmt.Fprintf(listFile, "file '%s'\n", p); err != nil {
			listFile.Close()
			return err
		}
	}
	if err := listFile.Close(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-f", "concat", "-safe", "0",
		"-i", listFile.Name(), "-c", "copy", outputPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &DownloadError{Err: fmt.Errorf("ffmpeg concat failed: %w: %s", err, string(out))}
	}
	return nil
}

// validSegmentLines filters m3u8 playlist lines down to the non-empty,
// non-comment entries naming actual segment files.
func validSegmentLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		out = append(out, name)
	}
	return out
}
