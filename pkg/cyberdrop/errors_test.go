// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cyberdrop

import (
	"errors"
	"testing"
)

func TestDownloadError_Retryable(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   bool
	}{
		{"progress-based retry", 999, true},
		{"rate limited", 429, true},
		{"server error", 503, true},
		{"not found is terminal", 404, false},
		{"forbidden is terminal", 403, false},
		{"no status code defaults retryable", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := &DownloadError{URL: "https://example.com/f", StatusCode: tc.status, Err: errors.New("boom")}
			if got := e.Retryable(); got != tc.want {
				t.Errorf("Retryable() for status %d = %v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestDownloadError_Unwrap(t *testing.T) {
	cause := errors.New("transport reset")
	e := &DownloadError{URL: "https://example.com/f", Err: cause}
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to find wrapped cause")
	}
}

func TestChallengeError_UnwrapsToSentinel(t *testing.T) {
	e := &ChallengeError{URL: "https://example.com", Kind: "cloudflare", Reason: "no solver configured"}
	if !errors.Is(e, ErrChallenge) {
		t.Errorf("expected ChallengeError to unwrap to ErrChallenge")
	}
}

func TestDownloadError_ErrorMessage(t *testing.T) {
	withStatus := &DownloadError{URL: "https://x/a", StatusCode: 404, Err: errors.New("gone")}
	if got := withStatus.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
	noStatus := &DownloadError{URL: "https://x/a", Err: errors.New("reset")}
	if got := noStatus.Error(); got == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestRestrictedFiletypeError_IsDetectableViaErrorsAs(t *testing.T) {
	var wrapped error = &RestrictedFiletypeError{URL: "https://x/a.jpg", Category: "image"}
	var target *RestrictedFiletypeError
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to detect *RestrictedFiletypeError")
	}
	if target.Category != "image" {
		t.Errorf("Category = %q, want image", target.Category)
	}
	if target.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestDurationError_IsDetectableViaErrorsAs(t *testing.T) {
	var wrapped error = &DurationError{URL: "https://x/a.mp4"}
	var target *DurationError
	if !errors.As(wrapped, &target) {
		t.Fatal("expected errors.As to detect *DurationError")
	}
	if target.Error() == "" {
		t.Error("expected non-empty error message")
	}
}

func TestMaxChildrenError_ErrorMessage(t *testing.T) {
	e := &MaxChildrenError{URL: "https://x/album", Limit: 10}
	if e.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestInvalidContentTypeError_ErrorMessage(t *testing.T) {
	e := &InvalidContentTypeError{}
	if e.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
}
