// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the acquisition pipeline.
var (
	// ErrNoEligibleService is returned at enqueue time when no
	// service/credential pair can serve the chosen candidate.
	ErrNoEligibleService = errors.New("no service with valid credentials can serve this candidate")

	// ErrStalled marks a download that made no progress for longer
	// than its configured timeout.
	ErrStalled = errors.New("download stalled")

	// ErrLinkBlocklisted refuses enqueueing a link that is on the
	// blocklist.
	ErrLinkBlocklisted = errors.New("link is blocklisted")
)

// RateLimitedError indicates an upstream provider temporarily refused
// requests. It is retried with backoff at the orchestrator, never
// swallowed.
type RateLimitedError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s is rate limiting requests, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s is rate limiting requests", e.Provider)
}

func (e *RateLimitedError) Is(target error) bool {
	_, ok := target.(*RateLimitedError)
	return ok
}

// AuthenticationFailedError indicates a credential was rejected by a
// service or external client. Retryable once with an alternate
// credential for the same service, then terminal.
type AuthenticationFailedError struct {
	Service     string
	Description string
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication with %s failed: %s", e.Service, e.Description)
}

func (e *AuthenticationFailedError) Is(target error) bool {
	_, ok := target.(*AuthenticationFailedError)
	return ok
}

// PostProcessError is terminal for the task; the downloaded artifact
// is preserved on disk for manual handling.
type PostProcessError struct {
	Step string
	Path string
	Err  error
}

func (e *PostProcessError) Error() string {
	return fmt.Sprintf("post-processing step %q failed for %s: %v", e.Step, e.Path, e.Err)
}

func (e *PostProcessError) Unwrap() error { return e.Err }

func (e *PostProcessError) Is(target error) bool {
	_, ok := target.(*PostProcessError)
	return ok
}

// TaskForVolumeRunningError refuses an operation on a volume while a
// download task still depends on it.
type TaskForVolumeRunningError struct {
	VolumeID int64
}

func (e *TaskForVolumeRunningError) Error() string {
	return fmt.Sprintf("a download task is running for volume %d", e.VolumeID)
}

func (e *TaskForVolumeRunningError) Is(target error) bool {
	_, ok := target.(*TaskForVolumeRunningError)
	return ok
}

// ClientBusyError refuses deleting an external client while a download
// task is using it.
type ClientBusyError struct {
	ClientID int
}

func (e *ClientBusyError) Error() string {
	return fmt.Sprintf("a download task is using external client %d", e.ClientID)
}

func (e *ClientBusyError) Is(target error) bool {
	_, ok := target.(*ClientBusyError)
	return ok
}

// ClientNotWorkingError reports a connectivity or protocol problem
// with an external client.
type ClientNotWorkingError struct {
	Description string
}

func (e *ClientNotWorkingError) Error() string {
	return fmt.Sprintf("external client is not working: %s", e.Description)
}

func (e *ClientNotWorkingError) Is(target error) bool {
	_, ok := target.(*ClientNotWorkingError)
	return ok
}

// DownloadLimitReachedError reports that a direct-download service has
// hit its daily quota.
type DownloadLimitReachedError struct {
	Service string
}

func (e *DownloadLimitReachedError) Error() string {
	return fmt.Sprintf("download service %s has reached its download limit", e.Service)
}

func (e *DownloadLimitReachedError) Is(target error) bool {
	_, ok := target.(*DownloadLimitReachedError)
	return ok
}
