// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package queue implements the download queue state machine: admission
// by priority, independent concurrency budgets per mechanism, stall
// detection, bounded retry and the seeding handoff.
package queue

import (
	"time"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

// TaskState is the queue-side lifecycle state of a task.
type TaskState string

const (
	StateQueued    TaskState = "queued"
	StateActive    TaskState = "active"
	StateFailing   TaskState = "failing"
	StateImporting TaskState = "importing"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
)

// Terminal reports whether no further transitions can occur.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Task is the unit the queue manages. The queue owns all state
// transitions; adapters only report progress snapshots.
type Task struct {
	ID           int64  `json:"id"`
	VolumeID     int64  `json:"volume_id"`
	IssueID      *int64 `json:"issue_id,omitempty"`
	Link         string `json:"link"`
	DisplayTitle string `json:"display_title"`

	Mechanism downloader.DownloadType `json:"mechanism"`
	Service   string                  `json:"service,omitempty"`
	ClientID  int                     `json:"client_id,omitempty"`
	Force     bool                    `json:"force"`

	State            TaskState `json:"state"`
	BytesTotal       *int64    `json:"bytes_total,omitempty"`
	BytesTransferred int64     `json:"bytes_transferred"`
	Speed            int64     `json:"speed"`
	Retries          int       `json:"retries"`
	FailureReason    string    `json:"failure_reason,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastProgress time.Time `json:"last_progress"`

	// Snapshots taken at creation, never reevaluated mid-transfer.
	SeedingHandling domain.SeedingHandling `json:"seeding_handling"`
	StallTimeout    time.Duration          `json:"-"`

	// servicePosition orders admission between non-forced tasks.
	servicePosition int

	adapter      downloader.ClientAdapter
	handle       string
	targetFolder string
	downloadName string

	// stalledEpisode is set when the watchdog fired for the current
	// stall; cleared on any progress.
	stalledEpisode bool

	// awaitingSeed marks a copy-policy task whose artifact was handed
	// off while the client is still seeding.
	awaitingSeed bool

	// cancelRequested defers cancellation while importing.
	cancelRequested bool
}

// ArtifactPath is where the adapter placed the finished download.
func (t *Task) ArtifactPath() string {
	if fp, ok := t.adapter.(interface{ FilePath(string) (string, bool) }); ok {
		if path, found := fp.FilePath(t.handle); found {
			return path
		}
	}
	return t.targetFolder
}
