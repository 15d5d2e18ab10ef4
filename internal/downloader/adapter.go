// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package downloader defines the contract between the queue and the
// download mechanisms, the registry of external client types, and the
// quota model for direct-download services.
package downloader

import "context"

// State is the client-side state of one transfer as reported by an
// adapter. The queue interprets these into task transitions.
type State string

const (
	StateQueued      State = "queued"
	StateDownloading State = "downloading"
	StateSeeding     State = "seeding"
	StatePaused      State = "paused"
	StateImporting   State = "importing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Status is a snapshot of one transfer. Adapters report cumulative
// byte counts; the queue takes the latest snapshot as truth.
type Status struct {
	Size       int64   `json:"size"`
	Downloaded int64   `json:"downloaded"`
	Progress   float64 `json:"progress"`
	Speed      int64   `json:"speed"`
	State      State   `json:"state"`
}

// DownloadType is the mechanism class of a client or service. Direct
// downloads and torrents have independent concurrency budgets.
type DownloadType string

const (
	TypeDirect  DownloadType = "direct"
	TypeTorrent DownloadType = "torrent"
)

// ClientAdapter is one download mechanism. Adapters never drive queue
// state transitions themselves; the queue polls Status and interprets.
type ClientAdapter interface {
	// Type names the client type this adapter implements.
	Type() string

	// DownloadType reports which concurrency budget transfers on
	// this adapter count against.
	DownloadType() DownloadType

	// AddDownload submits a transfer and returns the client-side
	// identifier used for later status polls.
	AddDownload(ctx context.Context, link, targetFolder, downloadName string) (string, error)

	// GetStatus returns the transfer's snapshot, or nil when the
	// client no longer knows the transfer.
	GetStatus(ctx context.Context, id string) (*Status, error)

	// RemoveDownload removes the transfer from the client,
	// optionally deleting its files.
	RemoveDownload(ctx context.Context, id string, deleteFiles bool) error
}

// Tester is implemented by adapters that can verify connectivity and
// credentials without side effects.
type Tester interface {
	Test(ctx context.Context) error
}
