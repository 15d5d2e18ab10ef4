// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package search aggregates results from the content sources and ranks
// them against a wanted issue or volume.
package search

import (
	"context"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
)

// Candidate is one search result, immutable once produced by a
// source adapter.
type Candidate struct {
	Link            string                `json:"link"`
	DisplayTitle    string                `json:"display_title"`
	Series          string                `json:"series"`
	Source          string                `json:"source"`
	Releaser        string                `json:"releaser,omitempty"`
	ScanType        string                `json:"scan_type,omitempty"`
	Resolution      string                `json:"resolution,omitempty"`
	DPI             string                `json:"dpi,omitempty"`
	Size            int64                 `json:"size"`
	Pages           int                   `json:"pages,omitempty"`
	Year            *int                  `json:"year,omitempty"`
	Annual          bool                  `json:"annual"`
	IssueNumber     domain.IssueNumber    `json:"issue_number"`
	VolumeNumber    domain.IssueNumber    `json:"volume_number"`
	SpecialVersion  domain.SpecialVersion `json:"special_version"`
	Match           bool                  `json:"match"`
	MatchRejections []string              `json:"match_rejections,omitempty"`
}

// TargetSpec describes what is being searched for: a whole volume, or
// one issue of it.
type TargetSpec struct {
	Volume *metadata.VolumeData
	Issues []metadata.IssueData

	// Set when the target is a single issue.
	IssueID     *int64
	IssueNumber *float64
}

// TargetIssueNumber returns the wanted issue number, or false for a
// volume-level target.
func (t TargetSpec) TargetIssueNumber() (float64, bool) {
	if t.IssueNumber == nil {
		return 0, false
	}
	return *t.IssueNumber, true
}

// SourceAdapter is one content source. Adapters are opaque: they take
// a query string and return the uniform candidate shape.
type SourceAdapter interface {
	Name() string
	Search(ctx context.Context, query string) ([]Candidate, error)
}
