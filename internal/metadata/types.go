// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metadata defines the volume and issue records supplied by the
// external metadata provider, plus the matching helpers used to compare
// search results and files against them.
package metadata

import (
	"context"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// VolumeData is the metadata record for one comic volume.
type VolumeData struct {
	ID             int64                 `json:"id"`
	Title          string                `json:"title"`
	AltTitle       string                `json:"alt_title,omitempty"`
	Year           *int                  `json:"year,omitempty"`
	VolumeNumber   *int                  `json:"volume_number,omitempty"`
	Publisher      string                `json:"publisher,omitempty"`
	SpecialVersion domain.SpecialVersion `json:"special_version"`
	FolderPath     string                `json:"folder_path,omitempty"`
}

// IssueData is the metadata record for one issue of a volume.
type IssueData struct {
	ID          int64   `json:"id"`
	VolumeID    int64   `json:"volume_id"`
	IssueNumber float64 `json:"issue_number"`
	Title       string  `json:"title,omitempty"`
	ReleaseYear *int    `json:"release_year,omitempty"`
	Monitored   bool    `json:"monitored"`
}

// Provider supplies volume and issue records. The concrete
// implementation (ComicVine) lives outside this module.
type Provider interface {
	GetVolume(ctx context.Context, volumeID int64) (*VolumeData, error)
	GetIssues(ctx context.Context, volumeID int64) ([]IssueData, error)
}

// NumberToYear maps calculated issue numbers to their release year.
// Missing years map to nil.
func NumberToYear(issues []IssueData) map[float64]*int {
	m := make(map[float64]*int, len(issues))
	for _, issue := range issues {
		m[issue.IssueNumber] = issue.ReleaseYear
	}
	return m
}

// IssueByNumber returns the issue with the given calculated number, or
// nil when the volume has none.
func IssueByNumber(issues []IssueData, number float64) *IssueData {
	for i := range issues {
		if issues[i].IssueNumber == number {
			return &issues[i]
		}
	}
	return nil
}
