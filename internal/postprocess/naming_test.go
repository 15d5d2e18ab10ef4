// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
)

func intPtr(n int) *int { return &n }

func namingConfig() domain.Config {
	return domain.Config{
		FileNaming:               "{series_name} ({year}) Volume {volume_number} Issue {issue_number}",
		FileNamingSpecialVersion: "{series_name} ({year}) Volume {volume_number} {special_version}",
		FileNamingVAI:            "{series_name} ({year}) Volume {issue_number}",
		VolumeFolderNaming:       "{clean_series_name} ({year})",
		IssuePadding:             3,
		VolumePadding:            2,
	}
}

func testVolume(sv domain.SpecialVersion) *metadata.VolumeData {
	return &metadata.VolumeData{
		ID:             1,
		Title:          "The Invincible Iron Man",
		Year:           intPtr(2008),
		VolumeNumber:   intPtr(1),
		Publisher:      "Marvel",
		SpecialVersion: sv,
	}
}

func testIssues() []metadata.IssueData {
	return []metadata.IssueData{
		{ID: 11, VolumeID: 1, IssueNumber: 1, Title: "Armor Wars"},
		{ID: 12, VolumeID: 1, IssueNumber: 2},
		{ID: 13, VolumeID: 1, IssueNumber: 5.5, Title: "Annual"},
	}
}

func TestMakeFilenameSafe(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "forbidden characters stripped",
			in:   `Spider-Man: Far From Home?`,
			want: "Spider-Man Far From Home",
		},
		{
			name: "trailing dots trimmed",
			in:   "Vol. 2.",
			want: "Vol. 2",
		},
		{
			name: "path separators kept",
			in:   "/library/Iron Man (2008)/Iron Man #1",
			want: "/library/Iron Man (2008)/Iron Man #1",
		},
		{
			name: "quotes removed per component",
			in:   `/library/The "Best" Comic/issue *1*`,
			want: "/library/The Best Comic/issue 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MakeFilenameSafe(tt.in))
		})
	}
}

func TestZfill(t *testing.T) {
	assert.Equal(t, "005", zfill("5", 3))
	assert.Equal(t, "5.5", zfill("5.5", 3))
	assert.Equal(t, "-05", zfill("-5", 3))
	assert.Equal(t, "150", zfill("150", 3))
}

func TestFormatIssueNumber(t *testing.T) {
	assert.Equal(t, "5", FormatIssueNumber(5))
	assert.Equal(t, "5.5", FormatIssueNumber(5.5))
	assert.Equal(t, "0.1", FormatIssueNumber(0.1))
}

func TestGenerateVolumeFolderName(t *testing.T) {
	name := GenerateVolumeFolderName(testVolume(domain.SpecialVersionNone), namingConfig())
	assert.Equal(t, "Invincible Iron Man, The (2008)", name)
}

func TestGenerateIssueNameNormal(t *testing.T) {
	name, err := GenerateIssueName(
		testVolume(domain.SpecialVersionNone), testIssues(),
		domain.SingleIssue(1), namingConfig(),
	)
	require.NoError(t, err)
	assert.Equal(t, "The Invincible Iron Man (2008) Volume 01 Issue 001", name)
}

func TestGenerateIssueNameRange(t *testing.T) {
	name, err := GenerateIssueName(
		testVolume(domain.SpecialVersionNone), testIssues(),
		domain.IssueRangeOf(1, 2), namingConfig(),
	)
	require.NoError(t, err)
	assert.Equal(t, "The Invincible Iron Man (2008) Volume 01 Issue 001 - 002", name)
}

func TestGenerateIssueNameSpecialVersion(t *testing.T) {
	tests := []struct {
		name string
		long bool
		want string
	}{
		{
			name: "short form",
			want: "The Invincible Iron Man (2008) Volume 01 TPB",
		},
		{
			name: "long form",
			long: true,
			want: "The Invincible Iron Man (2008) Volume 01 Trade Paperback",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := namingConfig()
			cfg.LongSpecialVersion = tt.long

			name, err := GenerateIssueName(
				testVolume(domain.SpecialVersionTPB), testIssues(),
				domain.UnknownIssue(), cfg,
			)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestGenerateIssueNameVolumeAsIssue(t *testing.T) {
	name, err := GenerateIssueName(
		testVolume(domain.SpecialVersionVolumeAsIssue), testIssues(),
		domain.SingleIssue(2), namingConfig(),
	)
	require.NoError(t, err)
	assert.Equal(t, "The Invincible Iron Man (2008) Volume 002", name)
}

func TestGenerateIssueNameUnknownIssue(t *testing.T) {
	_, err := GenerateIssueName(
		testVolume(domain.SpecialVersionNone), testIssues(),
		domain.SingleIssue(99), namingConfig(),
	)
	assert.Error(t, err)
}

func TestGenerateIssueNameMissingValues(t *testing.T) {
	volume := testVolume(domain.SpecialVersionNone)
	volume.Year = nil

	name, err := GenerateIssueName(volume, testIssues(), domain.SingleIssue(2), namingConfig())
	require.NoError(t, err)
	assert.Equal(t, "The Invincible Iron Man (Unknown) Volume 01 Issue 002", name)
}

func TestVolumeFolderPathCustomFolder(t *testing.T) {
	volume := testVolume(domain.SpecialVersionNone)
	volume.FolderPath = "/library/custom"

	assert.Equal(t, "/library/custom", VolumeFolderPath("/library", volume, namingConfig()))
}
