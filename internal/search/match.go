// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
)

// Rejection reasons recorded on non-matching candidates.
const (
	RejectionBlocklisted    = "Link is blocklisted"
	RejectionAnnual         = "Annual mismatch"
	RejectionTitle          = "Title mismatch"
	RejectionVolumeNumber   = "Volume number mismatch"
	RejectionSpecialVersion = "Special version mismatch"
	RejectionYear           = "Year mismatch"
	RejectionIssueNumber    = "Issue number mismatch"
)

// CheckMatch computes a candidate's match flag and rejection reasons
// against the target. Missing result data is handled conservatively:
// absence never causes a rejection on its own.
func CheckMatch(candidate Candidate, target TargetSpec, blocklisted bool) (bool, []string) {
	volume := target.Volume
	annual := strings.Contains(strings.ToLower(volume.Title), "annual")

	var rejections []string

	if blocklisted {
		rejections = append(rejections, RejectionBlocklisted)
	}

	if candidate.Annual != annual {
		rejections = append(rejections, RejectionAnnual)
	}

	if !metadata.MatchTitle(volume.Title, candidate.Series) &&
		!(volume.AltTitle != "" && metadata.MatchTitle(volume.AltTitle, candidate.Series)) {
		rejections = append(rejections, RejectionTitle)
	}

	if !metadata.MatchVolumeNumber(volume, target.Issues, candidate.VolumeNumber, true) {
		rejections = append(rejections, RejectionVolumeNumber)
	}

	if !metadata.MatchSpecialVersion(volume.SpecialVersion, candidate.SpecialVersion, volume.Title, candidate.IssueNumber) {
		rejections = append(rejections, RejectionSpecialVersion)
	}

	issueNumber := effectiveIssueNumber(candidate, volume)

	endYear := volume.Year
	if issueNumber.Kind != domain.IssueUnknown {
		if year, ok := releaseYearOf(target.Issues, issueNumber.Hi); ok {
			endYear = year
		}
	}
	if !metadata.MatchYear(volume.Year, candidate.Year, endYear, true) {
		rejections = append(rejections, RejectionYear)
	}

	if volume.SpecialVersion == domain.SpecialVersionNone ||
		volume.SpecialVersion == domain.SpecialVersionVolumeAsIssue {
		if wanted, ok := target.TargetIssueNumber(); ok {
			if issueNumber.Kind != domain.IssueSingle || issueNumber.Lo != wanted {
				rejections = append(rejections, RejectionIssueNumber)
			}
		} else if issueNumber.Kind != domain.IssueUnknown {
			// Volume search: every covered number must exist in the volume
			for _, n := range []float64{issueNumber.Lo, issueNumber.Hi} {
				if metadata.IssueByNumber(target.Issues, n) == nil {
					rejections = append(rejections, RejectionIssueNumber)
					break
				}
			}
		}
	}

	return len(rejections) == 0, rejections
}

// effectiveIssueNumber resolves which designator counts as the issue
// number: for volume-as-issue volumes the claimed volume number is the
// issue number.
func effectiveIssueNumber(candidate Candidate, volume *metadata.VolumeData) domain.IssueNumber {
	if candidate.IssueNumber.Kind != domain.IssueUnknown {
		return candidate.IssueNumber
	}
	if volume.SpecialVersion == domain.SpecialVersionVolumeAsIssue {
		return candidate.VolumeNumber
	}
	return domain.UnknownIssue()
}

func releaseYearOf(issues []metadata.IssueData, number float64) (*int, bool) {
	issue := metadata.IssueByNumber(issues, number)
	if issue == nil {
		return nil, false
	}
	return issue.ReleaseYear, true
}
