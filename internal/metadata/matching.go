// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"regexp"
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// cleanTitleRegex strips the noise words and punctuation that vary
// between metadata titles and release titles.
var cleanTitleRegex = regexp.MustCompile(
	`(/|-|–|\+|,|\.|!|:|\bthe\s|\band\b|&|’|'|"|\bone[-\s]?shot\b|\bhard[-\s]?cover\b|\bomnibus\b|\btpb\b)`,
)

// CleanTitle normalizes a title for comparison: lowercased, noise
// words and punctuation dropped, whitespace removed.
func CleanTitle(title string) string {
	lowered := strings.ToLower(title)
	// "annuals" and "annual" must compare equal
	lowered = strings.ReplaceAll(lowered, "annuals", "annual")
	cleaned := cleanTitleRegex.ReplaceAllString(lowered, "")
	return strings.ReplaceAll(cleaned, " ", "")
}

// MatchTitle reports whether two titles refer to the same series.
func MatchTitle(title1, title2 string) bool {
	return CleanTitle(title1) == CleanTitle(title2)
}

// MatchTitleContains additionally matches when title2 appears
// somewhere inside title1.
func MatchTitleContains(title1, title2 string) bool {
	return strings.Contains(CleanTitle(title1), CleanTitle(title2))
}

// MatchYear checks two years with one year of wiggle room on either
// side. endYear widens the upper border when the volume ran for
// multiple years. With conservative set, a missing year on either side
// counts as a match.
func MatchYear(referenceYear, checkYear, endYear *int, conservative bool) bool {
	if referenceYear == nil || checkYear == nil {
		return conservative
	}

	endBorder := *referenceYear
	if endYear != nil {
		endBorder = *endYear
	}

	return *referenceYear-1 <= *checkYear && *checkYear <= endBorder+1
}

// MatchVolumeNumber checks a claimed volume number (or range) against
// the volume. A number matching the volume's year also counts. For
// volume-as-issue volumes the claimed numbers are issue numbers, so
// every one of them must exist as an issue of the volume.
func MatchVolumeNumber(volume *VolumeData, issues []IssueData, check domain.IssueNumber, conservative bool) bool {
	if volume.VolumeNumber == nil && volume.Year == nil {
		return conservative
	}
	if check.Kind == domain.IssueUnknown {
		return conservative
	}

	if check.Kind == domain.IssueSingle {
		n := int(check.Lo)
		if volume.VolumeNumber != nil && n == *volume.VolumeNumber {
			return true
		}
		if MatchYear(volume.Year, &n, nil, false) {
			return true
		}
	}

	// The claimed volume number may actually be an issue number when
	// the volume is volume-as-issue.
	if volume.SpecialVersion != domain.SpecialVersionVolumeAsIssue {
		return false
	}

	numbers := []float64{check.Lo}
	if check.Kind == domain.IssueRange && check.Hi != check.Lo {
		numbers = append(numbers, check.Hi)
	}
	for _, n := range numbers {
		if IssueByNumber(issues, n) == nil {
			return false
		}
	}
	return true
}

// MatchSpecialVersion checks whether a claimed special-version state is
// compatible with the volume's, allowing for the lower specificity of
// release titles.
func MatchSpecialVersion(reference, check domain.SpecialVersion, volumeTitle string, issueNumber domain.IssueNumber) bool {
	if check == reference {
		return true
	}

	oneIssueLike := reference == domain.SpecialVersionHardCover ||
		reference == domain.SpecialVersionOneShot ||
		reference == domain.SpecialVersionOmnibus

	if issueNumber.Kind == domain.IssueSingle && issueNumber.Lo == 1.0 && oneIssueLike {
		return true
	}

	if reference == domain.SpecialVersionVolumeAsIssue && check == domain.SpecialVersionNone {
		return true
	}

	if check == domain.SpecialVersionOmnibus && strings.Contains(strings.ToLower(volumeTitle), "omnibus") {
		return true
	}

	// Releases of these volumes are frequently labelled as plain TPBs.
	return check == domain.SpecialVersionTPB &&
		(oneIssueLike || reference == domain.SpecialVersionVolumeAsIssue)
}
