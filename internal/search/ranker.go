// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"sort"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// Ranker orders candidates for a target. Ranking is pure: it never
// mutates its inputs or the blocklist.
type Ranker struct {
	// servicePosition maps a source/service name to its preference
	// position; unknown sources sort after known ones.
	servicePosition map[string]int
}

func NewRanker(servicePreference []string) *Ranker {
	positions := make(map[string]int, len(servicePreference))
	for i, service := range servicePreference {
		positions[service] = i
	}
	return &Ranker{servicePosition: positions}
}

// Rank filters out blocklisted candidates and returns the remainder
// ordered best first. Candidates already carry their match flag; the
// blocklist rejection reason doubles as the filter.
//
// The issue score rewards exactness: an exact numeric match scores 0,
// a range is scored by its distance from the batch's largest known
// issue number plus its lower bound, and a candidate without any
// designator scores twice the largest known value so it sorts last but
// stays visible.
func (r *Ranker) Rank(candidates []Candidate, target TargetSpec) []Candidate {
	ranked := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if containsRejection(candidate.MatchRejections, RejectionBlocklisted) {
			continue
		}
		ranked = append(ranked, candidate)
	}

	maxIssue := largestKnownIssue(ranked)
	targetIssue, hasTarget := target.TargetIssueNumber()

	score := func(c Candidate) float64 {
		switch c.IssueNumber.Kind {
		case domain.IssueSingle:
			if !hasTarget {
				return 0
			}
			return abs(c.IssueNumber.Lo - targetIssue)
		case domain.IssueRange:
			return abs(maxIssue-c.IssueNumber.Hi) + c.IssueNumber.Lo
		default:
			return maxIssue * 2
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		if a.Match != b.Match {
			return a.Match
		}

		scoreA, scoreB := score(a), score(b)
		if scoreA != scoreB {
			return scoreA < scoreB
		}

		posA, posB := r.position(a.Source), r.position(b.Source)
		if posA != posB {
			return posA < posB
		}

		if a.Size != b.Size {
			return a.Size > b.Size
		}

		return a.Link < b.Link
	})

	return ranked
}

func (r *Ranker) position(source string) int {
	if pos, ok := r.servicePosition[source]; ok {
		return pos
	}
	return len(r.servicePosition)
}

// largestKnownIssue finds the largest numeric issue value in the
// batch, counting singles and both range bounds.
func largestKnownIssue(candidates []Candidate) float64 {
	var largest float64
	for _, c := range candidates {
		switch c.IssueNumber.Kind {
		case domain.IssueSingle:
			if c.IssueNumber.Lo > largest {
				largest = c.IssueNumber.Lo
			}
		case domain.IssueRange:
			if c.IssueNumber.Hi > largest {
				largest = c.IssueNumber.Hi
			}
		}
	}
	return largest
}

func containsRejection(rejections []string, rejection string) bool {
	for _, r := range rejections {
		if r == rejection {
			return true
		}
	}
	return false
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
