// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// IssueNumberKind discriminates the issue designator of a search
// result: a single issue, a closed range covering a pack of issues, or
// no designator at all.
type IssueNumberKind int

const (
	IssueUnknown IssueNumberKind = iota
	IssueSingle
	IssueRange
)

// IssueNumber is the tagged representation of an issue designator.
// Lo and Hi are only meaningful for the kinds that carry them: Single
// stores its value in Lo, Range stores both bounds.
type IssueNumber struct {
	Kind IssueNumberKind
	Lo   float64
	Hi   float64
}

func SingleIssue(n float64) IssueNumber {
	return IssueNumber{Kind: IssueSingle, Lo: n, Hi: n}
}

func IssueRangeOf(lo, hi float64) IssueNumber {
	if hi < lo {
		lo, hi = hi, lo
	}
	return IssueNumber{Kind: IssueRange, Lo: lo, Hi: hi}
}

func UnknownIssue() IssueNumber {
	return IssueNumber{Kind: IssueUnknown}
}

// ParseIssueNumber parses the designator format used by the sources:
// "5" for a single issue, "1,10" for a closed range, empty for none.
func ParseIssueNumber(s string) (IssueNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return UnknownIssue(), nil
	}

	if lo, hi, ok := strings.Cut(s, ","); ok {
		loN, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return UnknownIssue(), fmt.Errorf("invalid issue range start %q: %w", lo, err)
		}
		hiN, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return UnknownIssue(), fmt.Errorf("invalid issue range end %q: %w", hi, err)
		}
		return IssueRangeOf(loN, hiN), nil
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return UnknownIssue(), fmt.Errorf("invalid issue number %q: %w", s, err)
	}
	return SingleIssue(n), nil
}

// Contains reports whether the designator covers the given issue
// number. Unknown designators cover nothing.
func (n IssueNumber) Contains(issue float64) bool {
	switch n.Kind {
	case IssueSingle:
		return n.Lo == issue
	case IssueRange:
		return n.Lo <= issue && issue <= n.Hi
	default:
		return false
	}
}

// Overlaps reports whether two designators cover at least one common
// issue. Either side may be a single issue or a range.
func (n IssueNumber) Overlaps(other IssueNumber) bool {
	if n.Kind == IssueUnknown || other.Kind == IssueUnknown {
		return false
	}
	return n.Lo <= other.Hi && other.Lo <= n.Hi
}

func (n IssueNumber) String() string {
	switch n.Kind {
	case IssueSingle:
		return strconv.FormatFloat(n.Lo, 'f', -1, 64)
	case IssueRange:
		return strconv.FormatFloat(n.Lo, 'f', -1, 64) + "," + strconv.FormatFloat(n.Hi, 'f', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON emits the designator in its wire form: a number, a
// two-element array, or null.
func (n IssueNumber) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case IssueSingle:
		return []byte(strconv.FormatFloat(n.Lo, 'f', -1, 64)), nil
	case IssueRange:
		return []byte(fmt.Sprintf("[%s,%s]",
			strconv.FormatFloat(n.Lo, 'f', -1, 64),
			strconv.FormatFloat(n.Hi, 'f', -1, 64))), nil
	default:
		return []byte("null"), nil
	}
}
