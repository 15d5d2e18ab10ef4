// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// FormatQueries builds the query strings tried against each source for
// a target, most specific first. The format depends on the volume's
// special-version class.
func FormatQueries(target TargetSpec) []string {
	volume := target.Volume
	title := strings.TrimSpace(volume.Title)

	year := ""
	if volume.Year != nil {
		year = strconv.Itoa(*volume.Year)
	}

	var queries []string
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		for _, existing := range queries {
			if strings.EqualFold(existing, q) {
				return
			}
		}
		queries = append(queries, q)
	}

	if issue, ok := target.TargetIssueNumber(); ok {
		n := strconv.FormatFloat(issue, 'f', -1, 64)
		if year != "" {
			add(fmt.Sprintf("%s #%s (%s)", title, n, year))
		}
		add(fmt.Sprintf("%s #%s", title, n))
		add(title)
		return queries
	}

	switch volume.SpecialVersion {
	case domain.SpecialVersionTPB, domain.SpecialVersionHardCover, domain.SpecialVersionOneShot, domain.SpecialVersionOmnibus:
		marker := volume.SpecialVersion.ShortName()
		if year != "" {
			add(fmt.Sprintf("%s (%s) %s", title, year, marker))
		}
		add(fmt.Sprintf("%s %s", title, marker))
		add(title)

	case domain.SpecialVersionVolumeAsIssue:
		if volume.VolumeNumber != nil {
			v := strconv.Itoa(*volume.VolumeNumber)
			if year != "" {
				add(fmt.Sprintf("%s Vol. %s (%s)", title, v, year))
			}
			add(fmt.Sprintf("%s Vol. %s", title, v))
		}
		add(title)

	default:
		if volume.VolumeNumber != nil {
			v := strconv.Itoa(*volume.VolumeNumber)
			if year != "" {
				add(fmt.Sprintf("%s Vol. %s (%s)", title, v, year))
			}
			add(fmt.Sprintf("%s Vol. %s", title, v))
		}
		if year != "" {
			add(fmt.Sprintf("%s (%s)", title, year))
		}
		add(title)
	}

	return queries
}
