// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package postprocess turns finished download artifacts into library
// files: renaming per the configured templates, format conversion and
// extraction of archives that bundle multiple issues.
package postprocess

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
)

var templateKeyRegex = regexp.MustCompile(`\{([a-z_]+)\}`)

// forbidden filename characters, Windows superset.
var unsafeCharRegex = regexp.MustCompile(`[<>:"?*|]`)

// MakeFilenameSafe strips characters that are invalid in filenames.
// Path separators are kept so the value may be a full path.
func MakeFilenameSafe(name string) string {
	parts := strings.Split(filepath.ToSlash(name), "/")
	for i, part := range parts {
		part = unsafeCharRegex.ReplaceAllString(part, "")
		part = strings.TrimRight(part, ". ")
		parts[i] = strings.TrimSpace(part)
	}
	return filepath.FromSlash(strings.Join(parts, "/"))
}

// zfill left-pads with zeros to the given width, like Python's
// str.zfill. Negative numbers keep the sign in front.
func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	return sign + strings.Repeat("0", width-len(sign)-len(s)) + s
}

// FormatIssueNumber renders a calculated issue number without a
// trailing ".0" for whole numbers.
func FormatIssueNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func applyTemplate(tmpl string, keys map[string]string) string {
	return templateKeyRegex.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := keys[key]; ok && v != "" {
			return v
		}
		return "Unknown"
	})
}

func stripSlashes(s string) string {
	s = strings.ReplaceAll(s, "/", "")
	return strings.ReplaceAll(s, `\`, "")
}

// volumeNamingKeys builds the substitution values shared by all
// templates. Articles move to the back for clean_series_name so
// "The Avengers" sorts under A.
func volumeNamingKeys(volume *metadata.VolumeData, cfg domain.Config) map[string]string {
	seriesName := stripSlashes(volume.Title)

	cleanName := seriesName
	for _, prefix := range []string{"The ", "A "} {
		if strings.HasPrefix(seriesName, prefix) {
			cleanName = seriesName[len(prefix):] + ", " + strings.TrimSpace(prefix)
			break
		}
	}

	keys := map[string]string{
		"series_name":       seriesName,
		"clean_series_name": cleanName,
		"publisher":         volume.Publisher,
	}
	if volume.VolumeNumber != nil {
		keys["volume_number"] = zfill(strconv.Itoa(*volume.VolumeNumber), cfg.VolumePadding)
	}
	if volume.Year != nil {
		keys["year"] = strconv.Itoa(*volume.Year)
	}
	if sv := volume.SpecialVersion; sv != domain.SpecialVersionNone {
		if cfg.LongSpecialVersion {
			keys["special_version"] = sv.LongName()
		} else {
			keys["special_version"] = sv.ShortName()
		}
	}
	return keys
}

func issueNamingKeys(volume *metadata.VolumeData, issue *metadata.IssueData, cfg domain.Config) map[string]string {
	keys := volumeNamingKeys(volume, cfg)
	keys["issue_number"] = zfill(FormatIssueNumber(issue.IssueNumber), cfg.IssuePadding)
	keys["issue_title"] = stripSlashes(issue.Title)
	if issue.ReleaseYear != nil {
		keys["issue_release_year"] = strconv.Itoa(*issue.ReleaseYear)
	}
	return keys
}

// GenerateVolumeFolderName renders the volume folder template.
func GenerateVolumeFolderName(volume *metadata.VolumeData, cfg domain.Config) string {
	name := applyTemplate(cfg.VolumeFolderNaming, volumeNamingKeys(volume, cfg))
	return MakeFilenameSafe(name)
}

// VolumeFolderPath resolves the library folder for a volume, honoring
// a custom folder set on the volume record.
func VolumeFolderPath(rootFolder string, volume *metadata.VolumeData, cfg domain.Config) string {
	if volume.FolderPath != "" {
		return volume.FolderPath
	}
	return filepath.Join(rootFolder, GenerateVolumeFolderName(volume, cfg))
}

// GenerateIssueName renders the file name (without extension) for an
// issue or issue range, picking the template that matches the volume's
// special-version classification.
func GenerateIssueName(volume *metadata.VolumeData, issues []metadata.IssueData, number domain.IssueNumber, cfg domain.Config) (string, error) {
	sv := volume.SpecialVersion

	var (
		tmpl string
		keys map[string]string
	)

	switch {
	case sv.IsSpecial():
		tmpl = cfg.FileNamingSpecialVersion
		keys = volumeNamingKeys(volume, cfg)

	case sv == domain.SpecialVersionVolumeAsIssue:
		issue := metadata.IssueByNumber(issues, number.Lo)
		if issue == nil {
			return "", fmt.Errorf("volume %d has no issue %s", volume.ID, FormatIssueNumber(number.Lo))
		}
		tmpl = cfg.FileNamingVAI
		keys = issueNamingKeys(volume, issue, cfg)

	default:
		issue := metadata.IssueByNumber(issues, number.Lo)
		if issue == nil {
			return "", fmt.Errorf("volume %d has no issue %s", volume.ID, FormatIssueNumber(number.Lo))
		}
		tmpl = cfg.FileNaming
		keys = issueNamingKeys(volume, issue, cfg)
	}

	if number.Kind == domain.IssueRange {
		end := metadata.IssueByNumber(issues, number.Hi)
		if end == nil {
			return "", fmt.Errorf("volume %d has no issue %s", volume.ID, FormatIssueNumber(number.Hi))
		}
		keys["issue_number"] = zfill(FormatIssueNumber(number.Lo), cfg.IssuePadding) +
			" - " + zfill(FormatIssueNumber(end.IssueNumber), cfg.IssuePadding)
	}

	return MakeFilenameSafe(applyTemplate(tmpl, keys)), nil
}
