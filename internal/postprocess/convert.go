// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// ConvertFunc converts one file and returns the resulting paths. The
// volume folder is supplied for converters that need to place output
// outside the file's own directory.
type ConvertFunc func(path, volumeFolder string) ([]string, error)

// Conversion is a selected converter together with the formats it
// bridges. Target "folder" means the archive is unpacked instead of
// re-encoded.
type Conversion struct {
	Source string
	Target string
	Fn     ConvertFunc
}

var converters = map[string]map[string]ConvertFunc{}

// RegisterConverter wires a converter from one format to another.
// Formats are lowercase extensions without the dot, or "folder".
// Double registration is a programming error.
func RegisterConverter(source, target string, fn ConvertFunc) {
	if source != "folder" && !scannableExtensions["."+source] {
		panic(fmt.Sprintf("postprocess: invalid source format %q", source))
	}
	if target != "folder" && !scannableExtensions["."+target] {
		panic(fmt.Sprintf("postprocess: invalid target format %q", target))
	}
	if _, ok := converters[source][target]; ok {
		panic(fmt.Sprintf("postprocess: converter %s to %s registered twice", source, target))
	}
	if converters[source] == nil {
		converters[source] = map[string]ConvertFunc{}
	}
	converters[source][target] = fn
}

func formatsConvertibleToFolder() []string {
	var result []string
	for source, targets := range converters {
		if _, ok := targets["folder"]; ok {
			result = append(result, source)
		}
	}
	return result
}

// SelectConverter picks the conversion for a file, or nil when the
// file already is the most preferred reachable format. Extraction of
// multi-issue archives takes precedence over format preference.
func SelectConverter(path string, cfg domain.Config) *Conversion {
	source := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		source = "folder"
	}

	if cfg.ExtractIssueRanges {
		for _, format := range formatsConvertibleToFolder() {
			if source == format && ArchiveContainsIssues(path) {
				return &Conversion{Source: source, Target: "folder", Fn: converters[source]["folder"]}
			}
		}
	}

	for _, preferred := range cfg.FormatPreference {
		if source == preferred {
			return nil
		}
		if fn, ok := converters[source][preferred]; ok {
			return &Conversion{Source: source, Target: preferred, Fn: fn}
		}
	}
	return nil
}

// ConversionTarget is the path a file would have after conversion,
// used by the preview operations. Folder targets resolve to the
// volume folder itself.
func ConversionTarget(path, volumeFolder string, c *Conversion) string {
	if c.Target == "folder" {
		return volumeFolder
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + c.Target
}

func renameToExtension(path, ext string) ([]string, error) {
	target := strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
	if err := os.Rename(path, target); err != nil {
		return nil, err
	}
	return []string{target}, nil
}

// extractToFolder unpacks an archive into the volume folder. Image
// members keep their immediate parent directory so pages of different
// issues stay grouped; everything else moves to the folder root.
func extractToFolder(path, volumeFolder string) ([]string, error) {
	scratch := archiveExtractFolder(volumeFolder, path)
	members, err := ExtractArchive(path, scratch)
	if err != nil {
		return nil, err
	}

	var result []string
	for _, member := range members {
		ext := strings.ToLower(filepath.Ext(member))
		if !scannableExtensions[ext] && !imageExtensions[ext] {
			continue
		}

		dest := filepath.Join(volumeFolder, filepath.Base(member))
		if imageExtensions[ext] {
			dest = filepath.Join(volumeFolder, filepath.Base(filepath.Dir(member)), filepath.Base(member))
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}
		if err := os.Rename(member, dest); err != nil {
			return nil, err
		}
		result = append(result, dest)
	}

	if err := os.RemoveAll(scratch); err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		return nil, err
	}
	deleteEmptyParentFolders(filepath.Dir(path), volumeFolder)
	return result, nil
}

// packFolder zips a loose issue directory into an archive beside it
// and removes the directory.
func packFolder(path, _ string) ([]string, error) {
	target := path + ".cbz"
	if err := CreateArchive(path, target); err != nil {
		return nil, err
	}
	if err := os.RemoveAll(path); err != nil {
		return nil, err
	}
	return []string{target}, nil
}

func init() {
	RegisterConverter("zip", "cbz", func(path, _ string) ([]string, error) {
		return renameToExtension(path, "cbz")
	})
	RegisterConverter("cbz", "zip", func(path, _ string) ([]string, error) {
		return renameToExtension(path, "zip")
	})
	RegisterConverter("zip", "folder", extractToFolder)
	RegisterConverter("cbz", "folder", extractToFolder)
	RegisterConverter("folder", "cbz", packFolder)
}
