// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// scannableExtensions are the file types that can hold comic content.
var scannableExtensions = map[string]bool{
	".cbz":  true,
	".cbr":  true,
	".cb7":  true,
	".zip":  true,
	".rar":  true,
	".7z":   true,
	".pdf":  true,
	".epub": true,
}

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

func isScannable(name string) bool {
	return scannableExtensions[strings.ToLower(filepath.Ext(name))]
}

// ArchiveContainsIssues reports whether a zip archive bundles separate
// issue files rather than the pages of a single issue. An archive of
// one issue holds images; a multi-issue pack holds nested comic files.
func ArchiveContainsIssues(path string) bool {
	r, err := zip.OpenReader(path)
	if err != nil {
		return false
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if isScannable(f.Name) {
			return true
		}
	}
	return false
}

// archiveExtractFolder is the scratch folder name used while an
// archive is unpacked inside the volume folder.
func archiveExtractFolder(volumeFolder, archivePath string) string {
	base := strings.TrimSuffix(filepath.Base(archivePath), filepath.Ext(archivePath))
	return filepath.Join(volumeFolder, ".archive_extract_"+base)
}

// ExtractArchive unpacks a zip archive into dest, refusing member
// paths that escape it.
func ExtractArchive(path, dest string) ([]string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	var extracted []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}

		target := filepath.Join(dest, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			return nil, fmt.Errorf("archive member %q escapes extraction folder", f.Name)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		if err := extractMember(f, target); err != nil {
			return nil, fmt.Errorf("extract %s: %w", f.Name, err)
		}
		extracted = append(extracted, target)
	}
	return extracted, nil
}

func extractMember(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}

// CreateArchive zips the contents of a folder into target. Member
// names are relative to the folder root.
func CreateArchive(folder, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	defer out.Close()

	w := zip.NewWriter(out)
	defer w.Close()

	return filepath.Walk(folder, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}

		member, err := w.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()

		_, err = io.Copy(member, in)
		return err
	})
}

// deleteEmptyParentFolders removes empty directories from start up to,
// but never including, stop.
func deleteEmptyParentFolders(start, stop string) {
	stop = filepath.Clean(stop)
	for dir := filepath.Clean(start); dir != stop && strings.HasPrefix(dir, stop); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
	}
}
