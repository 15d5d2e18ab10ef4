// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
	"github.com/matt1432/Kapowarr/internal/queue"
)

// Processor moves finished artifacts into the library, applying the
// configured rename and conversion steps. It implements the queue's
// PostProcessor.
type Processor struct {
	provider   metadata.Provider
	rootFolder string
	cfg        func() domain.Config
	log        zerolog.Logger
}

func NewProcessor(provider metadata.Provider, rootFolder string, cfg func() domain.Config, log zerolog.Logger) *Processor {
	return &Processor{
		provider:   provider,
		rootFolder: rootFolder,
		cfg:        cfg,
		log:        log.With().Str("module", "postprocess").Logger(),
	}
}

// Process imports the artifact of a completed task. The returned
// paths are the library files that resulted from the import.
func (p *Processor) Process(ctx context.Context, task *queue.Task) ([]string, error) {
	return p.Import(ctx, task.VolumeID, task.IssueID, task.ArtifactPath())
}

// Import moves the files of an artifact into the volume's library
// folder, renaming and converting per configuration. The artifact may
// be a single file or a download folder.
func (p *Processor) Import(ctx context.Context, volumeID int64, issueID *int64, artifact string) ([]string, error) {
	cfg := p.cfg()

	volume, err := p.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, fmt.Errorf("fetch volume %d: %w", volumeID, err)
	}
	issues, err := p.provider.GetIssues(ctx, volumeID)
	if err != nil {
		return nil, fmt.Errorf("fetch issues of volume %d: %w", volumeID, err)
	}

	files, err := collectFiles(artifact)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no importable files in %s", artifact)
	}

	volumeFolder := VolumeFolderPath(p.rootFolder, volume, cfg)
	if err := os.MkdirAll(volumeFolder, 0o755); err != nil {
		return nil, err
	}

	number := targetIssueNumber(issueID, issues)

	var imported []string
	for _, file := range files {
		dest := filepath.Join(volumeFolder, filepath.Base(file))

		// Only a single-file artifact with a known issue target gets
		// a generated name; bundles keep their member names until the
		// library rescan renames them. Special versions name from the
		// volume alone.
		nameable := number.Kind != domain.IssueUnknown || volume.SpecialVersion.IsSpecial()
		if cfg.RenameDownloadedFiles && len(files) == 1 && nameable {
			if name, err := GenerateIssueName(volume, issues, number, cfg); err == nil {
				dest = filepath.Join(volumeFolder, name+filepath.Ext(file))
			} else {
				p.log.Warn().Err(err).Str("file", file).Msg("Keeping original file name")
			}
		}

		if err := moveFile(file, dest); err != nil {
			return nil, fmt.Errorf("import %s: %w", file, err)
		}
		imported = append(imported, dest)
	}

	if cfg.ConvertFiles {
		converted := make([]string, 0, len(imported))
		for _, file := range imported {
			results, err := p.convertFile(file, volumeFolder, cfg)
			if err != nil {
				return nil, err
			}
			converted = append(converted, results...)
		}
		imported = converted
	}

	if cfg.DownloadDir != "" {
		deleteEmptyParentFolders(filepath.Dir(artifact), cfg.DownloadDir)
	}

	p.log.Info().
		Int64("volumeID", volumeID).
		Int("files", len(imported)).
		Msg("Imported download")
	return imported, nil
}

func (p *Processor) convertFile(file, volumeFolder string, cfg domain.Config) ([]string, error) {
	conversion := SelectConverter(file, cfg)
	if conversion == nil {
		return []string{file}, nil
	}

	p.log.Debug().
		Str("file", file).
		Str("from", conversion.Source).
		Str("to", conversion.Target).
		Msg("Converting file")

	results, err := conversion.Fn(file, volumeFolder)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", file, err)
	}
	return results, nil
}

// PreviewRename maps each file to the path a rename would give it,
// without touching the filesystem. Files whose name cannot be
// generated are left out.
func (p *Processor) PreviewRename(ctx context.Context, volumeID int64, number domain.IssueNumber, files []string) (map[string]string, error) {
	cfg := p.cfg()

	volume, err := p.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	issues, err := p.provider.GetIssues(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	volumeFolder := VolumeFolderPath(p.rootFolder, volume, cfg)

	result := make(map[string]string)
	taken := make(map[string]bool)
	for _, file := range files {
		name, err := GenerateIssueName(volume, issues, number, cfg)
		if err != nil {
			continue
		}
		ext := filepath.Ext(file)
		dest := filepath.Join(volumeFolder, name+ext)
		// Files with the same extension share the generated name.
		// Number the duplicates, the way a browser names repeated
		// downloads, so a commit cannot overwrite one with another.
		for n := 2; taken[dest]; n++ {
			dest = filepath.Join(volumeFolder, fmt.Sprintf("%s (%d)%s", name, n, ext))
		}
		taken[dest] = true
		if dest != file {
			result[file] = dest
		}
	}
	return result, nil
}

// CommitRename applies a previewed rename mapping.
func (p *Processor) CommitRename(renames map[string]string) error {
	sources := make([]string, 0, len(renames))
	for source := range renames {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	for _, source := range sources {
		if err := moveFile(source, renames[source]); err != nil {
			return fmt.Errorf("rename %s: %w", source, err)
		}
		deleteEmptyParentFolders(filepath.Dir(source), p.rootFolder)
	}
	return nil
}

// PreviewConvert maps each file to the path conversion would produce.
// Files already in the preferred format are left out.
func (p *Processor) PreviewConvert(ctx context.Context, volumeID int64, files []string) (map[string]string, error) {
	cfg := p.cfg()

	volume, err := p.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	volumeFolder := VolumeFolderPath(p.rootFolder, volume, cfg)

	result := make(map[string]string)
	for _, file := range files {
		if conversion := SelectConverter(file, cfg); conversion != nil {
			result[file] = ConversionTarget(file, volumeFolder, conversion)
		}
	}
	return result, nil
}

// CommitConvert converts the given files in place and returns the
// resulting paths.
func (p *Processor) CommitConvert(ctx context.Context, volumeID int64, files []string) ([]string, error) {
	cfg := p.cfg()

	volume, err := p.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	volumeFolder := VolumeFolderPath(p.rootFolder, volume, cfg)

	var results []string
	for _, file := range files {
		converted, err := p.convertFile(file, volumeFolder, cfg)
		if err != nil {
			return nil, err
		}
		results = append(results, converted...)
	}
	return results, nil
}

// targetIssueNumber resolves the issue number an import targets.
// Volume targets stay unknown unless the volume only has one issue.
func targetIssueNumber(issueID *int64, issues []metadata.IssueData) domain.IssueNumber {
	if issueID != nil {
		for _, issue := range issues {
			if issue.ID == *issueID {
				return domain.SingleIssue(issue.IssueNumber)
			}
		}
		return domain.UnknownIssue()
	}
	if len(issues) == 1 {
		return domain.SingleIssue(issues[0].IssueNumber)
	}
	return domain.UnknownIssue()
}

// collectFiles lists the importable files of an artifact, which may be
// a single file or a download folder.
func collectFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && isScannable(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// moveFile renames, falling back to copy and delete across
// filesystems.
func moveFile(source, dest string) error {
	if source == dest {
		return nil
	}
	if err := os.Rename(source, dest); err == nil {
		return nil
	}

	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(source)
}
