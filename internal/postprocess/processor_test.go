// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package postprocess

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/metadata"
)

type fakeProvider struct {
	volume *metadata.VolumeData
	issues []metadata.IssueData
}

func (p *fakeProvider) GetVolume(_ context.Context, _ int64) (*metadata.VolumeData, error) {
	return p.volume, nil
}

func (p *fakeProvider) GetIssues(_ context.Context, _ int64) ([]metadata.IssueData, error) {
	return p.issues, nil
}

func int64Ptr(n int64) *int64 { return &n }

func newTestProcessor(t *testing.T, cfg domain.Config, sv domain.SpecialVersion) (*Processor, string) {
	t.Helper()

	root := t.TempDir()
	provider := &fakeProvider{
		volume: testVolume(sv),
		issues: testIssues(),
	}
	static := cfg
	return NewProcessor(provider, root, func() domain.Config { return static }, zerolog.Nop()), root
}

func TestImportRenamesSingleFile(t *testing.T) {
	cfg := namingConfig()
	cfg.RenameDownloadedFiles = true

	p, root := newTestProcessor(t, cfg, domain.SpecialVersionNone)

	downloads := t.TempDir()
	artifact := filepath.Join(downloads, "iron.man.001.cbz")
	require.NoError(t, os.WriteFile(artifact, []byte("comic"), 0o644))

	imported, err := p.Import(context.Background(), 1, int64Ptr(11), artifact)
	require.NoError(t, err)
	require.Len(t, imported, 1)

	want := filepath.Join(
		root, "Invincible Iron Man, The (2008)",
		"The Invincible Iron Man (2008) Volume 01 Issue 001.cbz",
	)
	assert.Equal(t, want, imported[0])
	assert.FileExists(t, want)
	assert.NoFileExists(t, artifact)
}

func TestImportKeepsNameWhenRenameDisabled(t *testing.T) {
	p, root := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	downloads := t.TempDir()
	artifact := filepath.Join(downloads, "iron.man.001.cbz")
	require.NoError(t, os.WriteFile(artifact, []byte("comic"), 0o644))

	imported, err := p.Import(context.Background(), 1, int64Ptr(11), artifact)
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.Equal(t, "iron.man.001.cbz", filepath.Base(imported[0]))
	assert.Contains(t, imported[0], root)
}

func TestImportFolderArtifact(t *testing.T) {
	p, _ := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	artifact := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "issue 1.cbz"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "issue 2.cbz"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(artifact, "readme.txt"), []byte("x"), 0o644))

	imported, err := p.Import(context.Background(), 1, nil, artifact)
	require.NoError(t, err)
	require.Len(t, imported, 2)
}

func TestImportConvertsToPreferredFormat(t *testing.T) {
	cfg := namingConfig()
	cfg.ConvertFiles = true
	cfg.FormatPreference = []string{"cbz"}

	p, _ := newTestProcessor(t, cfg, domain.SpecialVersionNone)

	downloads := t.TempDir()
	artifact := filepath.Join(downloads, "issue.zip")
	writeZip(t, artifact, "page01.jpg")

	imported, err := p.Import(context.Background(), 1, int64Ptr(11), artifact)
	require.NoError(t, err)
	require.Len(t, imported, 1)
	assert.Equal(t, ".cbz", filepath.Ext(imported[0]))
}

func TestImportExtractsIssuePack(t *testing.T) {
	cfg := namingConfig()
	cfg.ConvertFiles = true
	cfg.ExtractIssueRanges = true
	cfg.FormatPreference = []string{"zip"}

	p, root := newTestProcessor(t, cfg, domain.SpecialVersionNone)

	downloads := t.TempDir()
	artifact := filepath.Join(downloads, "issues 1-2.zip")
	writeZip(t, artifact, "issue 1.cbz", "issue 2.cbz")

	imported, err := p.Import(context.Background(), 1, nil, artifact)
	require.NoError(t, err)
	require.Len(t, imported, 2)

	volumeFolder := filepath.Join(root, "Invincible Iron Man, The (2008)")
	for _, file := range imported {
		assert.Equal(t, volumeFolder, filepath.Dir(file))
	}
}

func TestImportEmptyArtifactFails(t *testing.T) {
	p, _ := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	_, err := p.Import(context.Background(), 1, nil, t.TempDir())
	assert.Error(t, err)
}

func TestImportSpecialVersionNamesFromVolume(t *testing.T) {
	cfg := namingConfig()
	cfg.RenameDownloadedFiles = true

	p, root := newTestProcessor(t, cfg, domain.SpecialVersionTPB)

	downloads := t.TempDir()
	artifact := filepath.Join(downloads, "iron.man.tpb.cbz")
	require.NoError(t, os.WriteFile(artifact, []byte("comic"), 0o644))

	imported, err := p.Import(context.Background(), 1, nil, artifact)
	require.NoError(t, err)
	require.Len(t, imported, 1)

	want := filepath.Join(
		root, "Invincible Iron Man, The (2008)",
		"The Invincible Iron Man (2008) Volume 01 TPB.cbz",
	)
	assert.Equal(t, want, imported[0])
}

func TestPreviewRename(t *testing.T) {
	p, root := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	renames, err := p.PreviewRename(
		context.Background(), 1, domain.SingleIssue(2),
		[]string{"/downloads/iron.man.002.cbz"},
	)
	require.NoError(t, err)

	want := filepath.Join(
		root, "Invincible Iron Man, The (2008)",
		"The Invincible Iron Man (2008) Volume 01 Issue 002.cbz",
	)
	assert.Equal(t, map[string]string{"/downloads/iron.man.002.cbz": want}, renames)
}

func TestPreviewRenameNumbersDuplicateTargets(t *testing.T) {
	p, root := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	first := "/downloads/iron.man.002.cbz"
	second := "/downloads/iron.man.002.v2.cbz"

	renames, err := p.PreviewRename(
		context.Background(), 1, domain.SingleIssue(2),
		[]string{first, second},
	)
	require.NoError(t, err)
	require.Len(t, renames, 2)

	folder := filepath.Join(root, "Invincible Iron Man, The (2008)")
	assert.Equal(t,
		filepath.Join(folder, "The Invincible Iron Man (2008) Volume 01 Issue 002.cbz"),
		renames[first])
	assert.Equal(t,
		filepath.Join(folder, "The Invincible Iron Man (2008) Volume 01 Issue 002 (2).cbz"),
		renames[second])
	assert.NotEqual(t, renames[first], renames[second])
}

func TestPreviewRenameSkipsUnresolvable(t *testing.T) {
	p, _ := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	renames, err := p.PreviewRename(
		context.Background(), 1, domain.SingleIssue(99),
		[]string{"/downloads/unknown.cbz"},
	)
	require.NoError(t, err)
	assert.Empty(t, renames)
}

func TestCommitRename(t *testing.T) {
	p, root := newTestProcessor(t, namingConfig(), domain.SpecialVersionNone)

	source := filepath.Join(root, "old", "issue.cbz")
	require.NoError(t, os.MkdirAll(filepath.Dir(source), 0o755))
	require.NoError(t, os.WriteFile(source, []byte("comic"), 0o644))

	dest := filepath.Join(root, "new", "issue.cbz")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o755))

	require.NoError(t, p.CommitRename(map[string]string{source: dest}))

	assert.FileExists(t, dest)
	assert.NoFileExists(t, source)
	assert.NoDirExists(t, filepath.Join(root, "old"))
}

func TestPreviewConvert(t *testing.T) {
	cfg := namingConfig()
	cfg.FormatPreference = []string{"cbz"}

	p, root := newTestProcessor(t, cfg, domain.SpecialVersionNone)
	volumeFolder := filepath.Join(root, "Invincible Iron Man, The (2008)")

	preview, err := p.PreviewConvert(context.Background(), 1, []string{
		filepath.Join(volumeFolder, "issue.zip"),
		filepath.Join(volumeFolder, "already.cbz"),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		filepath.Join(volumeFolder, "issue.zip"): filepath.Join(volumeFolder, "issue.cbz"),
	}, preview)
}

func TestCommitConvert(t *testing.T) {
	cfg := namingConfig()
	cfg.FormatPreference = []string{"cbz"}

	p, root := newTestProcessor(t, cfg, domain.SpecialVersionNone)

	volumeFolder := filepath.Join(root, "Invincible Iron Man, The (2008)")
	require.NoError(t, os.MkdirAll(volumeFolder, 0o755))
	file := filepath.Join(volumeFolder, "issue.zip")
	writeZip(t, file, "page01.jpg")

	results, err := p.CommitConvert(context.Background(), 1, []string{file})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, filepath.Join(volumeFolder, "issue.cbz"), results[0])
}
