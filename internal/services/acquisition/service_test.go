// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/matt1432/Kapowarr/internal/database"
	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	"github.com/matt1432/Kapowarr/internal/metadata"
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/queue"
	"github.com/matt1432/Kapowarr/internal/search"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(1)

	_, err = db.Exec(database.Schema)
	require.NoError(t, err)

	return db
}

func int64Ptr(n int64) *int64 { return &n }
func strPtr(s string) *string { return &s }

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

type fakeSource struct {
	name       string
	candidates []search.Candidate
	err        error
	calls      int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) Search(_ context.Context, _ string) ([]search.Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.candidates, nil
}

type fixture struct {
	orchestrator *Orchestrator
	stores       Stores
	queue        *queue.Manager
	provider     *fakeProvider
	server       *httptest.Server
}

func newFixture(t *testing.T, sources []search.SourceAdapter) *fixture {
	t.Helper()

	db := newTestDB(t)

	blocklist := models.NewBlocklistStore(db)
	prefs := models.NewServicePreferenceStore(db)
	clients, err := models.NewExternalClientStore(db, testEncryptionKey)
	require.NoError(t, err)
	creds, err := models.NewCredentialStore(db, testEncryptionKey)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, prefs.EnsureServices(ctx, []string{"getcomics", "mega"}))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("comic payload"))
	}))
	t.Cleanup(server.Close)

	q := queue.NewManager(queue.Config{
		DirectLimit: 5,
		MaxRetries:  1,
	}, nil, nil)

	downloadDir := t.TempDir()
	cfg := domain.Config{DownloadDir: downloadDir}

	stores := Stores{
		Blocklist:   blocklist,
		Preferences: prefs,
		Clients:     clients,
		Credentials: creds,
	}

	volumeNumber := 1
	year := 2008
	provider := &fakeProvider{
		volume: &metadata.VolumeData{
			ID:           1,
			Title:        "Invincible",
			Year:         &year,
			VolumeNumber: &volumeNumber,
		},
		issues: []metadata.IssueData{
			{ID: 11, VolumeID: 1, IssueNumber: 1, Monitored: true},
			{ID: 12, VolumeID: 1, IssueNumber: 2, Monitored: true},
			{ID: 13, VolumeID: 1, IssueNumber: 3, Monitored: false},
		},
	}

	o := NewOrchestrator(
		provider, sources, stores, q, nil,
		[]downloader.ServiceDescriptor{{Name: "getcomics"}, {Name: "mega"}},
		func() domain.Config { return cfg },
		zerolog.Nop(),
	)

	return &fixture{
		orchestrator: o,
		stores:       stores,
		queue:        q,
		provider:     provider,
		server:       server,
	}
}

func matchedCandidate(link, source string, issue float64) search.Candidate {
	return search.Candidate{
		Link:         link,
		DisplayTitle: "Invincible #" + strconv.FormatFloat(issue, 'f', -1, 64),
		Series:       "Invincible",
		Source:       source,
		IssueNumber:  domain.SingleIssue(issue),
		Match:        true,
	}
}

func TestSearchRanksAndFilters(t *testing.T) {
	source := &fakeSource{
		name: "getcomics",
		candidates: []search.Candidate{
			{
				Link:        "https://example.com/far",
				Series:      "Invincible",
				Source:      "getcomics",
				IssueNumber: domain.SingleIssue(9),
			},
			{
				Link:        "https://example.com/exact",
				Series:      "Invincible",
				Source:      "getcomics",
				IssueNumber: domain.SingleIssue(1),
			},
		},
	}

	f := newFixture(t, []search.SourceAdapter{source})

	results, err := f.orchestrator.Search(context.Background(), 1, int64Ptr(11))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://example.com/exact", results[0].Link)
}

func TestSearchSkipsBlocklistedLinks(t *testing.T) {
	source := &fakeSource{
		name: "getcomics",
		candidates: []search.Candidate{
			{
				Link:        "https://example.com/bad",
				Series:      "Invincible",
				Source:      "getcomics",
				IssueNumber: domain.SingleIssue(1),
			},
		},
	}

	f := newFixture(t, []search.SourceAdapter{source})

	_, err := f.stores.Blocklist.Add(
		context.Background(), "https://example.com/bad",
		nil, nil, nil, domain.BlocklistReasonLinkBroken,
	)
	require.NoError(t, err)

	results, err := f.orchestrator.Search(context.Background(), 1, int64Ptr(11))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchDoesNotRetryOrdinaryErrors(t *testing.T) {
	source := &fakeSource{name: "getcomics", err: assert.AnError}

	f := newFixture(t, []search.SourceAdapter{source})

	// A plain adapter error is logged and skipped by the aggregator,
	// so the search succeeds with zero results and runs exactly once.
	results, err := f.orchestrator.Search(context.Background(), 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, source.calls)
}

func TestDownloadRefusesBlocklistedLink(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.stores.Blocklist.Add(
		context.Background(), "https://example.com/bad",
		nil, nil, nil, domain.BlocklistReasonAddedByUser,
	)
	require.NoError(t, err)

	_, err = f.orchestrator.Download(context.Background(), DownloadParams{
		VolumeID: 1,
		Link:     "https://example.com/bad",
		Source:   "getcomics",
	})
	assert.ErrorIs(t, err, domain.ErrLinkBlocklisted)
}

func TestDownloadDeduplicates(t *testing.T) {
	f := newFixture(t, nil)

	params := DownloadParams{
		VolumeID:     1,
		IssueID:      int64Ptr(11),
		Link:         f.server.URL + "/invincible-001",
		DisplayTitle: "Invincible #1",
		Source:       "getcomics",
	}

	first, err := f.orchestrator.Download(context.Background(), params)
	require.NoError(t, err)

	second, err := f.orchestrator.Download(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestDownloadUnknownDirectService(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orchestrator.Download(context.Background(), DownloadParams{
		VolumeID: 1,
		Link:     "https://example.com/file",
		Source:   "unknown-host",
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleService)
}

func TestDownloadTorrentWithoutClients(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orchestrator.Download(context.Background(), DownloadParams{
		VolumeID: 1,
		Link:     "magnet:?xt=urn:btih:abcdef0123456789abcdef0123456789abcdef01",
		Source:   "indexer",
	})
	assert.ErrorIs(t, err, domain.ErrNoEligibleService)
}

func TestAutoAcquireBestPerOpenIssue(t *testing.T) {
	source := &fakeSource{name: "getcomics"}
	f := newFixture(t, []search.SourceAdapter{source})

	source.candidates = []search.Candidate{
		matchedCandidate(f.server.URL+"/issue-1", "getcomics", 1),
		matchedCandidate(f.server.URL+"/issue-2", "getcomics", 2),
		matchedCandidate(f.server.URL+"/issue-3", "getcomics", 3),
	}

	tasks, err := f.orchestrator.AutoAcquire(context.Background(), 1, nil)
	require.NoError(t, err)

	// Issue 3 is unmonitored and gets no task.
	require.Len(t, tasks, 2)
	assert.Equal(t, int64(11), *tasks[0].IssueID)
	assert.Equal(t, int64(12), *tasks[1].IssueID)
}

func TestAutoAcquireSingleIssueTarget(t *testing.T) {
	source := &fakeSource{name: "getcomics"}
	f := newFixture(t, []search.SourceAdapter{source})

	source.candidates = []search.Candidate{
		matchedCandidate(f.server.URL+"/issue-2", "getcomics", 2),
	}

	tasks, err := f.orchestrator.AutoAcquire(context.Background(), 1, int64Ptr(12))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, int64(12), *tasks[0].IssueID)
}

func TestAutoAcquireFallsBackToNextCandidate(t *testing.T) {
	source := &fakeSource{name: "getcomics"}
	f := newFixture(t, []search.SourceAdapter{source})

	blocked := matchedCandidate("https://example.com/blocked", "getcomics", 2)
	good := matchedCandidate(f.server.URL+"/issue-2", "getcomics", 2)
	source.candidates = []search.Candidate{blocked, good}

	// The blocklisted first-ranked candidate is skipped in favor of
	// the runner-up.
	ctx := context.Background()
	_, err := f.stores.Blocklist.Add(ctx, blocked.Link, nil, nil, nil, domain.BlocklistReasonLinkBroken)
	require.NoError(t, err)

	tasks, err := f.orchestrator.AutoAcquire(ctx, 1, int64Ptr(12))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, good.Link, tasks[0].Link)
}

func TestBlocklistCancelsMatchingTask(t *testing.T) {
	f := newFixture(t, nil)

	link := f.server.URL + "/invincible-001"
	task, err := f.orchestrator.Download(context.Background(), DownloadParams{
		VolumeID:     1,
		IssueID:      int64Ptr(11),
		Link:         link,
		DisplayTitle: "Invincible #1",
		Source:       "getcomics",
	})
	require.NoError(t, err)

	entry, err := f.orchestrator.Blocklist(
		context.Background(), link, strPtr("Invincible #1"),
		int64Ptr(1), int64Ptr(11), domain.BlocklistReasonAddedByUser,
	)
	require.NoError(t, err)
	assert.Equal(t, link, entry.Link)

	require.Eventually(t, func() bool {
		_, err := f.queue.Get(task.ID)
		return err != nil
	}, time.Second, 10*time.Millisecond)

	blocked, err := f.stores.Blocklist.Contains(context.Background(), link)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestDeleteClientBusy(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	client, err := f.stores.Clients.Create(ctx, models.ExternalClientParams{
		ClientType: "transmission",
		Title:      "seedbox",
		BaseURL:    "http://localhost:9091",
	})
	require.NoError(t, err)

	// No task references the client, so deletion goes through.
	require.NoError(t, f.orchestrator.DeleteClient(ctx, client.ID))

	_, err = f.stores.Clients.Get(ctx, client.ID)
	assert.Error(t, err)
}

func TestCheckVolumeDeletable(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.orchestrator.CheckVolumeDeletable(1))

	_, err := f.orchestrator.Download(context.Background(), DownloadParams{
		VolumeID:     1,
		IssueID:      int64Ptr(11),
		Link:         f.server.URL + "/invincible-001",
		DisplayTitle: "Invincible #1",
		Source:       "getcomics",
	})
	require.NoError(t, err)

	err = f.orchestrator.CheckVolumeDeletable(1)
	assert.ErrorIs(t, err, &domain.TaskForVolumeRunningError{})
}

func TestIsTorrentLink(t *testing.T) {
	assert.True(t, isTorrentLink("magnet:?xt=urn:btih:ff"))
	assert.True(t, isTorrentLink("https://tracker.example.com/file.TORRENT"))
	assert.False(t, isTorrentLink("https://example.com/comic.cbz"))
}
