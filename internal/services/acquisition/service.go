// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package acquisition orchestrates the path from a wanted issue to a
// queued download: searching the sources, ranking, resolving a client
// for the chosen candidate and guarding the blocklist.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	"github.com/matt1432/Kapowarr/internal/downloader/direct"
	"github.com/matt1432/Kapowarr/internal/events"
	"github.com/matt1432/Kapowarr/internal/metadata"
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/queue"
	"github.com/matt1432/Kapowarr/internal/search"
)

// rateLimitAttempts bounds how often a rate-limited search is retried
// before the error surfaces.
const (
	rateLimitAttempts  = 5
	rateLimitBaseDelay = 2 * time.Second
)

// Stores bundles the persistence the orchestrator needs.
type Stores struct {
	Blocklist   *models.BlocklistStore
	Preferences *models.ServicePreferenceStore
	Clients     *models.ExternalClientStore
	Credentials *models.CredentialStore
}

// Orchestrator ties search, ranking, client resolution and the queue
// together.
type Orchestrator struct {
	provider  metadata.Provider
	adapters  []search.SourceAdapter
	stores    Stores
	queue     *queue.Manager
	publisher events.Publisher
	cfg       func() domain.Config
	log       zerolog.Logger

	// direct clients are created once per service and shared; the
	// quota tracker spans all of them.
	quota         *downloader.QuotaTracker
	directClients map[string]*direct.Client
}

func NewOrchestrator(
	provider metadata.Provider,
	adapters []search.SourceAdapter,
	stores Stores,
	q *queue.Manager,
	publisher events.Publisher,
	services []downloader.ServiceDescriptor,
	cfg func() domain.Config,
	log zerolog.Logger,
) *Orchestrator {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	o := &Orchestrator{
		provider:      provider,
		adapters:      adapters,
		stores:        stores,
		queue:         q,
		publisher:     publisher,
		cfg:           cfg,
		log:           log.With().Str("module", "acquisition").Logger(),
		quota:         downloader.NewQuotaTracker(services),
		directClients: make(map[string]*direct.Client),
	}
	for _, svc := range services {
		o.directClients[svc.Name] = direct.New(svc.Name, o.quota, credentialSource{stores.Credentials})
	}
	return o
}

// Search queries all sources for a volume or single issue and returns
// the ranked candidates. Rate-limited sources are retried with
// exponential backoff before the error is surfaced.
func (o *Orchestrator) Search(ctx context.Context, volumeID int64, issueID *int64) ([]search.Candidate, error) {
	target, err := o.buildTarget(ctx, volumeID, issueID)
	if err != nil {
		return nil, err
	}

	blocklist := blocklistChecker{o.stores.Blocklist}
	aggregator := search.NewAggregator(o.adapters, blocklist)

	var candidates []search.Candidate
	err = retry.Do(
		func() error {
			var searchErr error
			candidates, searchErr = aggregator.Search(ctx, target)
			return searchErr
		},
		retry.Context(ctx),
		retry.Attempts(rateLimitAttempts),
		retry.Delay(rateLimitBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxJitter(time.Second),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, &domain.RateLimitedError{})
		}),
	)
	if err != nil {
		return nil, err
	}

	preference, err := o.stores.Preferences.List(ctx)
	if err != nil {
		return nil, err
	}

	return search.NewRanker(preference).Rank(candidates, target), nil
}

// DownloadParams selects a candidate for download.
type DownloadParams struct {
	VolumeID     int64
	IssueID      *int64
	Link         string
	DisplayTitle string
	Source       string
	Force        bool
}

// Download enqueues a candidate. Blocklisted links are refused and a
// non-terminal task for the same target short-circuits to the
// existing task instead of duplicating it.
func (o *Orchestrator) Download(ctx context.Context, params DownloadParams) (*queue.Task, error) {
	blocked, err := o.stores.Blocklist.Contains(ctx, params.Link)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, domain.ErrLinkBlocklisted
	}

	if existing := o.queue.FindNonTerminal(params.VolumeID, params.IssueID, params.Link); existing != nil {
		o.log.Debug().
			Int64("taskID", existing.ID).
			Str("link", params.Link).
			Msg("Duplicate download request, returning existing task")
		return existing, nil
	}

	resolved, err := o.resolveClient(ctx, params.Link, params.Source)
	if err != nil {
		return nil, err
	}

	cfg := o.cfg()
	return o.queue.Enqueue(ctx, queue.EnqueueParams{
		VolumeID:        params.VolumeID,
		IssueID:         params.IssueID,
		Link:            params.Link,
		DisplayTitle:    params.DisplayTitle,
		Adapter:         resolved.adapter,
		Service:         resolved.service,
		ClientID:        resolved.clientID,
		ServicePosition: resolved.position,
		Force:           params.Force,
		TargetFolder:    cfg.DownloadDir,
		DownloadName:    safeDownloadName(params.DisplayTitle),
	})
}

// AutoAcquire searches for a volume (or one issue of it) and enqueues
// the best match per open issue. It returns the tasks it created.
// Candidates that fail to enqueue are skipped, not fatal: the next
// ranked candidate for the same issue is tried instead.
func (o *Orchestrator) AutoAcquire(ctx context.Context, volumeID int64, issueID *int64) ([]*queue.Task, error) {
	o.publisher.Publish(events.Event{
		Action:   events.ActionTaskAdded,
		Key:      events.Key(events.ActionTaskAdded, volumeID, issueID),
		VolumeID: volumeID,
		IssueID:  issueID,
	})
	defer o.publisher.Publish(events.Event{
		Action:   events.ActionTaskEnded,
		Key:      events.Key(events.ActionTaskEnded, volumeID, issueID),
		VolumeID: volumeID,
		IssueID:  issueID,
	})

	candidates, err := o.Search(ctx, volumeID, issueID)
	if err != nil {
		return nil, err
	}

	issues, err := o.provider.GetIssues(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	var tasks []*queue.Task
	for _, issue := range openIssues(issues, issueID) {
		task := o.acquireIssue(ctx, volumeID, issue, candidates)
		if task != nil {
			tasks = append(tasks, task)
		}
	}

	o.log.Info().
		Int64("volumeID", volumeID).
		Int("enqueued", len(tasks)).
		Msg("Auto acquire finished")
	return tasks, nil
}

// acquireIssue tries ranked candidates covering the issue until one
// enqueues.
func (o *Orchestrator) acquireIssue(ctx context.Context, volumeID int64, issue metadata.IssueData, candidates []search.Candidate) *queue.Task {
	for _, candidate := range candidates {
		if !candidate.Match || !covers(candidate, issue.IssueNumber) {
			continue
		}

		issueID := issue.ID
		task, err := o.Download(ctx, DownloadParams{
			VolumeID:     volumeID,
			IssueID:      &issueID,
			Link:         candidate.Link,
			DisplayTitle: candidate.DisplayTitle,
			Source:       candidate.Source,
		})
		if err != nil {
			o.log.Warn().Err(err).
				Str("link", candidate.Link).
				Float64("issue", issue.IssueNumber).
				Msg("Candidate not downloadable, trying next")
			continue
		}
		return task
	}
	return nil
}

// Blocklist adds a link to the blocklist and force-cancels any
// non-terminal task that still references it.
func (o *Orchestrator) Blocklist(ctx context.Context, link string, displayTitle *string, volumeID, issueID *int64, reason domain.BlocklistReason) (*models.BlocklistEntry, error) {
	entry, err := o.stores.Blocklist.Add(ctx, link, displayTitle, volumeID, issueID, reason)
	if err != nil {
		return nil, err
	}

	for _, task := range o.queue.List() {
		if task.Link == link && !task.State.Terminal() {
			if err := o.queue.Cancel(ctx, task.ID, true); err != nil && !errors.Is(err, queue.ErrTaskNotFound) {
				return nil, err
			}
		}
	}
	return entry, nil
}

// DeleteClient removes an external client unless a task still uses it.
func (o *Orchestrator) DeleteClient(ctx context.Context, clientID int) error {
	if o.queue.HasTaskForClient(clientID) {
		return &domain.ClientBusyError{ClientID: clientID}
	}
	return o.stores.Clients.Delete(ctx, clientID)
}

// CheckVolumeDeletable refuses volume deletion while a task for it is
// running.
func (o *Orchestrator) CheckVolumeDeletable(volumeID int64) error {
	if o.queue.HasTaskForVolume(volumeID) {
		return &domain.TaskForVolumeRunningError{VolumeID: volumeID}
	}
	return nil
}

func (o *Orchestrator) buildTarget(ctx context.Context, volumeID int64, issueID *int64) (search.TargetSpec, error) {
	volume, err := o.provider.GetVolume(ctx, volumeID)
	if err != nil {
		return search.TargetSpec{}, fmt.Errorf("fetch volume %d: %w", volumeID, err)
	}
	issues, err := o.provider.GetIssues(ctx, volumeID)
	if err != nil {
		return search.TargetSpec{}, fmt.Errorf("fetch issues of volume %d: %w", volumeID, err)
	}

	target := search.TargetSpec{Volume: volume, Issues: issues}
	if issueID != nil {
		issue := issueByID(issues, *issueID)
		if issue == nil {
			return search.TargetSpec{}, fmt.Errorf("volume %d has no issue with id %d", volumeID, *issueID)
		}
		target.IssueID = issueID
		target.IssueNumber = &issue.IssueNumber
	}
	return target, nil
}

// openIssues filters to the monitored issues an auto acquire should
// cover. A single-issue target narrows to that issue regardless of
// monitoring.
func openIssues(issues []metadata.IssueData, issueID *int64) []metadata.IssueData {
	if issueID != nil {
		if issue := issueByID(issues, *issueID); issue != nil {
			return []metadata.IssueData{*issue}
		}
		return nil
	}

	var open []metadata.IssueData
	for _, issue := range issues {
		if issue.Monitored {
			open = append(open, issue)
		}
	}
	return open
}

func issueByID(issues []metadata.IssueData, id int64) *metadata.IssueData {
	for i := range issues {
		if issues[i].ID == id {
			return &issues[i]
		}
	}
	return nil
}

// covers reports whether a candidate includes the given issue number.
// Unknown issue numbers count as covering the whole volume.
func covers(candidate search.Candidate, issueNumber float64) bool {
	if candidate.IssueNumber.Kind == domain.IssueUnknown {
		return true
	}
	return candidate.IssueNumber.Contains(issueNumber)
}

// safeDownloadName strips path separators so a display title cannot
// escape the download folder.
func safeDownloadName(title string) string {
	title = strings.ReplaceAll(title, "/", " ")
	title = strings.ReplaceAll(title, `\`, " ")
	return strings.TrimSpace(title)
}

// blocklistChecker adapts the store to the aggregator's LinkChecker.
type blocklistChecker struct {
	store *models.BlocklistStore
}

func (b blocklistChecker) Contains(ctx context.Context, link string) (bool, error) {
	return b.store.Contains(ctx, link)
}

// credentialSource adapts the vault to the direct client's interface,
// decrypting in store order.
type credentialSource struct {
	store *models.CredentialStore
}

func (s credentialSource) CredentialsForService(ctx context.Context, service string) ([]direct.Credential, error) {
	stored, err := s.store.ListForService(ctx, service)
	if err != nil {
		return nil, err
	}

	creds := make([]direct.Credential, 0, len(stored))
	for _, c := range stored {
		cred := direct.Credential{}
		if c.Email != nil {
			cred.Email = *c.Email
		}
		if c.Username != nil {
			cred.Username = *c.Username
		}
		if cred.Password, err = s.store.GetDecryptedPassword(c); err != nil {
			return nil, err
		}
		if cred.APIToken, err = s.store.GetDecryptedAPIToken(c); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}
