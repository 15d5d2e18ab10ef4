// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	"github.com/matt1432/Kapowarr/internal/events"
)

var ErrTaskNotFound = errors.New("task not found")

// PostProcessor handles a finished artifact. Failures are terminal for
// the task and never retried.
type PostProcessor interface {
	Process(ctx context.Context, task *Task) ([]string, error)
}

// NopPostProcessor leaves artifacts where the adapter put them.
type NopPostProcessor struct{}

func (NopPostProcessor) Process(_ context.Context, _ *Task) ([]string, error) { return nil, nil }

// Config carries the queue's tunables, read from the main config once
// at startup.
type Config struct {
	// DirectLimit caps concurrently active direct downloads.
	// Torrent concurrency is left to the external clients.
	DirectLimit int

	// StallCheckInterval is the watchdog polling interval.
	StallCheckInterval time.Duration

	// StallTimeout is the per-task stall timeout snapshot applied at
	// creation. Zero disables stall detection.
	StallTimeout time.Duration

	// MaxRetries bounds failing -> queued transitions per task.
	MaxRetries int

	SeedingHandling domain.SeedingHandling
}

// Manager is the download queue. All task state lives here; adapters
// are polled for progress on the watchdog interval.
type Manager struct {
	cfg       Config
	publisher events.Publisher
	post      PostProcessor
	log       zerolog.Logger

	mu     sync.Mutex
	tasks  map[int64]*Task
	order  []int64
	nextID int64

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewManager(cfg Config, publisher events.Publisher, post PostProcessor) *Manager {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if post == nil {
		post = NopPostProcessor{}
	}
	return &Manager{
		cfg:       cfg,
		publisher: publisher,
		post:      post,
		log:       log.Logger.With().Str("module", "queue").Logger(),
		tasks:     make(map[int64]*Task),
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the watchdog loop. The loop polls adapters for
// progress and runs stall detection on a fixed interval.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		interval := m.cfg.StallCheckInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
}

// Stop terminates the watchdog loop and waits for it.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// EnqueueParams describes one new task. The adapter is already
// resolved by the orchestrator.
type EnqueueParams struct {
	VolumeID     int64
	IssueID      *int64
	Link         string
	DisplayTitle string

	Adapter  downloader.ClientAdapter
	Service  string
	ClientID int

	// ServicePosition is the preference position of the resolved
	// service, used for admission ordering.
	ServicePosition int

	Force        bool
	TargetFolder string
	DownloadName string
}

// Enqueue creates a task in `queued` and immediately tries to admit
// it. Config snapshots (stall timeout, seeding policy) are taken here
// and never reevaluated.
func (m *Manager) Enqueue(ctx context.Context, params EnqueueParams) (*Task, error) {
	if params.Adapter == nil {
		return nil, errors.New("adapter is required")
	}

	m.mu.Lock()
	m.nextID++
	task := &Task{
		ID:              m.nextID,
		VolumeID:        params.VolumeID,
		IssueID:         params.IssueID,
		Link:            params.Link,
		DisplayTitle:    params.DisplayTitle,
		Mechanism:       params.Adapter.DownloadType(),
		Service:         params.Service,
		ClientID:        params.ClientID,
		Force:           params.Force,
		State:           StateQueued,
		CreatedAt:       m.now(),
		LastProgress:    m.now(),
		SeedingHandling: m.cfg.SeedingHandling,
		StallTimeout:    m.cfg.StallTimeout,
		servicePosition: params.ServicePosition,
		adapter:         params.Adapter,
		targetFolder:    params.TargetFolder,
		downloadName:    params.DownloadName,
	}
	m.tasks[task.ID] = task
	m.order = append(m.order, task.ID)
	m.mu.Unlock()

	m.publish(events.ActionQueueAdded, task)
	m.log.Info().
		Int64("taskID", task.ID).
		Int64("volumeID", task.VolumeID).
		Str("mechanism", string(task.Mechanism)).
		Msg("Task enqueued")

	m.admit(ctx)

	return m.snapshot(task.ID), nil
}

// admit moves queued tasks to active while budget remains, in priority
// order: forced first, then service preference position, then FIFO.
func (m *Manager) admit(ctx context.Context) {
	m.mu.Lock()

	directActive := 0
	for _, t := range m.tasks {
		if t.State == StateActive && t.Mechanism == downloader.TypeDirect {
			directActive++
		}
	}

	queued := make([]*Task, 0)
	for _, id := range m.order {
		if t := m.tasks[id]; t != nil && t.State == StateQueued {
			queued = append(queued, t)
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		a, b := queued[i], queued[j]
		if a.Force != b.Force {
			return a.Force
		}
		if a.servicePosition != b.servicePosition {
			return a.servicePosition < b.servicePosition
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	var admitted []*Task
	for _, t := range queued {
		if t.Mechanism == downloader.TypeDirect {
			if m.cfg.DirectLimit > 0 && directActive >= m.cfg.DirectLimit {
				continue
			}
			directActive++
		}
		t.State = StateActive
		t.LastProgress = m.now()
		admitted = append(admitted, t)
	}
	m.mu.Unlock()

	for _, t := range admitted {
		handle, err := t.adapter.AddDownload(ctx, t.Link, t.targetFolder, t.downloadName)

		m.mu.Lock()
		if err != nil {
			m.mu.Unlock()
			m.handleFailure(ctx, t.ID, err)
			continue
		}
		t.handle = handle
		m.mu.Unlock()

		m.publish(events.ActionQueueStatus, t)
	}
}

// Tick runs one watchdog pass: poll every active task's adapter,
// apply progress, detect stalls and drive completions.
func (m *Manager) Tick(ctx context.Context) {
	m.mu.Lock()
	active := make([]*Task, 0)
	for _, id := range m.order {
		t := m.tasks[id]
		if t == nil {
			continue
		}
		if t.State == StateActive || t.awaitingSeed {
			active = append(active, t)
		}
	}
	m.mu.Unlock()

	for _, t := range active {
		m.pollTask(ctx, t)
	}

	m.admit(ctx)
}

func (m *Manager) pollTask(ctx context.Context, t *Task) {
	status, err := t.adapter.GetStatus(ctx, t.handle)
	if err != nil {
		m.handleFailure(ctx, t.ID, err)
		return
	}
	if status == nil {
		m.handleFailure(ctx, t.ID, &domain.ClientNotWorkingError{Description: "transfer disappeared from client"})
		return
	}

	m.mu.Lock()

	if t.awaitingSeed {
		if status.State == downloader.StateCompleted || status.State == downloader.StatePaused {
			t.awaitingSeed = false
			adapter, handle := t.adapter, t.handle
			m.mu.Unlock()
			if err := adapter.RemoveDownload(ctx, handle, true); err != nil {
				m.log.Warn().Err(err).Int64("taskID", t.ID).Msg("Failed to remove seeded torrent")
			}
			return
		}
		m.mu.Unlock()
		return
	}

	if t.State != StateActive {
		m.mu.Unlock()
		return
	}

	// Latest cumulative count wins; never report transferred > total
	if status.Size > 0 {
		size := status.Size
		t.BytesTotal = &size
	}
	downloaded := status.Downloaded
	if t.BytesTotal != nil && downloaded > *t.BytesTotal {
		downloaded = *t.BytesTotal
	}
	if downloaded > t.BytesTransferred {
		t.BytesTransferred = downloaded
		t.LastProgress = m.now()
		t.stalledEpisode = false
	}
	t.Speed = status.Speed

	switch status.State {
	case downloader.StateFailed:
		adapter, handle := t.adapter, t.handle
		m.mu.Unlock()
		m.handleFailure(ctx, t.ID, adapterError(adapter, handle))
		return

	case downloader.StateCompleted:
		m.mu.Unlock()
		m.startImport(ctx, t, false)
		return

	case downloader.StateSeeding:
		switch t.SeedingHandling {
		case domain.SeedingHandlingCopy:
			m.mu.Unlock()
			m.startImport(ctx, t, true)
			return
		default:
			// Wait for seeding to finish before handing off
		}
	}

	// Stall detection: fires once per episode
	if t.StallTimeout > 0 && !t.stalledEpisode &&
		m.now().Sub(t.LastProgress) > t.StallTimeout &&
		status.State != downloader.StateSeeding {
		t.stalledEpisode = true
		m.mu.Unlock()
		m.handleFailure(ctx, t.ID, domain.ErrStalled)
		return
	}

	m.mu.Unlock()
	m.publish(events.ActionQueueStatus, t)
}

// startImport transitions to importing and runs post-processing. With
// stillSeeding the artifact is handed off while the torrent keeps
// seeding; the client-side transfer is removed once seeding ends.
func (m *Manager) startImport(ctx context.Context, t *Task, stillSeeding bool) {
	m.mu.Lock()
	if t.State != StateActive {
		m.mu.Unlock()
		return
	}
	t.State = StateImporting
	t.Speed = 0
	m.mu.Unlock()

	m.publish(events.ActionQueueStatus, t)
	m.log.Info().Int64("taskID", t.ID).Msg("Download finished, importing")

	_, err := m.post.Process(ctx, t)

	m.mu.Lock()
	cancelled := t.cancelRequested
	m.mu.Unlock()

	if err != nil {
		m.finish(ctx, t, StateFailed, (&domain.PostProcessError{Step: "import", Path: t.ArtifactPath(), Err: err}).Error())
		return
	}

	m.mu.Lock()
	if stillSeeding && !cancelled {
		t.awaitingSeed = true
	}
	m.mu.Unlock()

	if !stillSeeding {
		if err := t.adapter.RemoveDownload(ctx, t.handle, false); err != nil {
			m.log.Debug().Err(err).Int64("taskID", t.ID).Msg("Post-import client cleanup failed")
		}
	}

	m.finish(ctx, t, StateCompleted, "")

	if cancelled {
		m.removeTask(ctx, t.ID, true)
	}
}

// handleFailure applies the retry policy: re-queue while retries
// remain and the error is retryable, otherwise fail terminally.
func (m *Manager) handleFailure(ctx context.Context, taskID int64, cause error) {
	m.mu.Lock()
	t := m.tasks[taskID]
	if t == nil || t.State.Terminal() {
		m.mu.Unlock()
		return
	}

	t.State = StateFailing
	t.Speed = 0
	m.mu.Unlock()

	m.publish(events.ActionQueueStatus, t)

	retryable := !isConfigError(cause)

	m.mu.Lock()
	if retryable && t.Retries < m.cfg.MaxRetries {
		t.Retries++
		retries := t.Retries
		t.State = StateQueued
		t.BytesTransferred = 0
		t.BytesTotal = nil
		t.LastProgress = m.now()
		t.stalledEpisode = false
		adapter, handle := t.adapter, t.handle
		t.handle = ""

		// Re-queue at the back
		for i, id := range m.order {
			if id == taskID {
				m.order = append(append(m.order[:i:i], m.order[i+1:]...), taskID)
				break
			}
		}
		m.mu.Unlock()

		if handle != "" {
			if err := adapter.RemoveDownload(ctx, handle, true); err != nil {
				m.log.Debug().Err(err).Int64("taskID", taskID).Msg("Cleanup of failed transfer failed")
			}
		}

		m.log.Warn().Err(cause).
			Int64("taskID", taskID).
			Int("retry", retries).
			Msg("Download failing, re-queued")

		m.admit(ctx)
		return
	}
	m.mu.Unlock()

	m.finish(ctx, t, StateFailed, cause.Error())
}

// finish moves a task to a terminal state and publishes the end event.
func (m *Manager) finish(ctx context.Context, t *Task, state TaskState, reason string) {
	m.mu.Lock()
	if t.State.Terminal() {
		m.mu.Unlock()
		return
	}
	t.State = state
	t.FailureReason = reason
	t.Speed = 0
	m.mu.Unlock()

	m.publish(events.ActionQueueEnded, t)

	if state == StateFailed {
		m.log.Error().Str("reason", reason).Int64("taskID", t.ID).Msg("Download failed")
	} else {
		m.log.Info().Int64("taskID", t.ID).Msg("Download completed")
	}

	m.admit(ctx)
}

// Cancel removes a task. Queued tasks are dropped, active transfers
// aborted with their partial artifact deleted. Importing tasks defer
// cancellation until the running step finishes, unless forced.
func (m *Manager) Cancel(ctx context.Context, taskID int64, force bool) error {
	m.mu.Lock()
	t := m.tasks[taskID]
	if t == nil {
		m.mu.Unlock()
		return ErrTaskNotFound
	}

	if t.State == StateImporting && !force {
		t.cancelRequested = true
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.removeTask(ctx, taskID, true)
}

func (m *Manager) removeTask(ctx context.Context, taskID int64, deleteFiles bool) error {
	m.mu.Lock()
	t := m.tasks[taskID]
	if t == nil {
		m.mu.Unlock()
		return ErrTaskNotFound
	}

	delete(m.tasks, taskID)
	for i, id := range m.order {
		if id == taskID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	handle := t.handle
	wasActive := t.State == StateActive || t.awaitingSeed
	m.mu.Unlock()

	if wasActive && handle != "" {
		if err := t.adapter.RemoveDownload(ctx, handle, deleteFiles); err != nil {
			m.log.Warn().Err(err).Int64("taskID", taskID).Msg("Adapter abort failed")
		}
	}

	m.publish(events.ActionQueueEnded, t)
	m.admit(ctx)
	return nil
}

// Get returns a copy of the task.
func (m *Manager) Get(taskID int64) (*Task, error) {
	task := m.snapshot(taskID)
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

// List returns the queue in order, oldest first.
func (m *Manager) List() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*Task, 0, len(m.order))
	for _, id := range m.order {
		if t := m.tasks[id]; t != nil {
			copied := *t
			list = append(list, &copied)
		}
	}
	return list
}

// HasTaskForVolume reports a non-terminal task referencing the volume.
func (m *Manager) HasTaskForVolume(volumeID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.VolumeID == volumeID && !t.State.Terminal() {
			return true
		}
	}
	return false
}

// HasTaskForClient reports a non-terminal task using the external
// client.
func (m *Manager) HasTaskForClient(clientID int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.tasks {
		if t.ClientID == clientID && !t.State.Terminal() {
			return true
		}
	}
	return false
}

// FindNonTerminal returns a non-terminal task with the same target and
// link, for the orchestrator's dedup check.
func (m *Manager) FindNonTerminal(volumeID int64, issueID *int64, link string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		t := m.tasks[id]
		if t == nil || t.State.Terminal() {
			continue
		}
		if t.VolumeID != volumeID || t.Link != link {
			continue
		}
		if (t.IssueID == nil) != (issueID == nil) {
			continue
		}
		if t.IssueID != nil && *t.IssueID != *issueID {
			continue
		}
		copied := *t
		return &copied
	}
	return nil
}

func (m *Manager) snapshot(taskID int64) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tasks[taskID]
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

func (m *Manager) publish(action events.Action, t *Task) {
	m.mu.Lock()
	event := events.Event{
		Action:   action,
		Key:      events.Key(action, t.VolumeID, t.IssueID),
		VolumeID: t.VolumeID,
		IssueID:  t.IssueID,
		Payload: map[string]any{
			"task_id": t.ID,
			"state":   t.State,
		},
	}
	m.mu.Unlock()

	m.publisher.Publish(event)
}

// adapterError recovers the typed error behind a failed snapshot, the
// same way ArtifactPath recovers the artifact path. Without it the
// retry policy cannot distinguish exhausted credentials from a
// transient client failure.
func adapterError(adapter downloader.ClientAdapter, handle string) error {
	if reporter, ok := adapter.(interface{ Err(string) error }); ok {
		if err := reporter.Err(handle); err != nil {
			return err
		}
	}
	return errors.New("client reported failure")
}

// isConfigError reports failures that must never be retried
// automatically: bad client configuration and exhausted credentials.
func isConfigError(err error) bool {
	var auth *domain.AuthenticationFailedError
	var limit *domain.DownloadLimitReachedError
	return errors.As(err, &auth) || errors.As(err, &limit)
}
