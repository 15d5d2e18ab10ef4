// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

// fakeAdapter serves scripted status snapshots, one per poll.
type fakeAdapter struct {
	mu        sync.Mutex
	mech      downloader.DownloadType
	statuses  map[string][]downloader.Status
	added     []string
	removed   []string
	addErr    error
	statusErr error
	nextID    int
}

func newFakeAdapter(mech downloader.DownloadType) *fakeAdapter {
	return &fakeAdapter{
		mech:     mech,
		statuses: make(map[string][]downloader.Status),
	}
}

func (a *fakeAdapter) Type() string { return "fake" }

func (a *fakeAdapter) DownloadType() downloader.DownloadType { return a.mech }

func (a *fakeAdapter) AddDownload(_ context.Context, link, _, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.addErr != nil {
		return "", a.addErr
	}
	a.nextID++
	handle := string(rune('a' + a.nextID - 1))
	a.added = append(a.added, link)
	return handle, nil
}

func (a *fakeAdapter) GetStatus(_ context.Context, id string) (*downloader.Status, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.statuses[id]
	if len(queue) == 0 {
		return &downloader.Status{State: downloader.StateDownloading}, nil
	}
	status := queue[0]
	if len(queue) > 1 {
		a.statuses[id] = queue[1:]
	}
	return &status, nil
}

// Err mirrors the direct client: the typed error behind a failed
// snapshot is available per transfer.
func (a *fakeAdapter) Err(_ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statusErr
}

func (a *fakeAdapter) RemoveDownload(_ context.Context, id string, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removed = append(a.removed, id)
	return nil
}

func (a *fakeAdapter) script(handle string, statuses ...downloader.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statuses[handle] = statuses
}

func newTestManager(cfg Config) *Manager {
	if cfg.StallCheckInterval == 0 {
		cfg.StallCheckInterval = time.Second
	}
	return NewManager(cfg, nil, nil)
}

func enqueue(t *testing.T, m *Manager, adapter downloader.ClientAdapter, volumeID int64, link string, params ...func(*EnqueueParams)) *Task {
	t.Helper()

	p := EnqueueParams{
		VolumeID:     volumeID,
		Link:         link,
		DisplayTitle: link,
		Adapter:      adapter,
		Service:      "fake",
		TargetFolder: t.TempDir(),
	}
	for _, apply := range params {
		apply(&p)
	}

	task, err := m.Enqueue(context.Background(), p)
	require.NoError(t, err)
	return task
}

func TestEnqueueAdmitsImmediately(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 2, MaxRetries: 2})
	adapter := newFakeAdapter(downloader.TypeDirect)

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	assert.Equal(t, StateActive, task.State)
	assert.Equal(t, []string{"http://example.com/a"}, adapter.added)
}

func TestDirectConcurrencyBudget(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	first := enqueue(t, m, adapter, 1, "http://example.com/a")
	second := enqueue(t, m, adapter, 2, "http://example.com/b")

	assert.Equal(t, StateActive, first.State)
	assert.Equal(t, StateQueued, second.State)

	// Torrents are not bounded by the direct budget
	torrent := newFakeAdapter(downloader.TypeTorrent)
	third := enqueue(t, m, torrent, 3, "magnet:?xt=urn:btih:c")
	assert.Equal(t, StateActive, third.State)
}

func TestAdmissionPriorityOrder(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 0, MaxRetries: 0})
	blocked := newFakeAdapter(downloader.TypeDirect)

	// Fill the single slot so later tasks stay queued
	m.cfg.DirectLimit = 1
	enqueue(t, m, blocked, 1, "http://example.com/hold")

	fifo := enqueue(t, m, blocked, 2, "http://example.com/fifo", func(p *EnqueueParams) {
		p.ServicePosition = 5
	})
	preferred := enqueue(t, m, blocked, 3, "http://example.com/preferred", func(p *EnqueueParams) {
		p.ServicePosition = 0
	})
	forced := enqueue(t, m, blocked, 4, "http://example.com/forced", func(p *EnqueueParams) {
		p.ServicePosition = 9
		p.Force = true
	})

	require.Equal(t, StateQueued, fifo.State)
	require.Equal(t, StateQueued, preferred.State)
	require.Equal(t, StateQueued, forced.State)

	// Free slots one at a time; admission must follow
	// force > preference position > FIFO
	var admittedOrder []int64
	for range 3 {
		m.mu.Lock()
		for _, task := range m.tasks {
			if task.State == StateActive {
				task.State = StateCompleted
			}
		}
		m.mu.Unlock()

		m.admit(context.Background())

		m.mu.Lock()
		for _, task := range m.tasks {
			if task.State == StateActive {
				admittedOrder = append(admittedOrder, task.ID)
			}
		}
		m.mu.Unlock()
	}

	assert.Equal(t, []int64{forced.ID, preferred.ID, fifo.ID}, admittedOrder)
}

func TestProgressInvariantTransferredNeverExceedsTotal(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	// Adapter misreports downloaded > size
	adapter.script("a", downloader.Status{
		Size:       100,
		Downloaded: 150,
		State:      downloader.StateDownloading,
	})

	m.Tick(context.Background())

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.BytesTotal)
	assert.LessOrEqual(t, got.BytesTransferred, *got.BytesTotal)
}

func TestCompletionRunsImport(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	adapter.script("a", downloader.Status{
		Size:       100,
		Downloaded: 100,
		State:      downloader.StateCompleted,
	})

	m.Tick(context.Background())

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, got.State)
}

func TestStallWatchdogFiresOncePerEpisode(t *testing.T) {
	m := newTestManager(Config{
		DirectLimit:  1,
		MaxRetries:   5,
		StallTimeout: time.Minute,
	})
	adapter := newFakeAdapter(downloader.TypeDirect)

	now := time.Now()
	m.now = func() time.Time { return now }

	task := enqueue(t, m, adapter, 1, "http://example.com/a")
	require.Equal(t, StateActive, task.State)

	// No progress past the timeout
	now = now.Add(2 * time.Minute)
	m.Tick(context.Background())

	got, _ := m.Get(task.ID)
	assert.Equal(t, 1, got.Retries, "stall must re-queue exactly once")

	// The re-queued task was admitted again with a fresh progress
	// clock, so an immediate second tick must not fire again
	m.Tick(context.Background())
	got, _ = m.Get(task.ID)
	assert.Equal(t, 1, got.Retries)
}

func TestRetryBudgetExhaustion(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 2, StallTimeout: time.Minute})
	adapter := newFakeAdapter(downloader.TypeDirect)

	now := time.Now()
	m.now = func() time.Time { return now }

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	for range 3 {
		now = now.Add(2 * time.Minute)
		m.Tick(context.Background())
	}

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, 2, got.Retries)
	assert.Contains(t, got.FailureReason, "stalled")
}

func TestAuthenticationFailureIsTerminal(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 5})
	adapter := newFakeAdapter(downloader.TypeDirect)
	adapter.addErr = &domain.AuthenticationFailedError{Service: "fake", Description: "rejected"}

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Zero(t, got.Retries)
}

func TestFailedTransferKeepsTypedError(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 5})
	adapter := newFakeAdapter(downloader.TypeDirect)
	adapter.statusErr = &domain.AuthenticationFailedError{Service: "fake", Description: "all credentials rejected"}

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	adapter.script("a", downloader.Status{State: downloader.StateFailed})
	m.Tick(context.Background())

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State, "exhausted credentials must not be retried")
	assert.Zero(t, got.Retries)
	assert.Contains(t, got.FailureReason, "all credentials rejected")
}

func TestFailedTransferWithoutReasonIsRetried(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 5})
	adapter := newFakeAdapter(downloader.TypeDirect)

	task := enqueue(t, m, adapter, 1, "http://example.com/a")

	adapter.script("a", downloader.Status{State: downloader.StateFailed})
	m.Tick(context.Background())

	got, err := m.Get(task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Retries)
	assert.False(t, got.State.Terminal())
}

func TestSeedingCompletePolicyWaits(t *testing.T) {
	m := newTestManager(Config{
		DirectLimit:     1,
		MaxRetries:      0,
		SeedingHandling: domain.SeedingHandlingComplete,
	})
	adapter := newFakeAdapter(downloader.TypeTorrent)

	task := enqueue(t, m, adapter, 1, "magnet:?xt=urn:btih:a")

	adapter.script("a",
		downloader.Status{Size: 100, Downloaded: 100, State: downloader.StateSeeding},
		downloader.Status{Size: 100, Downloaded: 100, State: downloader.StateCompleted},
	)

	m.Tick(context.Background())
	got, _ := m.Get(task.ID)
	assert.Equal(t, StateActive, got.State, "must wait for seeding to finish")

	m.Tick(context.Background())
	got, _ = m.Get(task.ID)
	assert.Equal(t, StateCompleted, got.State)
}

func TestSeedingCopyPolicyHandsOffImmediately(t *testing.T) {
	m := newTestManager(Config{
		DirectLimit:     1,
		MaxRetries:      0,
		SeedingHandling: domain.SeedingHandlingCopy,
	})
	adapter := newFakeAdapter(downloader.TypeTorrent)

	task := enqueue(t, m, adapter, 1, "magnet:?xt=urn:btih:a")

	adapter.script("a",
		downloader.Status{Size: 100, Downloaded: 100, State: downloader.StateSeeding},
		downloader.Status{Size: 100, Downloaded: 100, State: downloader.StateSeeding},
		downloader.Status{Size: 100, Downloaded: 100, State: downloader.StateCompleted},
	)

	m.Tick(context.Background())
	got, _ := m.Get(task.ID)
	assert.Equal(t, StateCompleted, got.State, "copy policy imports before seeding ends")
	assert.Empty(t, adapter.removed, "torrent stays in client while seeding")

	// Second poll still seeding, third completes -> torrent removed
	m.Tick(context.Background())
	m.Tick(context.Background())
	assert.Equal(t, []string{"a"}, adapter.removed)
}

func TestCancelQueuedTask(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	enqueue(t, m, adapter, 1, "http://example.com/hold")
	second := enqueue(t, m, adapter, 2, "http://example.com/queued")
	require.Equal(t, StateQueued, second.State)

	require.NoError(t, m.Cancel(context.Background(), second.ID, false))

	_, err := m.Get(second.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Empty(t, adapter.removed, "queued tasks have no client transfer to abort")
}

func TestCancelActiveTaskAbortsTransfer(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	task := enqueue(t, m, adapter, 1, "http://example.com/a")
	require.Equal(t, StateActive, task.State)

	require.NoError(t, m.Cancel(context.Background(), task.ID, false))

	_, err := m.Get(task.ID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Equal(t, []string{"a"}, adapter.removed)
}

func TestCancelUnknownTask(t *testing.T) {
	m := newTestManager(Config{})
	assert.ErrorIs(t, m.Cancel(context.Background(), 42, false), ErrTaskNotFound)
}

func TestCancelFreesSlotForQueuedTask(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	first := enqueue(t, m, adapter, 1, "http://example.com/a")
	second := enqueue(t, m, adapter, 2, "http://example.com/b")
	require.Equal(t, StateQueued, second.State)

	require.NoError(t, m.Cancel(context.Background(), first.ID, false))

	got, err := m.Get(second.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}

func TestFindNonTerminalDedup(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 2, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	issueID := int64(7)
	enqueue(t, m, adapter, 1, "http://example.com/a", func(p *EnqueueParams) {
		p.IssueID = &issueID
	})

	assert.NotNil(t, m.FindNonTerminal(1, &issueID, "http://example.com/a"))
	assert.Nil(t, m.FindNonTerminal(1, nil, "http://example.com/a"))
	assert.Nil(t, m.FindNonTerminal(1, &issueID, "http://example.com/other"))
	assert.Nil(t, m.FindNonTerminal(2, &issueID, "http://example.com/a"))
}

func TestHasTaskGuards(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 1, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeTorrent)

	enqueue(t, m, adapter, 9, "magnet:?xt=urn:btih:a", func(p *EnqueueParams) {
		p.ClientID = 3
	})

	assert.True(t, m.HasTaskForVolume(9))
	assert.False(t, m.HasTaskForVolume(10))
	assert.True(t, m.HasTaskForClient(3))
	assert.False(t, m.HasTaskForClient(4))
}

func TestListPreservesOrder(t *testing.T) {
	m := newTestManager(Config{DirectLimit: 5, MaxRetries: 0})
	adapter := newFakeAdapter(downloader.TypeDirect)

	a := enqueue(t, m, adapter, 1, "http://example.com/a")
	b := enqueue(t, m, adapter, 2, "http://example.com/b")
	c := enqueue(t, m, adapter, 3, "http://example.com/c")

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
}
