// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"sync"
	"time"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// ServiceDescriptor models a direct-download host: a daily byte
// threshold after which the service throttles or refuses, and the soft
// speed cap applied past it. Zero values mean unlimited.
type ServiceDescriptor struct {
	Name           string `json:"name"`
	DailyByteLimit int64  `json:"daily_byte_limit"`
	SoftSpeedCap   int64  `json:"soft_speed_cap"`
}

// QuotaTracker tracks per-service byte usage within the current UTC
// day. It informs service-preference hinting and refuses downloads
// past a service's hard threshold.
type QuotaTracker struct {
	mu       sync.Mutex
	services map[string]ServiceDescriptor
	usage    map[string]int64
	day      time.Time

	now func() time.Time
}

func NewQuotaTracker(services []ServiceDescriptor) *QuotaTracker {
	byName := make(map[string]ServiceDescriptor, len(services))
	for _, s := range services {
		byName[s.Name] = s
	}
	t := &QuotaTracker{
		services: byName,
		usage:    make(map[string]int64),
		now:      time.Now,
	}
	t.day = t.today()
	return t
}

// Record adds transferred bytes to a service's usage for today.
func (t *QuotaTracker) Record(service string, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()
	t.usage[service] += bytes
}

// Check returns DownloadLimitReached when the service's daily
// threshold is already spent.
func (t *QuotaTracker) Check(service string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	desc, ok := t.services[service]
	if !ok || desc.DailyByteLimit == 0 {
		return nil
	}
	if t.usage[service] >= desc.DailyByteLimit {
		return &domain.DownloadLimitReachedError{Service: service}
	}
	return nil
}

// Remaining reports how many bytes the service will still transfer at
// full speed today. Unlimited services report -1.
func (t *QuotaTracker) Remaining(service string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	desc, ok := t.services[service]
	if !ok || desc.DailyByteLimit == 0 {
		return -1
	}
	remaining := desc.DailyByteLimit - t.usage[service]
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SpeedCap returns the soft speed cap currently applying to the
// service: zero until the daily threshold is reached.
func (t *QuotaTracker) SpeedCap(service string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollover()

	desc, ok := t.services[service]
	if !ok || desc.DailyByteLimit == 0 {
		return 0
	}
	if t.usage[service] >= desc.DailyByteLimit {
		return desc.SoftSpeedCap
	}
	return 0
}

// rollover clears usage when the UTC day changed. Callers hold mu.
func (t *QuotaTracker) rollover() {
	today := t.today()
	if !today.Equal(t.day) {
		t.usage = make(map[string]int64)
		t.day = today
	}
}

func (t *QuotaTracker) today() time.Time {
	return t.now().UTC().Truncate(24 * time.Hour)
}
