// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt1432/Kapowarr/internal/domain"
)

func TestRegistryLookup(t *testing.T) {
	Register(ClientType{
		Name:           "test-client",
		DownloadType:   TypeTorrent,
		RequiredFields: []string{"title", "base_url"},
	})

	ct, ok := Lookup("test-client")
	require.True(t, ok)
	assert.Equal(t, TypeTorrent, ct.DownloadType)

	_, ok = Lookup("missing")
	assert.False(t, ok)

	var found bool
	for _, listed := range ClientTypes() {
		if listed.Name == "test-client" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateSettings(t *testing.T) {
	ct := ClientType{
		Name:           "strict",
		RequiredFields: []string{"title", "base_url", "username", "password"},
	}

	err := ct.ValidateSettings(ClientSettings{Title: "t", BaseURL: "http://x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "username")

	err = ct.ValidateSettings(ClientSettings{
		Title:    "t",
		BaseURL:  "http://x",
		Username: "u",
		Password: "p",
	})
	assert.NoError(t, err)
}

func TestQuotaTrackerLimits(t *testing.T) {
	tracker := NewQuotaTracker([]ServiceDescriptor{
		{Name: "mega", DailyByteLimit: 1000, SoftSpeedCap: 50},
		{Name: "pixeldrain"},
	})

	assert.NoError(t, tracker.Check("mega"))
	assert.Equal(t, int64(1000), tracker.Remaining("mega"))
	assert.Equal(t, int64(-1), tracker.Remaining("pixeldrain"))
	assert.Zero(t, tracker.SpeedCap("mega"))

	tracker.Record("mega", 600)
	assert.Equal(t, int64(400), tracker.Remaining("mega"))
	assert.NoError(t, tracker.Check("mega"))

	tracker.Record("mega", 600)
	assert.Equal(t, int64(0), tracker.Remaining("mega"))
	assert.Equal(t, int64(50), tracker.SpeedCap("mega"))

	err := tracker.Check("mega")
	require.Error(t, err)
	assert.ErrorIs(t, err, &domain.DownloadLimitReachedError{})

	// Unknown services are unlimited
	assert.NoError(t, tracker.Check("unknown"))
}

func TestQuotaTrackerDailyRollover(t *testing.T) {
	tracker := NewQuotaTracker([]ServiceDescriptor{
		{Name: "mega", DailyByteLimit: 1000},
	})

	current := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return current }
	tracker.day = tracker.today()

	tracker.Record("mega", 1000)
	require.Error(t, tracker.Check("mega"))

	current = current.Add(2 * time.Hour)

	assert.NoError(t, tracker.Check("mega"))
	assert.Equal(t, int64(1000), tracker.Remaining("mega"))
}
