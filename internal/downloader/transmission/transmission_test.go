// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package transmission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

type rpcCall struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments"`
}

// fakeTransmission enforces the 409 session-id handshake like a real
// instance.
func fakeTransmission(t *testing.T, handler func(call rpcCall) (string, any)) *httptest.Server {
	t.Helper()

	const sid = "test-session-id"

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transmission/rpc", r.URL.Path)

		if r.Header.Get(sessionIDHeader) != sid {
			w.Header().Set(sessionIDHeader, sid)
			w.WriteHeader(http.StatusConflict)
			return
		}

		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))

		result, arguments := handler(call)
		response := map[string]any{"result": result, "arguments": arguments}
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func TestSessionIDHandshake(t *testing.T) {
	var calls []string
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		calls = append(calls, call.Method)
		return "success", map[string]any{}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	require.NoError(t, client.Test(context.Background()))
	assert.Equal(t, []string{"session-get"}, calls)

	// The session id is reused for subsequent calls
	require.NoError(t, client.Test(context.Background()))
	assert.Len(t, calls, 2)
}

func TestAddDownload(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		require.Equal(t, "torrent-add", call.Method)
		assert.Equal(t, "magnet:?xt=urn:btih:abc", call.Arguments["filename"])
		assert.Equal(t, "/downloads", call.Arguments["download-dir"])
		return "success", map[string]any{
			"torrent-added": map[string]any{"hashString": "abc"},
		}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	hash, err := client.AddDownload(context.Background(), "magnet:?xt=urn:btih:abc", "/downloads", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", hash)
}

func TestAddDownloadDuplicate(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		return "success", map[string]any{
			"torrent-duplicate": map[string]any{"hashString": "abc"},
		}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	hash, err := client.AddDownload(context.Background(), "magnet:?xt=urn:btih:abc", "/downloads", "")
	require.NoError(t, err)
	assert.Equal(t, "abc", hash)
}

func TestGetStatus(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		require.Equal(t, "torrent-get", call.Method)
		return "success", map[string]any{
			"torrents": []map[string]any{
				{
					"hashString":   "abc",
					"totalSize":    1000,
					"percentDone":  0.5,
					"rateDownload": 2048,
					"status":       statusDownloading,
				},
			},
		}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	status, err := client.GetStatus(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, int64(1000), status.Size)
	assert.Equal(t, int64(500), status.Downloaded)
	assert.Equal(t, float64(50), status.Progress)
	assert.Equal(t, downloader.StateDownloading, status.State)
}

func TestGetStatusUnknownTorrent(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		return "success", map[string]any{"torrents": []map[string]any{}}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	status, err := client.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestGetStatusErroredTorrent(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		return "success", map[string]any{
			"torrents": []map[string]any{
				{
					"hashString":  "abc",
					"totalSize":   1000,
					"percentDone": 0.1,
					"status":      statusDownloading,
					"error":       3,
					"errorString": "tracker error",
				},
			},
		}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	status, err := client.GetStatus(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, downloader.StateFailed, status.State)

	reason := client.Err("abc")
	require.Error(t, reason)
	assert.ErrorIs(t, reason, &domain.ClientNotWorkingError{})
	assert.Contains(t, reason.Error(), "tracker error")
}

func TestAuthenticationRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL, Username: "u", Password: "bad"})

	err := client.Test(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, &domain.AuthenticationFailedError{})
}

func TestStateMapping(t *testing.T) {
	tests := []struct {
		status      int
		percentDone float64
		want        downloader.State
	}{
		{statusStopped, 0, downloader.StatePaused},
		{statusStopped, 0.5, downloader.StatePaused},
		{statusStopped, 1, downloader.StateCompleted},
		{statusCheckWait, 0, downloader.StateDownloading},
		{statusChecking, 0, downloader.StateDownloading},
		{statusDownloadWait, 0, downloader.StateQueued},
		{statusDownloading, 0.5, downloader.StateDownloading},
		{statusSeedWait, 1, downloader.StateSeeding},
		{statusSeeding, 1, downloader.StateSeeding},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, mapStatus(tt.status, tt.percentDone))
	}
}

func TestGetStatusFinishedTorrentReportsCompleted(t *testing.T) {
	srv := fakeTransmission(t, func(call rpcCall) (string, any) {
		require.Equal(t, "torrent-get", call.Method)
		return "success", map[string]any{
			"torrents": []map[string]any{
				{
					"hashString":  "abc",
					"totalSize":   1000,
					"percentDone": 1.0,
					"status":      statusStopped,
				},
			},
		}
	})
	defer srv.Close()

	client := New(downloader.ClientSettings{BaseURL: srv.URL})

	status, err := client.GetStatus(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, downloader.StateCompleted, status.State,
		"a torrent stopped at 100% has finished seeding")
}
