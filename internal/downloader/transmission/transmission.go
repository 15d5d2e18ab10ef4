// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package transmission implements the download adapter for
// Transmission over its JSON RPC interface.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/buildinfo"
	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

const sessionIDHeader = "X-Transmission-Session-Id"

// Transmission status codes, per the RPC spec.
const (
	statusStopped = iota
	statusCheckWait
	statusChecking
	statusDownloadWait
	statusDownloading
	statusSeedWait
	statusSeeding
)

var magnetNameRegex = regexp.MustCompile(`(?i)&dn=.*?(&|$)`)

func init() {
	downloader.Register(downloader.ClientType{
		Name:           "transmission",
		DownloadType:   downloader.TypeTorrent,
		RequiredFields: []string{"title", "base_url"},
		New: func(settings downloader.ClientSettings) (downloader.ClientAdapter, error) {
			return New(settings), nil
		},
	})
}

// Client speaks the Transmission RPC protocol. The session id required
// by the CSRF protection is fetched on the first 409 and reused.
type Client struct {
	settings   downloader.ClientSettings
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.Mutex
	sessionID string
	failures  map[string]error
}

func New(settings downloader.ClientSettings) *Client {
	return &Client{
		settings:   settings,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log.Logger.With().Str("module", "transmission").Int("clientID", settings.ID).Logger(),
		failures:   make(map[string]error),
	}
}

func (c *Client) Type() string { return "transmission" }

func (c *Client) DownloadType() downloader.DownloadType { return downloader.TypeTorrent }

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// call performs one RPC, transparently refreshing the session id on a
// 409 and retrying once.
func (c *Client) call(ctx context.Context, method string, arguments any) (*rpcResponse, error) {
	resp, err := c.post(ctx, method, arguments)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusConflict {
		sid := resp.Header.Get(sessionIDHeader)
		resp.Body.Close()
		if sid == "" {
			return nil, &domain.ClientNotWorkingError{Description: "no session id in 409 response"}
		}

		c.mu.Lock()
		c.sessionID = sid
		c.mu.Unlock()

		resp, err = c.post(ctx, method, arguments)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &domain.AuthenticationFailedError{
			Service:     "transmission",
			Description: "credentials rejected",
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &domain.ClientNotWorkingError{
			Description: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ClientNotWorkingError{Description: fmt.Sprintf("reading response: %v", err)}
	}

	var rpc rpcResponse
	if err = json.Unmarshal(body, &rpc); err != nil {
		return nil, &domain.ClientNotWorkingError{Description: fmt.Sprintf("decoding response: %v", err)}
	}
	if rpc.Result != "success" {
		return nil, &domain.ClientNotWorkingError{Description: fmt.Sprintf("rpc result %q", rpc.Result)}
	}

	return &rpc, nil
}

func (c *Client) post(ctx context.Context, method string, arguments any) (*http.Response, error) {
	payload, err := json.Marshal(rpcRequest{Method: method, Arguments: arguments})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.settings.BaseURL+"/transmission/rpc", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	if c.settings.Username != "" && c.settings.Password != "" {
		req.SetBasicAuth(c.settings.Username, c.settings.Password)
	}

	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionIDHeader, c.sessionID)
	}
	c.mu.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ClientNotWorkingError{Description: fmt.Sprintf("connecting to transmission: %v", err)}
	}
	return resp, nil
}

func (c *Client) AddDownload(ctx context.Context, link, targetFolder, downloadName string) (string, error) {
	if downloadName != "" {
		link = magnetNameRegex.ReplaceAllString(link, "&dn="+downloadName+"$1")
	}

	resp, err := c.call(ctx, "torrent-add", map[string]any{
		"filename":     link,
		"paused":       false,
		"download-dir": targetFolder,
	})
	if err != nil {
		return "", err
	}

	type addedTorrent struct {
		HashString string `json:"hashString"`
	}
	var result struct {
		TorrentAdded     *addedTorrent `json:"torrent-added"`
		TorrentDuplicate *addedTorrent `json:"torrent-duplicate"`
	}
	if err = json.Unmarshal(resp.Arguments, &result); err != nil {
		return "", &domain.ClientNotWorkingError{Description: fmt.Sprintf("decoding torrent-add response: %v", err)}
	}

	added := result.TorrentAdded
	if added == nil {
		added = result.TorrentDuplicate
	}
	if added == nil || added.HashString == "" {
		return "", &domain.ClientNotWorkingError{Description: "torrent-add returned no torrent"}
	}

	c.log.Debug().Str("hash", added.HashString).Msg("Torrent added")
	return added.HashString, nil
}

func (c *Client) GetStatus(ctx context.Context, id string) (*downloader.Status, error) {
	resp, err := c.call(ctx, "torrent-get", map[string]any{
		"ids": []string{id},
		"fields": []string{
			"hashString", "totalSize", "percentDone",
			"rateDownload", "status", "error", "errorString",
		},
	})
	if err != nil {
		return nil, err
	}

	var result struct {
		Torrents []struct {
			HashString   string  `json:"hashString"`
			TotalSize    int64   `json:"totalSize"`
			PercentDone  float64 `json:"percentDone"`
			RateDownload int64   `json:"rateDownload"`
			Status       int     `json:"status"`
			Error        int     `json:"error"`
			ErrorString  string  `json:"errorString"`
		} `json:"torrents"`
	}
	if err = json.Unmarshal(resp.Arguments, &result); err != nil {
		return nil, &domain.ClientNotWorkingError{Description: fmt.Sprintf("decoding torrent-get response: %v", err)}
	}

	if len(result.Torrents) == 0 {
		return nil, nil
	}

	t := result.Torrents[0]

	state := mapStatus(t.Status, t.PercentDone)
	if t.Error != 0 {
		c.log.Warn().Str("hash", id).Str("error", t.ErrorString).Msg("Torrent errored")
		state = downloader.StateFailed
		c.mu.Lock()
		c.failures[id] = &domain.ClientNotWorkingError{Description: t.ErrorString}
		c.mu.Unlock()
	}

	return &downloader.Status{
		Size:       t.TotalSize,
		Downloaded: int64(t.PercentDone * float64(t.TotalSize)),
		Progress:   t.PercentDone * 100,
		Speed:      t.RateDownload,
		State:      state,
	}, nil
}

func (c *Client) RemoveDownload(ctx context.Context, id string, deleteFiles bool) error {
	_, err := c.call(ctx, "torrent-remove", map[string]any{
		"ids":               []string{id},
		"delete-local-data": deleteFiles,
	})
	if err == nil {
		c.mu.Lock()
		delete(c.failures, id)
		c.mu.Unlock()
	}
	return err
}

// Err returns the last reported error of a failed torrent.
func (c *Client) Err(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[id]
}

// Test verifies connectivity and credentials with a session-get.
func (c *Client) Test(ctx context.Context) error {
	_, err := c.call(ctx, "session-get", map[string]any{})
	return err
}

// mapStatus translates a Transmission status code. Transmission has no
// distinct "finished" code: a torrent that completed (or finished
// seeding) sits stopped at percentDone 1.
func mapStatus(status int, percentDone float64) downloader.State {
	switch status {
	case statusStopped:
		if percentDone >= 1 {
			return downloader.StateCompleted
		}
		return downloader.StatePaused
	case statusCheckWait, statusChecking, statusDownloading:
		return downloader.StateDownloading
	case statusDownloadWait:
		return downloader.StateQueued
	case statusSeedWait, statusSeeding:
		return downloader.StateSeeding
	default:
		return downloader.StateImporting
	}
}
