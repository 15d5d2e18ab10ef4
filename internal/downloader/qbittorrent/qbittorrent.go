// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent implements the download adapter for qBittorrent
// over its Web API.
package qbittorrent

import (
	"context"
	"strings"
	"sync"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

func init() {
	downloader.Register(downloader.ClientType{
		Name:           "qbittorrent",
		DownloadType:   downloader.TypeTorrent,
		RequiredFields: []string{"title", "base_url"},
		New: func(settings downloader.ClientSettings) (downloader.ClientAdapter, error) {
			return New(settings), nil
		},
	})
}

// Client wraps the qBittorrent Web API client. Login is lazy and the
// session is reused until the API rejects it.
type Client struct {
	settings downloader.ClientSettings
	log      zerolog.Logger

	mu       sync.Mutex
	client   *qbt.Client
	loggedIn bool
}

func New(settings downloader.ClientSettings) *Client {
	return &Client{
		settings: settings,
		log:      log.Logger.With().Str("module", "qbittorrent").Int("clientID", settings.ID).Logger(),
	}
}

func (c *Client) Type() string { return "qbittorrent" }

func (c *Client) DownloadType() downloader.DownloadType { return downloader.TypeTorrent }

func (c *Client) connect(ctx context.Context) (*qbt.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.loggedIn {
		return c.client, nil
	}

	if c.client == nil {
		c.client = qbt.NewClient(qbt.Config{
			Host:     c.settings.BaseURL,
			Username: c.settings.Username,
			Password: c.settings.Password,
			Timeout:  30,
		})
	}

	if err := c.client.LoginCtx(ctx); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "forbidden") ||
			strings.Contains(strings.ToLower(err.Error()), "unauthorized") {
			return nil, &domain.AuthenticationFailedError{
				Service:     "qbittorrent",
				Description: err.Error(),
			}
		}
		return nil, &domain.ClientNotWorkingError{Description: err.Error()}
	}

	c.loggedIn = true
	return c.client, nil
}

func (c *Client) AddDownload(ctx context.Context, link, targetFolder, downloadName string) (string, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return "", err
	}

	options := map[string]string{
		"savepath": targetFolder,
	}
	if downloadName != "" {
		options["rename"] = downloadName
	}

	if err = client.AddTorrentFromUrlCtx(ctx, link, options); err != nil {
		return "", &domain.ClientNotWorkingError{Description: err.Error()}
	}

	hash, err := infoHashFromLink(link)
	if err != nil {
		return "", err
	}

	c.log.Debug().Str("hash", hash).Msg("Torrent added")
	return hash, nil
}

func (c *Client) GetStatus(ctx context.Context, id string) (*downloader.Status, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}

	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{id},
	})
	if err != nil {
		return nil, &domain.ClientNotWorkingError{Description: err.Error()}
	}

	if len(torrents) == 0 {
		return nil, nil
	}

	t := torrents[0]

	return &downloader.Status{
		Size:       t.Size,
		Downloaded: t.Size - t.AmountLeft,
		Progress:   t.Progress * 100,
		Speed:      t.DlSpeed,
		State:      mapState(t.State),
	}, nil
}

func (c *Client) RemoveDownload(ctx context.Context, id string, deleteFiles bool) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	if err = client.DeleteTorrentsCtx(ctx, []string{id}, deleteFiles); err != nil {
		return &domain.ClientNotWorkingError{Description: err.Error()}
	}
	return nil
}

// Test verifies connectivity and credentials against the Web API.
func (c *Client) Test(ctx context.Context) error {
	client, err := c.connect(ctx)
	if err != nil {
		return err
	}

	if _, err = client.GetWebAPIVersionCtx(ctx); err != nil {
		return &domain.ClientNotWorkingError{Description: err.Error()}
	}
	return nil
}

func mapState(state qbt.TorrentState) downloader.State {
	switch state {
	case qbt.TorrentStateDownloading, qbt.TorrentStateMetaDl,
		qbt.TorrentStateForcedDl, qbt.TorrentStateCheckingDl:
		return downloader.StateDownloading
	case qbt.TorrentStateStalledDl:
		return downloader.StateDownloading
	case qbt.TorrentStateQueuedDl, qbt.TorrentStateAllocating:
		return downloader.StateQueued
	case qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl:
		return downloader.StatePaused
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp,
		qbt.TorrentStateQueuedUp, qbt.TorrentStateForcedUp,
		qbt.TorrentStateCheckingUp:
		return downloader.StateSeeding
	case qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp:
		return downloader.StateCompleted
	case qbt.TorrentStateError, qbt.TorrentStateMissingFiles:
		return downloader.StateFailed
	case qbt.TorrentStateCheckingResumeData, qbt.TorrentStateMoving:
		return downloader.StateImporting
	default:
		return downloader.StateImporting
	}
}
