// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package direct implements the download adapter for direct-download
// file hosts. Transfers run in-process: a worker goroutine streams the
// file to disk while the queue polls progress snapshots.
package direct

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matt1432/Kapowarr/internal/buildinfo"
	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
)

// Credential is one decrypted secret set for a service, tried in the
// order the vault stores them.
type Credential struct {
	Email    string
	Username string
	Password string
	APIToken string
}

// CredentialSource hands out decrypted credentials per service.
type CredentialSource interface {
	CredentialsForService(ctx context.Context, service string) ([]Credential, error)
}

// Client downloads from one direct-download service. Quota is shared
// across clients through the tracker.
type Client struct {
	service    string
	quota      *downloader.QuotaTracker
	creds      CredentialSource
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.Mutex
	transfers map[string]*transfer
}

type transfer struct {
	mu         sync.Mutex
	path       string
	size       int64
	downloaded int64
	speed      int64
	state      downloader.State
	err        error
	cancel     context.CancelFunc
}

func New(service string, quota *downloader.QuotaTracker, creds CredentialSource) *Client {
	return &Client{
		service:    service,
		quota:      quota,
		creds:      creds,
		httpClient: &http.Client{Timeout: 0},
		log:        log.Logger.With().Str("module", "direct").Str("service", service).Logger(),
		transfers:  make(map[string]*transfer),
	}
}

func (c *Client) Type() string { return "direct" }

func (c *Client) DownloadType() downloader.DownloadType { return downloader.TypeDirect }

// AddDownload checks the service quota, then starts a worker streaming
// the file into targetFolder. The returned id is only meaningful to
// this client.
func (c *Client) AddDownload(ctx context.Context, link, targetFolder, downloadName string) (string, error) {
	if err := c.quota.Check(c.service); err != nil {
		return "", err
	}

	if err := os.MkdirAll(targetFolder, 0o755); err != nil {
		return "", err
	}

	id := uuid.NewString()

	workerCtx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		state:  downloader.StateDownloading,
		cancel: cancel,
	}

	c.mu.Lock()
	c.transfers[id] = t
	c.mu.Unlock()

	go c.run(workerCtx, t, link, targetFolder, downloadName)

	return id, nil
}

func (c *Client) GetStatus(_ context.Context, id string) (*downloader.Status, error) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	progress := 0.0
	if t.size > 0 {
		progress = float64(t.downloaded) / float64(t.size) * 100
	}

	return &downloader.Status{
		Size:       t.size,
		Downloaded: t.downloaded,
		Progress:   progress,
		Speed:      t.speed,
		State:      t.state,
	}, nil
}

func (c *Client) RemoveDownload(_ context.Context, id string, deleteFiles bool) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	delete(c.transfers, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}

	t.cancel()

	t.mu.Lock()
	path := t.path
	state := t.state
	t.mu.Unlock()

	if deleteFiles && path != "" && state != downloader.StateCompleted {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// FilePath returns where the completed artifact was written.
func (c *Client) FilePath(id string) (string, bool) {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return "", false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.path, t.path != ""
}

// run is the worker. Credentials are tried in vault order; a rejected
// credential moves on to the next, and only when all are rejected does
// the transfer fail with AuthenticationFailed.
func (c *Client) run(ctx context.Context, t *transfer, link, targetFolder, downloadName string) {
	creds, err := c.creds.CredentialsForService(ctx, c.service)
	if err != nil {
		c.fail(t, err)
		return
	}
	// Anonymous access is a valid final attempt
	attempts := append(creds, Credential{})

	var lastErr error
	for _, cred := range attempts {
		err = c.attempt(ctx, t, link, targetFolder, downloadName, cred)
		if err == nil {
			t.mu.Lock()
			t.state = downloader.StateCompleted
			t.speed = 0
			t.mu.Unlock()
			return
		}

		lastErr = err
		var authErr *domain.AuthenticationFailedError
		if !errors.As(err, &authErr) {
			break
		}
		c.log.Debug().Msg("Credential rejected, trying next")
	}

	c.fail(t, lastErr)
}

func (c *Client) attempt(ctx context.Context, t *transfer, link, targetFolder, downloadName string, cred Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	switch {
	case cred.APIToken != "":
		req.Header.Set("Authorization", "Bearer "+cred.APIToken)
	case cred.Username != "" || cred.Email != "":
		user := cred.Username
		if user == "" {
			user = cred.Email
		}
		req.SetBasicAuth(user, cred.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &domain.AuthenticationFailedError{
			Service:     c.service,
			Description: fmt.Sprintf("status %d", resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.RateLimitedError{Provider: c.service}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.service)
	}

	filename := downloadName
	if filename == "" {
		filename = filenameFromResponse(resp, link)
	}
	path := filepath.Join(targetFolder, filename)

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.path = path
	t.size = resp.ContentLength
	t.downloaded = 0
	t.mu.Unlock()

	err = c.copyWithProgress(ctx, t, file, resp.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// copyWithProgress streams the body to disk, updating the transfer's
// counters and honoring the service's soft speed cap once the daily
// threshold is spent.
func (c *Client) copyWithProgress(ctx context.Context, t *transfer, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 64*1024)

	windowStart := time.Now()
	var windowBytes int64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return writeErr
			}

			c.quota.Record(c.service, int64(n))
			windowBytes += int64(n)

			elapsed := time.Since(windowStart)
			if elapsed >= time.Second {
				t.mu.Lock()
				t.downloaded += windowBytes
				t.speed = int64(float64(windowBytes) / elapsed.Seconds())
				t.mu.Unlock()

				if speedCap := c.quota.SpeedCap(c.service); speedCap > 0 && windowBytes > speedCap {
					time.Sleep(time.Duration(float64(windowBytes-speedCap) / float64(speedCap) * float64(time.Second)))
				}

				windowStart = time.Now()
				windowBytes = 0
			}
		}

		if readErr == io.EOF {
			t.mu.Lock()
			t.downloaded += windowBytes
			t.mu.Unlock()
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

func (c *Client) fail(t *transfer, err error) {
	t.mu.Lock()
	t.state = downloader.StateFailed
	t.err = err
	t.speed = 0
	t.mu.Unlock()

	c.log.Warn().Err(err).Msg("Direct download failed")
}

// Err returns the terminal error of a failed transfer.
func (c *Client) Err(id string) error {
	c.mu.Lock()
	t, ok := c.transfers[id]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func filenameFromResponse(resp *http.Response, link string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return filepath.Base(name)
			}
		}
	}

	base := filepath.Base(strings.SplitN(link, "?", 2)[0])
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	return base
}

