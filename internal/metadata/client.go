// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matt1432/Kapowarr/internal/buildinfo"
)

const maxMetadataResponseBytes int64 = 4 << 20

// Client is an HTTP-backed Provider. It talks to an external metadata
// service that serves volume and issue records as JSON.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a provider for the metadata service at baseURL.
func NewClient(baseURL string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (c *Client) GetVolume(ctx context.Context, volumeID int64) (*VolumeData, error) {
	var volume VolumeData
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/volumes/%d", c.baseURL, volumeID), &volume); err != nil {
		return nil, err
	}
	return &volume, nil
}

func (c *Client) GetIssues(ctx context.Context, volumeID int64) ([]IssueData, error) {
	var issues []IssueData
	if err := c.getJSON(ctx, fmt.Sprintf("%s/api/volumes/%d/issues", c.baseURL, volumeID), &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create metadata request: %w", err)
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxMetadataResponseBytes))
		return fmt.Errorf("metadata service returned status %d for %s", resp.StatusCode, url)
	}

	body := io.LimitReader(resp.Body, maxMetadataResponseBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode metadata response: %w", err)
	}

	return nil
}
