// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"fmt"
	"net/url"
	"strings"
)

// infoHashFromLink extracts the info hash from a magnet link. The Web
// API does not return the hash on add, so it is derived from the link
// and used as the transfer id.
func infoHashFromLink(link string) (string, error) {
	if !strings.HasPrefix(link, "magnet:") {
		return "", fmt.Errorf("cannot derive info hash from non-magnet link %q", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("invalid magnet link: %w", err)
	}

	for _, xt := range u.Query()["xt"] {
		if hash, ok := strings.CutPrefix(xt, "urn:btih:"); ok && hash != "" {
			return strings.ToLower(hash), nil
		}
	}

	return "", fmt.Errorf("magnet link has no info hash: %q", link)
}
