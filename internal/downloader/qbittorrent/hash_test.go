// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInfoHashFromLink(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{
			name: "plain magnet",
			link: "magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A",
			want: "c12fe1c06bba254a9dc9f519b335aa7c1367a88a",
		},
		{
			name: "magnet with name and trackers",
			link: "magnet:?xt=urn:btih:abcdef1234567890&dn=Some+Comic&tr=udp%3A%2F%2Ftracker.example%3A80",
			want: "abcdef1234567890",
		},
		{
			name:    "http link",
			link:    "https://example.com/file.torrent",
			wantErr: true,
		},
		{
			name:    "magnet without hash",
			link:    "magnet:?dn=Some+Comic",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := infoHashFromLink(tt.link)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
