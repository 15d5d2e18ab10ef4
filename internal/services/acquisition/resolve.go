// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package acquisition

import (
	"context"
	"strings"

	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	"github.com/matt1432/Kapowarr/internal/models"
)

// resolvedClient is the outcome of client resolution for one
// candidate link.
type resolvedClient struct {
	adapter  downloader.ClientAdapter
	service  string
	clientID int
	position int
}

func isTorrentLink(link string) bool {
	return strings.HasPrefix(link, "magnet:") ||
		strings.HasSuffix(strings.ToLower(link), ".torrent")
}

// resolveClient picks the adapter for a link. Torrent links go to the
// first configured external client that builds; direct links go to
// the per-service client, refused when the service is unknown or its
// daily quota is spent.
func (o *Orchestrator) resolveClient(ctx context.Context, link, source string) (*resolvedClient, error) {
	if isTorrentLink(link) {
		return o.resolveTorrentClient(ctx)
	}
	return o.resolveDirectClient(ctx, source)
}

func (o *Orchestrator) resolveTorrentClient(ctx context.Context) (*resolvedClient, error) {
	clients, err := o.stores.Clients.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, client := range clients {
		adapter, err := o.buildExternalAdapter(client)
		if err != nil {
			o.log.Warn().Err(err).
				Int("clientID", client.ID).
				Str("type", client.ClientType).
				Msg("External client unusable, trying next")
			continue
		}
		return &resolvedClient{
			adapter:  adapter,
			service:  client.ClientType,
			clientID: client.ID,
		}, nil
	}
	return nil, domain.ErrNoEligibleService
}

func (o *Orchestrator) buildExternalAdapter(client *models.ExternalClient) (downloader.ClientAdapter, error) {
	ct, ok := downloader.Lookup(client.ClientType)
	if !ok {
		return nil, domain.ErrNoEligibleService
	}

	password, err := o.stores.Clients.GetDecryptedPassword(client)
	if err != nil {
		return nil, err
	}
	apiToken, err := o.stores.Clients.GetDecryptedAPIToken(client)
	if err != nil {
		return nil, err
	}

	settings := downloader.ClientSettings{
		ID:       client.ID,
		Title:    client.Title,
		BaseURL:  client.BaseURL,
		APIToken: apiToken,
		Password: password,
	}
	if client.Username != nil {
		settings.Username = *client.Username
	}
	return ct.New(settings)
}

func (o *Orchestrator) resolveDirectClient(ctx context.Context, source string) (*resolvedClient, error) {
	client, ok := o.directClients[source]
	if !ok {
		return nil, domain.ErrNoEligibleService
	}

	if err := o.quota.Check(source); err != nil {
		return nil, err
	}

	position, err := o.stores.Preferences.Position(ctx, source)
	if err != nil {
		// Unranked services sort last.
		position = int(^uint(0) >> 1)
	}

	return &resolvedClient{
		adapter:  client,
		service:  source,
		position: position,
	}, nil
}
