// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/matt1432/Kapowarr/internal/domain"
)

// LinkChecker answers whether a link is blocklisted.
type LinkChecker interface {
	Contains(ctx context.Context, link string) (bool, error)
}

// Aggregator fans a target's queries out over all source adapters in
// parallel and merges the results into one deduplicated candidate
// list with match flags computed.
type Aggregator struct {
	adapters  []SourceAdapter
	blocklist LinkChecker
	log       zerolog.Logger
}

func NewAggregator(adapters []SourceAdapter, blocklist LinkChecker) *Aggregator {
	return &Aggregator{
		adapters:  adapters,
		blocklist: blocklist,
		log:       log.Logger.With().Str("module", "search").Logger(),
	}
}

// Search queries every adapter with every query format for the target.
// Duplicate links are dropped, first occurrence wins. Adapter failures
// are logged and skipped, except rate limits, which are returned so
// the caller can back off.
func (a *Aggregator) Search(ctx context.Context, target TargetSpec) ([]Candidate, error) {
	queries := FormatQueries(target)

	var mu sync.Mutex
	var results []Candidate
	var rateLimited *domain.RateLimitedError

	g, gctx := errgroup.WithContext(ctx)

	for _, adapter := range a.adapters {
		g.Go(func() error {
			for _, query := range queries {
				candidates, err := adapter.Search(gctx, query)
				if err != nil {
					var rl *domain.RateLimitedError
					if errors.As(err, &rl) {
						a.log.Warn().Err(err).
							Str("source", adapter.Name()).
							Msg("Source rate limited, partial results")
						mu.Lock()
						rateLimited = rl
						mu.Unlock()
						return nil
					}
					a.log.Warn().Err(err).
						Str("source", adapter.Name()).
						Str("query", query).
						Msg("Source search failed")
					continue
				}

				mu.Lock()
				results = append(results, candidates...)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if rateLimited != nil && len(results) == 0 {
		return nil, rateLimited
	}

	deduped := dedupByLink(results)

	for i := range deduped {
		blocklisted, err := a.blocklist.Contains(ctx, deduped[i].Link)
		if err != nil {
			return nil, err
		}
		deduped[i].Match, deduped[i].MatchRejections = CheckMatch(deduped[i], target, blocklisted)
	}

	a.log.Debug().
		Int("queries", len(queries)).
		Int("results", len(deduped)).
		Msg("Search completed")

	return deduped, nil
}

func dedupByLink(candidates []Candidate) []Candidate {
	seen := make(map[string]bool, len(candidates))
	deduped := make([]Candidate, 0, len(candidates))
	for _, candidate := range candidates {
		if seen[candidate.Link] {
			continue
		}
		seen[candidate.Link] = true
		deduped = append(deduped, candidate)
	}
	return deduped
}
