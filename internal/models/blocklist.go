// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matt1432/Kapowarr/internal/dbinterface"
	"github.com/matt1432/Kapowarr/internal/domain"
)

var ErrBlocklistEntryNotFound = errors.New("blocklist entry not found")

// BlocklistEntry records a link that must never be offered or
// downloaded again.
type BlocklistEntry struct {
	ID           int                    `json:"id"`
	Link         string                 `json:"link"`
	DisplayTitle *string                `json:"display_title,omitempty"`
	VolumeID     *int64                 `json:"volume_id,omitempty"`
	IssueID      *int64                 `json:"issue_id,omitempty"`
	Reason       domain.BlocklistReason `json:"reason"`
	AddedAt      time.Time              `json:"added_at"`
}

type BlocklistStore struct {
	db dbinterface.Querier
}

func NewBlocklistStore(db dbinterface.Querier) *BlocklistStore {
	return &BlocklistStore{db: db}
}

// Add records a link on the blocklist. Adding a link that is already
// blocklisted updates the reason and returns the existing entry.
func (s *BlocklistStore) Add(ctx context.Context, link string, displayTitle *string, volumeID, issueID *int64, reason domain.BlocklistReason) (*BlocklistEntry, error) {
	if link == "" {
		return nil, errors.New("link cannot be empty")
	}
	if !reason.Valid() {
		return nil, errors.New("invalid blocklist reason")
	}

	var id int
	var addedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO blocklist (link, display_title, volume_id, issue_id, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (link) DO UPDATE SET reason = excluded.reason
		RETURNING id, added_at
	`, link, displayTitle, volumeID, issueID, reason).Scan(&id, &addedAt)
	if err != nil {
		return nil, err
	}

	return &BlocklistEntry{
		ID:           id,
		Link:         link,
		DisplayTitle: displayTitle,
		VolumeID:     volumeID,
		IssueID:      issueID,
		Reason:       reason,
		AddedAt:      addedAt,
	}, nil
}

// Contains reports whether the link is blocklisted.
func (s *BlocklistStore) Contains(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blocklist WHERE link = ?`, link).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *BlocklistStore) List(ctx context.Context) ([]*BlocklistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, link, display_title, volume_id, issue_id, reason, added_at
		FROM blocklist
		ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*BlocklistEntry
	for rows.Next() {
		entry, err := scanBlocklistEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *BlocklistStore) Get(ctx context.Context, id int) (*BlocklistEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, link, display_title, volume_id, issue_id, reason, added_at
		FROM blocklist
		WHERE id = ?
	`, id)

	entry, err := scanBlocklistEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBlocklistEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

func (s *BlocklistStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM blocklist WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrBlocklistEntryNotFound
	}

	return nil
}

// Clear removes every blocklist entry.
func (s *BlocklistStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blocklist`)
	return err
}

func scanBlocklistEntry(scan func(dest ...any) error) (*BlocklistEntry, error) {
	var entry BlocklistEntry
	var displayTitle sql.NullString
	var volumeID, issueID sql.NullInt64

	err := scan(&entry.ID, &entry.Link, &displayTitle, &volumeID, &issueID, &entry.Reason, &entry.AddedAt)
	if err != nil {
		return nil, err
	}

	if displayTitle.Valid {
		entry.DisplayTitle = &displayTitle.String
	}
	if volumeID.Valid {
		entry.VolumeID = &volumeID.Int64
	}
	if issueID.Valid {
		entry.IssueID = &issueID.Int64
	}

	return &entry, nil
}
