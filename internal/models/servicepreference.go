// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matt1432/Kapowarr/internal/dbinterface"
)

var (
	ErrServiceNotFound = errors.New("service not found in preference order")

	// ErrInvalidServiceOrder wraps permutation validation failures so
	// callers can tell them apart from storage errors.
	ErrInvalidServiceOrder = errors.New("invalid service order")
)

// ServicePreferenceStore persists the ordering in which external
// services are tried for direct downloads.
type ServicePreferenceStore struct {
	db dbinterface.Querier
}

func NewServicePreferenceStore(db dbinterface.Querier) *ServicePreferenceStore {
	return &ServicePreferenceStore{db: db}
}

// EnsureServices appends any service not yet in the preference order
// at the end. Existing positions are never changed.
func (s *ServicePreferenceStore) EnsureServices(ctx context.Context, services []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, service := range services {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO service_preference (service, position)
			SELECT ?, COALESCE(MAX(position), -1) + 1 FROM service_preference
			WHERE true
			ON CONFLICT (service) DO NOTHING
		`, service)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns the services in preference order, most preferred first.
func (s *ServicePreferenceStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service FROM service_preference ORDER BY position ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []string
	for rows.Next() {
		var service string
		if err = rows.Scan(&service); err != nil {
			return nil, err
		}
		services = append(services, service)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return services, nil
}

// Position returns the zero-based preference position of a service.
func (s *ServicePreferenceStore) Position(ctx context.Context, service string) (int, error) {
	var position int
	err := s.db.QueryRowContext(ctx, `
		SELECT position FROM service_preference WHERE service = ?
	`, service).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrServiceNotFound
	}
	if err != nil {
		return 0, err
	}
	return position, nil
}

// MoveToPosition moves a service to the given position. The service
// previously at that position takes the moved service's old slot, so
// the result is always a valid permutation.
func (s *ServicePreferenceStore) MoveToPosition(ctx context.Context, service string, position int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_preference`).Scan(&count); err != nil {
		return err
	}
	if position < 0 || position >= count {
		return fmt.Errorf("%w: position %d out of range [0, %d)", ErrInvalidServiceOrder, position, count)
	}

	var oldPosition int
	err = tx.QueryRowContext(ctx, `
		SELECT position FROM service_preference WHERE service = ?
	`, service).Scan(&oldPosition)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrServiceNotFound
	}
	if err != nil {
		return err
	}

	if oldPosition == position {
		return tx.Commit()
	}

	// Three-step swap to keep the UNIQUE constraint satisfied
	if _, err = tx.ExecContext(ctx, `
		UPDATE service_preference SET position = -1 WHERE service = ?
	`, service); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE service_preference SET position = ? WHERE position = ?
	`, oldPosition, position); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE service_preference SET position = ? WHERE service = ?
	`, position, service); err != nil {
		return err
	}

	return tx.Commit()
}

// SetOrder replaces the whole preference order. The given slice must
// be a permutation of the stored services.
func (s *ServicePreferenceStore) SetOrder(ctx context.Context, services []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM service_preference`).Scan(&count); err != nil {
		return err
	}
	if len(services) != count {
		return fmt.Errorf("%w: expected %d services, got %d", ErrInvalidServiceOrder, count, len(services))
	}

	seen := make(map[string]bool, len(services))
	for _, service := range services {
		if seen[service] {
			return fmt.Errorf("%w: duplicate service %q", ErrInvalidServiceOrder, service)
		}
		seen[service] = true
	}

	// Shift out of the way of the UNIQUE constraint first
	if _, err = tx.ExecContext(ctx, `
		UPDATE service_preference SET position = -(position + 1)
	`); err != nil {
		return err
	}

	for position, service := range services {
		result, err := tx.ExecContext(ctx, `
			UPDATE service_preference SET position = ? WHERE service = ?
		`, position, service)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("unknown service %q in order", service)
		}
	}

	return tx.Commit()
}
