// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matt1432/Kapowarr/internal/dbinterface"
	"github.com/matt1432/Kapowarr/internal/domain"
)

var ErrCredentialNotFound = errors.New("credential not found")

// Credential is one stored secret set for an external service.
// Multiple credentials may exist per service; they are tried in
// insertion order.
type Credential struct {
	ID                int     `json:"id"`
	Service           string  `json:"service"`
	Email             *string `json:"email,omitempty"`
	Username          *string `json:"username,omitempty"`
	PasswordEncrypted string  `json:"-"`
	APITokenEncrypted string  `json:"-"`
}

func (c Credential) MarshalJSON() ([]byte, error) {
	// Secrets never leave the process unredacted
	return json.Marshal(&struct {
		ID       int     `json:"id"`
		Service  string  `json:"service"`
		Email    *string `json:"email,omitempty"`
		Username *string `json:"username,omitempty"`
		Password string  `json:"password,omitempty"`
		APIToken string  `json:"api_token,omitempty"`
	}{
		ID:       c.ID,
		Service:  c.Service,
		Email:    c.Email,
		Username: c.Username,
		Password: domain.RedactString(c.PasswordEncrypted),
		APIToken: domain.RedactString(c.APITokenEncrypted),
	})
}

// CredentialStore is the credential vault: it owns the stored secrets
// and hands out decrypted values only to the download adapters.
type CredentialStore struct {
	db  dbinterface.Querier
	box secretBox
}

func NewCredentialStore(db dbinterface.Querier, encryptionKey []byte) (*CredentialStore, error) {
	box, err := newSecretBox(encryptionKey)
	if err != nil {
		return nil, err
	}

	return &CredentialStore{db: db, box: box}, nil
}

func (s *CredentialStore) Create(ctx context.Context, service string, email, username *string, password, apiToken string) (*Credential, error) {
	if service == "" {
		return nil, errors.New("service cannot be empty")
	}

	var passwordEncrypted, apiTokenEncrypted string
	var err error
	if password != "" {
		if passwordEncrypted, err = s.box.encrypt(password); err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
	}
	if apiToken != "" {
		if apiTokenEncrypted, err = s.box.encrypt(apiToken); err != nil {
			return nil, fmt.Errorf("failed to encrypt api token: %w", err)
		}
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO credentials (service, email, username, password_encrypted, api_token_encrypted)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`, service, email, username, passwordEncrypted, apiTokenEncrypted).Scan(&id)
	if err != nil {
		return nil, err
	}

	return &Credential{
		ID:                id,
		Service:           service,
		Email:             email,
		Username:          username,
		PasswordEncrypted: passwordEncrypted,
		APITokenEncrypted: apiTokenEncrypted,
	}, nil
}

func (s *CredentialStore) Get(ctx context.Context, id int) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, service, email, username, password_encrypted, api_token_encrypted
		FROM credentials
		WHERE id = ?
	`, id)

	cred, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return cred, nil
}

func (s *CredentialStore) List(ctx context.Context) ([]*Credential, error) {
	return s.list(ctx, `
		SELECT id, service, email, username, password_encrypted, api_token_encrypted
		FROM credentials
		ORDER BY id ASC
	`)
}

// ListForService returns the credentials for one service in insertion
// order, which is the order adapters try them in.
func (s *CredentialStore) ListForService(ctx context.Context, service string) ([]*Credential, error) {
	return s.list(ctx, `
		SELECT id, service, email, username, password_encrypted, api_token_encrypted
		FROM credentials
		WHERE service = ?
		ORDER BY id ASC
	`, service)
}

func (s *CredentialStore) list(ctx context.Context, query string, args ...any) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var credentials []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, cred)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return credentials, nil
}

func (s *CredentialStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrCredentialNotFound
	}

	return nil
}

// GetDecryptedPassword returns the decrypted password, or empty when
// none is stored.
func (s *CredentialStore) GetDecryptedPassword(cred *Credential) (string, error) {
	if cred.PasswordEncrypted == "" {
		return "", nil
	}
	return s.box.decrypt(cred.PasswordEncrypted)
}

// GetDecryptedAPIToken returns the decrypted API token, or empty when
// none is stored.
func (s *CredentialStore) GetDecryptedAPIToken(cred *Credential) (string, error) {
	if cred.APITokenEncrypted == "" {
		return "", nil
	}
	return s.box.decrypt(cred.APITokenEncrypted)
}

func scanCredential(scan func(dest ...any) error) (*Credential, error) {
	var cred Credential
	var email, username sql.NullString
	var passwordEncrypted, apiTokenEncrypted sql.NullString

	err := scan(&cred.ID, &cred.Service, &email, &username, &passwordEncrypted, &apiTokenEncrypted)
	if err != nil {
		return nil, err
	}

	if email.Valid {
		cred.Email = &email.String
	}
	if username.Valid {
		cred.Username = &username.String
	}
	cred.PasswordEncrypted = passwordEncrypted.String
	cred.APITokenEncrypted = apiTokenEncrypted.String

	return &cred, nil
}
