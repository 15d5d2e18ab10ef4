// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/matt1432/Kapowarr/internal/dbinterface"
	"github.com/matt1432/Kapowarr/internal/domain"
)

var ErrExternalClientNotFound = errors.New("external client not found")

// ExternalClient is a configured connection to an external download
// client (qBittorrent, Transmission).
type ExternalClient struct {
	ID                int     `json:"id"`
	ClientType        string  `json:"client_type"`
	Title             string  `json:"title"`
	BaseURL           string  `json:"base_url"`
	Username          *string `json:"username,omitempty"`
	PasswordEncrypted string  `json:"-"`
	APITokenEncrypted string  `json:"-"`
}

func (c ExternalClient) MarshalJSON() ([]byte, error) {
	return json.Marshal(&struct {
		ID         int     `json:"id"`
		ClientType string  `json:"client_type"`
		Title      string  `json:"title"`
		BaseURL    string  `json:"base_url"`
		Username   *string `json:"username,omitempty"`
		Password   string  `json:"password,omitempty"`
		APIToken   string  `json:"api_token,omitempty"`
	}{
		ID:         c.ID,
		ClientType: c.ClientType,
		Title:      c.Title,
		BaseURL:    c.BaseURL,
		Username:   c.Username,
		Password:   domain.RedactString(c.PasswordEncrypted),
		APIToken:   domain.RedactString(c.APITokenEncrypted),
	})
}

type ExternalClientStore struct {
	db  dbinterface.Querier
	box secretBox
}

func NewExternalClientStore(db dbinterface.Querier, encryptionKey []byte) (*ExternalClientStore, error) {
	box, err := newSecretBox(encryptionKey)
	if err != nil {
		return nil, err
	}

	return &ExternalClientStore{db: db, box: box}, nil
}

// validateAndNormalizeBaseURL validates and normalizes an external
// client base URL
func validateAndNormalizeBaseURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)

	if rawURL == "" {
		return "", errors.New("base URL cannot be empty")
	}

	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return strings.TrimRight(u.String(), "/"), nil
}

type ExternalClientParams struct {
	ClientType string
	Title      string
	BaseURL    string
	Username   *string
	Password   string
	APIToken   string
}

func (s *ExternalClientStore) Create(ctx context.Context, params ExternalClientParams) (*ExternalClient, error) {
	if params.ClientType == "" {
		return nil, errors.New("client type cannot be empty")
	}
	if params.Title == "" {
		return nil, errors.New("title cannot be empty")
	}

	normalizedURL, err := validateAndNormalizeBaseURL(params.BaseURL)
	if err != nil {
		return nil, err
	}

	passwordEncrypted, apiTokenEncrypted, err := s.encryptSecrets(params.Password, params.APIToken)
	if err != nil {
		return nil, err
	}

	var id int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO external_clients (client_type, title, base_url, username, password_encrypted, api_token_encrypted)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, params.ClientType, params.Title, normalizedURL, params.Username, passwordEncrypted, apiTokenEncrypted).Scan(&id)
	if err != nil {
		return nil, err
	}

	return &ExternalClient{
		ID:                id,
		ClientType:        params.ClientType,
		Title:             params.Title,
		BaseURL:           normalizedURL,
		Username:          params.Username,
		PasswordEncrypted: passwordEncrypted,
		APITokenEncrypted: apiTokenEncrypted,
	}, nil
}

func (s *ExternalClientStore) Update(ctx context.Context, id int, params ExternalClientParams) (*ExternalClient, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	normalizedURL, err := validateAndNormalizeBaseURL(params.BaseURL)
	if err != nil {
		return nil, err
	}

	if params.Title == "" {
		return nil, errors.New("title cannot be empty")
	}

	// Empty secrets keep the stored values
	passwordEncrypted := existing.PasswordEncrypted
	apiTokenEncrypted := existing.APITokenEncrypted
	if params.Password != "" {
		if passwordEncrypted, err = s.box.encrypt(params.Password); err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
	}
	if params.APIToken != "" {
		if apiTokenEncrypted, err = s.box.encrypt(params.APIToken); err != nil {
			return nil, fmt.Errorf("failed to encrypt api token: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE external_clients
		SET title = ?, base_url = ?, username = ?, password_encrypted = ?, api_token_encrypted = ?
		WHERE id = ?
	`, params.Title, normalizedURL, params.Username, passwordEncrypted, apiTokenEncrypted, id)
	if err != nil {
		return nil, err
	}

	return &ExternalClient{
		ID:                id,
		ClientType:        existing.ClientType,
		Title:             params.Title,
		BaseURL:           normalizedURL,
		Username:          params.Username,
		PasswordEncrypted: passwordEncrypted,
		APITokenEncrypted: apiTokenEncrypted,
	}, nil
}

func (s *ExternalClientStore) Get(ctx context.Context, id int) (*ExternalClient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, client_type, title, base_url, username, password_encrypted, api_token_encrypted
		FROM external_clients
		WHERE id = ?
	`, id)

	client, err := scanExternalClient(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExternalClientNotFound
		}
		return nil, err
	}
	return client, nil
}

func (s *ExternalClientStore) List(ctx context.Context) ([]*ExternalClient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_type, title, base_url, username, password_encrypted, api_token_encrypted
		FROM external_clients
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*ExternalClient
	for rows.Next() {
		client, err := scanExternalClient(rows.Scan)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return clients, nil
}

func (s *ExternalClientStore) Delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM external_clients WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrExternalClientNotFound
	}

	return nil
}

func (s *ExternalClientStore) GetDecryptedPassword(client *ExternalClient) (string, error) {
	if client.PasswordEncrypted == "" {
		return "", nil
	}
	return s.box.decrypt(client.PasswordEncrypted)
}

func (s *ExternalClientStore) GetDecryptedAPIToken(client *ExternalClient) (string, error) {
	if client.APITokenEncrypted == "" {
		return "", nil
	}
	return s.box.decrypt(client.APITokenEncrypted)
}

func (s *ExternalClientStore) encryptSecrets(password, apiToken string) (string, string, error) {
	var passwordEncrypted, apiTokenEncrypted string
	var err error
	if password != "" {
		if passwordEncrypted, err = s.box.encrypt(password); err != nil {
			return "", "", fmt.Errorf("failed to encrypt password: %w", err)
		}
	}
	if apiToken != "" {
		if apiTokenEncrypted, err = s.box.encrypt(apiToken); err != nil {
			return "", "", fmt.Errorf("failed to encrypt api token: %w", err)
		}
	}
	return passwordEncrypted, apiTokenEncrypted, nil
}

func scanExternalClient(scan func(dest ...any) error) (*ExternalClient, error) {
	var client ExternalClient
	var username sql.NullString
	var passwordEncrypted, apiTokenEncrypted sql.NullString

	err := scan(&client.ID, &client.ClientType, &client.Title, &client.BaseURL, &username, &passwordEncrypted, &apiTokenEncrypted)
	if err != nil {
		return nil, err
	}

	if username.Valid {
		client.Username = &username.String
	}
	client.PasswordEncrypted = passwordEncrypted.String
	client.APITokenEncrypted = apiTokenEncrypted.String

	return &client, nil
}
