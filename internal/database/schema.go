// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

// Schema holds the full database schema. Statements are idempotent so
// the schema can be reapplied on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS credentials (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	service TEXT NOT NULL,
	email TEXT,
	username TEXT,
	password_encrypted TEXT,
	api_token_encrypted TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_credentials_service ON credentials(service);

CREATE TABLE IF NOT EXISTS external_clients (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_type TEXT NOT NULL,
	title TEXT NOT NULL,
	base_url TEXT NOT NULL,
	username TEXT,
	password_encrypted TEXT,
	api_token_encrypted TEXT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blocklist (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	link TEXT NOT NULL UNIQUE,
	display_title TEXT,
	volume_id INTEGER,
	issue_id INTEGER,
	reason INTEGER NOT NULL,
	added_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS service_preference (
	service TEXT PRIMARY KEY,
	position INTEGER NOT NULL UNIQUE
);
`
