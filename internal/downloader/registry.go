// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package downloader

import (
	"fmt"
	"sort"
	"sync"
)

// ClientSettings is the decrypted configuration an adapter is built
// from.
type ClientSettings struct {
	ID       int
	Title    string
	BaseURL  string
	Username string
	Password string
	APIToken string
}

// ClientType describes one registered external client type: which
// mechanism it implements, which credential fields it requires, and
// how to build an adapter for it.
type ClientType struct {
	Name           string       `json:"name"`
	DownloadType   DownloadType `json:"download_type"`
	RequiredFields []string     `json:"required_fields"`

	New func(settings ClientSettings) (ClientAdapter, error) `json:"-"`
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]ClientType)
)

// Register adds a client type to the registry. Double registration is
// a programming error.
func Register(ct ClientType) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[ct.Name]; exists {
		panic(fmt.Sprintf("client type %q registered twice", ct.Name))
	}
	registry[ct.Name] = ct
}

// Lookup returns the client type by name.
func Lookup(name string) (ClientType, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	ct, ok := registry[name]
	return ct, ok
}

// ClientTypes lists the registered types sorted by name, for the API
// to expose which clients can be configured and what each requires.
func ClientTypes() []ClientType {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]ClientType, 0, len(registry))
	for _, ct := range registry {
		types = append(types, ct)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// ValidateSettings checks that every required field of the client type
// is present in the settings.
func (ct ClientType) ValidateSettings(settings ClientSettings) error {
	for _, field := range ct.RequiredFields {
		var present bool
		switch field {
		case "title":
			present = settings.Title != ""
		case "base_url":
			present = settings.BaseURL != ""
		case "username":
			present = settings.Username != ""
		case "password":
			present = settings.Password != ""
		case "api_token":
			present = settings.APIToken != ""
		default:
			return fmt.Errorf("unknown required field %q", field)
		}
		if !present {
			return fmt.Errorf("client type %s requires field %q", ct.Name, field)
		}
	}
	return nil
}
