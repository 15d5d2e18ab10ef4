// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// SeedingHandling controls what happens to a finished torrent that is
// still seeding.
type SeedingHandling string

const (
	// SeedingHandlingComplete waits for seeding to finish before the
	// files are handed to post-processing.
	SeedingHandlingComplete SeedingHandling = "complete"
	// SeedingHandlingCopy hands a copy to post-processing immediately
	// and removes the original once seeding ends.
	SeedingHandlingCopy SeedingHandling = "copy"
)

func (s SeedingHandling) Valid() bool {
	return s == SeedingHandlingComplete || s == SeedingHandlingCopy
}

type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	// SessionSecret seeds the AES key used to encrypt stored
	// credentials and client passwords.
	SessionSecret string `mapstructure:"sessionSecret"`

	DataDir     string `mapstructure:"dataDir"`
	DownloadDir string `mapstructure:"downloadDir"`

	// RootFolder is the library root imported issues are filed under.
	RootFolder string `mapstructure:"rootFolder"`

	// MetadataURL is the base URL of the metadata service that serves
	// volume and issue records.
	MetadataURL string `mapstructure:"metadataUrl"`

	// MetadataTimeout is the metadata request timeout in seconds.
	MetadataTimeout int `mapstructure:"metadataTimeout"`

	// DirectDownloadLimit caps concurrently active direct downloads.
	// Torrent concurrency is left to the external client.
	DirectDownloadLimit int `mapstructure:"directDownloadLimit"`

	// FailingDownloadTimeout is the stall timeout in seconds. Zero
	// disables stall detection.
	FailingDownloadTimeout int `mapstructure:"failingDownloadTimeout"`

	// StallCheckInterval is how often, in seconds, the watchdog
	// compares task progress against the stall timeout.
	StallCheckInterval int `mapstructure:"stallCheckInterval"`

	// MaxDownloadRetries bounds how often a failing task is re-queued
	// before it is failed terminally.
	MaxDownloadRetries int `mapstructure:"maxDownloadRetries"`

	SeedingHandling SeedingHandling `mapstructure:"seedingHandling"`

	// Post-processing toggles.
	RenameDownloadedFiles bool     `mapstructure:"renameDownloadedFiles"`
	ConvertFiles          bool     `mapstructure:"convertFiles"`
	ExtractIssueRanges    bool     `mapstructure:"extractIssueRanges"`
	FormatPreference      []string `mapstructure:"formatPreference"`

	// Naming templates, one per special-version classification.
	FileNaming               string `mapstructure:"fileNaming"`
	FileNamingSpecialVersion string `mapstructure:"fileNamingSpecialVersion"`
	FileNamingVAI            string `mapstructure:"fileNamingVai"`
	VolumeFolderNaming       string `mapstructure:"volumeFolderNaming"`
	IssuePadding             int    `mapstructure:"issuePadding"`
	VolumePadding            int    `mapstructure:"volumePadding"`
	LongSpecialVersion       bool   `mapstructure:"longSpecialVersion"`
}
