// Copyright (c) 2025, the Kapowarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/matt1432/Kapowarr/internal/api"
	"github.com/matt1432/Kapowarr/internal/buildinfo"
	"github.com/matt1432/Kapowarr/internal/config"
	"github.com/matt1432/Kapowarr/internal/database"
	"github.com/matt1432/Kapowarr/internal/domain"
	"github.com/matt1432/Kapowarr/internal/downloader"
	_ "github.com/matt1432/Kapowarr/internal/downloader/qbittorrent"
	_ "github.com/matt1432/Kapowarr/internal/downloader/transmission"
	"github.com/matt1432/Kapowarr/internal/events"
	"github.com/matt1432/Kapowarr/internal/metadata"
	"github.com/matt1432/Kapowarr/internal/models"
	"github.com/matt1432/Kapowarr/internal/postprocess"
	"github.com/matt1432/Kapowarr/internal/queue"
	"github.com/matt1432/Kapowarr/internal/services/acquisition"
)

// directServices are the direct-download hosts the orchestrator can
// route links to. Byte limits mirror the hosts' free tiers; zero means
// unlimited.
var directServices = []downloader.ServiceDescriptor{
	{Name: "getcomics"},
	{Name: "mega", DailyByteLimit: 5 << 30},
	{Name: "mediafire"},
	{Name: "pixeldrain"},
}

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "kapowarr",
		Short: "A comic library acquisition server",
		Long: `Kapowarr - a self-hosted acquisition pipeline for comic libraries:
search aggregation, download queueing and post-processing into a
structured library.`,
	}

	rootCmd.Version = buildinfo.Version

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand(buildinfo.Version))
	rootCmd.AddCommand(RunGenerateConfigCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var (
		configDir string
		dataDir   string
		logPath   string
	)

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
	}

	command.Flags().StringVar(&configDir, "config-dir", "", "config directory path (default is OS-specific: ~/.config/kapowarr/ or %APPDATA%\\kapowarr\\). Can also be a direct path to a .toml file")
	command.Flags().StringVar(&dataDir, "data-dir", "", "data directory for database, downloads and library (default is next to config file)")
	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stdout)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app := NewApplication(configDir, dataDir, logPath)
		app.runServer()
	}

	return command
}

func RunVersionCommand(version string) *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of kapowarr",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	var configDir string

	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/kapowarr/config.toml
- Windows: %APPDATA%\kapowarr\config.toml

You can specify either a directory path or a direct file path:
- Directory: kapowarr generate-config --config-dir /path/to/config/
- File: kapowarr generate-config --config-dir /path/to/myconfig.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var configPath string
			if configDir != "" {
				if strings.HasSuffix(strings.ToLower(configDir), ".toml") {
					configPath = configDir
				} else if info, err := os.Stat(configDir); err == nil && !info.IsDir() {
					configPath = configDir
				} else {
					configPath = filepath.Join(configDir, "config.toml")
				}
			} else {
				defaultDir := config.GetDefaultConfigDir()
				configPath = filepath.Join(defaultDir, "config.toml")
			}

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	command.Flags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")

	return command
}

type Application struct {
	configDir string
	dataDir   string
	logPath   string
}

func NewApplication(configDir, dataDir, logPath string) *Application {
	return &Application{
		configDir: configDir,
		dataDir:   dataDir,
		logPath:   logPath,
	}
}

func (app *Application) runServer() {
	// Initialize configuration
	cfg, err := config.New(app.configDir, buildinfo.Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize configuration")
	}

	// Override with CLI flags if provided
	if app.dataDir != "" {
		os.Setenv("KAPOWARR__DATA_DIR", app.dataDir)
		cfg.SetDataDir(app.dataDir)
	}
	if app.logPath != "" {
		os.Setenv("KAPOWARR__LOG_PATH", app.logPath)
		cfg.Config.LogPath = app.logPath
	}

	cfg.ApplyLogConfig()

	log.Info().Str("version", buildinfo.Version).Msg("Starting kapowarr")

	// Initialize database
	db, err := database.Open(cfg.GetDataDir())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// Initialize stores
	blocklistStore := models.NewBlocklistStore(db)
	preferenceStore := models.NewServicePreferenceStore(db)
	credentialStore, err := models.NewCredentialStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize credential store")
	}
	clientStore, err := models.NewExternalClientStore(db, cfg.GetEncryptionKey())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize external client store")
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	serviceNames := make([]string, 0, len(directServices))
	for _, service := range directServices {
		serviceNames = append(serviceNames, service.Name)
	}
	if err := preferenceStore.EnsureServices(startupCtx, serviceNames); err != nil {
		startupCancel()
		log.Fatal().Err(err).Msg("Failed to seed service preference order")
	}
	startupCancel()

	if cfg.Config.MetadataURL == "" {
		log.Warn().Msg("No metadata service configured - volume lookups will fail until metadataUrl is set")
	}
	provider := metadata.NewClient(cfg.Config.MetadataURL, cfg.Config.MetadataTimeout)

	publisher := events.NewLogPublisher()

	// Config snapshot handed to components; tasks snapshot it again at
	// creation so config reloads never change in-flight downloads.
	snapshot := func() domain.Config { return *cfg.Config }

	processor := postprocess.NewProcessor(provider, cfg.GetRootFolder(), snapshot, log.Logger)

	queueManager := queue.NewManager(queue.Config{
		DirectLimit:        cfg.Config.DirectDownloadLimit,
		StallCheckInterval: time.Duration(cfg.Config.StallCheckInterval) * time.Second,
		StallTimeout:       time.Duration(cfg.Config.FailingDownloadTimeout) * time.Second,
		MaxRetries:         cfg.Config.MaxDownloadRetries,
		SeedingHandling:    cfg.Config.SeedingHandling,
	}, publisher, processor)

	queueCtx, queueCancel := context.WithCancel(context.Background())
	defer queueCancel()
	queueManager.Start(queueCtx)
	defer queueManager.Stop()

	// Search source adapters are provided by plugins of the enclosing
	// distribution; the core ships with none registered.
	orchestrator := acquisition.NewOrchestrator(
		provider,
		nil,
		acquisition.Stores{
			Blocklist:   blocklistStore,
			Preferences: preferenceStore,
			Clients:     clientStore,
			Credentials: credentialStore,
		},
		queueManager,
		publisher,
		directServices,
		snapshot,
		log.Logger,
	)

	httpServer := api.NewServer(&api.Dependencies{
		Config:          cfg,
		Orchestrator:    orchestrator,
		QueueManager:    queueManager,
		Processor:       processor,
		BlocklistStore:  blocklistStore,
		ClientStore:     clientStore,
		CredentialStore: credentialStore,
		PreferenceStore: preferenceStore,
	})

	errorChannel := make(chan error)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")

		os.Exit(1)
	}
}
