package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/media-relay/internal/archive"
	"github.com/fpang/media-relay/internal/boot"
	"github.com/fpang/media-relay/internal/bot"
	"github.com/fpang/media-relay/internal/config"
	"github.com/fpang/media-relay/internal/fetch"
	"github.com/fpang/media-relay/internal/logging"
	"github.com/fpang/media-relay/internal/metrics"
	"github.com/fpang/media-relay/internal/relay"
	"github.com/fpang/media-relay/internal/telegram"
)

// app is the wired relay shared by the poll and serve commands.
type app struct {
	client     *telegram.Client
	downloader interface{ Close() }
	engine     interface{ Close() error }
	dispatcher *bot.Dispatcher
	archiver   *archive.S3Archiver
	startup    *logging.StartupLogger
}

func setup(ctx context.Context, mode string) (*app, error) {
	initStart := time.Now()

	if err := cfg.ResolveFiles(); err != nil {
		return nil, err
	}

	var awsClients boot.AWSClients
	if boot.NeedsAWS(cfg) {
		var err error
		if awsClients, err = boot.InitAWS(ctx); err != nil {
			return nil, err
		}
	}
	if cfg.BotToken == "" && cfg.TokenSSMParam != "" {
		token, err := boot.LoadBotToken(ctx, awsClients.SSM, cfg.TokenSSMParam)
		if err != nil {
			return nil, err
		}
		cfg.BotToken = token
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}

	target, err := telegram.ParseTarget(cfg.TargetChat)
	if err != nil {
		return nil, err
	}
	client, err := telegram.New(cfg.BotToken, target, telegram.Options{
		APIEndpoint:  cfg.APIEndpoint,
		FileEndpoint: cfg.FileEndpoint,
	})
	if err != nil {
		return nil, err
	}

	store, err := boot.NewDedupStore(ctx, cfg, awsClients.Config)
	if err != nil {
		return nil, fmt.Errorf("open dedup store: %w", err)
	}

	a := &app{client: client}
	opts := relay.Options{
		GraceWindow:  cfg.GraceWindow,
		RecheckDelay: cfg.RecheckDelay,
	}
	if cfg.Metrics {
		opts.Metrics = metrics.NewSink(os.Stdout, metrics.Namespace, "media-relay")
	}
	if cfg.ArchiveBucket != "" {
		if a.archiver, err = boot.InitArchive(awsClients.Config, cfg.ArchiveBucket); err != nil {
			store.Close()
			return nil, err
		}
		opts.Archiver = a.archiver
	}

	downloader := fetch.New(client, fetch.Options{
		Workers: cfg.DownloadWorkers,
		Timeout: cfg.FetchTimeout,
	})
	engine := relay.New(downloader, store, client, client, opts)
	a.downloader, a.engine = downloader, engine
	a.dispatcher = bot.NewDispatcher(engine, client, client.BotName())

	a.startup = boot.StartupLog("media-relay", initStart).
		Version(version).
		Mode(mode).
		Feature("archive", cfg.ArchiveBucket != "").
		Feature("metrics", cfg.Metrics).
		Config("target", target.String()).
		Config("dedupBackend", cfg.DedupBackend).
		Config("graceWindow", cfg.GraceWindow.String()).
		Config("recheckDelay", cfg.RecheckDelay.String()).
		Config("downloadWorkers", strconv.Itoa(cfg.DownloadWorkers)).
		Config("fetchTimeout", cfg.FetchTimeout.String())
	if cfg.DedupTable != "" {
		a.startup.DynamoTable("dedup", cfg.DedupTable)
	}
	if cfg.ArchiveBucket != "" {
		a.startup.S3Bucket("archive", cfg.ArchiveBucket)
	}
	if cfg.TokenSSMParam != "" {
		a.startup.SSMParam("botToken", cfg.TokenSSMParam)
	}
	switch cfg.DedupBackend {
	case config.BackendDuckDB:
		a.startup.Path("duckdb", cfg.DuckDBPath)
	case config.BackendRedis:
		a.startup.Path("redis", cfg.RedisAddr)
	}
	return a, nil
}

// shutdown releases everything in dependency order. Open albums are dropped.
// The engine closes before the downloader so canceled fetches cannot settle
// an album and let a partial flush through.
func (a *app) shutdown() {
	start := time.Now()
	if err := a.engine.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close engine")
	}
	a.downloader.Close()
	a.dispatcher.Wait()
	if a.archiver != nil {
		a.archiver.Close()
	}
	log.Info().Dur("duration", time.Since(start)).Msg("Relay stopped")
}
