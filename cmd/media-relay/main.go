package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fpang/media-relay/internal/config"
	"github.com/fpang/media-relay/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:   "media-relay",
	Short: "Relay media from Telegram chats into one target chat",
	Long: `Media Relay receives photos, videos, animations, documents and audio
sent to the bot, waits for each album to finish arriving, drops anything
already posted, and re-sends the rest to the target chat in message order.

Every flag defaults from a RELAY_* environment variable.

Examples:
  media-relay poll --token-file API_TOKEN.txt --target-file TARGET_CHAT_ID.txt
  media-relay serve --target @my_channel --webhook-url https://relay.example.com/telegram/webhook
  media-relay poll --dedup-backend dynamodb --dedup-table media-relay-dedup`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.BotToken, "token", os.Getenv("RELAY_BOT_TOKEN"), "Bot API token")
	f.StringVar(&cfg.TokenFile, "token-file", os.Getenv("RELAY_TOKEN_FILE"), "File holding the bot token")
	f.StringVar(&cfg.TokenSSMParam, "token-ssm-param", os.Getenv("RELAY_SSM_TOKEN_PARAM"), "SSM parameter holding the bot token")
	f.StringVar(&cfg.TargetChat, "target", os.Getenv("RELAY_TARGET_CHAT"), "Target chat id or @channel username")
	f.StringVar(&cfg.TargetFile, "target-file", os.Getenv("RELAY_TARGET_FILE"), "File holding the target chat")

	f.DurationVar(&cfg.GraceWindow, "grace-window", config.DurationEnv("RELAY_GRACE_WINDOW", cfg.GraceWindow), "Quiet period before an album is flushed")
	f.DurationVar(&cfg.RecheckDelay, "recheck-delay", config.DurationEnv("RELAY_RECHECK_DELAY", cfg.RecheckDelay), "Retry delay while downloads are pending")
	f.IntVar(&cfg.DownloadWorkers, "download-workers", config.IntEnv("RELAY_DOWNLOAD_WORKERS", cfg.DownloadWorkers), "Concurrent file downloads")
	f.DurationVar(&cfg.FetchTimeout, "fetch-timeout", config.DurationEnv("RELAY_FETCH_TIMEOUT", cfg.FetchTimeout), "Deadline for one file download")

	f.StringVar(&cfg.DedupBackend, "dedup-backend", logging.EnvOrDefault("RELAY_DEDUP_BACKEND", cfg.DedupBackend), "Dedup store: memory, duckdb, dynamodb or redis")
	f.StringVar(&cfg.DedupTable, "dedup-table", os.Getenv("RELAY_DEDUP_TABLE"), "DynamoDB table for the dynamodb backend")
	f.StringVar(&cfg.DuckDBPath, "duckdb-path", logging.EnvOrDefault("RELAY_DUCKDB_PATH", cfg.DuckDBPath), "Database file for the duckdb backend")
	f.StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("RELAY_REDIS_ADDR"), "host:port for the redis backend")

	f.StringVar(&cfg.ArchiveBucket, "archive-bucket", os.Getenv("RELAY_ARCHIVE_BUCKET"), "S3 bucket for compressed copies of delivered files (optional)")
	f.StringVar(&cfg.APIEndpoint, "api-endpoint", os.Getenv("RELAY_API_ENDPOINT"), "Bot API endpoint format, for a self-hosted Bot API server")
	f.StringVar(&cfg.FileEndpoint, "file-endpoint", os.Getenv("RELAY_FILE_ENDPOINT"), "Bot API file endpoint format")
	f.BoolVar(&cfg.Metrics, "metrics", config.BoolEnv("RELAY_METRICS", false), "Write CloudWatch EMF metrics to stdout")

	s := serveCmd.Flags()
	s.StringVar(&cfg.WebhookAddr, "addr", logging.EnvOrDefault("RELAY_WEBHOOK_ADDR", ":8080"), "Listen address")
	s.StringVar(&cfg.WebhookPath, "webhook-path", logging.EnvOrDefault("RELAY_WEBHOOK_PATH", cfg.WebhookPath), "Path Telegram posts updates to")
	s.StringVar(&cfg.WebhookURL, "webhook-url", os.Getenv("RELAY_WEBHOOK_URL"), "Public https URL to register with setWebhook (optional)")
	s.StringVar(&cfg.WebhookSecret, "webhook-secret", os.Getenv("RELAY_WEBHOOK_SECRET"), "Secret token Telegram must echo on every request")

	rootCmd.AddCommand(pollCmd, serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
