// Package boot wires the relay's external dependencies from a Config.
//
// Every command needs some subset of: AWS config, SSM parameter fetch, a
// dedup store, the payload archive, and startup logging. This package keeps
// those init patterns together so the command's setup is a short
// composition of helpers.
package boot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/media-relay/internal/archive"
	"github.com/fpang/media-relay/internal/config"
	"github.com/fpang/media-relay/internal/dedup"
	"github.com/fpang/media-relay/internal/logging"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// ParameterGetter is the subset of the SSM client used to read secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NeedsAWS reports whether any configured feature talks to AWS.
func NeedsAWS(cfg config.Config) bool {
	return cfg.BotToken == "" && cfg.TokenSSMParam != "" ||
		cfg.DedupBackend == config.BackendDynamoDB ||
		cfg.ArchiveBucket != ""
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// LoadBotToken fetches the bot token from SSM Parameter Store.
func LoadBotToken(ctx context.Context, client ParameterGetter, param string) (string, error) {
	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &param,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read bot token from SSM %s: %w", param, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("SSM parameter %s is empty", param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(ssmStart)).Msg("Bot token loaded from SSM")
	return *result.Parameter.Value, nil
}

// NewDedupStore opens the store selected by cfg.DedupBackend. awsCfg is
// only read for the dynamodb backend.
func NewDedupStore(ctx context.Context, cfg config.Config, awsCfg aws.Config) (dedup.Store, error) {
	switch cfg.DedupBackend {
	case config.BackendMemory, "":
		log.Warn().Msg("In-memory dedup store, history is lost on restart")
		return dedup.NewMemoryStore(), nil
	case config.BackendDuckDB:
		s, err := dedup.OpenDuckStore(cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", cfg.DuckDBPath).Msg("DuckDB dedup store opened")
		return s, nil
	case config.BackendDynamoDB:
		if cfg.DedupTable == "" {
			return nil, errors.New("dynamodb backend requires a table name")
		}
		return dedup.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DedupTable), nil
	case config.BackendRedis:
		return dedup.NewRedisStore(ctx, cfg.RedisAddr)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.DedupBackend)
	}
}

// InitArchive creates the S3 payload archive for bucket.
func InitArchive(awsCfg aws.Config, bucket string) (*archive.S3Archiver, error) {
	return archive.NewS3Archiver(s3.NewFromConfig(awsCfg), bucket)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
