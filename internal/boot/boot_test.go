package boot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/fpang/media-relay/internal/config"
	"github.com/fpang/media-relay/internal/dedup"
)

type fakeSSM struct {
	values map[string]string
	asked  *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.asked = in
	v, ok := f.values[*in.Name]
	if !ok {
		return nil, errors.New("ParameterNotFound")
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: aws.String(v)}}, nil
}

func TestLoadBotToken(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/media-relay/prod/bot-token": "123:abc"}}

	token, err := LoadBotToken(context.Background(), client, "/media-relay/prod/bot-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "123:abc" {
		t.Errorf("unexpected token %q", token)
	}
	if !aws.ToBool(client.asked.WithDecryption) {
		t.Error("token must be read with decryption")
	}
}

func TestLoadBotToken_Errors(t *testing.T) {
	client := &fakeSSM{values: map[string]string{"/empty": ""}}

	if _, err := LoadBotToken(context.Background(), client, "/missing"); err == nil {
		t.Error("expected error for missing parameter")
	}
	if _, err := LoadBotToken(context.Background(), client, "/empty"); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Errorf("expected empty parameter error, got %v", err)
	}
}

func TestNeedsAWS(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   bool
	}{
		{"local only", func(c *config.Config) {}, false},
		{"token from SSM", func(c *config.Config) { c.TokenSSMParam = "/p" }, true},
		{"token given directly", func(c *config.Config) { c.TokenSSMParam = "/p"; c.BotToken = "1:x" }, false},
		{"dynamodb backend", func(c *config.Config) { c.DedupBackend = config.BackendDynamoDB }, true},
		{"archive", func(c *config.Config) { c.ArchiveBucket = "b" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(&c)
			if got := NeedsAWS(c); got != tt.want {
				t.Errorf("NeedsAWS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDedupStore(t *testing.T) {
	ctx := context.Background()

	c := config.Default()
	s, err := NewDedupStore(ctx, c, aws.Config{})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := s.(*dedup.MemoryStore); !ok {
		t.Errorf("expected memory store, got %T", s)
	}

	c.DedupBackend = config.BackendDuckDB
	c.DuckDBPath = ":memory:"
	s, err = NewDedupStore(ctx, c, aws.Config{})
	if err != nil {
		t.Fatalf("duckdb: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*dedup.DuckStore); !ok {
		t.Errorf("expected duckdb store, got %T", s)
	}

	c.DedupBackend = config.BackendDynamoDB
	c.DedupTable = "relay-dedup"
	s, err = NewDedupStore(ctx, c, aws.Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("dynamodb: %v", err)
	}
	if _, ok := s.(*dedup.DynamoStore); !ok {
		t.Errorf("expected dynamodb store, got %T", s)
	}

	c.DedupBackend = "etcd"
	if _, err := NewDedupStore(ctx, c, aws.Config{}); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestStartupLog(t *testing.T) {
	if StartupLog("media-relay", time.Now()) == nil {
		t.Fatal("expected a startup logger")
	}
}
