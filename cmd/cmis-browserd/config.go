package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/spf13/pflag"
)

type serverConfig struct {
	Addr       string        `env:"CMISD_ADDR,default=127.0.0.1:8080"`
	Repository string        `env:"CMISD_REPOSITORY,default=repo"`
	Store      string        `env:"CMISD_STORE,default=memory"`
	MaxBlobs   int           `env:"CMISD_MAX_BLOBS,default=1024"`
	MaxContent int64         `env:"CMISD_MAX_CONTENT,default=67108864"`
	RedisAddr  string        `env:"REDIS_ADDR"`
	Issuer     string        `env:"CMISD_ISSUER"`
	Audience   string        `env:"CMISD_AUDIENCE,default=cmis"`
	JWKSURL    string        `env:"CMISD_JWKS_URL"`
	Secret     string        `env:"CMISD_SECRET"`
	Leeway     time.Duration `env:"CMISD_LEEWAY,default=1m"`
	ChunkSize  int           `env:"CMISD_CHUNK_SIZE,default=65536"`
	Debug      bool          `env:"CMISD_DEBUG"`
}

// loadConfig reads the environment, then lets command-line flags override
// individual values.
func loadConfig(args []string) (*serverConfig, error) {
	var cfg serverConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	fs := pflag.NewFlagSet("cmis-browserd", pflag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Repository, "repository", cfg.Repository, "repository id served")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "content store: memory or redis")
	fs.IntVar(&cfg.MaxBlobs, "max-blobs", cfg.MaxBlobs, "content blobs the memory store holds before refusing new content")
	fs.Int64Var(&cfg.MaxContent, "max-content", cfg.MaxContent, "largest content stream accepted, in bytes")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the redis store")
	fs.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "token issuer; enables bearer authentication")
	fs.StringVar(&cfg.Audience, "audience", cfg.Audience, "expected token audience")
	fs.StringVar(&cfg.JWKSURL, "jwks-url", cfg.JWKSURL, "JWKS url; without it and without --secret, keys come from OIDC discovery")
	fs.StringVar(&cfg.Secret, "secret", cfg.Secret, "HMAC secret for locally signed tokens")
	fs.DurationVar(&cfg.Leeway, "leeway", cfg.Leeway, "clock skew tolerated when validating tokens")
	fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "relay buffer size for content responses")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.Store {
	case "memory", "redis":
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.Store == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("the redis store needs --redis-addr or REDIS_ADDR")
	}
	return &cfg, nil
}
