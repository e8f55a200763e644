// cmis-browserd serves an in-memory CMIS repository over the browser
// binding (/browser), the XML binding (/atom) and the RPC envelope binding
// (/rpc). Prometheus metrics are exposed on /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ggoodman/cmis-bindings-go/auth"
	"github.com/ggoodman/cmis-bindings-go/binding/restxml"
	"github.com/ggoodman/cmis-bindings-go/binding/rpcstub"
	"github.com/ggoodman/cmis-bindings-go/browser"
	"github.com/ggoodman/cmis-bindings-go/internal/logctx"
	"github.com/ggoodman/cmis-bindings-go/internal/metrics"
	"github.com/ggoodman/cmis-bindings-go/repository/memrepo"
	"github.com/ggoodman/cmis-bindings-go/storage"
	"github.com/ggoodman/cmis-bindings-go/storage/memory"
	redisstore "github.com/ggoodman/cmis-bindings-go/storage/redis"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(logctx.Handler{Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	authn, err := authenticator(ctx, cfg)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := memrepo.New(cfg.Repository, store, memrepo.WithLogger(log), memrepo.WithMaxContentSize(cfg.MaxContent))

	browserOpts := []browser.Option{
		browser.WithLogger(log),
		browser.WithMetrics(m),
		browser.WithChunkSize(cfg.ChunkSize),
	}
	rpcOpts := []rpcstub.ServerOption{rpcstub.WithServerLogger(log)}
	if authn != nil {
		browserOpts = append(browserOpts, browser.WithAuthenticator(authn))
		rpcOpts = append(rpcOpts, rpcstub.WithCredentialCheck(tokenCredentials(authn)))
	}

	mux := http.NewServeMux()
	mux.Handle("/browser/", http.StripPrefix("/browser", gzhttp.GzipHandler(browser.New(repo, browserOpts...))))
	mux.Handle("/atom/", http.StripPrefix("/atom", restxml.NewServer(repo, restxml.WithServerLogger(log), restxml.WithServerMetrics(m))))
	mux.Handle("/rpc", rpcstub.NewServer(repo, rpcOpts...))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("server.listen", slog.String("addr", cfg.Addr), slog.String("repository", cfg.Repository), slog.String("store", cfg.Store))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("server.shutdown")
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *serverConfig) (storage.Storage, error) {
	if cfg.Store == "memory" {
		// The memory store is the only copy of the content.
		return memory.New(cfg.MaxBlobs, memory.WithoutEviction())
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return redisstore.New(redisstore.Config{Client: client, KeyPrefix: "cmisd:content:"})
}

// authenticator picks the token validation strategy: a shared secret, a
// static JWKS, or OIDC discovery against the issuer. Without an issuer the
// server runs unauthenticated.
func authenticator(ctx context.Context, cfg *serverConfig) (auth.Authenticator, error) {
	if cfg.Issuer == "" {
		return nil, nil
	}
	opts := []auth.AccessTokenAuthOption{auth.WithLeeway(cfg.Leeway)}
	switch {
	case cfg.Secret != "":
		return auth.NewSharedSecret(cfg.Issuer, cfg.Audience, []byte(cfg.Secret), opts...)
	case cfg.JWKSURL != "":
		return auth.NewFromJWKS(ctx, cfg.Issuer, cfg.Audience, cfg.JWKSURL, opts...)
	default:
		return auth.NewFromDiscovery(ctx, cfg.Issuer, cfg.Audience, opts...)
	}
}

// tokenCredentials accepts envelope credentials whose password is a bearer
// token issued to the named user.
func tokenCredentials(authn auth.Authenticator) rpcstub.CredentialCheck {
	return func(ctx context.Context, username, password string) bool {
		ui, err := authn.CheckAuthentication(ctx, password)
		return err == nil && ui.UserID() == username
	}
}
