// Command gateway runs the unified LLM provider gateway.
//
// One running instance fronts exactly one upstream provider. The provider
// type and its config are selected at startup; every canonical endpoint is
// translated to that provider's wire protocol.
//
// # Configuration
//
// Environment variables:
//
//	PROVIDER_TYPE     - anthropic | openai | google (default: "anthropic")
//	CONFIG_PATH       - provider YAML (default: "/config/anthropic.yaml")
//	INSTANCE_CONFIG   - instance YAML (default: "/config/instance.yaml")
//	LISTEN_ADDR       - HTTP listen address (default: ":8000")
//	LOG_DIR           - dialog log directory (default: "/data")
//	DATA_DIR          - SQLite data directory (default: "/data")
//	DATABASE_URL      - costs DB URL, overrides the instance YAML
//	ANTHROPIC_API_KEY / OPENAI_API_KEY / GOOGLE_API_KEY
//
// # Example
//
//	PROVIDER_TYPE=openai CONFIG_PATH=./config/openai.yaml \
//	OPENAI_API_KEY=sk-... go run ./cmd/gateway
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goa.design/clue/log"

	"github.com/cuber-it/heinzel-ki/config"
	"github.com/cuber-it/heinzel-ki/costs"
	"github.com/cuber-it/heinzel-ki/dialog"
	"github.com/cuber-it/heinzel-ki/gateway"
	"github.com/cuber-it/heinzel-ki/ingest"
	"github.com/cuber-it/heinzel-ki/provider"
	"github.com/cuber-it/heinzel-ki/provider/anthropic"
	"github.com/cuber-it/heinzel-ki/provider/google"
	"github.com/cuber-it/heinzel-ki/provider/openai"
	"github.com/cuber-it/heinzel-ki/retention"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if err := run(ctx); err != nil {
		log.Errorf(ctx, err, "gateway exited")
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadProvider("")
	if err != nil {
		return err
	}
	instance, err := config.LoadInstance("")
	if err != nil {
		return err
	}

	providerType := envOr("PROVIDER_TYPE", config.ProviderAnthropic)
	if err := instance.CheckAPIKey(providerType); err != nil {
		return err
	}

	logDir := config.LogDir()
	dataDir := envOr("DATA_DIR", "/data")
	policy := instance.RetentionPolicy()

	store, err := costs.Open(ctx, instance.DatabaseURL(dataDir))
	if err != nil {
		return fmt.Errorf("open costs store: %w", err)
	}
	defer store.Close()

	dlg := dialog.NewLogger(cfg.Name, logDir, instance.LogRequestsEnabled())
	defer dlg.Close()

	files := ingest.NewProcessor()

	opts := []provider.Option{
		provider.WithDialogLogger(dlg),
		provider.WithCostStore(store),
		provider.WithIngest(files),
	}
	p, err := buildProvider(providerType, cfg, instance.APIKey(providerType), opts)
	if err != nil {
		return err
	}
	p.Connect()
	defer p.Disconnect()
	log.Printf(ctx, "provider started: %s dialog_logging=%t", p.Name(), dlg.Enabled())

	// Startup retention sweep, then the HTTP surface takes over.
	logResult := retention.SweepLogs(ctx, logDir, policy)
	dbResult := retention.SweepCosts(ctx, store, policy)
	log.Printf(ctx, "retention sweep: compressed=%d deleted=%d freed_mb=%.2f db_deleted=%d",
		logResult.Compressed, logResult.Deleted, logResult.FreedMB, dbResult.Deleted)

	srv := gateway.New(p,
		gateway.WithCostStore(store),
		gateway.WithRetention(policy),
		gateway.WithLogDir(logDir),
		gateway.WithIngest(files),
	)
	addr := envOr("LISTEN_ADDR", ":8000")
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Routes(log.HTTP(ctx)),
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf(ctx, "listening on %s", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-sigCtx.Done():
		log.Printf(ctx, "shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

// buildProvider instantiates the adapter for the configured provider type.
func buildProvider(providerType string, cfg *config.Provider, apiKey string, opts []provider.Option) (provider.Provider, error) {
	switch providerType {
	case config.ProviderAnthropic:
		return anthropic.New(cfg, apiKey, opts...), nil
	case config.ProviderOpenAI:
		return openai.New(cfg, apiKey, opts...), nil
	case config.ProviderGoogle:
		return google.New(cfg, apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", providerType)
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
