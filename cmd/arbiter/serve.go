package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viasnake/arbiter/internal/audit"
	"github.com/viasnake/arbiter/internal/authz"
	"github.com/viasnake/arbiter/internal/config"
	"github.com/viasnake/arbiter/internal/gate"
	"github.com/viasnake/arbiter/internal/httpapi"
	"github.com/viasnake/arbiter/internal/pipeline"
	"github.com/viasnake/arbiter/internal/planner"
	"github.com/viasnake/arbiter/internal/store"
	"github.com/viasnake/arbiter/internal/store/memory"
	"github.com/viasnake/arbiter/internal/store/sqlitestore"
	"github.com/viasnake/arbiter/internal/telemetry"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *configPath == "" {
		fmt.Fprintln(stderr, "serve: --config is required")
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telem, err := telemetry.New(ctx, telemetry.Config{ServiceName: "arbiter"})
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = telem.Shutdown(shutdownCtx)
	}()

	st, err := buildStore(cfg.Store)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	if closer, ok := st.(io.Closer); ok {
		defer closer.Close()
	}

	auditWriter, err := audit.NewWriter(cfg.Audit.JSONLPath, cfg.Audit.ImmutableMirrorPath, nil)
	if err != nil {
		fmt.Fprintf(stderr, "serve: %v\n", err)
		return 1
	}
	defer auditWriter.Close()

	p := &pipeline.Pipeline{
		Store:     st,
		Audit:     auditWriter,
		Authz:     buildAuthzClient(cfg.Authz),
		Telemetry: telem,
		Config: pipeline.Config{
			Gate: gate.Config{
				CooldownMS:            cfg.Gate.CooldownMS,
				MaxQueue:              cfg.Gate.MaxQueue,
				TenantRateLimitPerMin: cfg.Gate.TenantRateLimitPerMin,
			},
			Planner: pipeline.PlannerConfig{
				Config: planner.Config{
					ReplyPolicy:      planner.ReplyPolicy(cfg.Planner.ReplyPolicy),
					ReplyProbability: cfg.Planner.ReplyProbability,
				},
				ApprovalTimeoutMS:           cfg.Planner.ApprovalTimeoutMS,
				ApprovalEscalationOnExpired: cfg.Planner.ApprovalEscalationOnExpired,
			},
			Policy: pipeline.PolicyConfig{
				AllowedProviders:   cfg.Policy.AllowedProviders,
				AllowedActionTypes: cfg.Policy.AllowedActionTypes,
			},
			IncludeAuthzDecision: cfg.Audit.IncludeAuthzDecision,
		},
	}

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: (&httpapi.Server{Pipeline: p}).Handler(),
	}

	serveErr := make(chan error, 1)
	go func() {
		telem.Logger.Info("listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		telem.Logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(stderr, "serve: graceful shutdown: %v\n", err)
			return 1
		}
		return 0
	case err := <-serveErr:
		if err != nil {
			fmt.Fprintf(stderr, "serve: %v\n", err)
			return 1
		}
		return 0
	}
}

func buildStore(sc config.StoreConfig) (store.Store, error) {
	switch sc.Type {
	case "sqlite":
		return sqlitestore.Open(sc.SQLitePath)
	default:
		return memory.New(), nil
	}
}

func buildAuthzClient(ac config.AuthzConfig) authz.Client {
	return authz.New(ac.Mode, authz.ExternalConfig{
		Endpoint:               ac.Endpoint,
		Timeout:                time.Duration(ac.TimeoutMS) * time.Millisecond,
		FailMode:               authz.FailMode(ac.FailMode),
		RetryMaxAttempts:       ac.RetryMaxAttempts,
		RetryBackoff:           time.Duration(ac.RetryBackoffMS) * time.Millisecond,
		CircuitBreakerFailures: ac.CircuitBreakerFailures,
		CircuitBreakerOpenFor:  time.Duration(ac.CircuitBreakerOpenMS) * time.Millisecond,
		CacheEnabled:           ac.Cache.Enabled,
		CacheTTL:               time.Duration(ac.Cache.TTLMS) * time.Millisecond,
		CacheMaxEntries:        ac.Cache.MaxEntries,
	})
}
