package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/engine"
	"github.com/chorale-dev/chorale/internal/natsbus"
	"github.com/chorale-dev/chorale/internal/notify"
	"github.com/chorale-dev/chorale/internal/registry"
	"github.com/chorale-dev/chorale/internal/scheduler"
	"github.com/chorale-dev/chorale/internal/status"
	"github.com/chorale-dev/chorale/internal/store"
	"github.com/chorale-dev/chorale/internal/tools"
	"github.com/chorale-dev/chorale/internal/vault"
	"github.com/chorale-dev/chorale/internal/web"
)

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting chorale", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// Credential resolution for tool providers. Without a passphrase,
	// vault:<name> references in tool configs are rejected at startup.
	var creds tools.CredentialResolver
	if cfg.Vault.Passphrase != "" {
		creds = vault.NewKeeper(cfg.Vault.Passphrase, db)
		slog.Info("vault unlocked")
	}

	// Tool providers
	toolClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("tools bus client: %w", err)
	}
	defer toolClient.Close()

	toolReg, err := tools.BuildRegistry(cfg.Tools, toolClient, creds)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	ensureInferProvider(toolReg, cfg.Engine.InferTool)

	// Per-tenant tool policies
	acl := tools.NewAccessController()
	if err := loadPolicies(ctx, acl, cfg.Tenants); err != nil {
		return err
	}

	// Status events
	statusClient, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("status bus client: %w", err)
	}
	defer statusClient.Close()
	bc := status.NewBroadcaster(statusClient)
	defer bc.Close()

	// Playbook registry
	reg := registry.New(db, cfg)
	if err := reg.Sync(ctx); err != nil {
		return fmt.Errorf("sync playbook registry: %w", err)
	}

	// Job engine
	inv := agent.NewInvoker(toolReg, acl, bc, cfg.Engine)
	orch := engine.New(reg, inv, bc, db, db, *cfg)

	// Scheduler
	sched := scheduler.New(db, orch, cfg.Scheduler.PollInterval)
	if cfg.Scheduler.Enabled {
		go sched.Start(ctx)
		slog.Info("scheduler started")
	}

	// Telegram notifier
	if cfg.Notify.TelegramToken != "" && cfg.Notify.ChatID != 0 {
		ntf, err := notify.New(cfg.Notify, bus)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		go func() {
			if err := ntf.Start(ctx); err != nil {
				slog.Error("notifier error", "error", err)
			}
		}()
	} else {
		slog.Warn("telegram not configured, notifier disabled")
	}

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, bus, orch, reg, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Config hot reload
	onReload := func(next *config.Config, diff config.ConfigDiff) {
		if diff.ToolsChanged {
			rebuilt, err := tools.BuildRegistry(next.Tools, toolClient, creds)
			if err != nil {
				slog.Error("tool registry rebuild failed, keeping previous", "error", err)
			} else {
				toolReg.Swap(rebuilt)
				slog.Info("tool providers reloaded")
			}
		}
		ensureInferProvider(toolReg, next.Engine.InferTool)

		for _, tenantID := range diff.TenantsChanged {
			tc, ok := next.Tenants[tenantID]
			if !ok || tc.PolicyFile == "" {
				acl.DropTenantPolicy(tenantID)
				continue
			}
			if err := acl.LoadTenantPolicyFile(ctx, tenantID, tc.PolicyFile); err != nil {
				slog.Error("tenant policy reload failed, keeping previous",
					"tenant", tenantID, "error", err)
			}
		}

		reg.UpdateConfig(next)
		if err := reg.Sync(ctx); err != nil {
			slog.Error("registry sync failed after reload", "error", err)
		}

		inv.UpdateConfig(next.Engine)
		orch.UpdateConfig(*next)
		if diff.SchedulerChanged {
			sched.UpdateInterval(diff.NewScheduler.PollInterval)
		}
	}
	if err := config.Watch(ctx, config.Path(), cfg, onReload); err != nil {
		slog.Warn("config watcher not installed", "error", err)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// ensureInferProvider keeps the engine's inference tool resolvable, binding
// the deterministic stub when the config leaves it without a provider.
func ensureInferProvider(reg *tools.Registry, tool string) {
	if tool == "" {
		tool = "infer"
	}
	if _, ok := reg.Lookup(tool); !ok {
		slog.Warn("inference tool has no provider, using stub", "tool", tool)
		reg.Register(tool, tools.NewStubProvider())
	}
}

func loadPolicies(ctx context.Context, acl *tools.AccessController, tenants map[string]config.TenantConfig) error {
	for tenantID, tc := range tenants {
		if tc.PolicyFile == "" {
			continue
		}
		if err := acl.LoadTenantPolicyFile(ctx, tenantID, tc.PolicyFile); err != nil {
			return fmt.Errorf("load policy for tenant %s: %w", tenantID, err)
		}
	}
	return nil
}
