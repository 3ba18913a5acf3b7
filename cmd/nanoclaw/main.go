// Command nanoclaw is the host orchestration process: it loads config,
// opens the store, recovers unfinished work, and wires the queue,
// supervisor, scheduler, IPC watcher and chat channels together.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nanoclaw/nanoclaw/internal/bus"
	"github.com/nanoclaw/nanoclaw/internal/channels"
	"github.com/nanoclaw/nanoclaw/internal/config"
	"github.com/nanoclaw/nanoclaw/internal/containerrunner"
	"github.com/nanoclaw/nanoclaw/internal/ipc"
	"github.com/nanoclaw/nanoclaw/internal/queue"
	"github.com/nanoclaw/nanoclaw/internal/scheduler"
	"github.com/nanoclaw/nanoclaw/internal/store"
	"github.com/nanoclaw/nanoclaw/internal/supervisor"
	"github.com/nanoclaw/nanoclaw/internal/telemetry"
)

func main() {
	loadDotEnv(".env")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded")

	if cfg.OTelEnabled {
		shutdownOTel, err := telemetry.InitOTel(ctx, "nanoclaw")
		if err != nil {
			fatalStartup(logger, "E_OTEL_INIT", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				logger.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	groupsDir := filepath.Join(cfg.HomeDir, "groups")
	dataDir := cfg.HomeDir
	if err := os.MkdirAll(filepath.Join(groupsDir, cfg.MainGroupFolder), 0o755); err != nil {
		fatalStartup(logger, "E_WORKSPACE_CREATE", err)
	}
	if err := ipc.EnsureGroupDirs(dataDir, cfg.MainGroupFolder); err != nil {
		fatalStartup(logger, "E_IPC_DIR_CREATE", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "nanoclaw.db")
	st, err := store.Open(ctx, dbPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	runner, err := containerrunner.New(ctx)
	if err != nil {
		fatalStartup(logger, "E_RUNTIME_INIT", err)
	}
	if err := runner.CleanupStale(ctx); err != nil {
		logger.Warn("stale container cleanup failed", "error", err)
	}
	logger.Info("startup phase", "phase", "stale_containers_cleaned")

	eventBus := bus.New()

	q := queue.New(queue.Config{
		MaxConcurrentContainers: cfg.MaxConcurrentContainers,
		BaseRetry:               cfg.BaseRetry(),
		MaxRetries:              cfg.MaxRetries,
	}, logger, eventBus)

	secrets := map[string]string{
		"GEMINI_API_KEY": cfg.GeminiAPIKey,
		"GEMINI_MODEL":   cfg.GeminiModel,
	}

	sup, err := supervisor.New(supervisor.Config{
		Store:           st,
		Queue:           q,
		Bus:             eventBus,
		Logger:          logger,
		Runner:          runner,
		AssistantName:   cfg.AssistantName,
		MainGroupFolder: cfg.MainGroupFolder,
		BotSenderName:   cfg.AssistantName,
		PollInterval:    cfg.PollInterval(),
		GroupsDir:       groupsDir,
		DataDir:         dataDir,
		ProjectRoot:     cfg.HomeDir,
		Secrets:         secrets,
	})
	if err != nil {
		fatalStartup(logger, "E_SUPERVISOR_INIT", err)
	}

	if cfg.TelegramBotToken != "" {
		tg := channels.NewTelegramClient(cfg.TelegramBotToken, cfg.AssistantName, sup.Intake, logger)
		sup.SetOutbound(tg)
		go func() {
			if err := tg.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram channel failed", "error", err)
			}
		}()
	} else {
		logger.Warn("no telegram bot token configured; chat intake is disabled")
	}

	if err := sup.Start(ctx); err != nil {
		fatalStartup(logger, "E_SUPERVISOR_START", err)
	}
	logger.Info("startup phase", "phase", "supervisor_started")

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fatalStartup(logger, "E_CONFIG_TIMEZONE", err)
	}
	sched := scheduler.New(scheduler.Config{
		Store:         st,
		Logger:        logger,
		Bus:           eventBus,
		Interval:      cfg.SchedulerTick(),
		Timezone:      tz,
		Dispatch:      sup.DispatchScheduledTask,
		SessionLookup: st.SessionID,
	})
	sched.Start(ctx)
	logger.Info("startup phase", "phase", "scheduler_started")

	resolver := supervisor.GroupResolver{Store: st, MainGroupFolder: cfg.MainGroupFolder}
	watcher := ipc.New(ipc.Config{
		DataDir:      dataDir,
		PollInterval: cfg.IPCPollInterval(),
		Resolver:     resolver,
		Handlers:     supervisor.NewIPCHandlers(sup),
		Bus:          eventBus,
		Logger:       logger,
	})
	watcher.Start(ctx)
	logger.Info("startup phase", "phase", "ipc_watcher_started")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Stop()
	watcher.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	sup.Shutdown(shutdownCtx, cfg.ShutdownGrace())

	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano), reasonCode, message)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}
