// Package container provides dependency injection and lifecycle management
// for the Digital FTE engine.
package container

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/executor"
	"github.com/garyjia/digital-fte/internal/application/health"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/service"
	"github.com/garyjia/digital-fte/internal/application/watcher"
	"github.com/garyjia/digital-fte/internal/application/workflow"
	"github.com/garyjia/digital-fte/internal/config"
	"github.com/garyjia/digital-fte/internal/domain/policy"
	infraLark "github.com/garyjia/digital-fte/internal/infrastructure/external/lark"
	"github.com/garyjia/digital-fte/internal/infrastructure/external/openai"
	"github.com/garyjia/digital-fte/internal/infrastructure/external/ses"
	"github.com/garyjia/digital-fte/internal/infrastructure/inbox"
	"github.com/garyjia/digital-fte/internal/infrastructure/storage"
	httpapi "github.com/garyjia/digital-fte/internal/interfaces/http"
	"github.com/garyjia/digital-fte/pkg/database"
)

// LarkBundle holds all Lark-related components. Nil when Lark is not configured.
type LarkBundle struct {
	Client    *infraLark.SDKClient
	Messenger *infraLark.Messenger
}

// ProvideDatabase opens the sqlite database and applies pending migrations.
func ProvideDatabase(cfg *config.DatabaseConfig, logger *zap.Logger) (*database.DB, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(&zapLoggerAdapter{logger: logger.Named("dispatcher")}),
	), nil
}

// ProvideOracle creates the OpenAI-backed decision oracle.
func ProvideOracle(cfg *config.OracleConfig, logger *zap.Logger) (port.Oracle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("oracle config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle.api_key is required")
	}

	prompts := openai.DefaultPrompts()
	if cfg.PromptsPath != "" {
		loaded, err := openai.LoadPrompts(cfg.PromptsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompts: %w", err)
		}
		prompts = loaded
	}

	return openai.NewOracle(openai.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Prompts: prompts,
	}, logger.Named("oracle")), nil
}

// ProvideLark creates the Lark client and messenger, or nil when Lark
// credentials are absent.
func ProvideLark(cfg *config.LarkConfig, logger *zap.Logger) *LarkBundle {
	if cfg == nil || !cfg.Enabled() {
		return nil
	}

	larkCfg := infraLark.Config{
		AppID:               cfg.AppID,
		AppSecret:           cfg.AppSecret,
		ChatID:              cfg.ChatID,
		NotifyReceiveID:     cfg.NotifyReceiveID,
		NotifyReceiveIDType: cfg.NotifyReceiveIDType,
	}
	client := infraLark.NewSDKClient(larkCfg, logger.Named("lark"))
	return &LarkBundle{
		Client:    client,
		Messenger: infraLark.NewMessenger(client, larkCfg, logger.Named("lark")),
	}
}

// ExecutorDeps holds what the connectors need.
type ExecutorDeps struct {
	Config    *config.Config
	VaultRoot string
	Lark      *LarkBundle
	Logger    *zap.Logger
}

// ProvideExecutor creates the action executor and registers a connector per
// configured action family.
func ProvideExecutor(ctx context.Context, deps *ExecutorDeps) (*executor.Executor, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("executor dependencies are required")
	}
	logger := deps.Logger.Named("executor")
	exec := executor.New(deps.Config.Executor.Timeout, logger)

	sandbox := storage.NewSandbox(filepath.Join(deps.VaultRoot, storage.FilesFolder), logger)
	exec.Register("file_", "vault-files", storage.NewFileConnector(sandbox, logger))

	if deps.Config.Email.Enabled() {
		conn, err := ses.NewConnector(ctx, ses.Config{
			Region:      deps.Config.Email.Region,
			FromAddress: deps.Config.Email.FromAddress,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create email connector: %w", err)
		}
		exec.Register("email_", "ses", conn)
	}

	if deps.Lark != nil {
		exec.Register("lark_", "lark", deps.Lark.Messenger)
	}

	return exec, nil
}

// WatcherDeps holds dependencies required for creating watchers.
type WatcherDeps struct {
	Config    *config.Config
	VaultRoot string
	Runner    watcher.Deps
	Lark      *LarkBundle
	Logger    *zap.Logger
}

// ProvideWatchers creates a runner per enabled source.
func ProvideWatchers(deps *WatcherDeps) (*watcher.Registry, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("watcher dependencies are required")
	}
	wc := deps.Config.Watchers
	registry := watcher.NewRegistry()

	runnerCfg := func(poll time.Duration) watcher.Config {
		cfg := watcher.DefaultConfig()
		cfg.CycleTimeout = wc.CycleTimeout
		cfg.InitTimeout = wc.InitTimeout
		cfg.BaseBackoff = wc.BaseBackoff
		cfg.MaxBackoff = wc.MaxBackoff
		cfg.MaxConsecutiveFailures = wc.MaxConsecutiveFailures
		if poll > 0 {
			cfg.PollInterval = poll
		}
		return cfg
	}

	if wc.Inbox.Enabled {
		source := inbox.NewSource(
			filepath.Join(deps.VaultRoot, storage.InboxFolder),
			deps.Logger.Named("inbox"),
			inbox.WithRescanInterval(wc.Inbox.RescanInterval),
			inbox.WithSettleTime(wc.Inbox.SettleTime),
		)
		registry.Add(watcher.NewRunner(source, deps.Runner, runnerCfg(wc.Inbox.PollInterval), deps.Logger))
	}

	if wc.Lark.Enabled {
		if deps.Lark == nil {
			return nil, fmt.Errorf("lark watcher enabled without lark credentials")
		}
		source := infraLark.NewChatSource(deps.Lark.Client, deps.Config.LarkChatID(), wc.Lark.Lookback, deps.Logger.Named("lark"))
		registry.Add(watcher.NewRunner(source, deps.Runner, runnerCfg(wc.Lark.PollInterval), deps.Logger))
	}

	return registry, nil
}

// OrchestratorDeps holds dependencies required for creating the orchestrator.
type OrchestratorDeps struct {
	Config     *config.Config
	Workflow   workflow.Deps
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideOrchestrator creates the orchestrator.
func ProvideOrchestrator(deps *OrchestratorDeps) (workflow.Orchestrator, error) {
	if deps == nil || deps.Config == nil {
		return nil, fmt.Errorf("orchestrator dependencies are required")
	}
	oc := deps.Config.Orchestrator

	cfg := workflow.DefaultConfig()
	cfg.Interval = oc.Interval
	cfg.OracleTimeout = oc.OracleTimeout
	cfg.MaxExecutionAttempts = oc.MaxExecutionAttempts
	cfg.Policy = policy.Policy{Threshold: deps.Config.Gate.Threshold}

	return workflow.NewOrchestrator(deps.Workflow, cfg, deps.Logger.Named("orchestrator"),
		workflow.WithDispatcher(deps.Dispatcher)), nil
}

// ProvideNotifications subscribes approver notifications on the dispatcher.
// Without Lark, notifications go to the log.
func ProvideNotifications(d dispatcher.Dispatcher, lark *LarkBundle, logger *zap.Logger) service.NotificationService {
	var notifier port.Notifier = logNotifier{logger: logger.Named("notify")}
	if lark != nil {
		notifier = lark.Messenger
	}
	notifications := service.NewNotificationService(notifier, &zapLoggerAdapter{logger: logger})
	notifications.Subscribe(d)
	return notifications
}

// ProvideServer creates the HTTP API server.
func ProvideServer(cfg *config.ServerConfig, deps httpapi.Deps, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(httpapi.ServerConfig{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, deps, &zapLoggerAdapter{logger: logger.Named("http")})
}

// ProvideMonitor creates the health monitor writing the vault dashboard.
func ProvideMonitor(deps health.Deps, cfg *config.Config, vaultRoot string, logger *zap.Logger) *health.Monitor {
	return health.NewMonitor(deps, filepath.Join(vaultRoot, storage.DashboardFile), cfg.Health.Interval, logger.Named("health"))
}

// logNotifier writes approver notifications to the log
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Notify(ctx context.Context, title, body string) error {
	n.logger.Info(title, zap.String("body", body))
	return nil
}
