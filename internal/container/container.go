package container

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/digital-fte/internal/application/briefing"
	"github.com/garyjia/digital-fte/internal/application/dispatcher"
	"github.com/garyjia/digital-fte/internal/application/executor"
	"github.com/garyjia/digital-fte/internal/application/health"
	"github.com/garyjia/digital-fte/internal/application/port"
	"github.com/garyjia/digital-fte/internal/application/service"
	"github.com/garyjia/digital-fte/internal/application/watcher"
	"github.com/garyjia/digital-fte/internal/application/workflow"
	"github.com/garyjia/digital-fte/internal/config"
	"github.com/garyjia/digital-fte/internal/domain/entity"
	"github.com/garyjia/digital-fte/internal/infrastructure/audit"
	"github.com/garyjia/digital-fte/internal/infrastructure/persistence/repository"
	"github.com/garyjia/digital-fte/internal/infrastructure/storage"
	"github.com/garyjia/digital-fte/internal/infrastructure/taskstore"
	"github.com/garyjia/digital-fte/internal/infrastructure/worker"
	httpapi "github.com/garyjia/digital-fte/internal/interfaces/http"
	"github.com/garyjia/digital-fte/pkg/database"
)

// Container manages all application dependencies and lifecycle.
//
// Open builds the parts every command needs: the vault, the task store, the
// audit log, the database and the approval service. Start adds the engine on
// top: oracle, connectors, watchers, orchestrator, health monitor and HTTP
// API, all run by one WorkerManager.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Core
	db         *database.DB
	store      *taskstore.Store
	audit      *audit.Log
	dispatcher dispatcher.Dispatcher
	approvals  service.ApprovalService

	// Engine
	lark          *LarkBundle
	oracle        port.Oracle
	executor      *executor.Executor
	watchers      *watcher.Registry
	orchestrator  workflow.Orchestrator
	monitor       *health.Monitor
	server        *httpapi.Server
	notifications service.NotificationService

	// Workers
	workers *worker.WorkerManager

	// Lifecycle
	mu      sync.Mutex
	opened  atomic.Bool
	started atomic.Bool
	closed  atomic.Bool
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Open or Start.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Open initializes the core components. It is safe to call more than once.
func (c *Container) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open(ctx)
}

func (c *Container) open(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.opened.Load() {
		return nil
	}

	root := c.config.Vault.Root

	// Step 1: Vault layout
	if _, err := storage.InitVault(root, c.logger); err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	// Step 2: Task store and audit log
	store, err := taskstore.New(root, c.logger.Named("taskstore"))
	if err != nil {
		return fmt.Errorf("failed to open task store: %w", err)
	}
	c.store = store

	loc, err := c.config.Audit.Location()
	if err != nil {
		return fmt.Errorf("invalid audit timezone: %w", err)
	}
	auditLog, err := audit.New(filepath.Join(root, storage.LogsFolder), c.logger.Named("audit"), audit.WithLocation(loc))
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	c.audit = auditLog

	// Step 3: Database
	db, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = db

	// Step 4: Dispatcher and approval service
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		c.db.Close()
		return err
	}
	c.dispatcher = disp

	c.approvals = service.NewApprovalService(
		repository.NewApprovalRepository(c.db.DB, c.logger),
		c.store,
		c.audit,
		c.dispatcher,
		&zapLoggerAdapter{logger: c.logger.Named("approvals")},
		service.WithApprovalTTL(c.config.Approval.TTL),
	)

	c.opened.Store(true)
	c.logger.Info("Container opened", zap.String("vault", root))
	return nil
}

// Start opens the core if needed, builds the engine and starts all workers.
// Components are initialized in dependency order:
// 1. External clients (Lark, OpenAI, SES)
// 2. Executor and orchestrator
// 3. Watchers
// 4. Health monitor, notifications and HTTP API
// 5. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started.Load() {
		return fmt.Errorf("container already started")
	}
	if err := c.config.ValidateEngine(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.open(ctx); err != nil {
		return err
	}

	c.logger.Info("Starting engine")

	if err := c.initExternalClients(); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}

	if err := c.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := c.initWatchers(); err != nil {
		return fmt.Errorf("failed to initialize watchers: %w", err)
	}

	c.initSurfaces()

	if err := c.initWorkers(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	c.started.Store(true)
	c.logger.Info("Engine started", zap.Int("workers", c.workers.GetWorkerCount()))
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errList []error

	// Workers first so nothing writes while the rest shuts down
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errList = append(errList, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errList = append(errList, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errList = append(errList, fmt.Errorf("close database: %w", err))
		}
	}

	c.closed.Store(true)
	c.started.Store(false)

	if len(errList) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errList)))
		return fmt.Errorf("container closed with %d errors", len(errList))
	}

	c.logger.Info("Container closed")
	return nil
}

func (c *Container) initExternalClients() error {
	c.lark = ProvideLark(&c.config.Lark, c.logger)

	oracle, err := ProvideOracle(&c.config.Oracle, c.logger)
	if err != nil {
		return err
	}
	c.oracle = oracle
	return nil
}

func (c *Container) initEngine(ctx context.Context) error {
	exec, err := ProvideExecutor(ctx, &ExecutorDeps{
		Config:    c.config,
		VaultRoot: c.config.Vault.Root,
		Lark:      c.lark,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.executor = exec

	orch, err := ProvideOrchestrator(&OrchestratorDeps{
		Config: c.config,
		Workflow: workflow.Deps{
			Store:     c.store,
			Oracle:    c.oracle,
			Policies:  storage.NewPolicyFiles(c.config.Vault.Root, c.logger),
			Approvals: c.approvals,
			Executor:  c.executor,
			Audit:     c.audit,
		},
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.orchestrator = orch
	return nil
}

func (c *Container) initWatchers() error {
	dedupRepo := repository.NewDedupRepository(c.db.DB, c.logger)

	registry, err := ProvideWatchers(&WatcherDeps{
		Config:    c.config,
		VaultRoot: c.config.Vault.Root,
		Runner: watcher.Deps{
			Store:  c.store,
			Dedup:  dedupRepo,
			Audit:  c.audit,
			Events: c.dispatcher,
		},
		Lark:   c.lark,
		Logger: c.logger,
	})
	if err != nil {
		return err
	}
	c.watchers = registry
	return nil
}

func (c *Container) initSurfaces() {
	c.notifications = ProvideNotifications(c.dispatcher, c.lark, c.logger)

	c.monitor = ProvideMonitor(health.Deps{
		Store:        c.store,
		Watchers:     c.watchers,
		Orchestrator: c.orchestrator,
		Approvals:    c.approvals,
		Audit:        c.audit,
	}, c.config, c.config.Vault.Root, c.logger)

	if c.config.Server.Enabled {
		c.server = ProvideServer(&c.config.Server, httpapi.Deps{
			Store:     c.store,
			Approvals: c.approvals,
			Health:    c.monitor,
			Audit:     c.audit,
		}, c.logger)
	}
}

// initWorkers registers every long-running component and starts them. The
// orchestrator starts after the watchers so its first cycle sees their tasks.
func (c *Container) initWorkers(ctx context.Context) error {
	c.workers = worker.NewWorkerManager(c.logger.Named("workers"))

	for _, runner := range c.watchers.Runners() {
		c.workers.Register(runner)
	}
	c.workers.RegisterCritical(c.orchestrator)
	c.workers.Register(c.monitor)
	if c.server != nil {
		c.workers.RegisterCritical(c.server)
	}

	return c.workers.StartAll(ctx)
}

// Health returns a snapshot of the system. Before Start it covers the task
// store and approvals only.
func (c *Container) Health(ctx context.Context) entity.SystemHealth {
	monitor := c.monitor
	if monitor == nil {
		monitor = health.NewMonitor(health.Deps{
			Store:     c.store,
			Approvals: c.approvals,
		}, "", c.config.Health.Interval, c.logger.Named("health"))
	}
	return monitor.Check(ctx)
}

// Briefing returns a generator writing into the vault's Briefings folder.
func (c *Container) Briefing() *briefing.Generator {
	return briefing.NewGenerator(c.store, c.audit, filepath.Join(c.config.Vault.Root, storage.BriefingsFolder), c.logger.Named("briefing"))
}

// Store returns the task store.
func (c *Container) Store() *taskstore.Store {
	return c.store
}

// Audit returns the audit log.
func (c *Container) Audit() *audit.Log {
	return c.audit
}

// Approvals returns the approval service.
func (c *Container) Approvals() service.ApprovalService {
	return c.approvals
}

// Orchestrator returns the orchestrator, nil before Start.
func (c *Container) Orchestrator() workflow.Orchestrator {
	return c.orchestrator
}

// Workers returns the worker manager, nil before Start.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the key/value Logger interfaces of
// the service, dispatcher and http packages.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
