package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/steadyrow/caseflow/internal/application/dispatcher"
	"github.com/steadyrow/caseflow/internal/catalog"
	"github.com/steadyrow/caseflow/internal/config"
	"github.com/steadyrow/caseflow/internal/engine"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/repository"
	"github.com/steadyrow/caseflow/internal/infrastructure/persistence/sqlite"
	"github.com/steadyrow/caseflow/internal/infrastructure/worker"
	httpiface "github.com/steadyrow/caseflow/internal/interfaces/http"
	"github.com/steadyrow/caseflow/internal/notification"
	"github.com/steadyrow/caseflow/pkg/database"
	"github.com/steadyrow/caseflow/pkg/utils"
)

func main() {
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Caseflow lifecycle service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.RunMigrations(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	entityRepo := repository.NewEntityRepository(db.DB, logger)
	historyRepo := repository.NewHistoryRepository(db.DB, logger)
	checkpointRepo := repository.NewCheckpointRepository(db.DB, logger)
	failureRepo := repository.NewEffectFailureRepository(db.DB, logger)
	txManager := sqlite.NewDB(db.DB, logger)

	events := dispatcher.New(dispatcher.WithLogger(utils.NewKVLogger(logger)))
	defer events.Close()

	eng, err := engine.New(engine.Deps{
		Entities:    entityRepo,
		History:     historyRepo,
		Checkpoints: checkpointRepo,
		Failures:    failureRepo,
		Tx:          txManager,
		Events:      events,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to initialize transition engine", zap.Error(err))
	}

	if err := catalog.RegisterAll(eng); err != nil {
		logger.Fatal("Failed to register entity catalog", zap.Error(err))
	}
	if err := eng.ValidateRegistrations(); err != nil {
		logger.Fatal("Invalid entity catalog", zap.Error(err))
	}

	notification.Subscribe(events, "log-sink", notification.NewLogSink(logger))

	reconciler := worker.NewEffectReconciler(worker.ReconcilerConfig{
		PollInterval: cfg.Reconciler.PollInterval,
		BatchSize:    cfg.Reconciler.BatchSize,
	}, failureRepo, eng, logger)

	workers := worker.NewManager(logger)
	workers.Register(reconciler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := workers.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}
	defer func() {
		if err := workers.StopAll(); err != nil {
			logger.Error("Failed to stop workers", zap.Error(err))
		}
	}()

	server := httpiface.NewServer(httpiface.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, eng, utils.NewKVLogger(logger))

	if err := server.Start(ctx); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}

	logger.Info("Server exited successfully")
}
