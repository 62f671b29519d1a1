package main

import (
	"context"
	"fmt"

	complianceapp "github.com/govcon/shredder/internal/application/compliance"
	shredapp "github.com/govcon/shredder/internal/application/shredding"
	"github.com/govcon/shredder/internal/domain/compliance"
	"github.com/govcon/shredder/internal/infrastructure/cache"
	"github.com/govcon/shredder/internal/infrastructure/config"
	"github.com/govcon/shredder/internal/infrastructure/llm"
	"github.com/govcon/shredder/internal/infrastructure/logger"
	"github.com/govcon/shredder/internal/infrastructure/persistence"
	"github.com/govcon/shredder/internal/infrastructure/printing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	dbPath     string
	classifier string
	logLevel   string
}

// app is the wiring one command invocation works with
type app struct {
	log      *zap.Logger
	db       *persistence.Database
	pipeline *shredapp.Pipeline
	matrix   *complianceapp.MatrixService
	printer  *printing.ChromeRenderer
}

func (o *globalOptions) open(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFrom(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = o.dbPath
	}
	if o.classifier != "" {
		cfg.Classifier.Provider = o.classifier
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = o.logLevel
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := persistence.NewDatabase(&cfg.Database, persistence.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate %s: %w", cfg.Database.Path, err)
		}
	}

	locker, err := cache.NewRunLockerFactory(cfg.Redis, cache.WithLogger(log)).CreateLocker(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	classifier, err := llm.NewClassifier(cfg.Classifier, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	// Chrome is only launched by the first PDF export
	printer, err := printing.NewChromeRenderer(cfg.Printing, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	store := persistence.NewGormComplianceStore(db.DB)
	tracker := shredapp.NewRunTracker()
	orchestrator := shredapp.NewClassificationOrchestrator(classifier, shredapp.OrchestratorConfigFrom(cfg.Classifier), log, nil)
	return &app{
		log:     log,
		db:      db,
		printer: printer,
		pipeline: shredapp.NewPipeline(store, locker, orchestrator, shredapp.PipelineConfig{
			LockTTL:          cfg.Pipeline.LockTTL,
			RunTimeout:       cfg.Pipeline.RunTimeout,
			MinLength:        cfg.Extraction.MinLength,
			MaxHeadingLength: cfg.Extraction.MaxHeadingLength,
		}, shredapp.WithLogger(log), shredapp.WithRunTracker(tracker)),
		matrix: complianceapp.NewMatrixService(store,
			complianceapp.WithRunTracker(tracker),
			complianceapp.WithLogger(log),
			complianceapp.WithPDFRenderer(printer),
		),
	}, nil
}

func (a *app) close() {
	_ = a.printer.Close()
	if err := a.db.Close(); err != nil {
		a.log.Warn("Error closing database", zap.Error(err))
	}
	_ = a.log.Sync()
}

// opportunityID accepts either an opportunity UUID or a solicitation number
func opportunityID(ref string) uuid.UUID {
	if id, err := uuid.Parse(ref); err == nil {
		return id
	}
	return compliance.OpportunityID(compliance.NormalizeSolicitationNumber(ref))
}
