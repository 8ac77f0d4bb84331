package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/raawaa/ja-translate/internal/config"
	"github.com/raawaa/ja-translate/internal/doctree"
	"github.com/raawaa/ja-translate/internal/glossary"
	"github.com/raawaa/ja-translate/internal/infrastructure/agent"
	"github.com/raawaa/ja-translate/internal/infrastructure/markup"
	"github.com/raawaa/ja-translate/internal/infrastructure/storage"
	"github.com/raawaa/ja-translate/internal/infrastructure/xmldoc"
	"github.com/raawaa/ja-translate/internal/logging"
	"github.com/raawaa/ja-translate/internal/translate"
	"github.com/raawaa/ja-translate/internal/usecase"
)

// Application wires configs to the pipeline and owns the progress database.
type Application struct {
	cfg      config.Config
	db       *sql.DB
	store    *storage.Store
	pipeline *usecase.Pipeline
	logger   *slog.Logger
}

// New builds a runnable application instance.
func New(cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	db, err := storage.Open(cfg.Paths.ProgressDB)
	if err != nil {
		return nil, err
	}
	store := storage.NewStore(db)

	gloss, err := glossary.Load(cfg.Paths.GlossaryFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	baseLogger.Info("glossary loaded", "terms", len(gloss.Terms))

	client := agent.New(cfg.Agent, baseLogger.With("component", "agent"))

	translator := translate.New(client, gloss, store, translate.Options{
		MaxRetry:          cfg.Pipeline.MaxRetry,
		ContextChars:      cfg.Pipeline.ContextChars,
		GlossaryHintLimit: cfg.Pipeline.GlossaryHintLimit,
		ResidueRatio:      cfg.Pipeline.ResidueRatio,
	}, baseLogger.With("component", "translator"))

	registry := doctree.NewRegistry()
	registry.Register(markup.NewOpener())
	registry.Register(xmldoc.NewTocOpener())
	registry.Register(xmldoc.NewMetadataOpener())

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Registry:           registry,
		Client:             client,
		Store:              store,
		ErrorLog:           store,
		Translator:         translator,
		Logger:             baseLogger.With("component", "pipeline"),
		SourceDir:          cfg.Paths.SourceDir,
		OutputDir:          cfg.Paths.OutputDir,
		CheckpointInterval: cfg.Pipeline.CheckpointInterval,
		MaxBlockAttempts:   cfg.Pipeline.MaxBlockAttempts,
	})

	return &Application{
		cfg:      cfg,
		db:       db,
		store:    store,
		pipeline: pipeline,
		logger:   baseLogger,
	}, nil
}

// Run executes one full translation pass over the source tree.
func (a *Application) Run(ctx context.Context) error {
	_, err := a.pipeline.Run(ctx)
	return err
}

// Status prints per-document completion counts from the progress store.
func (a *Application) Status(ctx context.Context) error {
	summaries, err := a.store.Summaries(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("no progress recorded yet")
		return nil
	}
	for _, s := range summaries {
		fmt.Printf("%-40s %d/%d done, %d failed\n", s.DocPath, s.Completed, s.Total, s.Failed)
	}
	return nil
}

// Close releases the progress database.
func (a *Application) Close() error {
	return a.db.Close()
}
