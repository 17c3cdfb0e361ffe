package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yumyai/metamorph/internal/util"
	"github.com/yumyai/metamorph/logger"
	"github.com/yumyai/metamorph/pkg/align"
	"github.com/yumyai/metamorph/pkg/cluster"
	"github.com/yumyai/metamorph/pkg/config"
	"github.com/yumyai/metamorph/pkg/db"
	"github.com/yumyai/metamorph/pkg/model"
	"github.com/yumyai/metamorph/pkg/pipeline"
)

const VERSION = "0.1.0"

func main() {
	configPath := flag.String("config", "metamorph.yaml", "path to the pipeline config file")
	flag.Parse()

	if err := logger.InitLogger(zapcore.InfoLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Try load env
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env found, using local environment")
	}

	if !util.FileExists(*configPath) {
		logger.Error("Config file not found", zap.String("path", *configPath))
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Could not load config", zap.Error(err))
		os.Exit(1)
	}

	// Re-init at the configured level now that we know it.
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("Unknown log level, staying on info", zap.String("level", cfg.Logging.Level))
		level = zapcore.InfoLevel
	}
	if err := logger.InitLogger(level); err != nil {
		panic(err)
	}

	logger.Info("Start:", zap.String("Version", VERSION))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("Pipeline run failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dbDir := filepath.Dir(cfg.Database.Path)
	if !util.DirExists(dbDir) {
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return err
		}
	}

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return err
	}
	logger.Info("Open database on", zap.String("DB_LOC", cfg.Database.Path))

	embTypes, alignTypes, err := seedTypes(ctx, store, cfg)
	if err != nil {
		return err
	}

	embedderCommands := make(map[string]string, len(cfg.EmbeddingTypes))
	for _, et := range cfg.EmbeddingTypes {
		if et.Command != "" {
			embedderCommands[et.Name] = et.Command
		}
	}

	dispatcher := align.NewDispatcher(store,
		&align.CommandAligner{Commands: cfg.AlignerCommands()},
		align.Config{
			Workers:      cfg.Queue.Workers,
			MaxRetries:   *cfg.Queue.MaxRetries,
			TaskTimeout:  cfg.Queue.TaskTimeout,
			StaleTimeout: cfg.Queue.StaleTimeout,
			PollInterval: cfg.Queue.PollInterval,
			Drain:        true,
		})

	var stages []pipeline.Stage
	if cfg.Accession.CSVPath != "" {
		stages = append(stages, &pipeline.AccessionStage{
			Store: store,
			Source: &pipeline.CSVAccessionSource{
				Path:   cfg.Accession.CSVPath,
				Column: cfg.Accession.Column,
				Tag:    cfg.Accession.Tag,
			},
		})
	} else {
		logger.Warn("No accession CSV configured, starting from stored accessions")
	}

	stages = append(stages,
		&pipeline.ExtractionStage{
			Store:      store,
			Extractor:  &pipeline.UniProtExtractor{},
			Structures: &pipeline.RCSBChainExtractor{},
		},
		&pipeline.EmbeddingStage{Store: store, Embedder: &pipeline.CommandEmbedder{Commands: embedderCommands}, Types: embTypes},
		&pipeline.ClusteringStage{
			Store:  store,
			Engine: cluster.NewEngine(&cluster.KmerSimilarity{K: cfg.Clustering.KmerLength}, cfg.Clustering.Threshold),
		},
		&pipeline.SubclusteringStage{Store: store, Threshold: cfg.Subclustering.Threshold, Types: embTypes},
		&pipeline.SeedStage{Store: store, Types: alignTypes},
		&pipeline.AlignmentStage{Store: store, Dispatcher: dispatcher},
		&pipeline.AnnotationStage{Store: store, Types: embTypes},
		&pipeline.MetricsStage{Store: store, Types: embTypes},
	)

	_, err = pipeline.NewOrchestrator(stages...).Run(ctx)
	return err
}

// seedTypes makes sure every configured embedding and alignment type has a
// row, and returns them with their ids filled in.
func seedTypes(ctx context.Context, store *db.Store, cfg *config.Config) ([]model.EmbeddingType, []model.AlignmentType, error) {
	embTypes := make([]model.EmbeddingType, 0, len(cfg.EmbeddingTypes))
	for _, et := range cfg.EmbeddingTypes {
		row := model.EmbeddingType{
			Name:        et.Name,
			Description: et.Description,
			TaskName:    et.TaskName,
			ModelName:   et.ModelName,
		}
		id, err := store.UpsertEmbeddingType(ctx, row)
		if err != nil {
			return nil, nil, err
		}
		row.ID = id
		embTypes = append(embTypes, row)
	}

	alignTypes := make([]model.AlignmentType, 0, len(cfg.AlignmentTypes))
	for _, at := range cfg.AlignmentTypes {
		id, err := store.UpsertAlignmentType(ctx, model.AlignmentType{
			Name:        at.Name,
			Description: at.Description,
			TaskName:    at.TaskName,
		})
		if err != nil {
			return nil, nil, err
		}
		alignTypes = append(alignTypes, model.AlignmentType{
			ID:          id,
			Name:        at.Name,
			Description: at.Description,
			TaskName:    at.TaskName,
		})
	}
	return embTypes, alignTypes, nil
}
