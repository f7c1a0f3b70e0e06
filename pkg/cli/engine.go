package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"lakerun/internal/config"
	"lakerun/internal/db"
	"lakerun/internal/db/repository"
	"lakerun/internal/declarative"
	"lakerun/internal/domain"
	"lakerun/internal/pipeline"
	"lakerun/internal/source"
)

// dirArg returns the optional positional pipeline directory.
func dirArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// engine bundles everything a run needs: config, the loaded definition, the
// state store pools, and the pipeline runner.
type engine struct {
	cfg    *config.Config
	def    *domain.PipelineDefinition
	runner *pipeline.Runner
	logger *slog.Logger

	writeDB *sql.DB
	readDB  *sql.DB
}

// newEngine loads configuration and the pipeline directory, opens the state
// store, and builds a runner. An empty dir falls back to PIPELINE_DIR from
// the environment. The caller must Close it.
func newEngine(dir, envFile string) (*engine, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = cfg.PipelineDir
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	def, err := declarative.LoadDirectory(dir)
	if err != nil {
		return nil, err
	}

	writeDB, readDB, err := db.OpenSQLitePair(cfg.StateDBPath, 4)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(writeDB); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, err
	}

	zones, refs, err := buildSources(def, cfg)
	if err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, err
	}

	runs := repository.NewRunRepo(writeDB)

	// Nothing can legitimately be running at startup; a run left active by
	// a crashed process would block every future trigger.
	if n, err := runs.FailAbandonedRuns(context.Background(), def.Name); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("reap abandoned runs: %w", err)
	} else if n > 0 {
		logger.Warn("failed abandoned runs from a previous process", "count", n)
	}

	runner, err := pipeline.NewRunner(def,
		repository.NewStateRepo(writeDB),
		runs,
		zones, refs, logger)
	if err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, err
	}

	return &engine{
		cfg:     cfg,
		def:     def,
		runner:  runner,
		logger:  logger,
		writeDB: writeDB,
		readDB:  readDB,
	}, nil
}

func (e *engine) Close() {
	_ = e.readDB.Close()
	_ = e.writeDB.Close()
}

// buildSources constructs the landing zones and reference sources the
// definition declares. S3 zones require credentials from the environment.
func buildSources(def *domain.PipelineDefinition, cfg *config.Config) (map[string]source.LandingZone, map[string]source.ReferenceSource, error) {
	var creds source.S3Credentials
	if cfg.HasS3Config() {
		creds = source.S3Credentials{
			KeyID:  *cfg.S3KeyID,
			Secret: *cfg.S3Secret,
			Region: *cfg.S3Region,
		}
		if cfg.S3Endpoint != nil {
			creds.Endpoint = *cfg.S3Endpoint
		}
	}

	zones := make(map[string]source.LandingZone, len(def.LandingZones))
	for _, spec := range def.LandingZones {
		if spec.Type == "s3" && !cfg.HasS3Config() {
			return nil, nil, fmt.Errorf("landing zone %q needs S3 credentials: set KEY_ID, SECRET and REGION", spec.Name)
		}
		z, err := source.BuildLandingZone(spec, creds)
		if err != nil {
			return nil, nil, err
		}
		zones[spec.Name] = z
	}

	refs := make(map[string]source.ReferenceSource, len(def.References))
	for _, spec := range def.References {
		r, err := source.BuildReference(spec)
		if err != nil {
			return nil, nil, err
		}
		refs[spec.Name] = r
	}
	return zones, refs, nil
}
