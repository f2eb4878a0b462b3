// Command bioacq acquires bioactivity and bibliographic datasets from
// public registries and publishes them as versioned CSV artifacts.
package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/internal/pipeline"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/clients"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/config"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/logger"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/observability"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/output"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/qc"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/ratelimit"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/schema"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/sources/chembl"
	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/sources/crossref"
)

var version = "1.4.0"

func main() {
	// Load .env if present, real deployments use the environment directly.
	_ = godotenv.Load()

	var configPath string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "bioacq",
		Short: "Bioactivity data acquisition pipeline",
		Long: `bioacq harvests bioactivity records from ChEMBL and bibliographic
metadata from Crossref, normalizes them to versioned schemas, and publishes
quality-checked CSV artifacts.`,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Minute, "overall run timeout")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("bioacq v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(cfg.Sources))
			for name := range cfg.Sources {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := "disabled"
				if cfg.Sources[name].Enabled {
					state = "enabled"
				}
				fmt.Printf("  %-12s %s\n", name, state)
			}
			return nil
		},
	})

	runCmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Run acquisition for the named sources (default: all enabled)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runAcquisition(ctx, configPath, args)
		},
	}
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runAcquisition(ctx context.Context, configPath string, requested []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
		OutputPaths: cfg.Logging.OutputPaths,
	}); err != nil {
		return err
	}
	log := logger.Get()
	defer logger.Sync()

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "bioacq",
		ServiceVersion: version,
		Writer:         os.Stderr,
		Sampled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	limiters := ratelimit.NewLimiterSet(cfg.GlobalRateLimit)

	schemas := schema.NewRegistry(log)
	if err := schemas.Register(chembl.Descriptor()); err != nil {
		return err
	}
	if err := schemas.Register(crossref.Descriptor()); err != nil {
		return err
	}
	migrations := schema.NewMigrationRegistry(log)
	if err := registerMigrations(schemas, migrations); err != nil {
		return err
	}

	names := requested
	if len(names) == 0 {
		for name, src := range cfg.Sources {
			if src.Enabled {
				names = append(names, name)
			}
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return fmt.Errorf("no sources enabled")
	}

	var failed int
	for _, name := range names {
		if err := runSource(ctx, cfg, name, limiters, schemas, migrations, log); err != nil {
			log.Error("source run failed",
				zap.String("source", name),
				zap.Bool("retryable", errors.IsRetryable(err)),
				zap.Error(err))
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d source runs failed", failed, len(names))
	}
	return nil
}

func runSource(
	ctx context.Context,
	cfg *config.Config,
	name string,
	limiters *ratelimit.LimiterSet,
	schemas *schema.Registry,
	migrations *schema.MigrationRegistry,
	log *zap.Logger,
) error {
	srcCfg, ok := cfg.Sources[name]
	if !ok {
		return fmt.Errorf("source %s is not configured", name)
	}

	settings, err := cfg.ResolveSettings(name)
	if err != nil {
		return err
	}
	client := clients.NewResilientClient(name, settings, limiters, log)

	var source pipeline.Source
	var schemaID, targetVersion string
	switch name {
	case chembl.SourceName:
		source = &pipeline.ChemblSource{
			Client:  chembl.NewClient(client, srcCfg.PageSize, srcCfg.MaxPages, log),
			Filter:  url.Values{},
			Version: srcCfg.SchemaVersion,
		}
		schemaID = chembl.SchemaID
		targetVersion = chembl.Descriptor().Version
	case crossref.SourceName:
		source = &pipeline.CrossrefSource{
			Client:  crossref.NewClient(client, srcCfg.PageSize, srcCfg.MaxPages, log),
			Filter:  url.Values{},
			Version: srcCfg.SchemaVersion,
		}
		schemaID = crossref.SchemaID
		targetVersion = crossref.Descriptor().Version
	default:
		return fmt.Errorf("source %s has no client implementation", name)
	}

	thresholds, err := cfg.Thresholds(name)
	if err != nil {
		return err
	}

	writer, err := output.NewAtomicWriter(cfg.Output.Dir, log)
	if err != nil {
		return err
	}
	ctx = logger.NewContext(ctx, writer.RunID(), name, "acquisition")

	p, err := pipeline.New(source, schemaID, targetVersion,
		schemas, migrations,
		qc.NewProfiler(thresholds, log),
		writer,
		pipeline.Options{
			PipelineVersion: cfg.Output.PipelineVersion,
			NullRepr:        cfg.Output.NullRepr,
			Gzip:            cfg.Output.Gzip,
			FailGate:        cfg.FailGate(),
		},
		log)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx)
	if err != nil {
		return err
	}
	logger.WithContext(ctx).Info("source run complete",
		zap.Int("rows", result.RowCount),
		zap.Strings("artifacts", result.Artifacts))
	return nil
}

// registerMigrations wires the known version upgrades for each dataset.
func registerMigrations(schemas *schema.Registry, migrations *schema.MigrationRegistry) error {
	// chembl_activity 1.0 used "published_value"/"published_units"; 2.0
	// standardizes on the standard_* columns.
	return migrations.Register(&schema.Migration{
		SchemaID:    chembl.SchemaID,
		FromVersion: "1.0",
		ToVersion:   "2.0",
		Apply:       chembl.MigrateV1ToV2,
	})
}
