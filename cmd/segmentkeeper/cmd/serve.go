package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solatis/segmentkeeper/internal/audience"
	"github.com/solatis/segmentkeeper/internal/core/api"
	"github.com/solatis/segmentkeeper/internal/core/auth"
	"github.com/solatis/segmentkeeper/internal/core/config"
	"github.com/solatis/segmentkeeper/internal/core/db"
	"github.com/solatis/segmentkeeper/internal/core/server"
	"github.com/solatis/segmentkeeper/internal/rules"
	"github.com/solatis/segmentkeeper/internal/segments"
)

// Version is the service version reported at startup.
const Version = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC segment service",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "0.0.0.0", "gRPC server host")
	serveCmd.Flags().Int("port", 50061, "gRPC server port")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd, config.FlagBindings{
		"server.host": cmd.Flags().Lookup("host"),
		"server.port": cmd.Flags().Lookup("port"),
	})
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "segmentkeeper")

	database, queries, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	statuses, err := db.MigrateStatus(ctx, database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}
	for _, s := range statuses {
		if !s.Applied {
			return fmt.Errorf("migration %s not applied - run 'segmentkeeper migrate up' first", s.ID)
		}
	}

	secrets, err := config.HMACSecrets()
	if err != nil {
		return fmt.Errorf("failed to load HMAC secrets: %w", err)
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no HMAC secrets configured (set SK_HMAC_SECRET environment variable)")
	}
	authenticator := auth.NewAuthenticator(secrets, queries, logger)

	engine := rules.NewEngine()
	evaluator := audience.NewEvaluator(engine, db.NewCustomerStore(queries), audience.Config{
		DefaultSampleSize: cfg.Audience.DefaultSampleSize,
		MaxSampleSize:     cfg.Audience.MaxSampleSize,
		DefaultPageSize:   cfg.Segments.DefaultPageSize,
		MaxPageSize:       cfg.Segments.MaxPageSize,
		QueryTimeout:      cfg.Store.QueryTimeout,
	}, logger)
	segmentSvc := segments.NewService(db.NewSegmentStore(queries), evaluator, segments.Config{
		DefaultPageSize: cfg.Segments.DefaultPageSize,
		MaxPageSize:     cfg.Segments.MaxPageSize,
		ExcludeInactive: cfg.Segments.ExcludeInactive,
	}, logger)

	service, err := api.NewSegmentService(engine, evaluator, segmentSvc, logger)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Server, service, authenticator, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	logger.Info().
		Str("version", Version).
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Bool("exclude_inactive", cfg.Segments.ExcludeInactive).
		Msg("starting segment service")

	errChan := make(chan error, 1)
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
		return grpcServer.Shutdown(ctx)
	}
}
