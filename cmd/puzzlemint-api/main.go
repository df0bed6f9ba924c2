package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/config"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/scheduler"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/server"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "puzzlemint-api",
		Short: "PuzzleMint mint ingestion and rewards backend",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newReconcileCommand(), newSeedCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("webhook-signing-secret", "", "Relay token signing secret (overrides env)")
	cmd.PersistentFlags().Int64("xp-per-mint", defaults.GetInt64("ledger.xp_per_mint"), "XP granted per processed mint")
	cmd.PersistentFlags().Float64("drop-rate", defaults.GetFloat64("rewards.drop_rate"), "Mystery box drop probability")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "webhook.signing_secret", "webhook-signing-secret")
	bindFlag(cmd, "ledger.xp_per_mint", "xp-per-mint")
	bindFlag(cmd, "rewards.drop_rate", "drop-rate")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

// loadRuntime parses configuration and builds the logger shared by every subcommand.
func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	jobs, err := scheduler.New(logger)
	if err != nil {
		return err
	}
	if err := registerJobs(jobs, app, appConfig); err != nil {
		return err
	}
	jobs.Start()
	defer func() {
		if err := jobs.Shutdown(); err != nil {
			logger.Warn("scheduler shutdown failed", zap.Error(err))
		}
	}()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Database:       app.db,
		Ingestor:       app.ingest,
		RelayAuth:      app.relayAuth,
		Profiles:       app.profiles,
		Revealer:       app.revealer,
		Realtime:       app.realtime,
		Metrics:        app.metrics.Handler(),
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func registerJobs(jobs *scheduler.Scheduler, app *application, appConfig config.AppConfig) error {
	if appConfig.SeasonAutoRotate {
		err := jobs.Register(scheduler.Job{
			Name:     "season-rotation",
			Interval: appConfig.SeasonRotationEvery,
			Run:      app.rotateSeasons,
		})
		if err != nil {
			return err
		}
	}
	return jobs.Register(scheduler.Job{
		Name:     "ledger-reconcile",
		Interval: appConfig.ReconcileInterval,
		Run: func(ctx context.Context) error {
			_, err := app.reconcile(ctx)
			return err
		},
	})
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute lifetime XP from the XP history once",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := buildApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d users, repaired %d\n", report.UsersChecked, report.UsersRepaired)
			return nil
		},
	}
}

func newSeedCommand() *cobra.Command {
	var seedFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert seasons, puzzles and badges from a YAML catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := catalog.LoadFile(seedFile)
			if err != nil {
				return err
			}
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := buildApplication(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, err := catalog.Apply(cmd.Context(), app.db, file, app.seasons, app.puzzles)
			if err != nil {
				return err
			}
			logger.Info("catalog applied",
				zap.String("file", seedFile),
				zap.Int("seasons", summary.Seasons),
				zap.Int("puzzles", summary.Puzzles),
				zap.Int("badges", summary.Badges),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&seedFile, "file", "", "Path to the catalog YAML file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a relay bearer token for the mint webhook",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := auth.NewRelayIssuer(auth.RelayIssuerConfig{
				SigningSecret: []byte(appConfig.WebhookSigningSecret),
				Issuer:        appConfig.WebhookIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.Issue(subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Relay identity recorded in the token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
