package main

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/config"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/database"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ledger"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/metrics"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/mints"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/pieces"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/rewards"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/server"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the wired services shared by the server and the maintenance commands.
type application struct {
	db         *gorm.DB
	logger     *zap.Logger
	seasons    *seasons.Store
	puzzles    *pieces.Catalog
	ingest     *ingest.Service
	profiles   *profiles.Service
	revealer   *pieces.Revealer
	relayAuth  *auth.RelayValidator
	realtime   *server.RealtimeDispatcher
	metrics    *metrics.Recorder
	reconciler *ledger.Reconciler
}

func buildApplication(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return nil, err
	}
	app, err := wireApplication(ctx, db, appConfig, logger)
	if err != nil {
		closeDatabase(db, logger)
		return nil, err
	}
	return app, nil
}

func wireApplication(ctx context.Context, db *gorm.DB, appConfig config.AppConfig, logger *zap.Logger) (*application, error) {
	idProvider := ids.NewUUIDProvider()
	directory := users.NewDirectory(users.DirectoryConfig{IDProvider: idProvider, Clock: time.Now})
	xpLedger, err := ledger.New(ledger.Config{Lifetime: directory, Clock: time.Now})
	if err != nil {
		return nil, err
	}
	mintStore := mints.NewStore()
	seasonStore := seasons.NewStore(seasons.StoreConfig{IDProvider: idProvider, Clock: time.Now})
	puzzleCatalog := pieces.NewCatalog(mintStore)
	boxStore := rewards.NewBoxStore(idProvider)
	evaluator := badges.NewEvaluator(badges.EvaluatorConfig{Clock: time.Now})

	seed := appConfig.RewardSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	roller, err := rewards.NewRoller(rewards.RollerConfig{
		Source:   rewards.NewSeededSource(seed),
		DropRate: appConfig.DropRate,
	})
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder()
	dispatcher := server.NewRealtimeDispatcher()

	ingestService, err := ingest.NewService(ingest.ServiceConfig{
		Database:   db,
		Users:      directory,
		Mints:      mintStore,
		Ledger:     xpLedger,
		Seasons:    seasonStore,
		Roller:     roller,
		Boxes:      boxStore,
		Badges:     evaluator,
		Completion: puzzleCatalog,
		XPPerMint:  appConfig.XPPerMint,
		Clock:      time.Now,
		Logger:     logger,
		Observer:   recorder,
		Notifier:   dispatcher,
	})
	if err != nil {
		return nil, err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Users:    directory,
		Ledger:   xpLedger,
		Mints:    mintStore,
		Boxes:    boxStore,
		Badges:   evaluator,
		Seasons:  seasonStore,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	signer, err := newURLSigner(ctx, appConfig.Storage)
	if err != nil {
		return nil, err
	}

	relayAuth, err := auth.NewRelayValidator(auth.RelayValidatorConfig{
		SigningSecret: []byte(appConfig.WebhookSigningSecret),
		Issuer:        appConfig.WebhookIssuer,
	})
	if err != nil {
		return nil, err
	}

	return &application{
		db:         db,
		logger:     logger,
		seasons:    seasonStore,
		puzzles:    puzzleCatalog,
		ingest:     ingestService,
		profiles:   profileService,
		revealer:   pieces.NewRevealer(mintStore, signer),
		relayAuth:  relayAuth,
		realtime:   dispatcher,
		metrics:    recorder,
		reconciler: ledger.NewReconciler(xpLedger, directory, logger),
	}, nil
}

// newURLSigner prefers presigned bucket URLs, then a public base URL. Neither leaves reveals
// unavailable.
func newURLSigner(ctx context.Context, storage config.StorageConfig) (pieces.URLSigner, error) {
	if storage.Bucket != "" {
		return pieces.NewS3Presigner(ctx, pieces.S3Config{
			Bucket:          storage.Bucket,
			Region:          storage.Region,
			Endpoint:        storage.Endpoint,
			AccessKeyID:     storage.AccessKeyID,
			SecretAccessKey: storage.SecretAccessKey,
			PresignTTL:      storage.PresignTTL,
		})
	}
	if storage.PublicBaseURL != "" {
		return pieces.NewPublicURLSigner(storage.PublicBaseURL), nil
	}
	return nil, nil
}

func (a *application) rotateSeasons(ctx context.Context) error {
	var active *seasons.Season
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rotated, err := a.seasons.Rotate(tx, time.Now())
		active = rotated
		return err
	})
	if err != nil {
		return err
	}
	if active == nil {
		a.logger.Debug("no season window open")
		return nil
	}
	a.logger.Debug("season rotation finished", zap.String("season", active.Slug))
	return nil
}

func (a *application) reconcile(ctx context.Context) (ledger.ReconcileReport, error) {
	report, err := a.reconciler.Run(ctx, a.db)
	a.metrics.ObserveReconcileRepairs(report.UsersRepaired)
	return report, err
}

func (a *application) Close() {
	closeDatabase(a.db, a.logger)
}

func closeDatabase(db *gorm.DB, logger *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		logger.Warn("database close failed", zap.Error(err))
	}
}
