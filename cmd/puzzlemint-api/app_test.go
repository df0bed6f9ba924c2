package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/config"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"go.uber.org/zap"
)

func newTestApplication(t *testing.T) *application {
	t.Helper()
	configViper := config.NewViper()
	configViper.Set("webhook.signing_secret", "secret")
	configViper.Set("database.dsn", fmt.Sprintf("file:cmd_test_%d?mode=memory&cache=shared", time.Now().UnixNano()))
	appConfig, err := config.Load(configViper)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	app, err := buildApplication(context.Background(), appConfig, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to build application: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func TestRotateSeasonsActivatesOpenWindow(t *testing.T) {
	app := newTestApplication(t)
	now := time.Now().UTC()
	_, err := app.seasons.Upsert(app.db, seasons.Definition{
		Name:      "Current",
		StartDate: now.AddDate(0, 0, -1),
		EndDate:   now.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatalf("failed to create season: %v", err)
	}

	if err := app.rotateSeasons(context.Background()); err != nil {
		t.Fatalf("rotation failed: %v", err)
	}
	active, err := app.seasons.Active(app.db)
	if err != nil {
		t.Fatalf("active lookup failed: %v", err)
	}
	if active == nil || active.Slug != "current" {
		t.Fatalf("expected current season active, got %+v", active)
	}
}

func TestReconcileOnEmptyDatabase(t *testing.T) {
	app := newTestApplication(t)
	report, err := app.reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if report.UsersChecked != 0 || report.UsersRepaired != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestNewURLSignerWithoutStorage(t *testing.T) {
	signer, err := newURLSigner(context.Background(), config.StorageConfig{})
	if err != nil || signer != nil {
		t.Fatalf("expected no signer, got %v %v", signer, err)
	}
	signer, err = newURLSigner(context.Background(), config.StorageConfig{PublicBaseURL: "https://cdn.example"})
	if err != nil || signer == nil {
		t.Fatalf("expected public signer, got %v %v", signer, err)
	}
}
