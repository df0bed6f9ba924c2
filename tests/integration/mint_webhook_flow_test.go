package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/catalog"
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
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	relaySigningSecret = "integration-secret"
	relayIssuer        = "puzzlemint-relay"
	jsonContentType    = "application/json"
	seedCatalog        = `
seasons:
  - name: Genesis
    start: 2020-01-01T00:00:00Z
    end: 2099-01-01T00:00:00Z
    active: true
puzzles:
  - id: 1
    name: Harbor
    totalPieces: 2
`
)

type flowFixture struct {
	server   *httptest.Server
	token    string
	recorder *metrics.Recorder
}

func newFlowFixture(testContext *testing.T) *flowFixture {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := database.Open(database.DriverSQLite, dsn, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	idProvider := ids.NewUUIDProvider()
	directory := users.NewDirectory(users.DirectoryConfig{IDProvider: idProvider})
	xpLedger, err := ledger.New(ledger.Config{Lifetime: directory})
	if err != nil {
		testContext.Fatalf("failed to build ledger: %v", err)
	}
	mintStore := mints.NewStore()
	seasonStore := seasons.NewStore(seasons.StoreConfig{IDProvider: idProvider})
	puzzleCatalog := pieces.NewCatalog(mintStore)
	boxStore := rewards.NewBoxStore(idProvider)
	evaluator := badges.NewEvaluator(badges.EvaluatorConfig{})
	roller, err := rewards.NewRoller(rewards.RollerConfig{Source: rewards.NewSeededSource(7), DropRate: 0})
	if err != nil {
		testContext.Fatalf("failed to build roller: %v", err)
	}

	seed, err := catalog.Load(strings.NewReader(seedCatalog))
	if err != nil {
		testContext.Fatalf("failed to parse catalog: %v", err)
	}
	if _, err := catalog.Apply(context.Background(), db, seed, seasonStore, puzzleCatalog); err != nil {
		testContext.Fatalf("failed to apply catalog: %v", err)
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
		XPPerMint:  ingest.DefaultXPPerMint,
		Logger:     zap.NewNop(),
		Observer:   recorder,
		Notifier:   dispatcher,
	})
	if err != nil {
		testContext.Fatalf("failed to build ingest service: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database: db,
		Users:    directory,
		Ledger:   xpLedger,
		Mints:    mintStore,
		Boxes:    boxStore,
		Badges:   evaluator,
		Seasons:  seasonStore,
	})
	if err != nil {
		testContext.Fatalf("failed to build profile service: %v", err)
	}
	validator, err := auth.NewRelayValidator(auth.RelayValidatorConfig{
		SigningSecret: []byte(relaySigningSecret),
		Issuer:        relayIssuer,
	})
	if err != nil {
		testContext.Fatalf("failed to build relay validator: %v", err)
	}
	issuer, err := auth.NewRelayIssuer(auth.RelayIssuerConfig{
		SigningSecret: []byte(relaySigningSecret),
		Issuer:        relayIssuer,
	})
	if err != nil {
		testContext.Fatalf("failed to build relay issuer: %v", err)
	}
	token, _, err := issuer.Issue("indexer")
	if err != nil {
		testContext.Fatalf("failed to issue relay token: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Database:  db,
		Ingestor:  ingestService,
		RelayAuth: validator,
		Profiles:  profileService,
		Revealer:  pieces.NewRevealer(mintStore, pieces.NewPublicURLSigner("https://cdn.example")),
		Realtime:  dispatcher,
		Metrics:   recorder.Handler(),
		Logger:    zap.NewNop(),
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &flowFixture{server: testServer, token: token, recorder: recorder}
}

func (f *flowFixture) postMint(testContext *testing.T, token string, body string) (int, map[string]any) {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodPost, f.server.URL+"/webhooks/mint", bytes.NewBufferString(body))
	request.Header.Set("Content-Type", jsonContentType)
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	return f.send(testContext, request)
}

func (f *flowFixture) get(testContext *testing.T, path string) (int, map[string]any) {
	testContext.Helper()
	request, _ := http.NewRequest(http.MethodGet, f.server.URL+path, http.NoBody)
	return f.send(testContext, request)
}

func (f *flowFixture) send(testContext *testing.T, request *http.Request) (int, map[string]any) {
	testContext.Helper()
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request %s failed: %v", request.URL.Path, err)
	}
	defer response.Body.Close()
	payload := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		testContext.Fatalf("failed to decode %s response: %v", request.URL.Path, err)
	}
	return response.StatusCode, payload
}

func TestMintWebhookFlow(testContext *testing.T) {
	fixture := newFlowFixture(testContext)
	firstMint := `{"puzzleId":1,"pieceId":7,"minter":"0xA","txHash":"0x1"}`

	status, payload := fixture.postMint(testContext, "", firstMint)
	if status != http.StatusUnauthorized {
		testContext.Fatalf("expected 401 without relay token, got %d", status)
	}

	status, payload = fixture.postMint(testContext, fixture.token, firstMint)
	if status != http.StatusOK || payload["success"] != true || payload["mysteryBox"] != false {
		testContext.Fatalf("unexpected first mint response %d %v", status, payload)
	}

	status, payload = fixture.postMint(testContext, fixture.token, firstMint)
	if status != http.StatusOK || payload["alreadyProcessed"] != true {
		testContext.Fatalf("expected already processed, got %d %v", status, payload)
	}

	status, payload = fixture.postMint(testContext, fixture.token, `{"puzzleId":1,"minter":"0xA","txHash":"0x2"}`)
	if status != http.StatusBadRequest || payload["success"] != false {
		testContext.Fatalf("expected invalid payload rejection, got %d %v", status, payload)
	}

	status, payload = fixture.get(testContext, "/users/0xa/stats")
	if status != http.StatusOK {
		testContext.Fatalf("unexpected stats status %d", status)
	}
	if payload["lifetimeXp"] != float64(10) || payload["monthlyXp"] != float64(10) || payload["mintCount"] != float64(1) {
		testContext.Fatalf("unexpected stats %v", payload)
	}
	if payload["tier"] != "Bronze" {
		testContext.Fatalf("expected Bronze tier, got %v", payload["tier"])
	}
	season, _ := payload["season"].(map[string]any)
	if season == nil || season["slug"] != "genesis" || season["xp"] != float64(10) {
		testContext.Fatalf("unexpected season standing %v", payload["season"])
	}

	status, payload = fixture.get(testContext, "/seasons/active/leaderboard")
	entries, _ := payload["entries"].([]any)
	if status != http.StatusOK || len(entries) != 1 {
		testContext.Fatalf("unexpected leaderboard %d %v", status, payload)
	}
	if entry := entries[0].(map[string]any); entry["walletAddress"] != "0xa" || entry["rank"] != float64(1) {
		testContext.Fatalf("unexpected leaderboard entry %v", entry)
	}

	status, payload = fixture.get(testContext, "/puzzles/1/pieces/7/image")
	if status != http.StatusOK || payload["imageUrl"] != "https://cdn.example/puzzle_1/piece_7.png" {
		testContext.Fatalf("unexpected reveal %d %v", status, payload)
	}
	status, _ = fixture.get(testContext, "/puzzles/1/pieces/8/image")
	if status != http.StatusForbidden {
		testContext.Fatalf("expected 403 for unminted piece, got %d", status)
	}

	status, payload = fixture.get(testContext, "/users/0xa/badges")
	earned, _ := payload["badges"].([]any)
	if status != http.StatusOK || len(earned) == 0 {
		testContext.Fatalf("expected earned badges, got %d %v", status, payload)
	}
}

func TestMintWebhookCompletesPuzzle(testContext *testing.T) {
	fixture := newFlowFixture(testContext)
	for index, body := range []string{
		`{"puzzleId":1,"pieceId":0,"minter":"0xB","txHash":"0xb1"}`,
		`{"puzzleId":1,"pieceId":1,"minter":"0xB","txHash":"0xb2"}`,
	} {
		status, payload := fixture.postMint(testContext, fixture.token, body)
		if status != http.StatusOK {
			testContext.Fatalf("mint %d failed: %d %v", index, status, payload)
		}
		if index == 1 {
			newBadges, _ := payload["newBadges"].([]any)
			found := false
			for _, badgeID := range newBadges {
				if badgeID == badges.BadgePuzzleMaster {
					found = true
				}
			}
			if !found {
				testContext.Fatalf("expected puzzle_master on completing mint, got %v", newBadges)
			}
		}
	}
}
