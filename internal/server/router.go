package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/badges"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/ingest"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/pieces"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/profiles"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/rewards"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/seasons"
	"github.com/MarcoPoloResearchLab/puzzlemint/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	relaySubjectContextKey = "puzzlemint_relay_subject"
	maxWebhookBodyBytes    = 64 << 10
)

var (
	errMissingIngestor  = errors.New("mint ingestor dependency required")
	errMissingRelayAuth = errors.New("relay authenticator dependency required")
	errMissingProfiles  = errors.New("profile reader dependency required")
	errMissingRevealer  = errors.New("piece revealer dependency required")
	errMissingDatabase  = errors.New("database dependency required")
)

type MintIngestor interface {
	IngestPayload(ctx context.Context, body []byte) (ingest.Outcome, error)
}

type RelayAuthenticator interface {
	ValidateRequest(r *http.Request) (auth.RelayClaims, error)
}

type ProfileReader interface {
	Stats(ctx context.Context, address users.WalletAddress) (profiles.UserStats, error)
	Badges(ctx context.Context, address users.WalletAddress) ([]badges.EarnedBadge, error)
	Boxes(ctx context.Context, address users.WalletAddress) ([]rewards.MysteryBox, error)
	ActiveLeaderboard(ctx context.Context, limit int) (profiles.SeasonLeaderboard, error)
	Leaderboard(ctx context.Context, seasonSlug string, limit int) (profiles.SeasonLeaderboard, error)
}

type PieceRevealer interface {
	Reveal(ctx context.Context, db *gorm.DB, puzzleID, pieceID int64) (pieces.Reveal, error)
}

type Dependencies struct {
	Database       *gorm.DB
	Ingestor       MintIngestor
	RelayAuth      RelayAuthenticator
	Profiles       ProfileReader
	Revealer       PieceRevealer
	Realtime       *RealtimeDispatcher
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Ingestor == nil {
		return nil, errMissingIngestor
	}
	if deps.RelayAuth == nil {
		return nil, errMissingRelayAuth
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Revealer == nil {
		return nil, errMissingRevealer
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		db:        deps.Database,
		ingestor:  deps.Ingestor,
		relayAuth: deps.RelayAuth,
		profiles:  deps.Profiles,
		revealer:  deps.Revealer,
		realtime:  deps.Realtime,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	router.GET("/users/:address/stats", handler.handleUserStats)
	router.GET("/users/:address/badges", handler.handleUserBadges)
	router.GET("/users/:address/boxes", handler.handleUserBoxes)
	if deps.Realtime != nil {
		router.GET("/users/:address/events", handler.handleUserEvents)
	}
	router.GET("/seasons/:slug/leaderboard", handler.handleLeaderboard)
	router.GET("/puzzles/:puzzleId/pieces/:pieceId/image", handler.handlePieceImage)

	webhooks := router.Group("/webhooks")
	webhooks.Use(handler.authorizeRelay)
	webhooks.POST("/mint", handler.handleMintWebhook)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

type httpHandler struct {
	db        *gorm.DB
	ingestor  MintIngestor
	relayAuth RelayAuthenticator
	profiles  ProfileReader
	revealer  PieceRevealer
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
}

type mintResponsePayload struct {
	Success          bool     `json:"success"`
	AlreadyProcessed bool     `json:"alreadyProcessed,omitempty"`
	Message          string   `json:"message,omitempty"`
	MysteryBox       bool     `json:"mysteryBox"`
	Rarity           string   `json:"rarity,omitempty"`
	XPGranted        int64    `json:"xpGranted"`
	Tier             string   `json:"tier,omitempty"`
	NewBadges        []string `json:"newBadges"`
}

func (h *httpHandler) handleMintWebhook(c *gin.Context) {
	body, err := readLimitedBody(c, maxWebhookBodyBytes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_payload"})
		return
	}

	outcome, err := h.ingestor.IngestPayload(c.Request.Context(), body)
	switch {
	case errors.Is(err, ingest.ErrInvalidPayload):
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	case err != nil:
		h.logger.Error("mint ingestion failed",
			zap.String("relay_subject", c.GetString(relaySubjectContextKey)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "ingestion_failed"})
		return
	}

	if outcome.Status == ingest.StatusAlreadyProcessed {
		c.JSON(http.StatusOK, mintResponsePayload{
			Success:          true,
			AlreadyProcessed: true,
			Message:          "Already processed",
			NewBadges:        []string{},
		})
		return
	}

	response := mintResponsePayload{
		Success:    true,
		MysteryBox: outcome.BoxDropped,
		XPGranted:  outcome.XPGranted,
		Tier:       string(outcome.Tier),
		NewBadges:  outcome.NewBadges,
	}
	if response.NewBadges == nil {
		response.NewBadges = []string{}
	}
	if outcome.Box != nil {
		response.Rarity = string(outcome.Box.BoxType)
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeRelay(c *gin.Context) {
	claims, err := h.relayAuth.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrExpiredRelayToken), errors.Is(err, auth.ErrMissingRelayToken):
			h.logger.Info("relay token rejected", zap.Error(err))
		default:
			h.logger.Warn("relay token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthorized"})
		return
	}
	c.Set(relaySubjectContextKey, claims.Subject)
	c.Next()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleUserStats(c *gin.Context) {
	address, ok := h.walletParam(c)
	if !ok {
		return
	}
	stats, err := h.profiles.Stats(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *httpHandler) handleUserBadges(c *gin.Context) {
	address, ok := h.walletParam(c)
	if !ok {
		return
	}
	earned, err := h.profiles.Badges(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "badges_unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": earned})
}

type boxPayload struct {
	ID           string    `json:"id"`
	Rarity       string    `json:"rarity"`
	Status       string    `json:"status"`
	MintTxHash   string    `json:"mintTxHash"`
	RewardType   *string   `json:"rewardType,omitempty"`
	RewardAmount *int64    `json:"rewardAmount,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func (h *httpHandler) handleUserBoxes(c *gin.Context) {
	address, ok := h.walletParam(c)
	if !ok {
		return
	}
	boxes, err := h.profiles.Boxes(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boxes_unavailable"})
		return
	}
	payload := make([]boxPayload, 0, len(boxes))
	for _, box := range boxes {
		payload = append(payload, boxPayload{
			ID:           box.ID,
			Rarity:       string(box.BoxType),
			Status:       string(box.Status),
			MintTxHash:   box.MintTxHash,
			RewardType:   box.RewardType,
			RewardAmount: box.RewardAmount,
			CreatedAt:    box.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"boxes": payload})
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	var (
		board profiles.SeasonLeaderboard
		err   error
	)
	if slug := c.Param("slug"); slug == "active" {
		board, err = h.profiles.ActiveLeaderboard(c.Request.Context(), limit)
	} else {
		board, err = h.profiles.Leaderboard(c.Request.Context(), slug, limit)
	}
	switch {
	case errors.Is(err, profiles.ErrNoActiveSeason), errors.Is(err, seasons.ErrSeasonNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "season_not_found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_unavailable"})
		return
	}
	c.JSON(http.StatusOK, board)
}

func (h *httpHandler) handlePieceImage(c *gin.Context) {
	puzzleID, err := strconv.ParseInt(c.Param("puzzleId"), 10, 64)
	if err != nil || puzzleID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_puzzle_id"})
		return
	}
	pieceID, err := strconv.ParseInt(c.Param("pieceId"), 10, 64)
	if err != nil || pieceID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_piece_id"})
		return
	}

	reveal, err := h.revealer.Reveal(c.Request.Context(), h.db, puzzleID, pieceID)
	switch {
	case errors.Is(err, pieces.ErrPieceNotMinted):
		c.JSON(http.StatusForbidden, gin.H{"error": "piece_not_minted"})
		return
	case errors.Is(err, pieces.ErrStorageUnconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unconfigured"})
		return
	case err != nil:
		h.logger.Error("piece reveal failed",
			zap.Int64("puzzle_id", puzzleID),
			zap.Int64("piece_id", pieceID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reveal_failed"})
		return
	}
	c.JSON(http.StatusOK, reveal)
}

func (h *httpHandler) walletParam(c *gin.Context) (users.WalletAddress, bool) {
	address, err := users.NewWalletAddress(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_wallet_address"})
		return "", false
	}
	return address, true
}

func readLimitedBody(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return c.GetRawData()
}
