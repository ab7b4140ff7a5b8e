package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mahesa/swara/internal/auth"
	"github.com/mahesa/swara/internal/diagnostics"
	"github.com/mahesa/swara/internal/engine"
	"github.com/mahesa/swara/internal/websocket"
)

// Deps carries the services the telemetry API exposes.
type Deps struct {
	Engine      *engine.Engine
	Diagnostics *diagnostics.Recorder
	Hub         *websocket.Hub
	// FeedAccessKey gates token issuance; empty disables the auth endpoint.
	FeedAccessKey string
	Logger        *zap.Logger
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Deps) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "swara",
		})
	})

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.GET("/state", func(c echo.Context) error {
		return c.JSON(http.StatusOK, deps.Engine.Snapshot())
	})

	v1.GET("/diagnostics", func(c echo.Context) error {
		return c.JSON(http.StatusOK, deps.Diagnostics.TakeSnapshot())
	})

	v1.POST("/feed/auth", func(c echo.Context) error {
		return feedAuth(c, deps)
	})

	// WebSocket feed endpoint with JWT validation
	e.GET("/ws", func(c echo.Context) error {
		return websocketWithAuth(deps.Hub, c, deps.Logger)
	})
}

func feedAuth(c echo.Context, deps Deps) error {
	var req FeedAuthRequest

	if err := c.Bind(&req); err != nil {
		deps.Logger.Error("Failed to bind feed auth request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.ClientID == "" || req.AccessKey == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "Client id and access key are required",
		})
	}

	if deps.FeedAccessKey == "" {
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "feed_disabled",
			Message: "Feed authentication is not configured",
		})
	}

	if subtle.ConstantTimeCompare([]byte(req.AccessKey), []byte(deps.FeedAccessKey)) != 1 {
		deps.Logger.Warn("Feed authentication failed",
			zap.String("client_id", req.ClientID))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "authentication_failed",
			Message: "Invalid access key",
		})
	}

	token, err := auth.GenerateFeedToken(req.ClientID)
	if err != nil {
		deps.Logger.Error("Failed to generate feed token",
			zap.String("client_id", req.ClientID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	// Expiration mirrors the JWT claims set at issue time.
	expiresAt := time.Now().Add(24 * time.Hour)

	deps.Logger.Info("Feed client authenticated",
		zap.String("client_id", req.ClientID))

	return c.JSON(http.StatusOK, FeedAuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

// websocketWithAuth handles WebSocket connections with JWT authentication
func websocketWithAuth(hub *websocket.Hub, c echo.Context, logger *zap.Logger) error {
	// Extract JWT token from Authorization header only
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" && len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}

	if token == "" {
		logger.Warn("WebSocket connection rejected: missing token")
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "missing_token",
			Message: "JWT token is required in Authorization header",
		})
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	if claims.Role != "feed" && claims.Role != "admin" {
		logger.Warn("WebSocket connection rejected: invalid role",
			zap.String("role", claims.Role))
		return c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "invalid_role",
			Message: "Only feed tokens are allowed for WebSocket connections",
		})
	}

	clientID := claims.ClientID
	if clientID == "" {
		logger.Error("WebSocket connection rejected: missing client ID in token")
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_token_claims",
			Message: "Client ID not found in token",
		})
	}

	logger.Info("WebSocket connection authenticated",
		zap.String("client_id", clientID),
		zap.String("role", claims.Role))

	return websocket.ServeFeed(hub, c, clientID, logger)
}
