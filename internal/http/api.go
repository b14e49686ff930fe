package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wallet-auth/internal/domain"
	"wallet-auth/internal/service"
)

const errInternal = "internal server error"

// Handler wires HTTP routes to domain services.
type Handler struct {
	auth      service.AuthService
	emissions service.EmissionService
	logger    *logrus.Logger
}

func NewHandler(auth service.AuthService, emissions service.EmissionService, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handler{
		auth:      auth,
		emissions: emissions,
		logger:    logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger), corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
		})

		authGroup := api.Group("/auth")
		authGroup.GET("/message", h.signInMessage)
		authGroup.POST("/wallet", h.walletSignIn)
		authGroup.POST("/refresh", h.refresh)
		authGroup.POST("/logout", h.logout)
		authGroup.GET("/me", h.requireIdentity(), h.me)

		api.GET("/emissions/factors", h.listFactors)
		api.POST("/emissions/estimate", h.estimate)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("request")
	}
}

// internalError logs err and answers with the generic 500 body.
func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.WithError(err).WithField("op", op).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": errInternal})
}

type walletSignInRequest struct {
	PublicKey string `json:"publicKey" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type UserResponse struct {
	ID          int64   `json:"id"`
	Address     string  `json:"address"`
	Verified    bool    `json:"verified"`
	CreatedAt   string  `json:"created_at"`
	LastLoginAt *string `json:"last_login_at,omitempty"`
}

type SessionResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         UserResponse `json:"user"`
}

func (h *Handler) signInMessage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": h.auth.SignInMessage()})
}

// walletSignIn verifies a signature over the server-defined message. A
// message supplied in the body is ignored.
func (h *Handler) walletSignIn(c *gin.Context) {
	var req walletSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "publicKey and signature are required"})
		return
	}

	session, err := h.auth.SignIn(c.Request.Context(), req.PublicKey, req.Signature)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
		h.internalError(c, "wallet sign-in", err)
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(session))
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	session, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) || errors.Is(err, service.ErrRefreshTokenExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "refresh", err)
		return
	}

	c.JSON(http.StatusOK, sessionToResponse(session))
}

func (h *Handler) logout(c *gin.Context) {
	var req logoutRequest
	// an empty body has no token to revoke and still signs out
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if err := h.auth.SignOut(c.Request.Context(), req.RefreshToken); err != nil {
		h.internalError(c, "logout", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	identity, ok := IdentityFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, identityToResponse(identity))
}

func sessionToResponse(session *service.Session) SessionResponse {
	return SessionResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		User:         identityToResponse(session.Identity),
	}
}

func identityToResponse(identity *domain.Identity) UserResponse {
	resp := UserResponse{
		ID:        identity.ID,
		Address:   identity.PublicKey,
		Verified:  identity.Verified,
		CreatedAt: identity.CreatedAt.UTC().Format(time.RFC3339),
	}
	if identity.LastLoginAt != nil {
		v := identity.LastLoginAt.UTC().Format(time.RFC3339)
		resp.LastLoginAt = &v
	}
	return resp
}
