package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/RoleInvite/internal/utils"
	"github.com/Gopher0727/RoleInvite/middleware/jwt"
	logger "github.com/Gopher0727/RoleInvite/middleware/log"
	"github.com/Gopher0727/RoleInvite/utils/ratelimit"
)

const (
	ctxClaims    = "claims"
	ctxModerator = "moderator_id"
	ctxCommand   = "command"
)

// MiddlewareManager bundles the request middlewares of the command API.
type MiddlewareManager struct {
	tokenManager *jwt.TokenManager
	rateLimiter  ratelimit.Limiter
	logger       *logger.Logger
}

func NewMiddlewareManager(tokenManager *jwt.TokenManager, rateLimiter ratelimit.Limiter, log *logger.Logger) *MiddlewareManager {
	return &MiddlewareManager{
		tokenManager: tokenManager,
		rateLimiter:  rateLimiter,
		logger:       log,
	}
}

// Trace attaches a trace id to the request context, reusing X-Trace-ID.
func (m *MiddlewareManager) Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := logger.WithTraceID(c.Request.Context(), c.GetHeader("X-Trace-ID"))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-ID", logger.GetTraceID(ctx))
		c.Next()
	}
}

func (m *MiddlewareManager) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// 浏览器的 websocket 无法设置请求头，控制台改用 query 传 token
			if token := c.Query("access_token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			abortWithError(c, http.StatusUnauthorized, "authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithError(c, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := m.tokenManager.ParseToken(parts[1])
		if err != nil {
			m.logger.WarnContext(c.Request.Context(), "Token validation failed",
				zap.Error(err),
				zap.String("ip", c.ClientIP()),
			)

			message := "invalid token"
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				message = "token has expired"
			case errors.Is(err, jwt.ErrTokenNotYetValid):
				message = "token not yet valid"
			}
			abortWithError(c, http.StatusUnauthorized, message)
			return
		}

		c.Set(ctxClaims, claims)
		c.Set(ctxModerator, claims.ModeratorID)
		c.Next()
	}
}

// CommunityAccess validates :community_id and checks the token covers it.
func (m *MiddlewareManager) CommunityAccess() gin.HandlerFunc {
	return func(c *gin.Context) {
		community := c.Param("community_id")
		if !utils.ValidateID(community) {
			abortWithError(c, http.StatusBadRequest, "invalid community id")
			return
		}
		claims := c.MustGet(ctxClaims).(*jwt.Claims)
		if !claims.CanManage(community) {
			abortWithError(c, http.StatusForbidden, "not a moderator of this community")
			return
		}
		c.Next()
	}
}

// RateLimit limits mutating commands per moderator.
func (m *MiddlewareManager) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "command:" + c.GetString(ctxModerator)

		d, err := m.rateLimiter.Allow(c.Request.Context(), key)
		if err != nil {
			m.logger.ErrorContext(c.Request.Context(), "Rate limit check failed", zap.Error(err), zap.String("key", key))
			abortWithError(c, http.StatusInternalServerError, "rate limit check failed")
			return
		}
		if !d.Allowed {
			retry := int(d.RetryAfter.Round(time.Second).Seconds())
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": retry,
			})
			return
		}
		c.Next()
	}
}

// Logger logs each request with a level by status class.
func (m *MiddlewareManager) Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if moderator := c.GetString(ctxModerator); moderator != "" {
			fields = append(fields, zap.String("moderator_id", moderator))
		}

		log := m.logger.WithContext(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("Server error", fields...)
		case status >= 400:
			log.Warn("Client error", fields...)
		default:
			log.Debug("Request completed", fields...)
		}
	}
}

func (m *MiddlewareManager) Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.ErrorContext(c.Request.Context(), "Panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)
				abortWithError(c, http.StatusInternalServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
