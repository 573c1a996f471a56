package server

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	authdomain "github.com/zimmerhq/zimmer/internal/auth/domain"
	"github.com/zimmerhq/zimmer/internal/observability/logger"
)

const contextUserKey = "current_user"

func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		user, err := s.authSvc.VerifyToken(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextUserKey, user)
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok || user.Role != authdomain.RoleAdmin {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (*authdomain.User, bool) {
	v, ok := c.Get(contextUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*authdomain.User)
	return user, ok
}

type consumeRateLimitKey struct {
	GrantID string `json:"user_automation_id"`
}

// ConsumeRateLimit throttles debits per grant. The grant id is peeked from
// the request body, which is restored for the handler behind it.
func (s *Server) ConsumeRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()

		grantID, err := readConsumeKey(c)
		if err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
		if grantID == "" {
			c.Next()
			return
		}

		res, err := s.limiter.AllowGrant(ctx, grantID)
		if err != nil {
			logger.FromContext(ctx).Warn("consume rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			AbortWithError(c, ErrTooManyRequests)
			return
		}

		c.Next()
	}
}

func readConsumeKey(c *gin.Context) (string, error) {
	if c.Request.Body == nil {
		return "", nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var key consumeRateLimitKey
	if len(body) > 0 {
		if err := json.Unmarshal(body, &key); err != nil {
			return "", err
		}
	}
	return strings.TrimSpace(key.GrantID), nil
}
