package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
)

const serviceTokenHeader = "X-Service-Token"

// Consume debits tokens from a grant. It is called by automation services,
// not end users, and authenticates with the automation's shared secret. The
// secret is checked before the ledger is touched.
func (s *Server) Consume(c *gin.Context) {
	var req ledgerdomain.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.verifyServiceToken(c, req.GrantID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.Consume(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) verifyServiceToken(c *gin.Context, grantID snowflake.ID) error {
	presented := strings.TrimSpace(c.GetHeader(serviceTokenHeader))
	if presented == "" {
		return ErrUnauthorized
	}

	ctx := c.Request.Context()

	grant, err := s.ledgerSvc.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	auto, err := s.automationSvc.Get(ctx, grant.AutomationID)
	if err != nil {
		return err
	}
	if auto.ServiceTokenHash == "" {
		return ErrUnauthorized
	}

	sum := sha256.Sum256([]byte(presented))
	presentedHash := hex.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(presentedHash), []byte(auto.ServiceTokenHash)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
