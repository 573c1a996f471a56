package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	kbdomain "github.com/zimmerhq/zimmer/internal/kb/domain"
	ledgerdomain "github.com/zimmerhq/zimmer/internal/ledger/domain"
	provisioningdomain "github.com/zimmerhq/zimmer/internal/provisioning/domain"
	"github.com/zimmerhq/zimmer/pkg/db/pagination"
)

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil {
		return 0, invalidRequestError()
	}
	return id, nil
}

type createGrantBody struct {
	AutomationID snowflake.ID `json:"automation_id" binding:"required"`
	BotToken     *string      `json:"bot_token,omitempty"`
}

func (s *Server) CreateGrant(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var body createGrantBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.ledgerSvc.CreateGrant(c.Request.Context(), ledgerdomain.CreateGrantRequest{
		UserID:       user.ID,
		AutomationID: body.AutomationID,
		BotToken:     body.BotToken,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, grant)
}

func (s *Server) ListGrants(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	grants, err := s.ledgerSvc.ListGrantsByUser(c.Request.Context(), user.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

// ownedGrant loads a grant and enforces that the caller owns it. Admins can
// reach any grant.
func (s *Server) ownedGrant(c *gin.Context) (*ledgerdomain.UserAutomationGrant, error) {
	user, ok := currentUser(c)
	if !ok {
		return nil, ErrUnauthorized
	}

	id, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}

	grant, err := s.ledgerSvc.GetGrant(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if grant.UserID != user.ID && !user.IsAdmin() {
		return nil, ErrForbidden
	}
	return grant, nil
}

func (s *Server) GetGrant(c *gin.Context) {
	grant, err := s.ownedGrant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (s *Server) ListGrantEvents(c *gin.Context) {
	grant, err := s.ownedGrant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	events, nextToken, err := s.ledgerSvc.ListEvents(c.Request.Context(), ledgerdomain.ListEventsRequest{
		GrantID:   grant.ID,
		PageSize:  page.PageSize,
		PageToken: page.PageToken,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{"events": events}
	if nextToken != "" {
		resp["next_page_token"] = nextToken
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) ProvisionGrant(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.provisionSvc.Provision(c.Request.Context(), provisioningdomain.ProvisionRequest{
		GrantID: id,
		ActorID: user.ID,
		IsAdmin: user.IsAdmin(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) kbRequest(c *gin.Context) (kbdomain.Request, error) {
	user, ok := currentUser(c)
	if !ok {
		return kbdomain.Request{}, ErrUnauthorized
	}

	id, err := pathID(c, "id")
	if err != nil {
		return kbdomain.Request{}, err
	}

	return kbdomain.Request{
		GrantID: id,
		ActorID: user.ID,
		IsAdmin: user.IsAdmin(),
	}, nil
}

func (s *Server) KBStatus(c *gin.Context) {
	req, err := s.kbRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status, err := s.kbSvc.Status(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) KBReset(c *gin.Context) {
	req, err := s.kbRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.kbSvc.Reset(c.Request.Context(), req); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
