package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	automationdomain "github.com/zimmerhq/zimmer/internal/automation/domain"
)

func (s *Server) ListAutomations(c *gin.Context) {
	automations, err := s.automationSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"automations": automations})
}

// GetAutomation resolves the path segment as a snowflake id first and falls
// back to slug lookup.
func (s *Server) GetAutomation(c *gin.Context) {
	ctx := c.Request.Context()
	param := c.Param("id")

	var (
		auto *automationdomain.Automation
		err  error
	)
	if id, parseErr := snowflake.ParseString(param); parseErr == nil {
		auto, err = s.automationSvc.Get(ctx, id)
	} else {
		auto, err = s.automationSvc.GetBySlug(ctx, param)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, auto)
}

func (s *Server) CreateAutomation(c *gin.Context) {
	var req automationdomain.CreateAutomationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}

	auto, err := s.automationSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, auto)
}
