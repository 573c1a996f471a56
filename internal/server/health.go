package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (s *Server) Health(c *gin.Context) {
	uptime := s.clock.Now().Sub(s.startedAt)

	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.cfg.AppVersion,
		"uptime":  uptime.Round(time.Second).String(),
	})
}
