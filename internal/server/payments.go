package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	paymentdomain "github.com/zimmerhq/zimmer/internal/payment/domain"
)

func (s *Server) CreatePayment(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentdomain.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, err)
		return
	}

	grant, err := s.ledgerSvc.GetGrant(c.Request.Context(), req.UserAutomationID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if grant.UserID != user.ID && !user.IsAdmin() {
		AbortWithError(c, ErrForbidden)
		return
	}

	payment, err := s.paymentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

func (s *Server) ListGrantPayments(c *gin.Context) {
	grant, err := s.ownedGrant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payments, err := s.paymentSvc.ListByGrant(c.Request.Context(), grant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

type paymentWebhookBody struct {
	ProviderRef string `json:"provider_ref" binding:"required"`
	Succeeded   bool   `json:"succeeded"`
}

// HandlePaymentWebhook accepts settlement notifications from payment
// providers. A repeated notification for an already settled payment is
// acknowledged instead of erroring so providers stop retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	var body paymentWebhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.HandleCallback(c.Request.Context(), paymentdomain.CallbackRequest{
		Provider:    c.Param("provider"),
		ProviderRef: body.ProviderRef,
		Succeeded:   body.Succeeded,
	})
	if err != nil {
		if errors.Is(err, paymentdomain.ErrAlreadySettled) {
			c.JSON(http.StatusOK, gin.H{"status": "already_settled", "payment": payment})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(payment.Status), "payment": payment})
}
