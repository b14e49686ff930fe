package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"wallet-auth/internal/domain"
	"wallet-auth/internal/service"
)

type activityRequest struct {
	Activity string  `json:"activity" binding:"required"`
	Quantity float64 `json:"quantity"`
}

type estimateRequest struct {
	Activities []activityRequest `json:"activities" binding:"required,min=1,max=100,dive"`
}

type EmissionLineResponse struct {
	Activity string  `json:"activity"`
	Unit     string  `json:"unit"`
	Quantity float64 `json:"quantity"`
	Factor   float64 `json:"kg_co2e_per_unit"`
	KgCO2e   float64 `json:"kg_co2e"`
}

type EstimateResponse struct {
	Lines       []EmissionLineResponse `json:"lines"`
	TotalKgCO2e float64                `json:"total_kg_co2e"`
}

func (h *Handler) listFactors(c *gin.Context) {
	c.JSON(http.StatusOK, h.emissions.Factors())
}

func (h *Handler) estimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	activities := make([]domain.Activity, len(req.Activities))
	for i, a := range req.Activities {
		activities[i] = domain.Activity{Activity: a.Activity, Quantity: a.Quantity}
	}

	estimate, err := h.emissions.Estimate(activities)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownActivity),
			errors.Is(err, service.ErrInvalidQuantity),
			errors.Is(err, service.ErrNoActivities):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.internalError(c, "estimate emissions", err)
		}
		return
	}

	resp := EstimateResponse{
		Lines:       make([]EmissionLineResponse, len(estimate.Lines)),
		TotalKgCO2e: estimate.TotalKgCO2e,
	}
	for i, line := range estimate.Lines {
		resp.Lines[i] = EmissionLineResponse{
			Activity: line.Activity,
			Unit:     line.Unit,
			Quantity: line.Quantity,
			Factor:   line.Factor,
			KgCO2e:   line.KgCO2e,
		}
	}
	c.JSON(http.StatusOK, resp)
}
