package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/rytkhs/event-pay-sub012/internal/payout/domain"
	"go.uber.org/zap"
)

type scheduledPayoutsResponse struct {
	Message        string `json:"message"`
	RunID          string `json:"runId"`
	UpdatesCount   int    `json:"updatesCount"`
	FailedCount    int    `json:"failedCount"`
	SkippedCount   int    `json:"skippedCount"`
	ProcessingTime string `json:"processingTime"`
	DryRun         bool   `json:"dryRun"`
}

// RunScheduledPayouts triggers one batch sweep. Candidate failures do not
// fail the request; only an inability to run the sweep at all is a 500.
func (s *Server) RunScheduledPayouts(c *gin.Context) {
	report, err := s.scheduler.RunOnce(c.Request.Context(), "cron")
	if err != nil {
		s.log.Error("scheduled payout run failed", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, scheduledPayoutsResponse{
		Message:        "payout run finished",
		RunID:          report.RunID,
		UpdatesCount:   report.SucceededCount,
		FailedCount:    report.FailedCount,
		SkippedCount:   report.SkippedCount,
		ProcessingTime: report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
		DryRun:         report.DryRun,
	})
}

type manualPayoutRequest struct {
	Notes string `json:"notes"`
}

type manualPayoutResponse struct {
	PayoutID         string    `json:"payoutId"`
	TransferID       string    `json:"transferId"`
	NetAmount        int64     `json:"netAmount"`
	EstimatedArrival time.Time `json:"estimatedArrival"`
}

// CreateManualPayout settles a single event outside the batch window
// schedule. Eligibility still applies; the response carries the concrete
// business reasons when the event does not qualify.
func (s *Server) CreateManualPayout(c *gin.Context) {
	eventID, err := snowflake.ParseString(strings.TrimSpace(c.Param("eventID")))
	if err != nil || eventID == 0 {
		AbortWithError(c, payoutdomain.ErrInvalidRequest)
		return
	}

	var req manualPayoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, payoutdomain.ErrInvalidRequest)
			return
		}
	}

	event, err := s.eventRepo.FindByID(c.Request.Context(), s.db, eventID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if event == nil {
		AbortWithError(c, payoutdomain.ErrNotFound)
		return
	}

	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		notes = "manual trigger"
	}
	result, err := s.payoutSvc.ProcessPayout(c.Request.Context(), payoutdomain.PayoutRequest{
		EventID:     eventID,
		OrganizerID: event.OrganizerID,
		Notes:       notes,
		Manual:      true,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, manualPayoutResponse{
		PayoutID:         result.PayoutID.String(),
		TransferID:       result.TransferID,
		NetAmount:        result.NetAmount,
		EstimatedArrival: result.EstimatedArrival,
	})
}
