package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipeheal/pipeheal/pkg/events"
	"github.com/pipeheal/pipeheal/pkg/extract"
	"github.com/pipeheal/pipeheal/pkg/log"
	"github.com/pipeheal/pipeheal/pkg/metrics"
	"github.com/pipeheal/pipeheal/pkg/types"
)

// alertResponse is what the webhook returns to the alerting system
type alertResponse struct {
	TicketID       string                 `json:"ticket_id"`
	ErrorType      string                 `json:"error_type"`
	AutoHealed     bool                   `json:"auto_healed"`
	Deduplicated   bool                   `json:"deduplicated,omitempty"`
	Classification types.Classification   `json:"classification"`
	Remediation    *types.ExecutionResult `json:"remediation,omitempty"`
}

// handleAlert ingests one failure alert: extract, dedup, classify,
// remediate, audit
func (s *Server) handleAlert(c *gin.Context) {
	logger := log.WithComponent("webhook")

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	failure, err := extract.Parse(payload, c.Param("source"))
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues("unknown", "rejected").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	source := string(failure.Source)

	// duplicate alerts for a run we already ticketed are acknowledged
	// without re-running recovery
	if failure.RunID != "" && s.tickets != nil {
		if existing, err := s.tickets.GetByRunID(failure.RunID); err == nil {
			metrics.WebhookRequestsTotal.WithLabelValues(source, "duplicate").Inc()
			c.JSON(http.StatusOK, alertResponse{
				TicketID:     existing.ID,
				ErrorType:    existing.ErrorType,
				Deduplicated: true,
			})
			return
		}
	}

	verdict, err := s.classifier.Classify(c.Request.Context(), failure)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(source, "error").Inc()
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("classification failed: %v", err)})
		return
	}

	tk := &types.Ticket{
		Source:         failure.Source,
		RunID:          failure.RunID,
		PipelineName:   failure.PipelineName,
		JobID:          failure.JobID,
		ClusterID:      failure.ClusterID,
		ErrorType:      verdict.ErrorType,
		ErrorMessage:   failure.ErrorMessage,
		Classification: verdict,
	}
	if s.tickets != nil {
		if err := s.tickets.Create(tk); err != nil {
			logger.Error().Err(err).Msg("failed to create ticket")
		} else {
			metrics.TicketsTotal.WithLabelValues(source).Inc()
			s.broker.Publish(&events.Event{
				Type:    events.EventTicketCreated,
				Message: fmt.Sprintf("ticket %s opened for %s (%s)", tk.ID, verdict.ErrorType, source),
				Metadata: map[string]string{
					"ticket_id":  tk.ID,
					"error_type": verdict.ErrorType,
				},
			})
		}
	}

	resp := alertResponse{
		TicketID:       tk.ID,
		ErrorType:      verdict.ErrorType,
		Classification: verdict,
	}

	if !verdict.AutoHealPossible {
		s.audit(tk.ID, "classified", "auto-heal not possible, escalating", false)
		s.setTicketStatus(tk.ID, types.TicketEscalated)
		metrics.WebhookRequestsTotal.WithLabelValues(source, "escalated").Inc()
		c.JSON(http.StatusOK, resp)
		return
	}

	result := s.executor.Execute(c.Request.Context(), types.RecoveryRequest{
		ErrorType: verdict.ErrorType,
		TicketID:  tk.ID,
		Metadata:  extract.Metadata(failure),
	})
	resp.Remediation = &result
	resp.AutoHealed = result.Success

	s.audit(tk.ID, "remediation", result.Message, result.Success)
	if result.Success {
		s.setTicketStatus(tk.ID, types.TicketRemediated)
	} else {
		s.setTicketStatus(tk.ID, types.TicketEscalated)
	}

	metrics.WebhookRequestsTotal.WithLabelValues(source, "processed").Inc()
	c.JSON(http.StatusOK, resp)
}

func (s *Server) audit(ticketID, action, detail string, success bool) {
	if s.tickets == nil || ticketID == "" {
		return
	}
	err := s.tickets.AppendAudit(types.AuditEntry{
		TicketID: ticketID,
		Action:   action,
		Detail:   detail,
		Success:  success,
	})
	if err != nil {
		auditLogger := log.WithComponent("webhook")
		auditLogger.Warn().Err(err).Msg("failed to append audit entry")
	}
}

func (s *Server) setTicketStatus(ticketID string, status types.TicketStatus) {
	if s.tickets == nil || ticketID == "" {
		return
	}
	if err := s.tickets.UpdateStatus(ticketID, status); err != nil {
		statusLogger := log.WithComponent("webhook")
		statusLogger.Warn().Err(err).Msg("failed to update ticket status")
	}
}
