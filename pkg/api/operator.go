package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pipeheal/pipeheal/pkg/events"
)

// listBreakers returns every breaker's current state
func (s *Server) listBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"circuit_breakers": s.executor.Breakers().SnapshotAll(),
	})
}

// resetBreaker forces one breaker back to CLOSED
func (s *Server) resetBreaker(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "breaker key is required"})
		return
	}

	status := s.executor.Breakers().Reset(key)
	s.broker.Publish(&events.Event{
		Type:     events.EventBreakerReset,
		Message:  "breaker " + key + " reset by operator",
		Metadata: map[string]string{"breaker": key},
	})
	c.JSON(http.StatusOK, gin.H{"circuit_breaker": status})
}

// listErrorTypes returns the error types the registry can handle
func (s *Server) listErrorTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supported_error_types": s.executor.Registry().List(),
	})
}

// listPlaybooks returns the operator view of the registry
func (s *Server) listPlaybooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"playbooks": s.executor.Registry().PublicView(),
	})
}

// listTickets returns all tickets, newest first
func (s *Server) listTickets(c *gin.Context) {
	if s.tickets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ticket store not configured"})
		return
	}
	tickets, err := s.tickets.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickets": tickets})
}

// getTicket returns one ticket with its audit trail
func (s *Server) getTicket(c *gin.Context) {
	if s.tickets == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ticket store not configured"})
		return
	}
	tk, err := s.tickets.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	audit, err := s.tickets.Audit(tk.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket": tk, "audit": audit})
}
