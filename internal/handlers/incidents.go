package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crisisops/floodwatch/internal/models"
)

// IncidentStore is the slice of the store the dashboard needs.
type IncidentStore interface {
	ActiveIncidents(ctx context.Context) ([]models.GeocodedEvent, error)
	ToggleDispatch(ctx context.Context, sourceEventID int64) (string, error)
	CompleteIncident(ctx context.Context, sourceEventID int64) error
}

// RegisterIncidentRoutes registers the map-dashboard endpoints.
//
// GET  /api/incidents                — active set: geocoded, not completed
// POST /api/incidents/:id/dispatch   — toggle reported ⇄ dispatched
// POST /api/incidents/:id/complete   — terminal completed state
func RegisterIncidentRoutes(r gin.IRoutes, st IncidentStore) {
	r.GET("/api/incidents", func(c *gin.Context) {
		incidents, err := st.ActiveIncidents(c.Request.Context())
		if err != nil {
			// Read endpoints degrade to an empty set so the map keeps
			// rendering through a store outage.
			slog.Error("dashboard: list incidents", "err", err)
			c.JSON(http.StatusOK, []models.GeocodedEvent{})
			return
		}
		if incidents == nil {
			incidents = []models.GeocodedEvent{}
		}
		c.JSON(http.StatusOK, incidents)
	})

	r.POST("/api/incidents/:id/dispatch", func(c *gin.Context) {
		id, ok := incidentID(c)
		if !ok {
			return
		}

		newStatus, err := st.ToggleDispatch(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"success": true, "new_status": newStatus})
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "incident not found"})
		case errors.Is(err, models.ErrCompleted):
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": "incident already completed"})
		default:
			slog.Error("dashboard: dispatch toggle", "id", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "store failure"})
		}
	})

	r.POST("/api/incidents/:id/complete", func(c *gin.Context) {
		id, ok := incidentID(c)
		if !ok {
			return
		}

		err := st.CompleteIncident(c.Request.Context(), id)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"success": true})
		case errors.Is(err, models.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "incident not found"})
		default:
			slog.Error("dashboard: complete", "id", id, "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "store failure"})
		}
	})
}

func incidentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid incident id"})
		return 0, false
	}
	return id, true
}
