package handlers

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crisisops/floodwatch/internal/models"
)

// pois.json holds the static reference set (police stations, hospitals, fire
// stations) shown alongside incidents. Embedded so the binary is
// self-contained.
//
//go:embed pois.json
var poisJSON []byte

var pois = mustParsePOIs(poisJSON)

func mustParsePOIs(b []byte) []models.PointOfInterest {
	var out []models.PointOfInterest
	if err := json.Unmarshal(b, &out); err != nil {
		panic("handlers: bad embedded pois.json: " + err.Error())
	}
	return out
}

// RegisterPOIRoutes registers the static point-of-interest endpoint.
func RegisterPOIRoutes(r gin.IRoutes) {
	r.GET("/api/pois", func(c *gin.Context) {
		c.JSON(http.StatusOK, pois)
	})
}
