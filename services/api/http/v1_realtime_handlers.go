package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1RealtimeAverages returns the average price per fuel type
// GET /api/v1/realtime/averages
func (s *Server) handleV1RealtimeAverages(c *gin.Context) {
	averages := s.dash.Averages()
	c.JSON(http.StatusOK, gin.H{
		"data": averages,
		"meta": gin.H{
			"fuel_types":   len(averages),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleV1RealtimeTrend returns time-sorted prices per fuel type
// GET /api/v1/realtime/trend?fueltype=E10
func (s *Server) handleV1RealtimeTrend(c *gin.Context) {
	series := s.dash.Trend(c.Query("fueltype"))
	c.JSON(http.StatusOK, gin.H{
		"data": series,
		"meta": gin.H{
			"series":       len(series),
			"generated_at": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleV1RealtimeMap returns stations joined with their latest prices
// GET /api/v1/realtime/map
func (s *Server) handleV1RealtimeMap(c *gin.Context) {
	stations := s.dash.Map()
	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{
			"stations_count": len(stations),
			"generated_at":   time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// handleV1RealtimeWS streams cleaned records as they arrive
// GET /api/v1/realtime/ws
func (s *Server) handleV1RealtimeWS(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live stream disabled"})
		return
	}
	s.hub.ServeHTTP(c.Writer, c.Request)
}
