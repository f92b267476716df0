package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/internal/models"
	"github.com/WYJ-Jason/COMP5339DataEngineering-RealTimeFuelAnalysis/services/api/db"
)

// handleV1ListStations returns the latest stored row per station
// GET /api/v1/core/stations
func (s *Server) handleV1ListStations(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	stations, err := s.store.ListStations(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": stations,
		"meta": gin.H{
			"count": len(stations),
		},
	})
}

// handleV1GetStation returns details for a specific station
// GET /api/v1/core/stations/:code
func (s *Server) handleV1GetStation(c *gin.Context) {
	code := c.Param("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "station code is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	station, err := s.store.GetStation(ctx, code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if station == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "station not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": station,
	})
}

// handleV1StationPrices returns the stored price history of a station
// GET /api/v1/core/stations/:code/prices?fueltype=E10&last_n=50&start=...&end=...
// start and end use the feed layout (DD/MM/YYYY HH:MM:SS) or RFC3339.
func (s *Server) handleV1StationPrices(c *gin.Context) {
	q := db.PriceQuery{
		StationCode: c.Param("code"),
		FuelType:    c.Query("fueltype"),
		Limit:       s.cfg.DefaultLimit,
	}

	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_n"})
			return
		}
		q.Limit = parsed
	}

	if startStr := c.Query("start"); startStr != "" {
		t, err := parseQueryTime(startStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start timestamp"})
			return
		}
		q.Since = &t
	}

	if endStr := c.Query("end"); endStr != "" {
		t, err := parseQueryTime(endStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end timestamp"})
			return
		}
		q.Until = &t
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	prices, err := s.store.PriceHistory(ctx, q)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": prices,
		"meta": gin.H{
			"stationcode": q.StationCode,
			"count":       len(prices),
		},
	})
}

// handleV1LatestPrices returns the newest stored price per station and fuel type
// GET /api/v1/core/prices/latest?fueltype=E10
func (s *Server) handleV1LatestPrices(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	prices, err := s.store.LatestPrices(ctx, c.Query("fueltype"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": prices,
		"meta": gin.H{
			"count": len(prices),
		},
	})
}

func parseQueryTime(v string) (time.Time, error) {
	if ts, err := models.ParseTimestamp(v); err == nil {
		return ts.Time, nil
	}
	return time.Parse(time.RFC3339, v)
}
