package http

// registerV1Routes sets up the v1 API structure
// Groups: /api/v1/core, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	// Core endpoints - stored stations and prices
	core := v1.Group("/core")
	{
		core.GET("/stations", s.handleV1ListStations)
		core.GET("/stations/:code", s.handleV1GetStation)
		core.GET("/stations/:code/prices", s.handleV1StationPrices)
		core.GET("/prices/latest", s.handleV1LatestPrices)
	}

	// Realtime endpoints - in-memory views of the cleaned topics
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/averages", s.handleV1RealtimeAverages)
		realtime.GET("/trend", s.handleV1RealtimeTrend)
		realtime.GET("/map", s.handleV1RealtimeMap)
		realtime.GET("/ws", s.handleV1RealtimeWS)
	}
}
