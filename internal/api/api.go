package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"farm-market-monitor/internal/database"
	"farm-market-monitor/internal/services/analysis"
	"farm-market-monitor/internal/services/export"
	"farm-market-monitor/internal/services/location"
	"farm-market-monitor/internal/services/scheduler"
)

type APIHandler struct {
	store *database.Store
	sched *scheduler.Scheduler
	hub   *Hub
}

func SetupRoutes(r *gin.RouterGroup, store *database.Store, sched *scheduler.Scheduler, hub *Hub) *APIHandler {
	handler := &APIHandler{store: store, sched: sched, hub: hub}

	r.GET("/health", handler.Health)

	prices := r.Group("/prices")
	{
		prices.GET("", handler.ListPrices)
		prices.POST("/query", handler.QueryPrices)
		prices.GET("/export", handler.ExportPrices)
		prices.GET("/nearby", handler.NearbyPrices)
		prices.POST("/nearby", handler.NearbyPrices)
	}

	r.GET("/provinces", handler.ListProvinces)
	r.GET("/markets", handler.ListMarkets)
	r.GET("/markets/:name/prices", handler.MarketPrices)
	r.GET("/varieties", handler.ListVarieties)
	r.GET("/varieties/trend", handler.VarietyTrend)
	r.GET("/statistics", handler.Statistics)

	sch := r.Group("/scheduler")
	{
		sch.GET("/status", handler.SchedulerStatus)
		sch.POST("/crawl", handler.TriggerCrawl)
	}

	return handler
}

func (h *APIHandler) Health(c *gin.Context) {
	count, err := h.store.TodayRecordCount()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	resp := gin.H{
		"status":             "ok",
		"today_record_count": count,
		"time":               time.Now().Format("2006-01-02 15:04:05"),
	}
	if last, err := h.store.LastCrawlTime(); err == nil && !last.IsZero() {
		resp["last_crawl"] = last.Format("2006-01-02 15:04:05")
	}
	c.JSON(http.StatusOK, resp)
}

// filtersFromQuery maps shared query parameters onto store filters.
func filtersFromQuery(c *gin.Context) database.QueryFilters {
	f := database.QueryFilters{
		Province:    c.Query("province"),
		MarketName:  c.Query("market"),
		VarietyName: c.Query("variety"),
		StartDate:   c.Query("start_date"),
		EndDate:     c.Query("end_date"),
	}
	if v, err := strconv.ParseFloat(c.Query("min_price"), 64); err == nil {
		f.MinPrice = v
	}
	if v, err := strconv.ParseFloat(c.Query("max_price"), 64); err == nil {
		f.MaxPrice = v
	}
	return f
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		return 100
	}
	return limit
}

func (h *APIHandler) ListPrices(c *gin.Context) {
	records, err := h.store.QueryPrices(filtersFromQuery(c), queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": records, "count": len(records)})
}

type priceQueryRequest struct {
	database.QueryFilters
	Limit int `json:"limit"`
}

func (h *APIHandler) QueryPrices(c *gin.Context) {
	var req priceQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}
	records, err := h.store.QueryPrices(req.QueryFilters, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": records, "count": len(records)})
}

func (h *APIHandler) ExportPrices(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10000"))
	if err != nil || limit <= 0 {
		limit = 10000
	}
	records, err := h.store.QueryPrices(filtersFromQuery(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filename := "market_prices_" + time.Now().Format("20060102_150405") + format.Extension()
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("Content-Type", format.ContentType())
	if err := export.Write(c.Writer, format, records); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "导出失败: " + err.Error()})
	}
}

type nearbyRequest struct {
	City      string  `json:"city"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	RadiusKm  float64 `json:"radius_km"`
	Province  string  `json:"province"`
	Limit     int     `json:"limit"`
}

// NearbyPrices accepts either query parameters (GET) or a JSON body (POST):
// a city name or a lat/lon pair, with optional radius, province and limit.
func (h *APIHandler) NearbyPrices(c *gin.Context) {
	req := nearbyRequest{
		City:     c.Query("city"),
		Province: c.Query("province"),
	}
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误: " + err.Error()})
			return
		}
	} else {
		req.Latitude, _ = strconv.ParseFloat(c.Query("lat"), 64)
		req.Longitude, _ = strconv.ParseFloat(c.Query("lon"), 64)
		req.RadiusKm, _ = strconv.ParseFloat(c.Query("radius_km"), 64)
		req.Limit, _ = strconv.Atoi(c.Query("limit"))
	}

	var origin location.Coordinate
	switch {
	case req.City != "":
		coord, ok := location.Resolve(req.City)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "未知城市: " + req.City})
			return
		}
		origin = coord
	case req.Latitude != 0 || req.Longitude != 0:
		origin = location.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "需要 city 或 lat/lon 参数"})
		return
	}

	markets, err := h.store.Markets(req.Province)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	ranked := location.Nearby(origin, markets, req.Limit)
	if req.RadiusKm > 0 {
		within := ranked[:0]
		for _, m := range ranked {
			if m.DistanceKm <= req.RadiusKm {
				within = append(within, m)
			}
		}
		ranked = within
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": ranked, "count": len(ranked)})
}

func (h *APIHandler) ListProvinces(c *gin.Context) {
	provinces, err := h.store.Provinces()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": provinces})
}

func (h *APIHandler) ListMarkets(c *gin.Context) {
	markets, err := h.store.Markets(c.Query("province"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": markets, "count": len(markets)})
}

func (h *APIHandler) MarketPrices(c *gin.Context) {
	name := c.Param("name")
	records, err := h.store.MarketSnapshot(name, queryLimit(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": records, "count": len(records)})
}

func (h *APIHandler) ListVarieties(c *gin.Context) {
	varieties, err := h.store.VarietyNames(c.Query("province"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": varieties})
}

// VarietyTrend returns the variety's daily average price series with a trend
// classification and moving averages.
func (h *APIHandler) VarietyTrend(c *gin.Context) {
	variety := c.Query("variety")
	if variety == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "variety 不能为空"})
		return
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		days = 30
	}

	series, err := h.store.VarietyDailySeries(variety, days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	points := make([]analysis.TrendPoint, len(series))
	for i, p := range series {
		points[i] = analysis.TrendPoint{Date: p.Date, AvgPrice: p.AvgPrice}
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": analysis.AnalyzeTrend(points)})
}

func (h *APIHandler) Statistics(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "7"))
	if err != nil || days <= 0 {
		days = 7
	}
	stats, err := h.store.PriceStatistics(c.Query("variety"), c.Query("province"), days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": stats})
}

func (h *APIHandler) SchedulerStatus(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusOK, gin.H{"code": 200, "data": gin.H{"running": false}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": h.sched.Status()})
}

// TriggerCrawl kicks off a crawl cycle in the background and returns
// immediately.
func (h *APIHandler) TriggerCrawl(c *gin.Context) {
	if h.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "调度器未启动"})
		return
	}
	go func() { _ = h.sched.RunCrawlOnce() }()
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "采集已触发"})
}
