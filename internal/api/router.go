package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Dependencies struct {
	Cycles  CycleLauncher
	Jobs    JobController
	Terms   TermRepository
	Records RecordReader
	Runs    RunLogReader
	Health  Pinger
	Metrics http.Handler
	Logger  *slog.Logger
}

func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(ginLogger(deps.Logger))
	router.Use(gin.Recovery())

	h := NewHandler(deps)

	router.GET("/health", h.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	v1 := router.Group("/api/v1")

	v1.POST("/extract", h.TriggerExtraction)

	sched := v1.Group("/scheduler")
	sched.GET("/status", h.SchedulerStatus)
	sched.POST("/jobs/:id/pause", h.PauseJob)
	sched.POST("/jobs/:id/resume", h.ResumeJob)

	terms := v1.Group("/terms")
	terms.GET("", h.ListTerms)
	terms.PUT("/:term", h.UpsertTerm)

	records := v1.Group("/records")
	records.GET("", h.ListRecords)
	records.GET("/:id", h.GetRecord)

	v1.GET("/runs", h.ListRuns)

	return router
}

func ginLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status_code", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
		)
	}
}
