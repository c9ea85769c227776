package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"content_harvester/internal/domain"
	"content_harvester/internal/scheduler"
	"content_harvester/internal/service"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	defaultRunsPage = 20
)

// CycleLauncher starts an extraction cycle in the background.
type CycleLauncher interface {
	Launch(req service.CycleRequest)
}

type JobController interface {
	Status() []scheduler.JobStatus
	Pause(id string) error
	Resume(id string) error
}

type TermRepository interface {
	List(ctx context.Context, filter domain.TermFilter) ([]domain.SearchTerm, error)
	GetMany(ctx context.Context, terms []string) ([]domain.SearchTerm, error)
	Upsert(ctx context.Context, term *domain.SearchTerm) error
}

type RecordReader interface {
	List(ctx context.Context, filter domain.RecordFilter) ([]domain.ContentRecord, error)
	GetByID(ctx context.Context, id string) (*domain.ContentRecord, error)
}

type RunLogReader interface {
	Recent(ctx context.Context, limit int) ([]domain.RunLogEntry, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	cycles  CycleLauncher
	jobs    JobController
	terms   TermRepository
	records RecordReader
	runs    RunLogReader
	health  Pinger
	logger  *slog.Logger
}

func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		cycles:  deps.Cycles,
		jobs:    deps.Jobs,
		terms:   deps.Terms,
		records: deps.Records,
		runs:    deps.Runs,
		health:  deps.Health,
		logger:  deps.Logger,
	}
}

type ExtractRequest struct {
	Terms []string `json:"terms"`
	Limit int      `json:"limit" binding:"omitempty,min=1,max=100"`
	Lang  string   `json:"lang" binding:"omitempty,max=8"`
}

type ExtractResponse struct {
	RunID    string   `json:"run_id"`
	Accepted []string `json:"accepted"`
	Unknown  []string `json:"unknown"`
	Inactive []string `json:"inactive"`
}

// TriggerExtraction validates the requested terms and starts a cycle for the
// runnable ones. With no terms, every active term is extracted regardless of
// its run interval.
func (h *Handler) TriggerExtraction(c *gin.Context) {
	var req ExtractRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
	}

	resp := ExtractResponse{
		RunID:    uuid.NewString(),
		Accepted: []string{},
		Unknown:  []string{},
		Inactive: []string{},
	}

	if len(req.Terms) > 0 {
		found, err := h.terms.GetMany(c.Request.Context(), req.Terms)
		if err != nil {
			h.logger.Error("Failed to look up terms", "error", err)
			c.JSON(statusFor(err), gin.H{"error": "Failed to look up terms"})
			return
		}

		byName := make(map[string]domain.SearchTerm, len(found))
		for _, t := range found {
			byName[t.Term] = t
		}
		for _, name := range req.Terms {
			t, ok := byName[name]
			switch {
			case !ok:
				resp.Unknown = append(resp.Unknown, name)
			case !t.Active:
				resp.Inactive = append(resp.Inactive, name)
			default:
				resp.Accepted = append(resp.Accepted, name)
			}
		}

		if len(resp.Accepted) == 0 {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No runnable terms", "details": resp})
			return
		}
	}

	h.cycles.Launch(service.CycleRequest{
		RunID:   resp.RunID,
		Trigger: service.TriggerManual,
		Terms:   resp.Accepted,
		Limit:   req.Limit,
		Lang:    req.Lang,
		Force:   true,
	})

	h.logger.Info("Extraction triggered",
		"run_id", resp.RunID,
		"accepted", len(resp.Accepted),
		"unknown", len(resp.Unknown),
		"inactive", len(resp.Inactive),
	)

	c.JSON(http.StatusAccepted, resp)
}

func (h *Handler) SchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": h.jobs.Status()})
}

func (h *Handler) PauseJob(c *gin.Context) {
	h.changeJob(c, h.jobs.Pause)
}

func (h *Handler) ResumeJob(c *gin.Context) {
	h.changeJob(c, h.jobs.Resume)
}

func (h *Handler) changeJob(c *gin.Context, change func(string) error) {
	id := c.Param("id")

	if err := change(id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		case errors.Is(err, scheduler.ErrAlreadyPaused), errors.Is(err, scheduler.ErrNotPaused):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("Failed to change job state", "job_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to change job state"})
		}
		return
	}

	for _, st := range h.jobs.Status() {
		if st.ID == id {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

type termQuery struct {
	Active   *bool  `form:"active"`
	Tag      string `form:"tag"`
	Priority int    `form:"priority" binding:"omitempty,min=1,max=5"`
}

func (h *Handler) ListTerms(c *gin.Context) {
	var q termQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query", "details": err.Error()})
		return
	}

	terms, err := h.terms.List(c.Request.Context(), domain.TermFilter{
		Active:   q.Active,
		Tag:      q.Tag,
		Priority: q.Priority,
	})
	if err != nil {
		h.logger.Error("Failed to list terms", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Failed to list terms"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"terms": terms,
		"count": len(terms),
	})
}

type TermRequest struct {
	Active             *bool    `json:"active"`
	Priority           int      `json:"priority" binding:"required,min=1,max=5"`
	Description        *string  `json:"description"`
	MaxRecordsPerRun   int      `json:"max_records_per_run" binding:"min=0"`
	RunIntervalMinutes int      `json:"run_interval_minutes" binding:"min=0"`
	Tags               []string `json:"tags"`
}

// UpsertTerm creates or replaces a term's definition. Run metadata is kept.
func (h *Handler) UpsertTerm(c *gin.Context) {
	var req TermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	term := domain.SearchTerm{
		Term:               c.Param("term"),
		Active:             true,
		Priority:           req.Priority,
		Description:        req.Description,
		MaxRecordsPerRun:   req.MaxRecordsPerRun,
		RunIntervalMinutes: req.RunIntervalMinutes,
		Tags:               req.Tags,
	}
	if req.Active != nil {
		term.Active = *req.Active
	}

	if err := term.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid term", "details": err.Error()})
		return
	}

	if err := h.terms.Upsert(c.Request.Context(), &term); err != nil {
		h.logger.Error("Failed to save term", "term", term.Term, "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Failed to save term"})
		return
	}

	h.logger.Info("Term saved", "term", term.Term, "priority", term.Priority, "active", term.Active)

	c.JSON(http.StatusOK, term)
}

type recordQuery struct {
	Term     string  `form:"term"`
	MinScore float64 `form:"min_score" binding:"min=0,max=100"`
	Limit    uint64  `form:"limit" binding:"max=500"`
	Offset   uint64  `form:"offset"`
}

func (h *Handler) ListRecords(c *gin.Context) {
	var q recordQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query", "details": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultPageSize
	}
	q.Limit = min(q.Limit, maxPageSize)

	records, err := h.records.List(c.Request.Context(), domain.RecordFilter{
		Term:     q.Term,
		MinScore: q.MinScore,
		Limit:    q.Limit,
		Offset:   q.Offset,
	})
	if err != nil {
		h.logger.Error("Failed to list records", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Failed to list records"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func (h *Handler) GetRecord(c *gin.Context) {
	id := c.Param("id")

	record, err := h.records.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		h.logger.Error("Failed to get record", "record_id", id, "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Failed to get record"})
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunsPage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list runs", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Failed to list runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

func (h *Handler) Health(c *gin.Context) {
	if err := h.health.PingContext(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(err error) int {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
