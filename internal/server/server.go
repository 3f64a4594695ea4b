// Package server exposes batch submission and status over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	core "github.com/3cpo-dev/simbatch/internal/core"
	"github.com/3cpo-dev/simbatch/pkg/api"
)

// Server runs at most one batch at a time in the background and keeps the
// status of every batch submitted since it started.
type Server struct {
	ctx     context.Context
	orch    *core.Orchestrator
	store   *core.Store
	version string

	mu     sync.Mutex
	runs   map[string]*api.RunStatus
	active string
	wg     sync.WaitGroup
}

// New builds a server. Batches it starts are cancelled when ctx is done.
// store may be nil, in which case the history endpoints answer 503.
func New(ctx context.Context, orch *core.Orchestrator, store *core.Store, version string) *Server {
	return &Server{ctx: ctx, orch: orch, store: store, version: version, runs: map[string]*api.RunStatus{}}
}

// Router builds the HTTP routes.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", s.health)
	router.GET("/jobs", s.listJobs)
	router.POST("/runs", s.submitRun)
	router.GET("/runs", s.listRuns)
	router.GET("/runs/:id", s.getRun)
	router.GET("/history", s.history)
	router.GET("/history/:id", s.historyRun)
	return router
}

// Wait blocks until background batches have returned.
func (s *Server) Wait() { s.wg.Wait() }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	}
}

func (s *Server) health(c *gin.Context) {
	s.mu.Lock()
	busy := s.active != ""
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version, "busy": busy})
}

type jobView struct {
	Index  int          `json:"index"`
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Folder string       `json:"folder"`
	State  api.JobState `json:"state"`
}

func (s *Server) listJobs(c *gin.Context) {
	batch, err := s.orch.ListJobs()
	if err != nil {
		if errors.Is(err, core.ErrNoJobsFound) {
			c.JSON(http.StatusOK, gin.H{"jobs": []jobView{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]jobView, 0, len(batch))
	for _, j := range batch {
		out = append(out, jobView{Index: j.Index, ID: j.ID, Name: j.Name, Folder: j.Folder, State: j.State})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

type submitRequest struct {
	Workers int `json:"workers"`
}

func (s *Server) submitRun(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Workers < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workers must be positive"})
		return
	}
	workers := req.Workers
	if workers == 0 {
		workers = s.orch.Config().Workers
	}

	s.mu.Lock()
	if s.active != "" {
		active := s.active
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a batch is already running", "id": active})
		return
	}
	st := &api.RunStatus{ID: uuid.NewString(), State: api.RunQueued, Workers: workers, CreatedAt: time.Now()}
	s.runs[st.ID] = st
	s.active = st.ID
	view := *st
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(st.ID, workers)
	c.JSON(http.StatusAccepted, view)
}

func (s *Server) execute(id string, workers int) {
	defer s.wg.Done()
	s.mu.Lock()
	s.runs[id].State = api.RunRunning
	s.mu.Unlock()
	log.Info().Str("id", id).Int("workers", workers).Msg("Starting batch")

	res, err := s.orch.Run(s.ctx, workers)

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = ""
	st := s.runs[id]
	st.FinishedAt = &now
	if err != nil {
		st.State = api.RunFailed
		st.ExitCode = 1
		st.Error = err.Error()
		log.Error().Err(err).Str("id", id).Msg("Batch aborted")
		return
	}
	st.Total, st.Succeeded, st.Skipped, st.Failed = res.Total(), res.Succeeded, res.Skipped, res.Failed
	st.ExitCode = res.Code
	for _, f := range res.Failures {
		st.Failures = append(st.Failures, f.Folder+": "+f.Err.Error())
	}
	st.State = api.RunCompleted
	if res.Code != 0 {
		st.State = api.RunFailed
	}
	log.Info().Str("id", id).Int("code", res.Code).Msg("Batch finished")
}

func (s *Server) listRuns(c *gin.Context) {
	s.mu.Lock()
	out := make([]api.RunStatus, 0, len(s.runs))
	for _, st := range s.runs {
		out = append(out, *st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) getRun(c *gin.Context) {
	s.mu.Lock()
	st, ok := s.runs[c.Param("id")]
	var view api.RunStatus
	if ok {
		view = *st
	}
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) history(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger disabled"})
		return
	}
	limit := 20
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []api.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) historyRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger disabled"})
		return
	}
	sims, err := s.store.ListSimulations(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(sims) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"simulations": sims})
}
