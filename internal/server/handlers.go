package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"postbot/internal/pipeline"
	"postbot/internal/publish"
	"postbot/internal/retention"
	"postbot/internal/storage"
	logx "postbot/pkg/logx"
)

// handleProcess runs one request to completion. The reply carries the
// result even when the run failed; Success mirrors the run.
func (s *Server) handleProcess(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request: "+err.Error(), nil)
		return
	}
	res := s.d.Pipeline.Run(c.Request.Context(), req)
	respond(c, http.StatusOK, res.Success, res.Error, res)
}

func (s *Server) handleDelete(c *gin.Context) {
	var targets []publish.Target
	if err := c.ShouldBindJSON(&targets); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request: "+err.Error(), nil)
		return
	}
	if len(targets) == 0 {
		respondError(c, http.StatusBadRequest, "no messages to delete", nil)
		return
	}
	res := s.d.Retractor.Retract(c.Request.Context(), targets)
	respond(c, http.StatusOK, res.Success, res.Error, res)
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.d.Store == nil {
		respondError(c, http.StatusServiceUnavailable, storage.ErrDisabled.Error(), nil)
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			respondError(c, http.StatusBadRequest, "limit must be 1..500", nil)
			return
		}
		limit = n
	}
	runs, err := s.d.Store.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, runs)
}

type runView struct {
	Run   storage.Run    `json:"run"`
	Posts []storage.Post `json:"live_posts"`
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.d.Store == nil {
		respondError(c, http.StatusServiceUnavailable, storage.ErrDisabled.Error(), nil)
		return
	}
	id := c.Param("id")
	run, err := s.d.Store.GetRun(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	posts, err := s.d.Store.LivePosts(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	respondOK(c, runView{Run: run, Posts: posts})
}

func (s *Server) handleRetractRun(c *gin.Context) {
	if s.d.Runs == nil {
		respondError(c, http.StatusServiceUnavailable, storage.ErrDisabled.Error(), nil)
		return
	}
	out, err := s.d.Runs.RetractRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	respond(c, http.StatusOK, out.Success, out.Error, out)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, retention.ErrNothingToRetract):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", logx.String("path", c.FullPath()), logx.Err(err))
	}
	respondError(c, status, err.Error(), nil)
}
