package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"jobkit/internal/jobid"
	"jobkit/internal/scheduler"
	"jobkit/internal/tasks"
	logx "jobkit/pkg/logx"
)

type submitRequest struct {
	Task string `json:"task" binding:"required"`
	Args []any  `json:"args"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": s.tasks.List()})
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	target, err := s.tasks.Get(req.Task)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	id, err := s.sched.AddJob(target, req.Args...)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info("job submitted", logx.String("task", req.Task), logx.String("job", id.String()))

	rec, err := s.sched.Record(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListJobs(c *gin.Context) {
	recs := s.sched.Records()

	if want := c.Query("status"); want != "" {
		st := scheduler.Status(want)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + strconv.Quote(want)})
			return
		}
		filtered := recs[:0]
		for _, r := range recs {
			if r.Status == st {
				filtered = append(filtered, r)
			}
		}
		recs = filtered
	}
	c.JSON(http.StatusOK, gin.H{"jobs": recs, "count": len(recs)})
}

func (s *Server) handleGetJob(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}
	rec, err := s.sched.Record(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleCancel(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}
	canceled, err := s.sched.Cancel(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.sched.Record(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"canceled": canceled, "job": rec})
}

func (s *Server) handleWait(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	timeout := 30 * time.Second
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timeout"})
			return
		}
		timeout = d
	}

	err := s.sched.Wait(c.Request.Context(), id, timeout)
	if errors.Is(err, scheduler.ErrWaitTimeout) {
		c.JSON(http.StatusRequestTimeout, gin.H{"error": "timed out waiting for job"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	rec, err := s.sched.Record(id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleResult(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}

	val, err := s.sched.Result(id)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"job_id": id, "status": scheduler.StatusCompleted, "value": val})
		return
	}

	var jerr *scheduler.JobError
	if errors.As(err, &jerr) {
		c.JSON(http.StatusOK, gin.H{
			"job_id":          id,
			"status":          scheduler.StatusFailed,
			"error":           jerr.Message,
			"error_traceback": jerr.Trace,
		})
		return
	}
	s.fail(c, err)
}

func (s *Server) handleDelete(c *gin.Context) {
	id, ok := s.jobID(c)
	if !ok {
		return
	}
	if err := s.sched.Delete(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.hist.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (s *Server) jobID(c *gin.Context) (jobid.ID, bool) {
	id, err := jobid.ParseJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return jobid.Nil, false
	}
	return id, true
}

// fail maps scheduler sentinels to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotFound), errors.Is(err, tasks.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrNotFinished):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrInvalidTarget), errors.Is(err, scheduler.ErrAlreadyScheduled):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.log.Error("unhandled api error", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
