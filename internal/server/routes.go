package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/danmuck/camctl/internal/auth"
	"github.com/danmuck/camctl/internal/jobs"
	"github.com/danmuck/camctl/internal/plugins"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxCommandBody = 64 << 10

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		ready := len(s.registry.All()) > 0
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	api := r.Group("/api", auth.Middleware(s.auth))
	api.GET("/plugins", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"plugins": s.registry.List()})
	})
	api.GET("/plugins/:plugin", s.pluginStatus)
	api.POST("/plugins/:plugin", s.pluginCommand)
	api.GET("/plugins/:plugin/jobs", s.pluginJobs)
	api.GET("/plugins/:plugin/jobs/:id", s.pluginJob)
	api.GET("/events", s.streamEvents)
}

func (s *Server) plugin(c *gin.Context) (plugins.Plugin, bool) {
	id := c.Param("plugin")
	p, ok := s.registry.Get(id)
	if !ok || p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": plugins.ErrPluginNotFound.Error(), "plugin": id})
		return nil, false
	}
	return p, true
}

func (s *Server) pluginStatus(c *gin.Context) {
	p, ok := s.plugin(c)
	if !ok {
		return
	}
	status, err := p.Status(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Str("plugin", p.Identifier()).Msg("plugin status failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

type commandEnvelope struct {
	Command string `json:"command"`
}

func (s *Server) pluginCommand(c *gin.Context) {
	p, ok := s.plugin(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCommandBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}
	var env commandEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if env.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "command is required"})
		return
	}

	out, err := p.Command(c.Request.Context(), env.Command, json.RawMessage(body))
	if err != nil {
		status := commandStatus(err)
		s.logger.Warn().
			Err(err).
			Str("plugin", p.Identifier()).
			Str("command", env.Command).
			Int("status", status).
			Msg("plugin command rejected")
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	s.logger.Info().
		Str("plugin", p.Identifier()).
		Str("command", env.Command).
		Msg("plugin command accepted")
	c.JSON(http.StatusAccepted, gin.H{"job": out})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, jobs.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) jobSource(c *gin.Context) (plugins.JobSource, bool) {
	p, ok := s.plugin(c)
	if !ok {
		return nil, false
	}
	src, ok := p.(plugins.JobSource)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "plugin has no jobs", "plugin": p.Identifier()})
		return nil, false
	}
	return src, true
}

func (s *Server) pluginJobs(c *gin.Context) {
	src, ok := s.jobSource(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": src.Jobs()})
}

func (s *Server) pluginJob(c *gin.Context) {
	src, ok := s.jobSource(c)
	if !ok {
		return
	}
	job, ok := src.Job(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": plugins.ErrJobNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}
