// Package httpapi exposes the stable HTTP control surface the dashboard
// and mobile client depend on: queue mutation endpoints, effects/volume
// control, and the SSE status stream.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"tryffel.net/go/airwave/internal/downloader"
	"tryffel.net/go/airwave/internal/eventbus"
	"tryffel.net/go/airwave/internal/model"
	"tryffel.net/go/airwave/internal/orchestrator"
	"tryffel.net/go/airwave/internal/playerctl"
	"tryffel.net/go/airwave/internal/queue"
	"tryffel.net/go/airwave/internal/resolver"
	"tryffel.net/go/airwave/internal/sse"
)

// Server owns the gin engine and every dependency the handlers close
// over: the queue, orchestrator, resolver, downloader, adapter, bus, and
// SSE broadcaster.
type Server struct {
	engine   *gin.Engine
	q        *queue.Manager
	orch     *orchestrator.Orchestrator
	resolver resolver.Resolver
	dl       *downloader.Pipeline
	adapter  playerctl.Adapter
	bus      *eventbus.Bus
	bcast    *sse.Broadcaster
	validate *validator.Validate
}

// New builds the gin engine and registers every route in the table.
func New(q *queue.Manager, orch *orchestrator.Orchestrator, res resolver.Resolver, dl *downloader.Pipeline, adapter playerctl.Adapter, bus *eventbus.Bus, bcast *sse.Broadcaster) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:   gin.New(),
		q:        q,
		orch:     orch,
		resolver: res,
		dl:       dl,
		adapter:  adapter,
		bus:      bus,
		bcast:    bcast,
		validate: validator.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

// Engine exposes the underlying http.Handler for use with an http.Server.
func (s *Server) Engine() http.Handler { return s.engine }

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.Debugf("httpapi: %s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	{
		api.POST("/queue/add", s.addToQueue)
		api.POST("/queue/skip", s.skip)
		api.POST("/queue/pause", s.pause)
		api.POST("/queue/resume", s.resume)
		api.POST("/queue/remove/:index", s.removeAt)
		api.POST("/queue/reorder", s.reorder)
		api.POST("/queue/prefetch", s.prefetch)
		api.POST("/queue/newsession", s.newSession)
		api.POST("/queue/seek", s.seek)
		api.GET("/status/stream", s.statusStream)
		api.PUT("/effects", s.setEffects)
		api.PUT("/volume", s.setVolume)
	}
}

type addRequest struct {
	URL       string `json:"url" binding:"required"`
	Requester string `json:"requester" binding:"required"`
}

func (s *Server) addToQueue(c *gin.Context) {
	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	descriptor, err := s.resolver.Resolve(req.URL, func(d model.TrackDescriptor) {
		s.enqueue(d, req.Requester, model.PriorityNormal)
	})
	if err != nil {
		status := http.StatusBadRequest
		if model.Is(err, model.KindNotResolvable) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if err := s.enqueue(descriptor, req.Requester, model.PriorityNormal); err != nil {
		status := http.StatusBadRequest
		if model.Is(err, model.KindDuplicateRequest) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"title": descriptor.Title, "artist": descriptor.Artist})
}

func (s *Server) enqueue(d model.TrackDescriptor, requester string, priority model.Priority) error {
	return s.q.Add(model.QueueItem{
		Descriptor:    d,
		Requester:     requester,
		Priority:      priority,
		DownloadState: model.PendingState(),
	})
}

func (s *Server) skip(c *gin.Context) {
	phase, current, _, _ := s.orch.Snapshot()
	if current == nil || (phase != orchestrator.PhasePlaying && phase != orchestrator.PhasePaused) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing playing"})
		return
	}
	s.bus.Publish(eventbus.PlaybackSkip, nil)
	c.Status(http.StatusOK)
}

func (s *Server) pause(c *gin.Context) {
	phase, _, _, _ := s.orch.Snapshot()
	if phase != orchestrator.PhasePlaying {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not playing"})
		return
	}
	s.bus.Publish(eventbus.PlaybackPause, nil)
	c.Status(http.StatusOK)
}

func (s *Server) resume(c *gin.Context) {
	phase, _, _, _ := s.orch.Snapshot()
	if phase != orchestrator.PhasePaused {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not paused"})
		return
	}
	s.bus.Publish(eventbus.PlaybackResume, nil)
	c.Status(http.StatusOK)
}

func (s *Server) removeAt(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}
	if err := s.q.Remove(index); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

type reorderRequest struct {
	FromIndex int `json:"fromIndex" validate:"gte=0"`
	ToIndex   int `json:"toIndex" validate:"gte=0"`
}

func (s *Server) reorder(c *gin.Context) {
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.q.Reorder(req.FromIndex, req.ToIndex); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}

func (s *Server) prefetch(c *gin.Context) {
	items := s.q.Snapshot()
	for _, item := range items {
		if item.DownloadState.Terminal() {
			continue
		}
		go func(it model.QueueItem) {
			_, _ = s.dl.Fetch(c.Request.Context(), it, false)
		}(item)
	}
	c.Status(http.StatusOK)
}

func (s *Server) newSession(c *gin.Context) {
	if err := s.orch.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = s.orch.Start()
	c.Status(http.StatusOK)
}

type seekRequest struct {
	Time int64 `json:"time" validate:"gte=0"`
}

func (s *Server) seek(c *gin.Context) {
	var req seekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phase, _, _, _ := s.orch.Snapshot()
	if phase != orchestrator.PhasePlaying && phase != orchestrator.PhasePaused {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing playing"})
		return
	}
	s.bus.Publish(eventbus.PlaybackSeek, req.Time)
	c.Status(http.StatusOK)
}

type effectsRequest struct {
	Chain string `json:"chain" binding:"required"`
}

func (s *Server) setEffects(c *gin.Context) {
	var req effectsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.bus.Publish(eventbus.EffectsChanged, req.Chain)
	c.Status(http.StatusOK)
}

type volumeRequest struct {
	Volume int `json:"volume" validate:"gte=0,lte=100"`
}

func (s *Server) setVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.adapter.SetVolume(req.Volume); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusOK)
}
