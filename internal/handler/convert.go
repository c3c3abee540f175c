package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pomconv/internal/model"
	"pomconv/internal/service"
	"pomconv/internal/utils"
	"pomconv/pkg/logger"
)

// Converter runs one conversion and reports its result.
type Converter interface {
	Run(ctx context.Context, name, source string, observers ...service.StageObserver) model.ConversionResult
}

// Backend exposes the chat backend's resolution state.
type Backend interface {
	Resolve(ctx context.Context) (model.Endpoint, error)
	Candidates() []string
}

type ConvertHandler struct {
	converter Converter
	backend   Backend
	timeout   time.Duration
	heartbeat time.Duration
}

func NewConvertHandler(converter Converter, backend Backend, timeout time.Duration) *ConvertHandler {
	return &ConvertHandler{
		converter: converter,
		backend:   backend,
		timeout:   timeout,
		heartbeat: 30 * time.Second,
	}
}

// Register mounts the conversion routes on group.
func (h *ConvertHandler) Register(group *gin.RouterGroup) {
	group.POST("/convert", h.Convert)
	group.POST("/convert/stream", h.StreamConvert)
	group.GET("/backend", h.BackendStatus)
}

func (h *ConvertHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.timeout > 0 {
		return context.WithTimeout(c.Request.Context(), h.timeout)
	}
	return context.WithCancel(c.Request.Context())
}

// Convert runs a conversion and answers with its result.
func (h *ConvertHandler) Convert(c *gin.Context) {
	var req model.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	result := h.converter.Run(ctx, req.Name, req.Source)
	c.JSON(StatusFor(result), result)
}

// StreamConvert runs a conversion and streams its stage events over SSE,
// ending with a "result" event.
func (h *ConvertHandler) StreamConvert(c *gin.Context) {
	var req model.ConvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	// The observer blocks until the event is streamed; it only gives up once
	// the request is over.
	events := make(chan model.StageEvent, 16)
	observe := func(e model.StageEvent) {
		select {
		case events <- e:
		case <-ctx.Done():
		}
	}

	done := make(chan model.ConversionResult, 1)
	go func() {
		done <- h.converter.Run(ctx, req.Name, req.Source, observe)
	}()

	sse := utils.NewSSEWriter(c.Writer)
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case e := <-events:
			if err := sse.WriteJSON("stage", e); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteJSON("heartbeat", gin.H{"timestamp": time.Now().Unix()}); err != nil {
				logger.Warnf("Heartbeat failed: %v", err)
				return
			}
		case result := <-done:
			for drained := false; !drained; {
				select {
				case e := <-events:
					sse.WriteJSON("stage", e)
				default:
					drained = true
				}
			}
			sse.WriteJSON("result", result)
			sse.Close()
			return
		case <-c.Request.Context().Done():
			logger.Warn("Client disconnected before conversion finished")
			return
		}
	}
}

// BackendStatus reports the resolved chat backend, probing if necessary.
func (h *ConvertHandler) BackendStatus(c *gin.Context) {
	ep, err := h.backend.Resolve(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      err.Error(),
			"candidates": h.backend.Candidates(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"base_url": ep.BaseURL,
		"chat_url": ep.ChatURL(),
	})
}

// StatusFor maps a conversion result to its HTTP status.
func StatusFor(result model.ConversionResult) int {
	if result.Succeeded() {
		return http.StatusOK
	}
	switch model.KindOf(result.Err) {
	case model.KindInvalidInput:
		return http.StatusBadRequest
	case model.KindValidation, model.KindMalformedResponse:
		return http.StatusUnprocessableEntity
	case model.KindConnectivity:
		return http.StatusServiceUnavailable
	case model.KindTransport, model.KindRateLimited:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
