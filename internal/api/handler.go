package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/generator"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/records"
	"github.com/SanishKumar/comfy-service/internal/storage"
)

const (
	defaultListLimit = 50
	readinessTimeout = 5 * time.Second
	recordTimeout    = 5 * time.Second
)

// Generator runs one generation end to end
type Generator interface {
	Generate(ctx context.Context, req generator.Request) (*generator.Result, error)
}

// Handler API handler
type Handler struct {
	generator   Generator
	comfyClient interfaces.ComfyUIClient
	imageStore  interfaces.ImageStore
	recordStore interfaces.RecordStore
	logger      *logrus.Logger
	now         func() time.Time
}

// NewHandler creates API handler
func NewHandler(gen Generator, comfyClient interfaces.ComfyUIClient, imageStore interfaces.ImageStore, recordStore interfaces.RecordStore) *Handler {
	return &Handler{
		generator:   gen,
		comfyClient: comfyClient,
		imageStore:  imageStore,
		recordStore: recordStore,
		logger:      config.NewLogger(),
		now:         time.Now,
	}
}

// RegisterRoutes registers routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/", h.root)
	r.POST("/generate", h.generate)
	r.GET("/images", h.listImages)

	generations := r.Group("/generations")
	{
		generations.GET("", h.listGenerations)
		generations.GET("/:id", h.getGeneration)
	}

	// Health checks
	r.GET("/health", h.healthCheck)
	r.GET("/ready", h.readinessCheck)
}

// root describes the service
func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "ComfyUI-as-a-Service is running!",
		"endpoints": gin.H{
			"POST /generate":        "Generate an image from a text prompt",
			"GET  /images":          "List saved images",
			"GET  /generations":     "List recent generations",
			"GET  /generations/:id": "Get one generation",
			"GET  /health":          "Health check",
			"GET  /ready":           "Backend readiness check",
		},
	})
}

// generate runs a generation and returns the first image base64 encoded
func (h *Handler) generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: err.Error()})
		return
	}
	if req.Prompt == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "prompt is required"})
		return
	}

	ctx := c.Request.Context()
	record := records.NewRecord(req.Prompt, deref(req.NegativePrompt), deref(req.LoraName))
	h.trackRecord(ctx, record, true)

	result, err := h.generator.Generate(ctx, generator.Request{
		Prompt:         req.Prompt,
		NegativePrompt: deref(req.NegativePrompt),
		Seed:           req.Seed,
		LoraName:       deref(req.LoraName),
		OnSubmitted: func(sub generator.Submission) {
			record.MarkSubmitted(sub.PromptID, sub.ClientID, sub.Seed)
			h.trackRecord(ctx, record, false)
		},
	})
	if err != nil {
		h.fail(c, record, fmt.Sprintf("Inference error: %v", err), err)
		return
	}
	record.MarkSubmitted(result.PromptID, result.ClientID, result.Seed)

	image, err := generator.Primary(result.Images)
	if err != nil {
		h.fail(c, record, "No images generated", err)
		return
	}

	var savedPath *string
	if req.SaveImage == nil || *req.SaveImage {
		name := storage.Filename(h.now(), req.Prompt, req.Seed)
		path, err := h.imageStore.Save(ctx, name, image.Data)
		if err != nil {
			h.logger.WithError(err).WithField("filename", name).Warn("Failed to save image")
		} else {
			savedPath = &path
		}
	}

	record.MarkCompleted(len(image.Data), deref(savedPath))
	h.trackRecord(ctx, record, false)

	c.JSON(http.StatusOK, GenerateResponse{
		Image:     base64.StdEncoding.EncodeToString(image.Data),
		Format:    "png",
		SizeBytes: len(image.Data),
		SavedPath: savedPath,
		Prompt:    req.Prompt,
		Seed:      result.Seed,
		LoraName:  req.LoraName,
	})
}

// fail answers 500 and marks the record failed
func (h *Handler) fail(c *gin.Context, record *records.Record, detail string, err error) {
	h.logger.WithError(err).WithField("record_id", record.ID).Error("Generation failed")
	record.MarkFailed(err.Error())
	h.trackRecord(c.Request.Context(), record, false)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: detail})
}

// trackRecord stores the record state, failures are only logged. The write
// outlives the request so a disconnected caller still gets a final status.
func (h *Handler) trackRecord(ctx context.Context, record *records.Record, isNew bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	var err error
	if isNew {
		err = h.recordStore.Add(ctx, record)
	} else {
		err = h.recordStore.Update(ctx, record)
	}
	if err != nil {
		h.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to store generation record")
	}
}

// listImages lists saved images
func (h *Handler) listImages(c *gin.Context) {
	images, err := h.imageStore.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: fmt.Sprintf("Error listing images: %v", err)})
		return
	}

	c.JSON(http.StatusOK, ImageListResponse{
		Count:  len(images),
		Images: images,
	})
}

// listGenerations lists recent generation records
func (h *Handler) listGenerations(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Detail: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	list, err := h.recordStore.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, GenerationListResponse{
		Count:       len(list),
		Generations: list,
	})
}

// getGeneration gets one generation record
func (h *Handler) getGeneration(c *gin.Context) {
	record, err := h.recordStore.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, records.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Detail: "Generation not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Detail: err.Error()})
		return
	}

	c.JSON(http.StatusOK, record)
}

// healthCheck performs health check
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().Format(time.RFC3339),
	})
}

// readinessCheck probes the ComfyUI backend
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	if _, err := h.comfyClient.SystemStats(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Detail: fmt.Sprintf("ComfyUI unavailable: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
