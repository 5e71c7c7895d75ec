package generator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/workflow"
)

// ErrEmptyResult is returned when a finished job produced no images
var ErrEmptyResult = errors.New("no images generated")

// Request is one text-to-image generation
type Request struct {
	Prompt         string
	NegativePrompt string
	Seed           *uint32
	LoraName       string
	// OnSubmitted, when set, is called once the backend accepted the job
	OnSubmitted func(Submission)
}

// Submission identifies a queued job before it finishes
type Submission struct {
	PromptID string
	ClientID string
	Seed     uint32
}

// Result is a finished generation
type Result struct {
	PromptID string
	ClientID string
	// effective sampler seed
	Seed   uint32
	Graph  workflow.JobGraph
	Images interfaces.NodeImages
}

// Service runs generations against one ComfyUI backend
type Service struct {
	client      interfaces.ComfyUIClient
	builder     *workflow.Builder
	waitTimeout time.Duration
	newClientID func() string
	logger      *logrus.Logger
}

// NewService creates a generation service. A zero wait timeout waits for
// completion forever.
func NewService(client interfaces.ComfyUIClient, builder *workflow.Builder, cfg config.BackendConfig) *Service {
	return &Service{
		client:      client,
		builder:     builder,
		waitTimeout: cfg.WaitTimeout,
		newClientID: uuid.NewString,
		logger:      config.NewLogger(),
	}
}

// Generate builds the job graph, submits it, waits for completion and
// downloads every produced image
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	graph, seed, err := s.builder.Build(workflow.Params{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Seed:           req.Seed,
		LoraName:       req.LoraName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}

	clientID := s.newClientID()
	logger := s.logger.WithFields(logrus.Fields{
		"client_id": clientID,
		"seed":      seed,
		"topology":  workflow.TopologyFor(req.LoraName).Name,
	})

	// subscribe before submitting so the completion message cannot be missed
	session, err := s.client.OpenSession(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.WithError(err).Debug("Failed to close push channel")
		}
	}()

	queued, err := s.client.QueuePrompt(ctx, graph, clientID)
	if err != nil {
		return nil, err
	}
	logger = logger.WithField("prompt_id", queued.PromptID)
	logger.Info("Workflow queued")
	if req.OnSubmitted != nil {
		req.OnSubmitted(Submission{PromptID: queued.PromptID, ClientID: clientID, Seed: seed})
	}

	var deadline time.Time
	if s.waitTimeout > 0 {
		deadline = time.Now().Add(s.waitTimeout)
	}
	if err := session.WaitForCompletion(queued.PromptID, deadline); err != nil {
		return nil, err
	}

	images, err := s.client.FetchImages(ctx, queued.PromptID)
	if err != nil {
		return nil, err
	}

	logger.WithField("images", len(Flatten(images))).Info("Generation finished")
	return &Result{
		PromptID: queued.PromptID,
		ClientID: clientID,
		Seed:     seed,
		Graph:    graph,
		Images:   images,
	}, nil
}

// Flatten lists images node by node. Numeric node ids come first in numeric
// order, other ids follow lexically. Images keep their order within a node.
func Flatten(images interfaces.NodeImages) []interfaces.GeneratedImage {
	nodeIDs := lo.Keys(images)
	sort.Slice(nodeIDs, func(i, j int) bool {
		return nodeLess(nodeIDs[i], nodeIDs[j])
	})

	var flat []interfaces.GeneratedImage
	for _, id := range nodeIDs {
		flat = append(flat, images[id]...)
	}
	return flat
}

// Primary returns the first image in Flatten order
func Primary(images interfaces.NodeImages) (interfaces.GeneratedImage, error) {
	flat := Flatten(images)
	if len(flat) == 0 {
		return interfaces.GeneratedImage{}, ErrEmptyResult
	}
	return flat[0], nil
}

func nodeLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		if na != nb {
			return na < nb
		}
		return a < b
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}
