package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/SanishKumar/comfy-service/internal/config"
	"github.com/SanishKumar/comfy-service/internal/interfaces"
	"github.com/SanishKumar/comfy-service/internal/workflow"
)

// maximum bytes of an error body quoted back to callers
const maxErrorBody = 2048

// Client ComfyUI API client
type Client struct {
	endpoint   string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *logrus.Logger
}

// NewClient creates ComfyUI client. A zero timeout leaves HTTP calls unbounded.
func NewClient(cfg config.BackendConfig) *Client {
	return &Client{
		endpoint: cfg.Address,
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
		logger: config.NewLogger(),
	}
}

// buildURL builds complete URL, properly handling endpoint
func (c *Client) buildURL(path string) string {
	endpoint := c.endpoint
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	// If endpoint already contains protocol, use it directly
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return strings.TrimSuffix(endpoint, "/") + path
	}

	// If endpoint doesn't contain protocol, add http://
	return "http://" + strings.TrimSuffix(endpoint, "/") + path
}

// buildWSURL builds the push channel URL for clientID
func (c *Client) buildWSURL(clientID string) string {
	base := c.buildURL("/ws")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	default:
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "?" + url.Values{"clientId": {clientID}}.Encode()
}

// QueuePrompt submits a job graph to ComfyUI
func (c *Client) QueuePrompt(ctx context.Context, graph workflow.JobGraph, clientID string) (*interfaces.PromptResponse, error) {
	jsonData, err := json.Marshal(interfaces.PromptRequest{
		Prompt:   graph,
		ClientID: clientID,
	})
	if err != nil {
		return nil, &SubmissionError{Message: "failed to marshal workflow", Err: err}
	}

	reqURL := c.buildURL("/prompt")
	c.logger.WithFields(logrus.Fields{
		"url":       reqURL,
		"client_id": clientID,
		"nodes":     len(graph),
	}).Debug("Submitting workflow")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &SubmissionError{Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Message: "failed to send request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &SubmissionError{
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	var result interfaces.PromptResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	if result.PromptID == "" {
		return nil, &SubmissionError{StatusCode: resp.StatusCode, Message: "response has no prompt_id"}
	}

	c.logger.WithFields(logrus.Fields{
		"prompt_id": result.PromptID,
		"number":    result.Number,
	}).Debug("Workflow submitted successfully")
	return &result, nil
}

// OpenSession opens the WebSocket push channel for clientID
func (c *Client) OpenSession(ctx context.Context, clientID string) (interfaces.Session, error) {
	wsURL := c.buildWSURL(clientID)

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (handshake status %d)", err, resp.StatusCode)
		}
		return nil, &WatchError{Err: err}
	}

	c.logger.WithField("client_id", clientID).Debug("Push channel opened")
	return newSession(clientID, conn, c.logger), nil
}

// SystemStats gets system statistics
func (c *Client) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/system_stats"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get system stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ComfyUI returned status %d: %s", resp.StatusCode, readErrorBody(resp.Body))
	}

	var stats map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("failed to decode system stats: %w", err)
	}

	return stats, nil
}

func readErrorBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(body))
}
