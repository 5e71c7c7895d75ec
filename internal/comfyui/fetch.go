package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/SanishKumar/comfy-service/internal/interfaces"
)

// maximum concurrent /view downloads per job
const viewConcurrency = 4

// GetHistory gets the execution history entry of promptID
func (c *Client) GetHistory(ctx context.Context, promptID string) (*interfaces.HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/history/"+url.PathEscape(promptID)), nil)
	if err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to create history request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to get history", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{PromptID: promptID, StatusCode: resp.StatusCode, Message: readErrorBody(resp.Body)}
	}

	var history map[string]interfaces.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to decode history", Err: err}
	}

	entry, exists := history[promptID]
	if !exists {
		return nil, &FetchError{PromptID: promptID, Message: "prompt not found in history"}
	}
	if entry.Outputs == nil {
		return nil, &FetchError{PromptID: promptID, Message: "history entry has no outputs"}
	}

	return &entry, nil
}

// FetchImages downloads every image listed in the job's history outputs
func (c *Client) FetchImages(ctx context.Context, promptID string) (interfaces.NodeImages, error) {
	entry, err := c.GetHistory(ctx, promptID)
	if err != nil {
		return nil, err
	}

	for nodeID, output := range entry.Outputs {
		for i, descriptor := range output.Images {
			if descriptor.Filename == "" {
				return nil, &FetchError{
					PromptID: promptID,
					Message:  fmt.Sprintf("node %s image %d has no filename", nodeID, i),
				}
			}
		}
	}

	result := make(interfaces.NodeImages)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(viewConcurrency)

	for nodeID, output := range entry.Outputs {
		if output.Images == nil {
			continue
		}

		images := make([]interfaces.GeneratedImage, len(output.Images))
		result[nodeID] = images

		for i, descriptor := range output.Images {
			nodeID, i, descriptor := nodeID, i, descriptor
			g.Go(func() error {
				data, err := c.ViewImage(gctx, promptID, descriptor)
				if err != nil {
					return err
				}
				images[i] = interfaces.GeneratedImage{
					NodeID:    nodeID,
					Filename:  descriptor.Filename,
					Subfolder: descriptor.Subfolder,
					Type:      descriptor.Type,
					Data:      data,
				}
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"prompt_id":    promptID,
		"output_nodes": len(result),
	}).Debug("Fetched generated images")
	return result, nil
}

// ViewImage downloads the raw bytes of one output image
func (c *Client) ViewImage(ctx context.Context, promptID string, descriptor interfaces.ImageDescriptor) ([]byte, error) {
	query := url.Values{
		"filename":  {descriptor.Filename},
		"subfolder": {descriptor.Subfolder},
		"type":      {descriptor.Type},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.buildURL("/view")+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to create view request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to download " + descriptor.Filename, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{
			PromptID:   promptID,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("download of %s failed: %s", descriptor.Filename, readErrorBody(resp.Body)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{PromptID: promptID, Message: "failed to read " + descriptor.Filename, Err: err}
	}
	return data, nil
}
