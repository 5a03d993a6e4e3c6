package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"sachet/internal/models"

	"github.com/rs/zerolog"
)

// ingestRequest is the wire shape of one report submission. Only payload
// fields travel; local ids and sync bookkeeping stay local.
type ingestRequest struct {
	HazardType  string  `json:"hazardType"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timestamp   string  `json:"timestamp"`
	MediaRef    string  `json:"mediaRef,omitempty"`
}

// Client submits hazard reports to the remote ingestion endpoint, one POST
// per report. Success means a 2xx response; anything else is a per-report
// failure for the current pass.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// NewClient constructs a client. The timeout bounds a single upload so one
// hung request cannot stall a sync pass indefinitely.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Upload submits one report. The returned error is informational for the
// caller's failure accounting; it never aborts a batch.
func (c *Client) Upload(ctx context.Context, report *models.HazardReport) error {
	body := ingestRequest{
		HazardType:  report.Payload.HazardType,
		Description: report.Payload.Description,
		Latitude:    report.Payload.Latitude,
		Longitude:   report.Payload.Longitude,
		Timestamp:   report.CreatedAt.Format(time.RFC3339),
		MediaRef:    report.Payload.MediaRef,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode report %d: %w", report.ID, err)
	}

	endpoint := c.baseURL + "/api/reports"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request for report %d: %w", report.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Int64("id", report.ID).Msg("report upload failed")
		return fmt.Errorf("upload report %d: %w", report.ID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn().Int("status", resp.StatusCode).Int64("id", report.ID).Msg("report upload rejected")
		return fmt.Errorf("upload report %d: http %d", report.ID, resp.StatusCode)
	}

	c.logger.Info().Int64("id", report.ID).Msg("report uploaded")
	return nil
}
