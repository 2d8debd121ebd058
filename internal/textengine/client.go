// Package textengine is the HTTP client for the ad-text generation service.
package textengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kenbotlabs/lotwatch/internal/domain"
)

// Vehicle is the listing payload sent to the text engine.
type Vehicle struct {
	Title   string `json:"title"`
	Price   string `json:"price"`
	Mileage string `json:"mileage"`
	Stock   string `json:"stock"`
	VIN     string `json:"vin"`
	URL     string `json:"url"`
}

type generateRequest struct {
	Slug    string  `json:"slug"`
	Event   string  `json:"event"`
	Vehicle Vehicle `json:"vehicle"`
}

type generateResponse struct {
	FacebookText string `json:"facebook_text"`
}

// Client calls the text engine's /generate endpoint.
type Client struct {
	baseURL string
	client  *http.Client
}

// New creates a Client for the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate requests ad text for one change event. It returns an error when
// the engine is unreachable, responds with a non-2xx status, or returns an
// empty text.
func (c *Client) Generate(ctx context.Context, ev domain.ChangeEvent) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("textengine: no url configured")
	}

	rec := ev.Record()
	payload := generateRequest{
		Slug:  string(ev.Key),
		Event: string(ev.Kind),
		Vehicle: Vehicle{
			Title:   rec.Title,
			Price:   rec.Price.String(),
			Mileage: fmt.Sprintf("%d km", rec.MileageKM),
			Stock:   rec.Stock,
			VIN:     rec.VIN,
			URL:     rec.SourceURL,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("textengine: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("textengine: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("textengine: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("textengine: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("textengine: decode response: %w", err)
	}

	text := strings.TrimSpace(out.FacebookText)
	if text == "" {
		return "", fmt.Errorf("textengine: empty facebook_text in response")
	}
	return text + "\n", nil
}
