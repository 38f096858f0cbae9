/**
 * @description
 * This package provides a client for the attribute extraction service, which turns a
 * free-text donation message into structured food attributes.
 */
package extractorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no base URL was supplied.
var ErrNotConfigured = errors.New("extractor base url is empty")

// Client is a client for the extraction service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new extraction service client.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ExtractRequest is the payload sent to POST /extract.
type ExtractRequest struct {
	Text     string     `json:"text"`
	CookedAt *time.Time `json:"cooked_at,omitempty"`
}

// ExtractResponse is the structured result returned by the service.
type ExtractResponse struct {
	Food      string     `json:"food"`
	Quantity  string     `json:"quantity"`
	Location  string     `json:"location"`
	Price     *float64   `json:"price"`
	IsNGOOnly *bool      `json:"is_ngo_only"`
	SafeUntil *time.Time `json:"safe_until"`
	CookedAt  *time.Time `json:"cooked_at"`
}

// Extract asks the service to parse text.
func (c *Client) Extract(ctx context.Context, text string, cookedAt *time.Time) (*ExtractResponse, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(ExtractRequest{Text: text, CookedAt: cookedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/extract", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to extractor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("extractor returned error status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var response ExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}
