package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client queries the agentjj observation API.
type Client struct {
	baseURL string
	client  *http.Client
}

// Snapshot is one poll of the coordination layer's state.
type Snapshot struct {
	Status         string
	ActiveSessions int
	OpenConflicts  int
	LogSize        int
	LogCapacity    int

	// Learning statistics.
	Total            int
	SuccessRate      float64
	ByClassification map[string]int
	QueueDepth       int
	Dropped          uint64
	Source           string
}

// healthPayload mirrors GET /health.
type healthPayload struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	OpenConflicts  int    `json:"open_conflicts"`
	LogSize        int    `json:"log_size"`
	LogCapacity    int    `json:"log_capacity"`
}

// statsPayload mirrors GET /api/v1/stats.
type statsPayload struct {
	Total            int            `json:"total"`
	SuccessRate      float64        `json:"success_rate"`
	ByClassification map[string]int `json:"by_classification"`
	QueueDepth       int            `json:"queue_depth"`
	Dropped          uint64         `json:"dropped"`
	Source           string         `json:"source"`
}

// NewClient creates a client for the observation API at baseURL, e.g.
// http://127.0.0.1:8611.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d for %s", resp.StatusCode, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Fetch polls health and learning statistics in one snapshot. A
// missing stats endpoint (no learning adapter attached) degrades to
// health-only data rather than failing the poll.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	var health healthPayload
	if err := c.getJSON(ctx, "/health", &health); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Status:         health.Status,
		ActiveSessions: health.ActiveSessions,
		OpenConflicts:  health.OpenConflicts,
		LogSize:        health.LogSize,
		LogCapacity:    health.LogCapacity,
	}

	var stats statsPayload
	if err := c.getJSON(ctx, "/api/v1/stats", &stats); err == nil {
		snap.Total = stats.Total
		snap.SuccessRate = stats.SuccessRate
		snap.ByClassification = stats.ByClassification
		snap.QueueDepth = stats.QueueDepth
		snap.Dropped = stats.Dropped
		snap.Source = stats.Source
	}

	return snap, nil
}
