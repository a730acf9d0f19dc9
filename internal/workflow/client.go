// Package workflow is the client for the content-production backend this
// tool supervises. It depends on exactly three contracts: the health
// endpoint, the workflow status counts, and the run-full trigger; the
// backend's dashboard and routing layers are otherwise external.
package workflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StageCounts is the per-stage progress block the backend reports for
// topics, scripts, projects and publishing.
type StageCounts struct {
	Total     int `json:"total"`
	Approved  int `json:"approved"`
	Produced  int `json:"produced"`
	Published int `json:"published"`
}

// Status is the aggregate pipeline progress document.
type Status struct {
	Topics     StageCounts `json:"topics"`
	Scripts    StageCounts `json:"scripts"`
	Projects   StageCounts `json:"projects"`
	Publishing StageCounts `json:"publishing"`
}

// RunResult is the backend's answer to a run-full trigger.
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Client talks to the backend API with a bounded per-request timeout.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a workflow client. baseURL is the backend root
// (e.g. "http://localhost:5000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:5000"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Status fetches the workflow stage counts.
func (c *Client) Status() (*Status, error) {
	resp, err := c.client.Get(c.baseURL + "/api/workflow/workflow/status")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("workflow status: unexpected HTTP %d", resp.StatusCode)
	}
	var doc struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("workflow status: decode: %w", err)
	}
	return &doc.Status, nil
}

// RunFull triggers the full pipeline (plan -> script -> produce -> publish).
func (c *Client) RunFull() (RunResult, error) {
	var res RunResult
	resp, err := c.client.Post(c.baseURL+"/api/workflow/workflow/run-full", "application/json", nil)
	if err != nil {
		return res, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("run-full: decode: %w", err)
	}
	if resp.StatusCode != http.StatusOK && res.Message == "" {
		return res, fmt.Errorf("run-full: unexpected HTTP %d", resp.StatusCode)
	}
	return res, nil
}
