package overwatchsdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal Overwatch status API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// RunSummary mirrors the API run model.
type RunSummary struct {
	RunID      string `json:"run_id"`
	Passed     int    `json:"passed"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Total      int    `json:"total"`
	DryRun     bool   `json:"dry_run,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// MissionOutcome is one mission's result within a run.
type MissionOutcome struct {
	RunID     string `json:"run_id"`
	Sequence  int    `json:"sequence"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Signal    string `json:"signal,omitempty"`
	Detail    string `json:"detail,omitempty"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// Status is the latest run with its outcomes.
type Status struct {
	Watchdog string           `json:"watchdog"`
	Run      RunSummary       `json:"run"`
	Outcomes []MissionOutcome `json:"outcomes,omitempty"`
}

// AuditEntry is one parsed ledger line.
type AuditEntry struct {
	Tag     string `json:"tag"`
	TS      string `json:"ts"`
	Message string `json:"message"`
}

// ScoreRecord is a quality verdict over the seven criteria.
type ScoreRecord struct {
	Criteria map[string]float64 `json:"criteria"`
	Average  float64            `json:"average"`
	Verdict  string             `json:"verdict"`
}

// ChecksumRecord is a stored data-subject digest.
type ChecksumRecord struct {
	Subject    string `json:"subject"`
	Digest     string `json:"digest"`
	RowCount   int    `json:"row_count"`
	RecordedAt string `json:"recorded_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health checks the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	return c.do(ctx, "v0/health", nil, &resp)
}

// Status returns the latest run and its mission outcomes.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, "v0/status", nil, &resp)
	return resp, err
}

// Audit returns the tail of the audit ledger.
func (c *Client) Audit(ctx context.Context, n int) ([]AuditEntry, error) {
	var resp struct {
		Entries []AuditEntry `json:"entries"`
	}
	endpoint := "v0/audit"
	if n > 0 {
		endpoint = fmt.Sprintf("%s?n=%d", endpoint, n)
	}
	err := c.do(ctx, endpoint, nil, &resp)
	return resp.Entries, err
}

// Score returns the quality score derived from the recent ledger window.
func (c *Client) Score(ctx context.Context, window int) (ScoreRecord, error) {
	var resp ScoreRecord
	endpoint := "v0/score"
	if window > 0 {
		endpoint = fmt.Sprintf("%s?window=%d", endpoint, window)
	}
	err := c.do(ctx, endpoint, nil, &resp)
	return resp, err
}

// Checksums lists stored checksum records.
func (c *Client) Checksums(ctx context.Context) ([]ChecksumRecord, error) {
	var resp struct {
		Records []ChecksumRecord `json:"records"`
	}
	err := c.do(ctx, "v0/checksums", nil, &resp)
	return resp.Records, err
}

func (c *Client) do(ctx context.Context, endpoint string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
