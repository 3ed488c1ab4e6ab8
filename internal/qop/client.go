package qop

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

	"github.com/rs/zerolog/log"

	"github.com/RMahshie/qubitcal/internal/hwconfig"
	"github.com/RMahshie/qubitcal/internal/program"
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("execution service returned %d: %s", e.Code, e.Message)
}

// Client is a Service backed by the execution service's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithBaseURL overrides the address derived from host and port.
func WithBaseURL(u string) ClientOption {
	return func(cl *Client) { cl.baseURL = strings.TrimRight(u, "/") }
}

// NewClient creates a client for the service at host:port.
func NewClient(host string, port int, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		// fetches block until averaging finishes
		http: &http.Client{Timeout: 30 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type executeRequest struct {
	Config  *hwconfig.Config      `json:"config"`
	Program *program.Spectroscopy `json:"program"`
}

type executeResponse struct {
	JobID string `json:"job_id"`
}

type simulateRequest struct {
	Config     *hwconfig.Config      `json:"config"`
	Program    *program.Spectroscopy `json:"program"`
	Simulation SimulationConfig      `json:"simulation"`
}

type simulateResponse struct {
	Samples *SimulatedSamples `json:"samples"`
}

type resultsResponse struct {
	Results Results `json:"results"`
}

// Execute opens a machine with cfg and starts prog on it.
func (c *Client) Execute(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy) (Job, error) {
	var resp executeResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", executeRequest{Config: cfg, Program: prog}, &resp); err != nil {
		return nil, fmt.Errorf("failed to execute program: %w", err)
	}
	if resp.JobID == "" {
		return nil, fmt.Errorf("failed to execute program: empty job id")
	}

	log.Info().Str("jobID", resp.JobID).Str("kind", prog.Kind).Msg("Program submitted")
	return &remoteJob{client: c, id: resp.JobID}, nil
}

// Simulate runs prog on the service's simulator.
func (c *Client) Simulate(ctx context.Context, cfg *hwconfig.Config, prog *program.Spectroscopy, sim SimulationConfig) (*SimulatedSamples, error) {
	var resp simulateResponse
	req := simulateRequest{Config: cfg, Program: prog, Simulation: sim}
	if err := c.do(ctx, http.MethodPost, "/api/v1/simulate", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to simulate program: %w", err)
	}
	if resp.Samples == nil {
		return nil, fmt.Errorf("failed to simulate program: no samples returned")
	}
	return resp.Samples, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("Execution service request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type remoteJob struct {
	client *Client
	id     string
}

func (j *remoteJob) ID() string { return j.id }

func (j *remoteJob) Fetch(ctx context.Context, names ...string) (Results, error) {
	q := url.Values{}
	q.Set("names", strings.Join(names, ","))
	path := fmt.Sprintf("/api/v1/jobs/%s/results?%s", url.PathEscape(j.id), q.Encode())

	var resp resultsResponse
	if err := j.client.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch results: %w", err)
	}
	for _, name := range names {
		if _, err := resp.Results.Get(name); err != nil {
			return nil, err
		}
	}
	return resp.Results, nil
}

func (j *remoteJob) Close(ctx context.Context) error {
	path := "/api/v1/jobs/" + url.PathEscape(j.id)
	if err := j.client.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("failed to close job: %w", err)
	}
	return nil
}
