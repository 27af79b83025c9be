package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rmax-ai/meshgraph/pkg/mesh"
)

var (
	// ErrNotFound is returned when the daemon does not know the node.
	ErrNotFound = errors.New("not found")
	// ErrRejected is returned when the daemon refuses a packet as malformed
	// or unsupported. Rejected packets are never retried.
	ErrRejected = errors.New("packet rejected")
)

// Client is the meshgraph daemon client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  BackoffStrategy
	retries  int
}

// NewClient creates a new meshgraph client.
// endpoint defaults to "http://127.0.0.1:8090" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8090"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: DefaultBackoff(),
		retries: 3,
	}
}

// SetRetry changes how SendPacket retries transient failures. retries is
// the number of additional attempts; 0 disables retrying.
func (c *Client) SetRetry(retries int, b BackoffStrategy) {
	c.retries = retries
	if b != nil {
		c.backoff = b
	}
}

// Health checks the health of the daemon.
func (c *Client) Health(ctx context.Context) (Status, error) {
	var status Status
	err := c.getJSON(ctx, "/v1/health", &status)
	return status, err
}

// GetGraph fetches the whole topology.
func (c *Client) GetGraph(ctx context.Context) (Graph, error) {
	var g Graph
	err := c.getJSON(ctx, "/v1/graph", &g)
	return g, err
}

// GetNode fetches one node by id ("!a1b2c3d4", "0x..." or decimal).
func (c *Client) GetNode(ctx context.Context, id string) (NodeDetail, error) {
	var n NodeDetail
	err := c.getJSON(ctx, "/v1/nodes/"+url.PathEscape(id), &n)
	return n, err
}

// GetStale lists nodes that are past their timeout but not yet swept.
func (c *Client) GetStale(ctx context.Context) ([]Node, error) {
	var nodes []Node
	err := c.getJSON(ctx, "/v1/stale", &nodes)
	return nodes, err
}

// SendPacket posts one decoded packet for ingestion. Network errors and 5xx
// responses are retried with backoff.
func (c *Client) SendPacket(ctx context.Context, pkt mesh.Packet) (IngestResponse, error) {
	body, err := json.Marshal(pkt)
	if err != nil {
		return IngestResponse{}, fmt.Errorf("failed to marshal packet: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return IngestResponse{}, ctx.Err()
			}
		}

		resp, retry, err := c.postPacket(ctx, body)
		if err == nil {
			return resp, nil
		}
		if !retry {
			return IngestResponse{}, err
		}
		lastErr = err
	}
	return IngestResponse{}, fmt.Errorf("giving up after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) postPacket(ctx context.Context, body []byte) (IngestResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/v1/packets", bytes.NewReader(body))
	if err != nil {
		return IngestResponse{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return IngestResponse{}, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return IngestResponse{}, true, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return IngestResponse{}, false, fmt.Errorf("%w: %s", ErrRejected, bytes.TrimSpace(msg))
	case resp.StatusCode != http.StatusOK:
		return IngestResponse{}, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var out IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return IngestResponse{}, false, err
	}
	return out, false, nil
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// Report streams a CSV report ("nodes", "edges" or "packets") into w.
// query carries the optional start, end, source, from and port parameters.
func (c *Client) Report(ctx context.Context, reportType string, query url.Values, w io.Writer) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("type", reportType)

	req, err := http.NewRequestWithContext(ctx, "GET", c.endpoint+"/v1/reports?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status: %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	_, err = io.Copy(w, resp.Body)
	return err
}
