// Package remote provides the HTTP client for the spreadsheet-backed
// remote store.
//
// The remote endpoint is an opaque web-app URL speaking a small
// action-based protocol:
//
//	push: POST {"action":"sync_data","data":<dataset>,"timestamp":<ISO-8601>}
//	pull: GET  ?action=get_data&type=all -> {"towers":{...}}
//
// The client surfaces transport failures as *TransportError and never
// retries; retry policy belongs to the sync daemon and its offline queue.
// An unconfigured endpoint is not an error - both operations short-circuit
// to a successful no-op so the application degrades to local-only mode.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"handsync/internal/handover"
)

// DefaultTimeout bounds every remote call. A slow endpoint surfaces as a
// TransportError instead of hanging a sync cycle indefinitely.
const DefaultTimeout = 15 * time.Second

// TransportError reports a failed remote call: a network-level failure or
// a non-2xx response.
type TransportError struct {
	// Op is the operation that failed ("push" or "pull").
	Op string
	// Status is the HTTP status code, or 0 for network-level failures.
	Status int
	// Err is the underlying error, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("remote %s failed: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError reports a malformed payload from the remote endpoint.
type ParseError struct {
	// Op is the operation whose response could not be parsed.
	Op string
	// Err is the underlying decode error.
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("remote %s returned malformed payload: %v", e.Op, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// pushBody is the wire shape of a push request.
type pushBody struct {
	Action    string           `json:"action"`
	Data      handover.Dataset `json:"data"`
	Timestamp string           `json:"timestamp"`
}

// Client talks to the remote endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *log.Logger
	now      func() time.Time
}

// New creates a remote client for the given endpoint URL.
//
// An empty endpoint is valid and puts the client into no-op mode.
// If logger is nil, a default logger writing to stderr is used.
func New(endpoint string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
		now:      time.Now,
	}
}

// Configured reports whether a remote endpoint is set.
func (c *Client) Configured() bool {
	return c.endpoint != ""
}

// EndpointURL returns the configured endpoint URL, empty when unset.
func (c *Client) EndpointURL() string {
	return c.endpoint
}

// Push sends the full dataset to the remote endpoint.
//
// With no endpoint configured this is a successful no-op. Failures are
// returned as *TransportError; the client does not retry.
func (c *Client) Push(ctx context.Context, ds handover.Dataset) error {
	if !c.Configured() {
		return nil
	}

	body, err := json.Marshal(pushBody{
		Action:    "sync_data",
		Data:      ds,
		Timestamp: c.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode push body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "push", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "push", Status: resp.StatusCode}
	}

	c.logger.Printf("Pushed dataset (%d flats)", ds.FlatCount())
	return nil
}

// Pull fetches the remote dataset snapshot.
//
// The boolean reports whether a pull was actually performed: it is false
// for the unconfigured-endpoint no-op, in which case the caller skips the
// merge step. Transport failures return *TransportError, malformed bodies
// *ParseError; the client does not retry either.
func (c *Client) Pull(ctx context.Context) (handover.Dataset, bool, error) {
	if !c.Configured() {
		return handover.Dataset{}, false, nil
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return handover.Dataset{}, false, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	q := u.Query()
	q.Set("action", "get_data")
	q.Set("type", "all")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return handover.Dataset{}, false, fmt.Errorf("failed to build pull request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return handover.Dataset{}, false, &TransportError{Op: "pull", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return handover.Dataset{}, false, &TransportError{Op: "pull", Status: resp.StatusCode}
	}

	var ds handover.Dataset
	if err := json.NewDecoder(resp.Body).Decode(&ds); err != nil {
		return handover.Dataset{}, false, &ParseError{Op: "pull", Err: err}
	}

	c.logger.Printf("Pulled remote snapshot (%d flats)", ds.FlatCount())
	return ds, true, nil
}
