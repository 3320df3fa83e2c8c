// Package remote talks to the assignment endpoint: it fetches definitions,
// accepts submissions and verifies solution keys.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"portal/internal/assignment"
	"portal/internal/logging"
)

// PlaceholderURL is the value sample configurations ship with.
const PlaceholderURL = "YOUR_CLOUD_FUNCTION_TRIGGER_URL"

const unknownServerError = "Ein unbekannter Server-Fehler ist aufgetreten."

// ErrNotConfigured means no endpoint URL is set.
var ErrNotConfigured = errors.New("endpoint url is not configured")

// RemoteError is a failure the endpoint reported in its response body.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// TransportError is a failure below the application protocol: network, HTTP status or body decoding.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Options struct {
	URL           string
	ContentOrg    string
	SubmissionOrg string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *logging.Logger
}

type Client struct {
	endpoint      string
	contentOrg    string
	submissionOrg string
	httpClient    *http.Client
	log           *logging.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	submissionOrg := opts.SubmissionOrg
	if submissionOrg == "" {
		submissionOrg = opts.ContentOrg
	}
	return &Client{
		endpoint:      strings.TrimSpace(opts.URL),
		contentOrg:    opts.ContentOrg,
		submissionOrg: submissionOrg,
		httpClient:    httpClient,
		log:           log.With("component", "remote"),
	}
}

// Configured reports whether an endpoint URL is set.
func (c *Client) Configured() bool {
	return c.endpoint != "" && !strings.Contains(c.endpoint, PlaceholderURL)
}

type fetchResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	assignment.Assignment
}

// FetchAssignment loads an assignment definition. variant is optional.
func (c *Client) FetchAssignment(ctx context.Context, assignmentID, variant string) (*assignment.Assignment, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	target, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, &TransportError{Op: "parse endpoint", Err: err}
	}
	query := target.Query()
	query.Set("assignmentId", assignmentID)
	query.Set("org", c.contentOrg)
	if variant != "" {
		query.Set("variant", variant)
	}
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "create request", Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch assignment", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &TransportError{
			Op:  "fetch assignment",
			Err: fmt.Errorf("network error: %s %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}

	var decoded fetchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &TransportError{Op: "decode assignment", Err: err}
	}
	if decoded.Status == "error" {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: decoded.Message}
	}

	a := decoded.Assignment
	if a.ID == "" {
		a.ID = assignmentID
	}
	for id, sub := range a.SubAssignments {
		if sub.ID == "" {
			sub.ID = id
			a.SubAssignments[id] = sub
		}
	}
	c.log.Debug("assignment fetched", "assignment_id", assignmentID, "sub_assignments", len(a.SubAssignments))
	return &a, nil
}

type submitRequest struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	Payload    any    `json:"payload"`
	Org        string `json:"org"`
}

type verifyRequest struct {
	Action       string `json:"action"`
	AssignmentID string `json:"assignmentId"`
	Key          string `json:"key"`
	Org          string `json:"org"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	IsValid bool   `json:"isValid"`
}

// Submit uploads the assembled payload for identifier.
func (c *Client) Submit(ctx context.Context, identifier string, payload any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	resp, code, err := c.post(ctx, "submit", submitRequest{
		Action:     "submit",
		Identifier: identifier,
		Payload:    payload,
		Org:        c.submissionOrg,
	})
	if err != nil {
		return err
	}
	if code == http.StatusOK && resp.Status == "success" {
		c.log.Info("submission accepted", "identifier", identifier)
		return nil
	}
	message := resp.Message
	if message == "" {
		message = unknownServerError
	}
	return &RemoteError{StatusCode: code, Message: message}
}

// VerifySolutionKey asks the endpoint whether key unlocks the solutions of an assignment.
func (c *Client) VerifySolutionKey(ctx context.Context, assignmentID, key string) (bool, error) {
	if !c.Configured() {
		return false, ErrNotConfigured
	}
	resp, code, err := c.post(ctx, "verify solution key", verifyRequest{
		Action:       "verifySolutionKey",
		AssignmentID: assignmentID,
		Key:          key,
		Org:          c.contentOrg,
	})
	if err != nil {
		return false, err
	}
	if code < 200 || code > 299 {
		message := resp.Message
		if message == "" {
			message = unknownServerError
		}
		return false, &RemoteError{StatusCode: code, Message: message}
	}
	if resp.Status == "error" {
		return false, &RemoteError{StatusCode: code, Message: resp.Message}
	}
	return resp.IsValid, nil
}

func (c *Client) post(ctx context.Context, op string, body any) (statusResponse, int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return statusResponse{}, 0, fmt.Errorf("marshal %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return statusResponse{}, 0, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return statusResponse{}, 0, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return statusResponse{}, resp.StatusCode, &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return decoded, resp.StatusCode, nil
}
