// Package client talks to the remote value-proposition pipeline over
// HTTP. It performs single attempts only; retry policy belongs to the
// orchestrator.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"valueprop-client/internal/common/auth"
	apperrors "valueprop-client/internal/common/errors"
	"valueprop-client/internal/common/httpx"
	"valueprop-client/internal/common/logger"
	"valueprop-client/internal/models"
)

const (
	executePath         = "/api/v1/workflow/execute"
	executeParallelPath = "/api/v1/workflow/execute-parallel"
)

// Executor is the surface the orchestrator and the comparison
// aggregator depend on.
type Executor interface {
	Execute(ctx context.Context, in models.RawInput, cfg models.RunConfig) (*models.WorkflowResult, error)
	ExecuteParallel(ctx context.Context, in models.RawInput, providers []models.Provider) (*models.ParallelResult, error)
}

// Client is the concrete HTTP implementation of Executor.
type Client struct {
	http    *httpx.Client
	baseURL string
	tokens  auth.TokenSource
	log     logger.Logger
}

func New(baseURL string, timeout time.Duration, tokens auth.TokenSource, log logger.Logger) *Client {
	return &Client{
		http:    httpx.NewClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		log:     log,
	}
}

// Execute runs the full pipeline once for one provider. The input is
// the request body; the execution parameters travel as query params.
func (c *Client) Execute(ctx context.Context, in models.RawInput, cfg models.RunConfig) (*models.WorkflowResult, error) {
	query := url.Values{}
	query.Set("provider", string(cfg.Provider))
	if cfg.Model != "" {
		query.Set("model", cfg.Model)
	}
	query.Set("temperature", strconv.FormatFloat(cfg.Temperature, 'f', -1, 64))

	body, status, err := c.post(ctx, executePath, query, in)
	if err != nil {
		return nil, err
	}

	if err := validateResultEnvelope(body); err != nil {
		return nil, apperrors.NewDecodeError(status, err)
	}

	var result models.WorkflowResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.NewDecodeError(status, err)
	}

	c.log.Debug("workflow execute completed", map[string]interface{}{
		"run_id":   result.RunID,
		"provider": string(result.ProviderUsed),
		"success":  result.Success,
	})
	return &result, nil
}

// ExecuteParallel fans one input out to several providers server-side.
// The response object maps provider tags to individual results; the
// returned Order preserves the request order rather than trusting the
// JSON object's key order.
func (c *Client) ExecuteParallel(ctx context.Context, in models.RawInput, providers []models.Provider) (*models.ParallelResult, error) {
	query := url.Values{}
	for _, p := range providers {
		query.Add("providers", string(p))
	}

	body, status, err := c.post(ctx, executeParallelPath, query, in)
	if err != nil {
		return nil, err
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, apperrors.NewDecodeError(status, err)
	}

	out := &models.ParallelResult{
		Order:      append([]models.Provider(nil), providers...),
		ByProvider: make(map[models.Provider]*models.WorkflowResult, len(providers)),
	}
	for _, p := range providers {
		entry, ok := raw[string(p)]
		if !ok {
			return nil, apperrors.NewDecodeError(status, fmt.Errorf("response is missing provider %q", p))
		}
		if err := validateResultEnvelope(entry); err != nil {
			return nil, apperrors.NewDecodeError(status, fmt.Errorf("provider %q: %w", p, err))
		}
		var result models.WorkflowResult
		if err := json.Unmarshal(entry, &result); err != nil {
			return nil, apperrors.NewDecodeError(status, fmt.Errorf("provider %q: %w", p, err))
		}
		out.ByProvider[p] = &result
	}

	c.log.Debug("parallel execute completed", map[string]interface{}{
		"providers": len(providers),
	})
	return out, nil
}

// post sends one request and returns the raw success body. Failure
// statuses and transport faults are mapped to the error taxonomy here
// so both execute paths share one behavior.
func (c *Client) post(ctx context.Context, path string, query url.Values, payload interface{}) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request body: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := c.tokens.Token(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("request failed before a response arrived", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil, 0, &apperrors.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &apperrors.TransportError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, parseFailure(resp.StatusCode, body)
	}
	return body, resp.StatusCode, nil
}

// parseFailure decodes the server's failure body. The detail field is
// either a plain string or an array of structured field entries.
func parseFailure(status int, body []byte) *apperrors.HTTPError {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return &apperrors.HTTPError{
			Status:  status,
			Message: http.StatusText(status),
		}
	}

	var msg string
	if err := json.Unmarshal(envelope.Detail, &msg); err == nil {
		return &apperrors.HTTPError{Status: status, Message: msg}
	}

	var details []apperrors.FieldDetail
	if err := json.Unmarshal(envelope.Detail, &details); err == nil && len(details) > 0 {
		msgs := make([]string, 0, len(details))
		for _, d := range details {
			msgs = append(msgs, d.Location()+": "+d.Msg)
		}
		return &apperrors.HTTPError{
			Status:  status,
			Message: strings.Join(msgs, "; "),
			Details: details,
		}
	}

	return &apperrors.HTTPError{
		Status:  status,
		Message: http.StatusText(status),
	}
}
