// Package apiclient talks to the forum REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	internal_errors "github.com/itchan-dev/threadsync/shared/errors"
	"github.com/itchan-dev/threadsync/shared/utils"
)

// TokenSource returns the bearer token for the next request, empty for none.
type TokenSource func() string

// APIClient struct handles all communication with the backend API.
type APIClient struct {
	BaseURL    string
	HttpClient *http.Client
	Token      TokenSource
}

func New(baseURL string, token TokenSource) *APIClient {
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HttpClient: &http.Client{},
		Token:      token,
	}
}

// do is the single helper for API requests. Non-2xx answers and transport
// failures come back as *NetworkError.
func (c *APIClient) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != nil {
		if token := c.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return &internal_errors.NetworkError{Op: op, Err: fmt.Errorf("backend unavailable: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &internal_errors.NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(strings.TrimSpace(string(msg))),
		}
	}

	if out == nil {
		return nil
	}
	if err := utils.Decode(resp.Body, out); err != nil {
		return &internal_errors.NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("cannot decode response: %w", err)}
	}
	return nil
}
