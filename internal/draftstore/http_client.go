package draftstore

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

	"draftsync/internal/models"

	"github.com/google/uuid"
)

// HTTPClient talks to the remote draft store over REST.
// It never retries on its own; retry policy belongs to the queue.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type upsertRequest struct {
	Payload json.RawMessage `json:"payload"`
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

func (c *HTTPClient) Upsert(ctx context.Context, key models.DraftKey, payload json.RawMessage) error {
	if err := key.Validate(); err != nil {
		return &ApplicationError{StatusCode: http.StatusBadRequest, Code: "invalid_key", Message: err.Error()}
	}
	return c.doJSON(ctx, "upsert", http.MethodPut, draftPath(key), upsertRequest{Payload: payload}, nil)
}

func (c *HTTPClient) Read(ctx context.Context, key models.DraftKey) (*models.RemoteDraft, error) {
	if err := key.Validate(); err != nil {
		return nil, &ApplicationError{StatusCode: http.StatusBadRequest, Code: "invalid_key", Message: err.Error()}
	}
	var out models.RemoteDraft
	err := c.doJSON(ctx, "read", http.MethodGet, draftPath(key), nil, &out)
	if err != nil {
		var appErr *ApplicationError
		if errors.As(err, &appErr) && appErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// Ping issues the side-effect-free health read used by the connectivity probe.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.doJSON(ctx, "ping", http.MethodGet, "/v1/health", nil, nil)
}

func draftPath(key models.DraftKey) string {
	p := "/v1/drafts/" + url.PathEscape(key.EntityID) + "/" + url.PathEscape(string(key.Kind))
	if key.SubKind != "" {
		p += "?subkind=" + url.QueryEscape(key.SubKind)
	}
	return p
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, requestPath string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Correlation-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: readErr}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(payloadBytes) == 0 {
			return nil
		}
		if err := json.Unmarshal(payloadBytes, out); err != nil {
			return &ApplicationError{StatusCode: resp.StatusCode, Code: "bad_response", Message: err.Error()}
		}
		return nil
	}

	if resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode >= 500 {
		return &TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var errPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(payloadBytes, &errPayload)
	if errPayload.Message == "" {
		errPayload.Message = http.StatusText(resp.StatusCode)
	}
	return &ApplicationError{
		StatusCode: resp.StatusCode,
		Code:       errPayload.Code,
		Message:    errPayload.Message,
	}
}
