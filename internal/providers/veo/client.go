// Package veo talks to the long-running video generation API: a submit call
// returns an operation name that is polled until it is done.
package veo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// ErrMissingAPIKey indicates a call was attempted without a credential.
var ErrMissingAPIKey = errors.New("veo: api key is required")

// Status is the provider-neutral state of an operation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Options configures the client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client performs HTTP calls against the generation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// SubmitRequest is a single-shot generation request.
type SubmitRequest struct {
	Prompt        string
	AspectRatio   string
	Model         string
	Seed          uint32
	CorrelationID string
	APIKey        string
}

// Operation identifies an in-flight generation.
type Operation struct {
	Name string
}

// PollRequest asks for the state of an operation.
type PollRequest struct {
	OperationName string
	CorrelationID string
	APIKey        string
}

// PollResult is the typed outcome of a well-formed status response.
type PollResult struct {
	Status       Status
	ArtifactURL  string
	ErrorMessage string
}

// StatusError is a non-success HTTP response from the provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("veo: status %d", e.StatusCode)
	}
	return fmt.Sprintf("veo: status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return domain.ErrUpstream }

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type predictInstance struct {
	Prompt string `json:"prompt"`
}

type predictParameters struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	Seed        uint32 `json:"seed"`
	SampleCount int    `json:"sampleCount"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
			RAIMediaFilteredReasons []string `json:"raiMediaFilteredReasons"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewClient constructs a client with sane defaults.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Submit starts a generation and returns the operation the provider created.
// A success response without an operation name yields an empty Operation.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Operation, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return Operation{}, ErrMissingAPIKey
	}
	payload := predictRequest{
		Instances: []predictInstance{{Prompt: req.Prompt}},
		Parameters: predictParameters{
			AspectRatio: req.AspectRatio,
			Seed:        req.Seed,
			SampleCount: 1,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("veo: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, url.PathEscape(req.Model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Operation{}, fmt.Errorf("veo: build request: %w", err)
	}
	c.authorize(httpReq, req.APIKey, req.CorrelationID)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Operation{}, fmt.Errorf("veo: submit: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Operation{}, fmt.Errorf("veo: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return Operation{}, statusError(resp.StatusCode, raw)
	}
	var decoded operationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Operation{}, fmt.Errorf("veo: decode submit response: %w", err)
	}
	c.logger.Debug().
		Str("model", req.Model).
		Str("correlation_id", req.CorrelationID).
		Str("operation", decoded.Name).
		Msg("veo: generation submitted")
	return Operation{Name: strings.TrimSpace(decoded.Name)}, nil
}

// Poll fetches the operation state. A response that is not JSON is reported
// as domain.ErrInvalidCredentialResponse: the API answers rejected keys with
// an HTML page rather than an error document.
func (c *Client) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return PollResult{}, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/" + strings.TrimLeft(req.OperationName, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PollResult{}, fmt.Errorf("veo: build poll request: %w", err)
	}
	c.authorize(httpReq, req.APIKey, req.CorrelationID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return PollResult{}, fmt.Errorf("veo: poll: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PollResult{}, fmt.Errorf("veo: read poll response: %w", err)
	}
	if !isJSON(resp.Header.Get("Content-Type")) {
		return PollResult{}, fmt.Errorf("%w: content type %q", domain.ErrInvalidCredentialResponse, resp.Header.Get("Content-Type"))
	}
	if resp.StatusCode >= 300 {
		return PollResult{}, statusError(resp.StatusCode, raw)
	}
	var decoded operationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidCredentialResponse, err)
	}
	return interpret(decoded), nil
}

// ArtifactDownloadURL returns a URL that fetches the generated file with the
// given key attached.
func (c *Client) ArtifactDownloadURL(uri, apiKey string) (string, error) {
	target := strings.TrimSpace(uri)
	if target == "" {
		return "", errors.New("veo: empty artifact uri")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("veo: invalid artifact uri: %w", err)
	}
	if apiKey != "" {
		q := parsed.Query()
		q.Set("key", apiKey)
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}

func (c *Client) authorize(req *http.Request, apiKey, correlationID string) {
	req.Header.Set("x-goog-api-key", strings.TrimSpace(apiKey))
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}
	req.Header.Set("Accept", "application/json")
}

func interpret(op operationResponse) PollResult {
	if !op.Done {
		return PollResult{Status: StatusPending}
	}
	if op.Error != nil {
		msg := strings.TrimSpace(op.Error.Message)
		if msg == "" {
			msg = fmt.Sprintf("generation failed with code %d", op.Error.Code)
		}
		return PollResult{Status: StatusFailed, ErrorMessage: msg}
	}
	if op.Response != nil {
		gen := op.Response.GenerateVideoResponse
		for _, sample := range gen.GeneratedSamples {
			if uri := strings.TrimSpace(sample.Video.URI); uri != "" {
				return PollResult{Status: StatusComplete, ArtifactURL: uri}
			}
		}
		if len(gen.RAIMediaFilteredReasons) > 0 {
			return PollResult{Status: StatusFailed, ErrorMessage: "filtered: " + strings.Join(gen.RAIMediaFilteredReasons, "; ")}
		}
	}
	return PollResult{Status: StatusFailed, ErrorMessage: "operation finished without a video"}
}

func statusError(code int, raw []byte) error {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Error.Message != "" {
		return &StatusError{StatusCode: code, Message: detail.Error.Message}
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &StatusError{StatusCode: code, Message: msg}
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
