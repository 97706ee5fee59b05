// Package tfserving provides a [classifier.Classifier] backed by a TensorFlow
// Serving REST endpoint hosting an audio-event model such as YAMNet.
//
// Each Infer call issues one predict request in the columnar ("inputs")
// format:
//
//	POST {base}/v1/models/{model}:predict
//	{"inputs": [w0, w1, ...]}
//
// The response's "outputs" (or "predictions") member may be a frames×K matrix,
// a single K-wide vector, or (for multi-output signatures like YAMNet) an
// object whose "scores" entry holds the matrix.
//
// Example usage:
//
//	c, err := tfserving.New("http://localhost:8501", "yamnet")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	scores, err := c.Infer(ctx, waveform)
package tfserving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/soundalert/pkg/classifier"
)

// DefaultBaseURL is the REST port of a locally running TensorFlow Serving
// container.
const DefaultBaseURL = "http://localhost:8501"

// DefaultModel is the model name used when none is configured.
const DefaultModel = "yamnet"

// Ensure Client implements the classifier.Classifier interface at compile time.
var _ classifier.Classifier = (*Client)(nil)

// Client implements classifier.Classifier against TensorFlow Serving.
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	model      string
	outputKey  string
	httpClient *http.Client
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout   time.Duration
	outputKey string
	client    *http.Client
}

// Option is a functional option for Client.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. A zero or negative value means
// no timeout (the default).
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithOutputKey selects which named output of a multi-output signature holds
// the score matrix. Defaults to "scores".
func WithOutputKey(key string) Option {
	return func(c *config) {
		c.outputKey = key
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.client = hc
	}
}

// New constructs a Client. An empty baseURL falls back to DefaultBaseURL and
// an empty model to DefaultModel; a trailing slash on baseURL is stripped.
func New(baseURL, model string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModel
	}
	if strings.ContainsAny(model, "/?#") {
		return nil, fmt.Errorf("tfserving: invalid model name %q", model)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{outputKey: "scores"}
	for _, o := range opts {
		o(cfg)
	}

	hc := cfg.client
	if hc == nil {
		hc = &http.Client{}
	}
	if cfg.timeout > 0 {
		clone := *hc
		clone.Timeout = cfg.timeout
		hc = &clone
	}

	return &Client{
		baseURL:    baseURL,
		model:      model,
		outputKey:  cfg.outputKey,
		httpClient: hc,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// predictRequest is the columnar TF Serving request body.
type predictRequest struct {
	Inputs []float32 `json:"inputs"`
}

// predictResponse covers both the columnar ("outputs") and row ("predictions")
// response layouts.
type predictResponse struct {
	Outputs     json.RawMessage `json:"outputs"`
	Predictions json.RawMessage `json:"predictions"`
	Error       string          `json:"error"`
}

// Infer implements classifier.Classifier.
func (c *Client) Infer(ctx context.Context, waveform []float32) (classifier.Scores, error) {
	if len(waveform) == 0 {
		return nil, fmt.Errorf("tfserving: infer: empty waveform")
	}
	body, err := json.Marshal(predictRequest{Inputs: waveform})
	if err != nil {
		return nil, fmt.Errorf("tfserving: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL()+":predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tfserving: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tfserving: infer: %w", err)
	}
	defer resp.Body.Close()

	var result predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("tfserving: infer: unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("tfserving: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if result.Error != "" {
			return nil, fmt.Errorf("tfserving: infer: status %d: %s", resp.StatusCode, result.Error)
		}
		return nil, fmt.Errorf("tfserving: infer: unexpected status %d", resp.StatusCode)
	}

	raw := result.Outputs
	if len(raw) == 0 {
		raw = result.Predictions
	}
	scores, err := c.decodeScores(raw)
	if err != nil {
		return nil, fmt.Errorf("tfserving: decode scores: %w", err)
	}
	return scores, nil
}

// Ping checks that the model is loaded and available. It is used as a
// readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.modelURL(), nil)
	if err != nil {
		return fmt.Errorf("tfserving: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tfserving: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tfserving: ping: model %q: unexpected status %d", c.model, resp.StatusCode)
	}
	return nil
}

func (c *Client) modelURL() string {
	return c.baseURL + "/v1/models/" + c.model
}

// decodeScores accepts a matrix, a single vector, or an object holding the
// matrix under c.outputKey.
func (c *Client) decodeScores(raw json.RawMessage) (classifier.Scores, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("response has no outputs")
	}

	switch raw[0] {
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, err
		}
		inner, ok := named[c.outputKey]
		if !ok {
			return nil, fmt.Errorf("output %q not present in response", c.outputKey)
		}
		// The named output is itself a matrix or vector, never another object.
		if t := bytes.TrimSpace(inner); len(t) > 0 && t[0] == '{' {
			return nil, fmt.Errorf("output %q is not a tensor", c.outputKey)
		}
		return c.decodeScores(inner)
	case '[':
		var matrix [][]float32
		if err := json.Unmarshal(raw, &matrix); err == nil {
			return matrix, nil
		}
		var vector []float32
		if err := json.Unmarshal(raw, &vector); err != nil {
			return nil, fmt.Errorf("outputs are neither a matrix nor a vector: %w", err)
		}
		return classifier.Scores{vector}, nil
	default:
		return nil, fmt.Errorf("unexpected outputs type")
	}
}
