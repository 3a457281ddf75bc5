// Package replicate integrates the Replicate predictions API as a generation
// provider. A prediction is created, then polled until it settles or the
// caller's deadline expires. Without an API token the client produces
// deterministic synthetic artifacts so workers stay operational in local and
// CI environments.
package replicate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers/generation"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// defaultPollInterval is how often a pending prediction is re-checked.
const defaultPollInterval = 2 * time.Second

// Options controls how the Replicate client is configured.
type Options struct {
	APIToken   string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client implements generation.Generator against the Replicate API.
type Client struct {
	apiToken     string
	baseURL      string
	model        string
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
}

// NewClient validates options and constructs a Client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("replicate: model is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		model:        opts.Model,
		httpClient:   httpClient,
		logger:       opts.Logger,
		pollInterval: defaultPollInterval,
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Generate creates a prediction for the prompt and polls it to completion.
// The caller's context bounds the whole exchange; expiry is transient.
func (c *Client) Generate(ctx context.Context, prompt string, parameters map[string]any) ([]generation.ArtifactSource, error) {
	if c.apiToken == "" {
		return c.syntheticArtifacts(prompt, parameters)
	}

	pred, err := c.createPrediction(ctx, prompt, parameters)
	if err != nil {
		return nil, err
	}
	c.logf(func(l *infra.Logger) {
		l.Info().Str("prediction_id", pred.ID).Str("model", c.model).Msg("replicate: prediction created")
	})

	pred, err = c.waitForPrediction(ctx, pred)
	if err != nil {
		return nil, err
	}
	return extractOutput(pred.Output)
}

func (c *Client) createPrediction(ctx context.Context, prompt string, parameters map[string]any) (*prediction, error) {
	input := map[string]any{"prompt": prompt}
	for k, v := range parameters {
		input[k] = v
	}

	url := c.baseURL + "/predictions"
	payload := map[string]any{"input": input}
	if name, version, ok := splitModel(c.model); ok {
		url = fmt.Sprintf("%s/models/%s/predictions", c.baseURL, name)
		payload["version"] = version
	} else {
		payload["version"] = c.model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("replicate: encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Permanent(fmt.Errorf("replicate: build request: %w", err))
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("replicate: create prediction: %w", err))
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, "create prediction"); err != nil {
		return nil, err
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, domain.Permanent(fmt.Errorf("replicate: decode prediction: %w", err))
	}
	if pred.ID == "" {
		return nil, domain.Permanent(errors.New("replicate: prediction response missing id"))
	}
	return &pred, nil
}

func (c *Client) waitForPrediction(ctx context.Context, pred *prediction) (*prediction, error) {
	url := fmt.Sprintf("%s/predictions/%s", c.baseURL, pred.ID)
	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed":
			// Provider-side runtime failure; same retry family as a 5xx.
			return nil, domain.Transient(fmt.Errorf("replicate: prediction failed: %s", pred.Error))
		case "canceled":
			return nil, domain.Permanent(errors.New("replicate: prediction was canceled"))
		}

		select {
		case <-ctx.Done():
			return nil, domain.Transient(fmt.Errorf("replicate: prediction timeout: %w", ctx.Err()))
		case <-time.After(c.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, domain.Permanent(fmt.Errorf("replicate: build poll request: %w", err))
		}
		req.Header.Set("Authorization", "Token "+c.apiToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domain.Transient(fmt.Errorf("replicate: poll prediction: %w", err))
		}
		next := &prediction{}
		decodeErr := json.NewDecoder(resp.Body).Decode(next)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := classifyStatus(resp.StatusCode, "poll prediction"); err != nil {
			return nil, err
		}
		if decodeErr != nil {
			return nil, domain.Permanent(fmt.Errorf("replicate: decode poll response: %w", decodeErr))
		}
		pred = next
	}
}

// classifyStatus maps an HTTP status to the pipeline error taxonomy:
// 429 and 5xx are transient, other non-2xx are permanent.
func classifyStatus(status int, op string) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.Transient(fmt.Errorf("replicate: %s: status %d", op, status))
	default:
		return domain.Permanent(fmt.Errorf("replicate: %s: status %d", op, status))
	}
}

// extractOutput normalizes the prediction output into artifact sources.
// Replicate returns either a list of URLs or a single URL string.
func extractOutput(raw json.RawMessage) ([]generation.ArtifactSource, error) {
	if len(raw) == 0 {
		return nil, domain.Permanent(errors.New("replicate: prediction has no output"))
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, domain.Permanent(fmt.Errorf("replicate: unexpected output shape: %s", string(raw)))
		}
		urls = []string{single}
	}
	sources := make([]generation.ArtifactSource, 0, len(urls))
	for _, u := range urls {
		if strings.TrimSpace(u) == "" {
			continue
		}
		sources = append(sources, generation.ArtifactSource{URL: u})
	}
	if len(sources) == 0 {
		return nil, domain.Permanent(errors.New("replicate: prediction output empty"))
	}
	return sources, nil
}

func splitModel(model string) (name, version string, ok bool) {
	if !strings.Contains(model, "/") || !strings.Contains(model, ":") {
		return "", "", false
	}
	parts := strings.SplitN(model, ":", 2)
	return parts[0], parts[1], true
}

// syntheticArtifacts produces a deterministic PNG derived from the prompt so
// the pipeline can run end to end without credentials.
func (c *Client) syntheticArtifacts(prompt string, parameters map[string]any) ([]generation.ArtifactSource, error) {
	width, height := 256, 256
	if w, ok := intParam(parameters, "width"); ok {
		width = clampDim(w)
	}
	if h, ok := intParam(parameters, "height"); ok {
		height = clampDim(h)
	}

	sum := sha256.Sum256([]byte(prompt))
	base := color.NRGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := base
			px.R += uint8((x * 3) % 32)
			px.B += uint8((y * 3) % 32)
			img.SetNRGBA(x, y, px)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domain.Permanent(fmt.Errorf("replicate: encode synthetic png: %w", err))
	}
	c.logf(func(l *infra.Logger) {
		l.Warn().Str("model", c.model).Msg("replicate: api token missing, returning synthetic artifact")
	})
	return []generation.ArtifactSource{{Data: buf.Bytes(), MIME: "image/png"}}, nil
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func clampDim(n int) int {
	if n < 16 {
		return 16
	}
	if n > 2048 {
		return 2048
	}
	return n
}

func (c *Client) logf(fn func(l *infra.Logger)) {
	if c.logger != nil {
		fn(c.logger)
	}
}
