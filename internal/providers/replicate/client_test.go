package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"mediagen/internal/domain"
)

type responseStub struct {
	status int
	body   any
}

// captureTransport serves canned responses keyed by path and records the
// requests it saw.
type captureTransport struct {
	responses map[string][]responseStub
	requests  []*http.Request
	bodies    [][]byte
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.requests = append(t.requests, req)
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	t.bodies = append(t.bodies, body)

	stubs := t.responses[req.URL.Path]
	if len(stubs) == 0 {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}
	stub := stubs[0]
	if len(stubs) > 1 {
		t.responses[req.URL.Path] = stubs[1:]
	}
	encoded, _ := json.Marshal(stub.body)
	return &http.Response{
		StatusCode: stub.status,
		Body:       io.NopCloser(bytes.NewReader(encoded)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}, nil
}

func (t *captureTransport) stub(path string, status int, body any) {
	t.responses[path] = append(t.responses[path], responseStub{status: status, body: body})
}

func newTestClient(t *testing.T, transport *captureTransport) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIToken:   "test-token",
		BaseURL:    "https://replicate.test/v1",
		Model:      "owner/model:abcdef",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestGenerateSucceededPrediction(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusCreated, map[string]any{
		"id": "pred-1", "status": "succeeded",
		"output": []string{"https://cdn.replicate.test/out.png"},
	})

	client := newTestClient(t, transport)
	sources, err := client.Generate(context.Background(), "a red fox", map[string]any{"width": 512})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sources) != 1 || sources[0].URL != "https://cdn.replicate.test/out.png" {
		t.Fatalf("sources = %+v", sources)
	}

	var payload struct {
		Version string         `json:"version"`
		Input   map[string]any `json:"input"`
	}
	if err := json.Unmarshal(transport.bodies[0], &payload); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if payload.Version != "abcdef" {
		t.Fatalf("version = %q", payload.Version)
	}
	if payload.Input["prompt"] != "a red fox" {
		t.Fatalf("input prompt = %v", payload.Input["prompt"])
	}
	if got := transport.requests[0].Header.Get("Authorization"); got != "Token test-token" {
		t.Fatalf("authorization = %q", got)
	}
}

func TestGeneratePollsUntilSettled(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusCreated, map[string]any{
		"id": "pred-9", "status": "starting",
	})
	transport.stub("/v1/predictions/pred-9", http.StatusOK, map[string]any{
		"id": "pred-9", "status": "processing",
	})
	transport.stub("/v1/predictions/pred-9", http.StatusOK, map[string]any{
		"id": "pred-9", "status": "succeeded",
		"output": []string{"https://cdn.replicate.test/done.png"},
	})

	client := newTestClient(t, transport)
	client.pollInterval = time.Millisecond

	sources, err := client.Generate(context.Background(), "slow render", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sources) != 1 || sources[0].URL != "https://cdn.replicate.test/done.png" {
		t.Fatalf("sources = %+v", sources)
	}
	if len(transport.requests) != 3 {
		t.Fatalf("requests = %d, want 3 (create + 2 polls)", len(transport.requests))
	}
}

func TestGenerateTimeoutIsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusCreated, map[string]any{
		"id": "pred-10", "status": "starting",
	})
	transport.stub("/v1/predictions/pred-10", http.StatusOK, map[string]any{
		"id": "pred-10", "status": "processing",
	})

	client := newTestClient(t, transport)
	client.pollInterval = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Generate(ctx, "never finishes", nil)
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("deadline expiry should be transient, got %v", err)
	}
}

func TestGenerateCreate4xxIsPermanent(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusUnprocessableEntity, map[string]any{
		"detail": "invalid input",
	})

	client := newTestClient(t, transport)
	_, err := client.Generate(context.Background(), "bad", nil)
	if !domain.IsPermanent(err) {
		t.Fatalf("4xx should be permanent, got %v", err)
	}
}

func TestGenerateCreate429IsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusTooManyRequests, map[string]any{})

	client := newTestClient(t, transport)
	_, err := client.Generate(context.Background(), "busy", nil)
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("429 should be transient, got %v", err)
	}
}

func TestGenerateCreate5xxIsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusBadGateway, map[string]any{})

	client := newTestClient(t, transport)
	_, err := client.Generate(context.Background(), "flaky", nil)
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestGenerateFailedPredictionIsTransient(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusCreated, map[string]any{
		"id": "pred-2", "status": "failed", "error": "NSFW content detected",
	})

	client := newTestClient(t, transport)
	_, err := client.Generate(context.Background(), "x", nil)
	if err == nil || domain.IsPermanent(err) {
		t.Fatalf("failed prediction should be transient, got %v", err)
	}
	if !strings.Contains(err.Error(), "NSFW content detected") {
		t.Fatalf("error should carry provider message, got %v", err)
	}
}

func TestGenerateCanceledPredictionIsPermanent(t *testing.T) {
	transport := &captureTransport{responses: map[string][]responseStub{}}
	transport.stub("/v1/models/owner/model/predictions", http.StatusCreated, map[string]any{
		"id": "pred-3", "status": "canceled",
	})

	client := newTestClient(t, transport)
	_, err := client.Generate(context.Background(), "x", nil)
	if !domain.IsPermanent(err) {
		t.Fatalf("canceled prediction should be permanent, got %v", err)
	}
}

func TestExtractOutputShapes(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "list", raw: `["https://a/1.png","https://a/2.png"]`, want: 2},
		{name: "single string", raw: `"https://a/1.png"`, want: 1},
		{name: "empty list", raw: `[]`, wantErr: true},
		{name: "blank entries", raw: `["", " "]`, wantErr: true},
		{name: "object", raw: `{"unexpected":true}`, wantErr: true},
		{name: "missing", raw: ``, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sources, err := extractOutput(json.RawMessage(tc.raw))
			if tc.wantErr {
				if !domain.IsPermanent(err) {
					t.Fatalf("expected permanent error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractOutput: %v", err)
			}
			if len(sources) != tc.want {
				t.Fatalf("sources = %d, want %d", len(sources), tc.want)
			}
		})
	}
}

func TestSyntheticArtifactsWithoutToken(t *testing.T) {
	client, err := NewClient(Options{Model: "owner/model:abcdef"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	sources, err := client.Generate(context.Background(), "a quiet harbor", map[string]any{"width": float64(64), "height": float64(32)})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("sources = %d, want 1", len(sources))
	}
	if sources[0].MIME != "image/png" {
		t.Fatalf("mime = %q", sources[0].MIME)
	}
	img, err := png.Decode(bytes.NewReader(sources[0].Data))
	if err != nil {
		t.Fatalf("decode synthetic png: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 64 || bounds.Dy() != 32 {
		t.Fatalf("dimensions = %dx%d, want 64x32", bounds.Dx(), bounds.Dy())
	}

	// Deterministic for the same prompt.
	again, err := client.Generate(context.Background(), "a quiet harbor", map[string]any{"width": float64(64), "height": float64(32)})
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if !bytes.Equal(sources[0].Data, again[0].Data) {
		t.Fatalf("synthetic artifact not deterministic")
	}
}
