package tfserving_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/soundalert/pkg/classifier/tfserving"
)

// mockServing starts a test server that answers predict requests for model
// with the given raw JSON body and verifies the request shape.
func mockServing(t *testing.T, model string, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/models/"+model:
			_, _ = io.WriteString(w, `{"model_version_status":[{"version":"1","state":"AVAILABLE"}]}`)
			return
		case r.Method == http.MethodPost && r.URL.Path == "/v1/models/"+model+":predict":
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var req struct {
			Inputs []float32 `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Inputs) == 0 {
			t.Error("request carried no inputs")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestInfer_ResponseLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		body   string
		frames int
		width  int
	}{
		{"matrix outputs", `{"outputs": [[0.1, 0.9], [0.2, 0.8]]}`, 2, 2},
		{"vector outputs", `{"outputs": [0.1, 0.2, 0.7]}`, 1, 3},
		{"named outputs", `{"outputs": {"scores": [[0.5, 0.5, 0.0]], "embeddings": [[1, 2]]}}`, 1, 3},
		{"row predictions", `{"predictions": [[0.3, 0.7]]}`, 1, 2},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := mockServing(t, "yamnet", http.StatusOK, tc.body)
			defer srv.Close()

			c, err := tfserving.New(srv.URL+"/", "yamnet")
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			scores, err := c.Infer(context.Background(), []float32{0, 0.1, -0.1})
			if err != nil {
				t.Fatalf("Infer: %v", err)
			}
			if len(scores) != tc.frames {
				t.Fatalf("frames = %d, want %d", len(scores), tc.frames)
			}
			if len(scores[0]) != tc.width {
				t.Errorf("width = %d, want %d", len(scores[0]), tc.width)
			}
		})
	}
}

func TestInfer_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error with message", http.StatusBadRequest, `{"error": "Input size mismatch"}`},
		{"server error plain", http.StatusInternalServerError, `boom`},
		{"missing outputs", http.StatusOK, `{}`},
		{"missing named output", http.StatusOK, `{"outputs": {"embeddings": [[1]]}}`},
		{"not a tensor", http.StatusOK, `{"outputs": "nope"}`},
		{"malformed", http.StatusOK, `{"outputs": [[`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := mockServing(t, "yamnet", tc.status, tc.body)
			defer srv.Close()

			c, _ := tfserving.New(srv.URL, "yamnet")
			if _, err := c.Infer(context.Background(), []float32{0.5}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestInfer_EmptyWaveform(t *testing.T) {
	t.Parallel()

	c, _ := tfserving.New("http://127.0.0.1:1", "")
	if _, err := c.Infer(context.Background(), nil); err == nil {
		t.Error("expected error for empty waveform")
	}
}

func TestInfer_CustomOutputKey(t *testing.T) {
	t.Parallel()

	srv := mockServing(t, "panns", http.StatusOK, `{"outputs": {"clipwise_output": [[0.2, 0.8]]}}`)
	defer srv.Close()

	c, _ := tfserving.New(srv.URL, "panns", tfserving.WithOutputKey("clipwise_output"), tfserving.WithTimeout(5*time.Second))
	scores, err := c.Infer(context.Background(), []float32{0})
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if scores[0][1] != 0.8 {
		t.Errorf("scores[0][1] = %v, want 0.8", scores[0][1])
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv := mockServing(t, "yamnet", http.StatusOK, `{}`)
	defer srv.Close()

	c, _ := tfserving.New(srv.URL, "yamnet")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPing_ModelMissing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := tfserving.New(srv.URL, "yamnet")
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	c, err := tfserving.New("", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Model() != tfserving.DefaultModel {
		t.Errorf("Model = %q, want %q", c.Model(), tfserving.DefaultModel)
	}
	if _, err := tfserving.New("", "../admin"); err == nil {
		t.Error("expected error for model name with path separator")
	}
}
