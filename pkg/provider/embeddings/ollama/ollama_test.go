package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/questweaver/pkg/provider/embeddings/ollama"
)

// embedServer answers /api/embed with one canned vector per input. Input may
// be a single string or a list, mirroring the Ollama API.
func embedServer(t *testing.T, wantModel string, vec []float32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		var req struct {
			Model string          `json:"model"`
			Input json.RawMessage `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != wantModel {
			t.Errorf("model: got %q, want %q", req.Model, wantModel)
		}
		n := 1
		var many []string
		if json.Unmarshal(req.Input, &many) == nil {
			n = len(many)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = vec
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": wantModel, "embeddings": out})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	if _, err := ollama.New("", ""); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	srv, _ := embedServer(t, "nomic-embed-text", []float32{0.1, 0.2, 0.3})
	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	vec, err := p.Embed(context.Background(), "Grimjaw the smith")
	if err != nil {
		t.Fatalf("Embed: unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("Embed: unexpected vector %v", vec)
	}
}

func TestEmbedBatch(t *testing.T) {
	t.Parallel()

	srv, calls := embedServer(t, "all-minilm", []float32{1, 0})
	p, err := ollama.New(srv.URL, "all-minilm", ollama.WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}

	if got, err := p.EmbedBatch(context.Background(), nil); err != nil || got != nil {
		t.Fatalf("EmbedBatch(nil): expected (nil, nil), got (%v, %v)", got, err)
	}
	if calls.Load() != 0 {
		t.Fatal("EmbedBatch(nil): expected no request")
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("EmbedBatch: expected 3 vectors, got %d", len(vecs))
	}
}

func TestDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"mxbai-embed-large:latest", 1024},
		{"all-minilm", 384},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			t.Parallel()
			p, err := ollama.New("http://127.0.0.1:1", tc.model)
			if err != nil {
				t.Fatalf("New: unexpected error: %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions: got %d, want %d", got, tc.want)
			}
		})
	}

	t.Run("probe", func(t *testing.T) {
		t.Parallel()
		srv, calls := embedServer(t, "custom-embed", []float32{1, 2, 3, 4, 5})
		p, _ := ollama.New(srv.URL, "custom-embed")
		if got := p.Dimensions(); got != 5 {
			t.Fatalf("Dimensions: got %d, want 5", got)
		}
		_ = p.Dimensions()
		if calls.Load() != 1 {
			t.Errorf("expected one probe request, got %d", calls.Load())
		}
	})

	t.Run("option", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("", "custom-embed", ollama.WithDimensions(256))
		if got := p.Dimensions(); got != 256 {
			t.Errorf("Dimensions: got %d, want 256", got)
		}
	})
}

func TestEmbed_Errors(t *testing.T) {
	t.Parallel()

	t.Run("server down", func(t *testing.T) {
		t.Parallel()
		p, _ := ollama.New("http://127.0.0.1:1", "nomic-embed-text", ollama.WithTimeout(time.Second))
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("server error", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)
		p, _ := ollama.New(srv.URL, "nomic-embed-text")
		if _, err := p.Embed(context.Background(), "x"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()
		srv, _ := embedServer(t, "nomic-embed-text", []float32{1})
		p, _ := ollama.New(srv.URL, "nomic-embed-text")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := p.Embed(ctx, "x"); err == nil {
			t.Fatal("expected error for cancelled context")
		}
	})
}
