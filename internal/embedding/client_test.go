package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func embeddingServer(t *testing.T, handler func(req embeddingRequest) embeddingResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := json.NewEncoder(w).Encode(handler(req)); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEmbed(t *testing.T) {
	srv := embeddingServer(t, func(req embeddingRequest) embeddingResponse {
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		resp := embeddingResponse{Model: req.Model}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{float64(i), 1}})
		}
		return resp
	})

	client := NewClient(srv.URL, WithModel("test-model"))
	vec, err := client.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(vec) != 2 || vec[1] != 1 {
		t.Errorf("unexpected vector %v", vec)
	}
}

func TestEmbed_EmptyText(t *testing.T) {
	client := NewClient("http://localhost:0")
	if _, err := client.Embed(context.Background(), ""); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	// Respond with indices reversed; the client must restore input order.
	srv := embeddingServer(t, func(req embeddingRequest) embeddingResponse {
		var resp embeddingResponse
		n := len(req.Input)
		for i := n - 1; i >= 0; i-- {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float64 `json:"embedding"`
			}{Index: i, Embedding: []float64{float64(i)}})
		}
		return resp
	})

	client := NewClient(srv.URL)
	vecs, err := client.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch failed: %v", err)
	}
	for i, v := range vecs {
		if v[0] != float64(i) {
			t.Errorf("vector %d out of order: %v", i, v)
		}
	}
}

func TestEmbedBatch_TruncatesLongInput(t *testing.T) {
	var gotLen int
	srv := embeddingServer(t, func(req embeddingRequest) embeddingResponse {
		gotLen = len(req.Input[0])
		return embeddingResponse{Data: []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}{{Index: 0, Embedding: []float64{1}}}}
	})

	client := NewClient(srv.URL, WithMaxInputBytes(100))
	_, err := client.Embed(context.Background(), strings.Repeat("x", 500))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if gotLen != 100 {
		t.Errorf("expected input truncated to 100 bytes, got %d", gotLen)
	}
}

func TestEmbed_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Embed(context.Background(), "anything")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	client := NewClient("http://localhost:0", WithMaxInputBytes(5))
	// "héllo" is 6 bytes; cutting at 5 would split nothing, but cutting
	// inside the two-byte é must back up to the previous boundary.
	got := client.truncate("hé" + strings.Repeat("x", 10))
	if !strings.HasPrefix("hé"+strings.Repeat("x", 10), got) {
		t.Fatalf("truncate returned non-prefix %q", got)
	}
	for _, r := range got {
		if r == '�' {
			t.Errorf("truncate split a rune: %q", got)
		}
	}
}
