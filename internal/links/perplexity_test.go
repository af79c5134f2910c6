package links

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPerplexitySummarizer_Available(t *testing.T) {
	if NewPerplexitySummarizer("", time.Second).Available() {
		t.Error("expected Available()=false without API key")
	}
	if !NewPerplexitySummarizer("key", time.Second).Available() {
		t.Error("expected Available()=true with API key")
	}
}

func TestParseSummaryResponse(t *testing.T) {
	data := []byte(`{"choices":[{"message":{"content":"A short summary."}}]}`)
	got, err := parseSummaryResponse(data)
	if err != nil {
		t.Fatalf("parseSummaryResponse: %v", err)
	}
	if got != "A short summary." {
		t.Errorf("got %q", got)
	}
}

func TestParseSummaryResponse_Empty(t *testing.T) {
	if _, err := parseSummaryResponse([]byte(`{"choices":[]}`)); err == nil {
		t.Error("expected error for empty choices")
	}
	if _, err := parseSummaryResponse([]byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestPerplexitySummarizer_Summarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req perplexityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Model != "sonar" {
			t.Errorf("model = %q, want sonar", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[1].Content != "https://ex.com/article" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "Article summary."}},
			},
		})
	}))
	defer server.Close()

	p := NewPerplexitySummarizer("test-key", time.Second)
	p.apiURL = server.URL

	got, err := p.Summarize(context.Background(), "https://ex.com/article")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "Article summary." {
		t.Errorf("got %q", got)
	}
}

func TestPerplexitySummarizer_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	p := NewPerplexitySummarizer("test-key", time.Second)
	p.apiURL = server.URL

	if _, err := p.Summarize(context.Background(), "https://ex.com/a"); err == nil {
		t.Fatal("expected error for non-200 upstream response")
	}
}
