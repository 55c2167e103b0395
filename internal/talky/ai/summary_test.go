package ai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/talky-edu/talky-backend/internal/talky/ai"
)

func TestWebhookSummaryClientSummarize(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"summary": "a condensed digest"})
	}))
	defer srv.Close()

	c := ai.NewWebhookSummaryClient(ai.SummaryConfig{URL: srv.URL})

	summary, err := c.Summarize(context.Background(), "[USER] hello | [AI] hi there")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "a condensed digest" {
		t.Errorf("summary: got %q", summary)
	}
	if gotBody["transcript"] != "[USER] hello | [AI] hi there" {
		t.Errorf("transcript: got %q", gotBody["transcript"])
	}
}

func TestWebhookSummaryClientRejectsEmptySummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"summary": "   "}`))
	}))
	defer srv.Close()

	c := ai.NewWebhookSummaryClient(ai.SummaryConfig{URL: srv.URL, MaxAttempts: 1})

	if _, err := c.Summarize(context.Background(), "transcript"); err == nil {
		t.Fatal("expected an error when the response carries no summary text")
	}
}

func TestWebhookSummaryClientRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := ai.NewWebhookSummaryClient(ai.SummaryConfig{URL: srv.URL, MaxAttempts: 1})

	// Unlike the responder, the summary contract is strict JSON.
	if _, err := c.Summarize(context.Background(), "transcript"); err == nil {
		t.Fatal("expected an error for a non-JSON response")
	}
}

func TestWebhookSummaryClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := ai.NewWebhookSummaryClient(ai.SummaryConfig{URL: srv.URL, MaxAttempts: 1})

	if _, err := c.Summarize(context.Background(), "transcript"); err == nil {
		t.Fatal("expected an error for a 502 response")
	}
}

func TestWebhookSummaryClientRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"summary": "eventually"})
	}))
	defer srv.Close()

	c := ai.NewWebhookSummaryClient(ai.SummaryConfig{URL: srv.URL})

	summary, err := c.Summarize(context.Background(), "transcript")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary != "eventually" {
		t.Errorf("summary: got %q", summary)
	}
}
