package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/talky-edu/talky-backend/common/retry"
	"github.com/talky-edu/talky-backend/internal/talky/chat"
)

const defaultSummaryTimeout = 30 * time.Second

// SummaryConfig configures the summary webhook client.
type SummaryConfig struct {
	// URL is the webhook endpoint that condenses transcripts.
	URL string

	// Timeout bounds each HTTP request. Defaults to 30 s.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per call. Defaults to 2.
	MaxAttempts int
}

// WebhookSummaryClient obtains condensed summaries from an external webhook.
// It is safe for concurrent use.
type WebhookSummaryClient struct {
	cfg    SummaryConfig
	client *http.Client
}

// NewWebhookSummaryClient creates a summary client for cfg.URL.
func NewWebhookSummaryClient(cfg SummaryConfig) *WebhookSummaryClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSummaryTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultResponderAttempts
	}
	return &WebhookSummaryClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type summaryRequest struct {
	Transcript string `json:"transcript"`
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// Summarize posts the transcript and returns the condensed summary text.
func (c *WebhookSummaryClient) Summarize(ctx context.Context, transcript string) (string, error) {
	payload, err := json.Marshal(summaryRequest{Transcript: transcript})
	if err != nil {
		return "", fmt.Errorf("summary: marshal request: %w", err)
	}

	var summary string
	err = retry.Do(ctx, retry.Config{MaxAttempts: c.cfg.MaxAttempts, InitialDelay: initialRetryDelay}, func() error {
		var callErr error
		summary, callErr = c.call(ctx, payload)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

func (c *WebhookSummaryClient) call(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("summary: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("summary: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("summary: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("summary: unexpected HTTP status %d", resp.StatusCode)
	}

	var parsed summaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("summary: decode response: %w", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return "", fmt.Errorf("summary: response carried no summary text")
	}
	return parsed.Summary, nil
}

// Compile-time interface satisfaction check.
var _ chat.SummaryClient = (*WebhookSummaryClient)(nil)
