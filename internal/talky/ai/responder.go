// Package ai holds the HTTP clients for the external AI collaborators: the
// responder webhook that answers user prompts and the summary webhook that
// condenses conversation transcripts. Both speak a small JSON contract and
// are bounded by request timeouts; the pipeline absorbs their failures into
// fixed fallback strings.
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

const (
	defaultResponderTimeout  = 30 * time.Second
	defaultResponderAttempts = 2
	initialRetryDelay        = 250 * time.Millisecond
)

// ResponderConfig configures the responder webhook client.
type ResponderConfig struct {
	// URL is the webhook endpoint that produces AI replies.
	URL string

	// Timeout bounds each HTTP request. Defaults to 30 s.
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per call, including the
	// first. Defaults to 2 (one retry on transport failure).
	MaxAttempts int
}

// WebhookResponder asks an external webhook for the AI reply to a prompt.
// The request carries only the current prompt — the responder is stateless
// per call and is never sent conversation history.
//
// WebhookResponder is safe for concurrent use.
type WebhookResponder struct {
	cfg    ResponderConfig
	client *http.Client
}

// NewWebhookResponder creates a responder client for cfg.URL.
func NewWebhookResponder(cfg ResponderConfig) *WebhookResponder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultResponderTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultResponderAttempts
	}
	return &WebhookResponder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type replyRequest struct {
	Sender         string `json:"sender"`
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

// Reply sends the prompt to the webhook and returns the reply text. When the
// response body is not the expected JSON shape but the call itself succeeded,
// the raw body is returned as-is — some workflow engines answer with plain
// text. Transport failures are retried once before the error is returned.
func (r *WebhookResponder) Reply(ctx context.Context, req chat.ResponderRequest) (string, error) {
	payload, err := json.Marshal(replyRequest{
		Sender:         req.Sender,
		Prompt:         req.Prompt,
		ConversationID: req.ConversationID.String(),
	})
	if err != nil {
		return "", fmt.Errorf("responder: marshal request: %w", err)
	}

	var reply string
	err = retry.Do(ctx, retry.Config{MaxAttempts: r.cfg.MaxAttempts, InitialDelay: initialRetryDelay}, func() error {
		var callErr error
		reply, callErr = r.call(ctx, payload)
		return callErr
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (r *WebhookResponder) call(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("responder: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("responder: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("responder: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("responder: unexpected HTTP status %d", resp.StatusCode)
	}

	var parsed replyResponse
	if err := json.Unmarshal(body, &parsed); err == nil && strings.TrimSpace(parsed.Reply) != "" {
		return parsed.Reply, nil
	}

	// Not the expected shape; hand the raw body back rather than failing.
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return "", fmt.Errorf("responder: empty response body")
	}
	return raw, nil
}

// Compile-time interface satisfaction check.
var _ chat.Responder = (*WebhookResponder)(nil)
