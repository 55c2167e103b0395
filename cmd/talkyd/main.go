// Command talkyd runs the Talky chat backend: the HTTP API, the SQLite
// store, and the message pipeline in front of the external AI webhooks.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talky-edu/talky-backend/common/environment"
	"github.com/talky-edu/talky-backend/common/version"
	"github.com/talky-edu/talky-backend/internal/talky/ai"
	"github.com/talky-edu/talky-backend/internal/talky/api"
	"github.com/talky-edu/talky-backend/internal/talky/chat"
	"github.com/talky-edu/talky-backend/internal/talky/config"
	"github.com/talky-edu/talky-backend/internal/talky/observability"
	"github.com/talky-edu/talky-backend/internal/talky/store"
)

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	observability.Setup(
		environment.StringOr("TALKY_LOG_LEVEL", "info"),
		environment.StringOr("TALKY_LOG_FORMAT", "text"),
	)

	slog.Info("starting talkyd", "version", version.Info())

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	policy, err := config.Load(environment.StringOr("TALKY_POLICY_FILE", ""))
	if err != nil {
		return err
	}

	st, err := store.New(environment.StringOr("TALKY_DB_PATH", "talky.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	responderURL, err := environment.RequiredString("TALKY_RESPONDER_URL")
	if err != nil {
		return err
	}
	summaryURL, err := environment.RequiredString("TALKY_SUMMARY_URL")
	if err != nil {
		return err
	}

	responder := ai.NewWebhookResponder(ai.ResponderConfig{
		URL:     responderURL,
		Timeout: environment.DurationOr("TALKY_RESPONDER_TIMEOUT", 30*time.Second),
	})
	summaryClient := ai.NewWebhookSummaryClient(ai.SummaryConfig{
		URL:     summaryURL,
		Timeout: environment.DurationOr("TALKY_SUMMARY_TIMEOUT", 30*time.Second),
	})

	limiter := chat.NewRateLimiter(policy.Limits.Roles, policy.Limits.Default)
	summarizer := chat.NewSummarizer(summaryClient, nil)
	pipeline := chat.NewPipeline(st, limiter, responder, summarizer, chat.Policy{
		MaxConversations: policy.Conversation.MaxPerUser,
		CompactThreshold: policy.Conversation.CompactThreshold,
		RetainRecent:     policy.Conversation.RetainRecent,
		HistoryWindow:    policy.Conversation.HistoryWindow,
	}, nil)

	server := api.New(environment.StringOr("TALKY_HTTP_ADDR", ":8080"), pipeline, st, nil)
	if err := server.Start(); err != nil {
		return err
	}

	// Block until asked to stop, then drain in-flight requests.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	slog.Info("shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
