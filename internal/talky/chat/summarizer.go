package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/talky-edu/talky-backend/internal/talky/store"
)

const (
	// EmptySummaryFallback is returned when filtering leaves nothing worth
	// sending to the summary service.
	EmptySummaryFallback = "nothing relevant to summarize"

	// FailedSummaryFallback is returned when the summary service call fails.
	// The failure is absorbed here; it never reaches the pipeline caller.
	FailedSummaryFallback = "Could not generate a summary from the AI service."

	// transcriptSeparator joins transcript entries.
	transcriptSeparator = " | "

	// minAIContentLen is the shortest AI reply considered substantive.
	minAIContentLen = 5
)

// fillerMessages are short acknowledgements that add nothing to a summary.
// Matched case-insensitively against the trimmed message content.
var fillerMessages = map[string]bool{
	"ok":        true,
	"okay":      true,
	"k":         true,
	"thanks":    true,
	"thank you": true,
	"yes":       true,
	"no":        true,
	"got it":    true,
	"sure":      true,
	"alright":   true,
}

// SummaryClient obtains a condensed summary of a transcript from the
// external summarization service.
type SummaryClient interface {
	Summarize(ctx context.Context, transcript string) (string, error)
}

// Summarizer condenses a conversation's history into a short text. It drops
// noise before building the transcript so the external service only sees
// substantive content.
type Summarizer struct {
	client SummaryClient
	logger *slog.Logger
}

// NewSummarizer returns a Summarizer backed by client. If logger is nil the
// default slog logger is used.
func NewSummarizer(client SummaryClient, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{client: client, logger: logger}
}

// FilterRelevant returns the subsequence of msgs worth summarizing. It drops:
//
//   - SUMMARY-typed messages (a summary is never re-summarized),
//   - empty or whitespace-only content,
//   - content of length ≤ 2,
//   - filler acknowledgements ("ok", "thanks", ...), case-insensitively,
//   - AI replies shorter than 5 characters.
//
// Order is preserved.
func FilterRelevant(msgs []*store.Message) []*store.Message {
	var kept []*store.Message
	for _, m := range msgs {
		if m.Type == store.MessageTypeSummary {
			continue
		}
		content := strings.ToLower(strings.TrimSpace(m.Content))
		if content == "" || len(content) <= 2 {
			continue
		}
		if fillerMessages[content] {
			continue
		}
		if m.Type == store.MessageTypeAI && len(content) < minAIContentLen {
			continue
		}
		kept = append(kept, m)
	}
	return kept
}

// BuildTranscript concatenates msgs as "[TYPE] content" entries joined by
// " | ", preserving chronological order.
func BuildTranscript(msgs []*store.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString(transcriptSeparator)
		}
		b.WriteString("[")
		b.WriteString(string(m.Type))
		b.WriteString("] ")
		b.WriteString(m.Content)
	}
	return b.String()
}

// Summarize filters msgs, builds the transcript, and asks the external
// service for a condensed summary. It always returns usable text: an empty
// filtered set yields EmptySummaryFallback and a failed service call yields
// FailedSummaryFallback. Errors are logged, never returned.
func (s *Summarizer) Summarize(ctx context.Context, msgs []*store.Message) string {
	relevant := FilterRelevant(msgs)
	if len(relevant) == 0 {
		return EmptySummaryFallback
	}

	summary, err := s.client.Summarize(ctx, BuildTranscript(relevant))
	if err != nil {
		s.logger.Warn("summary service call failed", "err", err, "messages", len(relevant))
		return FailedSummaryFallback
	}
	if strings.TrimSpace(summary) == "" {
		s.logger.Warn("summary service returned empty text", "messages", len(relevant))
		return FailedSummaryFallback
	}
	return summary
}
