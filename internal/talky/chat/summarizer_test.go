package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/talky-edu/talky-backend/internal/talky/chat"
	"github.com/talky-edu/talky-backend/internal/talky/store"
)

// summaryClientFunc adapts a function to the chat.SummaryClient interface.
type summaryClientFunc func(ctx context.Context, transcript string) (string, error)

func (f summaryClientFunc) Summarize(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

func msg(typ store.MessageType, content string) *store.Message {
	return &store.Message{Type: typ, Content: content}
}

func TestFilterRelevantDropsNoise(t *testing.T) {
	substantive := "Could you explain how photosynthesis works in detail?"
	msgs := []*store.Message{
		msg(store.MessageTypeUser, "ok"),
		msg(store.MessageTypeUser, ""),
		msg(store.MessageTypeUser, substantive),
	}

	kept := chat.FilterRelevant(msgs)
	if len(kept) != 1 {
		t.Fatalf("kept: got %d messages, want 1", len(kept))
	}
	if kept[0].Content != substantive {
		t.Errorf("kept[0]: got %q, want the substantive message", kept[0].Content)
	}
}

func TestFilterRelevantRules(t *testing.T) {
	cases := []struct {
		name string
		in   *store.Message
		keep bool
	}{
		{"summary never resummarized", msg(store.MessageTypeSummary, "an earlier digest of this conversation"), false},
		{"whitespace only", msg(store.MessageTypeUser, "   \t  "), false},
		{"two chars or fewer", msg(store.MessageTypeUser, "hi"), false},
		{"filler uppercase", msg(store.MessageTypeUser, "OKAY"), false},
		{"filler with padding", msg(store.MessageTypeUser, "  Thanks  "), false},
		{"filler multiword", msg(store.MessageTypeUser, "got it"), false},
		{"short ai reply", msg(store.MessageTypeAI, "Yes."), false},
		{"short user message survives ai rule", msg(store.MessageTypeUser, "why?"), true},
		{"substantive ai reply", msg(store.MessageTypeAI, "Photosynthesis converts light into chemical energy."), true},
		{"substantive user prompt", msg(store.MessageTypeUser, "Explain the Krebs cycle, please."), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kept := chat.FilterRelevant([]*store.Message{tc.in})
			if got := len(kept) == 1; got != tc.keep {
				t.Errorf("keep = %v, want %v", got, tc.keep)
			}
		})
	}
}

func TestBuildTranscript(t *testing.T) {
	msgs := []*store.Message{
		msg(store.MessageTypeUser, "What is osmosis?"),
		msg(store.MessageTypeAI, "Movement of water across a membrane."),
	}

	got := chat.BuildTranscript(msgs)
	want := "[USER] What is osmosis? | [AI] Movement of water across a membrane."
	if got != want {
		t.Errorf("transcript:\n got %q\nwant %q", got, want)
	}
}

func TestBuildTranscriptEmpty(t *testing.T) {
	if got := chat.BuildTranscript(nil); got != "" {
		t.Errorf("empty transcript: got %q", got)
	}
}

func TestSummarizeDelegatesFilteredTranscript(t *testing.T) {
	var received string
	client := summaryClientFunc(func(_ context.Context, transcript string) (string, error) {
		received = transcript
		return "the digest", nil
	})
	s := chat.NewSummarizer(client, nil)

	msgs := []*store.Message{
		msg(store.MessageTypeUser, "ok"),
		msg(store.MessageTypeUser, "Tell me about mitochondria."),
	}

	got := s.Summarize(context.Background(), msgs)
	if got != "the digest" {
		t.Errorf("summary: got %q, want %q", got, "the digest")
	}
	if strings.Contains(received, "ok |") || !strings.Contains(received, "mitochondria") {
		t.Errorf("transcript should carry only filtered content, got %q", received)
	}
}

func TestSummarizeEmptyFilteredSet(t *testing.T) {
	client := summaryClientFunc(func(context.Context, string) (string, error) {
		t.Fatal("client should not be called for an empty filtered set")
		return "", nil
	})
	s := chat.NewSummarizer(client, nil)

	msgs := []*store.Message{
		msg(store.MessageTypeUser, "ok"),
		msg(store.MessageTypeUser, "no"),
	}

	if got := s.Summarize(context.Background(), msgs); got != chat.EmptySummaryFallback {
		t.Errorf("summary: got %q, want %q", got, chat.EmptySummaryFallback)
	}
}

func TestSummarizeAbsorbsClientFailure(t *testing.T) {
	client := summaryClientFunc(func(context.Context, string) (string, error) {
		return "", errors.New("webhook down")
	})
	s := chat.NewSummarizer(client, nil)

	msgs := []*store.Message{msg(store.MessageTypeUser, "Explain cellular respiration.")}

	if got := s.Summarize(context.Background(), msgs); got != chat.FailedSummaryFallback {
		t.Errorf("summary: got %q, want %q", got, chat.FailedSummaryFallback)
	}
}

func TestSummarizeAbsorbsEmptyClientReply(t *testing.T) {
	client := summaryClientFunc(func(context.Context, string) (string, error) {
		return "   ", nil
	})
	s := chat.NewSummarizer(client, nil)

	msgs := []*store.Message{msg(store.MessageTypeUser, "Explain cellular respiration.")}

	if got := s.Summarize(context.Background(), msgs); got != chat.FailedSummaryFallback {
		t.Errorf("summary: got %q, want %q", got, chat.FailedSummaryFallback)
	}
}
