package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/talky-edu/talky-backend/internal/talky/store"
)

func TestReplaceSummaryKeepsSingleRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	convID := newConversation(t, s, "user-1")

	if _, err := s.ReplaceSummary(ctx, convID, "first digest"); err != nil {
		t.Fatalf("first ReplaceSummary: %v", err)
	}
	if _, err := s.ReplaceSummary(ctx, convID, "second digest"); err != nil {
		t.Fatalf("second ReplaceSummary: %v", err)
	}

	count, err := s.CountSummaries(ctx, convID)
	if err != nil {
		t.Fatalf("CountSummaries: %v", err)
	}
	if count != 1 {
		t.Errorf("summary rows: got %d, want 1", count)
	}

	latest, err := s.LatestSummary(ctx, convID)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if latest.Summary != "second digest" {
		t.Errorf("Summary: got %q, want %q", latest.Summary, "second digest")
	}
	if latest.ConversationID != convID {
		t.Errorf("ConversationID: got %v, want %v", latest.ConversationID, convID)
	}
}

func TestLatestSummaryAbsent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LatestSummary(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSummariesIndependentAcrossConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := newConversation(t, s, "user-1")
	second := newConversation(t, s, "user-2")

	if _, err := s.ReplaceSummary(ctx, first, "first digest"); err != nil {
		t.Fatalf("ReplaceSummary: %v", err)
	}
	if _, err := s.ReplaceSummary(ctx, second, "second digest"); err != nil {
		t.Fatalf("ReplaceSummary: %v", err)
	}

	got, err := s.LatestSummary(ctx, first)
	if err != nil {
		t.Fatalf("LatestSummary: %v", err)
	}
	if got.Summary != "first digest" {
		t.Errorf("Summary: got %q, want %q", got.Summary, "first digest")
	}
}
