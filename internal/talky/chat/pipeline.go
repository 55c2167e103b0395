package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talky-edu/talky-backend/internal/talky/store"
)

const (
	// RateLimitedMessage is the fixed user-facing text carried by a
	// rate-limited turn result.
	RateLimitedMessage = "You have exceeded the allowed message limit. Please wait before sending more."

	// ResponderFallback replaces the AI reply when the responder call fails.
	// The turn still completes: the fallback is persisted and returned as if
	// it were a normal reply, so a responder outage never crashes a turn.
	ResponderFallback = "The AI service could not be reached. Please try again later."
)

// ErrTurnInProgress is returned when a turn is already in flight on the
// conversation. The caller should retry after the current turn completes;
// nothing has been persisted.
var ErrTurnInProgress = errors.New("chat: a turn is already in progress on this conversation")

// Responder is the external AI collaborator that produces the reply for a
// user prompt. Implementations must honor ctx cancellation and deadlines.
type Responder interface {
	Reply(ctx context.Context, req ResponderRequest) (string, error)
}

// ResponderRequest is the per-turn payload sent to the responder. The
// responder is stateless per call: only the current prompt is sent, never
// the conversation history.
type ResponderRequest struct {
	Sender         string
	Prompt         string
	ConversationID uuid.UUID
}

// Policy holds the tunable limits of the pipeline.
type Policy struct {
	// MaxConversations caps the number of conversations per owner.
	MaxConversations int
	// CompactThreshold is the message count above which a turn triggers
	// compaction of the conversation's history.
	CompactThreshold int
	// RetainRecent is the number of most recent messages kept (besides the
	// SUMMARY message) when compaction prunes older history. It must sit
	// below CompactThreshold for compaction to actually shrink anything.
	RetainRecent int
	// HistoryWindow is the number of most recent messages served by the
	// read-only history endpoint.
	HistoryWindow int
}

// DefaultPolicy mirrors the platform defaults: four conversations per user,
// compaction past twenty messages down to the ten most recent, and a
// fifty-message reading window.
var DefaultPolicy = Policy{
	MaxConversations: 4,
	CompactThreshold: 20,
	RetainRecent:     10,
	HistoryWindow:    50,
}

// TurnRequest is one inbound user prompt. ConversationID may be uuid.Nil,
// in which case a conversation is created for the user (subject to the
// per-owner cap) with the user's role as its mode.
type TurnRequest struct {
	UserID         string
	Role           string
	ConversationID uuid.UUID
	Prompt         string
}

// TurnResult is the outcome of an accepted turn.
type TurnResult struct {
	Reply          string
	Type           store.MessageType
	ConversationID uuid.UUID
	Timestamp      time.Time
	// RateLimited marks a well-formed throttled result: Reply carries the
	// fixed limit message and nothing was persisted.
	RateLimited bool
}

// Pipeline orchestrates a message turn: resolve the conversation, take the
// turn gate, check the rate limit, persist the exchange around the responder
// call, and compact history once it outgrows the threshold.
type Pipeline struct {
	store      *store.Store
	gate       *Gate
	limiter    *RateLimiter
	responder  Responder
	summarizer *Summarizer
	policy     Policy
	logger     *slog.Logger
}

// NewPipeline wires a Pipeline. Zero fields of policy are replaced by the
// DefaultPolicy values; a nil logger falls back to slog.Default().
func NewPipeline(st *store.Store, limiter *RateLimiter, responder Responder, summarizer *Summarizer, policy Policy, logger *slog.Logger) *Pipeline {
	if policy.MaxConversations <= 0 {
		policy.MaxConversations = DefaultPolicy.MaxConversations
	}
	if policy.CompactThreshold <= 0 {
		policy.CompactThreshold = DefaultPolicy.CompactThreshold
	}
	if policy.RetainRecent <= 0 {
		policy.RetainRecent = DefaultPolicy.RetainRecent
	}
	if policy.HistoryWindow <= 0 {
		policy.HistoryWindow = DefaultPolicy.HistoryWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:      st,
		gate:       NewGate(),
		limiter:    limiter,
		responder:  responder,
		summarizer: summarizer,
		policy:     policy,
		logger:     logger,
	}
}

// Gate exposes the pipeline's turn gate. Intended for tests that need to
// simulate a contended conversation.
func (p *Pipeline) Gate() *Gate {
	return p.gate
}

// SendMessage runs one turn. Possible outcomes:
//
//   - (result, nil) — the turn completed; result.Reply is the AI reply or,
//     when the responder failed, the fixed ResponderFallback text.
//   - (result, nil) with result.RateLimited — the user's bucket was empty;
//     nothing was persisted.
//   - (nil, ErrTurnInProgress) — another turn holds the conversation gate;
//     nothing was persisted.
//   - (nil, store.ErrNotFound) — the supplied conversation id is unknown.
//   - (nil, store.ErrConversationLimit) — a new conversation was needed but
//     the owner is at the cap.
//   - (nil, err) — a storage failure. When it strikes between the two
//     appends the inbound USER message stays behind without a paired reply;
//     that orphan is accepted and visible, there is no rollback.
func (p *Pipeline) SendMessage(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	conv, err := p.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	if !p.gate.TryEnter(conv.ID) {
		return nil, ErrTurnInProgress
	}
	defer p.gate.Leave(conv.ID)

	if !p.limiter.Allow(req.UserID, req.Role) {
		p.logger.Info("turn rate-limited",
			"user_id", req.UserID, "role", req.Role, "conversation_id", conv.ID)
		return &TurnResult{
			Reply:          RateLimitedMessage,
			Type:           store.MessageTypeAI,
			ConversationID: conv.ID,
			Timestamp:      time.Now(),
			RateLimited:    true,
		}, nil
	}

	if _, err := p.store.AppendMessage(ctx, conv.ID, store.MessageTypeUser, req.Prompt); err != nil {
		return nil, fmt.Errorf("persist inbound message: %w", err)
	}

	reply, err := p.responder.Reply(ctx, ResponderRequest{
		Sender:         req.UserID,
		Prompt:         req.Prompt,
		ConversationID: conv.ID,
	})
	if err != nil {
		p.logger.Warn("responder call failed, substituting fallback reply",
			"conversation_id", conv.ID, "err", err)
		reply = ResponderFallback
	}

	aiMsg, err := p.store.AppendMessage(ctx, conv.ID, store.MessageTypeAI, reply)
	if err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}

	if err := p.store.TouchConversation(ctx, conv.ID); err != nil {
		p.logger.Warn("failed to bump conversation timestamp",
			"conversation_id", conv.ID, "err", err)
	}

	p.maybeCompact(ctx, conv.ID)

	return &TurnResult{
		Reply:          reply,
		Type:           store.MessageTypeAI,
		ConversationID: conv.ID,
		Timestamp:      aiMsg.CreatedAt,
	}, nil
}

// CreateConversation explicitly creates a conversation for userID with the
// given title (empty means the default) and mode, subject to the per-owner
// cap. Returns store.ErrConversationLimit when the cap is reached.
func (p *Pipeline) CreateConversation(ctx context.Context, userID, title, mode string) (*store.Conversation, error) {
	return p.store.CreateConversation(ctx, userID, title, mode, p.policy.MaxConversations)
}

// History returns the conversation's most recent messages in chronological
// order, summaries included inline as SUMMARY-typed entries. Returns
// store.ErrNotFound for an unknown conversation.
func (p *Pipeline) History(ctx context.Context, conversationID uuid.UUID) ([]*store.Message, error) {
	if _, err := p.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	recent, err := p.store.ListRecentMessages(ctx, conversationID, p.policy.HistoryWindow)
	if err != nil {
		return nil, err
	}

	// The store hands back newest-first; flip to display order.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent, nil
}

func (p *Pipeline) resolveConversation(ctx context.Context, req TurnRequest) (*store.Conversation, error) {
	if req.ConversationID == uuid.Nil {
		conv, err := p.store.CreateConversation(ctx, req.UserID, "", req.Role, p.policy.MaxConversations)
		if err != nil {
			return nil, err
		}
		p.logger.Info("created conversation for first message",
			"conversation_id", conv.ID, "user_id", req.UserID, "mode", conv.Mode)
		return conv, nil
	}
	return p.store.GetConversation(ctx, req.ConversationID)
}

// maybeCompact replaces older history with a condensed summary once the
// conversation outgrows the threshold. Compaction is best-effort: every
// failure is logged and absorbed so the turn's response is never blocked.
func (p *Pipeline) maybeCompact(ctx context.Context, conversationID uuid.UUID) {
	count, err := p.store.CountMessages(ctx, conversationID)
	if err != nil {
		p.logger.Warn("compaction skipped: count failed", "conversation_id", conversationID, "err", err)
		return
	}
	if count <= p.policy.CompactThreshold {
		return
	}

	msgs, err := p.store.ListMessages(ctx, conversationID)
	if err != nil {
		p.logger.Warn("compaction skipped: history read failed", "conversation_id", conversationID, "err", err)
		return
	}

	summaryText := p.summarizer.Summarize(ctx, msgs)

	// Drop the previous SUMMARY message before writing the new one so only
	// a single summary ever sits in the history.
	prior, err := p.store.ListMessagesByType(ctx, conversationID, store.MessageTypeSummary)
	if err != nil {
		p.logger.Warn("compaction aborted: prior summary lookup failed", "conversation_id", conversationID, "err", err)
		return
	}
	priorIDs := make([]int64, 0, len(prior))
	for _, m := range prior {
		priorIDs = append(priorIDs, m.ID)
	}
	if err := p.store.DeleteMessages(ctx, priorIDs); err != nil {
		p.logger.Warn("compaction aborted: prior summary delete failed", "conversation_id", conversationID, "err", err)
		return
	}

	if _, err := p.store.ReplaceSummary(ctx, conversationID, summaryText); err != nil {
		p.logger.Warn("compaction aborted: summary replace failed", "conversation_id", conversationID, "err", err)
		return
	}
	if _, err := p.store.AppendMessage(ctx, conversationID, store.MessageTypeSummary, summaryText); err != nil {
		p.logger.Warn("compaction aborted: summary message append failed", "conversation_id", conversationID, "err", err)
		return
	}

	// Prune everything outside the retained window, keeping SUMMARY rows.
	recent, err := p.store.ListRecentMessages(ctx, conversationID, p.policy.RetainRecent)
	if err != nil {
		p.logger.Warn("compaction aborted: recent window read failed", "conversation_id", conversationID, "err", err)
		return
	}
	retained := make(map[int64]bool, len(recent))
	for _, m := range recent {
		retained[m.ID] = true
	}

	var stale []int64
	for _, m := range msgs {
		if m.Type == store.MessageTypeSummary || retained[m.ID] {
			continue
		}
		stale = append(stale, m.ID)
	}
	if err := p.store.DeleteMessages(ctx, stale); err != nil {
		p.logger.Warn("compaction incomplete: prune failed", "conversation_id", conversationID, "err", err)
		return
	}

	p.logger.Info("compacted conversation history",
		"conversation_id", conversationID,
		"messages_before", count,
		"pruned", len(stale),
		"summary_len", len(summaryText),
	)
}
