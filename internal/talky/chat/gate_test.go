package chat_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"

	"github.com/talky-edu/talky-backend/internal/talky/chat"
)

func TestGateTryEnterAndLeave(t *testing.T) {
	g := chat.NewGate()
	id := uuid.New()

	if !g.TryEnter(id) {
		t.Fatal("first TryEnter should succeed")
	}
	if g.TryEnter(id) {
		t.Fatal("second TryEnter on a busy conversation should fail")
	}

	g.Leave(id)

	if !g.TryEnter(id) {
		t.Fatal("TryEnter after Leave should succeed")
	}
}

func TestGateIndependentPerConversation(t *testing.T) {
	g := chat.NewGate()
	a, b := uuid.New(), uuid.New()

	if !g.TryEnter(a) {
		t.Fatal("TryEnter(a) should succeed")
	}
	if !g.TryEnter(b) {
		t.Fatal("TryEnter(b) should succeed; conversations are independent")
	}
}

func TestGateLeaveIdempotent(t *testing.T) {
	g := chat.NewGate()
	id := uuid.New()

	// Leave on an idle conversation is a no-op.
	g.Leave(id)
	g.Leave(id)

	if !g.TryEnter(id) {
		t.Fatal("TryEnter should succeed after redundant Leaves")
	}
}

func TestGateMutualExclusionUnderContention(t *testing.T) {
	g := chat.NewGate()
	id := uuid.New()

	const goroutines = 32
	var entered atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryEnter(id) {
				entered.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := entered.Load(); got != 1 {
		t.Errorf("exactly one goroutine should enter, got %d", got)
	}

	g.Leave(id)
	if !g.TryEnter(id) {
		t.Error("TryEnter should succeed once the winner leaves")
	}
}

func TestGateInFlight(t *testing.T) {
	g := chat.NewGate()
	id := uuid.New()

	if g.InFlight(id) {
		t.Error("idle conversation should not be in flight")
	}
	g.TryEnter(id)
	if !g.InFlight(id) {
		t.Error("entered conversation should be in flight")
	}
	g.Leave(id)
	if g.InFlight(id) {
		t.Error("left conversation should not be in flight")
	}
}
