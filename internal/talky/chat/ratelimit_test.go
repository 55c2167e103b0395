package chat_test

import (
	"testing"

	"github.com/talky-edu/talky-backend/internal/talky/chat"
)

func TestRateLimiterStudentQuota(t *testing.T) {
	rl := chat.NewRateLimiter(nil, 0) // built-in table: STUDENT = 30/hour

	for i := 0; i < 30; i++ {
		if !rl.Allow("student-1", "STUDENT") {
			t.Fatalf("Allow returned false on message %d/30 (expected true)", i+1)
		}
	}

	// The 31st message within the window is throttled, not an error.
	if rl.Allow("student-1", "STUDENT") {
		t.Error("31st message should be rate-limited")
	}
}

func TestRateLimiterIndependentPerUser(t *testing.T) {
	rl := chat.NewRateLimiter(map[string]int{"STUDENT": 2}, 0)

	rl.Allow("alice", "STUDENT")
	rl.Allow("alice", "STUDENT")
	if rl.Allow("alice", "STUDENT") {
		t.Error("alice should be rate-limited")
	}

	if !rl.Allow("bob", "STUDENT") {
		t.Error("bob has his own bucket and should not be rate-limited")
	}
}

func TestRateLimiterUnknownRoleUsesDefault(t *testing.T) {
	rl := chat.NewRateLimiter(map[string]int{"STUDENT": 30}, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow("guest-1", "GUEST") {
			t.Fatalf("Allow returned false on message %d/3", i+1)
		}
	}
	if rl.Allow("guest-1", "GUEST") {
		t.Error("4th message should exceed the default limit of 3")
	}
}

func TestRateLimiterLimitFor(t *testing.T) {
	rl := chat.NewRateLimiter(nil, 0)

	cases := map[string]int{
		"TEACHER": 200,
		"STUDENT": 30,
		"ADMIN":   1000,
		"OTHER":   chat.DefaultHourlyLimit,
	}
	for role, want := range cases {
		if got := rl.LimitFor(role); got != want {
			t.Errorf("LimitFor(%q): got %d, want %d", role, got, want)
		}
	}
}

func TestRateLimiterBucketKeyedByUserNotRole(t *testing.T) {
	rl := chat.NewRateLimiter(map[string]int{"STUDENT": 1, "TEACHER": 100}, 0)

	if !rl.Allow("carol", "STUDENT") {
		t.Fatal("first message should pass")
	}
	// The bucket was created under STUDENT; a later role claim does not
	// grant a fresh bucket.
	if rl.Allow("carol", "TEACHER") {
		t.Error("existing bucket should still apply despite the role change")
	}
}
