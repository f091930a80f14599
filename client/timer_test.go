package client

import (
	"testing"
	"time"

	"github.com/webfront-go/webfront/auth"
)

func TestStaleCappedStepDoesNotRearm(t *testing.T) {
	c, err := New(Config{Endpoint: "https://auth.example.test", MaxTimerInterval: time.Nanosecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)

	replacement := time.AfterFunc(time.Hour, func() {})
	t.Cleanup(func() { replacement.Stop() })

	exp := time.Now().Add(time.Hour)
	c.mu.Lock()
	c.info = auth.New(auth.NewUserInfo(1, "alice", nil), &exp, nil, "", time.Now())
	c.scheduleTimersLocked()
	// The capped step is already due; swap the slot the way a later
	// response would before releasing the lock.
	c.expTimer.Stop()
	c.expTimer = replacement
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	got := c.expTimer
	c.mu.Unlock()
	if got != replacement {
		t.Fatal("a stale capped step must not overwrite a fresh timer")
	}
}
