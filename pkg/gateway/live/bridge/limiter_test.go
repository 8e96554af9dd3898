package bridge

import (
	"testing"
	"time"
)

func TestInboundLimiter_FramesWithinBurstThenDenied(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 1, 0, 2)
	if !lim.Allow(320) || !lim.Allow(320) {
		t.Fatalf("expected the first two frames to pass")
	}
	if lim.Allow(320) {
		t.Fatalf("expected third frame to be denied")
	}
}

func TestInboundLimiter_Refills(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 10, 0, 1)
	for i := range 10 {
		if !lim.Allow(2) {
			t.Fatalf("expected allow at i=%d", i)
		}
	}
	if lim.Allow(2) {
		t.Fatalf("expected deny once tokens exhausted")
	}

	now = now.Add(100 * time.Millisecond)
	if !lim.Allow(2) {
		t.Fatalf("expected allow after refill")
	}
	if lim.Allow(2) {
		t.Fatalf("expected deny again without enough time")
	}
}

func TestInboundLimiter_BytesPerSecond(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	lim := newInboundLimiter(clock, 0, 3200, 1)
	if !lim.Allow(3000) {
		t.Fatalf("expected allow 3000 bytes")
	}
	if lim.Allow(400) {
		t.Fatalf("expected deny 400 bytes over budget")
	}
	if !lim.Allow(200) {
		t.Fatalf("a denied frame must not consume tokens")
	}
}

func TestInboundLimiter_DisabledIsNil(t *testing.T) {
	lim := newInboundLimiter(time.Now, 0, 0, 1)
	if lim != nil {
		t.Fatalf("expected nil limiter")
	}
	if !lim.Allow(1 << 20) {
		t.Fatalf("nil limiter must allow")
	}
}

func TestState_Predicates(t *testing.T) {
	cases := []struct {
		state     State
		live      bool
		streaming bool
	}{
		{StateInit, false, false},
		{StateConnecting, true, false},
		{StateActive, true, true},
		{StateInterrupted, true, true},
		{StateClosing, false, false},
		{StateClosed, false, false},
	}
	for _, tc := range cases {
		if got := tc.state.live(); got != tc.live {
			t.Errorf("%s.live()=%v, want %v", tc.state, got, tc.live)
		}
		if got := tc.state.streaming(); got != tc.streaming {
			t.Errorf("%s.streaming()=%v, want %v", tc.state, got, tc.streaming)
		}
	}
}
