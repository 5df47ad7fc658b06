package poker

import (
	"testing"
	"time"
)

func seatPlayers(t *testing.T, h *HandState, stacks ...int64) {
	t.Helper()
	for i, chips := range stacks {
		p := &Player{ID: string(rune('a' + i)), Chips: chips, Status: StatusActive}
		if err := h.Seat(p, i); err != nil {
			t.Fatalf("seat %d: %v", i, err)
		}
	}
}

func TestRotateButtonSkipsDisconnectedPastGrace(t *testing.T) {
	rules := TableRules{SmallBlind: 5, BigBlind: 10, MaxSeats: 4, Grace: 30 * time.Second}
	h := NewHandState("tbl", rules)
	seatPlayers(t, h, 500, 500, 500, 500)

	// Seat 2 dropped a minute ago, past the grace window.
	h.Seats[2].Status = StatusDisconnected
	h.Seats[2].DisconnectedAt = testNow.Add(-time.Minute)

	h.Button = 0
	if err := h.RotateButton(testNow); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if h.Button != 1 {
		t.Fatalf("button = %d, want 1", h.Button)
	}
	if err := h.RotateButton(testNow); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if h.Button != 3 {
		t.Errorf("button = %d, want 3 (seat 2 is disconnected past grace)", h.Button)
	}
	if h.SmallBlindPos == 2 || h.BigBlindPos == 2 {
		t.Errorf("blinds assigned to a disconnected seat: sb %d bb %d", h.SmallBlindPos, h.BigBlindPos)
	}
}

func TestRotateButtonInsideGraceStillDealt(t *testing.T) {
	rules := TableRules{SmallBlind: 5, BigBlind: 10, MaxSeats: 3, Grace: 30 * time.Second}
	h := NewHandState("tbl", rules)
	seatPlayers(t, h, 500, 500, 500)

	// Seat 1 dropped ten seconds ago, still inside the grace window.
	h.Seats[1].Status = StatusDisconnected
	h.Seats[1].DisconnectedAt = testNow.Add(-10 * time.Second)

	h.Button = 0
	if err := h.RotateButton(testNow); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if h.Button != 1 {
		t.Errorf("button = %d, want 1 (inside grace counts as present)", h.Button)
	}
	if err := h.BeginHand("hand-7", testNow); err != nil {
		t.Fatalf("begin hand: %v", err)
	}
	if !h.Seats[1].DealtIn {
		t.Errorf("seat inside grace must be dealt in")
	}
}

func TestRotateButtonVisitsEverySeatOncePerOrbit(t *testing.T) {
	rules := TableRules{SmallBlind: 5, BigBlind: 10, MaxSeats: 6, Grace: 30 * time.Second}
	h := NewHandState("tbl", rules)
	seatPlayers(t, h, 500, 500, 500, 500, 500, 500)

	h.Button = 2
	seen := make(map[int]int)
	for i := 0; i < 6; i++ {
		if err := h.RotateButton(testNow); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		seen[h.Button]++
	}
	for seat, n := range seen {
		if n != 1 {
			t.Errorf("seat %d got the button %d times in one orbit", seat, n)
		}
	}
	if len(seen) != 6 {
		t.Errorf("orbit visited %d seats, want 6", len(seen))
	}
}

func TestBeginHandNeedsTwoPlayers(t *testing.T) {
	rules := TableRules{SmallBlind: 5, BigBlind: 10, MaxSeats: 4, Grace: 30 * time.Second}
	h := NewHandState("tbl", rules)
	seatPlayers(t, h, 500)

	err := h.BeginHand("hand-1", testNow)
	if err == nil || err.Code != CodeInsufficientPlayers {
		t.Fatalf("got %v, want insufficient_players", err)
	}
}

func TestBustedPlayerNotDealtIn(t *testing.T) {
	rules := TableRules{SmallBlind: 5, BigBlind: 10, MaxSeats: 3, Grace: 30 * time.Second}
	h := NewHandState("tbl", rules)
	seatPlayers(t, h, 500, 0, 500)

	h.Button = 2
	if err := h.RotateButton(testNow); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := h.BeginHand("hand-2", testNow); err != nil {
		t.Fatalf("begin hand: %v", err)
	}
	if h.Seats[1].DealtIn {
		t.Errorf("a player with no chips must not be dealt in")
	}
}

func TestDealtInSeatsStartLeftOfButton(t *testing.T) {
	h := newTestHand(t, 100, 100, 100, 100)
	got := h.DealtInSeats()
	want := []int{1, 2, 3, 0}
	if len(got) != len(want) {
		t.Fatalf("deal order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("deal order = %v, want %v", got, want)
		}
	}
}
