package rng

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/decred/slog"

	"github.com/vglenn/cardroom/pkg/poker"
)

func testLogger() slog.Logger { return slog.Disabled }

func newSource(t *testing.T) *System {
	t.Helper()
	s, err := NewSystem()
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	return s
}

func TestBytesLengthAndVariety(t *testing.T) {
	s := newSource(t)
	a, err := s.Bytes(64)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.Bytes(64)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("lengths = %d, %d, want 64", len(a), len(b))
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Errorf("two draws produced identical bytes")
	}
	if _, err := s.Bytes(0); err == nil {
		t.Errorf("expected an error for n = 0")
	}
}

func TestIntNUniformity(t *testing.T) {
	// Chi-square over a deliberately awkward modulus. With rejection
	// sampling the statistic stays near its degrees of freedom; modulo
	// bias would blow it up over this many draws.
	s := newSource(t)
	const n = 13
	const draws = 130000

	counts := make([]int, n)
	for i := 0; i < draws; i++ {
		v, err := s.IntN(n)
		if err != nil {
			t.Fatal(err)
		}
		if v < 0 || v >= n {
			t.Fatalf("IntN(%d) = %d, out of range", n, v)
		}
		counts[v]++
	}

	expected := float64(draws) / float64(n)
	var chi2 float64
	for _, c := range counts {
		d := float64(c) - expected
		chi2 += d * d / expected
	}
	// 99.9th percentile of chi-square with 12 degrees of freedom.
	if chi2 > 32.9 {
		t.Errorf("chi-square = %.2f over %d draws, distribution looks biased", chi2, draws)
	}
	if math.IsNaN(chi2) {
		t.Fatalf("chi-square is NaN")
	}
}

func TestShuffleIsCommittedPermutation(t *testing.T) {
	s := newSource(t)
	deck := poker.CanonicalDeck()
	proof, err := Shuffle(s, deck)
	if err != nil {
		t.Fatal(err)
	}
	if !poker.IsPermutation(deck) {
		t.Fatalf("shuffle broke the deck")
	}
	if proof.Algorithm != "fisher_yates_aes_ctr" {
		t.Errorf("algorithm = %q", proof.Algorithm)
	}
	if proof.EntropyBytes < 51*8 {
		t.Errorf("entropy bytes = %d, below the 51-swap minimum", proof.EntropyBytes)
	}
	if proof.InputHash == proof.OutputHash {
		t.Errorf("input and output hashes match, deck did not move")
	}
}

func TestCommitRevealRoundTrip(t *testing.T) {
	s := newSource(t)
	deck := poker.CanonicalDeck()
	if _, err := Shuffle(s, deck); err != nil {
		t.Fatal(err)
	}
	nonce, err := NewNonce(s)
	if err != nil {
		t.Fatal(err)
	}
	commitment, err := Commit(nonce, deck)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(commitment, nonce, deck) {
		t.Fatalf("honest reveal failed verification")
	}

	// Any tampering with the revealed deck must fail.
	tampered := append([]poker.Card(nil), deck...)
	tampered[0], tampered[1] = tampered[1], tampered[0]
	if Verify(commitment, nonce, tampered) {
		t.Errorf("tampered deck verified")
	}

	// A short nonce is rejected outright.
	if _, err := Commit(nonce[:16], deck); err == nil {
		t.Errorf("short nonce accepted")
	}
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	now := time.Unix(1700000000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("t1") {
			t.Fatalf("op %d denied under the limit", i)
		}
	}
	if rl.Allow("t1") {
		t.Fatalf("op over the limit allowed")
	}
	// Other tables are unaffected.
	if !rl.Allow("t2") {
		t.Fatalf("unrelated table denied")
	}
	// The window slides.
	now = now.Add(61 * time.Second)
	if !rl.Allow("t1") {
		t.Fatalf("op denied after the window drained")
	}
}

func TestMonitorBitRun(t *testing.T) {
	m := NewMonitor()
	healthy := make([]byte, 32)
	for i := range healthy {
		healthy[i] = 0xA5
	}
	if alerts := m.CheckSample("t1", "h1", healthy); len(alerts) != 0 {
		t.Errorf("alternating bits flagged: %v", alerts)
	}
	stuck := make([]byte, 32) // all zero, a 256-bit run
	alerts := m.CheckSample("t1", "h1", stuck)
	if len(alerts) != 1 || alerts[0].Check != "bit_run" || alerts[0].Level != AlertCritical {
		t.Fatalf("stuck sample not flagged: %v", alerts)
	}
}

func TestMonitorEntropyOutlier(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 10; i++ {
		m.CheckShuffle("t1", "h", &ShuffleProof{EntropyBytes: 416})
	}
	alerts := m.CheckShuffle("t1", "h11", &ShuffleProof{EntropyBytes: 416 * 5})
	if len(alerts) != 1 || alerts[0].Check != "entropy_outlier" {
		t.Fatalf("outlier not flagged: %v", alerts)
	}
}

type captureRecorder struct {
	shuffles []ShuffleRecord
	alerts   []HealthAlert
}

func (c *captureRecorder) RecordShuffle(_ context.Context, rec ShuffleRecord) {
	c.shuffles = append(c.shuffles, rec)
}

func (c *captureRecorder) RecordAlert(_ context.Context, alert HealthAlert) {
	c.alerts = append(c.alerts, alert)
}

func TestDealerHandDeck(t *testing.T) {
	rec := &captureRecorder{}
	d := NewDealer(newSource(t), rec, testLogger())

	hd, gerr := d.NewHand(context.Background(), "tbl-1", "hand-1")
	if gerr != nil {
		t.Fatalf("new hand: %v", gerr)
	}
	if hd.Commitment() == "" {
		t.Fatalf("no commitment published")
	}
	if len(rec.shuffles) != 1 || rec.shuffles[0].HandID != "hand-1" {
		t.Fatalf("shuffle not recorded: %+v", rec.shuffles)
	}

	// 2 players: 4 hole cards, then burn+flop, burn+turn, burn+river.
	for i := 0; i < 4; i++ {
		if _, err := hd.Deal(); err != nil {
			t.Fatalf("hole card %d: %v", i, err)
		}
	}
	flop, err := hd.DealStreet(3)
	if err != nil || len(flop) != 3 {
		t.Fatalf("flop: %v %v", flop, err)
	}
	if _, err := hd.DealStreet(1); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if _, err := hd.DealStreet(1); err != nil {
		t.Fatalf("river: %v", err)
	}
	// 4 hole cards, 3 burns and 5 board cards leave 40.
	if hd.Remaining() != 40 {
		t.Errorf("remaining = %d, want 40", hd.Remaining())
	}

	reveal := hd.Reveal()
	if !VerifyReveal(reveal) {
		t.Fatalf("reveal failed verification")
	}
}

func TestDealerRateLimited(t *testing.T) {
	d := NewDealer(newSource(t), nil, testLogger())
	d.limiter = NewRateLimiter(1, time.Minute)

	if _, gerr := d.NewHand(context.Background(), "tbl-1", "hand-1"); gerr != nil {
		t.Fatalf("first hand: %v", gerr)
	}
	_, gerr := d.NewHand(context.Background(), "tbl-1", "hand-2")
	if gerr == nil || gerr.Code != poker.CodeRateLimited {
		t.Fatalf("got %v, want rate_limited", gerr)
	}
}
