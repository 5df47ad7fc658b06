package poker

import "testing"

func TestBuildPotsLayersSidePots(t *testing.T) {
	pm := NewPotManager(3)
	pm.AddBet(0, 100)
	pm.AddBet(1, 200)
	pm.AddBet(2, 200)

	pm.BuildPots([]bool{false, false, false})

	if len(pm.Pots) != 2 {
		t.Fatalf("expected 2 pots, got %d", len(pm.Pots))
	}
	main, side := pm.Pots[0], pm.Pots[1]
	if main.Amount != 300 {
		t.Errorf("main pot = %d, want 300", main.Amount)
	}
	if !main.Eligibility[0] || !main.Eligibility[1] || !main.Eligibility[2] {
		t.Errorf("all seats should be eligible for the main pot: %v", main.Eligibility)
	}
	if side.Amount != 200 {
		t.Errorf("side pot = %d, want 200", side.Amount)
	}
	if side.Eligibility[0] || !side.Eligibility[1] || !side.Eligibility[2] {
		t.Errorf("side pot eligibility = %v, want seats 1 and 2 only", side.Eligibility)
	}
}

func TestBuildPotsMergesEqualEligibility(t *testing.T) {
	// Seat 0 folded after betting 50; the layers above 50 all have the
	// same eligibility and must collapse into one pot.
	pm := NewPotManager(3)
	pm.AddBet(0, 50)
	pm.AddBet(1, 200)
	pm.AddBet(2, 200)

	pm.BuildPots([]bool{true, false, false})

	if len(pm.Pots) != 1 {
		t.Fatalf("expected 1 merged pot, got %d", len(pm.Pots))
	}
	if pm.Pots[0].Amount != 450 {
		t.Errorf("pot = %d, want 450", pm.Pots[0].Amount)
	}
	if pm.Pots[0].Eligibility[0] {
		t.Errorf("folded seat must not be eligible")
	}
}

func TestBuildPotsReconcilesTotals(t *testing.T) {
	pm := NewPotManager(4)
	pm.AddBet(0, 37)
	pm.AddBet(1, 120)
	pm.AddBet(2, 455)
	pm.AddBet(3, 455)

	pm.BuildPots([]bool{false, true, false, false})

	var sum int64
	for _, p := range pm.Pots {
		sum += p.Amount
	}
	if sum != pm.Total() {
		t.Errorf("pot layers sum to %d, contributions total %d", sum, pm.Total())
	}
}

func TestReturnUncalledBet(t *testing.T) {
	pm := NewPotManager(3)
	pm.AddBet(0, 100)
	pm.AddBet(1, 40)

	seat, amt := pm.ReturnUncalledBet()
	if seat != 0 || amt != 60 {
		t.Fatalf("refund = seat %d amount %d, want seat 0 amount 60", seat, amt)
	}
	if pm.HandBet(0) != 40 {
		t.Errorf("seat 0 total after refund = %d, want 40", pm.HandBet(0))
	}

	// Matched bets refund nothing.
	pm2 := NewPotManager(2)
	pm2.AddBet(0, 100)
	pm2.AddBet(1, 100)
	if seat, _ := pm2.ReturnUncalledBet(); seat != -1 {
		t.Errorf("matched bets should not refund, got seat %d", seat)
	}
}

func TestDistributeOddChipGoesLeftOfButton(t *testing.T) {
	pm := NewPotManager(3)
	pm.AddBet(0, 101)
	pm.AddBet(1, 101)
	pm.AddBet(2, 101)

	folded := []bool{false, false, false}
	pm.BuildPots(folded)

	// Seats 1 and 2 tie; seat 0 loses.
	strong := HandValue{Rank: Flush, RankValue: 810}
	weak := HandValue{Rank: Pair, RankValue: 4000}
	hands := []*HandValue{&weak, &strong, &strong}

	awards := pm.Distribute(hands, folded, 0)
	if len(awards) != 1 {
		t.Fatalf("expected 1 award, got %d", len(awards))
	}
	a := awards[0]
	if a.Payouts[1] != 152 || a.Payouts[2] != 151 {
		t.Errorf("payouts = %v, want seat 1: 152 (odd chip), seat 2: 151", a.Payouts)
	}
}

func TestDistributeSidePotWinners(t *testing.T) {
	pm := NewPotManager(3)
	pm.AddBet(0, 100)
	pm.AddBet(1, 200)
	pm.AddBet(2, 200)

	folded := []bool{false, false, false}
	pm.BuildPots(folded)

	// Seat 0 has the best hand but is only eligible for the main pot.
	best := HandValue{Rank: FullHouse, RankValue: 200}
	mid := HandValue{Rank: Straight, RankValue: 1605}
	worst := HandValue{Rank: HighCard, RankValue: 7000}
	hands := []*HandValue{&best, &mid, &worst}

	awards := pm.Distribute(hands, folded, 0)
	if len(awards) != 2 {
		t.Fatalf("expected 2 awards, got %d", len(awards))
	}
	if awards[0].Payouts[0] != 300 {
		t.Errorf("main pot payout = %v, want seat 0: 300", awards[0].Payouts)
	}
	if awards[1].Payouts[1] != 200 {
		t.Errorf("side pot payout = %v, want seat 1: 200", awards[1].Payouts)
	}
}
