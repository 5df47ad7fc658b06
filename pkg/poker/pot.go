package poker

import "sort"

// Pot is one layer of the pot. Eligibility is seat-aligned: only seats whose
// contribution reached this layer and who have not folded may win it.
type Pot struct {
	Amount      int64
	Eligibility []bool
}

// NewPot creates an empty pot layer for a table with nSeats seats.
func NewPot(nSeats int) *Pot {
	return &Pot{Eligibility: make([]bool, nSeats)}
}

// EligibleSeats returns the seats eligible for this pot, ascending.
func (p *Pot) EligibleSeats() []int {
	var seats []int
	for i, ok := range p.Eligibility {
		if ok {
			seats = append(seats, i)
		}
	}
	return seats
}

// PotManager tracks per-seat contributions for the current hand and builds
// the layered main/side pots at settlement time.
type PotManager struct {
	nSeats      int
	Pots        []*Pot
	CurrentBets map[int]int64 // contributions this betting round
	TotalBets   map[int]int64 // contributions across the whole hand
}

// NewPotManager creates a pot manager for a table with nSeats seats.
func NewPotManager(nSeats int) *PotManager {
	return &PotManager{
		nSeats:      nSeats,
		Pots:        []*Pot{NewPot(nSeats)},
		CurrentBets: make(map[int]int64),
		TotalBets:   make(map[int]int64),
	}
}

// AddBet records a contribution. Pots are only built from totals at
// settlement; nothing else is touched here.
func (pm *PotManager) AddBet(seat int, amount int64) {
	pm.CurrentBets[seat] += amount
	pm.TotalBets[seat] += amount
}

// ResetCurrentBets clears the per-round contributions for a new street.
func (pm *PotManager) ResetCurrentBets() {
	pm.CurrentBets = make(map[int]int64)
}

// Total returns the total chips contributed to the hand.
func (pm *PotManager) Total() int64 {
	var total int64
	for _, b := range pm.TotalBets {
		total += b
	}
	return total
}

// RoundBet returns the seat's contribution in the current betting round.
func (pm *PotManager) RoundBet(seat int) int64 { return pm.CurrentBets[seat] }

// HandBet returns the seat's contribution across the whole hand.
func (pm *PotManager) HandBet(seat int) int64 { return pm.TotalBets[seat] }

// ReturnUncalledBet refunds the uncalled portion of the highest bet of the
// current round. Returns the seat refunded and the amount (seat -1 when
// nothing was uncalled).
func (pm *PotManager) ReturnUncalledBet() (seat int, amount int64) {
	var hi, second int64
	hiSeat := -1

	for s, bet := range pm.CurrentBets {
		if bet > hi {
			second = hi
			hi = bet
			hiSeat = s
		} else if bet > second {
			second = bet
		}
	}

	if hiSeat < 0 || hi == second {
		return -1, 0
	}

	uncalled := hi - second
	pm.CurrentBets[hiSeat] -= uncalled
	pm.TotalBets[hiSeat] -= uncalled
	return hiSeat, uncalled
}

// BuildPots rebuilds the main and side pots from the hand totals. folded
// is seat-aligned. Call after ReturnUncalledBet and before Distribute.
//
// Layers are the distinct contribution levels, ascending; every seat pays
// min(total, level)-prev into each layer, and eligibility for a layer
// requires a non-folded seat whose total reached it. The layer sums always
// reconcile exactly with the total contributions.
func (pm *PotManager) BuildPots(folded []bool) {
	levels := make([]int64, 0, pm.nSeats)
	seen := make(map[int64]bool)
	for s := 0; s < pm.nSeats; s++ {
		if b := pm.TotalBets[s]; b > 0 && !seen[b] {
			seen[b] = true
			levels = append(levels, b)
		}
	}
	if len(levels) == 0 {
		pm.Pots = []*Pot{NewPot(pm.nSeats)}
		return
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	pots := make([]*Pot, 0, len(levels))
	prev := int64(0)
	for _, lvl := range levels {
		p := NewPot(pm.nSeats)
		for s := 0; s < pm.nSeats; s++ {
			tb := pm.TotalBets[s]
			if tb >= lvl && !folded[s] {
				p.Eligibility[s] = true
			}
			if tb > prev {
				c := tb
				if c > lvl {
					c = lvl
				}
				p.Amount += c - prev
			}
		}
		pots = append(pots, p)
		prev = lvl
	}

	// Merge layers with identical eligibility; they are one pot.
	merged := pots[:1]
	for _, p := range pots[1:] {
		last := merged[len(merged)-1]
		if equalMask(last.Eligibility, p.Eligibility) {
			last.Amount += p.Amount
		} else {
			merged = append(merged, p)
		}
	}
	pm.Pots = merged
}

func equalMask(a, b []bool) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// PotAward records the outcome of one pot layer.
type PotAward struct {
	Pot     int64
	Winners []int           // seats, in payout order
	Payouts map[int]int64   // seat -> chips
}

// Distribute settles every pot. hands maps seat to its showdown value (nil
// for folded or absent seats). button is the dealer seat: split remainders
// go to the eligible winner in the earliest seat clockwise from the button.
func (pm *PotManager) Distribute(hands []*HandValue, folded []bool, button int) []PotAward {
	awards := make([]PotAward, 0, len(pm.Pots))

	for _, pot := range pm.Pots {
		if pot.Amount == 0 {
			continue
		}

		var alive []int
		for seat, elig := range pot.Eligibility {
			if elig && !folded[seat] {
				alive = append(alive, seat)
			}
		}
		if len(alive) == 0 {
			continue
		}

		var winners []int
		if len(alive) == 1 {
			winners = alive
		} else {
			var best *HandValue
			for _, seat := range alive {
				hv := hands[seat]
				if hv == nil {
					continue
				}
				switch {
				case best == nil || CompareHands(*hv, *best) > 0:
					best = hv
					winners = []int{seat}
				case CompareHands(*hv, *best) == 0:
					winners = append(winners, seat)
				}
			}
		}
		if len(winners) == 0 {
			continue
		}

		// Order winners clockwise starting left of the button so the odd
		// chip lands on the earliest seat after the dealer.
		sort.Slice(winners, func(i, j int) bool {
			return seatDistance(button, winners[i], pm.nSeats) < seatDistance(button, winners[j], pm.nSeats)
		})

		share := pot.Amount / int64(len(winners))
		rem := pot.Amount % int64(len(winners))
		payouts := make(map[int]int64, len(winners))
		for i, seat := range winners {
			add := share
			if int64(i) < rem {
				add++
			}
			payouts[seat] = add
		}
		awards = append(awards, PotAward{Pot: pot.Amount, Winners: winners, Payouts: payouts})
	}

	return awards
}

// seatDistance is the clockwise distance from the seat after `from` to `to`.
func seatDistance(from, to, n int) int {
	return ((to - from - 1) % n + n) % n
}
