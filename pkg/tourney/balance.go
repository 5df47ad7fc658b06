// Package tourney runs multi-table tournaments: registration, seating,
// blind levels, table balancing and payouts.
package tourney

import "sort"

// Strategy picks how movers are chosen when tables are rebalanced.
type Strategy string

const (
	// MinimizeMoves moves as few players as possible.
	MinimizeMoves Strategy = "minimize_moves"
	// BalanceStacks also prefers movers whose stacks bring the table
	// averages closer together.
	BalanceStacks Strategy = "balance_stacks"
)

// Move relocates one player between tables.
type Move struct {
	PlayerID string
	From     string
	To       string
}

// seatCount is a table and its live player stacks.
type seatCount struct {
	tableID string
	players []stackRef
}

type stackRef struct {
	playerID string
	chips    int64
}

// PlanBalance produces the moves that leave table sizes within one of
// each other. tables maps table id to the live players (id -> chips).
// The plan never moves a player onto a fuller table, so any prefix of
// the plan is safe to apply.
func PlanBalance(tables map[string]map[string]int64, strategy Strategy) []Move {
	if len(tables) < 2 {
		return nil
	}

	counts := make([]seatCount, 0, len(tables))
	for id, players := range tables {
		sc := seatCount{tableID: id}
		for pid, chips := range players {
			sc.players = append(sc.players, stackRef{playerID: pid, chips: chips})
		}
		// Biggest stacks first so BalanceStacks pops from the rich end.
		sort.Slice(sc.players, func(i, j int) bool { return sc.players[i].chips > sc.players[j].chips })
		counts = append(counts, sc)
	}

	var moves []Move
	for {
		sort.Slice(counts, func(i, j int) bool {
			if len(counts[i].players) != len(counts[j].players) {
				return len(counts[i].players) > len(counts[j].players)
			}
			return counts[i].tableID < counts[j].tableID
		})
		fullest, emptiest := &counts[0], &counts[len(counts)-1]
		if len(fullest.players)-len(emptiest.players) <= 1 {
			return moves
		}

		mover := pickMover(fullest, emptiest, strategy)
		moves = append(moves, Move{PlayerID: mover.playerID, From: fullest.tableID, To: emptiest.tableID})
		emptiest.players = append(emptiest.players, mover)
	}
}

// pickMover removes and returns the player to relocate from the fullest
// table.
func pickMover(from, to *seatCount, strategy Strategy) stackRef {
	idx := len(from.players) - 1 // smallest stack, cheapest disruption
	if strategy == BalanceStacks && avgChips(from.players) > avgChips(to.players) {
		idx = 0 // move a big stack toward the poorer table
	}
	mover := from.players[idx]
	from.players = append(from.players[:idx], from.players[idx+1:]...)
	return mover
}

func avgChips(players []stackRef) int64 {
	if len(players) == 0 {
		return 0
	}
	var sum int64
	for _, p := range players {
		sum += p.chips
	}
	return sum / int64(len(players))
}

// PlanConsolidation empties every table except the destination, for the
// final table. Feature is preferred as the destination when it still has
// players; otherwise the largest table wins.
func PlanConsolidation(tables map[string]map[string]int64, feature string) (dest string, moves []Move) {
	if len(tables) == 0 {
		return "", nil
	}
	if players, ok := tables[feature]; ok && len(players) > 0 {
		dest = feature
	} else {
		best := -1
		for id, players := range tables {
			if len(players) > best || (len(players) == best && id < dest) {
				best = len(players)
				dest = id
			}
		}
	}
	ids := make([]string, 0, len(tables))
	for id := range tables {
		if id != dest {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		pids := make([]string, 0, len(tables[id]))
		for pid := range tables[id] {
			pids = append(pids, pid)
		}
		sort.Strings(pids)
		for _, pid := range pids {
			moves = append(moves, Move{PlayerID: pid, From: id, To: dest})
		}
	}
	return dest, moves
}

// sortStandings orders entrants winner first: live players by chip count,
// then busted players by place.
func sortStandings(entrants []Entrant) {
	sort.Slice(entrants, func(i, j int) bool {
		a, b := entrants[i], entrants[j]
		if (a.Place == 0) != (b.Place == 0) {
			return a.Place == 0 || a.Place == 1
		}
		if a.Place == 0 {
			if a.Chips != b.Chips {
				return a.Chips > b.Chips
			}
			return a.ID < b.ID
		}
		return a.Place < b.Place
	})
}

// DisjointBatches splits moves into groups where no table appears twice,
// so each group can run concurrently without two moves racing on one
// table's seats.
func DisjointBatches(moves []Move) [][]Move {
	var batches [][]Move
	remaining := append([]Move(nil), moves...)
	for len(remaining) > 0 {
		used := make(map[string]bool)
		var batch []Move
		var next []Move
		for _, m := range remaining {
			if used[m.From] || used[m.To] {
				next = append(next, m)
				continue
			}
			used[m.From] = true
			used[m.To] = true
			batch = append(batch, m)
		}
		batches = append(batches, batch)
		remaining = next
	}
	return batches
}
