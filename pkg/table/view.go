package table

import (
	"github.com/vglenn/cardroom/pkg/poker"
)

// HiddenCard is the card-back marker used wherever a viewer may not see
// a hole card.
const HiddenCard = "XX"

// PlayerView is one seat as a given viewer sees it.
type PlayerView struct {
	PlayerID  string   `json:"player_id"`
	Name      string   `json:"name"`
	Seat      int      `json:"seat"`
	Chips     int64    `json:"chips"`
	RoundBet  int64    `json:"round_bet"`
	Status    string   `json:"status"`
	Folded    bool     `json:"folded"`
	AllIn     bool     `json:"all_in"`
	HoleCards []string `json:"hole_cards,omitempty"`
}

// PotView is one pot layer.
type PotView struct {
	Amount   int64 `json:"amount"`
	Eligible []int `json:"eligible_seats"`
}

// TableView is a complete per-recipient snapshot. Hole cards belonging
// to other players are masked unless revealed at showdown.
type TableView struct {
	TableID      string       `json:"table_id"`
	HandID       string       `json:"hand_id,omitempty"`
	HandNum      uint64       `json:"hand_num"`
	Phase        string       `json:"phase"`
	Button       int          `json:"button"`
	ActiveSeat   int          `json:"active_seat"`
	CurrentBet   int64        `json:"current_bet"`
	MinRaise     int64        `json:"min_raise"`
	Community    []string     `json:"community"`
	Pots         []PotView    `json:"pots"`
	Players      []PlayerView `json:"players"`
	SmallBlind   int64        `json:"small_blind"`
	BigBlind     int64        `json:"big_blind"`
	Ante         int64        `json:"ante,omitempty"`
	Commitment   string       `json:"deck_commitment,omitempty"`
	StateVersion uint64       `json:"state_version"`
	Paused       bool         `json:"paused,omitempty"`
}

// Snapshot renders the state for one viewer. showdown seats (revealed at
// settlement) are passed in so their cards show to everyone.
func Snapshot(h *poker.HandState, viewerID string, commitment string, version uint64, paused bool, revealed map[int]bool) TableView {
	view := TableView{
		TableID:      h.TableID,
		HandID:       h.HandID,
		HandNum:      h.HandNum,
		Phase:        h.Phase.String(),
		Button:       h.Button,
		ActiveSeat:   h.ActiveSeat,
		CurrentBet:   h.CurrentBet,
		MinRaise:     h.MinRaise,
		SmallBlind:   h.Rules.SmallBlind,
		BigBlind:     h.Rules.BigBlind,
		Ante:         h.Rules.Ante,
		Commitment:   commitment,
		StateVersion: version,
		Paused:       paused,
		Community:    cardStrings(h.Community),
	}

	for _, pot := range h.Pots.Pots {
		if pot.Amount == 0 {
			continue
		}
		view.Pots = append(view.Pots, PotView{Amount: pot.Amount, Eligible: pot.EligibleSeats()})
	}

	for seat, p := range h.Seats {
		if p == nil {
			continue
		}
		pv := PlayerView{
			PlayerID: p.ID,
			Name:     p.Name,
			Seat:     seat,
			Chips:    p.Chips,
			RoundBet: p.RoundBet,
			Status:   string(p.Status),
			Folded:   p.Folded,
			AllIn:    p.AllIn,
		}
		if len(p.HoleCards) > 0 {
			if p.ID == viewerID || (revealed != nil && revealed[seat]) {
				pv.HoleCards = cardStrings(p.HoleCards)
			} else {
				pv.HoleCards = []string{HiddenCard, HiddenCard}
			}
		}
		view.Players = append(view.Players, pv)
	}
	return view
}

func cardStrings(cards []poker.Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}
