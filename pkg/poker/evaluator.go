package poker

import (
	"fmt"

	chehsunliu "github.com/chehsunliu/poker"
)

// HandRank represents the category of a poker hand, weakest first.
type HandRank int

const (
	HighCard HandRank = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
	RoyalFlush
)

func (r HandRank) String() string {
	switch r {
	case HighCard:
		return "high_card"
	case Pair:
		return "pair"
	case TwoPair:
		return "two_pair"
	case ThreeOfAKind:
		return "three_of_a_kind"
	case Straight:
		return "straight"
	case Flush:
		return "flush"
	case FullHouse:
		return "full_house"
	case FourOfAKind:
		return "four_of_a_kind"
	case StraightFlush:
		return "straight_flush"
	case RoyalFlush:
		return "royal_flush"
	default:
		return "unknown"
	}
}

// HandValue is a complete evaluation of a hand. RankValue is a total
// ordering key: lower is stronger (the evaluator's convention), and all
// kicker comparison is folded into it, including wheel straights.
type HandValue struct {
	Rank        HandRank
	RankValue   int32
	BestHand    []Card
	Description string
}

// toEvaluatorCard converts our Card to the evaluator's representation.
func toEvaluatorCard(card Card) chehsunliu.Card {
	var rankChar byte
	switch card.Rank() {
	case Ten:
		rankChar = 'T'
	case Jack:
		rankChar = 'J'
	case Queen:
		rankChar = 'Q'
	case King:
		rankChar = 'K'
	case Ace:
		rankChar = 'A'
	default:
		rankChar = card.Rank()[0]
	}

	var suitChar byte
	switch card.Suit() {
	case Spades:
		suitChar = 's'
	case Hearts:
		suitChar = 'h'
	case Diamonds:
		suitChar = 'd'
	default:
		suitChar = 'c'
	}

	return chehsunliu.NewCard(string([]byte{rankChar, suitChar}))
}

// rankClassToHandRank maps the evaluator's rank class onto HandRank.
func rankClassToHandRank(rankClass int32, rankValue int32) HandRank {
	switch rankClass {
	case 1:
		// Rank value 1 is the ace-high straight flush.
		if rankValue == 1 {
			return RoyalFlush
		}
		return StraightFlush
	case 2:
		return FourOfAKind
	case 3:
		return FullHouse
	case 4:
		return Flush
	case 5:
		return Straight
	case 6:
		return ThreeOfAKind
	case 7:
		return TwoPair
	case 8:
		return Pair
	default:
		return HighCard
	}
}

// EvaluateHand ranks the best 5-card hand out of the 5 to 7 cards formed by
// the hole cards and the community cards.
func EvaluateHand(holeCards, communityCards []Card) (HandValue, error) {
	all := append(append([]Card{}, holeCards...), communityCards...)
	if len(all) < 5 || len(all) > 7 {
		return HandValue{}, fmt.Errorf("evaluate: need 5 to 7 cards, have %d", len(all))
	}

	evalCards := make([]chehsunliu.Card, len(all))
	for i, c := range all {
		evalCards[i] = toEvaluatorCard(c)
	}

	rank := chehsunliu.Evaluate(evalCards)
	rankClass := chehsunliu.RankClass(rank)

	return HandValue{
		Rank:        rankClassToHandRank(rankClass, rank),
		RankValue:   rank,
		BestHand:    bestFiveCards(all, rank),
		Description: chehsunliu.RankString(rank),
	}, nil
}

// bestFiveCards finds the 5-card combination matching the evaluated rank.
func bestFiveCards(cards []Card, bestRank int32) []Card {
	if len(cards) <= 5 {
		return cards
	}

	var best []Card
	combine(cards, 5, func(combo []Card) bool {
		evalCombo := make([]chehsunliu.Card, 5)
		for i, c := range combo {
			evalCombo[i] = toEvaluatorCard(c)
		}
		if chehsunliu.Evaluate(evalCombo) == bestRank {
			best = append([]Card{}, combo...)
			return true
		}
		return false
	})
	return best
}

// combine walks k-combinations of cards, stopping when fn returns true.
func combine(cards []Card, k int, fn func([]Card) bool) {
	idx := make([]int, k)
	var rec func(start, depth int) bool
	rec = func(start, depth int) bool {
		if depth == k {
			combo := make([]Card, k)
			for i, j := range idx {
				combo[i] = cards[j]
			}
			return fn(combo)
		}
		for i := start; i <= len(cards)-(k-depth); i++ {
			idx[depth] = i
			if rec(i+1, depth+1) {
				return true
			}
		}
		return false
	}
	rec(0, 0)
}

// CompareHands returns -1 if a is worse than b, 0 on a tie, and 1 if a is
// better. Ties at showdown split the pot.
func CompareHands(a, b HandValue) int {
	// Lower rank values are stronger.
	switch {
	case a.RankValue > b.RankValue:
		return -1
	case a.RankValue < b.RankValue:
		return 1
	default:
		return 0
	}
}
