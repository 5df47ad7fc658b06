package poker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Suit represents a card suit
type Suit string

const (
	Spades   Suit = "♠"
	Hearts   Suit = "♥"
	Diamonds Suit = "♦"
	Clubs    Suit = "♣"
)

// Rank represents a card rank
type Rank string

const (
	Two   Rank = "2"
	Three Rank = "3"
	Four  Rank = "4"
	Five  Rank = "5"
	Six   Rank = "6"
	Seven Rank = "7"
	Eight Rank = "8"
	Nine  Rank = "9"
	Ten   Rank = "10"
	Jack  Rank = "J"
	Queen Rank = "Q"
	King  Rank = "K"
	Ace   Rank = "A"
)

var suits = []Suit{Spades, Hearts, Diamonds, Clubs}
var ranks = []Rank{Two, Three, Four, Five, Six, Seven, Eight, Nine, Ten, Jack, Queen, King, Ace}

// Card represents a playing card.
type Card struct {
	suit Suit
	rank Rank
}

// NewCard creates a card from a suit and rank.
func NewCard(suit Suit, rank Rank) Card {
	return Card{suit: suit, rank: rank}
}

// Suit returns the card's suit.
func (c Card) Suit() Suit { return c.suit }

// Rank returns the card's rank.
func (c Card) Rank() Rank { return c.rank }

// String returns a short representation like "A♠".
func (c Card) String() string {
	return string(c.rank) + string(c.suit)
}

// RankValue returns the numeric rank, ace high (2..14).
func (c Card) RankValue() int {
	switch c.rank {
	case Ace:
		return 14
	case King:
		return 13
	case Queen:
		return 12
	case Jack:
		return 11
	case Ten:
		return 10
	default:
		return int(c.rank[0] - '0')
	}
}

// CardJSON is the wire form of a card.
type CardJSON struct {
	Suit string `json:"suit"`
	Rank string `json:"rank"`
}

// MarshalJSON implements json.Marshaler.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(CardJSON{Suit: string(c.suit), Rank: string(c.rank)})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Card) UnmarshalJSON(data []byte) error {
	var cj CardJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return err
	}

	switch cj.Suit {
	case "♠", "s", "S", "spades":
		c.suit = Spades
	case "♥", "h", "H", "hearts":
		c.suit = Hearts
	case "♦", "d", "D", "diamonds":
		c.suit = Diamonds
	case "♣", "c", "C", "clubs":
		c.suit = Clubs
	default:
		return fmt.Errorf("invalid suit: %q", cj.Suit)
	}

	switch strings.ToUpper(cj.Rank) {
	case "2", "3", "4", "5", "6", "7", "8", "9":
		c.rank = Rank(cj.Rank)
	case "10", "T":
		c.rank = Ten
	case "J":
		c.rank = Jack
	case "Q":
		c.rank = Queen
	case "K":
		c.rank = King
	case "A":
		c.rank = Ace
	default:
		return fmt.Errorf("invalid rank: %q", cj.Rank)
	}

	return nil
}

// CanonicalDeck returns the 52 cards in their fixed canonical order
// (spades through clubs, deuce through ace). Deck commitments hash this
// ordering, so it must never change.
func CanonicalDeck() []Card {
	deck := make([]Card, 0, 52)
	for _, s := range suits {
		for _, r := range ranks {
			deck = append(deck, Card{suit: s, rank: r})
		}
	}
	return deck
}

// CanonicalBytes serialises a deck into the stable byte form used for
// commitment hashes: cards joined by '|' in order.
func CanonicalBytes(deck []Card) []byte {
	var b strings.Builder
	for i, c := range deck {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(c.String())
	}
	return []byte(b.String())
}

// IsPermutation reports whether deck is a permutation of the 52 canonical
// cards.
func IsPermutation(deck []Card) bool {
	if len(deck) != 52 {
		return false
	}
	seen := make(map[Card]bool, 52)
	for _, c := range deck {
		if seen[c] {
			return false
		}
		seen[c] = true
	}
	return true
}
