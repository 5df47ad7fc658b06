package rng

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/decred/slog"

	"github.com/vglenn/cardroom/pkg/poker"
)

// Recorder receives shuffle proofs and health alerts. The audit sink
// implements it; a nil recorder disables recording.
type Recorder interface {
	RecordShuffle(ctx context.Context, rec ShuffleRecord)
	RecordAlert(ctx context.Context, alert HealthAlert)
}

// ShuffleRecord is the audit form of one committed shuffle.
type ShuffleRecord struct {
	TableID    string        `json:"table_id"`
	HandID     string        `json:"hand_id"`
	Commitment string        `json:"commitment"`
	Proof      *ShuffleProof `json:"proof"`
}

// Dealer prepares committed decks for table actors. It owns the
// randomness source, the per-table rate limiter and the health monitor.
type Dealer struct {
	src      Source
	limiter  *RateLimiter
	monitor  *Monitor
	recorder Recorder
	log      slog.Logger
}

// NewDealer creates a dealer over src. recorder may be nil.
func NewDealer(src Source, recorder Recorder, log slog.Logger) *Dealer {
	return &Dealer{
		src:      src,
		limiter:  NewRateLimiter(DefaultTableOpsPerMinute, time.Minute),
		monitor:  NewMonitor(),
		recorder: recorder,
		log:      log,
	}
}

// Source exposes the dealer's randomness source for non-deck draws such
// as seeding the first button.
func (d *Dealer) Source() Source { return d.src }

// NewHand shuffles a fresh deck under a commitment. The commitment hash
// must be published to the table before any card is dealt; the nonce and
// deck stay sealed inside the HandDeck until Reveal. Returns rate_limited
// when the table exceeded its randomness budget; the caller backs off and
// reports hand_start_failed.
func (d *Dealer) NewHand(ctx context.Context, tableID, handID string) (*HandDeck, *poker.GameError) {
	if !d.limiter.Allow(tableID) {
		d.log.Warnf("table %s over randomness budget, refusing shuffle for hand %s", tableID, handID)
		return nil, poker.NewGameError(poker.CodeRateLimited, "table %s randomness budget exhausted", tableID)
	}

	deck := poker.CanonicalDeck()
	proof, err := Shuffle(d.src, deck)
	if err != nil {
		d.log.Errorf("shuffle failed for table %s hand %s: %v", tableID, handID, err)
		return nil, poker.NewGameError(poker.CodeHandStartFailed, "shuffle: %v", err)
	}

	nonce, err := NewNonce(d.src)
	if err != nil {
		return nil, poker.NewGameError(poker.CodeHandStartFailed, "nonce: %v", err)
	}
	commitment, err := Commit(nonce, deck)
	if err != nil {
		return nil, poker.NewGameError(poker.CodeHandStartFailed, "commit: %v", err)
	}

	for _, alert := range d.monitor.CheckShuffle(tableID, handID, proof) {
		d.log.Warnf("rng health: table %s hand %s: %s", tableID, handID, alert.Detail)
		if d.recorder != nil {
			d.recorder.RecordAlert(ctx, alert)
		}
	}
	for _, alert := range d.monitor.CheckSample(tableID, handID, nonce) {
		d.log.Warnf("rng health: table %s hand %s: %s", tableID, handID, alert.Detail)
		if d.recorder != nil {
			d.recorder.RecordAlert(ctx, alert)
		}
	}

	hexCommitment := hex.EncodeToString(commitment[:])
	if d.recorder != nil {
		d.recorder.RecordShuffle(ctx, ShuffleRecord{
			TableID:    tableID,
			HandID:     handID,
			Commitment: hexCommitment,
			Proof:      proof,
		})
	}
	d.log.Debugf("committed deck for table %s hand %s: %s", tableID, handID, hexCommitment)

	return &HandDeck{
		handID:     handID,
		cards:      deck,
		nonce:      nonce,
		commitment: hexCommitment,
		proof:      proof,
	}, nil
}

// HandDeck is a committed, shuffled deck for one hand. Cards come off the
// top in order; nothing is reshuffled mid-hand.
type HandDeck struct {
	handID     string
	cards      []poker.Card
	next       int
	nonce      []byte
	commitment string
	proof      *ShuffleProof
}

// Commitment returns the hex commitment hash published at hand start.
func (hd *HandDeck) Commitment() string { return hd.commitment }

// Proof returns the shuffle proof for auditing.
func (hd *HandDeck) Proof() *ShuffleProof { return hd.proof }

// Remaining returns how many undealt cards are left.
func (hd *HandDeck) Remaining() int { return len(hd.cards) - hd.next }

// Deal removes and returns the next card.
func (hd *HandDeck) Deal() (poker.Card, *poker.GameError) {
	if hd.next >= len(hd.cards) {
		return poker.Card{}, poker.NewGameError(poker.CodeHandStartFailed, "deck exhausted")
	}
	c := hd.cards[hd.next]
	hd.next++
	return c, nil
}

// Burn discards the next card, unseen, ahead of a street.
func (hd *HandDeck) Burn() *poker.GameError {
	_, err := hd.Deal()
	return err
}

// DealStreet burns one card and deals n board cards.
func (hd *HandDeck) DealStreet(n int) ([]poker.Card, *poker.GameError) {
	if err := hd.Burn(); err != nil {
		return nil, err
	}
	out := make([]poker.Card, 0, n)
	for i := 0; i < n; i++ {
		c, err := hd.Deal()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Reveal discloses the nonce and full deck order after the hand so anyone
// can verify the commitment.
func (hd *HandDeck) Reveal() Reveal {
	return Reveal{
		HandID:     hd.handID,
		Commitment: hd.commitment,
		Nonce:      hex.EncodeToString(hd.nonce),
		Deck:       hd.cards,
	}
}
