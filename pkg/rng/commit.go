package rng

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/vglenn/cardroom/pkg/poker"
)

// NonceSize is the length of a commitment nonce. Smaller nonces would
// weaken the hiding property of the commitment.
const NonceSize = 32

// NewNonce draws a fresh commitment nonce from src.
func NewNonce(src Source) ([]byte, error) {
	return src.Bytes(NonceSize)
}

// Commit binds a shuffled deck to a hash published before any card is
// dealt: SHA-256 over the nonce followed by the deck's canonical bytes.
// The nonce keeps the deck hidden until reveal.
func Commit(nonce []byte, deck []poker.Card) ([32]byte, error) {
	if len(nonce) < NonceSize {
		return [32]byte{}, fmt.Errorf("rng: commit: nonce must be at least %d bytes, got %d", NonceSize, len(nonce))
	}
	if !poker.IsPermutation(deck) {
		return [32]byte{}, fmt.Errorf("rng: commit: deck is not a 52-card permutation")
	}
	h := sha256.New()
	h.Write(nonce)
	h.Write(poker.CanonicalBytes(deck))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Verify checks a revealed nonce and deck against a published commitment.
func Verify(commitment [32]byte, nonce []byte, deck []poker.Card) bool {
	got, err := Commit(nonce, deck)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(got[:], commitment[:]) == 1
}

// Reveal is the post-hand disclosure proving the deck matched its
// commitment.
type Reveal struct {
	HandID     string       `json:"hand_id"`
	Commitment string       `json:"commitment"`
	Nonce      string       `json:"nonce"`
	Deck       []poker.Card `json:"deck"`
}

// VerifyReveal checks a serialized reveal end to end.
func VerifyReveal(r Reveal) bool {
	commitment, err := hex.DecodeString(r.Commitment)
	if err != nil || len(commitment) != 32 {
		return false
	}
	nonce, err := hex.DecodeString(r.Nonce)
	if err != nil {
		return false
	}
	var c [32]byte
	copy(c[:], commitment)
	return Verify(c, nonce, r.Deck)
}
