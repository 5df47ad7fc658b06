package rng

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Alert levels for randomness health findings.
const (
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// HealthAlert is a suspicious randomness observation. Alerts are routed
// to the security audit sink; they never block dealing by themselves.
type HealthAlert struct {
	TableID   string    `json:"table_id"`
	HandID    string    `json:"hand_id"`
	Level     string    `json:"level"`
	Check     string    `json:"check"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// maxBitRun is the longest run of identical bits tolerated in a sample.
// Runs this long in a healthy stream are vanishingly unlikely.
const maxBitRun = 32

// entropyOutlierFactor flags shuffles that drew far more entropy than the
// recent median, which points at heavy rejection-sampling retries.
const entropyOutlierFactor = 4

// monitorHistory is how many recent shuffles the outlier check considers.
const monitorHistory = 128

// Monitor watches shuffle proofs and raw samples for statistical trouble.
type Monitor struct {
	mu      sync.Mutex
	history map[string][]int // table -> recent entropy byte counts
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{history: make(map[string][]int)}
}

// CheckSample runs the bit-run test over a raw sample. It returns a nil
// slice when the sample looks healthy.
func (m *Monitor) CheckSample(tableID, handID string, sample []byte) []HealthAlert {
	if run := longestBitRun(sample); run >= maxBitRun {
		return []HealthAlert{{
			TableID:   tableID,
			HandID:    handID,
			Level:     AlertCritical,
			Check:     "bit_run",
			Detail:    fmt.Sprintf("identical bit run of %d in entropy sample", run),
			Timestamp: time.Now().UTC(),
		}}
	}
	return nil
}

// CheckShuffle records a shuffle proof and flags entropy-draw outliers
// against the table's recent history.
func (m *Monitor) CheckShuffle(tableID, handID string, proof *ShuffleProof) []HealthAlert {
	m.mu.Lock()
	hist := append(m.history[tableID], proof.EntropyBytes)
	if len(hist) > monitorHistory {
		hist = hist[len(hist)-monitorHistory:]
	}
	m.history[tableID] = hist
	med := median(hist)
	m.mu.Unlock()

	if len(hist) < 8 || med == 0 {
		// Not enough history for a stable baseline.
		return nil
	}
	if proof.EntropyBytes >= med*entropyOutlierFactor {
		return []HealthAlert{{
			TableID:   tableID,
			HandID:    handID,
			Level:     AlertWarning,
			Check:     "entropy_outlier",
			Detail:    fmt.Sprintf("shuffle drew %d bytes, median is %d", proof.EntropyBytes, med),
			Timestamp: time.Now().UTC(),
		}}
	}
	return nil
}

// longestBitRun returns the longest run of identical bits in b.
func longestBitRun(b []byte) int {
	if len(b) == 0 {
		return 0
	}
	longest, run := 0, 0
	prev := -1
	for _, by := range b {
		for i := 7; i >= 0; i-- {
			bit := int(by>>uint(i)) & 1
			if bit == prev {
				run++
			} else {
				run = 1
				prev = bit
			}
			if run > longest {
				longest = run
			}
		}
	}
	return longest
}

func median(xs []int) int {
	if len(xs) == 0 {
		return 0
	}
	cp := append([]int(nil), xs...)
	sort.Ints(cp)
	return cp[len(cp)/2]
}

