package session

import (
	"encoding/json"
	"sync"
	"time"
)

// CoalesceMode picks what happens to a burst of equivalent commands.
type CoalesceMode string

const (
	// ModeFirst executes the first command; the rest share its result.
	ModeFirst CoalesceMode = "first"
	// ModeLast executes only the final command of the burst.
	ModeLast CoalesceMode = "last"
	// ModeMerge executes every command and wraps the results together.
	ModeMerge CoalesceMode = "merge"
)

// Coalescing defaults: a burst is whatever arrives inside the window, up
// to the batch cap.
const (
	DefaultCoalesceWindow = 100 * time.Millisecond
	MaxCoalesceBatch      = 32
)

// Exec runs one command and returns its serialized reply.
type Exec func(Envelope) ([]byte, error)

type coalesceResult struct {
	data []byte
	err  error
}

type coalesceBucket struct {
	mode    CoalesceMode
	exec    Exec
	items   []Envelope
	waiters []chan coalesceResult
	timer   *time.Timer
}

// Coalescer batches bursts of commands sharing a key. Every submitter
// blocks until the batch resolves and all receive the batch result.
type Coalescer struct {
	mu       sync.Mutex
	window   time.Duration
	maxBatch int
	buckets  map[string]*coalesceBucket
}

// NewCoalescer creates a coalescer with the given window and batch cap
// (defaults applied for zero values).
func NewCoalescer(window time.Duration, maxBatch int) *Coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	if maxBatch <= 0 {
		maxBatch = MaxCoalesceBatch
	}
	return &Coalescer{
		window:   window,
		maxBatch: maxBatch,
		buckets:  make(map[string]*coalesceBucket),
	}
}

// Submit adds env to the key's current batch and blocks for the result.
// The first submission opens the batch window; hitting the batch cap
// fires it early.
func (c *Coalescer) Submit(key string, mode CoalesceMode, env Envelope, exec Exec) ([]byte, error) {
	c.mu.Lock()
	b, ok := c.buckets[key]
	if !ok {
		b = &coalesceBucket{mode: mode, exec: exec}
		c.buckets[key] = b
		b.timer = time.AfterFunc(c.window, func() { c.fire(key, b) })
	}
	b.items = append(b.items, env)
	w := make(chan coalesceResult, 1)
	b.waiters = append(b.waiters, w)

	if len(b.items) >= c.maxBatch {
		b.timer.Stop()
		delete(c.buckets, key)
		c.mu.Unlock()
		resolve(b)
	} else {
		c.mu.Unlock()
	}

	r := <-w
	return r.data, r.err
}

func (c *Coalescer) fire(key string, b *coalesceBucket) {
	c.mu.Lock()
	if c.buckets[key] != b {
		// The bucket already fired on the batch cap.
		c.mu.Unlock()
		return
	}
	delete(c.buckets, key)
	c.mu.Unlock()
	resolve(b)
}

// mergedBatch is the reply wrapper for ModeMerge.
type mergedBatch struct {
	Results   []json.RawMessage `json:"results"`
	BatchSize int               `json:"batch_size"`
}

func resolve(b *coalesceBucket) {
	var r coalesceResult
	switch b.mode {
	case ModeLast:
		r.data, r.err = b.exec(b.items[len(b.items)-1])
	case ModeMerge:
		results := make([]json.RawMessage, 0, len(b.items))
		for _, env := range b.items {
			data, err := b.exec(env)
			if err != nil {
				data, _ = json.Marshal(map[string]string{"error": err.Error()})
			}
			results = append(results, data)
		}
		r.data, r.err = json.Marshal(mergedBatch{Results: results, BatchSize: len(b.items)})
	default: // ModeFirst
		r.data, r.err = b.exec(b.items[0])
	}
	for _, w := range b.waiters {
		w <- r
	}
}

// Policy is the per-message-type pipeline behavior.
type Policy struct {
	Cache    bool
	Coalesce bool
	Mode     CoalesceMode
}

// DefaultPolicies covers the client command set: betting actions are
// cached for replay and bursts collapse to the first command; table
// membership changes are cached only; chat bursts merge.
func DefaultPolicies() map[string]Policy {
	return map[string]Policy{
		TypePlayerAction: {Cache: true, Coalesce: true, Mode: ModeFirst},
		TypeJoinTable:    {Cache: true},
		TypeLeaveTable:   {Cache: true},
		TypeChat:         {Coalesce: true, Mode: ModeMerge},
	}
}

// Pipeline runs commands through the idempotency cache and coalescer
// according to the type's policy.
type Pipeline struct {
	dedupe    *Dedupe
	coalescer *Coalescer
	policies  map[string]Policy
}

// NewPipeline builds a pipeline with the default policies.
func NewPipeline(dedupe *Dedupe, coalescer *Coalescer) *Pipeline {
	return &Pipeline{
		dedupe:    dedupe,
		coalescer: coalescer,
		policies:  DefaultPolicies(),
	}
}

// Handle runs one command. Coalescing batches concurrent submissions
// that share an idempotency key, scoped by session so one client's keys
// never collide with another's. A command without a key, or with a key
// nobody else is using, executes on its own. bypass skips the pipeline.
func (p *Pipeline) Handle(sessionID string, env Envelope, bypass bool, exec Exec) ([]byte, error) {
	policy, ok := p.policies[env.Type]
	if bypass || !ok {
		return exec(env)
	}

	if policy.Cache {
		if cached, hit := p.dedupe.Lookup(env.IdempotencyKey); hit {
			return cached, nil
		}
	}

	var data []byte
	var err error
	if policy.Coalesce && env.IdempotencyKey != "" {
		data, err = p.coalescer.Submit(sessionID+"|"+env.IdempotencyKey, policy.Mode, env, exec)
	} else {
		data, err = exec(env)
	}

	if policy.Cache && err == nil {
		p.dedupe.Store(env.IdempotencyKey, data)
	}
	return data, err
}
