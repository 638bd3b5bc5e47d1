package markov

import (
	"context"
	"sync"
)

// Store is the persistent transition table shared by builders and
// generators. Implementations must make Link atomic: concurrent builders
// linking the same (state, next) pair must never lose an increment.
type Store interface {
	// EnsureIndexes creates the lookup indexes on state and on (state, next).
	// It is idempotent. Callers treat failures as a performance problem only.
	EnsureIndexes(ctx context.Context) error

	// Link finds the transition keyed by (state, next), creating it with a
	// zero count if absent, then increments its count and adds token to its
	// token set (an empty token adds nothing). It returns the record after
	// the update.
	Link(ctx context.Context, state State, next Symbol, token string) (*Transition, error)

	// Transitions returns every transition whose state equals state, in the
	// order they were first recorded. An unseen state yields no transitions
	// and no error.
	Transitions(ctx context.Context, state State) ([]Transition, error)

	// Close releases the store's resources.
	Close() error
}

type edgeKey struct {
	state string
	next  Symbol
}

// MemoryStore is a Store held in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	edges   map[edgeKey]*Transition
	byState map[string][]*Transition
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		edges:   make(map[edgeKey]*Transition),
		byState: make(map[string][]*Transition),
	}
}

// EnsureIndexes is a no-op; the maps are the indexes.
func (s *MemoryStore) EnsureIndexes(ctx context.Context) error {
	return nil
}

// Link upserts the (state, next) transition under the store's lock.
func (s *MemoryStore) Link(ctx context.Context, state State, next Symbol, token string) (*Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := edgeKey{state: state.Key(), next: next}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.edges[key]
	if !ok {
		t = &Transition{State: state.Clone(), Next: next}
		s.edges[key] = t
		s.byState[key.state] = append(s.byState[key.state], t)
	}
	t.Count++
	if token != "" {
		t.Tokens.Add(token)
	}
	return copyTransition(t), nil
}

// Transitions returns copies of the transitions recorded for state.
func (s *MemoryStore) Transitions(ctx context.Context, state State) ([]Transition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.byState[state.Key()]
	out := make([]Transition, 0, len(recs))
	for _, t := range recs {
		out = append(out, *copyTransition(t))
	}
	return out, nil
}

// Len returns the number of distinct transitions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func copyTransition(t *Transition) *Transition {
	return &Transition{
		State:  t.State.Clone(),
		Next:   t.Next,
		Tokens: NewTokenSet(t.Tokens.Slice()...),
		Count:  t.Count,
	}
}
