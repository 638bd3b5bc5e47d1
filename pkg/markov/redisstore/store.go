// Package redisstore keeps Markov transitions in Redis so several builder
// processes can train the same model concurrently.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/CTAG07/mchain/pkg/markov"
	backend "github.com/redis/go-redis/v9"
)

// Layout, per state S and edge (S, N):
//
//	<prefix>counts:<S>   hash  N -> count
//	<prefix>order:<S>    list  N in first-seen order
//	<prefix>tokens:<E>   zset  token scored by first-seen position, E = key of S+[N]
const (
	countsPart = "counts:"
	orderPart  = "order:"
	tokensPart = "tokens:"
)

// linkScript performs the whole upsert server-side so concurrent builders
// cannot lose an increment or reorder a token set.
var linkScript = backend.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
if c == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
end
if ARGV[2] ~= '' then
	redis.call('ZADD', KEYS[3], 'NX', redis.call('ZCARD', KEYS[3]), ARGV[2])
end
return {c, redis.call('ZRANGE', KEYS[3], 0, -1)}
`)

// Store implements markov.Store using Redis.
type Store struct {
	client *backend.Client
	prefix string
	owned  bool
}

type Option func(*Store)

// WithPrefix sets the key prefix of the model. Different prefixes hold
// independent models in the same database.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options. The store owns the client and
// closes it on Close.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	store := NewFromClient(rdb, opts...)
	store.owned = true
	return store
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "mchain:default:",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) countsKey(state markov.State) string {
	return s.prefix + countsPart + state.Key()
}

func (s *Store) orderKey(state markov.State) string {
	return s.prefix + orderPart + state.Key()
}

func (s *Store) tokensKey(state markov.State, next markov.Symbol) string {
	edge := append(state.Clone(), next)
	return s.prefix + tokensPart + edge.Key()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, markov.ErrStoreUnavailable, err)
}

// EnsureIndexes checks that the server answers. Hashes are their own index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Link upserts the (state, next) transition with a single script call.
func (s *Store) Link(ctx context.Context, state markov.State, next markov.Symbol, token string) (*markov.Transition, error) {
	keys := []string{s.countsKey(state), s.orderKey(state), s.tokensKey(state, next)}
	res, err := linkScript.Run(ctx, s.client, keys, string(next), token).Slice()
	if err != nil {
		return nil, unavailable(fmt.Sprintf("link %s -> %q", state, next), err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("link script returned %d values", len(res))
	}
	count, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("link script returned count of type %T", res[0])
	}

	t := &markov.Transition{State: state.Clone(), Next: next, Count: int(count)}
	toks, _ := res[1].([]interface{})
	for _, tok := range toks {
		if str, ok := tok.(string); ok {
			t.Tokens.Add(str)
		}
	}
	return t, nil
}

// Transitions returns the transitions recorded for state in first-seen order.
func (s *Store) Transitions(ctx context.Context, state markov.State) ([]markov.Transition, error) {
	pipe := s.client.Pipeline()
	orderCmd := pipe.LRange(ctx, s.orderKey(state), 0, -1)
	countsCmd := pipe.HGetAll(ctx, s.countsKey(state))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, unavailable("read transitions", err)
	}

	nexts := orderCmd.Val()
	if len(nexts) == 0 {
		return nil, nil
	}
	counts := countsCmd.Val()

	tokPipe := s.client.Pipeline()
	tokCmds := make([]*backend.StringSliceCmd, len(nexts))
	for i, next := range nexts {
		tokCmds[i] = tokPipe.ZRange(ctx, s.tokensKey(state, markov.Symbol(next)), 0, -1)
	}
	if _, err := tokPipe.Exec(ctx); err != nil && !errors.Is(err, backend.Nil) {
		return nil, unavailable("read transition tokens", err)
	}

	out := make([]markov.Transition, 0, len(nexts))
	for i, next := range nexts {
		count, err := strconv.Atoi(counts[next])
		if err != nil {
			return nil, fmt.Errorf("corrupt count for %s -> %q: %w", state, next, err)
		}
		out = append(out, markov.Transition{
			State:  state.Clone(),
			Next:   markov.Symbol(next),
			Tokens: markov.NewTokenSet(tokCmds[i].Val()...),
			Count:  count,
		})
	}
	return out, nil
}

// Stats scans the model's count hashes and summarizes them.
func (s *Store) Stats(ctx context.Context) (*markov.ModelStats, error) {
	st := &markov.ModelStats{Model: markov.ModelInfo{Name: strings.TrimSuffix(s.prefix, ":")}}
	match := s.prefix + countsPart + "*"

	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		state, err := markov.ParseStateKey(strings.TrimPrefix(key, s.prefix+countsPart))
		if err != nil {
			return nil, fmt.Errorf("corrupt state key %q: %w", key, err)
		}
		counts, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, unavailable("read counts", err)
		}
		if st.Model.Order == 0 {
			st.Model.Order = len(state)
		}
		st.DistinctStates++
		start := state.Equal(markov.NewState(len(state)))
		for next, raw := range counts {
			c, err := strconv.Atoi(raw)
			if err != nil {
				return nil, fmt.Errorf("corrupt count for %s -> %q: %w", state, next, err)
			}
			st.TotalChains++
			st.TotalFrequency += c
			if next == "" {
				st.TerminalEdges++
			} else if start {
				st.StartingSymbols++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, unavailable("scan states", err)
	}
	return st, nil
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
