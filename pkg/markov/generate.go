package markov

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// Choice is the outcome of one generation step: the symbol drawn and the
// original token to emit for it. A null Symbol is the terminal outcome.
type Choice struct {
	Symbol Symbol `json:"symbol"`
	Token  string `json:"token"`
}

// IsTerminal reports whether the walk should stop here.
func (c Choice) IsTerminal() bool {
	return c.Symbol.IsNull()
}

// Generate walks the chain from the all-null state, emitting one token per
// step, until it draws a terminal edge or reaches a state with no recorded
// transitions. maxSteps caps the number of tokens emitted; a walk that
// still has not ended after maxSteps tokens returns the text so far along
// with ErrGenerationBudgetExceeded. maxSteps must be at least 1.
func (g *Generator) Generate(ctx context.Context, maxSteps int) (string, error) {
	if maxSteps < 1 {
		return "", fmt.Errorf("%w: maxSteps must be >= 1, got %d", ErrInvalidConfiguration, maxSteps)
	}

	var builder strings.Builder
	state := NewState(g.degree)
	emitted := 0

	for {
		if err := ctx.Err(); err != nil {
			return builder.String(), err
		}

		choice, err := g.NextSymbol(ctx, state)
		if err != nil {
			return "", fmt.Errorf("failed to get next symbol for state %s: %w", state, err)
		}
		if choice.IsTerminal() {
			g.logger.DebugContext(ctx, "Generation terminated",
				slog.Int("generated_length", emitted),
				slog.String("last_state", state.String()),
			)
			break
		}
		if emitted == maxSteps {
			g.logger.DebugContext(ctx, "Generation stopped by step budget",
				slog.Int("max_steps", maxSteps),
			)
			return builder.String(), fmt.Errorf("%w: no terminal edge after %d steps", ErrGenerationBudgetExceeded, maxSteps)
		}

		if emitted > 0 {
			builder.WriteString(g.separator)
		}
		builder.WriteString(choice.Token)
		emitted++

		state.Shift(choice.Symbol)
	}

	return builder.String(), nil
}

// NextSymbol draws the next step from state. Every transition recorded for
// state is a candidate weighted by its count, represented by the first token
// seen for it. A state with no transitions yields the terminal Choice rather
// than an error.
func (g *Generator) NextSymbol(ctx context.Context, state State) (Choice, error) {
	transitions, err := g.store.Transitions(ctx, state)
	if err != nil {
		return Choice{}, err
	}
	if len(transitions) == 0 {
		return Choice{}, nil
	}

	weights := make([]int, len(transitions))
	for i, t := range transitions {
		weights[i] = t.Count
	}
	t := transitions[g.sampler.Choose(weights)]

	token := t.Tokens.First()
	if token == "" {
		token = string(t.Next)
	}
	return Choice{Symbol: t.Next, Token: token}, nil
}

// Sampler picks one index from a list of positive weights.
type Sampler interface {
	Choose(weights []int) int
}

// MostFrequentSampler always picks the heaviest weight, preferring the
// earliest on ties. It makes generation deterministic.
type MostFrequentSampler struct{}

// Choose returns the index of the largest weight.
func (MostFrequentSampler) Choose(weights []int) int {
	best := 0
	for i, w := range weights {
		if w > weights[best] {
			best = i
		}
	}
	return best
}

// WeightedSampler draws an index with probability proportional to its
// weight. Temperature and top-K filtering reshape the distribution. It is
// safe for concurrent use.
type WeightedSampler struct {
	mu          sync.Mutex
	rng         *rand.Rand
	temperature float64
	topK        int
}

// SamplerOption configures a WeightedSampler.
type SamplerOption func(*WeightedSampler)

// WithSeed makes the sampler's draws reproducible.
func WithSeed(seed uint64) SamplerOption {
	return func(s *WeightedSampler) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithTemperature adjusts the randomness of the selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent symbols more likely).
// Values < 1.0 decrease randomness (making more frequent symbols even more likely).
// A value of 0 or less results in deterministic selection (always choosing the most frequent symbol).
func WithTemperature(t float64) SamplerOption {
	return func(s *WeightedSampler) { s.temperature = t }
}

// WithTopK restricts the selection pool to the top `k` heaviest candidates
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) SamplerOption {
	return func(s *WeightedSampler) { s.topK = k }
}

// NewWeightedSampler returns a sampler with temperature 1 and no top-K limit.
// Without WithSeed it draws from the global random source.
func NewWeightedSampler(opts ...SamplerOption) *WeightedSampler {
	s := &WeightedSampler{temperature: 1.0}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WeightedSampler) randIntN(n int) int {
	if s.rng == nil {
		return rand.IntN(n)
	}
	return s.rng.IntN(n)
}

func (s *WeightedSampler) randFloat() float64 {
	if s.rng == nil {
		return rand.Float64()
	}
	return s.rng.Float64()
}

// Choose draws one index of weights.
func (s *WeightedSampler) Choose(weights []int) int {
	if len(weights) <= 1 {
		return 0
	}

	idx := make([]int, len(weights))
	for i := range idx {
		idx[i] = i
	}

	// topK filtering
	if s.topK > 0 && s.topK < len(idx) {
		sort.SliceStable(idx, func(i, j int) bool {
			return weights[idx[i]] > weights[idx[j]]
		})
		idx = idx[:s.topK]
	}

	if s.temperature <= 0 { // Deterministic
		best := idx[0]
		for _, i := range idx {
			if weights[i] > weights[best] {
				best = i
			}
		}
		return best
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.temperature == 1.0 { // Standard weighted random
		var total int
		for _, i := range idx {
			total += weights[i]
		}
		if total <= 0 {
			return idx[0]
		}
		randChoice := s.randIntN(total)
		for _, i := range idx {
			randChoice -= weights[i]
			if randChoice < 0 {
				return i
			}
		}
		return idx[len(idx)-1]
	}

	// Temperature-based sampling
	logProbabilities := make([]float64, len(idx))
	maxLog := math.Inf(-1)
	for j, i := range idx {
		lp := math.Log(float64(weights[i])) / s.temperature
		logProbabilities[j] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}
	var totalWeight float64
	scaled := make([]float64, len(idx))
	for j, lp := range logProbabilities {
		w := math.Exp(lp - maxLog)
		scaled[j] = w
		totalWeight += w
	}
	randChoice := s.randFloat() * totalWeight
	for j, i := range idx {
		randChoice -= scaled[j]
		if randChoice < 0 {
			return i
		}
	}
	return idx[len(idx)-1]
}
