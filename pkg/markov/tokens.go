package markov

import (
	"encoding/json"
	"strings"
)

// Symbol is the normalized form of a token used as the key for chain
// transitions. Distinct tokens may share a symbol.
type Symbol string

// NullSymbol fills unused history positions of a State and, as the next
// symbol of a transition, marks the end of a sequence. Symbolizers never
// produce it for a non-empty token.
const NullSymbol Symbol = ""

// IsNull reports whether s is the null sentinel.
func (s Symbol) IsNull() bool {
	return s == NullSymbol
}

// State is the ordered history of the last `degree` symbols seen.
type State []Symbol

// NewState returns a state of the given degree with every position null.
func NewState(degree int) State {
	return make(State, degree)
}

// Shift drops the oldest symbol and appends next, in place.
func (s State) Shift(next Symbol) {
	if len(s) == 0 {
		return
	}
	copy(s, s[1:])
	s[len(s)-1] = next
}

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// Equal reports whether both states have the same length and match at
// every position (null matches null).
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Key encodes the state as a JSON array, with null positions written as
// JSON null. The encoding is unambiguous for any symbol content and is what
// stores index transitions by.
func (s State) Key() string {
	parts := make([]*string, len(s))
	for i, sym := range s {
		if sym.IsNull() {
			continue
		}
		v := string(sym)
		parts[i] = &v
	}
	b, _ := json.Marshal(parts)
	return string(b)
}

// ParseStateKey decodes a key produced by State.Key.
func ParseStateKey(key string) (State, error) {
	var parts []*string
	if err := json.Unmarshal([]byte(key), &parts); err != nil {
		return nil, err
	}
	s := make(State, len(parts))
	for i, p := range parts {
		if p != nil {
			s[i] = Symbol(*p)
		}
	}
	return s, nil
}

// String renders the state for logs, showing null positions as <nil>.
func (s State) String() string {
	parts := make([]string, len(s))
	for i, sym := range s {
		if sym.IsNull() {
			parts[i] = "<nil>"
		} else {
			parts[i] = string(sym)
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// TokenSet is an insertion-ordered set of original tokens. Add is
// idempotent, and the first token added stays first.
type TokenSet struct {
	items []string
	index map[string]struct{}
}

// NewTokenSet builds a set from tokens, dropping duplicates.
func NewTokenSet(tokens ...string) TokenSet {
	var ts TokenSet
	for _, t := range tokens {
		ts.Add(t)
	}
	return ts
}

// Add inserts token and reports whether it was new.
func (ts *TokenSet) Add(token string) bool {
	if ts.index == nil {
		ts.index = make(map[string]struct{})
	}
	if _, ok := ts.index[token]; ok {
		return false
	}
	ts.index[token] = struct{}{}
	ts.items = append(ts.items, token)
	return true
}

// Contains reports whether token is in the set.
func (ts TokenSet) Contains(token string) bool {
	_, ok := ts.index[token]
	return ok
}

// First returns the earliest token added, or "" for an empty set.
func (ts TokenSet) First() string {
	if len(ts.items) == 0 {
		return ""
	}
	return ts.items[0]
}

// Len returns the number of distinct tokens.
func (ts TokenSet) Len() int {
	return len(ts.items)
}

// Slice returns a copy of the tokens in insertion order.
func (ts TokenSet) Slice() []string {
	out := make([]string, len(ts.items))
	copy(out, ts.items)
	return out
}

// MarshalJSON encodes the set as an array.
func (ts TokenSet) MarshalJSON() ([]byte, error) {
	if ts.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ts.items)
}

// UnmarshalJSON decodes an array, dropping duplicates.
func (ts *TokenSet) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*ts = NewTokenSet(items...)
	return nil
}

// Transition is one persisted edge of the chain: how often Next followed
// State, and which original tokens produced Next there.
type Transition struct {
	State  State    `json:"state"`
	Next   Symbol   `json:"next"`
	Tokens TokenSet `json:"tokens"`
	Count  int      `json:"count"`
}

// IsTerminal reports whether the transition is an end-of-sequence edge.
func (t Transition) IsTerminal() bool {
	return t.Next.IsNull()
}

// Tokenizer splits input text into the tokens that generation re-emits.
type Tokenizer interface {
	// Tokenize returns the tokens of text in order.
	Tokenize(text string) []string
	// Separator returns the string placed between tokens when generated
	// text is rebuilt.
	Separator() string
}

// Symbolizer maps a token to its normalized symbol. Implementations must be
// pure and deterministic.
type Symbolizer interface {
	Symbolize(token string) Symbol
}
