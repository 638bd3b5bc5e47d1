package markov

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultWordPattern matches maximal runs of non-whitespace characters.
const DefaultWordPattern = `[^\s]+`

// WordTokenizer splits text into the maximal runs matched by its pattern,
// left to right. Its behavior can be customized with functional options.
type WordTokenizer struct {
	pattern    string
	matchLimit int
	separator  string
	re         *regexp.Regexp
}

// TokenizerOption configures a WordTokenizer.
type TokenizerOption func(*WordTokenizer)

// WithPattern sets the regex used to find tokens.
// Default: `[^\s]+`
func WithPattern(expr string) TokenizerOption {
	return func(t *WordTokenizer) {
		t.pattern = expr
	}
}

// WithMatchLimit sets how many matches the pattern may return per text.
// Only -1 (match globally) is accepted; anything else would silently drop
// the rest of the text, so NewWordTokenizer rejects it.
// Default: -1
func WithMatchLimit(n int) TokenizerOption {
	return func(t *WordTokenizer) {
		t.matchLimit = n
	}
}

// WithSeparator sets the string used to join tokens during generation.
// Default: " "
func WithSeparator(sep string) TokenizerOption {
	return func(t *WordTokenizer) {
		t.separator = sep
	}
}

// NewWordTokenizer creates a word-level tokenizer. It returns an error
// wrapping ErrInvalidConfiguration if the pattern does not compile or the
// matcher is not global.
func NewWordTokenizer(opts ...TokenizerOption) (*WordTokenizer, error) {
	t := &WordTokenizer{
		pattern:    DefaultWordPattern,
		matchLimit: -1,
		separator:  " ",
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.matchLimit != -1 {
		return nil, fmt.Errorf("%w: tokenizer pattern must match globally (limit -1), got limit %d", ErrInvalidConfiguration, t.matchLimit)
	}
	re, err := regexp.Compile(t.pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: bad tokenizer pattern %q: %w", ErrInvalidConfiguration, t.pattern, err)
	}
	t.re = re
	return t, nil
}

// MustWordTokenizer is like NewWordTokenizer but panics on error. It is
// meant for package-level defaults built from constant options.
func MustWordTokenizer(opts ...TokenizerOption) *WordTokenizer {
	t, err := NewWordTokenizer(opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Tokenize returns every match of the pattern in order. Empty matches are
// dropped so that every token has a non-empty symbol.
func (t *WordTokenizer) Tokenize(text string) []string {
	matches := t.re.FindAllString(text, t.matchLimit)
	tokens := matches[:0]
	for _, m := range matches {
		if m != "" {
			tokens = append(tokens, m)
		}
	}
	return tokens
}

// Separator returns the configured separator string.
func (t *WordTokenizer) Separator() string {
	return t.separator
}

// CharTokenizer is the degenerate character-level mode: every rune of the
// input is its own token and generated text is joined without separators.
type CharTokenizer struct{}

// Tokenize returns each rune of text as a token.
func (CharTokenizer) Tokenize(text string) []string {
	tokens := make([]string, 0, len(text))
	for _, r := range text {
		tokens = append(tokens, string(r))
	}
	return tokens
}

// Separator returns "".
func (CharTokenizer) Separator() string {
	return ""
}

// CharSymbolizer lower-cases each token.
type CharSymbolizer struct{}

// Symbolize returns the lower-cased token.
func (CharSymbolizer) Symbolize(token string) Symbol {
	return Symbol(strings.ToLower(token))
}

var nonWordRegex = regexp.MustCompile(`[^\w]+`)

// WordSymbolizer trims, lower-cases and strips non-word characters from a
// token. Tokens made only of non-word characters keep their trimmed,
// lower-cased form so the symbol is never empty.
type WordSymbolizer struct{}

// Symbolize normalizes token. Applying it to its own output is a no-op.
func (WordSymbolizer) Symbolize(token string) Symbol {
	base := strings.ToLower(strings.TrimSpace(token))
	if stripped := nonWordRegex.ReplaceAllString(base, ""); stripped != "" {
		return Symbol(stripped)
	}
	if base == "" {
		// whitespace-only tokens only come from custom patterns
		return Symbol(strings.ToLower(token))
	}
	return Symbol(base)
}
