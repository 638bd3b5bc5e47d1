package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// StreamToken is one element of a generation stream. Text already carries
// the separator that precedes it. The final element of a stream that did
// not end on a terminal edge has Err set.
type StreamToken struct {
	Choice
	Text string
	Err  error
}

// GenerateStream walks the chain like Generate but delivers tokens on a
// read-only channel as they are drawn. This is useful for real-time
// applications. The channel is closed once a terminal edge is drawn, the
// step budget runs out, a store error occurs, or the context is cancelled.
func (g *Generator) GenerateStream(ctx context.Context, maxSteps int) (<-chan StreamToken, error) {
	if maxSteps < 1 {
		return nil, fmt.Errorf("%w: maxSteps must be >= 1, got %d", ErrInvalidConfiguration, maxSteps)
	}

	tokenChan := make(chan StreamToken)

	go func() {
		defer close(tokenChan)

		send := func(tok StreamToken) bool {
			select {
			case <-ctx.Done():
				return false
			case tokenChan <- tok:
				return true
			}
		}

		state := NewState(g.degree)
		emitted := 0
		for {
			select {
			case <-ctx.Done():
				g.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return
			default:
				// continue
			}

			choice, err := g.NextSymbol(ctx, state)
			if err != nil {
				g.logger.ErrorContext(ctx, "failed to get next symbol for stream", slog.String("state", state.String()), slog.Any("error", err))
				send(StreamToken{Err: err})
				return
			}
			if choice.IsTerminal() {
				return
			}
			if emitted == maxSteps {
				send(StreamToken{Err: fmt.Errorf("%w: no terminal edge after %d steps", ErrGenerationBudgetExceeded, maxSteps)})
				return
			}

			text := choice.Token
			if emitted > 0 {
				text = g.separator + text
			}
			if !send(StreamToken{Choice: choice, Text: text}) {
				return
			}
			emitted++

			// Update the state by shifting the window and adding the new symbol.
			state.Shift(choice.Symbol)
		}
	}()

	return tokenChan, nil
}
