package markov

import (
	"context"
)

// ModelStats holds aggregated statistics for a single Markov model.
type ModelStats struct {
	Model           ModelInfo `json:"model"`
	TotalChains     int       `json:"total_chains"`     // The number of unique state->next transitions.
	TotalFrequency  int       `json:"total_frequency"`  // The sum of all counts; the total number of observed transitions.
	DistinctStates  int       `json:"distinct_states"`  // The number of states with at least one outgoing transition.
	StartingSymbols int       `json:"starting_symbols"` // The number of unique symbols that can start a chain.
	TerminalEdges   int       `json:"terminal_edges"`   // The number of states that can end a chain.
}

// StatsReporter is implemented by stores that can summarize their contents.
type StatsReporter interface {
	Stats(ctx context.Context) (*ModelStats, error)
}

// Stats returns a snapshot of statistics for the store's model.
func (s *SQLiteStore) Stats(ctx context.Context) (*ModelStats, error) {
	st := &ModelStats{Model: s.model}

	if err := s.stmtCountLinks.QueryRowContext(ctx, s.model.Id).Scan(&st.TotalChains); err != nil {
		return nil, storeErr("count transitions", err)
	}
	if err := s.stmtSumCounts.QueryRowContext(ctx, s.model.Id).Scan(&st.TotalFrequency); err != nil {
		return nil, storeErr("sum counts", err)
	}
	if err := s.stmtCountStates.QueryRowContext(ctx, s.model.Id).Scan(&st.DistinctStates); err != nil {
		return nil, storeErr("count states", err)
	}
	start := NewState(s.model.Order).Key()
	if err := s.stmtCountStarters.QueryRowContext(ctx, s.model.Id, start).Scan(&st.StartingSymbols); err != nil {
		return nil, storeErr("count starting symbols", err)
	}
	if err := s.stmtCountTerminal.QueryRowContext(ctx, s.model.Id).Scan(&st.TerminalEdges); err != nil {
		return nil, storeErr("count terminal edges", err)
	}
	return st, nil
}

// Stats returns a snapshot of statistics for the in-memory chain. The
// model's order is taken from the first state seen.
func (s *MemoryStore) Stats(ctx context.Context) (*ModelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := &ModelStats{
		TotalChains:    len(s.edges),
		DistinctStates: len(s.byState),
	}
	for _, t := range s.edges {
		if st.Model.Order == 0 {
			st.Model.Order = len(t.State)
		}
		st.TotalFrequency += t.Count
		if t.IsTerminal() {
			st.TerminalEdges++
		}
	}
	for _, t := range s.byState[NewState(st.Model.Order).Key()] {
		if !t.IsTerminal() {
			st.StartingSymbols++
		}
	}
	return st, nil
}
