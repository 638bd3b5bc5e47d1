package markov

import (
	"context"
	"testing"
)

func TestStats(t *testing.T) {
	_, sqlStore := setupTestStore(t, 1)
	memStore := NewMemoryStore()

	for name, store := range map[string]interface {
		Store
		StatsReporter
	}{"sqlite": sqlStore, "memory": memStore} {
		t.Run(name, func(t *testing.T) {
			ctx := setupTrainedStore(t, store)
			stats, err := store.Stats(ctx)
			if err != nil {
				t.Fatalf("Stats() failed: %v", err)
			}
			// start->the, the->cat, cat->sat, cat->ran, sat->null, ran->null
			if stats.TotalChains != 6 {
				t.Errorf("TotalChains = %d, want 6", stats.TotalChains)
			}
			if stats.TotalFrequency != 8 {
				t.Errorf("TotalFrequency = %d, want 8", stats.TotalFrequency)
			}
			if stats.DistinctStates != 5 {
				t.Errorf("DistinctStates = %d, want 5", stats.DistinctStates)
			}
			if stats.StartingSymbols != 1 {
				t.Errorf("StartingSymbols = %d, want 1", stats.StartingSymbols)
			}
			if stats.TerminalEdges != 2 {
				t.Errorf("TerminalEdges = %d, want 2", stats.TerminalEdges)
			}
			if stats.Model.Order != 1 {
				t.Errorf("Model.Order = %d, want 1", stats.Model.Order)
			}
		})
	}
}

func TestStatsEmpty(t *testing.T) {
	_, store := setupTestStore(t, 2)
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	if stats.TotalChains != 0 || stats.TotalFrequency != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
}
