package markov

import (
	"context"
	"database/sql"
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database file in a temp dir with the
// schema installed. It uses t.Cleanup to ensure resources are released.
func setupTestDB(t testing.TB) *sql.DB {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}
	return db
}

// setupTestStore opens a SQLiteStore for a fresh model of the given order.
func setupTestStore(t testing.TB, order int) (*sql.DB, *SQLiteStore) {
	db := setupTestDB(t)
	model, err := NewModels(db).Ensure(context.Background(), "test_model", order)
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	store, err := NewSQLiteStore(db, model)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return db, store
}

// newWordBuilder returns a word-level builder over store.
func newWordBuilder(t testing.TB, store Store, degree int) *Builder {
	tok, err := NewWordTokenizer()
	if err != nil {
		t.Fatalf("NewWordTokenizer() error = %v", err)
	}
	b, err := NewBuilder(context.Background(), store, BuilderConfig{
		Degree:     degree,
		Tokenizer:  tok,
		Symbolizer: WordSymbolizer{},
	})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

// setupTrainedStore is a convenience helper that trains a degree-1 word
// model on "the cat sat" and "the cat ran".
func setupTrainedStore(t testing.TB, store Store) context.Context {
	ctx := context.Background()
	b := newWordBuilder(t, store, 1)
	for _, text := range []string{"the cat sat", "the cat ran"} {
		if err := b.AddText(ctx, text); err != nil {
			t.Fatalf("setup: AddText(%q) failed: %v", text, err)
		}
	}
	return ctx
}

// findTransition returns the transition to next among ts.
func findTransition(ts []Transition, next Symbol) (Transition, bool) {
	for _, tr := range ts {
		if tr.Next == next {
			return tr, true
		}
	}
	return Transition{}, false
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking.\nit is not very long but will prevent a crash.\n"
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
