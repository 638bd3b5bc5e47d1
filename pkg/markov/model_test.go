package markov

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestInsertAndGetModel(t *testing.T) {
	db := setupTestDB(t)
	models := NewModels(db)
	ctx := context.Background()

	m, err := models.Insert(ctx, ModelInfo{Name: "test_model", Order: 2})
	if err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	if m.Id == 0 {
		t.Error("expected Insert to assign an id")
	}

	got, err := models.Get(ctx, "test_model")
	if err != nil {
		t.Errorf("Get: expected no error, got %v", err)
	}
	if got != m {
		t.Errorf("got unexpected model info: %+v, want %+v", got, m)
	}

	if _, err = models.Get(ctx, "nonexistent_model"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows for nonexistent model, got %v", err)
	}
	if _, err = models.Insert(ctx, ModelInfo{Name: "test_model", Order: 2}); err == nil {
		t.Error("expected an error when inserting a model with a duplicate name, but got nil")
	}
	if _, err = models.Insert(ctx, ModelInfo{Name: "bad", Order: 0}); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration for order 0, got %v", err)
	}
}

func TestEnsureModel(t *testing.T) {
	db := setupTestDB(t)
	models := NewModels(db)
	ctx := context.Background()

	first, err := models.Ensure(ctx, "chat", 2)
	if err != nil {
		t.Fatalf("Ensure() failed: %v", err)
	}
	again, err := models.Ensure(ctx, "chat", 3)
	if err != nil {
		t.Fatalf("Ensure() failed on an existing model: %v", err)
	}
	if again != first || again.Order != 2 {
		t.Errorf("existing model should keep its order, got %+v", again)
	}
}

func TestListAndRemoveModels(t *testing.T) {
	db := setupTestDB(t)
	models := NewModels(db)
	ctx := context.Background()

	keep, _ := models.Ensure(ctx, "keep", 1)
	drop, _ := models.Ensure(ctx, "drop", 1)

	for _, m := range []ModelInfo{keep, drop} {
		store, err := NewSQLiteStore(db, m)
		if err != nil {
			t.Fatal(err)
		}
		setupTrainedStore(t, store)
		_ = store.Close()
	}

	list, err := models.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(list) != 2 || list["keep"].Id != keep.Id {
		t.Errorf("unexpected list: %+v", list)
	}

	if err = models.Remove(ctx, drop); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	list, _ = models.List(ctx)
	if _, ok := list["drop"]; ok {
		t.Error("removed model still listed")
	}

	var orphans int
	if err = db.QueryRow(`SELECT COUNT(*) FROM markov_transitions WHERE model_id = ?`, drop.Id).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("expected the removed model's transitions gone, found %d", orphans)
	}

	store, _ := NewSQLiteStore(db, keep)
	defer store.Close()
	ts, _ := store.Transitions(ctx, State{"the"})
	if len(ts) != 1 {
		t.Errorf("removing one model touched another: %+v", ts)
	}
}

func TestModelsAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	models := NewModels(db)
	ctx := context.Background()
	a, _ := models.Ensure(ctx, "a", 1)
	b, _ := models.Ensure(ctx, "b", 1)
	storeA, _ := NewSQLiteStore(db, a)
	storeB, _ := NewSQLiteStore(db, b)
	defer storeA.Close()
	defer storeB.Close()

	if _, err := storeA.Link(ctx, State{"x"}, "y", "y"); err != nil {
		t.Fatal(err)
	}
	ts, _ := storeB.Transitions(ctx, State{"x"})
	if len(ts) != 0 {
		t.Errorf("store b sees model a's transitions: %+v", ts)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	db, store := setupTestStore(t, 1)
	ctx := setupTrainedStore(t, store)

	var buf bytes.Buffer
	if err := store.Export(ctx, &buf); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	var exported ExportedModel
	if err := json.Unmarshal(buf.Bytes(), &exported); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if exported.Name != "test_model" || exported.Order != 1 || len(exported.Transitions) != 6 {
		t.Errorf("unexpected export: %+v", exported)
	}

	// Import into a fresh database creates the model.
	other := setupTestDB(t)
	otherModels := NewModels(other)
	imported, err := otherModels.Import(ctx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Import() failed: %v", err)
	}
	otherStore, _ := NewSQLiteStore(other, imported)
	defer otherStore.Close()
	g, _ := NewGenerator(otherStore, GeneratorConfig{Degree: 1, Sampler: MostFrequentSampler{}})
	out, err := g.Generate(ctx, 10)
	if err != nil || out != "the cat sat" {
		t.Errorf("imported model generated %q, %v", out, err)
	}

	// Importing into the same model merges counts.
	if _, err = NewModels(db).Import(ctx, bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Import() into the existing model failed: %v", err)
	}
	ts, _ := store.Transitions(ctx, State{"the"})
	if tr, _ := findTransition(ts, "cat"); tr.Count != 4 {
		t.Errorf("expected merged count 4, got %d", tr.Count)
	}
}

func TestImportRejectsBadModels(t *testing.T) {
	db := setupTestDB(t)
	models := NewModels(db)
	ctx := context.Background()
	if _, err := models.Ensure(ctx, "m", 2); err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name    string
		payload string
		want    error
	}{
		{"order mismatch", `{"name":"m","order":1,"transitions":[]}`, ErrDegreeMismatch},
		{"missing name", `{"order":1,"transitions":[]}`, ErrInvalidConfiguration},
		{"bad state length", `{"name":"n","order":2,"transitions":[{"state":["a"],"next":"b","tokens":["b"],"count":1}]}`, nil},
		{"zero count", `{"name":"n","order":1,"transitions":[{"state":["a"],"next":"b","tokens":["b"],"count":0}]}`, nil},
		{"not json", `{`, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := models.Import(ctx, strings.NewReader(tc.payload))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// failed imports leave nothing behind
	if _, err := models.Get(ctx, "n"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("a failed import created model n: %v", err)
	}
}
