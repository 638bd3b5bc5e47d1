package markov

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// ModelInfo holds the essential metadata for a Markov model, including its
// unique ID, name, and the order of the chain (the degree it was trained with).
type ModelInfo struct {
	Id    int    `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// ExportedModel is the serializable representation of a trained model,
// used for JSON-based import and export.
type ExportedModel struct {
	Name        string       `json:"name"`
	Order       int          `json:"order"`
	Transitions []Transition `json:"transitions"`
}

// Models manages the model registry of a SQLite database.
type Models struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewModels returns a registry over db. SetupSchema must have been run.
func NewModels(db *sql.DB) *Models {
	return &Models{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the registry. By default, all logs are discarded.
func (m *Models) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// List retrieves metadata for all models currently in the database,
// returning them in a map keyed by model name.
func (m *Models) List(ctx context.Context) (map[string]ModelInfo, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT model_id, model_name, model_order FROM markov_models;`)
	if err != nil {
		return nil, storeErr("list models", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	models := make(map[string]ModelInfo)
	for rows.Next() {
		var model ModelInfo
		if err = rows.Scan(&model.Id, &model.Name, &model.Order); err != nil {
			return nil, err
		}
		models[model.Name] = model
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// Get retrieves the metadata for a single model specified by name. It
// returns sql.ErrNoRows if the model does not exist.
func (m *Models) Get(ctx context.Context, name string) (ModelInfo, error) {
	model := ModelInfo{Name: name}
	err := m.db.QueryRowContext(ctx, `SELECT model_id, model_order FROM markov_models WHERE model_name = ?;`, name).Scan(&model.Id, &model.Order)
	if err != nil {
		return ModelInfo{}, err
	}
	return model, nil
}

// Insert creates a new model entry in the database and returns it with its ID.
func (m *Models) Insert(ctx context.Context, model ModelInfo) (ModelInfo, error) {
	if model.Name == "" || model.Order < 1 {
		return ModelInfo{}, fmt.Errorf("%w: model needs a name and an order >= 1", ErrInvalidConfiguration)
	}
	res, err := m.db.ExecContext(ctx, `INSERT INTO markov_models (model_name, model_order) VALUES (?, ?);`, model.Name, model.Order)
	if err != nil {
		return ModelInfo{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ModelInfo{}, err
	}
	model.Id = int(id)
	return model, nil
}

// Ensure returns the named model, creating it with the given order if it
// does not exist yet. An existing model keeps its recorded order.
func (m *Models) Ensure(ctx context.Context, name string, order int) (ModelInfo, error) {
	model, err := m.Get(ctx, name)
	if err == nil {
		if model.Order != order {
			m.logger.WarnContext(ctx, "Model exists with a different order",
				slog.String("model_name", name),
				slog.Int("recorded_order", model.Order),
				slog.Int("requested_order", order),
			)
		}
		return model, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return ModelInfo{}, storeErr("get model", err)
	}
	model, err = m.Insert(ctx, ModelInfo{Name: name, Order: order})
	if err != nil {
		return ModelInfo{}, err
	}
	m.logger.InfoContext(ctx, "Model created",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("order", model.Order),
	)
	return model, nil
}

// Remove deletes a model and all of its transitions from the database. The
// operation is performed within a transaction.
func (m *Models) Remove(ctx context.Context, model ModelInfo) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.ExecContext(ctx, `DELETE FROM markov_transition_tokens WHERE transition_id IN (SELECT transition_id FROM markov_transitions WHERE model_id = ?)`, model.Id); err != nil {
		return fmt.Errorf("failed to remove tokens for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_transitions WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove transitions for model %d: %w", model.Id, err)
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM markov_models WHERE model_id = ?", model.Id); err != nil {
		return fmt.Errorf("failed to remove model %d: %w", model.Id, err)
	}

	m.logger.InfoContext(ctx, "Model removed successfully",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
	)

	return tx.Commit()
}

// Import reads a JSON representation of a model from an io.Reader and
// merges its data into the database. If the model name already exists, the
// counts are added to the existing transitions and the token sets are
// merged. If the model does not exist, it is created. The entire operation
// is transactional.
func (m *Models) Import(ctx context.Context, r io.Reader) (ModelInfo, error) {
	var imported ExportedModel
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return ModelInfo{}, fmt.Errorf("failed to decode json model: %w", err)
	}
	if imported.Name == "" || imported.Order < 1 {
		return ModelInfo{}, fmt.Errorf("%w: imported model needs a name and an order >= 1", ErrInvalidConfiguration)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	model := ModelInfo{Name: imported.Name, Order: imported.Order}
	err = tx.QueryRowContext(ctx, "SELECT model_id, model_order FROM markov_models WHERE model_name = ?", imported.Name).Scan(&model.Id, &model.Order)
	if errors.Is(err, sql.ErrNoRows) {
		res, err := tx.ExecContext(ctx, "INSERT INTO markov_models (model_name, model_order) VALUES (?, ?)", imported.Name, imported.Order)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("failed to insert new model '%s': %w", imported.Name, err)
		}
		newID, _ := res.LastInsertId()
		model.Id = int(newID)
	} else if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to query for model '%s': %w", imported.Name, err)
	}
	if model.Order != imported.Order {
		return ModelInfo{}, fmt.Errorf("%w: model '%s' has order %d, import has order %d", ErrDegreeMismatch, model.Name, model.Order, imported.Order)
	}

	// Add the imported count instead of bumping by one
	stmtMergeLink, err := tx.PrepareContext(ctx, `
		INSERT INTO markov_transitions (model_id, state_key, next_symbol, count) VALUES (?, ?, ?, ?)
		ON CONFLICT(model_id, state_key, next_symbol) DO UPDATE SET count = count + excluded.count RETURNING transition_id;
	`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare transition merge statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtMergeLink)

	stmtInsertToken, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO markov_transition_tokens (transition_id, token) VALUES (?, ?);`)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to prepare token insert statement: %w", err)
	}
	defer func(stmt *sql.Stmt) {
		_ = stmt.Close()
	}(stmtInsertToken)

	for _, t := range imported.Transitions {
		if len(t.State) != imported.Order {
			return ModelInfo{}, fmt.Errorf("import consistency error: state %s has length %d, model order is %d", t.State, len(t.State), imported.Order)
		}
		if t.Count < 1 {
			return ModelInfo{}, fmt.Errorf("import consistency error: transition %s -> %q has count %d", t.State, t.Next, t.Count)
		}
		var id int64
		if err = stmtMergeLink.QueryRowContext(ctx, model.Id, t.State.Key(), string(t.Next), t.Count).Scan(&id); err != nil {
			return ModelInfo{}, fmt.Errorf("failed to merge transition %s -> %q: %w", t.State, t.Next, err)
		}
		for _, tok := range t.Tokens.Slice() {
			if _, err = stmtInsertToken.ExecContext(ctx, id, tok); err != nil {
				return ModelInfo{}, fmt.Errorf("failed to merge token %q: %w", tok, err)
			}
		}
	}

	m.logger.InfoContext(ctx, "Model imported successfully",
		slog.String("model_name", model.Name),
		slog.Int("target_model_id", model.Id),
		slog.Int("transitions_merged", len(imported.Transitions)),
	)

	return model, tx.Commit()
}

// Export serializes the store's model into a JSON format and writes it to
// the provided io.Writer. This is useful for backups or for transferring
// models between databases.
func (s *SQLiteStore) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `SELECT transition_id, state_key, next_symbol, count FROM markov_transitions WHERE model_id = ? ORDER BY transition_id`, s.model.Id)
	if err != nil {
		return fmt.Errorf("could not query transitions for export: %w", err)
	}

	transitions := make([]Transition, 0)
	pos := make(map[int64]int)
	for rows.Next() {
		var id int64
		var key, next string
		var count int
		if err = rows.Scan(&id, &key, &next, &count); err != nil {
			_ = rows.Close()
			return err
		}
		state, err := ParseStateKey(key)
		if err != nil {
			_ = rows.Close()
			return fmt.Errorf("corrupt state key %q: %w", key, err)
		}
		pos[id] = len(transitions)
		transitions = append(transitions, Transition{State: state, Next: Symbol(next), Count: count})
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	// Grab every token of the model with one query
	tRows, err := s.db.QueryContext(ctx, `SELECT k.transition_id, k.token FROM markov_transition_tokens k
		JOIN markov_transitions t ON t.transition_id = k.transition_id
		WHERE t.model_id = ? ORDER BY k.seq`, s.model.Id)
	if err != nil {
		return fmt.Errorf("could not query tokens for export: %w", err)
	}
	for tRows.Next() {
		var id int64
		var tok string
		if err = tRows.Scan(&id, &tok); err != nil {
			_ = tRows.Close()
			return err
		}
		if i, ok := pos[id]; ok {
			transitions[i].Tokens.Add(tok)
		}
	}
	_ = tRows.Close()
	if err = tRows.Err(); err != nil {
		return err
	}

	exported := ExportedModel{
		Name:        s.model.Name,
		Order:       s.model.Order,
		Transitions: transitions,
	}

	s.logger.InfoContext(ctx, "Model exported",
		slog.String("model_name", s.model.Name),
		slog.Int("model_id", s.model.Id),
		slog.Int("transitions_exported", len(transitions)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}
