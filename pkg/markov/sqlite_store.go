package markov

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the necessary tables in the provided database.
// This function should be called once on a new database before any other
// operations are performed. It is idempotent and safe to call on an
// already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaModels = `
CREATE TABLE IF NOT EXISTS markov_models (
    model_id INTEGER PRIMARY KEY,
    model_name TEXT NOT NULL UNIQUE,
    model_order INTEGER NOT NULL
);
`
		schemaTransitions = `
CREATE TABLE IF NOT EXISTS markov_transitions (
    transition_id INTEGER PRIMARY KEY,
    model_id INTEGER NOT NULL,
    state_key TEXT NOT NULL,
    next_symbol TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    UNIQUE (model_id, state_key, next_symbol)
);
`
		// seq keeps first-seen order so the first token of a transition is stable.
		schemaTokens = `
CREATE TABLE IF NOT EXISTS markov_transition_tokens (
    seq INTEGER PRIMARY KEY,
    transition_id INTEGER NOT NULL,
    token TEXT NOT NULL,
    UNIQUE (transition_id, token)
);
`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	// If the transaction succeeds, tx.Commit() will be called first, and the rollback will do nothing. If it fails, this will clean up.
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaModels); err != nil {
		return fmt.Errorf("could not create models schema: %w", err)
	}

	if _, err = tx.Exec(schemaTransitions); err != nil {
		return fmt.Errorf("could not create transitions schema: %w", err)
	}

	if _, err = tx.Exec(schemaTokens); err != nil {
		return fmt.Errorf("could not create tokens schema: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

// SQLiteStore is a Store holding the transitions of one model in a SQLite
// database. Several models can share a database; each store only sees the
// model it was opened for.
type SQLiteStore struct {
	db                *sql.DB
	model             ModelInfo
	stmtUpsertLink    *sql.Stmt
	stmtInsertToken   *sql.Stmt
	stmtGetTokens     *sql.Stmt
	stmtGetStateLinks *sql.Stmt
	stmtGetStateToks  *sql.Stmt
	stmtCountLinks    *sql.Stmt
	stmtSumCounts     *sql.Stmt
	stmtCountStates   *sql.Stmt
	stmtCountStarters *sql.Stmt
	stmtCountTerminal *sql.Stmt
	logger            *slog.Logger
}

// NewSQLiteStore creates a store bound to model. It pre-compiles all
// necessary SQL statements, returning an error if any preparation fails.
func NewSQLiteStore(db *sql.DB, model ModelInfo) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:     db,
		model:  model,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtUpsertLink, `INSERT INTO markov_transitions (model_id, state_key, next_symbol, count) VALUES (?, ?, ?, 1)
			ON CONFLICT(model_id, state_key, next_symbol) DO UPDATE SET count = count + 1 RETURNING transition_id, count;`},
		{&s.stmtInsertToken, `INSERT OR IGNORE INTO markov_transition_tokens (transition_id, token) VALUES (?, ?);`},
		{&s.stmtGetTokens, `SELECT token FROM markov_transition_tokens WHERE transition_id = ? ORDER BY seq;`},
		{&s.stmtGetStateLinks, `SELECT transition_id, next_symbol, count FROM markov_transitions WHERE model_id = ? AND state_key = ? ORDER BY transition_id;`},
		{&s.stmtGetStateToks, `SELECT k.transition_id, k.token FROM markov_transition_tokens k
			JOIN markov_transitions t ON t.transition_id = k.transition_id
			WHERE t.model_id = ? AND t.state_key = ? ORDER BY k.seq;`},
		{&s.stmtCountLinks, `SELECT COUNT(*) FROM markov_transitions WHERE model_id = ?;`},
		{&s.stmtSumCounts, `SELECT coalesce(SUM(count), 0) FROM markov_transitions WHERE model_id = ?;`},
		{&s.stmtCountStates, `SELECT COUNT(DISTINCT state_key) FROM markov_transitions WHERE model_id = ?;`},
		{&s.stmtCountStarters, `SELECT COUNT(*) FROM markov_transitions WHERE model_id = ? AND state_key = ? AND next_symbol <> '';`},
		{&s.stmtCountTerminal, `SELECT COUNT(*) FROM markov_transitions WHERE model_id = ? AND next_symbol = '';`},
	}
	for _, st := range stmts {
		stmt, err := db.Prepare(st.query)
		if err != nil {
			s.Close()
			return nil, err
		}
		*st.dst = stmt
	}
	return s, nil
}

// Model returns the model the store is bound to.
func (s *SQLiteStore) Model() ModelInfo {
	return s.model
}

// SetLogger sets the logger for the store. By default, all logs are discarded.
func (s *SQLiteStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// EnsureIndexes creates the state and (state, next) lookup indexes.
func (s *SQLiteStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_markov_transitions_state ON markov_transitions (model_id, state_key);`); err != nil {
		return fmt.Errorf("could not create state index: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_markov_transitions_state_next ON markov_transitions (model_id, state_key, next_symbol);`); err != nil {
		return fmt.Errorf("could not create state/next index: %w", err)
	}
	return nil
}

// Link upserts the (state, next) transition. The count increment and the
// token insert run in one transaction that starts with a write, so
// concurrent builders serialize on the database lock instead of racing.
func (s *SQLiteStore) Link(ctx context.Context, state State, next Symbol, token string) (*Transition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin link", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var id int64
	var count int
	if err = tx.StmtContext(ctx, s.stmtUpsertLink).QueryRowContext(ctx, s.model.Id, state.Key(), string(next)).Scan(&id, &count); err != nil {
		return nil, storeErr(fmt.Sprintf("upsert link %s -> %q", state, next), err)
	}
	if token != "" {
		if _, err = tx.StmtContext(ctx, s.stmtInsertToken).ExecContext(ctx, id, token); err != nil {
			return nil, storeErr(fmt.Sprintf("insert token %q", token), err)
		}
	}

	rows, err := tx.StmtContext(ctx, s.stmtGetTokens).QueryContext(ctx, id)
	if err != nil {
		return nil, storeErr("read tokens", err)
	}
	t := &Transition{State: state.Clone(), Next: next, Count: count}
	for rows.Next() {
		var tok string
		if err = rows.Scan(&tok); err != nil {
			_ = rows.Close()
			return nil, err
		}
		t.Tokens.Add(tok)
	}
	_ = rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, storeErr("commit link", err)
	}
	return t, nil
}

// Transitions returns the transitions recorded for state.
func (s *SQLiteStore) Transitions(ctx context.Context, state State) ([]Transition, error) {
	key := state.Key()
	rows, err := s.stmtGetStateLinks.QueryContext(ctx, s.model.Id, key)
	if err != nil {
		return nil, storeErr("query transitions", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []Transition
	pos := make(map[int64]int)
	for rows.Next() {
		var id int64
		var next string
		var count int
		if err = rows.Scan(&id, &next, &count); err != nil {
			return nil, err
		}
		pos[id] = len(out)
		out = append(out, Transition{State: state.Clone(), Next: Symbol(next), Count: count})
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	tRows, err := s.stmtGetStateToks.QueryContext(ctx, s.model.Id, key)
	if err != nil {
		return nil, storeErr("query transition tokens", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(tRows)
	for tRows.Next() {
		var id int64
		var tok string
		if err = tRows.Scan(&id, &tok); err != nil {
			return nil, err
		}
		if i, ok := pos[id]; ok {
			out[i].Tokens.Add(tok)
		}
	}
	if err = tRows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases all prepared SQL statements held by the store. The
// database handle itself belongs to the caller.
func (s *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtUpsertLink,
		s.stmtInsertToken,
		s.stmtGetTokens,
		s.stmtGetStateLinks,
		s.stmtGetStateToks,
		s.stmtCountLinks,
		s.stmtSumCounts,
		s.stmtCountStates,
		s.stmtCountStarters,
		s.stmtCountTerminal,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return nil
}
