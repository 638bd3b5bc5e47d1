package markov

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// Record is one entry of a corpus, keyed by field name.
type Record map[string]any

// LineErrorField is set on records a LineCorpus could not decode. It holds
// the decode error message.
const LineErrorField = "_line_error"

// Selector extracts the text to train on from a record. Returning ok=false
// skips the record. A non-nil error marks this record as failed; builders
// log it and carry on with the next one.
type Selector func(Record) (text string, ok bool, err error)

// FieldSelector returns a Selector reading a string field. Records without
// the field, or where it is null, are skipped; a field of another type is an
// error.
func FieldSelector(name string) Selector {
	return func(r Record) (string, bool, error) {
		if msg, bad := r[LineErrorField]; bad {
			return "", false, fmt.Errorf("undecodable record: %v", msg)
		}
		v, ok := r[name]
		if !ok || v == nil {
			return "", false, nil
		}
		switch s := v.(type) {
		case string:
			return s, true, nil
		case []byte:
			return string(s), true, nil
		default:
			return "", false, fmt.Errorf("field %q is %T, not a string", name, v)
		}
	}
}

// RecordIterator walks the records of a corpus.
type RecordIterator interface {
	// Next returns the next record, or io.EOF once the corpus is exhausted.
	Next() (Record, error)
	Close() error
}

// CorpusSource is a readable collection of text records.
type CorpusSource interface {
	// Count returns the number of records Records will yield.
	Count(ctx context.Context) (int, error)
	// Records starts an enumeration of the corpus.
	Records(ctx context.Context) (RecordIterator, error)
}

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLCorpus reads records from a table of any database/sql database, such
// as a SQLite `messages` table.
type SQLCorpus struct {
	db      *sql.DB
	table   string
	columns []string
}

// NewSQLCorpus returns a corpus over the given table and columns. Table and
// column names must be plain identifiers.
func NewSQLCorpus(db *sql.DB, table string, columns ...string) (*SQLCorpus, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: sql corpus needs at least one column", ErrInvalidConfiguration)
	}
	for _, name := range append([]string{table}, columns...) {
		if !identRegex.MatchString(name) {
			return nil, fmt.Errorf("%w: %q is not a valid identifier", ErrInvalidConfiguration, name)
		}
	}
	return &SQLCorpus{db: db, table: table, columns: columns}, nil
}

// Count returns the number of rows in the table.
func (c *SQLCorpus) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", c.table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Records iterates the rows in rowid order.
func (c *SQLCorpus) Records(ctx context.Context) (RecordIterator, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid", strings.Join(c.columns, ", "), c.table)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &sqlRecords{rows: rows, columns: c.columns}, nil
}

type sqlRecords struct {
	rows    *sql.Rows
	columns []string
}

func (it *sqlRecords) Next() (Record, error) {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	vals := make([]any, len(it.columns))
	ptrs := make([]any, len(it.columns))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(Record, len(it.columns))
	for i, col := range it.columns {
		rec[col] = vals[i]
	}
	return rec, nil
}

func (it *sqlRecords) Close() error {
	return it.rows.Close()
}

// LineFormat says how a LineCorpus interprets each line.
type LineFormat int

const (
	// PlainLines turns each line into Record{"text": line}.
	PlainLines LineFormat = iota
	// JSONLines decodes each line as a JSON object.
	JSONLines
)

// LineCorpus is a newline-delimited corpus read from an io.Reader. Blank
// lines are ignored. The reader is consumed on first use and the records
// are kept in memory.
type LineCorpus struct {
	r       io.Reader
	format  LineFormat
	loaded  bool
	records []Record
}

// NewLineCorpus returns a corpus reading lines from r.
func NewLineCorpus(r io.Reader, format LineFormat) *LineCorpus {
	return &LineCorpus{r: r, format: format}
}

func (c *LineCorpus) load() error {
	if c.loaded {
		return nil
	}
	scanner := bufio.NewScanner(c.r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		switch c.format {
		case JSONLines:
			var rec Record
			if err := json.Unmarshal([]byte(text), &rec); err != nil {
				// keep the line so the selector reports it and the run continues
				rec = Record{LineErrorField: fmt.Sprintf("line %d: %v", line, err)}
			}
			c.records = append(c.records, rec)
		default:
			c.records = append(c.records, Record{"text": text})
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	c.loaded = true
	return nil
}

// Count reads the corpus if needed and returns its number of records.
func (c *LineCorpus) Count(ctx context.Context) (int, error) {
	if err := c.load(); err != nil {
		return 0, err
	}
	return len(c.records), nil
}

// Records reads the corpus if needed and iterates its records.
func (c *LineCorpus) Records(ctx context.Context) (RecordIterator, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	return &sliceRecords{records: c.records}, nil
}

type sliceRecords struct {
	records []Record
	pos     int
}

func (it *sliceRecords) Next() (Record, error) {
	if it.pos >= len(it.records) {
		return nil, io.EOF
	}
	rec := it.records[it.pos]
	it.pos++
	return rec, nil
}

func (it *sliceRecords) Close() error {
	return nil
}
