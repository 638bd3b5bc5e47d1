package markov

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFieldSelector(t *testing.T) {
	sel := FieldSelector("content")
	testCases := []struct {
		name    string
		rec     Record
		text    string
		ok      bool
		wantErr bool
	}{
		{"string", Record{"content": "hi"}, "hi", true, false},
		{"bytes", Record{"content": []byte("hi")}, "hi", true, false},
		{"missing", Record{"other": "x"}, "", false, false},
		{"null", Record{"content": nil}, "", false, false},
		{"wrong type", Record{"content": 12.5}, "", false, true},
		{"undecodable line", Record{LineErrorField: "line 3: bad"}, "", false, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			text, ok, err := sel(tc.rec)
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if text != tc.text || ok != tc.ok {
				t.Errorf("got (%q, %v), want (%q, %v)", text, ok, tc.text, tc.ok)
			}
		})
	}
}

func TestLineCorpus(t *testing.T) {
	c := NewLineCorpus(strings.NewReader("first\n\n  \nsecond\n"), PlainLines)
	ctx := context.Background()
	n, err := c.Count(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Count() = %d, %v; want 2", n, err)
	}

	it, err := c.Records(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var got []string
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rec["text"].(string))
	}
	if strings.Join(got, "|") != "first|second" {
		t.Errorf("records = %q", got)
	}
}

func TestNewSQLCorpusValidation(t *testing.T) {
	db := setupTestDB(t)
	if _, err := NewSQLCorpus(db, "messages; DROP TABLE x", "content"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration for a bad table name, got %v", err)
	}
	if _, err := NewSQLCorpus(db, "messages"); !errors.Is(err, ErrInvalidConfiguration) {
		t.Errorf("expected ErrInvalidConfiguration without columns, got %v", err)
	}
	c, err := NewSQLCorpus(db, "missing_table", "content")
	if err != nil {
		t.Fatal(err)
	}
	if _, err = c.Count(context.Background()); err == nil {
		t.Error("expected Count to fail on a missing table")
	}
}
