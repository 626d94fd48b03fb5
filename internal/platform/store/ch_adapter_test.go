package store

import (
	"context"
	"testing"

	"takt/internal/platform/store/ch"
)

// TestCHAdapter_NotConnected ensures the adapter surfaces client errors as-is
func TestCHAdapter_NotConnected(t *testing.T) {
	t.Parallel()

	a := newCHAdapter(&ch.CH{})

	if err := a.Insert(context.Background(), "takt_samples", [][]any{{1}}); err == nil {
		t.Fatalf("Insert on zero client should error")
	}
	if _, err := a.Query(context.Background(), "SELECT 1"); err == nil {
		t.Fatalf("Query on zero client should error")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close on zero client should be nil, got %v", err)
	}
}

// TestCHAdapter_EmptyInsertIsNoop mirrors the client contract through the seam
func TestCHAdapter_EmptyInsertIsNoop(t *testing.T) {
	t.Parallel()

	a := newCHAdapter(&ch.CH{})
	if err := a.Insert(context.Background(), "takt_samples", nil); err != nil {
		t.Fatalf("empty insert should be a no-op, got %v", err)
	}
}

// TestCHAdapter_PingNilGuard covers the nil receiver path
func TestCHAdapter_PingNilGuard(t *testing.T) {
	t.Parallel()

	var a *clickhouseAdapter
	if err := a.Ping(context.Background()); err == nil {
		t.Fatalf("nil adapter Ping should error")
	}
}

type fakeCHRows struct {
	rows   [][]any
	i      int
	closed bool
}

func (f *fakeCHRows) Next() bool { f.i++; return f.i <= len(f.rows) }
func (f *fakeCHRows) Scan(dest ...any) error {
	row := f.rows[f.i-1]
	for n := range dest {
		if p, ok := dest[n].(*int64); ok {
			*p = row[n].(int64)
		}
	}
	return nil
}
func (f *fakeCHRows) Err() error        { return nil }
func (f *fakeCHRows) Close() error      { f.closed = true; return nil }
func (f *fakeCHRows) Columns() []string { return []string{"v"} }

// TestRowsAdapter_Delegates verifies iteration, scan, and close pass through
func TestRowsAdapter_Delegates(t *testing.T) {
	t.Parallel()

	f := &fakeCHRows{rows: [][]any{{int64(7)}, {int64(9)}}}
	r := &rowsAdapter{r: f}

	var got []int64
	for r.Next() {
		var v int64
		if err := r.Scan(&v); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Fatalf("scanned %v", got)
	}
	if cols := r.Columns(); len(cols) != 1 || cols[0] != "v" {
		t.Fatalf("Columns = %v", cols)
	}
	r.Close()
	if !f.closed {
		t.Fatalf("Close did not delegate")
	}
	if r.Err() != nil {
		t.Fatalf("Err should be nil")
	}
}
