package memory

import (
	"context"
	"fmt"
	"sync"

	"folhaponto/internal/sheets"
)

// Store keeps appended rows in memory. It backs the worker when no
// spreadsheet is configured.
type Store struct {
	mu   sync.Mutex
	rows []sheets.SignedRow
}

func New() *Store { return &Store{} }

// AppendSigned stores the row and returns a synthetic row reference.
func (s *Store) AppendSigned(_ context.Context, row sheets.SignedRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of every appended row.
func (s *Store) Rows() []sheets.SignedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sheets.SignedRow(nil), s.rows...)
}
