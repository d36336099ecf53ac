package store

import (
	"errors"
	"testing"
)

func TestExpectOneRow(t *testing.T) {
	if err := expectOneRow("", 0); err != nil {
		t.Errorf("unchecked statement should pass, got %v", err)
	}
	if err := expectOneRow("upsert transaction tx-1", 1); err != nil {
		t.Errorf("one row should pass, got %v", err)
	}
	// An outcome update that matched no row of the fund must fail the commit.
	if err := expectOneRow("outcome for transaction tx-1", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
