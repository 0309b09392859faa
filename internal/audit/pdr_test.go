package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/fentz26/pgxdash/internal/store"
)

func TestRecordHashesInputs(t *testing.T) {
	s, err := store.New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	w := NewPDRWriter(s)
	inputs := map[string]interface{}{"genes": []string{"CYP2D6"}, "patient_id": "P-1"}
	entry, err := w.Record("run.start", inputs, "accepted", "run-1", "1 gene")
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if entry.InputsHash != HashInputs(inputs) || len(entry.InputsHash) != 64 {
		t.Errorf("Unexpected hash %q", entry.InputsHash)
	}

	entries, err := s.ListPDR(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListPDR failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != "accepted" {
		t.Errorf("Unexpected entries %+v", entries)
	}
}

func TestHashInputs(t *testing.T) {
	a := HashInputs(map[string]int{"a": 1, "b": 2})
	b := HashInputs(map[string]int{"b": 2, "a": 1})
	if a != b {
		t.Error("Hash should not depend on map order")
	}
	if HashInputs(map[string]int{"a": 2}) == a {
		t.Error("Different inputs should hash differently")
	}
	if HashInputs(make(chan int)) != "hash_error" {
		t.Error("Unencodable inputs should report hash_error")
	}
}
