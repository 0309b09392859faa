// Package audit provides PDR (Process Decision Record) writing for run
// orchestration decisions.
package audit

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/models"
)

// PDRStore persists decision records. *store.Store implements it.
type PDRStore interface {
	WritePDR(action, inputsHash, outcome, runID, details string) (*models.PDREntry, error)
}

// PDRWriter writes Process Decision Records for audit trails.
type PDRWriter struct {
	store PDRStore
}

// NewPDRWriter creates a new PDR writer.
func NewPDRWriter(s PDRStore) *PDRWriter {
	return &PDRWriter{store: s}
}

// Record writes a PDR entry for a run decision. Inputs are stored only as a
// hash so patient details never reach the audit table.
func (w *PDRWriter) Record(action string, inputs interface{}, outcome, runID, details string) (*models.PDREntry, error) {
	return w.store.WritePDR(action, HashInputs(inputs), outcome, runID, details)
}

// HashInputs returns the SHA-256 of the JSON encoding of inputs.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
