package models

import "time"

// OverallStatus summarizes the outcome of every gene in a run.
type OverallStatus string

const (
	OverallAllSucceeded   OverallStatus = "all_succeeded"
	OverallPartialFailure OverallStatus = "partial_failure"
	OverallAllFailed      OverallStatus = "all_failed"
)

// GeneOutcome is the per-gene entry of a report. Exactly one of Result and Failure is set.
type GeneOutcome struct {
	Gene    string         `json:"gene"`
	State   TaskState      `json:"state"`
	Result  *GeneResult    `json:"result,omitempty"`
	Failure *FailureRecord `json:"failure,omitempty"`
}

// Succeeded reports whether the gene produced a result.
func (o GeneOutcome) Succeeded() bool {
	return o.Result != nil
}

// ReportSummary holds cross-gene counts.
type ReportSummary struct {
	Succeeded         int      `json:"succeeded"`
	Failed            int      `json:"failed"`
	Variants          int      `json:"variants"`
	Drugs             []string `json:"drugs,omitempty"`
	Diseases          []string `json:"diseases,omitempty"`
	Interactions      int      `json:"interactions"`
	ActionableAlerts  int      `json:"actionable_alerts"`
	InformativeAlerts int      `json:"informative_alerts"`
	Publications      int      `json:"publications"`
}

// MultiGeneReport is the merged output of one run.
type MultiGeneReport struct {
	RunID          string        `json:"run_id"`
	PatientID      string        `json:"patient_id,omitempty"`
	GenesRequested []string      `json:"genes_requested"`
	Outcomes       []GeneOutcome `json:"outcomes"`
	OverallStatus  OverallStatus `json:"overall_status"`
	Cancelled      bool          `json:"cancelled"`
	Summary        ReportSummary `json:"summary"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// Outcome returns the entry for gene.
func (r *MultiGeneReport) Outcome(gene string) (GeneOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Gene == gene {
			return o, true
		}
	}
	return GeneOutcome{}, false
}

// Failures returns the failure records in request order.
func (r *MultiGeneReport) Failures() []FailureRecord {
	var out []FailureRecord
	for _, o := range r.Outcomes {
		if o.Failure != nil {
			out = append(out, *o.Failure)
		}
	}
	return out
}
