// Package report merges per-gene task outcomes into a MultiGeneReport and
// exports it.
package report

import (
	"sort"

	"github.com/fentz26/pgxdash/internal/models"
)

// Aggregate builds the report for a finished run. tasks must be in request
// order and every task must be terminal. Aggregate is pure: the same input
// always yields an equal report.
func Aggregate(runID string, tasks []*models.GeneTask) *models.MultiGeneReport {
	rep := &models.MultiGeneReport{
		RunID:          runID,
		GenesRequested: make([]string, 0, len(tasks)),
		Outcomes:       make([]models.GeneOutcome, 0, len(tasks)),
	}

	drugs := make(map[string]struct{})
	diseases := make(map[string]struct{})

	for _, t := range tasks {
		rep.GenesRequested = append(rep.GenesRequested, t.Gene)
		out := models.GeneOutcome{Gene: t.Gene, State: t.State}

		switch {
		case t.State == models.TaskStateSucceeded && t.Result != nil:
			out.Result = t.Result
			rep.Summary.Succeeded++
			rep.Summary.Variants += len(t.Result.Variants)
			rep.Summary.Interactions += len(t.Result.Interactions)
			for _, in := range t.Result.Interactions {
				switch in.Alert {
				case models.AlertActionable:
					rep.Summary.ActionableAlerts++
				case models.AlertInformative:
					rep.Summary.InformativeAlerts++
				}
			}
			rep.Summary.Publications += len(t.Result.Literature)
			for _, d := range t.Result.Drugs {
				drugs[d] = struct{}{}
			}
			for _, d := range t.Result.Diseases {
				diseases[d] = struct{}{}
			}
		default:
			out.State = models.TaskStateFailed
			out.Failure = t.Failure
			if out.Failure == nil {
				out.Failure = &models.FailureRecord{
					Gene:   t.Gene,
					Kind:   models.ErrorKindInternal,
					Detail: "task finished in state " + string(t.State) + " without an outcome",
				}
			}
			rep.Summary.Failed++
		}
		rep.Outcomes = append(rep.Outcomes, out)
	}

	rep.Summary.Drugs = sortedKeys(drugs)
	rep.Summary.Diseases = sortedKeys(diseases)
	rep.OverallStatus = overallStatus(rep.Summary.Succeeded, rep.Summary.Failed)
	return rep
}

func overallStatus(succeeded, failed int) models.OverallStatus {
	switch {
	case failed == 0:
		return models.OverallAllSucceeded
	case succeeded == 0:
		return models.OverallAllFailed
	default:
		return models.OverallPartialFailure
	}
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
