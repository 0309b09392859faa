// Package analyzer runs the single-gene pharmacogenomic pipeline: variant
// discovery, clinical annotation, drug and literature enrichment, and
// assembly of the final GeneResult.
package analyzer

import (
	"context"

	"github.com/fentz26/pgxdash/internal/models"
)

// Reporter receives progress from inside an analysis. Implementations must be
// safe to call from the goroutine running the analysis.
type Reporter interface {
	Stage(stage models.Stage, message string, progress float64)
	Warn(stage models.Stage, message string)
}

// Analyzer analyzes one gene for one patient.
type Analyzer interface {
	Analyze(ctx context.Context, gene string, patient *models.PatientContext, rep Reporter) (*models.GeneResult, error)
}

// Func adapts a plain function to Analyzer.
type Func func(ctx context.Context, gene string, patient *models.PatientContext, rep Reporter) (*models.GeneResult, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, gene string, patient *models.PatientContext, rep Reporter) (*models.GeneResult, error) {
	return f(ctx, gene, patient, rep)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) Stage(models.Stage, string, float64) {}
func (NopReporter) Warn(models.Stage, string)           {}
