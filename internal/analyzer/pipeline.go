package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fentz26/pgxdash/internal/config"
	"github.com/fentz26/pgxdash/internal/connectors/biomed"
	"github.com/fentz26/pgxdash/internal/logging"
	"github.com/fentz26/pgxdash/internal/models"
)

// AccessionResolver maps a gene symbol to a protein accession.
type AccessionResolver interface {
	Accession(ctx context.Context, gene string) (string, error)
}

// VariantSource lists variation features for a protein.
type VariantSource interface {
	Variants(ctx context.Context, accession string) ([]biomed.VariantFeature, error)
}

// ClinVarSource classifies a variant by rsid.
type ClinVarSource interface {
	Lookup(ctx context.Context, rsid string) (*biomed.ClinVarRecord, error)
}

// AnnotationSource lists gene-drug clinical annotations.
type AnnotationSource interface {
	ClinicalAnnotations(ctx context.Context, gene string) ([]models.ClinicalAnnotation, error)
}

// LiteratureSource searches publications about a gene.
type LiteratureSource interface {
	Search(ctx context.Context, gene string, limit int) ([]models.Publication, error)
}

// Sources are the upstream lookups a Pipeline depends on.
type Sources struct {
	Accessions  AccessionResolver
	Variants    VariantSource
	ClinVar     ClinVarSource
	Annotations AnnotationSource
	Literature  LiteratureSource
}

// SourcesFrom adapts the shared API clients.
func SourcesFrom(c *biomed.Clients) Sources {
	return Sources{
		Accessions:  c.UniProt,
		Variants:    c.Proteins,
		ClinVar:     c.ClinVar,
		Annotations: c.PharmGKB,
		Literature:  c.EuropePMC,
	}
}

// Pipeline is the production Analyzer.
type Pipeline struct {
	src    Sources
	limits config.AnalysisConfig
	now    func() time.Time
	log    zerolog.Logger
}

var _ Analyzer = (*Pipeline)(nil)

// NewPipeline creates a pipeline over src.
func NewPipeline(src Sources, limits config.AnalysisConfig) *Pipeline {
	return &Pipeline{
		src:    src,
		limits: limits,
		now:    time.Now,
		log:    logging.WithComponent("analyzer"),
	}
}

// Analyze runs discovery, annotation, enrichment, and assembly for gene.
// Only discovery failures and cancellation fail the gene; later lookups
// degrade into warnings on the result.
func (p *Pipeline) Analyze(ctx context.Context, gene string, patient *models.PatientContext, rep Reporter) (*models.GeneResult, error) {
	if rep == nil {
		rep = NopReporter{}
	}
	start := p.now()
	log := p.log.With().Str("gene", gene).Logger()
	res := &models.GeneResult{Gene: gene}

	warn := func(stage models.Stage, format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		rep.Warn(stage, msg)
		log.Warn().Str("stage", string(stage)).Msg(msg)
	}

	// Discovery
	rep.Stage(models.StageDiscovery, "Resolving protein accession", 0.1)
	acc, err := p.src.Accessions.Accession(ctx, gene)
	if err != nil {
		return nil, fmt.Errorf("resolve accession for %s: %w", gene, err)
	}
	res.ProteinAccession = acc

	rep.Stage(models.StageDiscovery, fmt.Sprintf("Fetching variants for %s", acc), 0.2)
	features, err := p.src.Variants.Variants(ctx, acc)
	if err != nil {
		return nil, fmt.Errorf("fetch variants for %s: %w", acc, err)
	}
	selected := biomed.SelectClinical(features, p.limits.MaxVariantsPerGene)
	res.Variants = make([]models.Variant, 0, len(selected))
	for _, f := range selected {
		res.Variants = append(res.Variants, f.ToVariant())
	}
	rep.Stage(models.StageDiscovery,
		fmt.Sprintf("Found %d clinically significant variants (%d total)", len(selected), len(features)), 0.3)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Annotation
	if err := p.annotateClinVar(ctx, res, rep, warn); err != nil {
		return nil, err
	}

	rep.Stage(models.StageAnnotation, "Fetching clinical annotations", 0.6)
	anns, err := p.src.Annotations.ClinicalAnnotations(ctx, gene)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		warn(models.StageAnnotation, "Clinical annotations unavailable: %v", err)
		anns = nil
	}
	res.Annotations = anns
	rep.Stage(models.StageAnnotation, fmt.Sprintf("Found %d clinical annotations", len(anns)), 0.7)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Enrichment
	rep.Stage(models.StageEnrichment, "Linking drugs and conditions", 0.75)
	res.Drugs, res.Diseases = collectDrugsAndDiseases(res)
	if patient != nil {
		res.Interactions = MatchMedications(gene, patient.Medications, res.Annotations)
		if len(res.Interactions) > 0 {
			actionable := 0
			for _, in := range res.Interactions {
				if in.Alert == models.AlertActionable {
					actionable++
				}
			}
			warn(models.StageEnrichment, "%d patient medication(s) have %s annotations (%d actionable)", len(res.Interactions), gene, actionable)
		}
	}

	if p.limits.MaxPublications > 0 {
		rep.Stage(models.StageEnrichment, "Searching literature", 0.85)
		pubs, err := p.src.Literature.Search(ctx, gene, p.limits.MaxPublications)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			warn(models.StageEnrichment, "Literature search failed: %v", err)
			pubs = nil
		}
		res.Literature = pubs
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Assembly
	rep.Stage(models.StageAssembly, "Assembling gene result", 0.95)
	res.Duration = p.now().Sub(start)
	log.Debug().
		Int("variants", len(res.Variants)).
		Int("annotations", len(res.Annotations)).
		Int("warnings", len(res.Warnings)).
		Dur("duration", res.Duration).
		Msg("Gene analysis finished")
	return res, nil
}

func (p *Pipeline) annotateClinVar(ctx context.Context, res *models.GeneResult, rep Reporter, warn func(models.Stage, string, ...any)) error {
	var targets []int
	for i, v := range res.Variants {
		if v.RSID == "" {
			continue
		}
		if p.limits.MaxClinVarLookups > 0 && len(targets) >= p.limits.MaxClinVarLookups {
			break
		}
		targets = append(targets, i)
	}
	if len(targets) == 0 {
		return nil
	}

	rep.Stage(models.StageAnnotation, fmt.Sprintf("Checking %d variants in ClinVar", len(targets)), 0.4)
	failed := 0
	for n, i := range targets {
		v := &res.Variants[i]
		rec, err := p.src.ClinVar.Lookup(ctx, v.RSID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if models.KindOf(err) != models.ErrorKindNotFound {
				failed++
			}
			continue
		}
		v.ClinVarSignificance = rec.Significance
		v.ClinVarReviewStatus = rec.ReviewStatus
		v.ClinVarStars = rec.Stars
		v.ClinVarConditions = rec.Conditions
		rep.Stage(models.StageAnnotation, fmt.Sprintf("ClinVar %s: %s", v.RSID, rec.Significance),
			0.4+0.2*float64(n+1)/float64(len(targets)))
	}
	if failed > 0 {
		warn(models.StageAnnotation, "ClinVar lookup failed for %d of %d variants", failed, len(targets))
	}
	return nil
}

func collectDrugsAndDiseases(res *models.GeneResult) ([]string, []string) {
	drugs := make(map[string]bool)
	diseases := make(map[string]bool)
	for _, a := range res.Annotations {
		for _, d := range a.Drugs {
			drugs[d] = true
		}
		for _, d := range a.Diseases {
			diseases[d] = true
		}
	}
	for _, v := range res.Variants {
		for _, c := range v.ClinVarConditions {
			diseases[c] = true
		}
	}
	return sortedKeys(drugs), sortedKeys(diseases)
}

// MatchMedications links patient medications to drugs named in annotations.
// Names match case-insensitively, either exactly or when the drug name
// contains the medication name (e.g. "codeine" in "codeine phosphate").
// Each interaction is classified with ClassifyAlert.
func MatchMedications(gene string, meds []models.Medication, anns []models.ClinicalAnnotation) []models.MedicationInteraction {
	var out []models.MedicationInteraction
	seen := make(map[string]bool)
	for _, m := range meds {
		med := strings.ToLower(strings.TrimSpace(m.Name))
		if med == "" {
			continue
		}
		for _, a := range anns {
			for _, d := range a.Drugs {
				drug := strings.ToLower(d)
				if drug != med && !strings.Contains(drug, med) {
					continue
				}
				key := med + "|" + drug + "|" + a.ID
				if seen[key] {
					continue
				}
				seen[key] = true
				out = append(out, models.MedicationInteraction{
					Medication:      m.Name,
					Drug:            d,
					Gene:            gene,
					LevelOfEvidence: a.LevelOfEvidence,
					AnnotationID:    a.ID,
					Alert:           ClassifyAlert(d, gene, a.LevelOfEvidence, ""),
				})
			}
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
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
