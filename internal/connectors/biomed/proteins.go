package biomed

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
	"github.com/fentz26/pgxdash/internal/models"
)

// Proteins fetches protein variation features from the EBI Proteins API.
type Proteins struct {
	conn connectors.Connector
}

// NewProteins wraps conn.
func NewProteins(conn connectors.Connector) *Proteins {
	return &Proteins{conn: conn}
}

// Xref is a cross-reference to another database.
type Xref struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	URL  string `json:"url"`
}

// ClinicalSignificance is one significance assertion on a feature.
type ClinicalSignificance struct {
	Type    string   `json:"type"`
	Sources []string `json:"sources"`
}

// PopulationFrequency is an allele frequency observation.
type PopulationFrequency struct {
	PopulationName string   `json:"populationName"`
	Frequency      *float64 `json:"frequency"`
	Source         string   `json:"source"`
}

// Evidence is a supporting citation.
type Evidence struct {
	Code   string `json:"code"`
	Source Xref   `json:"source"`
}

// VariantFeature is one entry in the variation response.
type VariantFeature struct {
	FtID                  string                 `json:"ftId"`
	Type                  string                 `json:"type"`
	Begin                 string                 `json:"begin"`
	End                   string                 `json:"end"`
	WildType              string                 `json:"wildType"`
	AlternativeSequence   string                 `json:"alternativeSequence"`
	ConsequenceType       string                 `json:"consequenceType"`
	Xrefs                 []Xref                 `json:"xrefs"`
	ClinicalSignificances []ClinicalSignificance `json:"clinicalSignificances"`
	PopulationFrequencies []PopulationFrequency  `json:"populationFrequencies"`
	Evidences             []Evidence             `json:"evidences"`
}

type variationResponse struct {
	Accession string           `json:"accession"`
	Features  []VariantFeature `json:"features"`
}

// Variants returns every variation feature for accession.
func (p *Proteins) Variants(ctx context.Context, accession string) ([]VariantFeature, error) {
	resp, err := p.conn.Fetch(ctx, "variation/"+url.PathEscape(accession), url.Values{"format": {"json"}})
	if err != nil {
		return nil, err
	}
	var out variationResponse
	if err := httpapi.DecodeJSON(p.conn.Name(), resp.Body, &out); err != nil {
		return nil, err
	}
	return out.Features, nil
}

// RSID returns the dbSNP identifier, if any.
func (f VariantFeature) RSID() string {
	for _, x := range f.Xrefs {
		if x.Name == "dbSNP" && strings.HasPrefix(x.ID, "rs") {
			return x.ID
		}
	}
	return ""
}

// Significances returns the distinct significance types.
func (f VariantFeature) Significances() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range f.ClinicalSignificances {
		if s.Type != "" && !seen[s.Type] {
			seen[s.Type] = true
			out = append(out, s.Type)
		}
	}
	return out
}

// PubMedIDs returns the PubMed ids cited as evidence.
func (f VariantFeature) PubMedIDs() []string {
	var out []string
	for _, e := range f.Evidences {
		if strings.EqualFold(e.Source.Name, "pubmed") && e.Source.ID != "" {
			out = append(out, e.Source.ID)
		}
	}
	return out
}

// Score ranks features: population frequency data and literature evidence first.
func (f VariantFeature) Score() int {
	score := 0
	sources := make(map[string]bool)
	for _, p := range f.PopulationFrequencies {
		if p.Frequency != nil {
			sources[p.Source] = true
		}
	}
	if len(f.PopulationFrequencies) > 0 {
		score += 100
		if len(sources) > 1 {
			score += 20
		}
	}
	if len(f.Evidences) > 0 {
		score += 50
		if len(f.PubMedIDs()) > 0 {
			score += 30
		}
	}
	return score
}

// ID returns a stable identifier for the feature.
func (f VariantFeature) ID() string {
	if f.FtID != "" {
		return f.FtID
	}
	if rs := f.RSID(); rs != "" {
		return rs
	}
	return fmt.Sprintf("%s%s%s", f.WildType, f.Begin, f.AlternativeSequence)
}

// ToVariant converts the feature to the domain type.
func (f VariantFeature) ToVariant() models.Variant {
	pos := f.Begin
	if f.End != "" && f.End != f.Begin {
		pos = f.Begin + "-" + f.End
	}
	return models.Variant{
		ID:            f.ID(),
		RSID:          f.RSID(),
		Position:      pos,
		WildType:      f.WildType,
		Alternative:   f.AlternativeSequence,
		Consequence:   f.ConsequenceType,
		Significances: f.Significances(),
	}
}

// SelectClinical keeps features with a clinical significance, ordered by Score
// (stable), and truncated to limit when limit > 0.
func SelectClinical(features []VariantFeature, limit int) []VariantFeature {
	var out []VariantFeature
	for _, f := range features {
		if len(f.ClinicalSignificances) > 0 {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score() > out[j].Score()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
