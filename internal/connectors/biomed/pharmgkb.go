package biomed

import (
	"context"
	"net/url"
	"strconv"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
	"github.com/fentz26/pgxdash/internal/models"
)

// PharmGKB fetches clinical annotations from the PharmGKB REST API.
type PharmGKB struct {
	conn connectors.Connector
}

// NewPharmGKB wraps conn.
func NewPharmGKB(conn connectors.Connector) *PharmGKB {
	return &PharmGKB{conn: conn}
}

type named struct {
	Name string `json:"name"`
}

type clinicalAnnotation struct {
	ID              any `json:"id"`
	LevelOfEvidence struct {
		Term string `json:"term"`
	} `json:"levelOfEvidence"`
	RelatedChemicals []named  `json:"relatedChemicals"`
	RelatedDiseases  []named  `json:"relatedDiseases"`
	Types            []string `json:"types"`
	Location         struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
}

// ClinicalAnnotations returns the clinical annotations for gene. A gene with
// no annotations yields an empty slice, not an error.
func (p *PharmGKB) ClinicalAnnotations(ctx context.Context, gene string) ([]models.ClinicalAnnotation, error) {
	resp, err := p.conn.Fetch(ctx, "clinicalAnnotation", url.Values{
		"location.genes.symbol": {gene},
		"view":                  {"base"},
	})
	if err != nil {
		if models.KindOf(err) == models.ErrorKindNotFound {
			return nil, nil
		}
		return nil, err
	}

	var payload struct {
		Data []clinicalAnnotation `json:"data"`
	}
	if err := httpapi.DecodeJSON(p.conn.Name(), resp.Body, &payload); err != nil {
		return nil, err
	}

	out := make([]models.ClinicalAnnotation, 0, len(payload.Data))
	for _, a := range payload.Data {
		ann := models.ClinicalAnnotation{
			ID:              idString(a.ID),
			LevelOfEvidence: a.LevelOfEvidence.Term,
			Types:           a.Types,
			Variant:         a.Location.DisplayName,
		}
		for _, c := range a.RelatedChemicals {
			if c.Name != "" {
				ann.Drugs = append(ann.Drugs, c.Name)
			}
		}
		for _, d := range a.RelatedDiseases {
			if d.Name != "" {
				ann.Diseases = append(ann.Diseases, d.Name)
			}
		}
		out = append(out, ann)
	}
	return out, nil
}

// idString renders the annotation id, which the API returns as a number or a string.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
