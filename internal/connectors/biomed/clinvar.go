package biomed

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
	"github.com/fentz26/pgxdash/internal/models"
)

// ClinVar looks up variant classifications through NCBI E-utilities.
type ClinVar struct {
	conn connectors.Connector
}

// NewClinVar wraps conn. The connector is expected to add retmode=json.
func NewClinVar(conn connectors.Connector) *ClinVar {
	return &ClinVar{conn: conn}
}

// ClinVarRecord is the summary of one ClinVar variation record.
type ClinVarRecord struct {
	ID            string
	Significance  string
	ReviewStatus  string
	LastEvaluated string
	Stars         int
	Conditions    []string
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type classification struct {
	Description   string `json:"description"`
	ReviewStatus  string `json:"review_status"`
	LastEvaluated string `json:"last_evaluated"`
	TraitSet      []struct {
		TraitName string `json:"trait_name"`
	} `json:"trait_set"`
}

type esummaryRecord struct {
	UID                    string         `json:"uid"`
	ClinicalSignificance   classification `json:"clinical_significance"`
	GermlineClassification classification `json:"germline_classification"`
	TraitSet               []struct {
		TraitName string `json:"trait_name"`
	} `json:"trait_set"`
}

// Lookup returns the first ClinVar record matching rsid.
func (c *ClinVar) Lookup(ctx context.Context, rsid string) (*ClinVarRecord, error) {
	resp, err := c.conn.Fetch(ctx, "esearch.fcgi", url.Values{"db": {"clinvar"}, "term": {rsid}})
	if err != nil {
		return nil, err
	}
	var search esearchResponse
	if err := httpapi.DecodeJSON(c.conn.Name(), resp.Body, &search); err != nil {
		return nil, err
	}
	if len(search.Result.IDList) == 0 {
		return nil, models.Errorf(models.ErrorKindNotFound, "clinvar: no record for %s", rsid)
	}
	id := search.Result.IDList[0]

	resp, err = c.conn.Fetch(ctx, "esummary.fcgi", url.Values{"db": {"clinvar"}, "id": {id}})
	if err != nil {
		return nil, err
	}
	// "result" mixes a "uids" array with one object per id.
	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := httpapi.DecodeJSON(c.conn.Name(), resp.Body, &summary); err != nil {
		return nil, err
	}
	raw, ok := summary.Result[id]
	if !ok {
		return nil, models.Errorf(models.ErrorKindNotFound, "clinvar: summary missing for %s", id)
	}
	var rec esummaryRecord
	if err := httpapi.DecodeJSON(c.conn.Name(), raw, &rec); err != nil {
		return nil, err
	}

	cls := rec.GermlineClassification
	if cls.Description == "" {
		cls = rec.ClinicalSignificance
	}
	conditions := make(map[string]bool)
	for _, t := range rec.TraitSet {
		conditions[t.TraitName] = true
	}
	for _, t := range cls.TraitSet {
		conditions[t.TraitName] = true
	}
	delete(conditions, "")

	out := &ClinVarRecord{
		ID:            id,
		Significance:  cls.Description,
		ReviewStatus:  cls.ReviewStatus,
		LastEvaluated: cls.LastEvaluated,
		Stars:         StarRating(cls.ReviewStatus),
	}
	for name := range conditions {
		out.Conditions = append(out.Conditions, name)
	}
	sort.Strings(out.Conditions)
	return out, nil
}

// StarRating maps a ClinVar review status to its 0-4 star rating.
func StarRating(reviewStatus string) int {
	s := strings.ToLower(reviewStatus)
	switch {
	case s == "", strings.Contains(s, "no assertion"), strings.Contains(s, "no classification"):
		return 0
	case strings.Contains(s, "practice guideline"):
		return 4
	case strings.Contains(s, "expert panel"):
		return 3
	case strings.Contains(s, "multiple submitters") && strings.Contains(s, "no conflict"):
		return 2
	case strings.Contains(s, "criteria provided"):
		return 1
	default:
		return 0
	}
}
