package biomed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/pgxdash/internal/config"
	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/models"
)

// fakeConn serves canned bodies keyed by endpoint.
type fakeConn struct {
	bodies map[string]string
	errs   map[string]error
	calls  []string
	params []url.Values
}

func (f *fakeConn) Name() string { return "fake" }

func (f *fakeConn) Fetch(ctx context.Context, endpoint string, params url.Values) (*connectors.Response, error) {
	f.calls = append(f.calls, endpoint)
	f.params = append(f.params, params)
	if err, ok := f.errs[endpoint]; ok {
		return nil, err
	}
	body, ok := f.bodies[endpoint]
	if !ok {
		return nil, models.Errorf(models.ErrorKindNotFound, "no body for %s", endpoint)
	}
	return &connectors.Response{Source: "fake", Body: []byte(body), Status: http.StatusOK}, nil
}

func TestUniProtAccession(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		want     string
		wantKind models.ErrorKind
	}{
		{
			name: "reviewed entry",
			body: "Entry\tReviewed\tEntry Name\tGene Names\tOrganism\nP10635\treviewed\tCP2D6_HUMAN\tCYP2D6 CYP2DL1\tHomo sapiens (Human)\n",
			want: "P10635",
		},
		{name: "header only", body: "Entry\tReviewed\tEntry Name\tGene Names\tOrganism\n", wantKind: models.ErrorKindNotFound},
		{name: "html error page", body: "<html>\n<body>oops</body>", wantKind: models.ErrorKindMalformed},
		{name: "short row", body: "Entry\tReviewed\nP10635\treviewed", wantKind: models.ErrorKindMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{bodies: map[string]string{"search": tt.body}}
			got, err := NewUniProt(conn).Accession(context.Background(), "CYP2D6")
			if tt.wantKind != "" {
				if models.KindOf(err) != tt.wantKind {
					t.Fatalf("Expected %s, got %v", tt.wantKind, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Accession failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Accession = %s, want %s", got, tt.want)
			}
			if q := conn.params[0].Get("query"); !strings.Contains(q, "gene_exact:CYP2D6") {
				t.Errorf("Unexpected query %q", q)
			}
		})
	}
}

const variationBody = `{
  "accession": "P10635",
  "features": [
    {"type": "VARIANT", "begin": "34", "end": "34", "wildType": "P", "alternativeSequence": "S",
     "xrefs": [{"name": "dbSNP", "id": "rs1065852"}],
     "clinicalSignificances": [{"type": "Drug response"}]},
    {"type": "VARIANT", "begin": "100", "end": "100", "wildType": "A", "alternativeSequence": "V"},
    {"type": "VARIANT", "ftId": "VAR_008336", "begin": "296", "end": "296", "wildType": "R", "alternativeSequence": "C",
     "clinicalSignificances": [{"type": "Pathogenic"}, {"type": "Pathogenic"}],
     "populationFrequencies": [{"populationName": "EUR", "frequency": 0.2, "source": "gnomAD"},
                               {"populationName": "AFR", "frequency": 0.1, "source": "1000Genomes"}],
     "evidences": [{"code": "ECO:0000269", "source": {"name": "pubmed", "id": "12345"}}]}
  ]
}`

func TestProteinsVariantsAndSelection(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{"variation/P10635": variationBody}}
	features, err := NewProteins(conn).Variants(context.Background(), "P10635")
	if err != nil {
		t.Fatalf("Variants failed: %v", err)
	}
	if len(features) != 3 {
		t.Fatalf("Expected 3 features, got %d", len(features))
	}

	selected := SelectClinical(features, 0)
	if len(selected) != 2 {
		t.Fatalf("Expected 2 clinical features, got %d", len(selected))
	}
	if selected[0].ID() != "VAR_008336" {
		t.Errorf("Highest scoring feature should come first, got %s", selected[0].ID())
	}
	if score := selected[0].Score(); score != 200 {
		t.Errorf("Score = %d, want 200", score)
	}

	v := selected[1].ToVariant()
	if v.RSID != "rs1065852" || v.ID != "rs1065852" || v.Position != "34" {
		t.Errorf("Unexpected variant %+v", v)
	}
	if sig := selected[0].Significances(); len(sig) != 1 || sig[0] != "Pathogenic" {
		t.Errorf("Significances should be distinct, got %v", sig)
	}

	if got := SelectClinical(features, 1); len(got) != 1 {
		t.Errorf("Expected limit to truncate, got %d", len(got))
	}
}

func TestProteinsMalformedBody(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{"variation/P1": `{"features": [`}}
	_, err := NewProteins(conn).Variants(context.Background(), "P1")
	if models.KindOf(err) != models.ErrorKindMalformed {
		t.Errorf("Expected malformed, got %v", err)
	}
}

func TestClinVarLookup(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{
		"esearch.fcgi": `{"esearchresult": {"count": "1", "idlist": ["16895"]}}`,
		"esummary.fcgi": `{"result": {"uids": ["16895"], "16895": {
			"uid": "16895",
			"germline_classification": {
				"description": "drug response",
				"review_status": "reviewed by expert panel",
				"last_evaluated": "2021/03/01",
				"trait_set": [{"trait_name": "Codeine response"}]
			},
			"trait_set": [{"trait_name": "Tamoxifen response"}, {"trait_name": "Codeine response"}]
		}}}`,
	}}

	rec, err := NewClinVar(conn).Lookup(context.Background(), "rs1065852")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.ID != "16895" || rec.Significance != "drug response" || rec.Stars != 3 {
		t.Errorf("Unexpected record %+v", rec)
	}
	if len(rec.Conditions) != 2 || rec.Conditions[0] != "Codeine response" {
		t.Errorf("Conditions = %v", rec.Conditions)
	}
	if conn.params[1].Get("id") != "16895" {
		t.Errorf("esummary should be called with the searched id")
	}
}

func TestClinVarFallsBackToClinicalSignificance(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{
		"esearch.fcgi":  `{"esearchresult": {"idlist": ["7"]}}`,
		"esummary.fcgi": `{"result": {"7": {"clinical_significance": {"description": "Pathogenic", "review_status": "criteria provided, single submitter"}}}}`,
	}}
	rec, err := NewClinVar(conn).Lookup(context.Background(), "rs7")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if rec.Significance != "Pathogenic" || rec.Stars != 1 {
		t.Errorf("Unexpected record %+v", rec)
	}
}

func TestClinVarNotFound(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{
		"esearch.fcgi": `{"esearchresult": {"idlist": []}}`,
	}}
	_, err := NewClinVar(conn).Lookup(context.Background(), "rs0")
	if models.KindOf(err) != models.ErrorKindNotFound {
		t.Errorf("Expected not found, got %v", err)
	}
	if len(conn.calls) != 1 {
		t.Errorf("esummary must be skipped, got calls %v", conn.calls)
	}
}

func TestStarRating(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{"practice guideline", 4},
		{"reviewed by expert panel", 3},
		{"criteria provided, multiple submitters, no conflicts", 2},
		{"criteria provided, conflicting classifications", 1},
		{"criteria provided, single submitter", 1},
		{"Criteria Provided, Single Submitter", 1},
		{"no assertion criteria provided", 0},
		{"no classification provided", 0},
		{"", 0},
		{"flagged submission", 0},
	}
	for _, tt := range tests {
		if got := StarRating(tt.status); got != tt.want {
			t.Errorf("StarRating(%q) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestPharmGKBClinicalAnnotations(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{
		"clinicalAnnotation": `{"data": [
			{"id": 1449309937, "levelOfEvidence": {"term": "1A"},
			 "relatedChemicals": [{"name": "codeine"}, {"name": ""}],
			 "relatedDiseases": [{"name": "Pain"}],
			 "types": ["Metabolism/PK"],
			 "location": {"displayName": "CYP2D6*4"}},
			{"id": "PA123", "levelOfEvidence": {"term": "3"}}
		]}`,
	}}

	anns, err := NewPharmGKB(conn).ClinicalAnnotations(context.Background(), "CYP2D6")
	if err != nil {
		t.Fatalf("ClinicalAnnotations failed: %v", err)
	}
	if len(anns) != 2 {
		t.Fatalf("Expected 2 annotations, got %d", len(anns))
	}
	a := anns[0]
	if a.ID != "1449309937" || a.LevelOfEvidence != "1A" || a.Variant != "CYP2D6*4" {
		t.Errorf("Unexpected annotation %+v", a)
	}
	if len(a.Drugs) != 1 || a.Drugs[0] != "codeine" {
		t.Errorf("Drugs = %v", a.Drugs)
	}
	if anns[1].ID != "PA123" {
		t.Errorf("String ids should pass through, got %s", anns[1].ID)
	}
	if conn.params[0].Get("location.genes.symbol") != "CYP2D6" {
		t.Errorf("Unexpected params %v", conn.params[0])
	}
}

func TestPharmGKBNotFoundIsEmpty(t *testing.T) {
	conn := &fakeConn{}
	anns, err := NewPharmGKB(conn).ClinicalAnnotations(context.Background(), "NOPE1")
	if err != nil || len(anns) != 0 {
		t.Errorf("Expected empty result, got %v, %v", anns, err)
	}
}

func TestPharmGKBPropagatesNetworkErrors(t *testing.T) {
	conn := &fakeConn{errs: map[string]error{
		"clinicalAnnotation": models.Errorf(models.ErrorKindNetwork, "down"),
	}}
	_, err := NewPharmGKB(conn).ClinicalAnnotations(context.Background(), "TPMT")
	if models.KindOf(err) != models.ErrorKindNetwork {
		t.Errorf("Expected network error, got %v", err)
	}
}

func TestEuropePMCSearch(t *testing.T) {
	conn := &fakeConn{bodies: map[string]string{
		"search": `{"resultList": {"result": [
			{"pmid": "1", "title": "CYP2D6 and codeine", "journalTitle": "Clin Pharmacol Ther", "pubYear": "2014", "citedByCount": 900},
			{"pmid": "2", "title": ""},
			{"pmid": "3", "title": "CPIC guideline", "pubYear": "2021", "citedByCount": 300}
		]}}`,
	}}

	pubs, err := NewEuropePMC(conn).Search(context.Background(), "CYP2D6", 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(pubs) != 2 || pubs[0].Citations != 900 || pubs[1].PMID != "3" {
		t.Errorf("Unexpected publications %+v", pubs)
	}
	p := conn.params[0]
	if p.Get("pageSize") != "5" || p.Get("sort") != "CITED desc" || !strings.HasPrefix(p.Get("query"), `"CYP2D6"`) {
		t.Errorf("Unexpected params %v", p)
	}

	if pubs, err := NewEuropePMC(conn).Search(context.Background(), "CYP2D6", 0); err != nil || pubs != nil {
		t.Errorf("Zero limit should skip the request, got %v, %v", pubs, err)
	}
}

func TestNewClientsAgainstServer(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	api := cfg.API
	api.Email = "lab@example.org"
	api.NCBIAPIKey = "secret"
	api.NCBI.BaseURL = srv.URL
	api.NCBI.RateLimit = 1000
	api.MaxRetries = 0

	clients := NewClients(api, cfg.Breaker, nil, time.Hour)
	_, err := clients.ClinVar.Lookup(context.Background(), "rs1")
	if models.KindOf(err) != models.ErrorKindNotFound {
		t.Fatalf("Expected not found, got %v", err)
	}
	for key, want := range map[string]string{"retmode": "json", "email": "lab@example.org", "api_key": "secret", "term": "rs1"} {
		if gotQuery.Get(key) != want {
			t.Errorf("Query %s = %q, want %q", key, gotQuery.Get(key), want)
		}
	}
}
