package report

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/models"
)

func succeeded(gene string, drugs ...string) *models.GeneTask {
	t := models.NewGeneTask(gene)
	now := time.Unix(1700000000, 0)
	_ = t.Transition(models.TaskStateRunning, now)
	_ = t.Succeed(&models.GeneResult{
		Gene:             gene,
		ProteinAccession: "P" + gene,
		Variants:         []models.Variant{{ID: gene + "-v1", RSID: "rs1"}, {ID: gene + "-v2"}},
		Drugs:            drugs,
		Diseases:         []string{"Pain"},
		Literature:       []models.Publication{{PMID: "123", Title: "PGx"}},
	}, now.Add(time.Second))
	return t
}

func failed(gene string, kind models.ErrorKind) *models.GeneTask {
	t := models.NewGeneTask(gene)
	now := time.Unix(1700000000, 0)
	_ = t.Transition(models.TaskStateRunning, now)
	_ = t.Fail(&models.FailureRecord{Gene: gene, Kind: kind, Detail: "boom", Retriable: kind.Retriable()}, now)
	return t
}

func TestAggregateOverallStatus(t *testing.T) {
	tests := []struct {
		name  string
		tasks []*models.GeneTask
		want  models.OverallStatus
	}{
		{"all succeeded", []*models.GeneTask{succeeded("CYP2D6"), succeeded("TPMT")}, models.OverallAllSucceeded},
		{"all failed", []*models.GeneTask{failed("CYP2D6", models.ErrorKindNetwork), failed("TPMT", models.ErrorKindNotFound)}, models.OverallAllFailed},
		{"mixed", []*models.GeneTask{succeeded("CYP2D6"), failed("TPMT", models.ErrorKindRateLimit)}, models.OverallPartialFailure},
		{"single success", []*models.GeneTask{succeeded("CYP2C19")}, models.OverallAllSucceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Aggregate("run-1", tt.tasks)
			if rep.OverallStatus != tt.want {
				t.Errorf("OverallStatus = %s, want %s", rep.OverallStatus, tt.want)
			}
			if len(rep.Outcomes) != len(tt.tasks) {
				t.Fatalf("Expected %d outcomes, got %d", len(tt.tasks), len(rep.Outcomes))
			}
			for i, o := range rep.Outcomes {
				if o.Gene != tt.tasks[i].Gene || rep.GenesRequested[i] != tt.tasks[i].Gene {
					t.Errorf("Outcome %d out of order: %s", i, o.Gene)
				}
				if (o.Result == nil) == (o.Failure == nil) {
					t.Errorf("Outcome %s must have exactly one of result/failure", o.Gene)
				}
			}
		})
	}
}

func TestAggregateIsolatesFailures(t *testing.T) {
	rep := Aggregate("run-1", []*models.GeneTask{
		succeeded("CYP2D6", "codeine"),
		failed("TPMT", models.ErrorKindMalformed),
		succeeded("CYP2C19", "clopidogrel", "codeine"),
	})

	tpmt, ok := rep.Outcome("TPMT")
	if !ok || tpmt.Failure == nil || tpmt.Failure.Kind != models.ErrorKindMalformed {
		t.Fatalf("Expected malformed failure for TPMT, got %+v", tpmt)
	}
	for _, g := range []string{"CYP2D6", "CYP2C19"} {
		o, _ := rep.Outcome(g)
		if o.Result == nil {
			t.Errorf("Expected result for %s", g)
		}
	}
	if rep.Summary.Succeeded != 2 || rep.Summary.Failed != 1 {
		t.Errorf("Unexpected summary counts %+v", rep.Summary)
	}
	if !reflect.DeepEqual(rep.Summary.Drugs, []string{"clopidogrel", "codeine"}) {
		t.Errorf("Expected sorted distinct drugs, got %v", rep.Summary.Drugs)
	}
	if rep.Summary.Variants != 4 {
		t.Errorf("Expected 4 variants, got %d", rep.Summary.Variants)
	}
	if len(rep.Failures()) != 1 {
		t.Errorf("Expected 1 failure, got %d", len(rep.Failures()))
	}
}

func TestAggregateCountsAlerts(t *testing.T) {
	cyp2d6 := succeeded("CYP2D6", "codeine")
	cyp2d6.Result.Interactions = []models.MedicationInteraction{
		{Medication: "codeine", Drug: "codeine", Gene: "CYP2D6", Alert: models.AlertActionable},
		{Medication: "ondansetron", Drug: "ondansetron", Gene: "CYP2D6", Alert: models.AlertInformative},
	}
	slco := succeeded("SLCO1B1", "simvastatin")
	slco.Result.Interactions = []models.MedicationInteraction{
		{Medication: "simvastatin", Drug: "simvastatin", Gene: "SLCO1B1", Alert: models.AlertInformative},
		{Medication: "aspirin", Drug: "aspirin", Gene: "SLCO1B1", Alert: models.AlertNoAction},
	}

	rep := Aggregate("run-1", []*models.GeneTask{cyp2d6, slco})
	if rep.Summary.Interactions != 4 {
		t.Errorf("Expected 4 interactions, got %d", rep.Summary.Interactions)
	}
	if rep.Summary.ActionableAlerts != 1 || rep.Summary.InformativeAlerts != 2 {
		t.Errorf("Unexpected alert counts %+v", rep.Summary)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	tasks := []*models.GeneTask{
		succeeded("CYP2D6", "tramadol", "codeine"),
		failed("TPMT", models.ErrorKindNetwork),
		succeeded("SLCO1B1", "simvastatin"),
	}

	first, err := json.Marshal(Aggregate("run-1", tasks))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(Aggregate("run-1", tasks))
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("Aggregate not deterministic on iteration %d", i)
		}
	}
}

func TestAggregateNonTerminalTaskBecomesFailure(t *testing.T) {
	rep := Aggregate("run-1", []*models.GeneTask{models.NewGeneTask("DPYD")})
	o, _ := rep.Outcome("DPYD")
	if o.Failure == nil || o.Failure.Kind != models.ErrorKindInternal {
		t.Errorf("Expected internal failure for unfinished task, got %+v", o)
	}
	if rep.OverallStatus != models.OverallAllFailed {
		t.Errorf("Expected all_failed, got %s", rep.OverallStatus)
	}
}

func TestWriteJSONLD(t *testing.T) {
	rep := Aggregate("run-42", []*models.GeneTask{succeeded("CYP2D6", "codeine"), failed("TPMT", models.ErrorKindNotFound)})
	rep.Outcomes[0].Result.Interactions = []models.MedicationInteraction{{Medication: "Codeine", Drug: "codeine", Gene: "CYP2D6", AnnotationID: "A1", Alert: models.AlertActionable}}
	patient := &models.PatientContext{
		PatientID:   "P-001",
		Medications: []models.Medication{{Name: "Codeine"}},
	}

	var buf bytes.Buffer
	if err := WriteJSONLD(&buf, rep, patient); err != nil {
		t.Fatalf("WriteJSONLD failed: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if doc["@id"] != "pgx:run/run-42" {
		t.Errorf("Unexpected document id %v", doc["@id"])
	}
	graph, ok := doc["@graph"].([]any)
	if !ok || len(graph) == 0 {
		t.Fatalf("Expected non-empty @graph, got %v", doc["@graph"])
	}
	out := buf.String()
	for _, want := range []string{`"patient:p-001"`, `"pgx:gene/cyp2d6"`, `"pgx:drug/codeine"`, `"pubmed:123"`, `"dbsnp:rs1"`, `"not_found"`, `"pgx:interaction/cyp2d6/codeine/a1"`, `"pgx:alertType": "actionable"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in JSON-LD output", want)
		}
	}
	// codeine appears as patient medication and gene drug; it must be one node.
	if strings.Count(out, `"@id": "pgx:drug/codeine"`) != 1 {
		t.Errorf("Expected a single codeine node, got %d", strings.Count(out, `"@id": "pgx:drug/codeine"`))
	}
}
