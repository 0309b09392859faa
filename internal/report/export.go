package report

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/fentz26/pgxdash/internal/models"
)

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep *models.MultiGeneReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

var jsonLDContext = map[string]any{
	"@vocab":     "http://schema.org/",
	"pgx":        "http://pgx-kg.org/",
	"patient":    "http://pgx-kg.org/patient/",
	"uniprot":    "https://identifiers.org/uniprot:",
	"dbsnp":      "https://identifiers.org/dbsnp:",
	"pubmed":     "https://pubmed.ncbi.nlm.nih.gov/",
	"pharmgkb":   "https://www.pharmgkb.org/",
	"hasVariant": map[string]string{"@id": "pgx:hasVariant", "@type": "@id"},
	"affects":    map[string]string{"@id": "pgx:affectsDrug", "@type": "@id"},
	"associated": map[string]string{"@id": "pgx:associatedDisease", "@type": "@id"},
	"citation":   map[string]string{"@id": "citation", "@type": "@id"},
	"interacts":  map[string]string{"@id": "pgx:interactsWith", "@type": "@id"},
	"alerts":     map[string]string{"@id": "pgx:hasAlert", "@type": "@id"},
}

type node map[string]any

// KnowledgeGraph converts the report into a JSON-LD document with patient,
// gene, variant, drug, disease, and publication nodes.
func KnowledgeGraph(rep *models.MultiGeneReport, patient *models.PatientContext) map[string]any {
	var graph []node
	seen := make(map[string]bool)
	add := func(n node) {
		id := n["@id"].(string)
		if seen[id] {
			return
		}
		seen[id] = true
		graph = append(graph, n)
	}

	var patientID string
	if patient != nil && patient.PatientID != "" {
		patientID = "patient:" + slug(patient.PatientID)
		meds := make([]string, 0, len(patient.Medications))
		for _, m := range patient.Medications {
			meds = append(meds, drugID(m.Name))
			add(node{"@id": drugID(m.Name), "@type": "Drug", "name": m.Name})
		}
		add(node{
			"@id":       patientID,
			"@type":     "Patient",
			"name":      strings.TrimSpace(patient.Demographics.FirstName + " " + patient.Demographics.LastName),
			"gender":    patient.Demographics.Sex,
			"drug":      meds,
			"diagnosis": patient.Conditions,
		})
	}

	for _, o := range rep.Outcomes {
		gene := node{
			"@id":        "pgx:gene/" + slug(o.Gene),
			"@type":      "Gene",
			"name":       o.Gene,
			"pgx:status": string(o.State),
		}
		if o.Failure != nil {
			gene["pgx:failure"] = string(o.Failure.Kind)
		}
		if r := o.Result; r != nil {
			if r.ProteinAccession != "" {
				gene["sameAs"] = "uniprot:" + r.ProteinAccession
			}
			var variants, drugs, diseases, pubs []string
			for _, v := range r.Variants {
				vid := "pgx:variant/" + slug(v.ID)
				variants = append(variants, vid)
				vn := node{"@id": vid, "@type": "pgx:Variant", "name": v.ID, "pgx:consequence": v.Consequence}
				if v.RSID != "" {
					vn["sameAs"] = "dbsnp:" + v.RSID
				}
				if v.ClinVarSignificance != "" {
					vn["pgx:clinicalSignificance"] = v.ClinVarSignificance
					vn["pgx:reviewStars"] = v.ClinVarStars
				}
				add(vn)
			}
			for _, d := range r.Drugs {
				drugs = append(drugs, drugID(d))
				add(node{"@id": drugID(d), "@type": "Drug", "name": d})
			}
			for _, d := range r.Diseases {
				id := "pgx:disease/" + slug(d)
				diseases = append(diseases, id)
				add(node{"@id": id, "@type": "MedicalCondition", "name": d})
			}
			for _, p := range r.Literature {
				if p.PMID == "" {
					continue
				}
				id := "pubmed:" + p.PMID
				pubs = append(pubs, id)
				add(node{"@id": id, "@type": "ScholarlyArticle", "name": p.Title, "datePublished": p.Year})
			}
			gene["hasVariant"] = variants
			gene["affects"] = drugs
			gene["associated"] = diseases
			gene["citation"] = pubs
			if patientID != "" && len(r.Interactions) > 0 {
				var hits, alerts []string
				for _, in := range r.Interactions {
					hits = append(hits, drugID(in.Medication))
					aid := "pgx:interaction/" + slug(o.Gene) + "/" + slug(in.Medication)
					if in.AnnotationID != "" {
						aid += "/" + slug(in.AnnotationID)
					}
					alerts = append(alerts, aid)
					add(node{
						"@id":               aid,
						"@type":             "pgx:DrugInteraction",
						"drug":              drugID(in.Medication),
						"pgx:alertType":     string(in.Alert),
						"pgx:evidenceLevel": in.LevelOfEvidence,
					})
				}
				gene["interacts"] = hits
				gene["alerts"] = alerts
			}
		}
		add(gene)
	}

	doc := map[string]any{
		"@context": jsonLDContext,
		"@id":      "pgx:run/" + rep.RunID,
		"@type":    "Dataset",
		"name":     "Pharmacogenomic analysis " + rep.RunID,
		"@graph":   graph,
	}
	doc["pgx:overallStatus"] = string(rep.OverallStatus)
	return doc
}

// WriteJSONLD writes the report's knowledge graph as JSON-LD.
func WriteJSONLD(w io.Writer, rep *models.MultiGeneReport, patient *models.PatientContext) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(KnowledgeGraph(rep, patient)); err != nil {
		return fmt.Errorf("encode knowledge graph: %w", err)
	}
	return nil
}

func drugID(name string) string {
	return "pgx:drug/" + slug(name)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	return url.PathEscape(s)
}
