package models

import "time"

// Variant is a protein variant reported for a gene.
type Variant struct {
	ID                  string   `json:"id"`
	RSID                string   `json:"rsid,omitempty"`
	Position            string   `json:"position,omitempty"`
	WildType            string   `json:"wild_type,omitempty"`
	Alternative         string   `json:"alternative,omitempty"`
	Consequence         string   `json:"consequence,omitempty"`
	Significances       []string `json:"significances,omitempty"`
	ClinVarSignificance string   `json:"clinvar_significance,omitempty"`
	ClinVarReviewStatus string   `json:"clinvar_review_status,omitempty"`
	ClinVarStars        int      `json:"clinvar_stars"`
	ClinVarConditions   []string `json:"clinvar_conditions,omitempty"`
}

// ClinicalAnnotation is a pharmacogenomic gene-drug-phenotype assertion.
type ClinicalAnnotation struct {
	ID              string   `json:"id"`
	LevelOfEvidence string   `json:"level_of_evidence,omitempty"`
	Drugs           []string `json:"drugs,omitempty"`
	Diseases        []string `json:"diseases,omitempty"`
	Types           []string `json:"types,omitempty"`
	Variant         string   `json:"variant,omitempty"`
}

// AlertType is the clinical action class of a medication interaction.
type AlertType string

const (
	AlertActionable  AlertType = "actionable"
	AlertInformative AlertType = "informative"
	AlertNoAction    AlertType = "no_action"
)

// MedicationInteraction links a patient medication to a gene-associated drug.
type MedicationInteraction struct {
	Medication      string    `json:"medication"`
	Drug            string    `json:"drug"`
	Gene            string    `json:"gene"`
	LevelOfEvidence string    `json:"level_of_evidence,omitempty"`
	AnnotationID    string    `json:"annotation_id,omitempty"`
	Alert           AlertType `json:"alert_type"`
}

// Publication is a literature reference for a gene.
type Publication struct {
	PMID      string `json:"pmid,omitempty"`
	Title     string `json:"title"`
	Journal   string `json:"journal,omitempty"`
	Year      string `json:"year,omitempty"`
	Citations int    `json:"citations"`
}

// GeneResult is the successful output of analyzing one gene.
type GeneResult struct {
	Gene             string                  `json:"gene"`
	ProteinAccession string                  `json:"protein_accession"`
	Variants         []Variant               `json:"variants"`
	Annotations      []ClinicalAnnotation    `json:"annotations,omitempty"`
	Drugs            []string                `json:"drugs,omitempty"`
	Diseases         []string                `json:"diseases,omitempty"`
	Interactions     []MedicationInteraction `json:"interactions,omitempty"`
	Literature       []Publication           `json:"literature,omitempty"`
	Warnings         []string                `json:"warnings,omitempty"`
	Duration         time.Duration           `json:"duration"`
}
