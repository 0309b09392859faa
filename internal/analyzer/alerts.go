package analyzer

import (
	"strings"

	"github.com/fentz26/pgxdash/internal/models"
)

// levelAlerts maps CPIC/PharmGKB evidence levels to an alert class.
var levelAlerts = map[string]models.AlertType{
	"1A": models.AlertActionable,
	"1B": models.AlertActionable,
	"2A": models.AlertActionable,
	"2B": models.AlertInformative,
	"3":  models.AlertInformative,
	"4":  models.AlertNoAction,
}

// criticalPairs are drug-gene pairs with published dosing guidance that
// override the evidence level.
var criticalPairs = map[[2]string]models.AlertType{
	{"clopidogrel", "CYP2C19"}: models.AlertActionable,
	{"warfarin", "VKORC1"}:     models.AlertActionable,
	{"warfarin", "CYP2C9"}:     models.AlertActionable,
	{"codeine", "CYP2D6"}:      models.AlertActionable,
	{"tamoxifen", "CYP2D6"}:    models.AlertActionable,
	{"abacavir", "HLA-B"}:      models.AlertActionable,
	{"carbamazepine", "HLA-A"}: models.AlertActionable,
	{"allopurinol", "HLA-B"}:   models.AlertActionable,
	{"5-fluorouracil", "DPYD"}: models.AlertActionable,
	{"azathioprine", "TPMT"}:   models.AlertActionable,
	{"mercaptopurine", "TPMT"}: models.AlertActionable,
	{"simvastatin", "SLCO1B1"}: models.AlertInformative,
	{"irinotecan", "UGT1A1"}:   models.AlertInformative,
}

var (
	avoidTerms   = []string{"avoid", "contraindicated", "not recommended", "do not use"}
	cautionTerms = []string{"monitor", "consider", "caution"}
)

// ClassifyAlert assigns an alert class to a drug-gene interaction. Known
// critical pairs win, then recommendation wording, then evidence level.
// An unknown or missing level is informative.
func ClassifyAlert(drug, gene, level, recommendation string) models.AlertType {
	d := strings.ToLower(strings.TrimSpace(drug))
	g := strings.ToUpper(strings.TrimSpace(gene))
	for pair, alert := range criticalPairs {
		if g == pair[1] && (d == pair[0] || strings.Contains(d, pair[0])) {
			return alert
		}
	}

	alert, ok := levelAlerts[normalizeLevel(level)]
	if !ok {
		alert = models.AlertInformative
	}

	rec := strings.ToLower(recommendation)
	if containsAny(rec, avoidTerms) {
		return models.AlertActionable
	}
	if alert == models.AlertNoAction && containsAny(rec, cautionTerms) {
		return models.AlertInformative
	}
	return alert
}

func normalizeLevel(level string) string {
	l := strings.ToUpper(strings.TrimSpace(level))
	l = strings.TrimPrefix(l, "LEVEL")
	return strings.TrimSpace(l)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
