package biomed

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
	"github.com/fentz26/pgxdash/internal/models"
)

// EuropePMC searches pharmacogenomics literature.
type EuropePMC struct {
	conn connectors.Connector
}

// NewEuropePMC wraps conn.
func NewEuropePMC(conn connectors.Connector) *EuropePMC {
	return &EuropePMC{conn: conn}
}

type epmcResult struct {
	PMID         string `json:"pmid"`
	Title        string `json:"title"`
	JournalTitle string `json:"journalTitle"`
	PubYear      string `json:"pubYear"`
	CitedByCount int    `json:"citedByCount"`
}

// Search returns up to limit of the most cited pharmacogenomic publications
// mentioning gene.
func (e *EuropePMC) Search(ctx context.Context, gene string, limit int) ([]models.Publication, error) {
	if limit <= 0 {
		return nil, nil
	}
	resp, err := e.conn.Fetch(ctx, "search", url.Values{
		"query":      {fmt.Sprintf(`"%s" AND (pharmacogenomics OR pharmacogenetics)`, gene)},
		"resultType": {"core"},
		"format":     {"json"},
		"pageSize":   {strconv.Itoa(limit)},
		"sort":       {"CITED desc"},
	})
	if err != nil {
		return nil, err
	}

	var payload struct {
		ResultList struct {
			Result []epmcResult `json:"result"`
		} `json:"resultList"`
	}
	if err := httpapi.DecodeJSON(e.conn.Name(), resp.Body, &payload); err != nil {
		return nil, err
	}

	results := payload.ResultList.Result
	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]models.Publication, 0, len(results))
	for _, r := range results {
		if r.Title == "" {
			continue
		}
		out = append(out, models.Publication{
			PMID:      r.PMID,
			Title:     r.Title,
			Journal:   r.JournalTitle,
			Year:      r.PubYear,
			Citations: r.CitedByCount,
		})
	}
	return out, nil
}
