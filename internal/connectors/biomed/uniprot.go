package biomed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fentz26/pgxdash/internal/connectors"
	"github.com/fentz26/pgxdash/internal/models"
)

// UniProt resolves gene symbols to reviewed human protein accessions.
type UniProt struct {
	conn connectors.Connector
}

// NewUniProt wraps conn.
func NewUniProt(conn connectors.Connector) *UniProt {
	return &UniProt{conn: conn}
}

// Accession returns the reviewed human UniProt accession for gene.
func (u *UniProt) Accession(ctx context.Context, gene string) (string, error) {
	params := url.Values{
		"query":  {fmt.Sprintf("(gene_exact:%s) AND (organism_id:9606) AND (reviewed:true)", gene)},
		"fields": {"accession,reviewed,id,gene_names,organism_name"},
		"format": {"tsv"},
		"size":   {"1"},
	}
	resp, err := u.conn.Fetch(ctx, "search", params)
	if err != nil {
		return "", err
	}

	// Header row, then: Entry, Reviewed, Entry Name, Gene Names, Organism.
	lines := strings.Split(strings.TrimSpace(string(resp.Body)), "\n")
	if len(lines) < 2 {
		return "", models.Errorf(models.ErrorKindNotFound, "uniprot: no reviewed human entry for %s", gene)
	}
	if !strings.HasPrefix(lines[0], "Entry") {
		return "", models.Errorf(models.ErrorKindMalformed, "uniprot: unexpected TSV header %q", lines[0])
	}
	cols := strings.Split(lines[1], "\t")
	if len(cols) < 5 || cols[0] == "" {
		return "", models.Errorf(models.ErrorKindMalformed, "uniprot: unexpected TSV row %q", lines[1])
	}
	return strings.TrimSpace(cols[0]), nil
}
