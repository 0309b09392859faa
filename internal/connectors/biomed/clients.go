// Package biomed implements the typed clients for the public biomedical APIs
// used by gene analysis: UniProt, EBI Proteins, ClinVar, PharmGKB, and
// Europe PMC.
package biomed

import (
	"net/url"
	"time"

	"github.com/fentz26/pgxdash/internal/config"
	"github.com/fentz26/pgxdash/internal/connectors/httpapi"
)

// Clients bundles one client per source. Clients are shared by all gene
// workers so rate limits and circuit breakers apply process-wide.
type Clients struct {
	UniProt   *UniProt
	Proteins  *Proteins
	ClinVar   *ClinVar
	PharmGKB  *PharmGKB
	EuropePMC *EuropePMC
}

// NewClients builds every source client from configuration. cache may be nil.
func NewClients(api config.APIConfig, breaker config.BreakerConfig, cache httpapi.Cache, cacheTTL time.Duration) *Clients {
	base := func(name string, src config.SourceConfig) httpapi.Options {
		return httpapi.Options{
			Name:         name,
			BaseURL:      src.BaseURL,
			RateLimit:    src.RateLimit,
			Burst:        src.Burst,
			Timeout:      api.Timeout,
			MaxRetries:   api.MaxRetries,
			RetryBackoff: api.RetryBackoff,
			UserAgent:    api.UserAgent,
			Breaker: httpapi.BreakerSettings{
				MaxRequests:         breaker.MaxRequests,
				Interval:            breaker.Interval,
				Timeout:             breaker.Timeout,
				ConsecutiveFailures: breaker.ConsecutiveFailures,
			},
			Cache:    cache,
			CacheTTL: cacheTTL,
		}
	}

	ncbi := base("ncbi", api.NCBI)
	ncbi.DefaultParams = url.Values{"retmode": {"json"}}
	if api.Email != "" {
		ncbi.DefaultParams.Set("email", api.Email)
	}
	if api.NCBIAPIKey != "" {
		ncbi.DefaultParams.Set("api_key", api.NCBIAPIKey)
	}

	return &Clients{
		UniProt:   NewUniProt(httpapi.New(base("uniprot", api.UniProt))),
		Proteins:  NewProteins(httpapi.New(base("proteins", api.Proteins))),
		ClinVar:   NewClinVar(httpapi.New(ncbi)),
		PharmGKB:  NewPharmGKB(httpapi.New(base("pharmgkb", api.PharmGKB))),
		EuropePMC: NewEuropePMC(httpapi.New(base("europepmc", api.EuropePMC))),
	}
}
