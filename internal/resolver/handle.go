package resolver

import (
	"github.com/animus-labs/edm-harvester/internal/domain"
	"github.com/animus-labs/edm-harvester/internal/rdf"
	"github.com/animus-labs/edm-harvester/internal/triply"
)

// Handle is how transform queries reach a dataset. The implementations are
// External, InMemory and Managed; consumers switch on the concrete type.
type Handle interface {
	tier() domain.Tier
}

// External is a SPARQL endpoint hosted by the data provider.
type External struct {
	QueryURL string
}

// InMemory holds the whole dataset in a store owned by one sub-pipeline.
type InMemory struct {
	Store *rdf.Store
}

// Managed is a dataset provisioned on TriplyDB together with its query
// service. It outlives the run and is shared by name.
type Managed struct {
	Dataset triply.DatasetRef
	Service triply.Service
}

func (External) tier() domain.Tier { return domain.TierExternal }
func (InMemory) tier() domain.Tier { return domain.TierInMemory }
func (Managed) tier() domain.Tier  { return domain.TierManaged }

// TierOf returns the tier of h.
func TierOf(h Handle) domain.Tier {
	if h == nil {
		return domain.TierNone
	}
	return h.tier()
}

// Release drops resources owned by h. Only in-memory stores are released;
// managed datasets are kept for later runs.
func Release(h Handle) {
	if m, ok := h.(InMemory); ok && m.Store != nil {
		m.Store.RemoveAll()
	}
}
