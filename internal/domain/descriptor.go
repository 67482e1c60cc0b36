package domain

import (
	"errors"
	"net/url"
	"strings"
)

// Tier is the query strategy chosen for a dataset.
type Tier string

const (
	TierNone     Tier = ""
	TierExternal Tier = "external"
	TierInMemory Tier = "in_memory"
	TierManaged  Tier = "managed"
)

func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierExternal:
		return TierExternal, nil
	case TierInMemory, "inmemory", "memory":
		return TierInMemory, nil
	case TierManaged:
		return TierManaged, nil
	default:
		return TierNone, errors.New("unknown tier " + strings.TrimSpace(s))
	}
}

// Descriptor is one dataset as listed in the catalog. IRI is its identity.
type Descriptor struct {
	IRI        string
	DataURL    string
	DataFormat string
	Title      string
	Tier       Tier
}

// Validate reports whether the descriptor can be harvested at all.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.IRI) == "" {
		return errors.New("dataset iri is required")
	}
	if strings.TrimSpace(d.DataURL) == "" {
		return errors.New("data url is required")
	}
	u, err := url.Parse(d.DataURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.New("data url must be absolute")
	}
	return nil
}

// OutputGraph names the graph that holds the transformed records.
func (d Descriptor) OutputGraph() string {
	return d.IRI + "edm"
}
