package catalog

import (
	"context"
	"sort"
)

// MemoryRepo is a simple in-memory repository useful for tests.
type MemoryRepo struct {
	Networks []Network
	Bundles  []Bundle
}

func (r *MemoryRepo) networkActive(key NetworkKey) bool {
	for _, n := range r.Networks {
		if n.Key == key {
			return n.Active
		}
	}
	return false
}

func (r *MemoryRepo) withNetwork(b Bundle) Bundle {
	b.Active = b.Active && r.networkActive(b.Network)
	return b
}

func (r *MemoryRepo) FindBundle(ctx context.Context, network NetworkKey, capacity string) (Bundle, bool, error) {
	for _, b := range r.Bundles {
		if b.Network == network && b.Capacity == capacity {
			return r.withNetwork(b), true, nil
		}
	}
	return Bundle{}, false, nil
}

func (r *MemoryRepo) FindBundleByID(ctx context.Context, id string) (Bundle, bool, error) {
	for _, b := range r.Bundles {
		if b.ID == id {
			return r.withNetwork(b), true, nil
		}
	}
	return Bundle{}, false, nil
}

func (r *MemoryRepo) ListBundles(ctx context.Context, network NetworkKey) ([]Bundle, error) {
	var out []Bundle
	for _, b := range r.Bundles {
		b = r.withNetwork(b)
		if b.Network == network && b.Active {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (r *MemoryRepo) ListNetworks(ctx context.Context) ([]Network, error) {
	var out []Network
	for _, n := range r.Networks {
		if n.Active {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
