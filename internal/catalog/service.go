package catalog

import (
	"context"
	"errors"
	"strings"
)

// Repository is the read side of the bundle catalog.
type Repository interface {
	FindBundle(ctx context.Context, network NetworkKey, capacity string) (Bundle, bool, error)
	FindBundleByID(ctx context.Context, id string) (Bundle, bool, error)
	// ListBundles returns active bundles of an active network ordered by price.
	ListBundles(ctx context.Context, network NetworkKey) ([]Bundle, error)
	ListNetworks(ctx context.Context) ([]Network, error)
}

var (
	ErrBundleNotFound    = errors.New("bundle not found")
	ErrInvalidCatalogReq = errors.New("invalid catalog request")
)

// Service resolves purchasable bundles.
//
// Contract:
// - Read path only; no writes to the catalog tables.
// - Inactive bundles resolve as ErrBundleNotFound.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetBundle(ctx context.Context, network NetworkKey, capacity string) (Bundle, error) {
	network = NetworkKey(strings.ToUpper(strings.TrimSpace(string(network))))
	capacity = strings.TrimSpace(capacity)
	if !network.Valid() || capacity == "" {
		return Bundle{}, ErrInvalidCatalogReq
	}
	b, ok, err := s.repo.FindBundle(ctx, network, capacity)
	if err != nil {
		return Bundle{}, err
	}
	if !ok || !b.Active {
		return Bundle{}, ErrBundleNotFound
	}
	return b, nil
}

func (s *Service) GetBundleByID(ctx context.Context, id string) (Bundle, error) {
	if strings.TrimSpace(id) == "" {
		return Bundle{}, ErrInvalidCatalogReq
	}
	b, ok, err := s.repo.FindBundleByID(ctx, id)
	if err != nil {
		return Bundle{}, err
	}
	if !ok || !b.Active {
		return Bundle{}, ErrBundleNotFound
	}
	return b, nil
}

func (s *Service) ListBundles(ctx context.Context, network NetworkKey) ([]Bundle, error) {
	network = NetworkKey(strings.ToUpper(strings.TrimSpace(string(network))))
	if !network.Valid() {
		return nil, ErrInvalidCatalogReq
	}
	return s.repo.ListBundles(ctx, network)
}

func (s *Service) ListNetworks(ctx context.Context) ([]Network, error) {
	return s.repo.ListNetworks(ctx)
}
