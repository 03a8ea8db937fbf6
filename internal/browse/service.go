// Package browse implements category browsing across retailer sources.
package browse

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

// Store executes composed category queries.
type Store interface {
	Fetch(ctx context.Context, q catalog.SourceQuery) ([]storage.Product, error)
	FetchPlan(ctx context.Context, plan *catalog.QueryPlan) ([][]storage.Product, error)
}

// Config configures a browse service.
type Config struct {
	Aliases  *catalog.AliasTable
	Composer *catalog.Composer
	Store    Store
	Logger   *observability.Logger

	// Concurrent issues one fetch per source in parallel. When false the plan
	// runs as a single UNION ALL round-trip.
	Concurrent bool
}

// Service answers browse requests.
type Service struct {
	aliases    *catalog.AliasTable
	composer   *catalog.Composer
	store      Store
	logger     *observability.Logger
	concurrent bool
}

// NewService creates a browse service.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	aliases := cfg.Aliases
	if aliases == nil {
		aliases = catalog.DefaultAliasTable()
	}
	return &Service{
		aliases:    aliases,
		composer:   cfg.Composer,
		store:      cfg.Store,
		logger:     logger.WithOperation("browse"),
		concurrent: cfg.Concurrent,
	}
}

// Browse returns the products of the requested sources whose category
// contains any alias of category. Results are ordered by source (in request
// order) and then by row order within each source, with repeated product keys
// dropped. A failure on any source aborts the whole browse.
func (s *Service) Browse(ctx context.Context, requested []string, category string) ([]storage.Product, error) {
	if category == "" {
		return nil, domain.InvalidRequest("category is required", nil)
	}

	sources, err := s.composer.Whitelist().Filter(requested)
	if err != nil {
		return nil, err
	}
	aliases := s.aliases.Expand(category)

	plan, err := s.composer.Compose(sources, aliases)
	if err != nil {
		return nil, domain.InvalidRequest("compose query", err)
	}

	log := s.logger.WithContext(ctx)
	log.Debug().
		Strs("sources", plan.Sources).
		Strs("aliases", plan.Aliases).
		Int("params", len(plan.Args())).
		Msg("Composed browse plan")

	start := time.Now()
	var grouped [][]storage.Product
	if s.concurrent {
		grouped, err = s.fanOut(ctx, plan)
	} else {
		grouped, err = s.store.FetchPlan(ctx, plan)
	}
	if err != nil {
		log.Error().Err(err).Strs("sources", plan.Sources).Msg("Browse failed")
		return nil, err
	}

	products := Merge(grouped)
	log.Info().
		Str("category", category).
		Int("sources", len(plan.Sources)).
		Int("results", len(products)).
		Latency(start).
		Msg("Browse completed")

	return products, nil
}

// fanOut fetches every source concurrently. The first failure cancels the
// remaining fetches.
func (s *Service) fanOut(ctx context.Context, plan *catalog.QueryPlan) ([][]storage.Product, error) {
	grouped := make([][]storage.Product, len(plan.Queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range plan.Queries {
		i, q := i, q
		g.Go(func() error {
			products, err := s.store.Fetch(gctx, q)
			if err != nil {
				return err
			}
			grouped[i] = products
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return grouped, nil
}

// Merge flattens per-source results in order, keeping the first product seen
// for each key.
func Merge(grouped [][]storage.Product) []storage.Product {
	total := 0
	for _, g := range grouped {
		total += len(g)
	}

	seen := make(map[string]struct{}, total)
	out := make([]storage.Product, 0, total)
	for _, g := range grouped {
		for _, p := range g {
			key := p.Key
			if key == "" {
				key = storage.ProductKey(p.Source, p.ID)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
