// Package matching ranks catalog products by visual similarity to an uploaded
// image.
package matching

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/extractor"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/similarity"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

// TopK is the number of matches returned per request.
const TopK = 9

// ErrMissingInput is returned when the request carries no image.
var ErrMissingInput = domain.InvalidRequest("no image uploaded", nil)

// Stage names one step of a match request.
type Stage string

const (
	StageReceiveImage    Stage = "receive_image"
	StageExtractFeatures Stage = "extract_features"
	StageFetchCandidates Stage = "fetch_candidates"
	StageScoreAndSelect  Stage = "score_and_select"
	StageRespond         Stage = "respond"
)

// CandidateStore loads products that have a stored feature vector.
type CandidateStore interface {
	FetchCandidates(ctx context.Context, q catalog.SourceQuery) ([]storage.Candidate, error)
}

// Match is a product paired with its similarity to the query image.
type Match struct {
	storage.Product
	Similarity float64 `json:"similarity"`
}

// Stats summarizes one match request.
type Stats struct {
	Candidates int
	Excluded   int
	Returned   int
}

// Config configures an orchestrator.
type Config struct {
	Extractor extractor.Extractor
	Store     CandidateStore
	Composer  *catalog.Composer
	Logger    *observability.Logger

	// ExtractTimeout bounds the feature-extraction call. Zero leaves it to the
	// extractor client.
	ExtractTimeout time.Duration
	// K overrides TopK when positive.
	K int
}

// Orchestrator runs image match requests.
type Orchestrator struct {
	extractor      extractor.Extractor
	store          CandidateStore
	composer       *catalog.Composer
	logger         *observability.Logger
	extractTimeout time.Duration
	k              int
}

// NewOrchestrator creates a match orchestrator.
func NewOrchestrator(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	k := cfg.K
	if k <= 0 {
		k = TopK
	}
	return &Orchestrator{
		extractor:      cfg.Extractor,
		store:          cfg.Store,
		composer:       cfg.Composer,
		logger:         logger.WithOperation("match"),
		extractTimeout: cfg.ExtractTimeout,
		k:              k,
	}
}

// Match returns up to K products most similar to image, most similar first.
// An empty result is not an error.
func (o *Orchestrator) Match(ctx context.Context, image []byte, filename string) ([]Match, error) {
	matches, _, err := o.MatchWithStats(ctx, image, filename)
	return matches, err
}

// MatchWithStats is Match plus request counters.
func (o *Orchestrator) MatchWithStats(ctx context.Context, image []byte, filename string) ([]Match, Stats, error) {
	var stats Stats
	log := o.logger.WithContext(ctx)
	start := time.Now()

	// ReceiveImage
	if len(image) == 0 {
		return nil, stats, ErrMissingInput
	}

	// ExtractFeatures
	query, err := o.extract(ctx, image, filename)
	if err != nil {
		log.Error().Err(err).Stage(string(StageExtractFeatures)).Msg("Feature extraction failed")
		return nil, stats, err
	}

	// FetchCandidates
	candidates, err := o.fetchCandidates(ctx)
	if err != nil {
		log.Error().Err(err).Stage(string(StageFetchCandidates)).Msg("Candidate fetch failed")
		return nil, stats, err
	}
	stats.Candidates = len(candidates)

	// ScoreAndSelect
	top := similarity.NewTopK[storage.Product](o.k)
	for _, c := range candidates {
		vec, err := storage.ParseVector(c.RawVector)
		if err == nil {
			err = similarity.Compatible(query, vec)
		}
		if err != nil {
			stats.Excluded++
			log.Debug().Stage(string(StageScoreAndSelect)).Product(c.Key).Err(err).Msg("Excluded candidate")
			continue
		}
		top.Offer(c.Product, similarity.Score(query, vec))
	}
	if stats.Excluded > 0 {
		log.Warn().
			Stage(string(StageScoreAndSelect)).
			Int("excluded", stats.Excluded).
			Int("candidates", stats.Candidates).
			Msg("Excluded corrupt candidate vectors")
	}

	// Respond
	ranked := top.Results()
	matches := make([]Match, len(ranked))
	for i, r := range ranked {
		matches[i] = Match{Product: r.Item, Similarity: r.Score}
	}
	stats.Returned = len(matches)

	log.Info().
		Int("candidates", stats.Candidates).
		Int("excluded", stats.Excluded).
		Int("results", stats.Returned).
		Int("dimension", len(query)).
		Latency(start).
		Msg("Match completed")

	return matches, stats, nil
}

func (o *Orchestrator) extract(ctx context.Context, image []byte, filename string) (similarity.Vector, error) {
	if o.extractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.extractTimeout)
		defer cancel()
	}
	vec, err := o.extractor.Extract(ctx, image, filename)
	if err != nil {
		if domain.KindOf(err) == "" {
			err = domain.UpstreamFailure("extract features", err)
		}
		return nil, err
	}
	if len(vec) == 0 {
		return nil, domain.UpstreamFailure("extractor returned no features", nil)
	}
	return vec, nil
}

// fetchCandidates loads candidates from every whitelisted source
// concurrently. Results keep whitelist order so ranking ties are stable.
func (o *Orchestrator) fetchCandidates(ctx context.Context) ([]storage.Candidate, error) {
	queries, err := o.composer.Candidates(o.composer.Whitelist().Sources())
	if err != nil {
		return nil, domain.StoreFailure("compose candidate queries", err)
	}

	grouped := make([][]storage.Candidate, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			cands, err := o.store.FetchCandidates(gctx, q)
			if err != nil {
				return err
			}
			grouped[i] = cands
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if domain.KindOf(err) == "" {
			err = domain.StoreFailure("fetch candidates", err)
		}
		return nil, err
	}

	total := 0
	for _, c := range grouped {
		total += len(c)
	}
	out := make([]storage.Candidate, 0, total)
	for _, c := range grouped {
		out = append(out, c...)
	}
	return out, nil
}
