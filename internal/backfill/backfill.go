// Package backfill computes feature vectors for catalog products. By default
// only products without a stored vector are processed.
package backfill

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/extractor"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

// Store lists products without vectors and stores computed ones.
type Store interface {
	PendingImages(ctx context.Context, source string, afterID int64, limit int, all bool) ([]storage.PendingImage, error)
	UpdateVector(ctx context.Context, source string, id int64, vector string) error
}

// Downloader fetches product images.
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// SourceStats counts the work done for one source.
type SourceStats struct {
	Source  string `json:"source"`
	Scanned int    `json:"scanned"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
}

// Report is the outcome of one backfill run.
type Report struct {
	RunID    string        `json:"run_id"`
	Sources  []SourceStats `json:"sources"`
	Duration time.Duration `json:"duration"`
}

// ProgressFunc is called after each product is processed. It may be called
// from several goroutines at once.
type ProgressFunc func(source string, processed int)

// Config configures a backfill job.
type Config struct {
	Store      Store
	Extractor  extractor.Extractor
	Downloader Downloader
	Logger     *observability.Logger

	Workers   int // concurrent download+extract tasks, default 16
	BatchSize int // products per page, default 64
	// Limit caps the products scanned per source. Zero means no cap.
	Limit int
	// All recomputes every product with an image, overwriting stored vectors.
	All      bool
	Progress ProgressFunc
}

// Job runs vector backfills.
type Job struct {
	store      Store
	extractor  extractor.Extractor
	downloader Downloader
	logger     *observability.Logger
	workers    int
	batchSize  int
	limit      int
	all        bool
	progress   ProgressFunc
}

// NewJob creates a backfill job.
func NewJob(cfg Config) *Job {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DefaultLogger()
	}
	return &Job{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		downloader: cfg.Downloader,
		logger:     cfg.Logger.WithOperation("backfill"),
		workers:    cfg.Workers,
		batchSize:  cfg.BatchSize,
		limit:      cfg.Limit,
		all:        cfg.All,
		progress:   cfg.Progress,
	}
}

// Run backfills every source in order. Products whose image cannot be
// downloaded or analyzed are skipped; a store error aborts the run.
func (j *Job) Run(ctx context.Context, sources []string) (*Report, error) {
	report := &Report{RunID: uuid.New().String()}
	log := j.logger.WithRun(report.RunID)
	start := time.Now()

	log.Info().Strs("sources", sources).Int("workers", j.workers).Str("mode", j.mode()).Msg("Starting vector backfill")

	for _, src := range sources {
		stats, err := j.runSource(ctx, log, src)
		report.Sources = append(report.Sources, stats)
		if err != nil {
			log.WithSource(src).Error().Err(err).Msg("Backfill aborted")
			return report, err
		}
		log.WithSource(src).Info().
			Int("scanned", stats.Scanned).
			Int("updated", stats.Updated).
			Int("skipped", stats.Skipped).
			Msg("Source backfilled")
	}

	report.Duration = time.Since(start)
	log.Info().Dur("duration", report.Duration).Msg("Vector backfill completed")
	return report, nil
}

func (j *Job) mode() string {
	if j.all {
		return "all"
	}
	return "missing"
}

func (j *Job) runSource(ctx context.Context, log *observability.Logger, source string) (SourceStats, error) {
	stats := SourceStats{Source: source}
	log = log.WithSource(source)
	var updated, skipped atomic.Int64
	var afterID int64

	for {
		batch := j.batchSize
		if j.limit > 0 {
			remaining := j.limit - stats.Scanned
			if remaining <= 0 {
				break
			}
			batch = min(batch, remaining)
		}

		page, err := j.store.PendingImages(ctx, source, afterID, batch, j.all)
		if err != nil {
			stats.Updated, stats.Skipped = int(updated.Load()), int(skipped.Load())
			return stats, err
		}
		if len(page) == 0 {
			break
		}
		stats.Scanned += len(page)
		afterID = page[len(page)-1].ID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(j.workers)
		for _, item := range page {
			item := item
			g.Go(func() error {
				ok, err := j.process(gctx, log, source, item)
				if err != nil {
					return err
				}
				if ok {
					updated.Add(1)
				} else {
					skipped.Add(1)
				}
				if j.progress != nil {
					j.progress(source, int(updated.Load()+skipped.Load()))
				}
				return nil
			})
		}
		err = g.Wait()
		stats.Updated, stats.Skipped = int(updated.Load()), int(skipped.Load())
		if err != nil {
			return stats, err
		}
		if len(page) < batch {
			break
		}
	}
	return stats, nil
}

// process computes and stores one vector. It reports false when the product
// was skipped and returns an error only for failures that abort the run.
func (j *Job) process(ctx context.Context, log *observability.Logger, source string, item storage.PendingImage) (bool, error) {
	key := storage.ProductKey(source, item.ID)

	image, err := j.downloader.Download(ctx, item.ImageURL)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Debug().Err(err).Product(key).Str("url", item.ImageURL).Msg("Skipping product: download failed")
		return false, nil
	}

	vec, err := j.extractor.Extract(ctx, image, path.Base(item.ImageURL))
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Debug().Err(err).Product(key).Msg("Skipping product: extraction failed")
		return false, nil
	}

	raw, err := storage.EncodeVector(vec)
	if err != nil {
		log.Debug().Err(err).Product(key).Msg("Skipping product: vector not encodable")
		return false, nil
	}
	if err := j.store.UpdateVector(ctx, source, item.ID, raw); err != nil {
		return false, err
	}
	return true, nil
}

// HTTPDownloader fetches images over HTTP.
type HTTPDownloader struct {
	client   *http.Client
	maxBytes int64
}

// NewHTTPDownloader creates a downloader with a per-request timeout and a
// response size cap.
func NewHTTPDownloader(timeout time.Duration, maxBytes int64) *HTTPDownloader {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &HTTPDownloader{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Download returns the body of a successful GET of url.
func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.UpstreamFailure("create image request", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, domain.UpstreamFailure("download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.UpstreamFailure("download image", fmt.Errorf("status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, domain.UpstreamFailure("read image", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, domain.UpstreamFailure("download image", fmt.Errorf("image exceeds %d bytes", d.maxBytes))
	}
	if len(data) == 0 {
		return nil, domain.UpstreamFailure("download image", fmt.Errorf("empty body"))
	}
	return data, nil
}

var _ Downloader = (*HTTPDownloader)(nil)
