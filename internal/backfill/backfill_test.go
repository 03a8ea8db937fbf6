package backfill

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/extractor"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/similarity"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

func setup(t *testing.T, imageBase string) (*storage.ProductStore, *catalog.Composer) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "backfill.db"), storage.PoolConfig{MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	composer := catalog.NewComposer(catalog.NewWhitelist(catalog.DefaultSources))
	require.NoError(t, storage.EnsureSchema(ctx, db, composer))

	done := "[1, 0]"
	rows := []struct {
		p   storage.Product
		vec *string
	}{
		{storage.Product{ID: 1, ImageURL: imageBase + "/ok/1.jpg", Source: "hm_products"}, nil},
		{storage.Product{ID: 2, ImageURL: imageBase + "/missing/2.jpg", Source: "hm_products"}, nil},
		{storage.Product{ID: 3, ImageURL: imageBase + "/ok/3.jpg", Source: "hm_products"}, nil},
		{storage.Product{ID: 4, ImageURL: imageBase + "/ok/4.jpg", Source: "hm_products"}, &done},
		{storage.Product{ID: 5, ImageURL: "", Source: "hm_products"}, nil},
		{storage.Product{ID: 1, ImageURL: imageBase + "/ok/z1.jpg", Source: "zara_products"}, nil},
	}
	for _, r := range rows {
		require.NoError(t, storage.InsertProduct(ctx, db, composer, r.p, r.vec))
	}
	return storage.NewProductStore(db, composer), composer
}

func imageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ok/") {
			io.WriteString(w, "jpeg:"+r.URL.Path)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJob_Run(t *testing.T) {
	srv := imageServer(t)
	store, _ := setup(t, srv.URL)

	var mu sync.Mutex
	progress := map[string]int{}

	job := NewJob(Config{
		Store:      store,
		Extractor:  &extractor.StaticExtractor{Vector: similarity.Vector{0.6, 0.8}},
		Downloader: NewHTTPDownloader(time.Second, 0),
		Logger:     testLogger(),
		Workers:    2,
		BatchSize:  2,
		Progress: func(source string, processed int) {
			mu.Lock()
			defer mu.Unlock()
			progress[source] = max(progress[source], processed)
		},
	})

	report, err := job.Run(context.Background(), []string{"hm_products", "zara_products"})
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []SourceStats{
		{Source: "hm_products", Scanned: 3, Updated: 2, Skipped: 1},
		{Source: "zara_products", Scanned: 1, Updated: 1},
	}, report.Sources)
	assert.Equal(t, map[string]int{"hm_products": 3, "zara_products": 1}, progress)

	// Only the product whose image was missing is still pending.
	pending, err := store.PendingImages(context.Background(), "hm_products", 0, 10, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].ID)

	queries, err := catalog.NewComposer(catalog.NewWhitelist([]string{"hm_products"})).Candidates([]string{"hm_products"})
	require.NoError(t, err)
	cands, err := store.FetchCandidates(context.Background(), queries[0])
	require.NoError(t, err)
	require.Len(t, cands, 3)
	v, err := storage.ParseVector(cands[0].RawVector)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, []float64(v))
}

func TestJob_Run_Limit(t *testing.T) {
	srv := imageServer(t)
	store, _ := setup(t, srv.URL)

	job := NewJob(Config{
		Store:      store,
		Extractor:  &extractor.StaticExtractor{Vector: similarity.Vector{1}},
		Downloader: NewHTTPDownloader(time.Second, 0),
		Logger:     testLogger(),
		BatchSize:  10,
		Limit:      1,
	})

	report, err := job.Run(context.Background(), []string{"hm_products"})
	require.NoError(t, err)
	assert.Equal(t, []SourceStats{{Source: "hm_products", Scanned: 1, Updated: 1}}, report.Sources)
}

func TestJob_Run_AllOverwritesStoredVectors(t *testing.T) {
	srv := imageServer(t)
	store, composer := setup(t, srv.URL)

	job := NewJob(Config{
		Store:      store,
		Extractor:  &extractor.StaticExtractor{Vector: similarity.Vector{0.6, 0.8}},
		Downloader: NewHTTPDownloader(time.Second, 0),
		Logger:     testLogger(),
		BatchSize:  3,
		All:        true,
	})

	report, err := job.Run(context.Background(), []string{"hm_products"})
	require.NoError(t, err)
	assert.Equal(t, []SourceStats{{Source: "hm_products", Scanned: 4, Updated: 3, Skipped: 1}}, report.Sources)

	queries, err := composer.Candidates([]string{"hm_products"})
	require.NoError(t, err)
	cands, err := store.FetchCandidates(context.Background(), queries[0])
	require.NoError(t, err)

	byKey := map[string]string{}
	for _, c := range cands {
		byKey[c.Key] = c.RawVector
	}
	require.Contains(t, byKey, "hm_products:4")
	v, err := storage.ParseVector(byKey["hm_products:4"])
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.8}, []float64(v))
}

func TestJob_Run_ExtractionFailureSkips(t *testing.T) {
	srv := imageServer(t)
	store, _ := setup(t, srv.URL)

	job := NewJob(Config{
		Store:      store,
		Extractor:  &extractor.StaticExtractor{Err: domain.UpstreamFailure("extractor error", errors.New("no clothing found"))},
		Downloader: NewHTTPDownloader(time.Second, 0),
		Logger:     testLogger(),
	})

	report, err := job.Run(context.Background(), []string{"zara_products"})
	require.NoError(t, err)
	assert.Equal(t, []SourceStats{{Source: "zara_products", Scanned: 1, Skipped: 1}}, report.Sources)
}

type brokenStore struct {
	storage.PendingImage
}

func (b brokenStore) PendingImages(ctx context.Context, source string, afterID int64, limit int, all bool) ([]storage.PendingImage, error) {
	if afterID > 0 {
		return nil, nil
	}
	return []storage.PendingImage{b.PendingImage}, nil
}

func (brokenStore) UpdateVector(ctx context.Context, source string, id int64, vector string) error {
	return domain.StoreFailure("update vector", errors.New("read-only transaction"))
}

func TestJob_Run_StoreErrorAborts(t *testing.T) {
	srv := imageServer(t)

	job := NewJob(Config{
		Store:      brokenStore{storage.PendingImage{ID: 1, ImageURL: srv.URL + "/ok/1.jpg"}},
		Extractor:  &extractor.StaticExtractor{Vector: similarity.Vector{1}},
		Downloader: NewHTTPDownloader(time.Second, 0),
		Logger:     testLogger(),
	})

	report, err := job.Run(context.Background(), []string{"hm_products", "zara_products"})
	require.Error(t, err)
	assert.True(t, domain.Is(err, domain.KindStoreFailure))
	require.Len(t, report.Sources, 1)
	assert.Equal(t, "hm_products", report.Sources[0].Source)
}

func TestHTTPDownloader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small":
			io.WriteString(w, "abc")
		case "/big":
			io.WriteString(w, strings.Repeat("x", 100))
		case "/empty":
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	d := NewHTTPDownloader(time.Second, 10)

	data, err := d.Download(context.Background(), srv.URL+"/small")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	for _, p := range []string{"/big", "/empty", "/forbidden"} {
		_, err := d.Download(context.Background(), srv.URL+p)
		require.Error(t, err, p)
		assert.True(t, domain.Is(err, domain.KindUpstreamFailure), p)
	}
}
