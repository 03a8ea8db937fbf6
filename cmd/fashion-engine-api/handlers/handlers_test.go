package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/browse"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/matching"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/storage"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
}

type fakeBrowser struct {
	products []storage.Product
	err      error
	sources  []string
	category string
}

func (f *fakeBrowser) Browse(ctx context.Context, sources []string, category string) ([]storage.Product, error) {
	f.sources, f.category = sources, category
	return f.products, f.err
}

type fakeMatcher struct {
	matches []matching.Match
	err     error
	image   []byte
	name    string
}

func (f *fakeMatcher) Match(ctx context.Context, image []byte, filename string) ([]matching.Match, error) {
	f.image, f.name = image, filename
	return f.matches, f.err
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestProductsHandler_List(t *testing.T) {
	browser := &fakeBrowser{products: []storage.Product{
		{ID: 1, Name: "RELAXED HOODIE", Price: 299, Source: "hm_products", Key: "hm_products:1"},
	}}
	h := NewProductsHandler(testLogger(), browser)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/products?tables=hm_products,%20unknown_table&category=Hoodie", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hm_products", "unknown_table"}, browser.sources)
	assert.Equal(t, "Hoodie", browser.category)

	var body []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "hm_products:1", body[0]["key"])
	assert.NotContains(t, body[0], "feature_vector")
}

func TestProductsHandler_MissingParams(t *testing.T) {
	h := NewProductsHandler(testLogger(), &fakeBrowser{})
	for _, target := range []string{"/products", "/products?tables=hm_products", "/products?category=Hoodie"} {
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestProductsHandler_NoValidSources(t *testing.T) {
	composer := catalog.NewComposer(catalog.NewWhitelist(catalog.DefaultSources))
	svc := browse.NewService(browse.Config{Composer: composer, Logger: testLogger(), Concurrent: true})
	h := NewProductsHandler(testLogger(), svc)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/products?tables=users,,pg_user&category=Hoodie", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no valid sources selected", decodeError(t, rec).Detail)
}

func TestProductsHandler_StoreFailure(t *testing.T) {
	h := NewProductsHandler(testLogger(), &fakeBrowser{
		err: domain.StoreFailure("fetch hm_products", errors.New(`relation "hm_products" does not exist`)),
	})

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/products?tables=hm_products&category=Jeans", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestAnalyzeHandler_Success(t *testing.T) {
	matcher := &fakeMatcher{matches: []matching.Match{
		{Product: storage.Product{ID: 1, Source: "zara_products", Key: "zara_products:1"}, Similarity: 0.93},
		{Product: storage.Product{ID: 4, Source: "hm_products", Key: "hm_products:4"}, Similarity: 0.71},
	}}
	h := NewAnalyzeHandler(testLogger(), matcher, 1<<20)

	body, ct := multipartBody(t, ImageField, "look.jpg", []byte("jpeg"))
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.Analyze(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []byte("jpeg"), matcher.image)
	assert.Equal(t, "look.jpg", matcher.name)

	var out []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, 0.93, out[0]["similarity"])
	assert.Equal(t, "zara_products:1", out[0]["key"])
}

func TestAnalyzeHandler_BadUploads(t *testing.T) {
	h := NewAnalyzeHandler(testLogger(), &fakeMatcher{err: matching.ErrMissingInput}, 16)

	tests := []struct {
		name  string
		field string
		data  []byte
	}{
		{"no file", "", nil},
		{"wrong field", "file", []byte("jpeg")},
		{"empty file", ImageField, nil},
		{"too large", ImageField, bytes.Repeat([]byte("x"), 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.field, "a.jpg", tt.data)
			req := httptest.NewRequest(http.MethodPost, "/analyze", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			h.Analyze(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.Analyze(rec, httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte("raw"))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeHandler_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"extractor down", domain.UpstreamFailure("send request", errors.New("dial tcp 127.0.0.1:8000: connection refused")), http.StatusBadGateway},
		{"store down", domain.StoreFailure("fetch candidates", errors.New("too many clients")), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAnalyzeHandler(testLogger(), &fakeMatcher{err: tt.err}, 1<<20)
			body, ct := multipartBody(t, ImageField, "a.jpg", []byte("jpeg"))
			req := httptest.NewRequest(http.MethodPost, "/analyze", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			h.Analyze(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "127.0.0.1")
			assert.NotContains(t, rec.Body.String(), "too many clients")
		})
	}
}

func TestCatalogHandler(t *testing.T) {
	h := NewCatalogHandler(testLogger(), catalog.DefaultAliasTable(), catalog.NewWhitelist(catalog.DefaultSources))

	rec := httptest.NewRecorder()
	h.Categories(rec, httptest.NewRequest(http.MethodGet, "/categories", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var cats []CategoryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cats))
	require.NotEmpty(t, cats)
	assert.Equal(t, catalog.DefaultAliasTable().Entries()[0].Category, cats[0].Name)

	rec = httptest.NewRecorder()
	h.Sources(rec, httptest.NewRequest(http.MethodGet, "/sources", nil))
	var sources []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	assert.Equal(t, catalog.DefaultSources, sources)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler(testLogger(), fakePinger{})
	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h = NewHealthHandler(testLogger(), fakePinger{err: errors.New("connection refused")})
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
