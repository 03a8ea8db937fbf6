// Package extractor provides the client for the image feature-extraction service.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/similarity"
)

// Extractor turns raw image bytes into a feature vector.
type Extractor interface {
	Extract(ctx context.Context, image []byte, filename string) (similarity.Vector, error)
}

// maxResponseBytes bounds the extractor reply.
const maxResponseBytes = 1 << 20

// Client calls the feature-extraction HTTP service: one multipart upload per
// image, answered with {"features": [...]}.
type Client struct {
	httpClient *http.Client
	url        string
	field      string
	dimension  int
}

// Config holds extractor client configuration.
type Config struct {
	BaseURL   string // Default: http://127.0.0.1:8000
	Path      string // Default: /analyze
	Field     string // multipart field name, default: file
	Dimension int    // expected vector length, 0 accepts any
	Timeout   time.Duration
}

// NewClient creates a new extractor client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://127.0.0.1:8000"
	}
	if cfg.Path == "" {
		cfg.Path = "/analyze"
	}
	if cfg.Field == "" {
		cfg.Field = "file"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		url:        cfg.BaseURL + cfg.Path,
		field:      cfg.Field,
		dimension:  cfg.Dimension,
	}
}

// analyzeResponse is the extractor's reply. FastAPI reports failures in
// "detail"; older deployments used "error".
type analyzeResponse struct {
	Features []float64 `json:"features"`
	Detail   any       `json:"detail,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Extract uploads image and returns its feature vector. Every failure,
// including timeouts and unusable responses, is an upstream failure.
func (c *Client) Extract(ctx context.Context, image []byte, filename string) (similarity.Vector, error) {
	if filename == "" {
		filename = "upload.jpg"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(c.field, filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, domain.UpstreamFailure("create request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.UpstreamFailure("send request", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, domain.UpstreamFailure("read response", err)
	}
	if len(data) > maxResponseBytes {
		return nil, domain.UpstreamFailure(
			fmt.Sprintf("response exceeds %d bytes", maxResponseBytes), nil)
	}

	var out analyzeResponse
	decodeErr := json.Unmarshal(data, &out)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && (out.Detail != nil || out.Error != "") {
			msg := out.Error
			if out.Detail != nil {
				msg = fmt.Sprint(out.Detail)
			}
			return nil, domain.UpstreamFailure("extractor error",
				fmt.Errorf("status %d: %s", resp.StatusCode, msg))
		}
		return nil, domain.UpstreamFailure("extractor error",
			fmt.Errorf("status %d, body: %s", resp.StatusCode, truncate(data, 256)))
	}
	if decodeErr != nil {
		return nil, domain.UpstreamFailure("unmarshal response", decodeErr)
	}
	if len(out.Features) == 0 {
		return nil, domain.UpstreamFailure("response has no features", nil)
	}
	if c.dimension > 0 && len(out.Features) != c.dimension {
		return nil, domain.UpstreamFailure(
			fmt.Sprintf("feature dimension %d, expected %d", len(out.Features), c.dimension), nil)
	}
	for i, f := range out.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, domain.UpstreamFailure(fmt.Sprintf("non-finite feature at index %d", i), nil)
		}
	}

	return similarity.Vector(out.Features), nil
}

// Dimension returns the expected vector length (0 when unchecked).
func (c *Client) Dimension() int {
	return c.dimension
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// StaticExtractor returns a fixed vector, or a fixed error. Used for tests and
// offline demos.
type StaticExtractor struct {
	Vector similarity.Vector
	Err    error
	Calls  int
}

// Extract returns the configured vector or error.
func (s *StaticExtractor) Extract(ctx context.Context, image []byte, filename string) (similarity.Vector, error) {
	s.Calls++
	if err := ctx.Err(); err != nil {
		return nil, domain.UpstreamFailure("extract", err)
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make(similarity.Vector, len(s.Vector))
	copy(out, s.Vector)
	return out, nil
}

// Ensure implementations satisfy interface.
var (
	_ Extractor = (*Client)(nil)
	_ Extractor = (*StaticExtractor)(nil)
)
