package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/matching"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// ImageField is the multipart field carrying the uploaded image.
const ImageField = "image"

// Matcher ranks catalog products against an image.
type Matcher interface {
	Match(ctx context.Context, image []byte, filename string) ([]matching.Match, error)
}

// AnalyzeHandler handles image match uploads.
type AnalyzeHandler struct {
	logger         *observability.Logger
	matcher        Matcher
	maxUploadBytes int64
}

// NewAnalyzeHandler creates a new analyze handler.
func NewAnalyzeHandler(logger *observability.Logger, matcher Matcher, maxUploadBytes int64) *AnalyzeHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &AnalyzeHandler{logger: logger, matcher: matcher, maxUploadBytes: maxUploadBytes}
}

// Analyze handles POST /analyze with a multipart image upload.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)

	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)

	file, header, err := r.FormFile(ImageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusBadRequest, "analyze failed", "upload exceeds size limit")
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, "analyze failed", "no image uploaded")
		default:
			writeError(w, http.StatusBadRequest, "analyze failed", "invalid multipart upload")
		}
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "analyze failed", "could not read upload")
		return
	}
	if int64(len(image)) > h.maxUploadBytes {
		writeError(w, http.StatusBadRequest, "analyze failed", "upload exceeds size limit")
		return
	}

	matches, err := h.matcher.Match(ctx, image, header.Filename)
	if err != nil {
		if errors.Is(err, matching.ErrMissingInput) {
			writeError(w, http.StatusBadRequest, "analyze failed", "no image uploaded")
			return
		}
		writeFailure(w, log, "analyze", err)
		return
	}

	writeJSON(w, log, matches)
}
