package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &m))
	return m
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "debug", Format: "json", Output: &buf, ServiceName: "fashion-engine"})

	ctx := ContextWithTraceID(context.Background(), "req-42")
	log.WithContext(ctx).WithOperation("match").WithSource("hm_products").
		Info().Int("results", 9).Err(errors.New("none")).Msg("Match completed")

	m := decodeLine(t, &buf)
	assert.Equal(t, "fashion-engine", m["service"])
	assert.Equal(t, "req-42", m["trace_id"])
	assert.Equal(t, "match", m["operation"])
	assert.Equal(t, "hm_products", m["source"])
	assert.Equal(t, float64(9), m["results"])
	assert.Equal(t, "none", m["error"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "Match completed", m["message"])
}

func TestLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "warn", Output: &buf})

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_DomainFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(LogConfig{Level: "debug", Output: &buf})

	log.WithRun("run-1").Debug().
		Stage("score_and_select").
		Product("zara_products:7").
		Latency(time.Now().Add(-time.Second)).
		Msg("Excluded candidate")

	m := decodeLine(t, &buf)
	assert.Equal(t, "run-1", m[FieldRunID])
	assert.Equal(t, "score_and_select", m[FieldStage])
	assert.Equal(t, "zara_products:7", m[FieldProduct])
	assert.GreaterOrEqual(t, m[FieldLatency], float64(1000))
	assert.Equal(t, "fashion-engine", m["service"])
}

func TestLogger_LevelIsPerLogger(t *testing.T) {
	var quiet, loud bytes.Buffer
	q := NewLogger(LogConfig{Level: "error", Output: &quiet})
	l := NewLogger(LogConfig{Level: "debug", Output: &loud})

	q.Info().Msg("hidden")
	l.Debug().Msg("shown")

	assert.Zero(t, quiet.Len())
	assert.NotZero(t, loud.Len())
}

func TestLogger_WithContextWithoutTrace(t *testing.T) {
	log := NewLogger(LogConfig{Output: &bytes.Buffer{}})
	assert.Same(t, log, log.WithContext(context.Background()))
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("debug").String())
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("bogus").String())
}
