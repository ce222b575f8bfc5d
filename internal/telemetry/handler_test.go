package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
)

type recordingLogger struct {
	embedded.Logger
	records []log.Record
}

func (l *recordingLogger) Emit(_ context.Context, r log.Record) {
	l.records = append(l.records, r.Clone())
}

func (l *recordingLogger) Enabled(context.Context, log.EnabledParameters) bool { return true }

func attrsOf(r log.Record) map[string]string {
	out := map[string]string{}
	r.WalkAttributes(func(kv log.KeyValue) bool {
		out[kv.Key] = kv.Value.String()
		return true
	})
	return out
}

func TestHandler_EmitsAndForwards(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingLogger{}
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, nil), rec))

	logger.With("collection", "listings").
		WithGroup("sync").
		Warn("refresh failed", "fetched", 3, "error", errors.New("unreachable"), "took", 2*time.Second)

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	assert.Equal(t, "refresh failed", r.Body().AsString())
	assert.Equal(t, log.SeverityWarn, r.Severity())
	assert.Equal(t, map[string]string{
		"collection":   "listings",
		"sync.fetched": "3",
		"sync.error":   "unreachable",
		"sync.took":    "2s",
	}, attrsOf(r))

	assert.True(t, strings.Contains(buf.String(), "refresh failed"), "record reaches the next handler")
}

func TestHandler_RespectsNextLevel(t *testing.T) {
	var buf bytes.Buffer
	rec := &recordingLogger{}
	logger := slog.New(NewHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}), rec))

	logger.Debug("noise")
	logger.Error("boom", slog.Group("db", "path", "/tmp/cache.db"))

	require.Len(t, rec.records, 1)
	assert.Equal(t, log.SeverityError, rec.records[0].Severity())
	assert.Equal(t, map[string]string{"db.path": "/tmp/cache.db"}, attrsOf(rec.records[0]))
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, log.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, log.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, log.SeverityWarn, severity(slog.LevelWarn+1))
	assert.Equal(t, log.SeverityError, severity(slog.LevelError+4))
}
