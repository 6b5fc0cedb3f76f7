package blockcache

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal(line, &rec))
		out = append(out, rec)
	}
	return out
}

func TestLoggerOutcomes(t *testing.T) {
	ctx := context.Background()
	l, buf := newBufferLogger(slog.LevelDebug)
	l = l.WithTier("hot")

	l.LogPut(ctx, "a", 12, nil)
	l.LogDemotion(ctx, "b", errors.New("boom"))
	l.LogEviction(ctx, "c", true)

	recs := decodeRecords(t, buf)
	require.Len(t, recs, 3)

	assert.Equal(t, "put completed", recs[0]["msg"])
	assert.Equal(t, "DEBUG", recs[0]["level"])
	assert.Equal(t, "a", recs[0]["key"])
	assert.EqualValues(t, 12, recs[0]["size"])
	assert.Equal(t, "hot", recs[0]["tier"])

	assert.Equal(t, "demotion failed", recs[1]["msg"])
	assert.Equal(t, "WARN", recs[1]["level"])
	assert.Equal(t, "boom", recs[1]["error"])

	assert.Equal(t, "eviction completed", recs[2]["msg"])
	assert.Equal(t, true, recs[2]["vetoed"])
}

func TestLoggerSkipsDisabledLevels(t *testing.T) {
	ctx := context.Background()
	l, buf := newBufferLogger(slog.LevelInfo)

	l.LogPut(ctx, "a", 1, nil)
	l.LogRemove(ctx, "a", nil)
	l.LogBatchPut(ctx, 4, 0)
	assert.Zero(t, buf.Len())

	l.LogPut(ctx, "a", 1, ErrNoFreeBlock)
	l.LogBatchPut(ctx, 4, 1)

	recs := decodeRecords(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "ERROR", recs[0]["level"])
	assert.Equal(t, "batch put completed with failures", recs[1]["msg"])
	assert.EqualValues(t, 3, recs[1]["success"])
}

func TestNoopLogger(t *testing.T) {
	l := NoopLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelError))
	l.LogPut(context.Background(), "a", 1, errors.New("ignored"))
}
