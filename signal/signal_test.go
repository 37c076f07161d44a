package signal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSliceSourceReplaysInOrder(t *testing.T) {
	t.Parallel()

	src := NewSliceSource(
		Signal{ID: "s1", Symbol: "EUR_USD", Direction: Up},
		Signal{ID: "s2", Symbol: "EUR_USD", Direction: Down},
	)

	ctx := context.Background()
	sig, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", sig.ID)

	sig, ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s2", sig.ID)

	_, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSourceReadsJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "signals.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"id":"s1","symbol":"BTC_USDT","direction":"UP","entry":30000,"confidence":0.8,"created_at":"2026-08-30T10:00:00Z"}
{"id":"s2","symbol":"BTC_USDT","direction":"DOWN","entry":29500,"confidence":0.4,"created_at":"2026-08-30T11:00:00Z"}
`), 0o644))

	src, err := NewFileSource(path)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })

	ctx := context.Background()
	sig, ok, err := src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s1", sig.ID)
	assert.Equal(t, Up, sig.Direction)
	assert.Equal(t, 30000.0, sig.Entry)
	assert.Equal(t, 0.8, sig.Confidence)

	sig, ok, err = src.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s2", sig.ID)

	_, ok, err = src.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileSourceMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewFileSource(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestSignalAge(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	sig := Signal{CreatedAt: created}
	assert.Equal(t, time.Hour, sig.Age(created.Add(time.Hour)))
}
