package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/couchcryptid/fim-rem-etl/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach_RunsEveryKeyDespiteFailures(t *testing.T) {
	var ran atomic.Int32
	boom := errors.New("boom")

	err := forEach(context.Background(), 2, []string{"a", "b", "c", "d"}, slog.New(slog.DiscardHandler),
		func(_ context.Context, k string) error {
			ran.Add(1)
			if k == "b" || k == "d" {
				return boom
			}
			return nil
		})

	assert.Equal(t, int32(4), ran.Load())
	require.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "b: boom")
	assert.ErrorContains(t, err, "d: boom")
}

func TestForEach_RespectsWorkerLimit(t *testing.T) {
	var active, peak atomic.Int32
	keys := make([]int, 20)
	for i := range keys {
		keys[i] = i
	}
	release := make(chan struct{})
	go func() {
		for range keys {
			release <- struct{}{}
		}
	}()

	err := forEach(context.Background(), 3, keys, slog.New(slog.DiscardHandler), func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		return nil
	})

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestOwnershipDataType(t *testing.T) {
	assert.Equal(t, raster.Int32, ownershipDataType([]domain.FeatureID{1001, 1002}, -9999))
	assert.Equal(t, raster.Float64, ownershipDataType(nil, -9999.5))
	assert.Equal(t, raster.Float64, ownershipDataType([]domain.FeatureID{1 << 40}, -9999))
}
