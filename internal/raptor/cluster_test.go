package raptor

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clusterOf returns the single cluster id of every input, failing if any input
// has more than one.
func clusterOf(t *testing.T, assignments [][]int) []int {
	t.Helper()
	out := make([]int, len(assignments))
	for i, ids := range assignments {
		require.Len(t, ids, 1, "input %d", i)
		out[i] = ids[0]
	}
	return out
}

func TestGMMClusterer_SeparatesBlobs(t *testing.T) {
	vectors := append(blob([]float32{10, 10, 0, 0}, 8, 0), blob([]float32{0, 0, 10, 10}, 8, 1)...)
	g := NewGMMClusterer(DefaultGMMConfig())

	assignments, err := g.Cluster(context.Background(), vectors)
	require.NoError(t, err)
	ids := clusterOf(t, assignments)

	for i := 1; i < 8; i++ {
		assert.Equal(t, ids[0], ids[i])
		assert.Equal(t, ids[8], ids[8+i])
	}
	assert.NotEqual(t, ids[0], ids[8])
}

func TestGMMClusterer_ProjectsHighDimensions(t *testing.T) {
	center := func(hot int) []float32 {
		v := make([]float32, 20)
		for j := hot; j < hot+10; j++ {
			v[j] = 10
		}
		return v
	}
	vectors := append(blob(center(0), 6, 0), blob(center(10), 6, 2)...)
	g := NewGMMClusterer(GMMConfig{ReducedDim: 5, Seed: 7})

	assignments, err := g.Cluster(context.Background(), vectors)
	require.NoError(t, err)
	ids := clusterOf(t, assignments)

	for i := 1; i < 6; i++ {
		assert.Equal(t, ids[0], ids[i])
		assert.Equal(t, ids[6], ids[6+i])
	}
	assert.NotEqual(t, ids[0], ids[6])
}

func TestGMMClusterer_LocalClustering(t *testing.T) {
	var vectors [][]float32
	for s, c := range [][]float32{{0, 0}, {5, 5}, {1000, 1000}, {1005, 1005}} {
		vectors = append(vectors, blob(c, 6, s)...)
	}
	g := NewGMMClusterer(GMMConfig{ReducedDim: 10, Seed: 1})

	assignments, err := g.Cluster(context.Background(), vectors)
	require.NoError(t, err)
	ids := clusterOf(t, assignments)

	distinct := map[int]bool{}
	for group := 0; group < 4; group++ {
		first := ids[group*6]
		for i := 1; i < 6; i++ {
			assert.Equal(t, first, ids[group*6+i], "group %d point %d", group, i)
		}
		distinct[first] = true
	}
	assert.Len(t, distinct, 4)
}

func TestGMMClusterer_SmallInputs(t *testing.T) {
	g := NewGMMClusterer(DefaultGMMConfig())

	assignments, err := g.Cluster(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, assignments)

	assignments, err = g.Cluster(context.Background(), [][]float32{{1, 2}, {9, 9}})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{0}, {0}}, assignments)
}

func TestGMMClusterer_Deterministic(t *testing.T) {
	vectors := append(blob([]float32{1, 1, 1}, 7, 0), blob([]float32{4, -2, 0}, 7, 3)...)
	g := NewGMMClusterer(GMMConfig{Seed: 99})

	first, err := g.Cluster(context.Background(), vectors)
	require.NoError(t, err)
	second, err := g.Cluster(context.Background(), vectors)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGMMClusterer_Errors(t *testing.T) {
	g := NewGMMClusterer(DefaultGMMConfig())

	_, err := g.Cluster(context.Background(), [][]float32{{1, 2}, {1}, {3, 4}})
	assert.Error(t, err)

	_, err = g.Cluster(context.Background(), [][]float32{{}, {}})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Cluster(ctx, blob([]float32{0, 0}, 6, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemberships(t *testing.T) {
	resp := [][]float64{
		{0.95, 0.05, 0},
		{0.55, 0.45, 0},
		{0.02, 0.98, 0},
	}
	got := memberships(resp, 0.1)
	assert.Equal(t, [][]int{{0, 1}, {1, 2}}, got, "empty component dropped")
}

func TestGMMConfig(t *testing.T) {
	cfg := GMMConfig{}.withDefaults()
	assert.Equal(t, DefaultGMMConfig().MaxClusters, cfg.MaxClusters)
	assert.Equal(t, 10, cfg.ReducedDim)
	assert.Equal(t, 0.1, cfg.Threshold)
	assert.Equal(t, int64(0), cfg.Seed)

	settings := config.Default().Hierarchy
	mapped := GMMConfigFromSettings(settings)
	assert.Equal(t, settings.MaxClusters, mapped.MaxClusters)
	assert.Equal(t, settings.Seed, mapped.Seed)
	assert.Equal(t, settings.MaxIterations, mapped.MaxIterations)
}

func TestLogSumExp(t *testing.T) {
	assert.InDelta(t, 0.0, logSumExp([]float64{-0.6931471805599453, -0.6931471805599453}), 1e-12)
	assert.InDelta(t, 1000.0, logSumExp([]float64{1000, -1000}), 1e-9)
}
