package raptor

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/fyrsmithlabs/scribe/internal/config"
)

// Clusterer groups embeddings. The result has one entry per input listing
// the cluster ids it belongs to; an input may belong to several clusters.
type Clusterer interface {
	Cluster(ctx context.Context, vectors [][]float32) ([][]int, error)
}

// GMMConfig tunes GMMClusterer.
type GMMConfig struct {
	// MaxClusters caps the component count tried per mixture. Default 50.
	MaxClusters int

	// ReducedDim is the random projection target. Vectors with at most this
	// many dimensions are clustered as is. Default 10.
	ReducedDim int

	// Threshold is the posterior above which an input joins a cluster
	// besides its most likely one. Default 0.1.
	Threshold float64

	Seed int64

	// MaxIterations bounds EM per fit. Default 100.
	MaxIterations int
}

// DefaultGMMConfig returns the default clustering settings.
func DefaultGMMConfig() GMMConfig {
	return GMMConfig{MaxClusters: 50, ReducedDim: 10, Threshold: 0.1, Seed: 224, MaxIterations: 100}
}

// GMMConfigFromSettings maps the hierarchy section of the config file.
func GMMConfigFromSettings(cfg config.HierarchyConfig) GMMConfig {
	return GMMConfig{
		MaxClusters:   cfg.MaxClusters,
		ReducedDim:    cfg.ReducedDim,
		Threshold:     cfg.Threshold,
		Seed:          cfg.Seed,
		MaxIterations: cfg.MaxIterations,
	}
}

func (c GMMConfig) withDefaults() GMMConfig {
	def := DefaultGMMConfig()
	if c.MaxClusters <= 0 {
		c.MaxClusters = def.MaxClusters
	}
	if c.ReducedDim <= 0 {
		c.ReducedDim = def.ReducedDim
	}
	if c.Threshold <= 0 {
		c.Threshold = def.Threshold
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// GMMClusterer clusters in two passes: a global Gaussian mixture over all
// inputs, then a local mixture inside every global cluster too large to
// summarize well. Component counts are chosen by BIC. Results are
// deterministic for a fixed seed.
type GMMClusterer struct {
	config GMMConfig
}

// NewGMMClusterer returns a GMMClusterer. Zero fields take defaults.
func NewGMMClusterer(cfg GMMConfig) *GMMClusterer {
	return &GMMClusterer{config: cfg.withDefaults()}
}

// Cluster implements Clusterer.
func (g *GMMClusterer) Cluster(ctx context.Context, vectors [][]float32) ([][]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("empty vector at index 0")
	}
	data := make([][]float64, n)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector at index %d has dimension %d, want %d", i, len(v), dim)
		}
		row := make([]float64, dim)
		for j, x := range v {
			row[j] = float64(x)
		}
		data[i] = row
	}

	rng := rand.New(rand.NewPCG(uint64(g.config.Seed), 0x9e3779b97f4a7c15))
	if dim > g.config.ReducedDim {
		data = project(data, g.config.ReducedDim, rng)
	}

	global, err := g.softCluster(ctx, data, rng)
	if err != nil {
		return nil, err
	}

	assignments := make([][]int, n)
	next := 0
	for _, members := range global {
		if len(members) <= g.config.ReducedDim+1 {
			for _, i := range members {
				assignments[i] = append(assignments[i], next)
			}
			next++
			continue
		}

		sub := make([][]float64, len(members))
		for k, i := range members {
			sub[k] = data[i]
		}
		local, err := g.softCluster(ctx, sub, rng)
		if err != nil {
			return nil, err
		}
		for _, localMembers := range local {
			for _, k := range localMembers {
				i := members[k]
				assignments[i] = append(assignments[i], next)
			}
			next++
		}
	}
	return assignments, nil
}

// softCluster fits the best mixture by BIC and returns the members of each
// non-empty component.
func (g *GMMClusterer) softCluster(ctx context.Context, data [][]float64, rng *rand.Rand) ([][]int, error) {
	n := len(data)
	if n < 3 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}, nil
	}

	maxK := min(g.config.MaxClusters, n/2)
	maxK = max(maxK, 1)

	var (
		best    *gaussianMixture
		bestBIC = math.Inf(1)
	)
	for k := 1; k <= maxK; k++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ll := fitMixture(data, k, g.config.MaxIterations, rng)
		if score := bic(ll, k, len(data[0]), n); score < bestBIC {
			best, bestBIC = m, score
		}
	}

	resp := newMatrix(n, len(best.weights))
	best.posteriors(data, resp)
	return memberships(resp, g.config.Threshold), nil
}

// memberships assigns every sample to its most likely component and to every
// other component whose posterior exceeds threshold. Empty components are
// dropped.
func memberships(resp [][]float64, threshold float64) [][]int {
	if len(resp) == 0 {
		return nil
	}
	k := len(resp[0])
	members := make([][]int, k)
	for i, row := range resp {
		argmax := 0
		for c := range row {
			if row[c] > row[argmax] {
				argmax = c
			}
		}
		for c, p := range row {
			if c == argmax || p > threshold {
				members[c] = append(members[c], i)
			}
		}
	}

	out := members[:0]
	for _, m := range members {
		if len(m) > 0 {
			out = append(out, m)
		}
	}
	return out
}

// project applies a Gaussian random projection to dim dimensions.
func project(data [][]float64, dim int, rng *rand.Rand) [][]float64 {
	in := len(data[0])
	scale := 1 / math.Sqrt(float64(dim))
	matrix := newMatrix(in, dim)
	for i := range matrix {
		for j := range matrix[i] {
			matrix[i][j] = rng.NormFloat64() * scale
		}
	}

	out := newMatrix(len(data), dim)
	for r, x := range data {
		for i, v := range x {
			if v == 0 {
				continue
			}
			for j := 0; j < dim; j++ {
				out[r][j] += v * matrix[i][j]
			}
		}
	}
	return out
}
