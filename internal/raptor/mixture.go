package raptor

import (
	"math"
	"math/rand/v2"
)

const (
	// varianceFloorRatio scales the per-dimension data variance into the
	// smallest variance any component may shrink to.
	varianceFloorRatio = 1e-3

	convergenceTol = 1e-6
)

// gaussianMixture is a Gaussian mixture with diagonal covariances.
type gaussianMixture struct {
	weights   []float64
	means     [][]float64
	variances [][]float64
}

// fitMixture fits a k-component mixture to data with EM and returns it with
// its log-likelihood.
func fitMixture(data [][]float64, k, maxIter int, rng *rand.Rand) (*gaussianMixture, float64) {
	d := len(data[0])
	globalVar := columnVariance(data)
	floor := make([]float64, d)
	for j := range floor {
		floor[j] = varianceFloorRatio*globalVar[j] + 1e-9
	}

	m := &gaussianMixture{
		weights:   make([]float64, k),
		means:     seedMeans(data, k, rng),
		variances: make([][]float64, k),
	}
	for c := 0; c < k; c++ {
		m.weights[c] = 1 / float64(k)
		m.variances[c] = make([]float64, d)
		for j := range m.variances[c] {
			m.variances[c][j] = globalVar[j] + floor[j]
		}
	}

	resp := newMatrix(len(data), k)
	prev := math.Inf(-1)
	for iter := 0; iter < maxIter; iter++ {
		ll := m.posteriors(data, resp)
		if math.Abs(ll-prev) <= convergenceTol*math.Abs(ll) {
			break
		}
		prev = ll
		m.maximize(data, resp, floor)
	}
	return m, m.posteriors(data, resp)
}

// posteriors fills resp with per-sample component probabilities and returns
// the total log-likelihood.
func (m *gaussianMixture) posteriors(data [][]float64, resp [][]float64) float64 {
	var total float64
	for i, x := range data {
		row := resp[i]
		for c := range m.weights {
			row[c] = math.Log(m.weights[c]) + m.logDensity(c, x)
		}
		lse := logSumExp(row)
		for c := range row {
			row[c] = math.Exp(row[c] - lse)
		}
		total += lse
	}
	return total
}

func (m *gaussianMixture) logDensity(c int, x []float64) float64 {
	var s float64
	for j, v := range x {
		diff := v - m.means[c][j]
		s += math.Log(2*math.Pi*m.variances[c][j]) + diff*diff/m.variances[c][j]
	}
	return -0.5 * s
}

func (m *gaussianMixture) maximize(data [][]float64, resp [][]float64, floor []float64) {
	n := float64(len(data))
	d := len(floor)
	for c := range m.weights {
		var nk float64
		mean := make([]float64, d)
		for i, x := range data {
			r := resp[i][c]
			nk += r
			for j, v := range x {
				mean[j] += r * v
			}
		}
		// Empty components keep a tiny weight so their log stays finite.
		nk += 1e-10
		for j := range mean {
			mean[j] /= nk
		}

		variance := make([]float64, d)
		for i, x := range data {
			r := resp[i][c]
			for j, v := range x {
				diff := v - mean[j]
				variance[j] += r * diff * diff
			}
		}
		for j := range variance {
			variance[j] = variance[j]/nk + floor[j]
		}

		m.weights[c] = nk / n
		m.means[c] = mean
		m.variances[c] = variance
	}
}

// bic is the Bayesian information criterion of a fitted mixture.
func bic(logLikelihood float64, k, d, n int) float64 {
	params := k*2*d + k - 1
	return -2*logLikelihood + float64(params)*math.Log(float64(n))
}

// seedMeans picks k initial means with k-means++ seeding.
func seedMeans(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	means := [][]float64{cloneRow(data[rng.IntN(n)])}
	dist := make([]float64, n)
	for len(means) < k {
		var total float64
		for i, x := range data {
			best := math.Inf(1)
			for _, mu := range means {
				if d := sqDist(x, mu); d < best {
					best = d
				}
			}
			dist[i] = best
			total += best
		}

		pick := n - 1
		if total == 0 {
			pick = rng.IntN(n)
		} else {
			target := rng.Float64() * total
			var cum float64
			for i, d := range dist {
				cum += d
				if cum >= target {
					pick = i
					break
				}
			}
		}
		means = append(means, cloneRow(data[pick]))
	}
	return means
}

func columnVariance(data [][]float64) []float64 {
	n := float64(len(data))
	d := len(data[0])
	mean := make([]float64, d)
	for _, x := range data {
		for j, v := range x {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	variance := make([]float64, d)
	for _, x := range data {
		for j, v := range x {
			diff := v - mean[j]
			variance[j] += diff * diff
		}
	}
	for j := range variance {
		variance[j] /= n
	}
	return variance
}

func logSumExp(xs []float64) float64 {
	maxVal := math.Inf(-1)
	for _, x := range xs {
		if x > maxVal {
			maxVal = x
		}
	}
	if math.IsInf(maxVal, -1) {
		return maxVal
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - maxVal)
	}
	return maxVal + math.Log(sum)
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}

func cloneRow(x []float64) []float64 {
	return append([]float64(nil), x...)
}

func newMatrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}
