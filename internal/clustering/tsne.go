package clustering

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// TSNEOptions tunes the exact t-SNE projection. Zero values take defaults.
type TSNEOptions struct {
	Perplexity   float64 // default 30, clamped to (n-1)/3
	Iterations   int     // default 1000
	LearningRate float64 // default 200
	Seed         uint64
}

const (
	exaggeration      = 12.0
	exaggerationIters = 250
	minGain           = 0.01
	perplexityTol     = 1e-5
	maxBetaSteps      = 50
)

// TSNE projects points into dims dimensions with exact (O(n²)) t-SNE. The
// output keeps input order. The same options and input always give the same
// coordinates.
func TSNE(points [][]float64, dims int, opts TSNEOptions) ([][]float64, error) {
	n := len(points)
	if dims < 1 {
		return nil, fmt.Errorf("tsne: dims must be positive, got %d", dims)
	}
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, dims)
	}
	if n <= 1 {
		return out, nil
	}

	if opts.Perplexity <= 0 {
		opts.Perplexity = 30
	}
	if max := float64(n-1) / 3; opts.Perplexity > max {
		opts.Perplexity = math.Max(max, 1)
	}
	if opts.Iterations <= 0 {
		opts.Iterations = 1000
	}
	if opts.LearningRate <= 0 {
		opts.LearningRate = 200
	}

	p := jointProbabilities(points, opts.Perplexity)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0xda3e39cb94b95bdb))
	y := out
	for i := range y {
		for d := range y[i] {
			y[i][d] = rng.NormFloat64() * 1e-4
		}
	}

	update := make([][]float64, n)
	gains := make([][]float64, n)
	grad := make([][]float64, n)
	for i := range update {
		update[i] = make([]float64, dims)
		gains[i] = make([]float64, dims)
		grad[i] = make([]float64, dims)
		for d := range gains[i] {
			gains[i][d] = 1
		}
	}
	num := make([]float64, n*n)

	for iter := 0; iter < opts.Iterations; iter++ {
		exag, momentum := 1.0, 0.8
		if iter < exaggerationIters {
			exag, momentum = exaggeration, 0.5
		}

		// Student-t affinities in the embedding.
		var sumQ float64
		for i := 0; i < n; i++ {
			num[i*n+i] = 0
			for j := i + 1; j < n; j++ {
				d := floats.Distance(y[i], y[j], 2)
				v := 1 / (1 + d*d)
				num[i*n+j], num[j*n+i] = v, v
				sumQ += 2 * v
			}
		}
		if sumQ == 0 {
			sumQ = math.SmallestNonzeroFloat64
		}

		for i := 0; i < n; i++ {
			for d := range grad[i] {
				grad[i][d] = 0
			}
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i*n+j]/sumQ, 1e-12)
				mult := 4 * (exag*p[i*n+j] - q) * num[i*n+j]
				for d := range grad[i] {
					grad[i][d] += mult * (y[i][d] - y[j][d])
				}
			}
		}

		for i := 0; i < n; i++ {
			for d := 0; d < dims; d++ {
				if (grad[i][d] > 0) != (update[i][d] > 0) {
					gains[i][d] += 0.2
				} else {
					gains[i][d] *= 0.8
				}
				gains[i][d] = math.Max(gains[i][d], minGain)
				update[i][d] = momentum*update[i][d] - opts.LearningRate*gains[i][d]*grad[i][d]
				y[i][d] += update[i][d]
			}
		}

		center(y)
	}
	return y, nil
}

// jointProbabilities returns the symmetrised input affinities as a flat n×n
// matrix. Each row's Gaussian bandwidth is found by binary search so that its
// entropy matches log(perplexity).
func jointProbabilities(points [][]float64, perplexity float64) []float64 {
	n := len(points)
	dist := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := floats.Distance(points[i], points[j], 2)
			dist[i*n+j], dist[j*n+i] = d*d, d*d
		}
	}

	target := math.Log(perplexity)
	cond := make([]float64, n*n)
	row := make([]float64, n)
	for i := 0; i < n; i++ {
		beta, lo, hi := 1.0, math.Inf(-1), math.Inf(1)
		for step := 0; step < maxBetaSteps; step++ {
			h := rowEntropy(dist[i*n:(i+1)*n], i, beta, row)
			diff := h - target
			if math.Abs(diff) < perplexityTol {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				if math.IsInf(lo, -1) {
					beta /= 2
				} else {
					beta = (beta + lo) / 2
				}
			}
		}
		copy(cond[i*n:(i+1)*n], row)
	}

	p := make([]float64, n*n)
	denom := 2 * float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			p[i*n+j] = math.Max((cond[i*n+j]+cond[j*n+i])/denom, 1e-12)
		}
	}
	return p
}

// rowEntropy fills row with the conditional probabilities p(j|i) for the
// given precision beta and returns their Shannon entropy.
func rowEntropy(dist []float64, i int, beta float64, row []float64) float64 {
	// Subtract the smallest distance before exponentiating to avoid underflow.
	minD := math.Inf(1)
	for j, d := range dist {
		if j != i && d < minD {
			minD = d
		}
	}
	var sum float64
	for j, d := range dist {
		if j == i {
			row[j] = 0
			continue
		}
		row[j] = math.Exp(-(d - minD) * beta)
		sum += row[j]
	}
	if sum == 0 {
		return 0
	}
	var h float64
	for j := range row {
		if j == i {
			continue
		}
		row[j] /= sum
		if row[j] > 0 {
			h -= row[j] * math.Log(row[j])
		}
	}
	return h
}

func center(y [][]float64) {
	if len(y) == 0 {
		return
	}
	mean := make([]float64, len(y[0]))
	for _, v := range y {
		floats.Add(mean, v)
	}
	floats.Scale(1/float64(len(y)), mean)
	for _, v := range y {
		floats.Sub(v, mean)
	}
}
