package clustering

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobs() [][]float64 {
	return [][]float64{
		{0, 0}, {0.1, 0}, {0, 0.1},
		{10, 10}, {10.1, 10}, {10, 10.1},
		{-10, 10}, {-10.1, 10}, {-10, 10.1},
	}
}

func TestKMeansSeparatesBlobs(t *testing.T) {
	labels, err := KMeans(blobs(), 3, 0, 7)
	require.NoError(t, err)
	require.Len(t, labels, 9)

	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2, 2, 2}, labels)
}

func TestKMeansReducesKToN(t *testing.T) {
	labels, err := KMeans([][]float64{{0, 0}, {5, 5}}, 5, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, labels)
}

func TestKMeansIdenticalPoints(t *testing.T) {
	pts := [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	labels, err := KMeans(pts, 3, 0, 1)
	require.NoError(t, err)
	assert.Len(t, labels, 4)
}

func TestKMeansErrors(t *testing.T) {
	_, err := KMeans(nil, 3, 0, 1)
	assert.Error(t, err)

	_, err = KMeans([][]float64{{1}}, 0, 0, 1)
	assert.Error(t, err)

	_, err = KMeans([][]float64{{1, 2}, {1}}, 2, 0, 1)
	assert.Error(t, err)
}

func TestKMeansSameSeedSameLabels(t *testing.T) {
	a, err := KMeans(blobs(), 4, 0, 99)
	require.NoError(t, err)
	b, err := KMeans(blobs(), 4, 0, 99)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTSNEKeepsNeighboursClose(t *testing.T) {
	pts := blobs()
	y, err := TSNE(pts, 2, TSNEOptions{Iterations: 500, Seed: 3})
	require.NoError(t, err)
	require.Len(t, y, len(pts))

	dist := func(a, b []float64) float64 {
		dx, dy := a[0]-b[0], a[1]-b[1]
		return dx*dx + dy*dy
	}
	within := dist(y[0], y[1])
	across := dist(y[0], y[3])
	assert.Less(t, within, across)
}

func TestTSNEEdgeCases(t *testing.T) {
	y, err := TSNE([][]float64{{1, 2, 3}}, 3, TSNEOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0, 0}}, y)

	y, err = TSNE(nil, 2, TSNEOptions{})
	require.NoError(t, err)
	assert.Empty(t, y)

	_, err = TSNE([][]float64{{1}}, 0, TSNEOptions{})
	assert.Error(t, err)
}

type scriptedGenerator struct {
	reply string
	err   error
	calls int
}

func (g *scriptedGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return g.reply, g.err
}

func TestLabelerCleansAndCaches(t *testing.T) {
	gen := &scriptedGenerator{reply: "1. \"Cell Biology and the Structure of Living Things\"\nextra"}
	l := NewLabeler(gen, nil)

	name := l.Label(context.Background(), 0, []string{"mitochondria", "ribosomes"})
	assert.Equal(t, "Cell Biology and the Structure", name)

	again := l.Label(context.Background(), 4, []string{"mitochondria", "ribosomes"})
	assert.Equal(t, name, again)
	assert.Equal(t, 1, gen.calls)
}

func TestLabelerFallbacks(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "Topic 3", NewLabeler(nil, nil).Label(ctx, 2, []string{"x"}))
	assert.Equal(t, "Topic 1", NewLabeler(&scriptedGenerator{reply: "  \n"}, nil).Label(ctx, 0, []string{"x"}))
	assert.Equal(t, "Topic 2", NewLabeler(&scriptedGenerator{err: errors.New("down")}, nil).Label(ctx, 1, []string{"x"}))
}
