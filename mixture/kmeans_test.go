package mixture

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
)

func TestMiniBatchKMeansSeparatedBlobs(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	centers := [][]float64{{0, 0}, {10, 0}, {0, 10}}
	X := mat.NewDense(300, 2, nil)
	for i := 0; i < 300; i++ {
		c := centers[i/100]
		X.Set(i, 0, c[0]+0.5*rng.NormFloat64())
		X.Set(i, 1, c[1]+0.5*rng.NormFloat64())
	}

	km := NewMiniBatchKMeans(3, rand.New(rand.NewPCG(2, 2)))
	require.NoError(t, km.Fit(X))

	labels := km.Labels()
	require.Len(t, labels, 300)
	seen := map[int]bool{}
	for blob := 0; blob < 3; blob++ {
		l := labels[blob*100]
		for i := blob * 100; i < (blob+1)*100; i++ {
			assert.Equal(t, l, labels[i], "blob %d is split", blob)
		}
		assert.False(t, seen[l], "blobs share a cluster")
		seen[l] = true
	}

	counts := km.Counts()
	assert.Equal(t, []int{100, 100, 100}, counts)
	assert.Less(t, km.Inertia(), 300.0)
	assert.Positive(t, km.NIterations())

	pred, err := km.Predict(mat.NewDense(1, 2, []float64{9.5, 0.3}))
	require.NoError(t, err)
	assert.Equal(t, labels[100], pred[0])
}

func TestMiniBatchKMeansErrors(t *testing.T) {
	X := mat.NewDense(2, 2, []float64{0, 0, 1, 1})

	var valErr *errors.ValidationError
	err := NewMiniBatchKMeans(3, nil).Fit(X)
	assert.True(t, errors.As(err, &valErr))

	err = NewMiniBatchKMeans(1, nil, WithKMeansBatchSize(0)).Fit(X)
	assert.True(t, errors.As(err, &valErr))

	_, err = NewMiniBatchKMeans(1, nil).Predict(X)
	assert.Error(t, err)

	km := NewMiniBatchKMeans(1, nil, WithKMeansMaxIter(5), WithKMeansNInit(1), WithKMeansTol(1e-3))
	require.NoError(t, km.Fit(X))
	_, err = km.Predict(mat.NewDense(1, 3, nil))
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))
}
