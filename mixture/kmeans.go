package mixture

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/gocmt/pkg/errors"
	"github.com/YuminosukeSato/gocmt/pkg/log"
)

// MiniBatchKMeans はミニバッチK-meansクラスタリング
// 混合モデルの初期化に使用し、乱数はモデルの生成器から受け取る
type MiniBatchKMeans struct {
	// ハイパーパラメータ
	nClusters        int     // クラスタ数
	maxIter          int     // 最大イテレーション数
	batchSize        int     // ミニバッチサイズ
	tol              float64 // 収束判定の許容誤差
	maxNoImprovement int     // 改善なしの最大イテレーション数
	nInit            int     // 異なる初期化での実行回数

	// 学習パラメータ
	centers [][]float64 // クラスタ中心（nClusters x nFeatures）
	labels  []int       // 各サンプルのクラスタラベル
	counts  []int       // 各クラスタのサンプル数
	inertia float64     // クラスタ内平方和誤差
	nIter   int         // 実行されたイテレーション数

	rng    *rand.Rand
	logger log.Logger
}

// KMeansOption はMiniBatchKMeansの設定オプション
type KMeansOption func(*MiniBatchKMeans)

// NewMiniBatchKMeans は新しいMiniBatchKMeansを作成
func NewMiniBatchKMeans(nClusters int, rng *rand.Rand, options ...KMeansOption) *MiniBatchKMeans {
	kmeans := &MiniBatchKMeans{
		nClusters:        nClusters,
		maxIter:          100,
		batchSize:        100,
		tol:              0.0,
		maxNoImprovement: 10,
		nInit:            3,
		rng:              rng,
	}
	for _, opt := range options {
		opt(kmeans)
	}
	if kmeans.rng == nil {
		kmeans.rng = rand.New(rand.NewPCG(0, 0))
	}
	if kmeans.logger == nil {
		kmeans.logger = log.GetLogger()
	}
	return kmeans
}

// WithKMeansMaxIter は最大イテレーション数を設定
func WithKMeansMaxIter(maxIter int) KMeansOption {
	return func(kmeans *MiniBatchKMeans) {
		kmeans.maxIter = maxIter
	}
}

// WithKMeansBatchSize はミニバッチサイズを設定
func WithKMeansBatchSize(batchSize int) KMeansOption {
	return func(kmeans *MiniBatchKMeans) {
		kmeans.batchSize = batchSize
	}
}

// WithKMeansTol は収束判定の許容誤差を設定
func WithKMeansTol(tol float64) KMeansOption {
	return func(kmeans *MiniBatchKMeans) {
		kmeans.tol = tol
	}
}

// WithKMeansNInit sets the number of restarts; the run with the lowest
// inertia wins.
func WithKMeansNInit(n int) KMeansOption {
	return func(kmeans *MiniBatchKMeans) {
		kmeans.nInit = n
	}
}

// WithKMeansLogger sets the logger for per-run debug output.
func WithKMeansLogger(logger log.Logger) KMeansOption {
	return func(kmeans *MiniBatchKMeans) {
		kmeans.logger = logger
	}
}

// Fit はバッチ学習でモデルを訓練
func (kmeans *MiniBatchKMeans) Fit(X mat.Matrix) error {
	if X == nil {
		return errors.Wrap(errors.ErrEmptyData, "MiniBatchKMeans.Fit")
	}
	rows, _ := X.Dims()
	if kmeans.nClusters <= 0 {
		return errors.NewValidationError("nClusters", "must be positive", kmeans.nClusters)
	}
	if rows < kmeans.nClusters {
		return errors.NewValidationError("nClusters", "exceeds the number of samples", kmeans.nClusters)
	}
	if kmeans.batchSize <= 0 || kmeans.maxIter <= 0 || kmeans.nInit <= 0 {
		return errors.NewValidationError("kmeans", "batchSize, maxIter and nInit must be positive",
			[]int{kmeans.batchSize, kmeans.maxIter, kmeans.nInit})
	}

	// 複数回実行して最良の結果を選択
	kmeans.inertia = math.Inf(1)
	for run := 0; run < kmeans.nInit; run++ {
		centers, labels, counts, inertia, nIter := kmeans.fitSingleRun(X)
		kmeans.logger.Debug("k-means run finished",
			log.ComponentKey, "kmeans",
			"run", run,
			log.IterationKey, nIter,
			log.LossKey, inertia,
		)
		if inertia < kmeans.inertia {
			kmeans.centers = centers
			kmeans.labels = labels
			kmeans.counts = counts
			kmeans.inertia = inertia
			kmeans.nIter = nIter
		}
	}
	return nil
}

// fitSingleRun は単一回の学習を実行
func (kmeans *MiniBatchKMeans) fitSingleRun(X mat.Matrix) ([][]float64, []int, []int, float64, int) {
	rows, cols := X.Dims()

	centers := kmeans.initKMeansPlusPlus(X)
	counts := make([]int, kmeans.nClusters)
	sample := make([]float64, cols)

	prevInertia := math.Inf(1)
	noImprovementCount := 0
	finalIter := 0

	for iter := 0; iter < kmeans.maxIter; iter++ {
		finalIter = iter + 1
		for _, idx := range kmeans.selectMiniBatch(rows) {
			mat.Row(sample, idx, X)
			nearest := nearestCenter(sample, centers)

			// クラスタ中心の更新（学習率 1/count）
			counts[nearest]++
			eta := 1.0 / float64(counts[nearest])
			for j := 0; j < cols; j++ {
				centers[nearest][j] = (1-eta)*centers[nearest][j] + eta*sample[j]
			}
		}

		inertia, _ := assign(X, centers)
		if prevInertia-inertia <= kmeans.tol {
			noImprovementCount++
			if noImprovementCount >= kmeans.maxNoImprovement {
				break
			}
		} else {
			noImprovementCount = 0
		}
		prevInertia = inertia
	}

	// 最終的なラベルの計算
	inertia, labels := assign(X, centers)
	final := make([]int, kmeans.nClusters)
	for _, l := range labels {
		final[l]++
	}
	return centers, labels, final, inertia, finalIter
}

// initKMeansPlusPlus はk-means++初期化を実行
func (kmeans *MiniBatchKMeans) initKMeansPlusPlus(X mat.Matrix) [][]float64 {
	rows, _ := X.Dims()
	centers := make([][]float64, 0, kmeans.nClusters)
	centers = append(centers, mat.Row(nil, kmeans.rng.IntN(rows), X))

	distances := make([]float64, rows)
	for c := 1; c < kmeans.nClusters; c++ {
		// 各サンプルから最近傍クラスタ中心までの距離の二乗
		for i := 0; i < rows; i++ {
			sample := mat.Row(nil, i, X)
			d := floats.Distance(sample, centers[nearestCenter(sample, centers)], 2)
			distances[i] = d * d
		}
		total := floats.Sum(distances)

		selected := kmeans.rng.IntN(rows)
		if total > 0 {
			// 確率に応じてサンプルを選択
			target := kmeans.rng.Float64() * total
			cumSum := 0.0
			for i, d := range distances {
				cumSum += d
				if cumSum >= target {
					selected = i
					break
				}
			}
		}
		centers = append(centers, mat.Row(nil, selected, X))
	}
	return centers
}

// selectMiniBatch はミニバッチのサンプルインデックスを選択
func (kmeans *MiniBatchKMeans) selectMiniBatch(nSamples int) []int {
	batchSize := min(kmeans.batchSize, nSamples)
	return kmeans.rng.Perm(nSamples)[:batchSize]
}

// Predict returns the nearest center of every row.
func (kmeans *MiniBatchKMeans) Predict(X mat.Matrix) ([]int, error) {
	if kmeans.centers == nil {
		return nil, errors.New("MiniBatchKMeans: model is not fitted")
	}
	if _, c := X.Dims(); c != len(kmeans.centers[0]) {
		return nil, errors.NewDimensionError("MiniBatchKMeans.Predict", len(kmeans.centers[0]), c, 1)
	}
	_, labels := assign(X, kmeans.centers)
	return labels, nil
}

// ClusterCenters は学習されたクラスタ中心を返す
func (kmeans *MiniBatchKMeans) ClusterCenters() [][]float64 {
	centers := make([][]float64, len(kmeans.centers))
	for i := range kmeans.centers {
		centers[i] = append([]float64(nil), kmeans.centers[i]...)
	}
	return centers
}

// Labels は学習データのクラスタラベルを返す
func (kmeans *MiniBatchKMeans) Labels() []int {
	return append([]int(nil), kmeans.labels...)
}

// Counts returns the number of training rows assigned to each cluster.
func (kmeans *MiniBatchKMeans) Counts() []int {
	return append([]int(nil), kmeans.counts...)
}

// Inertia は慣性（クラスタ内平方和誤差）を返す
func (kmeans *MiniBatchKMeans) Inertia() float64 {
	return kmeans.inertia
}

// NIterations は実行された学習イテレーション数を返す
func (kmeans *MiniBatchKMeans) NIterations() int {
	return kmeans.nIter
}

// assign returns the inertia and the nearest center of every row.
func assign(X mat.Matrix, centers [][]float64) (float64, []int) {
	rows, cols := X.Dims()
	labels := make([]int, rows)
	sample := make([]float64, cols)
	inertia := 0.0
	for i := 0; i < rows; i++ {
		mat.Row(sample, i, X)
		labels[i] = nearestCenter(sample, centers)
		d := floats.Distance(sample, centers[labels[i]], 2)
		inertia += d * d
	}
	return inertia, labels
}

// nearestCenter は最近傍クラスタを検索
func nearestCenter(sample []float64, centers [][]float64) int {
	minDist := math.Inf(1)
	nearest := 0
	for c, center := range centers {
		if d := floats.Distance(sample, center, 2); d < minDist {
			minDist = d
			nearest = c
		}
	}
	return nearest
}
