package utility

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

const (
	numFeatures = 15
	ridgeLambda = 1.0
)

// Learned is an incremental least-squares linear model over a fixed
// feature vector, trained from realized review outcomes. It keeps the
// normal equations (X'X, X'y) so an update is O(d^2) and a refit is a
// single Cholesky solve, cheap enough for the decision cycle budget.
type Learned struct {
	mu         sync.Mutex
	xtx        *mat.SymDense
	xty        *mat.VecDense
	weights    *mat.VecDense
	samples    int
	preds      int
	sumSqErr   float64
	minSamples int
}

type LearnedOption func(l *Learned)

func WithMinSamples(n int) LearnedOption {
	return func(l *Learned) { l.minSamples = n }
}

func NewLearned(opts ...LearnedOption) *Learned {
	ret := &Learned{
		xtx:        mat.NewSymDense(numFeatures, nil),
		xty:        mat.NewVecDense(numFeatures, nil),
		minSamples: 50,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Ready reports whether the model has been fit on enough samples to be
// considered at all.
func (l *Learned) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.weights != nil
}

// Train incorporates one realized outcome (gain in ms, negative for a
// loss) and refits once the sample threshold is reached.
func (l *Learned) Train(c model.Candidate, ctx Context, realizedMs float64) {
	x := features(c, ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	// track out-of-sample residuals before the update
	if l.weights != nil {
		err := mat.Dot(x, l.weights) - realizedMs
		l.sumSqErr += err * err
		l.preds++
	}

	l.xtx.SymRankOne(l.xtx, 1, x)
	l.xty.AddScaledVec(l.xty, realizedMs, x)
	l.samples++

	if l.samples >= l.minSamples {
		l.refit()
	}
}

// refit solves the ridge-regularized normal equations. Caller holds mu.
func (l *Learned) refit() {
	reg := mat.NewSymDense(numFeatures, nil)
	reg.CopySym(l.xtx)
	for i := 0; i < numFeatures; i++ {
		reg.SetSym(i, i, reg.At(i, i)+ridgeLambda)
	}
	var chol mat.Cholesky
	if !chol.Factorize(reg) {
		return
	}
	w := mat.NewVecDense(numFeatures, nil)
	if err := chol.SolveVecTo(w, l.xty); err != nil {
		return
	}
	l.weights = w
}

func (l *Learned) Estimate(c model.Candidate, ctx Context) model.UtilityEstimate {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.weights == nil {
		return model.UtilityEstimate{Candidate: c, Heuristic: true}
	}
	gain := mat.Dot(features(c, ctx), l.weights)
	return model.UtilityEstimate{
		Candidate:    c,
		ExpectedGain: gain,
		Confidence:   l.confidence(),
	}
}

// confidence combines sample support with out-of-sample residual
// spread. Caller holds mu.
func (l *Learned) confidence() float64 {
	support := float64(l.samples) / float64(l.samples+l.minSamples)
	if l.preds == 0 {
		return support * 0.5
	}
	residStd := math.Sqrt(l.sumSqErr / float64(l.preds))
	return support / (1 + residStd/50)
}

func features(c model.Candidate, ctx Context) *mat.VecDense {
	x := make([]float64, numFeatures)
	x[0] = 1
	x[1+int(c.Action)] = 1
	x[6] = float64(c.Intensity) / 3
	x[7] = ctx.Impact.DeltaMs / 100
	x[8] = ctx.Impact.NormalizedImpact
	x[9] = float64(ctx.States.Entry) / 2
	x[10] = float64(ctx.States.Exit) / 2
	x[11+int(ctx.Class)] = 1
	return mat.NewVecDense(numFeatures, x)
}
