package trainer

import (
	"math"
)

// earlyStopping tracks validation scores. Higher scores are better; a score
// counts as an improvement only when it is strictly greater than the best
// score seen so far.
type earlyStopping struct {
	lookAhead int

	bestScore       float64
	bestIteration   int
	bestParameters  []float64
	roundsNoImprove int
}

func newEarlyStopping(lookAhead int) *earlyStopping {
	return &earlyStopping{
		lookAhead:     lookAhead,
		bestScore:     math.Inf(-1),
		bestIteration: -1,
	}
}

// update records the score of params at iteration and reports whether
// training should stop. params is copied on improvement.
func (es *earlyStopping) update(iteration int, score float64, params []float64) bool {
	if score > es.bestScore {
		es.bestScore = score
		es.bestIteration = iteration
		es.bestParameters = append(es.bestParameters[:0], params...)
		es.roundsNoImprove = 0
		return false
	}
	es.roundsNoImprove++
	return es.roundsNoImprove >= es.lookAhead
}

// best returns the parameters with the highest score, or nil when no finite
// score was recorded.
func (es *earlyStopping) best() []float64 {
	if es.bestIteration < 0 {
		return nil
	}
	return es.bestParameters
}
