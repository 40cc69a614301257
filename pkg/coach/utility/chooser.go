package utility

import (
	"github.com/yannicktuerk/F1-Lap-Bot/log"
	"github.com/yannicktuerk/F1-Lap-Bot/pkg/model"
)

// Chooser picks the learned path when its confidence clears the
// threshold and falls back to the heuristic otherwise. The decision is
// deterministic given the same training snapshot.
type Chooser struct {
	learned   *Learned
	heuristic *Heuristic
	threshold float64
	logger    *log.Logger
}

type ChooserOption func(c *Chooser)

func WithThreshold(v float64) ChooserOption {
	return func(c *Chooser) { c.threshold = v }
}

func WithLogger(l *log.Logger) ChooserOption {
	return func(c *Chooser) { c.logger = l }
}

func NewChooser(learned *Learned, heuristic *Heuristic, opts ...ChooserOption) *Chooser {
	ret := &Chooser{
		learned:   learned,
		heuristic: heuristic,
		threshold: 0.7,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *Chooser) Estimate(c model.Candidate, ctx Context) model.UtilityEstimate {
	if s.learned.Ready() {
		est := s.learned.Estimate(c, ctx)
		if est.Confidence >= s.threshold {
			return est
		}
		s.logger.Debug("learned estimate below confidence threshold",
			log.Float64("confidence", est.Confidence))
	}
	return s.heuristic.Estimate(c, ctx)
}
