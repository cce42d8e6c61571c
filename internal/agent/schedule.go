package agent

import "math"

// #region schedule

// Schedule is linear warmup followed by cosine decay to MinRatio.
type Schedule struct {
	Warmup   int
	Total    int
	MinRatio float64
}

// Factor returns the learning-rate multiplier for the given update index.
func (s Schedule) Factor(update int) float64 {
	if update < 0 {
		update = 0
	}
	if s.Warmup > 0 && update < s.Warmup {
		return float64(update+1) / float64(s.Warmup)
	}
	span := s.Total - s.Warmup
	if span <= 0 {
		return 1
	}
	progress := math.Min(float64(update-s.Warmup)/float64(span), 1)
	return s.MinRatio + (1-s.MinRatio)*0.5*(1+math.Cos(math.Pi*progress))
}

// #endregion schedule
