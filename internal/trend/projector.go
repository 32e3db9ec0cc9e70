// Package trend fits risk trajectories to short value histories.
package trend

import (
	"fmt"
	"math"

	"github.com/loss-prevention/kestrel/internal/domain"
)

// Point is one (time bucket, value) observation. Index is a monotonic
// bucket such as a week number.
type Point struct {
	Index int     `json:"index"`
	Value float64 `json:"value"`
}

// Projection is the fitted trend and its forward extrapolation.
type Projection struct {
	Slope          float64 `json:"slope"`
	Intercept      float64 `json:"intercept"`
	ProjectedValue float64 `json:"projectedValue"`
	Horizon        int     `json:"horizon"`
	HistoryPoints  int     `json:"historyPoints"`
}

// Projector fits an ordinary least-squares line through a history and
// projects it forward, clamped to a configured value range.
type Projector struct {
	// ClampMin / ClampMax bound projected values. Scores use [0,1]; raw
	// units (discount percentages etc.) configure their own range.
	ClampMin float64
	ClampMax float64
}

// NewProjector creates a projector clamping to [min, max].
func NewProjector(clampMin, clampMax float64) (*Projector, error) {
	if clampMin >= clampMax {
		return nil, fmt.Errorf("%w: clamp range [%v, %v] is empty", domain.ErrValidation, clampMin, clampMax)
	}
	return &Projector{ClampMin: clampMin, ClampMax: clampMax}, nil
}

// Project fits history and extrapolates horizon buckets past the last
// point. Fewer than two points is an explicit insufficient-history error,
// never a silent zero slope a caller could mistake for a flat trend.
func (p *Projector) Project(history []Point, horizon int) (*Projection, error) {
	if horizon < 0 {
		return nil, fmt.Errorf("%w: horizon must be >= 0, got %d", domain.ErrValidation, horizon)
	}
	if len(history) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 history points, got %d", domain.ErrInsufficientData, len(history))
	}
	for _, pt := range history {
		if math.IsNaN(pt.Value) || math.IsInf(pt.Value, 0) {
			return nil, fmt.Errorf("%w: history value at index %d is not finite", domain.ErrValidation, pt.Index)
		}
	}

	slope, intercept := leastSquares(history)

	current := history[len(history)-1].Value
	projected := current + slope*float64(horizon)
	if projected < p.ClampMin {
		projected = p.ClampMin
	}
	if projected > p.ClampMax {
		projected = p.ClampMax
	}

	return &Projection{
		Slope:          slope,
		Intercept:      intercept,
		ProjectedValue: projected,
		Horizon:        horizon,
		HistoryPoints:  len(history),
	}, nil
}

// ETAToThreshold returns how many buckets until the trajectory crosses
// threshold, or false when the trend never reaches it: non-positive or
// near-zero slope, or a current value already at or past the threshold.
func (p *Projection) ETAToThreshold(current, threshold float64) (int, bool) {
	const epsilon = 1e-9
	if p.Slope <= epsilon {
		return 0, false
	}
	if current >= threshold {
		return 0, false
	}
	return int(math.Ceil((threshold - current) / p.Slope)), true
}

func leastSquares(points []Point) (slope, intercept float64) {
	n := float64(len(points))

	var sumX, sumY, sumXY, sumX2 float64
	for _, pt := range points {
		x := float64(pt.Index)
		y := pt.Value
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		// All points share one index; no usable trend.
		return 0, sumY / n
	}

	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
