// Package volatility implements the annualized realized volatility endpoint
// supplemented from original_source/ (SPEC_FULL §12). This is a pure
// numeric reduction over an already-fetched price series, so it is built on
// the standard library's math package rather than a third-party
// statistics library: no example in the retrieval pack imports one, and the
// computation (log returns, sample stddev, annualization) is a dozen lines
// that a dependency would not meaningfully simplify.
package volatility

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pragma-node/oracle-node/internal/apierr"
)

// secondsPerYear annualizes a volatility estimate: Annualized divides it by
// the series' average sampling interval to get periods per year. 365 days
// of continuous trading is assumed, matching a crypto-native price feed
// rather than a traditional market calendar.
const secondsPerYear = 365 * 24 * 60 * 60

// Point is one price observation in the input series, ascending in time.
type Point struct {
	Time  time.Time
	Price decimal.Decimal
}

// Annualized computes the annualized realized volatility of a price series:
// the sample standard deviation of consecutive log returns, scaled by
// sqrt(periods per year) for the series' average sampling interval.
func Annualized(points []Point) (float64, error) {
	if len(points) < 3 {
		return 0, apierr.New(apierr.KindBadRequest, fmt.Sprintf("volatility: need at least 3 points, got %d", len(points)))
	}

	returns := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		prev, _ := points[i-1].Price.Float64()
		cur, _ := points[i].Price.Float64()
		if prev <= 0 || cur <= 0 {
			return 0, apierr.New(apierr.KindBadRequest, "volatility: non-positive price in series")
		}
		returns = append(returns, math.Log(cur/prev))
	}

	meanReturn := mean(returns)
	variance := sampleVariance(returns, meanReturn)
	stdDev := math.Sqrt(variance)

	avgIntervalSeconds := points[len(points)-1].Time.Sub(points[0].Time).Seconds() / float64(len(points)-1)
	if avgIntervalSeconds <= 0 {
		return 0, apierr.New(apierr.KindBadRequest, "volatility: series has non-increasing timestamps")
	}
	periodsPerYear := secondsPerYear / avgIntervalSeconds

	return stdDev * math.Sqrt(periodsPerYear), nil
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// sampleVariance uses Bessel's correction (n-1 divisor), standard for a
// realized-volatility estimate over a finite sample.
func sampleVariance(xs []float64, mean float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return sumSq / float64(len(xs)-1)
}
