package volatility

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnualizedRequiresAtLeastThreePoints(t *testing.T) {
	_, err := Annualized([]Point{
		{Time: time.Now(), Price: decimal.NewFromInt(100)},
		{Time: time.Now(), Price: decimal.NewFromInt(101)},
	})
	require.Error(t, err)
}

func TestAnnualizedZeroForConstantPrice(t *testing.T) {
	base := time.Now()
	points := make([]Point, 10)
	for i := range points {
		points[i] = Point{Time: base.Add(time.Duration(i) * time.Hour), Price: decimal.NewFromInt(100)}
	}

	v, err := Annualized(points)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-9, "a constant price series has zero realized volatility")
}

func TestAnnualizedPositiveForVaryingPrice(t *testing.T) {
	base := time.Now()
	prices := []int64{100, 102, 99, 105, 101, 98, 103}
	points := make([]Point, len(prices))
	for i, p := range prices {
		points[i] = Point{Time: base.Add(time.Duration(i) * time.Hour), Price: decimal.NewFromInt(p)}
	}

	v, err := Annualized(points)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)
	assert.False(t, math.IsNaN(v))
}

func TestAnnualizedRejectsNonPositivePrice(t *testing.T) {
	base := time.Now()
	_, err := Annualized([]Point{
		{Time: base, Price: decimal.NewFromInt(100)},
		{Time: base.Add(time.Hour), Price: decimal.Zero},
		{Time: base.Add(2 * time.Hour), Price: decimal.NewFromInt(100)},
	})
	require.Error(t, err)
}
