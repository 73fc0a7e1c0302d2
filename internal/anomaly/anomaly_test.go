package anomaly

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/features"
	"market-insight-lab/internal/fixtures"
)

func z(v float64) *float64 { return &v }

func TestFilter_Threshold(t *testing.T) {
	rows := []domain.FeatureRow{
		{Index: 0, ZScore: z(2.0)},
		{Index: 1, ZScore: z(-2.5)},
		{Index: 2, ZScore: nil},
		{Index: 3, ZScore: z(0)},
		{Index: 4, ZScore: z(2.0001)},
		{Index: 5, ZScore: z(math.NaN())},
	}

	got := Filter(rows)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].Index)
	assert.Equal(t, 4, got[1].Index)
}

func TestFilter_Empty(t *testing.T) {
	assert.Empty(t, Filter(nil))
	assert.NotNil(t, Filter(nil), "empty result is an empty slice, not nil")
}

func TestFilter_OutlierAgainstMean(t *testing.T) {
	// Mean 0, sample std about 11.79; the +/-30 rows sit beyond two
	// deviations, the rows at the mean do not.
	changes := []float64{-30, -1, 0, 1, -1, 0, 1, -1, 0, 1, -1, 0, 1, 30}
	coins := make([]fixtures.Coin, len(changes))
	for i, c := range changes {
		coins[i] = fixtures.Coin{Name: string(rune('A' + i)), Price: 1, PercentChange24h: c}
	}
	rows := features.Derive(fixtures.Snapshot(coins))

	got := Filter(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Row.Name)
	assert.Equal(t, "N", got[1].Row.Name)

	for _, r := range got {
		assert.Greater(t, math.Abs(*r.ZScore), Threshold)
	}
	for _, r := range rows {
		if *r.PriceChange == 0 {
			assert.False(t, IsAnomaly(r), "row at the mean must not be flagged")
		}
	}
}

func TestFilter_ThreeSigmaRow(t *testing.T) {
	// n-1 rows at 0 and one at x: with sample std the outlier's z-score is
	// (n-1)/sqrt(n), which exceeds 3 from n = 11 on.
	coins := make([]fixtures.Coin, 20)
	for i := range coins {
		coins[i] = fixtures.Coin{Name: string(rune('a' + i)), Price: 1}
	}
	coins[19].PercentChange24h = 50
	rows := features.Derive(fixtures.Snapshot(coins))

	require.NotNil(t, rows[19].ZScore)
	assert.Greater(t, *rows[19].ZScore, 3.0)

	got := Filter(rows)
	require.Len(t, got, 1)
	assert.Equal(t, 19, got[0].Index)
}

func TestFilter_DegenerateSnapshot(t *testing.T) {
	rows := features.Derive(fixtures.Snapshot([]fixtures.Coin{{Name: "Solo", Price: 1, PercentChange24h: 99}}))
	assert.Empty(t, Filter(rows))
}

func TestFilter_SubsetOfSample(t *testing.T) {
	rows := features.Derive(fixtures.SampleSnapshot())
	got := Filter(rows)

	for _, r := range got {
		assert.Same(t, rows[r.Index].Row, r.Row)
		assert.NotNil(t, r.ZScore)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "Dogecoin", got[0].Row.Name)
}
