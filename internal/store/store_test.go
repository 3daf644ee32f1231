package store_test

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openairlab/airq-analytics/internal/domain"
	"github.com/openairlab/airq-analytics/internal/store"
)

func obs(city string, p domain.Pollutant, date time.Time, v float64) domain.Observation {
	return domain.Observation{City: city, Pollutant: p, Date: date, Value: v}
}

func TestStore_Load_ReportsPerRow(t *testing.T) {
	s := store.New()
	d := domain.Date(2024, time.January, 1)

	report := s.Load([]domain.Observation{
		obs("Delhi", domain.PollutantAQI, d, 210),
		obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 1), 190),
		obs("Delhi", domain.PollutantAQI, d, 300),       // duplicate key
		obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 2), -5), // negative
		obs("", domain.PollutantAQI, d.AddDate(0, 0, 3), 100),     // empty city
	})

	assert.Equal(t, 2, report.Accepted)
	require.Len(t, report.Rejected, 3)
	assert.False(t, report.Ok())

	assert.Equal(t, 2, report.Rejected[0].Row)
	assert.Contains(t, report.Rejected[0].Err.Reason, "already exists")
	assert.Equal(t, "negative value", report.Rejected[1].Err.Reason)
	assert.Equal(t, "empty city", report.Rejected[2].Err.Reason)

	// The valid rows were committed despite the failures.
	assert.Equal(t, 2, s.ObservationCount())
}

func TestStore_Append_Conflict(t *testing.T) {
	s := store.New()
	d := domain.Date(2024, time.January, 1)

	require.NoError(t, s.Append(obs("Delhi", domain.PollutantPM25, d, 80), false))

	err := s.Append(obs("Delhi", domain.PollutantPM25, d, 90), false)
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "Delhi")

	// Overwrite flag replaces the value in place.
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantPM25, d, 90), true))
	series := s.FullSeries("Delhi", domain.PollutantPM25)
	require.Equal(t, 1, series.Len())
	assert.Equal(t, 90.0, series.Values[0])
}

func TestStore_Append_PreservesDateOrder(t *testing.T) {
	s := store.New()
	d := domain.Date(2024, time.March, 10)

	// Insert out of order.
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 2), 3), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d, 1), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 1), 2), false))

	series := s.FullSeries("Delhi", domain.PollutantAQI)
	assert.Equal(t, []float64{1, 2, 3}, series.Values)
	assert.Equal(t, d, series.Start)
}

func TestStore_Series_GapsAreExplicit(t *testing.T) {
	s := store.New()
	d := domain.Date(2024, time.March, 1)

	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d, 100), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 3), 130), false))

	series := s.FullSeries("Delhi", domain.PollutantAQI)
	require.Equal(t, 4, series.Len())
	assert.Equal(t, 100.0, series.Values[0])
	assert.True(t, math.IsNaN(series.Values[1]))
	assert.True(t, math.IsNaN(series.Values[2]))
	assert.Equal(t, 130.0, series.Values[3])
	assert.Equal(t, 2, series.ValidCount())
}

func TestStore_Series_RangeQueries(t *testing.T) {
	s := store.New()
	start := domain.Date(2024, time.January, 1)
	for i := 0; i < 31; i++ {
		require.NoError(t, s.Append(obs("Mumbai", domain.PollutantPM10, start.AddDate(0, 0, i), float64(i)), false))
	}

	t.Run("interior range", func(t *testing.T) {
		series := s.Series("Mumbai", domain.PollutantPM10,
			domain.Date(2024, time.January, 10), domain.Date(2024, time.January, 15))
		assert.Equal(t, []float64{9, 10, 11, 12, 13}, series.Values)
	})

	t.Run("empty range yields empty series", func(t *testing.T) {
		series := s.Series("Mumbai", domain.PollutantPM10,
			domain.Date(2030, time.January, 1), domain.Date(2030, time.February, 1))
		assert.True(t, series.IsEmpty())
	})

	t.Run("unknown partition yields empty series", func(t *testing.T) {
		series := s.Series("Atlantis", domain.PollutantPM10,
			domain.Date(2024, time.January, 1), domain.Date(2024, time.February, 1))
		assert.True(t, series.IsEmpty())
	})
}

func TestStore_LatestDateAndRange(t *testing.T) {
	s := store.New()

	_, ok := s.LatestDate("Delhi", domain.PollutantAQI)
	assert.False(t, ok)

	d := domain.Date(2024, time.June, 1)
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d, 100), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d.AddDate(0, 0, 9), 110), false))

	latest, ok := s.LatestDate("Delhi", domain.PollutantAQI)
	require.True(t, ok)
	assert.Equal(t, d.AddDate(0, 0, 9), latest)

	first, last, ok := s.Range("Delhi", domain.PollutantAQI)
	require.True(t, ok)
	assert.Equal(t, d, first)
	assert.Equal(t, d.AddDate(0, 0, 9), last)
}

func TestStore_CitiesAndPollutants(t *testing.T) {
	s := store.New()
	d := domain.Date(2024, time.January, 1)

	require.NoError(t, s.Append(obs("Mumbai", domain.PollutantPM25, d, 50), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantAQI, d, 200), false))
	require.NoError(t, s.Append(obs("Delhi", domain.PollutantPM25, d, 120), false))

	assert.Equal(t, []string{"Delhi", "Mumbai"}, s.Cities())
	assert.Equal(t, []domain.Pollutant{domain.PollutantPM25, domain.PollutantAQI}, s.Pollutants("Delhi"))
	assert.Empty(t, s.Pollutants("Atlantis"))
}

func TestStore_ConcurrentPartitionWrites(t *testing.T) {
	s := store.New()
	start := domain.Date(2024, time.January, 1)

	// Hammer distinct partitions from many goroutines while reading others.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			city := fmt.Sprintf("City-%d", w)
			for i := 0; i < 100; i++ {
				err := s.Append(obs(city, domain.PollutantAQI, start.AddDate(0, 0, i), float64(i)), false)
				assert.NoError(t, err)
				_ = s.FullSeries(city, domain.PollutantAQI)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 800, s.ObservationCount())
	for w := 0; w < 8; w++ {
		series := s.FullSeries(fmt.Sprintf("City-%d", w), domain.PollutantAQI)
		assert.Equal(t, 100, series.ValidCount())
	}
}
