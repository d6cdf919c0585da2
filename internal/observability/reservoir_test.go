package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservoir_IdenticalSamplesCollapseSummary(t *testing.T) {
	r := NewReservoir(100)
	for i := 0; i < 42; i++ {
		r.Add(12.5)
	}

	s := r.Summarize()
	assert.Equal(t, 42, s.Count)
	assert.Equal(t, 12.5, s.Min)
	assert.Equal(t, 12.5, s.Max)
	assert.Equal(t, 12.5, s.Avg)
	assert.Equal(t, 12.5, s.P50)
	assert.Equal(t, 12.5, s.P95)
	assert.Equal(t, 12.5, s.P99)
}

func TestReservoir_DropsOldestWhenFull(t *testing.T) {
	r := NewReservoir(1000)
	for i := 1; i <= 1200; i++ {
		r.Add(float64(i))
	}

	require.Equal(t, 1000, r.Len())

	values := r.Values()
	require.Len(t, values, 1000)
	assert.Equal(t, 201.0, values[0])
	assert.Equal(t, 1200.0, values[len(values)-1])

	s := r.Summarize()
	assert.Equal(t, 201.0, s.Min)
	assert.Equal(t, 1200.0, s.Max)
}

func TestReservoir_NearestRankPercentiles(t *testing.T) {
	r := NewReservoir(100)
	for i := 10; i >= 1; i-- {
		r.Add(float64(i))
	}

	s := r.Summarize()
	assert.Equal(t, 5.0, s.P50)
	assert.Equal(t, 10.0, s.P95)
	assert.Equal(t, 10.0, s.P99)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 10.0, s.Max)
	assert.InDelta(t, 5.5, s.Avg, 1e-9)
}

func TestReservoir_EmptySummaryIsZero(t *testing.T) {
	r := NewReservoir(10)
	assert.Equal(t, Summary{}, r.Summarize())
}

func TestReservoir_ValuesOrderedOldestFirst(t *testing.T) {
	r := NewReservoir(3)
	for i := 1; i <= 5; i++ {
		r.Add(float64(i))
	}
	assert.Equal(t, []float64{3, 4, 5}, r.Values())
}
