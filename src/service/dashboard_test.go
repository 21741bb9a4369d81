package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"CrewPrizePool/src/metrics"
	"CrewPrizePool/src/processor"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roster = `Flight_ID,Flight_Date,Crew_ID,Crew_Name,Bottles_Sold_on_Flight,Airline_Code
AK1,2024-01-01,1,A,10,AK
AK1,2024-01-01,2,B,10,AK
D71,2024-01-02,3,C,4,D7
D72,2024-01-03,3,C,6,D7
BAD,2024-13-40,9,Z,1,AK
`

func newTestDashboard(t *testing.T) (*Dashboard, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	d := New(Options{Compute: processor.DefaultOptions(), Metrics: m})
	_, err := d.Ingest([]byte(roster), "roster.csv")
	require.NoError(t, err)
	return d, m
}

func TestComputeWithoutDataset(t *testing.T) {
	d := New(Options{Compute: processor.DefaultOptions()})
	_, err := d.Compute(context.Background(), Query{})
	assert.True(t, errors.Is(err, ErrNoDataset))

	_, err = d.Status()
	assert.True(t, errors.Is(err, ErrNoDataset))
}

func TestCompute(t *testing.T) {
	d, m := newTestDashboard(t)

	res, err := d.Compute(context.Background(), Query{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "roster.csv", res.Dataset)
	assert.Equal(t, 1, res.Dropped)
	assert.False(t, res.Cached)
	// 10 + 4 + 6 = 20 瓶
	assert.Equal(t, "100.00", res.Metrics.DisplayPrizePool())
	require.Len(t, res.Metrics.Leaderboards, 1)
	assert.Equal(t, "A", res.Metrics.Leaderboards[0].Entries[0].CrewName)

	again, err := d.Compute(context.Background(), Query{})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.NotEqual(t, res.RunID, again.RunID)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Computations))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.RowsLoaded))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RowsDropped.WithLabelValues(processor.ColFlightDate)))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.PrizePool))
}

func TestComputeQueryOverrides(t *testing.T) {
	d, _ := newTestDashboard(t)

	partition := true
	top := 1
	res, err := d.Compute(context.Background(), Query{
		From:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		TopN:      &top,
		Partition: &partition,
	})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-02", res.From)
	assert.Equal(t, "50.00", res.Metrics.DisplayPrizePool())
	require.Len(t, res.Metrics.Leaderboards, 1)
	lb := res.Metrics.Leaderboards[0]
	assert.Equal(t, "D7", lb.AirlineCode)
	assert.Len(t, lb.Entries, 1)
	assert.Equal(t, processor.AirlineFromColumn, res.Metrics.AirlineSource)
}

func TestComputeCancelled(t *testing.T) {
	d, _ := newTestDashboard(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Compute(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestReplacesDatasetAndCache(t *testing.T) {
	d, _ := newTestDashboard(t)
	_, err := d.Compute(context.Background(), Query{})
	require.NoError(t, err)

	p := filepath.Join(t.TempDir(), "next.csv")
	require.NoError(t, os.WriteFile(p, []byte("Flight_ID,Flight_Date,Crew_ID,Crew_Name,Bottles_Sold_on_Flight\nX1,2024-02-01,1,A,1\n"), 0644))
	_, err = d.IngestFile(p)
	require.NoError(t, err)

	res, err := d.Compute(context.Background(), Query{})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "next.csv", res.Dataset)
	assert.Equal(t, "5.00", res.Metrics.DisplayPrizePool())
}

func TestIngestSchemaErrorKeepsPreviousDataset(t *testing.T) {
	d, m := newTestDashboard(t)

	_, err := d.Ingest([]byte("Flight_ID\nX\n"), "broken.csv")
	_, ok := processor.IsSchemaError(err)
	require.True(t, ok)

	st, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, "roster.csv", st.Dataset)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsCount.WithLabelValues("ingest")))
}

func TestReload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(p, []byte(roster), 0644))

	d := New(Options{Location: p, Compute: processor.DefaultOptions()})
	ds, err := d.Reload(context.Background())
	require.NoError(t, err)
	assert.Len(t, ds.Records, 4)

	_, err = New(Options{}).Reload(context.Background())
	assert.Error(t, err)
}

func TestStatusDateBounds(t *testing.T) {
	d, _ := newTestDashboard(t)

	st, err := d.Status()
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01", st.FirstDate)
	assert.Equal(t, "2024-01-03", st.LastDate)
	assert.True(t, st.HasAirlineCode)
	assert.False(t, st.HasCrewQuantity)
}

func TestComputePoolRoundingFollowsColumn(t *testing.T) {
	d := New(Options{Compute: processor.DefaultOptions()})
	_, err := d.Ingest([]byte(`Flight_ID,Flight_Date,Crew_ID,Crew_Name,Bottles_Sold_on_Flight,crew_sold_quantity
FL1,2024-01-01,1,A,2.5,1
FL2,2024-01-02,2,B,3.2,
`), "roster.csv")
	require.NoError(t, err)

	// 1月2日只剩个人销量为空的行，仍按列存在向上取整
	res, err := d.Compute(context.Background(), Query{From: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "4", res.Metrics.TotalBottles.String())
	assert.Equal(t, "20.00", res.Metrics.DisplayPrizePool())
}
