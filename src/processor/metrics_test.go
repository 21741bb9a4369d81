package processor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func rec(flight, crewID, crewName string, bottles int64) FlightSaleRecord {
	return FlightSaleRecord{
		FlightID:            flight,
		FlightDate:          day,
		CrewID:              crewID,
		CrewName:            crewName,
		BottlesSoldOnFlight: decimal.NewFromInt(bottles),
	}
}

func withQty(r FlightSaleRecord, qty string) FlightSaleRecord {
	r.CrewSoldQuantity = decimal.NewNullDecimal(decimal.RequireFromString(qty))
	return r
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeMetrics_SingleFlightCountedOnce(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 10),
		rec("FL1", "B", "Bob", 10),
	}

	m := ComputeMetrics(records, DefaultOptions())

	assert.True(t, m.PrizePool.Equal(dec("50")), "got %s", m.PrizePool)
	assert.Equal(t, "50.00", m.DisplayPrizePool())
	assert.Equal(t, 1, m.Flights)
	assert.Equal(t, 2, m.Rows)

	require.Len(t, m.Leaderboards, 1)
	entries := m.Leaderboards[0].Entries
	require.Len(t, entries, 2)
	assert.Equal(t, "A", entries[0].CrewID)
	assert.Equal(t, "B", entries[1].CrewID)
	assert.True(t, entries[0].TotalCredited.Equal(dec("10")))
	assert.True(t, entries[1].TotalCredited.Equal(dec("10")))
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestComputeMetrics_EmptyInput(t *testing.T) {
	m := ComputeMetrics(nil, DefaultOptions())

	assert.Equal(t, "0.00", m.DisplayPrizePool())
	assert.True(t, m.PrizePool.IsZero())
	require.Len(t, m.Leaderboards, 1)
	assert.Empty(t, m.Leaderboards[0].Entries)
	assert.Equal(t, 0, m.Flights)
}

func TestComputeMetrics_DuplicateRowDoesNotChangePool(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 10),
		rec("FL2", "B", "Bob", 7),
	}
	before := ComputeMetrics(records, DefaultOptions())

	records = append(records, rec("FL2", "C", "Cara", 7))
	after := ComputeMetrics(records, DefaultOptions())

	assert.True(t, before.PrizePool.Equal(after.PrizePool))
	assert.True(t, after.PrizePool.Equal(dec("85")))
}

func TestComputeMetrics_FirstOccurrenceWinsOnConflictingFlightCounts(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 10),
		rec("FL1", "B", "Bob", 99),
	}

	m := ComputeMetrics(records, DefaultOptions())

	assert.True(t, m.TotalBottles.Equal(dec("10")))
}

func TestComputeMetrics_LeaderboardSumMatchesCredited(t *testing.T) {
	records := []FlightSaleRecord{
		withQty(rec("FL1", "A", "Alice", 10), "3.5"),
		withQty(rec("FL1", "B", "Bob", 10), "6.5"),
		rec("FL2", "A", "Alice", 4),
		withQty(rec("FL3", "C", "Cara", 8), "8"),
		rec("FL3", "A", "Alicia", 8),
	}

	full := RankCrew(records, RoundNone)

	sum := decimal.Zero
	for _, e := range full {
		sum = sum.Add(e.TotalCredited)
	}
	want := decimal.Zero
	for _, r := range records {
		want = want.Add(r.Credited())
	}
	assert.True(t, sum.Equal(want), "sum %s want %s", sum, want)

	// 同一 CrewID 不同姓名分成两组
	assert.Len(t, full, 4)
}

func TestComputeMetrics_PrizeShares(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 30),
		rec("FL2", "B", "Bob", 20),
		rec("FL3", "C", "Cara", 10),
		rec("FL4", "D", "Dan", 3),
	}

	m := ComputeMetrics(records, DefaultOptions())

	require.Len(t, m.Leaderboards[0].Entries, 3)
	assert.Equal(t, 4, m.Leaderboards[0].TotalCrew)
	assert.True(t, m.PrizePool.Equal(dec("315")))

	sum := decimal.Zero
	for _, e := range m.Leaderboards[0].Entries {
		require.True(t, e.PrizeShare.Valid)
		sum = sum.Add(e.PrizeShare.Decimal)
	}
	assert.True(t, sum.Sub(m.PrizePool).Abs().LessThan(dec("0.000001")), "sum %s", sum)

	// 30/60 * 315
	assert.Equal(t, "157.50", m.Leaderboards[0].Entries[0].PrizeShare.Decimal.StringFixed(2))
}

func TestComputeMetrics_ZeroCreditedGivesZeroShares(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 0),
		rec("FL2", "B", "Bob", 0),
	}

	m := ComputeMetrics(records, DefaultOptions())

	for _, e := range m.Leaderboards[0].Entries {
		require.True(t, e.PrizeShare.Valid)
		assert.True(t, e.PrizeShare.Decimal.IsZero())
	}
}

func TestComputeMetrics_TopNLargerThanPopulation(t *testing.T) {
	opts := DefaultOptions()
	opts.TopN = 10

	m := ComputeMetrics([]FlightSaleRecord{rec("FL1", "A", "Alice", 5)}, opts)

	assert.Len(t, m.Leaderboards[0].Entries, 1)
}

func TestComputeMetrics_PoolRounding(t *testing.T) {
	records := []FlightSaleRecord{
		withQty(rec("FL1", "A", "Alice", 0), "1"),
	}
	records[0].BottlesSoldOnFlight = dec("10.2")

	tests := []struct {
		name   string
		policy PoolRounding
		want   string
	}{
		{"auto with crew quantity ceils", PoolRoundingAuto, "55"},
		{"none keeps fraction", PoolRoundingNone, "51"},
		{"ceil", PoolRoundingCeil, "55"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.PoolRounding = tt.policy
			m := ComputeMetrics(records, opts)
			assert.True(t, m.PrizePool.Equal(dec(tt.want)), "got %s", m.PrizePool)
		})
	}

	t.Run("auto without crew quantity keeps fraction", func(t *testing.T) {
		plain := []FlightSaleRecord{rec("FL1", "A", "Alice", 0)}
		plain[0].BottlesSoldOnFlight = dec("10.2")
		m := ComputeMetrics(plain, DefaultOptions())
		assert.True(t, m.PrizePool.Equal(dec("51")))
	})

	t.Run("auto follows the column even when every cell is blank", func(t *testing.T) {
		plain := []FlightSaleRecord{rec("FL1", "A", "Alice", 0)}
		plain[0].BottlesSoldOnFlight = dec("10.2")
		opts := DefaultOptions()
		opts.CrewQuantityColumn = true
		m := ComputeMetrics(plain, opts)
		assert.True(t, m.TotalBottles.Equal(dec("11")))
		assert.True(t, m.PrizePool.Equal(dec("55")))
	})
}

func TestComputeMetrics_UnitPrizeNotValidated(t *testing.T) {
	opts := DefaultOptions()
	opts.UnitPrize = dec("-2")

	m := ComputeMetrics([]FlightSaleRecord{rec("FL1", "A", "Alice", 4)}, opts)

	assert.True(t, m.PrizePool.Equal(dec("-8")))
}

func TestComputeMetrics_NonNegativePool(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 0),
		rec("FL2", "B", "Bob", 12),
		withQty(rec("FL3", "C", "Cara", 3), "0.4"),
	}
	for _, prize := range []string{"0", "0.01", "5", "12.75"} {
		opts := DefaultOptions()
		opts.UnitPrize = dec(prize)
		m := ComputeMetrics(records, opts)
		assert.False(t, m.PrizePool.IsNegative(), "prize %s", prize)
	}
}

func TestComputeMetrics_Idempotent(t *testing.T) {
	records := []FlightSaleRecord{
		rec("FL1", "A", "Alice", 10),
		rec("FL2", "B", "Bob", 3),
		rec("FL2", "A", "Alice", 3),
	}
	snapshot := make([]FlightSaleRecord, len(records))
	copy(snapshot, records)

	first := ComputeMetrics(records, DefaultOptions())
	second := ComputeMetrics(records, DefaultOptions())

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, records)
}

func TestComputeMetrics_PartitionedRounding(t *testing.T) {
	records := []FlightSaleRecord{
		withQty(rec("AK101", "A", "Alice", 10), "2.4"),
		withQty(rec("AK101", "B", "Bob", 10), "2.6"),
		withQty(rec("D7202", "C", "Cara", 6), "1.7"),
		withQty(rec("D7202", "D", "Dan", 6), "4.3"),
	}
	opts := DefaultOptions()
	opts.PartitionByAirline = true
	opts.PartitionRounding = map[string]RoundingPolicy{
		"AK": RoundUp,
		"D7": RoundDown,
	}

	m := ComputeMetrics(records, opts)

	assert.Equal(t, AirlineFromFlightID, m.AirlineSource)
	require.Len(t, m.Leaderboards, 2)

	ak := m.Leaderboards[0]
	assert.Equal(t, "AK", ak.AirlineCode)
	assert.Equal(t, RoundUp, ak.Rounding)
	// 2.4 和 2.6 都进位成 3，同分保持原序
	assert.Equal(t, "A", ak.Entries[0].CrewID)
	assert.True(t, ak.Entries[0].TotalCredited.Equal(dec("3")))
	assert.True(t, ak.Entries[1].TotalCredited.Equal(dec("3")))

	d7 := m.Leaderboards[1]
	assert.Equal(t, "D7", d7.AirlineCode)
	assert.True(t, d7.Entries[0].TotalCredited.Equal(dec("4")))
	assert.True(t, d7.Entries[1].TotalCredited.Equal(dec("1")))

	// 分航司榜不分奖金
	for _, lb := range m.Leaderboards {
		for _, e := range lb.Entries {
			assert.False(t, e.PrizeShare.Valid)
		}
	}
}

func TestComputeMetrics_ConfiguredPartitions(t *testing.T) {
	records := []FlightSaleRecord{
		rec("AK101", "A", "Alice", 10),
		rec("MH370", "B", "Bob", 10),
	}
	opts := DefaultOptions()
	opts.PartitionByAirline = true
	opts.Partitions = []string{"D7", "AK"}

	m := ComputeMetrics(records, opts)

	require.Len(t, m.Leaderboards, 2)
	assert.Equal(t, "D7", m.Leaderboards[0].AirlineCode)
	assert.Empty(t, m.Leaderboards[0].Entries)
	assert.Equal(t, "AK", m.Leaderboards[1].AirlineCode)
	assert.Len(t, m.Leaderboards[1].Entries, 1)
}

func TestComputeMetrics_LowercaseColumnCodes(t *testing.T) {
	ak := withQty(rec("FL1", "A", "Alice", 10), "2.4")
	ak.AirlineCode = " ak"
	d7 := withQty(rec("FL2", "B", "Bob", 6), "1.7")
	d7.AirlineCode = "d7"

	opts := DefaultOptions()
	opts.PartitionByAirline = true
	opts.Partitions = []string{"AK", "D7"}
	opts.PartitionRounding = map[string]RoundingPolicy{"AK": RoundUp, "D7": RoundDown}

	m := ComputeMetrics([]FlightSaleRecord{ak, d7}, opts)

	assert.Equal(t, AirlineFromColumn, m.AirlineSource)
	require.Len(t, m.Leaderboards, 2)
	require.Len(t, m.Leaderboards[0].Entries, 1)
	assert.True(t, m.Leaderboards[0].Entries[0].TotalCredited.Equal(dec("3")))
	require.Len(t, m.Leaderboards[1].Entries, 1)
	assert.True(t, m.Leaderboards[1].Entries[0].TotalCredited.Equal(dec("1")))
}

func TestComputeMetrics_EmptyLeaderboardSerializesAsList(t *testing.T) {
	opts := DefaultOptions()
	opts.PartitionByAirline = true
	opts.Partitions = []string{"AK"}

	for _, m := range []Metrics{
		ComputeMetrics(nil, DefaultOptions()),
		ComputeMetrics([]FlightSaleRecord{rec("D7202", "A", "Alice", 1)}, opts),
	} {
		out, err := json.Marshal(m.Leaderboards)
		require.NoError(t, err)
		assert.Contains(t, string(out), `"entries":[]`)
		assert.NotContains(t, string(out), "null")
	}
}
