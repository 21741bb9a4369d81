package processor

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAirlineCode(t *testing.T) {
	tests := map[string]string{
		"AK101":   "AK",
		"d7 202":  "D7",
		"MH370":   "MH",
		"FL1":     "FL",
		"U2-8841": "U2",
		"9W301":   "9W",
		"ABC":     "",
		"12345":   "",
		"":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractAirlineCode(in), "flight id %q", in)
	}
}

func TestAssignAirlineCodes(t *testing.T) {
	opts := AirlineOptions{Primary: "AK", Secondary: "D7"}

	t.Run("column present fills blanks with primary", func(t *testing.T) {
		records := []FlightSaleRecord{
			{FlightID: "X1", AirlineCode: "D7"},
			{FlightID: "X2"},
		}
		out, src := AssignAirlineCodes(records, opts)
		assert.Equal(t, AirlineFromColumn, src)
		assert.Equal(t, "D7", out[0].AirlineCode)
		assert.Equal(t, "AK", out[1].AirlineCode)
		assert.Equal(t, "", records[1].AirlineCode)
	})

	t.Run("prefix extraction with primary default", func(t *testing.T) {
		records := []FlightSaleRecord{
			{FlightID: "D7100"},
			{FlightID: "????"},
		}
		out, src := AssignAirlineCodes(records, opts)
		assert.Equal(t, AirlineFromFlightID, src)
		assert.Equal(t, "D7", out[0].AirlineCode)
		assert.Equal(t, "AK", out[1].AirlineCode)
	})

	t.Run("positional fallback splits the whole row set", func(t *testing.T) {
		records := []FlightSaleRecord{
			{FlightID: "1001"}, {FlightID: "1002"}, {FlightID: "1002"},
			{FlightID: "1003"}, {FlightID: "1003"},
		}
		withFallback := opts
		withFallback.PositionalFallback = true

		out, src := AssignAirlineCodes(records, withFallback)
		require.Equal(t, AirlineFromPosition, src)
		var codes []string
		for _, r := range out {
			codes = append(codes, r.AirlineCode)
		}
		// 按行号切分，航班 1002 的两行被拆到了两个航司
		assert.Equal(t, []string{"AK", "AK", "D7", "D7", "D7"}, codes)
	})

	t.Run("fallback disabled defaults everything to primary", func(t *testing.T) {
		records := []FlightSaleRecord{{FlightID: "1001"}, {FlightID: "1002"}}
		out, src := AssignAirlineCodes(records, opts)
		assert.Equal(t, AirlineFromDefault, src)
		assert.Equal(t, "AK", out[0].AirlineCode)
		assert.Equal(t, "AK", out[1].AirlineCode)
	})
}

func TestRoundingPolicy(t *testing.T) {
	d := decimal.RequireFromString("7.3")
	assert.True(t, RoundUp.Apply(d).Equal(decimal.NewFromInt(8)))
	assert.True(t, RoundDown.Apply(d).Equal(decimal.NewFromInt(7)))
	assert.True(t, RoundNone.Apply(d).Equal(d))

	p, err := ParseRoundingPolicy("round_up_partition")
	require.NoError(t, err)
	assert.Equal(t, RoundUp, p)

	p, err = ParseRoundingPolicy("FLOOR")
	require.NoError(t, err)
	assert.Equal(t, RoundDown, p)

	_, err = ParseRoundingPolicy("bankers")
	assert.Error(t, err)

	pr, err := ParsePoolRounding("")
	require.NoError(t, err)
	assert.Equal(t, PoolRoundingAuto, pr)
}

func TestSchemaError(t *testing.T) {
	var err error = &SchemaError{Missing: []string{ColCrewName}}
	se, ok := IsSchemaError(err)
	require.True(t, ok)
	assert.Contains(t, se.Missing, "Crew_Name")
	assert.Contains(t, err.Error(), "Crew_Name")
}
