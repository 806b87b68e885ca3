package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capPoint(dayIdx int, cap float64) CapPoint {
	return CapPoint{Date: day(dayIdx), Cap: cap, Price: cap / 1000}
}

func TestBuildRankRows_ContiguousRanks(t *testing.T) {
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 300)},
		"BBB": {capPoint(0, 100)},
		"CCC": {capPoint(0, 200)},
		"DDD": {capPoint(0, 400)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{})
	require.Len(t, rows, 4)

	seen := make(map[int]string)
	for _, r := range rows {
		seen[r.Rank] = r.Symbol
	}
	assert.Equal(t, map[int]string{1: "DDD", 2: "AAA", 3: "CCC", 4: "BBB"}, seen)
}

func TestBuildRankRows_TiesBrokenBySymbol(t *testing.T) {
	caps := map[string][]CapPoint{
		"ZZZ": {capPoint(0, 100)},
		"AAA": {capPoint(0, 100)},
		"MMM": {capPoint(0, 100)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{})
	require.Len(t, rows, 3)

	assert.Equal(t, "AAA", rows[0].Symbol)
	assert.Equal(t, "MMM", rows[1].Symbol)
	assert.Equal(t, "ZZZ", rows[2].Symbol)
}

func TestBuildRankRows_Truncation(t *testing.T) {
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 400)},
		"BBB": {capPoint(0, 300)},
		"CCC": {capPoint(0, 200)},
		"DDD": {capPoint(0, 100)},
	}

	rows := BuildRankRows(caps, 2, RankOptions{})
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, "AAA", rows[0].Symbol)
	assert.Equal(t, "BBB", rows[1].Symbol)
}

func TestBuildRankRows_OneRowPerSymbolWithDuplicateBars(t *testing.T) {
	dup := History{
		Symbol:         "DUP",
		Dates:          []time.Time{day(0), day(0)},
		Closes:         []float64{10, 12},
		FallbackShares: 1000,
	}
	caps := map[string][]CapPoint{
		"DUP": BuildCapSeries(dup),
		"AAA": {capPoint(0, 100)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{})
	require.Len(t, rows, 2)
	assert.Equal(t, "DUP", rows[0].Symbol)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, "AAA", rows[1].Symbol)
	assert.Equal(t, 2, rows[1].Rank)
}

func TestBuildRankRows_DefaultKeepsLatestDateOnly(t *testing.T) {
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 100), capPoint(1, 110)},
		"BBB": {capPoint(0, 200), capPoint(1, 210)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{})
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, day(1), r.AsOfDate)
	}
}

func TestBuildRankRows_AllDates(t *testing.T) {
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 100), capPoint(1, 110)},
		"BBB": {capPoint(0, 200), capPoint(1, 210)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{AllDates: true})
	assert.Len(t, rows, 4)
}

func TestBuildRankRows_TargetDate(t *testing.T) {
	target := day(0)
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 100), capPoint(1, 110)},
	}

	rows := BuildRankRows(caps, 10, RankOptions{TargetDate: &target})
	require.Len(t, rows, 1)
	assert.Equal(t, day(0), rows[0].AsOfDate)
}

func TestBuildRankRows_Deterministic(t *testing.T) {
	caps := map[string][]CapPoint{
		"AAA": {capPoint(0, 100)},
		"BBB": {capPoint(0, 100)},
		"CCC": {capPoint(0, 300)},
	}

	first := BuildRankRows(caps, 10, RankOptions{})
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildRankRows(caps, 10, RankOptions{}))
	}
}

func TestBuildRankRows_Empty(t *testing.T) {
	assert.Nil(t, BuildRankRows(map[string][]CapPoint{}, 10, RankOptions{}))
}
