package era5

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtm0/era5daily/internal/era5/era5test"
)

func writeHourly(t *testing.T, h era5test.Hourly) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hourly.nc")
	require.NoError(t, era5test.Write(path, h))
	return path
}

func TestOpenHourly(t *testing.T) {
	path := writeHourly(t, era5test.Month(2000, 4, era5test.Variable{
		Name:  "msl",
		Units: "Pa",
		Value: func(time.Time, int, int) float64 { return 101325 },
	}))

	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	require.Len(t, h.Times(), 30*24)
	assert.Equal(t, time.Date(2000, 4, 1, 0, 0, 0, 0, time.UTC), h.Times()[0])
	assert.Equal(t, time.Date(2000, 4, 30, 23, 0, 0, 0, time.UTC), h.Times()[30*24-1])
	assert.Equal(t, []float64{90, 75, 60}, h.Latitude())
	assert.Equal(t, []float64{0, 90, 180, 270}, h.Longitude())
	assert.Equal(t, []string{"msl"}, h.Variables())
}

func TestOpenHourly_NoVariables(t *testing.T) {
	path := writeHourly(t, era5test.Month(2000, 4))
	_, err := OpenHourly(path)
	assert.ErrorIs(t, err, ErrNoVariables)
}

func TestStep_Unpacks(t *testing.T) {
	path := writeHourly(t, era5test.Month(1979, 3, era5test.Variable{
		Name:   "lcc",
		Units:  "(0 - 1)",
		Scale:  0.5,
		Offset: 10,
		Value: func(_ time.Time, la, lo int) float64 {
			if la == 0 && lo == 0 {
				return math.NaN()
			}
			return 12.5
		},
	}))

	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	grid, err := h.Step("lcc", 5)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(grid[0][0]))
	assert.Equal(t, 12.5, grid[1][2])

	_, err = h.Step("nope", 0)
	assert.Error(t, err)
}

func TestAggregate_ConstantDay(t *testing.T) {
	path := writeHourly(t, era5test.Month(1979, 6, era5test.Variable{
		Name:  "msl",
		Units: "Pa",
		Value: func(ts time.Time, _, _ int) float64 { return 100000 + float64(ts.Day()) },
	}))
	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	ds, err := Aggregate(h, 1979, 6)
	require.NoError(t, err)
	require.Len(t, ds.Days, 30)
	msl, ok := ds.Variable("msl")
	require.True(t, ok)
	assert.Equal(t, "Pa", msl.Units)
	require.Len(t, msl.Means, 30)
	for d, grid := range msl.Means {
		for _, row := range grid {
			for _, x := range row {
				assert.Equal(t, float32(100000+d+1), x)
			}
		}
	}
}

func TestAggregate_HourlyMeans(t *testing.T) {
	path := writeHourly(t, era5test.Month(2000, 4,
		era5test.Variable{
			Name:  "t",
			Units: "K",
			Value: func(ts time.Time, la, lo int) float64 {
				return float64(ts.Day()*100 + ts.Hour() + la + lo)
			},
		},
		era5test.Variable{
			Name:   "packed",
			Scale:  0.25,
			Offset: 200,
			Value: func(ts time.Time, la, lo int) float64 {
				// Missing for the first half of every day at one cell.
				if la == 2 && lo == 3 && ts.Hour() < 12 {
					return math.NaN()
				}
				return 200 + float64(ts.Hour())
			},
		},
	))
	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	ds, err := Aggregate(h, 2000, 4)
	require.NoError(t, err)

	assert.Equal(t, DayLabels(2000, 4), ds.Days)
	require.Len(t, ds.DayOfYear, 30)
	// 1 April 2000 is day 92 of a leap year.
	assert.Equal(t, int32(92), ds.DayOfYear[0])
	assert.Equal(t, int32(121), ds.DayOfYear[29])

	tv, ok := ds.Variable("t")
	require.True(t, ok)
	for d := range 30 {
		// mean of hours 0..23 is 11.5
		assert.Equal(t, float32((d+1)*100)+11.5+2+1, tv.Means[d][2][1])
	}

	pv, ok := ds.Variable("packed")
	require.True(t, ok)
	assert.Equal(t, float32(211.5), pv.Means[0][0][0])
	// mean of hours 12..23 is 17.5
	assert.Equal(t, float32(217.5), pv.Means[0][2][3])
}

func TestAggregate_AllMissingIsNaN(t *testing.T) {
	path := writeHourly(t, era5test.Month(2000, 4, era5test.Variable{
		Name:   "packed",
		Scale:  1,
		Offset: 0,
		Value: func(ts time.Time, la, lo int) float64 {
			if ts.Day() == 3 && la == 0 {
				return math.NaN()
			}
			return 7
		},
	}))
	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	ds, err := Aggregate(h, 2000, 4)
	require.NoError(t, err)
	v, _ := ds.Variable("packed")
	assert.True(t, math.IsNaN(float64(v.Means[2][0][0])))
	assert.Equal(t, float32(7), v.Means[2][1][0])
}

func TestAggregate_DayCountMismatch(t *testing.T) {
	path := writeHourly(t, era5test.Month(2000, 4, era5test.Variable{
		Name:  "msl",
		Value: func(time.Time, int, int) float64 { return 1 },
	}))
	h, err := OpenHourly(path)
	require.NoError(t, err)
	defer h.Close()

	// An April file labelled as May.
	_, err = Aggregate(h, 2000, 5)
	assert.ErrorIs(t, err, ErrDayCountMismatch)
}

func TestGroupByDayOfYear(t *testing.T) {
	times := []time.Time{
		time.Date(2001, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 2, 6, 0, 0, 0, time.UTC),
	}
	groups := groupByDayOfYear(times)
	require.Len(t, groups, 2)
	assert.Equal(t, dayGroup{dayOfYear: 1, steps: []int{1, 2}}, groups[0])
	assert.Equal(t, dayGroup{dayOfYear: 2, steps: []int{0, 3}}, groups[1])
}

func TestGroupByDayOfYear_IgnoresYear(t *testing.T) {
	// Samples a year apart share the ordinal and land in one group.
	times := []time.Time{
		time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	groups := groupByDayOfYear(times)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0].steps)
}

func TestParseTimeUnits(t *testing.T) {
	tests := []struct {
		units string
		unit  time.Duration
		epoch time.Time
	}{
		{"hours since 1900-01-01 00:00:00.0", time.Hour, time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"seconds since 1970-01-01", time.Second, time.Unix(0, 0).UTC()},
		{"days since 1979-1-1 00:00:00", 24 * time.Hour, time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"minutes since 2000-01-01T06:00:00", time.Minute, time.Date(2000, 1, 1, 6, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.units, func(t *testing.T) {
			unit, epoch, err := parseTimeUnits(tt.units)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, unit)
			assert.True(t, tt.epoch.Equal(epoch), "epoch %v", epoch)
		})
	}

	for _, bad := range []string{"hours", "fortnights since 1900-01-01", "hours since yesterday"} {
		_, _, err := parseTimeUnits(bad)
		assert.Error(t, err, bad)
	}
}
