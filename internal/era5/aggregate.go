package era5

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"time"
)

// ErrDayCountMismatch is returned when the number of day-of-year groups in
// an hourly file differs from the number of days in the requested month.
var ErrDayCountMismatch = errors.New("day count mismatch")

type dayGroup struct {
	dayOfYear int
	steps     []int
}

// groupByDayOfYear partitions time step indexes by the ordinal day within
// the year, ascending. The year itself is ignored, so steps from different
// years that share an ordinal end up in the same group.
func groupByDayOfYear(times []time.Time) []dayGroup {
	byDay := make(map[int][]int)
	for i, t := range times {
		doy := t.YearDay()
		byDay[doy] = append(byDay[doy], i)
	}
	groups := make([]dayGroup, 0, len(byDay))
	for _, doy := range slices.Sorted(maps.Keys(byDay)) {
		groups = append(groups, dayGroup{dayOfYear: doy, steps: byDay[doy]})
	}
	return groups
}

// Aggregate reduces an hourly file covering one calendar month to daily
// means. Every variable is averaged per grid cell over the time steps of
// each day-of-year group, skipping missing values. The groups are labelled
// with the DD-MM-YYYY dates of the month, positionally.
func Aggregate(h *HourlyFile, year, month int) (*DailyDataset, error) {
	groups := groupByDayOfYear(h.Times())
	labels := DayLabels(year, month)
	if len(labels) != len(groups) {
		return nil, fmt.Errorf("%w: %d-%02d has %d days, file has %d day-of-year groups",
			ErrDayCountMismatch, year, month, len(labels), len(groups))
	}

	ds := &DailyDataset{
		DayOfYear: make([]int32, len(groups)),
		Days:      labels,
		Latitude:  h.Latitude(),
		Longitude: h.Longitude(),
	}
	for i, g := range groups {
		ds.DayOfYear[i] = int32(g.dayOfYear)
	}
	for _, name := range h.Variables() {
		means, err := h.dailyMeans(name, groups)
		if err != nil {
			return nil, err
		}
		ds.Variables = append(ds.Variables, DailyVariable{
			Name:     name,
			Units:    attrString(h.attrs[name], "units"),
			LongName: attrString(h.attrs[name], "long_name"),
			Means:    means,
		})
	}
	return ds, nil
}

func (h *HourlyFile) dailyMeans(name string, groups []dayGroup) ([][][]float32, error) {
	nla, nlo := len(h.latitude), len(h.longitude)
	sum := make([]float64, nla*nlo)
	cnt := make([]int32, nla*nlo)
	means := make([][][]float32, len(groups))
	for gi, g := range groups {
		clear(sum)
		clear(cnt)
		for _, step := range g.steps {
			grid, err := h.Step(name, step)
			if err != nil {
				return nil, err
			}
			if len(grid) != nla {
				return nil, fmt.Errorf("%s[%d]: %d latitudes, want %d", name, step, len(grid), nla)
			}
			for i, row := range grid {
				if len(row) != nlo {
					return nil, fmt.Errorf("%s[%d]: %d longitudes, want %d", name, step, len(row), nlo)
				}
				for j, x := range row {
					if math.IsNaN(x) {
						continue
					}
					sum[i*nlo+j] += x
					cnt[i*nlo+j]++
				}
			}
		}
		m := make([][]float32, nla)
		for i := range m {
			m[i] = make([]float32, nlo)
			for j := range m[i] {
				k := i*nlo + j
				if cnt[k] == 0 {
					m[i][j] = float32(math.NaN())
					continue
				}
				m[i][j] = float32(sum[k] / float64(cnt[k]))
			}
		}
		means[gi] = m
	}
	return means, nil
}
