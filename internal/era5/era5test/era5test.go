// Package era5test writes synthetic hourly ERA5 files for tests.
package era5test

import (
	"fmt"
	"math"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// Fill is the _FillValue of packed variables.
const Fill int16 = -32767

var epoch1900 = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Variable describes a synthetic variable. Value returns the physical value
// at a time and grid cell; NaN is written as missing.
type Variable struct {
	Name  string
	Units string
	Value func(t time.Time, la, lo int) float64

	// When Scale is non-zero the variable is packed into int16 the way
	// legacy ERA5 downloads are.
	Scale  float64
	Offset float64
}

// Hourly describes a synthetic hourly file.
type Hourly struct {
	Times     []time.Time
	Latitude  []float32
	Longitude []float32
	Variables []Variable
}

// MonthTimes returns every hour of the month.
func MonthTimes(year, month int) []time.Time {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	var times []time.Time
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		times = append(times, t)
	}
	return times
}

// Month returns a small polar grid covering every hour of the month.
func Month(year, month int, vars ...Variable) Hourly {
	return Hourly{
		Times:     MonthTimes(year, month),
		Latitude:  []float32{90, 75, 60},
		Longitude: []float32{0, 90, 180, 270},
		Variables: vars,
	}
}

// Write writes h to path in classic NetCDF format, with the time coordinate
// stored as hours since 1900.
func Write(path string, h Hourly) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	if err := addVars(cw, h); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func addVars(cw *cdf.CDFWriter, h Hourly) error {
	hours := make([]int32, len(h.Times))
	for i, t := range h.Times {
		hours[i] = int32(t.Sub(epoch1900) / time.Hour)
	}
	timeAttrs, err := util.NewOrderedMap(
		[]string{"units", "long_name", "calendar"},
		map[string]any{
			"units":     "hours since 1900-01-01 00:00:00.0",
			"long_name": "time",
			"calendar":  "gregorian",
		})
	if err != nil {
		return err
	}
	if err := cw.AddVar("time", api.Variable{
		Values:     hours,
		Dimensions: []string{"time"},
		Attributes: timeAttrs,
	}); err != nil {
		return err
	}
	for _, c := range []struct {
		name   string
		values []float32
		units  string
	}{
		{"latitude", h.Latitude, "degrees_north"},
		{"longitude", h.Longitude, "degrees_east"},
	} {
		am, err := util.NewOrderedMap([]string{"units"}, map[string]any{"units": c.units})
		if err != nil {
			return err
		}
		if err := cw.AddVar(c.name, api.Variable{
			Values:     c.values,
			Dimensions: []string{c.name},
			Attributes: am,
		}); err != nil {
			return err
		}
	}
	for _, v := range h.Variables {
		if err := addVar(cw, h, v); err != nil {
			return fmt.Errorf("%s: %w", v.Name, err)
		}
	}
	return nil
}

func addVar(cw *cdf.CDFWriter, h Hourly, v Variable) error {
	keys := []string{"long_name"}
	attrs := map[string]any{"long_name": v.Name}
	if v.Units != "" {
		keys = append(keys, "units")
		attrs["units"] = v.Units
	}
	var values any
	if v.Scale != 0 {
		keys = append(keys, "scale_factor", "add_offset", "_FillValue")
		attrs["scale_factor"] = v.Scale
		attrs["add_offset"] = v.Offset
		attrs["_FillValue"] = Fill
		values = grid(h, func(t time.Time, la, lo int) int16 {
			x := v.Value(t, la, lo)
			if math.IsNaN(x) {
				return Fill
			}
			return int16(math.Round((x - v.Offset) / v.Scale))
		})
	} else {
		values = grid(h, func(t time.Time, la, lo int) float32 {
			return float32(v.Value(t, la, lo))
		})
	}
	am, err := util.NewOrderedMap(keys, attrs)
	if err != nil {
		return err
	}
	return cw.AddVar(v.Name, api.Variable{
		Values:     values,
		Dimensions: []string{"time", "latitude", "longitude"},
		Attributes: am,
	})
}

func grid[T int16 | float32](h Hourly, value func(time.Time, int, int) T) [][][]T {
	out := make([][][]T, len(h.Times))
	for i, t := range h.Times {
		out[i] = make([][]T, len(h.Latitude))
		for la := range h.Latitude {
			out[i][la] = make([]T, len(h.Longitude))
			for lo := range h.Longitude {
				out[i][la][lo] = value(t, la, lo)
			}
		}
	}
	return out
}
