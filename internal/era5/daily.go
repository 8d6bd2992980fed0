package era5

import (
	"fmt"
	"os"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

// DailyDataset holds the daily means of one month.
type DailyDataset struct {
	// Dimensions
	DayOfYear []int32
	Latitude  []float64
	Longitude []float64

	// Days holds the DD-MM-YYYY label of each day-of-year group.
	Days []string

	// Metrics
	Variables []DailyVariable
}

// DailyVariable is one variable averaged per day. Means is indexed by
// [day][latitude][longitude].
type DailyVariable struct {
	Name     string
	Units    string
	LongName string
	Means    [][][]float32
}

// Variable returns the variable with the given name.
func (ds *DailyDataset) Variable(name string) (DailyVariable, bool) {
	for _, v := range ds.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return DailyVariable{}, false
}

var (
	dailyDims = []string{"dayofyear", "latitude", "longitude"}
	coordVars = []string{"dayofyear", "day", "latitude", "longitude"}
)

// WriteDaily writes the dataset to path in classic NetCDF format and returns
// the size of the written file. The file is written under a temporary name
// and renamed into place, so path either holds a complete file or nothing
// new.
func WriteDaily(path string, ds *DailyDataset) (int64, error) {
	tmp := path + ".tmp"
	if err := writeCDF(tmp, ds); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func writeCDF(path string, ds *DailyDataset) error {
	cw, err := cdf.OpenWriter(path)
	if err != nil {
		return err
	}
	if err := addDailyVars(cw, ds); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func addDailyVars(cw *cdf.CDFWriter, ds *DailyDataset) error {
	global, err := attributes(
		"Conventions", "CF-1.6",
		"history", "daily means of hourly ERA5 data grouped by day of year",
	)
	if err != nil {
		return err
	}
	if err := cw.AddGlobalAttrs(global); err != nil {
		return err
	}

	type entry struct {
		name  string
		value any
		dims  []string
		attrs []string
	}
	entries := []entry{
		{"dayofyear", ds.DayOfYear, []string{"dayofyear"}, []string{"long_name", "day of year"}},
		{"day", ds.Days, []string{"dayofyear", "day_strlen"}, []string{"long_name", "date (DD-MM-YYYY)"}},
		{"latitude", ds.Latitude, []string{"latitude"}, []string{"units", "degrees_north", "long_name", "latitude"}},
		{"longitude", ds.Longitude, []string{"longitude"}, []string{"units", "degrees_east", "long_name", "longitude"}},
	}
	for _, v := range ds.Variables {
		var attrs []string
		if v.Units != "" {
			attrs = append(attrs, "units", v.Units)
		}
		if v.LongName != "" {
			attrs = append(attrs, "long_name", v.LongName)
		}
		entries = append(entries, entry{v.Name, v.Means, dailyDims, attrs})
	}

	for _, e := range entries {
		am, err := attributes(e.attrs...)
		if err != nil {
			return err
		}
		err = cw.AddVar(e.name, api.Variable{
			Values:     e.value,
			Dimensions: e.dims,
			Attributes: am,
		})
		if err != nil {
			return fmt.Errorf("%s: %w", e.name, err)
		}
	}
	return nil
}

// attributes builds an attribute map from alternating keys and values.
func attributes(kv ...string) (api.AttributeMap, error) {
	keys := make([]string, 0, len(kv)/2)
	vals := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		keys = append(keys, kv[i])
		vals[kv[i]] = kv[i+1]
	}
	return util.NewOrderedMap(keys, vals)
}

// ReadDaily reads a file written by WriteDaily.
func ReadDaily(path string) (*DailyDataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	ds := &DailyDataset{}
	doy, err := nc.GetVariable("dayofyear")
	if err != nil {
		return nil, err
	}
	var ok bool
	if ds.DayOfYear, ok = doy.Values.([]int32); !ok {
		return nil, fmt.Errorf("dayofyear: unexpected type %T", doy.Values)
	}
	day, err := nc.GetVariable("day")
	if err != nil {
		return nil, err
	}
	switch v := day.Values.(type) {
	case []string:
		ds.Days = v
	case string:
		ds.Days = []string{v}
	default:
		return nil, fmt.Errorf("day: unexpected type %T", day.Values)
	}
	if ds.Latitude, err = dimValues(nc, "latitude"); err != nil {
		return nil, err
	}
	if ds.Longitude, err = dimValues(nc, "longitude"); err != nil {
		return nil, err
	}

	for _, name := range nc.ListVariables() {
		if slices.Contains(coordVars, name) {
			continue
		}
		v, err := nc.GetVariable(name)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(v.Dimensions, dailyDims) {
			continue
		}
		means, ok := v.Values.([][][]float32)
		if !ok {
			return nil, fmt.Errorf("%s: unexpected type %T", name, v.Values)
		}
		ds.Variables = append(ds.Variables, DailyVariable{
			Name:     name,
			Units:    attrString(v.Attributes, "units"),
			LongName: attrString(v.Attributes, "long_name"),
			Means:    means,
		})
	}
	return ds, nil
}
