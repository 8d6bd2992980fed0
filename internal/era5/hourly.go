package era5

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// TZ=UTC date --date="1900-01-01 00:00:00" +%s
const unixSecs1900 = -2208988800

var (
	// ErrNoTimeCoordinate is returned when a file has neither a "time" nor a
	// "valid_time" variable.
	ErrNoTimeCoordinate = errors.New("no time coordinate")
	// ErrNoVariables is returned when a file has no (time, latitude,
	// longitude) variables to aggregate.
	ErrNoVariables = errors.New("no gridded variables")
)

// Time coordinate names, legacy CDS output first.
var timeDims = []string{"time", "valid_time"}

// HourlyFile is an open hourly ERA5 file. Grids are read one time step at a
// time so that a month of data never has to fit in memory at once.
type HourlyFile struct {
	nc        api.Group
	timeDim   string
	times     []time.Time
	latitude  []float64
	longitude []float64
	vars      []string
	getters   map[string]api.VarGetter
	decoders  map[string]decoder
	attrs     map[string]api.AttributeMap
}

// OpenHourly opens an hourly ERA5 file in NetCDF format (classic or HDF5).
func OpenHourly(filePath string) (*HourlyFile, error) {
	nc, err := netcdf.Open(filePath)
	if err != nil {
		return nil, err
	}
	h, err := newHourlyFile(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return h, nil
}

func newHourlyFile(nc api.Group) (*HourlyFile, error) {
	h := &HourlyFile{
		nc:       nc,
		getters:  make(map[string]api.VarGetter),
		decoders: make(map[string]decoder),
		attrs:    make(map[string]api.AttributeMap),
	}
	names := nc.ListVariables()
	for _, dim := range timeDims {
		if slices.Contains(names, dim) {
			h.timeDim = dim
			break
		}
	}
	if h.timeDim == "" {
		return nil, ErrNoTimeCoordinate
	}

	var err error
	h.times, err = timeValues(nc, h.timeDim)
	if err != nil {
		return nil, err
	}
	h.latitude, err = dimValues(nc, "latitude")
	if err != nil {
		return nil, err
	}
	h.longitude, err = dimValues(nc, "longitude")
	if err != nil {
		return nil, err
	}

	grid := []string{h.timeDim, "latitude", "longitude"}
	for _, name := range names {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, err
		}
		if !slices.Equal(vg.Dimensions(), grid) {
			continue
		}
		h.vars = append(h.vars, name)
		h.getters[name] = vg
		h.decoders[name] = newDecoder(vg.Attributes())
		h.attrs[name] = vg.Attributes()
	}
	if len(h.vars) == 0 {
		return nil, ErrNoVariables
	}
	return h, nil
}

func dimValues(nc api.Group, dimName string) ([]float64, error) {
	dim, err := nc.GetVarGetter(dimName)
	if err != nil {
		return nil, err
	}
	v, err := dim.Values()
	if err != nil {
		return nil, err
	}
	return float64s(v)
}

func timeValues(nc api.Group, dimName string) ([]time.Time, error) {
	dim, err := nc.GetVarGetter(dimName)
	if err != nil {
		return nil, err
	}
	v, err := dim.Values()
	if err != nil {
		return nil, err
	}
	raw, err := float64s(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dimName, err)
	}
	unit, epoch := time.Hour, time.Unix(unixSecs1900, 0).UTC()
	if units := attrString(dim.Attributes(), "units"); units != "" {
		unit, epoch, err = parseTimeUnits(units)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", dimName, err)
		}
	}
	times := make([]time.Time, len(raw))
	for i, x := range raw {
		times[i] = epoch.Add(time.Duration(x * float64(unit)))
	}
	return times, nil
}

var epochLayouts = []string{
	"2006-1-2 15:04:05",
	"2006-1-2T15:04:05Z07:00",
	"2006-1-2T15:04:05",
	"2006-1-2 15:04",
	"2006-1-2",
}

// parseTimeUnits parses CF time units such as "hours since 1900-01-01
// 00:00:00.0".
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	name, since, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	var unit time.Duration
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "days", "day":
		unit = 24 * time.Hour
	case "hours", "hour":
		unit = time.Hour
	case "minutes", "minute":
		unit = time.Minute
	case "seconds", "second":
		unit = time.Second
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", name)
	}
	since = strings.TrimSuffix(strings.TrimSpace(since), " UTC")
	for _, layout := range epochLayouts {
		if epoch, err := time.Parse(layout, since); err == nil {
			return unit, epoch.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("unsupported time epoch %q", since)
}

// Close closes the underlying file.
func (h *HourlyFile) Close() {
	h.nc.Close()
}

// Times returns the timestamps of the time steps.
func (h *HourlyFile) Times() []time.Time { return h.times }

// Latitude returns the latitude coordinate.
func (h *HourlyFile) Latitude() []float64 { return h.latitude }

// Longitude returns the longitude coordinate.
func (h *HourlyFile) Longitude() []float64 { return h.longitude }

// Variables returns the names of the gridded variables in file order.
func (h *HourlyFile) Variables() []string { return h.vars }

// Summary returns the summary information about the dataset suitable for
// logging.
func (h *HourlyFile) Summary() []any {
	return []any{
		"timeDim", h.timeDim,
		"metrics", h.vars,
		"tsCnt", len(h.times),
		"laCnt", len(h.latitude),
		"loCnt", len(h.longitude),
	}
}

// Step reads the grid of a variable at time step i. Packed values are
// unpacked and missing values are returned as NaN.
func (h *HourlyFile) Step(name string, i int) ([][]float64, error) {
	vg, ok := h.getters[name]
	if !ok {
		return nil, fmt.Errorf("unknown variable %q", name)
	}
	begin := int64(i)
	v, err := vg.GetSlice(begin, begin+1)
	if err != nil {
		return nil, fmt.Errorf("%s[%d]: %w", name, i, err)
	}
	dec := h.decoders[name]
	switch v := v.(type) {
	case [][][]int16:
		return decodeGrid(v[0], dec), nil
	case [][][]int32:
		return decodeGrid(v[0], dec), nil
	case [][][]float32:
		return decodeGrid(v[0], dec), nil
	case [][][]float64:
		return decodeGrid(v[0], dec), nil
	default:
		return nil, fmt.Errorf("%s: unsupported value type %T", name, v)
	}
}

type number interface {
	int16 | int32 | int64 | float32 | float64
}

// decoder applies the CF packing attributes of a variable.
type decoder struct {
	scale   float64
	offset  float64
	fill    float64
	hasFill bool
	missing float64
	hasMiss bool
}

func newDecoder(am api.AttributeMap) decoder {
	d := decoder{scale: 1}
	if v, ok := attrFloat(am, "scale_factor"); ok {
		d.scale = v
	}
	if v, ok := attrFloat(am, "add_offset"); ok {
		d.offset = v
	}
	d.fill, d.hasFill = attrFloat(am, "_FillValue")
	d.missing, d.hasMiss = attrFloat(am, "missing_value")
	return d
}

func (d decoder) decode(raw float64) float64 {
	if (d.hasFill && raw == d.fill) || (d.hasMiss && raw == d.missing) {
		return math.NaN()
	}
	return raw*d.scale + d.offset
}

func decodeGrid[T number](grid [][]T, dec decoder) [][]float64 {
	out := make([][]float64, len(grid))
	for i, row := range grid {
		out[i] = make([]float64, len(row))
		for j, x := range row {
			out[i][j] = dec.decode(float64(x))
		}
	}
	return out
}

func convert[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func float64s(v any) ([]float64, error) {
	switch v := v.(type) {
	case []int16:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int64:
		return convert(v), nil
	case []float32:
		return convert(v), nil
	case []float64:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported coordinate type %T", v)
	}
}

func attrString(am api.AttributeMap, key string) string {
	if am == nil {
		return ""
	}
	v, ok := am.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// attrFloat reads a numeric attribute. Single valued attributes may come
// back either as a scalar or as a one element slice.
func attrFloat(am api.AttributeMap, key string) (float64, bool) {
	if am == nil {
		return 0, false
	}
	v, ok := am.Get(key)
	if !ok {
		return 0, false
	}
	switch v := v.(type) {
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case []int8, []int16, []int32, []int64, []float32, []float64:
		vs, err := attrSlice(v)
		if err != nil || len(vs) == 0 {
			return 0, false
		}
		return vs[0], true
	default:
		return 0, false
	}
}

func attrSlice(v any) ([]float64, error) {
	if v, ok := v.([]int8); ok {
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out, nil
	}
	return float64s(v)
}
