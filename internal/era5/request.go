package era5

import (
	"fmt"
	"time"
)

// Area is a geographic bounding box in degrees.
type Area struct {
	North float64
	West  float64
	South float64
	East  float64
}

// RequestSpec holds the parts of a retrieval request that do not change
// between months.
type RequestSpec struct {
	Dataset     string
	ProductType string
	Variables   []string
	Area        Area
	Format      string
}

// Request is a retrieval request for one calendar month of hourly data.
type Request struct {
	Dataset     string
	ProductType string
	Variables   []string
	Year        int
	Month       int
	Days        []string
	Area        Area
	Hours       []string
	Format      string
}

// NewRequest builds the request for the given year and month. The caller
// guarantees that month is within 1..12.
func NewRequest(spec RequestSpec, year, month int) Request {
	return Request{
		Dataset:     spec.Dataset,
		ProductType: spec.ProductType,
		Variables:   append([]string(nil), spec.Variables...),
		Year:        year,
		Month:       month,
		Days:        DayList(year, month),
		Area:        spec.Area,
		Hours:       Hours(),
		Format:      spec.Format,
	}
}

// Payload returns the request body understood by the Climate Data Store.
func (r Request) Payload() map[string]any {
	return map[string]any{
		"product_type": r.ProductType,
		"variable":     r.Variables,
		"year":         fmt.Sprintf("%d", r.Year),
		"month":        fmt.Sprintf("%02d", r.Month),
		"day":          r.Days,
		"area":         []float64{r.Area.North, r.Area.West, r.Area.South, r.Area.East},
		"time":         r.Hours,
		"format":       r.Format,
	}
}

// DaysInMonth returns the number of days in the month of the Gregorian
// calendar.
func DaysInMonth(year, month int) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// DayList returns the zero padded days of the month: "01", "02", ...
func DayList(year, month int) []string {
	n := DaysInMonth(year, month)
	days := make([]string, n)
	for i := range days {
		days[i] = fmt.Sprintf("%02d", i+1)
	}
	return days
}

// Hours returns the 24 hourly marks "00:00" through "23:00".
func Hours() []string {
	hours := make([]string, 24)
	for i := range hours {
		hours[i] = fmt.Sprintf("%02d:00", i)
	}
	return hours
}

const dayLabelLayout = "02-01-2006"

// DayLabels returns one DD-MM-YYYY label per day of the month, ascending.
func DayLabels(year, month int) []string {
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	labels := make([]string, DaysInMonth(year, month))
	for i := range labels {
		labels[i] = start.AddDate(0, 0, i).Format(dayLabelLayout)
	}
	return labels
}

// HourlyName is the file name of the hourly download for a month.
func HourlyName(year, month int) string {
	return fmt.Sprintf("%d%02d.nc", year, month)
}

// DailyName is the file name of the daily means for a month.
func DailyName(year, month int) string {
	return "cleaned_" + HourlyName(year, month)
}
