package pipeline

import (
	"path/filepath"

	"github.com/rtm0/era5daily/internal/era5"
)

// Iteration states reported by Plan.
const (
	StateDone    = "done"
	StateHourly  = "hourly"
	StatePending = "pending"
)

// Iteration describes one (year, month) step of the sweep.
type Iteration struct {
	Year   int
	Month  int
	Days   int
	Hourly string
	Daily  string
	State  string
}

// Plan lists the iterations of the sweep in the order Run processes them,
// with the state of their files on disk. StateHourly marks an iteration that
// stopped after the download, whether or not its daily file was written.
func (p *Pipeline) Plan() []Iteration {
	var its []Iteration
	for year := p.opts.StartYear; year <= p.opts.EndYear; year++ {
		for _, month := range p.opts.Months {
			it := Iteration{
				Year:   year,
				Month:  month,
				Days:   era5.DaysInMonth(year, month),
				Hourly: filepath.Join(p.opts.DataDir, era5.HourlyName(year, month)),
				Daily:  filepath.Join(p.opts.DataDir, era5.DailyName(year, month)),
				State:  StatePending,
			}
			switch {
			case fileExists(it.Hourly):
				it.State = StateHourly
			case fileExists(it.Daily):
				it.State = StateDone
			}
			its = append(its, it)
		}
	}
	return its
}
