package collect

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/source"
)

// Window is one acquisition period. Year is set for annual windows.
type Window struct {
	Start time.Time
	End   time.Time
	Year  int
}

// Timestamp renders the window the way measurements store it.
func (w Window) Timestamp() string {
	if w.Year > 0 {
		return model.FormatYear(w.Year)
	}
	return model.FormatWindow(w.Start, w.End)
}

// Weekly splits [start, end) into consecutive windows of step days. The
// last window is clipped to end.
func Weekly(start, end time.Time, stepDays int) []Window {
	if stepDays <= 0 {
		stepDays = 7
	}
	var out []Window
	for cur := start; cur.Before(end); {
		next := cur.AddDate(0, 0, stepDays)
		if next.After(end) {
			next = end
		}
		out = append(out, Window{Start: cur, End: next})
		cur = next
	}
	return out
}

// Years returns one calendar-year window per year in [from, to].
func Years(from, to int) []Window {
	var out []Window
	for y := from; y <= to; y++ {
		out = append(out, Window{
			Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC),
			Year:  y,
		})
	}
	return out
}

// Plan returns the windows to collect for src. Weekly sources run from
// start up to end, or up to the clock's now when end is zero. Annual
// sources use the catalog year range.
func Plan(src *source.Source, start, end time.Time, stepDays int, clock clockwork.Clock) []Window {
	if src.Cadence == source.Annual {
		return Years(src.FirstYear, src.LastYear)
	}
	if end.IsZero() {
		end = clock.Now().UTC().Truncate(time.Second)
	}
	return Weekly(start, end, stepDays)
}
