// Package normalize turns raw per-parameter readings into complete wide
// rows: pivot, one-step gap fill, and the completeness filter whose
// rejects go to the missing-records sink.
package normalize

import (
	"sort"
	"time"

	"github.com/sells-group/envgraph/internal/model"
)

// LongRow is one reading of one parameter. A nil Value means missing.
type LongRow struct {
	District  string
	Date      string
	Parameter string
	Value     *float64
}

// Row is a wide (district, date) record. Values holds one entry per
// parameter; a missing key and a nil value both mean missing.
type Row struct {
	Number   int // 1-based input position, 0 for rows built by Pivot
	District string
	Date     string
	Values   map[string]*float64
	Columns  map[string]string // original columns for the missing sink
}

// Has reports whether parameter p carries a value.
func (r Row) Has(p string) bool { return r.Values[p] != nil }

// Rule describes a one-step gap fill: a missing Parameter at date D takes
// the original value at D+Offset for the same district.
type Rule struct {
	Parameter string
	Offset    time.Duration
}

// DefaultRule fills CO from the reading two days later.
var DefaultRule = Rule{Parameter: string(model.CO), Offset: 48 * time.Hour}

func slot(district, date string) string { return district + "\x00" + date }

// Pivot folds long readings into one row per (district, date) with one
// value per parameter. On collisions the first present value wins.
// Output is sorted by district then date.
func Pivot(long []LongRow) []Row {
	byKey := make(map[string]*Row)
	for _, lr := range long {
		k := slot(lr.District, lr.Date)
		row, ok := byKey[k]
		if !ok {
			row = &Row{District: lr.District, Date: lr.Date, Values: make(map[string]*float64)}
			byKey[k] = row
		}
		if row.Values[lr.Parameter] == nil {
			row.Values[lr.Parameter] = copyValue(lr.Value)
		}
	}

	out := make([]Row, 0, len(byKey))
	for _, row := range byKey {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].District != out[j].District {
			return out[i].District < out[j].District
		}
		return out[i].Date < out[j].Date
	})
	return out
}

// GapFill applies rule once. Rows where the parameter is present pass
// through; missing ones take the value at the offset date from the
// unfilled input, or are dropped when that is missing too. Filled values
// never feed further fills.
func GapFill(rows []Row, rule Rule) (kept, dropped []Row) {
	lookup := make(map[string]*float64, len(rows))
	for _, r := range rows {
		if v := r.Values[rule.Parameter]; v != nil {
			lookup[slot(r.District, model.DatePart(r.Date))] = v
		}
	}

	for _, r := range rows {
		if r.Has(rule.Parameter) {
			kept = append(kept, r)
			continue
		}
		day, err := time.Parse(model.DateLayout, model.DatePart(r.Date))
		if err != nil {
			dropped = append(dropped, r)
			continue
		}
		donor := lookup[slot(r.District, day.Add(rule.Offset).Format(model.DateLayout))]
		if donor == nil {
			dropped = append(dropped, r)
			continue
		}
		filled := r
		filled.Values = make(map[string]*float64, len(r.Values))
		for k, v := range r.Values {
			filled.Values[k] = v
		}
		filled.Values[rule.Parameter] = copyValue(donor)
		kept = append(kept, filled)
	}
	return kept, dropped
}

// DropAllMissing removes rows where every one of params is missing.
func DropAllMissing(rows []Row, params ...string) []Row {
	out := rows[:0:0]
	for _, r := range rows {
		for _, p := range params {
			if r.Has(p) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// MissingRecord is a rejected input row.
type MissingRecord struct {
	RowNumber int
	Columns   map[string]string
	Missing   []string
}

// FilterComplete splits rows into those carrying every required field and
// the rejects. Rejection is never an error.
func FilterComplete(rows []Row, required []string) (complete []Row, missing []MissingRecord) {
	for _, r := range rows {
		var absent []string
		for _, f := range required {
			if !r.Has(f) {
				absent = append(absent, f)
			}
		}
		if len(absent) == 0 {
			complete = append(complete, r)
			continue
		}
		missing = append(missing, MissingRecord{RowNumber: r.Number, Columns: r.Columns, Missing: absent})
	}
	return complete, missing
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
