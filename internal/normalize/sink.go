package normalize

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/envgraph/internal/model"
	"github.com/sells-group/envgraph/internal/tabular"
)

// Sink writes rejected rows next to the ingest inputs.
type Sink struct {
	Dir    string
	Format string // "csv" or "xlsx"
}

// Path returns the sink file for a measurement type.
func (s Sink) Path(t model.MeasurementType) string {
	ext := "csv"
	if strings.EqualFold(s.Format, "xlsx") {
		ext = "xlsx"
	}
	return filepath.Join(s.Dir, fmt.Sprintf("missing_%s_records.%s", strings.ToLower(string(t)), ext))
}

// Write emits row_number plus the original columns of every record.
// Nothing is written when recs is empty.
func (s Sink) Write(t model.MeasurementType, header []string, recs []MissingRecord) (string, error) {
	if len(recs) == 0 {
		return "", nil
	}
	path := s.Path(t)

	out := make([]string, 0, len(header)+1)
	out = append(out, "row_number")
	out = append(out, header...)

	rows := make([][]string, len(recs))
	for i, rec := range recs {
		row := make([]string, 0, len(out))
		row = append(row, strconv.Itoa(rec.RowNumber))
		for _, h := range header {
			row = append(row, rec.Columns[h])
		}
		rows[i] = row
	}

	if err := tabular.WriteFile(path, out, rows); err != nil {
		return "", eris.Wrap(err, "normalize: write missing records")
	}
	return path, nil
}
