package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		typ    MeasurementType
		raw    string
		want   time.Time
		wantOK bool
	}{
		{
			name:   "window start",
			typ:    CO,
			raw:    "2020-01-01T00:00:00 to 2020-01-08T00:00:00",
			want:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{
			name:   "bare datetime",
			typ:    Ozone,
			raw:    "2021-03-04T05:06:07",
			want:   time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
			wantOK: true,
		},
		{name: "garbage", typ: Aerosol, raw: "last tuesday"},
		{name: "year for atmospheric type", typ: CO, raw: "2020"},
		{
			name:   "land cover year",
			typ:    LandCover,
			raw:    " 2019 ",
			want:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
			wantOK: true,
		},
		{name: "land cover datetime", typ: LandCover, raw: "2019-01-01T00:00:00"},
		{name: "land cover empty", typ: LandCover, raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ParseChainTime(tt.typ, tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s", got)
			}
		})
	}
}

func TestNormalizeTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"2020-01-01T00:00:00 to 2020-01-08T00:00:00", "2020-01-01T00:00:00", true},
		{"2020-01-01T00:00:00", "2020-01-01T00:00:00", true},
		{"2017", "2017-01-01T00:00:00", true},
		{"2020-02-03", "2020-02-03T00:00:00", true},
		{"2020-02-03T10:00:00Z", "2020-02-03T10:00:00", true},
		{"", "", false},
		{"n/a", "", false},
		{"abcd", "", false},
	}

	for _, tt := range tests {
		got, ok := NormalizeTimestamp(tt.raw)
		assert.Equal(t, tt.wantOK, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestFormatWindow(t *testing.T) {
	t.Parallel()

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	got := FormatWindow(start, start.AddDate(0, 0, 7))
	assert.Equal(t, "2020-01-01T00:00:00 to 2020-01-08T00:00:00", got)

	parsed, ok := ParseChainTime(CO, got)
	require.True(t, ok)
	assert.True(t, start.Equal(parsed))
}

func TestDatePart(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2020-01-01", DatePart("2020-01-01T00:00:00 to 2020-01-08T00:00:00"))
	assert.Equal(t, "2019", DatePart("2019"))
}

func TestParseBound(t *testing.T) {
	t.Parallel()

	_, ok := ParseBound("2020-01-31")
	assert.True(t, ok)
	_, ok = ParseBound("2020-01-31T23:59:59")
	assert.True(t, ok)
	_, ok = ParseBound("31/01/2020")
	assert.False(t, ok)
}
