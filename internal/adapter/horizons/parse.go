package horizons

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/iso-visibility-service/internal/domain"
	"github.com/tidwall/gjson"
)

var (
	errNoTable    = errors.New("horizons result has no ephemeris table")
	errInvalidRow = errors.New("horizons row out of range")
)

// notFoundMarkers are result fragments Horizons emits when a lookup does not
// resolve to exactly one body.
var notFoundMarkers = []string{
	"No matches found",
	"Unknown target",
	"Cannot find central body",
	"Matching small-bodies",
	"Multiple major-bodies match",
}

// columns holds table indexes for the fields we read; -1 means absent.
type columns struct {
	date, ra, dec, mag, delta int
}

// defaultColumns matches QUANTITIES='1,9,20' with CSV output: date, solar
// and lunar presence flags, RA, DEC, magnitude, surface brightness, delta.
var defaultColumns = columns{date: 0, ra: 3, dec: 4, mag: 5, delta: 7}

// parseResponse decodes the Horizons JSON envelope and its observer table.
func parseResponse(body []byte) ([]domain.EphemerisSample, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode response: invalid JSON: %s", truncate(body, 128))
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		if isNotFound(msg.String()) {
			return nil, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, firstLine(msg.String()))
		}
		return nil, fmt.Errorf("horizons error: %s", firstLine(msg.String()))
	}

	result := gjson.GetBytes(body, "result")
	if !result.Exists() {
		return nil, errors.New("decode response: missing result")
	}
	text := result.String()
	if isNotFound(text) {
		return nil, fmt.Errorf("%w: %s", domain.ErrObjectNotFound, firstLine(text))
	}
	// The body exists but the requested span is outside its ephemeris.
	if strings.Contains(text, "No ephemeris for target") {
		return nil, nil
	}

	return parseTable(text)
}

func parseTable(text string) ([]domain.EphemerisSample, error) {
	soe := strings.Index(text, "$$SOE")
	eoe := strings.Index(text, "$$EOE")
	if soe == -1 || eoe == -1 || soe >= eoe {
		return nil, errNoTable
	}

	cols := headerColumns(text[:soe])

	var samples []domain.EphemerisSample
	for i, line := range strings.Split(text[soe+len("$$SOE"):eoe], "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		s, err := parseRow(line, cols)
		if err != nil {
			return nil, fmt.Errorf("parse table row %d: %w", i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// headerColumns locates fields by name in the header line preceding $$SOE,
// falling back to the fixed layout when no header is found.
func headerColumns(preamble string) columns {
	lines := strings.Split(preamble, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if !strings.Contains(lines[i], "Date__(UT)") {
			continue
		}
		cols := columns{date: -1, ra: -1, dec: -1, mag: -1, delta: -1}
		for idx, name := range strings.Split(lines[i], ",") {
			name = strings.TrimSpace(name)
			switch {
			case strings.HasPrefix(name, "Date__"):
				cols.date = idx
			case strings.HasPrefix(name, "R.A."):
				cols.ra = idx
			case strings.HasPrefix(name, "DEC"):
				cols.dec = idx
			case name == "APmag" || name == "T-mag":
				cols.mag = idx
			case name == "delta":
				cols.delta = idx
			}
		}
		if cols.date >= 0 && cols.ra >= 0 && cols.dec >= 0 {
			return cols
		}
	}
	return defaultColumns
}

func parseRow(line string, cols columns) (domain.EphemerisSample, error) {
	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	if len(fields) <= max(cols.date, cols.ra, cols.dec) {
		return domain.EphemerisSample{}, fmt.Errorf("insufficient fields: %d", len(fields))
	}

	t, err := parseTime(fields[cols.date])
	if err != nil {
		return domain.EphemerisSample{}, err
	}
	ra, err := strconv.ParseFloat(fields[cols.ra], 64)
	if err != nil {
		return domain.EphemerisSample{}, fmt.Errorf("parse ra %q: %w", fields[cols.ra], err)
	}
	dec, err := strconv.ParseFloat(fields[cols.dec], 64)
	if err != nil {
		return domain.EphemerisSample{}, fmt.Errorf("parse dec %q: %w", fields[cols.dec], err)
	}

	s := domain.EphemerisSample{
		Time:       t,
		RA:         ra,
		Dec:        dec,
		Magnitude:  optionalFloat(fields, cols.mag),
		DistanceAU: optionalFloat(fields, cols.delta),
	}
	// Out-of-range upstream data is an upstream fault, not caller input.
	if s.Validate() != nil {
		return domain.EphemerisSample{}, fmt.Errorf("%w: ra %g dec %g at %s", errInvalidRow, ra, dec, t.Format(time.RFC3339))
	}
	return s, nil
}

var timeLayouts = []string{
	"2006-Jan-02 15:04",
	"2006-Jan-02 15:04:05",
	"2006-Jan-02 15:04:05.000",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date %q", s)
}

// optionalFloat returns nil for missing columns and Horizons' "n.a." cells.
func optionalFloat(fields []string, idx int) *float64 {
	if idx < 0 || idx >= len(fields) {
		return nil
	}
	v, err := strconv.ParseFloat(fields[idx], 64)
	if err != nil {
		return nil
	}
	return &v
}

func isNotFound(text string) bool {
	for _, m := range notFoundMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
