package photometry

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Column names in the service's result table.
const (
	ColMJD     = "MJD"
	ColMag     = "m"
	ColMagErr  = "dm"
	ColFlux    = "uJy"
	ColFluxErr = "duJy"
	ColFilter  = "F"
)

const (
	// DefaultMinSNR is the signal-to-noise floor applied when flux columns
	// are present.
	DefaultMinSNR = 3.0

	// PayloadPrefixBytes bounds how much of a bad payload is kept for
	// diagnostics.
	PayloadPrefixBytes = 200

	// abZeroPointUJy is the AB zero point for fluxes in microjansky.
	abZeroPointUJy = 23.9
)

var missingTokens = map[string]struct{}{
	"":     {},
	"nan":  {},
	"none": {},
	"null": {},
	"-":    {},
	"--":   {},
}

// ParseOptions tunes ParseTable.
type ParseOptions struct {
	// MinSNR drops rows whose flux/flux-error ratio is below it.
	// Zero means DefaultMinSNR; a negative value disables the gate.
	MinSNR float64
}

// ParseResult is the outcome of decoding one result table.
type ParseResult struct {
	Records []PhotometryRecord

	// UpperLimits counts rows without a usable magnitude and error.
	UpperLimits int

	// LowSignal counts detections dropped by the SNR gate.
	LowSignal int

	// Skipped counts rows with an unknown filter or a missing MJD.
	Skipped int
}

// TableError reports a payload that could not be decoded as a result table.
type TableError struct {
	Line    int
	Reason  string
	Payload string
}

func (e *TableError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s (payload prefix: %q)", e.Line, e.Reason, e.Payload)
	}
	return fmt.Sprintf("%s (payload prefix: %q)", e.Reason, e.Payload)
}

// PayloadPrefix returns at most PayloadPrefixBytes of payload.
func PayloadPrefix(payload []byte) string {
	if len(payload) > PayloadPrefixBytes {
		return string(payload[:PayloadPrefixBytes])
	}
	return string(payload)
}

// ParseTable decodes a result table with default options.
func ParseTable(payload []byte) (*ParseResult, error) {
	return ParseTableWithOptions(payload, ParseOptions{})
}

// ParseTableWithOptions decodes the whitespace-delimited result table.
//
// The header row starts with a comment marker, glued to the time column
// ("###MJD") or separated from it ("# MJD"); the marker is stripped so the
// column is addressed as MJD.
// Rows keep their original order.
func ParseTableWithOptions(payload []byte, opts ParseOptions) (*ParseResult, error) {
	minSNR := opts.MinSNR
	if minSNR == 0 {
		minSNR = DefaultMinSNR
	}
	fail := func(line int, format string, args ...any) error {
		return &TableError{Line: line, Reason: fmt.Sprintf(format, args...), Payload: PayloadPrefix(payload)}
	}

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, fail(0, "empty payload")
	}

	sc := bufio.NewScanner(bytes.NewReader(payload))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var (
		cols   tableColumns
		header []string
		lineNo int
		result = &ParseResult{Records: []PhotometryRecord{}}
	)

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		if header == nil {
			if !strings.HasPrefix(line, "#") {
				return nil, fail(lineNo, "missing header row")
			}
			header = strings.Fields(strings.TrimLeft(line, "#"))
			if len(header) == 0 {
				return nil, fail(lineNo, "header row has no columns")
			}
			var err error
			cols, err = resolveColumns(header)
			if err != nil {
				return nil, fail(lineNo, "%s", err.Error())
			}
			continue
		}

		if strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) > len(header) {
			return nil, fail(lineNo, "row has %d fields, header has %d", len(fields), len(header))
		}

		rec, outcome, err := cols.decodeRow(fields, minSNR)
		if err != nil {
			return nil, fail(lineNo, "%s", err.Error())
		}
		switch outcome {
		case rowDetection:
			result.Records = append(result.Records, rec)
		case rowUpperLimit:
			result.UpperLimits++
		case rowLowSignal:
			result.LowSignal++
		case rowSkipped:
			result.Skipped++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fail(lineNo, "read payload: %v", err)
	}
	if header == nil {
		return nil, fail(0, "missing header row")
	}

	return result, nil
}

type rowOutcome int

const (
	rowDetection rowOutcome = iota
	rowUpperLimit
	rowLowSignal
	rowSkipped
)

type tableColumns struct {
	mjd, mag, magErr, flux, fluxErr, filter int

	// fluxOnly means magnitudes are derived from flux.
	fluxOnly bool
}

func (c tableColumns) hasFlux() bool { return c.flux >= 0 && c.fluxErr >= 0 }

func resolveColumns(header []string) (tableColumns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, seen := index[name]; !seen {
			index[name] = i
		}
	}
	lookup := func(name string) int {
		if i, ok := index[name]; ok {
			return i
		}
		return -1
	}

	cols := tableColumns{
		mjd:     lookup(ColMJD),
		mag:     lookup(ColMag),
		magErr:  lookup(ColMagErr),
		flux:    lookup(ColFlux),
		fluxErr: lookup(ColFluxErr),
		filter:  lookup(ColFilter),
	}
	if cols.mjd < 0 {
		return cols, fmt.Errorf("header has no %s column", ColMJD)
	}
	if cols.filter < 0 {
		return cols, fmt.Errorf("header has no %s column", ColFilter)
	}
	hasMag := cols.mag >= 0 && cols.magErr >= 0
	if !hasMag && !cols.hasFlux() {
		return cols, fmt.Errorf("header has neither %s/%s nor %s/%s columns", ColMag, ColMagErr, ColFlux, ColFluxErr)
	}
	cols.fluxOnly = !hasMag
	return cols, nil
}

func (c tableColumns) decodeRow(fields []string, minSNR float64) (PhotometryRecord, rowOutcome, error) {
	var rec PhotometryRecord

	mjd, ok, err := numberAt(fields, c.mjd)
	if err != nil {
		return rec, rowSkipped, fmt.Errorf("column %s: %w", ColMJD, err)
	}
	if !ok {
		return rec, rowSkipped, nil
	}

	filter, ok := ParseFilter(valueAt(fields, c.filter))
	if !ok {
		return rec, rowSkipped, nil
	}

	var flux, fluxErr float64
	var hasFlux bool
	if c.hasFlux() {
		f, fok, err := numberAt(fields, c.flux)
		if err != nil {
			return rec, rowSkipped, fmt.Errorf("column %s: %w", ColFlux, err)
		}
		fe, feok, err := numberAt(fields, c.fluxErr)
		if err != nil {
			return rec, rowSkipped, fmt.Errorf("column %s: %w", ColFluxErr, err)
		}
		flux, fluxErr, hasFlux = f, fe, fok && feok
	}

	var mag, magErr float64
	if c.fluxOnly {
		if !hasFlux || flux <= 0 || fluxErr <= 0 {
			return rec, rowUpperLimit, nil
		}
		mag = -2.5*math.Log10(flux/1e6) + abZeroPointUJy
		magErr = 2.5 * math.Log10(math.E) * fluxErr / flux
	} else {
		m, mok, err := numberAt(fields, c.mag)
		if err != nil {
			return rec, rowSkipped, fmt.Errorf("column %s: %w", ColMag, err)
		}
		dm, dmok, err := numberAt(fields, c.magErr)
		if err != nil {
			return rec, rowSkipped, fmt.Errorf("column %s: %w", ColMagErr, err)
		}
		if !mok || !dmok {
			return rec, rowUpperLimit, nil
		}
		mag, magErr = m, dm
	}

	rec = PhotometryRecord{
		MJD:      roundTo(mjd, 3),
		Mag:      roundTo(mag, 3),
		MagError: roundTo(magErr, 3),
		Filter:   filter,
	}

	if hasFlux {
		rec.FluxUJy = ptr(roundTo(flux, 3))
		rec.FluxErrUJy = ptr(roundTo(fluxErr, 3))
		if fluxErr > 0 {
			snr := flux / fluxErr
			if minSNR > 0 && snr < minSNR {
				return PhotometryRecord{}, rowLowSignal, nil
			}
			rec.SNR = ptr(roundTo(snr, 3))
		}
	}

	return rec, rowDetection, nil
}

func valueAt(fields []string, idx int) string {
	if idx < 0 || idx >= len(fields) {
		return ""
	}
	return fields[idx]
}

// numberAt returns the float at idx. Missing markers and non-finite values
// report ok=false; anything else that is not a number is an error.
func numberAt(fields []string, idx int) (float64, bool, error) {
	raw := valueAt(fields, idx)
	if _, missing := missingTokens[strings.ToLower(raw)]; missing {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("not a number: %q", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, nil
	}
	return v, true, nil
}

func ptr(v float64) *float64 { return &v }
