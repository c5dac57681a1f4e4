// Package photometry defines the data model for forced-photometry fetches:
// requests, time windows, detection records and the tabular result parser.
//
// Everything in this package is pure: no I/O, no clocks except where a
// caller passes one in.
package photometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Filter is the ATLAS passband a measurement was taken in.
type Filter string

const (
	// FilterOrange is the ATLAS "o" band (~560-820nm).
	FilterOrange Filter = "o"

	// FilterCyan is the ATLAS "c" band (~420-650nm).
	FilterCyan Filter = "c"
)

// ParseFilter returns the Filter for s, or false if s is not a known band.
func ParseFilter(s string) (Filter, bool) {
	switch Filter(strings.TrimSpace(s)) {
	case FilterOrange:
		return FilterOrange, true
	case FilterCyan:
		return FilterCyan, true
	default:
		return "", false
	}
}

// Credentials is the username/password pair for the photometry service.
//
// Credentials are owned by the caller and passed by value; nothing in this
// module retains them past a single fetch.
type Credentials struct {
	Username string
	Password string
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == "" || c.Password == ""
}

// TimeWindow bounds a fetch in Modified Julian Date.
//
// Max is optional; when nil the service uses "now".
type TimeWindow struct {
	Min float64  `json:"mjd_min" yaml:"mjd_min" validate:"gt=0"`
	Max *float64 `json:"mjd_max,omitempty" yaml:"mjd_max,omitempty" validate:"omitempty,gt=0"`
}

// FetchRequest describes one forced-photometry job: a sky position and a
// time window.
type FetchRequest struct {
	RA     float64    `json:"ra" validate:"gte=0,lt=360"`
	Dec    float64    `json:"dec" validate:"gte=-90,lte=90"`
	Window TimeWindow `json:"time_window"`
}

// PhotometryRecord is a single detection.
//
// Upper limits are never represented as records.
type PhotometryRecord struct {
	MJD        float64  `json:"mjd"`
	Mag        float64  `json:"mag"`
	MagError   float64  `json:"mag_error"`
	Filter     Filter   `json:"filter"`
	FluxUJy    *float64 `json:"flux_ujy,omitempty"`
	FluxErrUJy *float64 `json:"flux_err_ujy,omitempty"`
	SNR        *float64 `json:"snr,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidRequest is returned (wrapped) by FetchRequest.Validate.
var ErrInvalidRequest = errors.New("invalid fetch request")

// Validate checks coordinate ranges and the time window ordering.
func (r FetchRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidRequest, fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.Window.Max != nil && *r.Window.Max <= r.Window.Min {
		return fmt.Errorf("%w: mjd_max (%.5f) must be greater than mjd_min (%.5f)", ErrInvalidRequest, *r.Window.Max, r.Window.Min)
	}
	return nil
}
