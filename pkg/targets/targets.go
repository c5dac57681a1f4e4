// Package targets loads batch target lists for forced photometry.
//
// A target list names transients by position and either an explicit MJD
// window or a discovery date:
//
//	targets:
//	  - name: SN 2011fe
//	    ra: 210.774625
//	    dec: 54.273719
//	    discovery_date: 2011-08-24
//	  - name: AT 2023abc
//	    ra: 12.5
//	    dec: -33.1
//	    mjd_min: 60000
//	    mjd_max: 60100
package targets

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/3leaps/forcedphot/pkg/photometry"
)

// Target is one transient to fetch.
type Target struct {
	Name string  `json:"name" yaml:"name" validate:"required"`
	RA   float64 `json:"ra" yaml:"ra" validate:"gte=0,lt=360"`
	Dec  float64 `json:"dec" yaml:"dec" validate:"gte=-90,lte=90"`

	// DiscoveryDate anchors the window when MJDMin is not given.
	DiscoveryDate string `json:"discovery_date,omitempty" yaml:"discovery_date,omitempty"`

	MJDMin *float64 `json:"mjd_min,omitempty" yaml:"mjd_min,omitempty" validate:"omitempty,gt=0"`
	MJDMax *float64 `json:"mjd_max,omitempty" yaml:"mjd_max,omitempty" validate:"omitempty,gt=0"`
}

// List is a parsed target file.
type List struct {
	Targets []Target `json:"targets" yaml:"targets" validate:"required,min=1,dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every target and rejects duplicate names.
func (l *List) Validate() error {
	if err := validate.Struct(l); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid target list: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid target list: %w", err)
	}

	seen := make(map[string]int, len(l.Targets))
	for i, t := range l.Targets {
		key := strings.ToLower(strings.TrimSpace(t.Name))
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("invalid target list: targets[%d] duplicates name %q from targets[%d]", i, t.Name, prev)
		}
		seen[key] = i

		if t.MJDMin == nil && strings.TrimSpace(t.DiscoveryDate) == "" {
			return fmt.Errorf("invalid target list: target %q needs mjd_min or discovery_date", t.Name)
		}
		if t.DiscoveryDate != "" {
			if _, err := photometry.ParseDiscoveryDate(t.DiscoveryDate); err != nil {
				return fmt.Errorf("invalid target list: target %q: %w", t.Name, err)
			}
		}
	}
	return nil
}

// Request converts t into a FetchRequest. An explicit mjd_min wins over
// discovery_date; an explicit mjd_max overrides the derived upper bound.
func (t Target) Request(now time.Time) (photometry.FetchRequest, error) {
	req := photometry.FetchRequest{RA: t.RA, Dec: t.Dec}

	switch {
	case t.MJDMin != nil:
		req.Window.Min = *t.MJDMin
	case strings.TrimSpace(t.DiscoveryDate) != "":
		discovery, err := photometry.ParseDiscoveryDate(t.DiscoveryDate)
		if err != nil {
			return req, fmt.Errorf("target %q: %w", t.Name, err)
		}
		req.Window = photometry.DiscoveryWindow(discovery, now)
	default:
		return req, fmt.Errorf("target %q: %w: mjd_min or discovery_date is required", t.Name, photometry.ErrInvalidRequest)
	}

	if t.MJDMax != nil {
		end := *t.MJDMax
		req.Window.Max = &end
	}

	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("target %q: %w", t.Name, err)
	}
	return req, nil
}
