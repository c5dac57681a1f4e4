package photometry

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

type fingerprintPayload struct {
	RA     string `json:"ra"`
	Dec    string `json:"dec"`
	MJDMin string `json:"mjd_min"`
	MJDMax string `json:"mjd_max"`
}

// Fingerprint returns the cache key for r.
//
// Positions are rounded to 6 decimal places and MJDs to 1, so requests that
// differ only below that precision share a key. The result is a 64-character
// hex string.
func Fingerprint(r FetchRequest) string {
	payload := fingerprintPayload{
		RA:     formatFixed(r.RA, 6),
		Dec:    formatFixed(r.Dec, 6),
		MJDMin: formatFixed(r.Window.Min, 1),
		MJDMax: "none",
	}
	if r.Window.Max != nil {
		payload.MJDMax = formatFixed(*r.Window.Max, 1)
	}

	// Marshal of a flat struct of strings cannot fail.
	b, _ := json.Marshal(payload)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func formatFixed(v float64, places int) string {
	s := strconv.FormatFloat(v, 'f', places, 64)
	// -0.000000 and 0.000000 must collide.
	if s[0] == '-' {
		if z, err := strconv.ParseFloat(s, 64); err == nil && z == 0 {
			return s[1:]
		}
	}
	return s
}
