package photometry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestFingerprint_RoundingCollapses(t *testing.T) {
	base := FetchRequest{RA: 210.774625, Dec: 54.273719, Window: TimeWindow{Min: 55800.0}}

	tests := []struct {
		name string
		req  FetchRequest
		same bool
	}{
		{
			name: "sub-microdegree ra jitter",
			req:  FetchRequest{RA: 210.7746251, Dec: 54.273719, Window: TimeWindow{Min: 55800.0}},
			same: true,
		},
		{
			name: "mjd within a tenth",
			req:  FetchRequest{RA: 210.774625, Dec: 54.273719, Window: TimeWindow{Min: 55800.04}},
			same: true,
		},
		{
			name: "ra differs at sixth decimal",
			req:  FetchRequest{RA: 210.774626, Dec: 54.273719, Window: TimeWindow{Min: 55800.0}},
			same: false,
		},
		{
			name: "mjd differs at first decimal",
			req:  FetchRequest{RA: 210.774625, Dec: 54.273719, Window: TimeWindow{Min: 55800.2}},
			same: false,
		},
		{
			name: "explicit max changes key",
			req:  FetchRequest{RA: 210.774625, Dec: 54.273719, Window: TimeWindow{Min: 55800.0, Max: f64(56000)}},
			same: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.same {
				assert.Equal(t, Fingerprint(base), Fingerprint(tt.req))
			} else {
				assert.NotEqual(t, Fingerprint(base), Fingerprint(tt.req))
			}
		})
	}
}

func TestFingerprint_MaxRounding(t *testing.T) {
	a := FetchRequest{RA: 1, Dec: 2, Window: TimeWindow{Min: 60000, Max: f64(60100.01)}}
	b := FetchRequest{RA: 1, Dec: 2, Window: TimeWindow{Min: 60000, Max: f64(60099.98)}}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprint_FixedWidthAndNegativeZero(t *testing.T) {
	fp := Fingerprint(FetchRequest{RA: 0, Dec: 0, Window: TimeWindow{Min: 1}})
	assert.Len(t, fp, 64)

	neg := Fingerprint(FetchRequest{RA: 0, Dec: -0.0000001, Window: TimeWindow{Min: 1}})
	assert.Equal(t, fp, neg)
}

func TestFetchRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     FetchRequest
		wantErr bool
	}{
		{name: "valid", req: FetchRequest{RA: 210.77, Dec: 54.27, Window: TimeWindow{Min: 55800}}},
		{name: "ra zero", req: FetchRequest{RA: 0, Dec: 0, Window: TimeWindow{Min: 55800}}},
		{name: "ra 360", req: FetchRequest{RA: 360, Dec: 0, Window: TimeWindow{Min: 55800}}, wantErr: true},
		{name: "negative ra", req: FetchRequest{RA: -1, Dec: 0, Window: TimeWindow{Min: 55800}}, wantErr: true},
		{name: "dec 90", req: FetchRequest{RA: 1, Dec: 90, Window: TimeWindow{Min: 55800}}},
		{name: "dec below -90", req: FetchRequest{RA: 1, Dec: -90.5, Window: TimeWindow{Min: 55800}}, wantErr: true},
		{name: "missing mjd_min", req: FetchRequest{RA: 1, Dec: 1}, wantErr: true},
		{name: "max before min", req: FetchRequest{RA: 1, Dec: 1, Window: TimeWindow{Min: 55800, Max: f64(55700)}}, wantErr: true},
		{name: "max after min", req: FetchRequest{RA: 1, Dec: 1, Window: TimeWindow{Min: 55800, Max: f64(55900)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidRequest))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMJDConversions(t *testing.T) {
	epoch := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 40587.0, MJDFromTime(epoch))

	// SN 2011fe discovery night.
	disc := time.Date(2011, 8, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 55797.0, MJDFromTime(disc))
	assert.True(t, TimeFromMJD(55797.0).Equal(disc))

	half := TimeFromMJD(55797.5)
	assert.Equal(t, 12, half.Hour())
}

func TestDiscoveryWindow(t *testing.T) {
	disc := time.Date(2011, 8, 24, 0, 0, 0, 0, time.UTC)

	t.Run("old discovery caps one year out", func(t *testing.T) {
		now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		w := DiscoveryWindow(disc, now)
		assert.Equal(t, 55697.0, w.Min)
		require.NotNil(t, w.Max)
		assert.Equal(t, 56162.0, *w.Max)
	})

	t.Run("recent discovery caps at now", func(t *testing.T) {
		now := disc.Add(10 * 24 * time.Hour)
		w := DiscoveryWindow(disc, now)
		require.NotNil(t, w.Max)
		assert.Equal(t, 55807.0, *w.Max)
	})
}

func TestParseDiscoveryDate(t *testing.T) {
	for _, in := range []string{"2011-08-24", "2011-08-24 00:00:00", "2011-08-24 00:00:00.000", "2011-08-24T00:00:00Z"} {
		got, err := ParseDiscoveryDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, 2011, got.Year(), in)
		assert.Equal(t, 24, got.Day(), in)
	}

	_, err := ParseDiscoveryDate("last tuesday")
	assert.Error(t, err)
}

func TestCredentials_Empty(t *testing.T) {
	assert.True(t, Credentials{}.Empty())
	assert.True(t, Credentials{Username: "u"}.Empty())
	assert.True(t, Credentials{Password: "p"}.Empty())
	assert.False(t, Credentials{Username: "u", Password: "p"}.Empty())
}
