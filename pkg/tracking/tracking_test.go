package tracking

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSample_Canonicalizes(t *testing.T) {
	upper := Report{TagMAC: " AA:BB:CC:DD:EE:01 ", Timestamp: "1700000000"}
	lower := Report{TagMAC: "aa:bb:cc:dd:ee:01", Timestamp: "1700000000"}

	a, err := upper.Sample()
	require.NoError(t, err)
	b, err := lower.Sample()
	require.NoError(t, err)

	assert.Equal(t, "aa:bb:cc:dd:ee:01", a.DeviceID)
	assert.Equal(t, a.DeviceID, b.DeviceID)
}

func TestReportSample_RejectsMissingFields(t *testing.T) {
	_, err := Report{TagMAC: "aa:bb:cc:dd:ee:01"}.Sample()
	assert.ErrorIs(t, err, ErrMissingTimestamp)

	_, err = Report{Timestamp: "1700000000"}.Sample()
	assert.ErrorIs(t, err, ErrMissingDevice)
}

func TestReport_TimestampStringOrNumber(t *testing.T) {
	tests := []struct {
		name string
		body string
		want EpochText
	}{
		{"string", `{"tag_mac":"a","timestamp":"1700000000.25"}`, "1700000000.25"},
		{"number", `{"tag_mac":"a","timestamp":1700000000}`, "1700000000"},
		{"null", `{"tag_mac":"a","timestamp":null}`, ""},
		{"absent", `{"tag_mac":"a"}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Report
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			assert.Equal(t, tt.want, r.Timestamp)
		})
	}
}

func TestSample_OptionalFields(t *testing.T) {
	var r Report
	require.NoError(t, json.Unmarshal([]byte(`{"tag_mac":"AA:BB:CC:DD:EE:01","x":12,"y":3,"map_id":1,"timestamp":"1700000000"}`), &r))
	s, err := r.Sample()
	require.NoError(t, err)

	x, y, ok := s.Position()
	require.True(t, ok)
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 3.0, y)

	mapID, ok := s.Map()
	require.True(t, ok)
	assert.Equal(t, int64(1), mapID)

	_, _, ok = Sample{X: s.X}.Position()
	assert.False(t, ok)
}

func TestParseMAC(t *testing.T) {
	for _, in := range []string{"aa:bb:cc:dd:ee:ff", "AA-BB-CC-DD-EE-FF", "aabb.ccdd.eeff", "AABBCCDDEEFF"} {
		m, err := ParseMAC(in)
		require.NoError(t, err, in)
		assert.Equal(t, MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, m)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", m.String())
	}

	for _, in := range []string{"", "aa:bb", "zz:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff:00"} {
		_, err := ParseMAC(in)
		assert.Error(t, err, in)
	}
}

func TestMAC_JSON(t *testing.T) {
	m := MAC{0x01, 0x02, 0x03, 0x0a, 0x0b, 0x0c}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `"01:02:03:0A:0B:0C"`, string(data))
}

func TestParseEpoch(t *testing.T) {
	got, err := ParseEpoch("1700000000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC), got)

	got, err = ParseEpoch("1700000000.5")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))

	got, err = ParseEpoch("0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Unix())

	_, err = ParseEpoch("4102444799")
	assert.NoError(t, err)

	for _, bad := range []string{"", "-1", "abc", "1.", ".5", "1e9", "4102444800", "99999999999999999999"} {
		_, err := ParseEpoch(bad)
		assert.Error(t, err, bad)
	}
}

func TestSampleTime_Fallback(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, now, Sample{Timestamp: "garbage"}.SampleTime(now))
	assert.Equal(t, int64(1700000000), Sample{Timestamp: "1700000000"}.SampleTime(now).Unix())
}
