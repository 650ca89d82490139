package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime_EmptyIsZeroCursor(t *testing.T) {
	ts, err := ParseTime("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
	assert.Equal(t, "", ts.String())
}

func TestParseTime_RejectsGarbage(t *testing.T) {
	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestTime_FixedWidthFormat(t *testing.T) {
	ts := At(time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC))
	assert.Equal(t, "2026-01-02T03:04:05.006Z", ts.String())

	// Sub-millisecond precision is dropped so the stored form round-trips.
	truncated := At(time.Date(2026, 1, 2, 3, 4, 5, 6_789_123, time.UTC))
	assert.Equal(t, "2026-01-02T03:04:05.006Z", truncated.String())
}

func TestTime_JSONRoundTrip(t *testing.T) {
	ts := Now()
	data, err := json.Marshal(ts)
	require.NoError(t, err)

	var back Time
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, ts, back)
}

func genTimestamp() gopter.Gen {
	min := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	max := time.Date(2040, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	return gen.Int64Range(min, max).Map(func(ms int64) Time {
		return At(time.UnixMilli(ms))
	})
}

// The stores compare cursor strings with plain < and >, so the canonical
// string form must order exactly like the instants it encodes.
func TestTime_StringOrderMatchesTimeOrder(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("lexicographic string order equals time order",
		prop.ForAll(func(a, b Time) bool {
			return strings.Compare(a.String(), b.String()) == a.Compare(b.Time)
		}, genTimestamp(), genTimestamp()))

	properties.Property("canonical form round-trips through ParseTime",
		prop.ForAll(func(ts Time) bool {
			back, err := ParseTime(ts.String())
			return err == nil && back.Equal(ts.Time)
		}, genTimestamp()))

	properties.TestingRun(t)
}
