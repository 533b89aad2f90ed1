package task

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nowAt(sec int64) time.Time {
	return time.Unix(sec, 0)
}

func TestDetailsRoundTrip(t *testing.T) {
	d := NewDetails()
	d.StatusMessage = "Analyzing album 3 of 12"
	d.Log = []string{"started", "fetched album list"}
	d.Extra["albums_total"] = 12

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var decoded Details
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Analyzing album 3 of 12", decoded.StatusMessage)
	assert.Equal(t, []string{"started", "fetched album list"}, decoded.Log)
	assert.Equal(t, float64(12), decoded.Extra["albums_total"])
	assert.NotContains(t, decoded.Extra, "status_message", "well-known keys never leak into Extra")
}

func TestDetailsMarshalFlattensExtra(t *testing.T) {
	d := NewDetails()
	d.StatusMessage = "done"
	d.Extra["custom_key"] = "custom_value"
	d.Extra["status_message"] = "shadowed"

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "done", m["status_message"], "well-known field wins over the Extra shadow")
	assert.Equal(t, "custom_value", m["custom_key"])
}

func TestDetailsUnmarshalNonListLog(t *testing.T) {
	var d Details
	require.NoError(t, json.Unmarshal([]byte(`{"log": "just a string", "status_message": "hi"}`), &d))
	assert.Nil(t, d.Log)
	assert.Equal(t, "just a string", d.Extra["log"])
	assert.Equal(t, "hi", d.StatusMessage)
}

func TestParseDetails(t *testing.T) {
	assert.Nil(t, ParseDetails(""))

	d := ParseDetails(`{"status_message": "ok", "progress_detail": 3}`)
	require.NotNil(t, d)
	assert.Equal(t, "ok", d.StatusMessage)
	assert.Equal(t, float64(3), d.Extra["progress_detail"])
}

func TestParseDetailsMalformed(t *testing.T) {
	d := ParseDetails(`{"status_message": truncated garb`)
	require.NotNil(t, d)
	assert.Equal(t, `{"status_message": truncated garb`, d.Extra["raw_details"])
	assert.Equal(t, "Failed to parse details JSON.", d.Extra["error"])
}

func TestMergeDetails(t *testing.T) {
	base := NewDetails()
	base.StatusMessage = "stored"
	base.Log = []string{"old entry"}
	base.Extra["kept"] = "yes"
	base.Extra["overridden"] = "stored"

	live := NewDetails()
	live.StatusMessage = "live"
	live.Extra["overridden"] = "live"

	merged := MergeDetails(base, live)
	require.NotNil(t, merged)
	assert.Equal(t, "live", merged.StatusMessage)
	assert.Equal(t, []string{"old entry"}, merged.Log, "a live envelope without a log keeps the stored one")
	assert.Equal(t, "yes", merged.Extra["kept"])
	assert.Equal(t, "live", merged.Extra["overridden"])

	// The inputs are never mutated.
	assert.Equal(t, "stored", base.StatusMessage)
	assert.Equal(t, "stored", base.Extra["overridden"])
}

func TestMergeDetailsNilArguments(t *testing.T) {
	assert.Nil(t, MergeDetails(nil, nil))

	base := NewDetails()
	base.StatusMessage = "only stored"
	merged := MergeDetails(base, nil)
	require.NotNil(t, merged)
	assert.Equal(t, "only stored", merged.StatusMessage)

	live := NewDetails()
	live.StatusMessage = "only live"
	merged = MergeDetails(nil, live)
	require.NotNil(t, merged)
	assert.Equal(t, "only live", merged.StatusMessage)
}

func TestCollapseLog(t *testing.T) {
	short := []string{"a", "b"}
	assert.Equal(t, short, CollapseLog(short))

	exact := make([]string, MaxStoredLogEntries)
	for i := range exact {
		exact[i] = fmt.Sprintf("entry %d", i)
	}
	assert.Equal(t, exact, CollapseLog(exact), "a log at the cap is returned unchanged")

	long := make([]string, MaxStoredLogEntries+7)
	for i := range long {
		long[i] = fmt.Sprintf("entry %d", i)
	}
	collapsed := CollapseLog(long)
	require.Len(t, collapsed, MaxStoredLogEntries+1)
	assert.Equal(t, "... (7 earlier log entries truncated)", collapsed[0])
	assert.Equal(t, long[len(long)-1], collapsed[MaxStoredLogEntries])
}

func TestRunningTimeSeconds(t *testing.T) {
	rec := &Record{}
	assert.Zero(t, rec.RunningTimeSeconds(nowAt(100)), "no start time means zero running time")

	start := 40.0
	rec.StartTime = &start
	assert.InDelta(t, 60, rec.RunningTimeSeconds(nowAt(100)), 0.001)

	end := 70.0
	rec.EndTime = &end
	assert.InDelta(t, 30, rec.RunningTimeSeconds(nowAt(100)), 0.001, "end time freezes the clock")

	// Clock skew never yields a negative duration.
	skewed := 20.0
	rec.EndTime = &skewed
	assert.Zero(t, rec.RunningTimeSeconds(nowAt(100)))
}
