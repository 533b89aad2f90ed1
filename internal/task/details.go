package task

import (
	"encoding/json"
	"fmt"
)

// Well-known detail keys. Everything else lives in the Extra map.
const (
	detailKeyStatusMessage  = "status_message"
	detailKeyLog            = "log"
	detailKeyLogStorageInfo = "log_storage_info"
)

// Details is the structured envelope for a task's open JSON details column.
// A few fields are well-known because the lifecycle logic manipulates them
// (log truncation, status messages); the rest ride along in Extra untouched.
type Details struct {
	StatusMessage  string
	Log            []string
	LogStorageInfo string
	Extra          map[string]any
}

// NewDetails returns an empty Details envelope.
func NewDetails() *Details {
	return &Details{Extra: make(map[string]any)}
}

// Clone returns a deep-enough copy: the log slice and the Extra map are
// copied, values inside Extra are shared.
func (d *Details) Clone() *Details {
	if d == nil {
		return nil
	}
	out := &Details{
		StatusMessage:  d.StatusMessage,
		LogStorageInfo: d.LogStorageInfo,
	}
	if d.Log != nil {
		out.Log = append([]string(nil), d.Log...)
	}
	if d.Extra != nil {
		out.Extra = make(map[string]any, len(d.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// MarshalJSON flattens the envelope back into a single JSON object, with the
// well-known fields overriding any identically-named Extra keys.
func (d *Details) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		m[k] = v
	}
	if d.StatusMessage != "" {
		m[detailKeyStatusMessage] = d.StatusMessage
	}
	if d.Log != nil {
		m[detailKeyLog] = d.Log
	}
	if d.LogStorageInfo != "" {
		m[detailKeyLogStorageInfo] = d.LogStorageInfo
	}
	return json.Marshal(m)
}

// UnmarshalJSON splits a JSON object into the well-known fields and Extra.
func (d *Details) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*d = Details{Extra: make(map[string]any)}
	for k, raw := range m {
		switch k {
		case detailKeyStatusMessage:
			if err := json.Unmarshal(raw, &d.StatusMessage); err != nil {
				return fmt.Errorf("invalid %s: %w", k, err)
			}
		case detailKeyLog:
			if err := json.Unmarshal(raw, &d.Log); err != nil {
				// A non-list log is preserved as an opaque extra value
				// rather than failing the whole read.
				var v any
				if err2 := json.Unmarshal(raw, &v); err2 != nil {
					return fmt.Errorf("invalid %s: %w", k, err2)
				}
				d.Extra[k] = v
			}
		case detailKeyLogStorageInfo:
			if err := json.Unmarshal(raw, &d.LogStorageInfo); err != nil {
				return fmt.Errorf("invalid %s: %w", k, err)
			}
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return fmt.Errorf("invalid detail value %s: %w", k, err)
			}
			d.Extra[k] = v
		}
	}
	return nil
}

// ParseDetails decodes a persisted details JSON document. Malformed JSON
// never fails the read path: the raw text is surfaced with an explicit
// parse-error marker instead.
func ParseDetails(raw string) *Details {
	if raw == "" {
		return nil
	}
	d := NewDetails()
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		fallback := NewDetails()
		fallback.Extra["raw_details"] = raw
		fallback.Extra["error"] = "Failed to parse details JSON."
		return fallback
	}
	return d
}

// MergeDetails merges two envelopes with the second ("live") one winning on
// conflict. Either argument may be nil. The result is always a fresh value.
func MergeDetails(base, live *Details) *Details {
	if base == nil && live == nil {
		return nil
	}
	out := base.Clone()
	if out == nil {
		out = NewDetails()
	}
	if out.Extra == nil {
		out.Extra = make(map[string]any)
	}
	if live != nil {
		if live.StatusMessage != "" {
			out.StatusMessage = live.StatusMessage
		}
		if live.Log != nil {
			out.Log = append([]string(nil), live.Log...)
		}
		if live.LogStorageInfo != "" {
			out.LogStorageInfo = live.LogStorageInfo
		}
		for k, v := range live.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// CollapseLog rewrites a log longer than MaxStoredLogEntries into a single
// leading summary entry plus the last MaxStoredLogEntries literal entries.
// Shorter logs are returned unchanged.
func CollapseLog(entries []string) []string {
	if len(entries) <= MaxStoredLogEntries {
		return entries
	}
	collapsed := make([]string, 0, MaxStoredLogEntries+1)
	collapsed = append(collapsed,
		fmt.Sprintf("... (%d earlier log entries truncated)", len(entries)-MaxStoredLogEntries))
	collapsed = append(collapsed, entries[len(entries)-MaxStoredLogEntries:]...)
	return collapsed
}
