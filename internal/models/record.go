package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ModAction is one observed moderation-log entry, normalized from either
// upstream wire format. Instances are built once by a parser and never
// mutated afterwards.
type ModAction struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"` // unix seconds, UTC
	Moderator string `json:"moderator"`
	Platform  string `json:"platform"`
	Place     string `json:"place"`
	Action    string `json:"action"`
	Object    string `json:"object"`
	Details   string `json:"details"`

	// RawAction is the upstream action code. It is used only for
	// filtering and is not part of the display form.
	RawAction string `json:"raw_action,omitempty"`

	// Raw holds the original upstream JSON object when the source
	// provides one. Persisted only when raw retention is enabled.
	Raw json.RawMessage `json:"-"`
}

// FormatTimestamp renders a unix timestamp in the modlog display form.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// FormatLine renders the single-line display form handed to the
// notification sink:
//
//	<timestamp> UTC; <actor>; <platform> <place>; <action> <object>[; <details>]
func (ma *ModAction) FormatLine() string {
	details := ""
	if ma.Details != "" {
		details = "; " + ma.Details
	}
	return fmt.Sprintf("%s; %s; %s %s; %s %s%s",
		FormatTimestamp(ma.Timestamp), ma.Moderator, ma.Platform, ma.Place,
		ma.Action, ma.Object, details)
}

// Watermark marks the newest mod action the engine has ever observed.
// The zero value means the store holds no prior data.
type Watermark struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// IsZero reports whether no watermark has been recorded yet.
func (w Watermark) IsZero() bool {
	return w.ID == ""
}
