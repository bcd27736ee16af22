package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "1970-01-01 00:00:00 UTC", FormatTimestamp(0))
	assert.Equal(t, "2023-03-15 12:30:45 UTC", FormatTimestamp(1678883445))
}

func TestFormatLine(t *testing.T) {
	ma := ModAction{
		ID:        "ModAction_abc",
		Timestamp: 1678883445,
		Moderator: "alice",
		Platform:  "reddit",
		Place:     "testsub",
		Action:    "remove",
		Object:    "comment by bob",
	}

	assert.Equal(t,
		"2023-03-15 12:30:45 UTC; alice; reddit testsub; remove comment by bob",
		ma.FormatLine())
}

func TestFormatLineWithDetails(t *testing.T) {
	ma := ModAction{
		Timestamp: 0,
		Moderator: "alice",
		Platform:  "reddit",
		Place:     "testsub",
		Action:    "ban",
		Object:    "user bob",
		Details:   "permanent: spam",
	}

	assert.Equal(t,
		"1970-01-01 00:00:00 UTC; alice; reddit testsub; ban user bob; permanent: spam",
		ma.FormatLine())
}

func TestWatermarkIsZero(t *testing.T) {
	assert.True(t, Watermark{}.IsZero())
	assert.False(t, Watermark{ID: "ModAction_abc", Timestamp: 100}.IsZero())
}
