// Package history records export attempts and agent settings in SQLite.
package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/vidcut/internal/timeline"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	ConfigAuthToken = "auth_token"
	ConfigDeviceID  = "device_id"
	ConfigLastDest  = "last_destination_dir"
)

// Export is one export attempt.
type Export struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	RegionCount int             `json:"region_count"`
	TotalMs     timeline.Millis `json:"total_ms"`
	Regions     []Span          `json:"regions"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	ErrorStep   int             `json:"error_step,omitempty"`
	ElapsedMs   int64           `json:"elapsed_ms"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Span is a closed region as recorded with an export.
type Span struct {
	Start timeline.Millis `json:"start_ms"`
	End   timeline.Millis `json:"end_ms"`
}

// SpansOf converts the closed regions of a timeline to spans.
func SpansOf(regions []timeline.ClipRegion) []Span {
	spans := make([]Span, 0, len(regions))
	for _, r := range regions {
		if r.End == nil {
			continue
		}
		spans = append(spans, Span{Start: r.Start, End: *r.End})
	}
	return spans
}

func NewID() string {
	return uuid.NewString()
}
