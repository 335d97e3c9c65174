package api

import (
	"time"

	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/session"
	"github.com/heimdex/vidcut/internal/timeline"
)

type HealthResponse struct {
	Status   string                 `json:"status"`
	Version  string                 `json:"version"`
	UptimeS  int64                  `json:"uptime_s"`
	DeviceID string                 `json:"device_id"`
	Backend  *BackendStatusResponse `json:"backend,omitempty"`
}

type BackendStatusResponse struct {
	Name           string `json:"name"`
	Ready          bool   `json:"ready"`
	FFmpegVersion  string `json:"ffmpeg_version,omitempty"`
	FFprobeVersion string `json:"ffprobe_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type OpenRequest struct {
	Path string `json:"path"`
}

type SeekRequest struct {
	PositionMs *timeline.Millis `json:"position_ms"`
}

type SeekResponse struct {
	PositionMs timeline.Millis `json:"position_ms"`
}

type MarkRequest struct {
	PositionMs *timeline.Millis `json:"position_ms,omitempty"`
}

type MarkResponse struct {
	Index   int              `json:"index"`
	Session session.Snapshot `json:"session"`
}

type ReorderRequest struct {
	From *int `json:"from"`
	To   *int `json:"to"`
}

type ExportRequest struct {
	Destination string `json:"destination,omitempty"`
	// Wait blocks the request until the export finishes.
	Wait bool `json:"wait,omitempty"`
}

type ExportAcceptedResponse struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
}

type EDLRequest struct {
	OutputDir string  `json:"output_dir"`
	Title     string  `json:"title,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty"`
}

type EDLResponse struct {
	Status      string `json:"status"`
	Format      string `json:"format"`
	OutputPath  string `json:"output_path"`
	RegionCount int    `json:"region_count"`
}

type SpanResponse struct {
	StartMs timeline.Millis `json:"start_ms"`
	EndMs   timeline.Millis `json:"end_ms"`
}

type ExportResponse struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	Status      string         `json:"status"`
	RegionCount int            `json:"region_count"`
	TotalMs     int64          `json:"total_ms"`
	Regions     []SpanResponse `json:"regions"`
	ElapsedMs   int64          `json:"elapsed_ms,omitempty"`
	Error       string         `json:"error,omitempty"`
	ErrorCode   string         `json:"error_code,omitempty"`
	ErrorStep   int            `json:"error_step,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

type ExportsResponse struct {
	Exports []ExportResponse `json:"exports"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Step  int    `json:"step,omitempty"`
}

func ExportToResponse(e *history.Export) ExportResponse {
	spans := make([]SpanResponse, len(e.Regions))
	for i, s := range e.Regions {
		spans[i] = SpanResponse{StartMs: s.Start, EndMs: s.End}
	}
	return ExportResponse{
		ID:          e.ID,
		Source:      e.Source,
		Destination: e.Destination,
		Status:      e.Status,
		RegionCount: e.RegionCount,
		TotalMs:     int64(e.TotalMs),
		Regions:     spans,
		ElapsedMs:   e.ElapsedMs,
		Error:       e.Error,
		ErrorCode:   e.ErrorCode,
		ErrorStep:   e.ErrorStep,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   e.UpdatedAt.Format(time.RFC3339),
	}
}
