// Package backend drives the external media tool that captures frames,
// trims time ranges out of a source file and concatenates trimmed parts.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/heimdex/vidcut/internal/logging"
	"github.com/heimdex/vidcut/internal/timeline"
)

// Backend is the trim/concatenate/capture capability the export pipeline
// and session controller consume.
type Backend interface {
	// CaptureFrame returns an encoded still image of source at the given
	// timestamp. Callers treat any error as "no image".
	CaptureFrame(ctx context.Context, source string, at timeline.Millis) ([]byte, error)

	// Trim writes duration milliseconds of source beginning at start into
	// output, replacing any existing file.
	Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error

	// Concatenate joins files into output in exactly the given order.
	Concatenate(ctx context.Context, files []string, output string) error

	// Probe reports media properties of source.
	Probe(ctx context.Context, source string) (*ProbeResult, error)

	// Doctor reports whether the underlying tools are usable.
	Doctor(ctx context.Context) (*Capabilities, error)
}

type ProbeResult struct {
	DurationMs timeline.Millis `json:"duration_ms"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	Codec      string          `json:"codec"`
	AudioCodec string          `json:"audio_codec"`
	FormatName string          `json:"format_name"`
}

// ToolInfo is the availability of one executable.
type ToolInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Capabilities is the result of a doctor probe.
type Capabilities struct {
	Backend  string    `json:"backend"`
	FFmpeg   ToolInfo  `json:"ffmpeg"`
	FFprobe  ToolInfo  `json:"ffprobe"`
	ProbedAt time.Time `json:"probed_at"`
}

// Ready reports whether trims and concatenation can run.
func (c *Capabilities) Ready() bool {
	return c != nil && c.FFmpeg.Available
}

// New returns the Backend for kind: "ffmpeg" (default) or "stub".
func New(kind string, cfg FFmpegConfig) (Backend, error) {
	switch kind {
	case "", "ffmpeg":
		return NewFFmpeg(cfg), nil
	case "stub":
		logger := cfg.Logger
		if logger == nil {
			logger = logging.Discard()
		}
		return NewStub(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", kind)
	}
}
