package backend

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heimdex/vidcut/internal/timeline"
)

// Stub is a file-only Backend for development without ffmpeg installed.
// Trim writes a small text descriptor of the requested range and
// Concatenate joins the descriptors byte for byte, so the shape of an
// export can be inspected without real media.
type Stub struct {
	// DurationMs is reported by Probe for every source.
	DurationMs timeline.Millis

	logger *slog.Logger

	mu    sync.Mutex
	calls []string
}

var _ Backend = (*Stub)(nil)

func NewStub(logger *slog.Logger) *Stub {
	return &Stub{DurationMs: 10 * 60 * 1000, logger: logger}
}

// Calls returns the operations performed so far, e.g. "trim 00:00:02.000+00:00:03.000".
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Stub) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

func (s *Stub) CaptureFrame(ctx context.Context, source string, at timeline.Millis) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.record("capture %s", at.Clock())

	// Grey level encodes the position so different marks look different.
	img := image.NewGray(image.Rect(0, 0, 16, 9))
	shade := uint8((int64(at) / 1000) % 256)
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	img.Set(0, 0, color.White)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Stub) Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("trim: non-positive duration %s", duration)
	}
	s.record("trim %s+%s", start.Clock(), duration.Clock())
	s.logger.Debug("stub trim", "start_ms", int64(start), "duration_ms", int64(duration))

	body := fmt.Sprintf("%s %s %s\n", filepath.Base(source), start.Clock(), duration.Clock())
	return os.WriteFile(output, []byte(body), 0644)
}

func (s *Stub) Concatenate(ctx context.Context, files []string, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("concatenate: no input files")
	}
	s.record("concat %d", len(files))

	var buf bytes.Buffer
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("concatenate: %w", err)
		}
		buf.Write(data)
	}
	return writeFileAtomic(output, buf.Bytes())
}

func (s *Stub) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	return &ProbeResult{DurationMs: s.DurationMs, FormatName: "stub"}, nil
}

func (s *Stub) Doctor(ctx context.Context) (*Capabilities, error) {
	return &Capabilities{
		Backend:  "stub",
		FFmpeg:   ToolInfo{Available: true, Version: "stub"},
		FFprobe:  ToolInfo{Available: true, Version: "stub"},
		ProbedAt: time.Now(),
	}, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vidcut-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
