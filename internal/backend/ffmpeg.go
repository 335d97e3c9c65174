package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/vidcut/internal/logging"
	"github.com/heimdex/vidcut/internal/timeline"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

	// concatListPattern names the list file written next to the first input
	// while joining.
	concatListPattern = ".vidcut-*.list"
)

type FFmpegConfig struct {
	FFmpegPath  string // empty = "ffmpeg" on PATH
	FFprobePath string // empty = "ffprobe" on PATH
	Logger      *slog.Logger
	DebugPaths  bool // if true, log full file paths; otherwise sanitise
}

// FFmpeg is the production Backend. Every operation is one subprocess.
type FFmpeg struct {
	cfg FFmpegConfig
}

var _ Backend = (*FFmpeg)(nil)

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &FFmpeg{cfg: cfg}
}

// runResult is the outcome of one subprocess.
type runResult struct {
	ExitCode   int
	StderrTail string
	Duration   time.Duration
}

func (r runResult) IsSuccess() bool { return r.ExitCode == 0 }

func (f *FFmpeg) CaptureFrame(ctx context.Context, source string, at timeline.Millis) ([]byte, error) {
	var out bytes.Buffer
	res, err := f.exec(ctx, f.cfg.FFmpegPath, &out, captureArgs(source, at)...)
	if err != nil {
		return nil, fmt.Errorf("capture frame at %s: %w", at.Clock(), err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("capture frame exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("capture frame at %s: no image produced", at.Clock())
	}
	return out.Bytes(), nil
}

func (f *FFmpeg) Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error {
	if duration <= 0 {
		return fmt.Errorf("trim: non-positive duration %s", duration)
	}
	res, err := f.exec(ctx, f.cfg.FFmpegPath, nil, trimArgs(source, start, duration, output)...)
	if err != nil {
		return fmt.Errorf("trim %s+%s: %w", start.Clock(), duration.Clock(), err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("trim exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	if _, err := os.Stat(output); err != nil {
		return fmt.Errorf("trim produced no output: %w", err)
	}
	return nil
}

// Concatenate joins files with the concat demuxer into a hidden temp file in
// the output directory and renames it onto output, so a failed join never
// leaves a partial file at output.
func (f *FFmpeg) Concatenate(ctx context.Context, files []string, output string) error {
	if len(files) == 0 {
		return fmt.Errorf("concatenate: no input files")
	}

	listPath, err := writeConcatList(filepath.Dir(files[0]), files)
	if err != nil {
		return fmt.Errorf("concatenate: %w", err)
	}
	defer os.Remove(listPath)

	tmp, err := os.CreateTemp(filepath.Dir(output), ".vidcut-join-*"+filepath.Ext(output))
	if err != nil {
		return fmt.Errorf("concatenate: create temp output: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	res, err := f.exec(ctx, f.cfg.FFmpegPath, nil, concatArgs(listPath, tmpPath)...)
	if err != nil {
		return fmt.Errorf("concatenate %d files: %w", len(files), err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("concatenate exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}

	if err := os.Rename(tmpPath, output); err != nil {
		return fmt.Errorf("concatenate: move into place: %w", err)
	}
	success = true
	return nil
}

func (f *FFmpeg) Probe(ctx context.Context, source string) (*ProbeResult, error) {
	var out bytes.Buffer
	res, err := f.exec(ctx, f.cfg.FFprobePath, &out,
		"-v", "error",
		"-show_entries", "format=duration,format_name:stream=codec_type,codec_name,width,height",
		"-of", "json",
		source,
	)
	if err != nil {
		return nil, fmt.Errorf("probe: %w", err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("probe exited %d: %s", res.ExitCode, truncate(res.StderrTail, 512))
	}
	return parseProbe(out.Bytes())
}

// Doctor checks that ffmpeg and ffprobe can be executed.
func (f *FFmpeg) Doctor(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		Backend:  "ffmpeg",
		FFmpeg:   f.toolInfo(ctx, f.cfg.FFmpegPath),
		FFprobe:  f.toolInfo(ctx, f.cfg.FFprobePath),
		ProbedAt: time.Now(),
	}

	f.cfg.Logger.Info("doctor probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"ffmpeg_version", caps.FFmpeg.Version,
		"ffprobe", caps.FFprobe.Available,
	)
	return caps, nil
}

func (f *FFmpeg) toolInfo(ctx context.Context, name string) ToolInfo {
	path, err := exec.LookPath(name)
	if err != nil {
		return ToolInfo{Error: err.Error()}
	}

	var out bytes.Buffer
	res, err := f.exec(ctx, path, &out, "-version")
	if err != nil {
		return ToolInfo{Path: path, Error: err.Error()}
	}
	if !res.IsSuccess() {
		return ToolInfo{Path: path, Error: fmt.Sprintf("exited %d", res.ExitCode)}
	}
	return ToolInfo{Available: true, Path: path, Version: parseVersion(out.String())}
}

// exec is the core subprocess execution helper. A non-nil error means the
// process could not be run at all or ctx ended; a non-zero exit is reported
// through runResult.
func (f *FFmpeg) exec(ctx context.Context, bin string, stdout io.Writer, args ...string) (runResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, bin, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	if stdout != nil {
		cmd.Stdout = stdout
	} else {
		cmd.Stdout = io.Discard
	}

	f.cfg.Logger.Debug("executing media command", "bin", filepath.Base(bin), "args", f.safeArgs(args))

	err := cmd.Run()
	elapsed := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return runResult{ExitCode: -1, Duration: elapsed}, ctxErr
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return runResult{ExitCode: -1, Duration: elapsed}, err
		}
	}

	stderrTail := stderrBuf.String()
	if exitCode != 0 {
		f.cfg.Logger.Warn("media command failed",
			"bin", filepath.Base(bin),
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		f.cfg.Logger.Debug("media command succeeded",
			"bin", filepath.Base(bin),
			"duration_ms", elapsed.Milliseconds(),
		)
	}

	return runResult{ExitCode: exitCode, StderrTail: stderrTail, Duration: elapsed}, nil
}

func (f *FFmpeg) safeArgs(args []string) []string {
	if f.cfg.DebugPaths {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if filepath.IsAbs(a) {
			out[i] = logging.SanitizePath(a)
		} else {
			out[i] = a
		}
	}
	return out
}

func captureArgs(source string, at timeline.Millis) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", at.Clock(),
		"-i", source,
		"-frames:v", "1",
		"-vf", "scale=160:-2",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	}
}

func trimArgs(source string, start, duration timeline.Millis, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-ss", start.Clock(),
		"-i", source,
		"-t", duration.Clock(),
		"-c", "copy",
		"-map", "0",
		"-avoid_negative_ts", "make_zero",
		output,
	}
}

func concatArgs(listPath, output string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		output,
	}
}

// writeConcatList writes one "file '<path>'" line per input, in order, to
// a new uniquely named list in dir and returns its path.
func writeConcatList(dir string, files []string) (string, error) {
	f, err := os.CreateTemp(dir, concatListPattern)
	if err != nil {
		return "", fmt.Errorf("create concat list: %w", err)
	}
	path := f.Name()

	w := bufio.NewWriter(f)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			f.Close()
			os.Remove(path)
			return "", fmt.Errorf("resolve %s: %w", file, err)
		}
		fmt.Fprintf(w, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write concat list: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write concat list: %w", err)
	}
	return path, nil
}

type probeJSON struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var pj probeJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return nil, fmt.Errorf("cannot parse probe JSON: %w", err)
	}

	secs, err := strconv.ParseFloat(strings.TrimSpace(pj.Format.Duration), 64)
	if err != nil || secs < 0 {
		return nil, fmt.Errorf("probe reported invalid duration %q", pj.Format.Duration)
	}

	res := &ProbeResult{
		DurationMs: timeline.Millis(math.Round(secs * 1000)),
		FormatName: pj.Format.FormatName,
	}
	for _, s := range pj.Streams {
		switch s.CodecType {
		case "video":
			if res.Codec == "" {
				res.Codec = s.CodecName
				res.Width = s.Width
				res.Height = s.Height
			}
		case "audio":
			if res.AudioCodec == "" {
				res.AudioCodec = s.CodecName
			}
		}
	}
	return res, nil
}

// parseVersion extracts "6.1" from "ffmpeg version 6.1 Copyright ...".
func parseVersion(out string) string {
	line, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
