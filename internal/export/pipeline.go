// Package export turns an exportable timeline into a single output file by
// trimming every region out of the source and, when there is more than one,
// concatenating the trimmed parts in timeline order.
//
// The destination is only written at the very end, either by moving the
// single intermediate into place or by the backend's concatenate call.
// Intermediates are always removed on the way out, success or failure.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/timeline"
)

const (
	DefaultWorkers = 2
	MaxWorkers     = 16
)

// Trimmer is the subset of backend.Backend the pipeline drives.
type Trimmer interface {
	Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error
	Concatenate(ctx context.Context, files []string, output string) error
}

var _ Trimmer = (backend.Backend)(nil)

// Result describes a successful export.
type Result struct {
	Destination string          `json:"destination"`
	Regions     int             `json:"regions"`
	TotalMs     timeline.Millis `json:"total_ms"`
	Elapsed     time.Duration   `json:"elapsed"`
	// Leftovers are intermediates that could not be deleted.
	Leftovers []string `json:"leftovers,omitempty"`
}

type Pipeline struct {
	backend Trimmer
	workers int
	strict  bool
	onState func(Event)
	logger  *slog.Logger
}

type Option func(*Pipeline)

// WithWorkers bounds the number of trims running at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		if n > MaxWorkers {
			n = MaxWorkers
		}
		p.workers = n
	}
}

// WithStrictCleanup makes undeletable intermediates an error.
func WithStrictCleanup(strict bool) Option {
	return func(p *Pipeline) { p.strict = strict }
}

// WithStateFunc registers a callback for state transitions. Calls are
// serialized.
func WithStateFunc(fn func(Event)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(b Trimmer, opts ...Option) *Pipeline {
	p := &Pipeline{
		backend: b,
		workers: DefaultWorkers,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run is the state of one export attempt.
type run struct {
	p           *Pipeline
	source      string
	destination string
	regions     []timeline.ClipRegion
	logger      *slog.Logger

	mu         sync.Mutex
	attempted  []string
	leftovers  []string
	stateMu    sync.Mutex
	finalState State
}

// Export trims every region of tl out of source and writes the result to
// destination. tl must not be mutated until Export returns.
func (p *Pipeline) Export(ctx context.Context, source, destination string, tl *timeline.Timeline) (*Result, error) {
	if tl == nil || !tl.IsExportable() {
		return nil, ErrNotReady
	}
	if err := CheckDestination(source, destination); err != nil {
		return nil, err
	}

	r := &run{
		p:           p,
		source:      source,
		destination: destination,
		regions:     tl.Regions(),
		logger:      p.logger.With("regions", tl.Len()),
	}
	start := time.Now()
	r.logger.Info("export started", "total_ms", int64(tl.TotalDuration()))

	parts, err := r.trimAll(ctx)
	if err == nil {
		if len(parts) == 1 {
			err = r.promote(parts[0])
		} else {
			err = r.concatenate(ctx, parts)
		}
	}

	r.cleanup()

	if err != nil {
		r.emit(Event{State: StateFailed, Total: len(r.regions), Err: err})
		r.logger.Warn("export failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		if cerr := r.cleanupErr(); cerr != nil {
			return nil, errors.Join(err, cerr)
		}
		return nil, err
	}

	res := &Result{
		Destination: destination,
		Regions:     len(r.regions),
		TotalMs:     tl.TotalDuration(),
		Elapsed:     time.Since(start),
		Leftovers:   r.leftovers,
	}
	r.emit(Event{State: StateDone, Total: len(r.regions)})
	r.logger.Info("export completed", "duration_ms", res.Elapsed.Milliseconds(), "leftovers", len(res.Leftovers))
	return res, r.cleanupErr()
}

// trimAll trims every region into its intermediate. Trims run on a bounded
// worker group; parts are returned in timeline order regardless of
// completion order. After the first failure no further trims are started.
func (r *run) trimAll(ctx context.Context) ([]string, error) {
	n := len(r.regions)
	parts := make([]string, n)
	errs := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.p.workers)

	for i, region := range r.regions {
		if gctx.Err() != nil {
			break
		}
		step := i + 1
		out := IntermediatePath(r.destination, step)

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			before, _ := os.Stat(out)
			r.emit(Event{State: StateTrimming, Step: step, Total: n})

			err := r.p.backend.Trim(gctx, r.source, region.Start, region.Duration(), out)
			if err == nil || written(out, before) {
				r.track(out)
			}
			if err != nil {
				errs[i] = err
				return err
			}
			parts[i] = out
			return nil
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("export canceled: %w", ctx.Err())
	}
	if err != nil {
		return nil, firstStepError(errs)
	}
	return parts, nil
}

// firstStepError picks the lowest failed step, preferring real failures
// over trims that were canceled because a sibling failed.
func firstStepError(errs []error) error {
	fallback := -1
	for i, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, context.Canceled) {
			return &StepError{Stage: StageTrim, Step: i + 1, Err: err}
		}
		if fallback < 0 {
			fallback = i
		}
	}
	if fallback >= 0 {
		return &StepError{Stage: StageTrim, Step: fallback + 1, Err: errs[fallback]}
	}
	return &StepError{Stage: StageTrim, Err: errors.New("trim failed")}
}

// promote replaces destination with the single intermediate.
func (r *run) promote(part string) error {
	r.emit(Event{State: StatePromotingSingle, Total: 1})
	if part == r.destination {
		return nil
	}
	if err := os.Remove(r.destination); err != nil && !os.IsNotExist(err) {
		return &StepError{Stage: StagePromote, Step: 1, Err: fmt.Errorf("remove existing destination: %w", err)}
	}
	if err := os.Rename(part, r.destination); err != nil {
		return &StepError{Stage: StagePromote, Step: 1, Err: fmt.Errorf("move into place: %w", err)}
	}
	return nil
}

func (r *run) concatenate(ctx context.Context, parts []string) error {
	r.emit(Event{State: StateConcatenating, Total: len(parts)})
	if err := r.p.backend.Concatenate(ctx, parts, r.destination); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("export canceled: %w", ctx.Err())
		}
		return &StepError{Stage: StageConcatenate, Err: err}
	}
	return nil
}

// written reports whether path now holds a file that differs from before.
// A nil before means nothing existed ahead of the trim.
func written(path string, before os.FileInfo) bool {
	after, err := os.Stat(path)
	if err != nil {
		return false
	}
	if before == nil {
		return true
	}
	return !after.ModTime().Equal(before.ModTime()) || after.Size() != before.Size()
}

func (r *run) track(path string) {
	r.mu.Lock()
	r.attempted = append(r.attempted, path)
	r.mu.Unlock()
}

// cleanup deletes every intermediate this attempt produced. Files that
// already sat at an intermediate path and were left untouched survive.
// Failures are logged and remembered, never returned.
func (r *run) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, path := range r.attempted {
		if path == r.destination {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			r.logger.Warn("failed to remove intermediate", "path", filepath.Base(path), "error", err)
			r.leftovers = append(r.leftovers, path)
		}
	}
}

func (r *run) cleanupErr() error {
	if !r.p.strict || len(r.leftovers) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCleanupIncomplete, strings.Join(r.leftovers, ", "))
}

func (r *run) emit(ev Event) {
	if r.p.onState == nil {
		return
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.finalState.Terminal() {
		return
	}
	r.finalState = ev.State
	r.p.onState(ev)
}

// IntermediatePath names the part for a 1-based step: "out.mp4" becomes
// "out_01.mp4" in the same directory.
func IntermediatePath(destination string, step int) string {
	ext := filepath.Ext(destination)
	base := strings.TrimSuffix(destination, ext)
	return fmt.Sprintf("%s_%02d%s", base, step, ext)
}

// CheckDestination reports whether destination can receive an export of
// source without touching either file.
func CheckDestination(source, destination string) error {
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidDestination)
	}
	if filepath.Clean(source) == filepath.Clean(destination) {
		return fmt.Errorf("%w: destination is the source file", ErrInvalidDestination)
	}
	info, err := os.Stat(filepath.Dir(destination))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInvalidDestination, filepath.Dir(destination))
	}
	if info, err := os.Stat(destination); err == nil && info.IsDir() {
		return fmt.Errorf("%w: destination is a directory", ErrInvalidDestination)
	}
	return nil
}
