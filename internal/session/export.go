package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/logging"
	"github.com/heimdex/vidcut/internal/timeline"
)

// ExportSummary is the outcome of the most recent export, for display.
type ExportSummary struct {
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination"`
	Succeeded   bool            `json:"succeeded"`
	TotalMs     timeline.Millis `json:"total_ms"`
	ElapsedMs   int64           `json:"elapsed_ms"`
	Error       string          `json:"error,omitempty"`
	Code        string          `json:"code,omitempty"`
	Stage       string          `json:"stage,omitempty"`
	Step        int             `json:"step,omitempty"`
}

// Job is an export accepted by StartExport.
type Job struct {
	ID          string
	Source      string
	Destination string

	tl     *timeline.Timeline
	done   chan struct{}
	result *export.Result
	err    error
}

// Wait blocks until the export finishes.
func (j *Job) Wait(ctx context.Context) (*export.Result, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Export runs an export of the current timeline to destination and blocks
// until it finishes.
func (c *Controller) Export(ctx context.Context, destination string) (*export.Result, error) {
	job, err := c.begin(ctx, destination)
	if err != nil {
		return nil, err
	}
	c.run(ctx, job)
	return job.result, job.err
}

// StartExport validates and accepts an export, then runs it in the
// background. The returned Job reports the outcome.
func (c *Controller) StartExport(ctx context.Context, destination string) (*Job, error) {
	job, err := c.begin(ctx, destination)
	if err != nil {
		return nil, err
	}
	go c.run(context.WithoutCancel(ctx), job)
	return job, nil
}

// begin checks preconditions, marks the session busy and records the
// attempt. Nothing is written to disk here.
func (c *Controller) begin(ctx context.Context, destination string) (*Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy {
		return nil, ErrBusy
	}
	if !c.cursor.Loaded() {
		return nil, ErrNoMedia
	}
	if !c.tl.IsExportable() {
		return nil, export.ErrNotReady
	}
	if destination == "" {
		destination = export.SuggestDestination(c.cursor.Path())
	}
	abs, err := filepath.Abs(destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", export.ErrInvalidDestination, err)
	}
	if err := export.CheckDestination(c.cursor.Path(), abs); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          history.NewID(),
		Source:      c.cursor.Path(),
		Destination: abs,
		tl:          c.tl.Clone(),
		done:        make(chan struct{}),
	}

	if repo := c.cfg.Repository; repo != nil {
		rec := &history.Export{
			ID:          job.ID,
			Source:      job.Source,
			Destination: job.Destination,
			RegionCount: job.tl.Len(),
			TotalMs:     job.tl.TotalDuration(),
			Regions:     history.SpansOf(job.tl.Regions()),
		}
		if err := repo.CreateExport(ctx, rec); err != nil {
			return nil, fmt.Errorf("record export: %w", err)
		}
	}

	c.busy = true
	c.last = nil
	c.progress = export.Event{State: export.StateIdle, Total: job.tl.Len()}
	c.publishLocked()
	return job, nil
}

func (c *Controller) run(ctx context.Context, job *Job) {
	defer close(job.done)

	if c.cfg.ExportTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ExportTimeout)
		defer cancel()
	}

	logger := logging.WithExportID(c.logger, job.ID)
	p := export.New(c.cfg.Backend,
		export.WithWorkers(c.cfg.TrimWorkers),
		export.WithStrictCleanup(c.cfg.StrictCleanup),
		export.WithLogger(logger),
		export.WithStateFunc(c.onExportEvent),
	)

	start := time.Now()
	job.result, job.err = p.Export(ctx, job.Source, job.Destination, job.tl)
	elapsed := time.Since(start)

	summary := &ExportSummary{
		ID:          job.ID,
		Destination: job.Destination,
		Succeeded:   job.err == nil,
		TotalMs:     job.tl.TotalDuration(),
		ElapsedMs:   elapsed.Milliseconds(),
	}
	if job.err != nil {
		summary.Error = job.err.Error()
		summary.Code = ErrorCode(job.err)
		summary.Stage = ErrorStage(job.err)
		summary.Step = ErrorStep(job.err)
	}

	c.record(job, summary, elapsed)

	c.mu.Lock()
	c.busy = false
	c.last = summary
	state := export.StateDone
	if job.err != nil && job.result == nil {
		state = export.StateFailed
	}
	c.progress = export.Event{State: state, Total: job.tl.Len()}
	c.publishLocked()
	c.mu.Unlock()
}

func (c *Controller) record(job *Job, s *ExportSummary, elapsed time.Duration) {
	repo := c.cfg.Repository
	if repo == nil {
		return
	}
	// The request context may be gone by now.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if s.Succeeded {
		err = repo.CompleteExport(ctx, job.ID, elapsed)
	} else {
		err = repo.FailExport(ctx, job.ID, s.Error, s.Code, s.Step, elapsed)
	}
	if err != nil {
		c.logger.Warn("failed to record export outcome", "export_id", job.ID, "error", err)
	}
}

func (c *Controller) onExportEvent(ev export.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.busy {
		return
	}
	c.progress = ev
	c.publishLocked()
}

// Busy reports whether an export is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// LastExport returns the outcome of the most recent export, if any.
func (c *Controller) LastExport() *ExportSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return nil
	}
	s := *c.last
	return &s
}

// IsCleanupOnly reports whether err only concerns leftover intermediates
// while the destination was produced.
func IsCleanupOnly(err error) bool {
	return errors.Is(err, export.ErrCleanupIncomplete) && !errors.Is(err, export.ErrBackendFailure)
}
