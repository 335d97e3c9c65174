// Package session owns the editing session: one loaded source, its cursor
// and its timeline. Every mutation goes through the Controller, which
// serializes them and refuses them while an export is running.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/history"
	"github.com/heimdex/vidcut/internal/logging"
	"github.com/heimdex/vidcut/internal/media"
	"github.com/heimdex/vidcut/internal/timeline"
)

const (
	thumbnailTimeout = 5 * time.Second
	subscriberBuffer = 16
)

type Config struct {
	Backend backend.Backend
	// Repository records export history. Optional.
	Repository      history.Repository
	Logger          *slog.Logger
	TrimWorkers     int
	StrictCleanup   bool
	ThumbnailOffset timeline.Millis
	// ExportTimeout bounds one export. Zero means no limit.
	ExportTimeout time.Duration
}

// Controller is safe for concurrent use.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	cursor *media.Cursor

	mu       sync.Mutex
	tl       *timeline.Timeline
	busy     bool
	progress export.Event
	last     *ExportSummary
	version  uint64
	subs     map[int]chan Snapshot
	nextSub  int
}

func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.TrimWorkers <= 0 {
		cfg.TrimWorkers = export.DefaultWorkers
	}
	return &Controller{
		cfg:    cfg,
		logger: logging.WithComponent(logger, "session"),
		cursor: media.NewCursor(cfg.Backend),
		tl:     timeline.New(),
		subs:   make(map[int]chan Snapshot),
	}
}

// Cursor exposes the playhead for read access.
func (c *Controller) Cursor() media.Source {
	return c.cursor
}

// Open loads path as the session source and clears the timeline.
func (c *Controller) Open(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}

	if err := c.cursor.Load(ctx, path); err != nil {
		return err
	}
	c.tl.Clear()
	c.last = nil
	c.progress = export.Event{}
	c.logger.Info("media opened", "path", logging.SanitizePath(c.cursor.Path()), "duration_ms", int64(c.cursor.Duration()))
	c.publishLocked()
	return nil
}

// StartNew clears the timeline and unloads the source.
func (c *Controller) StartNew() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}

	c.tl.Clear()
	c.cursor.Unload()
	c.last = nil
	c.progress = export.Event{}
	c.publishLocked()
	return nil
}

// Seek moves the playhead. It is allowed during an export.
func (c *Controller) Seek(position timeline.Millis) (timeline.Millis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.cursor.Seek(position)
	if err != nil {
		return 0, err
	}
	c.publishLocked()
	return pos, nil
}

// MarkStart opens a region at position, or at the playhead when position
// is nil, and returns its index. A preview frame is captured best effort.
func (c *Controller) MarkStart(ctx context.Context, position *timeline.Millis) (int, error) {
	c.mu.Lock()
	pos, err := c.resolvePositionLocked(position)
	if err == nil && c.tl.IsCutActive() {
		err = fmt.Errorf("mark start: %w: a region is already open", timeline.ErrInvalidState)
	}
	source, duration := c.cursor.Path(), c.cursor.Duration()
	c.mu.Unlock()
	if err != nil {
		return 0, err
	}

	thumb := c.captureThumbnail(ctx, source, duration, pos)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.resolvePositionLocked(&pos); err != nil {
		return 0, err
	}
	if c.cursor.Path() != source {
		return 0, fmt.Errorf("mark start: %w: media changed", timeline.ErrInvalidState)
	}
	if err := c.tl.MarkStart(pos, timeline.WithThumbnail(thumb)); err != nil {
		return 0, err
	}
	c.cursor.Restrict(pos)
	c.publishLocked()
	return c.tl.Len() - 1, nil
}

// MarkEnd closes the open region at position, or at the playhead when
// position is nil.
func (c *Controller) MarkEnd(position *timeline.Millis) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, err := c.resolvePositionLocked(position)
	if err != nil {
		return 0, err
	}
	if err := c.tl.MarkEnd(pos); err != nil {
		return 0, err
	}
	c.cursor.Unrestrict()
	c.publishLocked()
	return c.tl.Len() - 1, nil
}

func (c *Controller) MoveUp(index int) error {
	return c.mutate(func(tl *timeline.Timeline) error { return tl.MoveUp(index) })
}

func (c *Controller) MoveDown(index int) error {
	return c.mutate(func(tl *timeline.Timeline) error { return tl.MoveDown(index) })
}

func (c *Controller) Reorder(from, to int) error {
	return c.mutate(func(tl *timeline.Timeline) error { return tl.Reorder(from, to) })
}

// Remove deletes a region. Removing the open region lifts the scrub lock.
func (c *Controller) Remove(index int) error {
	return c.mutate(func(tl *timeline.Timeline) error { return tl.Remove(index) })
}

func (c *Controller) Clear() error {
	return c.mutate(func(tl *timeline.Timeline) error {
		tl.Clear()
		return nil
	})
}

func (c *Controller) mutate(fn func(*timeline.Timeline) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return ErrBusy
	}
	if err := fn(c.tl); err != nil {
		return err
	}
	if !c.tl.IsCutActive() {
		c.cursor.Unrestrict()
	}
	c.publishLocked()
	return nil
}

// Thumbnail returns the preview frame of the region at index, or nil.
func (c *Controller) Thumbnail(index int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.tl.Region(index)
	if err != nil {
		return nil, err
	}
	return r.Thumbnail, nil
}

// Timeline returns a copy of the current timeline.
func (c *Controller) Timeline() *timeline.Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tl.Clone()
}

func (c *Controller) resolvePositionLocked(position *timeline.Millis) (timeline.Millis, error) {
	if c.busy {
		return 0, ErrBusy
	}
	if !c.cursor.Loaded() {
		return 0, ErrNoMedia
	}
	if position == nil {
		return c.cursor.Position(), nil
	}
	if *position < 0 || *position > c.cursor.Duration() {
		return 0, fmt.Errorf("position %s: %w: outside media duration %s",
			*position, timeline.ErrInvalidRange, c.cursor.Duration())
	}
	return *position, nil
}

// captureThumbnail grabs a frame shortly after pos. Failures yield nil.
// It runs without c.mu held.
func (c *Controller) captureThumbnail(ctx context.Context, source string, duration, pos timeline.Millis) []byte {
	at := pos + c.cfg.ThumbnailOffset
	if at >= duration {
		at = pos
	}

	ctx, cancel := context.WithTimeout(ctx, thumbnailTimeout)
	defer cancel()

	img, err := c.cfg.Backend.CaptureFrame(ctx, source, at)
	if err != nil {
		c.logger.Debug("thumbnail capture failed", "at_ms", int64(at), "error", err)
		return nil
	}
	return img
}
