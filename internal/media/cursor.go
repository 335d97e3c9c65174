// Package media holds the playhead over the loaded source file. There is
// no decoding here: the cursor only tracks a position within the probed
// duration so regions can be marked against it.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/heimdex/vidcut/internal/backend"
	"github.com/heimdex/vidcut/internal/timeline"
)

// ErrNoMedia is returned when no source is loaded.
var ErrNoMedia = errors.New("no media loaded")

// Source reports and moves the playback position.
type Source interface {
	Position() timeline.Millis
	Duration() timeline.Millis
	Seek(position timeline.Millis) (timeline.Millis, error)
}

// Prober is the part of the backend the cursor needs.
type Prober interface {
	Probe(ctx context.Context, source string) (*backend.ProbeResult, error)
}

// Cursor is a Source over a probed file. While restricted, seeks below
// the lower bound are clamped to it, mirroring the scrubber lock during
// an active cut.
type Cursor struct {
	prober Prober

	mu          sync.RWMutex
	path        string
	info        *backend.ProbeResult
	position    timeline.Millis
	restrictMin timeline.Millis
	restricted  bool
}

var _ Source = (*Cursor)(nil)

func NewCursor(p Prober) *Cursor {
	return &Cursor{prober: p}
}

// Load probes path and resets the position to zero.
func (c *Cursor) Load(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	if st.IsDir() {
		return fmt.Errorf("open media: %s is a directory", abs)
	}

	info, err := c.prober.Probe(ctx, abs)
	if err != nil {
		return fmt.Errorf("open media: %w", err)
	}
	if info.DurationMs <= 0 {
		return fmt.Errorf("open media: %s has no duration", filepath.Base(abs))
	}

	c.mu.Lock()
	c.path = abs
	c.info = info
	c.position = 0
	c.restricted = false
	c.restrictMin = 0
	c.mu.Unlock()
	return nil
}

// Unload forgets the current source.
func (c *Cursor) Unload() {
	c.mu.Lock()
	c.path = ""
	c.info = nil
	c.position = 0
	c.restricted = false
	c.restrictMin = 0
	c.mu.Unlock()
}

func (c *Cursor) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info != nil
}

// Path returns the absolute path of the loaded source, or "".
func (c *Cursor) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

// Info returns the probe result of the loaded source, or nil.
func (c *Cursor) Info() *backend.ProbeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return nil
	}
	info := *c.info
	return &info
}

func (c *Cursor) Position() timeline.Millis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

func (c *Cursor) Duration() timeline.Millis {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.info == nil {
		return 0
	}
	return c.info.DurationMs
}

// Seek moves to position, clamped into the allowed range, and returns the
// position actually reached.
func (c *Cursor) Seek(position timeline.Millis) (timeline.Millis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return 0, ErrNoMedia
	}
	c.position = c.clamp(position)
	return c.position, nil
}

// Restrict sets the lower bound for seeks and moves the playhead up to it
// if needed.
func (c *Cursor) Restrict(lower timeline.Millis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.restricted = true
	c.restrictMin = lower
	c.position = c.clamp(c.position)
}

// Unrestrict removes the lower bound.
func (c *Cursor) Unrestrict() {
	c.mu.Lock()
	c.restricted = false
	c.restrictMin = 0
	c.mu.Unlock()
}

// Restriction returns the active lower bound, if any.
func (c *Cursor) Restriction() (timeline.Millis, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.restrictMin, c.restricted
}

func (c *Cursor) clamp(p timeline.Millis) timeline.Millis {
	lo := timeline.Millis(0)
	if c.restricted {
		lo = c.restrictMin
	}
	hi := timeline.Millis(0)
	if c.info != nil {
		hi = c.info.DurationMs
	}
	if p < lo {
		p = lo
	}
	if p > hi {
		p = hi
	}
	return p
}
