// Package timeline holds the ordered list of cut regions marked on a media
// source. The order of regions is the export order.
//
// At most one region is open at a time and an open region is always the
// last element. Every operation either succeeds or leaves the timeline
// untouched. A Timeline is not safe for concurrent use; callers confine it
// to one goroutine or guard it themselves.
package timeline

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not legal for the
	// current open/closed state.
	ErrInvalidState = errors.New("invalid state")
	// ErrInvalidRange is returned when an end point is not after its start.
	ErrInvalidRange = errors.New("invalid range")
	// ErrOutOfRange is returned for a bad index, or a reorder attempted
	// while a region is open.
	ErrOutOfRange = errors.New("index out of range")
)

type Timeline struct {
	regions []ClipRegion
}

func New() *Timeline {
	return &Timeline{}
}

// FromRegions builds a timeline from closed regions, in order. It is meant
// for non-interactive callers such as the CLI.
func FromRegions(regions ...ClipRegion) (*Timeline, error) {
	t := New()
	for i, r := range regions {
		if r.End == nil {
			return nil, fmt.Errorf("region %d: %w: missing end", i+1, ErrInvalidState)
		}
		if err := t.MarkStart(r.Start, WithThumbnail(r.Thumbnail)); err != nil {
			return nil, fmt.Errorf("region %d: %w", i+1, err)
		}
		if err := t.MarkEnd(*r.End); err != nil {
			t.regions = t.regions[:len(t.regions)-1]
			return nil, fmt.Errorf("region %d: %w", i+1, err)
		}
	}
	return t, nil
}

func (t *Timeline) Len() int {
	return len(t.regions)
}

// Regions returns a copy of the regions in order.
func (t *Timeline) Regions() []ClipRegion {
	out := make([]ClipRegion, len(t.regions))
	copy(out, t.regions)
	return out
}

// Region returns the region at index.
func (t *Timeline) Region(index int) (ClipRegion, error) {
	if index < 0 || index >= len(t.regions) {
		return ClipRegion{}, fmt.Errorf("region %d: %w", index, ErrOutOfRange)
	}
	return t.regions[index], nil
}

// IsCutActive reports whether the last region is still open.
func (t *Timeline) IsCutActive() bool {
	n := len(t.regions)
	return n > 0 && t.regions[n-1].IsOpen()
}

// OpenRegion returns the open region, if any.
func (t *Timeline) OpenRegion() (ClipRegion, bool) {
	if !t.IsCutActive() {
		return ClipRegion{}, false
	}
	return t.regions[len(t.regions)-1], true
}

// MarkStart appends a new open region starting at position.
func (t *Timeline) MarkStart(position Millis, opts ...RegionOption) error {
	if t.IsCutActive() {
		return fmt.Errorf("mark start: %w: a region is already open", ErrInvalidState)
	}
	if position < 0 {
		return fmt.Errorf("mark start at %s: %w: negative position", position, ErrInvalidRange)
	}

	r := ClipRegion{Start: position}
	for _, opt := range opts {
		opt(&r)
	}
	t.regions = append(t.regions, r)
	return nil
}

// MarkEnd closes the open region at position. A position at or before the
// region start fails with ErrInvalidRange and the region stays open.
func (t *Timeline) MarkEnd(position Millis) error {
	if !t.IsCutActive() {
		return fmt.Errorf("mark end: %w: no open region", ErrInvalidState)
	}
	last := len(t.regions) - 1
	start := t.regions[last].Start
	if position <= start {
		return fmt.Errorf("mark end at %s: %w: end must come after start %s", position, ErrInvalidRange, start)
	}

	end := position
	t.regions[last].End = &end
	return nil
}

// MoveUp swaps the region at index with the one before it.
func (t *Timeline) MoveUp(index int) error {
	if err := t.checkReorder("move up", index); err != nil {
		return err
	}
	if index == 0 {
		return fmt.Errorf("move up %d: %w: already first", index, ErrOutOfRange)
	}
	t.regions[index-1], t.regions[index] = t.regions[index], t.regions[index-1]
	return nil
}

// MoveDown swaps the region at index with the one after it.
func (t *Timeline) MoveDown(index int) error {
	if err := t.checkReorder("move down", index); err != nil {
		return err
	}
	if index == len(t.regions)-1 {
		return fmt.Errorf("move down %d: %w: already last", index, ErrOutOfRange)
	}
	t.regions[index], t.regions[index+1] = t.regions[index+1], t.regions[index]
	return nil
}

// Reorder moves the region at from to the drop position to, where to is a
// slot index in [0, Len()] as reported by a list view. Dropping below the
// source shifts the target left by one since the source is removed first.
func (t *Timeline) Reorder(from, to int) error {
	if err := t.checkReorder("reorder", from); err != nil {
		return err
	}
	if to < 0 || to > len(t.regions) {
		return fmt.Errorf("reorder %d to %d: %w", from, to, ErrOutOfRange)
	}

	target := to
	if from < to {
		target = to - 1
	}
	if target == from {
		return nil
	}

	r := t.regions[from]
	t.regions = append(t.regions[:from], t.regions[from+1:]...)
	t.regions = append(t.regions, ClipRegion{})
	copy(t.regions[target+1:], t.regions[target:])
	t.regions[target] = r
	return nil
}

// Remove deletes the region at index. Removing the open region ends the cut.
func (t *Timeline) Remove(index int) error {
	if index < 0 || index >= len(t.regions) {
		return fmt.Errorf("remove %d: %w", index, ErrOutOfRange)
	}
	t.regions = append(t.regions[:index], t.regions[index+1:]...)
	return nil
}

// Clear removes every region.
func (t *Timeline) Clear() {
	t.regions = nil
}

// IsExportable reports whether the timeline is non-empty and every region
// is closed and valid.
func (t *Timeline) IsExportable() bool {
	if len(t.regions) == 0 {
		return false
	}
	for _, r := range t.regions {
		if !r.Valid() {
			return false
		}
	}
	return true
}

// TotalDuration sums the durations of closed regions.
func (t *Timeline) TotalDuration() Millis {
	var total Millis
	for _, r := range t.regions {
		total += r.Duration()
	}
	return total
}

// Clone returns an independent copy. The export pipeline works on a clone
// so the caller's timeline is never observed mid-mutation.
func (t *Timeline) Clone() *Timeline {
	return &Timeline{regions: t.Regions()}
}

func (t *Timeline) checkReorder(op string, index int) error {
	if index < 0 || index >= len(t.regions) {
		return fmt.Errorf("%s %d: %w", op, index, ErrOutOfRange)
	}
	if t.IsCutActive() {
		return fmt.Errorf("%s %d: %w: a region is open", op, index, ErrOutOfRange)
	}
	return nil
}
