package session

import (
	"github.com/heimdex/vidcut/internal/timeline"
)

// RegionView is a region as the presentation layer renders it.
type RegionView struct {
	Index        int              `json:"index"`
	Start        timeline.Millis  `json:"start_ms"`
	End          *timeline.Millis `json:"end_ms,omitempty"`
	StartClock   string           `json:"start"`
	EndClock     string           `json:"end,omitempty"`
	DurationMs   timeline.Millis  `json:"duration_ms"`
	Open         bool             `json:"open"`
	HasThumbnail bool             `json:"has_thumbnail"`
}

// Snapshot is the complete session state after a change.
type Snapshot struct {
	Version     uint64          `json:"version"`
	Source      string          `json:"source,omitempty"`
	DurationMs  timeline.Millis `json:"duration_ms"`
	PositionMs  timeline.Millis `json:"position_ms"`
	Regions     []RegionView    `json:"regions"`
	TotalMs     timeline.Millis `json:"total_ms"`
	CutActive   bool            `json:"cut_active"`
	Exportable  bool            `json:"exportable"`
	Busy        bool            `json:"busy"`
	ExportState string          `json:"export_state"`
	ExportStep  int             `json:"export_step,omitempty"`
	ExportTotal int             `json:"export_total,omitempty"`
	LastExport  *ExportSummary  `json:"last_export,omitempty"`
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	regions := c.tl.Regions()
	views := make([]RegionView, len(regions))
	for i, r := range regions {
		v := RegionView{
			Index:        i,
			Start:        r.Start,
			StartClock:   r.Start.Clock(),
			DurationMs:   r.Duration(),
			Open:         r.IsOpen(),
			HasThumbnail: r.HasThumbnail(),
		}
		if r.End != nil {
			end := *r.End
			v.End = &end
			v.EndClock = end.Clock()
		}
		views[i] = v
	}

	s := Snapshot{
		Version:     c.version,
		Source:      c.cursor.Path(),
		DurationMs:  c.cursor.Duration(),
		PositionMs:  c.cursor.Position(),
		Regions:     views,
		TotalMs:     c.tl.TotalDuration(),
		CutActive:   c.tl.IsCutActive(),
		Exportable:  c.tl.IsExportable() && c.cursor.Loaded() && !c.busy,
		Busy:        c.busy,
		ExportState: c.progress.State.String(),
		ExportStep:  c.progress.Step,
		ExportTotal: c.progress.Total,
	}
	if c.last != nil {
		last := *c.last
		s.LastExport = &last
	}
	return s
}

// Subscribe returns a channel receiving a Snapshot after every change,
// starting with the current state. Slow subscribers miss intermediate
// snapshots but always see the latest one. Call cancel to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

func (c *Controller) publishLocked() {
	c.version++
	if len(c.subs) == 0 {
		return
	}
	s := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case ch <- s:
		default:
			// Drop the oldest so the newest state is never lost.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
