package ui

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/getlantern/systray"

	"github.com/heimdex/vidcut/internal/export"
	"github.com/heimdex/vidcut/internal/session"
	"github.com/heimdex/vidcut/internal/timeline"
)

type Tray struct {
	ctrl   *session.Controller
	logger *slog.Logger

	statusItem  *systray.MenuItem
	sourceItem  *systray.MenuItem
	regionsItem *systray.MenuItem
	exportItem  *systray.MenuItem
	newItem     *systray.MenuItem

	mu          sync.Mutex
	unsubscribe func()

	onQuit func()
}

type TrayConfig struct {
	Controller *session.Controller
	Logger     *slog.Logger
	OnQuit     func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		ctrl:   cfg.Controller,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

// Run blocks until the tray exits. It must be called from the main
// goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("vidcut")
	systray.SetTooltip("vidcut")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export status")
	t.statusItem.Disable()

	t.sourceItem = systray.AddMenuItem("No media", "Loaded source")
	t.sourceItem.Disable()

	t.regionsItem = systray.AddMenuItem("Regions: 0", "Marked regions")
	t.regionsItem.Disable()

	systray.AddSeparator()

	t.exportItem = systray.AddMenuItem("Export", "Export the marked regions next to the source")
	t.exportItem.Disable()

	t.newItem = systray.AddMenuItem("Start New", "Clear the timeline and unload the source")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit vidcut")

	snapshots, cancel := t.ctrl.Subscribe()
	t.mu.Lock()
	t.unsubscribe = cancel
	t.mu.Unlock()

	go func() {
		for s := range snapshots {
			t.render(s)
		}
	}()

	go func() {
		for {
			select {
			case <-t.exportItem.ClickedCh:
				t.handleExport()
			case <-t.newItem.ClickedCh:
				if err := t.ctrl.StartNew(); err != nil {
					t.logger.Warn("start new refused", "error", err)
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mu.Unlock()
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleExport() {
	job, err := t.ctrl.StartExport(context.Background(), "")
	if err != nil {
		t.logger.Warn("export from tray refused", "error", err)
		return
	}
	t.logger.Info("export started from tray", "export_id", job.ID)
}

func (t *Tray) render(s session.Snapshot) {
	v := describe(s)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusItem.SetTitle(v.status)
	t.sourceItem.SetTitle(v.source)
	t.regionsItem.SetTitle(v.regions)
	if v.canExport {
		t.exportItem.Enable()
	} else {
		t.exportItem.Disable()
	}
	if s.Busy {
		t.newItem.Disable()
	} else {
		t.newItem.Enable()
	}
}

type trayView struct {
	status    string
	source    string
	regions   string
	canExport bool
}

func describe(s session.Snapshot) trayView {
	v := trayView{
		status:    "Status: Idle",
		source:    "No media",
		canExport: s.Exportable,
	}
	if s.Source != "" {
		v.source = filepath.Base(s.Source)
	}

	switch {
	case s.Busy && s.ExportTotal > 0 && s.ExportState == export.StateTrimming.String():
		v.status = fmt.Sprintf("Status: Trimming %d/%d", s.ExportStep, s.ExportTotal)
	case s.Busy:
		v.status = "Status: Exporting"
	case s.LastExport != nil && !s.LastExport.Succeeded:
		v.status = "Status: Export failed"
	case s.LastExport != nil:
		v.status = "Status: Exported " + filepath.Base(s.LastExport.Destination)
	}

	v.regions = fmt.Sprintf("Regions: %d (%s)", len(s.Regions), timeline.FormatClock(s.TotalMs))
	if s.CutActive {
		v.regions += " - marking"
	}
	return v
}

func (t *Tray) Quit() {
	systray.Quit()
}
