package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/heimdex/vidcut/internal/timeline"
)

type trimCall struct {
	start    timeline.Millis
	duration timeline.Millis
	output   string
}

// recordingBackend writes real files so cleanup can be observed on disk.
type recordingBackend struct {
	mu      sync.Mutex
	trims   []trimCall
	concats [][]string

	failTrimAt   map[timeline.Millis]error // keyed by region start
	failConcat   error
	partialOnErr bool // write the output before failing
}

func (b *recordingBackend) Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error {
	b.mu.Lock()
	b.trims = append(b.trims, trimCall{start, duration, output})
	b.mu.Unlock()

	if err, ok := b.failTrimAt[start]; ok {
		if b.partialOnErr {
			os.WriteFile(output, []byte("partial"), 0644)
		}
		return err
	}
	return os.WriteFile(output, []byte(fmt.Sprintf("%d+%d;", start, duration)), 0644)
}

func (b *recordingBackend) Concatenate(ctx context.Context, files []string, output string) error {
	b.mu.Lock()
	b.concats = append(b.concats, append([]string(nil), files...))
	b.mu.Unlock()

	if b.failConcat != nil {
		return b.failConcat
	}
	var joined []byte
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		joined = append(joined, data...)
	}
	return os.WriteFile(output, joined, 0644)
}

func mustTimeline(t *testing.T, pairs ...[2]timeline.Millis) *timeline.Timeline {
	t.Helper()
	tl := timeline.New()
	for _, p := range pairs {
		if err := tl.MarkStart(p[0]); err != nil {
			t.Fatalf("MarkStart(%d): %v", p[0], err)
		}
		if err := tl.MarkEnd(p[1]); err != nil {
			t.Fatalf("MarkEnd(%d): %v", p[1], err)
		}
	}
	return tl
}

// workspace returns a temp dir with a source file and the destination path.
func workspace(t *testing.T) (dir, source, dest string) {
	t.Helper()
	dir = t.TempDir()
	source = filepath.Join(dir, "source.mp4")
	if err := os.WriteFile(source, []byte("SOURCE"), 0644); err != nil {
		t.Fatal(err)
	}
	return dir, source, filepath.Join(dir, "out.mp4")
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestExport_SingleRegionPromotes(t *testing.T) {
	dir, source, dest := workspace(t)
	os.WriteFile(dest, []byte("OLD"), 0644)

	b := &recordingBackend{}
	var states []State
	p := New(b, WithStateFunc(func(ev Event) { states = append(states, ev.State) }))

	res, err := p.Export(context.Background(), source, dest, mustTimeline(t, [2]timeline.Millis{2000, 5000}))
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	if len(b.trims) != 1 {
		t.Fatalf("trims = %d, want 1", len(b.trims))
	}
	if b.trims[0].start != 2000 || b.trims[0].duration != 3000 {
		t.Errorf("trim = %+v, want start 2000 duration 3000", b.trims[0])
	}
	if len(b.concats) != 0 {
		t.Errorf("concatenate called %d times, want 0", len(b.concats))
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "2000+3000;" {
		t.Errorf("destination = %q, want the trimmed output", data)
	}
	if res.Destination != dest || res.Regions != 1 || res.TotalMs != 3000 {
		t.Errorf("result = %+v", res)
	}
	if got := dirEntries(t, dir); strings.Join(got, ",") != "out.mp4,source.mp4" {
		t.Errorf("dir = %v", got)
	}

	want := []State{StateTrimming, StatePromotingSingle, StateDone}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestExport_TwoRegionsConcatenatesInOrder(t *testing.T) {
	dir, source, dest := workspace(t)
	b := &recordingBackend{}
	p := New(b, WithWorkers(1))

	// Timeline order differs from chronological order.
	tl := mustTimeline(t, [2]timeline.Millis{8000, 9000}, [2]timeline.Millis{1000, 1500})

	if _, err := p.Export(context.Background(), source, dest, tl); err != nil {
		t.Fatalf("Export: %v", err)
	}

	if len(b.trims) != 2 || b.trims[0].start != 8000 || b.trims[1].start != 1000 {
		t.Fatalf("trims = %+v", b.trims)
	}
	if len(b.concats) != 1 {
		t.Fatalf("concatenate called %d times, want 1", len(b.concats))
	}
	wantList := []string{filepath.Join(dir, "out_01.mp4"), filepath.Join(dir, "out_02.mp4")}
	if fmt.Sprint(b.concats[0]) != fmt.Sprint(wantList) {
		t.Errorf("concat list = %v, want %v", b.concats[0], wantList)
	}

	data, _ := os.ReadFile(dest)
	if string(data) != "8000+1000;1000+500;" {
		t.Errorf("destination = %q", data)
	}
	if got := dirEntries(t, dir); strings.Join(got, ",") != "out.mp4,source.mp4" {
		t.Errorf("intermediates not removed: %v", got)
	}
}

func TestExport_ParallelTrimsKeepOrder(t *testing.T) {
	_, source, dest := workspace(t)
	b := &recordingBackend{}
	p := New(b, WithWorkers(4))

	var pairs [][2]timeline.Millis
	for i := 0; i < 12; i++ {
		start := timeline.Millis((12 - i) * 1000)
		pairs = append(pairs, [2]timeline.Millis{start, start + 100})
	}

	if _, err := p.Export(context.Background(), source, dest, mustTimeline(t, pairs...)); err != nil {
		t.Fatalf("Export: %v", err)
	}
	for i, f := range b.concats[0] {
		if want := IntermediatePath(dest, i+1); f != want {
			t.Errorf("concat[%d] = %s, want %s", i, f, want)
		}
	}

	data, _ := os.ReadFile(dest)
	var want strings.Builder
	for _, pr := range pairs {
		fmt.Fprintf(&want, "%d+100;", pr[0])
	}
	if string(data) != want.String() {
		t.Errorf("destination = %q, want %q", data, want.String())
	}
}

func TestExport_SecondTrimFails(t *testing.T) {
	dir, source, dest := workspace(t)
	b := &recordingBackend{
		failTrimAt:   map[timeline.Millis]error{2000: errors.New("exit status 1")},
		partialOnErr: true,
	}
	p := New(b, WithWorkers(1))

	tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500})
	_, err := p.Export(context.Background(), source, dest, tl)

	if !errors.Is(err, ErrBackendFailure) {
		t.Fatalf("err = %v, want ErrBackendFailure", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.Stage != StageTrim || se.Step != 2 {
		t.Fatalf("step error = %+v", se)
	}
	if len(b.concats) != 0 {
		t.Error("concatenate must not be called after a failed trim")
	}
	if got := dirEntries(t, dir); strings.Join(got, ",") != "source.mp4" {
		t.Errorf("trace files left: %v", got)
	}
	if data, _ := os.ReadFile(source); string(data) != "SOURCE" {
		t.Error("source was modified")
	}
}

func TestExport_FailedTrimKeepsForeignFile(t *testing.T) {
	tests := []struct {
		name         string
		partialOnErr bool
		want         string
	}{
		{"untouched file survives", false, "out_02.mp4,source.mp4"},
		{"overwritten file is removed", true, "source.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, source, dest := workspace(t)
			existing := filepath.Join(dir, "out_02.mp4")
			if err := os.WriteFile(existing, []byte("USER DATA"), 0644); err != nil {
				t.Fatal(err)
			}
			b := &recordingBackend{
				failTrimAt:   map[timeline.Millis]error{2000: errors.New("boom")},
				partialOnErr: tt.partialOnErr,
			}
			p := New(b, WithWorkers(1))

			tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500})
			if _, err := p.Export(context.Background(), source, dest, tl); !errors.Is(err, ErrBackendFailure) {
				t.Fatalf("err = %v, want ErrBackendFailure", err)
			}
			if got := dirEntries(t, dir); strings.Join(got, ",") != tt.want {
				t.Errorf("files = %v, want %s", got, tt.want)
			}
			if !tt.partialOnErr {
				if data, _ := os.ReadFile(existing); string(data) != "USER DATA" {
					t.Errorf("existing file = %q", data)
				}
			}
		})
	}
}

func TestExport_FailureStopsFurtherTrims(t *testing.T) {
	_, source, dest := workspace(t)
	b := &recordingBackend{failTrimAt: map[timeline.Millis]error{0: errors.New("boom")}}
	p := New(b, WithWorkers(1))

	tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500}, [2]timeline.Millis{3000, 3500})
	if _, err := p.Export(context.Background(), source, dest, tl); err == nil {
		t.Fatal("expected error")
	}
	if len(b.trims) != 1 {
		t.Errorf("trims issued = %d, want 1", len(b.trims))
	}
}

func TestExport_ConcatFailureCleansUp(t *testing.T) {
	dir, source, dest := workspace(t)
	b := &recordingBackend{failConcat: errors.New("concat exited 1")}
	var last Event
	p := New(b, WithStateFunc(func(ev Event) { last = ev }))

	tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500})
	_, err := p.Export(context.Background(), source, dest, tl)

	var se *StepError
	if !errors.As(err, &se) || se.Stage != StageConcatenate {
		t.Fatalf("err = %v, want concatenate StepError", err)
	}
	if got := dirEntries(t, dir); strings.Join(got, ",") != "source.mp4" {
		t.Errorf("files left: %v", got)
	}
	if last.State != StateFailed || last.Err == nil {
		t.Errorf("last event = %+v", last)
	}
}

func TestExport_NotReadyDoesNoIO(t *testing.T) {
	tests := []struct {
		name string
		tl   func() *timeline.Timeline
	}{
		{"nil", func() *timeline.Timeline { return nil }},
		{"empty", timeline.New},
		{"open region", func() *timeline.Timeline {
			tl := timeline.New()
			tl.MarkStart(500)
			return tl
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &recordingBackend{}
			p := New(b)
			_, err := p.Export(context.Background(), "/nonexistent/src.mp4", "/nonexistent/out.mp4", tt.tl())
			if !errors.Is(err, ErrNotReady) {
				t.Fatalf("err = %v, want ErrNotReady", err)
			}
			if len(b.trims)+len(b.concats) != 0 {
				t.Error("backend was called")
			}
		})
	}
}

func TestExport_InvalidDestination(t *testing.T) {
	_, source, _ := workspace(t)
	tl := mustTimeline(t, [2]timeline.Millis{0, 1000})
	p := New(&recordingBackend{})

	for _, dest := range []string{"", source, "/nonexistent-dir/out.mp4"} {
		if _, err := p.Export(context.Background(), source, dest, tl); !errors.Is(err, ErrInvalidDestination) {
			t.Errorf("Export(%q) err = %v, want ErrInvalidDestination", dest, err)
		}
	}
}

func TestExport_CanceledLeavesNothing(t *testing.T) {
	dir, source, dest := workspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	b := &cancelingBackend{recordingBackend: &recordingBackend{}, cancel: cancel}
	p := New(b, WithWorkers(1))

	tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500})
	_, err := p.Export(ctx, source, dest, tl)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got := dirEntries(t, dir); strings.Join(got, ",") != "source.mp4" {
		t.Errorf("files left: %v", got)
	}
}

// cancelingBackend cancels the export after the first trim completes.
type cancelingBackend struct {
	*recordingBackend
	cancel context.CancelFunc
}

func (b *cancelingBackend) Trim(ctx context.Context, source string, start, duration timeline.Millis, output string) error {
	err := b.recordingBackend.Trim(ctx, source, start, duration, output)
	b.cancel()
	return err
}

func TestExport_StrictCleanupReportsLeftovers(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("directory permissions are not enforced for root")
	}
	_, source, _ := workspace(t)
	outDir := t.TempDir()
	dest := filepath.Join(outDir, "out.mp4")

	b := &lockingBackend{recordingBackend: &recordingBackend{}, dir: outDir}
	t.Cleanup(func() { os.Chmod(outDir, 0755) })

	tl := mustTimeline(t, [2]timeline.Millis{0, 1000}, [2]timeline.Millis{2000, 2500})

	res, err := New(b, WithStrictCleanup(true)).Export(context.Background(), source, dest, tl)
	if !errors.Is(err, ErrCleanupIncomplete) {
		t.Fatalf("err = %v, want ErrCleanupIncomplete", err)
	}
	if res == nil || len(res.Leftovers) != 2 {
		t.Fatalf("result = %+v", res)
	}
	if _, statErr := os.Stat(dest); statErr != nil {
		t.Errorf("destination missing: %v", statErr)
	}
}

// lockingBackend makes the output directory read-only after concatenating
// so intermediates cannot be deleted.
type lockingBackend struct {
	*recordingBackend
	dir string
}

func (b *lockingBackend) Concatenate(ctx context.Context, files []string, output string) error {
	if err := b.recordingBackend.Concatenate(ctx, files, output); err != nil {
		return err
	}
	return os.Chmod(b.dir, 0555)
}

func TestIntermediatePath(t *testing.T) {
	tests := []struct {
		dest string
		step int
		want string
	}{
		{"/out/final.mp4", 1, "/out/final_01.mp4"},
		{"/out/final.mp4", 12, "/out/final_12.mp4"},
		{"/out/final.cut.mkv", 3, "/out/final.cut_03.mkv"},
		{"/out/noext", 2, "/out/noext_02"},
		{"/out/final.mp4", 100, "/out/final_100.mp4"},
	}
	for _, tt := range tests {
		if got := IntermediatePath(tt.dest, tt.step); got != tt.want {
			t.Errorf("IntermediatePath(%q, %d) = %q, want %q", tt.dest, tt.step, got, tt.want)
		}
	}
}

func TestWithWorkers_Clamps(t *testing.T) {
	if p := New(nil, WithWorkers(0)); p.workers != 1 {
		t.Errorf("workers = %d, want 1", p.workers)
	}
	if p := New(nil, WithWorkers(99)); p.workers != MaxWorkers {
		t.Errorf("workers = %d, want %d", p.workers, MaxWorkers)
	}
}

func TestStepError_Message(t *testing.T) {
	err := &StepError{Stage: StageTrim, Step: 2, Err: errors.New("exit 1")}
	if err.Error() != "trim step 2: exit 1" {
		t.Errorf("Error() = %q", err.Error())
	}
	wrapped := fmt.Errorf("export: %w", err)
	if !errors.Is(wrapped, ErrBackendFailure) {
		t.Error("wrapped StepError should match ErrBackendFailure")
	}
}
