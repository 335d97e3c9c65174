package timeline

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"
)

func ms(v int64) *Millis {
	m := Millis(v)
	return &m
}

func mustClosed(t *testing.T, pairs ...[2]int64) *Timeline {
	t.Helper()
	tl := New()
	for _, p := range pairs {
		if err := tl.MarkStart(Millis(p[0])); err != nil {
			t.Fatalf("MarkStart(%d) error = %v", p[0], err)
		}
		if err := tl.MarkEnd(Millis(p[1])); err != nil {
			t.Fatalf("MarkEnd(%d) error = %v", p[1], err)
		}
	}
	return tl
}

func starts(tl *Timeline) []Millis {
	var out []Millis
	for _, r := range tl.Regions() {
		out = append(out, r.Start)
	}
	return out
}

func TestMarkStart_OpensRegion(t *testing.T) {
	tl := New()
	if err := tl.MarkStart(500); err != nil {
		t.Fatalf("MarkStart() error = %v", err)
	}
	if !tl.IsCutActive() {
		t.Fatal("IsCutActive() = false after MarkStart")
	}
	r, ok := tl.OpenRegion()
	if !ok || r.Start != 500 || !r.IsOpen() {
		t.Fatalf("OpenRegion() = %+v, %v", r, ok)
	}
}

func TestMarkStart_WhileOpen(t *testing.T) {
	tl := New()
	tl.MarkStart(100)

	err := tl.MarkStart(200)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("MarkStart() error = %v, want ErrInvalidState", err)
	}
	if tl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tl.Len())
	}
}

func TestMarkStart_Negative(t *testing.T) {
	tl := New()
	if err := tl.MarkStart(-1); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("MarkStart(-1) error = %v, want ErrInvalidRange", err)
	}
	if tl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tl.Len())
	}
}

func TestMarkStart_WithThumbnail(t *testing.T) {
	tl := New()
	tl.MarkStart(0, WithThumbnail([]byte{1, 2, 3}))
	r, _ := tl.Region(0)
	if !r.HasThumbnail() {
		t.Fatal("thumbnail not attached")
	}

	tl.MarkEnd(10)
	tl.MarkStart(20, WithThumbnail(nil))
	r, _ = tl.Region(1)
	if r.HasThumbnail() {
		t.Fatal("nil thumbnail should be ignored")
	}
}

func TestMarkEnd_ClosesRegion(t *testing.T) {
	tl := New()
	tl.MarkStart(2000)
	if err := tl.MarkEnd(5000); err != nil {
		t.Fatalf("MarkEnd() error = %v", err)
	}
	if tl.IsCutActive() {
		t.Fatal("IsCutActive() = true after MarkEnd")
	}
	r, _ := tl.Region(0)
	if r.Duration() != 3000 {
		t.Fatalf("Duration() = %d, want 3000", r.Duration())
	}
}

func TestMarkEnd_NoOpenRegion(t *testing.T) {
	tl := New()
	if err := tl.MarkEnd(10); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("MarkEnd() on empty timeline error = %v, want ErrInvalidState", err)
	}

	tl = mustClosed(t, [2]int64{0, 10})
	if err := tl.MarkEnd(20); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("MarkEnd() with closed regions error = %v, want ErrInvalidState", err)
	}
}

func TestMarkEnd_InvalidRangeLeavesRegionOpen(t *testing.T) {
	tests := []struct {
		name string
		end  Millis
	}{
		{"equal to start", 1000},
		{"before start", 999},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := New()
			tl.MarkStart(1000)
			before := tl.Regions()

			err := tl.MarkEnd(tt.end)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("MarkEnd(%d) error = %v, want ErrInvalidRange", tt.end, err)
			}
			if !tl.IsCutActive() {
				t.Fatal("region should stay open")
			}
			if !reflect.DeepEqual(before, tl.Regions()) {
				t.Fatalf("regions mutated: before %+v after %+v", before, tl.Regions())
			}
		})
	}
}

func TestMoveUpDown(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11}, [2]int64{20, 21})

	if err := tl.MoveUp(2); err != nil {
		t.Fatalf("MoveUp(2) error = %v", err)
	}
	if got, want := starts(tl), []Millis{0, 20, 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after MoveUp(2) starts = %v, want %v", got, want)
	}

	if err := tl.MoveDown(0); err != nil {
		t.Fatalf("MoveDown(0) error = %v", err)
	}
	if got, want := starts(tl), []Millis{20, 0, 10}; !reflect.DeepEqual(got, want) {
		t.Fatalf("after MoveDown(0) starts = %v, want %v", got, want)
	}
}

func TestMoveUpDown_Boundaries(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11})

	tests := []struct {
		name string
		fn   func() error
	}{
		{"move up first", func() error { return tl.MoveUp(0) }},
		{"move down last", func() error { return tl.MoveDown(1) }},
		{"move up negative", func() error { return tl.MoveUp(-1) }},
		{"move down past end", func() error { return tl.MoveDown(5) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("error = %v, want ErrOutOfRange", err)
			}
			if got, want := starts(tl), []Millis{0, 10}; !reflect.DeepEqual(got, want) {
				t.Fatalf("starts = %v, want %v", got, want)
			}
		})
	}
}

func TestMoveUp_SingleOpenRegion(t *testing.T) {
	tl := New()
	tl.MarkStart(500)

	if err := tl.MoveUp(0); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("MoveUp(0) error = %v, want ErrOutOfRange", err)
	}
}

func TestReorder_BlockedWhileCutActive(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11})
	tl.MarkStart(30)

	for name, fn := range map[string]func() error{
		"move up":   func() error { return tl.MoveUp(1) },
		"move down": func() error { return tl.MoveDown(0) },
		"reorder":   func() error { return tl.Reorder(0, 2) },
	} {
		if err := fn(); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("%s error = %v, want ErrOutOfRange", name, err)
		}
	}
	if got, want := starts(tl), []Millis{0, 10, 30}; !reflect.DeepEqual(got, want) {
		t.Fatalf("starts = %v, want %v", got, want)
	}
}

func TestReorder(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []Millis
	}{
		{"drop above", 2, 0, []Millis{20, 0, 10}},
		{"drop below shifts left", 0, 2, []Millis{10, 0, 20}},
		{"drop at end", 0, 3, []Millis{10, 20, 0}},
		{"drop onto itself", 1, 1, []Millis{0, 10, 20}},
		{"drop just below itself", 1, 2, []Millis{0, 10, 20}},
		{"middle up", 1, 0, []Millis{10, 0, 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11}, [2]int64{20, 21})
			if err := tl.Reorder(tt.from, tt.to); err != nil {
				t.Fatalf("Reorder(%d, %d) error = %v", tt.from, tt.to, err)
			}
			if got := starts(tl); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("starts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReorder_OutOfRange(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11})
	for _, c := range [][2]int{{-1, 0}, {2, 0}, {0, -1}, {0, 3}} {
		if err := tl.Reorder(c[0], c[1]); !errors.Is(err, ErrOutOfRange) {
			t.Errorf("Reorder(%d, %d) error = %v, want ErrOutOfRange", c[0], c[1], err)
		}
	}
}

func TestRemove(t *testing.T) {
	t.Run("open region clears cut", func(t *testing.T) {
		tl := mustClosed(t, [2]int64{0, 1})
		tl.MarkStart(10)
		if err := tl.Remove(1); err != nil {
			t.Fatalf("Remove(1) error = %v", err)
		}
		if tl.IsCutActive() {
			t.Fatal("IsCutActive() = true after removing open region")
		}
	})

	t.Run("closed region keeps cut", func(t *testing.T) {
		tl := mustClosed(t, [2]int64{0, 1})
		tl.MarkStart(10)
		if err := tl.Remove(0); err != nil {
			t.Fatalf("Remove(0) error = %v", err)
		}
		if !tl.IsCutActive() {
			t.Fatal("IsCutActive() = false after removing a closed region")
		}
		r, _ := tl.OpenRegion()
		if r.Start != 10 {
			t.Fatalf("open region start = %d, want 10", r.Start)
		}
	})

	t.Run("invalid index", func(t *testing.T) {
		tl := mustClosed(t, [2]int64{0, 1})
		if err := tl.Remove(1); !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("Remove(1) error = %v, want ErrOutOfRange", err)
		}
		if tl.Len() != 1 {
			t.Fatalf("Len() = %d, want 1", tl.Len())
		}
	})
}

func TestClear(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1})
	tl.MarkStart(5)
	tl.Clear()
	if tl.Len() != 0 || tl.IsCutActive() {
		t.Fatalf("after Clear Len() = %d, IsCutActive() = %v", tl.Len(), tl.IsCutActive())
	}
	tl.Clear()
}

func TestIsExportable(t *testing.T) {
	if New().IsExportable() {
		t.Error("empty timeline should not be exportable")
	}

	open := mustClosed(t, [2]int64{0, 1})
	open.MarkStart(5)
	if open.IsExportable() {
		t.Error("timeline with open region should not be exportable")
	}

	missingEnd := &Timeline{regions: []ClipRegion{{Start: 0, End: ms(10)}, {Start: 20}}}
	missingEnd.regions[1], missingEnd.regions[0] = missingEnd.regions[0], missingEnd.regions[1]
	if missingEnd.IsExportable() {
		t.Error("timeline with a region missing end should not be exportable")
	}

	inverted := &Timeline{regions: []ClipRegion{{Start: 20, End: ms(10)}}}
	if inverted.IsExportable() {
		t.Error("timeline with end before start should not be exportable")
	}

	if !mustClosed(t, [2]int64{0, 1}, [2]int64{5, 9}).IsExportable() {
		t.Error("closed timeline should be exportable")
	}
}

func TestFromRegions(t *testing.T) {
	tl, err := FromRegions(ClipRegion{Start: 0, End: ms(1000)}, ClipRegion{Start: 2000, End: ms(2500)})
	if err != nil {
		t.Fatalf("FromRegions() error = %v", err)
	}
	if tl.TotalDuration() != 1500 {
		t.Fatalf("TotalDuration() = %d, want 1500", tl.TotalDuration())
	}

	if _, err := FromRegions(ClipRegion{Start: 10, End: ms(10)}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("FromRegions() error = %v, want ErrInvalidRange", err)
	}
	if _, err := FromRegions(ClipRegion{Start: 10}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("FromRegions() error = %v, want ErrInvalidState", err)
	}
}

func TestClone_Independent(t *testing.T) {
	tl := mustClosed(t, [2]int64{0, 1}, [2]int64{10, 11})
	c := tl.Clone()
	tl.Clear()
	if c.Len() != 2 {
		t.Fatalf("clone Len() = %d, want 2", c.Len())
	}
}

// Random walks over every operation must keep the open-region invariants
// and never lose or invent regions on reorder.
func TestInvariants_RandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tl := New()
	var pos Millis

	for i := 0; i < 5000; i++ {
		pos += Millis(rng.Intn(50))
		n := tl.Len()
		before := tl.Regions()

		var err error
		reorder := false
		switch rng.Intn(8) {
		case 0, 1:
			err = tl.MarkStart(pos)
		case 2, 3:
			err = tl.MarkEnd(pos - Millis(rng.Intn(60)))
		case 4:
			reorder = true
			err = tl.MoveUp(rng.Intn(n + 2))
		case 5:
			reorder = true
			err = tl.MoveDown(rng.Intn(n + 2))
		case 6:
			reorder = true
			err = tl.Reorder(rng.Intn(n+2), rng.Intn(n+2))
		case 7:
			if rng.Intn(10) == 0 {
				err = tl.Remove(rng.Intn(n + 1))
			}
		}

		if err != nil && !reflect.DeepEqual(before, tl.Regions()) {
			t.Fatalf("step %d: failed operation mutated timeline: %v", i, err)
		}
		if reorder && err == nil {
			if len(before) > 0 && before[len(before)-1].IsOpen() {
				t.Fatalf("step %d: reorder succeeded while cut active", i)
			}
			if !samePermutation(before, tl.Regions()) {
				t.Fatalf("step %d: reorder is not a permutation", i)
			}
		}

		open := 0
		for j, r := range tl.Regions() {
			if r.IsOpen() {
				open++
				if j != tl.Len()-1 {
					t.Fatalf("step %d: open region at %d of %d", i, j, tl.Len())
				}
			} else if *r.End <= r.Start {
				t.Fatalf("step %d: closed region %d has end %d <= start %d", i, j, *r.End, r.Start)
			}
		}
		if open > 1 {
			t.Fatalf("step %d: %d open regions", i, open)
		}
		if (open == 1) != tl.IsCutActive() {
			t.Fatalf("step %d: IsCutActive() = %v with %d open", i, tl.IsCutActive(), open)
		}
	}
}

func samePermutation(a, b []ClipRegion) bool {
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, x := range a {
		found := false
		for j, y := range b {
			if !used[j] && x.Start == y.Start && x.End == y.End {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestClockRoundTrip(t *testing.T) {
	tests := []struct {
		ms   Millis
		want string
	}{
		{0, "00:00:00.000"},
		{1, "00:00:00.001"},
		{2000, "00:00:02.000"},
		{61001, "00:01:01.001"},
		{3600000 + 59*60000 + 59999, "01:59:59.999"},
		{90 * 3600000, "90:00:00.000"},
	}
	for _, tt := range tests {
		got := FormatClock(tt.ms)
		if got != tt.want {
			t.Errorf("FormatClock(%d) = %q, want %q", tt.ms, got, tt.want)
		}
		back, err := ParseClock(got)
		if err != nil {
			t.Fatalf("ParseClock(%q) error = %v", got, err)
		}
		if back != tt.ms {
			t.Errorf("ParseClock(%q) = %d, want %d", got, back, tt.ms)
		}
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Millis
		wantErr bool
	}{
		{"2500ms", 2500, false},
		{"1:30", 90000, false},
		{"5.5", 5500, false},
		{"00:00:01.25", 1250, false},
		{"", 0, true},
		{"1:60", 0, true},
		{"a:b", 0, true},
		{"1.2345", 0, true},
		{"-5ms", 0, true},
		{"1:2:3:4", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClock(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseClock(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
