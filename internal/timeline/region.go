package timeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Millis is a timestamp or duration in milliseconds from media start.
type Millis int64

// Duration converts m to a time.Duration without rounding.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// Clock returns m formatted as hh:mm:ss.zzz.
func (m Millis) Clock() string {
	return FormatClock(m)
}

func (m Millis) String() string {
	return strconv.FormatInt(int64(m), 10) + "ms"
}

// FromDuration truncates d to whole milliseconds.
func FromDuration(d time.Duration) Millis {
	return Millis(d / time.Millisecond)
}

// FormatClock renders ms as hh:mm:ss.zzz. Hours are not wrapped at 24, so
// the result parses back to the same value with ParseClock.
func FormatClock(ms Millis) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	total := int64(ms)
	milli := total % 1000
	secs := total / 1000
	return fmt.Sprintf("%s%02d:%02d:%02d.%03d", sign, secs/3600, (secs/60)%60, secs%60, milli)
}

// ParseClock accepts hh:mm:ss[.zzz], mm:ss[.zzz], ss[.zzz] or a bare
// millisecond count suffixed with "ms".
func ParseClock(s string) (Millis, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if strings.HasSuffix(s, "ms") {
		v, err := strconv.ParseInt(strings.TrimSuffix(s, "ms"), 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp %q", s)
		}
		return Millis(v), nil
	}

	var fraction Millis
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		frac := s[dot+1:]
		if frac == "" || len(frac) > 3 {
			return 0, fmt.Errorf("invalid fractional seconds in %q", s)
		}
		v, err := strconv.Atoi(frac + strings.Repeat("0", 3-len(frac)))
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid fractional seconds in %q", s)
		}
		fraction = Millis(v)
		s = s[:dot]
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var secs int64
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid timestamp component %q", p)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("timestamp component %q out of range", p)
		}
		secs = secs*60 + v
	}
	return Millis(secs*1000) + fraction, nil
}

// ClipRegion is one user-marked cut. End is nil while the region is open.
type ClipRegion struct {
	Start     Millis  `json:"start_ms"`
	End       *Millis `json:"end_ms,omitempty"`
	Thumbnail []byte  `json:"-"`
}

// IsOpen reports whether the end point has not been marked yet.
func (r ClipRegion) IsOpen() bool {
	return r.End == nil
}

// Duration returns end - start, or 0 for an open region.
func (r ClipRegion) Duration() Millis {
	if r.End == nil {
		return 0
	}
	return *r.End - r.Start
}

// Valid reports whether the region is closed with end > start.
func (r ClipRegion) Valid() bool {
	return r.End != nil && *r.End > r.Start && r.Start >= 0
}

// HasThumbnail reports whether a preview frame was captured.
func (r ClipRegion) HasThumbnail() bool {
	return len(r.Thumbnail) > 0
}

// RegionOption configures a region created by MarkStart.
type RegionOption func(*ClipRegion)

// WithThumbnail attaches a captured preview frame. A nil image is ignored.
func WithThumbnail(img []byte) RegionOption {
	return func(r *ClipRegion) {
		if len(img) > 0 {
			r.Thumbnail = img
		}
	}
}
