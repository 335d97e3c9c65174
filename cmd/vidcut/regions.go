package main

import (
	"fmt"
	"strings"

	"github.com/heimdex/vidcut/internal/timeline"
)

type span struct {
	start timeline.Millis
	end   timeline.Millis
}

// parseSpans reads region flags of the form START-END, where both ends
// use the clock syntax ParseClock accepts. A flag value may hold several
// comma-separated spans.
func parseSpans(values []string) ([]span, error) {
	var spans []span
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			first, last, ok := strings.Cut(item, "-")
			if !ok {
				return nil, fmt.Errorf("region %q: want START-END", item)
			}
			start, err := timeline.ParseClock(first)
			if err != nil {
				return nil, fmt.Errorf("region %q: start: %w", item, err)
			}
			end, err := timeline.ParseClock(last)
			if err != nil {
				return nil, fmt.Errorf("region %q: end: %w", item, err)
			}
			if end <= start {
				return nil, fmt.Errorf("region %q: end must come after start", item)
			}
			spans = append(spans, span{start: start, end: end})
		}
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("at least one --region is required")
	}
	return spans, nil
}

// regions converts spans into closed clip regions, in order.
func regions(spans []span) []timeline.ClipRegion {
	out := make([]timeline.ClipRegion, len(spans))
	for i, s := range spans {
		end := s.end
		out[i] = timeline.ClipRegion{Start: s.start, End: &end}
	}
	return out
}
