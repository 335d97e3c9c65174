package export

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/heimdex/vidcut/internal/timeline"
)

const maxTitleLen = 80

// GenerateEDL renders the closed regions as a CMX3600 edit decision list.
// Events follow timeline order and the record side accumulates durations,
// so the EDL describes the same cut the pipeline produces.
func GenerateEDL(regions []timeline.ClipRegion, source, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	var recordOffset timeline.Millis
	event := 0
	for i, r := range regions {
		if !r.Valid() {
			continue
		}
		event++
		duration := r.Duration()

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "V",
				msToTimecode(r.Start, fps), msToTimecode(*r.End, fps),
				msToTimecode(recordOffset, fps), msToTimecode(recordOffset+duration, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  Region %02d", i+1),
			fmt.Sprintf("* MEDIA PATH:  %s", source),
		)

		recordOffset += duration
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

// WriteEDL writes the EDL for regions into dir as "<title>.edl" and returns
// the file path.
func WriteEDL(dir string, regions []timeline.ClipRegion, source, title string, frameRate float64) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	name := SanitizeName(title, maxTitleLen)
	if name == "" {
		name = SanitizeName(strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)), maxTitleLen)
	}
	if name == "" {
		name = "vidcut"
	}

	path := filepath.Join(dir, name+".edl")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(GenerateEDL(regions, source, name, frameRate)), 0644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}

func msToTimecode(ms timeline.Millis, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
