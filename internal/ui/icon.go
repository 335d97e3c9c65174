package ui

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

var (
	iconOnce sync.Once
	iconData []byte
)

// iconBytes renders the tray icon: a film strip with a cut in the middle.
func iconBytes() []byte {
	iconOnce.Do(func() {
		const size = 22
		img := image.NewNRGBA(image.Rect(0, 0, size, size))
		strip := color.NRGBA{R: 0x30, G: 0x30, B: 0x30, A: 0xff}
		hole := color.NRGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
		for y := 4; y < size-4; y++ {
			for x := 1; x < size-1; x++ {
				if x == size/2 || x == size/2-1 {
					continue
				}
				c := strip
				if (y == 5 || y == size-6) && x%3 == 0 {
					c = hole
				}
				img.SetNRGBA(x, y, c)
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			iconData = buf.Bytes()
		}
	})
	return iconData
}
