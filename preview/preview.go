// Package preview lays out the original frame, its depth map and the
// finished stereogram side by side for a quick visual check.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/browser"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	// DefaultHeight is the panel height used when none is given.
	DefaultHeight = 360
	captionHeight = 22
	gap           = 12
)

// Captions label the three panels, left to right.
var Captions = [3]string{"Original Image", "Depth Map", "Stereogram"}

// ErrNoPanels is returned when a panel image is missing or empty.
var ErrNoPanels = errors.New("preview needs three non-empty images")

// Compose scales each panel to height pixels tall, keeping its aspect ratio,
// and draws them in a row on a white sheet with a caption over each.
func Compose(original, depth, stereo image.Image, height int) (*image.RGBA, error) {
	if height <= 0 {
		height = DefaultHeight
	}
	panels := [3]image.Image{original, depth, stereo}
	widths := [3]int{}
	total := gap
	for i, p := range panels {
		if p == nil || p.Bounds().Empty() {
			return nil, fmt.Errorf("panel %q: %w", Captions[i], ErrNoPanels)
		}
		b := p.Bounds()
		widths[i] = max(1, (b.Dx()*height+b.Dy()/2)/b.Dy())
		total += widths[i] + gap
	}

	sheet := image.NewRGBA(image.Rect(0, 0, total, captionHeight+height+gap))
	draw.Draw(sheet, sheet.Bounds(), image.White, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  sheet,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
	}
	x := gap
	for i, p := range panels {
		dst := image.Rect(x, captionHeight, x+widths[i], captionHeight+height)
		draw.CatmullRom.Scale(sheet, dst, p, p.Bounds(), draw.Src, nil)

		adv := d.MeasureString(Captions[i]).Round()
		d.Dot = fixed.P(x+(widths[i]-adv)/2, captionHeight-6)
		d.DrawString(Captions[i])
		x += widths[i] + gap
	}
	return sheet, nil
}

// Open shows a saved preview with the system's default viewer.
func Open(path string) error {
	if err := browser.OpenFile(path); err != nil {
		return fmt.Errorf("open preview: %w", err)
	}
	return nil
}
