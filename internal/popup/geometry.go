// file: internal/popup/geometry.go
package popup

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Default popup size.
const (
	DefaultWidth  = 600
	DefaultHeight = 700
)

// Geometry is the size and position of a popup.
type Geometry struct {
	Width  int
	Height int
	Left   int
	Top    int
}

// Center computes a popup of the given size centered on screen. Non-positive
// sizes fall back to 600x700; offsets are clamped to >= 0.
func Center(width, height int, screen Screen) Geometry {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}
	left := (screen.Width - width) / 2
	top := (screen.Height - height) / 2
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}
	return Geometry{Width: width, Height: height, Left: left, Top: top}
}

// Features renders the window-open feature string: no toolbar or menubar,
// scrollable and resizable.
func (g Geometry) Features() string {
	return fmt.Sprintf("width=%d,height=%d,left=%d,top=%d,toolbar=no,menubar=no,scrollbars=yes,resizable=yes",
		g.Width, g.Height, g.Left, g.Top)
}

// ParseFeatures reads the geometry back out of a feature string. Unknown
// keys are ignored.
func ParseFeatures(features string) (Geometry, error) {
	var g Geometry
	for _, part := range strings.Split(features, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		var dst *int
		switch key {
		case "width":
			dst = &g.Width
		case "height":
			dst = &g.Height
		case "left":
			dst = &g.Left
		case "top":
			dst = &g.Top
		default:
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return Geometry{}, errors.Wrapf(err, "invalid %s in window features", key)
		}
		*dst = n
	}
	return g, nil
}

// WindowName returns the unique window name for a provider attempt, so
// repeated attempts for the same provider never reuse a window.
func WindowName(provider string, now time.Time) string {
	return fmt.Sprintf("oauth-%s-%d", provider, now.UnixMilli())
}
