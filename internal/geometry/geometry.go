// Package geometry decides whether a detected barcode sits inside the
// on-screen target square. It is a false-positive filter for codes at the
// edge of the frame, not a security control.
package geometry

const (
	DefaultTargetSize   = 250
	DefaultTargetOffset = 100
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle in camera-frame coordinates, origin at the top-left.
type Rect struct {
	Origin Point `json:"origin"`
	Size   Size  `json:"size"`
}

func (r Rect) Left() float64 { return r.Origin.X }
func (r Rect) Top() float64 { return r.Origin.Y }
func (r Rect) Right() float64 { return r.Origin.X + r.Size.Width }
func (r Rect) Bottom() float64 { return r.Origin.Y + r.Size.Height }

// Contains reports whether p lies inside r. Edges count as inside.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.Left() && p.X <= r.Right() && p.Y >= r.Top() && p.Y <= r.Bottom()
}

// Viewport describes the camera preview the target square is drawn on.
type Viewport struct {
	Width    float64
	Height   float64
	InsetTop float64 // safe-area inset above the preview
}

// TargetRegion returns the square of the given side whose top edge sits offset
// below the safe-area inset, centred horizontally in the viewport.
func TargetRegion(vp Viewport, side, offset float64) Rect {
	if side <= 0 {
		side = DefaultTargetSize
	}
	return Rect{
		Origin: Point{X: (vp.Width - side) / 2, Y: offset + vp.InsetTop},
		Size:   Size{Width: side, Height: side},
	}
}

// InTarget reports whether a candidate's bounding region is anchored inside
// target. Only the region's origin point is tested; nil bounds never match.
func InTarget(bounds *Rect, target Rect) bool {
	if bounds == nil {
		return false
	}
	return target.Contains(bounds.Origin)
}
