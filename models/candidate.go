package models

import (
	"strings"

	"gate-checkin/internal/geometry"
)

// Origin tags where a candidate came from.
type Origin string

const (
	OriginCamera Origin = "camera"
	OriginManual Origin = "manual"
	OriginBulk   Origin = "bulk"
)

// ScanCandidate is a raw identifier on its way to verification. Bounds is set
// for camera candidates only.
type ScanCandidate struct {
	Data   string         `json:"data"`
	Bounds *geometry.Rect `json:"bounds,omitempty"`
	Origin Origin         `json:"origin"`
}

func CameraCandidate(data string, bounds geometry.Rect) ScanCandidate {
	return ScanCandidate{Data: data, Bounds: &bounds, Origin: OriginCamera}
}

func ManualCandidate(text string) ScanCandidate {
	return ScanCandidate{Data: text, Origin: OriginManual}
}

// NeedsGeometry reports whether the target-region filter applies.
func (c ScanCandidate) NeedsGeometry() bool {
	return c.Origin == OriginCamera
}

func (c ScanCandidate) TicketID() TicketID {
	return TicketID(strings.TrimSpace(c.Data))
}
