package model

// CoordFlags carries the per-point boolean markers of a path coordinate.
type CoordFlags uint8

const (
	// CurveStart marks the point as the start of a cubic curve segment;
	// the following two points are its control points.
	CurveStart CoordFlags = 1 << iota
	// DashPoint forces a symbol break (dash or corner) at this point.
	DashPoint
	// HolePoint marks the end of a sub-path; the next point starts a new one.
	HolePoint
	// ClosePoint marks the last point of a closed sub-path.
	ClosePoint
)

// MapCoord is a map position in 1/1000 mm units, with the path flags of
// the point attached. X grows to the right, Y grows downwards.
type MapCoord struct {
	X, Y  int64
	Flags CoordFlags
}

func (c MapCoord) IsCurveStart() bool { return c.Flags&CurveStart != 0 }
func (c MapCoord) IsDashPoint() bool  { return c.Flags&DashPoint != 0 }
func (c MapCoord) IsHolePoint() bool  { return c.Flags&HolePoint != 0 }
func (c MapCoord) IsClosePoint() bool { return c.Flags&ClosePoint != 0 }

// PositionEqualTo reports whether two coordinates denote the same position,
// ignoring flags. The comparison is exact, not tolerance-based.
func (c MapCoord) PositionEqualTo(o MapCoord) bool {
	return c.X == o.X && c.Y == o.Y
}
