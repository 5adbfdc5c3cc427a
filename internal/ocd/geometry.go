package ocd

import (
	"math"
	"strings"

	"github.com/kjetilk/mapper/internal/model"
)

// legacyPoint is one packed file point: the upper 24 bits of each value
// hold the coordinate in hundredths of a millimeter, the low byte holds
// the flag bits.
type legacyPoint struct {
	x, y int32
}

func (p legacyPoint) xFlags() int { return int(p.x & 0xFF) }
func (p legacyPoint) yFlags() int { return int(p.y & 0xFF) }

// coord converts the point position to map units. The file's Y axis grows
// upwards, the model's downwards.
func (p legacyPoint) coord() model.MapCoord {
	return model.MapCoord{
		X: int64(p.x>>8) * 10,
		Y: int64(p.y>>8) * -10,
	}
}

// packPoint converts a map position to a packed point with zero flags.
func packPoint(c model.MapCoord) legacyPoint {
	return legacyPoint{
		x: int32(c.X/10) << 8,
		y: int32(c.Y/-10) << 8,
	}
}

// decodePath translates packed points into model coordinates with flags.
// A curve-control-1 flag marks the preceding point as a curve start. The
// hole flag starts a new sub-path; for area paths it is attributed to the
// previous point, for open paths to the flagged point itself.
func decodePath(pts []legacyPoint, isArea bool) []model.MapCoord {
	coords := make([]model.MapCoord, len(pts))
	for i, p := range pts {
		coords[i] = p.coord()
		if p.xFlags()&pxCtl1 != 0 && i > 0 {
			coords[i-1].Flags |= model.CurveStart
		}
		if p.yFlags()&(pyDash|pyCorner) != 0 {
			coords[i].Flags |= model.DashPoint
		}
		if p.yFlags()&pyHole != 0 {
			if isArea {
				if i > 0 {
					coords[i-1].Flags |= model.HolePoint
				}
			} else {
				coords[i].Flags |= model.HolePoint
			}
		}
	}
	return coords
}

// markClosedParts flags the last point of every sub-path whose position
// exactly equals its first point's position. Sub-paths are delimited by
// hole points. The comparison is raw equality, not tolerance-based.
func markClosedParts(coords []model.MapCoord) {
	start := 0
	for i := range coords {
		if !coords[i].IsHolePoint() && i < len(coords)-1 {
			continue
		}
		if coords[i].PositionEqualTo(coords[start]) {
			coords[i].Flags |= model.ClosePoint
		}
		start = i + 1
	}
}

// encodePath translates model coordinates to packed points. Curve-start
// and hole flags move to the following point; the dash flag becomes a dash
// bit only on dashed line symbols without a corner sub-symbol, a corner
// bit otherwise.
func encodePath(coords []model.MapCoord, sym model.Symbol) []legacyPoint {
	pts := make([]legacyPoint, 0, len(coords))
	curveStart := false
	curveContinue := false
	holePoint := false
	for _, c := range coords {
		p := packPoint(c)

		if c.IsDashPoint() {
			line, ok := sym.(*model.LineSymbol)
			if ok && line.Dashed && line.DashSymbol.IsEmpty() {
				p.y |= pyDash
			} else {
				p.y |= pyCorner
			}
		}
		if curveStart {
			p.x |= pxCtl1
		}
		if curveContinue {
			p.x |= pxCtl2
		}
		if holePoint {
			p.y |= pyHole
		}

		curveContinue = curveStart
		curveStart = c.IsCurveStart()
		holePoint = c.IsHolePoint()

		pts = append(pts, p)
	}
	return pts
}

// leadingAdjust returns the vertical correction, in map units along the
// rotated text-down direction, compensating for the extra internal leading
// the legacy renderer adds to text boxes. Import and export apply the same
// correction in opposite directions, keeping the conversion invertible.
func leadingAdjust(sym *model.TextSymbol, rotation float64) (dx, dy float64) {
	m := sym.MetricsOrDefault()
	scaling := sym.InternalScaling()
	fontSize := 0.001 * float64(sym.FontSize)
	adjust := -fontSize + (m.Ascent+m.Descent+0.5)/scaling
	return 1000 * adjust * math.Sin(rotation), 1000 * adjust * math.Cos(rotation)
}

// decodeTextCoords fills the anchor or box of a text object from its point
// list. Box texts carry 4 corner points, anchored texts an anchor plus 4
// corners. It reports whether the point list was usable.
func (imp *Importer) decodeTextCoords(obj *model.TextObject, sym *model.TextSymbol, pts []legacyPoint) bool {
	if len(pts) == 0 {
		return false
	}

	if len(pts) == 4 {
		bottomLeft := pts[0].coord()
		topRight := pts[2].coord()
		topLeft := pts[3].coord()

		dx, dy := leadingAdjust(sym, obj.Rotation)
		shift := func(c model.MapCoord) (float64, float64) {
			return float64(c.X) + dx, float64(c.Y) + dy
		}
		blx, bly := shift(bottomLeft)
		trx, try := shift(topRight)
		tlx, tly := shift(topLeft)

		obj.HasBox = true
		obj.Anchor = model.MapCoord{
			X: int64(math.Round((blx + trx) / 2)),
			Y: int64(math.Round((bly + try) / 2)),
		}
		obj.Width = int64(math.Round(math.Hypot(trx-tlx, try-tly)))
		obj.Height = int64(math.Round(math.Hypot(blx-tlx, bly-tly)))
		obj.VAlign = model.AlignTop
		return true
	}

	if len(pts) != 5 {
		imp.warnf("Trying to import a text object with unknown coordinate format")
	}
	obj.Anchor = pts[0].coord()
	obj.VAlign = model.AlignBaseline
	return true
}

// encodeTextCoords produces the point list of a text object: 5 points for
// anchored text (anchor, then the corners of the laid-out bounding box),
// 4 corner points for box text.
func (ex *Exporter) encodeTextCoords(obj *model.TextObject) []legacyPoint {
	if obj.NumLines() == 0 {
		return nil
	}
	sym, ok := obj.Sym.(*model.TextSymbol)
	if !ok {
		return nil
	}

	sin, cos := math.Sin(obj.Rotation), math.Cos(obj.Rotation)
	// Text space: x right, y down, millimeters, origin at the anchor.
	toMap := func(tx, ty float64) legacyPoint {
		return packPoint(model.MapCoord{
			X: obj.Anchor.X + int64(math.Round(1000*(tx*cos+ty*sin))),
			Y: obj.Anchor.Y + int64(math.Round(1000*(-tx*sin+ty*cos))),
		})
	}

	if obj.HasSingleAnchor() {
		left, right, top, bottom := ex.textBounds(obj, sym)
		return []legacyPoint{
			packPoint(obj.Anchor),
			toMap(left, bottom),
			toMap(right, bottom),
			toMap(right, top),
			toMap(left, top),
		}
	}

	dx, dy := leadingAdjust(sym, obj.Rotation)
	corner := func(tx, ty float64) legacyPoint {
		p := toMap(tx, ty)
		return packPoint(model.MapCoord{
			X: int64(float64(p.coord().X) - dx),
			Y: int64(float64(p.coord().Y) - dy),
		})
	}
	w := 0.0005 * float64(obj.Width)
	h := 0.0005 * float64(obj.Height)
	return []legacyPoint{
		corner(-w, h),
		corner(w, h),
		corner(w, -h),
		corner(-w, -h),
	}
}

// nominalAdvance estimates a character's horizontal advance as a fraction
// of the em size. Real shaping is out of scope; the corner points derived
// from it are advisory, only the anchor is authoritative.
const nominalAdvance = 0.5

// textBounds computes the laid-out bounding box of an anchored text object
// in text space (millimeters relative to the anchor).
func (ex *Exporter) textBounds(obj *model.TextObject, sym *model.TextSymbol) (left, right, top, bottom float64) {
	m := sym.MetricsOrDefault()
	scaling := sym.InternalScaling()
	fontSize := 0.001 * float64(sym.FontSize)
	lineHeight := sym.LineSpacing * m.LineSpacing / scaling

	width := 0.0
	for _, line := range strings.Split(obj.Text, "\n") {
		w := float64(len([]rune(line))) * nominalAdvance * fontSize
		if w > width {
			width = w
		}
	}

	switch obj.HAlign {
	case model.AlignHCenter:
		left, right = -width/2, width/2
	case model.AlignRight:
		left, right = -width, 0
	default:
		left, right = 0, width
	}
	top = -m.Ascent / scaling
	bottom = float64(obj.NumLines()-1)*lineHeight + m.Descent/scaling
	return left, right, top, bottom
}
