package ocd

import (
	"fmt"
	"math"

	"github.com/kjetilk/mapper/internal/model"
)

// Exporter holds the state of one export run.
type Exporter struct {
	b     builder
	codec textCodec
	opts  Options

	mp   *model.Map
	view *model.View

	warnings []string

	symChain indexChain
	objChain indexChain
	strChain indexChain

	usedNumbers map[int]bool
	numberFor   map[model.Symbol]int

	// combinedParts lists, for combined symbols written as several
	// records, the parts an object must be duplicated for.
	combinedParts map[*model.CombinedSymbol][]model.Symbol

	textRecords map[*model.TextSymbol]textRecord
	textFormats map[*model.TextSymbol][]textFormat
}

// textRecord remembers where a text symbol record was written so it can be
// patched with an alignment, or cloned for a second alignment.
type textRecord struct {
	off    int
	size   int
	number int
}

type textFormat struct {
	align  model.HorizontalAlignment
	number int
}

// Export encodes a map and a view as a version-8 OCD file. Details the
// format cannot carry are reported as warnings; the error is non-nil only
// when the document cannot be represented at all.
func Export(mp *model.Map, view *model.View, opts Options) ([]byte, []string, error) {
	if len(mp.Colors) > maxColors {
		return nil, nil, formatErrorf("map has %d colors, the format supports at most %d",
			len(mp.Colors), maxColors)
	}
	if view == nil {
		view = model.NewView()
	}
	ex := &Exporter{
		codec:       newTextCodec(opts),
		opts:        opts,
		mp:          mp,
		view:        view,
		usedNumbers:   make(map[int]bool),
		numberFor:     make(map[model.Symbol]int),
		combinedParts: make(map[*model.CombinedSymbol][]model.Symbol),
		textRecords:   make(map[*model.TextSymbol]textRecord),
		textFormats:   make(map[*model.TextSymbol][]textFormat),
	}

	ex.exportHeader()
	ex.exportColors()
	ex.exportSetup()
	ex.exportNotes()
	ex.exportSymbols()
	if !opts.SymbolsOnly {
		ex.exportObjects()
		ex.exportTemplates()
	}
	return ex.b.buf, ex.warnings, nil
}

func (ex *Exporter) warnf(format string, args ...interface{}) {
	ex.warnings = append(ex.warnings, fmt.Sprintf(format, args...))
}

// colorNumber returns the file color number for a color, 0 when the color
// is unknown or nil.
func (ex *Exporter) colorNumber(c *model.Color) int {
	if index := ex.mp.FindColorIndex(c); index > 0 {
		return index
	}
	return 0
}

// pascal writes a Pascal string field, warning when the text had to be cut.
func (ex *Exporter) pascal(s string, off, size int) {
	marked, truncated := ex.codec.encodePascal(s, ex.b.buf[off:off+size])
	if truncated {
		ex.warnf("String truncated (truncation marked with %q): %s", truncationMark, marked)
	}
}

func (ex *Exporter) exportHeader() {
	ex.b.alloc(headerSize)
	ex.b.putU8(0, magic0)
	ex.b.putU8(1, magic1)
	ex.b.putU16(offFileType, fileTypeNormal)
	ex.b.putU16(offVersionMajor, 8)
	ex.b.putU16(offVersionMinor, 0)
}

func clampChannel(v float64) int {
	c := int(math.Round(200 * v))
	if c < 0 {
		return 0
	}
	if c > 200 {
		return 200
	}
	return c
}

func (ex *Exporter) exportColors() {
	ex.b.alloc(colorBlockSize)
	ex.b.putU16(colorBlockPos, len(ex.mp.Colors))
	for i, c := range ex.mp.Colors {
		rec := colorBlockPos + 24 + i*colorRecordSize
		ex.b.putS16(rec, i)
		ex.b.putU8(rec+4, clampChannel(c.C))
		ex.b.putU8(rec+5, clampChannel(c.M))
		ex.b.putU8(rec+6, clampChannel(c.Y))
		ex.b.putU8(rec+7, clampChannel(c.K))
		ex.pascal(c.Name, rec+8, 32)
		if c.Opacity != 1 {
			ex.warnf("Color \"%s\": opacity cannot be exported", c.Name)
		}
	}
}

func (ex *Exporter) exportSetup() {
	off := ex.b.alloc(setupSize)
	center := packPoint(model.MapCoord{X: ex.view.PositionX, Y: ex.view.PositionY})
	ex.b.putS32(off+setupCenter, center.x)
	ex.b.putS32(off+setupCenter+4, center.y)
	ex.b.putF64(off+setupScale, float64(ex.mp.ScaleDenominator))
	ex.b.putF64(off+setupZoom, ex.view.Zoom)
	ex.b.putU32(offSetupPos, off)
	ex.b.putU32(offSetupSize, setupSize)
}

func (ex *Exporter) exportNotes() {
	if ex.mp.Notes == "" {
		return
	}
	data := ex.codec.encodeNarrow(ex.mp.Notes)
	off := ex.b.alloc(len(data) + 1)
	ex.b.copyBytes(off, data)
	ex.b.putU32(offInfoPos, off)
	ex.b.putU32(offInfoSize, len(data)+1)
}

// reserveFileNumber books the lowest free symbol number at or above want.
func (ex *Exporter) reserveFileNumber(want int) int {
	if want < 0 {
		want = 0
	}
	for ex.usedNumbers[want] {
		want++
	}
	ex.usedNumbers[want] = true
	return want
}

func (ex *Exporter) reserveNumber(base *model.SymbolBase) int {
	want := base.Number[0] * 10
	if base.Number[1] > 0 {
		want += base.Number[1]
	}
	return ex.reserveFileNumber(want)
}

// beginSymbol allocates a symbol record, links it into the index and fills
// the common prefix. colorOwners are the symbols whose colors make up the
// record's color-use bit set.
func (ex *Exporter) beginSymbol(base *model.SymbolBase, colorOwners []model.Symbol, kind, size int) (off, number int) {
	off = ex.b.alloc(size)
	entry := ex.b.addEntry(&ex.symChain)
	ex.b.putU32(entry, off)

	ex.b.putS16(off+symSize, size)
	number = ex.reserveNumber(base)
	ex.b.putS16(off+symNumber, number)
	ex.b.putS16(off+symKind, kind)
	status := 0
	if base.Protected {
		status |= statusProtected
	}
	if base.Hidden {
		status |= statusHidden
	}
	ex.b.putU8(off+symStatus, status)
	for i, c := range ex.mp.Colors {
		for _, owner := range colorOwners {
			if owner != nil && owner.ContainsColor(c) {
				ex.b.putU8(off+symColors+i/8, int(ex.b.buf[off+symColors+i/8])|1<<(i%8))
				break
			}
		}
	}
	ex.pascal(base.Name, off+symName, 32)
	return off, number
}

func (ex *Exporter) exportSymbols() {
	ex.symChain = indexChain{headOff: offFirstSymBlock, entrySize: symIndexEntrySize}

	// Parts of combined symbols are written as fields of the combined
	// symbol's record, not as records of their own.
	marked := make([]bool, len(ex.mp.Symbols))
	for i, s := range ex.mp.Symbols {
		if s.Type() == model.SymbolCombined {
			marked[i] = true
		}
	}
	ex.mp.SymbolUseClosure(marked)

	var combined []*model.CombinedSymbol
	for i, s := range ex.mp.Symbols {
		if cs, ok := s.(*model.CombinedSymbol); ok {
			combined = append(combined, cs)
			continue
		}
		if marked[i] {
			continue
		}
		switch sym := s.(type) {
		case *model.PointSymbol:
			ex.exportPointSymbol(sym)
		case *model.LineSymbol:
			ex.exportLineRecord(&sym.SymbolBase, sym, nil, []model.Symbol{sym})
		case *model.AreaSymbol:
			ex.exportAreaSymbol(sym)
		case *model.TextSymbol:
			ex.exportTextSymbol(sym)
		}
	}
	for _, cs := range combined {
		ex.exportCombinedSymbol(cs)
	}
}

func (ex *Exporter) exportCombinedSymbol(cs *model.CombinedSymbol) {
	var parts []model.Symbol
	for _, index := range cs.Parts {
		if index >= 0 && index < len(ex.mp.Symbols) {
			parts = append(parts, ex.mp.Symbols[index])
		}
	}
	if len(parts) == 0 {
		ex.warnf("Unable to export empty combined symbol %d.%d \"%s\"",
			cs.Number[0], maxInt(0, cs.Number[1]), cs.Name)
		return
	}

	main, okMain := parts[0].(*model.LineSymbol)
	if len(parts) == 2 && okMain {
		if double, ok := parts[1].(*model.LineSymbol); ok {
			number := ex.exportLineRecord(&cs.SymbolBase, main, double, []model.Symbol{main, double})
			ex.numberFor[cs] = number
			for _, part := range parts {
				ex.numberFor[part] = number
			}
			return
		}
	}

	// No single record can hold this combination. Write every part as a
	// record of its own, objects are then duplicated per part.
	ex.warnf("In combined symbol %d.%d \"%s\": unsupported combination of symbols, exporting each part separately",
		cs.Number[0], maxInt(0, cs.Number[1]), cs.Name)
	var exported []model.Symbol
	for _, part := range parts {
		if _, done := ex.numberFor[part]; done {
			exported = append(exported, part)
			continue
		}
		switch sym := part.(type) {
		case *model.PointSymbol:
			ex.exportPointSymbol(sym)
		case *model.LineSymbol:
			ex.numberFor[sym] = ex.exportLineRecord(&sym.SymbolBase, sym, nil, []model.Symbol{sym})
		case *model.AreaSymbol:
			ex.exportAreaSymbol(sym)
		case *model.TextSymbol:
			ex.exportTextSymbol(sym)
		default:
			continue
		}
		exported = append(exported, part)
	}
	if len(exported) == 0 {
		return
	}
	ex.combinedParts[cs] = exported
	ex.numberFor[cs] = ex.numberFor[exported[0]]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// pointSymbolExtent estimates the drawing radius of a point symbol in
// file units, for the extent field of symbol records.
func pointSymbolExtent(sym *model.PointSymbol) int {
	if sym.IsEmpty() {
		return 0
	}
	var extent int64
	if sym.InnerColor != nil {
		extent = sym.InnerRadius
	}
	if sym.OuterColor != nil && sym.InnerRadius+sym.OuterWidth > extent {
		extent = sym.InnerRadius + sym.OuterWidth
	}
	var maxAbs int64
	for _, e := range sym.Elements {
		var coords []model.MapCoord
		switch o := e.Object.(type) {
		case *model.PointObject:
			coords = []model.MapCoord{{X: o.Coord.X, Y: o.Coord.Y}}
		case *model.PathObject:
			coords = o.Points
		}
		for _, c := range coords {
			if v := c.X; v < 0 {
				v = -v
				if v > maxAbs {
					maxAbs = v
				}
			} else if v > maxAbs {
				maxAbs = v
			}
			if v := c.Y; v < 0 {
				v = -v
				if v > maxAbs {
					maxAbs = v
				}
			} else if v > maxAbs {
				maxAbs = v
			}
		}
	}
	if maxAbs > extent {
		extent = maxAbs
	}
	return encodeSize(extent)
}

func (ex *Exporter) exportPointSymbol(sym *model.PointSymbol) {
	pattern := ex.patternBytes(sym)
	size := pointSymHeaderSize + len(pattern)
	off, number := ex.beginSymbol(&sym.SymbolBase, []model.Symbol{sym}, symKindPoint, size)
	if sym.Rotatable {
		ex.b.putU8(off+symBaseFlags, baseFlagRotatable)
	}
	extent := pointSymbolExtent(sym)
	if extent <= 0 {
		extent = 100
	}
	ex.b.putS16(off+symExtent, extent)
	ex.b.putS16(off+ptNumGroups, len(pattern)/pointSize)
	ex.b.copyBytes(off+pointSymHeaderSize, pattern)
	ex.numberFor[sym] = number
}

// patternBytes serializes a point symbol as a point-slot element list.
func (ex *Exporter) patternBytes(sym *model.PointSymbol) []byte {
	if sym == nil {
		return nil
	}
	var pb builder
	emit := func(kind, flags, color, width, diameter int, pts []legacyPoint) {
		if len(pts) == 0 {
			pts = []legacyPoint{{}}
		}
		off := pb.alloc((eltHeaderPoints + len(pts)) * pointSize)
		pb.putS16(off+eltKind, kind)
		pb.putU16(off+eltFlags, flags)
		pb.putS16(off+eltColor, color)
		pb.putS16(off+eltWidth, width)
		pb.putS16(off+eltDiameter, diameter)
		pb.putS16(off+eltNumPts, len(pts))
		for i, p := range pts {
			at := off + (eltHeaderPoints+i)*pointSize
			pb.putS32(at, p.x)
			pb.putS32(at+4, p.y)
		}
	}
	dotAndCircle := func(ps *model.PointSymbol, at model.MapCoord) {
		origin := []legacyPoint{packPoint(at)}
		if ps.InnerRadius > 0 && ps.InnerColor != nil {
			emit(eltKindDot, 0, ex.colorNumber(ps.InnerColor),
				0, encodeSize(2*ps.InnerRadius), origin)
		}
		if ps.OuterWidth > 0 && ps.OuterColor != nil {
			emit(eltKindCircle, 0, ex.colorNumber(ps.OuterColor),
				encodeSize(ps.OuterWidth), encodeSize(2*(ps.InnerRadius+ps.OuterWidth)), origin)
		}
	}

	dotAndCircle(sym, model.MapCoord{})
	for _, e := range sym.Elements {
		switch es := e.Symbol.(type) {
		case *model.PointSymbol:
			at := model.MapCoord{}
			if po, ok := e.Object.(*model.PointObject); ok {
				at = po.Coord
			}
			dotAndCircle(es, at)
		case *model.LineSymbol:
			var coords []model.MapCoord
			if po, ok := e.Object.(*model.PathObject); ok {
				coords = po.Points
			}
			flags := 0
			if es.CapStyle == model.RoundCap {
				flags |= eltFlagRoundCap
			} else if es.JoinStyle == model.MiterJoin {
				flags |= eltFlagMiterJoin
			}
			emit(eltKindLine, flags, ex.colorNumber(es.Color),
				encodeSize(es.LineWidth), 0, encodePath(coords, es))
		case *model.AreaSymbol:
			var coords []model.MapCoord
			if po, ok := e.Object.(*model.PathObject); ok {
				coords = po.Points
			}
			emit(eltKindArea, 0, ex.colorNumber(es.Color), 0, 0, encodePath(coords, es))
		default:
			ex.warnf("In point symbol %d.%d \"%s\": unsupported element, skipping it",
				sym.Number[0], maxInt(0, sym.Number[1]), sym.Name)
		}
	}
	return pb.buf
}

// exportLineRecord writes one line symbol record. double, when non-nil,
// supplies the double-line and border fields of a merged combined symbol.
func (ex *Exporter) exportLineRecord(base *model.SymbolBase, main, double *model.LineSymbol, colorOwners []model.Symbol) int {
	label := fmt.Sprintf("%d.%d \"%s\"", base.Number[0], maxInt(0, base.Number[1]), base.Name)

	var midPattern, cornerPattern, startPattern, endPattern []byte
	if main != nil {
		if !main.MidSymbol.IsEmpty() {
			midPattern = ex.patternBytes(main.MidSymbol)
		}
		if !main.DashSymbol.IsEmpty() {
			cornerPattern = ex.patternBytes(main.DashSymbol)
		}
		if !main.StartSymbol.IsEmpty() {
			startPattern = ex.patternBytes(main.StartSymbol)
		}
		if !main.EndSymbol.IsEmpty() {
			endPattern = ex.patternBytes(main.EndSymbol)
		}
	}
	size := lineSymHeaderSize + len(midPattern) + len(cornerPattern) + len(startPattern) + len(endPattern)
	off, number := ex.beginSymbol(base, colorOwners, symKindLine, size)

	extent := 0
	for _, line := range []*model.LineSymbol{main, double} {
		if line == nil {
			continue
		}
		e := encodeSize(line.LineWidth) / 2
		if line.HaveBorderLines {
			e = maxInt(e, encodeSize(line.LineWidth/2+line.BorderShift+line.BorderWidth/2))
		}
		extent = maxInt(extent, e)
	}
	if main != nil {
		for _, ps := range []*model.PointSymbol{main.StartSymbol, main.EndSymbol, main.MidSymbol, main.DashSymbol} {
			if ps != nil {
				extent = maxInt(extent, pointSymbolExtent(ps))
			}
		}
	}
	ex.b.putS16(off+symExtent, extent)

	if main != nil {
		ex.numberFor[main] = number
		ex.b.putS16(off+lsColor, ex.colorNumber(main.Color))
		ex.b.putS16(off+lsWidth, encodeSize(main.LineWidth))

		ends := -1
		switch {
		case main.CapStyle == model.FlatCap && main.JoinStyle == model.BevelJoin:
			ends = 0
		case main.CapStyle == model.RoundCap && main.JoinStyle == model.RoundJoin:
			ends = 1
		case main.CapStyle == model.PointedCap && main.JoinStyle == model.BevelJoin:
			ends = 2
		case main.CapStyle == model.PointedCap && main.JoinStyle == model.RoundJoin:
			ends = 3
		case main.CapStyle == model.FlatCap && main.JoinStyle == model.MiterJoin:
			ends = 4
		case main.CapStyle == model.PointedCap && main.JoinStyle == model.MiterJoin:
			ends = 6
		default:
			ex.warnf("In line symbol %s: unsupported cap and join combination", label)
			// Pick the nearest representable style from the cap alone.
			switch main.CapStyle {
			case model.RoundCap:
				ends = 1
			case model.PointedCap:
				ends = 3
			default:
				ends = 0
			}
		}
		ex.b.putU16(off+lsEnds, ends)
		if main.CapStyle == model.PointedCap {
			capLength := encodeSize(main.PointedCapLength)
			ex.b.putS16(off+lsBDist, capLength)
			ex.b.putS16(off+lsEDist, capLength)
		}

		if main.Dashed {
			if !main.MidSymbol.IsEmpty() {
				// With mid symbols the dash period has to be carried in
				// the len/gap2 pair so OCAD spaces the symbols correctly.
				if main.DashesInGroup > 1 {
					ex.warnf("In line symbol %s: neglecting the dash grouping", label)
				}
				length := encodeSize(main.DashLength + main.BreakLength)
				ex.b.putS16(off+lsLen, length)
				ex.b.putS16(off+lsELen, length/2)
				ex.b.putS16(off+lsGap2, encodeSize(main.BreakLength))
			} else if main.DashesInGroup > 1 {
				if main.DashesInGroup > 2 {
					ex.warnf("In line symbol %s: at most two dashes per group can be exported", label)
				}
				if main.BreakLength <= 0 {
					ex.warnf("In line symbol %s: grouped dashes need a break between groups", label)
				}
				inGroup := encodeSize(main.InGroupBreakLength)
				length := encodeSize(2*main.DashLength + main.InGroupBreakLength)
				ex.b.putS16(off+lsLen, length)
				ex.b.putS16(off+lsELen, length)
				ex.b.putS16(off+lsGap, encodeSize(main.BreakLength))
				ex.b.putS16(off+lsGap2, inGroup)
				ex.b.putS16(off+lsEGap, inGroup)
			} else {
				length := encodeSize(main.DashLength)
				endLength := length
				if main.HalfOuterDashes {
					endLength = length / 2
				}
				ex.b.putS16(off+lsLen, length)
				ex.b.putS16(off+lsELen, endLength)
				ex.b.putS16(off+lsGap, encodeSize(main.BreakLength))
			}
		} else {
			ex.b.putS16(off+lsLen, encodeSize(main.SegmentLength))
			ex.b.putS16(off+lsELen, encodeSize(main.EndLength))
		}

		if main.ShowAtLeastOneSymbol {
			ex.b.putS16(off+lsSMin, 0)
		} else {
			ex.b.putS16(off+lsSMin, -1)
		}
		ex.b.putS16(off+lsSNum, main.MidSymbolsPerSpot)
		ex.b.putS16(off+lsSDist, encodeSize(main.MidSymbolDistance))
	}

	writeBorder := func(border *model.LineSymbol, dmodeBase int) {
		dmode := dmodeBase
		if border.DashedBorder {
			dmode = 3
		}
		ex.b.putU16(off+lsDMode, dmode)
		width := encodeSize(border.BorderWidth)
		color := ex.colorNumber(border.BorderColor)
		ex.b.putS16(off+lsLWidth, width)
		ex.b.putS16(off+lsRWidth, width)
		ex.b.putS16(off+lsLColor, color)
		ex.b.putS16(off+lsRColor, color)
		if border.DashedBorder {
			ex.b.putS16(off+lsDLen, encodeSize(border.BorderDashLength))
			ex.b.putS16(off+lsDGap, encodeSize(border.BorderBreakLength))
		}
	}

	switch {
	case double != nil:
		ex.numberFor[double] = number
		ex.b.putU16(off+lsDMode, 1)
		if double.Color != nil {
			ex.b.putU16(off+lsDFlags, 1)
			ex.b.putS16(off+lsDColor, ex.colorNumber(double.Color))
		}
		ex.b.putS16(off+lsDWidth, encodeSize(double.LineWidth))
		if main == nil {
			ex.b.putS16(off+lsLen, encodeSize(double.SegmentLength))
			ex.b.putS16(off+lsELen, encodeSize(double.EndLength))
		}
		if double.HaveBorderLines {
			writeBorder(double, 1)
		}
	case main != nil && main.HaveBorderLines:
		writeBorder(main, 1)
	}

	// Attached sub-symbol patterns, in the fixed file order.
	p := off + lineSymHeaderSize
	for _, pattern := range [][]byte{midPattern, cornerPattern, startPattern, endPattern} {
		ex.b.copyBytes(p, pattern)
		p += len(pattern)
	}
	ex.b.putS16(off+lsMainPts, len(midPattern)/pointSize)
	ex.b.putS16(off+lsCornerPts, len(cornerPattern)/pointSize)
	ex.b.putS16(off+lsStartPts, len(startPattern)/pointSize)
	ex.b.putS16(off+lsEndPts, len(endPattern)/pointSize)

	return number
}

func (ex *Exporter) exportAreaSymbol(sym *model.AreaSymbol) {
	label := fmt.Sprintf("%d.%d \"%s\"", sym.Number[0], maxInt(0, sym.Number[1]), sym.Name)

	var hatches, points []*model.FillPattern
	for i := range sym.Patterns {
		p := &sym.Patterns[i]
		if p.Type == model.LinePattern {
			hatches = append(hatches, p)
		} else {
			points = append(points, p)
		}
	}

	patMode := 0
	var pointPattern *model.FillPattern
	if len(points) > 0 {
		pointPattern = points[0]
		patMode = 1
	}
	if len(points) == 2 && points[1].Angle == points[0].Angle &&
		2*points[1].LineOffset == points[0].LineSpacing {
		// The interleaved pair round-trips as one staggered pattern.
		patMode = 2
	} else if len(points) > 1 {
		ex.warnf("In area symbol %s: unable to export more than one point pattern", label)
	}

	var pattern []byte
	if pointPattern != nil {
		pattern = ex.patternBytes(pointPattern.Point)
	}
	size := areaSymHeaderSize + len(pattern)
	off, number := ex.beginSymbol(&sym.SymbolBase, []model.Symbol{sym}, symKindArea, size)
	ex.numberFor[sym] = number

	for i := range sym.Patterns {
		if sym.Patterns[i].Rotatable {
			ex.b.putU8(off+symBaseFlags, baseFlagRotatable)
			break
		}
	}

	if sym.Color != nil {
		ex.b.putU16(off+asFill, 1)
		ex.b.putS16(off+asColor, ex.colorNumber(sym.Color))
	}

	if len(hatches) > 0 {
		h := hatches[0]
		hatchMode := 1
		hatchWidth := encodeSize(h.LineWidth)
		hatchDist := encodeSize(h.LineSpacing - h.LineWidth)
		ex.b.putS16(off+asHatchColor, ex.colorNumber(h.LineColor))
		ex.b.putS16(off+asHatchAngle1, encodeRotation(h.Angle))
		for _, second := range hatches[1:] {
			if second.LineColor != h.LineColor {
				ex.warnf("In area symbol %s: skipping a hatching pattern of a different color", label)
				continue
			}
			if hatchMode == 2 {
				ex.warnf("In area symbol %s: unable to export more than two hatching patterns", label)
				break
			}
			// The record holds one width and spacing for both hatchings,
			// so average them.
			hatchMode = 2
			hatchWidth = (hatchWidth + encodeSize(second.LineWidth)) / 2
			hatchDist = (hatchDist + encodeSize(second.LineSpacing-second.LineWidth)) / 2
			ex.b.putS16(off+asHatchAngle2, encodeRotation(second.Angle))
		}
		ex.b.putS16(off+asHatchMode, hatchMode)
		ex.b.putS16(off+asHatchWidth, hatchWidth)
		ex.b.putS16(off+asHatchDist, hatchDist)
	}

	if pointPattern != nil {
		height := pointPattern.LineSpacing
		if patMode == 2 {
			height = height / 2
		}
		ex.b.putS16(off+asPatMode, patMode)
		ex.b.putS16(off+asPatWidth, encodeSize(pointPattern.PointDistance))
		ex.b.putS16(off+asPatHeight, encodeSize(height))
		ex.b.putS16(off+asPatAngle, encodeRotation(pointPattern.Angle))
		ex.b.putS16(off+asNumPts, len(pattern)/pointSize)
		ex.b.copyBytes(off+areaSymHeaderSize, pattern)
	}
}

func (ex *Exporter) exportTextSymbol(sym *model.TextSymbol) {
	label := fmt.Sprintf("%d.%d \"%s\"", sym.Number[0], maxInt(0, sym.Number[1]), sym.Name)
	off, number := ex.beginSymbol(&sym.SymbolBase, []model.Symbol{sym}, symKindText, textSymSize)
	ex.numberFor[sym] = number

	ex.pascal(sym.FontFamily, off+tsFont, 32)
	ex.b.putS16(off+tsColor, ex.colorNumber(sym.Color))
	points := 0.001 * float64(sym.FontSize) / 25.4 * 72
	ex.b.putS16(off+tsFontSize, int(math.Round(10*points)))
	weight := 400
	if sym.Bold {
		weight = 700
	}
	ex.b.putS16(off+tsWeight, weight)
	if sym.Italic {
		ex.b.putU8(off+tsItalic, 1)
	}
	if cspace := int(math.Round(100 * sym.CharacterSpacing)); cspace != 0 {
		ex.b.putS16(off+tsCSpace, cspace)
		ex.warnf("In text symbol %s: custom character spacing may render differently", label)
	}
	ex.b.putS16(off+tsWSpace, 100)
	if sym.Underline {
		ex.warnf("In text symbol %s: ignoring underlining", label)
	}
	if sym.Kerning {
		ex.warnf("In text symbol %s: ignoring kerning", label)
	}

	metrics := sym.MetricsOrDefault()
	fontSize := 0.001 * float64(sym.FontSize)
	if fontSize > 0 {
		natural := metrics.LineSpacing / sym.InternalScaling()
		ex.b.putS16(off+tsLSpace, int(math.Round(100*sym.LineSpacing*natural/fontSize)))
	}
	ex.b.putS16(off+tsPSpace, encodeSize(sym.ParagraphSpacing))

	numTabs := len(sym.CustomTabs)
	if numTabs > 32 {
		ex.warnf("In text symbol %d.%d \"%s\": exporting the first 32 custom tabs only",
			sym.Number[0], maxInt(0, sym.Number[1]), sym.Name)
		numTabs = 32
	}
	ex.b.putS16(off+tsNumTabs, numTabs)
	for i := 0; i < numTabs; i++ {
		ex.b.putS32(off+tsTabs+4*i, int32(encodeSize(sym.CustomTabs[i])))
	}

	if sym.Framing {
		ex.b.putS16(off+tsFrColor, ex.colorNumber(sym.FramingColor))
		switch sym.FramingMode {
		case model.ShadowFraming:
			ex.b.putS16(off+tsFrMode, 1)
			ex.b.putS16(off+tsFrOfsX, encodeSize(sym.FramingShadowXOffset))
			ex.b.putS16(off+tsFrOfsY, encodeSize(-sym.FramingShadowYOffset))
		case model.LineFraming:
			ex.b.putS16(off+tsFrMode, 2)
			ex.b.putS16(off+tsFrSize, encodeSize(sym.FramingLineHalfWidth))
		}
	}

	if sym.LineBelow {
		ex.b.putU8(off+tsUnder, 1)
		ex.b.putS16(off+tsUColor, ex.colorNumber(sym.LineBelowColor))
		ex.b.putS16(off+tsUWidth, encodeSize(sym.LineBelowWidth))
		ex.b.putS16(off+tsUDist, encodeSize(sym.LineBelowDistance))
	}

	ex.textRecords[sym] = textRecord{off: off, size: textSymSize, number: number}
}

func alignCode(align model.HorizontalAlignment) int {
	switch align {
	case model.AlignHCenter:
		return 1
	case model.AlignRight:
		return 2
	default:
		return 0
	}
}

// textSymbolNumber returns the file symbol number to use for a text object
// with the given alignment. The first alignment seen is patched into the
// symbol's own record; further alignments clone the record under a fresh
// number.
func (ex *Exporter) textSymbolNumber(sym *model.TextSymbol, align model.HorizontalAlignment) int {
	record, ok := ex.textRecords[sym]
	if !ok {
		return ex.numberFor[sym]
	}
	formats := ex.textFormats[sym]
	if len(formats) == 0 {
		ex.b.putS16(record.off+tsHAlign, alignCode(align))
		ex.textFormats[sym] = append(formats, textFormat{align: align, number: record.number})
		return record.number
	}
	for _, f := range formats {
		if f.align == align {
			return f.number
		}
	}

	clone := make([]byte, record.size)
	copy(clone, ex.b.buf[record.off:record.off+record.size])
	off := ex.b.alloc(record.size)
	ex.b.copyBytes(off, clone)
	number := ex.reserveFileNumber(record.number + 1)
	ex.b.putS16(off+symNumber, number)
	ex.b.putS16(off+tsHAlign, alignCode(align))
	entry := ex.b.addEntry(&ex.symChain)
	ex.b.putU32(entry, off)
	ex.textFormats[sym] = append(ex.textFormats[sym], textFormat{align: align, number: number})
	return number
}

func (ex *Exporter) exportObjects() {
	ex.objChain = indexChain{headOff: offFirstObjBlock, entrySize: objIndexEntrySize}
	for _, layer := range ex.mp.Layers {
		for _, obj := range layer.Objects {
			ex.exportObject(obj)
		}
	}
}

// pathLineSymbol resolves the line symbol governing dash points of a path,
// looking into the first line part of a combined symbol.
func (ex *Exporter) pathLineSymbol(sym model.Symbol) model.Symbol {
	if cs, ok := sym.(*model.CombinedSymbol); ok {
		for _, index := range cs.Parts {
			if index >= 0 && index < len(ex.mp.Symbols) {
				if line, ok := ex.mp.Symbols[index].(*model.LineSymbol); ok {
					return line
				}
			}
		}
	}
	return sym
}

func (ex *Exporter) exportObject(obj model.Object) {
	switch o := obj.(type) {
	case *model.PointObject:
		number, ok := ex.numberFor[o.Sym]
		if !ok {
			ex.warnf("Skipping object with unexported symbol")
			return
		}
		pts := []legacyPoint{packPoint(o.Coord)}
		ex.writeObjectRecord(number, objTypePoint, 0, pts, nil, encodeRotation(o.Rotation))

	case *model.PathObject:
		if cs, ok := o.Sym.(*model.CombinedSymbol); ok {
			if parts := ex.combinedParts[cs]; len(parts) > 0 {
				// One record per part, all sharing the path.
				for _, part := range parts {
					kind := objTypeLine
					if part.Type() == model.SymbolArea {
						kind = objTypeArea
					}
					ex.writeObjectRecord(ex.numberFor[part], kind, 0,
						encodePath(o.Points, part), nil, 0)
				}
				return
			}
		}
		number, ok := ex.numberFor[o.Sym]
		if !ok {
			ex.warnf("Skipping object with unexported symbol")
			return
		}
		kind := objTypeLine
		if o.Sym != nil && o.Sym.Type() == model.SymbolArea {
			kind = objTypeArea
		}
		pts := encodePath(o.Points, ex.pathLineSymbol(o.Sym))
		ex.writeObjectRecord(number, kind, 0, pts, nil, 0)

	case *model.TextObject:
		sym, ok := o.Sym.(*model.TextSymbol)
		if !ok {
			ex.warnf("Skipping text object with unexported symbol")
			return
		}
		if o.NumLines() == 0 {
			return
		}
		number := ex.textSymbolNumber(sym, o.HAlign)
		pts := ex.encodeTextCoords(o)
		if len(pts) == 0 {
			return
		}
		payload := ex.textPayload(o.Text, len(pts))
		kind := objTypeText
		if o.HasBox {
			kind = objTypeFormatText
		}
		ex.writeObjectRecord(number, kind, 1, pts, payload, encodeRotation(o.Rotation))
	}
}

// exportTemplates writes one template string record per template: the
// file name, the placement parameters and the transparency flag.
func (ex *Exporter) exportTemplates() {
	if len(ex.mp.Templates) == 0 {
		return
	}
	ex.strChain = indexChain{headOff: offFirstStringBlock, entrySize: strIndexEntrySize}
	for _, t := range ex.mp.Templates {
		name := ex.codec.encodeNarrow(t.Path)
		size := len(name) + 1 + 6*8 + 4
		off := ex.b.alloc(size)
		ex.b.copyBytes(off, name)

		p := off + len(name) + 1
		ex.b.putF64(p, float64(t.X))
		ex.b.putF64(p+8, float64(t.Y))
		ex.b.putF64(p+16, t.Rotation*180/math.Pi)
		ex.b.putF64(p+24, t.ScaleX)
		ex.b.putF64(p+32, t.ScaleY)
		ex.b.putF64(p+40, t.Dimming)
		if t.Transparent {
			ex.b.putS32(p+48, 1)
		}

		entry := ex.b.addEntry(&ex.strChain)
		ex.b.putU32(entry+strEntryPos, off)
		ex.b.putU32(entry+strEntryLen, size)
		ex.b.putS32(entry+strEntryType, stringTypeTemplate)
	}
}

// textPayload encodes object text as zero-terminated UTF-16, padded to
// whole point slots.
func (ex *Exporter) textPayload(text string, npts int) []byte {
	capacity := ((4*len(text) + 16 + 7) / 8) * 8
	field := make([]byte, capacity)
	n, _, _ := ex.codec.encodeWideCString(text, field)
	slots := (n + 7) / 8
	if npts+slots > maxObjectPoints {
		slots = maxObjectPoints - npts
		field = make([]byte, slots*pointSize)
		_, marked, truncated := ex.codec.encodeWideCString(text, field)
		if truncated {
			ex.warnf("String truncated (truncation marked with %q): %s", truncationMark, marked)
		}
		return field
	}
	return field[:slots*pointSize]
}

func (ex *Exporter) writeObjectRecord(number, kind, unicode int, pts []legacyPoint, payload []byte, angle int) {
	if len(pts) > maxObjectPoints {
		ex.warnf("Exporting only the first %d points of an object with %d", maxObjectPoints, len(pts))
		pts = pts[:maxObjectPoints]
	}
	size := objHeaderSize + pointSize*len(pts) + len(payload)
	off := ex.b.alloc(size)
	ex.b.putS16(off+objSymbol, number)
	ex.b.putU8(off+objType, kind)
	ex.b.putU8(off+objUnicode, unicode)
	ex.b.putS16(off+objNumPts, len(pts))
	ex.b.putS16(off+objNumText, len(payload)/pointSize)
	ex.b.putS16(off+objAngle, angle)
	for i, p := range pts {
		at := off + objHeaderSize + i*pointSize
		ex.b.putS32(at, p.x)
		ex.b.putS32(at+4, p.y)
	}
	ex.b.copyBytes(off+objHeaderSize+pointSize*len(pts), payload)

	entry := ex.b.addEntry(&ex.objChain)
	lowerLeft, upperRight := boundingPoints(pts)
	ex.b.putS32(entry+objEntryLowerLeft, lowerLeft.x)
	ex.b.putS32(entry+objEntryLowerLeft+4, lowerLeft.y)
	ex.b.putS32(entry+objEntryUpperRight, upperRight.x)
	ex.b.putS32(entry+objEntryUpperRight+4, upperRight.y)
	ex.b.putU32(entry+objEntryPos, off)
	ex.b.putU16(entry+objEntryLen, size)
	ex.b.putS16(entry+objEntrySymbol, number)
}

// boundingPoints computes the corner points of the axis-aligned bounding
// rectangle of a point list, with the flag bits cleared.
func boundingPoints(pts []legacyPoint) (lowerLeft, upperRight legacyPoint) {
	if len(pts) == 0 {
		return legacyPoint{}, legacyPoint{}
	}
	minX, maxX := pts[0].x>>8, pts[0].x>>8
	minY, maxY := pts[0].y>>8, pts[0].y>>8
	for _, p := range pts[1:] {
		x, y := p.x>>8, p.y>>8
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	return legacyPoint{x: minX << 8, y: minY << 8}, legacyPoint{x: maxX << 8, y: maxY << 8}
}
