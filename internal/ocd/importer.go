package ocd

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kjetilk/mapper/internal/model"
)

// bezierKappa is the control-point factor approximating a quarter circle
// with a cubic bezier.
const bezierKappa = 0.55228475

// Importer holds the state of one import run.
type Importer struct {
	r     reader
	codec textCodec
	opts  Options

	mp   *model.Map
	view *model.View

	warnings []string

	colors   map[int]*model.Color
	badColor map[int]bool
	symbols  map[int]model.Symbol
	rects    map[int]*rectangleInfo
	halign   map[*model.TextSymbol]model.HorizontalAlignment
}

// rectangleInfo carries the parts of an imported rectangle symbol. The
// format has no rectangle objects in the model sense; they are expanded
// into border, grid and numbering objects at object import time.
type rectangleInfo struct {
	borderLine       *model.LineSymbol
	cornerRadius     int64
	hasGrid          bool
	numberFromBottom bool
	cellWidth        int64
	cellHeight       int64
	unnumberedCells  int
	unnumberedText   string
	innerLine        *model.LineSymbol
	text             *model.TextSymbol
}

// Import parses an OCD file buffer into a map and a view. Recoverable
// problems are reported as warnings; a non-nil error means the buffer
// could not be read as a supported map file at all.
func Import(buf []byte, opts Options) (*model.Map, *model.View, []string, error) {
	imp := &Importer{
		r:        reader{buf: buf},
		codec:    newTextCodec(opts),
		opts:     opts,
		mp:       model.NewMap(),
		view:     model.NewView(),
		colors:   make(map[int]*model.Color),
		badColor: make(map[int]bool),
		symbols:  make(map[int]model.Symbol),
		rects:    make(map[int]*rectangleInfo),
		halign:   make(map[*model.TextSymbol]model.HorizontalAlignment),
	}
	if err := imp.run(); err != nil {
		return nil, nil, imp.warnings, err
	}
	return imp.mp, imp.view, imp.warnings, nil
}

func (imp *Importer) run() error {
	if !Detect(imp.r.buf) {
		return formatErrorf("invalid file format")
	}
	version := imp.r.u16(offVersionMajor)
	if version <= 5 || version >= 9 {
		return formatErrorf("unsupported file version %d", version)
	}

	imp.importSetup()
	imp.importNotes()
	imp.importColors()
	imp.importSymbols()
	if !imp.opts.SymbolsOnly {
		imp.importObjects()
		imp.importTemplates()
	}
	return imp.r.err
}

func (imp *Importer) warnf(format string, args ...interface{}) {
	imp.warnings = append(imp.warnings, fmt.Sprintf(format, args...))
}

// color resolves a file color number, warning once per unknown number.
func (imp *Importer) color(number int) *model.Color {
	if c, ok := imp.colors[number]; ok {
		return c
	}
	if number >= 0 && !imp.badColor[number] {
		imp.badColor[number] = true
		imp.warnf("Color %d is not defined in the color table", number)
	}
	return nil
}

func (imp *Importer) readPoint(off int) legacyPoint {
	return legacyPoint{x: imp.r.s32(off), y: imp.r.s32(off + 4)}
}

func (imp *Importer) readPoints(off, n int) []legacyPoint {
	if n <= 0 || !imp.r.ok(off, n*pointSize) {
		return nil
	}
	pts := make([]legacyPoint, n)
	for i := range pts {
		pts[i] = imp.readPoint(off + i*pointSize)
	}
	return pts
}

// walkChain visits every entry of a chained index block list.
func (imp *Importer) walkChain(head, entrySize int, fn func(entryOff int)) {
	blocks := 0
	for block := imp.r.u32(head); block != 0 && imp.r.err == nil; block = imp.r.u32(block) {
		if blocks++; blocks > 1<<16 {
			imp.r.err = formatErrorf("index chain does not terminate")
			return
		}
		for i := 0; i < indexBlockEntries; i++ {
			fn(block + 4 + i*entrySize)
		}
	}
}

func (imp *Importer) importSetup() {
	pos := imp.r.u32(offSetupPos)
	size := imp.r.u32(offSetupSize)
	if pos == 0 || size < setupSize {
		imp.warnf("Invalid setup record, keeping default scale and view")
		return
	}
	scale := imp.r.f64(pos + setupScale)
	if scale >= 1 && !math.IsInf(scale, 0) {
		imp.mp.ScaleDenominator = int(math.Round(scale))
	} else {
		imp.warnf("Invalid map scale %v, assuming 1:%d", scale, imp.mp.ScaleDenominator)
	}
	if imp.opts.SymbolsOnly {
		return
	}
	center := imp.readPoint(pos + setupCenter).coord()
	imp.view.PositionX = center.X
	imp.view.PositionY = center.Y
	zoom := imp.r.f64(pos + setupZoom)
	if zoom >= model.ZoomOutLimit && zoom <= model.ZoomInLimit {
		imp.view.Zoom = zoom
	}
}

func (imp *Importer) importNotes() {
	pos := imp.r.u32(offInfoPos)
	size := imp.r.u32(offInfoSize)
	if pos == 0 || size == 0 {
		return
	}
	b := imp.r.bytes(pos, size)
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	imp.mp.Notes = imp.codec.decodeNarrow(b)
}

func (imp *Importer) importColors() {
	count := imp.r.u16(colorBlockPos)
	if count > maxColors {
		imp.warnf("Color table claims %d colors, reading %d", count, maxColors)
		count = maxColors
	}
	for i := 0; i < count; i++ {
		rec := colorBlockPos + 24 + i*colorRecordSize
		number := imp.r.s16(rec)
		c := &model.Color{
			Priority: i,
			C:        0.005 * float64(imp.r.u8(rec+4)),
			M:        0.005 * float64(imp.r.u8(rec+5)),
			Y:        0.005 * float64(imp.r.u8(rec+6)),
			K:        0.005 * float64(imp.r.u8(rec+7)),
			Opacity:  1,
			Name:     imp.codec.decodePascal(imp.r.bytes(rec+8, 32)),
		}
		imp.mp.Colors = append(imp.mp.Colors, c)
		imp.colors[number] = c
	}
}

// describeSymbol renders a file symbol number and name for warnings.
func describeSymbol(number int, name string) string {
	return fmt.Sprintf("%d.%d \"%s\"", number/10, number%10, name)
}

func (imp *Importer) importSymbols() {
	imp.walkChain(offFirstSymBlock, symIndexEntrySize, func(entry int) {
		pos := imp.r.u32(entry)
		if pos != 0 {
			imp.importSymbol(pos)
		}
	})
}

func (imp *Importer) importSymbol(pos int) {
	number := imp.r.s16(pos + symNumber)
	kind := imp.r.s16(pos + symKind)

	var sym model.Symbol
	switch kind {
	case symKindPoint:
		sym = imp.importPointSymbol(pos)
	case symKindLine:
		sym = imp.importLineSymbol(pos)
	case symKindArea:
		sym = imp.importAreaSymbol(pos)
	case symKindText:
		sym = imp.importTextSymbol(pos)
	case symKindRectangle:
		sym = imp.importRectSymbol(pos)
	default:
		name := imp.codec.decodePascal(imp.r.bytes(pos+symName, 32))
		imp.warnf("Unable to import symbol %s: unsupported symbol type %d",
			describeSymbol(number, name), kind)
		return
	}
	if sym == nil {
		return
	}
	imp.mp.Symbols = append(imp.mp.Symbols, sym)
	imp.symbols[number] = sym
}

// baseFrom reads the common symbol record prefix.
func (imp *Importer) baseFrom(pos int) model.SymbolBase {
	b := model.NewSymbolBase()
	number := imp.r.s16(pos + symNumber)
	b.Number[0] = number / 10
	b.Number[1] = number % 10
	b.Name = imp.codec.decodePascal(imp.r.bytes(pos+symName, 32))
	status := imp.r.u8(pos + symStatus)
	b.Protected = status&statusProtected != 0
	b.Hidden = status&statusHidden != 0
	return b
}

func (imp *Importer) importPointSymbol(pos int) model.Symbol {
	npts := imp.r.s16(pos + ptNumGroups)
	sym := imp.importPattern(pos+pointSymHeaderSize, npts)
	sym.SymbolBase = imp.baseFrom(pos)
	sym.Rotatable = imp.r.u8(pos+symBaseFlags)&baseFlagRotatable != 0
	return sym
}

// importPattern decomposes a point-slot encoded element list into a point
// symbol. A lone dot or circle element becomes the symbol's own inner dot
// or outer ring; everything else becomes a pattern element with its own
// sub-symbol and placing object.
func (imp *Importer) importPattern(off, npts int) *model.PointSymbol {
	sym := model.NewPointSymbol()
	end := off + npts*pointSize
	for p := off; p+eltHeaderPoints*pointSize <= end; {
		kind := imp.r.s16(p + eltKind)
		flags := imp.r.u16(p + eltFlags)
		colorNo := imp.r.s16(p + eltColor)
		width := decodeSize(imp.r.s16(p + eltWidth))
		diameter := decodeSize(imp.r.s16(p + eltDiameter))
		n := imp.r.s16(p + eltNumPts)
		ptsOff := p + eltHeaderPoints*pointSize
		multiple := p > off || ptsOff+n*pointSize < end
		pts := imp.readPoints(ptsOff, n)

		origin := model.MapCoord{}
		if len(pts) > 0 {
			origin = pts[0].coord()
		}

		switch kind {
		case eltKindDot:
			radius := diameter / 2
			if radius <= 0 {
				break
			}
			if multiple {
				es := model.NewPointSymbol()
				es.InnerRadius = radius
				es.InnerColor = imp.color(colorNo)
				obj := &model.PointObject{Sym: es, Coord: origin}
				sym.Elements = append(sym.Elements, model.PatternElement{Symbol: es, Object: obj})
			} else {
				sym.InnerRadius = radius
				sym.InnerColor = imp.color(colorNo)
			}
		case eltKindCircle:
			radius := diameter/2 - width
			if width <= 0 || radius <= 0 {
				break
			}
			if multiple {
				es := model.NewPointSymbol()
				es.InnerRadius = radius
				es.OuterWidth = width
				es.OuterColor = imp.color(colorNo)
				obj := &model.PointObject{Sym: es, Coord: origin}
				sym.Elements = append(sym.Elements, model.PatternElement{Symbol: es, Object: obj})
			} else {
				sym.InnerRadius = radius
				sym.OuterWidth = width
				sym.OuterColor = imp.color(colorNo)
			}
		case eltKindLine:
			es := model.NewLineSymbol()
			es.LineWidth = width
			es.Color = imp.color(colorNo)
			if flags&eltFlagRoundCap != 0 {
				es.CapStyle = model.RoundCap
				es.JoinStyle = model.RoundJoin
			} else if flags&eltFlagMiterJoin != 0 {
				es.JoinStyle = model.MiterJoin
			}
			obj := &model.PathObject{Sym: es, Points: decodePath(pts, false)}
			sym.Elements = append(sym.Elements, model.PatternElement{Symbol: es, Object: obj})
		case eltKindArea:
			es := model.NewAreaSymbol()
			es.Color = imp.color(colorNo)
			coords := decodePath(pts, true)
			markClosedParts(coords)
			obj := &model.PathObject{Sym: es, Points: coords}
			sym.Elements = append(sym.Elements, model.PatternElement{Symbol: es, Object: obj})
		default:
			imp.warnf("Unsupported point symbol element of type %d", kind)
		}
		p = ptsOff + n*pointSize
	}
	return sym
}

func (imp *Importer) importLineSymbol(pos int) model.Symbol {
	base := imp.baseFrom(pos)
	number := imp.r.s16(pos + symNumber)
	label := describeSymbol(number, base.Name)

	dmode := imp.r.u16(pos + lsDMode)
	width := imp.r.s16(pos + lsWidth)
	length := imp.r.s16(pos + lsLen)
	endLength := imp.r.s16(pos + lsELen)

	var main *model.LineSymbol
	if dmode == 0 || width > 0 {
		main = model.NewLineSymbol()
		main.SymbolBase = base
		main.Color = imp.color(imp.r.s16(pos + lsColor))
		main.LineWidth = decodeSize(width)
		main.ShowAtLeastOneSymbol = imp.r.s16(pos+lsSMin) >= 0

		ends := imp.r.u16(pos + lsEnds)
		switch ends {
		case 0:
			// flat cap, bevel join; the defaults
		case 1:
			main.CapStyle = model.RoundCap
			main.JoinStyle = model.RoundJoin
		case 2:
			main.CapStyle = model.PointedCap
		case 3:
			main.CapStyle = model.PointedCap
			main.JoinStyle = model.RoundJoin
		case 4:
			main.JoinStyle = model.MiterJoin
		case 6:
			main.CapStyle = model.PointedCap
			main.JoinStyle = model.MiterJoin
		default:
			imp.warnf("In line symbol %s: unsupported line style %d", label, ends)
		}
		if main.CapStyle == model.PointedCap {
			bdist := imp.r.s16(pos + lsBDist)
			edist := imp.r.s16(pos + lsEDist)
			if bdist != edist {
				imp.warnf("In line symbol %s: different cap lengths for line start and end (%d and %d), using %d",
					label, bdist, edist, (bdist+edist)/2)
			}
			main.PointedCapLength = decodeSize((bdist + edist) / 2)
			// Cannot combine a pointed cap with any other join style.
			main.JoinStyle = model.RoundJoin
		}

		gap := imp.r.s16(pos + lsGap)
		gap2 := imp.r.s16(pos + lsGap2)
		endGap := imp.r.s16(pos + lsEGap)
		if gap > 0 || gap2 > 0 {
			main.Dashed = true
			if gap2 > 0 && gap == 0 {
				main.DashLength = decodeSize(length - gap2)
				main.BreakLength = decodeSize(gap2)
				if !(endLength >= length/2-1 && endLength <= length/2+1) {
					imp.warnf("In dashed line symbol %s: unsupported end length %d, using main length %d",
						label, endLength, length)
				}
				if endGap != 0 {
					imp.warnf("In dashed line symbol %s: unsupported end gap %d, ignoring it", label, endGap)
				}
			} else {
				if length != endLength {
					if endLength >= length/2-1 && endLength <= length/2+1 {
						main.HalfOuterDashes = true
					} else {
						imp.warnf("In dashed line symbol %s: unsupported end length %d, using main length %d",
							label, endLength, length)
					}
				}
				main.DashLength = decodeSize(length)
				main.BreakLength = decodeSize(gap)
				if gap2 > 0 {
					main.DashesInGroup = 2
					if gap2 != endGap {
						imp.warnf("In dashed line symbol %s: unsupported end gap %d, using %d",
							label, endGap, gap2)
					}
					main.InGroupBreakLength = decodeSize(gap2)
					main.DashLength = (main.DashLength - main.InGroupBreakLength) / 2
				}
			}
		} else {
			main.SegmentLength = decodeSize(length)
			main.EndLength = decodeSize(endLength)
		}
	}

	var double *model.LineSymbol
	if dmode != 0 {
		double = model.NewLineSymbol()
		double.SymbolBase = base
		double.LineWidth = decodeSize(imp.r.s16(pos + lsDWidth))
		if imp.r.u16(pos+lsDFlags)&1 != 0 {
			double.Color = imp.color(imp.r.s16(pos + lsDColor))
		}
		double.CapStyle = model.FlatCap
		double.JoinStyle = model.MiterJoin
		double.SegmentLength = decodeSize(length)
		double.EndLength = decodeSize(endLength)

		leftWidth := imp.r.s16(pos + lsLWidth)
		rightWidth := imp.r.s16(pos + lsRWidth)
		if leftWidth > 0 || rightWidth > 0 {
			double.HaveBorderLines = true
			if leftWidth != rightWidth {
				imp.warnf("In line symbol %s: different left and right border widths (%d and %d), using %d",
					label, leftWidth, rightWidth, leftWidth)
			}
			leftColor := imp.r.s16(pos + lsLColor)
			rightColor := imp.r.s16(pos + lsRColor)
			if leftColor != rightColor {
				imp.warnf("In line symbol %s: different left and right border colors, using the left one", label)
			}
			double.BorderColor = imp.color(leftColor)
			double.BorderWidth = decodeSize(leftWidth)
			double.BorderShift = double.BorderWidth / 2

			borderGap := imp.r.s16(pos + lsDGap)
			if borderGap > 0 && dmode > 1 {
				double.DashedBorder = true
				double.BorderDashLength = decodeSize(imp.r.s16(pos + lsDLen))
				double.BorderBreakLength = decodeSize(borderGap)
				if dmode == 2 {
					imp.warnf("In line symbol %s: ignoring that the dashed border is only drawn at line ends", label)
				}
			}
		}
	}

	if imp.r.s16(pos+lsFWidth) > 0 {
		imp.warnf("In line symbol %s: ignoring framing line", label)
	}

	// Attached sub-symbols, stored in point slots after the header. They
	// belong to the main line, or to the double line when there is none.
	carrier := main
	if carrier == nil {
		carrier = double
	}
	p := pos + lineSymHeaderSize
	if n := imp.r.s16(pos + lsMainPts); n > 0 {
		carrier.MidSymbol = imp.importPattern(p, n)
		carrier.MidSymbolsPerSpot = imp.r.s16(pos + lsSNum)
		carrier.MidSymbolDistance = decodeSize(imp.r.s16(pos + lsSDist))
		p += n * pointSize
	}
	if n := imp.r.s16(pos + lsSecPts); n > 0 {
		// Secondary points have no model counterpart.
		p += n * pointSize
	}
	if n := imp.r.s16(pos + lsCornerPts); n > 0 {
		carrier.DashSymbol = imp.importPattern(p, n)
		p += n * pointSize
	}
	if n := imp.r.s16(pos + lsStartPts); n > 0 {
		carrier.StartSymbol = imp.importPattern(p, n)
		p += n * pointSize
	}
	if n := imp.r.s16(pos + lsEndPts); n > 0 {
		carrier.EndSymbol = imp.importPattern(p, n)
	}

	if main != nil && double != nil {
		comb := model.NewCombinedSymbol()
		comb.SymbolBase = base
		for i, part := range []*model.LineSymbol{main, double} {
			part.Number[2] = i + 1
			part.Hidden = false
			part.Protected = false
			comb.Parts = append(comb.Parts, len(imp.mp.Symbols))
			imp.mp.Symbols = append(imp.mp.Symbols, part)
		}
		return comb
	}
	if double != nil {
		return double
	}
	return main
}

func (imp *Importer) importAreaSymbol(pos int) model.Symbol {
	sym := model.NewAreaSymbol()
	sym.SymbolBase = imp.baseFrom(pos)

	if imp.r.u16(pos+asFill) != 0 {
		sym.Color = imp.color(imp.r.s16(pos + asColor))
	}

	hatchMode := imp.r.s16(pos + asHatchMode)
	if hatchMode > 0 {
		hatchWidth := imp.r.s16(pos + asHatchWidth)
		hatchDist := imp.r.s16(pos + asHatchDist)
		p := model.FillPattern{
			Type:        model.LinePattern,
			Rotatable:   true,
			Angle:       decodeRotation(imp.r.s16(pos + asHatchAngle1)),
			LineColor:   imp.color(imp.r.s16(pos + asHatchColor)),
			LineWidth:   decodeSize(hatchWidth),
			LineSpacing: decodeSize(hatchDist + hatchWidth),
		}
		sym.Patterns = append(sym.Patterns, p)
		if hatchMode == 2 {
			p.Angle = decodeRotation(imp.r.s16(pos + asHatchAngle2))
			p.LineSpacing = decodeSize(hatchDist)
			sym.Patterns = append(sym.Patterns, p)
		}
	}

	patMode := imp.r.s16(pos + asPatMode)
	if patMode > 0 {
		p := model.FillPattern{
			Type:          model.PointPattern,
			Rotatable:     true,
			Angle:         decodeRotation(imp.r.s16(pos + asPatAngle)),
			PointDistance: decodeSize(imp.r.s16(pos + asPatWidth)),
			LineSpacing:   decodeSize(imp.r.s16(pos + asPatHeight)),
			Point:         imp.importPattern(pos+areaSymHeaderSize, imp.r.s16(pos+asNumPts)),
		}
		if patMode == 2 {
			// Staggered rows become two interleaved patterns.
			p.LineSpacing *= 2
			sym.Patterns = append(sym.Patterns, p)
			second := p
			second.LineOffset = p.LineSpacing / 2
			second.OffsetAlongLine = p.PointDistance / 2
			sym.Patterns = append(sym.Patterns, second)
		} else {
			sym.Patterns = append(sym.Patterns, p)
		}
	}
	return sym
}

func (imp *Importer) importTextSymbol(pos int) model.Symbol {
	sym := model.NewTextSymbol()
	sym.SymbolBase = imp.baseFrom(pos)
	number := imp.r.s16(pos + symNumber)
	label := describeSymbol(number, sym.Name)

	sym.FontFamily = imp.codec.decodePascal(imp.r.bytes(pos+tsFont, 32))
	sym.Color = imp.color(imp.r.s16(pos + tsColor))
	decipoints := imp.r.s16(pos + tsFontSize)
	sym.FontSize = int64(math.Round(1000 * (0.1 * float64(decipoints) / 72 * 25.4)))

	weight := imp.r.s16(pos + tsWeight)
	if weight != 400 && weight != 700 {
		imp.warnf("In text symbol %s: ignoring numeric font weight (%d)", label, weight)
	}
	sym.Bold = weight >= 550
	sym.Italic = imp.r.u8(pos+tsItalic) != 0

	if imp.r.s16(pos+tsCSpace) != 0 {
		imp.warnf("In text symbol %s: ignoring custom character spacing", label)
	}
	if imp.r.s16(pos+tsWSpace) != 100 {
		imp.warnf("In text symbol %s: ignoring custom word spacing (%d%%)",
			label, imp.r.s16(pos+tsWSpace))
	}

	align := model.AlignHCenter
	switch imp.r.s16(pos + tsHAlign) {
	case 0:
		align = model.AlignLeft
	case 1:
		align = model.AlignHCenter
	case 2:
		align = model.AlignRight
	default:
		imp.warnf("In text symbol %s: ignoring justified alignment", label)
	}
	imp.halign[sym] = align

	lineSpacing := imp.r.s16(pos + tsLSpace)
	metrics := sym.MetricsOrDefault()
	naturalSpacing := metrics.LineSpacing / sym.InternalScaling()
	if naturalSpacing > 0 {
		absolute := 0.001 * float64(sym.FontSize) * 0.01 * float64(lineSpacing)
		sym.LineSpacing = absolute / naturalSpacing
	}
	sym.ParagraphSpacing = decodeSize(imp.r.s16(pos + tsPSpace))

	if imp.r.s16(pos+tsIndent1) != 0 || imp.r.s16(pos+tsIndent2) != 0 {
		imp.warnf("In text symbol %s: ignoring indents", label)
	}
	numTabs := imp.r.s16(pos + tsNumTabs)
	if numTabs > 32 {
		numTabs = 32
	}
	for i := 0; i < numTabs; i++ {
		sym.CustomTabs = append(sym.CustomTabs, decodeSize(int(imp.r.s32(pos+tsTabs+4*i))))
	}

	switch frameMode := imp.r.s16(pos + tsFrMode); frameMode {
	case 0:
	case 1:
		sym.Framing = true
		sym.FramingMode = model.ShadowFraming
		sym.FramingColor = imp.color(imp.r.s16(pos + tsFrColor))
		sym.FramingShadowXOffset = decodeSize(imp.r.s16(pos + tsFrOfsX))
		sym.FramingShadowYOffset = -decodeSize(imp.r.s16(pos + tsFrOfsY))
	case 2:
		sym.Framing = true
		sym.FramingMode = model.LineFraming
		sym.FramingColor = imp.color(imp.r.s16(pos + tsFrColor))
		sym.FramingLineHalfWidth = decodeSize(imp.r.s16(pos + tsFrSize))
	default:
		imp.warnf("In text symbol %s: ignoring framing mode %d", label, frameMode)
	}

	if imp.r.u8(pos+tsUnder) != 0 {
		sym.LineBelow = true
		sym.LineBelowColor = imp.color(imp.r.s16(pos + tsUColor))
		sym.LineBelowWidth = decodeSize(imp.r.s16(pos + tsUWidth))
		sym.LineBelowDistance = decodeSize(imp.r.s16(pos + tsUDist))
	}
	return sym
}

func (imp *Importer) importRectSymbol(pos int) model.Symbol {
	base := imp.baseFrom(pos)
	number := imp.r.s16(pos + symNumber)

	line := model.NewLineSymbol()
	line.SymbolBase = base
	line.Color = imp.color(imp.r.s16(pos + rsColor))
	line.LineWidth = decodeSize(imp.r.s16(pos + rsWidth))
	line.CapStyle = model.FlatCap
	line.JoinStyle = model.RoundJoin

	flags := imp.r.u16(pos + rsFlags)
	info := &rectangleInfo{
		borderLine:       line,
		cornerRadius:     decodeSize(imp.r.s16(pos + rsCorner)),
		hasGrid:          flags&rectFlagGrid != 0,
		numberFromBottom: flags&rectFlagNumberFromBottom != 0,
		cellWidth:        decodeSize(imp.r.s16(pos + rsCellWidth)),
		cellHeight:       decodeSize(imp.r.s16(pos + rsCellHeight)),
		unnumberedCells:  imp.r.s16(pos + rsUnnumCells),
		unnumberedText:   imp.codec.decodePascal(imp.r.bytes(pos+rsUnnumText, 4)),
	}
	if info.hasGrid && info.cellWidth > 0 && info.cellHeight > 0 {
		inner := model.NewLineSymbol()
		inner.SymbolBase = base
		inner.Number[2] = 1
		inner.Color = line.Color
		inner.LineWidth = decodeSize(15)

		text := model.NewTextSymbol()
		text.SymbolBase = base
		text.Number[2] = 2
		text.FontFamily = "Arial"
		text.Bold = true
		text.FontSize = int64(math.Round(1000 * (15.0 / 72 * 25.4)))
		text.Color = line.Color

		info.innerLine = inner
		info.text = text
		imp.halign[text] = model.AlignLeft
		imp.mp.Symbols = append(imp.mp.Symbols, inner, text)
	}
	imp.rects[number] = info
	return line
}

func (imp *Importer) importObjects() {
	imp.walkChain(offFirstObjBlock, objIndexEntrySize, func(entry int) {
		pos := imp.r.u32(entry + objEntryPos)
		if pos != 0 {
			imp.importObject(pos)
		}
	})
}

func (imp *Importer) importObject(pos int) {
	symNumber := imp.r.s16(pos + objSymbol)
	objKind := imp.r.u8(pos + objType)
	unicode := imp.r.u8(pos + objUnicode)
	npts := imp.r.s16(pos + objNumPts)
	ntext := imp.r.s16(pos + objNumText)
	angle := imp.r.s16(pos + objAngle)

	if npts < 0 || ntext < 0 || npts+ntext > maxObjectPoints {
		imp.warnf("Skipping malformed object record at %#x", pos)
		return
	}
	pts := imp.readPoints(pos+objHeaderSize, npts)

	if info, ok := imp.rects[symNumber]; ok {
		imp.importRectangleObject(info, pts)
		return
	}

	layer := imp.mp.Layers[imp.mp.CurrentLayer]
	sym := imp.symbols[symNumber]

	switch objKind {
	case objTypePoint:
		point, ok := sym.(*model.PointSymbol)
		if sym == nil {
			imp.warnf("Object with undefined symbol %d.%d, importing as undefined point",
				symNumber/10, symNumber%10)
			point = imp.mp.UndefinedPoint()
		} else if !ok {
			imp.warnf("Point object with non-point symbol %d.%d, skipping it",
				symNumber/10, symNumber%10)
			return
		}
		obj := &model.PointObject{Sym: point}
		if len(pts) > 0 {
			obj.Coord = pts[0].coord()
		}
		if point.Rotatable {
			obj.Rotation = decodeRotation(angle)
		} else if angle != 0 && !point.IsSymmetrical() {
			point.Rotatable = true
			obj.Rotation = decodeRotation(angle)
		}
		layer.Objects = append(layer.Objects, obj)

	case objTypeLine, objTypeArea:
		if sym == nil {
			imp.warnf("Object with undefined symbol %d.%d, importing as undefined line",
				symNumber/10, symNumber%10)
			sym = imp.mp.UndefinedLine()
		}
		isArea := sym.Type() == model.SymbolArea
		coords := decodePath(pts, isArea)
		if isArea {
			markClosedParts(coords)
		}
		layer.Objects = append(layer.Objects, &model.PathObject{Sym: sym, Points: coords})

	case objTypeText, objTypeFormatText:
		textSym, ok := sym.(*model.TextSymbol)
		if !ok {
			imp.warnf("Text object without text symbol %d.%d, skipping it",
				symNumber/10, symNumber%10)
			return
		}
		obj := &model.TextObject{Sym: textSym, Rotation: decodeRotation(angle)}
		payload := imp.r.bytes(pos+objHeaderSize+npts*pointSize, ntext*pointSize)
		if unicode != 0 {
			obj.Text = imp.codec.decodeWideCString(payload, true)
		} else {
			obj.Text = imp.codec.decodeCString(payload, true)
		}
		obj.HAlign = imp.halign[textSym]
		if !imp.decodeTextCoords(obj, textSym, pts) {
			return
		}
		layer.Objects = append(layer.Objects, obj)

	default:
		imp.warnf("Skipping object of unsupported type %d", objKind)
	}
}

type vec2 struct{ x, y float64 }

func (v vec2) sub(o vec2) vec2 { return vec2{v.x - o.x, v.y - o.y} }
func (v vec2) add(o vec2) vec2 { return vec2{v.x + o.x, v.y + o.y} }
func (v vec2) mul(f float64) vec2 { return vec2{v.x * f, v.y * f} }
func (v vec2) length() float64 { return math.Hypot(v.x, v.y) }
func (v vec2) unit() vec2 {
	l := v.length()
	if l == 0 {
		return vec2{1, 0}
	}
	return v.mul(1 / l)
}

func (v vec2) mapCoord(flags model.CoordFlags) model.MapCoord {
	return model.MapCoord{X: int64(math.Round(v.x)), Y: int64(math.Round(v.y)), Flags: flags}
}

func coordVec(c model.MapCoord) vec2 { return vec2{float64(c.X), float64(c.Y)} }

// importRectangleObject expands one rectangle object into its border path
// plus, for grid rectangles, the inner grid lines and cell numbering.
func (imp *Importer) importRectangleObject(info *rectangleInfo, pts []legacyPoint) {
	if len(pts) < 4 {
		imp.warnf("Skipping malformed rectangle object")
		return
	}
	bottomLeft := coordVec(pts[0].coord())
	bottomRight := coordVec(pts[1].coord())
	topRight := coordVec(pts[2].coord())
	topLeft := coordVec(pts[3].coord())

	right := bottomRight.sub(bottomLeft).unit()
	down := bottomLeft.sub(topLeft).unit()
	width := topRight.sub(topLeft).length()
	height := bottomLeft.sub(topLeft).length()
	rotation := math.Atan2(-(bottomRight.y - bottomLeft.y), bottomRight.x-bottomLeft.x)

	layer := imp.mp.Layers[imp.mp.CurrentLayer]

	corners := []vec2{bottomLeft, bottomRight, topRight, topLeft}
	var coords []model.MapCoord
	if radius := float64(info.cornerRadius); radius > 0 {
		handle := (1 - bezierKappa) * radius
		for i, c := range corners {
			in := c.sub(corners[(i+3)%4]).unit()
			out := corners[(i+1)%4].sub(c).unit()
			coords = append(coords,
				c.sub(in.mul(radius)).mapCoord(model.CurveStart),
				c.sub(in.mul(handle)).mapCoord(0),
				c.add(out.mul(handle)).mapCoord(0),
				c.add(out.mul(radius)).mapCoord(0))
		}
	} else {
		for _, c := range corners {
			coords = append(coords, c.mapCoord(0))
		}
	}
	closing := coords[0]
	closing.Flags = model.ClosePoint
	coords = append(coords, closing)
	layer.Objects = append(layer.Objects, &model.PathObject{Sym: info.borderLine, Points: coords})

	if !info.hasGrid || info.cellWidth <= 0 || info.cellHeight <= 0 {
		return
	}

	// Snap the cell sizes so that a whole number of cells covers the
	// rectangle.
	cellsX := int(math.Max(1, math.Round(width/float64(info.cellWidth))))
	cellsY := int(math.Max(1, math.Round(height/float64(info.cellHeight))))
	cellWidth := width / float64(cellsX)
	cellHeight := height / float64(cellsY)
	at := func(lx, ly float64) vec2 {
		return topLeft.add(right.mul(lx)).add(down.mul(ly))
	}

	for x := 1; x < cellsX; x++ {
		lx := float64(x) * cellWidth
		layer.Objects = append(layer.Objects, &model.PathObject{
			Sym:    info.innerLine,
			Points: []model.MapCoord{at(lx, 0).mapCoord(0), at(lx, height).mapCoord(0)},
		})
	}
	for y := 1; y < cellsY; y++ {
		ly := float64(y) * cellHeight
		layer.Objects = append(layer.Objects, &model.PathObject{
			Sym:    info.innerLine,
			Points: []model.MapCoord{at(0, ly).mapCoord(0), at(width, ly).mapCoord(0)},
		})
	}

	if height < float64(info.cellHeight)/2 {
		return
	}
	metrics := info.text.MetricsOrDefault()
	ascent := 1000 * metrics.Ascent / info.text.InternalScaling()

	for y := 0; y < cellsY; y++ {
		for x := 0; x < cellsX; x++ {
			// Cell 1 sits in the bottom row unless numbering starts at
			// the top.
			var cellNumber int
			if info.numberFromBottom {
				cellNumber = y*cellsX + x + 1
			} else {
				cellNumber = (cellsY-1-y)*cellsX + x + 1
			}
			text := strconv.Itoa(cellNumber)
			if cellNumber > cellsX*cellsY-info.unnumberedCells {
				text = info.unnumberedText
			}
			posX := (float64(x) + 0.07) * cellWidth
			posY := (float64(y)+0.04)*cellHeight + ascent - float64(info.text.FontSize)
			layer.Objects = append(layer.Objects, &model.TextObject{
				Sym:      info.text,
				Anchor:   at(posX, posY).mapCoord(0),
				Rotation: rotation,
				HAlign:   model.AlignLeft,
				VAlign:   model.AlignTop,
				Text:     text,
			})
		}
	}
}

// rasterTemplateExts lists the template file types accepted on import.
var rasterTemplateExts = map[string]bool{
	".bmp": true, ".gif": true, ".jpg": true, ".jpeg": true,
	".png": true, ".tif": true, ".tiff": true,
}

func (imp *Importer) importTemplates() {
	imp.walkChain(offFirstStringBlock, strIndexEntrySize, func(entry int) {
		pos := imp.r.u32(entry + strEntryPos)
		size := imp.r.u32(entry + strEntryLen)
		if pos != 0 && imp.r.s32(entry+strEntryType) == stringTypeTemplate {
			imp.importTemplate(pos, size)
		}
	})
	imp.mp.FirstFrontTemplate = len(imp.mp.Templates)
}

func (imp *Importer) importTemplate(pos, size int) {
	b := imp.r.bytes(pos, size)
	if b == nil {
		return
	}
	nameEnd := bytes.IndexByte(b, 0)
	if nameEnd < 0 || len(b) < nameEnd+1+6*8+4 {
		imp.warnf("Skipping malformed template record")
		return
	}
	path := imp.codec.decodeNarrow(b[:nameEnd])
	if !rasterTemplateExts[strings.ToLower(filepath.Ext(path))] {
		imp.warnf("Unable to import template \"%s\": unsupported file type", path)
		return
	}
	sub := reader{buf: b}
	off := nameEnd + 1
	t := &model.Template{
		Path:        path,
		X:           int64(math.Round(sub.f64(off))),
		Y:           int64(math.Round(sub.f64(off + 8))),
		Rotation:    sub.f64(off+16) * math.Pi / 180,
		ScaleX:      sub.f64(off + 24),
		ScaleY:      sub.f64(off + 32),
		Dimming:     sub.f64(off + 40),
		Transparent: sub.s32(off+48) != 0,
	}
	imp.mp.Templates = append(imp.mp.Templates, t)
	visibility := imp.view.TemplateVisibility(t)
	visibility.Visible = true
	visibility.Opacity = 1 - t.Dimming
}
