package ocd

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilk/mapper/internal/model"
)

func TestDetect(t *testing.T) {
	if Detect(nil) {
		t.Error("Detect(nil) = true")
	}
	if Detect([]byte{0xAD}) {
		t.Error("Detect accepted a single byte")
	}
	if Detect([]byte("PK\x03\x04")) {
		t.Error("Detect accepted foreign data")
	}

	buf, _, err := Export(model.NewMap(), nil, Options{})
	require.NoError(t, err)
	assert.True(t, Detect(buf))
}

func TestImportRejectsForeignData(t *testing.T) {
	_, _, _, err := Import([]byte("not a map file"), Options{})
	require.Error(t, err)

	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
	assert.EqualError(t, err, "invalid file format")
}

func TestImportRejectsUnsupportedVersion(t *testing.T) {
	buf, _, err := Export(model.NewMap(), nil, Options{})
	require.NoError(t, err)

	for _, version := range []uint16{5, 9, 11} {
		binary.LittleEndian.PutUint16(buf[offVersionMajor:], version)
		_, _, _, err := Import(buf, Options{})
		var formatErr *FormatError
		require.True(t, errors.As(err, &formatErr), "version %d", version)
	}

	binary.LittleEndian.PutUint16(buf[offVersionMajor:], 8)
	_, _, _, err = Import(buf, Options{})
	assert.NoError(t, err)
}

func TestImportTruncatedFile(t *testing.T) {
	buf, _, err := Export(buildTestMap(), nil, Options{})
	require.NoError(t, err)

	_, _, _, err = Import(buf[:headerSize], Options{})
	require.Error(t, err)
}

func TestImportUndefinedColor(t *testing.T) {
	buf, _, err := Export(buildTestMap(), nil, Options{})
	require.NoError(t, err)

	// Point the line symbol's color at an ordinal the color table does
	// not define.
	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[block+4+symIndexEntrySize:]))
	binary.LittleEndian.PutUint16(buf[record+lsColor:], 77)

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)

	count := 0
	for _, w := range warnings {
		if w == "Color 77 is not defined in the color table" {
			count++
		}
	}
	assert.Equal(t, 1, count, "warnings: %v", warnings)

	line := got.Symbols[1].(*model.LineSymbol)
	assert.Nil(t, line.Color)
}

func TestImportUndefinedSymbol(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	path := model.NewLineSymbol()
	path.Number = [3]int{2, 0, -1}
	path.Color = black
	path.LineWidth = 250
	mp.Symbols = []model.Symbol{path}
	mp.Layers[0].Objects = append(mp.Layers[0].Objects,
		&model.PathObject{Sym: path, Points: []model.MapCoord{{X: 0, Y: 0}, {X: 5000, Y: 0}}})

	buf, _, err := Export(mp, nil, Options{})
	require.NoError(t, err)

	// Renumber the symbol record; the object now references number 20
	// which no longer exists.
	pos := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[pos+4:]))
	binary.LittleEndian.PutUint16(buf[record+symNumber:], 99)

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, got.NumObjects())
	assert.NotEmpty(t, warnings)

	obj := got.Layers[0].Objects[0].(*model.PathObject)
	assert.Equal(t, "Undefined line", obj.Sym.Base().Name)
}

func TestImportHalfOuterDashes(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	fence := model.NewLineSymbol()
	fence.Number = [3]int{9, 0, -1}
	fence.Color = black
	fence.LineWidth = 140
	fence.Dashed = true
	fence.DashLength = 2000
	fence.BreakLength = 400
	fence.HalfOuterDashes = true
	mp.Symbols = []model.Symbol{fence}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	sym := got.Symbols[0].(*model.LineSymbol)
	assert.True(t, sym.Dashed)
	assert.True(t, sym.HalfOuterDashes)
	assert.Equal(t, int64(2000), sym.DashLength)
	assert.Equal(t, int64(400), sym.BreakLength)
}

func TestImportPointedCap(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	ditch := model.NewLineSymbol()
	ditch.Number = [3]int{10, 0, -1}
	ditch.Color = black
	ditch.LineWidth = 250
	ditch.CapStyle = model.PointedCap
	ditch.JoinStyle = model.RoundJoin
	ditch.PointedCapLength = 900
	mp.Symbols = []model.Symbol{ditch}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	sym := got.Symbols[0].(*model.LineSymbol)
	assert.Equal(t, model.PointedCap, sym.CapStyle)
	assert.Equal(t, model.RoundJoin, sym.JoinStyle)
	assert.Equal(t, int64(900), sym.PointedCapLength)
}

func TestExportTooManyColors(t *testing.T) {
	mp := model.NewMap()
	for i := 0; i <= maxColors; i++ {
		mp.Colors = append(mp.Colors, &model.Color{Opacity: 1})
	}

	_, _, err := Export(mp, nil, Options{})
	var formatErr *FormatError
	require.True(t, errors.As(err, &formatErr))
}

func TestExportNameTruncationWarning(t *testing.T) {
	mp := model.NewMap()
	long := model.NewPointSymbol()
	long.Name = "An implausibly long symbol name that cannot fit the record"
	long.Number = [3]int{1, 0, -1}
	mp.Symbols = []model.Symbol{long}

	_, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], truncationMark)
}

func TestImportDoubleLineSubSymbols(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	wall := model.NewLineSymbol()
	wall.Number = [3]int{11, 0, -1}
	wall.Color = black
	wall.LineWidth = 250
	corner := model.NewPointSymbol()
	corner.InnerRadius = 300
	corner.InnerColor = black
	wall.DashSymbol = corner
	mp.Symbols = []model.Symbol{wall}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Turn the record into a pure double line: no main line width, double
	// mode on. The corner symbol must survive on the double line.
	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[block+4:]))
	binary.LittleEndian.PutUint16(buf[record+lsWidth:], 0)
	binary.LittleEndian.PutUint16(buf[record+lsDMode:], 1)

	got, _, _, err := Import(buf, Options{})
	require.NoError(t, err)
	require.Len(t, got.Symbols, 1)

	sym := got.Symbols[0].(*model.LineSymbol)
	require.NotNil(t, sym.DashSymbol)
	assert.Equal(t, int64(300), sym.DashSymbol.InnerRadius)
}

func TestImportGroupedDashEndLength(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	fence := model.NewLineSymbol()
	fence.Number = [3]int{12, 0, -1}
	fence.Color = black
	fence.LineWidth = 140
	fence.Dashed = true
	fence.DashLength = 1500
	fence.BreakLength = 600
	fence.DashesInGroup = 2
	fence.InGroupBreakLength = 400
	mp.Symbols = []model.Symbol{fence}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Halve the end length. The record still describes grouped dashes,
	// just with half-length outer dashes.
	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[block+4:]))
	length := binary.LittleEndian.Uint16(buf[record+lsLen:])
	binary.LittleEndian.PutUint16(buf[record+lsELen:], length/2)

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	sym := got.Symbols[0].(*model.LineSymbol)
	assert.True(t, sym.HalfOuterDashes)
	assert.Equal(t, 2, sym.DashesInGroup)
	assert.Equal(t, int64(1500), sym.DashLength)
	assert.Equal(t, int64(400), sym.InGroupBreakLength)
}

func TestExportCapJoinFallback(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	road := model.NewLineSymbol()
	road.Number = [3]int{13, 0, -1}
	road.Color = black
	road.LineWidth = 300
	road.CapStyle = model.RoundCap
	road.JoinStyle = model.MiterJoin
	mp.Symbols = []model.Symbol{road}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "cap and join")

	// The round cap wins over the unrepresentable join.
	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[block+4:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(buf[record+lsEnds:]))

	got, _, _, err := Import(buf, Options{})
	require.NoError(t, err)
	sym := got.Symbols[0].(*model.LineSymbol)
	assert.Equal(t, model.RoundCap, sym.CapStyle)
	assert.Equal(t, model.RoundJoin, sym.JoinStyle)
}

func TestExportTextDecorationWarnings(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	label := model.NewTextSymbol()
	label.Number = [3]int{14, 0, -1}
	label.FontFamily = "Arial"
	label.Color = black
	label.FontSize = 4233
	label.Underline = true
	label.Kerning = true
	label.CharacterSpacing = 0.5
	mp.Symbols = []model.Symbol{label}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)

	joined := ""
	for _, w := range warnings {
		joined += w + "\n"
	}
	assert.Contains(t, joined, "ignoring underlining")
	assert.Contains(t, joined, "ignoring kerning")
	assert.Contains(t, joined, "character spacing")

	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	record := int(binary.LittleEndian.Uint32(buf[block+4:]))
	assert.Equal(t, uint16(50), binary.LittleEndian.Uint16(buf[record+tsCSpace:]))
}

func TestExportSymbolExtents(t *testing.T) {
	buf, _, err := Export(buildTestMap(), nil, Options{})
	require.NoError(t, err)

	block := int(binary.LittleEndian.Uint32(buf[offFirstSymBlock:]))
	stone := int(binary.LittleEndian.Uint32(buf[block+4:]))
	path := int(binary.LittleEndian.Uint32(buf[block+4+symIndexEntrySize:]))

	// Dot radius 250 plus ring width 100, in file units.
	assert.Equal(t, uint16(35), binary.LittleEndian.Uint16(buf[stone+symExtent:]))
	// Half the 350 line width.
	assert.Equal(t, uint16(17), binary.LittleEndian.Uint16(buf[path+symExtent:]))
}

// appendRectangle hand-writes a rectangle symbol and object into an
// exported file, using the free slots of the existing index blocks.
func appendRectangle(buf []byte, number, flags, cellWidth, cellHeight int, corners []model.MapCoord) []byte {
	le := binary.LittleEndian

	rec := len(buf)
	buf = append(buf, make([]byte, rectSymSize)...)
	le.PutUint16(buf[rec+symSize:], uint16(rectSymSize))
	le.PutUint16(buf[rec+symNumber:], uint16(number))
	le.PutUint16(buf[rec+symKind:], symKindRectangle)
	le.PutUint16(buf[rec+rsWidth:], 35)
	le.PutUint16(buf[rec+rsFlags:], uint16(flags))
	le.PutUint16(buf[rec+rsCellWidth:], uint16(cellWidth))
	le.PutUint16(buf[rec+rsCellHeight:], uint16(cellHeight))
	block := int(le.Uint32(buf[offFirstSymBlock:]))
	le.PutUint32(buf[block+4+symIndexEntrySize:], uint32(rec))

	obj := len(buf)
	buf = append(buf, make([]byte, objHeaderSize+4*pointSize)...)
	le.PutUint16(buf[obj+objSymbol:], uint16(number))
	le.PutUint16(buf[obj+objNumPts:], 4)
	for i, c := range corners {
		p := packPoint(c)
		at := obj + objHeaderSize + i*pointSize
		le.PutUint32(buf[at:], uint32(int32(p.x)))
		le.PutUint32(buf[at+4:], uint32(int32(p.y)))
	}
	oblock := int(le.Uint32(buf[offFirstObjBlock:]))
	le.PutUint32(buf[oblock+4+objIndexEntrySize+objEntryPos:], uint32(obj))
	return buf
}

func rectangleBaseMap() *model.Map {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	path := model.NewLineSymbol()
	path.Number = [3]int{2, 0, -1}
	path.Color = black
	path.LineWidth = 250
	mp.Symbols = []model.Symbol{path}
	mp.Layers[0].Objects = append(mp.Layers[0].Objects,
		&model.PathObject{Sym: path, Points: []model.MapCoord{{X: 0, Y: 0}, {X: 5000, Y: 0}}})
	return mp
}

func TestImportRectangleGrid(t *testing.T) {
	buf, _, err := Export(rectangleBaseMap(), nil, Options{})
	require.NoError(t, err)

	// A 10 x 6 mm rectangle with nominal 3 x 2.5 mm cells. The cells are
	// snapped to 3 columns of 3333 units and 2 rows of 3000.
	buf = appendRectangle(buf, 990, rectFlagGrid, 300, 250, []model.MapCoord{
		{X: 0, Y: 0},
		{X: 10000, Y: 0},
		{X: 10000, Y: 6000},
		{X: 0, Y: 6000},
	})

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	objects := got.Layers[0].Objects
	require.Len(t, objects, 11)

	border := objects[1].(*model.PathObject)
	require.Len(t, border.Points, 5)
	for _, p := range border.Points[:4] {
		assert.Equal(t, model.CoordFlags(0), p.Flags)
	}
	assert.Equal(t, model.ClosePoint, border.Points[4].Flags)

	first := objects[2].(*model.PathObject)
	assert.Equal(t, int64(3333), first.Points[0].X)
	second := objects[3].(*model.PathObject)
	assert.Equal(t, int64(6667), second.Points[0].X)
	row := objects[4].(*model.PathObject)
	assert.Equal(t, int64(3000), row.Points[0].Y)

	// Numbering starts in the bottom row; the loop emits the top row
	// first.
	var texts []string
	for _, o := range objects[5:] {
		text := o.(*model.TextObject)
		assert.Equal(t, model.AlignTop, text.VAlign)
		assert.Equal(t, model.AlignLeft, text.HAlign)
		texts = append(texts, text.Text)
	}
	assert.Equal(t, []string{"4", "5", "6", "1", "2", "3"}, texts)
}

func TestImportRectangleGridTextGate(t *testing.T) {
	buf, _, err := Export(rectangleBaseMap(), nil, Options{})
	require.NoError(t, err)

	// Cells taller than twice the rectangle: grid columns remain, cell
	// numbering is dropped.
	buf = appendRectangle(buf, 990, rectFlagGrid, 300, 1500, []model.MapCoord{
		{X: 0, Y: 0},
		{X: 10000, Y: 0},
		{X: 10000, Y: 6000},
		{X: 0, Y: 6000},
	})

	got, _, _, err := Import(buf, Options{})
	require.NoError(t, err)

	objects := got.Layers[0].Objects
	require.Len(t, objects, 4)
	for _, o := range objects {
		_, isText := o.(*model.TextObject)
		assert.False(t, isText)
	}
}

func TestImportRectangleNumberingFlag(t *testing.T) {
	buf, _, err := Export(rectangleBaseMap(), nil, Options{})
	require.NoError(t, err)

	buf = appendRectangle(buf, 990, rectFlagGrid|rectFlagNumberFromBottom, 300, 250, []model.MapCoord{
		{X: 0, Y: 0},
		{X: 10000, Y: 0},
		{X: 10000, Y: 6000},
		{X: 0, Y: 6000},
	})

	got, _, _, err := Import(buf, Options{})
	require.NoError(t, err)

	objects := got.Layers[0].Objects
	require.Len(t, objects, 11)
	var texts []string
	for _, o := range objects[5:] {
		texts = append(texts, o.(*model.TextObject).Text)
	}
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, texts)
}
