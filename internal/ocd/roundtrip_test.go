package ocd

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjetilk/mapper/internal/model"
)

// buildTestMap assembles a small map exercising every symbol variant the
// export path handles without loss.
func buildTestMap() *model.Map {
	mp := model.NewMap()
	mp.ScaleDenominator = 15000
	mp.Notes = "Training map\nNorth part"

	black := &model.Color{Priority: 0, K: 1, Opacity: 1, Name: "Black"}
	green := &model.Color{Priority: 1, C: 0.75, Y: 0.9, Opacity: 1, Name: "Green"}
	mp.Colors = []*model.Color{black, green}

	stone := model.NewPointSymbol()
	stone.Name = "Stone"
	stone.Number = [3]int{1, 1, -1}
	stone.Rotatable = true
	stone.InnerRadius = 250
	stone.OuterWidth = 100
	stone.OuterColor = black

	path := model.NewLineSymbol()
	path.Name = "Small path"
	path.Number = [3]int{2, 1, -1}
	path.Color = black
	path.LineWidth = 350
	path.Dashed = true
	path.DashLength = 2000
	path.BreakLength = 500

	marsh := model.NewAreaSymbol()
	marsh.Name = "Marsh"
	marsh.Number = [3]int{3, 1, -1}
	marsh.Color = green
	marsh.Patterns = []model.FillPattern{{
		Type:        model.LinePattern,
		Rotatable:   true,
		Angle:       math.Pi / 4,
		LineColor:   black,
		LineWidth:   200,
		LineSpacing: 1000,
	}}

	label := model.NewTextSymbol()
	label.Name = "Control number"
	label.Number = [3]int{4, 1, -1}
	label.FontFamily = "Arial"
	label.Color = black
	label.FontSize = 4233 // 12 pt
	label.ParagraphSpacing = 500

	mp.Symbols = []model.Symbol{stone, path, marsh, label}

	layer := mp.Layers[0]
	layer.Objects = append(layer.Objects,
		&model.PointObject{Sym: stone, Coord: model.MapCoord{X: 10000, Y: -20000}, Rotation: math.Pi / 2},
		&model.PathObject{Sym: path, Points: []model.MapCoord{
			{X: 0, Y: 0, Flags: model.CurveStart},
			{X: 2000, Y: -1000},
			{X: 4000, Y: -1000},
			{X: 6000, Y: 0},
			{X: 8000, Y: 500, Flags: model.DashPoint},
			{X: 10000, Y: 0},
		}},
		&model.PathObject{Sym: marsh, Points: []model.MapCoord{
			{X: 0, Y: 0},
			{X: 10000, Y: 0},
			{X: 10000, Y: 10000},
			{X: 0, Y: 10000},
			{X: 0, Y: 0},
		}},
		&model.TextObject{
			Sym:    label,
			Anchor: model.MapCoord{X: 3000, Y: 4000},
			HAlign: model.AlignHCenter,
			Text:   "Hello\nWorld",
		},
	)
	return mp
}

// exportImport runs a map through a full export and import cycle, failing
// the test on any fatal error or unexpected warning.
func exportImport(t *testing.T, mp *model.Map, view *model.View) (*model.Map, *model.View) {
	t.Helper()
	buf, warnings, err := Export(mp, view, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings, "export warnings")

	got, gotView, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings, "import warnings")
	return got, gotView
}

func TestRoundTrip(t *testing.T) {
	view := model.NewView()
	view.PositionX = 123450
	view.PositionY = -6780
	view.Zoom = 4

	got, gotView := exportImport(t, buildTestMap(), view)

	assert.Equal(t, 15000, got.ScaleDenominator)
	assert.Equal(t, "Training map\nNorth part", got.Notes)

	require.Len(t, got.Colors, 2)
	assert.Equal(t, "Black", got.Colors[0].Name)
	assert.InDelta(t, 1.0, got.Colors[0].K, 1e-9)
	assert.Equal(t, "Green", got.Colors[1].Name)
	assert.InDelta(t, 0.75, got.Colors[1].C, 1e-9)
	assert.InDelta(t, 0.9, got.Colors[1].Y, 1e-9)
	assert.Equal(t, 1.0, got.Colors[0].Opacity)

	require.Len(t, got.Symbols, 4)

	stone, ok := got.Symbols[0].(*model.PointSymbol)
	require.True(t, ok)
	assert.Equal(t, "Stone", stone.Name)
	assert.Equal(t, [3]int{1, 1, -1}, stone.Number)
	assert.True(t, stone.Rotatable)
	assert.Equal(t, int64(250), stone.InnerRadius)
	assert.Equal(t, int64(100), stone.OuterWidth)
	assert.Same(t, got.Colors[0], stone.OuterColor)

	path, ok := got.Symbols[1].(*model.LineSymbol)
	require.True(t, ok)
	assert.Equal(t, [3]int{2, 1, -1}, path.Number)
	assert.Same(t, got.Colors[0], path.Color)
	assert.Equal(t, int64(350), path.LineWidth)
	assert.True(t, path.Dashed)
	assert.Equal(t, int64(2000), path.DashLength)
	assert.Equal(t, int64(500), path.BreakLength)
	assert.Equal(t, 1, path.DashesInGroup)
	assert.False(t, path.HalfOuterDashes)
	assert.Equal(t, model.FlatCap, path.CapStyle)
	assert.Equal(t, model.BevelJoin, path.JoinStyle)

	marsh, ok := got.Symbols[2].(*model.AreaSymbol)
	require.True(t, ok)
	assert.Same(t, got.Colors[1], marsh.Color)
	require.Len(t, marsh.Patterns, 1)
	hatch := marsh.Patterns[0]
	assert.Equal(t, model.LinePattern, hatch.Type)
	assert.Same(t, got.Colors[0], hatch.LineColor)
	assert.Equal(t, int64(200), hatch.LineWidth)
	assert.Equal(t, int64(1000), hatch.LineSpacing)
	assert.InDelta(t, math.Pi/4, hatch.Angle, 1e-9)

	label, ok := got.Symbols[3].(*model.TextSymbol)
	require.True(t, ok)
	assert.Equal(t, "Arial", label.FontFamily)
	assert.Equal(t, int64(4233), label.FontSize)
	assert.False(t, label.Bold)
	assert.InDelta(t, 1.0, label.LineSpacing, 1e-9)
	assert.Equal(t, int64(500), label.ParagraphSpacing)

	require.Equal(t, 4, got.NumObjects())
	objects := got.Layers[0].Objects

	point, ok := objects[0].(*model.PointObject)
	require.True(t, ok)
	assert.Same(t, stone, point.Sym)
	assert.Equal(t, model.MapCoord{X: 10000, Y: -20000}, point.Coord)
	assert.InDelta(t, math.Pi/2, point.Rotation, 1e-9)

	line, ok := objects[1].(*model.PathObject)
	require.True(t, ok)
	assert.Same(t, path, line.Sym)
	want := []model.MapCoord{
		{X: 0, Y: 0, Flags: model.CurveStart},
		{X: 2000, Y: -1000},
		{X: 4000, Y: -1000},
		{X: 6000, Y: 0},
		{X: 8000, Y: 500, Flags: model.DashPoint},
		{X: 10000, Y: 0},
	}
	if diff := cmp.Diff(want, line.Points); diff != "" {
		t.Errorf("line points mismatch (-want +got):\n%s", diff)
	}

	area, ok := objects[2].(*model.PathObject)
	require.True(t, ok)
	assert.Same(t, marsh, area.Sym)
	require.Len(t, area.Points, 5)
	assert.True(t, area.Points[4].IsClosePoint())

	text, ok := objects[3].(*model.TextObject)
	require.True(t, ok)
	assert.Same(t, label, text.Sym)
	assert.Equal(t, "Hello\nWorld", text.Text)
	assert.Equal(t, model.MapCoord{X: 3000, Y: 4000}, text.Anchor)
	assert.Equal(t, model.AlignHCenter, text.HAlign)
	assert.Equal(t, model.AlignBaseline, text.VAlign)
	assert.False(t, text.HasBox)

	assert.Equal(t, int64(123450), gotView.PositionX)
	assert.Equal(t, int64(-6780), gotView.PositionY)
	assert.Equal(t, 4.0, gotView.Zoom)
}

func TestBorderedLineRoundTrip(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	road := model.NewLineSymbol()
	road.Name = "Road"
	road.Number = [3]int{5, 0, -1}
	road.Color = black
	road.LineWidth = 250
	road.HaveBorderLines = true
	road.BorderColor = black
	road.BorderWidth = 140
	road.BorderShift = 70
	mp.Symbols = []model.Symbol{road}

	// The border fields share the record with a double line, so the
	// reimport splits the symbol into a two-part combination.
	got, _ := exportImport(t, mp, nil)
	require.Len(t, got.Symbols, 3)

	comb, ok := got.Symbols[2].(*model.CombinedSymbol)
	require.True(t, ok)
	require.Len(t, comb.Parts, 2)

	main, ok := got.Symbols[comb.Parts[0]].(*model.LineSymbol)
	require.True(t, ok)
	assert.Equal(t, int64(250), main.LineWidth)

	border, ok := got.Symbols[comb.Parts[1]].(*model.LineSymbol)
	require.True(t, ok)
	assert.True(t, border.HaveBorderLines)
	assert.Equal(t, int64(140), border.BorderWidth)
	assert.Equal(t, int64(70), border.BorderShift)
	assert.Same(t, got.Colors[0], border.BorderColor)

	// A second cycle must be stable: the combination exports as a single
	// record again.
	again, _ := exportImport(t, got, nil)
	assert.Len(t, again.Symbols, 3)
}

func TestGroupedDashRoundTrip(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	wall := model.NewLineSymbol()
	wall.Name = "Ruined wall"
	wall.Number = [3]int{7, 0, -1}
	wall.Color = black
	wall.LineWidth = 180
	wall.Dashed = true
	wall.DashLength = 1500
	wall.BreakLength = 600
	wall.DashesInGroup = 2
	wall.InGroupBreakLength = 400
	mp.Symbols = []model.Symbol{wall}

	got, _ := exportImport(t, mp, nil)
	require.Len(t, got.Symbols, 1)
	sym := got.Symbols[0].(*model.LineSymbol)
	assert.True(t, sym.Dashed)
	assert.Equal(t, 2, sym.DashesInGroup)
	assert.Equal(t, int64(1500), sym.DashLength)
	assert.Equal(t, int64(600), sym.BreakLength)
	assert.Equal(t, int64(400), sym.InGroupBreakLength)
}

func TestTextAlignmentVariants(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	label := model.NewTextSymbol()
	label.Name = "Label"
	label.Number = [3]int{6, 0, -1}
	label.FontFamily = "Arial"
	label.Color = black
	label.FontSize = 4233
	mp.Symbols = []model.Symbol{label}

	mp.Layers[0].Objects = append(mp.Layers[0].Objects,
		&model.TextObject{Sym: label, Anchor: model.MapCoord{X: 0, Y: 0},
			HAlign: model.AlignLeft, Text: "Left"},
		&model.TextObject{Sym: label, Anchor: model.MapCoord{X: 5000, Y: 0},
			HAlign: model.AlignRight, Text: "Right"},
	)

	// One alignment is patched into the symbol record, the other needs a
	// cloned record under its own number.
	got, _ := exportImport(t, mp, nil)
	require.Len(t, got.Symbols, 2)
	require.Equal(t, 2, got.NumObjects())

	first := got.Layers[0].Objects[0].(*model.TextObject)
	second := got.Layers[0].Objects[1].(*model.TextObject)
	assert.Equal(t, model.AlignLeft, first.HAlign)
	assert.Equal(t, model.AlignRight, second.HAlign)
	assert.Equal(t, "Left", first.Text)
	assert.Equal(t, "Right", second.Text)
	assert.NotSame(t, first.Sym, second.Sym)
}

func TestSymbolsOnly(t *testing.T) {
	buf, warnings, err := Export(buildTestMap(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	got, view, warnings, err := Import(buf, Options{SymbolsOnly: true})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Len(t, got.Symbols, 4)
	assert.Equal(t, 0, got.NumObjects())
	assert.Equal(t, 15000, got.ScaleDenominator)
	assert.Equal(t, 1.0, view.Zoom)
	assert.Equal(t, int64(0), view.PositionX)
}

func TestTemplateRoundTrip(t *testing.T) {
	mp := model.NewMap()
	mp.Templates = append(mp.Templates, &model.Template{
		Path:        "fields.jpg",
		X:           25000,
		Y:           -3000,
		Rotation:    0.25,
		ScaleX:      1.5,
		ScaleY:      1.5,
		Dimming:     0.25,
		Transparent: true,
	})
	mp.FirstFrontTemplate = 1

	got, gotView := exportImport(t, mp, nil)
	require.Len(t, got.Templates, 1)
	tmpl := got.Templates[0]
	assert.Equal(t, "fields.jpg", tmpl.Path)
	assert.Equal(t, int64(25000), tmpl.X)
	assert.Equal(t, int64(-3000), tmpl.Y)
	assert.InDelta(t, 0.25, tmpl.Rotation, 1e-9)
	assert.Equal(t, 1.5, tmpl.ScaleX)
	assert.Equal(t, 0.25, tmpl.Dimming)
	assert.True(t, tmpl.Transparent)
	assert.Equal(t, 1, got.FirstFrontTemplate)

	visibility := gotView.TemplateVisibility(tmpl)
	assert.True(t, visibility.Visible)
	assert.InDelta(t, 0.75, visibility.Opacity, 1e-9)
}

func TestBoxTextRoundTrip(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	label := model.NewTextSymbol()
	label.Name = "Description"
	label.Number = [3]int{8, 0, -1}
	label.FontFamily = "Arial"
	label.Color = black
	label.FontSize = 4233
	mp.Symbols = []model.Symbol{label}

	mp.Layers[0].Objects = append(mp.Layers[0].Objects, &model.TextObject{
		Sym:    label,
		Anchor: model.MapCoord{X: 20000, Y: 30000},
		VAlign: model.AlignTop,
		Text:   "Boxed",
		HasBox: true,
		Width:  40000,
		Height: 12000,
	})

	got, _ := exportImport(t, mp, nil)
	require.Equal(t, 1, got.NumObjects())
	text := got.Layers[0].Objects[0].(*model.TextObject)
	assert.True(t, text.HasBox)
	assert.Equal(t, model.AlignTop, text.VAlign)
	assert.InDelta(t, float64(20000), float64(text.Anchor.X), 11)
	assert.InDelta(t, float64(30000), float64(text.Anchor.Y), 11)
	assert.InDelta(t, float64(40000), float64(text.Width), 21)
	assert.InDelta(t, float64(12000), float64(text.Height), 21)
}

func TestTwoHatchRoundTrip(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	rocky := model.NewAreaSymbol()
	rocky.Name = "Rocky ground"
	rocky.Number = [3]int{5, 1, -1}
	rocky.Patterns = []model.FillPattern{
		{
			Type:        model.LinePattern,
			Rotatable:   true,
			Angle:       math.Pi / 4,
			LineColor:   black,
			LineWidth:   200,
			LineSpacing: 1000,
		},
		{
			Type:        model.LinePattern,
			Rotatable:   true,
			Angle:       3 * math.Pi / 4,
			LineColor:   black,
			LineWidth:   400,
			LineSpacing: 1200,
		},
	}
	mp.Symbols = []model.Symbol{rocky}

	got, _ := exportImport(t, mp, nil)

	sym := got.Symbols[0].(*model.AreaSymbol)
	require.Len(t, sym.Patterns, 2)
	// The record holds a single width for both hatchings, the average of
	// the two.
	assert.Equal(t, int64(300), sym.Patterns[0].LineWidth)
	assert.Equal(t, int64(300), sym.Patterns[1].LineWidth)
	assert.InDelta(t, math.Pi/4, sym.Patterns[0].Angle, 1e-3)
	assert.InDelta(t, 3*math.Pi/4, sym.Patterns[1].Angle, 1e-3)
}

func TestHatchColorMismatch(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	blue := &model.Color{Priority: 1, C: 1, Opacity: 1, Name: "Blue"}
	mp.Colors = []*model.Color{black, blue}

	mixed := model.NewAreaSymbol()
	mixed.Name = "Mixed hatching"
	mixed.Number = [3]int{6, 1, -1}
	mixed.Patterns = []model.FillPattern{
		{
			Type:        model.LinePattern,
			Rotatable:   true,
			LineColor:   black,
			LineWidth:   200,
			LineSpacing: 1000,
		},
		{
			Type:        model.LinePattern,
			Rotatable:   true,
			Angle:       math.Pi / 2,
			LineColor:   blue,
			LineWidth:   200,
			LineSpacing: 1000,
		},
	}
	mp.Symbols = []model.Symbol{mixed}

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "different color")

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	sym := got.Symbols[0].(*model.AreaSymbol)
	require.Len(t, sym.Patterns, 1)
	assert.Equal(t, int64(200), sym.Patterns[0].LineWidth)
}

func TestMidSymbolDashRoundTrip(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	powerLine := model.NewLineSymbol()
	powerLine.Name = "Power line"
	powerLine.Number = [3]int{7, 1, -1}
	powerLine.Color = black
	powerLine.LineWidth = 180
	powerLine.Dashed = true
	powerLine.DashLength = 2000
	powerLine.BreakLength = 500
	powerLine.MidSymbolsPerSpot = 2
	tick := model.NewPointSymbol()
	tick.InnerRadius = 150
	tick.InnerColor = black
	powerLine.MidSymbol = tick
	mp.Symbols = []model.Symbol{powerLine}

	got, _ := exportImport(t, mp, nil)

	sym := got.Symbols[0].(*model.LineSymbol)
	assert.True(t, sym.Dashed)
	assert.Equal(t, int64(2000), sym.DashLength)
	assert.Equal(t, int64(500), sym.BreakLength)
	assert.Equal(t, 2, sym.MidSymbolsPerSpot)
	require.NotNil(t, sym.MidSymbol)
	assert.Equal(t, int64(150), sym.MidSymbol.InnerRadius)
}

func TestMidSymbolDashGroupingWarning(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	mp.Colors = []*model.Color{black}

	line := model.NewLineSymbol()
	line.Number = [3]int{8, 1, -1}
	line.Color = black
	line.LineWidth = 180
	line.Dashed = true
	line.DashLength = 2000
	line.BreakLength = 500
	line.DashesInGroup = 2
	line.InGroupBreakLength = 300
	tick := model.NewPointSymbol()
	tick.InnerRadius = 150
	tick.InnerColor = black
	line.MidSymbol = tick
	mp.Symbols = []model.Symbol{line}

	_, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "dash grouping")
}

func TestCombinedLineAreaExport(t *testing.T) {
	mp := model.NewMap()
	black := &model.Color{K: 1, Opacity: 1, Name: "Black"}
	green := &model.Color{Priority: 1, C: 0.75, Y: 0.9, Opacity: 1, Name: "Green"}
	mp.Colors = []*model.Color{black, green}

	outline := model.NewLineSymbol()
	outline.Name = "Outline"
	outline.Number = [3]int{9, 1, -1}
	outline.Color = black
	outline.LineWidth = 250

	fill := model.NewAreaSymbol()
	fill.Name = "Fill"
	fill.Number = [3]int{9, 2, -1}
	fill.Color = green

	thicket := model.NewCombinedSymbol()
	thicket.Name = "Thicket"
	thicket.Number = [3]int{9, 3, -1}
	thicket.Parts = []int{0, 1}

	mp.Symbols = []model.Symbol{outline, fill, thicket}
	ring := []model.MapCoord{
		{X: 0, Y: 0},
		{X: 8000, Y: 0},
		{X: 8000, Y: 8000},
		{X: 0, Y: 8000},
		{X: 0, Y: 0, Flags: model.ClosePoint},
	}
	mp.Layers[0].Objects = append(mp.Layers[0].Objects,
		&model.PathObject{Sym: thicket, Points: ring})

	buf, warnings, err := Export(mp, nil, Options{})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "exporting each part separately")

	got, _, warnings, err := Import(buf, Options{})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	// Both parts come back as records of their own, and the object is
	// duplicated so neither rendition is lost.
	require.Len(t, got.Symbols, 2)
	require.Equal(t, 2, got.NumObjects())

	lineObj := got.Layers[0].Objects[0].(*model.PathObject)
	areaObj := got.Layers[0].Objects[1].(*model.PathObject)
	assert.Equal(t, model.SymbolLine, lineObj.Sym.Type())
	assert.Equal(t, model.SymbolArea, areaObj.Sym.Type())
	assert.Len(t, areaObj.Points, 5)
}
