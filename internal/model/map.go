package model

// Layer groups objects; objects belong to exactly one layer.
type Layer struct {
	Name    string
	Objects []Object
}

// Map is the in-memory map document: colors, symbols, layered objects and
// templates. The color and symbol lists are ordered; list positions serve
// as stable identifiers during format conversion.
type Map struct {
	ScaleDenominator int
	Notes            string

	Colors  []*Color
	Symbols []Symbol

	Layers       []*Layer
	CurrentLayer int

	Templates          []*Template
	FirstFrontTemplate int

	undefinedPoint *PointSymbol
	undefinedLine  *LineSymbol
}

// NewMap returns an empty map with one unnamed layer.
func NewMap() *Map {
	return &Map{Layers: []*Layer{{}}, ScaleDenominator: 10000}
}

// UndefinedPoint returns the sentinel symbol used for point objects whose
// symbol cannot be resolved. It is not part of the symbol list.
func (m *Map) UndefinedPoint() *PointSymbol {
	if m.undefinedPoint == nil {
		m.undefinedPoint = NewPointSymbol()
		m.undefinedPoint.Name = "Undefined point"
	}
	return m.undefinedPoint
}

// UndefinedLine returns the sentinel symbol used for path objects whose
// symbol cannot be resolved. It is not part of the symbol list.
func (m *Map) UndefinedLine() *LineSymbol {
	if m.undefinedLine == nil {
		m.undefinedLine = NewLineSymbol()
		m.undefinedLine.Name = "Undefined line"
	}
	return m.undefinedLine
}

// FindColorIndex returns the position of c in the color list, or -1.
func (m *Map) FindColorIndex(c *Color) int {
	for i, mc := range m.Colors {
		if mc == c {
			return i
		}
	}
	return -1
}

// FindSymbolIndex returns the position of s in the symbol list, or -1.
func (m *Map) FindSymbolIndex(s Symbol) int {
	for i, ms := range m.Symbols {
		if ms == s {
			return i
		}
	}
	return -1
}

// SymbolUseClosure expands marked to the transitive set of symbols used by
// the marked ones. Combined symbols use their part symbols.
func (m *Map) SymbolUseClosure(marked []bool) {
	for changed := true; changed; {
		changed = false
		for i, s := range m.Symbols {
			if !marked[i] {
				continue
			}
			cs, ok := s.(*CombinedSymbol)
			if !ok {
				continue
			}
			for _, part := range cs.Parts {
				if part >= 0 && part < len(marked) && !marked[part] {
					marked[part] = true
					changed = true
				}
			}
		}
	}
}

// NumObjects returns the object count across all layers.
func (m *Map) NumObjects() int {
	n := 0
	for _, l := range m.Layers {
		n += len(l.Objects)
	}
	return n
}
