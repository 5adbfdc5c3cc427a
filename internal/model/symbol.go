package model

// SymbolType discriminates the symbol variants.
type SymbolType int

const (
	SymbolPoint SymbolType = iota
	SymbolLine
	SymbolArea
	SymbolText
	SymbolCombined
)

// NumberComponents is the number of components of a dotted symbol number.
// Unused components hold -1.
const NumberComponents = 3

// Symbol is a map symbol definition. The concrete type is one of
// PointSymbol, LineSymbol, AreaSymbol, TextSymbol or CombinedSymbol.
type Symbol interface {
	Type() SymbolType
	Base() *SymbolBase
	// ContainsColor reports whether the symbol draws with the given color.
	ContainsColor(c *Color) bool
}

// SymbolBase holds the fields shared by all symbol variants.
type SymbolBase struct {
	Name        string
	Number      [NumberComponents]int
	Description string
	Helper      bool
	Hidden      bool
	Protected   bool
}

func (b *SymbolBase) Base() *SymbolBase { return b }

// NewSymbolBase returns a base with all number components unset.
func NewSymbolBase() SymbolBase {
	return SymbolBase{Number: [NumberComponents]int{-1, -1, -1}}
}

// PatternElement is one drawable primitive of a point symbol: a nested
// symbol together with the object that places it.
type PatternElement struct {
	Symbol Symbol
	Object Object
}

// PointSymbol draws a centered dot and/or ring plus a list of pattern
// elements at a single coordinate.
type PointSymbol struct {
	SymbolBase
	Rotatable   bool
	InnerRadius int64 // 1/1000 mm
	InnerColor  *Color
	OuterWidth  int64
	OuterColor  *Color
	Elements    []PatternElement
}

func NewPointSymbol() *PointSymbol {
	return &PointSymbol{SymbolBase: NewSymbolBase()}
}

func (s *PointSymbol) Type() SymbolType { return SymbolPoint }

// IsEmpty reports whether the symbol draws nothing at all.
func (s *PointSymbol) IsEmpty() bool {
	return s == nil || (len(s.Elements) == 0 &&
		(s.InnerRadius <= 0 || s.InnerColor == nil) &&
		(s.OuterWidth <= 0 || s.OuterColor == nil))
}

// IsSymmetrical reports whether rotating the symbol has no visible effect.
func (s *PointSymbol) IsSymmetrical() bool { return len(s.Elements) == 0 }

func (s *PointSymbol) ContainsColor(c *Color) bool {
	if c == nil {
		return false
	}
	if s.InnerColor == c || s.OuterColor == c {
		return true
	}
	for _, e := range s.Elements {
		if e.Symbol != nil && e.Symbol.ContainsColor(c) {
			return true
		}
	}
	return false
}

// CapStyle enumerates line cap shapes.
type CapStyle int

const (
	FlatCap CapStyle = iota
	RoundCap
	SquareCap
	PointedCap
)

// JoinStyle enumerates line join shapes.
type JoinStyle int

const (
	BevelJoin JoinStyle = iota
	MiterJoin
	RoundJoin
)

// LineSymbol draws paths with width, dash pattern, borders and attached
// point sub-symbols.
type LineSymbol struct {
	SymbolBase

	Color         *Color
	LineWidth     int64 // 1/1000 mm
	MinimumLength int64
	CapStyle      CapStyle
	JoinStyle     JoinStyle
	// Length of the taper when the cap style is pointed.
	PointedCapLength int64

	Dashed             bool
	SegmentLength      int64
	EndLength          int64
	DashLength         int64
	BreakLength        int64
	DashesInGroup      int
	InGroupBreakLength int64
	HalfOuterDashes    bool

	MidSymbol          *PointSymbol
	DashSymbol         *PointSymbol
	StartSymbol        *PointSymbol
	EndSymbol          *PointSymbol
	MidSymbolsPerSpot  int
	MidSymbolDistance  int64
	ShowAtLeastOneSymbol            bool
	MinimumMidSymbolCount           int
	MinimumMidSymbolCountWhenClosed int

	HaveBorderLines   bool
	BorderColor       *Color
	BorderWidth       int64
	BorderShift       int64
	DashedBorder      bool
	BorderDashLength  int64
	BorderBreakLength int64
}

func NewLineSymbol() *LineSymbol {
	return &LineSymbol{SymbolBase: NewSymbolBase(), DashesInGroup: 1}
}

func (s *LineSymbol) Type() SymbolType { return SymbolLine }

// HasBorder reports whether border lines are drawn along the main line.
func (s *LineSymbol) HasBorder() bool { return s.HaveBorderLines }

func (s *LineSymbol) ContainsColor(c *Color) bool {
	if c == nil {
		return false
	}
	if s.Color == c || (s.HaveBorderLines && s.BorderColor == c) {
		return true
	}
	for _, sub := range []*PointSymbol{s.MidSymbol, s.DashSymbol, s.StartSymbol, s.EndSymbol} {
		if sub != nil && sub.ContainsColor(c) {
			return true
		}
	}
	return false
}

// FillPatternType discriminates area fill pattern variants.
type FillPatternType int

const (
	LinePattern FillPatternType = iota
	PointPattern
)

// FillPattern is one hatching or point-grid fill of an area symbol.
type FillPattern struct {
	Type      FillPatternType
	Angle     float64 // radians
	Rotatable bool
	// Distance between pattern lines (line patterns) or rows (point
	// patterns), 1/1000 mm.
	LineSpacing int64
	LineOffset  int64

	// Line pattern fields.
	LineColor *Color
	LineWidth int64

	// Point pattern fields.
	OffsetAlongLine int64
	PointDistance   int64
	Point           *PointSymbol
}

// AreaSymbol fills closed paths with a solid color and/or fill patterns.
type AreaSymbol struct {
	SymbolBase
	Color       *Color
	MinimumArea int64
	Patterns    []FillPattern
}

func NewAreaSymbol() *AreaSymbol {
	return &AreaSymbol{SymbolBase: NewSymbolBase()}
}

func (s *AreaSymbol) Type() SymbolType { return SymbolArea }

func (s *AreaSymbol) ContainsColor(c *Color) bool {
	if c == nil {
		return false
	}
	if s.Color == c {
		return true
	}
	for i := range s.Patterns {
		p := &s.Patterns[i]
		if p.LineColor == c {
			return true
		}
		if p.Point != nil && p.Point.ContainsColor(c) {
			return true
		}
	}
	return false
}

// FramingMode enumerates text framing variants.
type FramingMode int

const (
	NoFraming FramingMode = iota
	LineFraming
	ShadowFraming
)

// InternalPointSize is the nominal size, in internal font units, at which
// text metrics are expressed.
const InternalPointSize = 256.0

// FontMetrics describes the rendered metrics of a text symbol's font, in
// internal units (see InternalPointSize). A zero value means "unknown";
// TextSymbol.MetricsOrDefault substitutes deterministic nominal values so
// that conversions relying on metrics stay invertible without a rendering
// backend.
type FontMetrics struct {
	Ascent      float64
	Descent     float64
	LineSpacing float64
}

// TextSymbol styles text objects.
type TextSymbol struct {
	SymbolBase

	FontFamily string
	Color      *Color
	FontSize   int64 // 1/1000 mm
	Bold       bool
	Italic     bool
	Underline  bool
	Kerning    bool

	LineSpacing      float64 // factor relative to the font's line height
	ParagraphSpacing int64   // 1/1000 mm
	CharacterSpacing float64 // factor relative to a space's width
	CustomTabs       []int64

	LineBelow         bool
	LineBelowColor    *Color
	LineBelowWidth    int64
	LineBelowDistance int64

	Framing              bool
	FramingMode          FramingMode
	FramingColor         *Color
	FramingLineHalfWidth int64
	FramingShadowXOffset int64
	FramingShadowYOffset int64

	// Metrics overrides MetricsOrDefault when non-zero. The rendering
	// layer fills this in when a real font is available.
	Metrics FontMetrics
}

func NewTextSymbol() *TextSymbol {
	return &TextSymbol{SymbolBase: NewSymbolBase(), LineSpacing: 1}
}

func (s *TextSymbol) Type() SymbolType { return SymbolText }

func (s *TextSymbol) ContainsColor(c *Color) bool {
	if c == nil {
		return false
	}
	return s.Color == c ||
		(s.Framing && s.FramingColor == c) ||
		(s.LineBelow && s.LineBelowColor == c)
}

// InternalScaling returns the factor between internal font units and map
// units for this symbol's font size.
func (s *TextSymbol) InternalScaling() float64 {
	size := 0.001 * float64(s.FontSize)
	if size <= 0 {
		return 1
	}
	return InternalPointSize / size
}

// MetricsOrDefault returns the symbol's font metrics, substituting nominal
// values derived from the em size when none have been supplied.
func (s *TextSymbol) MetricsOrDefault() FontMetrics {
	if s.Metrics != (FontMetrics{}) {
		return s.Metrics
	}
	return FontMetrics{
		Ascent:      0.80 * InternalPointSize,
		Descent:     0.20 * InternalPointSize,
		LineSpacing: 1.15 * InternalPointSize,
	}
}

// CombinedSymbol renders an ordered list of other symbols as their union.
// Parts are indices into the owning map's symbol list; -1 is an empty slot.
// Holding indices instead of references keeps the combination valid while
// the symbol list grows during export.
type CombinedSymbol struct {
	SymbolBase
	Parts []int
}

func NewCombinedSymbol() *CombinedSymbol {
	return &CombinedSymbol{SymbolBase: NewSymbolBase()}
}

func (s *CombinedSymbol) Type() SymbolType { return SymbolCombined }

// ContainsColor always reports false: the part symbols are list residents
// and account for their own colors.
func (s *CombinedSymbol) ContainsColor(*Color) bool { return false }
