package model

// ObjectType discriminates the object variants.
type ObjectType int

const (
	ObjectPoint ObjectType = iota
	ObjectPath
	ObjectText
)

// Object is a placed map element. The concrete type is one of PointObject,
// PathObject or TextObject.
type Object interface {
	Type() ObjectType
	// Symbol returns the symbol the object is drawn with, which may be nil.
	Symbol() Symbol
	// Coords returns the object's coordinate sequence.
	Coords() []MapCoord
}

// PointObject places a point symbol at a single coordinate.
type PointObject struct {
	Sym      Symbol
	Coord    MapCoord
	Rotation float64 // radians counterclockwise
}

func (o *PointObject) Type() ObjectType { return ObjectPoint }
func (o *PointObject) Symbol() Symbol { return o.Sym }
func (o *PointObject) Coords() []MapCoord { return []MapCoord{o.Coord} }

// PathObject places a line, area or combined symbol along a path.
type PathObject struct {
	Sym    Symbol
	Points []MapCoord
}

func (o *PathObject) Type() ObjectType { return ObjectPath }
func (o *PathObject) Symbol() Symbol { return o.Sym }
func (o *PathObject) Coords() []MapCoord { return o.Points }

// HorizontalAlignment enumerates text anchor modes along the X axis.
type HorizontalAlignment int

const (
	AlignLeft HorizontalAlignment = iota
	AlignHCenter
	AlignRight
)

// VerticalAlignment enumerates text anchor modes along the Y axis.
type VerticalAlignment int

const (
	AlignBaseline VerticalAlignment = iota
	AlignTop
	AlignVCenter
	AlignBottom
)

// TextObject places text at an anchor point, or fills a box.
type TextObject struct {
	Sym      Symbol
	Anchor   MapCoord
	Rotation float64
	HAlign   HorizontalAlignment
	VAlign   VerticalAlignment
	Text     string

	// Box text: when HasBox is set, the anchor is the box center and the
	// box extends Width×Height around it.
	HasBox bool
	Width  int64
	Height int64
}

func (o *TextObject) Type() ObjectType { return ObjectText }
func (o *TextObject) Symbol() Symbol { return o.Sym }
func (o *TextObject) Coords() []MapCoord { return []MapCoord{o.Anchor} }

// HasSingleAnchor reports whether the object is anchored at a point rather
// than being laid out in a box.
func (o *TextObject) HasSingleAnchor() bool { return !o.HasBox }

// NumLines returns the number of text lines the object renders.
func (o *TextObject) NumLines() int {
	if o.Text == "" {
		return 0
	}
	n := 1
	for _, r := range o.Text {
		if r == '\n' {
			n++
		}
	}
	return n
}
