package model

// Color is one entry of a map's color table. Colors are CMYK with an
// opacity; the position in the map's color list defines the painting
// priority (lower index paints on top).
type Color struct {
	Priority int
	C        float64
	M        float64
	Y        float64
	K        float64
	Opacity  float64
	Name     string
}
