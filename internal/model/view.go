package model

// Zoom limits of the map view. Imported zoom values outside this range are
// ignored rather than clamped.
const (
	ZoomOutLimit = 1.0 / 16
	ZoomInLimit  = 512.0
)

// View holds the visible-region state of a map window: center position in
// map units and zoom factor.
type View struct {
	Zoom      float64
	PositionX int64
	PositionY int64

	templateVisibility map[*Template]*TemplateVisibility
}

// NewView returns a view at the origin with zoom 1.
func NewView() *View { return &View{Zoom: 1} }

// TemplateVisibility is the per-view display state of a template.
type TemplateVisibility struct {
	Visible bool
	Opacity float64
}

// TemplateVisibility returns the visibility record for t, creating a
// hidden, fully opaque one on first use.
func (v *View) TemplateVisibility(t *Template) *TemplateVisibility {
	if v.templateVisibility == nil {
		v.templateVisibility = make(map[*Template]*TemplateVisibility)
	}
	tv, ok := v.templateVisibility[t]
	if !ok {
		tv = &TemplateVisibility{Opacity: 1}
		v.templateVisibility[t] = tv
	}
	return tv
}

// Template is a background image positioned under (or over) the map.
type Template struct {
	Path        string
	X, Y        int64 // 1/1000 mm
	Rotation    float64
	ScaleX      float64 // meters per pixel at map scale
	ScaleY      float64
	Dimming     float64
	Transparent bool
}
