package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Map defaults.
const (
	DefaultColor       = "#3388ff"
	DefaultZoom        = 6
	DefaultLabelPrefix = "Warehouse"
	DefaultRadius      = 8
	DefaultPreviewRows = 50
)

// ErrInvalidColor is returned for colors that are not #rrggbb.
var ErrInvalidColor = errors.New("invalid color")

var hexColorRegex = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// NormalizeColor validates a #rrggbb color and returns it in lower case.
func NormalizeColor(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !hexColorRegex.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return strings.ToLower(s), nil
}

// Palette maps row indexes to marker colors. Rows without an entry use Default.
// A Palette belongs to the caller's session and is passed into BuildMapView.
type Palette struct {
	Default string         `json:"default"`
	ByRow   map[int]string `json:"byRow,omitempty"`
}

// NewPalette returns a palette with no per-row overrides.
func NewPalette(defaultColor string) Palette {
	return Palette{Default: defaultColor, ByRow: map[int]string{}}
}

// ColorFor returns the color for row i.
func (p Palette) ColorFor(i int) string {
	if c, ok := p.ByRow[i]; ok {
		return c
	}
	if p.Default == "" {
		return DefaultColor
	}
	return p.Default
}

// Clone returns a deep copy.
func (p Palette) Clone() Palette {
	out := Palette{Default: p.Default, ByRow: make(map[int]string, len(p.ByRow))}
	for k, v := range p.ByRow {
		out.ByRow[k] = v
	}
	return out
}

// MapOptions controls marker labels and the initial view.
type MapOptions struct {
	Zoom        int
	LabelPrefix string
	Radius      int
}

// DefaultMapOptions returns the stock zoom, label prefix and marker radius.
func DefaultMapOptions() MapOptions {
	return MapOptions{
		Zoom:        DefaultZoom,
		LabelPrefix: DefaultLabelPrefix,
		Radius:      DefaultRadius,
	}
}

// MarkerRequest is one filled circle marker for the map renderer.
type MarkerRequest struct {
	Index     int     `json:"index"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Color     string  `json:"color"`
	Label     string  `json:"label"`
	Radius    int     `json:"radius"`
}

// MapView is everything the renderer needs: initial view plus markers.
type MapView struct {
	Center  Coordinate      `json:"center"`
	Zoom    int             `json:"zoom"`
	Markers []MarkerRequest `json:"markers"`
}

// MarkerLabel formats the popup text for row i, e.g.
// "Warehouse 3: (37.774900, -122.419400)".
func MarkerLabel(prefix string, i int, c Coordinate) string {
	return fmt.Sprintf("%s %d: (%.6f, %.6f)", prefix, i+1, c.Latitude, c.Longitude)
}

// BuildMapView creates one marker per row, in table order.
func BuildMapView(t *Table, p Palette, opts MapOptions) MapView {
	if opts.LabelPrefix == "" {
		opts.LabelPrefix = DefaultLabelPrefix
	}
	if opts.Radius <= 0 {
		opts.Radius = DefaultRadius
	}
	if opts.Zoom <= 0 {
		opts.Zoom = DefaultZoom
	}

	markers := make([]MarkerRequest, t.Len())
	for i, c := range t.rows {
		markers[i] = MarkerRequest{
			Index:     i,
			Latitude:  c.Latitude,
			Longitude: c.Longitude,
			Color:     p.ColorFor(i),
			Label:     MarkerLabel(opts.LabelPrefix, i, c),
			Radius:    opts.Radius,
		}
	}

	return MapView{
		Center:  t.Center(),
		Zoom:    opts.Zoom,
		Markers: markers,
	}
}

// GeoJSONFeatureCollection is a standard GeoJSON collection of point features.
type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// GeoJSONFeature is a single point with marker properties.
type GeoJSONFeature struct {
	Type       string         `json:"type"`
	Geometry   GeoJSONPoint   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// GeoJSONPoint holds coordinates in [longitude, latitude] order.
type GeoJSONPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// GeoJSON exports the markers as a FeatureCollection.
func (v MapView) GeoJSON() GeoJSONFeatureCollection {
	fc := GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]GeoJSONFeature, len(v.Markers)),
	}
	for i, m := range v.Markers {
		fc.Features[i] = GeoJSONFeature{
			Type: "Feature",
			Geometry: GeoJSONPoint{
				Type:        "Point",
				Coordinates: [2]float64{m.Longitude, m.Latitude},
			},
			Properties: map[string]any{
				"index":  m.Index,
				"label":  m.Label,
				"color":  m.Color,
				"radius": m.Radius,
			},
		}
	}
	return fc
}
