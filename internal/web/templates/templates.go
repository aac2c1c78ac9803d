// Package templates renders the HTML pages of the map tool as templ components.
//
// The *_templ.go files are generated from the .templ sources with `templ generate`.
package templates

//go:generate templ generate

import (
	"fmt"
	"strconv"

	"github.com/JonMunkholm/geomap/internal/core"
)

// Leaflet assets are served from the CDN pinned here.
const (
	LeafletCSS = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.css"
	LeafletJS  = "https://unpkg.com/leaflet@1.9.4/dist/leaflet.js"
)

// UploadPageParams holds the data for the upload form.
type UploadPageParams struct {
	MaxFileSize int64

	// ResumeURL links back to the caller's current map, if one is live.
	ResumeURL string

	// Error is shown above the form after a failed upload.
	Message string
	Action  string
	Code    string
}

// MapPageParams holds the data for the preview, color pickers and map.
type MapPageParams struct {
	SessionID   string
	Filename    string
	Preview     []core.Coordinate
	TotalRows   int
	Dropped     int
	LabelPrefix string
	Palette     core.Palette
	View        core.MapView
	TileURL     string
}

type mapData struct {
	View    core.MapView `json:"view"`
	TileURL string       `json:"tileUrl"`
}

func previewSummary(p MapPageParams) string {
	s := fmt.Sprintf("%s: %d rows loaded", p.Filename, p.TotalRows)
	if p.Dropped > 0 {
		s += fmt.Sprintf(", %d rows skipped", p.Dropped)
	}
	if len(p.Preview) < p.TotalRows {
		s += fmt.Sprintf(" (showing first %d)", len(p.Preview))
	}
	return s
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
