package templates

import (
	"context"
	"strings"
	"testing"

	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, c.Render(context.Background(), &b))
	return b.String()
}

func TestUploadPage(t *testing.T) {
	html := render(t, UploadPage(UploadPageParams{
		MaxFileSize: 10 << 20,
		Message:     "Couldn't parse the CSV.",
		Action:      "Ensure column A is latitude and column B is longitude.",
		Code:        "FILE002",
	}))

	assert.Contains(t, html, `enctype="multipart/form-data"`)
	assert.Contains(t, html, "Maximum size: 10.0 MB")
	assert.Contains(t, html, "Couldn&#39;t parse the CSV.")
	assert.Contains(t, html, "<code>FILE002</code>")
	assert.Contains(t, html, "<!doctype html>")
	assert.Contains(t, html, "<title>Warehouse Location Mapper</title>")
	assert.Contains(t, html, "Upload a CSV to get started.")
	assert.NotContains(t, html, LeafletJS)
}

func TestUploadPage_ResumeLink(t *testing.T) {
	html := render(t, UploadPage(UploadPageParams{MaxFileSize: 512, ResumeURL: "/map/abc"}))

	assert.Contains(t, html, `<a href="/map/abc">Back to your current map</a>`)
	assert.NotContains(t, html, "Upload a CSV to get started.")
	assert.NotContains(t, html, `class="alert`)
	assert.Contains(t, html, "Maximum size: 512 B")
}

func TestUploadPage_RejectsScriptResumeURL(t *testing.T) {
	html := render(t, UploadPage(UploadPageParams{ResumeURL: "javascript:alert(1)"}))

	assert.NotContains(t, html, "javascript:")
	assert.Contains(t, html, string(templ.FailedSanitizationURL))
}

func TestErrorAlert(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		code    string
		want    []string
		notWant []string
	}{
		{
			name:    "message only",
			want:    []string{`<div class="alert alert-error" role="alert"><strong>&lt;b&gt;bad&lt;/b&gt;</strong>`},
			notWant: []string{"<span>", "<code>"},
		},
		{
			name:   "with action and code",
			action: "Try again & check",
			code:   "FILE001",
			want:   []string{"<span>Try again &amp; check</span>", "<code>FILE001</code>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := render(t, ErrorAlert("<b>bad</b>", tt.action, tt.code))
			for _, w := range tt.want {
				assert.Contains(t, html, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, html, w)
			}
		})
	}
}

func TestMapPage_EscapesUserInput(t *testing.T) {
	palette := core.NewPalette(core.DefaultColor)
	view := core.MapView{
		Center: core.Coordinate{Latitude: 1, Longitude: 2},
		Zoom:   6,
		Markers: []core.MarkerRequest{{
			Index: 0, Latitude: 1, Longitude: 2, Color: "#3388ff", Radius: 8,
			Label: "Warehouse 1: (1.000000, 2.000000)",
		}},
	}

	html := render(t, MapPage(MapPageParams{
		SessionID:   "abc",
		Filename:    `<script>alert(1)</script>.csv`,
		Preview:     []core.Coordinate{{Latitude: 1, Longitude: 2}},
		TotalRows:   1,
		LabelPrefix: "Warehouse",
		Palette:     palette,
		View:        view,
		TileURL:     "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
	}))

	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;alert(1)&lt;/script&gt;.csv")
	assert.Contains(t, html, `<td>1</td><td>1.000000</td><td>2.000000</td>`)
	assert.Contains(t, html, `action="/map/abc/colors"`)
	assert.Contains(t, html, `name="color_0" value="#3388ff"`)
	assert.Contains(t, html, `<script id="map-data" type="application/json">`)
	assert.Contains(t, html, `"tileUrl":"https://tile.openstreetmap.org/{z}/{x}/{y}.png"`)
	assert.Contains(t, html, `<label>Warehouse 1 color <input type="color" name="color_0"`)
	assert.Contains(t, html, `data-index="0"`)
	assert.Contains(t, html, `<link rel="stylesheet" href="`+LeafletCSS+`"`)
	assert.Contains(t, html, `<script src="`+LeafletJS+`"`)
	assert.Contains(t, html, "<title>Map - &lt;script&gt;")
}

func TestPreviewSummary(t *testing.T) {
	p := MapPageParams{
		Filename:  "sites.csv",
		Preview:   []core.Coordinate{{Latitude: 1, Longitude: 2}},
		TotalRows: 3,
		Dropped:   2,
	}
	assert.Equal(t, "sites.csv: 3 rows loaded, 2 rows skipped (showing first 1)", previewSummary(p))

	p.TotalRows, p.Dropped = 1, 0
	assert.Equal(t, "sites.csv: 1 rows loaded", previewSummary(p))
}

func TestFormatCoord(t *testing.T) {
	assert.Equal(t, "37.774900", formatCoord(37.7749))
	assert.Equal(t, "-122.419400", formatCoord(-122.4194))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "10.0 MB", formatBytes(10485760))
}
