package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/JonMunkholm/geomap/internal/logging"
	"github.com/JonMunkholm/geomap/internal/session"
	"github.com/JonMunkholm/geomap/internal/web/templates"
	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
)

// MapResponse is returned by GET /api/map/{sessionID}.
type MapResponse struct {
	SessionID string       `json:"sessionId"`
	Filename  string       `json:"filename"`
	Strategy  string       `json:"strategy"`
	Count     int          `json:"count"`
	Dropped   int          `json:"dropped"`
	Palette   core.Palette `json:"palette"`
	View      core.MapView `json:"view"`
}

// handleMapPage renders the preview table, color pickers and map for a session.
func (s *Server) handleMapPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	s.render(w, r, http.StatusOK, templates.MapPage(templates.MapPageParams{
		SessionID:   sess.ID,
		Filename:    sess.Filename,
		Preview:     sess.Table.Head(s.cfg.Map.PreviewRows),
		TotalRows:   sess.Table.Len(),
		Dropped:     sess.Table.Dropped(),
		LabelPrefix: s.cfg.Map.LabelPrefix,
		Palette:     sess.Palette,
		View:        s.mapView(sess),
		TileURL:     s.cfg.Map.TileURL,
	}))
}

// handleUpdateColors applies the color form and redirects back to the map.
func (s *Server) handleUpdateColors(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid form: %w", err), http.StatusBadRequest)
		return
	}

	palette, err := applyColorForm(sess.Palette, r.PostForm, sess.Table.Len())
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	if _, err := s.sessions.SetPalette(sess.ID, palette); err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}

	logging.WithFields(r.Context(), "session_id", sess.ID).
		Debug("palette updated", "default", palette.Default, "overrides", len(palette.ByRow))
	redirect(w, r, mapURL(sess.ID))
}

// handleMapJSON returns the session's map view as JSON.
func (s *Server) handleMapJSON(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, s.mapResponse(sess))
}

// handleSetPaletteAPI replaces the session palette from a JSON body.
func (s *Server) handleSetPaletteAPI(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var in core.Palette
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&in); err != nil {
		s.respondError(w, r, fmt.Errorf("invalid form: %w", err), http.StatusBadRequest)
		return
	}

	palette, err := validatePalette(in, sess.Palette.Default, sess.Table.Len())
	if err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	updated, err := s.sessions.SetPalette(sess.ID, palette)
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, r, http.StatusOK, s.mapResponse(updated))
}

// handleGeoJSON exports the session's markers as a GeoJSON FeatureCollection.
func (s *Server) handleGeoJSON(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	name := strings.TrimSuffix(sess.Filename, ".csv") + ".geojson"
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.mapView(sess).GeoJSON()); err != nil {
		logging.FromContext(r.Context()).Error("geojson encode error", "error", err)
	}
}

// session loads the session named in the URL, writing a 404 when it is gone.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.respondError(w, r, err, http.StatusNotFound)
		return session.Session{}, false
	}
	return sess, true
}

func (s *Server) mapOptions() core.MapOptions {
	return core.MapOptions{
		Zoom:        s.cfg.Map.Zoom,
		LabelPrefix: s.cfg.Map.LabelPrefix,
		Radius:      s.cfg.Map.MarkerRadius,
	}
}

func (s *Server) mapView(sess session.Session) core.MapView {
	return core.BuildMapView(sess.Table, sess.Palette, s.mapOptions())
}

func (s *Server) mapResponse(sess session.Session) MapResponse {
	return MapResponse{
		SessionID: sess.ID,
		Filename:  sess.Filename,
		Strategy:  sess.Table.Strategy(),
		Count:     sess.Table.Len(),
		Dropped:   sess.Table.Dropped(),
		Palette:   sess.Palette,
		View:      s.mapView(sess),
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render error", "error", err)
	}
}

// applyColorForm builds the next palette from the map page form.
//
// The form posts default_color and one color_<i> per marker. A row that
// followed the old default and was left unchanged keeps following the new
// default; any other submitted color becomes a per-row override. Indexes
// outside the table are ignored.
func applyColorForm(old core.Palette, form url.Values, rows int) (core.Palette, error) {
	def := old.Default
	if v := form.Get("default_color"); v != "" {
		c, err := core.NormalizeColor(v)
		if err != nil {
			return core.Palette{}, err
		}
		def = c
	}

	next := core.NewPalette(def)
	for key, values := range form {
		idx, ok := strings.CutPrefix(key, "color_")
		if !ok || len(values) == 0 {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= rows {
			continue
		}

		c, err := core.NormalizeColor(values[0])
		if err != nil {
			return core.Palette{}, err
		}

		_, overridden := old.ByRow[i]
		if !overridden && c == old.ColorFor(i) {
			continue
		}
		if c != def {
			next.ByRow[i] = c
		}
	}
	return next, nil
}

// validatePalette normalizes every color of a client-supplied palette.
// An empty default keeps fallback. Indexes outside the table are dropped.
func validatePalette(in core.Palette, fallback string, rows int) (core.Palette, error) {
	def := fallback
	if in.Default != "" {
		c, err := core.NormalizeColor(in.Default)
		if err != nil {
			return core.Palette{}, err
		}
		def = c
	}

	out := core.NewPalette(def)
	for i, v := range in.ByRow {
		if i < 0 || i >= rows {
			continue
		}
		c, err := core.NormalizeColor(v)
		if err != nil {
			return core.Palette{}, err
		}
		out.ByRow[i] = c
	}
	return out, nil
}
