package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/JonMunkholm/geomap/internal/logging"
	"github.com/JonMunkholm/geomap/internal/web/templates"
)

const sessionCookie = "geomap_session"

// upload is a CSV body read from a request.
type upload struct {
	Filename string
	Data     []byte
}

// LoadResponse is returned by POST /api/load.
type LoadResponse struct {
	Strategy string            `json:"strategy"`
	Count    int               `json:"count"`
	Dropped  int               `json:"dropped"`
	Center   core.Coordinate   `json:"center"`
	Rows     []core.Coordinate `json:"rows"`
}

// handleIndex renders the upload form.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	params := templates.UploadPageParams{MaxFileSize: s.cfg.Upload.MaxFileSize}
	if id := sessionIDFromCookie(r); id != "" {
		if _, err := s.sessions.Get(id); err == nil {
			params.ResumeURL = mapURL(id)
		}
	}
	s.render(w, r, http.StatusOK, templates.UploadPage(params))
}

// handleUpload loads an uploaded CSV into a new session and redirects to its map.
// The caller's previous session, if any, is replaced.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	table, up, status, err := s.loadRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, status)
		return
	}

	sess, err := s.sessions.Replace(sessionIDFromCookie(r), up.Filename, table, core.NewPalette(s.cfg.Map.DefaultColor))
	if err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}

	logging.WithFields(r.Context(), "session_id", sess.ID, "filename", up.Filename).
		Info("csv loaded", "rows", table.Len(), "dropped", table.Dropped(), "strategy", table.Strategy())

	s.setSessionCookie(w, sess.ID)
	redirect(w, r, mapURL(sess.ID))
}

// handleLoadAPI parses a CSV and returns the coordinates without creating a session.
func (s *Server) handleLoadAPI(w http.ResponseWriter, r *http.Request) {
	table, _, status, err := s.loadRequest(w, r)
	if err != nil {
		s.respondError(w, r, err, status)
		return
	}

	writeJSON(w, r, http.StatusOK, LoadResponse{
		Strategy: table.Strategy(),
		Count:    table.Len(),
		Dropped:  table.Dropped(),
		Center:   table.Center(),
		Rows:     table.Rows(),
	})
}

// loadRequest reads the CSV from r under the upload limiter and loads it.
// The returned status is meaningful only when err is non-nil.
func (s *Server) loadRequest(w http.ResponseWriter, r *http.Request) (*core.Table, upload, int, error) {
	if err := s.limiter.Acquire(r.Context()); err != nil {
		return nil, upload{}, http.StatusServiceUnavailable, err
	}
	defer s.limiter.Release()

	up, status, err := s.readUpload(w, r)
	if err != nil {
		return nil, up, status, err
	}

	table, err := s.load(r.Context(), up)
	if err != nil {
		return nil, up, http.StatusUnprocessableEntity, err
	}
	return table, up, 0, nil
}

// readUpload accepts either a multipart form with a "file" field or a raw CSV body.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, int, error) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		data, err := readAll(r.Body)
		if err != nil {
			return upload{}, statusFor(err), err
		}
		if len(data) == 0 {
			return upload{}, http.StatusBadRequest, core.ErrNoFile
		}
		return upload{Filename: "upload.csv", Data: data}, 0, nil
	}

	if err := r.ParseMultipartForm(maxSize); err != nil {
		if isTooLarge(err) {
			return upload{}, http.StatusRequestEntityTooLarge, core.ErrFileTooLarge
		}
		return upload{}, http.StatusBadRequest, fmt.Errorf("invalid form: %w", err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, http.StatusBadRequest, core.ErrNoFile
	}
	defer file.Close()

	data, err := readAll(file)
	if err != nil {
		return upload{}, statusFor(err), err
	}
	return upload{Filename: cleanFilename(header.Filename), Data: data}, 0, nil
}

func readAll(r io.Reader) ([]byte, error) {
	cr := core.NewCountingReader(r)
	data, err := io.ReadAll(cr)
	if err != nil {
		if isTooLarge(err) {
			return nil, fmt.Errorf("%w: read %d bytes", core.ErrFileTooLarge, cr.BytesRead)
		}
		return nil, fmt.Errorf("read upload after %d bytes: %w", cr.BytesRead, err)
	}
	return data, nil
}

func statusFor(err error) int {
	if errors.Is(err, core.ErrFileTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || errors.Is(err, core.ErrFileTooLarge)
}

// load runs the loader and records metrics. Failures are reported to the
// caller only as core.ErrLoadFailure; the per-strategy detail is logged.
func (s *Server) load(ctx context.Context, up upload) (*core.Table, error) {
	start := time.Now()
	table, report, err := s.loader.LoadWithReport(up.Data)
	s.metrics.ObserveLoad(report, table, len(up.Data), time.Since(start))

	logger := logging.WithFields(ctx, "filename", up.Filename, "bytes", len(up.Data))
	if err != nil {
		logger.Warn("csv load failed", "attempts", report.String(), "error", err)
		return nil, core.ErrLoadFailure
	}
	logger.Debug("csv load attempts", "attempts", report.String())
	return table, nil
}

func (s *Server) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.Security.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionIDFromCookie(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func mapURL(id string) string {
	return "/map/" + id
}

// redirect sends the browser to url, using HX-Redirect for HTMX requests.
func redirect(w http.ResponseWriter, r *http.Request, url string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", url)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, url, http.StatusSeeOther)
}

// cleanFilename drops any client-supplied directory components.
func cleanFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "upload.csv"
	}
	return name
}
