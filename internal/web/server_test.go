package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/geomap/internal/config"
	"github.com/JonMunkholm/geomap/internal/core"
	"github.com/JonMunkholm/geomap/internal/observability"
	"github.com/JonMunkholm/geomap/internal/session"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "lat,lon\n37.7749,-122.4194\n40.7128,-74.0060\n"

type testEnv struct {
	srv     *Server
	cfg     *config.Config
	store   *session.Store
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
	limiter *core.UploadLimiter
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	cfg.Rate.Enabled = false
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	for _, fn := range mutate {
		fn(cfg)
	}

	clock := clockwork.NewFakeClock()
	store := session.NewStore(session.Options{TTL: cfg.Session.TTL, Clock: clock})
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetricsForTesting(reg)
	limiter := core.NewUploadLimiter(cfg.Upload.MaxConcurrent, 50*time.Millisecond)

	srv := NewServer(cfg, Deps{
		Sessions:       store,
		Limiter:        limiter,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	t.Cleanup(func() {
		if srv.rate != nil {
			srv.rate.stop()
		}
	})

	return &testEnv{srv: srv, cfg: cfg, store: store, clock: clock, metrics: metrics, limiter: limiter}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func multipartRequest(t *testing.T, target, field, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// upload posts content and returns the new session ID.
func (e *testEnv) upload(t *testing.T, content string, cookies ...*http.Cookie) (string, *httptest.ResponseRecorder) {
	t.Helper()
	req := multipartRequest(t, "/upload", "file", "sites.csv", content)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := e.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	loc := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/map/"), "Location = %q", loc)
	return strings.TrimPrefix(loc, "/map/"), rec
}

func (e *testEnv) mapJSON(t *testing.T, id string) (MapResponse, int) {
	t.Helper()
	rec := e.do(httptest.NewRequest(http.MethodGet, "/api/map/"+id, nil))
	var resp MapResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return resp, rec.Code
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="file"`)
	assert.Contains(t, rec.Body.String(), "Upload a CSV to get started.")
}

func TestUpload_CreatesSessionAndRedirects(t *testing.T) {
	env := newTestEnv(t)

	id, rec := env.upload(t, sampleCSV)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookie, cookies[0].Name)
	assert.Equal(t, id, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)

	page := env.do(httptest.NewRequest(http.MethodGet, "/map/"+id, nil))
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, "Warehouse 1: (37.774900, -122.419400)")
	assert.Contains(t, body, "Warehouse 2: (40.712800, -74.006000)")
	assert.Contains(t, body, "2 rows loaded, 1 rows skipped")
	assert.Contains(t, body, `name="color_1"`)
	assert.Contains(t, body, "leaflet.js")

	resp, code := env.mapJSON(t, id)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "sites.csv", resp.Filename)
	assert.Equal(t, core.StrategyHeaderless, resp.Strategy)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 6, resp.View.Zoom)
	assert.InDelta(t, (37.7749+40.7128)/2, resp.View.Center.Latitude, 1e-9)
	require.Len(t, resp.View.Markers, 2)
	assert.Equal(t, "#3388ff", resp.View.Markers[0].Color)
	assert.Equal(t, 8, resp.View.Markers[0].Radius)

	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Loads.WithLabelValues("success")))
}

func TestUpload_HTMXRedirect(t *testing.T) {
	env := newTestEnv(t)

	req := multipartRequest(t, "/upload", "file", "a.csv", "1,2\n")
	req.Header.Set("HX-Request", "true")
	rec := env.do(req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("HX-Redirect"), "/map/"))
}

func TestUpload_ReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t)

	first, rec := env.upload(t, "1,2\n")
	second, _ := env.upload(t, "3,4\n", rec.Result().Cookies()...)

	assert.NotEqual(t, first, second)
	_, code := env.mapJSON(t, first)
	assert.Equal(t, http.StatusNotFound, code)
	_, code = env.mapJSON(t, second)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, env.store.Len())
}

func TestUpload_Errors(t *testing.T) {
	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		mutate     func(*config.Config)
		wantStatus int
		wantCode   string
	}{
		{
			name: "unparseable csv",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload", "file", "bad.csv", "lat,lon\nnorth,west\n")
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE002",
		},
		{
			name: "single column",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload", "file", "one.csv", "1\n2\n")
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "FILE002",
		},
		{
			name: "missing file field",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload", "other", "a.csv", "1,2\n")
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
		},
		{
			name: "file too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/upload", "file", "big.csv", strings.Repeat("1,2\n", 100))
			},
			mutate:     func(c *config.Config) { c.Upload.MaxFileSize = 64 },
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   "FILE001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mutate []func(*config.Config)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			env := newTestEnv(t, mutate...)

			req := tt.req(t)
			req.Header.Set("Accept", "application/json")
			rec := env.do(req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)
			assert.Equal(t, 0, env.store.Len())
		})
	}
}

func TestUpload_FailureShowsGenericMessage(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(multipartRequest(t, "/upload", "file", "bad.csv", "\"unterminated\n"))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "parse the CSV.")
	assert.Contains(t, body, "Ensure column A is latitude and column B is longitude.")
	assert.NotContains(t, body, "tokeniz")
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.Loads.WithLabelValues("failure")))
}

func TestUpload_TooManyConcurrent(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Upload.MaxConcurrent = 1 })
	require.NoError(t, env.limiter.Acquire(context.Background()))
	defer env.limiter.Release()

	req := multipartRequest(t, "/upload", "file", "a.csv", "1,2\n")
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPL001", decodeError(t, rec).Code)
}

func TestLoadAPI(t *testing.T) {
	env := newTestEnv(t)

	t.Run("raw body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/load", strings.NewReader("1,2\n3,4\nx,y\n"))
		req.Header.Set("Content-Type", "text/csv")
		rec := env.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LoadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, 1, resp.Dropped)
		assert.Equal(t, []core.Coordinate{{Latitude: 1, Longitude: 2}, {Latitude: 3, Longitude: 4}}, resp.Rows)
		assert.Equal(t, core.Coordinate{Latitude: 2, Longitude: 3}, resp.Center)
	})

	t.Run("multipart", func(t *testing.T) {
		rec := env.do(multipartRequest(t, "/api/load", "file", "a.csv", sampleCSV))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 0, env.store.Len())
	})

	t.Run("stray quotes in a name column", func(t *testing.T) {
		body := "lat,lon,name\n1.0,2.0,Joe's \"Big\" Barn\n3.0,4.0,Dock 12\" door\n"
		req := httptest.NewRequest(http.MethodPost, "/api/load", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")
		rec := env.do(req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp LoadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 2, resp.Count)
		assert.Equal(t, 1, resp.Dropped)
	})

	t.Run("failure is opaque", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/load", strings.NewReader("only,text\n"))
		rec := env.do(req)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "FILE002", resp.Code)
		assert.Equal(t, "Couldn't parse the CSV.", resp.Message)
	})

	t.Run("empty body", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/load", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "FILE003", decodeError(t, rec).Code)
	})
}

func TestUpdateColors(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.upload(t, "1,1\n2,2\n3,3\n")

	form := url.Values{
		"default_color": {"#FF0000"},
		"color_0":       {"#3388ff"},
		"color_1":       {"#00ff00"},
		"color_2":       {"#3388ff"},
		"color_9":       {"#123456"},
	}
	req := httptest.NewRequest(http.MethodPost, "/map/"+id+"/colors", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := env.do(req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/map/"+id, rec.Header().Get("Location"))

	resp, code := env.mapJSON(t, id)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "#ff0000", resp.Palette.Default)
	assert.Equal(t, map[int]string{1: "#00ff00"}, resp.Palette.ByRow)

	colors := make([]string, len(resp.View.Markers))
	for i, m := range resp.View.Markers {
		colors[i] = m.Color
	}
	assert.Equal(t, []string{"#ff0000", "#00ff00", "#ff0000"}, colors)
}

func TestUpdateColors_InvalidColor(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.upload(t, "1,1\n")

	form := url.Values{"default_color": {"red"}}
	req := httptest.NewRequest(http.MethodPost, "/map/"+id+"/colors", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	rec := env.do(req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "COL001", decodeError(t, rec).Code)
}

func TestSetPaletteAPI(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.upload(t, "1,1\n2,2\n")

	body := `{"default":"#AA0000","byRow":{"1":"#0000FF","7":"#000000"}}`
	req := httptest.NewRequest(http.MethodPut, "/api/map/"+id+"/palette", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "#aa0000", resp.Palette.Default)
	assert.Equal(t, map[int]string{1: "#0000ff"}, resp.Palette.ByRow)
	assert.Equal(t, "#aa0000", resp.View.Markers[0].Color)
	assert.Equal(t, "#0000ff", resp.View.Markers[1].Color)

	bad := httptest.NewRequest(http.MethodPut, "/api/map/"+id+"/palette", strings.NewReader(`{"byRow":{"0":"blue"}}`))
	rec = env.do(bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "COL001", decodeError(t, rec).Code)
}

func TestGeoJSON(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.upload(t, "10,20\n")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/map/"+id+"/geojson", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sites.geojson")

	var fc core.GeoJSONFeatureCollection
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, [2]float64{20, 10}, fc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "Warehouse 1: (10.000000, 20.000000)", fc.Features[0].Properties["label"])
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/map/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UPL002", decodeError(t, rec).Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/map/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "UPL002")
}

func TestSessionExpiry(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.upload(t, "1,2\n")

	env.clock.Advance(env.cfg.Session.TTL + time.Minute)

	_, code := env.mapJSON(t, id)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestIndex_LinksToLiveSession(t *testing.T) {
	env := newTestEnv(t)
	id, rec := env.upload(t, "1,2\n")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	page := env.do(req)

	assert.Contains(t, page.Body.String(), `href="/map/`+id+`"`)
}

func TestHealthAndReadiness(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ready"`)

	require.NoError(t, env.srv.Shutdown(context.Background()))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "1,2\n")

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `geomap_loads_total{outcome="success"} 1`)
	assert.Contains(t, rec.Body.String(), `geomap_strategy_attempts_total{result="ok",strategy="headerless"} 1`)
}

func TestSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	csp := rec.Header().Get("Content-Security-Policy")
	assert.Contains(t, csp, "script-src 'self' https://unpkg.com")
	assert.Contains(t, csp, "https://tile.openstreetmap.org")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate.Enabled = true
		c.Rate.RequestsPerMinute = 2
	})

	for i := 0; i < 2; i++ {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/map/x", nil)
	rec := env.do(req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)
}

func TestStaticAssets(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/static/map.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "circleMarker")
}
