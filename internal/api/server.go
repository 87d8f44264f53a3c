// Package api serves the tracking state over HTTP: JSON endpoints for the
// latest estimate, the trail and its statistics, and rendered views of the
// same scene.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sonar.tracker/internal/db"
	"github.com/banshee-data/sonar.tracker/internal/httputil"
	"github.com/banshee-data/sonar.tracker/internal/render"
	"github.com/banshee-data/sonar.tracker/internal/serialmux"
	"github.com/banshee-data/sonar.tracker/internal/sonar"
	"github.com/banshee-data/sonar.tracker/internal/stream"
	"github.com/banshee-data/sonar.tracker/internal/units"
	"github.com/banshee-data/sonar.tracker/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultEstimateLimit = 100
	maxEstimateLimit     = 10000
	maxRefreshSeconds    = 3600
	defaultImageWidth    = 6 * vg.Inch
	defaultImageHeight   = 5 * vg.Inch
)

type Server struct {
	m       serialmux.SerialMuxInterface
	db      *db.DB
	tracker *sonar.Tracker
	recent  *RecentResults
	units   string

	serialPort string
	publisher  *stream.Publisher
	chartOpts  render.ChartOptions
}

// Option configures optional Server collaborators.
type Option func(*Server)

// WithRecentResults shares the result buffer that the tracker feeds. Without
// it /api/history/stats falls back to the history positions and reports no
// sensor counts.
func WithRecentResults(r *RecentResults) Option {
	return func(s *Server) { s.recent = r }
}

// WithPublisher reports the gRPC stream statistics on /api/status.
func WithPublisher(p *stream.Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithSerialPort names the port the mux was opened on.
func WithSerialPort(path string) Option {
	return func(s *Server) { s.serialPort = path }
}

// WithChartOptions sets the size and asset host of the live chart page.
func WithChartOptions(o render.ChartOptions) Option {
	return func(s *Server) { s.chartOpts = o }
}

// NewServer creates the API server. database may be nil when the estimate
// log is disabled.
func NewServer(m serialmux.SerialMuxInterface, database *db.DB, tracker *sonar.Tracker, displayUnits string, opts ...Option) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.CM
	}
	s := &Server{
		m:       m,
		db:      database,
		tracker: tracker,
		units:   displayUnits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/position", s.showPosition)
	mux.HandleFunc("/api/history", s.showHistory)
	mux.HandleFunc("/api/history/stats", s.showHistoryStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/estimates", s.listEstimates)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/serial/devices", s.handleSerialDevices)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/chart", s.showChart)
	mux.HandleFunc("/chart.png", s.showChartImage(render.FormatPNG))
	mux.HandleFunc("/chart.svg", s.showChartImage(render.FormatSVG))
	return mux
}

// requestUnits returns the ?units= override or the server default. The
// second result is false when the override is not a known unit.
func (s *Server) requestUnits(r *http.Request) (string, bool) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, true
	}
	return u, units.IsValid(u)
}

func (s *Server) unitsOrBadRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	u, ok := s.requestUnits(r)
	if !ok {
		httputil.BadRequest(w, fmt.Sprintf("Invalid 'units' parameter: must be one of %s", units.GetValidUnitsString()))
	}
	return u, ok
}

func convertPosition(p sonar.Position, u string) sonar.Position {
	return sonar.Position{X: units.ConvertDistance(p.X, u), Y: units.ConvertDistance(p.Y, u)}
}

// PositionResponse is the JSON body of /api/position.
type PositionResponse struct {
	Seq         uint64           `json:"seq"`
	Time        time.Time        `json:"time"`
	RawCM       sonar.RawReading `json:"raw_cm"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	SensorCount int              `json:"sensor_count"`
	Subset      string           `json:"subset"`
	Color       string           `json:"color"`
	Units       string           `json:"units"`
}

func (s *Server) showPosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.unitsOrBadRequest(w, r)
	if !ok {
		return
	}

	c, ok := s.tracker.Latest()
	if !ok {
		httputil.NotFound(w, "No estimate yet")
		return
	}
	pos := convertPosition(c.Result.Position, u)
	httputil.WriteJSONOK(w, PositionResponse{
		Seq:         c.Seq,
		Time:        c.Time,
		RawCM:       c.Raw,
		X:           pos.X,
		Y:           pos.Y,
		SensorCount: c.Result.SensorCount,
		Subset:      c.Result.Subset.String(),
		Color:       sonar.ConfidenceColor(c.Result.SensorCount),
		Units:       u,
	})
}

// HistoryResponse is the JSON body of /api/history.
type HistoryResponse struct {
	Units     string           `json:"units"`
	Capacity  int              `json:"capacity"`
	Positions []sonar.Position `json:"positions"`
}

func (s *Server) showHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.unitsOrBadRequest(w, r)
	if !ok {
		return
	}

	h := s.tracker.History()
	positions := h.Snapshot()
	for i := range positions {
		positions[i] = convertPosition(positions[i], u)
	}
	httputil.WriteJSONOK(w, HistoryResponse{Units: u, Capacity: h.Cap(), Positions: positions})
}

// HistoryStatsResponse is the JSON body of /api/history/stats.
type HistoryStatsResponse struct {
	Units   string             `json:"units"`
	Trail   render.TrailStats  `json:"trail"`
	Tracker sonar.TrackerStats `json:"tracker"`
}

func (s *Server) showHistoryStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.unitsOrBadRequest(w, r)
	if !ok {
		return
	}

	var ts render.TrailStats
	if s.recent != nil {
		ts = render.ComputeTrailStats(s.recent.Snapshot())
	} else {
		ts = render.ComputePositionStats(s.tracker.History().Snapshot())
	}
	ts = ts.Scale(func(v float64) float64 { return units.ConvertDistance(v, u) })
	httputil.WriteJSONOK(w, HistoryStatsResponse{Units: u, Trail: ts, Tracker: s.tracker.Stats()})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	est := s.tracker.Estimator()
	config := map[string]interface{}{
		"units":           s.units,
		"spacing_cm":      est.Geometry.Spacing(),
		"max_distance_cm": est.MaxDistance,
		"history_length":  s.tracker.History().Cap(),
		"serial_port":     s.serialPort,
		"estimate_log":    s.db != nil,
		"version":         version.Version,
	}
	httputil.WriteJSONOK(w, config)
}

// StatusResponse is the JSON body of /api/status.
type StatusResponse struct {
	Tracker sonar.TrackerStats     `json:"tracker"`
	Stream  *stream.PublisherStats `json:"stream,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := StatusResponse{Tracker: s.tracker.Stats()}
	if s.publisher != nil {
		st := s.publisher.Stats()
		resp.Stream = &st
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listEstimates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "Estimate log is disabled")
		return
	}
	u, ok := s.unitsOrBadRequest(w, r)
	if !ok {
		return
	}

	limit := defaultEstimateLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > maxEstimateLimit {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxEstimateLimit))
			return
		}
		limit = parsed
	}

	estimates, err := s.db.RecentEstimates(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve estimates: %v", err))
		return
	}
	for i := range estimates {
		estimates[i].X = units.ConvertDistance(estimates[i].X, u)
		estimates[i].Y = units.ConvertDistance(estimates[i].Y, u)
	}
	httputil.WriteJSONOK(w, estimates)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.db == nil {
		httputil.ServiceUnavailable(w, "Estimate log is disabled")
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "Missing 'command' parameter")
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		if errors.Is(err, serialmux.ErrSerialDisabled) {
			httputil.ServiceUnavailable(w, "Serial port is disabled")
			return
		}
		httputil.InternalServerError(w, "Failed to send command")
		return
	}
	io.WriteString(w, "Command sent successfully")
}

// scene builds the current display scene in u.
func (s *Server) scene(u string) render.Scene {
	positions := s.tracker.History().Snapshot()
	trail := make([]sonar.EstimationResult, len(positions))
	for i, p := range positions {
		trail[i] = sonar.EstimationResult{Position: p}
	}
	var latest *sonar.EstimationResult
	if c, ok := s.tracker.Latest(); ok {
		latest = &c.Result
	}
	return render.NewScene(s.tracker.Estimator(), trail, latest, u)
}

// showChart serves the interactive chart page. ?refresh=N asks the browser
// to reload every N seconds.
func (s *Server) showChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, ok := s.unitsOrBadRequest(w, r)
	if !ok {
		return
	}

	if v := r.URL.Query().Get("refresh"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 || secs > maxRefreshSeconds {
			httputil.BadRequest(w, fmt.Sprintf("Invalid 'refresh' parameter: must be between 1 and %d", maxRefreshSeconds))
			return
		}
		w.Header().Set("Refresh", strconv.Itoa(secs))
	}

	var buf bytes.Buffer
	if err := render.RenderLiveChart(&buf, s.scene(u), s.chartOpts); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) showChartImage(format string) http.HandlerFunc {
	contentType := "image/png"
	if format == render.FormatSVG {
		contentType = "image/svg+xml"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		u, ok := s.unitsOrBadRequest(w, r)
		if !ok {
			return
		}

		var buf bytes.Buffer
		if err := render.RenderImage(&buf, s.scene(u), format, defaultImageWidth, defaultImageHeight); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "no-store")
		w.Write(buf.Bytes())
	}
}
