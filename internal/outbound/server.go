package outbound

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/micom7/fleet-server/internal/models"
)

// MeasurementStore is the slice of the measurement repository the API reads.
type MeasurementStore interface {
	Window(from, to time.Time, channelID *int, limit int) ([]models.DataRow, bool, error)
	LatestPerChannel() ([]models.DataRow, error)
	LastMeasurementAt() (*time.Time, error)
}

// ChannelStore lists the channel configuration, enabled rows included.
type ChannelStore interface {
	ListAll() ([]models.ChannelConfig, error)
}

// AlarmStore reads the alarm log over a time window.
type AlarmStore interface {
	Window(from, to time.Time, unresolvedOnly bool) ([]models.AlarmPayload, error)
}

// LatestSource is the hot cache written by the acquisition cycle.
type LatestSource interface {
	Load(ctx context.Context) (*models.CyclePayload, error)
	FreshWithin(ctx context.Context, maxAge time.Duration) bool
}

// Options carries the request-independent settings of the API.
type Options struct {
	APIKey        string
	VehicleIDHint string
	Version       string
	AgentPort     int
	LatestMaxAge  time.Duration
	RowLimit      int
	RowCap        int
}

// Server is the vehicle-side HTTP surface the fleet server pulls from.
// Uses the standard library http.ServeMux, no third-party router needed
// for five fixed routes.
type Server struct {
	mux          *http.ServeMux
	measurements MeasurementStore
	channels     ChannelStore
	alarms       AlarmStore
	latest       LatestSource
	opts         Options
	logger       *zap.Logger
	startedAt    time.Time

	// probePort is swapped in tests to avoid real TCP dials.
	probePort func(port int) bool
	now       func() time.Time
}

func NewServer(m MeasurementStore, c ChannelStore, a AlarmStore, latest LatestSource, opts Options, logger *zap.Logger) *Server {
	if opts.RowLimit <= 0 {
		opts.RowLimit = 10000
	}
	if opts.RowCap <= 0 {
		opts.RowCap = 50000
	}
	s := &Server{
		mux:          http.NewServeMux(),
		measurements: m,
		channels:     c,
		alarms:       a,
		latest:       latest,
		opts:         opts,
		logger:       logger,
		startedAt:    time.Now(),
		probePort:    portListening,
		now:          time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/status", s.authed(s.handleStatus))
	s.mux.HandleFunc("/channels", s.authed(s.handleChannels))
	s.mux.HandleFunc("/data", s.authed(s.handleData))
	s.mux.HandleFunc("/data/latest", s.authed(s.handleDataLatest))
	s.mux.HandleFunc("/alarms", s.authed(s.handleAlarms))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// authed rejects everything without the shared key. An empty configured key
// locks the surface down instead of opening it.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if s.opts.APIKey == "" || r.Header.Get("X-API-Key") != s.opts.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid API key")
			return
		}
		next(w, r)
	}
}

func portListening(port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 300*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
