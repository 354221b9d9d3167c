package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/csvquery/matchcache/internal/query"
)

// HTTPConfig holds configuration for the HTTP API.
type HTTPConfig struct {
	Addr  string
	Watch bool // reload the dataset when its file changes
	Quiet bool // disable request logging
}

// HTTPServer serves the lookup API and Prometheus metrics.
type HTTPServer struct {
	config   HTTPConfig
	store    *Store
	echo     *echo.Echo
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	stop     chan struct{}
}

// LookupRequest is the body of POST /api/lookup.
type LookupRequest struct {
	Query query.Query `json:"query"`
}

// LookupResponse is returned by POST /api/lookup.
type LookupResponse struct {
	Result string `json:"result"`
	Found  bool   `json:"found"`
}

// AverageRequest is the body of POST /api/average.
type AverageRequest struct {
	Queries []query.Query `json:"queries"`
}

// AverageResponse is returned by POST /api/average.
type AverageResponse struct {
	Average string `json:"average"`
}

// NewHTTPServer builds the router for store.
func NewHTTPServer(cfg HTTPConfig, store *Store) *HTTPServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	s := &HTTPServer{
		config:   cfg,
		store:    store,
		echo:     echo.New(),
		registry: prometheus.NewRegistry(),
		stop:     make(chan struct{}),
	}
	s.registerMetrics()

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = numberSerializer{}

	e.Use(middleware.Recover())
	if !cfg.Quiet {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))
	e.Use(s.countRequests)

	api := e.Group("/api")
	api.POST("/lookup", s.handleLookup)
	api.POST("/average", s.handleAverage)
	api.GET("/stats", s.handleStats)
	api.GET("/status", s.handleStatus)
	api.POST("/reload", s.handleReload)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return s
}

// Handler returns the router, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *HTTPServer) Start() error {
	if s.config.Watch {
		if err := s.store.Watch(s.stop); err != nil {
			return err
		}
	}
	fmt.Printf("matchcache HTTP API listening on %s\n", s.config.Addr)
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return s.echo.Shutdown(ctx)
}

func (s *HTTPServer) handleLookup(c echo.Context) error {
	var req LookupRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	res, err := s.store.Lookup(req.Query)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, LookupResponse{Result: res, Found: res != query.NotFound})
}

func (s *HTTPServer) handleAverage(c echo.Context) error {
	var req AverageRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	avg, err := s.store.Average(req.Queries)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, AverageResponse{Average: avg})
}

func (s *HTTPServer) handleStats(c echo.Context) error {
	st := s.store.Stats()
	return c.JSON(http.StatusOK, map[string]any{
		"stats":    st,
		"hitRatio": st.HitRatio(),
	})
}

func (s *HTTPServer) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.store.Status())
}

func (s *HTTPServer) handleReload(c echo.Context) error {
	if err := s.store.Reload(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s.store.Status())
}

// engineError maps engine failures to HTTP status codes.
func engineError(err error) error {
	switch {
	case errors.Is(err, query.ErrSchema):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNoDataset):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) countRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.latency.WithLabelValues(c.Request().Method, c.Path()).Observe(time.Since(start).Seconds())
		code := c.Response().Status
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
		}
		s.requests.WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(code)).Inc()
		return err
	}
}

func (s *HTTPServer) registerMetrics() {
	counter := func(name, help string, get func(query.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "matchcache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(s.store.Stats())) })
	}
	gauge := func(name, help string, get func(query.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "matchcache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(s.store.Stats())) })
	}

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "matchcache",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})
	s.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "matchcache",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP handler latency by method and route.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
	}, []string{"method", "route"})

	s.registry.MustRegister(
		s.requests,
		s.latency,
		counter("lookups_total", "Point lookups served.", func(st query.Stats) uint64 { return st.Lookups }),
		counter("cache_hits_total", "Lookups answered from the result cache.", func(st query.Stats) uint64 { return st.Hits }),
		counter("scans_total", "Lookups resolved by a linear scan.", func(st query.Stats) uint64 { return st.Scans }),
		counter("rows_scanned_total", "Data rows inspected by scans.", func(st query.Stats) uint64 { return st.RowsScanned }),
		counter("cache_evictions_total", "Entries evicted by the LRU policy.", func(st query.Stats) uint64 { return st.Evictions }),
		counter("cache_invalidations_total", "Cache clears caused by a dataset change.", func(st query.Stats) uint64 { return st.Invalidations }),
		gauge("cache_entries", "Entries currently cached.", func(st query.Stats) int { return st.Entries }),
		gauge("cache_capacity", "Maximum cached entries.", func(st query.Stats) int { return st.Capacity }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "matchcache",
			Name:      "dataset_reloads_total",
			Help:      "Dataset snapshots loaded.",
		}, func() float64 { return float64(s.store.Status().Reloads) }),
	)
}

// numberSerializer is echo's JSON codec backed by goccy/go-json, decoding
// numbers as json.Number so integer query values keep their exact text.
type numberSerializer struct{}

func (numberSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (numberSerializer) Deserialize(c echo.Context, i any) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.UseNumber()
	if err := dec.Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON: "+err.Error()).SetInternal(err)
	}
	return nil
}
