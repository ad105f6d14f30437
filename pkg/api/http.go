package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"statehouse/pkg/api/router"
	"statehouse/pkg/errdef"
	"statehouse/pkg/logger"
)

var (
	gcPauseTotal = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_gc_pause_total_ns",
			Help: "Total GC pause time in nanoseconds.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.PauseTotalNs)
		},
	)

	heapAlloc = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "go_heap_alloc_bytes",
			Help: "Current heap allocation in bytes.",
		},
		func() float64 {
			var stats runtime.MemStats
			runtime.ReadMemStats(&stats)
			return float64(stats.HeapAlloc)
		},
	)
)

func init() {
	prometheus.MustRegister(gcPauseTotal)
	prometheus.MustRegister(heapAlloc)
}

// wrapHTTPHandler wraps an http.Handler to work with fasthttp.
func wrapHTTPHandler(h http.Handler) func(ctx *fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		fasthttpadaptor.NewFastHTTPHandler(h)(ctx)
	}
}

// RegisterRoutes wires all API routes onto the provided router.
func (s *Server) RegisterRoutes(r *router.Router) {
	r.GET("/healthz", s.health)
	r.GET("/version", s.version)

	// transaction lifecycle
	r.POST("/v1/txns", s.beginTxn)
	r.POST("/v1/txns/{txnID}/write", s.write)
	r.POST("/v1/txns/{txnID}/delete", s.delete)
	r.POST("/v1/txns/{txnID}/commit", s.commit)
	r.POST("/v1/txns/{txnID}/abort", s.abort)

	// reads
	r.GET("/v1/state", s.getState)
	r.GET("/v1/state/version", s.getStateAtVersion)
	r.GET("/v1/keys", s.listKeys)
	r.GET("/v1/scan", s.scanPrefix)

	// replay stream
	r.GET("/v1/replay", s.replay)

	// debug routes
	r.GET("/debug/metrics", wrapHTTPHandler(promhttp.Handler()))
	r.GET("/debug/pprof/", wrapHTTPHandler(http.HandlerFunc(pprof.Index)))
	r.GET("/debug/pprof/cmdline", wrapHTTPHandler(http.HandlerFunc(pprof.Cmdline)))
	r.GET("/debug/pprof/profile", wrapHTTPHandler(http.HandlerFunc(pprof.Profile)))
	r.GET("/debug/pprof/symbol", wrapHTTPHandler(http.HandlerFunc(pprof.Symbol)))
	r.GET("/debug/pprof/trace", wrapHTTPHandler(http.HandlerFunc(pprof.Trace)))
}

// Handler returns the fasthttp handler for the Statehouse API, with the
// per-client rate limit applied ahead of routing.
func (s *Server) Handler() fasthttp.RequestHandler {
	r := router.New()
	s.RegisterRoutes(r)
	return func(ctx *fasthttp.RequestCtx) {
		if !s.limiter.Allow(ctx.RemoteIP().String()) {
			router.WriteJSONError(ctx, fasthttp.StatusTooManyRequests, errdef.KindInvalidRequest, "rate limit exceeded")
			return
		}
		logger.LogRequestFast(ctx)
		r.Handler(ctx)
	}
}
