package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	dispatchapi "github.com/medidispatch/dispatch-core/api/dispatch"
	"github.com/medidispatch/dispatch-core/core/dispatch/logging"
	"github.com/medidispatch/dispatch-core/core/logger"
)

// Options tunes NewRouter.
type Options struct {
	// EmergencyRatePerSecond and EmergencyBurst limit POST /api/emergency
	// per client IP. A zero rate disables the limit.
	EmergencyRatePerSecond float64
	EmergencyBurst         int
	// LogStore backs GET /api/dispatch/logs when set.
	LogStore logging.LogStore
	LogToken string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// NewRouter builds the public HTTP surface of the dispatch service.
func NewRouter(svc Service, opts Options, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.Nop{}
	}
	h := NewHandler(svc, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.Health)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Group(func(er chi.Router) {
			if opts.EmergencyRatePerSecond > 0 {
				er.Use(Limit(opts.EmergencyRatePerSecond, opts.EmergencyBurst, log))
			}
			er.Post("/emergency", h.CreateEmergency)
		})
		api.Route("/alerts/{id}", func(ar chi.Router) {
			ar.Get("/", h.GetAlert)
			ar.Post("/status", h.AdvanceAlert)
			ar.Get("/events", h.StreamEvents)
		})
		api.Route("/units", func(ur chi.Router) {
			ur.Get("/", h.ListUnits)
			ur.Post("/{id}/location", h.UpdateUnitLocation)
			ur.Post("/{id}/status", h.UpdateUnitStatus)
		})
		if opts.LogStore != nil {
			api.Method(http.MethodGet, "/dispatch/logs", dispatchapi.NewLogHandler(opts.LogStore, opts.LogToken))
		}
	})
	return r
}

func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debugw("http request", map[string]any{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": chimw.GetReqID(r.Context()),
			})
		})
	}
}
