package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/promptrelay/internal/api"
	"github.com/gaspardpetit/promptrelay/internal/config"
	"github.com/gaspardpetit/promptrelay/internal/drain"
	"github.com/gaspardpetit/promptrelay/internal/relay"
)

// New constructs the HTTP handler for the server. gatherer backs /metrics
// when metrics share the public listener.
func New(cfg config.ServerConfig, gen relay.Generator, tracker *drain.Tracker, gatherer prometheus.Gatherer) (http.Handler, error) {
	assets, err := Assets(cfg.PublicDir)
	if err != nil {
		return nil, err
	}
	if tracker == nil {
		tracker = drain.New()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	docs, err := api.NewAPIDocs("openapi.json")
	if err != nil {
		return nil, err
	}
	rl := &relay.Relayer{Gen: gen, Model: cfg.Model}

	r := chi.NewRouter()
	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	for _, m := range api.MiddlewareChain() {
		r.Use(m)
	}

	r.Get("/healthz", HealthHandler(tracker))
	r.Route("/api", func(ar chi.Router) {
		ar.Get("/openapi.json", docs.DocumentHandler())
		ar.Get("/docs", docs.PageHandler())
	})
	r.Group(func(g chi.Router) {
		g.Use(tracker.Middleware())
		g.Post("/ai", api.PromptHandler(rl, cfg.MaxBodyBytes))
		g.Get("/ai/ws", api.PromptSocketHandler(rl, cfg.MaxBodyBytes, cfg.AllowedOrigins))
	})
	if cfg.MetricsOnMain() {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/", LandingHandler(assets))
	r.Get("/*", AssetHandler(assets))

	return r, nil
}

// HealthHandler reports ok until draining starts.
func HealthHandler(tracker *drain.Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if tracker.IsDraining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		_, _ = w.Write([]byte("ok"))
	}
}
